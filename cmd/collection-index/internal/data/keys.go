package data

import (
	"mediavault/cmd/collection-index/internal/domain"
)

// 索引子系统拥有的全部Redis键都在colidx:前缀下，
// 键构造集中在本文件，调用方不得散落拼接键名
const (
	keyPrefix = "colidx:"

	summaryKeyPrefix = keyPrefix + "summary:"
	stateKeyPrefix   = keyPrefix + "state:"
	thumbKeyPrefix   = keyPrefix + "thumb:"
	zsetKeyPrefix    = keyPrefix + "z:"

	dashboardKey = keyPrefix + "dashboard"

	// clearPattern 全量清空时扫描的键模式
	clearPattern = keyPrefix + "*"
)

func summaryKey(id string) string {
	return summaryKeyPrefix + id
}

func stateKey(id string) string {
	return stateKeyPrefix + id
}

func thumbKey(id string) string {
	return thumbKeyPrefix + id
}

// zsetKey 有序集合键：colidx:z:<field>:<scope>
// 字段与范围都是封闭枚举，组合即全部合法键
func zsetKey(field domain.SortField, scope domain.Scope) string {
	return zsetKeyPrefix + string(field) + ":" + scope.Key()
}
