package domain

import (
	"time"
)

// Collection 采集集合的源模型（文档库中的权威记录）
// 索引子系统只读取该模型，从不写回
type Collection struct {
	ID          string
	Name        string
	Description string

	// LibraryID 所属媒体库
	LibraryID string

	// Type 集合类型标签（album/folder/series等，平台自由定义）
	Type string

	// Path 源目录路径
	Path string

	// Tags 用户标签
	Tags []string

	// FirstMediaID 封面媒体ID
	FirstMediaID string

	// FirstMediaThumb 封面缩略图在对象存储中的键，可为空
	FirstMediaThumb string

	// 聚合计数
	ImageCount      int64
	ThumbnailCount  int64
	CacheEntryCount int64
	TotalSizeBytes  int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CollectionMeta 轻量元数据（增量重建用，避免拉取完整文档）
type CollectionMeta struct {
	ID        string
	UpdatedAt time.Time
}
