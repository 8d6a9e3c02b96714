package domain

import (
	"strings"
)

// 评分编码：把摘要字段编码为有序集合的(score, member)对
//
// 数值字段（时间戳、计数、字节数）直接编码为float64分值，member为集合ID；
// float64的53位尾数足够容纳毫秒级时间戳和实际规模的计数。
// 名称字段无法无损编码为分值，改用词典序member：全部成员分值取0，
// 存储按member字节序排列，即折叠后名称的字典序。

// nameMemberSep 折叠名称与ID之间的分隔符，折叠时已剔除不可能再出现
const nameMemberSep = "\x00"

// NumericScore 数值字段的分值，名称字段返回false
func NumericScore(f SortField, s *CollectionSummary) (float64, bool) {
	switch f {
	case SortFieldUpdated:
		return float64(s.UpdatedAt.UnixMilli()), true
	case SortFieldCreated:
		return float64(s.CreatedAt.UnixMilli()), true
	case SortFieldItems:
		return float64(s.ImageCount), true
	case SortFieldSize:
		return float64(s.TotalSizeBytes), true
	default:
		return 0, false
	}
}

// FoldName 名称排序折叠：小写化并压缩空白
// 折叠只影响排序键，摘要中保留原始名称
func FoldName(name string) string {
	folded := strings.Join(strings.Fields(strings.ToLower(name)), " ")
	return strings.ReplaceAll(folded, nameMemberSep, "")
}

// NameMember 名称有序集合的member编码：折叠名称+分隔符+ID
// ID后缀保证member唯一，同名集合按ID字典序稳定排列
func NameMember(name, id string) string {
	return FoldName(name) + nameMemberSep + id
}

// IDFromNameMember 从名称member中解出集合ID
func IDFromNameMember(member string) (string, bool) {
	idx := strings.LastIndex(member, nameMemberSep)
	if idx < 0 {
		return "", false
	}
	return member[idx+len(nameMemberSep):], true
}

// MemberFor 字段在有序集合中的member编码
func MemberFor(f SortField, s *CollectionSummary) string {
	if f == SortFieldName {
		return NameMember(s.Name, s.ID)
	}
	return s.ID
}

// MemberID 从member解出集合ID（名称字段member带折叠名称前缀）
func MemberID(f SortField, member string) string {
	if f != SortFieldName {
		return member
	}
	if id, ok := IDFromNameMember(member); ok {
		return id
	}
	return member
}
