package domain

// 分页参数边界
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// NormalizePage 归一化分页参数：页码从1起，页大小夹取到合法区间
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// TotalPages 计算总页数
func TotalPages(totalItems int64, pageSize int) int {
	if totalItems <= 0 || pageSize <= 0 {
		return 0
	}
	return int((totalItems + int64(pageSize) - 1) / int64(pageSize))
}

// Navigation 单个集合在某个排序下的导航位置
// Found为false表示集合未被索引（明确结果，不是错误）
type Navigation struct {
	Found bool `json:"found"`

	// Rank 1起的位次
	Rank int64 `json:"rank,omitempty"`

	// Total 该范围内集合总数
	Total int64 `json:"total,omitempty"`

	// PreviousID 排序上的前一个集合，空串表示已是第一个
	PreviousID string `json:"previous_id,omitempty"`

	// NextID 排序上的后一个集合，空串表示已是最后一个
	NextID string `json:"next_id,omitempty"`
}

// PageResult 一页摘要与分页元数据
type PageResult struct {
	Items      []*CollectionSummary `json:"items"`
	Page       int                  `json:"page"`
	PageSize   int                  `json:"page_size"`
	TotalItems int64                `json:"total_items"`
	TotalPages int                  `json:"total_pages"`
}

// SiblingsPage 以某个集合为锚点的邻域分页
// 页码缺省时取锚点所在页；CenterIndex为锚点在本页内的下标，
// 锚点不在本页时为-1
type SiblingsPage struct {
	PageResult

	Found       bool  `json:"found"`
	Rank        int64 `json:"rank,omitempty"`
	CenterIndex int   `json:"center_index"`
}
