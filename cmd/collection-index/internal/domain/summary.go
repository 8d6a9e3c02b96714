package domain

import (
	"time"
)

// CollectionSummary 去范式化的集合摘要
// 读路径只接触摘要，渲染一行列表项无需回源
type CollectionSummary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	LibraryID   string   `json:"library_id,omitempty"`
	Type        string   `json:"type,omitempty"`
	Path        string   `json:"path,omitempty"`
	Tags        []string `json:"tags"`

	FirstMediaID    string `json:"first_media_id,omitempty"`
	FirstMediaThumb string `json:"first_media_thumb,omitempty"`

	ImageCount      int64 `json:"image_count"`
	ThumbnailCount  int64 `json:"thumbnail_count"`
	CacheEntryCount int64 `json:"cache_entry_count"`
	TotalSizeBytes  int64 `json:"total_size_bytes"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProjectSummary 从源集合投影摘要
// 纯函数：输出只取决于输入，同一集合重复投影结果一致
func ProjectSummary(c *Collection) *CollectionSummary {
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}

	return &CollectionSummary{
		ID:              c.ID,
		Name:            c.Name,
		Description:     c.Description,
		LibraryID:       c.LibraryID,
		Type:            c.Type,
		Path:            c.Path,
		Tags:            tags,
		FirstMediaID:    c.FirstMediaID,
		FirstMediaThumb: c.FirstMediaThumb,
		ImageCount:      c.ImageCount,
		ThumbnailCount:  c.ThumbnailCount,
		CacheEntryCount: c.CacheEntryCount,
		TotalSizeBytes:  c.TotalSizeBytes,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

// CollectionIndexState 单个集合的索引状态记录
// 自包含：删除一个集合的全部索引项只需要这条记录，无需回源
type CollectionIndexState struct {
	ID string `json:"id"`

	// IndexedAt 本次投影写入时间
	IndexedAt time.Time `json:"indexed_at"`

	// UpdatedAt 投影时观察到的源updatedAt
	// 新鲜判定对比源时间戳与该值，避免索引时钟与源时钟比较
	UpdatedAt time.Time `json:"updated_at"`

	// 范围寻址字段（删除时定位各范围下的索引项）
	LibraryID  string `json:"library_id,omitempty"`
	Type       string `json:"type,omitempty"`
	NameMember string `json:"name_member"`

	// 去范式化计数（仪表盘做删除补丁时用）
	ImageCount      int64 `json:"image_count"`
	ThumbnailCount  int64 `json:"thumbnail_count"`
	CacheEntryCount int64 `json:"cache_entry_count"`
	TotalSizeBytes  int64 `json:"total_size_bytes"`

	// 缩略图缓存状态
	HasThumbnail bool   `json:"has_thumbnail"`
	ThumbRef     string `json:"thumb_ref,omitempty"`
}

// IsFresh 判断索引记录相对源时间戳是否仍然新鲜
func (s *CollectionIndexState) IsFresh(sourceUpdatedAt time.Time) bool {
	if s == nil {
		return false
	}
	return !sourceUpdatedAt.After(s.UpdatedAt)
}
