package domain

import (
	"errors"
)

var (
	// ErrCollectionNotFound 源文档库中不存在该集合
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrCollectionNotIndexed 索引中不存在该集合
	ErrCollectionNotIndexed = errors.New("collection not indexed")

	// ErrThumbnailNotCached 缩略图缓存未命中
	ErrThumbnailNotCached = errors.New("thumbnail not cached")

	// ErrStoreUnavailable 存储不可达（可重试）
	ErrStoreUnavailable = errors.New("index store unavailable")

	// ErrInvalidSortField 非法排序字段
	ErrInvalidSortField = errors.New("invalid sort field")

	// ErrInvalidDirection 非法排序方向
	ErrInvalidDirection = errors.New("invalid sort direction")

	// ErrInvalidRebuildMode 非法重建模式
	ErrInvalidRebuildMode = errors.New("invalid rebuild mode")

	// ErrRebuildInProgress 已有重建任务在运行
	ErrRebuildInProgress = errors.New("rebuild already in progress")
)

// IsRetryable 判断错误是否属于可重试类别
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsNotFound 判断错误是否属于未找到类别
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCollectionNotFound) ||
		errors.Is(err, ErrCollectionNotIndexed) ||
		errors.Is(err, ErrThumbnailNotCached)
}
