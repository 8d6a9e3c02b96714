package domain

import (
	"context"
)

// CollectionSource 集合源文档库（只读）
type CollectionSource interface {
	// GetByID 读取完整集合，不存在返回ErrCollectionNotFound
	GetByID(ctx context.Context, id string) (*Collection, error)

	// StreamAll 按批扫描全部集合，fn返回错误时中止
	StreamAll(ctx context.Context, batchSize int, fn func(batch []*Collection) error) error

	// StreamMeta 按批扫描全部集合的轻量元数据
	StreamMeta(ctx context.Context, batchSize int, fn func(batch []CollectionMeta) error) error

	// Count 集合总数
	Count(ctx context.Context) (int64, error)
}

// ThumbnailSource 缩略图源（对象存储）
type ThumbnailSource interface {
	// FetchThumbnail 按对象键拉取缩略图字节
	FetchThumbnail(ctx context.Context, ref string) ([]byte, error)
}

// IndexStore 索引存储契约
//
// Redis实现与内存实现遵守同一语义：
//   - 有序集合按(score, member)排列，同分按member字节序；
//   - ApplyUpsert/ApplyRemove原子生效，不暴露部分写入的中间态；
//   - 存储不可达的错误包装ErrStoreUnavailable。
type IndexStore interface {
	// ApplyUpsert 原子执行一次投影写入计划
	ApplyUpsert(ctx context.Context, plan *IndexUpsert) error

	// ApplyRemove 原子执行一次删除计划（含摘要、状态、缩略图键）
	ApplyRemove(ctx context.Context, plan *IndexRemove) error

	// RemoveMember 删除单个有序集合成员（深度审计修复用）
	RemoveMember(ctx context.Context, field SortField, scope Scope, member string) error

	// GetSummary 读取摘要，未索引返回ErrCollectionNotIndexed
	GetSummary(ctx context.Context, id string) (*CollectionSummary, error)

	// GetSummaries 批量读取摘要，缺失的ID不出现在结果中
	GetSummaries(ctx context.Context, ids []string) (map[string]*CollectionSummary, error)

	// GetState 读取索引状态，未索引返回(nil, nil)
	GetState(ctx context.Context, id string) (*CollectionIndexState, error)

	// GetStates 批量读取索引状态，缺失的ID不出现在结果中
	GetStates(ctx context.Context, ids []string) (map[string]*CollectionIndexState, error)

	// Rank 成员在排序下的0起位次，不存在时found为false
	Rank(ctx context.Context, field SortField, scope Scope, member string, dir Direction) (rank int64, found bool, err error)

	// RangeByRank 位次区间[start, stop]内的成员（含两端，负数下标不支持）
	RangeByRank(ctx context.Context, field SortField, scope Scope, start, stop int64, dir Direction) ([]string, error)

	// Card 范围内成员总数
	Card(ctx context.Context, field SortField, scope Scope) (int64, error)

	// Scores 批量读取成员分值，缺失的成员不出现在结果中
	Scores(ctx context.Context, field SortField, scope Scope, members []string) (map[string]float64, error)

	// ListMembers 升序列出范围内全部成员
	ListMembers(ctx context.Context, field SortField, scope Scope) ([]string, error)

	// ListIndexedIDs 全部已索引集合ID（以全局updated集合为准）
	ListIndexedIDs(ctx context.Context) ([]string, error)

	// SetThumbnail 写入单个缩略图
	SetThumbnail(ctx context.Context, id string, data []byte) error

	// SetThumbnails 批量写入缩略图（单次管道往返）
	SetThumbnails(ctx context.Context, thumbs map[string][]byte) error

	// GetThumbnail 读取缩略图，未缓存返回ErrThumbnailNotCached
	GetThumbnail(ctx context.Context, id string) ([]byte, error)

	// ExistsThumbnails 批量检查缩略图是否已缓存
	ExistsThumbnails(ctx context.Context, ids []string) (map[string]bool, error)

	// MarkThumbnailsCached 批量置位状态记录的缩略图标志
	MarkThumbnailsCached(ctx context.Context, ids []string) error

	// GetDashboard 读取仪表盘快照，未缓存返回(nil, nil)
	GetDashboard(ctx context.Context) (*DashboardStatistics, error)

	// SetDashboard 覆盖仪表盘快照
	SetDashboard(ctx context.Context, stats *DashboardStatistics) error

	// Clear 删除本子系统拥有的全部键（全量重建前置步骤）
	Clear(ctx context.Context) error

	// Ping 探活
	Ping(ctx context.Context) error
}
