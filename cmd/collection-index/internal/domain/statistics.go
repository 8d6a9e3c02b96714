package domain

import (
	"fmt"
	"time"
)

// RebuildMode 重建模式
type RebuildMode string

const (
	// RebuildChangedOnly 增量：只重投影源比索引新的集合
	RebuildChangedOnly RebuildMode = "changed"

	// RebuildVerify 校验：委托一致性校验器，按报告修复
	RebuildVerify RebuildMode = "verify"

	// RebuildFull 全量：清空全部索引键后从头重建
	RebuildFull RebuildMode = "full"

	// RebuildForceAll 强制：不清空、不比较，重投影全部集合
	RebuildForceAll RebuildMode = "force"
)

// ParseRebuildMode 解析重建模式，空串取默认值changed
func ParseRebuildMode(s string) (RebuildMode, error) {
	switch RebuildMode(s) {
	case "":
		return RebuildChangedOnly, nil
	case RebuildChangedOnly, RebuildVerify, RebuildFull, RebuildForceAll:
		return RebuildMode(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRebuildMode, s)
	}
}

func (m RebuildMode) String() string { return string(m) }

// RebuildStats 一次重建的统计结果
// 取消的重建返回已完成部分的统计，Cancelled置位
type RebuildStats struct {
	RunID      string      `json:"run_id"`
	Mode       RebuildMode `json:"mode"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	DurationMS int64       `json:"duration_ms"`

	// Total 扫描到的集合总数
	Total int64 `json:"total"`

	// Rebuilt 重新投影写入的集合数
	Rebuilt int64 `json:"rebuilt"`

	// Skipped 仍然新鲜而跳过的集合数
	Skipped int64 `json:"skipped"`

	// Removed 从索引中删除的集合数
	Removed int64 `json:"removed"`

	// Failed 投影或写入失败的集合数
	Failed int64 `json:"failed"`

	// ThumbnailsWarmed 预热写入的缩略图数
	ThumbnailsWarmed int64 `json:"thumbnails_warmed"`

	Cancelled bool `json:"cancelled"`
}

// VerifyResult 一次一致性校验的分类结果
type VerifyResult struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`

	SourceCollections  int64 `json:"source_collections"`
	IndexedCollections int64 `json:"indexed_collections"`

	// Missing 源中存在但索引缺失的集合
	Missing []string `json:"missing,omitempty"`

	// Stale 已索引但源更新过的集合
	Stale []string `json:"stale,omitempty"`

	// Orphaned 索引中存在但源已删除的集合
	Orphaned []string `json:"orphaned,omitempty"`

	// MissingThumbnail 有封面引用但缩略图缓存缺失的集合
	MissingThumbnail []string `json:"missing_thumbnail,omitempty"`

	// ExtraEntries 深度审计发现的游离有序集合成员
	ExtraEntries []IndexEntry `json:"extra_entries,omitempty"`

	// MissingEntries 深度审计发现缺少索引项的集合（需重投影）
	MissingEntries []string `json:"missing_entries,omitempty"`

	// Repaired 是否执行了修复（dry-run时为false）
	Repaired bool `json:"repaired"`

	// RepairFailed 修复失败的条目数
	RepairFailed int64 `json:"repair_failed,omitempty"`
}

// Clean 校验是否未发现任何异常
func (r *VerifyResult) Clean() bool {
	return len(r.Missing) == 0 &&
		len(r.Stale) == 0 &&
		len(r.Orphaned) == 0 &&
		len(r.MissingThumbnail) == 0 &&
		len(r.ExtraEntries) == 0 &&
		len(r.MissingEntries) == 0
}

// DashboardStatistics 平台级聚合统计
type DashboardStatistics struct {
	Collections    int64 `json:"collections"`
	Images         int64 `json:"images"`
	Thumbnails     int64 `json:"thumbnails"`
	CacheEntries   int64 `json:"cache_entries"`
	TotalSizeBytes int64 `json:"total_size_bytes"`

	// Libraries 媒体库ID → 集合数
	Libraries map[string]int64 `json:"libraries"`

	// Types 集合类型 → 集合数
	Types map[string]int64 `json:"types"`

	ComputedAt time.Time `json:"computed_at"`
}

// NewDashboardStatistics 创建空统计
func NewDashboardStatistics(now time.Time) *DashboardStatistics {
	return &DashboardStatistics{
		Libraries:  map[string]int64{},
		Types:      map[string]int64{},
		ComputedAt: now,
	}
}

// IsFresh 快照是否仍在时效窗口内
func (d *DashboardStatistics) IsFresh(window time.Duration, now time.Time) bool {
	if d == nil {
		return false
	}
	return now.Sub(d.ComputedAt) < window
}

// Accumulate 汇入一条摘要（全量重算时用）
func (d *DashboardStatistics) Accumulate(s *CollectionSummary) {
	d.Collections++
	d.Images += s.ImageCount
	d.Thumbnails += s.ThumbnailCount
	d.CacheEntries += s.CacheEntryCount
	d.TotalSizeBytes += s.TotalSizeBytes
	if s.LibraryID != "" {
		d.Libraries[s.LibraryID]++
	}
	if s.Type != "" {
		d.Types[s.Type]++
	}
}

// ApplyUpsert 按一次投影写入打增量补丁
// prev为nil表示新索引的集合
func (d *DashboardStatistics) ApplyUpsert(prev *CollectionIndexState, s *CollectionSummary) {
	if prev == nil {
		d.Accumulate(s)
		return
	}

	d.Images += s.ImageCount - prev.ImageCount
	d.Thumbnails += s.ThumbnailCount - prev.ThumbnailCount
	d.CacheEntries += s.CacheEntryCount - prev.CacheEntryCount
	d.TotalSizeBytes += s.TotalSizeBytes - prev.TotalSizeBytes

	if prev.LibraryID != s.LibraryID {
		d.decr(d.Libraries, prev.LibraryID)
		d.incr(d.Libraries, s.LibraryID)
	}
	if prev.Type != s.Type {
		d.decr(d.Types, prev.Type)
		d.incr(d.Types, s.Type)
	}
}

// ApplyRemove 按一次删除打增量补丁
func (d *DashboardStatistics) ApplyRemove(state *CollectionIndexState) {
	if state == nil {
		return
	}
	d.Collections--
	if d.Collections < 0 {
		d.Collections = 0
	}
	d.Images -= state.ImageCount
	d.Thumbnails -= state.ThumbnailCount
	d.CacheEntries -= state.CacheEntryCount
	d.TotalSizeBytes -= state.TotalSizeBytes
	d.decr(d.Libraries, state.LibraryID)
	d.decr(d.Types, state.Type)
}

func (d *DashboardStatistics) incr(m map[string]int64, key string) {
	if key == "" {
		return
	}
	m[key]++
}

func (d *DashboardStatistics) decr(m map[string]int64, key string) {
	if key == "" {
		return
	}
	if m[key] <= 1 {
		delete(m, key)
		return
	}
	m[key]--
}
