package biz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"

	"mediavault/cmd/collection-index/internal/domain"
	"mediavault/pkg/monitoring"
)

const defaultRebuildBatch = 500

// errRebuildCancelled 协作取消哨兵，中止扫描但不算失败
var errRebuildCancelled = errors.New("rebuild cancelled")

// RebuildOptions 重建选项
type RebuildOptions struct {
	Mode domain.RebuildMode

	// BatchSize 源扫描批大小
	BatchSize int

	// WarmThumbnails 重投影后是否批量暖缩略图
	WarmThumbnails bool

	// DryRun verify模式只报告不修复
	DryRun bool

	// Deep verify模式做深度审计
	Deep bool
}

// Orchestrator 重建编排器
//
// 同一时刻只允许一个重建在跑。取消在集合边界生效：
// 当前集合写完即停，返回已完成部分的统计。
type Orchestrator struct {
	source   domain.CollectionSource
	store    domain.IndexStore
	writer   *IndexWriter
	verifier *Verifier
	thumbs   *ThumbnailCache
	dash     *DashboardCache
	log      *log.Helper

	running atomic.Bool

	mu   sync.Mutex
	last *domain.RebuildStats
}

// NewOrchestrator 创建重建编排器
func NewOrchestrator(
	source domain.CollectionSource,
	store domain.IndexStore,
	writer *IndexWriter,
	verifier *Verifier,
	thumbs *ThumbnailCache,
	dash *DashboardCache,
	logger log.Logger,
) *Orchestrator {
	return &Orchestrator{
		source:   source,
		store:    store,
		writer:   writer,
		verifier: verifier,
		thumbs:   thumbs,
		dash:     dash,
		log:      log.NewHelper(log.With(logger, "module", "biz/rebuild")),
	}
}

// Rebuild 执行一次重建
// 取消返回部分统计与nil错误；存储不可达中止并返回错误
func (o *Orchestrator) Rebuild(ctx context.Context, opts RebuildOptions) (*domain.RebuildStats, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, domain.ErrRebuildInProgress
	}
	return o.run(ctx, opts, uuid.NewString())
}

// StartAsync 后台启动一次重建并立即返回运行ID
// 已有重建在跑时返回ErrRebuildInProgress
func (o *Orchestrator) StartAsync(ctx context.Context, opts RebuildOptions) (string, error) {
	if !o.running.CompareAndSwap(false, true) {
		return "", domain.ErrRebuildInProgress
	}
	runID := uuid.NewString()
	go func() {
		// 结果通过LastStats与日志暴露
		_, _ = o.run(ctx, opts, runID)
	}()
	return runID, nil
}

// run 持有running标志执行重建，调用方负责CAS抢占
func (o *Orchestrator) run(ctx context.Context, opts RebuildOptions, runID string) (*domain.RebuildStats, error) {
	defer o.running.Store(false)

	monitoring.RebuildRunning.Set(1)
	defer monitoring.RebuildRunning.Set(0)

	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultRebuildBatch
	}

	stats := &domain.RebuildStats{RunID: runID, Mode: opts.Mode, StartedAt: time.Now()}
	o.log.WithContext(ctx).Infof("rebuild started: mode=%s batch=%d", opts.Mode, opts.BatchSize)

	var err error
	switch opts.Mode {
	case domain.RebuildChangedOnly:
		err = o.rebuildChanged(ctx, opts, stats)
	case domain.RebuildForceAll:
		err = o.rebuildAll(ctx, opts, stats, false)
	case domain.RebuildFull:
		err = o.rebuildAll(ctx, opts, stats, true)
	case domain.RebuildVerify:
		err = o.rebuildVerify(ctx, opts, stats)
	default:
		err = fmt.Errorf("%w: %q", domain.ErrInvalidRebuildMode, opts.Mode)
	}

	if errors.Is(err, errRebuildCancelled) || errors.Is(err, context.Canceled) {
		stats.Cancelled = true
		err = nil
	}

	stats.FinishedAt = time.Now()
	stats.DurationMS = stats.FinishedAt.Sub(stats.StartedAt).Milliseconds()

	o.mu.Lock()
	o.last = stats
	o.mu.Unlock()

	o.observe(stats, err)
	return stats, err
}

// Running 是否有重建在跑
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// LastStats 最近一次重建的统计，从未跑过返回nil
func (o *Orchestrator) LastStats() *domain.RebuildStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// rebuildChanged 增量重建：只重投影源比索引新的集合
func (o *Orchestrator) rebuildChanged(ctx context.Context, opts RebuildOptions, stats *domain.RebuildStats) error {
	return o.source.StreamMeta(ctx, opts.BatchSize, func(batch []domain.CollectionMeta) error {
		if err := ctx.Err(); err != nil {
			return errRebuildCancelled
		}

		ids := make([]string, len(batch))
		for i, meta := range batch {
			ids[i] = meta.ID
		}
		states, err := o.store.GetStates(ctx, ids)
		if err != nil {
			return err
		}

		warmCandidates := make([]*domain.CollectionSummary, 0, len(batch))
		for _, meta := range batch {
			if err := ctx.Err(); err != nil {
				return errRebuildCancelled
			}
			stats.Total++

			if states[meta.ID].IsFresh(meta.UpdatedAt) {
				stats.Skipped++
				continue
			}

			summary, err := o.reprojectOne(ctx, meta.ID, stats)
			if err != nil {
				return err
			}
			if summary != nil {
				warmCandidates = append(warmCandidates, summary)
			}
		}

		o.warm(ctx, opts, warmCandidates, stats)
		return nil
	})
}

// rebuildAll 重投影全部集合；clear时先清空所有索引键
func (o *Orchestrator) rebuildAll(ctx context.Context, opts RebuildOptions, stats *domain.RebuildStats, clear bool) error {
	if clear {
		if err := o.store.Clear(ctx); err != nil {
			return err
		}
		o.log.WithContext(ctx).Info("index cleared for full rebuild")
	}

	err := o.source.StreamAll(ctx, opts.BatchSize, func(batch []*domain.Collection) error {
		warmCandidates := make([]*domain.CollectionSummary, 0, len(batch))
		for _, col := range batch {
			if err := ctx.Err(); err != nil {
				return errRebuildCancelled
			}
			stats.Total++

			if err := o.writer.Upsert(ctx, col); err != nil {
				if domain.IsRetryable(err) {
					return err
				}
				stats.Failed++
				continue
			}
			stats.Rebuilt++
			warmCandidates = append(warmCandidates, domain.ProjectSummary(col))
		}

		o.warm(ctx, opts, warmCandidates, stats)
		return nil
	})
	if err != nil {
		return err
	}

	// 全量重建后的快照从零建立
	if o.dash != nil {
		if _, err := o.dash.Recompute(ctx, triggerRebuild); err != nil {
			o.log.WithContext(ctx).Warnf("recompute dashboard after rebuild: %v", err)
		}
	}
	return nil
}

// rebuildVerify 委托一致性校验器
func (o *Orchestrator) rebuildVerify(ctx context.Context, opts RebuildOptions, stats *domain.RebuildStats) error {
	res, err := o.verifier.Verify(ctx, VerifyOptions{
		DryRun:    opts.DryRun,
		Deep:      opts.Deep,
		BatchSize: opts.BatchSize,
	})
	if err != nil {
		return err
	}

	stats.Total = res.SourceCollections
	stats.Removed = int64(len(res.Orphaned))
	stats.Failed = res.RepairFailed

	reindexed := map[string]bool{}
	for _, id := range res.Missing {
		reindexed[id] = true
	}
	for _, id := range res.Stale {
		reindexed[id] = true
	}
	for _, id := range res.MissingEntries {
		reindexed[id] = true
	}
	stats.Rebuilt = int64(len(reindexed))
	stats.Skipped = stats.Total - stats.Rebuilt
	if stats.Skipped < 0 {
		stats.Skipped = 0
	}
	return nil
}

// reprojectOne 重投影单个集合
// 源里已删的按孤儿清理；不可重试错误计失败继续
func (o *Orchestrator) reprojectOne(ctx context.Context, id string, stats *domain.RebuildStats) (*domain.CollectionSummary, error) {
	col, err := o.source.GetByID(ctx, id)
	if errors.Is(err, domain.ErrCollectionNotFound) {
		if err := o.writer.Remove(ctx, id); err != nil {
			if domain.IsRetryable(err) {
				return nil, err
			}
			stats.Failed++
			return nil, nil
		}
		stats.Removed++
		return nil, nil
	}
	if err != nil {
		if domain.IsRetryable(err) {
			return nil, err
		}
		stats.Failed++
		o.log.WithContext(ctx).Warnf("fetch collection %s: %v", id, err)
		return nil, nil
	}

	if err := o.writer.Upsert(ctx, col); err != nil {
		if domain.IsRetryable(err) {
			return nil, err
		}
		stats.Failed++
		return nil, nil
	}
	stats.Rebuilt++
	return domain.ProjectSummary(col), nil
}

func (o *Orchestrator) warm(ctx context.Context, opts RebuildOptions, candidates []*domain.CollectionSummary, stats *domain.RebuildStats) {
	if !opts.WarmThumbnails || o.thumbs == nil || len(candidates) == 0 {
		return
	}
	warmed, err := o.thumbs.WarmBatch(ctx, candidates)
	if err != nil {
		o.log.WithContext(ctx).Warnf("warm thumbnails: %v", err)
	}
	stats.ThumbnailsWarmed += warmed
}

func (o *Orchestrator) observe(stats *domain.RebuildStats, err error) {
	mode := string(stats.Mode)

	result := "completed"
	switch {
	case err != nil:
		result = "failed"
	case stats.Cancelled:
		result = "cancelled"
	}
	monitoring.RebuildRunsTotal.WithLabelValues(mode, result).Inc()
	monitoring.RebuildDuration.WithLabelValues(mode).Observe(float64(stats.DurationMS) / 1000)
	monitoring.RebuildCollectionsTotal.WithLabelValues(mode, "rebuilt").Add(float64(stats.Rebuilt))
	monitoring.RebuildCollectionsTotal.WithLabelValues(mode, "skipped").Add(float64(stats.Skipped))
	monitoring.RebuildCollectionsTotal.WithLabelValues(mode, "removed").Add(float64(stats.Removed))
	monitoring.RebuildCollectionsTotal.WithLabelValues(mode, "failed").Add(float64(stats.Failed))

	if err != nil {
		o.log.Errorf("rebuild %s failed after %dms: %v", mode, stats.DurationMS, err)
		return
	}
	o.log.Infof("rebuild %s finished in %dms: total=%d rebuilt=%d skipped=%d removed=%d failed=%d warmed=%d cancelled=%v",
		mode, stats.DurationMS, stats.Total, stats.Rebuilt, stats.Skipped,
		stats.Removed, stats.Failed, stats.ThumbnailsWarmed, stats.Cancelled)
}
