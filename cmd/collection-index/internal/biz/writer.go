package biz

import (
	"context"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"mediavault/cmd/collection-index/internal/domain"
	"mediavault/pkg/monitoring"
	"mediavault/pkg/resilience"
)

// IndexWriter 索引写入器
//
// 把一次源集合变更落成索引里的原子多键写：投影摘要、生成写入
// 计划、带重试地应用，再给仪表盘快照打增量补丁。同一集合的
// 并发写不在这里串行化，上游（事件分区、重建单线程）负责。
type IndexWriter struct {
	store domain.IndexStore
	dash  *DashboardCache
	retry resilience.RetryPolicy
	log   *log.Helper
}

// NewIndexWriter 创建索引写入器，dash可为nil
func NewIndexWriter(store domain.IndexStore, dash *DashboardCache, logger log.Logger) *IndexWriter {
	policy := resilience.DefaultRetryPolicy()
	policy.Retryable = domain.IsRetryable

	return &IndexWriter{
		store: store,
		dash:  dash,
		retry: policy,
		log:   log.NewHelper(log.With(logger, "module", "biz/writer")),
	}
}

// Upsert 投影并写入一个集合
// 幂等：同一集合重复写入收敛到同一索引形态
func (w *IndexWriter) Upsert(ctx context.Context, c *domain.Collection) error {
	start := time.Now()
	summary := domain.ProjectSummary(c)

	var prev *domain.CollectionIndexState
	err := resilience.Retry(ctx, w.retry, func() error {
		state, err := w.store.GetState(ctx, c.ID)
		if err != nil {
			return err
		}
		prev = state
		plan := domain.BuildIndexPlan(prev, summary, time.Now())
		return w.store.ApplyUpsert(ctx, plan)
	})
	monitoring.ObserveWrite("upsert", start, err)
	if err != nil {
		w.log.WithContext(ctx).Errorf("upsert collection %s: %v", c.ID, err)
		return err
	}

	if w.dash != nil {
		if err := w.dash.PatchUpsert(ctx, prev, summary); err != nil {
			w.log.WithContext(ctx).Warnf("patch dashboard after upsert %s: %v", c.ID, err)
		}
	}

	w.log.WithContext(ctx).Debugf("indexed collection %s lib=%s type=%s", c.ID, c.LibraryID, c.Type)
	return nil
}

// Remove 从索引删除一个集合及其全部索引项
// 幂等：集合未被索引时为无操作
func (w *IndexWriter) Remove(ctx context.Context, id string) error {
	start := time.Now()

	var prev *domain.CollectionIndexState
	err := resilience.Retry(ctx, w.retry, func() error {
		state, err := w.store.GetState(ctx, id)
		if err != nil {
			return err
		}
		prev = state
		plan := domain.BuildRemovePlan(prev, id)
		return w.store.ApplyRemove(ctx, plan)
	})
	monitoring.ObserveWrite("remove", start, err)
	if err != nil {
		w.log.WithContext(ctx).Errorf("remove collection %s: %v", id, err)
		return err
	}

	if prev != nil && w.dash != nil {
		if err := w.dash.PatchRemove(ctx, prev); err != nil {
			w.log.WithContext(ctx).Warnf("patch dashboard after remove %s: %v", id, err)
		}
	}

	w.log.WithContext(ctx).Debugf("removed collection %s from index", id)
	return nil
}
