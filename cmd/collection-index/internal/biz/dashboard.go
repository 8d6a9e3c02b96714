package biz

import (
	"context"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"mediavault/cmd/collection-index/internal/domain"
	"mediavault/pkg/monitoring"
)

const (
	defaultDashboardWindow = time.Minute
	dashboardChunkSize     = 500

	triggerOnDemand = "on_demand"
	triggerPeriodic = "periodic"
	triggerRebuild  = "rebuild"
)

// DashboardCache 平台级聚合统计缓存
//
// 快照整体重算的代价是全量扫摘要，所以写路径只打增量补丁，
// 周期刷新负责把补丁累积的漂移拉回精确值。补丁是读改写，
// 多实例并发下可能丢更新，换来的是读取O(1)和写放大可控。
type DashboardCache struct {
	store  domain.IndexStore
	window time.Duration
	log    *log.Helper

	// mu 串行化本进程内的重算与补丁
	mu sync.Mutex
}

// NewDashboardCache 创建仪表盘缓存
func NewDashboardCache(store domain.IndexStore, window time.Duration, logger log.Logger) *DashboardCache {
	if window <= 0 {
		window = defaultDashboardWindow
	}
	return &DashboardCache{
		store:  store,
		window: window,
		log:    log.NewHelper(log.With(logger, "module", "biz/dashboard")),
	}
}

// Get 读取统计快照，过期或缺失时同步重算
func (d *DashboardCache) Get(ctx context.Context) (*domain.DashboardStatistics, error) {
	stats, err := d.store.GetDashboard(ctx)
	if err != nil {
		return nil, err
	}
	if stats.IsFresh(d.window, time.Now()) {
		return stats, nil
	}
	return d.Recompute(ctx, triggerOnDemand)
}

// Recompute 全量重算统计快照并覆盖写入
func (d *DashboardCache) Recompute(ctx context.Context, trigger string) (*domain.DashboardStatistics, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats, err := d.recomputeLocked(ctx)
	if err != nil {
		monitoring.DashboardRefreshesTotal.WithLabelValues(trigger, "error").Inc()
		return nil, err
	}
	monitoring.DashboardRefreshesTotal.WithLabelValues(trigger, "ok").Inc()
	monitoring.IndexedCollections.Set(float64(stats.Collections))
	return stats, nil
}

func (d *DashboardCache) recomputeLocked(ctx context.Context) (*domain.DashboardStatistics, error) {
	ids, err := d.store.ListIndexedIDs(ctx)
	if err != nil {
		return nil, err
	}

	stats := domain.NewDashboardStatistics(time.Now())
	for start := 0; start < len(ids); start += dashboardChunkSize {
		end := start + dashboardChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		summaries, err := d.store.GetSummaries(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		// 并发删除腾出的空洞直接跳过
		for _, id := range ids[start:end] {
			if s, ok := summaries[id]; ok {
				stats.Accumulate(s)
			}
		}
	}

	if err := d.store.SetDashboard(ctx, stats); err != nil {
		return nil, err
	}
	d.log.WithContext(ctx).Infof("dashboard recomputed: %d collections, %d images", stats.Collections, stats.Images)
	return stats, nil
}

// PatchUpsert 投影写入后的增量补丁
// 快照尚不存在时跳过，等首次重算建立基线
func (d *DashboardCache) PatchUpsert(ctx context.Context, prev *domain.CollectionIndexState, s *domain.CollectionSummary) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats, err := d.store.GetDashboard(ctx)
	if err != nil || stats == nil {
		return err
	}
	stats.ApplyUpsert(prev, s)
	return d.store.SetDashboard(ctx, stats)
}

// PatchRemove 删除后的增量补丁
func (d *DashboardCache) PatchRemove(ctx context.Context, state *domain.CollectionIndexState) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats, err := d.store.GetDashboard(ctx)
	if err != nil || stats == nil {
		return err
	}
	stats.ApplyRemove(state)
	return d.store.SetDashboard(ctx, stats)
}

// DashboardRefresher 周期刷新任务
type DashboardRefresher struct {
	dash     *DashboardCache
	interval time.Duration
	log      *log.Helper
}

// NewDashboardRefresher 创建周期刷新任务
func NewDashboardRefresher(dash *DashboardCache, interval time.Duration, logger log.Logger) *DashboardRefresher {
	if interval <= 0 {
		interval = defaultDashboardWindow
	}
	return &DashboardRefresher{
		dash:     dash,
		interval: interval,
		log:      log.NewHelper(log.With(logger, "module", "biz/dashboard-refresher")),
	}
}

// Run 运行刷新循环，直到上下文取消
func (r *DashboardRefresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("dashboard refresher started")

	for {
		select {
		case <-ctx.Done():
			r.log.Info("dashboard refresher stopped")
			return

		case <-ticker.C:
			if _, err := r.dash.Recompute(ctx, triggerPeriodic); err != nil {
				r.log.Errorf("periodic dashboard refresh: %v", err)
			}
		}
	}
}
