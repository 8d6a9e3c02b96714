package biz

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"

	"mediavault/cmd/collection-index/internal/domain"
	"mediavault/pkg/monitoring"
)

// ThumbnailCache 集合封面缩略图缓存
//
// 读路径优先命中缓存键，未命中时从对象存储拉取并回填；
// 重建路径按批暖缓存，批内全部载荷一次管道写入。
type ThumbnailCache struct {
	store  domain.IndexStore
	source domain.ThumbnailSource
	log    *log.Helper
}

// NewThumbnailCache 创建缩略图缓存，source可为nil（禁用回源）
func NewThumbnailCache(store domain.IndexStore, source domain.ThumbnailSource, logger log.Logger) *ThumbnailCache {
	return &ThumbnailCache{
		store:  store,
		source: source,
		log:    log.NewHelper(log.With(logger, "module", "biz/thumbnails")),
	}
}

// Get 读取集合的缓存缩略图，未命中时回源拉取并回填
func (t *ThumbnailCache) Get(ctx context.Context, id string) ([]byte, error) {
	data, err := t.store.GetThumbnail(ctx, id)
	if err == nil {
		monitoring.ThumbnailOpsTotal.WithLabelValues("get", "hit").Inc()
		return data, nil
	}
	if !errors.Is(err, domain.ErrThumbnailNotCached) {
		monitoring.ThumbnailOpsTotal.WithLabelValues("get", "error").Inc()
		return nil, err
	}
	monitoring.ThumbnailOpsTotal.WithLabelValues("get", "miss").Inc()

	state, err := t.store.GetState(ctx, id)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrCollectionNotIndexed, id)
	}
	if state.ThumbRef == "" || t.source == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrThumbnailNotCached, id)
	}

	data, err = t.source.FetchThumbnail(ctx, state.ThumbRef)
	if err != nil {
		monitoring.ThumbnailOpsTotal.WithLabelValues("fetch", "error").Inc()
		return nil, fmt.Errorf("fetch thumbnail for %s: %w", id, err)
	}
	monitoring.ThumbnailOpsTotal.WithLabelValues("fetch", "ok").Inc()

	// 回填失败不影响本次返回
	if err := t.store.SetThumbnail(ctx, id, data); err != nil {
		t.log.WithContext(ctx).Warnf("backfill thumbnail %s: %v", id, err)
	} else if err := t.store.MarkThumbnailsCached(ctx, []string{id}); err != nil {
		t.log.WithContext(ctx).Warnf("mark thumbnail cached %s: %v", id, err)
	}
	return data, nil
}

// WarmBatch 为一批摘要预热缩略图
// 逐个拉取载荷（熔断器在源一侧兜底），回写合并为一次管道往返。
// 单条失败只计数不中断，返回成功暖入的数量。
func (t *ThumbnailCache) WarmBatch(ctx context.Context, summaries []*domain.CollectionSummary) (int64, error) {
	if t.source == nil || len(summaries) == 0 {
		return 0, nil
	}

	refs := make(map[string]string, len(summaries))
	ids := make([]string, 0, len(summaries))
	for _, s := range summaries {
		if s.FirstMediaThumb == "" {
			continue
		}
		refs[s.ID] = s.FirstMediaThumb
		ids = append(ids, s.ID)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	existing, err := t.store.ExistsThumbnails(ctx, ids)
	if err != nil {
		return 0, err
	}

	payloads := make(map[string][]byte)
	warmedIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		if existing[id] {
			continue
		}
		if err := ctx.Err(); err != nil {
			break
		}

		data, err := t.source.FetchThumbnail(ctx, refs[id])
		if err != nil {
			monitoring.ThumbnailOpsTotal.WithLabelValues("warm", "error").Inc()
			t.log.WithContext(ctx).Debugf("warm thumbnail %s: %v", id, err)
			continue
		}
		payloads[id] = data
		warmedIDs = append(warmedIDs, id)
	}

	if len(payloads) == 0 {
		return 0, nil
	}
	if err := t.store.SetThumbnails(ctx, payloads); err != nil {
		return 0, err
	}
	if err := t.store.MarkThumbnailsCached(ctx, warmedIDs); err != nil {
		t.log.WithContext(ctx).Warnf("mark thumbnails cached: %v", err)
	}

	monitoring.ThumbnailOpsTotal.WithLabelValues("warm", "ok").Add(float64(len(payloads)))
	return int64(len(payloads)), nil
}
