package biz

import (
	"context"
	"errors"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"mediavault/cmd/collection-index/internal/domain"
	"mediavault/pkg/monitoring"
)

const verifyChunkSize = 500

// VerifyOptions 校验选项
type VerifyOptions struct {
	// DryRun 只报告不修复
	DryRun bool

	// Deep 深度审计：逐个有序集合比对成员与状态记录
	Deep bool

	// BatchSize 源扫描批大小
	BatchSize int
}

// Verifier 一致性校验器
//
// 对比源文档库与索引，把差异分类为缺失、过期、孤儿、
// 缺缩略图四类；非DryRun时按类修复。校验以全局updated
// 集合作为索引成员表的权威。
type Verifier struct {
	source domain.CollectionSource
	store  domain.IndexStore
	writer *IndexWriter
	thumbs *ThumbnailCache
	log    *log.Helper
}

// NewVerifier 创建一致性校验器
func NewVerifier(source domain.CollectionSource, store domain.IndexStore, writer *IndexWriter, thumbs *ThumbnailCache, logger log.Logger) *Verifier {
	return &Verifier{
		source: source,
		store:  store,
		writer: writer,
		thumbs: thumbs,
		log:    log.NewHelper(log.With(logger, "module", "biz/verifier")),
	}
}

// Verify 执行一次一致性校验
func (v *Verifier) Verify(ctx context.Context, opts VerifyOptions) (*domain.VerifyResult, error) {
	res := &domain.VerifyResult{StartedAt: time.Now()}

	sourceMeta := map[string]time.Time{}
	err := v.source.StreamMeta(ctx, opts.BatchSize, func(batch []domain.CollectionMeta) error {
		for _, meta := range batch {
			sourceMeta[meta.ID] = meta.UpdatedAt
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}
	res.SourceCollections = int64(len(sourceMeta))

	indexedIDs, err := v.store.ListIndexedIDs(ctx)
	if err != nil {
		return nil, err
	}
	res.IndexedCollections = int64(len(indexedIDs))

	states, err := v.statesFor(ctx, indexedIDs)
	if err != nil {
		return nil, err
	}

	v.classify(sourceMeta, indexedIDs, states, res)

	if err := v.checkThumbnails(ctx, sourceMeta, states, res); err != nil {
		return nil, err
	}

	if opts.Deep {
		if err := v.deepAudit(ctx, states, res); err != nil {
			return nil, err
		}
	}

	if !opts.DryRun && !res.Clean() {
		if err := v.repair(ctx, res); err != nil {
			return nil, err
		}
	}

	res.FinishedAt = time.Now()
	res.DurationMS = res.FinishedAt.Sub(res.StartedAt).Milliseconds()
	v.report(res)
	return res, nil
}

func (v *Verifier) statesFor(ctx context.Context, ids []string) (map[string]*domain.CollectionIndexState, error) {
	states := make(map[string]*domain.CollectionIndexState, len(ids))
	for start := 0; start < len(ids); start += verifyChunkSize {
		end := start + verifyChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk, err := v.store.GetStates(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		for id, state := range chunk {
			states[id] = state
		}
	}
	return states, nil
}

// classify 成员级分类
func (v *Verifier) classify(sourceMeta map[string]time.Time, indexedIDs []string, states map[string]*domain.CollectionIndexState, res *domain.VerifyResult) {
	indexed := make(map[string]bool, len(indexedIDs))
	for _, id := range indexedIDs {
		indexed[id] = true
	}

	for id, updatedAt := range sourceMeta {
		state := states[id]
		switch {
		case !indexed[id]:
			res.Missing = append(res.Missing, id)
		case state == nil:
			// 成员表里有但状态记录丢了：按过期处理，重投影即恢复
			res.Stale = append(res.Stale, id)
		case !state.IsFresh(updatedAt):
			res.Stale = append(res.Stale, id)
		}
	}

	for _, id := range indexedIDs {
		if _, ok := sourceMeta[id]; !ok {
			res.Orphaned = append(res.Orphaned, id)
		}
	}
}

// checkThumbnails 封面引用存在但缓存键缺失的集合
func (v *Verifier) checkThumbnails(ctx context.Context, sourceMeta map[string]time.Time, states map[string]*domain.CollectionIndexState, res *domain.VerifyResult) error {
	candidates := make([]string, 0, len(states))
	for id, state := range states {
		if state == nil || state.ThumbRef == "" {
			continue
		}
		if _, inSource := sourceMeta[id]; !inSource {
			continue // 孤儿走删除，不用暖缩略图
		}
		candidates = append(candidates, id)
	}

	for start := 0; start < len(candidates); start += verifyChunkSize {
		end := start + verifyChunkSize
		if end > len(candidates) {
			end = len(candidates)
		}
		exists, err := v.store.ExistsThumbnails(ctx, candidates[start:end])
		if err != nil {
			return err
		}
		for _, id := range candidates[start:end] {
			if !exists[id] {
				res.MissingThumbnail = append(res.MissingThumbnail, id)
			}
		}
	}
	return nil
}

// deepAudit 逐个有序集合比对实际成员与状态记录推导的期望成员
// 审计范围是状态记录能推导出的全部(字段,范围)组合；
// 完全游离的范围键只能靠全量重建清掉
func (v *Verifier) deepAudit(ctx context.Context, states map[string]*domain.CollectionIndexState, res *domain.VerifyResult) error {
	type zref struct {
		field domain.SortField
		scope domain.Scope
	}

	expected := map[string]map[string]string{} // zkey → member → 集合ID
	keys := map[string]zref{}

	addExpected := func(field domain.SortField, scope domain.Scope, member, id string) {
		key := string(field) + "|" + scope.Key()
		if _, ok := expected[key]; !ok {
			expected[key] = map[string]string{}
			keys[key] = zref{field: field, scope: scope}
		}
		expected[key][member] = id
	}

	for id, state := range states {
		if state == nil {
			continue
		}
		for _, scope := range domain.ScopesOf(state.LibraryID, state.Type) {
			for _, field := range domain.SortFields() {
				member := id
				if field == domain.SortFieldName {
					member = state.NameMember
				}
				addExpected(field, scope, member, id)
			}
		}
	}

	needsReindex := map[string]bool{}
	for key, ref := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}

		actual, err := v.store.ListMembers(ctx, ref.field, ref.scope)
		if err != nil {
			return err
		}
		actualSet := make(map[string]bool, len(actual))
		for _, m := range actual {
			actualSet[m] = true
			if _, ok := expected[key][m]; !ok {
				res.ExtraEntries = append(res.ExtraEntries, domain.IndexEntry{
					Field:  ref.field,
					Scope:  ref.scope,
					Member: m,
				})
			}
		}
		for member, id := range expected[key] {
			if !actualSet[member] {
				needsReindex[id] = true
			}
		}
	}

	for id := range needsReindex {
		res.MissingEntries = append(res.MissingEntries, id)
	}
	return nil
}

// repair 按分类修复
func (v *Verifier) repair(ctx context.Context, res *domain.VerifyResult) error {
	res.Repaired = true

	reindex := map[string]bool{}
	for _, id := range res.Missing {
		reindex[id] = true
	}
	for _, id := range res.Stale {
		reindex[id] = true
	}
	for _, id := range res.MissingEntries {
		reindex[id] = true
	}

	for id := range reindex {
		if err := ctx.Err(); err != nil {
			return err
		}
		col, err := v.source.GetByID(ctx, id)
		if errors.Is(err, domain.ErrCollectionNotFound) {
			// 校验窗口内被删了，按孤儿清理
			err = v.writer.Remove(ctx, id)
		} else if err == nil {
			err = v.writer.Upsert(ctx, col)
		}
		if err != nil {
			if domain.IsRetryable(err) {
				return err
			}
			res.RepairFailed++
			v.log.WithContext(ctx).Warnf("repair reindex %s: %v", id, err)
		}
	}

	for _, id := range res.Orphaned {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := v.writer.Remove(ctx, id); err != nil {
			if domain.IsRetryable(err) {
				return err
			}
			res.RepairFailed++
			v.log.WithContext(ctx).Warnf("repair remove orphan %s: %v", id, err)
		}
	}

	for _, e := range res.ExtraEntries {
		if err := v.store.RemoveMember(ctx, e.Field, e.Scope, e.Member); err != nil {
			res.RepairFailed++
			v.log.WithContext(ctx).Warnf("repair remove member %s: %v", e.Member, err)
		}
	}

	if v.thumbs != nil && len(res.MissingThumbnail) > 0 {
		for start := 0; start < len(res.MissingThumbnail); start += verifyChunkSize {
			end := start + verifyChunkSize
			if end > len(res.MissingThumbnail) {
				end = len(res.MissingThumbnail)
			}
			summaries, err := v.store.GetSummaries(ctx, res.MissingThumbnail[start:end])
			if err != nil {
				return err
			}
			batch := make([]*domain.CollectionSummary, 0, len(summaries))
			for _, s := range summaries {
				batch = append(batch, s)
			}
			if _, err := v.thumbs.WarmBatch(ctx, batch); err != nil {
				v.log.WithContext(ctx).Warnf("repair warm thumbnails: %v", err)
			}
		}
	}
	return nil
}

func (v *Verifier) report(res *domain.VerifyResult) {
	monitoring.VerifyAnomalies.WithLabelValues("missing").Set(float64(len(res.Missing)))
	monitoring.VerifyAnomalies.WithLabelValues("stale").Set(float64(len(res.Stale)))
	monitoring.VerifyAnomalies.WithLabelValues("orphaned").Set(float64(len(res.Orphaned)))
	monitoring.VerifyAnomalies.WithLabelValues("missing_thumbnail").Set(float64(len(res.MissingThumbnail)))
	monitoring.VerifyAnomalies.WithLabelValues("extra_entries").Set(float64(len(res.ExtraEntries)))

	v.log.Infof("verify finished: source=%d indexed=%d missing=%d stale=%d orphaned=%d missing_thumb=%d extra=%d repaired=%v",
		res.SourceCollections, res.IndexedCollections,
		len(res.Missing), len(res.Stale), len(res.Orphaned),
		len(res.MissingThumbnail), len(res.ExtraEntries), res.Repaired)
}
