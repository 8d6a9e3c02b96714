package biz

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediavault/cmd/collection-index/internal/data"
	"mediavault/cmd/collection-index/internal/domain"
)

func newOrchestrator(src *fakeSource, store domain.IndexStore, thumbSrc *fakeThumbSource) (*Orchestrator, *IndexWriter) {
	logger := log.DefaultLogger
	w := NewIndexWriter(store, nil, logger)
	thumbs := NewThumbnailCache(store, thumbSrc, logger)
	verifier := NewVerifier(src, store, w, thumbs, logger)
	dash := NewDashboardCache(store, time.Hour, logger)
	return NewOrchestrator(src, store, w, verifier, thumbs, dash, logger), w
}

func TestOrchestratorRebuild(t *testing.T) {
	ctx := context.Background()

	t.Run("IdleOrchestrator", func(t *testing.T) {
		orch, _ := newOrchestrator(newFakeSource(), data.NewMemoryIndexStore(), newFakeThumbSource())
		assert.False(t, orch.Running())
		assert.Nil(t, orch.LastStats())
	})

	t.Run("ChangedOnlySkipsFresh", func(t *testing.T) {
		store := data.NewMemoryIndexStore()
		c1 := bareCollection("c-1", "Alpha", testBase)
		c2 := bareCollection("c-2", "Beta", testBase)
		c3 := bareCollection("c-3", "Gamma", testBase)
		src := newFakeSource(c1, c2, c3)
		orch, w := newOrchestrator(src, store, newFakeThumbSource())

		seedIndex(t, w, c1, c2)
		src.put(bareCollection("c-2", "Beta", testBase.Add(time.Hour)))

		stats, err := orch.Rebuild(ctx, RebuildOptions{Mode: domain.RebuildChangedOnly})
		require.NoError(t, err)

		assert.NotEmpty(t, stats.RunID)
		assert.Equal(t, domain.RebuildChangedOnly, stats.Mode)
		assert.Equal(t, int64(3), stats.Total)
		assert.Equal(t, int64(1), stats.Skipped)
		assert.Equal(t, int64(2), stats.Rebuilt)
		assert.Zero(t, stats.Removed)
		assert.Zero(t, stats.Failed)
		assert.False(t, stats.Cancelled)

		// c-3补进索引，c-2追上源
		_, err = store.GetSummary(ctx, "c-3")
		assert.NoError(t, err)
		state, err := store.GetState(ctx, "c-2")
		require.NoError(t, err)
		assert.True(t, state.IsFresh(testBase.Add(time.Hour)))

		assert.False(t, orch.Running())
		assert.Equal(t, stats, orch.LastStats())
	})

	t.Run("ChangedRemovesCollectionsGoneFromSource", func(t *testing.T) {
		store := data.NewMemoryIndexStore()
		c1 := bareCollection("c-1", "Alpha", testBase)
		c2 := bareCollection("c-2", "Beta", testBase)
		src := newFakeSource(c1, c2)
		orch, w := newOrchestrator(src, store, newFakeThumbSource())

		seedIndex(t, w, c1, c2)
		// c-2在扫描与单条读取之间被删掉
		src.put(bareCollection("c-2", "Beta", testBase.Add(time.Hour)))
		src.goneOnGet["c-2"] = true

		stats, err := orch.Rebuild(ctx, RebuildOptions{Mode: domain.RebuildChangedOnly})
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.Removed)
		assert.Equal(t, int64(1), stats.Skipped)
		assert.Zero(t, stats.Rebuilt)

		_, err = store.GetSummary(ctx, "c-2")
		assert.ErrorIs(t, err, domain.ErrCollectionNotIndexed)
	})

	t.Run("FullClearsBeforeRebuilding", func(t *testing.T) {
		store := data.NewMemoryIndexStore()
		c1 := bareCollection("c-1", "Alpha", testBase)
		c2 := bareCollection("c-2", "Beta", testBase)
		src := newFakeSource(c1, c2)
		orch, w := newOrchestrator(src, store, newFakeThumbSource())

		// c-9只在索引里，全量重建后必须消失
		seedIndex(t, w, c1, bareCollection("c-9", "Orphan", testBase))

		stats, err := orch.Rebuild(ctx, RebuildOptions{Mode: domain.RebuildFull})
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.Total)
		assert.Equal(t, int64(2), stats.Rebuilt)

		_, err = store.GetSummary(ctx, "c-9")
		assert.ErrorIs(t, err, domain.ErrCollectionNotIndexed)
		_, err = store.GetSummary(ctx, "c-2")
		assert.NoError(t, err)

		// 全量重建后快照重算
		dashStats, err := store.GetDashboard(ctx)
		require.NoError(t, err)
		require.NotNil(t, dashStats)
		assert.Equal(t, int64(2), dashStats.Collections)
	})

	t.Run("ForceReprojectsWithoutClearing", func(t *testing.T) {
		store := data.NewMemoryIndexStore()
		c1 := bareCollection("c-1", "Alpha", testBase)
		c2 := bareCollection("c-2", "Beta", testBase)
		src := newFakeSource(c1, c2)
		orch, w := newOrchestrator(src, store, newFakeThumbSource())

		seedIndex(t, w, c1, bareCollection("c-9", "Orphan", testBase))

		stats, err := orch.Rebuild(ctx, RebuildOptions{Mode: domain.RebuildForceAll})
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.Rebuilt)
		assert.Zero(t, stats.Skipped)

		// force不清空也不清孤儿
		_, err = store.GetSummary(ctx, "c-9")
		assert.NoError(t, err)
	})

	t.Run("VerifyModeDelegates", func(t *testing.T) {
		store := data.NewMemoryIndexStore()
		c1 := bareCollection("c-1", "Alpha", testBase)
		c2 := bareCollection("c-2", "Beta", testBase)
		src := newFakeSource(c1, c2)
		orch, w := newOrchestrator(src, store, newFakeThumbSource())

		seedIndex(t, w, c1, bareCollection("c-9", "Orphan", testBase))

		// dry-run只报告
		stats, err := orch.Rebuild(ctx, RebuildOptions{Mode: domain.RebuildVerify, DryRun: true})
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.Total)
		_, err = store.GetSummary(ctx, "c-9")
		assert.NoError(t, err)

		stats, err = orch.Rebuild(ctx, RebuildOptions{Mode: domain.RebuildVerify})
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.Total)
		assert.Equal(t, int64(1), stats.Rebuilt)
		assert.Equal(t, int64(1), stats.Removed)
		assert.Equal(t, int64(1), stats.Skipped)

		_, err = store.GetSummary(ctx, "c-2")
		assert.NoError(t, err)
		_, err = store.GetSummary(ctx, "c-9")
		assert.ErrorIs(t, err, domain.ErrCollectionNotIndexed)
	})

	t.Run("CancellationKeepsPartialStats", func(t *testing.T) {
		store := data.NewMemoryIndexStore()
		src := newFakeSource(
			bareCollection("c-1", "Alpha", testBase),
			bareCollection("c-2", "Beta", testBase),
			bareCollection("c-3", "Gamma", testBase),
			bareCollection("c-4", "Delta", testBase),
		)
		orch, _ := newOrchestrator(src, store, newFakeThumbSource())

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		src.afterBatch = cancel

		stats, err := orch.Rebuild(runCtx, RebuildOptions{Mode: domain.RebuildForceAll, BatchSize: 2})
		require.NoError(t, err)
		assert.True(t, stats.Cancelled)
		assert.Equal(t, int64(2), stats.Total)
		assert.Equal(t, int64(2), stats.Rebuilt)
		assert.False(t, orch.Running())
	})

	t.Run("AbortsOnStoreOutage", func(t *testing.T) {
		flaky := &flakyStore{IndexStore: data.NewMemoryIndexStore(), failUpserts: 10}
		src := newFakeSource(bareCollection("c-1", "Alpha", testBase))
		orch, _ := newOrchestrator(src, flaky, newFakeThumbSource())

		stats, err := orch.Rebuild(ctx, RebuildOptions{Mode: domain.RebuildChangedOnly})
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
		assert.False(t, stats.Cancelled)
		assert.False(t, orch.Running())
	})

	t.Run("InvalidModeReleasesLock", func(t *testing.T) {
		store := data.NewMemoryIndexStore()
		src := newFakeSource(bareCollection("c-1", "Alpha", testBase))
		orch, _ := newOrchestrator(src, store, newFakeThumbSource())

		_, err := orch.Rebuild(ctx, RebuildOptions{Mode: domain.RebuildMode("bogus")})
		assert.ErrorIs(t, err, domain.ErrInvalidRebuildMode)
		assert.False(t, orch.Running())

		// 锁已释放，后续重建照常
		stats, err := orch.Rebuild(ctx, RebuildOptions{Mode: domain.RebuildChangedOnly})
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.Rebuilt)
	})

	t.Run("WarmsThumbnails", func(t *testing.T) {
		store := data.NewMemoryIndexStore()
		c1 := testCollection("c-1", "Alpha", testBase)
		c2 := testCollection("c-2", "Beta", testBase)
		src := newFakeSource(c1, c2)
		thumbSrc := newFakeThumbSource()
		thumbSrc.putObject(c1.FirstMediaThumb, []byte("t1"))
		thumbSrc.putObject(c2.FirstMediaThumb, []byte("t2"))
		orch, _ := newOrchestrator(src, store, thumbSrc)

		stats, err := orch.Rebuild(ctx, RebuildOptions{Mode: domain.RebuildForceAll, WarmThumbnails: true})
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.ThumbnailsWarmed)

		got, err := store.GetThumbnail(ctx, "c-1")
		require.NoError(t, err)
		assert.Equal(t, []byte("t1"), got)

		// 已暖过的不再回源
		stats, err = orch.Rebuild(ctx, RebuildOptions{Mode: domain.RebuildForceAll, WarmThumbnails: true})
		require.NoError(t, err)
		assert.Zero(t, stats.ThumbnailsWarmed)
	})
}

func TestOrchestratorStartAsync(t *testing.T) {
	store := data.NewMemoryIndexStore()
	src := newFakeSource(
		bareCollection("c-1", "Alpha", testBase),
		bareCollection("c-2", "Beta", testBase),
	)
	orch, _ := newOrchestrator(src, store, newFakeThumbSource())

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	src.afterBatch = func() {
		once.Do(func() {
			close(started)
			<-release
		})
	}

	runID, err := orch.StartAsync(context.Background(), RebuildOptions{Mode: domain.RebuildForceAll})
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	<-started
	assert.True(t, orch.Running())

	// 运行期间同步和异步启动都被拒绝
	_, err = orch.Rebuild(context.Background(), RebuildOptions{Mode: domain.RebuildChangedOnly})
	assert.ErrorIs(t, err, domain.ErrRebuildInProgress)
	_, err = orch.StartAsync(context.Background(), RebuildOptions{Mode: domain.RebuildChangedOnly})
	assert.ErrorIs(t, err, domain.ErrRebuildInProgress)

	close(release)
	assert.Eventually(t, func() bool { return !orch.Running() }, 2*time.Second, 5*time.Millisecond)

	last := orch.LastStats()
	require.NotNil(t, last)
	assert.Equal(t, runID, last.RunID)
	assert.Equal(t, int64(2), last.Rebuilt)
	assert.False(t, last.Cancelled)
}
