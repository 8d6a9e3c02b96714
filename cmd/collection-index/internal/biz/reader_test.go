package biz

import (
	"context"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediavault/cmd/collection-index/internal/data"
	"mediavault/cmd/collection-index/internal/domain"
)

func idsOf(items []*domain.CollectionSummary) []string {
	ids := make([]string, len(items))
	for i, s := range items {
		ids[i] = s.ID
	}
	return ids
}

// newReaderFixture 五个集合，横跨两个库、两个类型，名称大小写混合
//
//	updated升序: c-1, c-2, c-3, c-4, c-5
//	名称折叠升序: alpha, beta, delta, epsilon, gamma
func newReaderFixture(t *testing.T) (*IndexReader, domain.IndexStore) {
	t.Helper()
	store := data.NewMemoryIndexStore()
	w := NewIndexWriter(store, nil, log.DefaultLogger)

	c1 := testCollection("c-1", "Alpha", testBase.Add(1*time.Minute))
	c2 := testCollection("c-2", "beta", testBase.Add(2*time.Minute))
	c3 := testCollection("c-3", "Gamma", testBase.Add(3*time.Minute))
	c3.LibraryID = "lib-2"
	c3.Type = "artbook"
	c4 := testCollection("c-4", "delta", testBase.Add(4*time.Minute))
	c4.LibraryID = "lib-2"
	c5 := testCollection("c-5", "Epsilon", testBase.Add(5*time.Minute))
	c5.Type = "artbook"

	seedIndex(t, w, c1, c2, c3, c4, c5)
	return NewIndexReader(store, log.DefaultLogger), store
}

func TestIndexReaderNavigation(t *testing.T) {
	ctx := context.Background()
	reader, _ := newReaderFixture(t)

	t.Run("MiddleAscending", func(t *testing.T) {
		nav, err := reader.GetNavigation(ctx, "c-3", domain.SortFieldUpdated, domain.Ascending)
		require.NoError(t, err)
		assert.True(t, nav.Found)
		assert.Equal(t, int64(3), nav.Rank)
		assert.Equal(t, int64(5), nav.Total)
		assert.Equal(t, "c-2", nav.PreviousID)
		assert.Equal(t, "c-4", nav.NextID)
	})

	t.Run("FirstHasNoPrevious", func(t *testing.T) {
		nav, err := reader.GetNavigation(ctx, "c-1", domain.SortFieldUpdated, domain.Ascending)
		require.NoError(t, err)
		assert.Equal(t, int64(1), nav.Rank)
		assert.Empty(t, nav.PreviousID)
		assert.Equal(t, "c-2", nav.NextID)
	})

	t.Run("LastHasNoNext", func(t *testing.T) {
		nav, err := reader.GetNavigation(ctx, "c-5", domain.SortFieldUpdated, domain.Ascending)
		require.NoError(t, err)
		assert.Equal(t, int64(5), nav.Rank)
		assert.Equal(t, "c-4", nav.PreviousID)
		assert.Empty(t, nav.NextID)
	})

	t.Run("DescendingMirrorsOrder", func(t *testing.T) {
		nav, err := reader.GetNavigation(ctx, "c-4", domain.SortFieldUpdated, domain.Descending)
		require.NoError(t, err)
		assert.Equal(t, int64(2), nav.Rank)
		assert.Equal(t, "c-5", nav.PreviousID)
		assert.Equal(t, "c-3", nav.NextID)
	})

	t.Run("NameFieldResolvesFoldedMember", func(t *testing.T) {
		// delta在折叠名称序里排第3：alpha, beta, delta
		nav, err := reader.GetNavigation(ctx, "c-4", domain.SortFieldName, domain.Ascending)
		require.NoError(t, err)
		assert.Equal(t, int64(3), nav.Rank)
		assert.Equal(t, "c-2", nav.PreviousID)
		assert.Equal(t, "c-5", nav.NextID)
	})

	t.Run("NotIndexedIsNotAnError", func(t *testing.T) {
		nav, err := reader.GetNavigation(ctx, "ghost", domain.SortFieldUpdated, domain.Ascending)
		require.NoError(t, err)
		assert.False(t, nav.Found)
		assert.Zero(t, nav.Rank)
	})
}

func TestIndexReaderPages(t *testing.T) {
	ctx := context.Background()
	reader, _ := newReaderFixture(t)

	t.Run("PagesPartitionTheOrder", func(t *testing.T) {
		var got []string
		for page := 1; page <= 3; page++ {
			res, err := reader.GetPage(ctx, page, 2, domain.SortFieldUpdated, domain.Ascending)
			require.NoError(t, err)
			assert.Equal(t, int64(5), res.TotalItems)
			assert.Equal(t, 3, res.TotalPages)
			got = append(got, idsOf(res.Items)...)
		}
		assert.Equal(t, []string{"c-1", "c-2", "c-3", "c-4", "c-5"}, got)
	})

	t.Run("DescendingPage", func(t *testing.T) {
		res, err := reader.GetPage(ctx, 1, 3, domain.SortFieldUpdated, domain.Descending)
		require.NoError(t, err)
		assert.Equal(t, []string{"c-5", "c-4", "c-3"}, idsOf(res.Items))
	})

	t.Run("NameOrderPage", func(t *testing.T) {
		res, err := reader.GetPage(ctx, 1, 10, domain.SortFieldName, domain.Ascending)
		require.NoError(t, err)
		assert.Equal(t, []string{"c-1", "c-2", "c-4", "c-5", "c-3"}, idsOf(res.Items))
	})

	t.Run("LibraryScope", func(t *testing.T) {
		res, err := reader.GetLibraryPage(ctx, "lib-1", 1, 10, domain.SortFieldUpdated, domain.Ascending)
		require.NoError(t, err)
		assert.Equal(t, []string{"c-1", "c-2", "c-5"}, idsOf(res.Items))
		assert.Equal(t, int64(3), res.TotalItems)
	})

	t.Run("TypeScope", func(t *testing.T) {
		res, err := reader.GetTypePage(ctx, "artbook", 1, 10, domain.SortFieldName, domain.Ascending)
		require.NoError(t, err)
		// epsilon在gamma前
		assert.Equal(t, []string{"c-5", "c-3"}, idsOf(res.Items))
	})

	t.Run("EmptyScope", func(t *testing.T) {
		res, err := reader.GetLibraryPage(ctx, "lib-9", 1, 10, domain.SortFieldUpdated, domain.Ascending)
		require.NoError(t, err)
		assert.Empty(t, res.Items)
		assert.Zero(t, res.TotalItems)
		assert.Zero(t, res.TotalPages)
	})

	t.Run("PastTheEndIsEmpty", func(t *testing.T) {
		res, err := reader.GetPage(ctx, 9, 10, domain.SortFieldUpdated, domain.Ascending)
		require.NoError(t, err)
		assert.Empty(t, res.Items)
		assert.Equal(t, int64(5), res.TotalItems)
	})

	t.Run("ParamsAreNormalized", func(t *testing.T) {
		res, err := reader.GetPage(ctx, 0, 0, domain.SortFieldUpdated, domain.Ascending)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Page)
		assert.Equal(t, domain.DefaultPageSize, res.PageSize)
		assert.Len(t, res.Items, 5)
	})
}

func TestIndexReaderSiblings(t *testing.T) {
	ctx := context.Background()
	reader, _ := newReaderFixture(t)

	t.Run("AutoLocatesAnchorPage", func(t *testing.T) {
		res, err := reader.GetSiblings(ctx, "c-4", 0, 2, domain.SortFieldUpdated, domain.Ascending)
		require.NoError(t, err)
		assert.True(t, res.Found)
		assert.Equal(t, int64(4), res.Rank)
		assert.Equal(t, 2, res.Page)
		assert.Equal(t, []string{"c-3", "c-4"}, idsOf(res.Items))
		assert.Equal(t, 1, res.CenterIndex)
	})

	t.Run("ExplicitPageMayExcludeAnchor", func(t *testing.T) {
		res, err := reader.GetSiblings(ctx, "c-1", 2, 2, domain.SortFieldUpdated, domain.Ascending)
		require.NoError(t, err)
		assert.True(t, res.Found)
		assert.Equal(t, int64(1), res.Rank)
		assert.Equal(t, []string{"c-3", "c-4"}, idsOf(res.Items))
		assert.Equal(t, -1, res.CenterIndex)
	})

	t.Run("NotIndexedAnchor", func(t *testing.T) {
		res, err := reader.GetSiblings(ctx, "ghost", 0, 2, domain.SortFieldUpdated, domain.Ascending)
		require.NoError(t, err)
		assert.False(t, res.Found)
		assert.Equal(t, -1, res.CenterIndex)
		assert.Empty(t, res.Items)
	})
}

func TestIndexReaderSearch(t *testing.T) {
	ctx := context.Background()
	reader, _ := newReaderFixture(t)

	t.Run("FiltersByFoldedSubstring", func(t *testing.T) {
		// epsilon是五个名称里唯一不含a的
		res, err := reader.Search(ctx, "a", 1, 10, domain.SortFieldName, domain.Ascending)
		require.NoError(t, err)
		assert.Equal(t, int64(4), res.TotalItems)
		assert.Equal(t, []string{"c-1", "c-2", "c-4", "c-3"}, idsOf(res.Items))
	})

	t.Run("CaseInsensitive", func(t *testing.T) {
		res, err := reader.Search(ctx, "GAMMA", 1, 10, domain.SortFieldName, domain.Ascending)
		require.NoError(t, err)
		assert.Equal(t, []string{"c-3"}, idsOf(res.Items))
	})

	t.Run("NameDescendingReverses", func(t *testing.T) {
		res, err := reader.Search(ctx, "a", 1, 10, domain.SortFieldName, domain.Descending)
		require.NoError(t, err)
		assert.Equal(t, []string{"c-3", "c-4", "c-2", "c-1"}, idsOf(res.Items))
	})

	t.Run("NumericOrderViaScores", func(t *testing.T) {
		res, err := reader.Search(ctx, "a", 1, 10, domain.SortFieldUpdated, domain.Descending)
		require.NoError(t, err)
		assert.Equal(t, []string{"c-4", "c-3", "c-2", "c-1"}, idsOf(res.Items))
	})

	t.Run("PaginationOverFullMatchSet", func(t *testing.T) {
		res, err := reader.Search(ctx, "a", 2, 2, domain.SortFieldName, domain.Ascending)
		require.NoError(t, err)
		assert.Equal(t, int64(4), res.TotalItems)
		assert.Equal(t, 2, res.TotalPages)
		assert.Equal(t, []string{"c-4", "c-3"}, idsOf(res.Items))
	})

	t.Run("EmptyQueryMatchesAll", func(t *testing.T) {
		res, err := reader.Search(ctx, "", 1, 10, domain.SortFieldName, domain.Ascending)
		require.NoError(t, err)
		assert.Equal(t, int64(5), res.TotalItems)
	})

	t.Run("NoMatches", func(t *testing.T) {
		res, err := reader.Search(ctx, "zzz", 1, 10, domain.SortFieldName, domain.Ascending)
		require.NoError(t, err)
		assert.Empty(t, res.Items)
		assert.Zero(t, res.TotalItems)
		assert.Zero(t, res.TotalPages)
	})
}

func TestIndexReaderCounts(t *testing.T) {
	ctx := context.Background()
	reader, _ := newReaderFixture(t)

	n, err := reader.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = reader.CountByLibrary(ctx, "lib-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = reader.CountByType(ctx, "manga")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = reader.CountByType(ctx, "unknown")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIndexReaderGetSummary(t *testing.T) {
	ctx := context.Background()
	reader, _ := newReaderFixture(t)

	s, err := reader.GetSummary(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", s.Name)

	_, err = reader.GetSummary(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrCollectionNotIndexed)
}
