package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectSummary(t *testing.T) {
	created := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	updated := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	c := &Collection{
		ID:              "col_1",
		Name:            "Summer Trip",
		Description:     "beach photos",
		LibraryID:       "lib_1",
		Type:            "album",
		Path:            "/photos/2025/summer",
		Tags:            []string{"beach", "2025"},
		FirstMediaID:    "m_1",
		FirstMediaThumb: "thumbs/m_1.jpg",
		ImageCount:      120,
		ThumbnailCount:  118,
		CacheEntryCount: 360,
		TotalSizeBytes:  1 << 28,
		CreatedAt:       created,
		UpdatedAt:       updated,
	}

	s := ProjectSummary(c)

	assert.Equal(t, c.ID, s.ID)
	assert.Equal(t, c.Name, s.Name)
	assert.Equal(t, c.LibraryID, s.LibraryID)
	assert.Equal(t, c.Type, s.Type)
	assert.Equal(t, c.Tags, s.Tags)
	assert.Equal(t, c.ImageCount, s.ImageCount)
	assert.Equal(t, c.TotalSizeBytes, s.TotalSizeBytes)
	assert.Equal(t, created, s.CreatedAt)
	assert.Equal(t, updated, s.UpdatedAt)

	t.Run("投影是纯函数", func(t *testing.T) {
		again := ProjectSummary(c)
		assert.Equal(t, s, again)
	})

	t.Run("nil标签投影为空切片", func(t *testing.T) {
		bare := &Collection{ID: "col_2"}
		got := ProjectSummary(bare)
		require.NotNil(t, got.Tags)
		assert.Empty(t, got.Tags)
	})
}

func TestIndexStateIsFresh(t *testing.T) {
	indexed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	state := &CollectionIndexState{
		ID:        "col_1",
		IndexedAt: indexed.Add(time.Second),
		UpdatedAt: indexed,
	}

	assert.True(t, state.IsFresh(indexed), "同一时间戳视为新鲜")
	assert.True(t, state.IsFresh(indexed.Add(-time.Hour)))
	assert.False(t, state.IsFresh(indexed.Add(time.Millisecond)), "源更新过则过期")

	var missing *CollectionIndexState
	assert.False(t, missing.IsFresh(indexed), "未索引记录永远不新鲜")
}
