package events

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediavault/cmd/collection-index/internal/biz"
	"mediavault/cmd/collection-index/internal/data"
	"mediavault/cmd/collection-index/internal/domain"
)

// stubSource 测试用集合源
type stubSource struct {
	collections map[string]*domain.Collection
}

func newStubSource(cols ...*domain.Collection) *stubSource {
	s := &stubSource{collections: map[string]*domain.Collection{}}
	for _, c := range cols {
		s.collections[c.ID] = c
	}
	return s
}

func (s *stubSource) GetByID(ctx context.Context, id string) (*domain.Collection, error) {
	c, ok := s.collections[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, id)
	}
	cp := *c
	return &cp, nil
}

func (s *stubSource) StreamAll(ctx context.Context, batchSize int, fn func(batch []*domain.Collection) error) error {
	batch := make([]*domain.Collection, 0, len(s.collections))
	for _, c := range s.collections {
		batch = append(batch, c)
	}
	if len(batch) == 0 {
		return nil
	}
	return fn(batch)
}

func (s *stubSource) StreamMeta(ctx context.Context, batchSize int, fn func(batch []domain.CollectionMeta) error) error {
	batch := make([]domain.CollectionMeta, 0, len(s.collections))
	for _, c := range s.collections {
		batch = append(batch, domain.CollectionMeta{ID: c.ID, UpdatedAt: c.UpdatedAt})
	}
	if len(batch) == 0 {
		return nil
	}
	return fn(batch)
}

func (s *stubSource) Count(ctx context.Context) (int64, error) {
	return int64(len(s.collections)), nil
}

// unavailableStore 全部写入都报存储不可达
type unavailableStore struct {
	domain.IndexStore
}

func (s unavailableStore) ApplyUpsert(context.Context, *domain.IndexUpsert) error {
	return fmt.Errorf("%w: connection refused", domain.ErrStoreUnavailable)
}

func testCollection(id, name string) *domain.Collection {
	return &domain.Collection{
		ID:         id,
		Name:       name,
		LibraryID:  "lib-1",
		Type:       "manga",
		ImageCount: 10,
		CreatedAt:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newTestConsumer(src domain.CollectionSource, store domain.IndexStore) *Consumer {
	return &Consumer{
		source: src,
		writer: biz.NewIndexWriter(store, nil, log.DefaultLogger),
		log:    log.NewHelper(log.With(log.DefaultLogger, "module", "events.consumer")),
	}
}

func encodeEvent(t *testing.T, eventType, collectionID string) []byte {
	t.Helper()
	value, err := json.Marshal(&CollectionEvent{
		EventType:    eventType,
		CollectionID: collectionID,
		OccurredAt:   time.Now(),
	})
	require.NoError(t, err)
	return value
}

func TestProcessMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("CreatedIndexesCollection", func(t *testing.T) {
		store := data.NewMemoryIndexStore()
		consumer := newTestConsumer(newStubSource(testCollection("c-1", "Alpha")), store)

		mark, err := consumer.processMessage(ctx, encodeEvent(t, EventCollectionCreated, "c-1"))
		require.NoError(t, err)
		assert.True(t, mark)

		summary, err := store.GetSummary(ctx, "c-1")
		require.NoError(t, err)
		assert.Equal(t, "Alpha", summary.Name)
	})

	t.Run("UpdatedReprojectsFromSource", func(t *testing.T) {
		store := data.NewMemoryIndexStore()
		src := newStubSource(testCollection("c-1", "Alpha"))
		consumer := newTestConsumer(src, store)

		_, err := consumer.processMessage(ctx, encodeEvent(t, EventCollectionCreated, "c-1"))
		require.NoError(t, err)

		src.collections["c-1"] = testCollection("c-1", "Alpha Remastered")
		mark, err := consumer.processMessage(ctx, encodeEvent(t, EventCollectionUpdated, "c-1"))
		require.NoError(t, err)
		assert.True(t, mark)

		summary, err := store.GetSummary(ctx, "c-1")
		require.NoError(t, err)
		assert.Equal(t, "Alpha Remastered", summary.Name)
	})

	t.Run("DeletedRemovesFromIndex", func(t *testing.T) {
		store := data.NewMemoryIndexStore()
		src := newStubSource(testCollection("c-1", "Alpha"))
		consumer := newTestConsumer(src, store)

		_, err := consumer.processMessage(ctx, encodeEvent(t, EventCollectionCreated, "c-1"))
		require.NoError(t, err)

		mark, err := consumer.processMessage(ctx, encodeEvent(t, EventCollectionDeleted, "c-1"))
		require.NoError(t, err)
		assert.True(t, mark)

		_, err = store.GetSummary(ctx, "c-1")
		assert.ErrorIs(t, err, domain.ErrCollectionNotIndexed)
	})

	t.Run("UpdateForDeletedCollectionRemoves", func(t *testing.T) {
		// 更新事件先于删除事件送达不了：回读发现源里已没有，按删除收敛
		store := data.NewMemoryIndexStore()
		src := newStubSource(testCollection("c-1", "Alpha"))
		consumer := newTestConsumer(src, store)

		_, err := consumer.processMessage(ctx, encodeEvent(t, EventCollectionCreated, "c-1"))
		require.NoError(t, err)

		delete(src.collections, "c-1")
		mark, err := consumer.processMessage(ctx, encodeEvent(t, EventCollectionUpdated, "c-1"))
		require.NoError(t, err)
		assert.True(t, mark)

		_, err = store.GetSummary(ctx, "c-1")
		assert.ErrorIs(t, err, domain.ErrCollectionNotIndexed)
	})

	t.Run("ProjectionIgnoresEventPayload", func(t *testing.T) {
		// 事件体可能滞后于文档库，投影只信回读结果
		store := data.NewMemoryIndexStore()
		consumer := newTestConsumer(newStubSource(testCollection("c-1", "Fresh Name")), store)

		raw := []byte(`{"event_type":"collection.updated","collection_id":"c-1","occurred_at":"2025-06-01T12:00:00Z","payload":{"name":"Stale Name"},"trace_id":"abc-123"}`)
		mark, err := consumer.processMessage(ctx, raw)
		require.NoError(t, err)
		assert.True(t, mark)

		summary, err := store.GetSummary(ctx, "c-1")
		require.NoError(t, err)
		assert.Equal(t, "Fresh Name", summary.Name)
	})

	t.Run("MalformedMessageSkipped", func(t *testing.T) {
		store := data.NewMemoryIndexStore()
		consumer := newTestConsumer(newStubSource(), store)

		mark, err := consumer.processMessage(ctx, []byte(`{"event_type":`))
		require.NoError(t, err)
		assert.True(t, mark)
	})

	t.Run("MissingCollectionIDSkipped", func(t *testing.T) {
		store := data.NewMemoryIndexStore()
		consumer := newTestConsumer(newStubSource(), store)

		mark, err := consumer.processMessage(ctx, encodeEvent(t, EventCollectionCreated, ""))
		require.NoError(t, err)
		assert.True(t, mark)
	})

	t.Run("UnknownEventTypeSkipped", func(t *testing.T) {
		store := data.NewMemoryIndexStore()
		consumer := newTestConsumer(newStubSource(testCollection("c-1", "Alpha")), store)

		mark, err := consumer.processMessage(ctx, encodeEvent(t, "collection.migrated", "c-1"))
		require.NoError(t, err)
		assert.True(t, mark)

		_, err = store.GetSummary(ctx, "c-1")
		assert.ErrorIs(t, err, domain.ErrCollectionNotIndexed)
	})

	t.Run("StoreOutageRequestsRedelivery", func(t *testing.T) {
		store := unavailableStore{IndexStore: data.NewMemoryIndexStore()}
		consumer := newTestConsumer(newStubSource(testCollection("c-1", "Alpha")), store)

		mark, err := consumer.processMessage(ctx, encodeEvent(t, EventCollectionCreated, "c-1"))
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
		assert.False(t, mark)
	})

	t.Run("CancelledContextRequestsRedelivery", func(t *testing.T) {
		store := data.NewMemoryIndexStore()
		consumer := newTestConsumer(newStubSource(testCollection("c-1", "Alpha")), store)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		mark, err := consumer.processMessage(cancelled, encodeEvent(t, EventCollectionCreated, "c-1"))
		assert.Error(t, err)
		assert.False(t, mark)
	})
}
