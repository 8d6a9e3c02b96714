package biz

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mediavault/cmd/collection-index/internal/domain"
)

var testBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// testCollection 构造一条源集合记录
func testCollection(id, name string, updated time.Time) *domain.Collection {
	return &domain.Collection{
		ID:              id,
		Name:            name,
		LibraryID:       "lib-1",
		Type:            "manga",
		Path:            "/library/" + id,
		Tags:            []string{"scan"},
		FirstMediaID:    id + "-m1",
		FirstMediaThumb: "thumbs/" + id + ".jpg",
		ImageCount:      10,
		ThumbnailCount:  8,
		CacheEntryCount: 5,
		TotalSizeBytes:  1 << 20,
		CreatedAt:       testBase.Add(-24 * time.Hour),
		UpdatedAt:       updated,
	}
}

// bareCollection 不带封面引用的集合，校验场景里隔离缩略图分类
func bareCollection(id, name string, updated time.Time) *domain.Collection {
	c := testCollection(id, name, updated)
	c.FirstMediaID = ""
	c.FirstMediaThumb = ""
	return c
}

func seedIndex(t *testing.T, w *IndexWriter, cols ...*domain.Collection) {
	t.Helper()
	for _, c := range cols {
		require.NoError(t, w.Upsert(context.Background(), c))
	}
}

// fakeSource 内存集合源，按ID有序分批扫描
type fakeSource struct {
	mu          sync.Mutex
	collections map[string]*domain.Collection

	// goneOnGet 扫描可见但GetByID返回不存在的ID，
	// 模拟扫描批次与单条读取之间的删除窗口
	goneOnGet map[string]bool

	// afterBatch 每个批次回调后调用，测试用来注入取消或阻塞
	afterBatch func()
}

func newFakeSource(cols ...*domain.Collection) *fakeSource {
	f := &fakeSource{
		collections: map[string]*domain.Collection{},
		goneOnGet:   map[string]bool{},
	}
	for _, c := range cols {
		f.collections[c.ID] = c
	}
	return f
}

func (f *fakeSource) put(c *domain.Collection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[c.ID] = c
}

func (f *fakeSource) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.collections, id)
}

func (f *fakeSource) sorted() []*domain.Collection {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.Collection, 0, len(f.collections))
	for _, c := range f.collections {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeSource) GetByID(ctx context.Context, id string) (*domain.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.collections[id]
	if !ok || f.goneOnGet[id] {
		return nil, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, id)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeSource) StreamAll(ctx context.Context, batchSize int, fn func(batch []*domain.Collection) error) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	all := f.sorted()
	for start := 0; start < len(all); start += batchSize {
		end := start + batchSize
		if end > len(all) {
			end = len(all)
		}
		if err := fn(all[start:end]); err != nil {
			return err
		}
		if f.afterBatch != nil {
			f.afterBatch()
		}
	}
	return nil
}

func (f *fakeSource) StreamMeta(ctx context.Context, batchSize int, fn func(batch []domain.CollectionMeta) error) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	all := f.sorted()
	for start := 0; start < len(all); start += batchSize {
		end := start + batchSize
		if end > len(all) {
			end = len(all)
		}
		batch := make([]domain.CollectionMeta, 0, end-start)
		for _, c := range all[start:end] {
			batch = append(batch, domain.CollectionMeta{ID: c.ID, UpdatedAt: c.UpdatedAt})
		}
		if err := fn(batch); err != nil {
			return err
		}
		if f.afterBatch != nil {
			f.afterBatch()
		}
	}
	return nil
}

func (f *fakeSource) Count(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.collections)), nil
}

// fakeThumbSource 内存缩略图源
type fakeThumbSource struct {
	mu      sync.Mutex
	objects map[string][]byte
	fetches int
}

func newFakeThumbSource() *fakeThumbSource {
	return &fakeThumbSource{objects: map[string][]byte{}}
}

func (f *fakeThumbSource) putObject(ref string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[ref] = data
}

func (f *fakeThumbSource) removeObject(ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, ref)
}

func (f *fakeThumbSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func (f *fakeThumbSource) FetchThumbnail(ctx context.Context, ref string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	data, ok := f.objects[ref]
	if !ok {
		return nil, fmt.Errorf("%w: object %s", domain.ErrThumbnailNotCached, ref)
	}
	return append([]byte(nil), data...), nil
}

// flakyStore 注入写入失败的存储装饰器
// failUpserts次写入返回可重试错误，failRemoves次删除返回非瞬态错误
type flakyStore struct {
	domain.IndexStore

	mu          sync.Mutex
	failUpserts int
	failRemoves int
	upsertCalls int
}

func (s *flakyStore) ApplyUpsert(ctx context.Context, plan *domain.IndexUpsert) error {
	s.mu.Lock()
	s.upsertCalls++
	fail := s.failUpserts > 0
	if fail {
		s.failUpserts--
	}
	s.mu.Unlock()

	if fail {
		return fmt.Errorf("%w: injected failure", domain.ErrStoreUnavailable)
	}
	return s.IndexStore.ApplyUpsert(ctx, plan)
}

func (s *flakyStore) ApplyRemove(ctx context.Context, plan *domain.IndexRemove) error {
	s.mu.Lock()
	fail := s.failRemoves > 0
	if fail {
		s.failRemoves--
	}
	s.mu.Unlock()

	if fail {
		return fmt.Errorf("remove rejected for %s", plan.ID)
	}
	return s.IndexStore.ApplyRemove(ctx, plan)
}

func (s *flakyStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertCalls
}
