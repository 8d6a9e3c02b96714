package biz

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"mediavault/cmd/collection-index/internal/domain"
	"mediavault/pkg/monitoring"
)

// IndexReader 索引查询器
//
// 全部读操作只接触索引存储，从不回源文档库。
// 位次查询O(log N)，区间查询O(log N + M)，计数O(1)。
type IndexReader struct {
	store domain.IndexStore
	log   *log.Helper
}

// NewIndexReader 创建索引查询器
func NewIndexReader(store domain.IndexStore, logger log.Logger) *IndexReader {
	return &IndexReader{
		store: store,
		log:   log.NewHelper(log.With(logger, "module", "biz/reader")),
	}
}

// memberFor 集合在某字段有序集合中的member
// 名称字段的member带折叠名称前缀，需查状态记录
func (r *IndexReader) memberFor(ctx context.Context, field domain.SortField, id string) (string, bool, error) {
	if field != domain.SortFieldName {
		return id, true, nil
	}
	state, err := r.store.GetState(ctx, id)
	if err != nil {
		return "", false, err
	}
	if state == nil {
		return "", false, nil
	}
	return state.NameMember, true, nil
}

// GetNavigation 集合在全局排序下的位置与前后邻居
// 未索引的集合返回Found=false，不是错误
func (r *IndexReader) GetNavigation(ctx context.Context, id string, field domain.SortField, dir domain.Direction) (*domain.Navigation, error) {
	start := time.Now()
	nav, err := r.navigation(ctx, id, field, dir)
	monitoring.ObserveQuery("navigation", start, err)
	return nav, err
}

func (r *IndexReader) navigation(ctx context.Context, id string, field domain.SortField, dir domain.Direction) (*domain.Navigation, error) {
	member, ok, err := r.memberFor(ctx, field, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &domain.Navigation{Found: false}, nil
	}

	scope := domain.GlobalScope()
	rank, found, err := r.store.Rank(ctx, field, scope, member, dir)
	if err != nil {
		return nil, err
	}
	if !found {
		return &domain.Navigation{Found: false}, nil
	}

	total, err := r.store.Card(ctx, field, scope)
	if err != nil {
		return nil, err
	}

	// 取[rank-1, rank+1]窗口，一次区间查询拿到两侧邻居
	winStart := rank - 1
	if winStart < 0 {
		winStart = 0
	}
	window, err := r.store.RangeByRank(ctx, field, scope, winStart, rank+1, dir)
	if err != nil {
		return nil, err
	}

	nav := &domain.Navigation{Found: true, Rank: rank + 1, Total: total}
	idx := int(rank - winStart)
	if idx-1 >= 0 && idx-1 < len(window) {
		nav.PreviousID = domain.MemberID(field, window[idx-1])
	}
	if idx+1 < len(window) {
		nav.NextID = domain.MemberID(field, window[idx+1])
	}
	return nav, nil
}

// GetPage 全局范围的一页摘要
func (r *IndexReader) GetPage(ctx context.Context, page, pageSize int, field domain.SortField, dir domain.Direction) (*domain.PageResult, error) {
	start := time.Now()
	result, err := r.pageForScope(ctx, domain.GlobalScope(), page, pageSize, field, dir)
	monitoring.ObserveQuery("page", start, err)
	return result, err
}

// GetLibraryPage 单个媒体库范围的一页摘要
func (r *IndexReader) GetLibraryPage(ctx context.Context, libraryID string, page, pageSize int, field domain.SortField, dir domain.Direction) (*domain.PageResult, error) {
	start := time.Now()
	result, err := r.pageForScope(ctx, domain.LibraryScope(libraryID), page, pageSize, field, dir)
	monitoring.ObserveQuery("library_page", start, err)
	return result, err
}

// GetTypePage 单个集合类型范围的一页摘要
func (r *IndexReader) GetTypePage(ctx context.Context, collectionType string, page, pageSize int, field domain.SortField, dir domain.Direction) (*domain.PageResult, error) {
	start := time.Now()
	result, err := r.pageForScope(ctx, domain.TypeScope(collectionType), page, pageSize, field, dir)
	monitoring.ObserveQuery("type_page", start, err)
	return result, err
}

func (r *IndexReader) pageForScope(ctx context.Context, scope domain.Scope, page, pageSize int, field domain.SortField, dir domain.Direction) (*domain.PageResult, error) {
	page, pageSize = domain.NormalizePage(page, pageSize)

	total, err := r.store.Card(ctx, field, scope)
	if err != nil {
		return nil, err
	}

	result := &domain.PageResult{
		Items:      []*domain.CollectionSummary{},
		Page:       page,
		PageSize:   pageSize,
		TotalItems: total,
		TotalPages: domain.TotalPages(total, pageSize),
	}
	if total == 0 {
		return result, nil
	}

	first := int64(page-1) * int64(pageSize)
	last := first + int64(pageSize) - 1
	members, err := r.store.RangeByRank(ctx, field, scope, first, last, dir)
	if err != nil {
		return nil, err
	}

	items, err := r.summariesInOrder(ctx, field, members)
	if err != nil {
		return nil, err
	}
	result.Items = items
	return result, nil
}

// summariesInOrder 按member顺序取摘要，缺失的跳过（重建窗口内短暂出现）
func (r *IndexReader) summariesInOrder(ctx context.Context, field domain.SortField, members []string) ([]*domain.CollectionSummary, error) {
	if len(members) == 0 {
		return []*domain.CollectionSummary{}, nil
	}

	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = domain.MemberID(field, m)
	}
	summaries, err := r.store.GetSummaries(ctx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]*domain.CollectionSummary, 0, len(ids))
	for _, id := range ids {
		if s, ok := summaries[id]; ok {
			items = append(items, s)
		}
	}
	return items, nil
}

// GetSiblings 以集合为锚点的邻域页
// page<=0时取锚点所在页
func (r *IndexReader) GetSiblings(ctx context.Context, id string, page, pageSize int, field domain.SortField, dir domain.Direction) (*domain.SiblingsPage, error) {
	start := time.Now()
	result, err := r.siblings(ctx, id, page, pageSize, field, dir)
	monitoring.ObserveQuery("siblings", start, err)
	return result, err
}

func (r *IndexReader) siblings(ctx context.Context, id string, page, pageSize int, field domain.SortField, dir domain.Direction) (*domain.SiblingsPage, error) {
	_, pageSize = domain.NormalizePage(1, pageSize)

	member, ok, err := r.memberFor(ctx, field, id)
	if err != nil {
		return nil, err
	}

	var rank int64
	found := false
	if ok {
		rank, found, err = r.store.Rank(ctx, field, domain.GlobalScope(), member, dir)
		if err != nil {
			return nil, err
		}
	}
	if !found {
		return &domain.SiblingsPage{
			PageResult:  domain.PageResult{Items: []*domain.CollectionSummary{}, Page: 1, PageSize: pageSize},
			Found:       false,
			CenterIndex: -1,
		}, nil
	}

	if page <= 0 {
		page = int(rank/int64(pageSize)) + 1
	}
	pageResult, err := r.pageForScope(ctx, domain.GlobalScope(), page, pageSize, field, dir)
	if err != nil {
		return nil, err
	}

	result := &domain.SiblingsPage{
		PageResult:  *pageResult,
		Found:       true,
		Rank:        rank + 1,
		CenterIndex: -1,
	}
	for i, item := range pageResult.Items {
		if item.ID == id {
			result.CenterIndex = i
			break
		}
	}
	return result, nil
}

// Search 名称子串搜索
// 先对完整匹配集排序再分页：即便命中很多页，翻到任何一页
// 看到的都是同一份有序结果
func (r *IndexReader) Search(ctx context.Context, query string, page, pageSize int, field domain.SortField, dir domain.Direction) (*domain.PageResult, error) {
	start := time.Now()
	result, err := r.search(ctx, query, page, pageSize, field, dir)
	monitoring.ObserveQuery("search", start, err)
	return result, err
}

func (r *IndexReader) search(ctx context.Context, query string, page, pageSize int, field domain.SortField, dir domain.Direction) (*domain.PageResult, error) {
	page, pageSize = domain.NormalizePage(page, pageSize)
	folded := domain.FoldName(query)

	// 名称集合的member自带折叠名称，全量过滤无需取摘要
	members, err := r.store.ListMembers(ctx, domain.SortFieldName, domain.GlobalScope())
	if err != nil {
		return nil, err
	}

	matched := make([]string, 0, len(members))
	for _, m := range members {
		id, ok := domain.IDFromNameMember(m)
		if !ok {
			continue
		}
		if folded == "" || strings.Contains(m[:len(m)-len(id)-1], folded) {
			matched = append(matched, id)
		}
	}

	ids, err := r.orderSearchResults(ctx, matched, field, dir)
	if err != nil {
		return nil, err
	}

	result := &domain.PageResult{
		Items:      []*domain.CollectionSummary{},
		Page:       page,
		PageSize:   pageSize,
		TotalItems: int64(len(ids)),
		TotalPages: domain.TotalPages(int64(len(ids)), pageSize),
	}

	first := (page - 1) * pageSize
	if first >= len(ids) {
		return result, nil
	}
	last := first + pageSize
	if last > len(ids) {
		last = len(ids)
	}

	pageIDs := ids[first:last]
	summaries, err := r.store.GetSummaries(ctx, pageIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range pageIDs {
		if s, ok := summaries[id]; ok {
			result.Items = append(result.Items, s)
		}
	}
	return result, nil
}

// orderSearchResults 把匹配集按请求的字段与方向排好
// 名称匹配集本身就是名称升序；数值字段批量取分值内存排序
func (r *IndexReader) orderSearchResults(ctx context.Context, matched []string, field domain.SortField, dir domain.Direction) ([]string, error) {
	if field == domain.SortFieldName {
		if dir == domain.Descending {
			reversed := make([]string, len(matched))
			for i, id := range matched {
				reversed[len(matched)-1-i] = id
			}
			return reversed, nil
		}
		return matched, nil
	}

	scores, err := r.store.Scores(ctx, field, domain.GlobalScope(), matched)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(matched))
	for _, id := range matched {
		if _, ok := scores[id]; ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		si, sj := scores[ids[i]], scores[ids[j]]
		if si != sj {
			return si < sj
		}
		return ids[i] < ids[j]
	})
	if dir == domain.Descending {
		for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
			ids[i], ids[j] = ids[j], ids[i]
		}
	}
	return ids, nil
}

// Count 全局已索引集合数，O(1)
func (r *IndexReader) Count(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := r.store.Card(ctx, domain.SortFieldUpdated, domain.GlobalScope())
	monitoring.ObserveQuery("count", start, err)
	return n, err
}

// CountByLibrary 媒体库内集合数，O(1)
func (r *IndexReader) CountByLibrary(ctx context.Context, libraryID string) (int64, error) {
	start := time.Now()
	n, err := r.store.Card(ctx, domain.SortFieldUpdated, domain.LibraryScope(libraryID))
	monitoring.ObserveQuery("count_library", start, err)
	return n, err
}

// CountByType 类型内集合数，O(1)
func (r *IndexReader) CountByType(ctx context.Context, collectionType string) (int64, error) {
	start := time.Now()
	n, err := r.store.Card(ctx, domain.SortFieldUpdated, domain.TypeScope(collectionType))
	monitoring.ObserveQuery("count_type", start, err)
	return n, err
}

// GetSummary 单个集合的摘要
func (r *IndexReader) GetSummary(ctx context.Context, id string) (*domain.CollectionSummary, error) {
	start := time.Now()
	s, err := r.store.GetSummary(ctx, id)
	monitoring.ObserveQuery("summary", start, err)
	return s, err
}
