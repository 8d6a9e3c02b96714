package data

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"mediavault/cmd/collection-index/internal/domain"
)

// MemoryIndexStore domain.IndexStore的进程内实现
//
// 与Redis实现遵守同一语义：按(score, member)排序、同分按member
// 字节序、写入计划在锁内整体生效。用于本地开发与测试。
type MemoryIndexStore struct {
	mu sync.RWMutex

	// zsets 键与Redis实现同构：<field>|<scope>
	zsets map[string]map[string]float64

	// summaries/states 存JSON字节，保证读写经过与Redis相同的序列化路径
	summaries map[string][]byte
	states    map[string][]byte
	thumbs    map[string][]byte
	dashboard []byte
}

var _ domain.IndexStore = (*MemoryIndexStore)(nil)

// NewMemoryIndexStore 创建内存索引存储
func NewMemoryIndexStore() *MemoryIndexStore {
	return &MemoryIndexStore{
		zsets:     map[string]map[string]float64{},
		summaries: map[string][]byte{},
		states:    map[string][]byte{},
		thumbs:    map[string][]byte{},
	}
}

func memZSetKey(field domain.SortField, scope domain.Scope) string {
	return string(field) + "|" + scope.Key()
}

// sortedMembers 升序物化一个有序集合：先按分值，同分按member字节序
func (s *MemoryIndexStore) sortedMembers(key string) []string {
	zset := s.zsets[key]
	members := make([]string, 0, len(zset))
	for m := range zset {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		si, sj := zset[members[i]], zset[members[j]]
		if si != sj {
			return si < sj
		}
		return members[i] < members[j]
	})
	return members
}

func (s *MemoryIndexStore) zadd(field domain.SortField, scope domain.Scope, member string, score float64) {
	key := memZSetKey(field, scope)
	zset, ok := s.zsets[key]
	if !ok {
		zset = map[string]float64{}
		s.zsets[key] = zset
	}
	zset[member] = score
}

func (s *MemoryIndexStore) zrem(field domain.SortField, scope domain.Scope, member string) {
	key := memZSetKey(field, scope)
	zset, ok := s.zsets[key]
	if !ok {
		return
	}
	delete(zset, member)
	if len(zset) == 0 {
		delete(s.zsets, key)
	}
}

// ApplyUpsert 在锁内整体执行写入计划
func (s *MemoryIndexStore) ApplyUpsert(ctx context.Context, plan *domain.IndexUpsert) error {
	summaryJSON, err := json.Marshal(plan.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary %s: %w", plan.Summary.ID, err)
	}
	stateJSON, err := json.Marshal(plan.State)
	if err != nil {
		return fmt.Errorf("marshal state %s: %w", plan.State.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range plan.Del {
		s.zrem(e.Field, e.Scope, e.Member)
	}
	for _, e := range plan.Add {
		s.zadd(e.Field, e.Scope, e.Member, e.Score)
	}
	s.summaries[plan.Summary.ID] = summaryJSON
	s.states[plan.State.ID] = stateJSON
	return nil
}

// ApplyRemove 在锁内整体执行删除计划
func (s *MemoryIndexStore) ApplyRemove(ctx context.Context, plan *domain.IndexRemove) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range plan.Del {
		s.zrem(e.Field, e.Scope, e.Member)
	}
	delete(s.summaries, plan.ID)
	delete(s.states, plan.ID)
	delete(s.thumbs, plan.ID)
	return nil
}

// RemoveMember 删除单个有序集合成员
func (s *MemoryIndexStore) RemoveMember(ctx context.Context, field domain.SortField, scope domain.Scope, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zrem(field, scope, member)
	return nil
}

// GetSummary 读取摘要
func (s *MemoryIndexStore) GetSummary(ctx context.Context, id string) (*domain.CollectionSummary, error) {
	s.mu.RLock()
	data, ok := s.summaries[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrCollectionNotIndexed, id)
	}
	var summary domain.CollectionSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("unmarshal summary %s: %w", id, err)
	}
	return &summary, nil
}

// GetSummaries 批量读取摘要
func (s *MemoryIndexStore) GetSummaries(ctx context.Context, ids []string) (map[string]*domain.CollectionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]*domain.CollectionSummary, len(ids))
	for _, id := range ids {
		data, ok := s.summaries[id]
		if !ok {
			continue
		}
		var summary domain.CollectionSummary
		if err := json.Unmarshal(data, &summary); err != nil {
			continue
		}
		result[id] = &summary
	}
	return result, nil
}

// GetState 读取索引状态，未索引返回(nil, nil)
func (s *MemoryIndexStore) GetState(ctx context.Context, id string) (*domain.CollectionIndexState, error) {
	s.mu.RLock()
	data, ok := s.states[id]
	s.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	var state domain.CollectionIndexState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state %s: %w", id, err)
	}
	return &state, nil
}

// GetStates 批量读取索引状态
func (s *MemoryIndexStore) GetStates(ctx context.Context, ids []string) (map[string]*domain.CollectionIndexState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]*domain.CollectionIndexState, len(ids))
	for _, id := range ids {
		data, ok := s.states[id]
		if !ok {
			continue
		}
		var state domain.CollectionIndexState
		if err := json.Unmarshal(data, &state); err != nil {
			continue
		}
		result[id] = &state
	}
	return result, nil
}

// Rank 成员位次
func (s *MemoryIndexStore) Rank(ctx context.Context, field domain.SortField, scope domain.Scope, member string, dir domain.Direction) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := memZSetKey(field, scope)
	if _, ok := s.zsets[key][member]; !ok {
		return 0, false, nil
	}

	members := s.sortedMembers(key)
	for i, m := range members {
		if m == member {
			if dir == domain.Descending {
				return int64(len(members) - 1 - i), true, nil
			}
			return int64(i), true, nil
		}
	}
	return 0, false, nil
}

// RangeByRank 位次区间成员
func (s *MemoryIndexStore) RangeByRank(ctx context.Context, field domain.SortField, scope domain.Scope, start, stop int64, dir domain.Direction) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := s.sortedMembers(memZSetKey(field, scope))
	if dir == domain.Descending {
		reversed := make([]string, len(members))
		for i, m := range members {
			reversed[len(members)-1-i] = m
		}
		members = reversed
	}

	n := int64(len(members))
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return []string{}, nil
	}
	out := make([]string, stop-start+1)
	copy(out, members[start:stop+1])
	return out, nil
}

// Card 范围内成员总数
func (s *MemoryIndexStore) Card(ctx context.Context, field domain.SortField, scope domain.Scope) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.zsets[memZSetKey(field, scope)])), nil
}

// Scores 批量读取成员分值
func (s *MemoryIndexStore) Scores(ctx context.Context, field domain.SortField, scope domain.Scope, members []string) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	zset := s.zsets[memZSetKey(field, scope)]
	result := make(map[string]float64, len(members))
	for _, m := range members {
		if score, ok := zset[m]; ok {
			result[m] = score
		}
	}
	return result, nil
}

// ListMembers 升序列出范围内全部成员
func (s *MemoryIndexStore) ListMembers(ctx context.Context, field domain.SortField, scope domain.Scope) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedMembers(memZSetKey(field, scope)), nil
}

// ListIndexedIDs 全部已索引集合ID
func (s *MemoryIndexStore) ListIndexedIDs(ctx context.Context) ([]string, error) {
	return s.ListMembers(ctx, domain.SortFieldUpdated, domain.GlobalScope())
}

// SetThumbnail 写入单个缩略图
func (s *MemoryIndexStore) SetThumbnail(ctx context.Context, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.thumbs[id] = buf
	return nil
}

// SetThumbnails 批量写入缩略图
func (s *MemoryIndexStore) SetThumbnails(ctx context.Context, thumbs map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, data := range thumbs {
		buf := make([]byte, len(data))
		copy(buf, data)
		s.thumbs[id] = buf
	}
	return nil
}

// GetThumbnail 读取缩略图
func (s *MemoryIndexStore) GetThumbnail(ctx context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.thumbs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrThumbnailNotCached, id)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// ExistsThumbnails 批量检查缩略图是否已缓存
func (s *MemoryIndexStore) ExistsThumbnails(ctx context.Context, ids []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]bool, len(ids))
	for _, id := range ids {
		_, ok := s.thumbs[id]
		result[id] = ok
	}
	return result, nil
}

// MarkThumbnailsCached 批量置位状态记录的缩略图标志
func (s *MemoryIndexStore) MarkThumbnailsCached(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		data, ok := s.states[id]
		if !ok {
			continue
		}
		var state domain.CollectionIndexState
		if err := json.Unmarshal(data, &state); err != nil {
			continue
		}
		state.HasThumbnail = true
		updated, err := json.Marshal(&state)
		if err != nil {
			return fmt.Errorf("marshal state %s: %w", id, err)
		}
		s.states[id] = updated
	}
	return nil
}

// GetDashboard 读取仪表盘快照
func (s *MemoryIndexStore) GetDashboard(ctx context.Context) (*domain.DashboardStatistics, error) {
	s.mu.RLock()
	data := s.dashboard
	s.mu.RUnlock()

	if data == nil {
		return nil, nil
	}
	var stats domain.DashboardStatistics
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("unmarshal dashboard: %w", err)
	}
	return &stats, nil
}

// SetDashboard 覆盖仪表盘快照
func (s *MemoryIndexStore) SetDashboard(ctx context.Context, stats *domain.DashboardStatistics) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal dashboard: %w", err)
	}
	s.mu.Lock()
	s.dashboard = data
	s.mu.Unlock()
	return nil
}

// Clear 清空全部键
func (s *MemoryIndexStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.zsets = map[string]map[string]float64{}
	s.summaries = map[string][]byte{}
	s.states = map[string][]byte{}
	s.thumbs = map[string][]byte{}
	s.dashboard = nil
	return nil
}

// Ping 探活
func (s *MemoryIndexStore) Ping(ctx context.Context) error {
	return nil
}
