package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"

	"mediavault/cmd/collection-index/internal/domain"
	"mediavault/pkg/cache"
)

const (
	defaultThumbnailTTL = 24 * time.Hour
	clearScanCount      = 500
	clearDeleteBatch    = 500
)

// RedisIndexStore domain.IndexStore的Redis实现
//
// 摘要与状态是JSON字符串键，排序索引是有序集合，
// 缩略图和仪表盘走带TTL的缓存键。多键写入通过
// MULTI/EXEC管道原子生效。
type RedisIndexStore struct {
	client *redis.Client
	thumbs cache.Cache
	kv     cache.Cache
	log    *log.Helper
}

// RedisIndexOptions 存储选项
type RedisIndexOptions struct {
	// ThumbnailTTL 缩略图键过期时间
	ThumbnailTTL time.Duration
}

var _ domain.IndexStore = (*RedisIndexStore)(nil)

// NewRedisIndexStore 创建Redis索引存储
func NewRedisIndexStore(client *redis.Client, opts RedisIndexOptions, logger log.Logger) *RedisIndexStore {
	thumbTTL := opts.ThumbnailTTL
	if thumbTTL <= 0 {
		thumbTTL = defaultThumbnailTTL
	}

	return &RedisIndexStore{
		client: client,
		thumbs: cache.NewRedisCache(client, cache.CacheOptions{
			KeyPrefix:  thumbKeyPrefix,
			DefaultTTL: thumbTTL,
		}),
		kv: cache.NewRedisCache(client, cache.CacheOptions{
			KeyPrefix:  keyPrefix,
			DefaultTTL: 24 * time.Hour,
		}),
		log: log.NewHelper(log.With(logger, "module", "data/redis-index")),
	}
}

// storeErr 把存储层错误归入可重试类别，上下文取消原样透传
func storeErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, op, err)
}

// ApplyUpsert 原子执行投影写入：先删陈旧项，再写新项、摘要与状态
func (s *RedisIndexStore) ApplyUpsert(ctx context.Context, plan *domain.IndexUpsert) error {
	summaryJSON, err := json.Marshal(plan.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary %s: %w", plan.Summary.ID, err)
	}
	stateJSON, err := json.Marshal(plan.State)
	if err != nil {
		return fmt.Errorf("marshal state %s: %w", plan.State.ID, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range plan.Del {
			pipe.ZRem(ctx, zsetKey(e.Field, e.Scope), e.Member)
		}
		for _, e := range plan.Add {
			pipe.ZAdd(ctx, zsetKey(e.Field, e.Scope), redis.Z{Score: e.Score, Member: e.Member})
		}
		pipe.Set(ctx, summaryKey(plan.Summary.ID), summaryJSON, 0)
		pipe.Set(ctx, stateKey(plan.State.ID), stateJSON, 0)
		return nil
	})
	if err != nil {
		return storeErr("upsert "+plan.Summary.ID, err)
	}
	return nil
}

// ApplyRemove 原子执行删除：索引项、摘要、状态、缩略图一并删除
func (s *RedisIndexStore) ApplyRemove(ctx context.Context, plan *domain.IndexRemove) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range plan.Del {
			pipe.ZRem(ctx, zsetKey(e.Field, e.Scope), e.Member)
		}
		pipe.Del(ctx, summaryKey(plan.ID), stateKey(plan.ID), thumbKey(plan.ID))
		return nil
	})
	if err != nil {
		return storeErr("remove "+plan.ID, err)
	}
	return nil
}

// RemoveMember 删除单个有序集合成员
func (s *RedisIndexStore) RemoveMember(ctx context.Context, field domain.SortField, scope domain.Scope, member string) error {
	if err := s.client.ZRem(ctx, zsetKey(field, scope), member).Err(); err != nil {
		return storeErr("zrem", err)
	}
	return nil
}

// GetSummary 读取摘要
func (s *RedisIndexStore) GetSummary(ctx context.Context, id string) (*domain.CollectionSummary, error) {
	data, err := s.client.Get(ctx, summaryKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", domain.ErrCollectionNotIndexed, id)
	}
	if err != nil {
		return nil, storeErr("get summary", err)
	}

	var summary domain.CollectionSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("unmarshal summary %s: %w", id, err)
	}
	return &summary, nil
}

// GetSummaries 批量读取摘要，单次MGET往返
func (s *RedisIndexStore) GetSummaries(ctx context.Context, ids []string) (map[string]*domain.CollectionSummary, error) {
	if len(ids) == 0 {
		return map[string]*domain.CollectionSummary{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = summaryKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, storeErr("mget summaries", err)
	}

	result := make(map[string]*domain.CollectionSummary, len(ids))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var summary domain.CollectionSummary
		if err := json.Unmarshal([]byte(raw), &summary); err != nil {
			s.log.WithContext(ctx).Warnf("skip corrupt summary %s: %v", ids[i], err)
			continue
		}
		result[ids[i]] = &summary
	}
	return result, nil
}

// GetState 读取索引状态，未索引返回(nil, nil)
func (s *RedisIndexStore) GetState(ctx context.Context, id string) (*domain.CollectionIndexState, error) {
	data, err := s.client.Get(ctx, stateKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get state", err)
	}

	var state domain.CollectionIndexState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state %s: %w", id, err)
	}
	return &state, nil
}

// GetStates 批量读取索引状态
func (s *RedisIndexStore) GetStates(ctx context.Context, ids []string) (map[string]*domain.CollectionIndexState, error) {
	if len(ids) == 0 {
		return map[string]*domain.CollectionIndexState{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = stateKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, storeErr("mget states", err)
	}

	result := make(map[string]*domain.CollectionIndexState, len(ids))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var state domain.CollectionIndexState
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			s.log.WithContext(ctx).Warnf("skip corrupt state %s: %v", ids[i], err)
			continue
		}
		result[ids[i]] = &state
	}
	return result, nil
}

// Rank 成员位次，O(log N)
func (s *RedisIndexStore) Rank(ctx context.Context, field domain.SortField, scope domain.Scope, member string, dir domain.Direction) (int64, bool, error) {
	key := zsetKey(field, scope)

	var cmd *redis.IntCmd
	if dir == domain.Descending {
		cmd = s.client.ZRevRank(ctx, key, member)
	} else {
		cmd = s.client.ZRank(ctx, key, member)
	}

	rank, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storeErr("zrank", err)
	}
	return rank, true, nil
}

// RangeByRank 位次区间成员，O(log N + M)
func (s *RedisIndexStore) RangeByRank(ctx context.Context, field domain.SortField, scope domain.Scope, start, stop int64, dir domain.Direction) ([]string, error) {
	key := zsetKey(field, scope)

	var cmd *redis.StringSliceCmd
	if dir == domain.Descending {
		cmd = s.client.ZRevRange(ctx, key, start, stop)
	} else {
		cmd = s.client.ZRange(ctx, key, start, stop)
	}

	members, err := cmd.Result()
	if err != nil {
		return nil, storeErr("zrange", err)
	}
	return members, nil
}

// Card 范围内成员总数，O(1)
func (s *RedisIndexStore) Card(ctx context.Context, field domain.SortField, scope domain.Scope) (int64, error) {
	n, err := s.client.ZCard(ctx, zsetKey(field, scope)).Result()
	if err != nil {
		return 0, storeErr("zcard", err)
	}
	return n, nil
}

// Scores 批量读取成员分值
// 逐成员ZSCORE管道化执行：ZMSCORE无法区分缺失成员与0分
func (s *RedisIndexStore) Scores(ctx context.Context, field domain.SortField, scope domain.Scope, members []string) (map[string]float64, error) {
	if len(members) == 0 {
		return map[string]float64{}, nil
	}

	key := zsetKey(field, scope)
	pipe := s.client.Pipeline()
	cmds := make([]*redis.FloatCmd, len(members))
	for i, m := range members {
		cmds[i] = pipe.ZScore(ctx, key, m)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, storeErr("pipeline zscore", err)
	}

	result := make(map[string]float64, len(members))
	for i, cmd := range cmds {
		score, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, storeErr("zscore", err)
		}
		result[members[i]] = score
	}
	return result, nil
}

// ListMembers 升序列出范围内全部成员
func (s *RedisIndexStore) ListMembers(ctx context.Context, field domain.SortField, scope domain.Scope) ([]string, error) {
	members, err := s.client.ZRange(ctx, zsetKey(field, scope), 0, -1).Result()
	if err != nil {
		return nil, storeErr("zrange all", err)
	}
	return members, nil
}

// ListIndexedIDs 全部已索引集合ID，以全局updated集合为权威成员表
func (s *RedisIndexStore) ListIndexedIDs(ctx context.Context) ([]string, error) {
	return s.ListMembers(ctx, domain.SortFieldUpdated, domain.GlobalScope())
}

// SetThumbnail 写入单个缩略图
func (s *RedisIndexStore) SetThumbnail(ctx context.Context, id string, data []byte) error {
	if err := s.thumbs.SetBytes(ctx, id, data, 0); err != nil {
		return storeErr("set thumbnail", err)
	}
	return nil
}

// SetThumbnails 批量写入缩略图，单次管道往返
func (s *RedisIndexStore) SetThumbnails(ctx context.Context, thumbs map[string][]byte) error {
	if err := s.thumbs.MSetBytes(ctx, thumbs, 0); err != nil {
		return storeErr("mset thumbnails", err)
	}
	return nil
}

// GetThumbnail 读取缩略图
func (s *RedisIndexStore) GetThumbnail(ctx context.Context, id string) ([]byte, error) {
	data, err := s.thumbs.GetBytes(ctx, id)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, fmt.Errorf("%w: %s", domain.ErrThumbnailNotCached, id)
	}
	if err != nil {
		return nil, storeErr("get thumbnail", err)
	}
	return data, nil
}

// ExistsThumbnails 批量检查缩略图是否已缓存
func (s *RedisIndexStore) ExistsThumbnails(ctx context.Context, ids []string) (map[string]bool, error) {
	result, err := s.thumbs.ExistsMany(ctx, ids)
	if err != nil {
		return nil, storeErr("exists thumbnails", err)
	}
	return result, nil
}

// MarkThumbnailsCached 批量置位状态记录的缩略图标志
// 读改写非原子：并发的投影写入可能覆盖标志，校验器会兜底纠正
func (s *RedisIndexStore) MarkThumbnailsCached(ctx context.Context, ids []string) error {
	states, err := s.GetStates(ctx, ids)
	if err != nil {
		return err
	}
	if len(states) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for id, state := range states {
		state.HasThumbnail = true
		data, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("marshal state %s: %w", id, err)
		}
		pipe.Set(ctx, stateKey(id), data, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("mark thumbnails cached", err)
	}
	return nil
}

// GetDashboard 读取仪表盘快照，未缓存返回(nil, nil)
func (s *RedisIndexStore) GetDashboard(ctx context.Context) (*domain.DashboardStatistics, error) {
	var stats domain.DashboardStatistics
	err := s.kv.GetObject(ctx, "dashboard", &stats)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get dashboard", err)
	}
	return &stats, nil
}

// SetDashboard 覆盖仪表盘快照
func (s *RedisIndexStore) SetDashboard(ctx context.Context, stats *domain.DashboardStatistics) error {
	if err := s.kv.SetObject(ctx, "dashboard", stats, 0); err != nil {
		return storeErr("set dashboard", err)
	}
	return nil
}

// Clear 扫描删除本子系统拥有的全部键
func (s *RedisIndexStore) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, clearPattern, clearScanCount).Iterator()

	batch := make([]string, 0, clearDeleteBatch)
	deleted := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return storeErr("clear del", err)
		}
		deleted += len(batch)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= clearDeleteBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return storeErr("clear scan", err)
	}
	if err := flush(); err != nil {
		return err
	}

	s.log.WithContext(ctx).Infof("cleared %d index keys", deleted)
	return nil
}

// Ping 探活
func (s *RedisIndexStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return storeErr("ping", err)
	}
	return nil
}
