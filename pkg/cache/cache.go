package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Cache 缓存接口
type Cache interface {
	// Get 获取缓存值
	Get(ctx context.Context, key string) (string, error)

	// Set 设置缓存值
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete 删除缓存
	Delete(ctx context.Context, keys ...string) error

	// Exists 检查键是否存在
	Exists(ctx context.Context, key string) (bool, error)

	// GetBytes 获取字节数组
	GetBytes(ctx context.Context, key string) ([]byte, error)

	// SetBytes 设置字节数组
	SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// MGetBytes 批量获取字节数组，未命中的键对应nil
	MGetBytes(ctx context.Context, keys []string) (map[string][]byte, error)

	// MSetBytes 批量设置字节数组（单次管道往返）
	MSetBytes(ctx context.Context, values map[string][]byte, ttl time.Duration) error

	// ExistsMany 批量检查键是否存在
	ExistsMany(ctx context.Context, keys []string) (map[string]bool, error)

	// GetObject 获取并反序列化对象
	GetObject(ctx context.Context, key string, target interface{}) error

	// SetObject 序列化并设置对象
	SetObject(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Expire 设置过期时间
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL 获取剩余过期时间
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// ErrCacheMiss 键不存在
var ErrCacheMiss = errCacheMiss{}

type errCacheMiss struct{}

func (errCacheMiss) Error() string { return "cache: key not found" }

// CacheOptions 缓存选项
type CacheOptions struct {
	// 默认过期时间
	DefaultTTL time.Duration

	// 键前缀
	KeyPrefix string

	// 序列化方式
	Serializer Serializer
}

// Serializer 序列化器接口
type Serializer interface {
	Serialize(v interface{}) ([]byte, error)
	Deserialize(data []byte, v interface{}) error
}

// JSONSerializer JSON序列化器
type JSONSerializer struct{}

func (JSONSerializer) Serialize(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONSerializer) Deserialize(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
