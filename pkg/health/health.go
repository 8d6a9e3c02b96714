package health

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Status 健康状态
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Check 单项检查结果
type Check struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration"`
}

// Result 整体检查结果
type Result struct {
	Status Status  `json:"status"`
	Checks []Check `json:"checks"`
}

// Checker 健康检查器接口
type Checker interface {
	Name() string
	Check(ctx context.Context) Check
}

// Registry 健康检查注册表
type Registry struct {
	mu       sync.RWMutex
	checkers []Checker
}

// NewRegistry 创建健康检查注册表
func NewRegistry() *Registry {
	return &Registry{}
}

// Register 注册检查器
func (r *Registry) Register(c Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers = append(r.checkers, c)
}

// CheckAll 执行全部检查，任一失败则整体不健康
func (r *Registry) CheckAll(ctx context.Context) Result {
	r.mu.RLock()
	checkers := make([]Checker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	result := Result{Status: StatusHealthy, Checks: make([]Check, 0, len(checkers))}
	for _, c := range checkers {
		check := c.Check(ctx)
		result.Checks = append(result.Checks, check)
		if check.Status != StatusHealthy {
			result.Status = StatusUnhealthy
		}
	}
	return result
}

// RedisChecker Redis连通性检查
type RedisChecker struct {
	name   string
	client *redis.Client
}

func NewRedisChecker(name string, client *redis.Client) *RedisChecker {
	return &RedisChecker{name: name, client: client}
}

func (c *RedisChecker) Name() string { return c.name }

func (c *RedisChecker) Check(ctx context.Context) Check {
	start := time.Now()
	check := Check{Name: c.name, Status: StatusHealthy, LastChecked: start}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.client.Ping(ctx).Err(); err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	check.Duration = time.Since(start)
	return check
}

// DatabaseChecker 数据库连通性检查
type DatabaseChecker struct {
	name string
	db   *gorm.DB
}

func NewDatabaseChecker(name string, db *gorm.DB) *DatabaseChecker {
	return &DatabaseChecker{name: name, db: db}
}

func (c *DatabaseChecker) Name() string { return c.name }

func (c *DatabaseChecker) Check(ctx context.Context) Check {
	start := time.Now()
	check := Check{Name: c.name, Status: StatusHealthy, LastChecked: start}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	sqlDB, err := c.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	check.Duration = time.Since(start)
	return check
}
