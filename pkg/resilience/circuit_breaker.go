package resilience

import (
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/sony/gobreaker"
)

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	// MaxRequests 半开状态下允许的探测请求数
	MaxRequests uint32 `mapstructure:"max_requests"`

	// Interval 闭合状态下计数窗口
	Interval time.Duration `mapstructure:"interval"`

	// Timeout 断开后进入半开的等待时间
	Timeout time.Duration `mapstructure:"timeout"`

	// MinRequests 触发熔断判断的最小请求数
	MinRequests uint32 `mapstructure:"min_requests"`

	// FailureRatio 触发熔断的失败率阈值
	FailureRatio float64 `mapstructure:"failure_ratio"`
}

func (c *BreakerConfig) setDefaults() {
	if c.MaxRequests == 0 {
		c.MaxRequests = 3
	}
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MinRequests == 0 {
		c.MinRequests = 5
	}
	if c.FailureRatio <= 0 || c.FailureRatio > 1 {
		c.FailureRatio = 0.6
	}
}

// NewBreaker 创建熔断器，状态变化记录日志
func NewBreaker(name string, cfg BreakerConfig, logger log.Logger) *gobreaker.CircuitBreaker {
	cfg.setDefaults()
	helper := log.NewHelper(log.With(logger, "module", "circuit-breaker"))

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			helper.Warnf("circuit breaker %s state changed: %s -> %s", name, from, to)
		},
	})
}
