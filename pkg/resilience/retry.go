package resilience

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy 重试策略
type RetryPolicy struct {
	// MaxAttempts 最大尝试次数（含首次）
	MaxAttempts int

	// InitialInterval 初始重试间隔
	InitialInterval time.Duration

	// MaxInterval 最大重试间隔
	MaxInterval time.Duration

	// Multiplier 间隔倍增系数
	Multiplier float64

	// Retryable 判断错误是否可重试，nil表示全部可重试
	Retryable func(error) bool
}

// DefaultRetryPolicy 默认重试策略
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2.0,
	}
}

// Retry 按策略重试执行fn，遇到不可重试错误或上下文取消立即返回
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	interval := policy.InitialInterval

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if policy.Retryable != nil && !policy.Retryable(lastErr) {
			return lastErr
		}
		if attempt == policy.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		interval = time.Duration(float64(interval) * policy.Multiplier)
		if policy.MaxInterval > 0 && interval > policy.MaxInterval {
			interval = policy.MaxInterval
		}
	}

	return fmt.Errorf("retry exhausted after %d attempts: %w", policy.MaxAttempts, lastErr)
}
