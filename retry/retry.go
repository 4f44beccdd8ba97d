// Package retry 指数退避重试
package retry

import (
	"context"
	"math"
	"time"
)

// Operation 可重试的操作，attempt 从 1 开始
type Operation func(ctx context.Context, attempt int) error

// Config 重试配置
type Config struct {
	MaxAttempts   int           `yaml:"max_attempts"`   // 最大尝试次数（包括首次），<=0 视为 1
	InitialDelay  time.Duration `yaml:"initial_delay"`  // 初始退避延迟
	BackoffFactor float64       `yaml:"backoff_factor"` // 退避倍数，<1 时按 1 处理
	MaxDelay      time.Duration `yaml:"max_delay"`      // 最大延迟，0 表示不限制
}

// DefaultConfig 1 次初始 + 2 次重试，10ms 起步，翻倍，最多 500ms
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		InitialDelay:  10 * time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      500 * time.Millisecond,
	}
}

// Delay 第 attempt 次失败后的等待时间
func (c Config) Delay(attempt int) time.Duration {
	factor := c.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	d := time.Duration(float64(c.InitialDelay) * math.Pow(factor, float64(attempt-1)))
	if c.MaxDelay > 0 && d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}

// Do 执行 op 直到成功、次数用尽或 ctx 取消，返回最后一次的错误
func Do(ctx context.Context, cfg Config, op Operation) error {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		timer := time.NewTimer(cfg.Delay(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return lastErr
}
