// Package retry provides exponential backoff for re-running failed actions.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Policy 定义重试策略配置
type Policy struct {
	MaxRetries   int           `yaml:"max_retries" env:"MAX_RETRIES"`     // 最大重试次数（0 表示不重试）
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"` // 初始延迟时间
	MaxDelay     time.Duration `yaml:"max_delay" env:"MAX_DELAY"`         // 最大延迟时间
	Multiplier   float64       `yaml:"multiplier" env:"MULTIPLIER"`       // 延迟倍增因子（指数退避）
	Jitter       bool          `yaml:"jitter" env:"JITTER"`               // 是否添加 ±25% 随机抖动
}

// DefaultPolicy 返回默认策略：不自动重试，但 Delay 仍可用于手动重试
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   0,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// normalized 修正非法参数
func (p Policy) normalized() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 200 * time.Millisecond
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	return p
}

// Delay 计算第 attempt 次重试（从 1 开始）前的等待时间
// delay = initial * multiplier^(attempt-1)，上限 MaxDelay
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		return 0
	}

	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}

	if delay < float64(p.InitialDelay) {
		delay = float64(p.InitialDelay)
	}
	return time.Duration(delay)
}

// Wait 阻塞直到第 attempt 次重试的延迟结束，或 ctx 被取消
func (p Policy) Wait(ctx context.Context, attempt int) error {
	d := p.Delay(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// permanentError 标记不应重试的错误
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 包装 err，使 Do 立即停止重试
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent 判断 err 是否被 Permanent 包装
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Do 执行 fn，失败时按策略重试。fn 收到当前尝试序号（0 为首次执行）。
// 返回最后一次错误以及已发生的重试次数。
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) (int, error) {
	p = p.normalized()

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := p.Wait(ctx, attempt); err != nil {
				return attempt - 1, lastErr
			}
		}
		lastErr = fn(attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if IsPermanent(lastErr) {
			return attempt, lastErr
		}
	}
	return p.MaxRetries, lastErr
}
