// Package retry 提供带退避与抖动的重试（ask-with-retry）
//
// 每次尝试带有独立的超时（AskTimeout），失败后按固定或指数退避等待，
// 等待时间再乘以 [1-Jitter, 1+Jitter] 内的随机因子，避免多个节点同时重试。
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/valyala/fastrand"

	"github.com/dep2p/go-topicreg/pkg/types"
)

var (
	// ErrAttemptsExhausted 尝试次数用尽
	ErrAttemptsExhausted = errors.New("retry: attempts exhausted")

	// ErrInvalidConfig 无效的重试配置
	ErrInvalidConfig = errors.New("retry: invalid config")
)

// Config 重试配置
type Config struct {
	// Attempts 最大尝试次数（含首次）
	Attempts int

	// Backoff 退避策略
	Backoff types.BackoffKind

	// MinDelay 首次重试前的延迟
	MinDelay time.Duration

	// MaxDelay 延迟上限（指数退避）
	MaxDelay time.Duration

	// Jitter 抖动因子，取值 [0, 1]
	Jitter float64

	// AskTimeout 单次尝试超时（0 表示不限制）
	AskTimeout time.Duration
}

// DefaultConfig 返回默认重试配置
func DefaultConfig() Config {
	return Config{
		Attempts:   5,
		Backoff:    types.BackoffExponential,
		MinDelay:   200 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Jitter:     0.2,
		AskTimeout: 5 * time.Second,
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.Attempts <= 0 {
		return fmt.Errorf("%w: attempts must be positive", ErrInvalidConfig)
	}
	if c.MinDelay < 0 || c.MaxDelay < c.MinDelay {
		return fmt.Errorf("%w: delays must satisfy 0 <= min <= max", ErrInvalidConfig)
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		return fmt.Errorf("%w: jitter must be in [0, 1]", ErrInvalidConfig)
	}
	if c.AskTimeout < 0 {
		return fmt.Errorf("%w: ask timeout must not be negative", ErrInvalidConfig)
	}
	return nil
}

// BaseDelay 返回第 attempt 次失败后的无抖动延迟（attempt 从 1 开始）
func (c Config) BaseDelay(attempt int) time.Duration {
	if attempt <= 0 || c.MinDelay <= 0 {
		return c.MinDelay
	}
	if c.Backoff == types.BackoffFixed {
		return c.MinDelay
	}

	backoff := float64(c.MinDelay) * math.Pow(2, float64(attempt-1))
	if backoff > float64(c.MaxDelay) {
		backoff = float64(c.MaxDelay)
	}
	return time.Duration(backoff)
}

// Delay 返回第 attempt 次失败后的延迟（含抖动）
func (c Config) Delay(attempt int) time.Duration {
	base := c.BaseDelay(attempt)
	if c.Jitter <= 0 || base <= 0 {
		return base
	}
	// r ∈ [-1, 1)
	r := float64(fastrand.Uint32n(1<<24))/float64(1<<23) - 1
	return time.Duration(float64(base) * (1 + c.Jitter*r))
}

// permanentError 不再重试的错误
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent 包装错误，Do 遇到后立即返回而不再重试
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do 执行 fn，失败时按配置重试
//
// ctx 取消时立即返回 ctx.Err()；尝试用尽时返回包装了最后一次错误的 ErrAttemptsExhausted。
func Do(ctx context.Context, cfg Config, clk clock.Clock, fn func(ctx context.Context) error) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if clk == nil {
		clk = clock.New()
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = ask(ctx, cfg, clk, fn)
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}
		if attempt == cfg.Attempts {
			break
		}

		logger.Debug("尝试失败，等待重试",
			"attempt", attempt,
			"of", cfg.Attempts,
			"err", lastErr)

		timer := clk.Timer(cfg.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, cfg.Attempts, lastErr)
}

// ask 执行单次尝试
func ask(ctx context.Context, cfg Config, clk clock.Clock, fn func(ctx context.Context) error) error {
	if cfg.AskTimeout <= 0 {
		return fn(ctx)
	}
	askCtx, cancel := clk.WithTimeout(ctx, cfg.AskTimeout)
	defer cancel()
	return fn(askCtx)
}
