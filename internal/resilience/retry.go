package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	log "github.com/nghyane/copilot-gateway/internal/logging"
)

type RetryConfig struct {
	Name        string
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	JitterDelay time.Duration
	// RetryIf limits which errors are retried; nil retries every error.
	RetryIf func(err error) bool
}

var DefaultRetryConfig = RetryConfig{
	MaxRetries:  3,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    10 * time.Second,
	JitterDelay: 250 * time.Millisecond,
}

func NewRetryPolicy[R any](cfg RetryConfig) retrypolicy.RetryPolicy[R] {
	builder := retrypolicy.NewBuilder[R]().
		HandleIf(func(_ R, err error) bool {
			if err == nil {
				return false
			}
			return cfg.RetryIf == nil || cfg.RetryIf(err)
		}).
		WithMaxRetries(cfg.MaxRetries).
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		ReturnLastFailure().
		OnRetry(func(e failsafe.ExecutionEvent[R]) {
			log.Debugf("%s: retry %d after %v", cfg.Name, e.Attempts(), e.LastError())
		})
	if cfg.JitterDelay > 0 {
		builder = builder.WithJitter(cfg.JitterDelay)
	}
	return builder.Build()
}

// Retry runs fn under a retry policy built from cfg. Cancelling ctx stops
// further attempts.
func Retry[R any](ctx context.Context, cfg RetryConfig, fn func() (R, error)) (R, error) {
	return failsafe.With[R](NewRetryPolicy[R](cfg)).WithContext(ctx).Get(fn)
}

// CalculateBackoff computes exponential backoff with full jitter:
// random(0, min(maxDelay, baseDelay * 2^attempt)).
func CalculateBackoff(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	delay := CalculateBackoffNoJitter(attempt, baseDelay, maxDelay)
	if delay <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(delay)))
}

func CalculateBackoffNoJitter(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	delay := baseDelay * time.Duration(1<<attempt)
	if delay > maxDelay || delay < 0 {
		delay = maxDelay
	}
	return delay
}

func WaitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
