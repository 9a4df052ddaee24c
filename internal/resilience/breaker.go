package resilience

import (
	"errors"
	"time"

	"github.com/nghyane/copilot-gateway/internal/config"
	"github.com/sony/gobreaker"
)

type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	OnStateChange    func(name string, from, to gobreaker.State)
}

func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      1,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// BreakerConfigFrom applies the user's breaker settings over the defaults.
func BreakerConfigFrom(name string, c config.BreakerConfig) BreakerConfig {
	cfg := DefaultBreakerConfig(name)
	if c.FailureThreshold > 0 {
		cfg.FailureThreshold = c.FailureThreshold
	}
	if c.OpenTimeout > 0 {
		cfg.Timeout = c.OpenTimeout
	}
	return cfg
}

// Breaker wraps gobreaker's TwoStepCircuitBreaker so a call can be admitted
// up front and judged later, after a stream has been fully relayed.
//
// A nil *Breaker admits everything.
type Breaker struct {
	cb *gobreaker.TwoStepCircuitBreaker
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: cfg.OnStateChange,
	}
	return &Breaker{cb: gobreaker.NewTwoStepCircuitBreaker(settings)}
}

func noopDone(bool) {}

// Allow reports whether a call may proceed. The returned done func MUST be
// called exactly once with the outcome.
//
// Returns gobreaker.ErrOpenState or gobreaker.ErrTooManyRequests when refused.
func (b *Breaker) Allow() (done func(success bool), err error) {
	if b == nil {
		return noopDone, nil
	}
	return b.cb.Allow()
}

func (b *Breaker) State() gobreaker.State {
	if b == nil {
		return gobreaker.StateClosed
	}
	return b.cb.State()
}

func (b *Breaker) Counts() gobreaker.Counts {
	if b == nil {
		return gobreaker.Counts{}
	}
	return b.cb.Counts()
}

// IsOpen reports whether err is a breaker refusal.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
