package copilot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	log "github.com/nghyane/copilot-gateway/internal/logging"
	"github.com/nghyane/copilot-gateway/internal/resilience"
)

type TokenSourceConfig struct {
	// RefreshMargin is subtracted from the upstream refresh_in.
	RefreshMargin time.Duration
	// MinValid is the shortest remaining lifetime a cached token may have.
	MinValid time.Duration
	// FetchTimeout bounds one exchange including retries.
	FetchTimeout time.Duration
	// RetryAfterFailure delays the next background attempt after a failed one.
	RetryAfterFailure time.Duration
	Retry             resilience.RetryConfig
}

func DefaultTokenSourceConfig() TokenSourceConfig {
	retry := resilience.DefaultRetryConfig
	retry.Name = "copilot token"
	retry.RetryIf = func(err error) bool {
		var he *HTTPError
		return !errors.As(err, &he) || !he.Permanent()
	}
	return TokenSourceConfig{
		RefreshMargin:     60 * time.Second,
		MinValid:          30 * time.Second,
		FetchTimeout:      30 * time.Second,
		RetryAfterFailure: 30 * time.Second,
		Retry:             retry,
	}
}

type tokenEntry struct {
	token     string
	expiresAt time.Time
	refreshAt time.Time
}

func (e *tokenEntry) valid(now time.Time, minValid time.Duration) bool {
	return e != nil && e.token != "" && now.Add(minValid).Before(e.expiresAt)
}

// TokenStats is a snapshot for health reporting.
type TokenStats struct {
	Ready     bool      `json:"ready"`
	ExpiresAt time.Time `json:"expires_at"`
	RefreshAt time.Time `json:"refresh_at"`
	Refreshes int64     `json:"refreshes"`
	Failures  int64     `json:"failures"`
}

// TokenSource holds the current Copilot API token and renews it ahead of
// expiry. Token is safe for concurrent use; concurrent misses share one
// exchange.
type TokenSource struct {
	gh          *GitHubClient
	githubToken string
	cfg         TokenSourceConfig

	current   atomic.Pointer[tokenEntry]
	sf        singleflight.Group
	refreshes atomic.Int64
	failures  atomic.Int64

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewTokenSource(gh *GitHubClient, githubToken string, cfg TokenSourceConfig) *TokenSource {
	def := DefaultTokenSourceConfig()
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = def.RefreshMargin
	}
	if cfg.MinValid <= 0 {
		cfg.MinValid = def.MinValid
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.RetryAfterFailure <= 0 {
		cfg.RetryAfterFailure = def.RetryAfterFailure
	}
	if cfg.Retry.BaseDelay <= 0 {
		cfg.Retry = def.Retry
	}
	return &TokenSource{
		gh:          gh,
		githubToken: githubToken,
		cfg:         cfg,
		stopChan:    make(chan struct{}),
	}
}

// Start fetches the first token and starts background renewal. It fails
// when the first exchange fails.
func (s *TokenSource) Start(ctx context.Context) error {
	if _, err := s.refreshSync(ctx); err != nil {
		return err
	}
	s.wg.Add(1)
	go s.refreshLoop()
	return nil
}

// Token returns a token valid for at least MinValid, exchanging a new one
// when the cached token is missing or about to expire.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	if e := s.current.Load(); e.valid(time.Now(), s.cfg.MinValid) {
		return e.token, nil
	}
	return s.refreshSync(ctx)
}

func (s *TokenSource) refreshSync(ctx context.Context) (string, error) {
	ch := s.sf.DoChan("copilot", func() (any, error) {
		if e := s.current.Load(); e.valid(time.Now(), s.cfg.MinValid) && time.Now().Before(e.refreshAt) {
			return e.token, nil
		}

		start := time.Now()
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.FetchTimeout)
		defer cancel()

		tok, err := resilience.Retry(fetchCtx, s.cfg.Retry, func() (*CopilotToken, error) {
			return s.gh.CopilotToken(fetchCtx, s.githubToken)
		})
		if err != nil {
			s.failures.Add(1)
			log.Warnf("copilot token: refresh failed after %v: %v", time.Since(start), err)
			return "", err
		}
		s.store(tok)
		log.Debugf("copilot token: refreshed in %v, expires %s", time.Since(start), tok.Expiry().Format(time.RFC3339))
		return tok.Token, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// store schedules the next refresh at refresh_in minus the margin, and never
// earlier than half the token's remaining lifetime.
func (s *TokenSource) store(tok *CopilotToken) {
	now := time.Now()
	refreshIn := time.Duration(tok.RefreshIn) * time.Second

	expiresAt := tok.Expiry()
	if expiresAt.IsZero() {
		expiresAt = now.Add(refreshIn)
	}

	refreshAt := now.Add(refreshIn - s.cfg.RefreshMargin)
	if halfLife := now.Add(expiresAt.Sub(now) / 2); refreshAt.Before(halfLife) {
		refreshAt = halfLife
	}

	s.current.Store(&tokenEntry{token: tok.Token, expiresAt: expiresAt, refreshAt: refreshAt})
	s.refreshes.Add(1)
}

func (s *TokenSource) refreshLoop() {
	defer s.wg.Done()

	timer := time.NewTimer(s.untilRefresh())
	defer timer.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-timer.C:
			var next time.Duration
			if _, err := s.refreshSync(context.Background()); err != nil {
				log.Errorf("copilot token: background refresh failed: %v", err)
				next = s.cfg.RetryAfterFailure
			} else {
				next = s.untilRefresh()
			}
			timer.Reset(next)
		}
	}
}

func (s *TokenSource) untilRefresh() time.Duration {
	e := s.current.Load()
	if e == nil {
		return 0
	}
	return max(time.Until(e.refreshAt), 0)
}

// Stop ends background renewal. The cached token stays readable.
func (s *TokenSource) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

func (s *TokenSource) Stats() TokenStats {
	st := TokenStats{
		Refreshes: s.refreshes.Load(),
		Failures:  s.failures.Load(),
	}
	if e := s.current.Load(); e != nil {
		st.Ready = e.valid(time.Now(), 0)
		st.ExpiresAt = e.expiresAt
		st.RefreshAt = e.refreshAt
	}
	return st
}
