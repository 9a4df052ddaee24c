package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	log "github.com/nghyane/copilot-gateway/internal/logging"
	"github.com/nghyane/copilot-gateway/internal/resilience"
)

// ModelLister fetches the raw upstream model listing.
type ModelLister interface {
	ListModels(ctx context.Context) ([]byte, error)
}

// catalogState is an immutable snapshot; refreshes replace it whole.
type catalogState struct {
	models    []*ModelInfo
	byID      map[string]*ModelInfo
	fetchedAt time.Time
}

func newCatalogState(models []*ModelInfo, fetchedAt time.Time) *catalogState {
	s := &catalogState{
		models:    models,
		byID:      make(map[string]*ModelInfo, len(models)),
		fetchedAt: fetchedAt,
	}
	for _, m := range models {
		if _, dup := s.byID[m.ID]; !dup {
			s.byID[m.ID] = m
		}
	}
	return s
}

// Catalog caches the upstream listing for a TTL. Reads are lock-free; an
// expired snapshot is refreshed by one caller while the others wait on the
// same fetch. When a refresh fails and a snapshot exists, the stale snapshot
// is served.
type Catalog struct {
	lister ModelLister
	retry  resilience.RetryConfig

	ttl   atomic.Int64 // time.Duration
	state atomic.Pointer[catalogState]
	sf    singleflight.Group

	mu        sync.Mutex
	listeners []func([]*ModelInfo)
}

func NewCatalog(lister ModelLister, ttl time.Duration) *Catalog {
	retry := resilience.DefaultRetryConfig
	retry.Name = "model catalog"
	retry.MaxRetries = 2
	retry.RetryIf = func(err error) bool {
		var r interface{ Retryable() bool }
		return !errors.As(err, &r) || r.Retryable()
	}
	c := &Catalog{lister: lister, retry: retry}
	c.SetTTL(ttl)
	return c
}

// SetTTL changes the cache lifetime; non-positive means 5 minutes.
func (c *Catalog) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c.ttl.Store(int64(ttl))
}

// OnRefresh registers fn to run after every successful refresh.
func (c *Catalog) OnRefresh(fn func([]*ModelInfo)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Catalog) fresh(s *catalogState) bool {
	return s != nil && time.Since(s.fetchedAt) < time.Duration(c.ttl.Load())
}

// Models returns the cached listing, refreshing it when expired.
func (c *Catalog) Models(ctx context.Context) ([]*ModelInfo, error) {
	s, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	return s.models, nil
}

// Lookup finds a model by upstream id.
func (c *Catalog) Lookup(ctx context.Context, id string) (*ModelInfo, bool) {
	s, err := c.load(ctx)
	if err != nil {
		return nil, false
	}
	m, ok := s.byID[id]
	return m, ok
}

// MaxOutputTokens returns the model's output limit, 0 when unknown.
func (c *Catalog) MaxOutputTokens(ctx context.Context, id string) int {
	if m, ok := c.Lookup(ctx, id); ok {
		return m.Capabilities.Limits.MaxOutputTokens
	}
	return 0
}

// Cached returns the current snapshot without fetching; nil before the
// first successful refresh.
func (c *Catalog) Cached() []*ModelInfo {
	if s := c.state.Load(); s != nil {
		return s.models
	}
	return nil
}

// Invalidate forces the next read to refresh.
func (c *Catalog) Invalidate() {
	if s := c.state.Load(); s != nil {
		c.state.Store(newCatalogState(s.models, time.Time{}))
	}
}

// Refresh fetches the listing now.
func (c *Catalog) Refresh(ctx context.Context) error {
	_, err := c.refresh(ctx)
	return err
}

func (c *Catalog) load(ctx context.Context) (*catalogState, error) {
	if s := c.state.Load(); c.fresh(s) {
		return s, nil
	}
	s, err := c.refresh(ctx)
	if err != nil {
		if stale := c.state.Load(); stale != nil {
			log.Warnf("model catalog: refresh failed, serving stale listing from %s: %v",
				stale.fetchedAt.Format(time.RFC3339), err)
			return stale, nil
		}
		return nil, err
	}
	return s, nil
}

func (c *Catalog) refresh(ctx context.Context) (*catalogState, error) {
	v, err, _ := c.sf.Do("models", func() (any, error) {
		body, err := resilience.Retry(ctx, c.retry, func() ([]byte, error) {
			return c.lister.ListModels(ctx)
		})
		if err != nil {
			return nil, fmt.Errorf("list models: %w", err)
		}
		models, err := ParseModels(body)
		if err != nil {
			return nil, fmt.Errorf("decode models: %w", err)
		}
		if len(models) == 0 {
			return nil, errors.New("upstream returned no models")
		}
		s := newCatalogState(models, time.Now())
		c.state.Store(s)
		log.Debugf("model catalog: %d models cached", len(models))

		c.mu.Lock()
		listeners := slices.Clone(c.listeners)
		c.mu.Unlock()
		for _, fn := range listeners {
			fn(models)
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*catalogState), nil
}
