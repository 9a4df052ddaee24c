package usage

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/nghyane/copilot-gateway/internal/config"
	log "github.com/nghyane/copilot-gateway/internal/logging"
)

// Recorder fans a finished request out to the live counters, the metrics
// and the persistence backend.
type Recorder struct {
	counters *Counters
	backend  Backend
	metrics  *Metrics
	enabled  atomic.Bool
}

// NewRecorder accepts a nil backend for memory-only counting.
func NewRecorder(backend Backend, metrics *Metrics) *Recorder {
	r := &Recorder{counters: NewCounters(), backend: backend, metrics: metrics}
	r.enabled.Store(true)
	return r
}

// Open builds a Recorder from config, starting the DSN's backend and seeding
// the counters from its history. An empty DSN keeps counts in memory.
func Open(cfg config.UsageConfig, metrics *Metrics) (*Recorder, error) {
	if cfg.DSN == "" {
		return NewRecorder(nil, metrics), nil
	}
	backend, err := NewBackend(BackendConfigFrom(cfg))
	if err != nil {
		return nil, err
	}
	if err := backend.Start(); err != nil {
		return nil, err
	}
	r := NewRecorder(backend, metrics)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stats, err := backend.QueryGlobalStats(ctx, time.Time{})
	if err != nil {
		log.Warnf("usage: could not seed counters from history: %v", err)
	} else {
		r.counters.Bootstrap(*stats)
		log.Infof("usage: %s backend holds %d requests, %d tokens", backend.Name(), stats.TotalRequests, stats.TotalTokens)
	}
	return r, nil
}

// SetEnabled pauses or resumes recording; metrics keep flowing.
func (r *Recorder) SetEnabled(enabled bool) { r.enabled.Store(enabled) }

// Record is nil-safe and never blocks.
func (r *Recorder) Record(rec Record) {
	if r == nil {
		return
	}
	rec = rec.normalized()
	r.metrics.Observe(rec)
	if !r.enabled.Load() {
		return
	}
	r.counters.Record(rec)
	if r.backend != nil {
		r.backend.Enqueue(rec)
	}
}

func (r *Recorder) Counters() CounterSnapshot {
	if r == nil {
		return CounterSnapshot{}
	}
	return r.counters.Snapshot()
}

func (r *Recorder) Metrics() *Metrics { return r.metrics }

// Snapshot combines the counters with backend aggregates since since. A
// failing query is logged and its section left empty.
func (r *Recorder) Snapshot(ctx context.Context, since time.Time) *Snapshot {
	snap := &Snapshot{CounterSnapshot: r.Counters(), Backend: "memory"}
	if r == nil || r.backend == nil {
		return snap
	}
	snap.Backend = r.backend.Name()

	if err := r.backend.Flush(ctx); err != nil {
		log.Warnf("usage: flush before snapshot: %v", err)
	}
	if days, err := r.backend.QueryDailyStats(ctx, since); err == nil {
		snap.RequestsByDay = make(map[string]int64, len(days))
		snap.TokensByDay = make(map[string]int64, len(days))
		for _, d := range days {
			snap.RequestsByDay[d.Day] = d.Requests
			snap.TokensByDay[d.Day] = d.Tokens
		}
	} else {
		log.Warnf("usage: daily stats: %v", err)
	}
	if hours, err := r.backend.QueryHourlyStats(ctx, since); err == nil {
		snap.RequestsByHour = make(map[string]int64, len(hours))
		snap.TokensByHour = make(map[string]int64, len(hours))
		for _, h := range hours {
			key := strconv.Itoa(h.Hour)
			snap.RequestsByHour[key] = h.Requests
			snap.TokensByHour[key] = h.Tokens
		}
	} else {
		log.Warnf("usage: hourly stats: %v", err)
	}
	if models, err := r.backend.QueryModelStats(ctx, since); err == nil {
		snap.Models = models
	} else {
		log.Warnf("usage: model stats: %v", err)
	}
	if formats, err := r.backend.QueryFormatStats(ctx, since); err == nil {
		snap.Formats = formats
	} else {
		log.Warnf("usage: format stats: %v", err)
	}
	return snap
}

// Close flushes and stops the backend.
func (r *Recorder) Close() error {
	if r == nil || r.backend == nil {
		return nil
	}
	return r.backend.Stop()
}
