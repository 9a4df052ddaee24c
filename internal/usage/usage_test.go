package usage

import (
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nghyane/copilot-gateway/internal/config"
)

func TestCountersRecord(t *testing.T) {
	c := NewCounters()
	c.Record(Record{InputTokens: 10, OutputTokens: 5, TotalTokens: 15, Stream: true})
	c.Record(Record{Failed: true})

	s := c.Snapshot()
	if s.TotalRequests != 2 || s.SuccessCount != 1 || s.FailureCount != 1 {
		t.Errorf("Expected 2/1/1 requests, got %+v", s)
	}
	if s.StreamCount != 1 {
		t.Errorf("Expected 1 stream, got %d", s.StreamCount)
	}
	if s.InputTokens != 10 || s.OutputTokens != 5 || s.TotalTokens != 15 {
		t.Errorf("Expected tokens 10/5/15, got %+v", s)
	}

	c.Bootstrap(AggregatedStats{TotalRequests: 100, SuccessCount: 90, FailureCount: 10, TotalTokens: 5000})
	s = c.Snapshot()
	if s.TotalRequests != 100 || s.TotalTokens != 5000 {
		t.Errorf("Expected bootstrapped totals, got %+v", s)
	}
}

func TestRecordNormalized(t *testing.T) {
	r := Record{InputTokens: 3, OutputTokens: 4}.normalized()
	if r.Model != "unknown" {
		t.Errorf("Expected model unknown, got %q", r.Model)
	}
	if r.Format != "openai" {
		t.Errorf("Expected format openai, got %q", r.Format)
	}
	if r.TotalTokens != 7 {
		t.Errorf("Expected total 7, got %d", r.TotalTokens)
	}
	if r.RequestedAt.IsZero() || r.RequestedAt.Location() != time.UTC {
		t.Errorf("Expected UTC timestamp, got %v", r.RequestedAt)
	}
}

func TestParseDSN(t *testing.T) {
	tests := []struct {
		dsn     string
		kind    string
		target  string
		wantErr bool
	}{
		{"sqlite:///var/lib/usage.db", "sqlite", "/var/lib/usage.db", false},
		{"sqlite://", "", "", true},
		{"postgres://u:p@localhost/db", "postgres", "postgres://u:p@localhost/db", false},
		{"postgresql://localhost/db", "postgres", "postgresql://localhost/db", false},
		{"mysql://localhost", "", "", true},
	}
	for _, tt := range tests {
		kind, target, err := parseDSN(tt.dsn)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseDSN(%q) error = %v, wantErr %v", tt.dsn, err, tt.wantErr)
			continue
		}
		if kind != tt.kind || target != tt.target {
			t.Errorf("parseDSN(%q) = %q, %q; expected %q, %q", tt.dsn, kind, target, tt.kind, tt.target)
		}
	}
}

func newTestSQLite(t *testing.T) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "usage.db"), BackendConfig{BatchSize: 10, FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("NewSQLiteBackend: %v", err)
	}
	t.Cleanup(func() { _ = b.db.Close() })
	return b
}

func TestSQLiteBackendQueries(t *testing.T) {
	b := newTestSQLite(t)
	ctx := context.Background()

	now := time.Now().UTC()
	b.Enqueue(Record{Model: "gpt-4o", Format: "openai", Status: 200, InputTokens: 10, OutputTokens: 20, Latency: 100 * time.Millisecond, RequestedAt: now})
	b.Enqueue(Record{Model: "gpt-4o", Format: "claude", Stream: true, Status: 200, InputTokens: 5, OutputTokens: 5, Latency: 300 * time.Millisecond, RequestedAt: now})
	b.Enqueue(Record{Model: "claude-sonnet-4", Format: "claude", Status: 500, Failed: true, RequestedAt: now})
	b.Enqueue(Record{Model: "old", Status: 200, TotalTokens: 99, RequestedAt: now.Add(-90 * 24 * time.Hour)})

	if err := b.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	global, err := b.QueryGlobalStats(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("QueryGlobalStats: %v", err)
	}
	if global.TotalRequests != 3 || global.SuccessCount != 2 || global.FailureCount != 1 {
		t.Errorf("Expected 3/2/1, got %+v", global)
	}
	if global.TotalTokens != 40 {
		t.Errorf("Expected 40 tokens, got %d", global.TotalTokens)
	}

	all, err := b.QueryGlobalStats(ctx, time.Time{})
	if err != nil {
		t.Fatalf("QueryGlobalStats: %v", err)
	}
	if all.TotalRequests != 4 {
		t.Errorf("Expected 4 requests overall, got %d", all.TotalRequests)
	}

	days, err := b.QueryDailyStats(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("QueryDailyStats: %v", err)
	}
	if len(days) == 0 || days[len(days)-1].Day != now.Format("2006-01-02") {
		t.Errorf("Expected today's bucket %s, got %+v", now.Format("2006-01-02"), days)
	}

	hours, err := b.QueryHourlyStats(ctx, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("QueryHourlyStats: %v", err)
	}
	if len(hours) != 1 || hours[0].Hour != now.Hour() || hours[0].Requests != 3 {
		t.Errorf("Expected one bucket at hour %d with 3 requests, got %+v", now.Hour(), hours)
	}

	models, err := b.QueryModelStats(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("QueryModelStats: %v", err)
	}
	var gpt *ModelStats
	for i := range models {
		if models[i].Model == "gpt-4o" {
			gpt = &models[i]
		}
	}
	if gpt == nil {
		t.Fatalf("Expected gpt-4o in model stats, got %+v", models)
	}
	if gpt.Requests != 2 || gpt.InputTokens != 15 || gpt.OutputTokens != 25 {
		t.Errorf("Unexpected gpt-4o stats: %+v", gpt)
	}
	if gpt.AvgLatencyMs != 200 {
		t.Errorf("Expected avg latency 200ms, got %v", gpt.AvgLatencyMs)
	}

	formats, err := b.QueryFormatStats(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("QueryFormatStats: %v", err)
	}
	for _, f := range formats {
		if f.Format == "claude" && (f.Requests != 2 || f.Streams != 1 || f.FailureCount != 1) {
			t.Errorf("Unexpected claude format stats: %+v", f)
		}
	}

	deleted, err := b.Cleanup(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 expired record deleted, got %d", deleted)
	}
}

func TestSQLiteBackendStopDrainsQueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "usage.db")
	b, err := NewSQLiteBackend(path, BackendConfig{FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("NewSQLiteBackend: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 5; i++ {
		b.Enqueue(Record{Model: "gpt-4o", Status: 200})
	}
	if err := b.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	reopened, err := NewSQLiteBackend(path, BackendConfig{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.db.Close()
	stats, err := reopened.QueryGlobalStats(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("QueryGlobalStats: %v", err)
	}
	if stats.TotalRequests != 5 {
		t.Errorf("Expected 5 persisted records after Stop, got %d", stats.TotalRequests)
	}
}

func TestRecorderMemoryOnly(t *testing.T) {
	r, err := Open(config.UsageConfig{}, NewMetrics())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	r.Record(Record{Model: "gpt-4o", Status: 200, InputTokens: 1, OutputTokens: 2})
	snap := r.Snapshot(context.Background(), time.Time{})
	if snap.Backend != "memory" {
		t.Errorf("Expected memory backend, got %q", snap.Backend)
	}
	if snap.TotalRequests != 1 || snap.TotalTokens != 3 {
		t.Errorf("Expected 1 request and 3 tokens, got %+v", snap.CounterSnapshot)
	}

	r.SetEnabled(false)
	r.Record(Record{Model: "gpt-4o", Status: 200})
	if got := r.Counters().TotalRequests; got != 1 {
		t.Errorf("Expected disabled recorder to skip counting, got %d", got)
	}
}

func TestRecorderSQLiteBootstrap(t *testing.T) {
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "usage.db")

	first, err := Open(config.UsageConfig{DSN: dsn, FlushInterval: time.Hour}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	first.Record(Record{Model: "gpt-4o", Status: 200, InputTokens: 4, OutputTokens: 6})
	first.Record(Record{Model: "gpt-4o", Status: 502, Failed: true})

	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := Open(config.UsageConfig{DSN: dsn}, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	c := second.Counters()
	if c.TotalRequests != 2 || c.FailureCount != 1 || c.TotalTokens != 10 {
		t.Errorf("Expected counters seeded from history, got %+v", c)
	}

	snap := second.Snapshot(context.Background(), time.Time{})
	if snap.Backend != "sqlite" {
		t.Errorf("Expected sqlite backend, got %q", snap.Backend)
	}
	if len(snap.Models) != 1 || snap.Models[0].Requests != 2 {
		t.Errorf("Expected one model row with 2 requests, got %+v", snap.Models)
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.Observe(Record{Model: "gpt-4o", Format: "claude", Status: 200, InputTokens: 7, OutputTokens: 3, Latency: time.Second})
	done := m.StreamStarted()
	m.RateLimited()
	m.UpstreamError(429)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`copilot_gateway_requests_total{format="claude",model="gpt-4o",status="200"} 1`,
		`copilot_gateway_tokens_total{direction="input",model="gpt-4o"} 7`,
		`copilot_gateway_tokens_total{direction="output",model="gpt-4o"} 3`,
		`copilot_gateway_streams_active 1`,
		`copilot_gateway_ratelimit_rejected_total 1`,
		`copilot_gateway_upstream_errors_total{status="429"} 1`,
		`go_goroutines`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected metrics output to contain %q", want)
		}
	}

	done()
	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "copilot_gateway_streams_active 0") {
		t.Error("Expected active streams to return to 0")
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.Observe(Record{})
	m.StreamStarted()()
	m.RateLimited()
	m.UpstreamError(500)
	m.BreakerRejected()
}
