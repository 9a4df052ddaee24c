// Package usage counts gateway requests, persists them to SQLite or
// PostgreSQL, and exports Prometheus metrics.
package usage

import "time"

// Record describes one completed gateway request.
type Record struct {
	Model  string
	Format string // "claude" or "openai"
	Stream bool
	Status int
	Failed bool

	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64

	Latency     time.Duration
	RequestedAt time.Time
}

func (r Record) normalized() Record {
	if r.Model == "" {
		r.Model = "unknown"
	}
	if r.Format == "" {
		r.Format = "openai"
	}
	if r.TotalTokens == 0 {
		r.TotalTokens = r.InputTokens + r.OutputTokens
	}
	if r.RequestedAt.IsZero() {
		r.RequestedAt = time.Now()
	}
	r.RequestedAt = r.RequestedAt.UTC()
	return r
}

// AggregatedStats summarizes a time period.
type AggregatedStats struct {
	TotalRequests int64 `json:"total_requests"`
	SuccessCount  int64 `json:"success_count"`
	FailureCount  int64 `json:"failure_count"`
	TotalTokens   int64 `json:"total_tokens"`
}

type DailyStats struct {
	Day      string `json:"day"` // 2006-01-02
	Requests int64  `json:"requests"`
	Tokens   int64  `json:"tokens"`
}

type HourlyStats struct {
	Hour     int   `json:"hour"` // 0-23, UTC
	Requests int64 `json:"requests"`
	Tokens   int64 `json:"tokens"`
}

type ModelStats struct {
	Model        string  `json:"model"`
	Requests     int64   `json:"requests"`
	SuccessCount int64   `json:"success_count"`
	FailureCount int64   `json:"failure_count"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalTokens  int64   `json:"total_tokens"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// FormatStats groups requests by inbound dialect.
type FormatStats struct {
	Format       string `json:"format"`
	Requests     int64  `json:"requests"`
	Streams      int64  `json:"streams"`
	FailureCount int64  `json:"failure_count"`
	TotalTokens  int64  `json:"total_tokens"`
}

// Snapshot is the GET /usage response: live counters plus persisted
// aggregates when a backend is configured.
type Snapshot struct {
	CounterSnapshot

	Backend        string           `json:"backend"`
	RequestsByDay  map[string]int64 `json:"requests_by_day,omitempty"`
	TokensByDay    map[string]int64 `json:"tokens_by_day,omitempty"`
	RequestsByHour map[string]int64 `json:"requests_by_hour,omitempty"`
	TokensByHour   map[string]int64 `json:"tokens_by_hour,omitempty"`
	Models         []ModelStats     `json:"models,omitempty"`
	Formats        []FormatStats    `json:"formats,omitempty"`
}
