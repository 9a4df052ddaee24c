package usage

import "sync/atomic"

// Counters are lock-free totals updated on every request. History lives in
// the backend.
type Counters struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	failureCount  atomic.Int64
	streamCount   atomic.Int64
	inputTokens   atomic.Int64
	outputTokens  atomic.Int64
	totalTokens   atomic.Int64
}

func NewCounters() *Counters {
	return &Counters{}
}

func (c *Counters) Record(r Record) {
	if c == nil {
		return
	}
	c.totalRequests.Add(1)
	if r.Failed {
		c.failureCount.Add(1)
	} else {
		c.successCount.Add(1)
	}
	if r.Stream {
		c.streamCount.Add(1)
	}
	c.inputTokens.Add(r.InputTokens)
	c.outputTokens.Add(r.OutputTokens)
	c.totalTokens.Add(r.TotalTokens)
}

func (c *Counters) Snapshot() CounterSnapshot {
	if c == nil {
		return CounterSnapshot{}
	}
	return CounterSnapshot{
		TotalRequests: c.totalRequests.Load(),
		SuccessCount:  c.successCount.Load(),
		FailureCount:  c.failureCount.Load(),
		StreamCount:   c.streamCount.Load(),
		InputTokens:   c.inputTokens.Load(),
		OutputTokens:  c.outputTokens.Load(),
		TotalTokens:   c.totalTokens.Load(),
	}
}

// Bootstrap seeds the counters from persisted history at startup.
func (c *Counters) Bootstrap(stats AggregatedStats) {
	if c == nil {
		return
	}
	c.totalRequests.Store(stats.TotalRequests)
	c.successCount.Store(stats.SuccessCount)
	c.failureCount.Store(stats.FailureCount)
	c.totalTokens.Store(stats.TotalTokens)
}

type CounterSnapshot struct {
	TotalRequests int64 `json:"total_requests"`
	SuccessCount  int64 `json:"success_count"`
	FailureCount  int64 `json:"failure_count"`
	StreamCount   int64 `json:"stream_count"`
	InputTokens   int64 `json:"input_tokens"`
	OutputTokens  int64 `json:"output_tokens"`
	TotalTokens   int64 `json:"total_tokens"`
}
