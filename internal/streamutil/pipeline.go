// Package streamutil runs a producer goroutine that feeds a single buffered
// channel, with errgroup-managed lifecycle and a completion hook.
package streamutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Chunk is one unit of stream output: data or a terminal error.
type Chunk struct {
	Data []byte
	Err  error
}

// Stats summarizes a finished pipeline.
type Stats struct {
	Success bool
	Chunks  int64
	Elapsed time.Duration
}

type PipelineConfig struct {
	// BufferSize for the output channel (default: 64).
	BufferSize int

	// OnComplete runs once after every producer has returned and the output
	// channel is closed.
	OnComplete func(Stats)
}

// Pipeline owns the output channel. Producers run under Go and publish with
// Send*; the consumer ranges over Output until it is closed.
type Pipeline struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	output chan Chunk

	onComplete func(Stats)
	startTime  time.Time
	chunks     atomic.Int64
	failed     atomic.Bool
	closeOnce  sync.Once
	closeErr   error
}

func NewPipeline(parent context.Context, cfg PipelineConfig) *Pipeline {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	ctx, cancel := context.WithCancel(parent)
	g, gctx := errgroup.WithContext(ctx)
	return &Pipeline{
		ctx:        gctx,
		cancel:     cancel,
		group:      g,
		output:     make(chan Chunk, cfg.BufferSize),
		onComplete: cfg.OnComplete,
		startTime:  time.Now(),
	}
}

func (p *Pipeline) Context() context.Context { return p.ctx }

func (p *Pipeline) Output() <-chan Chunk { return p.output }

// Go starts a producer. A non-nil error cancels the other producers and marks
// the pipeline failed.
func (p *Pipeline) Go(f func(ctx context.Context) error) {
	p.group.Go(func() error {
		err := f(p.ctx)
		if err != nil {
			p.failed.Store(true)
		}
		return err
	})
}

// Send delivers chunk unless the pipeline context is done.
func (p *Pipeline) Send(chunk Chunk) bool {
	if chunk.Err != nil {
		p.failed.Store(true)
	}
	select {
	case p.output <- chunk:
		p.chunks.Add(1)
		return true
	case <-p.ctx.Done():
		return false
	}
}

func (p *Pipeline) SendData(data []byte) bool {
	return p.Send(Chunk{Data: data})
}

func (p *Pipeline) SendError(err error) bool {
	return p.Send(Chunk{Err: err})
}

// Close waits for the producers, closes the output channel and runs the
// completion hook. Safe to call more than once.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.group.Wait()
		close(p.output)
		if p.onComplete != nil {
			p.onComplete(Stats{
				Success: p.closeErr == nil && !p.failed.Load(),
				Chunks:  p.chunks.Load(),
				Elapsed: time.Since(p.startTime),
			})
		}
		p.cancel()
	})
	return p.closeErr
}

func (p *Pipeline) Cancel() {
	p.cancel()
}

// Start closes the pipeline in the background once the producers finish, so
// consumers can detect completion by channel close.
func (p *Pipeline) Start() {
	go func() {
		_ = p.Close()
	}()
}
