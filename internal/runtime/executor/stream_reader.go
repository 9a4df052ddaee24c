package executor

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/nghyane/copilot-gateway/internal/logging"
)

// ErrStreamStalled is returned by StreamReader.Read after the idle watchdog
// closed a stream that stopped sending data.
var ErrStreamStalled = errors.New("upstream stream stalled")

// StreamReader guards an upstream response body. Cancelling ctx closes the
// body so a blocked Read returns at once; the idle watchdog closes it when
// no bytes arrived for idleTimeout.
type StreamReader struct {
	body        io.ReadCloser
	ctx         context.Context
	idleTimeout time.Duration
	name        string

	lastActivity atomic.Int64 // UnixNano
	closed       atomic.Bool
	stalled      atomic.Bool
	closeOnce    sync.Once
	closeErr     error
	stop         chan struct{}
	stopOnce     sync.Once
}

// NewStreamReader starts the watchers for body. idleTimeout of 0 disables
// the idle watchdog.
func NewStreamReader(ctx context.Context, body io.ReadCloser, idleTimeout time.Duration, name string) *StreamReader {
	sr := &StreamReader{
		body:        body,
		ctx:         ctx,
		idleTimeout: idleTimeout,
		name:        name,
		stop:        make(chan struct{}),
	}
	sr.touch()

	go sr.watchContext()
	if idleTimeout > 0 {
		go sr.watchIdle(idleCheckInterval(idleTimeout))
	}
	return sr
}

// idleCheckInterval polls four times per timeout, at most every 30s.
func idleCheckInterval(timeout time.Duration) time.Duration {
	return min(max(timeout/4, time.Millisecond), 30*time.Second)
}

func (sr *StreamReader) touch() {
	sr.lastActivity.Store(time.Now().UnixNano())
}

// Idle returns how long the stream has gone without data.
func (sr *StreamReader) Idle() time.Duration {
	return time.Since(time.Unix(0, sr.lastActivity.Load()))
}

func (sr *StreamReader) watchContext() {
	select {
	case <-sr.ctx.Done():
		sr.shutdown("client gone")
	case <-sr.stop:
	}
}

func (sr *StreamReader) watchIdle(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-sr.ctx.Done():
			return
		case <-sr.stop:
			return
		case <-ticker.C:
			if sr.closed.Load() {
				return
			}
			if idle := sr.Idle(); idle > sr.idleTimeout {
				log.Warnf("%s: no upstream data for %v (limit %v), closing stream",
					sr.name, idle.Round(time.Millisecond), sr.idleTimeout)
				sr.stalled.Store(true)
				sr.shutdown("idle timeout")
				return
			}
		}
	}
}

func (sr *StreamReader) Read(p []byte) (int, error) {
	if sr.closed.Load() {
		if sr.stalled.Load() {
			return 0, ErrStreamStalled
		}
		return 0, io.EOF
	}
	n, err := sr.body.Read(p)
	if n > 0 {
		sr.touch()
	}
	if err != nil && sr.stalled.Load() {
		err = ErrStreamStalled
	}
	return n, err
}

func (sr *StreamReader) shutdown(reason string) {
	sr.closeOnce.Do(func() {
		sr.closed.Store(true)
		sr.closeErr = sr.body.Close()
		log.Debugf("%s: stream closed: %s", sr.name, reason)
	})
}

// Close is idempotent.
func (sr *StreamReader) Close() error {
	sr.shutdown("done")
	sr.stopOnce.Do(func() { close(sr.stop) })
	return sr.closeErr
}
