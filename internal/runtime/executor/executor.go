// Package executor calls the GitHub Copilot chat API.
package executor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/nghyane/copilot-gateway/internal/config"
	log "github.com/nghyane/copilot-gateway/internal/logging"
	"github.com/nghyane/copilot-gateway/internal/resilience"
	"github.com/nghyane/copilot-gateway/internal/sseutil"
	"github.com/nghyane/copilot-gateway/internal/streamutil"
)

const (
	scannerInitialBuffer = 64 * 1024
	scannerMaxBuffer     = 2 * 1024 * 1024
)

var scannerPool = sync.Pool{
	New: func() any {
		buf := make([]byte, scannerInitialBuffer)
		return &buf
	},
}

// TokenSource yields a current Copilot API token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// CopilotExecutor sends chat-array requests upstream. It never retries a
// chat call; a breaker sheds load while the upstream keeps failing.
type CopilotExecutor struct {
	cfg     config.UpstreamConfig
	baseURL string
	tokens  TokenSource
	client  *http.Client
	breaker *resilience.Breaker
}

// NewCopilotExecutor builds an executor over client. The breaker is created
// from cfg.Breaker when enabled.
func NewCopilotExecutor(cfg config.UpstreamConfig, tokens TokenSource, client *http.Client) *CopilotExecutor {
	e := &CopilotExecutor{
		cfg:     cfg,
		baseURL: cfg.ResolveBaseURL(),
		tokens:  tokens,
		client:  client,
	}
	if cfg.Breaker.Enabled {
		e.breaker = resilience.NewBreaker(resilience.BreakerConfigFrom("copilot", cfg.Breaker))
	}
	return e
}

func (e *CopilotExecutor) Identifier() string { return "copilot" }

// BaseURL is the upstream API root in use.
func (e *CopilotExecutor) BaseURL() string { return e.baseURL }

// Breaker exposes the breaker for health reporting; nil when disabled.
func (e *CopilotExecutor) Breaker() *resilience.Breaker { return e.breaker }

// breakerOutcome classifies a status for the breaker. Client errors other
// than 429 are the caller's fault and do not count against the upstream.
func breakerOutcome(status int) bool {
	return status < 500 && status != http.StatusTooManyRequests
}

func (e *CopilotExecutor) do(ctx context.Context, method, path string, payload []byte) (*http.Response, func(bool), error) {
	done, err := e.breaker.Allow()
	if err != nil {
		if resilience.IsOpen(err) {
			return nil, nil, ErrCircuitOpen
		}
		return nil, nil, err
	}

	token, err := e.tokens.Token(ctx)
	if err != nil {
		done(true)
		return nil, nil, fmt.Errorf("copilot token: %w", err)
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, body)
	if err != nil {
		done(true)
		return nil, nil, err
	}
	applyHeaders(req, e.cfg, token, payload)

	resp, err := e.client.Do(req)
	if err != nil {
		// A caller that went away says nothing about upstream health.
		done(ctx.Err() != nil)
		return nil, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		upErr := handleHTTPError(resp, e.Identifier()+" "+path)
		_ = resp.Body.Close()
		done(breakerOutcome(resp.StatusCode))
		return nil, nil, upErr
	}

	decoded, err := decodeBody(resp.Body, resp.Header)
	if err != nil {
		_ = resp.Body.Close()
		done(false)
		return nil, nil, err
	}
	resp.Body = decoded
	return resp, done, nil
}

func (e *CopilotExecutor) readAll(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	resp, done, err := e.do(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	done(err == nil || ctx.Err() != nil)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	return data, nil
}

// Execute posts a non-streaming chat completion and returns the body.
func (e *CopilotExecutor) Execute(ctx context.Context, payload []byte) ([]byte, error) {
	return e.readAll(ctx, http.MethodPost, "/chat/completions", payload)
}

// Embeddings posts an embeddings request and returns the body unchanged.
func (e *CopilotExecutor) Embeddings(ctx context.Context, payload []byte) ([]byte, error) {
	return e.readAll(ctx, http.MethodPost, "/embeddings", payload)
}

// ListModels returns the raw upstream model listing.
func (e *CopilotExecutor) ListModels(ctx context.Context) ([]byte, error) {
	return e.readAll(ctx, http.MethodGet, "/models", nil)
}

// ExecuteStream posts a streaming chat completion. Upstream status errors are
// returned directly; after that the channel carries one chunk per SSE data
// payload, [DONE] included, and closes when the stream ends. A failure
// mid-stream arrives as a final chunk with Err set.
func (e *CopilotExecutor) ExecuteStream(ctx context.Context, payload []byte) (<-chan streamutil.Chunk, error) {
	resp, done, err := e.do(ctx, http.MethodPost, "/chat/completions", payload)
	if err != nil {
		return nil, err
	}

	reader := NewStreamReader(ctx, resp.Body, e.cfg.IdleTimeout, e.Identifier())
	pipe := streamutil.NewPipeline(ctx, streamutil.PipelineConfig{
		OnComplete: func(stats streamutil.Stats) {
			done(stats.Success || ctx.Err() != nil)
			log.Debugf("%s: stream finished: chunks=%d elapsed=%v ok=%t",
				e.Identifier(), stats.Chunks, stats.Elapsed, stats.Success)
		},
	})
	pipe.Go(func(ctx context.Context) error {
		defer reader.Close()
		return relaySSE(ctx, reader, pipe)
	})
	pipe.Start()
	return pipe.Output(), nil
}

// relaySSE forwards every data payload from r to pipe until [DONE] or EOF.
func relaySSE(ctx context.Context, r io.Reader, pipe *streamutil.Pipeline) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("copilot: panic in stream relay: %v", rec)
			err = fmt.Errorf("stream relay panic: %v", rec)
			pipe.SendError(err)
		}
	}()

	bufPtr := scannerPool.Get().(*[]byte)
	defer scannerPool.Put(bufPtr)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(*bufPtr, scannerMaxBuffer)

	for scanner.Scan() {
		payload, ok := sseutil.DataPayload(scanner.Bytes())
		if !ok {
			continue
		}
		// The scanner reuses its buffer; the consumer may hold the slice.
		if !pipe.SendData(bytes.Clone(payload)) {
			return nil
		}
		if sseutil.IsDone(payload) {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrStreamStalled) {
			return nil
		}
		err = fmt.Errorf("read upstream stream: %w", err)
		pipe.SendError(err)
		return err
	}
	return nil
}
