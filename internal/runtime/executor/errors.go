package executor

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	log "github.com/nghyane/copilot-gateway/internal/logging"
)

// maxErrorBody caps how much of an upstream error body is kept.
const maxErrorBody = 64 * 1024

// UpstreamError is a non-2xx reply from the Copilot API, or a local refusal
// to contact it. StatusCode is what the gateway should answer with.
type UpstreamError struct {
	StatusCode int
	Body       []byte
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upstream %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upstream %d", e.StatusCode)
}

// ClientMessage is the text surfaced to API clients: the upstream's own
// error.message when it sent one, otherwise the body or status text.
func (e *UpstreamError) ClientMessage() string {
	if msg := gjson.GetBytes(e.Body, "error.message"); msg.Type == gjson.String && msg.Str != "" {
		return msg.Str
	}
	if msg := gjson.GetBytes(e.Body, "message"); msg.Type == gjson.String && msg.Str != "" {
		return msg.Str
	}
	if len(e.Body) > 0 {
		return string(e.Body)
	}
	if e.Message != "" {
		return e.Message
	}
	return http.StatusText(e.StatusCode)
}

// Retryable reports whether the status is a transient server-side failure.
func (e *UpstreamError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ErrCircuitOpen is returned while the upstream breaker refuses calls.
var ErrCircuitOpen = &UpstreamError{
	StatusCode: http.StatusServiceUnavailable,
	Message:    "upstream temporarily unavailable (circuit open)",
}

// AsUpstreamError unwraps err into an *UpstreamError.
func AsUpstreamError(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// handleHTTPError reads a non-2xx body into an UpstreamError. It does not
// close the body.
func handleHTTPError(resp *http.Response, op string) *UpstreamError {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if readErr != nil {
		log.Debugf("%s: reading error body: %v", op, readErr)
	}
	log.Debugf("%s: error status: %d, body: %.512s", op, resp.StatusCode, body)
	return &UpstreamError{
		StatusCode: resp.StatusCode,
		Body:       body,
		Message:    op + " failed",
	}
}
