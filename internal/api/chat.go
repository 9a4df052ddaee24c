package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/nghyane/copilot-gateway/internal/json"
	log "github.com/nghyane/copilot-gateway/internal/logging"
	"github.com/nghyane/copilot-gateway/internal/runtime/executor"
	"github.com/nghyane/copilot-gateway/internal/translator"
	"github.com/nghyane/copilot-gateway/internal/translator/ir"
	"github.com/nghyane/copilot-gateway/internal/usage"
)

// completionRequest is a client request after classification and model
// rewriting, ready for the upstream.
type completionRequest struct {
	id       string
	prepared *translator.Prepared
	payload  []byte
	// model is the upstream model id; display is what a message-block client
	// is told it talked to.
	model   string
	display string
	record  usage.Record
}

func readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize))
	if err != nil {
		respondError(c, http.StatusBadRequest, "cannot read request body")
		return nil, false
	}
	if !json.Valid(body) {
		respondError(c, http.StatusBadRequest, "request body is not valid JSON")
		return nil, false
	}
	return body, true
}

// prepare classifies and transcodes the body, normalizes the model and fills
// max_tokens from the catalog when the client left it out.
func (s *Server) prepare(ctx context.Context, body []byte) (*completionRequest, error) {
	prepared, err := s.deps.Pipeline.Prepare(body)
	if err != nil {
		return nil, err
	}
	req := &completionRequest{
		id:       uuid.NewString(),
		prepared: prepared,
		payload:  prepared.Payload,
		model:    prepared.Model,
		display:  prepared.Model,
	}
	if prepared.Signal != "" {
		log.Debugf("request %s: message-block payload (%s)", req.id, prepared.Signal)
	}

	if s.deps.Mapper != nil && prepared.Model != "" {
		req.model = s.deps.Mapper.Normalize(prepared.Model)
		req.display = s.deps.Mapper.Display(req.model)
		if req.model != prepared.Model {
			log.Debugf("model %s -> %s", prepared.Model, req.model)
			if req.payload, err = sjson.SetBytes(req.payload, "model", req.model); err != nil {
				return nil, err
			}
		}
	}

	if mt := gjson.GetBytes(req.payload, "max_tokens"); (!mt.Exists() || mt.Type == gjson.Null) && s.deps.Catalog != nil {
		if limit := s.deps.Catalog.MaxOutputTokens(ctx, req.model); limit > 0 {
			if req.payload, err = sjson.SetBytes(req.payload, "max_tokens", limit); err != nil {
				return nil, err
			}
		}
	}

	req.record = usage.Record{
		Model:  req.model,
		Format: string(prepared.Format),
		Stream: prepared.Stream,
	}
	if gjson.GetBytes(req.payload, "messages").Exists() {
		req.record.InputTokens = int64(s.deps.Tokenizer.CountPayload(req.payload))
		log.Infof("Current token count: %d", req.record.InputTokens)
	}
	return req, nil
}

// completions serves both dialects on every completion route.
func (s *Server) completions(c *gin.Context) {
	start := time.Now()
	body, ok := readBody(c)
	if !ok {
		return
	}

	req, err := s.prepare(c.Request.Context(), body)
	if err != nil {
		log.Warnf("rejecting request: %v", err)
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	req.record.RequestedAt = start
	s.deps.Payloads.Log(req.id, "request", body)
	s.deps.Payloads.Log(req.id, "upstream-request", req.payload)

	if req.prepared.Stream {
		s.stream(c, req)
	} else {
		s.complete(c, req)
	}
	req.record.Latency = time.Since(start)
	s.deps.Usage.Record(req.record)
	if s.deps.Usage == nil {
		s.deps.Metrics.Observe(req.record)
	}
}

func (s *Server) fail(c *gin.Context, req *completionRequest, err error) {
	status, message := statusForError(err)
	req.record.Status = status
	req.record.Failed = true
	if errors.Is(err, context.Canceled) {
		log.Debugf("client went away: %v", err)
		return
	}
	log.WithError(err).Warnf("upstream call failed for model %s", req.model)
	if errors.Is(err, executor.ErrCircuitOpen) {
		s.deps.Metrics.BreakerRejected()
	}
	s.deps.Metrics.UpstreamError(status)
	respondError(c, status, message)
}

func (s *Server) complete(c *gin.Context, req *completionRequest) {
	body, err := s.deps.Upstream.Execute(c.Request.Context(), req.payload)
	if err != nil {
		s.fail(c, req, err)
		return
	}
	out, u, err := s.deps.Pipeline.TranscodeResponse(req.prepared.Format, body, req.display)
	if err != nil {
		log.WithError(err).Error("transcoding upstream response")
		req.record.Status = http.StatusInternalServerError
		req.record.Failed = true
		respondError(c, http.StatusInternalServerError, "internal server error")
		return
	}
	applyUsage(&req.record, u)
	req.record.Status = http.StatusOK
	s.deps.Payloads.Log(req.id, "response", out)
	c.Data(http.StatusOK, "application/json", out)
}

func (s *Server) stream(c *gin.Context, req *completionRequest) {
	ctx := c.Request.Context()
	chunks, err := s.deps.Upstream.ExecuteStream(ctx, req.payload)
	if err != nil {
		s.fail(c, req, err)
		return
	}
	defer s.deps.Metrics.StreamStarted()()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()
	req.record.Status = http.StatusOK

	proc := s.deps.Pipeline.NewStreamProcessor(req.prepared.Format, req.display)
	write := func(frames [][]byte) bool {
		for _, frame := range frames {
			if _, err := c.Writer.Write(frame); err != nil {
				return false
			}
			if s.deps.Payloads.Enabled() {
				s.deps.Payloads.Log(req.id, "response", frame)
			}
		}
		if len(frames) > 0 {
			c.Writer.Flush()
		}
		return true
	}

	interrupted := false
	var upstreamErr error
	for chunk := range chunks {
		if chunk.Err != nil {
			upstreamErr = chunk.Err
			break
		}
		if !write(proc.Process(chunk.Data)) {
			interrupted = true
			break
		}
		if proc.Done() {
			break
		}
	}

	if ctx.Err() != nil {
		interrupted = true
	}
	switch {
	case interrupted:
		log.Debugf("stream for model %s interrupted by client", req.model)
		req.record.Failed = true
		// Best effort, the result is ignored.
		write(proc.Finish())
	case upstreamErr != nil:
		status, message := statusForError(upstreamErr)
		log.WithError(upstreamErr).Warnf("upstream stream for model %s failed", req.model)
		req.record.Failed = true
		s.deps.Metrics.UpstreamError(status)
		if write(proc.Fail(streamErrorType(status), message)) {
			write(proc.Finish())
		}
	default:
		write(proc.Finish())
	}
	applyUsage(&req.record, proc.Usage())
}

func applyUsage(r *usage.Record, u *ir.Usage) {
	if u == nil {
		return
	}
	if u.PromptTokens > 0 {
		r.InputTokens = u.PromptTokens
	}
	r.OutputTokens = u.CompletionTokens
	r.TotalTokens = u.TotalTokens
}

// countTokens estimates the prompt size of a request in either dialect.
func (s *Server) countTokens(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	prepared, err := s.deps.Pipeline.Prepare(body)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"input_tokens": s.deps.Tokenizer.CountPayload(prepared.Payload)})
}
