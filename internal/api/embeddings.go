package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	log "github.com/nghyane/copilot-gateway/internal/logging"
	"github.com/nghyane/copilot-gateway/internal/translator/ir"
	"github.com/nghyane/copilot-gateway/internal/usage"
)

// embeddings forwards a chat-array embeddings request unchanged apart from
// model normalization.
func (s *Server) embeddings(c *gin.Context) {
	start := time.Now()
	body, ok := readBody(c)
	if !ok {
		return
	}

	req := &completionRequest{
		id:      uuid.NewString(),
		payload: body,
		model:   gjson.GetBytes(body, "model").String(),
	}
	if s.deps.Mapper != nil && req.model != "" {
		if normalized := s.deps.Mapper.Normalize(req.model); normalized != req.model {
			log.Debugf("embeddings model %s -> %s", req.model, normalized)
			req.model = normalized
			var err error
			if req.payload, err = sjson.SetBytes(req.payload, "model", normalized); err != nil {
				respondError(c, http.StatusBadRequest, err.Error())
				return
			}
		}
	}
	req.record = usage.Record{Model: req.model, Format: string(ir.FormatOpenAI), RequestedAt: start}
	s.deps.Payloads.Log(req.id, "request", body)

	out, err := s.deps.Upstream.Embeddings(c.Request.Context(), req.payload)
	if err != nil {
		s.fail(c, req, err)
	} else {
		if u := gjson.GetBytes(out, "usage"); u.IsObject() {
			req.record.InputTokens = u.Get("prompt_tokens").Int()
			req.record.TotalTokens = u.Get("total_tokens").Int()
		}
		req.record.Status = http.StatusOK
		s.deps.Payloads.Log(req.id, "response", out)
		c.Data(http.StatusOK, "application/json", out)
	}

	req.record.Latency = time.Since(start)
	s.deps.Usage.Record(req.record)
	if s.deps.Usage == nil {
		s.deps.Metrics.Observe(req.record)
	}
}
