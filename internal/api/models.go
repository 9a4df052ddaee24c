package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	log "github.com/nghyane/copilot-gateway/internal/logging"
)

// models lists the upstream catalog with the configured id rewriting.
func (s *Server) models(c *gin.Context) {
	if s.deps.Catalog == nil || s.deps.Mapper == nil {
		respondError(c, http.StatusServiceUnavailable, "model catalog unavailable")
		return
	}
	models, err := s.deps.Catalog.Models(c.Request.Context())
	if err != nil {
		status, message := statusForError(err)
		log.WithError(err).Warn("listing models")
		respondError(c, status, message)
		return
	}
	c.Data(http.StatusOK, "application/json", s.deps.Mapper.Listing(models))
}

// usage reports live counters plus persisted aggregates. The optional since
// query is a Go duration looking back from now, e.g. 24h.
func (s *Server) usage(c *gin.Context) {
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			respondError(c, http.StatusBadRequest, "since must be a positive duration such as 24h")
			return
		}
		since = time.Now().Add(-d)
	}
	c.JSON(http.StatusOK, s.deps.Usage.Snapshot(c.Request.Context(), since))
}
