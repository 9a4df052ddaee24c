package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	log "github.com/nghyane/copilot-gateway/internal/logging"
)

// corsMiddleware allows any origin and answers preflight requests directly.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "*")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// setupMiddleware installs the global chain: logging, recovery, CORS, then
// any extra handlers.
func (s *Server) setupMiddleware(extra ...gin.HandlerFunc) {
	s.engine.Use(log.GinLogrusLogger())
	s.engine.Use(log.GinLogrusRecovery())
	s.engine.Use(corsMiddleware())
	for _, mw := range extra {
		s.engine.Use(mw)
	}
}
