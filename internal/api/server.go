// Package api serves the gateway's HTTP surface: the two completion
// dialects, model listing, token counting, usage and metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nghyane/copilot-gateway/internal/config"
	log "github.com/nghyane/copilot-gateway/internal/logging"
	"github.com/nghyane/copilot-gateway/internal/registry"
	"github.com/nghyane/copilot-gateway/internal/streamutil"
	"github.com/nghyane/copilot-gateway/internal/tokenizer"
	"github.com/nghyane/copilot-gateway/internal/translator"
	"github.com/nghyane/copilot-gateway/internal/usage"
)

const (
	maxBodySize     = 32 << 20
	shutdownTimeout = 30 * time.Second
)

// Upstream is the chat completion backend.
type Upstream interface {
	Execute(ctx context.Context, payload []byte) ([]byte, error)
	ExecuteStream(ctx context.Context, payload []byte) (<-chan streamutil.Chunk, error)
	Embeddings(ctx context.Context, payload []byte) ([]byte, error)
}

// Dependencies are the services the handlers share. Usage, Metrics and
// Payloads may be nil.
type Dependencies struct {
	Pipeline  *translator.Pipeline
	Upstream  Upstream
	Catalog   *registry.Catalog
	Mapper    *registry.ModelMapper
	Tokenizer *tokenizer.Counter
	Usage     *usage.Recorder
	Metrics   *usage.Metrics
	Payloads  *log.PayloadLogger
}

// Server owns the gin engine and the http.Server around it.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	limiter    *RateLimiter
	deps       Dependencies
}

func NewServer(cfg *config.Config, deps Dependencies) *Server {
	if deps.Pipeline == nil {
		deps.Pipeline = translator.NewPipeline(nil)
	}
	if deps.Tokenizer == nil {
		deps.Tokenizer = tokenizer.New()
	}
	if deps.Payloads == nil {
		deps.Payloads = log.NewPayloadLogger(cfg.PayloadLogging)
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		engine:  gin.New(),
		limiter: NewRateLimiter(cfg.RateLimit),
		deps:    deps,
	}
	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           s.engine,
		ReadHeaderTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	limit := s.limiter.Middleware(s.deps.Metrics.RateLimited)

	s.engine.GET("/", s.health)

	s.engine.POST("/chat/completions", limit, s.completions)
	s.engine.POST("/v1/chat/completions", limit, s.completions)
	s.engine.POST("/v1/messages", limit, s.completions)
	s.engine.POST("/v1/messages/count_tokens", s.countTokens)
	s.engine.POST("/embeddings", limit, s.embeddings)
	s.engine.POST("/v1/embeddings", limit, s.embeddings)

	s.engine.GET("/models", s.models)
	s.engine.GET("/v1/models", s.models)

	s.engine.GET("/usage", s.usage)
	if s.deps.Metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) Addr() string { return s.httpServer.Addr }

// UpdateConfig applies the settings that can change without a restart.
func (s *Server) UpdateConfig(cfg *config.Config) {
	s.limiter.Update(cfg.RateLimit)
	s.deps.Payloads.SetEnabled(cfg.PayloadLogging)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("API server listening on %s", ln.Addr())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	log.Infof("shutting down API server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.String(http.StatusOK, "Server running")
}
