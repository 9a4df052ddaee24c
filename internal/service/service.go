// Package service wires the gateway's long-lived components with
// go.uber.org/dig and runs them.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/dig"

	"github.com/nghyane/copilot-gateway/internal/api"
	"github.com/nghyane/copilot-gateway/internal/auth/copilot"
	"github.com/nghyane/copilot-gateway/internal/config"
	log "github.com/nghyane/copilot-gateway/internal/logging"
	"github.com/nghyane/copilot-gateway/internal/registry"
	"github.com/nghyane/copilot-gateway/internal/resilience"
	"github.com/nghyane/copilot-gateway/internal/runtime/executor"
	"github.com/nghyane/copilot-gateway/internal/tokenizer"
	"github.com/nghyane/copilot-gateway/internal/translator"
	"github.com/nghyane/copilot-gateway/internal/translator/ir"
	"github.com/nghyane/copilot-gateway/internal/usage"
)

// Service holds the resolved components. Callers use the getters and never
// import dig.
type Service struct {
	cfg        *config.Config
	configPath string

	githubToken githubToken
	transports  *resilience.Transports
	github      *copilot.GitHubClient
	tokens      *copilot.TokenSource
	executor    *executor.CopilotExecutor
	catalog     *registry.Catalog
	mapper      *registry.ModelMapper
	recorder    *usage.Recorder
	server      *api.Server

	// reloadEnv re-applies environment overrides to a reloaded config.
	reloadEnv func(*config.Config) error
	closeOnce sync.Once
}

func (s *Service) Config() *config.Config              { return s.cfg }
func (s *Service) Executor() *executor.CopilotExecutor { return s.executor }
func (s *Service) Catalog() *registry.Catalog          { return s.catalog }
func (s *Service) Mapper() *registry.ModelMapper       { return s.mapper }
func (s *Service) Server() *api.Server                 { return s.server }
func (s *Service) Usage() *usage.Recorder              { return s.recorder }

// githubToken is a named type so dig can tell it from other strings.
type githubToken string

// Option adjusts construction, mainly for tests.
type Option func(*options)

type options struct {
	githubAPIURL string
	reloadEnv    func(*config.Config) error
}

// WithGitHubAPIURL points the token exchange at another GitHub API host.
func WithGitHubAPIURL(u string) Option {
	return func(o *options) { o.githubAPIURL = u }
}

// WithReloadHook runs fn on every reloaded config before it is applied.
func WithReloadHook(fn func(*config.Config) error) Option {
	return func(o *options) { o.reloadEnv = fn }
}

// New builds and wires all services from cfg. configPath is watched for
// changes by Run; it may be empty.
func New(cfg *config.Config, configPath string, opts ...Option) (*Service, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	d := dig.New()
	providers := []any{
		func() *config.Config { return cfg },
		func() options { return o },
		resolveGitHubToken,
		newTransports,
		newHTTPClient,
		newUpstreamSettings,
		newGitHubClient,
		newTokenSource,
		newExecutor,
		newCatalog,
		newModelMapper,
		usage.NewMetrics,
		newRecorder,
		tokenizer.New,
		newPipeline,
		newPayloadLogger,
		newServer,
	}
	for _, p := range providers {
		if err := d.Provide(p); err != nil {
			return nil, err
		}
	}

	var svc *Service
	err := d.Invoke(func(
		token githubToken,
		transports *resilience.Transports,
		gh *copilot.GitHubClient,
		tokens *copilot.TokenSource,
		exec *executor.CopilotExecutor,
		catalog *registry.Catalog,
		mapper *registry.ModelMapper,
		recorder *usage.Recorder,
		server *api.Server,
	) {
		svc = &Service{
			cfg:         cfg,
			configPath:  configPath,
			githubToken: token,
			transports:  transports,
			github:      gh,
			tokens:      tokens,
			executor:    exec,
			catalog:     catalog,
			mapper:      mapper,
			recorder:    recorder,
			server:      server,
			reloadEnv:   o.reloadEnv,
		}
	})
	if err != nil {
		return nil, dig.RootCause(err)
	}
	return svc, nil
}

func resolveGitHubToken(cfg *config.Config) (githubToken, error) {
	token, err := copilot.ResolveGitHubToken(cfg.GitHubToken, copilot.NewTokenFile(cfg.AuthDir))
	if err != nil {
		return "", err
	}
	return githubToken(token), nil
}

func newTransports() *resilience.Transports {
	return resilience.NewTransports(resilience.DefaultTransportSettings)
}

func newHTTPClient(cfg *config.Config, t *resilience.Transports) (*http.Client, error) {
	return t.Client(cfg.ProxyURL, 0)
}

// upstreamSettings is cfg.Upstream with the editor version resolved once
// per process.
type upstreamSettings config.UpstreamConfig

func newUpstreamSettings(cfg *config.Config, client *http.Client) upstreamSettings {
	up := cfg.Upstream
	up.EditorVersion = copilot.ResolveEditorVersion(context.Background(), client, up.EditorVersionURL, up.EditorVersion)
	return upstreamSettings(up)
}

func newGitHubClient(up upstreamSettings, client *http.Client, o options) *copilot.GitHubClient {
	return copilot.NewGitHubClient(client, o.githubAPIURL, config.UpstreamConfig(up))
}

func newTokenSource(gh *copilot.GitHubClient, token githubToken) *copilot.TokenSource {
	return copilot.NewTokenSource(gh, string(token), copilot.DefaultTokenSourceConfig())
}

func newExecutor(up upstreamSettings, tokens *copilot.TokenSource, client *http.Client) *executor.CopilotExecutor {
	return executor.NewCopilotExecutor(config.UpstreamConfig(up), tokens, client)
}

func newCatalog(cfg *config.Config, exec *executor.CopilotExecutor) *registry.Catalog {
	return registry.NewCatalog(exec, cfg.Models.CacheTTL)
}

func newModelMapper(cfg *config.Config, catalog *registry.Catalog) *registry.ModelMapper {
	m := registry.NewModelMapper(cfg.Models)
	catalog.OnRefresh(m.Remember)
	return m
}

func newRecorder(cfg *config.Config, metrics *usage.Metrics) (*usage.Recorder, error) {
	return usage.Open(cfg.Usage, metrics)
}

func newPipeline() *translator.Pipeline {
	return translator.NewPipeline(ir.RandomIDs{})
}

func newPayloadLogger(cfg *config.Config) *log.PayloadLogger {
	return log.NewPayloadLogger(cfg.PayloadLogging)
}

type serverParams struct {
	dig.In

	Config    *config.Config
	Pipeline  *translator.Pipeline
	Executor  *executor.CopilotExecutor
	Catalog   *registry.Catalog
	Mapper    *registry.ModelMapper
	Tokenizer *tokenizer.Counter
	Usage     *usage.Recorder
	Metrics   *usage.Metrics
	Payloads  *log.PayloadLogger
}

func newServer(p serverParams) *api.Server {
	return api.NewServer(p.Config, api.Dependencies{
		Pipeline:  p.Pipeline,
		Upstream:  p.Executor,
		Catalog:   p.Catalog,
		Mapper:    p.Mapper,
		Tokenizer: p.Tokenizer,
		Usage:     p.Usage,
		Metrics:   p.Metrics,
		Payloads:  p.Payloads,
	})
}

// Run starts token renewal, warms the model catalog, watches the config file
// and serves HTTP until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	defer s.Close()

	if err := s.tokens.Start(ctx); err != nil {
		return fmt.Errorf("exchange copilot token: %w", err)
	}
	if login, err := s.github.User(ctx, string(s.githubToken)); err == nil {
		log.Infof("Logged in as %s", login)
	} else {
		log.WithError(err).Debug("could not look up GitHub user")
	}

	go s.warmCatalog(ctx)

	if s.configPath != "" {
		if w, err := config.NewWatcher(s.configPath, s.reload); err != nil {
			log.WithError(err).Warn("config hot reload disabled")
		} else {
			go func() {
				if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.WithError(err).Warn("config watcher stopped")
				}
			}()
		}
	}

	log.Infof("Copilot upstream: %s", s.executor.BaseURL())
	return s.server.Run(ctx)
}

const warmAttempts = 5

func (s *Service) warmCatalog(ctx context.Context) {
	var (
		models []*registry.ModelInfo
		err    error
	)
	for attempt := 0; attempt < warmAttempts; attempt++ {
		if models, err = s.catalog.Models(ctx); err == nil {
			break
		}
		log.WithError(err).Debugf("model catalog warm-up attempt %d failed", attempt+1)
		if resilience.WaitWithContext(ctx, resilience.CalculateBackoff(attempt, time.Second, 30*time.Second)) != nil {
			return
		}
	}
	if err != nil {
		log.WithError(err).Warn("could not load the model catalog; it will be fetched on first use")
		return
	}
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	log.Infof("Available models: %v", ids)
}

// reload applies the settings that can change without a restart.
func (s *Service) reload(next *config.Config) {
	if s.reloadEnv != nil {
		if err := s.reloadEnv(next); err != nil {
			log.WithError(err).Warn("config reload rejected")
			return
		}
	}
	log.SetDebug(next.Debug)
	s.mapper.Update(next.Models)
	s.catalog.SetTTL(next.Models.CacheTTL)
	s.server.UpdateConfig(next)
}

// Close stops background work and flushes usage. Safe to call more than once.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.tokens.Stop()
		if err := s.recorder.Close(); err != nil {
			log.WithError(err).Warn("closing usage backend")
		}
		s.transports.CloseIdle()
	})
}
