// Package server wires the dashboard API together and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xaenox/midas/internal/agent"
	"github.com/xaenox/midas/internal/alerts"
	"github.com/xaenox/midas/internal/backend"
	"github.com/xaenox/midas/internal/classifier"
	cronrunner "github.com/xaenox/midas/internal/cron"
	"github.com/xaenox/midas/internal/handler"
	"github.com/xaenox/midas/internal/narrative"
	"github.com/xaenox/midas/internal/notify"
	"github.com/xaenox/midas/internal/offline"
	"github.com/xaenox/midas/internal/prepare"
	"github.com/xaenox/midas/internal/ratelimit"
	"github.com/xaenox/midas/internal/settings"
	"github.com/xaenox/midas/internal/storage"
	"github.com/xaenox/midas/pkg/config"
)

// Deps are the collaborators that talk to the outside world. Missing ones
// are built from the config.
type Deps struct {
	Agent   agent.Agent
	Backend handler.Backend
	History storage.HistoryStore
	// UI fetches pages for the offline worker. Nil means the configured
	// upstream, or no proxying when none is configured.
	UI  offline.Fetcher
	Now func() time.Time
}

type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	engine *gin.Engine

	history  storage.HistoryStore
	limiters map[string]*ratelimit.Limiter
	worker   *offline.Worker
	scanner  *alerts.Scanner
	notifier *notify.Notifier
	runner   *prepare.Runner
	proxy    bool

	closers []func() error
}

// New builds the server and every collaborator the config names.
func New(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	return Build(cfg, logger, Deps{})
}

func Build(cfg *config.Config, logger *zap.Logger, deps Deps) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Server{cfg: cfg, logger: logger}

	if deps.Agent == nil {
		deps.Agent = agent.NewDockerRuntime(agent.DockerConfig{
			Binary:            cfg.Agent.DockerBinary,
			Container:         cfg.Agent.Container,
			ScriptDir:         cfg.Agent.ScriptDir,
			StatePath:         cfg.Agent.StatePath,
			Python:            cfg.Agent.Python,
			CommandTimeout:    cfg.Agent.CommandTimeout,
			AllowedContainers: cfg.Agent.AllowedContainers,
		}, logger.Named("agent"))
	}
	if deps.Backend == nil {
		deps.Backend = backend.NewClient(backend.Config{
			BaseURL: cfg.Backend.BaseURL,
			APIKey:  cfg.Backend.APIKey,
			Timeout: cfg.Backend.Timeout,
		}, logger.Named("backend"))
	}
	if deps.History == nil {
		h, err := openHistory(cfg, logger)
		if err != nil {
			return nil, err
		}
		deps.History = h
	}
	s.history = deps.History
	s.closers = append(s.closers, deps.History.Close)

	tg := notify.NewTelegram(cfg.Telegram.APIEndpoint, cfg.Telegram.Timeout, logger.Named("telegram"))
	store := settings.NewStore(cfg.Settings.Path, tg, logger.Named("settings"))
	s.notifier = notify.NewNotifier(tg, func() (bool, string, string) {
		t := store.Load().Alerts.Telegram
		token := t.BotToken
		if token == "" {
			token = cfg.Telegram.Token
		}
		return t.Enabled, token, t.ChatID
	})

	s.buildWorker(deps.UI)

	gen, err := narrative.New(cfg.Narrative.Provider, deps.Agent, narrative.OpenAIConfig{
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		Model:       cfg.OpenAI.Model,
		MaxTokens:   cfg.OpenAI.MaxTokens,
		Temperature: cfg.OpenAI.Temperature,
	}, deps.History, logger.Named("narrative"))
	if err != nil {
		s.Close()
		return nil, err
	}

	window := cfg.RateLimit.Window
	s.limiters = map[string]*ratelimit.Limiter{
		"analysis":  ratelimit.NewWithClock(ratelimit.Policy{Max: cfg.RateLimit.Analysis, Window: window}, deps.Now),
		"control":   ratelimit.NewWithClock(ratelimit.Policy{Max: cfg.RateLimit.Control, Window: window}, deps.Now),
		"narrative": ratelimit.NewWithClock(ratelimit.Policy{Max: cfg.RateLimit.Narrative, Window: window}, deps.Now),
	}

	pipeline := &classifier.Pipeline{Source: deps.Agent, Classifier: classifier.NewWithClock(deps.Now)}
	s.scanner = alerts.NewScanner(pipeline, s.worker, s.notifier.Enabled, logger.Named("alerts"))
	s.runner = prepare.NewRunner(deps.Agent, cfg.Prepare.ResultsPath, cfg.Prepare.ProgressPath, logger.Named("prepare")).
		WithTimeout(cfg.Prepare.Timeout)

	if cfg.Log.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(handler.RequestID())
	engine.Use(handler.AccessLog(logger.Named("http")))
	engine.Use(handler.CORS(cfg.Server.CORSOrigins))
	engine.Use(gin.Recovery())

	(&handler.HealthHandler{}).Register(engine)
	(&handler.LogsHandler{Pipeline: pipeline, Agent: deps.Agent, Now: deps.Now, Logger: logger}).Register(engine)
	(&handler.BotHandler{Agent: deps.Agent, Limiter: s.limiters["control"], Now: deps.Now, Logger: logger}).Register(engine)
	(&handler.AnalysisHandler{
		Runtime: deps.Agent,
		History: deps.History,
		Limiter: s.limiters["analysis"],
		Timeout: cfg.Agent.AnalysisTimeout,
		Now:     deps.Now,
		Logger:  logger,
	}).Register(engine)
	(&handler.NarrativeHandler{Generator: gen, Limiter: s.limiters["narrative"], Logger: logger}).Register(engine)
	(&handler.ReportHandler{Agent: deps.Agent, Timeout: cfg.Agent.ReportTimeout, Logger: logger}).Register(engine)
	(&handler.PrepareHandler{Runner: s.runner, Logger: logger}).Register(engine)
	(&handler.PortfolioHandler{Backend: deps.Backend, Now: deps.Now, Logger: logger}).Register(engine)
	(&handler.SettingsHandler{Store: store, Logger: logger}).Register(engine)
	(&handler.OfflineHandler{Worker: s.worker, Proxy: s.proxy, Logger: logger}).Register(engine)
	s.engine = engine

	return s, nil
}

func openHistory(cfg *config.Config, logger *zap.Logger) (storage.HistoryStore, error) {
	switch cfg.History.Driver {
	case "memory":
		logger.Info("using in-memory analysis history")
		return storage.NewMemoryHistory(), nil
	case "postgres":
		logger.Info("using PostgreSQL analysis history")
		h, err := storage.NewPostgresHistory(storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		}, logger.Named("history"))
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		return h, nil
	}
	logger.Info("using file analysis history", zap.String("path", cfg.History.Path))
	return storage.NewFileHistory(cfg.History.Path, logger.Named("history")), nil
}

func (s *Server) buildWorker(ui offline.Fetcher) {
	oc := s.cfg.Offline
	if ui == nil && oc.Enabled && oc.UIUpstream != "" {
		ui = offline.NewHTTPFetcher(oc.UIUpstream, oc.Timeout)
	}
	s.proxy = oc.Enabled && ui != nil

	var caches offline.CacheStorage
	if s.proxy && oc.Cache == "redis" {
		rc := offline.NewRedisCache(&redis.Options{
			Addr:     s.cfg.Redis.Addr,
			Password: s.cfg.Redis.Password,
			DB:       s.cfg.Redis.DB,
		}, s.cfg.Redis.Prefix)
		s.closers = append(s.closers, rc.Close)
		caches = rc
	}

	s.worker = offline.New(offline.Config{
		CacheName: oc.CacheName,
		Fetcher:   ui,
		Caches:    caches,
		Displayer: alerts.TelegramDisplayer{Notifier: s.notifier},
	}, s.logger.Named("offline"))
}

func (s *Server) Handler() http.Handler { return s.engine }

// Warm installs and activates the offline worker when it proxies the UI.
// Failures leave the worker passing requests straight to the upstream.
func (s *Server) Warm(ctx context.Context) {
	if !s.proxy {
		return
	}
	if err := s.worker.Install(ctx); err != nil {
		s.logger.Warn("offline install failed", zap.Error(err))
		return
	}
	if err := s.worker.Activate(ctx); err != nil {
		s.logger.Warn("offline activate failed", zap.Error(err))
	}
}

func (s *Server) pruneLimiters() int {
	removed := 0
	for _, l := range s.limiters {
		removed += l.Prune()
	}
	return removed
}

func (s *Server) scheduleJobs(runner *cronrunner.Runner) error {
	if _, err := runner.Add("ratelimit.gc", s.cfg.Cron.RateLimitGC, func(context.Context) {
		if n := s.pruneLimiters(); n > 0 {
			s.logger.Debug("pruned rate limit records", zap.Int("removed", n))
		}
	}); err != nil {
		return fmt.Errorf("schedule ratelimit.gc: %w", err)
	}
	if _, err := runner.Add("alerts.scan", s.cfg.Cron.AlertsScan, func(ctx context.Context) {
		n, err := s.scanner.Scan(ctx)
		if err != nil {
			s.logger.Warn("alert scan failed", zap.Error(err))
			return
		}
		if n > 0 {
			s.logger.Info("alerts pushed", zap.Int("count", n))
		}
	}); err != nil {
		return fmt.Errorf("schedule alerts.scan: %w", err)
	}
	return nil
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.Warm(ctx)

	if s.cfg.Cron.Enabled {
		runner := cronrunner.New(s.logger.Named("cron"), ctx)
		if err := s.scheduleJobs(runner); err != nil {
			return err
		}
		runner.Start()
		defer runner.Stop()
	}

	srv := &http.Server{
		Addr:              s.cfg.Server.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: s.cfg.Server.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", zap.String("addr", s.cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown requested")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Close waits for an in-flight preparation run, bounded by the shutdown
// timeout, then releases every collaborator.
func (s *Server) Close() error {
	if s.runner != nil && !s.runner.WaitTimeout(s.cfg.Server.ShutdownTimeout) {
		s.logger.Warn("prepare run still in flight at shutdown")
		s.runner.Abandon("interrupted by shutdown")
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
