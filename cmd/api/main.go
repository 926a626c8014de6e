package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/saurabh2727/property-finder/internal/ai"
	"github.com/saurabh2727/property-finder/internal/analysis"
	"github.com/saurabh2727/property-finder/internal/config"
	"github.com/saurabh2727/property-finder/internal/domain"
	httpapi "github.com/saurabh2727/property-finder/internal/http"
	"github.com/saurabh2727/property-finder/internal/matching"
	"github.com/saurabh2727/property-finder/internal/ml"
	"github.com/saurabh2727/property-finder/internal/recommend"
	"github.com/saurabh2727/property-finder/internal/session"
	"github.com/saurabh2727/property-finder/internal/storage"
)

func main() {
	logger := log.New(os.Stderr, "property-finder: ", log.LstdFlags|log.Lmsgprefix)

	cfg, err := config.Load(getEnv("CONFIG_PATH", "configs/config.yaml"))
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rule, err := matching.NewEngineFromFile(cfg.Matching.WeightsPath)
	if err != nil {
		logger.Printf("use risk-tolerance weight presets (reason: %v)", err)
	}

	engines := recommend.Engines{
		AI:   ai.NewEngine(newCompleter(cfg.AI, logger), ai.WithDigestLimit(cfg.AI.DigestLimit), ai.WithMinViability(cfg.AI.MinViability)),
		Rule: rule,
	}
	if cfg.ML.ModelPath != "" {
		mlEngine := ml.NewEngine(cfg.ML.ModelPath, logger)
		engines.ML = mlEngine
		if cfg.ML.Watch {
			watchModel(ctx, mlEngine, logger)
		}
	}

	backend, closeBackend, err := openBackend(cfg.Sessions)
	if err != nil {
		logger.Fatalf("open session backend: %v", err)
	}
	defer closeBackend()

	var catalog *domain.Catalog
	if cfg.CatalogPath != "" {
		catalog, err = storage.LoadCatalogFromFile(cfg.CatalogPath)
		if err != nil {
			logger.Fatalf("load catalog: %v", err)
		}
		logger.Printf("default catalog %s: %d suburbs", catalog.ID(), catalog.Len())
	}

	order, _ := cfg.EngineOrder()
	store := session.NewStore(backend, session.WithRetain(cfg.Sessions.Retain), session.WithLogger(logger))
	orchestrator := recommend.NewOrchestrator(engines, recommend.Timeouts{
		AI:   cfg.Engines.Timeouts.AI,
		Rule: cfg.Engines.Timeouts.Rule,
		ML:   cfg.Engines.Timeouts.ML,
	}, logger)
	svc := analysis.NewService(orchestrator, store, order, logger)

	srv := httpapi.NewServer(svc, store, catalog, logger)
	if p, ok := backend.(httpapi.Pinger); ok {
		srv.Backend = p
	}
	if n := cfg.Server.RecommendPerMinute; n > 0 {
		srv.Limiter = httpapi.NewRateLimiter(n, time.Minute)
		defer srv.Limiter.Stop()
	}

	server := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: srv.Routes(),
		// Long enough for the AI budget plus a fallback engine.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Engines.Timeouts.AI + cfg.Engines.Timeouts.Rule + cfg.Engines.Timeouts.ML + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Printf("API listening on %s (sessions: %s, engines: %v)", cfg.Server.Address, cfg.Sessions.Backend, order)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		logger.Printf("server error: %v", err)
		return
	case <-ctx.Done():
		logger.Println("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}

func newCompleter(cfg config.AIConfig, logger *log.Logger) ai.Completer {
	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			logger.Printf("ai engine disabled: OPENAI_API_KEY not set")
			return nil
		}
		return ai.NewOpenAIClient(ai.OpenAIOptions{
			APIKey:      cfg.APIKey,
			URL:         cfg.BaseURL,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
	case "ollama":
		return ai.NewOllamaClient(cfg.BaseURL, cfg.Model)
	}
	logger.Printf("ai engine disabled by configuration")
	return nil
}

func openBackend(cfg config.SessionConfig) (session.Backend, func(), error) {
	switch cfg.Backend {
	case "redis":
		r := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPrefix)
		return r, func() { _ = r.Close() }, nil
	case "memory":
		return session.NewMemoryBackend(), func() {}, nil
	}
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, err
		}
	}
	s, err := storage.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	if err := s.EnsureSchema(); err != nil {
		_ = s.Close()
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

// watchModel reloads the ML artifact whenever it is replaced on disk.
func watchModel(ctx context.Context, e *ml.Engine, logger *log.Logger) {
	fw, err := config.NewFileWatcher(e.Path(), logger)
	if err != nil {
		logger.Printf("ml model watch disabled: %v", err)
		return
	}
	go func() {
		defer fw.Close()
		fw.Run(ctx, func(path string) {
			if err := e.Reload(); err != nil {
				logger.Printf("ml model reload from %s failed, keeping previous model: %v", path, err)
				return
			}
			logger.Printf("ml model reloaded from %s", path)
		})
	}()
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
