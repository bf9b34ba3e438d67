package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"

	"github.com/jsquire4/tool-forge-sub001/internal/agents"
	"github.com/jsquire4/tool-forge-sub001/internal/audit"
	"github.com/jsquire4/tool-forge-sub001/internal/auth"
	"github.com/jsquire4/tool-forge-sub001/internal/config"
	"github.com/jsquire4/tool-forge-sub001/internal/conversation"
	"github.com/jsquire4/tool-forge-sub001/internal/gateway"
	"github.com/jsquire4/tool-forge-sub001/internal/hitl"
	"github.com/jsquire4/tool-forge-sub001/internal/observability"
	"github.com/jsquire4/tool-forge-sub001/internal/prefs"
	"github.com/jsquire4/tool-forge-sub001/internal/prompts"
	"github.com/jsquire4/tool-forge-sub001/internal/ratelimit"
	"github.com/jsquire4/tool-forge-sub001/internal/retry"
	"github.com/jsquire4/tool-forge-sub001/internal/tools"
	"github.com/jsquire4/tool-forge-sub001/internal/verifiers"
)

// runServe wires the configured backends into the gateway and serves until
// the context is cancelled or a signal arrives.
func runServe(ctx context.Context, configPath, overlayPath string, debug bool) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	overlay, err := config.NewRuntimeOverlay(overlayPath)
	if err != nil {
		return fmt.Errorf("load config overlay: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage handles. Redis wins over Postgres wins over SQLite per store
	// family; families without a backend for the selected tier fall through
	// to the next one.
	var (
		redisClient *redis.Client
		sqlDB       *sql.DB
		postgres    bool
	)
	if cfg.Storage.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Storage.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		// Redis may still be coming up alongside us; probe with backoff but
		// keep serving on the fallback stores if it never answers.
		if err := retry.Do(ctx, retry.DefaultConfig(), func() error {
			return redisClient.Ping(ctx).Err()
		}); err != nil {
			logger.Warn("redis ping failed, continuing", "error", err)
		}
	}
	switch {
	case cfg.Storage.DatabaseURL != "":
		sqlDB, err = sql.Open("postgres", cfg.Storage.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		postgres = true
		defer sqlDB.Close()
	case cfg.Storage.SQLitePath != "":
		sqlDB, err = sql.Open("sqlite3", cfg.Storage.SQLitePath+"?_busy_timeout=5000&_journal_mode=WAL")
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		defer sqlDB.Close()
	}

	// Conversation store.
	var convs conversation.Store
	switch {
	case redisClient != nil:
		convs = conversation.NewRedisStore(redisClient)
	case postgres:
		convs = conversation.NewPostgresStoreFromDB(sqlDB)
	case sqlDB != nil:
		convs, err = conversation.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
	default:
		convs = conversation.NewMemoryStore()
	}
	defer convs.Close()

	// Agent registry, prompt versions and user preferences are SQL-or-memory.
	var (
		registry    agents.Registry
		promptStore prompts.Store
		prefStore   prefs.Store
	)
	switch {
	case postgres:
		registry = agents.NewPostgresRegistry(sqlDB)
		promptStore = prompts.NewPostgresStore(sqlDB)
		prefStore = prefs.NewPostgresStore(sqlDB)
	case sqlDB != nil:
		registry = agents.NewSQLiteRegistry(sqlDB)
		promptStore = prompts.NewSQLiteStore(sqlDB)
		prefStore = prefs.NewSQLiteStore(sqlDB)
	default:
		registry = agents.NewMemoryRegistry()
		promptStore = prompts.NewMemoryStore()
		prefStore = prefs.NewMemoryStore()
	}
	defer registry.Close()
	defer promptStore.Close()
	defer prefStore.Close()

	agents.Seed(ctx, registry, cfg.Agents, logger)

	// HITL pause state.
	var hitlStore hitl.Store
	switch {
	case redisClient != nil:
		hitlStore = hitl.NewRedisStore(redisClient)
	case postgres:
		hitlStore = hitl.NewPostgresStore(sqlDB)
	case sqlDB != nil:
		hitlStore = hitl.NewSQLiteStore(sqlDB)
	default:
		hitlStore = hitl.NewMemoryStore()
	}
	engine := hitl.NewEngine(hitlStore, time.Duration(cfg.Hitl.ResumeTTLSeconds)*time.Second, logger)
	defer engine.Close()

	// Rate limiting.
	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		rlCfg := ratelimit.Config{
			Enabled:     true,
			Window:      time.Duration(cfg.RateLimit.WindowMs) * time.Millisecond,
			MaxRequests: cfg.RateLimit.MaxRequests,
		}
		if redisClient != nil {
			limiter = ratelimit.NewRedisLimiter(redisClient, rlCfg)
		} else {
			limiter = ratelimit.NewMemoryLimiter(rlCfg)
		}
	}

	// Authentication.
	var userAuth auth.Authenticator
	if cfg.Auth.Mode == config.AuthVerify {
		userAuth = auth.NewVerifyAuthenticator(cfg.Auth.SigningKey, cfg.Auth.IdentityClaim)
	} else {
		userAuth = auth.NewTrustAuthenticator(cfg.Auth.IdentityClaim)
	}
	adminAuth := auth.NewAdminAuthenticator(cfg.Auth.AdminKey)

	// Tool registry and dispatcher.
	toolReg, err := tools.NewRegistry(cfg.Tools.Specs)
	if err != nil {
		return fmt.Errorf("load tool registry: %w", err)
	}
	dispatcher := tools.NewDispatcher(cfg.Tools.BaseURL, nil)

	// Verifier pipeline: declarative bindings from the config file plus
	// custom verifiers from the watched directory.
	var results verifiers.ResultStore
	switch {
	case postgres:
		results = verifiers.NewPostgresResultStore(sqlDB)
	case sqlDB != nil:
		results = verifiers.NewSQLiteResultStore(sqlDB)
	default:
		results = verifiers.NewMemoryResultStore()
	}
	runner := verifiers.NewRunner(results, logger)
	verifiers.BuildFromConfig(runner, cfg.Verifiers.Definitions, logger)

	var pool *verifiers.WorkerPool
	if cfg.Verifiers.Dir != "" {
		sandboxed := cfg.Verifiers.Sandboxed == nil || *cfg.Verifiers.Sandboxed
		if sandboxed {
			pool = verifiers.NewWorkerPool(cfg.Verifiers.PoolSize, logger)
			defer pool.Destroy()
		}
		custom, err := verifiers.LoadCustomDir(cfg.Verifiers.Dir, pool, logger)
		if err != nil {
			logger.Warn("custom verifier load failed", "dir", cfg.Verifiers.Dir, "error", err)
		} else {
			runner.SetCustom(custom)
		}
		watcher, err := verifiers.NewWatcher(cfg.Verifiers.Dir, runner, pool, logger)
		if err != nil {
			logger.Warn("verifier watcher unavailable", "dir", cfg.Verifiers.Dir, "error", err)
		} else {
			defer watcher.Close()
		}
	}

	// Audit trail.
	var sink audit.Sink
	switch {
	case postgres:
		sink = audit.NewPostgresSink(sqlDB)
	case sqlDB != nil:
		sink = audit.NewSQLiteSink(sqlDB)
	default:
		sink = audit.NewMemorySink()
	}
	recorder := audit.NewRecorder(sink, logger)
	defer recorder.Close()

	// Observability.
	metrics := observability.NewMetrics()
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "forged",
		ServiceVersion: version,
		Endpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		EnableInsecure: true,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	server, err := gateway.NewServer(gateway.Options{
		Config:        cfg,
		Overlay:       overlay,
		UserAuth:      userAuth,
		AdminAuth:     adminAuth,
		Limiter:       limiter,
		Agents:        registry,
		Prompts:       promptStore,
		Prefs:         prefStore,
		Resolver:      prefs.NewResolver(prefStore, os.Getenv),
		Conversations: convs,
		Hitl:          engine,
		Verifiers:     runner,
		Tools:         toolReg,
		Dispatcher:    dispatcher,
		Audit:         recorder,
		Metrics:       metrics,
		Tracer:        tracer,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
