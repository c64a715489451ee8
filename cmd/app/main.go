// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"cineai/internal/config"
	"cineai/internal/domain/model"
	"cineai/internal/domain/ports/repository"
	"cineai/internal/infra/adapters/ai"
	"cineai/internal/infra/adapters/synth"
	"cineai/internal/infra/api"
	"cineai/internal/infra/db/memory"
	pg "cineai/internal/infra/db/postgres"
	"cineai/internal/infra/logging"
	"cineai/internal/infra/metrics"
	red "cineai/internal/infra/redis"
	"cineai/internal/infra/sched"
	"cineai/internal/infra/scheduler"
	"cineai/internal/infra/security"
	"cineai/internal/infra/storage"
	"cineai/internal/infra/worker"
	"cineai/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

const devEncryptionKey = "0123456789abcdef0123456789abcdef"

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, in-memory fallbacks)")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before the config")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "dotenv: %v\n", err)
	}

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("fatal")
	}
}

// stores bundles the persistence choice made at startup.
type stores struct {
	jobs   repository.JobRepository
	convs  repository.ConversationRepository
	tm     repository.TransactionManager
	pool   *pgxpool.Pool
	health []func(context.Context) error
}

func openStores(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*stores, error) {
	if cfg.Database.URL == "" {
		if !cfg.Runtime.Dev {
			return nil, errors.New("database.url is required outside dev mode")
		}
		logger.Warn().Msg("[DEV MODE] database.url empty; using in-memory stores")
		return &stores{jobs: memory.NewJobRepo(), convs: memory.NewConversationRepo()}, nil
	}

	encKey := cfg.Security.EncryptionKey
	if encKey == "" {
		if !cfg.Runtime.Dev {
			return nil, errors.New("security.encryption_key is required")
		}
		logger.Warn().Msg("security.encryption_key not set; falling back to dev key (INSECURE)")
		encKey = devEncryptionKey
	}
	cipher, err := security.NewContentCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("encryption: %w", err)
	}

	pool, err := pg.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	logger.Info().Str("database", logging.Redact(cfg.Database.URL, cfg.Runtime.Dev)).Msg("postgres connected")
	return &stores{
		jobs:  pg.NewJobRepo(pool),
		convs: pg.NewConversationRepo(pool, cipher),
		tm:    pg.NewTxManager(pool),
		pool:  pool,
		health: []func(context.Context) error{func(ctx context.Context) error {
			return pool.Ping(ctx)
		}},
	}, nil
}

func buildRegistry(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*usecase.ProviderRegistry, error) {
	reg := usecase.NewProviderRegistry()

	chats, err := ai.BuildChat(ctx, cfg)
	if err != nil {
		return nil, err
	}
	for _, r := range chats {
		reg.RegisterChat(r.Provider, r.Enabled)
		logger.Info().Str("provider", r.Provider.ID()).Bool("available", r.Provider.Available()).
			Bool("enabled", r.Enabled).Msg("chat provider registered")
	}

	synths, err := synth.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	for _, r := range synths {
		reg.RegisterSynthesis(r.Provider, r.Enabled)
		logger.Info().Str("provider", r.Provider.ID()).Bool("available", r.Provider.Available()).
			Bool("enabled", r.Enabled).Msg("synthesis provider registered")
	}

	for _, c := range model.Capabilities {
		reg.SetOrder(c, cfg.Order(c))
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return reg, nil
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	if cfg.Runtime.Dev {
		logger.Info().Msg("[DEV MODE] Enabled")
	}
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Persistence ----
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if st.pool != nil {
		defer st.pool.Close()
		go pg.ReportPoolStats(ctx, st.pool, 15*time.Second)
	}

	// ---- Redis (optional) ----
	var (
		window  usecase.WindowCache
		leader  sched.Leader
		limiter api.Limiter
	)
	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rc.Close()
		logger.Info().Str("redis", logging.Redact(cfg.Redis.URL, cfg.Runtime.Dev)).Msg("redis connected")
		window = red.NewConversationCache(rc, cfg.Dispatch.HistoryLimit, cfg.Redis.TTL)
		leader = red.NewLocker(rc)
		limiter = red.NewRateLimiter(rc)
		st.health = append(st.health, rc.Ping)
	} else {
		logger.Info().Msg("redis.url empty; conversation cache, reconcile lease and rate limiting disabled")
	}

	// ---- Asset storage ----
	files, err := storage.NewFileStore(cfg.Storage.Root)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	fetcher := storage.NewHTTPFetcher(2*time.Minute, cfg.Storage.MaxDownloadBytes)

	// ---- Providers ----
	reg, err := buildRegistry(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("providers: %w", err)
	}

	// ---- Use cases ----
	convs := usecase.NewConversationStore(st.convs, window, st.tm, logger)
	dispatcher := usecase.NewFallbackDispatcher(reg, convs, ai.NewTokenCounter(), usecase.DispatcherConfig{
		Breaker:          usecase.BreakerConfig{Threshold: cfg.Dispatch.FailureThreshold, Cooldown: cfg.Dispatch.Cooldown},
		AttemptTimeout:   cfg.Dispatch.AttemptTimeout,
		StreamTimeout:    cfg.HTTP.StreamTimeout,
		HistoryLimit:     cfg.Dispatch.HistoryLimit,
		MaxContextTokens: cfg.Dispatch.MaxContextTokens,
	}, logger)
	tracker := usecase.NewJobTracker(st.jobs, dispatcher, files, fetcher, logger)

	pool := worker.NewPool(cfg.Workers.Size, logger)
	pool.Start(ctx)
	defer pool.Stop()

	projects := usecase.NewProjectScheduler(tracker, pool, logger)
	generation := usecase.NewGenerationUseCase(tracker, projects, pool, logger)
	chat := usecase.NewChatUseCase(dispatcher, convs, cfg.Dispatch.SystemPrompt, logger)

	// ---- Restart recovery ----
	if n, err := projects.Recover(ctx); err != nil {
		logger.Error().Err(err).Msg("recover project graphs")
	} else if n > 0 {
		logger.Info().Int("projects", n).Msg("project graphs recovered")
	}
	if n, err := generation.ResumePending(ctx); err != nil {
		logger.Error().Err(err).Msg("resume pending jobs")
	} else if n > 0 {
		logger.Info().Int("jobs", n).Msg("pending jobs resumed")
	}

	// ---- Reconciliation loop ----
	reconciler := sched.NewJobReconciler(tracker, reg, leader, sched.ReconcilerConfig{
		MaxUnresolved: cfg.Reconcile.MaxUnresolved,
		PollTimeout:   cfg.Reconcile.PollTimeout,
		Concurrency:   cfg.Reconcile.Concurrency,
		LockTTL:       cfg.Reconcile.Interval * 4,
	}, logger)
	loop := scheduler.NewScheduler("reconcile", cfg.Reconcile.Interval, cfg.Reconcile.Interval*4, reconciler.Tick, logger)
	loop.Start(ctx)
	defer loop.Stop()

	// ---- HTTP ----
	auth, err := api.NewTokenAuth(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TTL)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	health := st.health
	srv := api.NewServer(chat, generation, auth, limiter, api.Options{
		RequestTimeout: cfg.HTTP.RequestTimeout,
		StreamTimeout:  cfg.HTTP.StreamTimeout,
		RatePerMinute:  cfg.HTTP.RatePerMinute,
		Metrics:        promhttp.Handler(),
		Health: func(ctx context.Context) error {
			for _, h := range health {
				if err := h(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	}, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Str("version", version).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	// ---- Graceful shutdown ----
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	return nil
}
