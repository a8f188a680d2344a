package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/campuskit/tutorcore/internal/adapter/agentloop"
	"github.com/campuskit/tutorcore/internal/adapter/gateway"
	tchttp "github.com/campuskit/tutorcore/internal/adapter/http"
	"github.com/campuskit/tutorcore/internal/adapter/memstore"
	tcnats "github.com/campuskit/tutorcore/internal/adapter/nats"
	"github.com/campuskit/tutorcore/internal/adapter/natskv"
	_ "github.com/campuskit/tutorcore/internal/adapter/openai" // register the openai backend
	"github.com/campuskit/tutorcore/internal/adapter/otel"
	"github.com/campuskit/tutorcore/internal/adapter/postgres"
	"github.com/campuskit/tutorcore/internal/adapter/ristretto"
	"github.com/campuskit/tutorcore/internal/adapter/tiered"
	"github.com/campuskit/tutorcore/internal/adapter/ws"
	"github.com/campuskit/tutorcore/internal/config"
	"github.com/campuskit/tutorcore/internal/logger"
	"github.com/campuskit/tutorcore/internal/port/backend"
	"github.com/campuskit/tutorcore/internal/port/cache"
	"github.com/campuskit/tutorcore/internal/resilience"
	"github.com/campuskit/tutorcore/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"backend", cfg.Chat.Backend,
		"log_level", cfg.Logging.Level,
	)

	ctx := context.Background()

	// --- Generation backends ---

	llm := gateway.NewClient(cfg.Gateway.URL, cfg.Gateway.APIKey, cfg.Gateway.Model, cfg.Gateway.Timeout)
	llm.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	agentloop.RegisterWith(llm)

	backends := []backend.Backend{agentloop.New(llm)}
	if cfg.OpenAI.APIKey != "" {
		direct, err := backend.New("openai", map[string]string{
			"api_key":  cfg.OpenAI.APIKey,
			"base_url": cfg.OpenAI.BaseURL,
			"model":    cfg.OpenAI.Model,
		})
		if err != nil {
			return fmt.Errorf("openai backend: %w", err)
		}
		backends = append(backends, direct)
	}

	// --- Orchestration ---

	store := memstore.New()
	svc, err := service.NewChatService(store, service.NewModeService(), cfg.Chat, backends...)
	if err != nil {
		return fmt.Errorf("chat service: %w", err)
	}

	hub := ws.NewHub()
	svc.SetBroadcaster(hub)

	// --- Optional infrastructure ---

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	defer l1.Close()
	var historyCache cache.Cache = l1

	if cfg.NATS.URL != "" {
		bus, err := tcnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = bus.Close() }()
		svc.SetPublisher(bus)

		kv, err := natskv.EnsureBucket(ctx, bus.JetStream(), cfg.NATS.CacheBucket, cfg.Cache.L2TTL)
		if err != nil {
			return fmt.Errorf("nats kv bucket: %w", err)
		}
		historyCache = tiered.New(l1, natskv.New(kv), cfg.Cache.L1TTL)
	}

	if cfg.Postgres.DSN != "" {
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		slog.Info("postgres connected, migrations applied")

		archiver := service.NewArchiver(postgres.NewStore(pool), historyCache, cfg.Cache.L2TTL, cfg.Chat.ArchiveWorkers)
		svc.SetArchiver(archiver)
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := archiver.Close(closeCtx); err != nil {
				slog.Error("archiver shutdown", "error", err)
			}
		}()
	}

	if cfg.Otel.Endpoint != "" {
		shutdownMeter, err := otel.InitMeter(ctx, cfg.Logging.Service, cfg.Otel.Endpoint, cfg.Otel.Interval)
		if err != nil {
			return fmt.Errorf("otel: %w", err)
		}
		shutdownTracer, err := otel.InitTracer(ctx, cfg.Logging.Service, cfg.Otel.Endpoint)
		if err != nil {
			return fmt.Errorf("otel tracer: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracer(shutdownCtx)
			_ = shutdownMeter(shutdownCtx)
		}()

		tel, err := otel.NewMetrics()
		if err != nil {
			return fmt.Errorf("otel metrics: %w", err)
		}
		svc.SetTelemetry(tel)
	}

	// --- HTTP ---

	r := chi.NewRouter()
	r.Use(tchttp.CORS(cfg.Server.CORSOrigin))
	r.Use(tchttp.RequestID)
	r.Use(tchttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if cfg.Otel.Endpoint != "" {
		r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	}

	tchttp.MountRoutes(r, tchttp.NewHandlers(svc), hub)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second, // streamed turns hold the response open
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
