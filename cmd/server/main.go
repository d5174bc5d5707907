// Ttakmal - development chat backend
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/ttakmal/internal/api"
	"github.com/ashureev/ttakmal/internal/config"
	"github.com/ashureev/ttakmal/internal/health"
	"github.com/ashureev/ttakmal/internal/metrics"
	"github.com/ashureev/ttakmal/internal/middleware"
	"github.com/ashureev/ttakmal/internal/quotebot"
	"github.com/ashureev/ttakmal/internal/result"
	"github.com/ashureev/ttakmal/internal/store"
	"github.com/ashureev/ttakmal/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "store", cfg.StoreDriver)

	// Initialize dependencies.
	repo, err := openStore(cfg)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close store", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Store connected")

	fixtures, err := loadFixtures(cfg.FixturesPath)
	if err != nil {
		slog.Error("Failed to load fixtures", "path", cfg.FixturesPath, "error", err)
		os.Exit(1)
	}

	// Initialize services.
	m := metrics.New()
	engine := quotebot.New(repo, fixtures,
		quotebot.WithTurnThreshold(cfg.TurnThreshold),
		quotebot.WithLogger(logger),
	)
	streams := api.NewStreamRegistry()
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	// Initialize handlers.
	chatHandler := api.NewHandler(engine, repo, streams, api.Options{
		ReplyDelay:    cfg.ReplyDelay,
		ChunkInterval: cfg.ChunkInterval,
		Metrics:       m,
		Logger:        logger,
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(m.Middleware)

	// API routes are throttled per client IP.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(limiter))
		chatHandler.RegisterRoutes(r)
	})

	r.Handle("/metrics", m.Handler())
	r.Handle(result.Path, web.ResultHandler())

	// Serve embedded pages (catch-all).
	r.Handle("/*", web.Handler())

	// Create server.
	// Note: SSE connections require long timeouts (no WriteTimeout)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,                 // 0 = no timeout for SSE support
		IdleTimeout:  120 * time.Second, // 2 minutes for idle connections
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start background workers.
	store.StartTTLWorker(ctx, engine, cfg.ConversationTTL, cfg.TTLSweepInterval, func(key string) {
		streams.Close(key)
		m.RecordEvictions(1)
	})
	limiter.StartEviction(ctx, middleware.DefaultLimiterIdle)

	if cfg.FixturesPath != "" {
		if err := quotebot.WatchFixtures(ctx, cfg.FixturesPath, 0, engine.SetFixtures, logger); err != nil {
			slog.Warn("Fixtures hot reload disabled", "path", cfg.FixturesPath, "error", err)
		}
	}

	// Start gRPC health server.
	var healthSrv *health.Server
	if cfg.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			slog.Error("Failed to listen for gRPC health", "port", cfg.GRPCPort, "error", err)
			os.Exit(1)
		}
		healthSrv = health.NewServer(repo, m, logger)
		healthSrv.Watch(ctx, health.DefaultCheckInterval)
		go func() {
			if err := healthSrv.Serve(lis); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	} else {
		slog.Info("gRPC health server disabled (GRPC_PORT not set)")
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	// Open streams never finish on their own.
	streams.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if healthSrv != nil {
		healthSrv.Stop()
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func openStore(cfg *config.Config) (store.ConversationStore, error) {
	if cfg.StoreDriver == config.StoreSQLite {
		s, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return store.NewMemory(), nil
}

func loadFixtures(path string) (*quotebot.Fixtures, error) {
	if path == "" {
		return quotebot.DefaultFixtures()
	}
	return quotebot.LoadFixtures(path)
}
