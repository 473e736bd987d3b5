package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	httpAdapter "github.com/boardflow/boardflow-backend/internal/adapters/primary/http"
	mw "github.com/boardflow/boardflow-backend/internal/adapters/primary/http/middleware"
	"github.com/boardflow/boardflow-backend/internal/adapters/primary/websocket"
	"github.com/boardflow/boardflow-backend/internal/adapters/secondary/postgres"
	redisAdapter "github.com/boardflow/boardflow-backend/internal/adapters/secondary/redis"
	"github.com/boardflow/boardflow-backend/internal/auth"
	"github.com/boardflow/boardflow-backend/internal/config"
	"github.com/boardflow/boardflow-backend/internal/core/domain"
	"github.com/boardflow/boardflow-backend/internal/core/services"
	"github.com/boardflow/boardflow-backend/internal/infrastructure/logging"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize Structured Logger
	logger := logging.NewLogger(logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      os.Stdout,
		ServiceName: cfg.App.Name,
		Environment: cfg.App.Environment,
	})

	logger.Info("starting service",
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
	)

	// 3. Initialize Database Pool
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		logger.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.Database.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	logger.Info("database connection established")

	// 4. Initialize Redis (event bus, cache, rate-limit counters)
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()

	if err := rdb.Ping(ctx).Err(); err != nil {
		// The relay degrades to local-only delivery without Redis, so this
		// is a warning, not a startup failure.
		logger.Warn("redis ping failed, cross-process fan-out degraded", "error", err)
	} else {
		logger.Info("redis connection established")
	}

	bus := redisAdapter.NewEventBus(rdb, logger)
	cache := redisAdapter.NewCache(rdb)
	sharedLimiter := redisAdapter.NewRateLimiter(rdb)

	// 5. Initialize Security & Real-time Components
	tokenManager := auth.NewTokenManager(cfg.JWT.Secret, cfg.JWT.AccessTokenTTL)

	// Each process gets a unique relay origin so it can skip its own
	// events when they come back over the bus.
	processID := uuid.NewString()

	presence := services.NewPresenceService(logger)
	relay := services.NewRelayService(bus, presence, processID, logger)

	hub := websocket.NewHub(presence, relay, logger)
	relay.SetDeliverer(hub)
	relay.SetGlobalHandler(func(event domain.Event) {
		if event.BoardID == "" {
			return
		}
		pattern := fmt.Sprintf("cache:board:%s:*", event.BoardID)
		if err := cache.DeleteByPattern(context.Background(), pattern); err != nil {
			logger.Warn("cache invalidation failed", "board_id", event.BoardID, "error", err)
		}
	})

	if err := relay.Start(); err != nil {
		logger.Warn("event relay start failed, running local-only", "error", err)
	}
	defer relay.Close()

	go hub.Run(ctx)

	monitor := websocket.NewMonitor(hub, cfg.WebSocket.HeartbeatInterval, logger)
	go monitor.Run(ctx)

	// 6. Initialize HTTP Rate Limiter
	var httpRateLimiter *mw.RateLimiter
	if cfg.RateLimit.Enabled {
		httpRateLimiter = mw.NewRateLimiter(mw.RateLimiterConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			BurstSize:         cfg.RateLimit.BurstSize,
			CleanupInterval:   cfg.RateLimit.CleanupInterval,
			TTL:               cfg.RateLimit.VisitorTTL,
		})
	}

	// 7. Dependency Injection (Wiring the Hexagon)
	errorHandler := httpAdapter.NewErrorHandler(logger)

	activityRepo := postgres.NewActivityRepository(pool)
	activityLimits := services.ActivityLimits{
		ShortWindow:      cfg.RateLimit.ActivityShortWindow,
		ShortWindowLimit: cfg.RateLimit.ActivityShortWindowLimit,
		LongWindow:       cfg.RateLimit.ActivityLongWindow,
		LongWindowLimit:  cfg.RateLimit.ActivityLongWindowLimit,
	}
	activityPipeline := services.NewActivityPipeline(activityRepo, cache, sharedLimiter, relay, activityLimits, logger)

	activityHandler := httpAdapter.NewActivityHandler(activityPipeline, errorHandler, logger)
	presenceHandler := httpAdapter.NewPresenceHandler(presence, errorHandler, logger)
	wsHandler := httpAdapter.NewWebSocketHandler(hub, tokenManager, cfg, logger)
	healthHandler := httpAdapter.NewHealthHandler(pool, redisPinger{rdb}, cfg.App.Version)

	// 8. Setup Router
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.RequestLogger(logger))
	r.Use(mw.RecoveryLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.WebSocket.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if httpRateLimiter != nil {
		r.Use(httpRateLimiter.Middleware)
	}

	// Health check endpoints (outside /api/v1 for standard probe paths)
	r.Get("/health", healthHandler.HandleHealth)
	r.Get("/health/live", healthHandler.HandleLiveness)
	r.Get("/health/ready", healthHandler.HandleReadiness)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket route (authentication is handled inside the handler)
		r.Get("/ws", wsHandler.ServeHTTP)

		// Protected REST routes
		r.Group(func(r chi.Router) {
			r.Use(mw.Authenticate(tokenManager))
			r.Route("/boards/{boardID}", func(r chi.Router) {
				r.Route("/activities", activityHandler.RegisterRoutes)
				r.Get("/presence", presenceHandler.HandleSnapshot)
			})
		})
	})

	// 9. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

// redisPinger adapts a go-redis client to the health checker interface.
type redisPinger struct {
	rdb *goredis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}
