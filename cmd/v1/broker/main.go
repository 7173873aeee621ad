package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/jamlink/broker/internal/v1/api"
	"github.com/jamlink/broker/internal/v1/config"
	"github.com/jamlink/broker/internal/v1/conntrack"
	"github.com/jamlink/broker/internal/v1/events"
	"github.com/jamlink/broker/internal/v1/gateway"
	"github.com/jamlink/broker/internal/v1/health"
	"github.com/jamlink/broker/internal/v1/logging"
	"github.com/jamlink/broker/internal/v1/middleware"
	"github.com/jamlink/broker/internal/v1/peerconn"
	"github.com/jamlink/broker/internal/v1/ratelimit"
	"github.com/jamlink/broker/internal/v1/room"
	"github.com/jamlink/broker/internal/v1/store"
	"github.com/jamlink/broker/internal/v1/tracing"
)

func main() {
	// Load .env file for local development.
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}
	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	// --- Tracing (optional) ---
	if cfg.OtelEndpoint != "" {
		tp, err := tracing.InitTracer(context.Background(), "signaling-broker", cfg.OtelEndpoint)
		if err != nil {
			slog.Warn("Tracing disabled: tracer init failed", "error", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(ctx)
			}()
		}
	}

	// --- Backing store ---
	var (
		roomRepo    room.Repository
		connRepo    peerconn.Repository
		redisStore  *store.RedisStore
		redisClient *redis.Client
	)
	if cfg.RedisEnabled {
		redisStore, err = store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		roomRepo = redisStore.Rooms()
		connRepo = redisStore.PeerConns()
		redisClient = redisStore.Client()
		slog.Info("✅ Redis store initialized", "addr", cfg.RedisAddr)
	} else {
		roomRepo = store.NewMemoryRoomRepository()
		connRepo = store.NewMemoryPeerConnRepository()
		slog.Info("Running with in-memory store (Redis disabled)")
	}

	// --- Rate limiting ---
	rateLimiter, err := ratelimit.NewRateLimiter(cfg, redisClient)
	if err != nil {
		slog.Error("Failed to create rate limiter", "error", err)
		os.Exit(1)
	}

	// --- Core services ---
	publisher := events.NewPublisher()
	roomSvc := room.NewService(roomRepo, publisher)
	tracker := conntrack.NewService(connRepo, publisher, cfg.StaleConnection, cfg.MaxReconnectAttempts)
	signalSvc := gateway.NewSignalService(connRepo, publisher, tracker)
	hub := gateway.NewHub(cfg, roomSvc, tracker, signalSvc, rateLimiter)

	tracker.Start()
	hub.Start(cfg.RoomStatsMonitor)

	// --- Set up server ---
	router := gin.Default()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = gateway.ParseAllowedOrigins(cfg.AllowedOrigins)
	router.Use(cors.New(corsConfig))
	router.Use(gin.Recovery())
	router.Use(middleware.Correlation())
	router.Use(otelgin.Middleware("signaling-broker"))

	// WebSocket ingress
	router.GET(cfg.WsPath, hub.ServeWs)

	// Administrative room API
	apiGroup := router.Group("/")
	apiGroup.Use(rateLimiter.RoomsMiddleware())
	api.NewHandler(roomSvc).Register(apiGroup)

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	var pinger health.StorePinger
	if redisStore != nil {
		pinger = redisStore
	}
	healthHandler := health.NewHandler(pinger)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    ":" + cfg.WsPort,
		Handler: router,
	}

	// --- Graceful shutdown ---
	go func() {
		slog.Info("Signaling broker starting", "port", cfg.WsPort, "wsPath", cfg.WsPath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down broker...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := hub.Shutdown(ctx); err != nil {
		slog.Error("Error during gateway shutdown:", "error", err)
	}
	tracker.Stop()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	if redisStore != nil {
		if err := redisStore.Close(); err != nil {
			slog.Error("Failed to close Redis connection:", "error", err)
		} else {
			slog.Info("Redis connection closed")
		}
	}

	slog.Info("Broker exiting")
}
