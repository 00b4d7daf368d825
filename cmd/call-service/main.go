package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	intDatabase "junction-backend/internal/database"
	callHandler "junction-backend/internal/handler/http/call"
	wsHandler "junction-backend/internal/handler/ws"
	"junction-backend/internal/middleware"
	pgRepo "junction-backend/internal/repository/postgres"
	redisRepo "junction-backend/internal/repository/redis"
	callService "junction-backend/internal/service/call"
	sfuService "junction-backend/internal/service/sfu"
	"junction-backend/pkg/config"
	"junction-backend/pkg/constants"
	pkgDatabase "junction-backend/pkg/database"
	"junction-backend/pkg/jwt"
	"junction-backend/pkg/logger"
	"junction-backend/pkg/metrics"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.InitFallback()
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
	}); err != nil {
		logger.InitFallback()
		logger.Warn("Failed to initialize configured logger, using fallback", zap.Error(err))
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Initialize metrics
	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)

	// 3. Connect to PostgreSQL for conversation membership and profiles
	db, err := connectPostgres(ctx, &pkgDatabase.PostgresConfig{
		Host:              cfg.Database.Host,
		Port:              cfg.Database.Port,
		User:              cfg.Database.User,
		Password:          cfg.Database.Password,
		Database:          cfg.Database.Database,
		SSLMode:           cfg.Database.SSLMode,
		MaxConns:          cfg.Database.MaxConns,
		MinConns:          cfg.Database.MinConns,
		MaxConnLifetime:   constants.MaxConnLifetime,
		MaxConnIdleTime:   constants.MaxConnIdleTime,
		HealthCheckPeriod: constants.HealthCheckPeriod,
	})
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer db.Close()

	memberRepo := pgRepo.NewMemberRepository(db.Pool)
	userRepo := pgRepo.NewUserRepository(db.Pool)

	// 4. Initialize Redis with degraded mode support (optional)
	var (
		redisDB           *intDatabase.RedisClient
		presence          wsHandler.PresenceRepository
		revocationChecker middleware.RevocationChecker
	)
	if cfg.Redis.Enabled {
		redisDB = intDatabase.NewRedisDB(&intDatabase.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Timeout:  cfg.Redis.Timeout,
		}, appMetrics)
		defer redisDB.Close()

		if err := redisDB.HealthCheck(ctx); err != nil {
			logger.Warn("Redis unreachable at startup, running degraded", zap.Error(err))
		} else {
			logger.Info("Connected to Redis")
		}
		redisDB.StartHealthCheck(ctx, constants.RedisHealthCheckInterval)

		presence = redisRepo.NewPresenceRepository(redisDB)
		revocationChecker = middleware.NewRedisRevocationChecker(redisDB)
	} else {
		logger.Info("Redis disabled: events are delivered to local sockets only")
	}

	// 5. Initialize call hub and services
	hub := wsHandler.NewCallHub(wsHandler.CallHubConfig{
		MaxConnections: cfg.WebSocket.MaxConnections,
		SendBuffer:     cfg.WebSocket.SendBuffer,
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
		EventTimeout:   constants.CallEventTimeout,
	}, redisDB, presence, appMetrics)
	callSvc := callService.NewService(memberRepo, userRepo, hub, appMetrics)
	hub.Attach(callSvc)

	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(ctx)
	}()

	sfuSvc := sfuService.NewService(memberRepo, cfg.LiveKit, appMetrics)
	if !cfg.LiveKit.Configured() {
		logger.Warn("LiveKit is not configured, group call tokens are unavailable")
	}

	// 6. Initialize handlers
	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Audience, 0)
	callHdlr := callHandler.NewHandler(sfuSvc)
	tokenLimiter := middleware.NewRateLimiter(redisDB, "livekit_token", 30, time.Minute)

	// 7. Setup Gin Router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		logger.Fatal("Invalid TRUSTED_PROXIES", zap.Error(err))
	}

	router.Use(middleware.RequestLogger())
	router.Use(middleware.Recovery())
	router.Use(middleware.HealthCheck(cfg.Server.ServiceName))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORSMiddleware(cfg.CORS.AllowedOrigins))
	router.Use(middleware.NewPrometheusMiddleware(appMetrics).Handler())

	// Metrics endpoint (for Prometheus scraping)
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	// Call routes (all require authentication)
	v1 := router.Group("/v1/calls")
	v1.Use(middleware.AuthMiddleware(jwtManager, revocationChecker))
	{
		v1.GET("/ws", hub.ServeWS)
		v1.POST("/livekit/token", tokenLimiter.Middleware(), callHdlr.CreateLiveKitToken)
	}

	// 8. Start server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: constants.DefaultTimeout,
	}

	go func() {
		logger.Info("Call service starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("env", cfg.Server.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down call service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Hijacked sockets are not tracked by Shutdown; the hub closes them
	// once ctx is done.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	select {
	case <-hubDone:
	case <-shutdownCtx.Done():
		logger.Warn("Call hub did not stop before shutdown timeout")
	}

	logger.Info("Call service stopped")
}

// connectPostgres retries with exponential backoff so the service can
// start alongside its database.
func connectPostgres(ctx context.Context, cfg *pkgDatabase.PostgresConfig) (*pkgDatabase.PostgresDB, error) {
	const maxRetries = 5
	delay := time.Second
	maxDelay := 30 * time.Second

	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		var db *pkgDatabase.PostgresDB
		db, err = pkgDatabase.NewPostgresDB(ctx, cfg)
		if err == nil {
			logger.Info("Connected to PostgreSQL", zap.Int("attempt", attempt))
			return db, nil
		}
		if attempt == maxRetries {
			break
		}

		logger.Warn("PostgreSQL connection attempt failed",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, maxDelay)
	}
	return nil, fmt.Errorf("after %d attempts: %w", maxRetries, err)
}
