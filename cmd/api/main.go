package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/attendly/attendly-api/api/swagger"
	"github.com/attendly/attendly-api/internal/handler"
	"github.com/attendly/attendly-api/internal/middleware"
	"github.com/attendly/attendly-api/internal/models"
	"github.com/attendly/attendly-api/internal/repository"
	"github.com/attendly/attendly-api/internal/service"
	"github.com/attendly/attendly-api/internal/token"
	"github.com/attendly/attendly-api/pkg/cache"
	"github.com/attendly/attendly-api/pkg/config"
	"github.com/attendly/attendly-api/pkg/database"
	"github.com/attendly/attendly-api/pkg/jobs"
	"github.com/attendly/attendly-api/pkg/logger"
	corsmiddleware "github.com/attendly/attendly-api/pkg/middleware/cors"
	reqidmiddleware "github.com/attendly/attendly-api/pkg/middleware/requestid"
)

// sweepInterval drives the overdue-session sweep so expiry never depends on
// someone polling the active-session endpoint.
const sweepInterval = time.Minute

// @title Attendly API
// @version 1.0.0
// @description QR-code attendance session service
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	metrics := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	if cfg.Session.CacheEnabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, running without active-session cache", "error", err)
		} else {
			defer redisClient.Close()
			cacheRepo = repository.NewCacheRepository(redisClient, logr)
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Session.ActiveCacheTTL, logr, cacheRepo != nil)

	validate := validator.New()

	sessionRepo := repository.NewSessionRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	userRepo := repository.NewUserRepository(db)

	enforcer := service.NewExpiryService(userRepo, attendanceRepo, metrics, logr, jobs.QueueConfig{
		Workers:    cfg.Backfill.Workers,
		MaxRetries: cfg.Backfill.MaxRetries,
		RetryDelay: cfg.Backfill.RetryDelay,
	}, cfg.Database.OpTimeout)

	registry := service.NewRegistryService(sessionRepo, enforcer, cacheSvc, metrics, validate, logr, service.RegistryConfig{
		MaxDuration: cfg.Session.MaxDuration,
		CacheTTL:    cfg.Session.ActiveCacheTTL,
		OpTimeout:   cfg.Database.OpTimeout,
	})
	ledger := service.NewLedgerService(registry, attendanceRepo, metrics, logr, cfg.Database.OpTimeout)
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	codec := token.NewCodec()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	enforcer.Start(ctx)
	defer enforcer.Stop()

	go runSweep(ctx, registry, logr)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(middleware.Metrics(metrics))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", handler.NewMetricsHandler(metrics).Scrape)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authHandler := handler.NewAuthHandler(authSvc)
	sessionHandler := handler.NewSessionHandler(registry, codec)
	attendanceHandler := handler.NewAttendanceHandler(ledger, codec)

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))

	sessions := authed.Group("/sessions")
	sessions.GET("/active", sessionHandler.GetActive)
	sessions.POST("", middleware.RequireRoles(models.RoleAdmin), sessionHandler.Create)
	sessions.GET("/:id/qr", middleware.RequireRoles(models.RoleAdmin), sessionHandler.QR)
	sessions.POST("/:id/expire", middleware.RequireRoles(models.RoleAdmin), sessionHandler.Expire)

	attendance := authed.Group("/attendance")
	attendance.POST("", attendanceHandler.Record)
	attendance.GET("/me", attendanceHandler.Me)
	attendance.GET("/sessions/:id", middleware.RequireRoles(models.RoleAdmin), attendanceHandler.BySession)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}

func runSweep(ctx context.Context, registry *service.RegistryService, logr *zap.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			closed, err := registry.SweepOverdue(ctx)
			if err != nil {
				logr.Warn("overdue session sweep failed", zap.Error(err))
				continue
			}
			if closed > 0 {
				logr.Info("overdue session sweep", zap.Int("closed", closed))
			}
		}
	}
}
