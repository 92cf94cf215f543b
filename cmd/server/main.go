// Package main runs the video platform HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/streamhive/backend/config"
	"github.com/streamhive/backend/internal/auth"
	"github.com/streamhive/backend/internal/middleware"
	"github.com/streamhive/backend/internal/provider"
	"github.com/streamhive/backend/internal/videos"
	"github.com/streamhive/backend/pkg/database"
	"github.com/streamhive/backend/pkg/queue"
	"github.com/streamhive/backend/pkg/redis"
	"github.com/streamhive/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	providerClient := provider.NewClient(provider.Config{
		BaseURL:          cfg.Provider.BaseURL,
		ImageBaseURL:     cfg.Provider.ImageBaseURL,
		TokenID:          cfg.Provider.TokenID,
		TokenSecret:      cfg.Provider.TokenSecret,
		RequestTimeout:   time.Duration(cfg.Provider.RequestTimeout) * time.Second,
		UploadCORSOrigin: cfg.Provider.UploadCORSOrigin,
	}, logger)

	verifier := provider.NewWebhookVerifier(
		cfg.Provider.WebhookSecret,
		time.Duration(cfg.Provider.WebhookTolerance)*time.Second,
		cfg.Provider.SkipTimestampCheck,
		logger,
	)
	if cfg.Provider.SkipTimestampCheck {
		logger.Warn("webhook timestamp check disabled; do not run this configuration in production")
	}

	videoRepo := videos.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	reconciler := videos.NewReconciler(videoRepo, providerClient, jobQueue, logger)
	videoHandler := videos.NewHandler(videoRepo, providerClient, reconciler,
		time.Duration(cfg.Provider.RequestTimeout)*time.Second, logger)
	webhookHandler := videos.NewWebhookHandler(verifier, reconciler, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.POST("/videos/uploads", videoHandler.CreateUpload)
		api.GET("/videos/uploads/:uploadId/status", videoHandler.GetUploadStatus)
		api.GET("/videos", videoHandler.List)
		api.GET("/videos/:id", videoHandler.GetVideo)
		api.PATCH("/videos/:id", videoHandler.Update)
		api.DELETE("/videos/:id", videoHandler.Delete)
	}

	// Webhooks (no JWT; signature verified in handler)
	router.POST("/webhooks/video", webhookHandler.HandleEvent)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
