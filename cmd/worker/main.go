// Package main runs the background worker (provider reconciliation sweeps,
// thumbnail caching).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/streamhive/backend/config"
	"github.com/streamhive/backend/internal/provider"
	"github.com/streamhive/backend/internal/videos"
	"github.com/streamhive/backend/internal/worker"
	"github.com/streamhive/backend/pkg/database"
	"github.com/streamhive/backend/pkg/queue"
	"github.com/streamhive/backend/pkg/redis"
	"github.com/streamhive/backend/pkg/storage"
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

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	providerClient := provider.NewClient(provider.Config{
		BaseURL:          cfg.Provider.BaseURL,
		ImageBaseURL:     cfg.Provider.ImageBaseURL,
		TokenID:          cfg.Provider.TokenID,
		TokenSecret:      cfg.Provider.TokenSecret,
		RequestTimeout:   time.Duration(cfg.Provider.RequestTimeout) * time.Second,
		UploadCORSOrigin: cfg.Provider.UploadCORSOrigin,
	}, logger)

	var s3Client *storage.S3
	if cfg.AWS.ThumbnailsBucket != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:           cfg.AWS.Region,
			AccessKeyID:      cfg.AWS.AccessKeyID,
			SecretAccessKey:  cfg.AWS.SecretAccessKey,
			ThumbnailsBucket: cfg.AWS.ThumbnailsBucket,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	videoRepo := videos.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	reconciler := videos.NewReconciler(videoRepo, providerClient, jobQueue, logger)
	processor := worker.NewProcessor(videoRepo, reconciler, providerClient, s3Client, jobQueue, worker.Config{
		SweepInterval: time.Duration(cfg.Worker.SweepInterval) * time.Second,
		StuckAfter:    time.Duration(cfg.Worker.StuckAfter) * time.Minute,
		GiveUpAfter:   time.Duration(cfg.Worker.GiveUpAfter) * time.Minute,
	}, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	go processor.RunSweeper(workerCtx)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
