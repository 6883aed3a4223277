// Package main runs the background sync worker: consumes sync jobs from the
// Redis queue and drives them through the synchronization engine.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/attendlens/backend/config"
	"github.com/attendlens/backend/internal/connections"
	"github.com/attendlens/backend/internal/participants"
	"github.com/attendlens/backend/internal/provider"
	"github.com/attendlens/backend/internal/sync"
	"github.com/attendlens/backend/internal/syncjobs"
	"github.com/attendlens/backend/internal/webinars"
	"github.com/attendlens/backend/internal/worker"
	"github.com/attendlens/backend/pkg/database"
	"github.com/attendlens/backend/pkg/queue"
	"github.com/attendlens/backend/pkg/redis"
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

	connRepo := connections.NewRepository(pool)
	jobRepo := syncjobs.NewRepository(pool)
	webinarRepo := webinars.NewRepository(pool)
	participantRepo := participants.NewRepository(pool)

	tokens := provider.NewTokenManager(cfg.Provider.AuthURL, cfg.Provider.RequestTimeout,
		cfg.Provider.RetryAttempts, connRepo, logger)
	client := provider.NewClient(cfg.Provider, logger)

	store := sync.NewPgStore(webinarRepo, participantRepo)
	engine := sync.NewEngine(connRepo, tokens, client, store, jobRepo, cfg.Sync, cfg.Provider.CallDelay, logger)

	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewSyncProcessor(engine, jobQueue, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	logger.Info("sync worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("sync worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
