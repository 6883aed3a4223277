// Package main runs the sync API server: accepts sync job requests, exposes
// job status and synced webinar data, and hands processing to the worker via
// the Redis queue.
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

	"github.com/attendlens/backend/config"
	"github.com/attendlens/backend/internal/connections"
	"github.com/attendlens/backend/internal/middleware"
	"github.com/attendlens/backend/internal/participants"
	"github.com/attendlens/backend/internal/syncjobs"
	"github.com/attendlens/backend/internal/webinars"
	"github.com/attendlens/backend/pkg/database"
	"github.com/attendlens/backend/pkg/queue"
	"github.com/attendlens/backend/pkg/redis"
	"github.com/attendlens/backend/pkg/response"
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

	jobQueue := queue.NewQueue(rdb.Client, logger)

	connRepo := connections.NewRepository(pool)
	webinarRepo := webinars.NewRepository(pool)
	participantRepo := participants.NewRepository(pool)
	jobRepo := syncjobs.NewRepository(pool)

	jobHandler := syncjobs.NewHandler(jobRepo, connRepo, jobQueue, logger)
	webinarHandler := webinars.NewHandler(webinarRepo, participantRepo)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	api := router.Group("")
	api.Use(middleware.ServiceAuth(cfg.Auth.JWTSecret))
	{
		api.POST("/connections/:id/sync", jobHandler.Start)
		api.GET("/connections/:id/sync-jobs", jobHandler.ListByConnection)
		api.GET("/sync-jobs/:id", jobHandler.GetByID)
		api.POST("/sync-jobs/:id/cancel", jobHandler.Cancel)

		api.GET("/webinars", webinarHandler.List)
		api.GET("/webinars/:id", webinarHandler.GetByID)
		api.GET("/webinars/:id/participants", webinarHandler.ListParticipants)
		api.GET("/webinars/:id/registrants", webinarHandler.ListRegistrants)
	}

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
