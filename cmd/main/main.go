package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/docuflow/ingest-backend/config"
	"github.com/docuflow/ingest-backend/pkg/coordinator"
	database "github.com/docuflow/ingest-backend/pkg/db"
	"github.com/docuflow/ingest-backend/pkg/handler"
	"github.com/docuflow/ingest-backend/pkg/logger"
	"github.com/docuflow/ingest-backend/pkg/repository"
)

func main() {
	// gorm's autoUpdate will use local timezone by default, so we need to set it to UTC
	time.Local = time.UTC

	if err := config.Init(config.ParseConfigFlag()); err != nil {
		log.Fatal(err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zapLogger, _ := logger.GetZapLogger(ctx)
	defer func() {
		// can't handle the error due to https://github.com/uber-go/zap/issues/880
		_ = zapLogger.Sync()
	}()

	db := database.GetConnection(&config.Config.Database)
	redisClient := redis.NewClient(&config.Config.Cache.Redis.RedisOptions)
	defer redisClient.Close()

	repo := repository.NewRepository(db, redisClient)
	coord := coordinator.New(repo, coordinator.Options{
		DefaultLockTTL: config.Config.Coordinator.DefaultLockTTL,
		StateRetention: config.Config.Coordinator.StateRetention,
	})

	// Periodic cleanup keeps expired locks and aged state from
	// accumulating even when no client calls the cleanup endpoint.
	cleanupInterval := config.Config.Worker.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = 10 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := coord.Cleanup(ctx); err != nil {
					zapLogger.Error("periodic_cleanup_failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if !config.Config.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	handler.SetupRoutes(router, handler.NewCoordinatorHandler(coord))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Config.Server.PublicPort),
		Handler: router,
	}

	go func() {
		zapLogger.Info("http_server_started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("http_server_failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("shutting_down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("http_shutdown_failed", zap.Error(err))
	}
}
