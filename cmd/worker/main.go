package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/docuflow/ingest-backend/config"
	"github.com/docuflow/ingest-backend/pkg/coordinator"
	database "github.com/docuflow/ingest-backend/pkg/db"
	"github.com/docuflow/ingest-backend/pkg/logger"
	"github.com/docuflow/ingest-backend/pkg/queue"
	"github.com/docuflow/ingest-backend/pkg/repository"
	"github.com/docuflow/ingest-backend/pkg/service"
	"github.com/docuflow/ingest-backend/pkg/worker"
)

func main() {
	time.Local = time.UTC

	if err := config.Init(config.ParseConfigFlag()); err != nil {
		log.Fatal(err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zapLogger, _ := logger.GetZapLogger(ctx)
	defer func() {
		_ = zapLogger.Sync()
	}()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "ingest-worker"
	}

	db := database.GetConnection(&config.Config.Database)
	redisClient := redis.NewClient(&config.Config.Cache.Redis.RedisOptions)
	defer redisClient.Close()

	repo := repository.NewRepository(db, redisClient)
	coord := coordinator.New(repo, coordinator.Options{
		DefaultLockTTL: config.Config.Coordinator.DefaultLockTTL,
		StateRetention: config.Config.Coordinator.StateRetention,
	})

	blobs, err := service.NewMinioBlobStore(ctx, config.Config.Minio)
	if err != nil {
		zapLogger.Fatal("minio_init_failed", zap.Error(err))
	}
	vectors, closeVectors, err := service.NewMilvusVectorIndex(ctx, config.Config.Milvus)
	if err != nil {
		zapLogger.Fatal("milvus_init_failed", zap.Error(err))
	}
	defer closeVectors()

	collab := service.Collaborators{
		Embedder: service.NewOpenAIEmbedder(config.Config.OpenAI.APIKey),
		Blobs:    blobs,
		Vectors:  vectors,
		Fetcher:  service.NewFetcher(),
		Redactor: service.NewRedactor(),
	}

	transport := queue.NewTransport(redisClient,
		config.Config.Queue.ConsumerGroup, hostname, config.Config.Queue.MinIdleTime)

	dispatcher := worker.NewDispatcher(transport, map[queue.MessageType]worker.Processor{
		queue.TypeDocumentIngestion: worker.NewDocumentProcessor(coord, collab, hostname, config.Config.Coordinator.DefaultLockTTL),
		queue.TypeDocumentUpdate:    worker.NewDocumentProcessor(coord, collab, hostname, config.Config.Coordinator.DefaultLockTTL),
		queue.TypeDocumentDelete:    worker.NewDocumentProcessor(coord, collab, hostname, config.Config.Coordinator.DefaultLockTTL),
		queue.TypeWebhookSync:       worker.NewWebhookProcessor(service.NewSourceFetcher(collab.Fetcher), transport),
		queue.TypeBatchReprocess:    worker.NewReprocessProcessor(coord, collab, transport, hostname),
	})

	consumer := worker.NewConsumer(transport, dispatcher, config.Config.Worker.PollInterval)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		zapLogger.Info("shutting_down")
		cancel()
	}()

	zapLogger.Info("worker_started", zap.String("workerID", hostname))
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		zapLogger.Fatal("consumer_failed", zap.Error(err))
	}
}
