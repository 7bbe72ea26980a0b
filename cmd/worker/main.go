package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/bdougie/framesearch/internal/analyzer"
	"github.com/bdougie/framesearch/internal/config"
	"github.com/bdougie/framesearch/internal/embeddings"
	"github.com/bdougie/framesearch/internal/extractor"
	"github.com/bdougie/framesearch/internal/ingest"
	"github.com/bdougie/framesearch/internal/models"
	"github.com/bdougie/framesearch/internal/ocr"
	"github.com/bdougie/framesearch/internal/queue"
	"github.com/bdougie/framesearch/internal/storage"
)

func main() {
	v := config.New()
	cfg := config.Load(v)
	logger := config.NewLogger(cfg.LogLevel)

	// Setup context with cancellation for clean shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.NewPostgresStore(ctx, storage.PostgresConfig{URL: cfg.DatabaseURL}, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	objects, err := storage.NewDiskStore(cfg.StorageDir, cfg.StorageBaseURL)
	if err != nil {
		logger.Error("failed to open frame storage", "error", err)
		os.Exit(1)
	}

	rdb, err := queue.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Error("failed to connect to queue", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	describer, err := analyzer.NewAgentDescriber(ctx, analyzer.AgentConfig{
		BaseURL: cfg.OllamaBaseURL,
		Port:    cfg.OllamaPort,
		Model:   cfg.VisionModel,
	}, objects, logger)
	if err != nil {
		logger.Error("failed to initialize vision agent", "error", err)
		os.Exit(1)
	}

	client := openai.NewClient(cfg.OpenAIAPIKey)
	embedder := embeddings.NewService(embeddings.NewOpenAIProvider(client, cfg.EmbeddingModel), logger)

	handler := ingest.NewHandler(
		db,
		extractor.New(objects, logger, extractor.WithBinary(cfg.FFmpegBin)),
		ocr.NewStage(ocr.NewOpenAIReader(client, cfg.OCRModel), cfg.OCRBatchSize, logger),
		analyzer.NewIndexer(describer, embedder, db, cfg.VisualBatchSize, logger),
		config.NewFlags(v),
		ingest.Options{FrameInterval: cfg.FrameInterval, RetryPolicy: ingest.MaxAttemptsPolicy{}},
		logger,
	)

	// Without a job timeout a long attempt cannot be told apart from a lost one.
	var visibility time.Duration
	if cfg.JobTimeout > 0 {
		visibility = cfg.JobTimeout + 5*time.Minute
	}
	jobs := queue.NewRedisQueue(rdb, cfg.QueuePrefix, logger, queue.WithVisibilityTimeout(visibility))
	worker := queue.NewWorker(jobs, queue.WorkerOptions{
		Concurrency: cfg.WorkerCount,
		JobTimeout:  cfg.JobTimeout,
	}, logger)
	worker.Handle(models.JobTypeExtractFrames, handler.HandleExtractFrames)

	worker.Run(ctx)
	logger.Info("worker shut down")
}
