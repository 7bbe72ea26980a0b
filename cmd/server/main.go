package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/bdougie/framesearch/internal/api"
	"github.com/bdougie/framesearch/internal/config"
	"github.com/bdougie/framesearch/internal/embeddings"
	"github.com/bdougie/framesearch/internal/queue"
	"github.com/bdougie/framesearch/internal/search"
	"github.com/bdougie/framesearch/internal/storage"
)

func main() {
	v := config.New()
	cfg := config.Load(v)
	logger := config.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.NewPostgresStore(ctx, storage.PostgresConfig{URL: cfg.DatabaseURL}, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := queue.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Error("failed to connect to queue", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	client := openai.NewClient(cfg.OpenAIAPIKey)
	embedder := embeddings.NewService(embeddings.NewOpenAIProvider(client, cfg.EmbeddingModel), logger)

	srv := api.NewServer(api.Deps{
		Hierarchical:   search.NewHierarchicalEngine(embedder, db, logger),
		Multimodal:     search.NewMultimodalEngine(embedder, db, config.NewFlags(v), logger),
		Documents:      search.NewDocumentIndexer(embedder, db, cfg.VisualBatchSize, logger),
		Recordings:     db,
		Jobs:           queue.NewRedisQueue(rdb, cfg.QueuePrefix, logger),
		JobMaxAttempts: cfg.JobMaxAttempts,
	}, logger)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(cfg.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server listening", "addr", cfg.HTTPAddr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
