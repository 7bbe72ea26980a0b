package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/bdougie/framesearch/internal/config"
	"github.com/bdougie/framesearch/internal/models"
	"github.com/bdougie/framesearch/internal/queue"
	"github.com/bdougie/framesearch/internal/storage"
)

const usage = `Usage:
  visionanalyzer --init-schema
  visionanalyzer --video <url-or-storage-key> --org <org-id> [--recording <id>] [--title <title>]`

func main() {
	ctx := context.Background()

	v := config.New()
	cfg := config.Load(v)
	logger := config.NewLogger(cfg.LogLevel)

	// Parse command line arguments
	var (
		initSchema  bool
		videoURL    string
		recordingID string
		orgID       string
		title       string
	)
	for i := 1; i < len(os.Args); i++ {
		switch os.Args[i] {
		case "--init-schema":
			initSchema = true
		case "--video", "--recording", "--org", "--title":
			if i+1 >= len(os.Args) {
				fmt.Println(usage)
				os.Exit(1)
			}
			value := os.Args[i+1]
			switch os.Args[i] {
			case "--video":
				videoURL = value
			case "--recording":
				recordingID = value
			case "--org":
				orgID = value
			case "--title":
				title = value
			}
			i++
		default:
			fmt.Println(usage)
			os.Exit(1)
		}
	}

	pgConfig := storage.PostgresConfig{URL: cfg.DatabaseURL}

	if initSchema {
		if err := storage.InitSchema(ctx, pgConfig); err != nil {
			logger.Error("failed to initialize schema", "error", err)
			os.Exit(1)
		}
		logger.Info("schema initialized")
		return
	}

	// Ensure video and org are provided
	if videoURL == "" || orgID == "" {
		fmt.Println(usage)
		os.Exit(1)
	}

	db, err := storage.NewPostgresStore(ctx, pgConfig, logger)
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

	rec, err := db.EnsureRecording(ctx, models.Recording{
		ID:       recordingID,
		OrgID:    orgID,
		Title:    title,
		VideoURL: videoURL,
	})
	if err != nil {
		logger.Error("failed to register recording", "error", err)
		os.Exit(1)
	}

	jobs := queue.NewRedisQueue(rdb, cfg.QueuePrefix, logger)
	job, err := jobs.Enqueue(ctx, models.JobTypeExtractFrames, rec.OrgID,
		models.ExtractFramesPayload{RecordingID: rec.ID, OrgID: rec.OrgID, VideoURL: rec.VideoURL},
		queue.EnqueueOptions{
			DedupeKey:   models.JobTypeExtractFrames + ":" + rec.ID,
			MaxAttempts: cfg.JobMaxAttempts,
		})
	if errors.Is(err, queue.ErrDuplicate) {
		logger.Warn("frame extraction already queued", "recording_id", rec.ID, "error", err)
		return
	}
	if err != nil {
		logger.Error("failed to enqueue frame extraction", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Recording %s queued for frame extraction (job %s)\n", rec.ID, job.ID)
}
