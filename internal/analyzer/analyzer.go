// Package analyzer turns frames into searchable visual descriptions.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bdougie/framesearch/internal/batch"
	"github.com/bdougie/framesearch/internal/embeddings"
	"github.com/bdougie/framesearch/internal/models"
)

// StageName tags per-frame errors raised by this package.
const StageName = "visual-indexing"

// Describer produces a natural-language description of a frame.
type Describer interface {
	Describe(ctx context.Context, frame models.Frame) (string, error)
}

// Embedder is the subset of the embedding service used for descriptions.
type Embedder interface {
	Embed(ctx context.Context, text string, res embeddings.Resolution) ([]float32, error)
}

// FrameStore loads and updates frame rows.
type FrameStore interface {
	ListFramesMissingDescription(ctx context.Context, recordingID, orgID string) ([]models.Frame, error)
	SetFrameVisualData(ctx context.Context, frameID, description string, embedding []float32) error
}

// Report summarises one indexing run.
type Report struct {
	Total   int
	Indexed int
	Errors  []error
}

// Failed is the number of frames that could not be indexed.
func (r Report) Failed() int {
	return len(r.Errors)
}

// Indexer describes and embeds frames in sequential batches of bounded size.
type Indexer struct {
	describer Describer
	embedder  Embedder
	store     FrameStore
	batchSize int
	logger    *slog.Logger
}

// NewIndexer creates an Indexer.
func NewIndexer(describer Describer, embedder Embedder, store FrameStore, batchSize int, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		describer: describer,
		embedder:  embedder,
		store:     store,
		batchSize: batchSize,
		logger:    logger,
	}
}

// IndexRecordingFrames indexes every frame of the recording that has no
// description yet. A frame failure is recorded in the report and never stops
// the remaining batches; only a failure to list frames is returned as an error.
func (ix *Indexer) IndexRecordingFrames(ctx context.Context, recordingID, orgID string) (Report, error) {
	frames, err := ix.store.ListFramesMissingDescription(ctx, recordingID, orgID)
	if err != nil {
		return Report{}, fmt.Errorf("failed to list frames for recording %s: %w", recordingID, err)
	}

	report := Report{Total: len(frames)}
	if len(frames) == 0 {
		return report, nil
	}

	ix.logger.Info("indexing frames",
		"recording_id", recordingID,
		"frames", len(frames),
		"batch_size", ix.batchSize)

	outcomes := batch.Run(ctx, frames, ix.batchSize, func(ctx context.Context, f models.Frame) (struct{}, error) {
		if err := ix.indexFrame(ctx, f); err != nil {
			return struct{}{}, &models.PerFrameStageError{
				Stage:       StageName,
				RecordingID: recordingID,
				FrameNumber: f.FrameNumber,
				Err:         err,
			}
		}
		return struct{}{}, nil
	})

	for _, o := range outcomes {
		if o.Err != nil {
			report.Errors = append(report.Errors, o.Err)
			continue
		}
		report.Indexed++
	}

	if report.Failed() > 0 {
		ix.logger.Warn("some frames were not indexed",
			"recording_id", recordingID,
			"failed", report.Failed(),
			"frames", report.Total)
	}
	return report, nil
}

// indexFrame writes nothing unless both the description and its embedding
// succeed, leaving the frame eligible for the next run.
func (ix *Indexer) indexFrame(ctx context.Context, f models.Frame) error {
	description, err := ix.describer.Describe(ctx, f)
	if err != nil {
		return fmt.Errorf("describe: %w", err)
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return errors.New("describe: model returned an empty description")
	}

	embedding, err := ix.embedder.Embed(ctx, description, embeddings.ResolutionLow)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}

	if err := ix.store.SetFrameVisualData(ctx, f.ID, description, embedding); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	return nil
}
