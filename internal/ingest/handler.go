// Package ingest drives an extract_frames job from video to searchable frame rows.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bdougie/framesearch/internal/analyzer"
	"github.com/bdougie/framesearch/internal/batch"
	"github.com/bdougie/framesearch/internal/extractor"
	"github.com/bdougie/framesearch/internal/models"
	"github.com/bdougie/framesearch/internal/ocr"
)

// Handler states, used as the stage of a failure and in logs.
const (
	StateReceived       = "received"
	StateExtracting     = "extracting"
	StateOCR            = "ocr"
	StateVisualIndexing = "visual-indexing"
	StatePersisting     = "persisting"
	StateDone           = "done"
	StateFailed         = "failed"
)

// Store is the persistence the handler writes to.
type Store interface {
	SetVisualIndexingStatus(ctx context.Context, recordingID string, status models.IndexingStatus) error
	// UpsertFrames inserts or updates rows keyed by (recording_id, frame_number).
	// Nil optional fields never overwrite stored values.
	UpsertFrames(ctx context.Context, frames []models.Frame) error
}

// FrameExtractor samples a video into stored frames.
type FrameExtractor interface {
	ExtractFrames(ctx context.Context, src extractor.Source, cfg extractor.SamplingConfig) ([]models.FrameDescriptor, error)
}

// TextExtractor runs OCR over frames.
type TextExtractor interface {
	ExtractAll(ctx context.Context, recordingID string, frames []models.FrameDescriptor) []batch.Outcome[ocr.Result]
}

// VisualIndexer describes and embeds frames lacking a description.
type VisualIndexer interface {
	IndexRecordingFrames(ctx context.Context, recordingID, orgID string) (analyzer.Report, error)
}

// Flags reports whether OCR runs for an organization. It is consulted on
// every job.
type Flags interface {
	OCREnabled(ctx context.Context, orgID string) bool
}

// Options tune a Handler.
type Options struct {
	FrameInterval time.Duration
	RetryPolicy   RetryPolicy
}

// Handler processes extract_frames jobs. It holds no per-job state and may be
// invoked concurrently for distinct jobs.
type Handler struct {
	store     Store
	extractor FrameExtractor
	ocr       TextExtractor
	indexer   VisualIndexer
	flags     Flags
	interval  time.Duration
	policy    RetryPolicy
	logger    *slog.Logger
}

// NewHandler wires the pipeline stages together.
func NewHandler(store Store, ex FrameExtractor, text TextExtractor, indexer VisualIndexer, flags Flags, opts Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = 5 * time.Second
	}
	if opts.RetryPolicy == nil {
		opts.RetryPolicy = MaxAttemptsPolicy{}
	}
	return &Handler{
		store:     store,
		extractor: ex,
		ocr:       text,
		indexer:   indexer,
		flags:     flags,
		interval:  opts.FrameInterval,
		policy:    opts.RetryPolicy,
		logger:    logger,
	}
}

// HandleExtractFrames runs one attempt of job. A nil return means the
// recording is fully processed. Any error is a *models.JobError; when the
// attempt exhausts the job's retries the recording is marked failed before
// returning.
func (h *Handler) HandleExtractFrames(ctx context.Context, job *models.Job) error {
	logger := h.logger.With("job_id", job.ID, "attempt", job.AttemptCount+1)

	var payload models.ExtractFramesPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return h.fail(ctx, logger, job, "", StateReceived, fmt.Errorf("decode payload: %w", err))
	}
	if err := validatePayload(payload); err != nil {
		return &models.JobError{JobID: job.ID, Stage: StateReceived, Retryable: false, Err: err}
	}
	if payload.OrgID == "" {
		payload.OrgID = job.OrgID
	}

	logger = logger.With("recording_id", payload.RecordingID, "org_id", payload.OrgID)
	logger.Info("frame ingestion", "state", StateReceived)

	if err := h.store.SetVisualIndexingStatus(ctx, payload.RecordingID, models.IndexingProcessing); err != nil {
		return h.fail(ctx, logger, job, payload.RecordingID, StateReceived, fmt.Errorf("mark processing: %w", err))
	}

	logger.Info("frame ingestion", "state", StateExtracting)
	descriptors, err := h.extractor.ExtractFrames(ctx,
		extractor.Source{RecordingID: payload.RecordingID, URL: payload.VideoURL},
		extractor.SamplingConfig{Interval: h.interval})
	if err != nil {
		return h.fail(ctx, logger, job, payload.RecordingID, StateExtracting, err)
	}

	// Base rows go in before indexing so the indexer can find frames lacking
	// a description. The upsert is keyed, so a retried job rewrites the same rows.
	if err := h.store.UpsertFrames(ctx, baseFrames(payload.RecordingID, descriptors)); err != nil {
		return h.fail(ctx, logger, job, payload.RecordingID, StatePersisting, fmt.Errorf("upsert frames: %w", err))
	}

	ocrEnabled := h.flags != nil && h.flags.OCREnabled(ctx, payload.OrgID)
	var (
		ocrOutcomes []batch.Outcome[ocr.Result]
		report      analyzer.Report
	)

	g, gctx := errgroup.WithContext(ctx)
	if ocrEnabled {
		g.Go(func() error {
			logger.Info("frame ingestion", "state", StateOCR, "frames", len(descriptors))
			ocrOutcomes = h.ocr.ExtractAll(gctx, payload.RecordingID, descriptors)
			return nil
		})
	}
	g.Go(func() error {
		logger.Info("frame ingestion", "state", StateVisualIndexing, "frames", len(descriptors))
		var err error
		report, err = h.indexer.IndexRecordingFrames(gctx, payload.RecordingID, payload.OrgID)
		return err
	})
	if err := g.Wait(); err != nil {
		return h.fail(ctx, logger, job, payload.RecordingID, StateVisualIndexing, err)
	}

	logger.Info("frame ingestion", "state", StatePersisting,
		"ocr_enabled", ocrEnabled,
		"indexed", report.Indexed,
		"index_failed", report.Failed())

	if ocrEnabled {
		withText, failed := framesWithText(payload.RecordingID, descriptors, ocrOutcomes)
		if failed > 0 {
			logger.Warn("ocr text missing for some frames", "failed", failed)
		}
		if len(withText) > 0 {
			if err := h.store.UpsertFrames(ctx, withText); err != nil {
				return h.fail(ctx, logger, job, payload.RecordingID, StatePersisting, fmt.Errorf("upsert ocr text: %w", err))
			}
		}
	}

	if err := h.store.SetVisualIndexingStatus(ctx, payload.RecordingID, models.IndexingCompleted); err != nil {
		return h.fail(ctx, logger, job, payload.RecordingID, StatePersisting, fmt.Errorf("mark completed: %w", err))
	}

	logger.Info("frame ingestion", "state", StateDone, "frames", len(descriptors))
	return nil
}

// fail converts a stage error into a JobError. When the policy says this was
// the last attempt the recording is marked failed first. A cancelled attempt
// is always retryable.
func (h *Handler) fail(ctx context.Context, logger *slog.Logger, job *models.Job, recordingID, stage string, err error) error {
	attempt := job.AttemptCount + 1
	retryable := h.policy.ShouldRetry(attempt, job.MaxAttempts)
	if errors.Is(ctx.Err(), context.Canceled) {
		// The attempt was abandoned, so it does not count against the job.
		retryable = true
	}

	logger.Error("frame ingestion",
		"state", StateFailed,
		"stage", stage,
		"retryable", retryable,
		"max_attempts", job.MaxAttempts,
		"error", err)

	if !retryable && recordingID != "" {
		// The job context may already be cancelled; the terminal status must still land.
		statusCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if serr := h.store.SetVisualIndexingStatus(statusCtx, recordingID, models.IndexingFailed); serr != nil {
			logger.Error("failed to mark recording failed", "error", serr)
			err = errors.Join(err, fmt.Errorf("mark failed: %w", serr))
		}
	}

	return &models.JobError{
		JobID:       job.ID,
		RecordingID: recordingID,
		Stage:       stage,
		Retryable:   retryable,
		Err:         err,
	}
}

func validatePayload(p models.ExtractFramesPayload) error {
	switch {
	case p.RecordingID == "":
		return &models.ValidationError{Field: "recordingId", Reason: "is required"}
	case p.VideoURL == "":
		return &models.ValidationError{Field: "videoUrl", Reason: "is required"}
	}
	return nil
}

func baseFrames(recordingID string, descriptors []models.FrameDescriptor) []models.Frame {
	frames := make([]models.Frame, len(descriptors))
	for i, d := range descriptors {
		frames[i] = models.Frame{
			RecordingID:  recordingID,
			FrameNumber:  d.FrameNumber,
			FrameTimeSec: d.TimeSec,
			FrameURL:     d.URL,
		}
	}
	return frames
}

// framesWithText returns rows for frames whose OCR succeeded. Failed frames
// are left out so their ocr_text stays null.
func framesWithText(recordingID string, descriptors []models.FrameDescriptor, outcomes []batch.Outcome[ocr.Result]) ([]models.Frame, int) {
	var (
		frames []models.Frame
		failed int
	)
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			continue
		}
		d := descriptors[o.Index]
		text := o.Value.Text
		frames = append(frames, models.Frame{
			RecordingID:  recordingID,
			FrameNumber:  d.FrameNumber,
			FrameTimeSec: d.TimeSec,
			FrameURL:     d.URL,
			OCRText:      &text,
		})
	}
	return frames, failed
}
