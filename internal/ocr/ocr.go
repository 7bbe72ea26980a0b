// Package ocr extracts on-screen text from frame images.
package ocr

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/bdougie/framesearch/internal/batch"
	"github.com/bdougie/framesearch/internal/models"
)

// StageName tags per-frame errors raised by this package.
const StageName = "ocr"

// Result is the text read from one frame.
type Result struct {
	Text       string
	Confidence *float64
}

// Reader reads text from an image. Implementations must be safe for
// concurrent use.
type Reader interface {
	ReadText(ctx context.Context, image []byte) (Result, error)
}

// Stage runs a Reader over frames in bounded batches.
type Stage struct {
	reader    Reader
	batchSize int
	logger    *slog.Logger
}

// NewStage returns a Stage issuing at most batchSize concurrent reads.
func NewStage(reader Reader, batchSize int, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{reader: reader, batchSize: batchSize, logger: logger}
}

// ExtractFrameText reads the text of a single frame image.
func (s *Stage) ExtractFrameText(ctx context.Context, image []byte) (Result, error) {
	if len(image) == 0 {
		return Result{}, errors.New("frame image is empty")
	}
	res, err := s.reader.ReadText(ctx, image)
	if err != nil {
		return Result{}, err
	}
	res.Text = strings.TrimSpace(res.Text)
	return res, nil
}

// ExtractAll reads every frame. Outcomes line up with frames; a failed frame
// carries a *models.PerFrameStageError and does not affect its siblings.
func (s *Stage) ExtractAll(ctx context.Context, recordingID string, frames []models.FrameDescriptor) []batch.Outcome[Result] {
	outcomes := batch.Run(ctx, frames, s.batchSize, func(ctx context.Context, f models.FrameDescriptor) (Result, error) {
		res, err := s.ExtractFrameText(ctx, f.Image)
		if err != nil {
			return Result{}, &models.PerFrameStageError{
				Stage:       StageName,
				RecordingID: recordingID,
				FrameNumber: f.FrameNumber,
				Err:         err,
			}
		}
		return res, nil
	})

	if failed := batch.Failed(outcomes); failed > 0 {
		s.logger.Warn("ocr failed for some frames",
			"recording_id", recordingID,
			"failed", failed,
			"frames", len(frames))
	}
	return outcomes
}
