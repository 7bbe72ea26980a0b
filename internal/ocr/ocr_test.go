package ocr

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/bdougie/framesearch/internal/models"
)

type countingReader struct {
	calls   atomic.Int64
	failFor string
}

func (r *countingReader) ReadText(ctx context.Context, image []byte) (Result, error) {
	r.calls.Add(1)
	if string(image) == r.failFor {
		return Result{}, errors.New("rate limited")
	}
	return Result{Text: "  text of " + string(image) + "\n"}, nil
}

func makeFrames(n int) []models.FrameDescriptor {
	frames := make([]models.FrameDescriptor, n)
	for i := range frames {
		frames[i] = models.FrameDescriptor{
			FrameNumber: i + 1,
			Image:       []byte{byte('a' + i)},
		}
	}
	return frames
}

func TestExtractAllCallsOncePerFrame(t *testing.T) {
	for _, size := range []int{1, 5, 12, 20} {
		reader := &countingReader{}
		stage := NewStage(reader, size, nil)

		outcomes := stage.ExtractAll(context.Background(), "rec", makeFrames(12))
		if got := reader.calls.Load(); got != 12 {
			t.Errorf("batch size %d: reader called %d times, want 12", size, got)
		}
		if len(outcomes) != 12 {
			t.Errorf("batch size %d: got %d outcomes", size, len(outcomes))
		}
	}
}

func TestExtractAllIsolatesFrameFailures(t *testing.T) {
	reader := &countingReader{failFor: "c"}
	stage := NewStage(reader, 2, nil)

	outcomes := stage.ExtractAll(context.Background(), "rec-9", makeFrames(5))

	for i, o := range outcomes {
		if i == 2 {
			var pfErr *models.PerFrameStageError
			if !errors.As(o.Err, &pfErr) {
				t.Fatalf("frame 3 error = %v, want PerFrameStageError", o.Err)
			}
			if pfErr.Stage != StageName || pfErr.FrameNumber != 3 || pfErr.RecordingID != "rec-9" {
				t.Errorf("unexpected error detail: %+v", pfErr)
			}
			continue
		}
		if o.Err != nil {
			t.Errorf("frame %d unexpectedly failed: %v", i+1, o.Err)
		}
		if want := "text of " + string(rune('a'+i)); o.Value.Text != want {
			t.Errorf("frame %d text = %q, want %q", i+1, o.Value.Text, want)
		}
	}
}

func TestExtractFrameTextRejectsEmptyImage(t *testing.T) {
	reader := &countingReader{}
	stage := NewStage(reader, 1, nil)

	if _, err := stage.ExtractFrameText(context.Background(), nil); err == nil {
		t.Error("expected error for empty image")
	}
	if reader.calls.Load() != 0 {
		t.Error("reader called for empty image")
	}
}
