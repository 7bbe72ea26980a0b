package models

import "fmt"

// EmbeddingGenerationError is returned when the embedding provider fails or
// returns a vector of the wrong length.
type EmbeddingGenerationError struct {
	Dimensions int
	Err        error
}

func (e *EmbeddingGenerationError) Error() string {
	return fmt.Sprintf("embedding generation failed (%d dims): %v", e.Dimensions, e.Err)
}

func (e *EmbeddingGenerationError) Unwrap() error { return e.Err }

// FrameExtractionError is returned when a video cannot be decoded into frames.
type FrameExtractionError struct {
	Source string
	Err    error
}

func (e *FrameExtractionError) Error() string {
	return fmt.Sprintf("frame extraction failed for %q: %v", e.Source, e.Err)
}

func (e *FrameExtractionError) Unwrap() error { return e.Err }

// PerFrameStageError records a failure of one stage on one frame. It never
// aborts the enclosing batch.
type PerFrameStageError struct {
	Stage       string
	RecordingID string
	FrameNumber int
	Err         error
}

func (e *PerFrameStageError) Error() string {
	return fmt.Sprintf("%s failed for recording %s frame %d: %v", e.Stage, e.RecordingID, e.FrameNumber, e.Err)
}

func (e *PerFrameStageError) Unwrap() error { return e.Err }

// SearchBackendError wraps a failure of the vector backend. Message carries the
// stable prefix callers match on.
type SearchBackendError struct {
	Message string
	Err     error
}

func (e *SearchBackendError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *SearchBackendError) Unwrap() error { return e.Err }

// ValidationError reports malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// JobError is what the frame ingestion handler returns to the queue runtime.
type JobError struct {
	JobID       string
	RecordingID string
	Stage       string
	Retryable   bool
	Err         error
}

func (e *JobError) Error() string {
	state := "retryable"
	if !e.Retryable {
		state = "not retryable"
	}
	return fmt.Sprintf("job %s (recording %s) failed at %s, %s: %v", e.JobID, e.RecordingID, e.Stage, state, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }
