package models

import (
	"encoding/json"
	"time"
)

// JobStatus represents the lifecycle stage of a queued job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// JobTypeExtractFrames is the job type consumed by the frame ingestion handler.
const JobTypeExtractFrames = "extract_frames"

// Job is the unit of work delivered by the queue runtime.
type Job struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Status       JobStatus       `json:"status"`
	Payload      json.RawMessage `json:"payload"`
	OrgID        string          `json:"org_id"`
	AttemptCount int             `json:"attempt_count"`
	MaxAttempts  int             `json:"max_attempts"`
	RunAfter     time.Time       `json:"run_after"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	DedupeKey    string          `json:"dedupe_key,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
}

// IsDone reports whether the job reached a terminal state.
func (j *Job) IsDone() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// ExtractFramesPayload is the payload of an extract_frames job.
type ExtractFramesPayload struct {
	RecordingID string `json:"recordingId"`
	OrgID       string `json:"orgId"`
	VideoURL    string `json:"videoUrl"`
}

// IndexingStatus tracks visual indexing progress on a recording.
type IndexingStatus string

const (
	IndexingPending    IndexingStatus = "pending"
	IndexingProcessing IndexingStatus = "processing"
	IndexingCompleted  IndexingStatus = "completed"
	IndexingFailed     IndexingStatus = "failed"
)

// Recording owns zero or more frames.
type Recording struct {
	ID                   string         `json:"id"`
	OrgID                string         `json:"orgId"`
	Title                string         `json:"title"`
	VideoURL             string         `json:"videoUrl"`
	VisualIndexingStatus IndexingStatus `json:"visualIndexingStatus"`
	CreatedAt            time.Time      `json:"createdAt"`
	UpdatedAt            time.Time      `json:"updatedAt"`
}

// FrameDescriptor is one sampled still produced by frame extraction.
type FrameDescriptor struct {
	FrameNumber int
	TimeSec     float64
	URL         string
	Image       []byte
}

// Frame is a persisted frame row. Nil pointers mean the stage did not run or failed.
type Frame struct {
	ID                string    `json:"id"`
	RecordingID       string    `json:"recordingId"`
	FrameNumber       int       `json:"frameNumber"`
	FrameTimeSec      float64   `json:"frameTimeSec"`
	FrameURL          string    `json:"frameUrl"`
	VisualDescription *string   `json:"visualDescription,omitempty"`
	OCRText           *string   `json:"ocrText,omitempty"`
	VisualEmbedding   []float32 `json:"-"`
}

// Document is a searchable unit with a summary and ordered chunks.
type Document struct {
	ID          string `json:"id"`
	RecordingID string `json:"recordingId"`
	OrgID       string `json:"orgId"`
	Summary     string `json:"summary"`
}

// Chunk is an immutable, embedded slice of a document.
type Chunk struct {
	ID            string    `json:"id"`
	DocumentID    string    `json:"documentId"`
	ChunkIndex    int       `json:"chunkIndex"`
	Content       string    `json:"content"`
	StartTimeSec  float64   `json:"startTimeSec"`
	EmbeddingLow  []float32 `json:"-"`
	EmbeddingHigh []float32 `json:"-"`
}
