package models

// Rows returned by the vector backend. These are the only shapes that cross the
// storage boundary; nothing untyped is passed further up.

// HierarchicalParams is the parameter contract of a hierarchical match.
// RecordingID, when set, restricts candidate documents to one recording.
type HierarchicalParams struct {
	EmbeddingLow      []float32
	EmbeddingHigh     []float32
	OrgID             string
	RecordingID       string
	TopDocuments      int
	ChunksPerDocument int
	MatchThreshold    float64
}

// SummaryParams ranks document summaries on the low-resolution embedding.
type SummaryParams struct {
	Embedding      []float32
	OrgID          string
	Limit          int
	MatchThreshold float64
}

// TranscriptParams ranks transcript chunks on the low-resolution embedding.
type TranscriptParams struct {
	Embedding []float32
	OrgID     string
	Limit     int
}

// HierarchicalRow is one chunk match from a hierarchical query.
type HierarchicalRow struct {
	ChunkID            string
	DocumentID         string
	RecordingID        string
	RecordingTitle     string
	Content            string
	ChunkIndex         int
	StartTimeSec       float64
	DocumentSimilarity float64
	ChunkSimilarity    float64
}

// SummaryRow is one document-level match.
type SummaryRow struct {
	DocumentID     string
	RecordingID    string
	RecordingTitle string
	Summary        string
	Similarity     float64
}

// TranscriptRow is one transcript chunk match.
type TranscriptRow struct {
	ChunkID        string
	RecordingID    string
	RecordingTitle string
	Content        string
	StartTimeSec   float64
	Similarity     float64
}

// VisualFrameRow is a frame with a stored visual embedding, scoped to an org.
type VisualFrameRow struct {
	FrameID           string
	RecordingID       string
	RecordingTitle    string
	FrameTimeSec      float64
	FrameURL          string
	VisualDescription string
	OCRText           *string
	VisualEmbedding   []float32
}

// ChunkResult is a hierarchical search hit.
type ChunkResult struct {
	ChunkID            string  `json:"chunkId"`
	DocumentID         string  `json:"documentId"`
	RecordingID        string  `json:"recordingId"`
	RecordingTitle     string  `json:"recordingTitle"`
	Text               string  `json:"text"`
	ChunkIndex         int     `json:"chunkIndex"`
	Timestamp          float64 `json:"timestamp"`
	DocumentSimilarity float64 `json:"documentSimilarity"`
	Similarity         float64 `json:"similarity"`
}

// RecordingSummary is a document-level search hit.
type RecordingSummary struct {
	DocumentID     string  `json:"documentId"`
	RecordingID    string  `json:"recordingId"`
	RecordingTitle string  `json:"recordingTitle"`
	Summary        string  `json:"summary"`
	Similarity     float64 `json:"similarity"`
}

// TranscriptResult is an audio-modality hit.
type TranscriptResult struct {
	ChunkID        string  `json:"chunkId"`
	RecordingID    string  `json:"recordingId"`
	RecordingTitle string  `json:"recordingTitle"`
	Text           string  `json:"text"`
	Similarity     float64 `json:"similarity"`
	Timestamp      float64 `json:"timestamp"`
}

// VisualResult is a frame-modality hit.
type VisualResult struct {
	FrameID        string  `json:"frameId"`
	RecordingID    string  `json:"recordingId"`
	RecordingTitle string  `json:"recordingTitle,omitempty"`
	TimestampSec   float64 `json:"timestampSec"`
	FrameURL       string  `json:"frameUrl,omitempty"`
	Description    string  `json:"description"`
	OCRText        *string `json:"ocrText,omitempty"`
	Similarity     float64 `json:"similarity"`
}

// Modality tags a combined result with its origin.
type Modality string

const (
	ModalityTranscript Modality = "transcript"
	ModalityVisual     Modality = "visual"
)

// CombinedResult is one entry of the fused ranking. Exactly one of Transcript or
// Visual is set, matching Modality.
type CombinedResult struct {
	Modality   Modality          `json:"modality"`
	Score      float64           `json:"score"`
	Transcript *TranscriptResult `json:"transcript,omitempty"`
	Visual     *VisualResult     `json:"visual,omitempty"`
}

// MultimodalMetadata reports result counts.
type MultimodalMetadata struct {
	TranscriptCount int `json:"transcriptCount"`
	VisualCount     int `json:"visualCount"`
	TotalCount      int `json:"totalCount"`
}

// MultimodalResponse is the fused query response.
type MultimodalResponse struct {
	TranscriptResults []TranscriptResult `json:"transcriptResults"`
	VisualResults     []VisualResult     `json:"visualResults"`
	CombinedResults   []CombinedResult   `json:"combinedResults"`
	Metadata          MultimodalMetadata `json:"metadata"`
}
