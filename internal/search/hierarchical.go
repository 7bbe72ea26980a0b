// Package search implements hierarchical and multimodal retrieval.
package search

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bdougie/framesearch/internal/embeddings"
	"github.com/bdougie/framesearch/internal/models"
)

// Stable error prefixes callers may match on.
const (
	ErrHierarchicalSearch = "Hierarchical search failed"
	ErrDualEmbeddings     = "Failed to generate dual embeddings"
	ErrSummarySearch      = "Recording summary search failed"
	ErrMultimodalSearch   = "Multimodal search failed"
	ErrQueryEmbedding     = "Failed to generate query embedding"
)

// Defaults applied when options are left zero.
const (
	DefaultTopDocuments               = 5
	DefaultChunksPerDocument          = 3
	DefaultThreshold                  = 0.7
	DefaultRecordingChunksPerDocument = 10
	DefaultSummaryLimit               = 10
	DefaultSummaryThreshold           = 0.5
)

// Embedder generates query embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string, res embeddings.Resolution) ([]float32, error)
	EmbedDual(ctx context.Context, text string) (embeddings.Pair, error)
}

// DocumentBackend is the vector backend over documents and chunks. Rows are
// returned ordered by relevance.
type DocumentBackend interface {
	MatchHierarchical(ctx context.Context, params models.HierarchicalParams) ([]models.HierarchicalRow, error)
	MatchSummaries(ctx context.Context, params models.SummaryParams) ([]models.SummaryRow, error)
}

// HierarchicalOptions tune a hierarchical search. Zero values select the
// defaults; a nil Threshold means DefaultThreshold.
type HierarchicalOptions struct {
	OrgID             string
	TopDocuments      int
	ChunksPerDocument int
	Threshold         *float64
}

// SummaryOptions tune GetRecordingSummaries.
type SummaryOptions struct {
	OrgID     string
	Limit     int
	Threshold *float64
}

// HierarchicalEngine ranks documents on summaries, then chunks within the
// retained documents.
type HierarchicalEngine struct {
	embedder Embedder
	backend  DocumentBackend
	logger   *slog.Logger
}

// NewHierarchicalEngine creates an engine.
func NewHierarchicalEngine(embedder Embedder, backend DocumentBackend, logger *slog.Logger) *HierarchicalEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &HierarchicalEngine{embedder: embedder, backend: backend, logger: logger}
}

// HierarchicalSearch returns chunk results for query, deduplicated by chunk id
// and ordered as the backend ranked them. No match yields an empty slice.
func (e *HierarchicalEngine) HierarchicalSearch(ctx context.Context, query string, opts HierarchicalOptions) ([]models.ChunkResult, error) {
	params, err := hierarchicalParams(query, opts, DefaultChunksPerDocument)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, query, params)
}

// HierarchicalSearchRecording searches a single recording. TopDocuments is
// pinned to 1 and ChunksPerDocument defaults to DefaultRecordingChunksPerDocument.
func (e *HierarchicalEngine) HierarchicalSearchRecording(ctx context.Context, recordingID, query string, opts HierarchicalOptions) ([]models.ChunkResult, error) {
	if strings.TrimSpace(recordingID) == "" {
		return nil, &models.ValidationError{Field: "recordingId", Reason: "is required"}
	}
	opts.TopDocuments = 1
	params, err := hierarchicalParams(query, opts, DefaultRecordingChunksPerDocument)
	if err != nil {
		return nil, err
	}
	params.RecordingID = recordingID

	results, err := e.run(ctx, query, params)
	if err != nil {
		return nil, err
	}

	filtered := results[:0]
	for _, r := range results {
		if r.RecordingID == recordingID {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// GetRecordingSummaries ranks document summaries only, using the
// low-resolution query embedding.
func (e *HierarchicalEngine) GetRecordingSummaries(ctx context.Context, query string, opts SummaryOptions) ([]models.RecordingSummary, error) {
	if err := validateQuery(query, opts.OrgID); err != nil {
		return nil, err
	}
	if opts.Limit < 0 {
		return nil, &models.ValidationError{Field: "limit", Reason: "must not be negative"}
	}
	if opts.Limit == 0 {
		opts.Limit = DefaultSummaryLimit
	}
	threshold, err := thresholdOrDefault(opts.Threshold, DefaultSummaryThreshold)
	if err != nil {
		return nil, err
	}

	embedding, err := e.embedder.Embed(ctx, query, embeddings.ResolutionLow)
	if err != nil {
		return nil, &models.SearchBackendError{Message: ErrQueryEmbedding, Err: err}
	}

	rows, err := e.backend.MatchSummaries(ctx, models.SummaryParams{
		Embedding:      embedding,
		OrgID:          opts.OrgID,
		Limit:          opts.Limit,
		MatchThreshold: threshold,
	})
	if err != nil {
		e.logger.Error("summary search failed", "org_id", opts.OrgID, "error", err)
		return nil, &models.SearchBackendError{Message: ErrSummarySearch, Err: err}
	}

	results := make([]models.RecordingSummary, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if _, dup := seen[row.DocumentID]; dup {
			continue
		}
		seen[row.DocumentID] = struct{}{}
		results = append(results, models.RecordingSummary{
			DocumentID:     row.DocumentID,
			RecordingID:    row.RecordingID,
			RecordingTitle: row.RecordingTitle,
			Summary:        row.Summary,
			Similarity:     clamp01(row.Similarity),
		})
	}
	return results, nil
}

func (e *HierarchicalEngine) run(ctx context.Context, query string, params models.HierarchicalParams) ([]models.ChunkResult, error) {
	pair, err := e.embedder.EmbedDual(ctx, query)
	if err != nil {
		return nil, &models.SearchBackendError{Message: ErrDualEmbeddings, Err: err}
	}
	params.EmbeddingLow = pair.Low
	params.EmbeddingHigh = pair.High

	rows, err := e.backend.MatchHierarchical(ctx, params)
	if err != nil {
		e.logger.Error("hierarchical search failed",
			"org_id", params.OrgID,
			"recording_id", params.RecordingID,
			"error", err)
		return nil, &models.SearchBackendError{Message: ErrHierarchicalSearch, Err: err}
	}

	results := dedupeChunks(rows)
	e.logger.Debug("hierarchical search",
		"org_id", params.OrgID,
		"rows", len(rows),
		"results", len(results))
	return results, nil
}

// dedupeChunks keeps the first occurrence of each chunk id. Rows arrive sorted
// by relevance, so the first occurrence is the best one.
func dedupeChunks(rows []models.HierarchicalRow) []models.ChunkResult {
	results := make([]models.ChunkResult, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if _, dup := seen[row.ChunkID]; dup {
			continue
		}
		seen[row.ChunkID] = struct{}{}
		results = append(results, models.ChunkResult{
			ChunkID:            row.ChunkID,
			DocumentID:         row.DocumentID,
			RecordingID:        row.RecordingID,
			RecordingTitle:     row.RecordingTitle,
			Text:               row.Content,
			ChunkIndex:         row.ChunkIndex,
			Timestamp:          row.StartTimeSec,
			DocumentSimilarity: clamp01(row.DocumentSimilarity),
			Similarity:         clamp01(row.ChunkSimilarity),
		})
	}
	return results
}

func hierarchicalParams(query string, opts HierarchicalOptions, defaultChunks int) (models.HierarchicalParams, error) {
	if err := validateQuery(query, opts.OrgID); err != nil {
		return models.HierarchicalParams{}, err
	}
	if opts.TopDocuments < 0 {
		return models.HierarchicalParams{}, &models.ValidationError{Field: "topDocuments", Reason: "must not be negative"}
	}
	if opts.ChunksPerDocument < 0 {
		return models.HierarchicalParams{}, &models.ValidationError{Field: "chunksPerDocument", Reason: "must not be negative"}
	}
	if opts.TopDocuments == 0 {
		opts.TopDocuments = DefaultTopDocuments
	}
	if opts.ChunksPerDocument == 0 {
		opts.ChunksPerDocument = defaultChunks
	}
	threshold, err := thresholdOrDefault(opts.Threshold, DefaultThreshold)
	if err != nil {
		return models.HierarchicalParams{}, err
	}

	return models.HierarchicalParams{
		OrgID:             opts.OrgID,
		TopDocuments:      opts.TopDocuments,
		ChunksPerDocument: opts.ChunksPerDocument,
		MatchThreshold:    threshold,
	}, nil
}

func validateQuery(query, orgID string) error {
	if strings.TrimSpace(query) == "" {
		return &models.ValidationError{Field: "query", Reason: "must not be empty"}
	}
	if strings.TrimSpace(orgID) == "" {
		return &models.ValidationError{Field: "orgId", Reason: "is required"}
	}
	return nil
}

func thresholdOrDefault(t *float64, def float64) (float64, error) {
	if t == nil {
		return def, nil
	}
	if *t < 0 || *t > 1 {
		return 0, &models.ValidationError{Field: "threshold", Reason: "must be between 0 and 1"}
	}
	return *t, nil
}
