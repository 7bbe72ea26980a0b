package search

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/bdougie/framesearch/internal/embeddings"
	"github.com/bdougie/framesearch/internal/models"
)

// Multimodal defaults.
const (
	DefaultAudioWeight     = 0.6
	DefaultVisualWeight    = 0.4
	DefaultVisualThreshold = 0.0
	DefaultMultimodalLimit = 10
)

// MediaBackend serves transcript matches and org-scoped frames with stored
// visual embeddings.
type MediaBackend interface {
	MatchTranscripts(ctx context.Context, params models.TranscriptParams) ([]models.TranscriptRow, error)
	ListVisualFrames(ctx context.Context, orgID string) ([]models.VisualFrameRow, error)
}

// VisualFlags reports whether frames are searched without being asked for.
type VisualFlags interface {
	VisualSearchEnabled(ctx context.Context, orgID string) bool
}

// MultimodalOptions tune a multimodal search. Nil pointers select defaults.
// Limit caps transcript matches only.
type MultimodalOptions struct {
	OrgID         string
	IncludeFrames bool
	AudioWeight   *float64
	VisualWeight  *float64
	Threshold     *float64
	Limit         int
}

// MultimodalEngine fuses transcript and visual frame results.
type MultimodalEngine struct {
	embedder Embedder
	backend  MediaBackend
	flags    VisualFlags
	logger   *slog.Logger
}

// NewMultimodalEngine creates an engine. flags may be nil.
func NewMultimodalEngine(embedder Embedder, backend MediaBackend, flags VisualFlags, logger *slog.Logger) *MultimodalEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultimodalEngine{embedder: embedder, backend: backend, flags: flags, logger: logger}
}

type multimodalSettings struct {
	audioWeight  float64
	visualWeight float64
	threshold    float64
	limit        int
}

// MultimodalSearch embeds query once, fetches transcript matches and, when
// requested or enabled for the org, frames above the similarity threshold.
// Every result is scored as its modality weight times its similarity and the
// combined list is ordered by score.
func (e *MultimodalEngine) MultimodalSearch(ctx context.Context, query string, opts MultimodalOptions) (*models.MultimodalResponse, error) {
	settings, err := multimodalDefaults(query, opts)
	if err != nil {
		return nil, err
	}

	embedding, err := e.embedder.Embed(ctx, query, embeddings.ResolutionLow)
	if err != nil {
		return nil, &models.SearchBackendError{Message: ErrQueryEmbedding, Err: err}
	}

	includeFrames := opts.IncludeFrames || (e.flags != nil && e.flags.VisualSearchEnabled(ctx, opts.OrgID))

	var (
		transcripts []models.TranscriptRow
		frames      []models.VisualFrameRow
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := e.backend.MatchTranscripts(gctx, models.TranscriptParams{
			Embedding: embedding,
			OrgID:     opts.OrgID,
			Limit:     settings.limit,
		})
		transcripts = rows
		return err
	})
	if includeFrames {
		g.Go(func() error {
			rows, err := e.backend.ListVisualFrames(gctx, opts.OrgID)
			frames = rows
			return err
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Error("multimodal search failed", "org_id", opts.OrgID, "error", err)
		return nil, &models.SearchBackendError{Message: ErrMultimodalSearch, Err: err}
	}

	resp := &models.MultimodalResponse{
		TranscriptResults: transcriptResults(transcripts, settings.limit),
		VisualResults:     visualResults(embedding, frames, settings.threshold),
	}
	resp.CombinedResults = fuse(resp.TranscriptResults, resp.VisualResults, settings.audioWeight, settings.visualWeight)
	resp.Metadata = models.MultimodalMetadata{
		TranscriptCount: len(resp.TranscriptResults),
		VisualCount:     len(resp.VisualResults),
		TotalCount:      len(resp.CombinedResults),
	}

	e.logger.Debug("multimodal search",
		"org_id", opts.OrgID,
		"include_frames", includeFrames,
		"transcripts", resp.Metadata.TranscriptCount,
		"frames", resp.Metadata.VisualCount)
	return resp, nil
}

func multimodalDefaults(query string, opts MultimodalOptions) (multimodalSettings, error) {
	if err := validateQuery(query, opts.OrgID); err != nil {
		return multimodalSettings{}, err
	}
	s := multimodalSettings{
		audioWeight:  DefaultAudioWeight,
		visualWeight: DefaultVisualWeight,
		threshold:    DefaultVisualThreshold,
		limit:        DefaultMultimodalLimit,
	}
	if opts.AudioWeight != nil {
		if *opts.AudioWeight < 0 {
			return s, &models.ValidationError{Field: "audioWeight", Reason: "must not be negative"}
		}
		s.audioWeight = *opts.AudioWeight
	}
	if opts.VisualWeight != nil {
		if *opts.VisualWeight < 0 {
			return s, &models.ValidationError{Field: "visualWeight", Reason: "must not be negative"}
		}
		s.visualWeight = *opts.VisualWeight
	}
	threshold, err := thresholdOrDefault(opts.Threshold, DefaultVisualThreshold)
	if err != nil {
		return s, err
	}
	s.threshold = threshold
	if opts.Limit < 0 {
		return s, &models.ValidationError{Field: "limit", Reason: "must not be negative"}
	}
	if opts.Limit > 0 {
		s.limit = opts.Limit
	}
	return s, nil
}

func transcriptResults(rows []models.TranscriptRow, limit int) []models.TranscriptResult {
	results := make([]models.TranscriptResult, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if _, dup := seen[row.ChunkID]; dup {
			continue
		}
		seen[row.ChunkID] = struct{}{}
		results = append(results, models.TranscriptResult{
			ChunkID:        row.ChunkID,
			RecordingID:    row.RecordingID,
			RecordingTitle: row.RecordingTitle,
			Text:           row.Content,
			Similarity:     clamp01(row.Similarity),
			Timestamp:      row.StartTimeSec,
		})
		if len(results) == limit {
			break
		}
	}
	return results
}

// visualResults scores every frame against the query and keeps those at or
// above threshold, best first. The threshold is the only filter.
func visualResults(query []float32, rows []models.VisualFrameRow, threshold float64) []models.VisualResult {
	results := make([]models.VisualResult, 0, len(rows))
	for _, row := range rows {
		similarity := clamp01(CosineSimilarity(query, row.VisualEmbedding))
		if similarity < threshold {
			continue
		}
		results = append(results, models.VisualResult{
			FrameID:        row.FrameID,
			RecordingID:    row.RecordingID,
			RecordingTitle: row.RecordingTitle,
			TimestampSec:   row.FrameTimeSec,
			FrameURL:       row.FrameURL,
			Description:    row.VisualDescription,
			OCRText:        row.OCRText,
			Similarity:     similarity,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	return results
}

func fuse(transcripts []models.TranscriptResult, visuals []models.VisualResult, audioWeight, visualWeight float64) []models.CombinedResult {
	combined := make([]models.CombinedResult, 0, len(transcripts)+len(visuals))
	for i := range transcripts {
		combined = append(combined, models.CombinedResult{
			Modality:   models.ModalityTranscript,
			Score:      audioWeight * transcripts[i].Similarity,
			Transcript: &transcripts[i],
		})
	}
	for i := range visuals {
		combined = append(combined, models.CombinedResult{
			Modality: models.ModalityVisual,
			Score:    visualWeight * visuals[i].Similarity,
			Visual:   &visuals[i],
		})
	}
	sort.SliceStable(combined, func(i, j int) bool {
		return combined[i].Score > combined[j].Score
	})
	return combined
}
