package embeddings

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bdougie/framesearch/internal/models"
)

// Resolution is the dimensionality of an embedding vector.
type Resolution int

const (
	// ResolutionLow is used for coarse, document-level ranking.
	ResolutionLow Resolution = 1536
	// ResolutionHigh is used for fine, chunk-level ranking.
	ResolutionHigh Resolution = 3072
)

// Valid reports whether r is a supported resolution.
func (r Resolution) Valid() bool {
	return r == ResolutionLow || r == ResolutionHigh
}

// Pair holds two embeddings of the same text.
type Pair struct {
	Low  []float32
	High []float32
}

// Provider calls an embedding model for a single text at the given dimensions.
type Provider interface {
	CreateEmbedding(ctx context.Context, text string, dimensions int) ([]float32, error)
}

type cacheKey struct {
	text       string
	resolution Resolution
}

// Service generates embeddings and caches successful results in memory.
// It performs no retries; retry policy belongs to callers.
type Service struct {
	provider Provider
	logger   *slog.Logger
	cache    sync.Map // cacheKey -> []float32
}

// NewService creates a new embedding service backed by provider.
func NewService(provider Provider, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		provider: provider,
		logger:   logger,
	}
}

// Embed returns a vector of exactly res dimensions for text.
func (s *Service) Embed(ctx context.Context, text string, res Resolution) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &models.ValidationError{Field: "text", Reason: "must not be empty"}
	}
	if !res.Valid() {
		return nil, &models.ValidationError{Field: "resolution", Reason: fmt.Sprintf("%d is not supported", res)}
	}

	key := cacheKey{text: text, resolution: res}
	if cached, ok := s.cache.Load(key); ok {
		if vec, valid := cached.([]float32); valid {
			return vec, nil
		}
	}

	vec, err := s.provider.CreateEmbedding(ctx, text, int(res))
	if err != nil {
		return nil, &models.EmbeddingGenerationError{Dimensions: int(res), Err: err}
	}
	if len(vec) != int(res) {
		return nil, &models.EmbeddingGenerationError{
			Dimensions: int(res),
			Err:        fmt.Errorf("provider returned %d dimensions", len(vec)),
		}
	}

	s.cache.Store(key, vec)
	return vec, nil
}

// EmbedDual returns both resolutions for text. Either both succeed or an error
// is returned; a partial pair is never produced.
func (s *Service) EmbedDual(ctx context.Context, text string) (Pair, error) {
	var pair Pair
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vec, err := s.Embed(gctx, text, ResolutionLow)
		pair.Low = vec
		return err
	})
	g.Go(func() error {
		vec, err := s.Embed(gctx, text, ResolutionHigh)
		pair.High = vec
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Debug("dual embedding failed", "error", err)
		return Pair{}, err
	}
	return pair, nil
}
