package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/bdougie/framesearch/internal/batch"
	"github.com/bdougie/framesearch/internal/embeddings"
	"github.com/bdougie/framesearch/internal/models"
)

// DocumentWriter replaces a document and all of its chunks atomically.
type DocumentWriter interface {
	ReplaceDocument(ctx context.Context, doc models.Document, summaryEmbedding []float32, chunks []models.Chunk) error
}

// ChunkInput is the text of one chunk to index.
type ChunkInput struct {
	Content      string  `json:"content"`
	StartTimeSec float64 `json:"startTimeSec"`
}

// DocumentIndexer makes documents searchable by the hierarchical engine: the
// summary gets a low-resolution embedding and every chunk a dual embedding
// of its own text.
type DocumentIndexer struct {
	embedder  Embedder
	writer    DocumentWriter
	batchSize int
	logger    *slog.Logger
}

// NewDocumentIndexer creates an indexer embedding at most batchSize chunks at once.
func NewDocumentIndexer(embedder Embedder, writer DocumentWriter, batchSize int, logger *slog.Logger) *DocumentIndexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentIndexer{embedder: embedder, writer: writer, batchSize: batchSize, logger: logger}
}

// IndexDocument embeds and stores doc with chunks, replacing any previous
// chunks. Nothing is written unless every embedding succeeds.
func (ix *DocumentIndexer) IndexDocument(ctx context.Context, doc models.Document, inputs []ChunkInput) (models.Document, error) {
	switch {
	case strings.TrimSpace(doc.RecordingID) == "":
		return models.Document{}, &models.ValidationError{Field: "recordingId", Reason: "is required"}
	case strings.TrimSpace(doc.OrgID) == "":
		return models.Document{}, &models.ValidationError{Field: "orgId", Reason: "is required"}
	case strings.TrimSpace(doc.Summary) == "":
		return models.Document{}, &models.ValidationError{Field: "summary", Reason: "must not be empty"}
	}
	for i, in := range inputs {
		if strings.TrimSpace(in.Content) == "" {
			return models.Document{}, &models.ValidationError{Field: fmt.Sprintf("chunks[%d].content", i), Reason: "must not be empty"}
		}
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}

	summaryEmbedding, err := ix.embedder.Embed(ctx, doc.Summary, embeddings.ResolutionLow)
	if err != nil {
		return models.Document{}, fmt.Errorf("embed summary of document %s: %w", doc.ID, err)
	}

	outcomes := batch.Run(ctx, inputs, ix.batchSize, func(ctx context.Context, in ChunkInput) (embeddings.Pair, error) {
		return ix.embedder.EmbedDual(ctx, in.Content)
	})

	chunks := make([]models.Chunk, len(inputs))
	for i, o := range outcomes {
		if o.Err != nil {
			return models.Document{}, fmt.Errorf("embed chunk %d of document %s: %w", i, doc.ID, o.Err)
		}
		chunks[i] = models.Chunk{
			ID:            uuid.NewString(),
			DocumentID:    doc.ID,
			ChunkIndex:    i,
			Content:       inputs[i].Content,
			StartTimeSec:  inputs[i].StartTimeSec,
			EmbeddingLow:  o.Value.Low,
			EmbeddingHigh: o.Value.High,
		}
	}

	if err := ix.writer.ReplaceDocument(ctx, doc, summaryEmbedding, chunks); err != nil {
		return models.Document{}, fmt.Errorf("store document %s: %w", doc.ID, err)
	}

	ix.logger.Info("document indexed",
		"document_id", doc.ID,
		"recording_id", doc.RecordingID,
		"chunks", len(chunks))
	return doc, nil
}
