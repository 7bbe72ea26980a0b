package search

import (
	"context"
	"errors"
	"testing"

	"github.com/bdougie/framesearch/internal/models"
)

type fakeWriter struct {
	doc     models.Document
	summary []float32
	chunks  []models.Chunk
	calls   int
}

func (w *fakeWriter) ReplaceDocument(ctx context.Context, doc models.Document, summaryEmbedding []float32, chunks []models.Chunk) error {
	w.calls++
	w.doc, w.summary, w.chunks = doc, summaryEmbedding, chunks
	return nil
}

func TestIndexDocument(t *testing.T) {
	writer := &fakeWriter{}
	ix := NewDocumentIndexer(&fakeEmbedder{}, writer, 2, nil)

	doc, err := ix.IndexDocument(context.Background(),
		models.Document{RecordingID: "rec", OrgID: "org", Summary: "weekly sync"},
		[]ChunkInput{
			{Content: "intro", StartTimeSec: 0},
			{Content: "roadmap", StartTimeSec: 42},
			{Content: "questions", StartTimeSec: 300},
		})
	if err != nil {
		t.Fatal(err)
	}

	if doc.ID == "" || writer.doc.ID != doc.ID {
		t.Errorf("document id not assigned: %+v", doc)
	}
	if len(writer.summary) != 1536 {
		t.Errorf("summary embedding has %d dims", len(writer.summary))
	}
	if len(writer.chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(writer.chunks))
	}
	for i, c := range writer.chunks {
		if c.ChunkIndex != i || c.DocumentID != doc.ID {
			t.Errorf("chunk %d = %+v", i, c)
		}
		if len(c.EmbeddingLow) != 1536 || len(c.EmbeddingHigh) != 3072 {
			t.Errorf("chunk %d embeddings = %d/%d", i, len(c.EmbeddingLow), len(c.EmbeddingHigh))
		}
	}
	if writer.chunks[1].StartTimeSec != 42 {
		t.Errorf("chunk start time lost: %v", writer.chunks[1].StartTimeSec)
	}
}

func TestIndexDocumentWritesNothingOnFailure(t *testing.T) {
	tests := []struct {
		name     string
		embedder *fakeEmbedder
		doc      models.Document
		inputs   []ChunkInput
	}{
		{
			name:     "chunk embedding fails",
			embedder: &fakeEmbedder{dualErr: errors.New("quota")},
			doc:      models.Document{RecordingID: "rec", OrgID: "org", Summary: "s"},
			inputs:   []ChunkInput{{Content: "a"}},
		},
		{
			name:     "summary embedding fails",
			embedder: &fakeEmbedder{embedErr: errors.New("quota")},
			doc:      models.Document{RecordingID: "rec", OrgID: "org", Summary: "s"},
		},
		{
			name:     "empty chunk",
			embedder: &fakeEmbedder{},
			doc:      models.Document{RecordingID: "rec", OrgID: "org", Summary: "s"},
			inputs:   []ChunkInput{{Content: " "}},
		},
		{
			name:     "missing org",
			embedder: &fakeEmbedder{},
			doc:      models.Document{RecordingID: "rec", Summary: "s"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writer := &fakeWriter{}
			ix := NewDocumentIndexer(tt.embedder, writer, 4, nil)
			if _, err := ix.IndexDocument(context.Background(), tt.doc, tt.inputs); err == nil {
				t.Fatal("expected error")
			}
			if writer.calls != 0 {
				t.Error("document written despite failure")
			}
		})
	}
}
