package embeddings

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bdougie/framesearch/internal/models"
)

type fakeProvider struct {
	mu      sync.Mutex
	calls   map[int]int
	failDim int
	wrong   map[int]int
}

func (f *fakeProvider) CreateEmbedding(ctx context.Context, text string, dimensions int) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[int]int{}
	}
	f.calls[dimensions]++
	if dimensions == f.failDim {
		return nil, errors.New("provider down")
	}
	n := dimensions
	if w, ok := f.wrong[dimensions]; ok {
		n = w
	}
	vec := make([]float32, n)
	for i := range vec {
		vec[i] = float32(len(text))
	}
	return vec, nil
}

func TestEmbed(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		res      Resolution
		provider *fakeProvider
		wantErr  bool
		invalid  bool
	}{
		{name: "low resolution", text: "hello", res: ResolutionLow, provider: &fakeProvider{}},
		{name: "high resolution", text: "hello", res: ResolutionHigh, provider: &fakeProvider{}},
		{name: "empty text", text: "   ", res: ResolutionLow, provider: &fakeProvider{}, wantErr: true, invalid: true},
		{name: "unsupported resolution", text: "hello", res: Resolution(768), provider: &fakeProvider{}, wantErr: true, invalid: true},
		{name: "provider error", text: "hello", res: ResolutionLow, provider: &fakeProvider{failDim: 1536}, wantErr: true},
		{name: "wrong length", text: "hello", res: ResolutionHigh, provider: &fakeProvider{wrong: map[int]int{3072: 1536}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.provider, nil)
			vec, err := svc.Embed(context.Background(), tt.text, tt.res)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Embed() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.invalid {
				var vErr *models.ValidationError
				if !errors.As(err, &vErr) {
					t.Errorf("error %v is not a ValidationError", err)
				}
				if len(tt.provider.calls) != 0 {
					t.Errorf("provider called for invalid input")
				}
				return
			}
			if tt.wantErr {
				var egErr *models.EmbeddingGenerationError
				if !errors.As(err, &egErr) {
					t.Errorf("error %v is not an EmbeddingGenerationError", err)
				}
				return
			}
			if len(vec) != int(tt.res) {
				t.Errorf("len(vec) = %d, want %d", len(vec), tt.res)
			}
		})
	}
}

func TestEmbedCachesSuccessfulResults(t *testing.T) {
	provider := &fakeProvider{}
	svc := NewService(provider, nil)

	for i := 0; i < 3; i++ {
		if _, err := svc.Embed(context.Background(), "same text", ResolutionLow); err != nil {
			t.Fatal(err)
		}
	}
	if provider.calls[1536] != 1 {
		t.Errorf("provider called %d times, want 1", provider.calls[1536])
	}
}

func TestEmbedDual(t *testing.T) {
	svc := NewService(&fakeProvider{}, nil)
	pair, err := svc.EmbedDual(context.Background(), "query")
	if err != nil {
		t.Fatal(err)
	}
	if len(pair.Low) != 1536 || len(pair.High) != 3072 {
		t.Errorf("pair lengths = %d/%d", len(pair.Low), len(pair.High))
	}
}

func TestEmbedDualIsAtomic(t *testing.T) {
	tests := []struct {
		name     string
		provider *fakeProvider
	}{
		{name: "high fails", provider: &fakeProvider{failDim: 3072}},
		{name: "low fails", provider: &fakeProvider{failDim: 1536}},
		{name: "high wrong length", provider: &fakeProvider{wrong: map[int]int{3072: 10}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.provider, nil)
			pair, err := svc.EmbedDual(context.Background(), "query")
			if err == nil {
				t.Fatal("expected error")
			}
			if pair.Low != nil || pair.High != nil {
				t.Errorf("partial pair returned: %d/%d", len(pair.Low), len(pair.High))
			}
		})
	}
}
