package extractor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bdougie/framesearch/internal/models"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut string
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (m *memStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key == m.failPut {
		return "", errors.New("disk full")
	}
	m.objects[key] = data
	return "mem://" + key, nil
}

func (m *memStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("missing")
	}
	return data, nil
}

// fakeFFmpeg writes n numbered frames to the output pattern given as the last argument.
func fakeFFmpeg(n int, calls *[]string) Runner {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		*calls = append(*calls, strings.Join(args, " "))
		pattern := args[len(args)-1]
		for i := n; i >= 1; i-- {
			path := fmt.Sprintf(pattern, i)
			if err := os.WriteFile(path, []byte(fmt.Sprintf("img-%d", i)), 0644); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
}

func TestExtractFrames(t *testing.T) {
	store := newMemStore()
	var calls []string
	ex := New(store, nil, WithRunner(fakeFFmpeg(12, &calls)))

	frames, err := ex.ExtractFrames(context.Background(),
		Source{RecordingID: "rec-1", URL: "https://videos.local/a.mp4"},
		SamplingConfig{Interval: 5 * time.Second})
	if err != nil {
		t.Fatalf("ExtractFrames() error = %v", err)
	}

	if len(frames) != 12 {
		t.Fatalf("got %d frames, want 12", len(frames))
	}
	for i, f := range frames {
		if f.FrameNumber != i+1 {
			t.Errorf("frame %d numbered %d", i, f.FrameNumber)
		}
		if want := float64(i * 5); f.TimeSec != want {
			t.Errorf("frame %d time = %v, want %v", f.FrameNumber, f.TimeSec, want)
		}
		if want := "mem://" + FrameKey("rec-1", i+1); f.URL != want {
			t.Errorf("frame %d url = %q, want %q", f.FrameNumber, f.URL, want)
		}
		if want := fmt.Sprintf("img-%d", i+1); string(f.Image) != want {
			t.Errorf("frame %d image = %q, want %q", f.FrameNumber, f.Image, want)
		}
	}
	if len(store.objects) != 12 {
		t.Errorf("stored %d objects, want 12", len(store.objects))
	}
	if len(calls) != 1 || !strings.Contains(calls[0], "fps=1/5:round=down") {
		t.Errorf("unexpected ffmpeg invocation: %v", calls)
	}
}

func TestExtractFramesIsDeterministic(t *testing.T) {
	run := func() []models.FrameDescriptor {
		var calls []string
		ex := New(newMemStore(), nil, WithRunner(fakeFFmpeg(4, &calls)))
		frames, err := ex.ExtractFrames(context.Background(),
			Source{RecordingID: "rec", URL: "https://v/x.mp4"},
			SamplingConfig{Interval: 10 * time.Second})
		if err != nil {
			t.Fatal(err)
		}
		return frames
	}

	a, b := run(), run()
	if len(a) != len(b) {
		t.Fatalf("frame counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].FrameNumber != b[i].FrameNumber || a[i].TimeSec != b[i].TimeSec || a[i].URL != b[i].URL {
			t.Errorf("frame %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestExtractFramesFromStorageKey(t *testing.T) {
	store := newMemStore()
	store.objects["uploads/rec-2.mp4"] = []byte("video")

	var input string
	runner := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		for i, a := range args {
			if a == "-i" {
				input = args[i+1]
			}
		}
		data, err := os.ReadFile(input)
		if err != nil || string(data) != "video" {
			return nil, fmt.Errorf("staged input unreadable: %v", err)
		}
		return nil, os.WriteFile(fmt.Sprintf(args[len(args)-1], 1), []byte("img"), 0644)
	}

	ex := New(store, nil, WithRunner(runner))
	frames, err := ex.ExtractFrames(context.Background(),
		Source{RecordingID: "rec-2", URL: "uploads/rec-2.mp4"},
		SamplingConfig{Interval: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 1 {
		t.Errorf("got %d frames, want 1", len(frames))
	}
	if filepath.Ext(input) != ".mp4" {
		t.Errorf("staged input %q lost its extension", input)
	}
	if _, err := os.Stat(input); !os.IsNotExist(err) {
		t.Errorf("work directory not cleaned up: %v", err)
	}
}

func TestExtractFramesFailures(t *testing.T) {
	tests := []struct {
		name    string
		src     Source
		cfg     SamplingConfig
		runner  Runner
		failPut string
	}{
		{
			name: "ffmpeg error",
			src:  Source{RecordingID: "r", URL: "https://v/bad.mp4"},
			cfg:  SamplingConfig{Interval: time.Second},
			runner: func(ctx context.Context, name string, args ...string) ([]byte, error) {
				return []byte("unsupported codec"), errors.New("exit status 1")
			},
		},
		{
			name: "no frames produced",
			src:  Source{RecordingID: "r", URL: "https://v/empty.mp4"},
			cfg:  SamplingConfig{Interval: time.Second},
			runner: func(ctx context.Context, name string, args ...string) ([]byte, error) {
				return nil, nil
			},
		},
		{
			name: "upload fails midway",
			src:  Source{RecordingID: "r", URL: "https://v/a.mp4"},
			cfg:  SamplingConfig{Interval: time.Second},
			runner: func(ctx context.Context, name string, args ...string) ([]byte, error) {
				for i := 1; i <= 3; i++ {
					os.WriteFile(fmt.Sprintf(args[len(args)-1], i), []byte("img"), 0644)
				}
				return nil, nil
			},
			failPut: FrameKey("r", 2),
		},
		{
			name: "zero interval",
			src:  Source{RecordingID: "r", URL: "https://v/a.mp4"},
		},
		{
			name: "missing storage object",
			src:  Source{RecordingID: "r", URL: "uploads/missing.mp4"},
			cfg:  SamplingConfig{Interval: time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			store.failPut = tt.failPut
			var opts []Option
			if tt.runner != nil {
				opts = append(opts, WithRunner(tt.runner))
			}
			ex := New(store, nil, opts...)

			frames, err := ex.ExtractFrames(context.Background(), tt.src, tt.cfg)
			if frames != nil {
				t.Errorf("partial frames returned: %d", len(frames))
			}
			var feErr *models.FrameExtractionError
			if !errors.As(err, &feErr) {
				t.Fatalf("error = %v, want FrameExtractionError", err)
			}
			if feErr.Source != tt.src.URL {
				t.Errorf("Source = %q, want %q", feErr.Source, tt.src.URL)
			}
		})
	}
}
