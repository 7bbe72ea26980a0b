package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bdougie/framesearch/internal/models"
	"github.com/bdougie/framesearch/internal/storage"
)

// Runner executes an external command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Source identifies the video to sample. URL may be an http(s) URL, a local
// path, or an object storage key.
type Source struct {
	RecordingID string
	URL         string
}

// SamplingConfig controls fixed-interval sampling.
type SamplingConfig struct {
	Interval time.Duration
}

// Extractor samples videos into still frames with ffmpeg and uploads every
// frame to object storage.
type Extractor struct {
	bin    string
	run    Runner
	store  storage.ObjectStore
	logger *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithBinary overrides the ffmpeg executable.
func WithBinary(bin string) Option {
	return func(e *Extractor) {
		if bin != "" {
			e.bin = bin
		}
	}
}

// WithRunner replaces command execution.
func WithRunner(run Runner) Option {
	return func(e *Extractor) { e.run = run }
}

// New creates an Extractor that uploads frames to store.
func New(store storage.ObjectStore, logger *slog.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Extractor{
		bin:    "ffmpeg",
		run:    runCommand,
		store:  store,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FrameKey is the object storage key of a frame image.
func FrameKey(recordingID string, frameNumber int) string {
	return fmt.Sprintf("frames/%s/frame_%04d.jpg", recordingID, frameNumber)
}

// ExtractFrames samples src at cfg.Interval and returns the frames in order,
// numbered from 1. Every frame is stored before it is returned. Any failure
// aborts the whole extraction with a *models.FrameExtractionError.
func (e *Extractor) ExtractFrames(ctx context.Context, src Source, cfg SamplingConfig) ([]models.FrameDescriptor, error) {
	frames, err := e.extract(ctx, src, cfg)
	if err != nil {
		return nil, &models.FrameExtractionError{Source: src.URL, Err: err}
	}
	return frames, nil
}

func (e *Extractor) extract(ctx context.Context, src Source, cfg SamplingConfig) ([]models.FrameDescriptor, error) {
	if src.URL == "" {
		return nil, errors.New("video source is empty")
	}
	if src.RecordingID == "" {
		return nil, errors.New("recording id is empty")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("sampling interval must be positive, got %s", cfg.Interval)
	}

	workDir, err := os.MkdirTemp("", "frames-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	input, err := e.resolveInput(ctx, src.URL, workDir)
	if err != nil {
		return nil, err
	}

	frameDir := filepath.Join(workDir, "out")
	if err := os.MkdirAll(frameDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create frame directory: %w", err)
	}

	e.logger.Debug("extracting frames",
		"recording_id", src.RecordingID,
		"interval", cfg.Interval)

	output, err := e.run(ctx, e.bin,
		"-hide_banner", "-loglevel", "error",
		"-i", input,
		"-vf", fmt.Sprintf("fps=1/%g:round=down", cfg.Interval.Seconds()),
		"-q:v", "2",
		filepath.Join(frameDir, "frame_%04d.jpg"),
	)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w\nOutput: %s", err, strings.TrimSpace(string(output)))
	}

	files, err := listFrames(frameDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.New("ffmpeg produced no frames")
	}

	frames := make([]models.FrameDescriptor, 0, len(files))
	for i, name := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		number := i + 1
		data, err := os.ReadFile(filepath.Join(frameDir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read frame %d: %w", number, err)
		}

		url, err := e.store.Put(ctx, FrameKey(src.RecordingID, number), data, "image/jpeg")
		if err != nil {
			return nil, fmt.Errorf("failed to upload frame %d: %w", number, err)
		}

		frames = append(frames, models.FrameDescriptor{
			FrameNumber: number,
			TimeSec:     float64(i) * cfg.Interval.Seconds(),
			URL:         url,
			Image:       data,
		})
	}

	e.logger.Info("frames extracted", "recording_id", src.RecordingID, "frames", len(frames))
	return frames, nil
}

// resolveInput returns something ffmpeg can open. Remote URLs and local files
// are passed through; anything else is read from object storage.
func (e *Extractor) resolveInput(ctx context.Context, url, workDir string) (string, error) {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return url, nil
	}
	if info, err := os.Stat(url); err == nil && !info.IsDir() {
		return url, nil
	}

	data, err := e.store.Get(ctx, url)
	if err != nil {
		return "", fmt.Errorf("failed to fetch source video: %w", err)
	}
	path := filepath.Join(workDir, "source"+filepath.Ext(url))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to stage source video: %w", err)
	}
	return path, nil
}

// listFrames returns the jpg files in dir ordered by their frame number.
func listFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(strings.ToLower(entry.Name()), ".jpg") {
			names = append(names, entry.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return frameIndex(names[i]) < frameIndex(names[j])
	})
	return names, nil
}

func frameIndex(name string) int {
	base := strings.TrimSuffix(strings.TrimPrefix(name, "frame_"), filepath.Ext(name))
	n, err := strconv.Atoi(base)
	if err != nil {
		return -1
	}
	return n
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}
