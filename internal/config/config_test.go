package config

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg := Load(v)

	if cfg.FrameInterval != 5*time.Second {
		t.Errorf("FrameInterval = %v, want 5s", cfg.FrameInterval)
	}
	if cfg.OCRBatchSize != 5 {
		t.Errorf("OCRBatchSize = %d, want 5", cfg.OCRBatchSize)
	}
	if cfg.VisualBatchSize != 10 {
		t.Errorf("VisualBatchSize = %d, want 10", cfg.VisualBatchSize)
	}
	if cfg.JobMaxAttempts != 3 {
		t.Errorf("JobMaxAttempts = %d, want 3", cfg.JobMaxAttempts)
	}
	if cfg.EmbeddingModel != "text-embedding-3-large" {
		t.Errorf("EmbeddingModel = %q", cfg.EmbeddingModel)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want info", cfg.LogLevel)
	}
}

func TestLoadRejectsNonPositive(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("OCR_BATCH_SIZE", 0)
	v.Set("FRAME_INTERVAL_SECONDS", -2)
	v.Set("LOG_LEVEL", "DEBUG")

	cfg := Load(v)

	if cfg.OCRBatchSize != 5 {
		t.Errorf("OCRBatchSize = %d, want fallback 5", cfg.OCRBatchSize)
	}
	if cfg.FrameInterval != 5*time.Second {
		t.Errorf("FrameInterval = %v, want fallback 5s", cfg.FrameInterval)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
}

func TestFlagsReadOnEveryCall(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	flags := NewFlags(v)
	ctx := context.Background()

	if flags.OCREnabled(ctx, "org-1") {
		t.Fatal("OCR should default to disabled")
	}

	v.Set("OCR_ENABLED", true)
	if !flags.OCREnabled(ctx, "org-1") {
		t.Fatal("OCR flag change was not picked up")
	}

	v.Set("OCR_ENABLED_ORG_1", false)
	if flags.OCREnabled(ctx, "org-1") {
		t.Error("org override should disable OCR for org-1")
	}
	if !flags.OCREnabled(ctx, "org-2") {
		t.Error("org-2 should still use the global flag")
	}

	v.Set("VISUAL_SEARCH_ENABLED", true)
	if !flags.VisualSearchEnabled(ctx, "") {
		t.Error("visual search flag change was not picked up")
	}
}

func TestLoadAllowedOrigins(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"*", []string{"*"}},
		{"https://a.test, https://b.test", []string{"https://a.test", "https://b.test"}},
		{" , ", nil},
	}
	for _, tt := range tests {
		v := viper.New()
		SetDefaults(v)
		v.Set("ALLOWED_ORIGINS", tt.raw)

		got := Load(v).AllowedOrigins
		if len(got) != len(tt.want) {
			t.Fatalf("%q: got %v, want %v", tt.raw, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%q: got %v, want %v", tt.raw, got, tt.want)
			}
		}
	}
}
