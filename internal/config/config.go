package config

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/viper"
)

// Config holds process-level settings read once at startup.
type Config struct {
	DatabaseURL string
	HTTPAddr    string
	LogLevel    slog.Level

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	QueuePrefix   string

	OpenAIAPIKey   string
	EmbeddingModel string
	OCRModel       string

	OllamaBaseURL string
	OllamaPort    int
	VisionModel   string

	AllowedOrigins []string

	StorageDir     string
	StorageBaseURL string
	FFmpegBin      string

	FrameInterval   time.Duration
	OCRBatchSize    int
	VisualBatchSize int
	JobMaxAttempts  int
	WorkerCount     int
	JobTimeout      time.Duration
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("QUEUE_PREFIX", "framesearch")
	v.SetDefault("EMBEDDING_MODEL", "text-embedding-3-large")
	v.SetDefault("OCR_MODEL", "gpt-4o-mini")
	v.SetDefault("OLLAMA_BASE_URL", "http://localhost")
	v.SetDefault("OLLAMA_PORT", 11434)
	v.SetDefault("VISION_MODEL", "llama3.2-vision:11b")
	v.SetDefault("ALLOWED_ORIGINS", "*")
	v.SetDefault("STORAGE_DIR", "data")
	v.SetDefault("STORAGE_BASE_URL", "")
	v.SetDefault("FFMPEG_BIN", "ffmpeg")
	v.SetDefault("FRAME_INTERVAL_SECONDS", 5)
	v.SetDefault("OCR_BATCH_SIZE", 5)
	v.SetDefault("VISUAL_BATCH_SIZE", 10)
	v.SetDefault("JOB_MAX_ATTEMPTS", 3)
	v.SetDefault("WORKER_COUNT", 4)
	v.SetDefault("JOB_TIMEOUT_MINUTES", 30)
	v.SetDefault("OCR_ENABLED", false)
	v.SetDefault("VISUAL_SEARCH_ENABLED", false)
}

// New returns a viper instance bound to the environment with defaults applied.
// A .env file in the working directory is loaded first when present.
func New() *viper.Viper {
	_ = godotenv.Load()

	v := viper.New()
	SetDefaults(v)
	v.AutomaticEnv()
	return v
}

// Load reads a Config out of v.
func Load(v *viper.Viper) Config {
	cfg := Config{
		DatabaseURL:     v.GetString("DATABASE_URL"),
		HTTPAddr:        v.GetString("HTTP_ADDR"),
		LogLevel:        parseLevel(v.GetString("LOG_LEVEL")),
		RedisAddr:       v.GetString("REDIS_ADDR"),
		RedisPassword:   v.GetString("REDIS_PASSWORD"),
		RedisDB:         v.GetInt("REDIS_DB"),
		QueuePrefix:     v.GetString("QUEUE_PREFIX"),
		OpenAIAPIKey:    v.GetString("OPENAI_API_KEY"),
		EmbeddingModel:  v.GetString("EMBEDDING_MODEL"),
		OCRModel:        v.GetString("OCR_MODEL"),
		OllamaBaseURL:   v.GetString("OLLAMA_BASE_URL"),
		OllamaPort:      v.GetInt("OLLAMA_PORT"),
		VisionModel:     v.GetString("VISION_MODEL"),
		AllowedOrigins:  splitList(v.GetString("ALLOWED_ORIGINS")),
		StorageDir:      v.GetString("STORAGE_DIR"),
		StorageBaseURL:  v.GetString("STORAGE_BASE_URL"),
		FFmpegBin:       v.GetString("FFMPEG_BIN"),
		FrameInterval:   time.Duration(v.GetInt("FRAME_INTERVAL_SECONDS")) * time.Second,
		OCRBatchSize:    v.GetInt("OCR_BATCH_SIZE"),
		VisualBatchSize: v.GetInt("VISUAL_BATCH_SIZE"),
		JobMaxAttempts:  v.GetInt("JOB_MAX_ATTEMPTS"),
		WorkerCount:     v.GetInt("WORKER_COUNT"),
		JobTimeout:      time.Duration(v.GetInt("JOB_TIMEOUT_MINUTES")) * time.Minute,
	}

	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = 5 * time.Second
	}
	if cfg.OCRBatchSize <= 0 {
		cfg.OCRBatchSize = 5
	}
	if cfg.VisualBatchSize <= 0 {
		cfg.VisualBatchSize = 10
	}
	if cfg.JobMaxAttempts <= 0 {
		cfg.JobMaxAttempts = 3
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	return cfg
}

// NewLogger returns a colourised stderr logger.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: "15:04:05",
		}),
	)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Flags exposes feature toggles. Every call reads the current value; nothing is
// cached between invocations.
type Flags struct {
	v *viper.Viper
}

// NewFlags wraps v.
func NewFlags(v *viper.Viper) *Flags {
	return &Flags{v: v}
}

// OCREnabled reports whether frame OCR should run for orgID. An org-specific
// key (OCR_ENABLED_<ORG>) overrides the global one.
func (f *Flags) OCREnabled(ctx context.Context, orgID string) bool {
	return f.lookup("OCR_ENABLED", orgID)
}

// VisualSearchEnabled reports whether multimodal queries include frames by default.
func (f *Flags) VisualSearchEnabled(ctx context.Context, orgID string) bool {
	return f.lookup("VISUAL_SEARCH_ENABLED", orgID)
}

func (f *Flags) lookup(key, orgID string) bool {
	if orgID != "" {
		orgKey := key + "_" + strings.ToUpper(strings.ReplaceAll(orgID, "-", "_"))
		if f.v.IsSet(orgKey) {
			return f.v.GetBool(orgKey)
		}
	}
	return f.v.GetBool(key)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
