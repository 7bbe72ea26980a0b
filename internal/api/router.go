// Package api exposes search and ingestion over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/bdougie/framesearch/internal/models"
	"github.com/bdougie/framesearch/internal/queue"
	"github.com/bdougie/framesearch/internal/search"
)

// Hierarchical is the document search surface.
type Hierarchical interface {
	HierarchicalSearch(ctx context.Context, query string, opts search.HierarchicalOptions) ([]models.ChunkResult, error)
	HierarchicalSearchRecording(ctx context.Context, recordingID, query string, opts search.HierarchicalOptions) ([]models.ChunkResult, error)
	GetRecordingSummaries(ctx context.Context, query string, opts search.SummaryOptions) ([]models.RecordingSummary, error)
}

// Multimodal is the fused transcript and frame search surface.
type Multimodal interface {
	MultimodalSearch(ctx context.Context, query string, opts search.MultimodalOptions) (*models.MultimodalResponse, error)
}

// Documents indexes document summaries and chunks.
type Documents interface {
	IndexDocument(ctx context.Context, doc models.Document, inputs []search.ChunkInput) (models.Document, error)
}

// Recordings registers recordings before their frames are ingested.
type Recordings interface {
	EnsureRecording(ctx context.Context, rec models.Recording) (models.Recording, error)
}

// Jobs enqueues and looks up jobs.
type Jobs interface {
	Enqueue(ctx context.Context, jobType, orgID string, payload any, opts queue.EnqueueOptions) (*models.Job, error)
	Get(ctx context.Context, id string) (*models.Job, error)
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Hierarchical   Hierarchical
	Multimodal     Multimodal
	Documents      Documents
	Recordings     Recordings
	Jobs           Jobs
	JobMaxAttempts int
}

// Server holds the handlers.
type Server struct {
	deps   Deps
	logger *slog.Logger
}

// NewServer creates a Server.
func NewServer(deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{deps: deps, logger: logger}
}

// Handler returns the routed handler wrapped in CORS.
func (s *Server) Handler(allowedOrigins []string) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", healthCheck).Methods(http.MethodGet)

	r.HandleFunc("/search/hierarchical", s.hierarchicalSearch).Methods(http.MethodPost)
	r.HandleFunc("/search/multimodal", s.multimodalSearch).Methods(http.MethodPost)
	r.HandleFunc("/recordings/summaries", s.recordingSummaries).Methods(http.MethodPost)
	r.HandleFunc("/recordings/{id}/search", s.recordingSearch).Methods(http.MethodPost)

	r.HandleFunc("/documents", s.indexDocument).Methods(http.MethodPost)

	r.HandleFunc("/jobs/extract-frames", s.enqueueExtractFrames).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id}", s.getJob).Methods(http.MethodGet)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(r)
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
