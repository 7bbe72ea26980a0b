package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/bdougie/framesearch/internal/models"
	"github.com/bdougie/framesearch/internal/queue"
	"github.com/bdougie/framesearch/internal/search"
	"github.com/bdougie/framesearch/internal/storage"
)

type hierarchicalRequest struct {
	Query             string   `json:"query"`
	OrgID             string   `json:"orgId"`
	TopDocuments      int      `json:"topDocuments"`
	ChunksPerDocument int      `json:"chunksPerDocument"`
	Threshold         *float64 `json:"threshold"`
}

func (req hierarchicalRequest) options() search.HierarchicalOptions {
	return search.HierarchicalOptions{
		OrgID:             req.OrgID,
		TopDocuments:      req.TopDocuments,
		ChunksPerDocument: req.ChunksPerDocument,
		Threshold:         req.Threshold,
	}
}

type summariesRequest struct {
	Query     string   `json:"query"`
	OrgID     string   `json:"orgId"`
	Limit     int      `json:"limit"`
	Threshold *float64 `json:"threshold"`
}

type multimodalRequest struct {
	Query         string   `json:"query"`
	OrgID         string   `json:"orgId"`
	IncludeFrames bool     `json:"includeFrames"`
	AudioWeight   *float64 `json:"audioWeight"`
	VisualWeight  *float64 `json:"visualWeight"`
	Threshold     *float64 `json:"threshold"`
	Limit         int      `json:"limit"`
}

type documentRequest struct {
	RecordingID string              `json:"recordingId"`
	OrgID       string              `json:"orgId"`
	Summary     string              `json:"summary"`
	Chunks      []search.ChunkInput `json:"chunks"`
}

type extractFramesRequest struct {
	RecordingID string `json:"recordingId"`
	OrgID       string `json:"orgId"`
	VideoURL    string `json:"videoUrl"`
	Title       string `json:"title"`
}

type resultsResponse[T any] struct {
	Results []T `json:"results"`
}

func (s *Server) hierarchicalSearch(w http.ResponseWriter, r *http.Request) {
	var req hierarchicalRequest
	if !decode(w, r, &req) {
		return
	}
	results, err := s.deps.Hierarchical.HierarchicalSearch(r.Context(), req.Query, req.options())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resultsResponse[models.ChunkResult]{Results: results})
}

func (s *Server) recordingSearch(w http.ResponseWriter, r *http.Request) {
	var req hierarchicalRequest
	if !decode(w, r, &req) {
		return
	}
	recordingID := mux.Vars(r)["id"]
	results, err := s.deps.Hierarchical.HierarchicalSearchRecording(r.Context(), recordingID, req.Query, req.options())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resultsResponse[models.ChunkResult]{Results: results})
}

func (s *Server) recordingSummaries(w http.ResponseWriter, r *http.Request) {
	var req summariesRequest
	if !decode(w, r, &req) {
		return
	}
	results, err := s.deps.Hierarchical.GetRecordingSummaries(r.Context(), req.Query, search.SummaryOptions{
		OrgID:     req.OrgID,
		Limit:     req.Limit,
		Threshold: req.Threshold,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resultsResponse[models.RecordingSummary]{Results: results})
}

func (s *Server) multimodalSearch(w http.ResponseWriter, r *http.Request) {
	var req multimodalRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := s.deps.Multimodal.MultimodalSearch(r.Context(), req.Query, search.MultimodalOptions{
		OrgID:         req.OrgID,
		IncludeFrames: req.IncludeFrames,
		AudioWeight:   req.AudioWeight,
		VisualWeight:  req.VisualWeight,
		Threshold:     req.Threshold,
		Limit:         req.Limit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) indexDocument(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if !decode(w, r, &req) {
		return
	}
	doc, err := s.deps.Documents.IndexDocument(r.Context(), models.Document{
		RecordingID: req.RecordingID,
		OrgID:       req.OrgID,
		Summary:     req.Summary,
	}, req.Chunks)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) enqueueExtractFrames(w http.ResponseWriter, r *http.Request) {
	var req extractFramesRequest
	if !decode(w, r, &req) {
		return
	}
	switch {
	case strings.TrimSpace(req.OrgID) == "":
		s.writeError(w, r, &models.ValidationError{Field: "orgId", Reason: "is required"})
		return
	case strings.TrimSpace(req.VideoURL) == "":
		s.writeError(w, r, &models.ValidationError{Field: "videoUrl", Reason: "is required"})
		return
	}

	rec, err := s.deps.Recordings.EnsureRecording(r.Context(), models.Recording{
		ID:       req.RecordingID,
		OrgID:    req.OrgID,
		Title:    req.Title,
		VideoURL: req.VideoURL,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	job, err := s.deps.Jobs.Enqueue(r.Context(), models.JobTypeExtractFrames, rec.OrgID,
		models.ExtractFramesPayload{RecordingID: rec.ID, OrgID: rec.OrgID, VideoURL: rec.VideoURL},
		queue.EnqueueOptions{
			DedupeKey:   models.JobTypeExtractFrames + ":" + rec.ID,
			MaxAttempts: s.deps.JobMaxAttempts,
		})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return false
	}
	return true
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validation *models.ValidationError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &validation):
		status = http.StatusBadRequest
	case errors.Is(err, queue.ErrDuplicate), errors.Is(err, storage.ErrRecordingConflict):
		status = http.StatusConflict
	case errors.Is(err, queue.ErrJobNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
