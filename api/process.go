package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/docutag/curator"
	"github.com/docutag/curator/db"
	"github.com/docutag/curator/insights"
	"github.com/docutag/curator/models"
)

// handleProcess runs the enrichment pipeline synchronously for an existing item
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req models.ProcessRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, models.ProcessResponse{Error: "invalid request body"})
		return
	}

	// A missing userId is reported by validation, not substituted from the token
	if strings.TrimSpace(req.UserID) != "" {
		if _, ok := requestUser(w, r, req.UserID); !ok {
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.ProcessTimeout)
	defer cancel()

	analysis, err := s.deps.Processor.Process(ctx, req)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, curator.ErrMissingParameters):
			status = http.StatusBadRequest
		case errors.Is(err, db.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, db.ErrInvalidTransition):
			status = http.StatusConflict
		}
		respondJSON(w, status, models.ProcessResponse{Error: err.Error()})
		return
	}

	respondJSON(w, http.StatusOK, models.ProcessResponse{
		Success: true,
		Message: "Content processed successfully",
		Result:  analysis,
	})
}

// handleThumbnail looks up a preview image. Not finding one is still a success.
func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	if s.deps.Thumbnails == nil {
		respondJSON(w, http.StatusServiceUnavailable, models.ThumbnailResponse{Error: "thumbnail extraction is not configured"})
		return
	}

	var req models.ThumbnailRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, models.ThumbnailResponse{Error: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		respondJSON(w, http.StatusBadRequest, models.ThumbnailResponse{Error: "URL is required"})
		return
	}

	thumb, _ := s.deps.Thumbnails.Extract(r.Context(), strings.TrimSpace(req.URL), req.ContentType)
	respondJSON(w, http.StatusOK, models.ThumbnailResponse{Success: true, ThumbnailURL: thumb})
}

// handleInsights generates an aggregate analysis of the user's content
func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	if s.deps.Insights == nil {
		respondJSON(w, http.StatusServiceUnavailable, insights.ErrorResponse(errors.New("insights are not configured")))
		return
	}

	var req models.InsightsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID, ok := requestUser(w, r, req.UserID)
	if !ok {
		return
	}
	req.UserID = userID

	resp, err := s.deps.Insights.Generate(r.Context(), req)
	if err != nil {
		slog.Error("insights generation failed", "user_id", userID, "error", err)
		respondJSON(w, http.StatusInternalServerError, insights.ErrorResponse(err))
		return
	}
	respondJSON(w, http.StatusOK, resp)
}
