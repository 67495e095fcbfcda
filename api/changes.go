package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/docutag/curator/storage"
)

const thumbnailRoute = "/api/thumbnails/*"

// heartbeatInterval keeps idle streams open through proxies
var heartbeatInterval = 25 * time.Second

// handleChanges streams the user's change notifications as Server-Sent Events
func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r, "")
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	changes, cancel, err := s.deps.Bus.Subscribe(r.Context(), userID)
	if err != nil {
		slog.Error("failed to subscribe to changes", "user_id", userID, "error", err)
		respondError(w, http.StatusServiceUnavailable, "change feed unavailable")
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.closing:
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case c, ok := <-changes:
			if !ok {
				return
			}
			data, err := json.Marshal(c)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: change\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// handleServeThumbnail serves a mirrored thumbnail from storage
func (s *Server) handleServeThumbnail(w http.ResponseWriter, r *http.Request) {
	if s.deps.Storage == nil {
		respondError(w, http.StatusNotFound, "thumbnail not found")
		return
	}

	key, err := storage.CleanKey(chi.URLParam(r, "*"))
	if err != nil || !strings.HasPrefix(key, storage.ThumbnailsPrefix+"/") {
		respondError(w, http.StatusNotFound, "thumbnail not found")
		return
	}

	data, err := s.deps.Storage.Read(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "thumbnail not found")
			return
		}
		slog.Error("failed to read thumbnail", "key", key, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to read thumbnail")
		return
	}

	w.Header().Set("Content-Type", storage.ContentTypeForKey(key))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	// Keys are never reused, so mirrored images can be cached indefinitely
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
