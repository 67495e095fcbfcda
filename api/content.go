package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/docutag/curator"
	"github.com/docutag/curator/db"
	"github.com/docutag/curator/models"
	"github.com/docutag/curator/realtime"
	"github.com/docutag/curator/slug"
	"github.com/docutag/curator/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateContentRequest adds a link to the user's library
type CreateContentRequest struct {
	URL   string `json:"url"`
	Notes string `json:"notes,omitempty"`
}

// handleListContent lists the user's items with filters and pagination
func (s *Server) handleListContent(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r, "")
	if !ok {
		return
	}

	filter, err := parseContentFilter(r.URL.Query())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := s.deps.Store.ListContent(r.Context(), userID, filter)
	if err != nil {
		slog.Error("failed to list content", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}
	total, err := s.deps.Store.CountContent(r.Context(), userID, filter)
	if err != nil {
		slog.Error("failed to count content", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"data":   items,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func parseContentFilter(q url.Values) (models.ContentFilter, error) {
	filter := models.ContentFilter{
		Filter:       strings.ToLower(strings.TrimSpace(q.Get("filter"))),
		Tag:          strings.TrimSpace(q.Get("tag")),
		CollectionID: strings.TrimSpace(q.Get("collection_id")),
		Query:        strings.TrimSpace(q.Get("q")),
		Limit:        defaultPageSize,
	}
	if !models.ValidFilter(filter.Filter) {
		return filter, errors.New("filter must be one of all, completed, processing, failed, favorites, recent")
	}
	if raw := q.Get("source"); raw != "" {
		source, ok := models.ParseSource(raw)
		if !ok {
			return filter, errors.New("unknown source")
		}
		filter.Source = source
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return filter, errors.New("limit must be a number")
		}
		filter.Limit = limit
	}
	if filter.Limit < 1 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}

	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return filter, errors.New("offset must be a non-negative number")
		}
		filter.Offset = offset
	}
	return filter, nil
}

// handleCreateContent stores a pending item and starts enrichment in the background
func (s *Server) handleCreateContent(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r, "")
	if !ok {
		return
	}

	var req CreateContentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rawURL := strings.TrimSpace(req.URL)
	if !isWebURL(rawURL) {
		respondError(w, http.StatusBadRequest, "url must be an absolute http or https URL")
		return
	}

	s.createAndEnrich(w, r, curator.NewPendingItem(userID, rawURL, req.Notes))
}

// handleUploadContent stores an uploaded text document and enriches it like a link
func (s *Server) handleUploadContent(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r, "")
	if !ok {
		return
	}
	if s.deps.Storage == nil {
		respondError(w, http.StatusServiceUnavailable, "document storage is not configured")
		return
	}

	// Leave room for multipart framing and the notes field
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes+64*1024)
	if err := r.ParseMultipartForm(s.config.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "file is too large")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.config.MaxUploadBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read file")
		return
	}
	if int64(len(data)) > s.config.MaxUploadBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "file is too large")
		return
	}
	if len(data) == 0 || !utf8.Valid(data) {
		respondError(w, http.StatusUnsupportedMediaType, "file must be non-empty UTF-8 text")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if storage.DocumentExtension(contentType) == "" {
		contentType = storage.ContentTypeForKey(header.Filename)
	}
	if storage.DocumentExtension(contentType) == "" {
		respondError(w, http.StatusUnsupportedMediaType, "only plain text, markdown and HTML documents are accepted")
		return
	}

	key, err := s.deps.Storage.SaveDocument(r.Context(), data, slug.FromFilename(header.Filename), contentType)
	if err != nil {
		slog.Error("failed to save document", "user_id", userID, "filename", header.Filename, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to store document")
		return
	}

	item := curator.NewPendingItem(userID, curator.DocumentScheme+key, r.FormValue("notes"))
	s.createAndEnrich(w, r, item)
}

func (s *Server) createAndEnrich(w http.ResponseWriter, r *http.Request, item *models.ContentItem) {
	if err := s.deps.Store.CreateContent(r.Context(), item); err != nil {
		slog.Error("failed to create content", "user_id", item.UserID, "url", item.URL, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to save content")
		return
	}
	s.publish(r.Context(), item.UserID, realtime.TableContent, realtime.OpInsert, item.ID)
	s.enrich(item)

	respondJSON(w, http.StatusCreated, item)
}

// handleGetContent returns one item
func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r, "")
	if !ok {
		return
	}

	item, err := s.deps.Store.GetContent(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err, "content not found")
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// handleDeleteContent removes an item and any uploaded document behind it
func (s *Server) handleDeleteContent(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r, "")
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	item, err := s.deps.Store.GetContent(r.Context(), userID, id)
	if err != nil {
		respondStoreError(w, err, "content not found")
		return
	}
	if err := s.deps.Store.DeleteContent(r.Context(), userID, id); err != nil {
		respondStoreError(w, err, "content not found")
		return
	}

	if key, ok := strings.CutPrefix(item.URL, curator.DocumentScheme); ok && s.deps.Storage != nil {
		if err := s.deps.Storage.Delete(r.Context(), key); err != nil && !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("failed to delete stored document", "key", key, "error", err)
		}
	}
	s.publish(r.Context(), userID, realtime.TableContent, realtime.OpDelete, id)

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "content deleted successfully",
	})
}

// handleToggleFavorite flips the favorite flag and returns the updated item
func (s *Server) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r, "")
	if !ok {
		return
	}

	item, err := s.deps.Store.ToggleFavorite(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err, "content not found")
		return
	}
	s.publish(r.Context(), userID, realtime.TableContent, realtime.OpUpdate, item.ID)
	respondJSON(w, http.StatusOK, item)
}

// respondStoreError maps store sentinels to status codes
func respondStoreError(w http.ResponseWriter, err error, notFound string) {
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, notFound)
		return
	}
	slog.Error("store operation failed", "error", err)
	respondError(w, http.StatusInternalServerError, "database error")
}

func isWebURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
