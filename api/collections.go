package api

import (
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/docutag/curator/models"
	"github.com/docutag/curator/realtime"
)

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// CreateCollectionRequest creates a collection
type CreateCollectionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`
}

// AddItemsRequest adds content to a collection
type AddItemsRequest struct {
	ContentIDs []string `json:"content_ids"`
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r, "")
	if !ok {
		return
	}

	collections, err := s.deps.Store.ListCollections(r.Context(), userID)
	if err != nil {
		slog.Error("failed to list collections", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}
	respondJSON(w, http.StatusOK, collections)
}

func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r, "")
	if !ok {
		return
	}

	var req CreateCollectionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Color != "" && !hexColor.MatchString(req.Color) {
		respondError(w, http.StatusBadRequest, "color must be a hex value such as #8b5cf6")
		return
	}

	c := &models.Collection{
		UserID:      userID,
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		Color:       req.Color,
	}
	if err := s.deps.Store.CreateCollection(r.Context(), c); err != nil {
		slog.Error("failed to create collection", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create collection")
		return
	}
	s.publish(r.Context(), userID, realtime.TableCollections, realtime.OpInsert, c.ID)
	respondJSON(w, http.StatusCreated, c)
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r, "")
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	if err := s.deps.Store.DeleteCollection(r.Context(), userID, id); err != nil {
		respondStoreError(w, err, "collection not found")
		return
	}
	s.publish(r.Context(), userID, realtime.TableCollections, realtime.OpDelete, id)
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "collection deleted successfully",
	})
}

// handleListCollectionItems lists the content of one collection, newest first
func (s *Server) handleListCollectionItems(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r, "")
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	if _, err := s.deps.Store.GetCollection(r.Context(), userID, id); err != nil {
		respondStoreError(w, err, "collection not found")
		return
	}

	filter, err := parseContentFilter(r.URL.Query())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter.CollectionID = id

	items, err := s.deps.Store.ListContent(r.Context(), userID, filter)
	if err != nil {
		slog.Error("failed to list collection items", "collection_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func (s *Server) handleAddCollectionItems(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r, "")
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	var req AddItemsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.ContentIDs) == 0 {
		respondError(w, http.StatusBadRequest, "content_ids must not be empty")
		return
	}

	added, err := s.deps.Store.AddToCollection(r.Context(), userID, id, req.ContentIDs)
	if err != nil {
		respondStoreError(w, err, "collection not found")
		return
	}
	if added > 0 {
		s.publish(r.Context(), userID, realtime.TableCollectionItems, realtime.OpInsert, id)
	}
	respondJSON(w, http.StatusOK, map[string]int{"added": added})
}

func (s *Server) handleRemoveCollectionItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r, "")
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	if err := s.deps.Store.RemoveFromCollection(r.Context(), userID, id, chi.URLParam(r, "contentId")); err != nil {
		respondStoreError(w, err, "collection item not found")
		return
	}
	s.publish(r.Context(), userID, realtime.TableCollectionItems, realtime.OpDelete, id)
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "item removed from collection",
	})
}
