package models

import (
	"strings"
	"time"
)

// PlaceholderTitle is the title a content item carries until enrichment finishes
const PlaceholderTitle = "Processing..."

// DefaultCollectionColor is used when a collection is created without a color
const DefaultCollectionColor = "#8b5cf6"

// Source is the platform classification of a content item
type Source string

const (
	SourceWeb      Source = "web"
	SourceYouTube  Source = "youtube"
	SourceLinkedIn Source = "linkedin"
	SourceMedium   Source = "medium"
	SourceSubstack Source = "substack"
	SourceDocument Source = "document"
)

// Sources lists every valid source tag
var Sources = []Source{SourceWeb, SourceYouTube, SourceLinkedIn, SourceMedium, SourceSubstack, SourceDocument}

// Valid reports whether s is one of the known source tags
func (s Source) Valid() bool {
	for _, known := range Sources {
		if s == known {
			return true
		}
	}
	return false
}

// ParseSource normalizes a free-form source string, returning false when it is not a known tag
func ParseSource(s string) (Source, bool) {
	src := Source(strings.ToLower(strings.TrimSpace(s)))
	return src, src.Valid()
}

// ProcessingStatus tracks the enrichment lifecycle of a content item
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// Valid reports whether s is a known status
func (s ProcessingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed from s
func (s ProcessingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next is allowed.
// Status only moves forward; failed is reachable from any non-terminal state.
func (s ProcessingStatus) CanTransitionTo(next ProcessingStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// AllowedPredecessors returns the statuses from which next may be entered
func AllowedPredecessors(next ProcessingStatus) []ProcessingStatus {
	var from []ProcessingStatus
	for _, s := range []ProcessingStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
		if s.CanTransitionTo(next) {
			from = append(from, s)
		}
	}
	return from
}

// ContentItem is a single saved link or document owned by one user
type ContentItem struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user_id"`
	Title            string           `json:"title"`
	Summary          string           `json:"summary"`
	ContentText      string           `json:"content_text"`
	URL              string           `json:"url"`
	Source           Source           `json:"source"`
	Tags             []string         `json:"tags"`
	KeyTakeaways     []string         `json:"key_takeaways"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	ThumbnailURL     *string          `json:"thumbnail_url"`
	IsFavorite       bool             `json:"is_favorite"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Collection groups content items for a user
type Collection struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Color       string    `json:"color"`
	ItemCount   int       `json:"item_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CollectionItem joins a content item to a collection
type CollectionItem struct {
	ID           string    `json:"id"`
	CollectionID string    `json:"collection_id"`
	ContentID    string    `json:"content_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// Analysis holds the structured fields requested from the model
type Analysis struct {
	Title        string   `json:"title"`
	Summary      string   `json:"summary"`
	Tags         []string `json:"tags"`
	KeyTakeaways []string `json:"key_takeaways"`
	SourceType   string   `json:"source_type"`
}

// Enrichment is the full set of fields written when processing completes
type Enrichment struct {
	Title        string
	Summary      string
	ContentText  string
	Tags         []string
	KeyTakeaways []string
	Source       Source
	ThumbnailURL *string
}

// ContentFilter narrows a content listing
type ContentFilter struct {
	Filter       string // all, completed, processing, failed, favorites, recent
	Source       Source
	Tag          string
	CollectionID string
	Query        string
	Limit        int
	Offset       int
}

// Content listing filters
const (
	FilterAll        = "all"
	FilterCompleted  = "completed"
	FilterProcessing = "processing"
	FilterFailed     = "failed"
	FilterFavorites  = "favorites"
	FilterRecent     = "recent"
)

// RecentWindow is how far back the "recent" filter reaches
const RecentWindow = 7 * 24 * time.Hour

// ValidFilter reports whether f is a known listing filter; empty means all
func ValidFilter(f string) bool {
	switch f {
	case "", FilterAll, FilterCompleted, FilterProcessing, FilterFailed, FilterFavorites, FilterRecent:
		return true
	}
	return false
}

// ProcessRequest triggers enrichment for an existing content item
type ProcessRequest struct {
	URL       string `json:"url"`
	UserID    string `json:"userId"`
	ContentID string `json:"contentId"`
}

// ProcessResponse is returned by the ingestion trigger
type ProcessResponse struct {
	Success bool      `json:"success"`
	Message string    `json:"message,omitempty"`
	Result  *Analysis `json:"result,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// ThumbnailRequest asks for a best-effort thumbnail for a URL
type ThumbnailRequest struct {
	URL         string `json:"url"`
	ContentType string `json:"contentType,omitempty"`
}

// ThumbnailResponse is returned by the thumbnail service
type ThumbnailResponse struct {
	Success      bool   `json:"success"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	Error        string `json:"error,omitempty"`
}

// InsightsRequest asks for an analysis over a user's processed content
type InsightsRequest struct {
	UserID     string   `json:"userId"`
	ContentIDs []string `json:"contentIds,omitempty"`
	Query      string   `json:"query,omitempty"`
}

// InsightsResponse carries the generated insights
type InsightsResponse struct {
	Insights        string   `json:"insights"`
	Patterns        []string `json:"patterns"`
	Recommendations []string `json:"recommendations"`
	Topics          []string `json:"topics"`
	Error           string   `json:"error,omitempty"`
}
