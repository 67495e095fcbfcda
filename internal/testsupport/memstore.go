// Package testsupport provides in-memory stand-ins for the store and the model
// endpoint so pipeline and API tests run without Postgres or network access.
package testsupport

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docutag/curator/db"
	"github.com/docutag/curator/models"
)

// MemoryStore implements the content and collection operations of db.DB in memory
// with the same ownership, filter and transition rules.
type MemoryStore struct {
	mu          sync.Mutex
	content     map[string]*models.ContentItem
	collections map[string]*models.Collection
	members     map[string]map[string]time.Time // collection id -> content id -> added at

	// Now returns the current time; tests may replace it
	Now func() time.Time
	// FailApply, when set, is returned by ApplyEnrichment
	FailApply error
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		content:     make(map[string]*models.ContentItem),
		collections: make(map[string]*models.Collection),
		members:     make(map[string]map[string]time.Time),
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

func cloneItem(item *models.ContentItem) *models.ContentItem {
	c := *item
	c.Tags = append([]string{}, item.Tags...)
	c.KeyTakeaways = append([]string{}, item.KeyTakeaways...)
	if item.ThumbnailURL != nil {
		thumb := *item.ThumbnailURL
		c.ThumbnailURL = &thumb
	}
	return &c
}

// CreateContent stores a copy of item, filling defaults like db.DB
func (s *MemoryStore) CreateContent(ctx context.Context, item *models.ContentItem) error {
	if item.UserID == "" {
		return fmt.Errorf("content item requires a user id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if _, exists := s.content[item.ID]; exists {
		return fmt.Errorf("failed to create content: duplicate id %s", item.ID)
	}
	if item.Title == "" {
		item.Title = models.PlaceholderTitle
	}
	if item.ProcessingStatus == "" {
		item.ProcessingStatus = models.StatusPending
	}
	if item.Source == "" {
		item.Source = models.SourceWeb
	}
	if item.Tags == nil {
		item.Tags = []string{}
	}
	if item.KeyTakeaways == nil {
		item.KeyTakeaways = []string{}
	}
	now := s.Now()
	item.CreatedAt = now
	item.UpdatedAt = now

	s.content[item.ID] = cloneItem(item)
	return nil
}

// Put stores item as-is, for seeding tests
func (s *MemoryStore) Put(item *models.ContentItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content[item.ID] = cloneItem(item)
}

// GetContent returns a copy of the item owned by userID
func (s *MemoryStore) GetContent(ctx context.Context, userID, id string) (*models.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.content[id]
	if !ok || item.UserID != userID {
		return nil, db.ErrNotFound
	}
	return cloneItem(item), nil
}

func (s *MemoryStore) matches(item *models.ContentItem, userID string, f models.ContentFilter, now time.Time) bool {
	if item.UserID != userID {
		return false
	}

	switch f.Filter {
	case models.FilterCompleted:
		if item.ProcessingStatus != models.StatusCompleted {
			return false
		}
	case models.FilterProcessing:
		if item.ProcessingStatus != models.StatusPending && item.ProcessingStatus != models.StatusProcessing {
			return false
		}
	case models.FilterFailed:
		if item.ProcessingStatus != models.StatusFailed {
			return false
		}
	case models.FilterFavorites:
		if !item.IsFavorite {
			return false
		}
	case models.FilterRecent:
		if item.CreatedAt.Before(now.Add(-models.RecentWindow)) {
			return false
		}
	}

	if f.Source != "" && item.Source != f.Source {
		return false
	}
	if f.Tag != "" && !contains(item.Tags, f.Tag) {
		return false
	}
	if f.CollectionID != "" {
		c, ok := s.collections[f.CollectionID]
		if !ok || c.UserID != userID {
			return false
		}
		if _, in := s.members[f.CollectionID][item.ID]; !in {
			return false
		}
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		if !strings.Contains(strings.ToLower(item.Title), q) && !strings.Contains(strings.ToLower(item.Summary), q) {
			return false
		}
	}
	return true
}

func (s *MemoryStore) filtered(userID string, f models.ContentFilter) []*models.ContentItem {
	now := s.Now()
	var items []*models.ContentItem
	for _, item := range s.content {
		if s.matches(item, userID, f, now) {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items
}

// ListContent returns matching items newest first
func (s *MemoryStore) ListContent(ctx context.Context, userID string, f models.ContentFilter) ([]*models.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.filtered(userID, f)
	if f.Offset > 0 {
		if f.Offset >= len(items) {
			items = nil
		} else {
			items = items[f.Offset:]
		}
	}
	if f.Limit > 0 && len(items) > f.Limit {
		items = items[:f.Limit]
	}

	out := make([]*models.ContentItem, 0, len(items))
	for _, item := range items {
		out = append(out, cloneItem(item))
	}
	return out, nil
}

// CountContent counts matching items ignoring limit and offset
func (s *MemoryStore) CountContent(ctx context.Context, userID string, f models.ContentFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.filtered(userID, f)), nil
}

// DeleteContent removes an item and its collection memberships
func (s *MemoryStore) DeleteContent(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.content[id]
	if !ok || item.UserID != userID {
		return db.ErrNotFound
	}
	delete(s.content, id)
	for _, members := range s.members {
		delete(members, id)
	}
	return nil
}

// ToggleFavorite flips is_favorite
func (s *MemoryStore) ToggleFavorite(ctx context.Context, userID, id string) (*models.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.content[id]
	if !ok || item.UserID != userID {
		return nil, db.ErrNotFound
	}
	item.IsFavorite = !item.IsFavorite
	item.UpdatedAt = s.Now()
	return cloneItem(item), nil
}

// transition applies next to an owned item when the transition table allows it
func (s *MemoryStore) transition(userID, id string, next models.ProcessingStatus, apply func(*models.ContentItem)) error {
	item, ok := s.content[id]
	if !ok || item.UserID != userID {
		return db.ErrNotFound
	}
	if !item.ProcessingStatus.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", db.ErrInvalidTransition, item.ProcessingStatus, next)
	}
	if apply != nil {
		apply(item)
	}
	item.ProcessingStatus = next
	item.UpdatedAt = s.Now()
	return nil
}

// TransitionStatus moves an item to next
func (s *MemoryStore) TransitionStatus(ctx context.Context, userID, id string, next models.ProcessingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(userID, id, next, nil)
}

// ApplyEnrichment completes an item
func (s *MemoryStore) ApplyEnrichment(ctx context.Context, userID, id string, e models.Enrichment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailApply != nil {
		return s.FailApply
	}
	return s.transition(userID, id, models.StatusCompleted, func(item *models.ContentItem) {
		item.Title = e.Title
		item.Summary = e.Summary
		item.ContentText = e.ContentText
		item.Tags = append([]string{}, e.Tags...)
		item.KeyTakeaways = append([]string{}, e.KeyTakeaways...)
		item.Source = e.Source
		item.ThumbnailURL = nil
		if e.ThumbnailURL != nil {
			thumb := *e.ThumbnailURL
			item.ThumbnailURL = &thumb
		}
	})
}

// MarkFailed fails a non-terminal item
func (s *MemoryStore) MarkFailed(ctx context.Context, userID, id, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(userID, id, models.StatusFailed, func(item *models.ContentItem) {
		item.Summary = summary
	})
}

// ReclaimStale fails items pending or processing since before olderThan
func (s *MemoryStore) ReclaimStale(ctx context.Context, olderThan time.Duration) ([]*models.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	cutoff := now.Add(-olderThan)
	var reclaimed []*models.ContentItem
	for _, item := range s.content {
		if !item.ProcessingStatus.Terminal() && item.UpdatedAt.Before(cutoff) {
			item.ProcessingStatus = models.StatusFailed
			item.Summary = db.ReclaimSummary
			item.UpdatedAt = now
			reclaimed = append(reclaimed, cloneItem(item))
		}
	}
	return reclaimed, nil
}

// CompletedContent returns completed items, by ids when given, else the newest limit
func (s *MemoryStore) CompletedContent(ctx context.Context, userID string, ids []string, limit int) ([]*models.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.filtered(userID, models.ContentFilter{Filter: models.FilterCompleted})
	var out []*models.ContentItem
	for _, item := range items {
		if len(ids) > 0 && !contains(ids, item.ID) {
			continue
		}
		out = append(out, cloneItem(item))
		if len(ids) == 0 && limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// CreateCollection stores a collection
func (s *MemoryStore) CreateCollection(ctx context.Context, c *models.Collection) error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return fmt.Errorf("collection name is required")
	}
	if c.UserID == "" {
		return fmt.Errorf("collection requires a user id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Color == "" {
		c.Color = models.DefaultCollectionColor
	}
	now := s.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	c.ItemCount = 0

	stored := *c
	s.collections[c.ID] = &stored
	s.members[c.ID] = make(map[string]time.Time)
	return nil
}

func (s *MemoryStore) withCount(c *models.Collection) *models.Collection {
	out := *c
	out.ItemCount = len(s.members[c.ID])
	return &out
}

// ListCollections returns the user's collections newest first
func (s *MemoryStore) ListCollections(ctx context.Context, userID string) ([]*models.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*models.Collection{}
	for _, c := range s.collections {
		if c.UserID == userID {
			out = append(out, s.withCount(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetCollection returns one of the user's collections
func (s *MemoryStore) GetCollection(ctx context.Context, userID, id string) (*models.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[id]
	if !ok || c.UserID != userID {
		return nil, db.ErrNotFound
	}
	return s.withCount(c), nil
}

// DeleteCollection removes a collection and its memberships
func (s *MemoryStore) DeleteCollection(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[id]
	if !ok || c.UserID != userID {
		return db.ErrNotFound
	}
	delete(s.collections, id)
	delete(s.members, id)
	return nil
}

// AddToCollection adds owned items, skipping duplicates
func (s *MemoryStore) AddToCollection(ctx context.Context, userID, collectionID string, contentIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[collectionID]
	if !ok || c.UserID != userID {
		return 0, db.ErrNotFound
	}

	added := 0
	for _, id := range contentIDs {
		item, ok := s.content[id]
		if !ok || item.UserID != userID {
			continue
		}
		if _, in := s.members[collectionID][id]; in {
			continue
		}
		s.members[collectionID][id] = s.Now()
		added++
	}
	c.UpdatedAt = s.Now()
	return added, nil
}

// RemoveFromCollection removes one membership
func (s *MemoryStore) RemoveFromCollection(ctx context.Context, userID, collectionID, contentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[collectionID]
	if !ok || c.UserID != userID {
		return db.ErrNotFound
	}
	if _, in := s.members[collectionID][contentID]; !in {
		return db.ErrNotFound
	}
	delete(s.members[collectionID], contentID)
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
