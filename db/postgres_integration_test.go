package db

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/docutag/curator/models"
)

// setupTestDB connects to CURATOR_TEST_DATABASE_URL and skips the test when it is unset
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := os.Getenv("CURATOR_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CURATOR_TEST_DATABASE_URL not set")
	}

	db, err := New(Config{DSN: dsn})
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// testUser returns a user id unique to this test run so rows never collide
func testUser(t *testing.T) string {
	t.Helper()
	return "test-" + uuid.New().String()
}

func createPending(t *testing.T, db *DB, userID, url string) *models.ContentItem {
	t.Helper()
	item := &models.ContentItem{UserID: userID, URL: url, Source: models.SourceWeb}
	if err := db.CreateContent(context.Background(), item); err != nil {
		t.Fatalf("CreateContent failed: %v", err)
	}
	return item
}

func TestContentLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	userID := testUser(t)

	item := createPending(t, db, userID, "https://example.com/post")
	if item.Title != models.PlaceholderTitle || item.ProcessingStatus != models.StatusPending {
		t.Fatalf("unexpected defaults: %+v", item)
	}

	// Completing directly from pending is rejected
	err := db.ApplyEnrichment(ctx, userID, item.ID, models.Enrichment{Title: "x", Source: models.SourceWeb})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	if err := db.TransitionStatus(ctx, userID, item.ID, models.StatusProcessing); err != nil {
		t.Fatalf("TransitionStatus failed: %v", err)
	}

	thumb := "https://img.example.com/a.jpg"
	err = db.ApplyEnrichment(ctx, userID, item.ID, models.Enrichment{
		Title:        "A Post",
		Summary:      "About things",
		ContentText:  "body",
		Tags:         []string{"go", "testing"},
		KeyTakeaways: nil,
		Source:       models.SourceMedium,
		ThumbnailURL: &thumb,
	})
	if err != nil {
		t.Fatalf("ApplyEnrichment failed: %v", err)
	}

	got, err := db.GetContent(ctx, userID, item.ID)
	if err != nil {
		t.Fatalf("GetContent failed: %v", err)
	}
	if got.ProcessingStatus != models.StatusCompleted || got.Title != "A Post" || got.Source != models.SourceMedium {
		t.Errorf("unexpected item after enrichment: %+v", got)
	}
	if got.KeyTakeaways == nil || len(got.KeyTakeaways) != 0 {
		t.Errorf("expected empty takeaways, got %v", got.KeyTakeaways)
	}
	if got.ThumbnailURL == nil || *got.ThumbnailURL != thumb {
		t.Errorf("unexpected thumbnail %v", got.ThumbnailURL)
	}

	// Terminal records cannot fail or go back
	if err := db.MarkFailed(ctx, userID, item.ID, "late"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition from MarkFailed, got %v", err)
	}
	if err := db.TransitionStatus(ctx, userID, item.ID, models.StatusProcessing); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	// Another user cannot see the item
	if _, err := db.GetContent(ctx, "someone-else", item.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for another user, got %v", err)
	}
	if err := db.TransitionStatus(ctx, "someone-else", item.ID, models.StatusProcessing); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := db.DeleteContent(ctx, userID, item.ID); err != nil {
		t.Fatalf("DeleteContent failed: %v", err)
	}
	if err := db.DeleteContent(ctx, userID, item.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestToggleFavoriteTwice(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	userID := testUser(t)
	item := createPending(t, db, userID, "https://example.com/fav")

	first, err := db.ToggleFavorite(ctx, userID, item.ID)
	if err != nil || !first.IsFavorite {
		t.Fatalf("first toggle: %v %+v", err, first)
	}
	second, err := db.ToggleFavorite(ctx, userID, item.ID)
	if err != nil || second.IsFavorite {
		t.Fatalf("second toggle: %v %+v", err, second)
	}
}

func TestReclaimStale(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	userID := testUser(t)
	item := createPending(t, db, userID, "https://example.com/stuck")
	orphaned := createPending(t, db, userID, "https://example.com/orphaned")

	if err := db.TransitionStatus(ctx, userID, item.ID, models.StatusProcessing); err != nil {
		t.Fatalf("TransitionStatus failed: %v", err)
	}

	// Pretend the transition happened an hour ago
	db.now = func() time.Time { return time.Now().Add(time.Hour) }
	defer func() { db.now = time.Now }()

	reclaimed, err := db.ReclaimStale(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("ReclaimStale failed: %v", err)
	}

	found := map[string]bool{}
	for _, r := range reclaimed {
		if r.ID == item.ID || r.ID == orphaned.ID {
			found[r.ID] = true
			if r.ProcessingStatus != models.StatusFailed || r.Summary != ReclaimSummary {
				t.Errorf("unexpected reclaimed item %+v", r)
			}
		}
	}
	if !found[item.ID] || !found[orphaned.ID] {
		t.Errorf("expected processing and pending items to be reclaimed, got %v", found)
	}
}

func TestCollections(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	userID := testUser(t)

	a := createPending(t, db, userID, "https://example.com/a")
	b := createPending(t, db, userID, "https://example.com/b")
	foreign := createPending(t, db, testUser(t), "https://example.com/c")

	col := &models.Collection{UserID: userID, Name: " Reading "}
	if err := db.CreateCollection(ctx, col); err != nil {
		t.Fatalf("CreateCollection failed: %v", err)
	}
	if col.Color != models.DefaultCollectionColor || col.Name != "Reading" {
		t.Errorf("unexpected collection defaults: %+v", col)
	}

	added, err := db.AddToCollection(ctx, userID, col.ID, []string{a.ID, b.ID, a.ID, foreign.ID})
	if err != nil {
		t.Fatalf("AddToCollection failed: %v", err)
	}
	if added != 2 {
		t.Errorf("added = %d, want 2", added)
	}

	again, err := db.AddToCollection(ctx, userID, col.ID, []string{a.ID})
	if err != nil || again != 0 {
		t.Errorf("re-adding should be a no-op, got %d, %v", again, err)
	}

	items, err := db.ListContent(ctx, userID, models.ContentFilter{CollectionID: col.ID})
	if err != nil || len(items) != 2 {
		t.Fatalf("ListContent by collection: %d items, %v", len(items), err)
	}

	cols, err := db.ListCollections(ctx, userID)
	if err != nil || len(cols) != 1 || cols[0].ItemCount != 2 {
		t.Fatalf("ListCollections = %+v, %v", cols, err)
	}

	// Deleting content cascades to membership
	if err := db.DeleteContent(ctx, userID, b.ID); err != nil {
		t.Fatalf("DeleteContent failed: %v", err)
	}
	got, err := db.GetCollection(ctx, userID, col.ID)
	if err != nil || got.ItemCount != 1 {
		t.Fatalf("GetCollection = %+v, %v", got, err)
	}

	if err := db.RemoveFromCollection(ctx, userID, col.ID, a.ID); err != nil {
		t.Fatalf("RemoveFromCollection failed: %v", err)
	}
	if err := db.RemoveFromCollection(ctx, userID, col.ID, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if _, err := db.AddToCollection(ctx, "someone-else", col.ID, []string{a.ID}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign collection, got %v", err)
	}

	if err := db.DeleteCollection(ctx, userID, col.ID); err != nil {
		t.Fatalf("DeleteCollection failed: %v", err)
	}
}

func TestMigrationStatusAllApplied(t *testing.T) {
	db := setupTestDB(t)

	status, err := GetMigrationStatus(db.DB())
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}
	for _, s := range status {
		if !s.Applied {
			t.Errorf("migration %d (%s) not applied", s.Version, s.Name)
		}
	}
}
