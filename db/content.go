package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/docutag/curator/models"
)

// ReclaimSummary is written to records that were stuck in pending or processing
const ReclaimSummary = "Processing timed out before completion"

const contentColumns = `id, user_id, title, summary, content_text, url, source, tags, key_takeaways,
	processing_status, thumbnail_url, is_favorite, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContent(row rowScanner) (*models.ContentItem, error) {
	var (
		item      models.ContentItem
		source    string
		status    string
		thumbnail sql.NullString
	)

	err := row.Scan(
		&item.ID,
		&item.UserID,
		&item.Title,
		&item.Summary,
		&item.ContentText,
		&item.URL,
		&source,
		pq.Array(&item.Tags),
		pq.Array(&item.KeyTakeaways),
		&status,
		&thumbnail,
		&item.IsFavorite,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Source = models.Source(source)
	item.ProcessingStatus = models.ProcessingStatus(status)
	if thumbnail.Valid {
		item.ThumbnailURL = &thumbnail.String
	}
	if item.Tags == nil {
		item.Tags = []string{}
	}
	if item.KeyTakeaways == nil {
		item.KeyTakeaways = []string{}
	}

	return &item, nil
}

func scanContentRows(rows *sql.Rows) ([]*models.ContentItem, error) {
	defer rows.Close()

	items := []*models.ContentItem{}
	for rows.Next() {
		item, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan content: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate content: %w", err)
	}
	return items, nil
}

// CreateContent inserts a new content item. ID, timestamps, status and title are
// filled in when empty.
func (db *DB) CreateContent(ctx context.Context, item *models.ContentItem) error {
	if item.UserID == "" {
		return fmt.Errorf("content item requires a user id")
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
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
	now := db.now()
	item.CreatedAt = now
	item.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO content (id, user_id, title, summary, content_text, url, source, tags, key_takeaways,
			processing_status, thumbnail_url, is_favorite, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		item.ID,
		item.UserID,
		item.Title,
		item.Summary,
		item.ContentText,
		item.URL,
		string(item.Source),
		pq.Array(item.Tags),
		pq.Array(item.KeyTakeaways),
		string(item.ProcessingStatus),
		item.ThumbnailURL,
		item.IsFavorite,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create content: %w", err)
	}

	return nil
}

// GetContent returns the item with id owned by userID
func (db *DB) GetContent(ctx context.Context, userID, id string) (*models.ContentItem, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+contentColumns+" FROM content WHERE id = $1 AND user_id = $2", id, userID)

	item, err := scanContent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get content: %w", err)
	}

	return item, nil
}

// contentWhere builds the WHERE clause and arguments for a filtered listing
func contentWhere(userID string, filter models.ContentFilter, now time.Time) (string, []any) {
	args := []any{userID}
	clauses := []string{"user_id = $1"}

	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	switch filter.Filter {
	case models.FilterCompleted:
		clauses = append(clauses, "processing_status = 'completed'")
	case models.FilterProcessing:
		clauses = append(clauses, "processing_status IN ('pending', 'processing')")
	case models.FilterFailed:
		clauses = append(clauses, "processing_status = 'failed'")
	case models.FilterFavorites:
		clauses = append(clauses, "is_favorite")
	case models.FilterRecent:
		clauses = append(clauses, "created_at >= "+arg(now.Add(-models.RecentWindow)))
	}

	if filter.Source != "" {
		clauses = append(clauses, "source = "+arg(string(filter.Source)))
	}
	if filter.Tag != "" {
		clauses = append(clauses, arg(filter.Tag)+" = ANY(tags)")
	}
	if filter.CollectionID != "" {
		clauses = append(clauses, `id IN (
			SELECT ci.content_id FROM collection_items ci
			JOIN collections c ON c.id = ci.collection_id
			WHERE ci.collection_id = `+arg(filter.CollectionID)+` AND c.user_id = $1)`)
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		p := arg("%" + escapeLike(q) + "%")
		clauses = append(clauses, "(title ILIKE "+p+" OR summary ILIKE "+p+")")
	}

	return strings.Join(clauses, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// ListContent returns the user's items matching filter, newest first
func (db *DB) ListContent(ctx context.Context, userID string, filter models.ContentFilter) ([]*models.ContentItem, error) {
	where, args := contentWhere(userID, filter, db.now())

	query := "SELECT " + contentColumns + " FROM content WHERE " + where + " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list content: %w", err)
	}

	return scanContentRows(rows)
}

// CountContent returns how many of the user's items match filter, ignoring limit and offset
func (db *DB) CountContent(ctx context.Context, userID string, filter models.ContentFilter) (int, error) {
	where, args := contentWhere(userID, filter, db.now())

	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM content WHERE "+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count content: %w", err)
	}
	return count, nil
}

// DeleteContent removes an item; collection memberships cascade
func (db *DB) DeleteContent(ctx context.Context, userID, id string) error {
	result, err := db.conn.ExecContext(ctx, "DELETE FROM content WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete content: %w", err)
	}
	return requireRow(result)
}

// ToggleFavorite flips is_favorite and returns the updated item
func (db *DB) ToggleFavorite(ctx context.Context, userID, id string) (*models.ContentItem, error) {
	row := db.conn.QueryRowContext(ctx, `
		UPDATE content SET is_favorite = NOT is_favorite, updated_at = $3
		WHERE id = $1 AND user_id = $2
		RETURNING `+contentColumns, id, userID, db.now())

	item, err := scanContent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to toggle favorite: %w", err)
	}
	return item, nil
}

// TransitionStatus moves an item to next when the transition table allows it
func (db *DB) TransitionStatus(ctx context.Context, userID, id string, next models.ProcessingStatus) error {
	result, err := db.conn.ExecContext(ctx, `
		UPDATE content SET processing_status = $3, updated_at = $4
		WHERE id = $1 AND user_id = $2 AND processing_status = ANY($5)
	`, id, userID, string(next), db.now(), statusArray(models.AllowedPredecessors(next)))
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return db.checkTransition(ctx, result, userID, id, next)
}

// ApplyEnrichment writes the enrichment fields and completes the item in one statement
func (db *DB) ApplyEnrichment(ctx context.Context, userID, id string, e models.Enrichment) error {
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	takeaways := e.KeyTakeaways
	if takeaways == nil {
		takeaways = []string{}
	}

	result, err := db.conn.ExecContext(ctx, `
		UPDATE content SET
			title = $3,
			summary = $4,
			content_text = $5,
			tags = $6,
			key_takeaways = $7,
			source = $8,
			thumbnail_url = $9,
			processing_status = 'completed',
			updated_at = $10
		WHERE id = $1 AND user_id = $2 AND processing_status = ANY($11)
	`,
		id,
		userID,
		e.Title,
		e.Summary,
		e.ContentText,
		pq.Array(tags),
		pq.Array(takeaways),
		string(e.Source),
		e.ThumbnailURL,
		db.now(),
		statusArray(models.AllowedPredecessors(models.StatusCompleted)),
	)
	if err != nil {
		return fmt.Errorf("failed to apply enrichment: %w", err)
	}
	return db.checkTransition(ctx, result, userID, id, models.StatusCompleted)
}

// MarkFailed moves a non-terminal item to failed with summary as the visible reason
func (db *DB) MarkFailed(ctx context.Context, userID, id, summary string) error {
	result, err := db.conn.ExecContext(ctx, `
		UPDATE content SET processing_status = 'failed', summary = $3, updated_at = $4
		WHERE id = $1 AND user_id = $2 AND processing_status = ANY($5)
	`, id, userID, summary, db.now(), statusArray(models.AllowedPredecessors(models.StatusFailed)))
	if err != nil {
		return fmt.Errorf("failed to mark content failed: %w", err)
	}
	return db.checkTransition(ctx, result, userID, id, models.StatusFailed)
}

// ReclaimStale fails every item left pending or processing without an update for
// longer than olderThan and returns the reclaimed items. Pending items get here
// when the process stopped before their enrichment started.
func (db *DB) ReclaimStale(ctx context.Context, olderThan time.Duration) ([]*models.ContentItem, error) {
	now := db.now()
	rows, err := db.conn.QueryContext(ctx, `
		UPDATE content SET processing_status = 'failed', summary = $1, updated_at = $2
		WHERE processing_status IN ('pending', 'processing') AND updated_at < $3
		RETURNING `+contentColumns, ReclaimSummary, now, now.Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("failed to reclaim stale content: %w", err)
	}
	return scanContentRows(rows)
}

// CompletedContent returns the user's completed items. When ids is non-empty only
// those items are considered and limit is ignored.
func (db *DB) CompletedContent(ctx context.Context, userID string, ids []string, limit int) ([]*models.ContentItem, error) {
	query := "SELECT " + contentColumns + " FROM content WHERE user_id = $1 AND processing_status = 'completed'"
	args := []any{userID}

	if len(ids) > 0 {
		args = append(args, pq.Array(ids))
		query += " AND id = ANY($2) ORDER BY created_at DESC"
	} else {
		query += " ORDER BY created_at DESC"
		if limit > 0 {
			args = append(args, limit)
			query += " LIMIT $2"
		}
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load completed content: %w", err)
	}
	return scanContentRows(rows)
}

// checkTransition distinguishes a missing row from a rejected transition when an update touched nothing
func (db *DB) checkTransition(ctx context.Context, result sql.Result, userID, id string, next models.ProcessingStatus) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var current string
	err = db.conn.QueryRowContext(ctx,
		"SELECT processing_status FROM content WHERE id = $1 AND user_id = $2", id, userID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read current status: %w", err)
	}

	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func statusArray(statuses []models.ProcessingStatus) any {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	return pq.Array(values)
}
