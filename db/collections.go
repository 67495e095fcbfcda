package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/docutag/curator/models"
)

const collectionSelect = `
	SELECT c.id, c.user_id, c.name, c.description, c.color, c.created_at, c.updated_at,
		COUNT(ci.id) AS item_count
	FROM collections c
	LEFT JOIN collection_items ci ON ci.collection_id = c.id`

func scanCollection(row rowScanner) (*models.Collection, error) {
	var c models.Collection
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Description, &c.Color, &c.CreatedAt, &c.UpdatedAt, &c.ItemCount)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCollection inserts a collection, defaulting its color
func (db *DB) CreateCollection(ctx context.Context, c *models.Collection) error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return fmt.Errorf("collection name is required")
	}
	if c.UserID == "" {
		return fmt.Errorf("collection requires a user id")
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Color == "" {
		c.Color = models.DefaultCollectionColor
	}
	now := db.now()
	c.CreatedAt = now
	c.UpdatedAt = now
	c.ItemCount = 0

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO collections (id, user_id, name, description, color, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.UserID, c.Name, c.Description, c.Color, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// ListCollections returns the user's collections with item counts, newest first
func (db *DB) ListCollections(ctx context.Context, userID string) ([]*models.Collection, error) {
	rows, err := db.conn.QueryContext(ctx, collectionSelect+`
		WHERE c.user_id = $1
		GROUP BY c.id
		ORDER BY c.created_at DESC, c.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	collections := []*models.Collection{}
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan collection: %w", err)
		}
		collections = append(collections, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate collections: %w", err)
	}
	return collections, nil
}

// GetCollection returns one of the user's collections
func (db *DB) GetCollection(ctx context.Context, userID, id string) (*models.Collection, error) {
	row := db.conn.QueryRowContext(ctx, collectionSelect+`
		WHERE c.id = $1 AND c.user_id = $2
		GROUP BY c.id`, id, userID)

	c, err := scanCollection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	return c, nil
}

// DeleteCollection removes a collection; its item rows cascade
func (db *DB) DeleteCollection(ctx context.Context, userID, id string) error {
	result, err := db.conn.ExecContext(ctx, "DELETE FROM collections WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return requireRow(result)
}

// AddToCollection adds the user's content items to a collection. Items already in
// the collection and items the user does not own are skipped. Returns the number added.
func (db *DB) AddToCollection(ctx context.Context, userID, collectionID string, contentIDs []string) (int, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var owner string
	err = tx.QueryRowContext(ctx, "SELECT user_id FROM collections WHERE id = $1", collectionID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != userID) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to check collection: %w", err)
	}

	added := 0
	for _, contentID := range contentIDs {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO collection_items (id, collection_id, content_id, created_at)
			SELECT $1, $2, c.id, $5 FROM content c WHERE c.id = $3 AND c.user_id = $4
			ON CONFLICT (collection_id, content_id) DO NOTHING
		`, uuid.New().String(), collectionID, contentID, userID, db.now())
		if err != nil {
			return 0, fmt.Errorf("failed to add collection item: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}
		added += int(n)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE collections SET updated_at = $2 WHERE id = $1", collectionID, db.now()); err != nil {
		return 0, fmt.Errorf("failed to touch collection: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit collection items: %w", err)
	}
	return added, nil
}

// RemoveFromCollection removes one item from one of the user's collections
func (db *DB) RemoveFromCollection(ctx context.Context, userID, collectionID, contentID string) error {
	result, err := db.conn.ExecContext(ctx, `
		DELETE FROM collection_items ci
		USING collections c
		WHERE ci.collection_id = c.id AND c.user_id = $1 AND ci.collection_id = $2 AND ci.content_id = $3
	`, userID, collectionID, contentID)
	if err != nil {
		return fmt.Errorf("failed to remove collection item: %w", err)
	}
	return requireRow(result)
}
