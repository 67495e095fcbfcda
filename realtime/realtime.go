// Package realtime fans out row change notifications to the owning user's subscribers.
//
// A notification only says that something changed; subscribers are expected to
// re-read current state rather than apply the change.
package realtime

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by a bus after Close
var ErrClosed = errors.New("realtime bus closed")

// Tables that produce change notifications
const (
	TableContent         = "content"
	TableCollections     = "collections"
	TableCollectionItems = "collection_items"
)

// Op is the kind of row change
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change describes one row change for one user
type Change struct {
	UserID string    `json:"user_id"`
	Table  string    `json:"table"`
	Op     Op        `json:"op"`
	RowID  string    `json:"row_id"`
	At     time.Time `json:"at"`
}

// NewChange returns a change stamped with the current time
func NewChange(userID, table string, op Op, rowID string) Change {
	return Change{UserID: userID, Table: table, Op: op, RowID: rowID, At: time.Now().UTC()}
}

// Bus publishes changes and delivers them to subscribers of the same user
type Bus interface {
	Publish(ctx context.Context, c Change) error
	// Subscribe returns a channel of changes for userID and a function that
	// ends the subscription. The channel is closed when the subscription ends
	// or ctx is done.
	Subscribe(ctx context.Context, userID string) (<-chan Change, func(), error)
	Close() error
}

// subscriberBuffer bounds how far a slow subscriber may fall behind before
// changes are dropped for it
const subscriberBuffer = 32
