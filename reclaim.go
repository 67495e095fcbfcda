package curator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docutag/curator/metrics"
	"github.com/docutag/curator/models"
	"github.com/docutag/curator/realtime"
)

// StaleStore finds and fails items left pending or processing
type StaleStore interface {
	ReclaimStale(ctx context.Context, olderThan time.Duration) ([]*models.ContentItem, error)
}

// Reclaim marks items stuck in pending or processing for longer than olderThan as failed
// and notifies their owners. It returns the number of items reclaimed.
func Reclaim(ctx context.Context, store StaleStore, notifier Notifier, olderThan time.Duration) (int, error) {
	items, err := store.ReclaimStale(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale items: %w", err)
	}

	for _, item := range items {
		slog.Warn("reclaimed stale content", "content_id", item.ID, "user_id", item.UserID, "url", item.URL)
		if notifier == nil {
			continue
		}
		if err := notifier.Publish(ctx, realtime.NewChange(item.UserID, realtime.TableContent, realtime.OpUpdate, item.ID)); err != nil {
			slog.Warn("failed to publish change", "content_id", item.ID, "error", err)
		}
	}
	metrics.Reclaimed.Add(float64(len(items)))

	return len(items), nil
}

// RunReclaimer calls Reclaim every interval until ctx is done
func RunReclaimer(ctx context.Context, store StaleStore, notifier Notifier, olderThan, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := Reclaim(ctx, store, notifier, olderThan); err != nil {
				slog.Error("stale reclaim failed", "error", err)
			} else if n > 0 {
				slog.Info("stale reclaim finished", "reclaimed", n)
			}
		}
	}
}
