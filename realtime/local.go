package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// LocalBus is an in-process Bus for single-instance deployments and tests
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[string]map[*localSub]struct{}
	closed bool
}

type localSub struct {
	ch   chan Change
	done chan struct{}
	once sync.Once
}

// NewLocalBus creates an empty in-process bus
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string]map[*localSub]struct{})}
}

// Publish delivers c to every current subscriber of c.UserID without blocking.
// Subscribers whose buffer is full miss the change.
func (b *LocalBus) Publish(ctx context.Context, c Change) error {
	if c.UserID == "" {
		return errors.New("change has no user id")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	for sub := range b.subs[c.UserID] {
		select {
		case sub.ch <- c:
		default:
			slog.Warn("dropping change for slow subscriber", "user_id", c.UserID, "table", c.Table)
		}
	}
	return nil
}

// Subscribe registers a subscriber for userID
func (b *LocalBus) Subscribe(ctx context.Context, userID string) (<-chan Change, func(), error) {
	if userID == "" {
		return nil, nil, errors.New("user id is required")
	}

	sub := &localSub{ch: make(chan Change, subscriberBuffer), done: make(chan struct{})}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, nil, ErrClosed
	}
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[*localSub]struct{})
	}
	b.subs[userID][sub] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		sub.once.Do(func() {
			b.mu.Lock()
			delete(b.subs[userID], sub)
			if len(b.subs[userID]) == 0 {
				delete(b.subs, userID)
			}
			b.mu.Unlock()
			close(sub.done)
			close(sub.ch)
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-sub.done:
		}
	}()

	return sub.ch, cancel, nil
}

// Close ends every subscription
func (b *LocalBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*localSub
	for _, subs := range b.subs {
		for sub := range subs {
			all = append(all, sub)
		}
	}
	b.subs = make(map[string]map[*localSub]struct{})
	b.mu.Unlock()

	for _, sub := range all {
		sub.once.Do(func() {
			close(sub.done)
			close(sub.ch)
		})
	}
	return nil
}
