package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ChannelPrefix namespaces the per-user pub/sub channels
const ChannelPrefix = "curator:changes:"

// ChannelName returns the pub/sub channel carrying userID's changes
func ChannelName(userID string) string {
	return ChannelPrefix + userID
}

// RedisBus publishes changes over Redis pub/sub so every API instance sees them
type RedisBus struct {
	rdb *redis.Client

	mu     sync.Mutex
	subs   map[*redis.PubSub]struct{}
	closed bool
}

// NewRedisBus connects to the Redis server at redisURL
func NewRedisBus(ctx context.Context, redisURL string) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisBus{rdb: client, subs: make(map[*redis.PubSub]struct{})}, nil
}

// Publish sends c to the owning user's channel
func (b *RedisBus) Publish(ctx context.Context, c Change) error {
	if c.UserID == "" {
		return errors.New("change has no user id")
	}

	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}

	if err := b.rdb.Publish(ctx, ChannelName(c.UserID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}
	return nil
}

// Subscribe listens on userID's channel
func (b *RedisBus) Subscribe(ctx context.Context, userID string) (<-chan Change, func(), error) {
	if userID == "" {
		return nil, nil, errors.New("user id is required")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, nil, ErrClosed
	}
	b.mu.Unlock()

	ps := b.rdb.Subscribe(ctx, ChannelName(userID))
	// Wait for the subscription to be confirmed so no change published after
	// Subscribe returns is missed
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	b.mu.Lock()
	b.subs[ps] = struct{}{}
	b.mu.Unlock()

	out := make(chan Change, subscriberBuffer)
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ps)
			b.mu.Unlock()
			ps.Close()
		})
	}

	go func() {
		defer close(out)
		defer cancel()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					slog.Warn("ignoring malformed change", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- c:
				default:
					slog.Warn("dropping change for slow subscriber", "user_id", userID, "table", c.Table)
				}
			}
		}
	}()

	return out, cancel, nil
}

// Close ends all subscriptions and closes the Redis client
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[*redis.PubSub]struct{})
	b.mu.Unlock()

	for ps := range subs {
		ps.Close()
	}
	return b.rdb.Close()
}
