package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prohmpiriya/booking-rush-gate/internal/domain"
	pkgredis "github.com/prohmpiriya/booking-rush-gate/pkg/redis"
	"github.com/redis/go-redis/v9"
)

const pushField = "msg"

// RedisPushStore keeps each user's recent push messages in a capped stream.
// Every append publishes the user id on PushNotifyChannel. One subscription
// per store fans those out to local waiters, so an idle stream holds no
// pooled connection.
type RedisPushStore struct {
	client  *pkgredis.Client
	history int64

	mu      sync.Mutex
	sub     *redis.PubSub
	waiters map[string]map[chan struct{}]struct{}
}

// NewRedisPushStore creates a new RedisPushStore
func NewRedisPushStore(client *pkgredis.Client, history int64) *RedisPushStore {
	if history <= 0 {
		history = 20
	}
	return &RedisPushStore{
		client:  client,
		history: history,
		waiters: make(map[string]map[chan struct{}]struct{}),
	}
}

var _ PushStore = (*RedisPushStore)(nil)

// Append stores a message and returns its cursor
func (r *RedisPushStore) Append(ctx context.Context, userID string, msg *domain.PushMessage) (string, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal push message: %w", err)
	}
	id, err := r.client.XAdd(ctx, pushKey(userID), r.history, map[string]interface{}{pushField: string(b)}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to append push message: %w", err)
	}
	msg.ID = id
	// a lost notification only delays delivery to the waiter's next poll
	_ = r.client.Publish(ctx, PushNotifyChannel, userID).Err()
	return id, nil
}

func (r *RedisPushStore) After(ctx context.Context, userID, cursor string, count int64) ([]*domain.PushMessage, error) {
	if cursor == "" {
		last, err := r.client.XLast(ctx, pushKey(userID))
		if err != nil {
			return nil, err
		}
		if last == nil {
			return nil, nil
		}
		return decodePush([]redis.XMessage{*last}), nil
	}
	if !validCursor(cursor) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidCursor, cursor)
	}
	msgs, err := r.client.XRange(ctx, pushKey(userID), "("+cursor, "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCursor, err)
	}
	return decodePush(msgs), nil
}

// Wait returns messages newer than cursor as soon as one is appended, or
// whatever is there after block elapses. No connection is held while waiting.
func (r *RedisPushStore) Wait(ctx context.Context, userID, cursor string, block time.Duration) ([]*domain.PushMessage, error) {
	if cursor == "" {
		last, err := r.client.XLast(ctx, pushKey(userID))
		if err != nil {
			return nil, err
		}
		cursor = "0-0"
		if last != nil {
			cursor = last.ID
		}
	}

	wake, err := r.watch(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer r.unwatch(userID, wake)

	// registered before reading, so an append after this read still wakes us
	msgs, err := r.After(ctx, userID, cursor, r.history)
	if err != nil || len(msgs) > 0 {
		return msgs, err
	}

	timer := time.NewTimer(block)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-wake:
	case <-timer.C:
	}
	return r.After(ctx, userID, cursor, r.history)
}

// Close stops the notification subscription
func (r *RedisPushStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub == nil {
		return nil
	}
	err := r.sub.Close()
	r.sub = nil
	return err
}

func (r *RedisPushStore) watch(ctx context.Context, userID string) (chan struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub == nil {
		sub := r.client.Subscribe(context.Background(), PushNotifyChannel)
		// wait for the subscription to be confirmed before relying on it
		if _, err := sub.Receive(ctx); err != nil {
			_ = sub.Close()
			return nil, fmt.Errorf("failed to subscribe to push notifications: %w", err)
		}
		r.sub = sub
		go r.fanOut(sub)
	}
	wake := make(chan struct{}, 1)
	set, ok := r.waiters[userID]
	if !ok {
		set = make(map[chan struct{}]struct{})
		r.waiters[userID] = set
	}
	set[wake] = struct{}{}
	return wake, nil
}

func (r *RedisPushStore) unwatch(userID string, wake chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.waiters[userID]
	delete(set, wake)
	if len(set) == 0 {
		delete(r.waiters, userID)
	}
}

func (r *RedisPushStore) fanOut(sub *redis.PubSub) {
	for msg := range sub.Channel() {
		r.mu.Lock()
		for wake := range r.waiters[msg.Payload] {
			select {
			case wake <- struct{}{}:
			default:
			}
		}
		r.mu.Unlock()
	}
}

// validCursor accepts stream ids of the form <ms>-<seq>
func validCursor(cursor string) bool {
	ms, seq, ok := strings.Cut(cursor, "-")
	if !ok {
		return false
	}
	if _, err := strconv.ParseUint(ms, 10, 64); err != nil {
		return false
	}
	_, err := strconv.ParseUint(seq, 10, 64)
	return err == nil
}

func decodePush(msgs []redis.XMessage) []*domain.PushMessage {
	out := make([]*domain.PushMessage, 0, len(msgs))
	for _, m := range msgs {
		raw, _ := m.Values[pushField].(string)
		var pm domain.PushMessage
		if err := json.Unmarshal([]byte(raw), &pm); err != nil {
			continue
		}
		pm.ID = m.ID
		out = append(out, &pm)
	}
	return out
}
