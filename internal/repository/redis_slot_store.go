package repository

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prohmpiriya/booking-rush-gate/internal/domain"
	pkgredis "github.com/prohmpiriya/booking-rush-gate/pkg/redis"
	"github.com/prohmpiriya/booking-rush-gate/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

//go:embed scripts/release_slot.lua
var releaseSlotScript string

const scriptReleaseSlot = "release_slot"

// RedisSlotStore implements SlotStore using Redis
type RedisSlotStore struct {
	client      *pkgredis.Client
	pushHistory int64
}

// NewRedisSlotStore creates a new RedisSlotStore
func NewRedisSlotStore(client *pkgredis.Client, pushHistory int64) *RedisSlotStore {
	if pushHistory <= 0 {
		pushHistory = 20
	}
	return &RedisSlotStore{client: client, pushHistory: pushHistory}
}

var _ SlotStore = (*RedisSlotStore)(nil)

// LoadScripts loads the release script into Redis
func (r *RedisSlotStore) LoadScripts(ctx context.Context) error {
	_, err := r.client.LoadScript(ctx, scriptReleaseSlot, releaseSlotScript)
	return err
}

// Release frees a user's slot at most once and pushes the closing message
func (r *RedisSlotStore) Release(ctx context.Context, p ReleaseParams) (*ReleaseResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.slot.release")
	defer span.End()
	span.SetAttributes(
		attribute.String("event_id", p.EventID),
		attribute.String("user_id", p.UserID),
		attribute.String("mode", string(p.Mode)),
	)

	payload := ""
	if p.Push != nil {
		b, err := json.Marshal(p.Push)
		if err != nil {
			return nil, telemetry.Fail(span, fmt.Errorf("failed to marshal push message: %w", err))
		}
		payload = string(b)
	}

	keys := []string{tokenKey(p.UserID), holderKey(p.UserID), capacityKey(p.EventID), pushKey(p.UserID)}
	cmd := r.client.EvalWithFallback(ctx, scriptReleaseSlot, releaseSlotScript, keys,
		p.EventID, string(p.Mode), p.ExpectedToken, r.pushHistory, payload, PushNotifyChannel, p.UserID)
	reply, err := parseReply(cmd, scriptReleaseSlot)
	if err != nil {
		return nil, telemetry.Fail(span, err)
	}
	span.SetAttributes(attribute.String("outcome", reply.code))

	switch reply.code {
	case "RELEASED":
		span.SetStatus(codes.Ok, "")
		return &ReleaseResult{Released: true, Remaining: reply.int(0), PushID: reply.str(1)}, nil
	case "UNDERFLOW":
		// holder was removed but the counter was already zero
		span.SetStatus(codes.Error, "capacity counter underflow")
		return &ReleaseResult{Released: true, Underflow: true, Remaining: 0, PushID: reply.str(1)}, nil
	default:
		span.SetStatus(codes.Ok, reply.code)
		return &ReleaseResult{Code: reply.code}, nil
	}
}

// Holder returns the slot holder record for a user, nil when absent
func (r *RedisSlotStore) Holder(ctx context.Context, userID string) (*domain.Holder, error) {
	vals, err := r.client.HGetAll(ctx, holderKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	if vals["event_id"] == "" {
		return nil, nil
	}
	ms, _ := strconv.ParseInt(vals["issued_at"], 10, 64)
	return &domain.Holder{UserID: userID, EventID: vals["event_id"], IssuedAt: time.UnixMilli(ms)}, nil
}

// MirroredToken returns the canonical token value and its remaining TTL
func (r *RedisSlotStore) MirroredToken(ctx context.Context, userID string) (string, time.Duration, error) {
	pipe := r.client.TxPipeline()
	get := pipe.Get(ctx, tokenKey(userID))
	pttl := pipe.PTTL(ctx, tokenKey(userID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, pkgredis.Nil) {
		return "", 0, err
	}
	token, err := get.Result()
	if errors.Is(err, pkgredis.Nil) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, err
	}
	return token, pttl.Val(), nil
}

// Active returns the event's capacity counter
func (r *RedisSlotStore) Active(ctx context.Context, eventID string) (int64, error) {
	n, err := r.client.Get(ctx, capacityKey(eventID)).Int64()
	if errors.Is(err, pkgredis.Nil) {
		return 0, nil
	}
	return n, err
}

// CeilingOverride returns an admin-set ceiling, if any
func (r *RedisSlotStore) CeilingOverride(ctx context.Context, eventID string) (int64, bool, error) {
	n, err := r.client.HGet(ctx, eventConfigKey(eventID), "max_concurrent").Int64()
	if errors.Is(err, pkgredis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// SetCeiling stores a per-event ceiling read by the promote primitive
func (r *RedisSlotStore) SetCeiling(ctx context.Context, eventID string, ceiling int64) error {
	return r.client.HSet(ctx, eventConfigKey(eventID),
		"max_concurrent", ceiling,
		"updated_at", time.Now().UnixMilli(),
	).Err()
}

// ScanHolders walks every slot holder
func (r *RedisSlotStore) ScanHolders(ctx context.Context, fn func(userIDs []string) error) error {
	return r.client.Scan(ctx, holderKeyPrefix+"*", 200, func(keys []string) error {
		ids := make([]string, 0, len(keys))
		for _, k := range keys {
			ids = append(ids, strings.TrimPrefix(k, holderKeyPrefix))
		}
		return fn(ids)
	})
}
