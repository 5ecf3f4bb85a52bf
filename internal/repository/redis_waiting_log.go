package repository

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prohmpiriya/booking-rush-gate/internal/domain"
	pkgredis "github.com/prohmpiriya/booking-rush-gate/pkg/redis"
	"github.com/prohmpiriya/booking-rush-gate/pkg/telemetry"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

//go:embed scripts/join.lua
var joinScript string

//go:embed scripts/status.lua
var statusScript string

//go:embed scripts/promote.lua
var promoteScript string

//go:embed scripts/prune_consumer.lua
var pruneConsumerScript string

const (
	scriptJoin          = "join"
	scriptStatus        = "status"
	scriptPromote       = "promote"
	scriptPruneConsumer = "prune_consumer"
)

// ErrExpiryPending is returned when a user's token expired but its slot has
// not been released yet; the caller releases it and retries
type ErrExpiryPending struct {
	EventID string
}

func (e *ErrExpiryPending) Error() string {
	return fmt.Sprintf("entry slot for event %s awaits expiry processing", e.EventID)
}

// RedisWaitingLog implements WaitingLog on Redis Streams
type RedisWaitingLog struct {
	client      *pkgredis.Client
	pushHistory int64
}

// NewRedisWaitingLog creates a new RedisWaitingLog
func NewRedisWaitingLog(client *pkgredis.Client, pushHistory int64) *RedisWaitingLog {
	if pushHistory <= 0 {
		pushHistory = 20
	}
	return &RedisWaitingLog{client: client, pushHistory: pushHistory}
}

var _ WaitingLog = (*RedisWaitingLog)(nil)

// LoadScripts loads the waiting log Lua scripts into Redis
func (r *RedisWaitingLog) LoadScripts(ctx context.Context) error {
	scripts := map[string]string{
		scriptJoin:          joinScript,
		scriptStatus:        statusScript,
		scriptPromote:       promoteScript,
		scriptPruneConsumer: pruneConsumerScript,
	}
	for name, script := range scripts {
		if _, err := r.client.LoadScript(ctx, name, script); err != nil {
			return err
		}
	}
	return nil
}

// Join appends a user to the event's log unless they are already waiting or
// already hold a slot
func (r *RedisWaitingLog) Join(ctx context.Context, eventID, userID string, now time.Time) (*JoinResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.waiting.join")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", eventID), attribute.String("user_id", userID))

	keys := []string{
		waitStreamKey(eventID),
		waitSeqKey(eventID),
		memberKey(eventID, userID),
		tokenKey(userID),
		holderKey(userID),
		activeEventsKey,
	}
	cmd := r.client.EvalWithFallback(ctx, scriptJoin, joinScript, keys, eventID, userID, now.UnixMilli())
	reply, err := parseReply(cmd, scriptJoin)
	if err != nil {
		return nil, telemetry.Fail(span, err)
	}
	span.SetAttributes(attribute.String("outcome", reply.code))

	if !reply.ok {
		switch reply.code {
		case "EXPIRY_PENDING":
			return nil, &ErrExpiryPending{EventID: reply.str(0)}
		case "ACTIVE_ELSEWHERE":
			return nil, domain.ErrActiveElsewhere
		}
		return nil, telemetry.Fail(span, fmt.Errorf("join: unexpected code %s", reply.code))
	}

	res := &JoinResult{Outcome: JoinOutcome(reply.code)}
	switch res.Outcome {
	case JoinPromoted:
		res.Token = reply.str(0)
		res.TokenTTL = time.Duration(reply.int(1)) * time.Millisecond
	default:
		res.Entry = domain.WaitingEntry{
			EventID:    eventID,
			UserID:     userID,
			EntryID:    reply.str(0),
			Seq:        reply.int(1),
			EnqueuedAt: time.UnixMilli(reply.int(2)),
		}
	}
	span.SetStatus(codes.Ok, "")
	return res, nil
}

// Snapshot reads a user's state and the head sequence in one script
func (r *RedisWaitingLog) Snapshot(ctx context.Context, eventID, userID string) (*Snapshot, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.waiting.snapshot")
	defer span.End()

	keys := []string{waitStreamKey(eventID), memberKey(eventID, userID), tokenKey(userID), holderKey(userID)}
	reply, err := parseReply(r.client.EvalWithFallback(ctx, scriptStatus, statusScript, keys, eventID), scriptStatus)
	if err != nil {
		return nil, telemetry.Fail(span, err)
	}

	switch reply.code {
	case "WAITING":
		return &Snapshot{
			Status: domain.StatusWaiting,
			Entry: domain.WaitingEntry{
				EventID:    eventID,
				UserID:     userID,
				EntryID:    reply.str(0),
				Seq:        reply.int(1),
				EnqueuedAt: time.UnixMilli(reply.int(2)),
			},
			HeadSeq: reply.int(3),
		}, nil
	case "PROMOTED":
		return &Snapshot{
			Status:   domain.StatusPromoted,
			Token:    reply.str(0),
			TokenTTL: time.Duration(reply.int(1)) * time.Millisecond,
		}, nil
	default:
		return &Snapshot{Status: domain.StatusNotInQueue}, nil
	}
}

// Length returns the number of entries still in the log
func (r *RedisWaitingLog) Length(ctx context.Context, eventID string) (int64, error) {
	return r.client.XLen(ctx, waitStreamKey(eventID)).Result()
}

// Events lists events that have a waiting log
func (r *RedisWaitingLog) Events(ctx context.Context) ([]string, error) {
	return r.client.SMembers(ctx, activeEventsKey).Result()
}

// EnsureGroup creates the dispatcher group for an event's log
func (r *RedisWaitingLog) EnsureGroup(ctx context.Context, eventID string) error {
	return r.client.EnsureGroup(ctx, waitStreamKey(eventID), DispatcherGroup)
}

// Claim reassigns entries idle longer than minIdle to consumer
func (r *RedisWaitingLog) Claim(ctx context.Context, eventID, consumer string, minIdle time.Duration, count int64) ([]domain.WaitingEntry, error) {
	msgs, err := r.client.XAutoClaim(ctx, waitStreamKey(eventID), DispatcherGroup, consumer, minIdle, count)
	if err != nil {
		return nil, fmt.Errorf("failed to claim idle entries: %w", err)
	}
	return toEntries(eventID, msgs), nil
}

// Heartbeat marks consumer as live for ttl
func (r *RedisWaitingLog) Heartbeat(ctx context.Context, consumer string, ttl time.Duration) error {
	if err := r.client.Set(ctx, consumerKey(consumer), time.Now().UnixMilli(), ttl).Err(); err != nil {
		return fmt.Errorf("failed to renew consumer heartbeat: %w", err)
	}
	return nil
}

// PruneConsumers removes group consumers other than keep whose heartbeat has
// lapsed and that own no pending entries, returning their names
func (r *RedisWaitingLog) PruneConsumers(ctx context.Context, eventID, keep string) ([]string, error) {
	consumers, err := r.client.XInfoConsumers(ctx, waitStreamKey(eventID), DispatcherGroup)
	if err != nil {
		return nil, fmt.Errorf("failed to list consumers: %w", err)
	}

	var removed []string
	for _, c := range consumers {
		if c.Name == keep || c.Pending > 0 {
			continue
		}
		cmd := r.client.EvalWithFallback(ctx, scriptPruneConsumer, pruneConsumerScript,
			[]string{waitStreamKey(eventID), consumerKey(c.Name)}, DispatcherGroup, c.Name)
		reply, err := parseReply(cmd, scriptPruneConsumer)
		if err != nil {
			return removed, err
		}
		if reply.ok {
			removed = append(removed, c.Name)
		}
	}
	return removed, nil
}

// ReadPending re-reads entries delivered to consumer and not yet acknowledged
func (r *RedisWaitingLog) ReadPending(ctx context.Context, eventID, consumer string, count int64) ([]domain.WaitingEntry, error) {
	msgs, err := r.client.XReadGroup(ctx, waitStreamKey(eventID), DispatcherGroup, consumer, "0", count)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending entries: %w", err)
	}
	return toEntries(eventID, msgs), nil
}

// ReadNew delivers never-delivered entries to consumer
func (r *RedisWaitingLog) ReadNew(ctx context.Context, eventID, consumer string, count int64) ([]domain.WaitingEntry, error) {
	msgs, err := r.client.XReadGroup(ctx, waitStreamKey(eventID), DispatcherGroup, consumer, ">", count)
	if err != nil {
		return nil, fmt.Errorf("failed to read new entries: %w", err)
	}
	return toEntries(eventID, msgs), nil
}

// Promote runs the atomic head-check, capacity test-and-increment, token
// mirror write, push and acknowledgement
func (r *RedisWaitingLog) Promote(ctx context.Context, p PromoteParams) (*PromoteResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.waiting.promote")
	defer span.End()
	span.SetAttributes(
		attribute.String("event_id", p.Entry.EventID),
		attribute.String("user_id", p.Entry.UserID),
		attribute.String("entry_id", p.Entry.EntryID),
	)

	payload, err := json.Marshal(p.Push)
	if err != nil {
		return nil, telemetry.Fail(span, fmt.Errorf("failed to marshal push message: %w", err))
	}

	e := p.Entry
	keys := []string{
		waitStreamKey(e.EventID),
		memberKey(e.EventID, e.UserID),
		capacityKey(e.EventID),
		tokenKey(e.UserID),
		holderKey(e.UserID),
		pushKey(e.UserID),
		eventConfigKey(e.EventID),
	}
	ttl := time.Until(p.Token.ExpiresAt)
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	args := []interface{}{
		DispatcherGroup,
		e.EntryID,
		e.EventID,
		p.Token.Token,
		ttl.Milliseconds(),
		p.DefaultCeiling,
		p.Token.IssuedAt.UnixMilli(),
		r.pushHistory,
		string(payload),
		PushNotifyChannel,
		e.UserID,
	}

	reply, err := parseReply(r.client.EvalWithFallback(ctx, scriptPromote, promoteScript, keys, args...), scriptPromote)
	if err != nil {
		return nil, telemetry.Fail(span, err)
	}

	res := &PromoteResult{Outcome: domain.PromoteOutcome(reply.code)}
	switch res.Outcome {
	case domain.OutcomePromoted:
		res.Active = reply.int(0)
		res.Ceiling = reply.int(1)
		res.PushID = reply.str(2)
	case domain.OutcomeAtCapacity:
		res.Active = reply.int(0)
		res.Ceiling = reply.int(1)
	case domain.OutcomeRejected:
		res.Reason = reply.str(0)
	case domain.OutcomeExpiryPending:
		res.HolderEventID = reply.str(0)
	case domain.OutcomeNotHead, domain.OutcomeGone:
	default:
		return nil, telemetry.Fail(span, fmt.Errorf("promote: unexpected code %s", reply.code))
	}
	span.SetAttributes(attribute.String("outcome", reply.code))
	span.SetStatus(codes.Ok, "")
	return res, nil
}

// Ack removes an entry from the pending list
func (r *RedisWaitingLog) Ack(ctx context.Context, eventID, entryID string) error {
	return r.client.XAckDel(ctx, waitStreamKey(eventID), DispatcherGroup, entryID)
}

// Wake nudges dispatchers to look at an event now
func (r *RedisWaitingLog) Wake(ctx context.Context, eventID string) error {
	return r.client.Publish(ctx, WakeupChannel, eventID).Err()
}

// Wakeups subscribes to dispatcher nudges. The returned func closes the
// subscription.
func (r *RedisWaitingLog) Wakeups(ctx context.Context) (<-chan string, func() error) {
	sub := r.client.Subscribe(ctx, WakeupChannel)
	out := make(chan string, 64)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			select {
			case out <- msg.Payload:
			default:
				// a pending nudge for the same tick is enough
			}
		}
	}()
	return out, sub.Close
}

func toEntries(eventID string, msgs []redis.XMessage) []domain.WaitingEntry {
	entries := make([]domain.WaitingEntry, 0, len(msgs))
	for _, m := range msgs {
		e := domain.WaitingEntry{EventID: eventID, EntryID: m.ID}
		// deleted entries come back from the pending list with no fields
		if m.Values != nil {
			e.UserID, _ = m.Values["user_id"].(string)
			if s, ok := m.Values["seq"].(string); ok {
				e.Seq, _ = strconv.ParseInt(s, 10, 64)
			}
			if s, ok := m.Values["enqueued_at"].(string); ok {
				ms, _ := strconv.ParseInt(s, 10, 64)
				e.EnqueuedAt = time.UnixMilli(ms)
			}
		}
		entries = append(entries, e)
	}
	return entries
}

// IsExpiryPending unwraps an ErrExpiryPending
func IsExpiryPending(err error) (*ErrExpiryPending, bool) {
	var ep *ErrExpiryPending
	if errors.As(err, &ep) {
		return ep, true
	}
	return nil, false
}
