package repository

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prohmpiriya/booking-rush-gate/internal/domain"
	pkgredis "github.com/prohmpiriya/booking-rush-gate/pkg/redis"
	"github.com/prohmpiriya/booking-rush-gate/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

//go:embed scripts/seat_select.lua
var seatSelectScript string

//go:embed scripts/seat_commit.lua
var seatCommitScript string

//go:embed scripts/seat_release.lua
var seatReleaseScript string

//go:embed scripts/seat_release_expired.lua
var seatReleaseExpiredScript string

const (
	scriptSeatSelect         = "seat_select"
	scriptSeatCommit         = "seat_commit"
	scriptSeatRelease        = "seat_release"
	scriptSeatReleaseExpired = "seat_release_expired"
)

// SeatError names the seat that made an operation fail
type SeatError struct {
	SeatID string
	Err    error
}

func (e *SeatError) Error() string { return fmt.Sprintf("seat %s: %v", e.SeatID, e.Err) }
func (e *SeatError) Unwrap() error { return e.Err }

// RedisSeatStore implements SeatStore using Redis
type RedisSeatStore struct {
	client *pkgredis.Client
}

// NewRedisSeatStore creates a new RedisSeatStore
func NewRedisSeatStore(client *pkgredis.Client) *RedisSeatStore {
	return &RedisSeatStore{client: client}
}

var _ SeatStore = (*RedisSeatStore)(nil)

// LoadScripts loads all seat Lua scripts into Redis
func (r *RedisSeatStore) LoadScripts(ctx context.Context) error {
	scripts := map[string]string{
		scriptSeatSelect:         seatSelectScript,
		scriptSeatCommit:         seatCommitScript,
		scriptSeatRelease:        seatReleaseScript,
		scriptSeatReleaseExpired: seatReleaseExpiredScript,
	}
	for name, script := range scripts {
		if _, err := r.client.LoadScript(ctx, name, script); err != nil {
			return err
		}
	}
	return nil
}

// Register adds seats as available, leaving existing seats untouched
func (r *RedisSeatStore) Register(ctx context.Context, eventID string, seatIDs []string) (int64, error) {
	pipe := r.client.TxPipeline()
	cmds := make([]interface{ Val() bool }, 0, len(seatIDs))
	for _, s := range seatIDs {
		cmds = append(cmds, pipe.HSetNX(ctx, seatKey(eventID), s, domain.SeatAvailable))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to register seats: %w", err)
	}
	var added int64
	for _, c := range cmds {
		if c.Val() {
			added++
		}
	}
	return added, nil
}

// Select locks every seat for userID or returns a SeatError without changes
func (r *RedisSeatStore) Select(ctx context.Context, eventID, userID string, seatIDs []string, ttl time.Duration) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.seat.select")
	defer span.End()
	span.SetAttributes(
		attribute.String("event_id", eventID),
		attribute.String("user_id", userID),
		attribute.StringSlice("seat_ids", seatIDs),
	)

	keys := make([]string, 0, len(seatIDs)+1)
	keys = append(keys, seatKey(eventID))
	args := make([]interface{}, 0, len(seatIDs)+2)
	args = append(args, userID, ttl.Milliseconds())
	for _, s := range seatIDs {
		keys = append(keys, seatLockKey(eventID, s))
		args = append(args, s)
	}

	reply, err := parseReply(r.client.EvalWithFallback(ctx, scriptSeatSelect, seatSelectScript, keys, args...), scriptSeatSelect)
	if err != nil {
		return telemetry.Fail(span, err)
	}
	if !reply.ok {
		span.SetAttributes(attribute.String("error_code", reply.code))
		span.SetStatus(codes.Error, reply.code)
		return seatError(reply)
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// Commit turns the user's locks into a ticket, or returns the ticket the
// seats were already committed to
func (r *RedisSeatStore) Commit(ctx context.Context, eventID, userID, ticketID string, seatIDs []string, now time.Time) (*domain.Ticket, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.seat.commit")
	defer span.End()
	span.SetAttributes(
		attribute.String("event_id", eventID),
		attribute.String("user_id", userID),
		attribute.String("ticket_id", ticketID),
	)

	keys := make([]string, 0, len(seatIDs)+2)
	keys = append(keys, seatKey(eventID), ticketsKey(eventID))
	args := make([]interface{}, 0, len(seatIDs)+4)
	args = append(args, userID, ticketID, now.UnixMilli(), strings.Join(seatIDs, ","))
	for _, s := range seatIDs {
		keys = append(keys, seatLockKey(eventID, s))
		args = append(args, s)
	}

	reply, err := parseReply(r.client.EvalWithFallback(ctx, scriptSeatCommit, seatCommitScript, keys, args...), scriptSeatCommit)
	if err != nil {
		return nil, telemetry.Fail(span, err)
	}
	if !reply.ok {
		span.SetAttributes(attribute.String("error_code", reply.code))
		span.SetStatus(codes.Error, reply.code)
		return nil, seatError(reply)
	}

	span.SetStatus(codes.Ok, reply.code)
	return &domain.Ticket{
		TicketID:    reply.str(0),
		EventID:     eventID,
		UserID:      userID,
		SeatIDs:     seatIDs,
		CommittedAt: time.UnixMilli(reply.int(1)),
		Replayed:    reply.code == "ALREADY",
	}, nil
}

// Release frees the seats this user holds and returns the ones released
func (r *RedisSeatStore) Release(ctx context.Context, eventID, userID string, seatIDs []string) ([]string, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.seat.release")
	defer span.End()

	keys := make([]string, 0, len(seatIDs)+1)
	keys = append(keys, seatKey(eventID))
	args := make([]interface{}, 0, len(seatIDs)+1)
	args = append(args, userID)
	for _, s := range seatIDs {
		keys = append(keys, seatLockKey(eventID, s))
		args = append(args, s)
	}

	reply, err := parseReply(r.client.EvalWithFallback(ctx, scriptSeatRelease, seatReleaseScript, keys, args...), scriptSeatRelease)
	if err != nil {
		return nil, telemetry.Fail(span, err)
	}
	var released []string
	if len(reply.values) > 0 {
		if list, ok := reply.values[0].([]interface{}); ok {
			for _, v := range list {
				if s, ok := v.(string); ok {
					released = append(released, s)
				}
			}
		}
	}
	span.SetAttributes(attribute.Int("released", len(released)))
	return released, nil
}

// ReleaseExpired reverts a seat whose lock key is gone
func (r *RedisSeatStore) ReleaseExpired(ctx context.Context, eventID, seatID string) (bool, error) {
	keys := []string{seatKey(eventID), seatLockKey(eventID, seatID)}
	reply, err := parseReply(r.client.EvalWithFallback(ctx, scriptSeatReleaseExpired, seatReleaseExpiredScript, keys, seatID), scriptSeatReleaseExpired)
	if err != nil {
		return false, err
	}
	return reply.ok, nil
}

// SeatMap returns every seat of an event sorted by id
func (r *RedisSeatStore) SeatMap(ctx context.Context, eventID string) ([]domain.Seat, error) {
	raw, err := r.client.HGetAll(ctx, seatKey(eventID)).Result()
	if err != nil {
		return nil, err
	}
	seats := make([]domain.Seat, 0, len(raw))
	for id, state := range raw {
		seats = append(seats, domain.ParseSeat(id, state))
	}
	sort.Slice(seats, func(i, j int) bool { return seats[i].SeatID < seats[j].SeatID })
	return seats, nil
}

// ScanStaleLocks calls fn for each seat marked locked whose lock key is gone
func (r *RedisSeatStore) ScanStaleLocks(ctx context.Context, fn func(eventID, seatID string) error) error {
	return r.client.Scan(ctx, seatKeyPrefix+"*", 100, func(keys []string) error {
		for _, key := range keys {
			eventID := strings.TrimPrefix(key, seatKeyPrefix)
			seats, err := r.client.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}
			for seatID, state := range seats {
				if !strings.HasPrefix(state, domain.SeatLockedPrefix) {
					continue
				}
				n, err := r.client.Exists(ctx, seatLockKey(eventID, seatID)).Result()
				if err != nil {
					return err
				}
				if n == 0 {
					if err := fn(eventID, seatID); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
}

func seatError(reply *scriptReply) error {
	seat := reply.str(0)
	switch reply.code {
	case "SEAT_CONFLICT":
		return &SeatError{SeatID: seat, Err: domain.ErrSeatConflict}
	case "SEAT_NOT_FOUND":
		return &SeatError{SeatID: seat, Err: domain.ErrSeatNotFound}
	case "NOT_HELD":
		return &SeatError{SeatID: seat, Err: domain.ErrSeatNotHeld}
	case "LOCK_EXPIRED":
		return &SeatError{SeatID: seat, Err: domain.ErrSeatLockExpired}
	case "PARTIAL":
		return &SeatError{SeatID: seat, Err: domain.ErrPartiallyCommitted}
	default:
		return fmt.Errorf("seat script: unexpected code %s", reply.code)
	}
}
