package repository

import (
	"context"
	"time"

	"github.com/prohmpiriya/booking-rush-gate/internal/domain"
)

// JoinOutcome is what the join primitive did
type JoinOutcome string

const (
	JoinCreated  JoinOutcome = "JOINED"
	JoinWaiting  JoinOutcome = "WAITING"
	JoinPromoted JoinOutcome = "PROMOTED"
)

// JoinResult is the result of appending to a waiting log
type JoinResult struct {
	Outcome JoinOutcome
	Entry   domain.WaitingEntry
	// Token and TokenTTL are set when the user already holds a slot
	Token    string
	TokenTTL time.Duration
}

// Snapshot is a consistent read of a user's state for one event
type Snapshot struct {
	Status   domain.AdmissionStatus
	Entry    domain.WaitingEntry
	HeadSeq  int64
	Token    string
	TokenTTL time.Duration
}

// PromoteParams carries everything the promote primitive writes
type PromoteParams struct {
	Entry          domain.WaitingEntry
	Token          *domain.EntryToken
	DefaultCeiling int
	Push           *domain.PushMessage
}

// PromoteResult is the promote primitive's decision
type PromoteResult struct {
	Outcome domain.PromoteOutcome
	// Active is the counter after a promotion, or its value at capacity
	Active  int64
	Ceiling int64
	PushID  string
	// Reason explains a rejection (duplicate, stale)
	Reason string
	// HolderEventID is set for EXPIRY_PENDING
	HolderEventID string
}

// WaitingLog is the per-event ordered log with consumer-group delivery
type WaitingLog interface {
	Join(ctx context.Context, eventID, userID string, now time.Time) (*JoinResult, error)
	Snapshot(ctx context.Context, eventID, userID string) (*Snapshot, error)
	Length(ctx context.Context, eventID string) (int64, error)
	Events(ctx context.Context) ([]string, error)

	EnsureGroup(ctx context.Context, eventID string) error
	// Claim takes over entries other consumers left idle past minIdle
	Claim(ctx context.Context, eventID, consumer string, minIdle time.Duration, count int64) ([]domain.WaitingEntry, error)
	// ReadPending re-reads this consumer's delivered but unacknowledged entries
	ReadPending(ctx context.Context, eventID, consumer string, count int64) ([]domain.WaitingEntry, error)
	ReadNew(ctx context.Context, eventID, consumer string, count int64) ([]domain.WaitingEntry, error)
	// Heartbeat marks a consumer as live for ttl
	Heartbeat(ctx context.Context, consumer string, ttl time.Duration) error
	// PruneConsumers removes consumers whose heartbeat lapsed and that own
	// no pending entries
	PruneConsumers(ctx context.Context, eventID, keep string) ([]string, error)
	Promote(ctx context.Context, p PromoteParams) (*PromoteResult, error)
	// Ack drops an entry that is already gone from the log
	Ack(ctx context.Context, eventID, entryID string) error

	Wake(ctx context.Context, eventID string) error
	Wakeups(ctx context.Context) (<-chan string, func() error)
}

// ReleaseMode selects the guard the release primitive applies
type ReleaseMode string

const (
	// ReleaseExpired only releases when the mirrored token is already gone
	ReleaseExpired ReleaseMode = "expired"
	// ReleaseInvalidate releases when the mirrored token matches ExpectedToken
	ReleaseInvalidate ReleaseMode = "invalidate"
	// ReleaseRevoke releases unconditionally
	ReleaseRevoke ReleaseMode = "revoke"
)

// ReleaseParams identifies a slot to release
type ReleaseParams struct {
	UserID        string
	EventID       string
	Mode          ReleaseMode
	ExpectedToken string
	Push          *domain.PushMessage
}

// ReleaseResult reports what the release primitive did
type ReleaseResult struct {
	Released bool
	// Code is set when nothing was released (NO_HOLDER, TOKEN_LIVE, ...)
	Code      string
	Remaining int64
	PushID    string
	// Underflow is set when the counter was already at zero
	Underflow bool
}

// SlotStore holds capacity counters, token mirrors and slot holders
type SlotStore interface {
	Release(ctx context.Context, p ReleaseParams) (*ReleaseResult, error)
	Holder(ctx context.Context, userID string) (*domain.Holder, error)
	MirroredToken(ctx context.Context, userID string) (string, time.Duration, error)
	Active(ctx context.Context, eventID string) (int64, error)
	CeilingOverride(ctx context.Context, eventID string) (int64, bool, error)
	SetCeiling(ctx context.Context, eventID string, ceiling int64) error
	ScanHolders(ctx context.Context, fn func(userIDs []string) error) error
}

// SeatStore holds seat states and seat locks
type SeatStore interface {
	Register(ctx context.Context, eventID string, seatIDs []string) (int64, error)
	Select(ctx context.Context, eventID, userID string, seatIDs []string, ttl time.Duration) error
	Commit(ctx context.Context, eventID, userID, ticketID string, seatIDs []string, now time.Time) (*domain.Ticket, error)
	Release(ctx context.Context, eventID, userID string, seatIDs []string) ([]string, error)
	ReleaseExpired(ctx context.Context, eventID, seatID string) (bool, error)
	SeatMap(ctx context.Context, eventID string) ([]domain.Seat, error)
	ScanStaleLocks(ctx context.Context, fn func(eventID, seatID string) error) error
}

// PushStore is the per-user replayable message history
type PushStore interface {
	Append(ctx context.Context, userID string, msg *domain.PushMessage) (string, error)
	// After returns messages newer than cursor, or the latest one when cursor is empty
	After(ctx context.Context, userID, cursor string, count int64) ([]*domain.PushMessage, error)
	// Wait blocks up to block for messages newer than cursor
	Wait(ctx context.Context, userID, cursor string, block time.Duration) ([]*domain.PushMessage, error)
}

// TicketRepository persists committed tickets
type TicketRepository interface {
	// Save inserts the ticket, returning false when it already existed
	Save(ctx context.Context, ticket *domain.Ticket) (bool, error)
	GetByID(ctx context.Context, ticketID string) (*domain.Ticket, error)
}

// EventRepository reads the event catalog
type EventRepository interface {
	GetByID(ctx context.Context, eventID string) (*domain.Event, error)
}
