package domain

import (
	"regexp"
	"time"
)

// AdmissionStatus is the client-visible state of a user for one event
type AdmissionStatus string

const (
	StatusWaiting    AdmissionStatus = "WAITING"
	StatusPromoted   AdmissionStatus = "PROMOTED"
	StatusExpired    AdmissionStatus = "EXPIRED"
	StatusNotInQueue AdmissionStatus = "NOT_IN_QUEUE"
)

// ExpiryReason says why an entry slot ended
type ExpiryReason string

const (
	ReasonTTL       ExpiryReason = "ttl"
	ReasonCompleted ExpiryReason = "completed"
	ReasonRevoked   ExpiryReason = "revoked"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateEventID rejects ids that cannot be embedded in a key name
func ValidateEventID(eventID string) error {
	if !idPattern.MatchString(eventID) {
		return ErrInvalidEventID
	}
	return nil
}

// ValidateUserID rejects empty or oversized user ids
func ValidateUserID(userID string) error {
	if userID == "" || len(userID) > 128 {
		return ErrInvalidUserID
	}
	return nil
}

// WaitingEntry is one participant in an event's waiting log
type WaitingEntry struct {
	EventID    string    `json:"event_id"`
	UserID     string    `json:"user_id"`
	Seq        int64     `json:"seq"`
	EntryID    string    `json:"entry_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// AdmissionState is what a client sees when it enters or polls
type AdmissionState struct {
	EventID    string          `json:"event_id"`
	UserID     string          `json:"user_id"`
	Status     AdmissionStatus `json:"status"`
	Seq        int64           `json:"seq,omitempty"`
	Rank       int64           `json:"rank"`
	EntryToken string          `json:"entry_token,omitempty"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
	// EstimatedWaitSeconds is a display hint only
	EstimatedWaitSeconds int64 `json:"estimated_wait_seconds,omitempty"`
	// Cursor is the newest push message id, usable as Last-Event-ID
	Cursor string `json:"cursor,omitempty"`
	// Rejoined is true when the call returned existing state
	Rejoined bool `json:"rejoined"`
}

// Rank derives a 0-based position from sequence numbers
func Rank(seq, headSeq int64) int64 {
	if headSeq <= 0 || seq < headSeq {
		return 0
	}
	return seq - headSeq
}

// QueueStatus summarizes one event's admission pipeline
type QueueStatus struct {
	EventID       string `json:"event_id"`
	Waiting       int64  `json:"waiting"`
	Active        int64  `json:"active"`
	Ceiling       int64  `json:"ceiling"`
	EstimatedWait int64  `json:"estimated_wait_seconds"`
}

// PromoteOutcome is the Dispatcher's decision for one waiting entry
type PromoteOutcome string

const (
	OutcomePromoted      PromoteOutcome = "PROMOTED"
	OutcomeAtCapacity    PromoteOutcome = "AT_CAPACITY"
	OutcomeNotHead       PromoteOutcome = "NOT_HEAD"
	OutcomeRejected      PromoteOutcome = "REJECTED"
	OutcomeGone          PromoteOutcome = "GONE"
	OutcomeExpiryPending PromoteOutcome = "EXPIRY_PENDING"
)

// Terminal reports whether the log entry has been consumed
func (o PromoteOutcome) Terminal() bool {
	return o == OutcomePromoted || o == OutcomeRejected || o == OutcomeGone
}

// Event is the slice of the event catalog the pipeline depends on
type Event struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	// MaxConcurrentEntries is the catalog's capacity ceiling, 0 means use the default
	MaxConcurrentEntries int       `json:"max_concurrent_entries"`
	SaleStartsAt         time.Time `json:"sale_starts_at"`
}

// Ceiling returns the event's ceiling with a fallback
func (e *Event) Ceiling(fallback int) int {
	if e == nil || e.MaxConcurrentEntries <= 0 {
		return fallback
	}
	return e.MaxConcurrentEntries
}
