package domain

import "time"

// PushKind distinguishes status messages from keep-alives
type PushKind string

const (
	PushStatus    PushKind = "status"
	PushHeartbeat PushKind = "heartbeat"
)

// PushMessage is one server-to-client message on a user's channel
type PushMessage struct {
	// ID is the channel cursor; empty for heartbeats, which are not replayable
	ID         string          `json:"id,omitempty"`
	Kind       PushKind        `json:"kind"`
	EventID    string          `json:"event_id,omitempty"`
	Status     AdmissionStatus `json:"status,omitempty"`
	Rank       int64           `json:"rank,omitempty"`
	EntryToken string          `json:"entry_token,omitempty"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
	Reason     ExpiryReason    `json:"reason,omitempty"`
	At         time.Time       `json:"at"`
}

// WaitingMessage builds a WAITING status message
func WaitingMessage(eventID string, rank int64, at time.Time) *PushMessage {
	return &PushMessage{Kind: PushStatus, EventID: eventID, Status: StatusWaiting, Rank: rank, At: at}
}

// PromotedMessage builds a PROMOTED status message carrying the token
func PromotedMessage(t *EntryToken) *PushMessage {
	exp := t.ExpiresAt
	return &PushMessage{
		Kind:       PushStatus,
		EventID:    t.EventID,
		Status:     StatusPromoted,
		EntryToken: t.Token,
		ExpiresAt:  &exp,
		At:         t.IssuedAt,
	}
}

// ExpiredMessage builds an EXPIRED status message
func ExpiredMessage(eventID string, reason ExpiryReason, at time.Time) *PushMessage {
	return &PushMessage{Kind: PushStatus, EventID: eventID, Status: StatusExpired, Reason: reason, At: at}
}
