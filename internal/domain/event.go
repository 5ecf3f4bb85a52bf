package domain

import "time"

// AdmissionEventType names an outbound admission event
type AdmissionEventType string

const (
	EventEntryPromoted   AdmissionEventType = "entry.promoted"
	EventEntryExpired    AdmissionEventType = "entry.expired"
	EventEntryRevoked    AdmissionEventType = "entry.revoked"
	EventTicketCommitted AdmissionEventType = "ticket.committed"
)

// AdmissionEvent is published to the broker for order, payment and
// reporting systems
type AdmissionEvent struct {
	ID         string             `json:"id"`
	Type       AdmissionEventType `json:"type"`
	EventID    string             `json:"event_id"`
	UserID     string             `json:"user_id"`
	TicketID   string             `json:"ticket_id,omitempty"`
	SeatIDs    []string           `json:"seat_ids,omitempty"`
	Reason     ExpiryReason       `json:"reason,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// Key partitions by event so consumers see one event's admissions in order
func (e *AdmissionEvent) Key() string {
	return e.EventID
}
