package dto

import (
	"time"

	"github.com/prohmpiriya/booking-rush-gate/internal/domain"
)

// SeatsRequest carries a seat selection for select, release and commit
type SeatsRequest struct {
	SeatIDs []string `json:"seat_ids" binding:"required,min=1"`
}

// ReservationResponse represents a successful seat selection
type ReservationResponse struct {
	EventID   string    `json:"event_id"`
	SeatIDs   []string  `json:"seat_ids"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ReleaseSeatsResponse lists the seats that went back to available
type ReleaseSeatsResponse struct {
	EventID  string   `json:"event_id"`
	Released []string `json:"released"`
}

// TicketResponse represents a committed ticket
type TicketResponse struct {
	TicketID    string    `json:"ticket_id"`
	EventID     string    `json:"event_id"`
	SeatIDs     []string  `json:"seat_ids"`
	CommittedAt time.Time `json:"committed_at"`
	Replayed    bool      `json:"replayed"`
}

// FromReservation converts a domain reservation
func FromReservation(r *domain.Reservation) *ReservationResponse {
	return &ReservationResponse{
		EventID:   r.EventID,
		SeatIDs:   r.SeatIDs,
		Status:    "RESERVED",
		ExpiresAt: r.ExpiresAt,
	}
}

// FromTicket converts a domain ticket
func FromTicket(t *domain.Ticket) *TicketResponse {
	return &TicketResponse{
		TicketID:    t.TicketID,
		EventID:     t.EventID,
		SeatIDs:     t.SeatIDs,
		CommittedAt: t.CommittedAt,
		Replayed:    t.Replayed,
	}
}
