package domain

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// Seat state values stored per seat
const (
	SeatAvailable    = "available"
	SeatLockedPrefix = "locked:"
	SeatSoldPrefix   = "sold:"
)

var seatIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,32}$`)

// SeatStatus is the display form of a seat state
type SeatStatus string

const (
	SeatStatusAvailable SeatStatus = "available"
	SeatStatusLocked    SeatStatus = "locked"
	SeatStatusSold      SeatStatus = "sold"
)

// Seat is one entry of an event's seat map
type Seat struct {
	SeatID   string     `json:"seat_id"`
	Status   SeatStatus `json:"status"`
	HolderID string     `json:"holder_id,omitempty"`
	TicketID string     `json:"ticket_id,omitempty"`
}

// ParseSeat decodes a stored seat state
func ParseSeat(seatID, raw string) Seat {
	switch {
	case strings.HasPrefix(raw, SeatLockedPrefix):
		return Seat{SeatID: seatID, Status: SeatStatusLocked, HolderID: strings.TrimPrefix(raw, SeatLockedPrefix)}
	case strings.HasPrefix(raw, SeatSoldPrefix):
		return Seat{SeatID: seatID, Status: SeatStatusSold, TicketID: strings.TrimPrefix(raw, SeatSoldPrefix)}
	default:
		return Seat{SeatID: seatID, Status: SeatStatusAvailable}
	}
}

// NormalizeSeatIDs validates, de-duplicates and sorts seat ids
func NormalizeSeatIDs(seatIDs []string, max int) ([]string, error) {
	if len(seatIDs) == 0 {
		return nil, ErrNoSeats
	}
	seen := make(map[string]struct{}, len(seatIDs))
	out := make([]string, 0, len(seatIDs))
	for _, id := range seatIDs {
		id = strings.TrimSpace(id)
		if !seatIDPattern.MatchString(id) {
			return nil, ErrInvalidSeatID
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if max > 0 && len(out) > max {
		return nil, ErrTooManySeats
	}
	sort.Strings(out)
	return out, nil
}

// Reservation is a successful all-or-nothing seat selection
type Reservation struct {
	EventID   string    `json:"event_id"`
	UserID    string    `json:"user_id"`
	SeatIDs   []string  `json:"seat_ids"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Ticket is a committed seat set
type Ticket struct {
	TicketID    string    `json:"ticket_id"`
	EventID     string    `json:"event_id"`
	UserID      string    `json:"user_id"`
	SeatIDs     []string  `json:"seat_ids"`
	CommittedAt time.Time `json:"committed_at"`
	// Replayed is true when the seats were already committed to this ticket
	Replayed bool `json:"replayed"`
}
