package dto

import "github.com/prohmpiriya/booking-rush-gate/internal/domain"

// SetCapacityRequest sets an event's concurrent entry ceiling
type SetCapacityRequest struct {
	MaxConcurrent int64 `json:"max_concurrent" binding:"required,min=1"`
}

// CapacityResponse echoes the stored ceiling
type CapacityResponse struct {
	EventID       string `json:"event_id"`
	MaxConcurrent int64  `json:"max_concurrent"`
	Active        int64  `json:"active"`
}

// RegisterSeatsResponse reports how many seats were new
type RegisterSeatsResponse struct {
	EventID string `json:"event_id"`
	Added   int64  `json:"added"`
}

// SeatMapResponse lists an event's seats
type SeatMapResponse struct {
	EventID   string        `json:"event_id"`
	Available int           `json:"available"`
	Locked    int           `json:"locked"`
	Sold      int           `json:"sold"`
	Seats     []domain.Seat `json:"seats"`
}

// RevokeResponse reports whether a slot was released
type RevokeResponse struct {
	UserID   string `json:"user_id"`
	EventID  string `json:"event_id,omitempty"`
	Released bool   `json:"released"`
}

// NewSeatMapResponse counts seats by status
func NewSeatMapResponse(eventID string, seats []domain.Seat) *SeatMapResponse {
	resp := &SeatMapResponse{EventID: eventID, Seats: seats}
	for _, s := range seats {
		switch s.Status {
		case domain.SeatStatusAvailable:
			resp.Available++
		case domain.SeatStatusLocked:
			resp.Locked++
		case domain.SeatStatusSold:
			resp.Sold++
		}
	}
	return resp
}
