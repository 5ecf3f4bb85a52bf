package dto

import (
	"time"

	"github.com/prohmpiriya/booking-rush-gate/internal/domain"
)

// AdmissionStateResponse is returned by enter and state polling
type AdmissionStateResponse struct {
	EventID       string     `json:"event_id"`
	Status        string     `json:"status"`
	Rank          int64      `json:"rank"`
	EstimatedWait int64      `json:"estimated_wait_seconds"`
	EntryToken    string     `json:"entry_token,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Cursor        string     `json:"cursor,omitempty"`
	Rejoined      bool       `json:"rejoined"`
}

// QueueStatusResponse represents queue status for an event
type QueueStatusResponse struct {
	EventID       string `json:"event_id"`
	Waiting       int64  `json:"waiting"`
	Active        int64  `json:"active"`
	Ceiling       int64  `json:"ceiling"`
	EstimatedWait int64  `json:"estimated_wait_seconds"`
}

// FromAdmissionState converts a domain state to its response
func FromAdmissionState(s *domain.AdmissionState) *AdmissionStateResponse {
	return &AdmissionStateResponse{
		EventID:       s.EventID,
		Status:        string(s.Status),
		Rank:          s.Rank,
		EstimatedWait: s.EstimatedWaitSeconds,
		EntryToken:    s.EntryToken,
		ExpiresAt:     s.ExpiresAt,
		Cursor:        s.Cursor,
		Rejoined:      s.Rejoined,
	}
}

// FromQueueStatus converts a domain queue status to its response
func FromQueueStatus(s *domain.QueueStatus) *QueueStatusResponse {
	return &QueueStatusResponse{
		EventID:       s.EventID,
		Waiting:       s.Waiting,
		Active:        s.Active,
		Ceiling:       s.Ceiling,
		EstimatedWait: s.EstimatedWait,
	}
}
