package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/booking-rush-gate/internal/domain"
	"github.com/prohmpiriya/booking-rush-gate/pkg/response"
)

// errorCode maps a domain error to a stable client-facing code
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrSeatConflict):
		return "SEAT_CONFLICT"
	case errors.Is(err, domain.ErrAtCapacity):
		return "AT_CAPACITY"
	case errors.Is(err, domain.ErrActiveElsewhere):
		return "ACTIVE_ELSEWHERE"
	case errors.Is(err, domain.ErrPartiallyCommitted):
		return "PARTIALLY_COMMITTED"
	case errors.Is(err, domain.ErrEntryTokenMissing):
		return "ENTRY_TOKEN_REQUIRED"
	case errors.Is(err, domain.ErrEntryTokenExpired):
		return "ENTRY_TOKEN_EXPIRED"
	case errors.Is(err, domain.ErrEntryTokenMismatch):
		return "ENTRY_TOKEN_SUPERSEDED"
	case errors.Is(err, domain.ErrEntryTokenEventMismatch):
		return "ENTRY_TOKEN_EVENT_MISMATCH"
	case errors.Is(err, domain.ErrEntryTokenUserMismatch):
		return "ENTRY_TOKEN_USER_MISMATCH"
	case errors.Is(err, domain.ErrInvalidEntryToken):
		return "INVALID_ENTRY_TOKEN"
	case errors.Is(err, domain.ErrSeatNotHeld):
		return "SEAT_NOT_HELD"
	case errors.Is(err, domain.ErrSeatLockExpired):
		return "SEAT_LOCK_EXPIRED"
	case errors.Is(err, domain.ErrInvalidUserID):
		return "INVALID_USER_ID"
	case errors.Is(err, domain.ErrInvalidEventID):
		return "INVALID_EVENT_ID"
	case errors.Is(err, domain.ErrInvalidSeatID):
		return "INVALID_SEAT_ID"
	case errors.Is(err, domain.ErrNoSeats), errors.Is(err, domain.ErrTooManySeats):
		return "INVALID_SEAT_SELECTION"
	case errors.Is(err, domain.ErrInvalidCapacity):
		return "INVALID_CAPACITY"
	case errors.Is(err, domain.ErrInvalidCursor):
		return "INVALID_CURSOR"
	case errors.Is(err, domain.ErrEventNotFound):
		return "EVENT_NOT_FOUND"
	case errors.Is(err, domain.ErrSeatNotFound):
		return "SEAT_NOT_FOUND"
	case errors.Is(err, domain.ErrNotInQueue):
		return "NOT_IN_QUEUE"
	case errors.Is(err, domain.ErrTicketNotFound):
		return "TICKET_NOT_FOUND"
	default:
		return "INTERNAL_ERROR"
	}
}

// errorStatus maps a domain error class to an HTTP status
func errorStatus(err error) int {
	switch {
	case domain.IsValidationError(err):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrEntryTokenMissing):
		return http.StatusUnauthorized
	case domain.IsCredentialError(err):
		return http.StatusForbidden
	case domain.IsContentionError(err):
		return http.StatusConflict
	case domain.IsNotFoundError(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// handleError writes the error envelope for err. Internal errors are hidden
// from the client and attached to the context for the access log.
func handleError(c *gin.Context, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		response.InternalError(c, err)
		return
	}
	response.Error(c, status, errorCode(err), err.Error(), "")
}
