package domain

import "errors"

// Domain errors, grouped by how callers are expected to react
var (
	// Contention: expected under load, the caller may retry or pick again
	ErrSeatConflict       = errors.New("one or more seats are not available")
	ErrAtCapacity         = errors.New("event is at entry capacity")
	ErrActiveElsewhere    = errors.New("user already holds an entry slot for another event")
	ErrPartiallyCommitted = errors.New("seat set overlaps a different committed ticket")

	// Invalid credential: the caller must re-enter the waiting room
	ErrEntryTokenMissing       = errors.New("entry token is required")
	ErrInvalidEntryToken       = errors.New("invalid entry token")
	ErrEntryTokenExpired       = errors.New("entry token has expired or was revoked")
	ErrEntryTokenMismatch      = errors.New("entry token does not match the active session")
	ErrEntryTokenEventMismatch = errors.New("entry token is for a different event")
	ErrEntryTokenUserMismatch  = errors.New("entry token does not belong to this user")
	ErrSeatNotHeld             = errors.New("seat is not held by this user")
	ErrSeatLockExpired         = errors.New("seat lock has expired")

	// Validation
	ErrInvalidUserID   = errors.New("invalid user id")
	ErrInvalidEventID  = errors.New("invalid event id")
	ErrInvalidSeatID   = errors.New("invalid seat id")
	ErrNoSeats         = errors.New("at least one seat is required")
	ErrTooManySeats    = errors.New("too many seats requested")
	ErrInvalidCapacity = errors.New("capacity must be greater than zero")
	ErrInvalidCursor   = errors.New("invalid push cursor")

	// Not found
	ErrEventNotFound  = errors.New("event not found")
	ErrSeatNotFound   = errors.New("seat not found")
	ErrNotInQueue     = errors.New("user is not in the waiting room")
	ErrTicketNotFound = errors.New("ticket not found")

	// Invariant violation: a bug, never repaired silently
	ErrInvariantViolation = errors.New("admission invariant violated")
)

// IsContentionError reports a retryable, user-visible condition
func IsContentionError(err error) bool {
	return errors.Is(err, ErrSeatConflict) ||
		errors.Is(err, ErrAtCapacity) ||
		errors.Is(err, ErrActiveElsewhere) ||
		errors.Is(err, ErrPartiallyCommitted)
}

// IsCredentialError reports an access-denied condition
func IsCredentialError(err error) bool {
	return errors.Is(err, ErrEntryTokenMissing) ||
		errors.Is(err, ErrInvalidEntryToken) ||
		errors.Is(err, ErrEntryTokenExpired) ||
		errors.Is(err, ErrEntryTokenMismatch) ||
		errors.Is(err, ErrEntryTokenEventMismatch) ||
		errors.Is(err, ErrEntryTokenUserMismatch) ||
		errors.Is(err, ErrSeatNotHeld) ||
		errors.Is(err, ErrSeatLockExpired)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidUserID) ||
		errors.Is(err, ErrInvalidEventID) ||
		errors.Is(err, ErrInvalidSeatID) ||
		errors.Is(err, ErrNoSeats) ||
		errors.Is(err, ErrTooManySeats) ||
		errors.Is(err, ErrInvalidCapacity) ||
		errors.Is(err, ErrInvalidCursor)
}

// IsNotFoundError checks if the error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrEventNotFound) ||
		errors.Is(err, ErrSeatNotFound) ||
		errors.Is(err, ErrNotInQueue) ||
		errors.Is(err, ErrTicketNotFound)
}
