package handler

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/booking-rush-gate/internal/domain"
	"github.com/prohmpiriya/booking-rush-gate/internal/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

var grantHeader = map[string]string{"X-Test-Grant": "1"}

func setupCheckoutTestRouter(checkout *MockCheckoutService) *gin.Engine {
	h := NewCheckoutHandler(checkout)
	r := newTestRouter()
	g := r.Group("/api/v1/checkout", withGrant)
	g.POST("/seats", h.SelectSeats)
	g.DELETE("/seats", h.ReleaseSeats)
	g.POST("/commit", h.Commit)
	return r
}

func TestCheckoutHandler_SelectSeats(t *testing.T) {
	seats := []string{"A1", "A2"}

	t.Run("reserved", func(t *testing.T) {
		checkout := new(MockCheckoutService)
		exp := time.Now().Add(5 * time.Minute).UTC().Truncate(time.Second)
		checkout.On("Select", mock.Anything, testGrant, seats).Return(&domain.Reservation{
			EventID:   "evt-1",
			UserID:    "alice",
			SeatIDs:   seats,
			ExpiresAt: exp,
		}, nil)

		w := doJSON(setupCheckoutTestRouter(checkout), http.MethodPost, "/api/v1/checkout/seats",
			dto.SeatsRequest{SeatIDs: seats}, grantHeader)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp dto.ReservationResponse
		decodeData(t, w, &resp)
		assert.Equal(t, "RESERVED", resp.Status)
		assert.Equal(t, seats, resp.SeatIDs)
		assert.True(t, exp.Equal(resp.ExpiresAt))
		checkout.AssertExpectations(t)
	})

	t.Run("conflict", func(t *testing.T) {
		checkout := new(MockCheckoutService)
		checkout.On("Select", mock.Anything, testGrant, seats).Return(nil, domain.ErrSeatConflict)

		w := doJSON(setupCheckoutTestRouter(checkout), http.MethodPost, "/api/v1/checkout/seats",
			dto.SeatsRequest{SeatIDs: seats}, grantHeader)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "SEAT_CONFLICT", decodeError(t, w).Code)
	})

	t.Run("token expired while selecting", func(t *testing.T) {
		checkout := new(MockCheckoutService)
		checkout.On("Select", mock.Anything, testGrant, seats).Return(nil, domain.ErrEntryTokenExpired)

		w := doJSON(setupCheckoutTestRouter(checkout), http.MethodPost, "/api/v1/checkout/seats",
			dto.SeatsRequest{SeatIDs: seats}, grantHeader)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "ENTRY_TOKEN_EXPIRED", decodeError(t, w).Code)
	})

	t.Run("empty body", func(t *testing.T) {
		checkout := new(MockCheckoutService)

		w := doJSON(setupCheckoutTestRouter(checkout), http.MethodPost, "/api/v1/checkout/seats",
			dto.SeatsRequest{}, grantHeader)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		checkout.AssertNotCalled(t, "Select", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("no grant", func(t *testing.T) {
		checkout := new(MockCheckoutService)

		w := doJSON(setupCheckoutTestRouter(checkout), http.MethodPost, "/api/v1/checkout/seats",
			dto.SeatsRequest{SeatIDs: seats}, nil)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestCheckoutHandler_ReleaseSeats(t *testing.T) {
	checkout := new(MockCheckoutService)
	checkout.On("Release", mock.Anything, testGrant, []string{"A1", "B9"}).Return([]string{"A1"}, nil)
	checkout.On("Release", mock.Anything, testGrant, []string{"C1"}).Return(nil, nil)
	r := setupCheckoutTestRouter(checkout)

	w := doJSON(r, http.MethodDelete, "/api/v1/checkout/seats", dto.SeatsRequest{SeatIDs: []string{"A1", "B9"}}, grantHeader)
	assert.Equal(t, http.StatusOK, w.Code)
	var resp dto.ReleaseSeatsResponse
	decodeData(t, w, &resp)
	assert.Equal(t, []string{"A1"}, resp.Released)

	w = doJSON(r, http.MethodDelete, "/api/v1/checkout/seats", dto.SeatsRequest{SeatIDs: []string{"C1"}}, grantHeader)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"released":[]`)
}

func TestCheckoutHandler_Commit(t *testing.T) {
	seats := []string{"A1"}
	ticket := &domain.Ticket{
		TicketID:    "t-1",
		EventID:     "evt-1",
		UserID:      "alice",
		SeatIDs:     seats,
		CommittedAt: time.Now().UTC(),
	}

	t.Run("first commit", func(t *testing.T) {
		checkout := new(MockCheckoutService)
		checkout.On("Complete", mock.Anything, testGrant, seats).Return(ticket, nil)

		w := doJSON(setupCheckoutTestRouter(checkout), http.MethodPost, "/api/v1/checkout/commit",
			dto.SeatsRequest{SeatIDs: seats}, grantHeader)

		assert.Equal(t, http.StatusCreated, w.Code)
		var resp dto.TicketResponse
		decodeData(t, w, &resp)
		assert.Equal(t, "t-1", resp.TicketID)
		assert.False(t, resp.Replayed)
	})

	t.Run("replayed commit", func(t *testing.T) {
		replayed := *ticket
		replayed.Replayed = true
		checkout := new(MockCheckoutService)
		checkout.On("Complete", mock.Anything, testGrant, seats).Return(&replayed, nil)

		w := doJSON(setupCheckoutTestRouter(checkout), http.MethodPost, "/api/v1/checkout/commit",
			dto.SeatsRequest{SeatIDs: seats}, grantHeader)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp dto.TicketResponse
		decodeData(t, w, &resp)
		assert.True(t, resp.Replayed)
	})

	errorCases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"lock expired", domain.ErrSeatLockExpired, http.StatusForbidden, "SEAT_LOCK_EXPIRED"},
		{"not held", domain.ErrSeatNotHeld, http.StatusForbidden, "SEAT_NOT_HELD"},
		{"sold to someone else", domain.ErrSeatConflict, http.StatusConflict, "SEAT_CONFLICT"},
		{"overlapping ticket", domain.ErrPartiallyCommitted, http.StatusConflict, "PARTIALLY_COMMITTED"},
		{"unknown seat", domain.ErrSeatNotFound, http.StatusNotFound, "SEAT_NOT_FOUND"},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			checkout := new(MockCheckoutService)
			checkout.On("Complete", mock.Anything, testGrant, seats).Return(nil, tc.err)

			w := doJSON(setupCheckoutTestRouter(checkout), http.MethodPost, "/api/v1/checkout/commit",
				dto.SeatsRequest{SeatIDs: seats}, grantHeader)

			assert.Equal(t, tc.wantStatus, w.Code)
			assert.Equal(t, tc.wantCode, decodeError(t, w).Code)
		})
	}
}
