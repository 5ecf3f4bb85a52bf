package handler

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/booking-rush-gate/internal/domain"
	"github.com/prohmpiriya/booking-rush-gate/internal/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func setupAdminTestRouter(admin *MockAdminService, admission *MockAdmissionService) *gin.Engine {
	h := NewAdminHandler(admin, admission)
	r := newTestRouter()
	g := r.Group("/api/v1/admin")
	g.PUT("/events/:event_id/capacity", h.SetCapacity)
	g.POST("/events/:event_id/seats", h.RegisterSeats)
	g.GET("/events/:event_id/seats", h.SeatMap)
	g.DELETE("/users/:user_id/entry", h.RevokeEntry)
	return r
}

func TestAdminHandler_SetCapacity(t *testing.T) {
	admin := new(MockAdminService)
	admission := new(MockAdmissionService)
	admin.On("SetEventCapacity", mock.Anything, "evt-1", int64(50)).Return(nil)
	admission.On("QueueStatus", mock.Anything, "evt-1").Return(&domain.QueueStatus{EventID: "evt-1", Active: 7, Ceiling: 50}, nil)
	r := setupAdminTestRouter(admin, admission)

	w := doJSON(r, http.MethodPut, "/api/v1/admin/events/evt-1/capacity", dto.SetCapacityRequest{MaxConcurrent: 50}, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var resp dto.CapacityResponse
	decodeData(t, w, &resp)
	assert.Equal(t, int64(50), resp.MaxConcurrent)
	assert.Equal(t, int64(7), resp.Active)

	// rejected by binding before reaching the service
	w = doJSON(r, http.MethodPut, "/api/v1/admin/events/evt-1/capacity", dto.SetCapacityRequest{MaxConcurrent: 0}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	admin.AssertNumberOfCalls(t, "SetEventCapacity", 1)
}

func TestAdminHandler_SetCapacityInvalidEvent(t *testing.T) {
	admin := new(MockAdminService)
	admin.On("SetEventCapacity", mock.Anything, "bad.id", int64(5)).Return(domain.ErrInvalidEventID)

	w := doJSON(setupAdminTestRouter(admin, new(MockAdmissionService)), http.MethodPut,
		"/api/v1/admin/events/bad.id/capacity", dto.SetCapacityRequest{MaxConcurrent: 5}, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_EVENT_ID", decodeError(t, w).Code)
}

func TestAdminHandler_Seats(t *testing.T) {
	admin := new(MockAdminService)
	admin.On("RegisterSeats", mock.Anything, "evt-1", []string{"A1", "A2", "A3"}).Return(int64(2), nil)
	admin.On("SeatMap", mock.Anything, "evt-1").Return([]domain.Seat{
		{SeatID: "A1", Status: domain.SeatStatusAvailable},
		{SeatID: "A2", Status: domain.SeatStatusLocked, HolderID: "alice"},
		{SeatID: "A3", Status: domain.SeatStatusSold, TicketID: "t-1"},
	}, nil)
	r := setupAdminTestRouter(admin, new(MockAdmissionService))

	w := doJSON(r, http.MethodPost, "/api/v1/admin/events/evt-1/seats", dto.SeatsRequest{SeatIDs: []string{"A1", "A2", "A3"}}, nil)
	assert.Equal(t, http.StatusCreated, w.Code)
	var added dto.RegisterSeatsResponse
	decodeData(t, w, &added)
	assert.Equal(t, int64(2), added.Added)

	w = doJSON(r, http.MethodGet, "/api/v1/admin/events/evt-1/seats", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var seatMap dto.SeatMapResponse
	decodeData(t, w, &seatMap)
	assert.Equal(t, 1, seatMap.Available)
	assert.Equal(t, 1, seatMap.Locked)
	assert.Equal(t, 1, seatMap.Sold)
	assert.Len(t, seatMap.Seats, 3)
}

func TestAdminHandler_RevokeEntry(t *testing.T) {
	admin := new(MockAdminService)
	admin.On("RevokeEntry", mock.Anything, "alice").Return("evt-1", true, nil)
	admin.On("RevokeEntry", mock.Anything, "bob").Return("", false, nil)
	r := setupAdminTestRouter(admin, new(MockAdmissionService))

	w := doJSON(r, http.MethodDelete, "/api/v1/admin/users/alice/entry", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var resp dto.RevokeResponse
	decodeData(t, w, &resp)
	assert.True(t, resp.Released)
	assert.Equal(t, "evt-1", resp.EventID)

	// revoking twice is not an error
	w = doJSON(r, http.MethodDelete, "/api/v1/admin/users/bob/entry", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	decodeData(t, w, &resp)
	assert.False(t, resp.Released)
}
