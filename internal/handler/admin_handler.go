package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/booking-rush-gate/internal/dto"
	"github.com/prohmpiriya/booking-rush-gate/internal/service"
	"github.com/prohmpiriya/booking-rush-gate/pkg/response"
	"github.com/prohmpiriya/booking-rush-gate/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// AdminHandler handles operator HTTP requests
type AdminHandler struct {
	admin     service.AdminService
	admission service.AdmissionService
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(admin service.AdminService, admission service.AdmissionService) *AdminHandler {
	return &AdminHandler{admin: admin, admission: admission}
}

// SetCapacity handles PUT /admin/events/:event_id/capacity
func (h *AdminHandler) SetCapacity(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.set_capacity")
	defer span.End()

	eventID := c.Param("event_id")
	var req dto.SetCapacityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", err.Error())
		return
	}
	span.SetAttributes(attribute.String("event_id", eventID), attribute.Int64("max_concurrent", req.MaxConcurrent))

	if err := h.admin.SetEventCapacity(ctx, eventID, req.MaxConcurrent); err != nil {
		span.RecordError(err)
		handleError(c, err)
		return
	}

	resp := &dto.CapacityResponse{EventID: eventID, MaxConcurrent: req.MaxConcurrent}
	if status, err := h.admission.QueueStatus(ctx, eventID); err == nil {
		resp.Active = status.Active
	}
	response.Success(c, resp)
}

// RegisterSeats handles POST /admin/events/:event_id/seats
func (h *AdminHandler) RegisterSeats(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.register_seats")
	defer span.End()

	eventID := c.Param("event_id")
	var req dto.SeatsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", err.Error())
		return
	}

	added, err := h.admin.RegisterSeats(ctx, eventID, req.SeatIDs)
	if err != nil {
		span.RecordError(err)
		handleError(c, err)
		return
	}
	response.Created(c, &dto.RegisterSeatsResponse{EventID: eventID, Added: added})
}

// SeatMap handles GET /admin/events/:event_id/seats
func (h *AdminHandler) SeatMap(c *gin.Context) {
	eventID := c.Param("event_id")
	seats, err := h.admin.SeatMap(c.Request.Context(), eventID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, dto.NewSeatMapResponse(eventID, seats))
}

// RevokeEntry handles DELETE /admin/users/:user_id/entry
func (h *AdminHandler) RevokeEntry(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.revoke_entry")
	defer span.End()

	userID := c.Param("user_id")
	eventID, released, err := h.admin.RevokeEntry(ctx, userID)
	if err != nil {
		span.RecordError(err)
		handleError(c, err)
		return
	}
	span.SetAttributes(attribute.Bool("released", released))
	response.Success(c, &dto.RevokeResponse{UserID: userID, EventID: eventID, Released: released})
}
