package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/booking-rush-gate/internal/dto"
	"github.com/prohmpiriya/booking-rush-gate/internal/middleware"
	"github.com/prohmpiriya/booking-rush-gate/internal/service"
	"github.com/prohmpiriya/booking-rush-gate/pkg/response"
	"github.com/prohmpiriya/booking-rush-gate/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// QueueHandler handles waiting room HTTP requests
type QueueHandler struct {
	admission service.AdmissionService
}

// NewQueueHandler creates a new queue handler
func NewQueueHandler(admission service.AdmissionService) *QueueHandler {
	return &QueueHandler{admission: admission}
}

// Enter handles POST /queue/:event_id/enter
func (h *QueueHandler) Enter(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.queue.enter")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID := c.GetString(middleware.UserIDKey)
	if userID == "" {
		span.SetStatus(codes.Error, "unauthorized")
		response.Unauthorized(c, "unauthorized")
		return
	}
	eventID := c.Param("event_id")
	span.SetAttributes(attribute.String("user_id", userID), attribute.String("event_id", eventID))

	state, err := h.admission.Enter(ctx, eventID, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	if state.Rejoined {
		response.Success(c, dto.FromAdmissionState(state))
		return
	}
	response.Created(c, dto.FromAdmissionState(state))
}

// State handles GET /queue/:event_id/state
func (h *QueueHandler) State(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.queue.state")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID := c.GetString(middleware.UserIDKey)
	if userID == "" {
		response.Unauthorized(c, "unauthorized")
		return
	}
	eventID := c.Param("event_id")

	state, err := h.admission.Status(ctx, eventID, userID)
	if err != nil {
		span.RecordError(err)
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromAdmissionState(state))
}

// Status handles GET /queue/:event_id/status
func (h *QueueHandler) Status(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.queue.status")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	status, err := h.admission.QueueStatus(ctx, c.Param("event_id"))
	if err != nil {
		span.RecordError(err)
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromQueueStatus(status))
}
