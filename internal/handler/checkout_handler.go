package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/booking-rush-gate/internal/dto"
	"github.com/prohmpiriya/booking-rush-gate/internal/middleware"
	"github.com/prohmpiriya/booking-rush-gate/internal/service"
	"github.com/prohmpiriya/booking-rush-gate/pkg/response"
	"github.com/prohmpiriya/booking-rush-gate/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// CheckoutHandler handles seat selection and commit for admitted users
type CheckoutHandler struct {
	checkout service.CheckoutService
}

// NewCheckoutHandler creates a new checkout handler
func NewCheckoutHandler(checkout service.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout}
}

// bind reads the grant set by the entry token guard and the seat list
func (h *CheckoutHandler) bind(c *gin.Context, req *dto.SeatsRequest) bool {
	if _, ok := middleware.GetEntryGrant(c); !ok {
		response.Unauthorized(c, "entry token is required")
		return false
	}
	if err := c.ShouldBindJSON(req); err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", err.Error())
		return false
	}
	return true
}

// SelectSeats handles POST /checkout/seats
func (h *CheckoutHandler) SelectSeats(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.checkout.select")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	var req dto.SeatsRequest
	if !h.bind(c, &req) {
		span.SetStatus(codes.Error, "invalid request")
		return
	}
	grant, _ := middleware.GetEntryGrant(c)
	span.SetAttributes(
		attribute.String("user_id", grant.UserID),
		attribute.String("event_id", grant.EventID),
		attribute.Int("seat_count", len(req.SeatIDs)),
	)

	res, err := h.checkout.Select(ctx, grant, req.SeatIDs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, dto.FromReservation(res))
}

// ReleaseSeats handles DELETE /checkout/seats
func (h *CheckoutHandler) ReleaseSeats(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.checkout.release")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	var req dto.SeatsRequest
	if !h.bind(c, &req) {
		return
	}
	grant, _ := middleware.GetEntryGrant(c)

	released, err := h.checkout.Release(ctx, grant, req.SeatIDs)
	if err != nil {
		span.RecordError(err)
		handleError(c, err)
		return
	}
	if released == nil {
		released = []string{}
	}
	response.Success(c, &dto.ReleaseSeatsResponse{EventID: grant.EventID, Released: released})
}

// Commit handles POST /checkout/commit. A replayed commit answers 200 with
// the original ticket, a new one 201.
func (h *CheckoutHandler) Commit(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.checkout.commit")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	var req dto.SeatsRequest
	if !h.bind(c, &req) {
		span.SetStatus(codes.Error, "invalid request")
		return
	}
	grant, _ := middleware.GetEntryGrant(c)
	span.SetAttributes(attribute.String("user_id", grant.UserID), attribute.String("event_id", grant.EventID))

	ticket, err := h.checkout.Complete(ctx, grant, req.SeatIDs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.String("ticket_id", ticket.TicketID), attribute.Bool("replayed", ticket.Replayed))
	span.SetStatus(codes.Ok, "")
	if ticket.Replayed {
		response.Success(c, dto.FromTicket(ticket))
		return
	}
	response.Created(c, dto.FromTicket(ticket))
}
