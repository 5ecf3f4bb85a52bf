package service

import (
	"context"

	"github.com/prohmpiriya/booking-rush-gate/internal/domain"
	"github.com/prohmpiriya/booking-rush-gate/internal/repository"
	"github.com/prohmpiriya/booking-rush-gate/pkg/logger"
	"github.com/prohmpiriya/booking-rush-gate/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// AdminService exposes operator controls over events, seats and entry slots
type AdminService interface {
	SetEventCapacity(ctx context.Context, eventID string, ceiling int64) error
	RegisterSeats(ctx context.Context, eventID string, seatIDs []string) (int64, error)
	SeatMap(ctx context.Context, eventID string) ([]domain.Seat, error)
	// RevokeEntry kicks a user out of their entry slot, returning the event
	// it was held for
	RevokeEntry(ctx context.Context, userID string) (string, bool, error)
}

type adminService struct {
	waiting repository.WaitingLog
	slots   repository.SlotStore
	seats   repository.SeatStore
	tokens  TokenService
	log     *logger.Logger
}

// NewAdminService creates a new admin service
func NewAdminService(
	waiting repository.WaitingLog,
	slots repository.SlotStore,
	seats repository.SeatStore,
	tokens TokenService,
	log *logger.Logger,
) AdminService {
	if log == nil {
		log = logger.NewNop()
	}
	return &adminService{
		waiting: waiting,
		slots:   slots,
		seats:   seats,
		tokens:  tokens,
		log:     log,
	}
}

func (s *adminService) SetEventCapacity(ctx context.Context, eventID string, ceiling int64) error {
	ctx, span := telemetry.StartSpan(ctx, "service.admin.set_capacity")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", eventID), attribute.Int64("ceiling", ceiling))

	if err := domain.ValidateEventID(eventID); err != nil {
		return err
	}
	if ceiling <= 0 {
		return domain.ErrInvalidCapacity
	}
	if err := s.slots.SetCeiling(ctx, eventID, ceiling); err != nil {
		return telemetry.Fail(span, err)
	}

	s.log.Info("event capacity updated", zap.String("event_id", eventID), zap.Int64("ceiling", ceiling))

	// a raised ceiling may admit waiting users right away
	if err := s.waiting.Wake(ctx, eventID); err != nil {
		s.log.Warn("failed to wake dispatchers", zap.String("event_id", eventID), zap.Error(err))
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (s *adminService) RegisterSeats(ctx context.Context, eventID string, seatIDs []string) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.admin.register_seats")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", eventID))

	if err := domain.ValidateEventID(eventID); err != nil {
		return 0, err
	}
	ids, err := domain.NormalizeSeatIDs(seatIDs, 0)
	if err != nil {
		return 0, err
	}

	added, err := s.seats.Register(ctx, eventID, ids)
	if err != nil {
		return 0, telemetry.Fail(span, err)
	}
	span.SetAttributes(attribute.Int64("added", added))
	span.SetStatus(codes.Ok, "")
	return added, nil
}

func (s *adminService) SeatMap(ctx context.Context, eventID string) ([]domain.Seat, error) {
	if err := domain.ValidateEventID(eventID); err != nil {
		return nil, err
	}
	return s.seats.SeatMap(ctx, eventID)
}

func (s *adminService) RevokeEntry(ctx context.Context, userID string) (string, bool, error) {
	eventID, released, err := s.tokens.Revoke(ctx, userID)
	if err != nil {
		return "", false, err
	}
	if released {
		s.log.Info("entry revoked", zap.String("user_id", userID), zap.String("event_id", eventID))
	}
	return eventID, released, nil
}
