package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prohmpiriya/booking-rush-gate/internal/domain"
	"github.com/prohmpiriya/booking-rush-gate/internal/metrics"
	"github.com/prohmpiriya/booking-rush-gate/internal/repository"
	"github.com/prohmpiriya/booking-rush-gate/pkg/logger"
	"github.com/prohmpiriya/booking-rush-gate/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// CheckoutService runs the seat operations an entry token holder may perform
type CheckoutService interface {
	// Select locks every requested seat or none of them
	Select(ctx context.Context, grant *domain.EntryGrant, seatIDs []string) (*domain.Reservation, error)

	// Release gives back seats the holder still has locked
	Release(ctx context.Context, grant *domain.EntryGrant, seatIDs []string) ([]string, error)

	// Complete commits the locked seats to a ticket, records it and ends the
	// entry slot
	Complete(ctx context.Context, grant *domain.EntryGrant, seatIDs []string) (*domain.Ticket, error)
}

// CheckoutServiceConfig contains configuration for the checkout service
type CheckoutServiceConfig struct {
	SeatLockTTL       time.Duration
	MaxSeatsPerSelect int
}

type checkoutService struct {
	seats     repository.SeatStore
	tickets   repository.TicketRepository
	tokens    TokenService
	publisher EventPublisher
	lockTTL   time.Duration
	maxSeats  int
	log       *logger.Logger
	now       func() time.Time
}

// NewCheckoutService creates a new checkout service. tickets may be nil when
// no relational store is configured.
func NewCheckoutService(
	seats repository.SeatStore,
	tickets repository.TicketRepository,
	tokens TokenService,
	publisher EventPublisher,
	cfg *CheckoutServiceConfig,
	log *logger.Logger,
) CheckoutService {
	lockTTL := 5 * time.Minute
	maxSeats := 10
	if cfg != nil {
		if cfg.SeatLockTTL > 0 {
			lockTTL = cfg.SeatLockTTL
		}
		if cfg.MaxSeatsPerSelect > 0 {
			maxSeats = cfg.MaxSeatsPerSelect
		}
	}
	if publisher == nil {
		publisher = NewNoOpEventPublisher()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &checkoutService{
		seats:     seats,
		tickets:   tickets,
		tokens:    tokens,
		publisher: publisher,
		lockTTL:   lockTTL,
		maxSeats:  maxSeats,
		log:       log,
		now:       time.Now,
	}
}

func (s *checkoutService) Select(ctx context.Context, grant *domain.EntryGrant, seatIDs []string) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.checkout.select")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", grant.EventID), attribute.String("user_id", grant.UserID))

	ids, err := domain.NormalizeSeatIDs(seatIDs, s.maxSeats)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// a lock never needs to outlive the token that allows committing it
	ttl := s.lockTTL
	if left := grant.ExpiresAt.Sub(s.now()); left < ttl {
		ttl = left
	}
	if ttl < time.Second {
		span.SetStatus(codes.Error, "entry token about to expire")
		return nil, domain.ErrEntryTokenExpired
	}

	if err := s.seats.Select(ctx, grant.EventID, grant.UserID, ids, ttl); err != nil {
		metrics.RecordSeatSelect(ctx, grant.EventID, len(ids), domain.IsContentionError(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	metrics.RecordSeatSelect(ctx, grant.EventID, len(ids), false)

	span.SetStatus(codes.Ok, "")
	return &domain.Reservation{
		EventID:   grant.EventID,
		UserID:    grant.UserID,
		SeatIDs:   ids,
		ExpiresAt: s.now().Add(ttl),
	}, nil
}

func (s *checkoutService) Release(ctx context.Context, grant *domain.EntryGrant, seatIDs []string) ([]string, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.checkout.release")
	defer span.End()

	ids, err := domain.NormalizeSeatIDs(seatIDs, 0)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	released, err := s.seats.Release(ctx, grant.EventID, grant.UserID, ids)
	if err != nil {
		return nil, telemetry.Fail(span, err)
	}
	metrics.RecordSeatRelease(ctx, grant.EventID, "cancelled", len(released))
	span.SetStatus(codes.Ok, "")
	return released, nil
}

func (s *checkoutService) Complete(ctx context.Context, grant *domain.EntryGrant, seatIDs []string) (*domain.Ticket, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.checkout.complete")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", grant.EventID), attribute.String("user_id", grant.UserID))

	ids, err := domain.NormalizeSeatIDs(seatIDs, s.maxSeats)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	ticket, err := s.seats.Commit(ctx, grant.EventID, grant.UserID, uuid.New().String(), ids, s.now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("ticket_id", ticket.TicketID), attribute.Bool("replayed", ticket.Replayed))

	if s.tickets != nil {
		// the seats are already sold; a failed insert is retried by replaying
		// the commit, which returns the same ticket
		if _, err := s.tickets.Save(ctx, ticket); err != nil {
			return nil, telemetry.Fail(span, err)
		}
	}
	metrics.RecordTicketCommitted(ctx, grant.EventID, ticket.Replayed)

	if !ticket.Replayed {
		if err := s.publisher.Publish(ctx, &domain.AdmissionEvent{
			Type:       domain.EventTicketCommitted,
			EventID:    ticket.EventID,
			UserID:     ticket.UserID,
			TicketID:   ticket.TicketID,
			SeatIDs:    ticket.SeatIDs,
			OccurredAt: ticket.CommittedAt,
		}); err != nil {
			s.log.Warn("failed to publish ticket committed",
				zap.String("ticket_id", ticket.TicketID),
				zap.Error(err),
			)
		}
	}

	released, err := s.tokens.Invalidate(ctx, grant)
	if err != nil {
		// the token's own expiry frees the slot later
		s.log.Warn("failed to invalidate entry token after checkout",
			zap.String("user_id", grant.UserID),
			zap.String("event_id", grant.EventID),
			zap.Error(err),
		)
	} else if !released {
		s.log.Debug("entry slot already released", zap.String("user_id", grant.UserID))
	}

	span.SetStatus(codes.Ok, "")
	return ticket, nil
}
