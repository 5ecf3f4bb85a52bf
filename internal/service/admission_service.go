package service

import (
	"context"
	"math"
	"time"

	"github.com/prohmpiriya/booking-rush-gate/internal/domain"
	"github.com/prohmpiriya/booking-rush-gate/internal/metrics"
	"github.com/prohmpiriya/booking-rush-gate/internal/repository"
	"github.com/prohmpiriya/booking-rush-gate/pkg/logger"
	"github.com/prohmpiriya/booking-rush-gate/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// AdmissionService defines the waiting room operations
type AdmissionService interface {
	// Enter appends the user to the event's waiting log, or returns the state
	// they already have
	Enter(ctx context.Context, eventID, userID string) (*domain.AdmissionState, error)

	// Status returns the user's current state for polling clients
	Status(ctx context.Context, eventID, userID string) (*domain.AdmissionState, error)

	// QueueStatus summarizes an event's waiting log and capacity
	QueueStatus(ctx context.Context, eventID string) (*domain.QueueStatus, error)
}

// AdmissionServiceConfig contains configuration for the admission service
type AdmissionServiceConfig struct {
	EstimatedWaitPerUser time.Duration
}

type admissionService struct {
	waiting  repository.WaitingLog
	slots    repository.SlotStore
	push     repository.PushStore
	events   repository.EventRepository
	releaser *SlotReleaser
	ceilings *CeilingResolver
	perUser  time.Duration
	log      *logger.Logger
	now      func() time.Time
}

// NewAdmissionService creates a new admission service. events may be nil, in
// which case any well-formed event id is accepted.
func NewAdmissionService(
	waiting repository.WaitingLog,
	slots repository.SlotStore,
	push repository.PushStore,
	events repository.EventRepository,
	releaser *SlotReleaser,
	ceilings *CeilingResolver,
	cfg *AdmissionServiceConfig,
	log *logger.Logger,
) AdmissionService {
	perUser := 3 * time.Second
	if cfg != nil && cfg.EstimatedWaitPerUser > 0 {
		perUser = cfg.EstimatedWaitPerUser
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &admissionService{
		waiting:  waiting,
		slots:    slots,
		push:     push,
		events:   events,
		releaser: releaser,
		ceilings: ceilings,
		perUser:  perUser,
		log:      log,
		now:      time.Now,
	}
}

func (s *admissionService) Enter(ctx context.Context, eventID, userID string) (*domain.AdmissionState, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.admission.enter")
	defer span.End()

	if err := domain.ValidateEventID(eventID); err != nil {
		span.SetStatus(codes.Error, "invalid event_id")
		return nil, err
	}
	if err := domain.ValidateUserID(userID); err != nil {
		span.SetStatus(codes.Error, "invalid user_id")
		return nil, err
	}
	span.SetAttributes(attribute.String("event_id", eventID), attribute.String("user_id", userID))

	if s.events != nil {
		if _, err := s.events.GetByID(ctx, eventID); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	res, err := s.join(ctx, eventID, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("outcome", string(res.Outcome)))

	if res.Outcome == repository.JoinCreated {
		metrics.RecordQueueJoin(ctx, eventID)
		if err := s.waiting.Wake(ctx, eventID); err != nil {
			s.log.Warn("failed to wake dispatchers", zap.String("event_id", eventID), zap.Error(err))
		}
	}

	state, err := s.Status(ctx, eventID, userID)
	if err != nil {
		return nil, telemetry.Fail(span, err)
	}
	state.Rejoined = res.Outcome != repository.JoinCreated
	span.SetStatus(codes.Ok, "")
	return state, nil
}

// join appends once, clearing a stale slot whose expiry has not been
// processed yet before the single retry
func (s *admissionService) join(ctx context.Context, eventID, userID string) (*repository.JoinResult, error) {
	res, err := s.waiting.Join(ctx, eventID, userID, s.now())
	ep, pending := repository.IsExpiryPending(err)
	if !pending {
		return res, err
	}
	if _, err := s.releaser.Release(ctx, userID, ep.EventID, repository.ReleaseExpired, "", domain.ReasonTTL); err != nil {
		return nil, err
	}
	return s.waiting.Join(ctx, eventID, userID, s.now())
}

func (s *admissionService) Status(ctx context.Context, eventID, userID string) (*domain.AdmissionState, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.admission.status")
	defer span.End()

	if err := domain.ValidateEventID(eventID); err != nil {
		return nil, err
	}
	if err := domain.ValidateUserID(userID); err != nil {
		return nil, err
	}

	// read the cursor first so a message written after the snapshot is
	// still newer than it
	latest, err := s.push.After(ctx, userID, "", 1)
	if err != nil {
		return nil, telemetry.Fail(span, err)
	}
	snap, err := s.waiting.Snapshot(ctx, eventID, userID)
	if err != nil {
		return nil, telemetry.Fail(span, err)
	}

	state := &domain.AdmissionState{EventID: eventID, UserID: userID, Status: snap.Status}
	if len(latest) > 0 {
		state.Cursor = latest[0].ID
	}

	switch snap.Status {
	case domain.StatusWaiting:
		state.Seq = snap.Entry.Seq
		state.Rank = domain.Rank(snap.Entry.Seq, snap.HeadSeq)
		state.EstimatedWaitSeconds = s.estimateWait(state.Rank)
	case domain.StatusPromoted:
		exp := s.now().Add(snap.TokenTTL)
		state.EntryToken = snap.Token
		state.ExpiresAt = &exp
	default:
		if len(latest) > 0 && latest[0].EventID == eventID && latest[0].Status == domain.StatusExpired {
			state.Status = domain.StatusExpired
		}
	}

	span.SetAttributes(attribute.String("status", string(state.Status)))
	span.SetStatus(codes.Ok, "")
	return state, nil
}

func (s *admissionService) QueueStatus(ctx context.Context, eventID string) (*domain.QueueStatus, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.admission.queue_status")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", eventID))

	if err := domain.ValidateEventID(eventID); err != nil {
		span.SetStatus(codes.Error, "invalid event_id")
		return nil, err
	}

	waiting, err := s.waiting.Length(ctx, eventID)
	if err != nil {
		return nil, telemetry.Fail(span, err)
	}
	active, err := s.slots.Active(ctx, eventID)
	if err != nil {
		return nil, telemetry.Fail(span, err)
	}
	ceiling, err := s.ceilings.Effective(ctx, eventID)
	if err != nil {
		return nil, telemetry.Fail(span, err)
	}

	span.SetStatus(codes.Ok, "")
	return &domain.QueueStatus{
		EventID:       eventID,
		Waiting:       waiting,
		Active:        active,
		Ceiling:       ceiling,
		EstimatedWait: s.estimateWait(waiting),
	}, nil
}

// estimateWait rounds up so a non-empty queue never reports zero seconds
func (s *admissionService) estimateWait(ahead int64) int64 {
	return int64(math.Ceil((time.Duration(ahead) * s.perUser).Seconds()))
}
