package service

import (
	"context"
	"time"

	"github.com/prohmpiriya/booking-rush-gate/internal/domain"
	"github.com/prohmpiriya/booking-rush-gate/internal/metrics"
	"github.com/prohmpiriya/booking-rush-gate/internal/repository"
	"github.com/prohmpiriya/booking-rush-gate/pkg/logger"
	"go.uber.org/zap"
)

// SlotReleaser frees entry slots through the once-only release primitive and
// fans out the side effects of a successful release
type SlotReleaser struct {
	slots     repository.SlotStore
	waiting   repository.WaitingLog
	publisher EventPublisher
	log       *logger.Logger
	now       func() time.Time
}

// NewSlotReleaser creates a new SlotReleaser
func NewSlotReleaser(slots repository.SlotStore, waiting repository.WaitingLog, publisher EventPublisher, log *logger.Logger) *SlotReleaser {
	if publisher == nil {
		publisher = NewNoOpEventPublisher()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &SlotReleaser{
		slots:     slots,
		waiting:   waiting,
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
}

// Release frees userID's slot for eventID. Only the caller that actually
// released publishes, wakes the dispatchers and counts it.
func (r *SlotReleaser) Release(ctx context.Context, userID, eventID string, mode repository.ReleaseMode, expectedToken string, reason domain.ExpiryReason) (*repository.ReleaseResult, error) {
	now := r.now()
	res, err := r.slots.Release(ctx, repository.ReleaseParams{
		UserID:        userID,
		EventID:       eventID,
		Mode:          mode,
		ExpectedToken: expectedToken,
		Push:          domain.ExpiredMessage(eventID, reason, now),
	})
	if err != nil {
		return nil, err
	}
	if !res.Released {
		r.log.Debug("slot not released",
			zap.String("user_id", userID),
			zap.String("event_id", eventID),
			zap.String("code", res.Code),
		)
		return res, nil
	}

	if res.Underflow {
		r.log.Error("capacity counter was already zero when a slot was released",
			zap.String("invariant", "capacity_non_negative"),
			zap.String("user_id", userID),
			zap.String("event_id", eventID),
			zap.Error(domain.ErrInvariantViolation),
		)
		metrics.RecordInvariantViolation(ctx, "capacity_non_negative")
	}
	metrics.RecordSlotRelease(ctx, eventID, string(reason))

	evType := domain.EventEntryExpired
	if reason == domain.ReasonRevoked {
		evType = domain.EventEntryRevoked
	}
	if err := r.publisher.Publish(ctx, &domain.AdmissionEvent{
		Type:       evType,
		EventID:    eventID,
		UserID:     userID,
		Reason:     reason,
		OccurredAt: now,
	}); err != nil {
		r.log.Warn("failed to publish slot release", zap.String("event_id", eventID), zap.Error(err))
	}

	if err := r.waiting.Wake(ctx, eventID); err != nil {
		// the periodic tick picks the event up anyway
		r.log.Warn("failed to wake dispatchers", zap.String("event_id", eventID), zap.Error(err))
	}
	return res, nil
}

// ReleaseHolder releases whatever slot userID holds, looking up its event
// first. It returns the event id, empty when the user holds nothing.
func (r *SlotReleaser) ReleaseHolder(ctx context.Context, userID string, mode repository.ReleaseMode, reason domain.ExpiryReason) (string, *repository.ReleaseResult, error) {
	holder, err := r.slots.Holder(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	if holder == nil {
		return "", &repository.ReleaseResult{Code: "NO_HOLDER"}, nil
	}
	res, err := r.Release(ctx, userID, holder.EventID, mode, "", reason)
	return holder.EventID, res, err
}
