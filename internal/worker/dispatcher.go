package worker

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prohmpiriya/booking-rush-gate/internal/domain"
	"github.com/prohmpiriya/booking-rush-gate/internal/metrics"
	"github.com/prohmpiriya/booking-rush-gate/internal/repository"
	"github.com/prohmpiriya/booking-rush-gate/internal/service"
	"github.com/prohmpiriya/booking-rush-gate/pkg/logger"
	"github.com/prohmpiriya/booking-rush-gate/pkg/retry"
	"github.com/prohmpiriya/booking-rush-gate/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DispatcherConfig holds configuration for the dispatcher
type DispatcherConfig struct {
	// Consumer is this instance's name in the consumer group
	// (default: dispatcher-<hostname>)
	Consumer string
	// Interval is the time between re-scans of every waiting log (default: 1 second)
	Interval time.Duration
	// VisibilityTimeout is how long an entry may sit unacknowledged with
	// another consumer before this one takes it over (default: 30 seconds)
	VisibilityTimeout time.Duration
	// ConsumerTTL is how long this consumer counts as live after a pass;
	// consumers past it with nothing pending are removed from the group
	// (default: 10 x VisibilityTimeout)
	ConsumerTTL time.Duration
	// Batch is the number of entries read per event per pass (default: 100)
	Batch int64
	// Retry is the backoff applied to transient Redis failures
	Retry *retry.Config
}

// DefaultDispatcherConfig returns default configuration
func DefaultDispatcherConfig() *DispatcherConfig {
	return &DispatcherConfig{
		Interval:          time.Second,
		VisibilityTimeout: 30 * time.Second,
		Batch:             100,
		Retry: &retry.Config{
			MaxRetries:      3,
			InitialInterval: 50 * time.Millisecond,
			MaxInterval:     time.Second,
			Multiplier:      2,
			JitterFactor:    0.2,
		},
	}
}

// Dispatcher promotes waiting users into entry slots in FIFO order
type Dispatcher struct {
	config    *DispatcherConfig
	waiting   repository.WaitingLog
	tokens    service.TokenService
	ceilings  *service.CeilingResolver
	releaser  *service.SlotReleaser
	publisher service.EventPublisher
	retrier   *retry.Retrier
	log       *logger.Logger

	mu            sync.Mutex
	totalPromoted int64
	lastPassTime  time.Time
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(
	cfg *DispatcherConfig,
	waiting repository.WaitingLog,
	tokens service.TokenService,
	ceilings *service.CeilingResolver,
	releaser *service.SlotReleaser,
	publisher service.EventPublisher,
	log *logger.Logger,
) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg == nil {
		cfg = def
	}
	if cfg.Consumer == "" {
		cfg.Consumer = defaultConsumerName()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = def.VisibilityTimeout
	}
	if cfg.ConsumerTTL <= 0 {
		cfg.ConsumerTTL = 10 * cfg.VisibilityTimeout
	}
	if cfg.Batch <= 0 {
		cfg.Batch = def.Batch
	}
	if cfg.Retry == nil {
		cfg.Retry = def.Retry
	}
	if publisher == nil {
		publisher = service.NewNoOpEventPublisher()
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &Dispatcher{
		config:    cfg,
		waiting:   waiting,
		tokens:    tokens,
		ceilings:  ceilings,
		releaser:  releaser,
		publisher: publisher,
		retrier:   retry.New(cfg.Retry),
		log:       log.With(zap.String("consumer", cfg.Consumer)),
	}
}

// defaultConsumerName keeps the name stable across restarts of the same host
// so a restarted dispatcher resumes its own pending entries
func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "dispatcher-" + uuid.New().String()[:8]
	}
	return "dispatcher-" + host
}

// Start runs the dispatch loop until ctx is cancelled. Every event is
// re-scanned on each tick; a wake-up runs one event immediately.
func (d *Dispatcher) Start(ctx context.Context) {
	wakeups, closeWakeups := d.waiting.Wakeups(ctx)
	defer func() { _ = closeWakeups() }()

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	d.log.Info("dispatcher started",
		zap.Duration("interval", d.config.Interval),
		zap.Duration("visibility_timeout", d.config.VisibilityTimeout),
	)

	d.processAll(ctx)
	for {
		select {
		case <-ctx.Done():
			d.log.Info("dispatcher stopping")
			return
		case <-ticker.C:
			d.processAll(ctx)
		case eventID, ok := <-wakeups:
			if !ok {
				// subscription dropped, keep going on the ticker alone
				wakeups = nil
				continue
			}
			if _, err := d.ProcessEvent(ctx, eventID); err != nil {
				d.log.Warn("dispatch pass failed", zap.String("event_id", eventID), zap.Error(err))
			}
		}
	}
}

func (d *Dispatcher) processAll(ctx context.Context) {
	eventIDs, err := d.waiting.Events(ctx)
	if err != nil {
		d.log.Error("failed to list waiting logs", zap.Error(err))
		return
	}
	for _, eventID := range eventIDs {
		if ctx.Err() != nil {
			return
		}
		if _, err := d.ProcessEvent(ctx, eventID); err != nil {
			// entries stay pending and are retried on the next pass
			d.log.Warn("dispatch pass failed", zap.String("event_id", eventID), zap.Error(err))
		}
	}
}

// ProcessEvent promotes as many entries of one event as capacity allows and
// returns the number promoted
func (d *Dispatcher) ProcessEvent(ctx context.Context, eventID string) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "worker.dispatcher.process_event")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", eventID))
	start := time.Now()
	defer func() { metrics.RecordDispatchTick(ctx, eventID, time.Since(start).Seconds()) }()

	entries, err := d.collect(ctx, eventID)
	if err != nil {
		return 0, telemetry.Fail(span, err)
	}

	promoted := 0
loop:
	for _, entry := range entries {
		if entry.UserID == "" {
			// deleted while pending
			if err := d.waiting.Ack(ctx, eventID, entry.EntryID); err != nil {
				return promoted, telemetry.Fail(span, err)
			}
			continue
		}

		res, err := d.promote(ctx, entry)
		if err != nil {
			return promoted, telemetry.Fail(span, err)
		}

		switch res.Outcome {
		case domain.OutcomePromoted:
			promoted++
		case domain.OutcomeRejected:
			metrics.RecordRejection(ctx, eventID, res.Reason)
			d.log.Warn("waiting entry rejected",
				zap.String("event_id", eventID),
				zap.String("user_id", entry.UserID),
				zap.String("reason", res.Reason),
			)
		case domain.OutcomeGone:
			if err := d.waiting.Ack(ctx, eventID, entry.EntryID); err != nil {
				return promoted, telemetry.Fail(span, err)
			}
		default:
			// AT_CAPACITY, NOT_HEAD or a still pending expiry: later entries
			// must wait behind this one
			span.SetAttributes(attribute.String("stopped_at", string(res.Outcome)))
			break loop
		}
	}

	if promoted > 0 {
		d.mu.Lock()
		d.totalPromoted += int64(promoted)
		d.lastPassTime = time.Now()
		d.mu.Unlock()
		d.log.Info("promoted waiting users", zap.String("event_id", eventID), zap.Int("count", promoted))
	}
	span.SetAttributes(attribute.Int("promoted", promoted))
	return promoted, nil
}

// collect gathers this consumer's candidates in log order: entries taken
// over from idle consumers, its own pending entries, then new ones
func (d *Dispatcher) collect(ctx context.Context, eventID string) ([]domain.WaitingEntry, error) {
	if err := d.withRetry(ctx, func(ctx context.Context) error {
		return d.waiting.EnsureGroup(ctx, eventID)
	}); err != nil {
		return nil, fmt.Errorf("failed to ensure consumer group: %w", err)
	}

	if _, err := d.waiting.Claim(ctx, eventID, d.config.Consumer, d.config.VisibilityTimeout, d.config.Batch); err != nil {
		d.log.Warn("failed to claim idle entries", zap.String("event_id", eventID), zap.Error(err))
	}

	if err := d.waiting.Heartbeat(ctx, d.config.Consumer, d.config.ConsumerTTL); err != nil {
		d.log.Warn("failed to renew heartbeat", zap.Error(err))
	}
	removed, err := d.waiting.PruneConsumers(ctx, eventID, d.config.Consumer)
	if err != nil {
		d.log.Warn("failed to prune idle consumers", zap.String("event_id", eventID), zap.Error(err))
	} else if len(removed) > 0 {
		d.log.Info("pruned idle consumers", zap.String("event_id", eventID), zap.Strings("consumers", removed))
	}

	var entries []domain.WaitingEntry
	err = d.withRetry(ctx, func(ctx context.Context) error {
		pending, err := d.waiting.ReadPending(ctx, eventID, d.config.Consumer, d.config.Batch)
		if err != nil {
			return err
		}
		entries = pending
		return nil
	})
	if err != nil {
		return nil, err
	}

	if room := d.config.Batch - int64(len(entries)); room > 0 {
		var fresh []domain.WaitingEntry
		err := d.withRetry(ctx, func(ctx context.Context) error {
			var err error
			fresh, err = d.waiting.ReadNew(ctx, eventID, d.config.Consumer, room)
			return err
		})
		if err != nil {
			return nil, err
		}
		entries = append(entries, fresh...)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		// pending entries without fields sort first and are acked right away
		return entries[i].Seq < entries[j].Seq
	})
	return entries, nil
}

// promote runs the promote primitive for one entry, releasing a slot whose
// expiry has not been processed yet and retrying once
func (d *Dispatcher) promote(ctx context.Context, entry domain.WaitingEntry) (*repository.PromoteResult, error) {
	res, err := d.promoteOnce(ctx, entry)
	if err != nil || res.Outcome != domain.OutcomeExpiryPending {
		return res, err
	}

	if _, err := d.releaser.Release(ctx, entry.UserID, res.HolderEventID, repository.ReleaseExpired, "", domain.ReasonTTL); err != nil {
		return nil, fmt.Errorf("failed to release expired slot: %w", err)
	}
	return d.promoteOnce(ctx, entry)
}

func (d *Dispatcher) promoteOnce(ctx context.Context, entry domain.WaitingEntry) (*repository.PromoteResult, error) {
	tok, err := d.tokens.Mint(entry.UserID, entry.EventID, time.Now())
	if err != nil {
		return nil, err
	}

	params := repository.PromoteParams{
		Entry:          entry,
		Token:          tok,
		DefaultCeiling: d.ceilings.Default(ctx, entry.EventID),
		Push:           domain.PromotedMessage(tok),
	}

	var res *repository.PromoteResult
	err = d.withRetry(ctx, func(ctx context.Context) error {
		var err error
		res, err = d.waiting.Promote(ctx, params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to promote entry %s: %w", entry.EntryID, err)
	}

	if res.Outcome == domain.OutcomePromoted {
		metrics.RecordPromotion(ctx, entry.EventID, time.Since(entry.EnqueuedAt).Seconds())
		d.log.Debug("user promoted",
			zap.String("event_id", entry.EventID),
			zap.String("user_id", entry.UserID),
			zap.Int64("active", res.Active),
			zap.Int64("ceiling", res.Ceiling),
		)
		if err := d.publisher.Publish(ctx, &domain.AdmissionEvent{
			Type:       domain.EventEntryPromoted,
			EventID:    entry.EventID,
			UserID:     entry.UserID,
			OccurredAt: tok.IssuedAt,
		}); err != nil {
			d.log.Warn("failed to publish promotion", zap.String("user_id", entry.UserID), zap.Error(err))
		}
	}
	return res, nil
}

func (d *Dispatcher) withRetry(ctx context.Context, op retry.Operation) error {
	res := d.retrier.DoWithCallback(ctx, op, func(attempt int, err error, next time.Duration) {
		d.log.Debug("retrying redis call", zap.Int("attempt", attempt), zap.Duration("next", next), zap.Error(err))
	})
	if res.Err != nil && res.LastError != nil {
		return res.LastError
	}
	return res.Err
}

// Stats returns the number of users promoted by this instance and when the
// last promotion happened
func (d *Dispatcher) Stats() (totalPromoted int64, lastPassTime time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totalPromoted, d.lastPassTime
}
