package metrics

import (
	"context"
	"sync"

	"github.com/prohmpiriya/booking-rush-gate/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// Admission counters
	QueueJoined      *telemetry.Counter
	EntriesPromoted  *telemetry.Counter
	EntriesRejected  *telemetry.Counter
	SlotsReleased    *telemetry.Counter
	InvariantFailure *telemetry.Counter

	// Seat counters
	SeatsReserved    *telemetry.Counter
	SeatConflicts    *telemetry.Counter
	SeatsReleased    *telemetry.Counter
	TicketsCommitted *telemetry.Counter

	// Error tracking
	ErrorsTotal *telemetry.Counter

	// Histograms
	QueueWaitTime   *telemetry.Histogram
	DispatchLatency *telemetry.Histogram

	// Gauges
	ActiveSlots  *telemetry.UpDownCounter
	PushSessions *telemetry.UpDownCounter

	initOnce sync.Once
	initErr  error
)

// Init initializes all admission metrics
func Init() error {
	initOnce.Do(func() {
		initErr = initMetrics()
	})
	return initErr
}

func initMetrics() error {
	counters := []struct {
		dst  **telemetry.Counter
		opts telemetry.MetricOpts
	}{
		{&QueueJoined, telemetry.MetricOpts{Name: "gate_queue_joins_total", Description: "Users appended to a waiting log", Unit: "1"}},
		{&EntriesPromoted, telemetry.MetricOpts{Name: "gate_promotions_total", Description: "Waiting entries promoted to an entry slot", Unit: "1"}},
		{&EntriesRejected, telemetry.MetricOpts{Name: "gate_rejections_total", Description: "Waiting entries consumed without promotion", Unit: "1"}},
		{&SlotsReleased, telemetry.MetricOpts{Name: "gate_slot_releases_total", Description: "Entry slots released by reason", Unit: "1"}},
		{&InvariantFailure, telemetry.MetricOpts{Name: "gate_invariant_violations_total", Description: "Detected invariant violations", Unit: "1"}},
		{&SeatsReserved, telemetry.MetricOpts{Name: "gate_seat_reservations_total", Description: "Successful seat selections", Unit: "1"}},
		{&SeatConflicts, telemetry.MetricOpts{Name: "gate_seat_conflicts_total", Description: "Seat selections rejected with a conflict", Unit: "1"}},
		{&SeatsReleased, telemetry.MetricOpts{Name: "gate_seat_releases_total", Description: "Seats returned to available", Unit: "1"}},
		{&TicketsCommitted, telemetry.MetricOpts{Name: "gate_tickets_committed_total", Description: "Tickets committed", Unit: "1"}},
		{&ErrorsTotal, telemetry.MetricOpts{Name: "gate_errors_total", Description: "Errors by type and operation", Unit: "1"}},
	}
	for _, c := range counters {
		v, err := telemetry.NewCounter(c.opts)
		if err != nil {
			return err
		}
		*c.dst = v
	}

	var err error
	QueueWaitTime, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "gate_queue_wait_seconds",
		Description: "Time from joining to promotion",
		Unit:        "s",
	}, []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800})
	if err != nil {
		return err
	}

	DispatchLatency, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "gate_dispatch_tick_seconds",
		Description: "Duration of one dispatcher pass over an event",
		Unit:        "s",
	}, []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1})
	if err != nil {
		return err
	}

	ActiveSlots, err = telemetry.NewUpDownCounter(telemetry.MetricOpts{
		Name:        "gate_active_slots",
		Description: "Entry slots currently held",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	PushSessions, err = telemetry.NewUpDownCounter(telemetry.MetricOpts{
		Name:        "gate_push_sessions",
		Description: "Open push channel connections",
		Unit:        "1",
	})
	return err
}

// RecordQueueJoin records a new waiting entry
func RecordQueueJoin(ctx context.Context, eventID string) {
	if QueueJoined != nil {
		QueueJoined.Inc(ctx, attribute.String("event_id", eventID))
	}
}

// RecordPromotion records a promotion and how long the user waited
func RecordPromotion(ctx context.Context, eventID string, waitSeconds float64) {
	if EntriesPromoted != nil {
		EntriesPromoted.Inc(ctx, attribute.String("event_id", eventID))
	}
	if QueueWaitTime != nil {
		QueueWaitTime.Record(ctx, waitSeconds, attribute.String("event_id", eventID))
	}
	if ActiveSlots != nil {
		ActiveSlots.Inc(ctx, attribute.String("event_id", eventID))
	}
}

// RecordRejection records a waiting entry consumed without promotion
func RecordRejection(ctx context.Context, eventID, reason string) {
	if EntriesRejected != nil {
		EntriesRejected.Inc(ctx,
			attribute.String("event_id", eventID),
			attribute.String("reason", reason),
		)
	}
}

// RecordSlotRelease records a capacity decrement
func RecordSlotRelease(ctx context.Context, eventID, reason string) {
	if SlotsReleased != nil {
		SlotsReleased.Inc(ctx,
			attribute.String("event_id", eventID),
			attribute.String("reason", reason),
		)
	}
	if ActiveSlots != nil {
		ActiveSlots.Dec(ctx, attribute.String("event_id", eventID))
	}
}

// RecordInvariantViolation counts a detected invariant violation
func RecordInvariantViolation(ctx context.Context, invariant string) {
	if InvariantFailure != nil {
		InvariantFailure.Inc(ctx, attribute.String("invariant", invariant))
	}
}

// RecordSeatSelect records the outcome of a seat selection
func RecordSeatSelect(ctx context.Context, eventID string, seats int, conflict bool) {
	if conflict {
		if SeatConflicts != nil {
			SeatConflicts.Inc(ctx, attribute.String("event_id", eventID))
		}
		return
	}
	if SeatsReserved != nil {
		SeatsReserved.Inc(ctx,
			attribute.String("event_id", eventID),
			attribute.Int("seats", seats),
		)
	}
}

// RecordSeatRelease records seats returned to available
func RecordSeatRelease(ctx context.Context, eventID, reason string, count int) {
	if SeatsReleased != nil && count > 0 {
		SeatsReleased.Add(ctx, int64(count),
			attribute.String("event_id", eventID),
			attribute.String("reason", reason),
		)
	}
}

// RecordTicketCommitted records a committed ticket
func RecordTicketCommitted(ctx context.Context, eventID string, replayed bool) {
	if TicketsCommitted != nil {
		TicketsCommitted.Inc(ctx,
			attribute.String("event_id", eventID),
			attribute.Bool("replayed", replayed),
		)
	}
}

// RecordDispatchTick records one dispatcher pass
func RecordDispatchTick(ctx context.Context, eventID string, seconds float64) {
	if DispatchLatency != nil {
		DispatchLatency.Record(ctx, seconds, attribute.String("event_id", eventID))
	}
}

// RecordPushSession tracks open push connections
func RecordPushSession(ctx context.Context, delta int64) {
	if PushSessions != nil {
		PushSessions.Add(ctx, delta)
	}
}

// RecordError records an error by type and operation
func RecordError(ctx context.Context, errorType, operation string) {
	if ErrorsTotal != nil {
		ErrorsTotal.Inc(ctx,
			attribute.String("error_type", errorType),
			attribute.String("operation", operation),
		)
	}
}
