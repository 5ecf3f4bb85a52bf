package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prohmpiriya/booking-rush-gate/internal/domain"
	"github.com/prohmpiriya/booking-rush-gate/internal/metrics"
	"github.com/prohmpiriya/booking-rush-gate/internal/repository"
	"github.com/prohmpiriya/booking-rush-gate/internal/service"
	"github.com/prohmpiriya/booking-rush-gate/pkg/logger"
	pkgredis "github.com/prohmpiriya/booking-rush-gate/pkg/redis"
	"go.uber.org/zap"
)

// ExpiryListenerConfig contains configuration for the expiry listener
type ExpiryListenerConfig struct {
	// SweepInterval is the interval between scans for expirations whose
	// notification was lost (default: 15 seconds)
	SweepInterval time.Duration
	// ConfigureNotifications turns on expired-key events on the server
	ConfigureNotifications bool
}

// DefaultExpiryListenerConfig returns default configuration
func DefaultExpiryListenerConfig() *ExpiryListenerConfig {
	return &ExpiryListenerConfig{
		SweepInterval:          15 * time.Second,
		ConfigureNotifications: true,
	}
}

// ExpiryListener releases capacity slots and seat locks once their TTL keys
// expire
type ExpiryListener struct {
	client   *pkgredis.Client
	slots    repository.SlotStore
	seats    repository.SeatStore
	releaser *service.SlotReleaser
	config   *ExpiryListenerConfig
	log      *logger.Logger

	mu            sync.Mutex
	totalSlots    int64
	totalSeats    int64
	lastSweepTime time.Time
}

// NewExpiryListener creates a new expiry listener
func NewExpiryListener(
	client *pkgredis.Client,
	slots repository.SlotStore,
	seats repository.SeatStore,
	releaser *service.SlotReleaser,
	config *ExpiryListenerConfig,
	log *logger.Logger,
) *ExpiryListener {
	if config == nil {
		config = DefaultExpiryListenerConfig()
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = 15 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &ExpiryListener{
		client:   client,
		slots:    slots,
		seats:    seats,
		releaser: releaser,
		config:   config,
		log:      log,
	}
}

// Start listens for expirations until ctx is cancelled
func (l *ExpiryListener) Start(ctx context.Context) error {
	if l.config.ConfigureNotifications {
		if err := l.client.EnableExpiredEvents(ctx); err != nil {
			// managed Redis may forbid CONFIG SET; the sweeper still converges
			l.log.Warn("could not enable expired key notifications", zap.Error(err))
		}
	}

	sub := l.client.PSubscribe(ctx, l.client.ExpiredChannel())
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to expirations: %w", err)
	}
	notifications := sub.Channel()

	ticker := time.NewTicker(l.config.SweepInterval)
	defer ticker.Stop()

	l.log.Info("expiry listener started",
		zap.String("channel", l.client.ExpiredChannel()),
		zap.Duration("sweep_interval", l.config.SweepInterval),
	)

	// catch up on anything that expired while no listener was running
	l.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			l.log.Info("expiry listener stopping")
			return nil
		case msg, ok := <-notifications:
			if !ok {
				return fmt.Errorf("expiration subscription closed")
			}
			if err := l.HandleExpiredKey(ctx, msg.Payload); err != nil {
				// the sweeper retries whatever is still unreleased
				l.log.Error("failed to process expiration", zap.String("key", msg.Payload), zap.Error(err))
			}
		case <-ticker.C:
			l.sweep(ctx)
		}
	}
}

// HandleExpiredKey reacts to one expired key. Duplicate notifications are
// harmless: the release primitives act at most once.
func (l *ExpiryListener) HandleExpiredKey(ctx context.Context, key string) error {
	k := repository.ParseExpiredKey(key)
	switch k.Kind {
	case repository.ExpiredEntryToken:
		_, err := l.releaseSlot(ctx, k.UserID)
		return err
	case repository.ExpiredSeatLock:
		_, err := l.releaseSeat(ctx, k.EventID, k.SeatID)
		return err
	default:
		return nil
	}
}

func (l *ExpiryListener) releaseSlot(ctx context.Context, userID string) (bool, error) {
	eventID, res, err := l.releaser.ReleaseHolder(ctx, userID, repository.ReleaseExpired, domain.ReasonTTL)
	if err != nil {
		return false, fmt.Errorf("failed to release slot of %s: %w", userID, err)
	}
	if !res.Released {
		return false, nil
	}
	l.mu.Lock()
	l.totalSlots++
	l.mu.Unlock()
	l.log.Info("entry slot expired",
		zap.String("user_id", userID),
		zap.String("event_id", eventID),
		zap.Int64("remaining", res.Remaining),
	)
	return true, nil
}

func (l *ExpiryListener) releaseSeat(ctx context.Context, eventID, seatID string) (bool, error) {
	released, err := l.seats.ReleaseExpired(ctx, eventID, seatID)
	if err != nil {
		return false, fmt.Errorf("failed to release seat %s/%s: %w", eventID, seatID, err)
	}
	if !released {
		return false, nil
	}
	metrics.RecordSeatRelease(ctx, eventID, "expired", 1)
	l.mu.Lock()
	l.totalSeats++
	l.mu.Unlock()
	l.log.Debug("seat lock expired", zap.String("event_id", eventID), zap.String("seat_id", seatID))
	return true, nil
}

// Sweep releases every slot whose token is gone and every seat whose lock is
// gone, returning how many of each it released
func (l *ExpiryListener) Sweep(ctx context.Context) (slots int, seats int, err error) {
	err = l.slots.ScanHolders(ctx, func(userIDs []string) error {
		for _, userID := range userIDs {
			token, _, err := l.slots.MirroredToken(ctx, userID)
			if err != nil {
				return err
			}
			if token != "" {
				continue
			}
			released, err := l.releaseSlot(ctx, userID)
			if err != nil {
				return err
			}
			if released {
				slots++
			}
		}
		return nil
	})
	if err != nil {
		return slots, seats, fmt.Errorf("failed to sweep slot holders: %w", err)
	}

	err = l.seats.ScanStaleLocks(ctx, func(eventID, seatID string) error {
		released, err := l.releaseSeat(ctx, eventID, seatID)
		if released {
			seats++
		}
		return err
	})
	if err != nil {
		return slots, seats, fmt.Errorf("failed to sweep seat locks: %w", err)
	}

	l.mu.Lock()
	l.lastSweepTime = time.Now()
	l.mu.Unlock()
	return slots, seats, nil
}

func (l *ExpiryListener) sweep(ctx context.Context) {
	slots, seats, err := l.Sweep(ctx)
	if err != nil {
		l.log.Error("expiry sweep failed", zap.Error(err))
		return
	}
	if slots > 0 || seats > 0 {
		l.log.Warn("sweep released expirations missed by notifications",
			zap.Int("slots", slots),
			zap.Int("seats", seats),
		)
	}
}

// Stats returns what this listener has released so far
func (l *ExpiryListener) Stats() (slots, seats int64, lastSweepTime time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalSlots, l.totalSeats, l.lastSweepTime
}
