package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prohmpiriya/booking-rush-gate/internal/domain"
	"github.com/prohmpiriya/booking-rush-gate/internal/repository"
)

// CeilingResolver decides an event's capacity ceiling: an admin override in
// Redis wins, then the event catalog, then the configured default
type CeilingResolver struct {
	slots    repository.SlotStore
	events   repository.EventRepository
	fallback int

	mu       sync.RWMutex
	cache    map[string]cachedCeiling
	cacheTTL time.Duration
}

type cachedCeiling struct {
	value int
	at    time.Time
}

// NewCeilingResolver creates a resolver. events may be nil.
func NewCeilingResolver(slots repository.SlotStore, events repository.EventRepository, fallback int) *CeilingResolver {
	if fallback <= 0 {
		fallback = 500
	}
	return &CeilingResolver{
		slots:    slots,
		events:   events,
		fallback: fallback,
		cache:    make(map[string]cachedCeiling),
		cacheTTL: 30 * time.Second,
	}
}

// Default returns the catalog ceiling, or the configured default. The
// promote primitive applies the Redis override on top.
func (r *CeilingResolver) Default(ctx context.Context, eventID string) int {
	if r.events == nil {
		return r.fallback
	}

	r.mu.RLock()
	c, ok := r.cache[eventID]
	r.mu.RUnlock()
	if ok && time.Since(c.at) < r.cacheTTL {
		return c.value
	}

	value := r.fallback
	ev, err := r.events.GetByID(ctx, eventID)
	switch {
	case err == nil:
		value = ev.Ceiling(r.fallback)
	case errors.Is(err, domain.ErrEventNotFound):
	default:
		// keep serving the last known value through catalog outages
		if ok {
			return c.value
		}
		return r.fallback
	}

	r.mu.Lock()
	r.cache[eventID] = cachedCeiling{value: value, at: time.Now()}
	r.mu.Unlock()
	return value
}

// Effective returns the ceiling the promote primitive will enforce
func (r *CeilingResolver) Effective(ctx context.Context, eventID string) (int64, error) {
	n, ok, err := r.slots.CeilingOverride(ctx, eventID)
	if err != nil {
		return 0, err
	}
	if ok {
		return n, nil
	}
	return int64(r.Default(ctx, eventID)), nil
}
