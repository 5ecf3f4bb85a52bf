package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prohmpiriya/booking-rush-gate/internal/domain"
	"github.com/prohmpiriya/booking-rush-gate/internal/repository"
	"github.com/prohmpiriya/booking-rush-gate/internal/service"
	pkgredis "github.com/prohmpiriya/booking-rush-gate/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const testEventID = "evt-1"

// recordingPublisher records published admission events
type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.AdmissionEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event *domain.AdmissionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count(t domain.AdmissionEventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type workerEnv struct {
	mr        *miniredis.Miniredis
	client    *pkgredis.Client
	waiting   *repository.RedisWaitingLog
	slots     *repository.RedisSlotStore
	seats     *repository.RedisSeatStore
	push      *repository.RedisPushStore
	publisher *recordingPublisher
	releaser  *service.SlotReleaser
	ceilings  *service.CeilingResolver
	tokens    service.TokenService
}

func newWorkerEnv(t *testing.T, defaultCeiling int) *workerEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	client := pkgredis.Wrap(rdb)

	env := &workerEnv{
		mr:        mr,
		client:    client,
		waiting:   repository.NewRedisWaitingLog(client, 10),
		slots:     repository.NewRedisSlotStore(client, 10),
		seats:     repository.NewRedisSeatStore(client),
		push:      repository.NewRedisPushStore(client, 10),
		publisher: &recordingPublisher{},
	}
	env.releaser = service.NewSlotReleaser(env.slots, env.waiting, env.publisher, nil)
	env.ceilings = service.NewCeilingResolver(env.slots, nil, defaultCeiling)
	env.tokens = service.NewTokenService(env.slots, env.releaser, &service.TokenServiceConfig{
		Secret: "worker-test-secret",
		TTL:    time.Minute,
	})
	return env
}

func (e *workerEnv) dispatcher(consumer string, visibility time.Duration) *Dispatcher {
	return NewDispatcher(&DispatcherConfig{
		Consumer:          consumer,
		Interval:          50 * time.Millisecond,
		VisibilityTimeout: visibility,
		Batch:             10,
	}, e.waiting, e.tokens, e.ceilings, e.releaser, e.publisher, nil)
}

func (e *workerEnv) listener() *ExpiryListener {
	return NewExpiryListener(e.client, e.slots, e.seats, e.releaser, &ExpiryListenerConfig{
		SweepInterval: time.Hour,
	}, nil)
}

func (e *workerEnv) join(t *testing.T, eventID string, users ...string) {
	t.Helper()
	for _, u := range users {
		_, err := e.waiting.Join(context.Background(), eventID, u, time.Now())
		require.NoError(t, err)
	}
}

func (e *workerEnv) status(t *testing.T, eventID, userID string) domain.AdmissionStatus {
	t.Helper()
	snap, err := e.waiting.Snapshot(context.Background(), eventID, userID)
	require.NoError(t, err)
	return snap.Status
}

func (e *workerEnv) active(t *testing.T, eventID string) int64 {
	t.Helper()
	n, err := e.slots.Active(context.Background(), eventID)
	require.NoError(t, err)
	return n
}
