package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prohmpiriya/booking-rush-gate/internal/domain"
	"github.com/prohmpiriya/booking-rush-gate/internal/repository"
	pkgredis "github.com/prohmpiriya/booking-rush-gate/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// testTokenSecret is a constant secret used for testing only
const testTokenSecret = "test-entry-token-secret"

const testEventID = "evt-1"

// MockEventPublisher records published events
type MockEventPublisher struct {
	mu     sync.Mutex
	events []*domain.AdmissionEvent
	err    error
}

func (m *MockEventPublisher) Publish(ctx context.Context, event *domain.AdmissionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func (m *MockEventPublisher) Close() error { return nil }

func (m *MockEventPublisher) Types() []domain.AdmissionEventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.AdmissionEventType, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

// MockEventRepository is a mock implementation of EventRepository
type MockEventRepository struct {
	mock.Mock
}

func (m *MockEventRepository) GetByID(ctx context.Context, eventID string) (*domain.Event, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Event), args.Error(1)
}

// MockTicketRepository is a mock implementation of TicketRepository
type MockTicketRepository struct {
	mock.Mock
}

func (m *MockTicketRepository) Save(ctx context.Context, ticket *domain.Ticket) (bool, error) {
	args := m.Called(ctx, ticket)
	return args.Bool(0), args.Error(1)
}

func (m *MockTicketRepository) GetByID(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	args := m.Called(ctx, ticketID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Ticket), args.Error(1)
}

type testEnv struct {
	mr        *miniredis.Miniredis
	waiting   *repository.RedisWaitingLog
	slots     *repository.RedisSlotStore
	seats     *repository.RedisSeatStore
	push      *repository.RedisPushStore
	publisher *MockEventPublisher
	releaser  *SlotReleaser
	ceilings  *CeilingResolver
	tokens    TokenService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	client := pkgredis.Wrap(rdb)

	env := &testEnv{
		mr:        mr,
		waiting:   repository.NewRedisWaitingLog(client, 10),
		slots:     repository.NewRedisSlotStore(client, 10),
		seats:     repository.NewRedisSeatStore(client),
		push:      repository.NewRedisPushStore(client, 10),
		publisher: &MockEventPublisher{},
	}
	env.releaser = NewSlotReleaser(env.slots, env.waiting, env.publisher, nil)
	env.ceilings = NewCeilingResolver(env.slots, nil, 10)
	env.tokens = NewTokenService(env.slots, env.releaser, &TokenServiceConfig{
		Secret: testTokenSecret,
		TTL:    time.Minute,
	})
	return env
}

func (e *testEnv) admission() AdmissionService {
	return NewAdmissionService(e.waiting, e.slots, e.push, nil, e.releaser, e.ceilings,
		&AdmissionServiceConfig{EstimatedWaitPerUser: 2 * time.Second}, nil)
}

// admit joins and promotes userID the way a dispatcher does
func (e *testEnv) admit(t *testing.T, eventID, userID string) *domain.EntryToken {
	t.Helper()
	ctx := context.Background()

	_, err := e.waiting.Join(ctx, eventID, userID, time.Now())
	require.NoError(t, err)
	require.NoError(t, e.waiting.EnsureGroup(ctx, eventID))

	entries, err := e.waiting.ReadNew(ctx, eventID, "test-dispatcher", 10)
	require.NoError(t, err)
	var entry *domain.WaitingEntry
	for i := range entries {
		if entries[i].UserID == userID {
			entry = &entries[i]
		}
	}
	require.NotNil(t, entry, "entry for %s not delivered", userID)

	tok, err := e.tokens.Mint(userID, eventID, time.Now())
	require.NoError(t, err)
	res, err := e.waiting.Promote(ctx, repository.PromoteParams{
		Entry:          *entry,
		Token:          tok,
		DefaultCeiling: 10,
		Push:           domain.PromotedMessage(tok),
	})
	require.NoError(t, err)
	require.Equal(t, domain.OutcomePromoted, res.Outcome)
	return tok
}
