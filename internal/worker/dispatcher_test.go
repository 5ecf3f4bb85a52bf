package worker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prohmpiriya/booking-rush-gate/internal/domain"
	"github.com/prohmpiriya/booking-rush-gate/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_CeilingOneScenario(t *testing.T) {
	env := newWorkerEnv(t, 1)
	ctx := context.Background()
	d := env.dispatcher("d1", time.Minute)
	env.join(t, testEventID, "alice", "bob")

	n, err := d.ProcessEvent(ctx, testEventID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.StatusPromoted, env.status(t, testEventID, "alice"))
	assert.Equal(t, domain.StatusWaiting, env.status(t, testEventID, "bob"))
	assert.Equal(t, int64(1), env.active(t, testEventID))

	// alice's token reaches the user through the push channel
	msgs, err := env.push.After(ctx, "alice", "", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.StatusPromoted, msgs[0].Status)
	grant, err := env.tokens.Validate(ctx, msgs[0].EntryToken)
	require.NoError(t, err)
	assert.Equal(t, testEventID, grant.EventID)

	env.mr.FastForward(2 * time.Minute)
	slots, _, err := env.listener().Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, slots)

	n, err = d.ProcessEvent(ctx, testEventID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.StatusPromoted, env.status(t, testEventID, "bob"))
	assert.Equal(t, int64(1), env.active(t, testEventID))

	assert.Equal(t, 2, env.publisher.count(domain.EventEntryPromoted))
	assert.Equal(t, 1, env.publisher.count(domain.EventEntryExpired))
}

func TestDispatcher_PromotesInOrderUpToCeiling(t *testing.T) {
	env := newWorkerEnv(t, 2)
	ctx := context.Background()
	d := env.dispatcher("d1", time.Minute)
	env.join(t, testEventID, "u1", "u2", "u3", "u4")

	n, err := d.ProcessEvent(ctx, testEventID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, domain.StatusPromoted, env.status(t, testEventID, "u1"))
	assert.Equal(t, domain.StatusPromoted, env.status(t, testEventID, "u2"))
	assert.Equal(t, domain.StatusWaiting, env.status(t, testEventID, "u3"))
	assert.Equal(t, domain.StatusWaiting, env.status(t, testEventID, "u4"))

	total, _ := d.Stats()
	assert.Equal(t, int64(2), total)
}

func TestDispatcher_RedeliveryDoesNotDoublePromote(t *testing.T) {
	env := newWorkerEnv(t, 5)
	ctx := context.Background()
	d := env.dispatcher("d1", time.Minute)
	env.join(t, testEventID, "alice")

	n, err := d.ProcessEvent(ctx, testEventID)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	for i := 0; i < 3; i++ {
		n, err = d.ProcessEvent(ctx, testEventID)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	}
	assert.Equal(t, int64(1), env.active(t, testEventID))
	assert.Equal(t, 1, env.publisher.count(domain.EventEntryPromoted))
}

func TestDispatcher_ConsumersDoNotOvertake(t *testing.T) {
	env := newWorkerEnv(t, 1)
	ctx := context.Background()
	d1 := env.dispatcher("d1", time.Minute)
	d2 := env.dispatcher("d2", time.Minute)
	env.join(t, testEventID, "u1", "u2", "u3")

	// d1 takes delivery of every entry but only u1 fits
	n, err := d1.ProcessEvent(ctx, testEventID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	env.join(t, testEventID, "u4")
	require.NoError(t, env.slots.SetCeiling(ctx, testEventID, 10))

	// d2 only sees u4, which must not overtake u2 and u3
	n, err = d2.ProcessEvent(ctx, testEventID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, domain.StatusWaiting, env.status(t, testEventID, "u4"))

	n, err = d1.ProcessEvent(ctx, testEventID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = d2.ProcessEvent(ctx, testEventID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(4), env.active(t, testEventID))
}

func TestDispatcher_TakesOverIdleEntries(t *testing.T) {
	env := newWorkerEnv(t, 1)
	ctx := context.Background()
	crashed := env.dispatcher("crashed", time.Minute)
	env.join(t, testEventID, "u1", "u2")

	n, err := crashed.ProcessEvent(ctx, testEventID)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NoError(t, env.slots.SetCeiling(ctx, testEventID, 5))

	time.Sleep(20 * time.Millisecond)
	survivor := env.dispatcher("survivor", 5*time.Millisecond)

	n, err = survivor.ProcessEvent(ctx, testEventID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.StatusPromoted, env.status(t, testEventID, "u2"))
}

func TestDispatcher_PrunesConsumerThatStoppedHeartbeating(t *testing.T) {
	env := newWorkerEnv(t, 1)
	ctx := context.Background()
	newDispatcher := func(consumer string, visibility time.Duration) *Dispatcher {
		return NewDispatcher(&DispatcherConfig{
			Consumer:          consumer,
			VisibilityTimeout: visibility,
			ConsumerTTL:       time.Second,
			Batch:             10,
		}, env.waiting, env.tokens, env.ceilings, env.releaser, env.publisher, nil)
	}
	crashed := newDispatcher("crashed", time.Minute)
	env.join(t, testEventID, "u1", "u2")

	n, err := crashed.ProcessEvent(ctx, testEventID)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NoError(t, env.slots.SetCeiling(ctx, testEventID, 5))

	time.Sleep(20 * time.Millisecond)
	env.mr.FastForward(2 * time.Second)
	survivor := newDispatcher("survivor", 5*time.Millisecond)

	n, err = survivor.ProcessEvent(ctx, testEventID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.StatusPromoted, env.status(t, testEventID, "u2"))

	consumers, err := env.client.XInfoConsumers(ctx, "gate:wait:"+testEventID, repository.DispatcherGroup)
	require.NoError(t, err)
	var names []string
	for _, c := range consumers {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"survivor"}, names)
}

func TestDispatcher_DefaultConsumerNameIsStable(t *testing.T) {
	assert.Equal(t, defaultConsumerName(), defaultConsumerName())
	assert.True(t, strings.HasPrefix(defaultConsumerName(), "dispatcher-"))
}

func TestDispatcher_RejectsUserHoldingAnotherSlot(t *testing.T) {
	env := newWorkerEnv(t, 5)
	ctx := context.Background()
	d := env.dispatcher("d1", time.Minute)
	env.join(t, testEventID, "alice", "bob")
	env.join(t, "evt-2", "alice")

	n, err := d.ProcessEvent(ctx, "evt-2")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = d.ProcessEvent(ctx, testEventID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.StatusNotInQueue, env.status(t, testEventID, "alice"))
	assert.Equal(t, domain.StatusPromoted, env.status(t, testEventID, "bob"))
	assert.Equal(t, int64(1), env.active(t, testEventID))
	assert.Equal(t, int64(1), env.active(t, "evt-2"))
}

func TestDispatcher_ReleasesUnprocessedExpiryBeforePromoting(t *testing.T) {
	env := newWorkerEnv(t, 5)
	ctx := context.Background()
	d := env.dispatcher("d1", time.Minute)
	env.join(t, testEventID, "alice")
	env.join(t, "evt-2", "alice")

	n, err := d.ProcessEvent(ctx, "evt-2")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// the evt-2 token lapses with no listener running
	env.mr.FastForward(2 * time.Minute)

	n, err = d.ProcessEvent(ctx, testEventID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.StatusPromoted, env.status(t, testEventID, "alice"))
	assert.Equal(t, int64(0), env.active(t, "evt-2"))
	assert.Equal(t, int64(1), env.active(t, testEventID))
}

func TestDispatcher_StartStopsOnCancel(t *testing.T) {
	env := newWorkerEnv(t, 5)
	d := env.dispatcher("d1", time.Minute)
	env.join(t, testEventID, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		snap, err := env.waiting.Snapshot(context.Background(), testEventID, "alice")
		return err == nil && snap.Status == domain.StatusPromoted
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
