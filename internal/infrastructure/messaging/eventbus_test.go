package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/focus-quest/internal/domain/shared"
)

func TestInMemoryEventBus_Sync(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{EnableMetrics: true})

	var got []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventSessionCompleted, func(e shared.Event) error {
		got = append(got, e.EventType())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		got = append(got, "all:"+e.EventType())
		return nil
	}))

	event := shared.NewSessionCompletedEvent("u1", "s1", time.Minute, 0, time.Now(), time.Now())
	require.NoError(t, bus.Publish(event))

	assert.Equal(t, []shared.EventType{shared.EventSessionCompleted, "all:" + shared.EventSessionCompleted}, got)

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.TotalPublished)
	assert.Equal(t, int64(2), snap.TotalHandlerExecs)
}

func TestInMemoryEventBus_SyncReturnsHandlerError(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{})
	boom := errors.New("boom")

	calls := 0
	require.NoError(t, bus.Subscribe(shared.EventLevelUp, func(shared.Event) error { calls++; return boom }))
	require.NoError(t, bus.Subscribe(shared.EventLevelUp, func(shared.Event) error { calls++; return nil }))

	err := bus.Publish(shared.NewLevelUpEvent("u1", 1, 2, "bronze I"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

func TestInMemoryEventBus_RecoversPanics(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{EnableMetrics: true})
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("bad handler") }))

	err := bus.Publish(shared.NewUserCreatedEvent("u1", "neo"))
	assert.ErrorIs(t, err, ErrHandlerPanic)
	assert.Equal(t, int64(1), bus.Metrics().Snapshot().HandlerFailures)
}

func TestInMemoryEventBus_AsyncCloseDrains(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})

	var handled atomic.Int32
	require.NoError(t, bus.Subscribe(shared.EventSessionCompleted, func(shared.Event) error {
		time.Sleep(5 * time.Millisecond)
		handled.Add(1)
		return nil
	}))

	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(shared.NewSessionCompletedEvent("u1", "s", time.Second, 0, time.Now(), time.Now())))
	}
	require.NoError(t, bus.Close())

	assert.Equal(t, int32(10), handled.Load())
	assert.ErrorIs(t, bus.Publish(shared.NewUserCreatedEvent("u1", "neo")), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventLevelUp, func(shared.Event) error { return nil }), ErrEventBusClosed)
}

// ─────────────────────────────────────────────────────────────────────────────
// Redis bus over an in-process broker
// ─────────────────────────────────────────────────────────────────────────────

type fakeBroker struct {
	mu   sync.Mutex
	subs []chan RedisMessage
}

type fakeRedisClient struct {
	broker *fakeBroker
}

func (c *fakeRedisClient) Publish(_ context.Context, channel string, message interface{}) error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	for _, sub := range c.broker.subs {
		sub <- RedisMessage{Channel: channel, Payload: message.(string)}
	}
	return nil
}

func (c *fakeRedisClient) Subscribe(_ context.Context, _ ...string) (<-chan RedisMessage, error) {
	ch := make(chan RedisMessage, 16)
	c.broker.mu.Lock()
	c.broker.subs = append(c.broker.subs, ch)
	c.broker.mu.Unlock()
	return ch, nil
}

func (c *fakeRedisClient) Close() error { return nil }

func TestRedisEventBus_FanOut(t *testing.T) {
	broker := &fakeBroker{}

	busA, err := NewRedisEventBus(RedisEventBusConfig{Client: &fakeRedisClient{broker: broker}, InstanceID: "a"})
	require.NoError(t, err)
	busB, err := NewRedisEventBus(RedisEventBusConfig{Client: &fakeRedisClient{broker: broker}, InstanceID: "b"})
	require.NoError(t, err)

	var mu sync.Mutex
	var local, remote []shared.Event
	record := func(dst *[]shared.Event) shared.EventHandler {
		return func(e shared.Event) error {
			mu.Lock()
			defer mu.Unlock()
			*dst = append(*dst, e)
			return nil
		}
	}
	require.NoError(t, busA.Subscribe(shared.EventSessionStarted, record(&local)))
	require.NoError(t, busB.Subscribe(shared.EventSessionStarted, record(&remote)))

	require.NoError(t, busA.Publish(shared.NewSessionStartedEvent("u1", "s1", time.Now())))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(remote) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, busA.Close())
	require.NoError(t, busB.Close())

	require.Len(t, local, 1)
	assert.False(t, shared.IsRemote(local[0]))
	assert.True(t, shared.IsRemote(remote[0]))
	assert.Equal(t, "u1", remote[0].AggregateID())
	assert.Equal(t, "s1", remote[0].Payload()["session_id"])
}

func TestNewRedisEventBus_RequiresClient(t *testing.T) {
	_, err := NewRedisEventBus(RedisEventBusConfig{})
	assert.Error(t, err)
}
