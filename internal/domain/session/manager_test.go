package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/focus-quest/internal/domain/shared"
)

func newTestManager(t *testing.T) (*Manager, *fakeClock, *recordingPublisher) {
	t.Helper()
	clock := newFakeClock()
	pub := &recordingPublisher{}
	ids := 0
	m, err := NewManager(ManagerConfig{
		MaxBackground: time.Minute,
		Clock:         clock,
		Publisher:     pub,
		NewSessionID: func() string {
			ids++
			return "s-" + string(rune('0'+ids))
		},
	})
	require.NoError(t, err)
	return m, clock, pub
}

func TestManager_OneTimerPerUser(t *testing.T) {
	m, _, _ := newTestManager(t)

	a, err := m.Get("alice")
	require.NoError(t, err)
	again, err := m.Get("alice")
	require.NoError(t, err)
	b, err := m.Get("bob")
	require.NoError(t, err)

	assert.Same(t, a, again)
	assert.NotSame(t, a, b)

	_, err = m.Get("")
	assert.True(t, shared.IsMissingContext(err))

	_, ok := m.Lookup("carol")
	assert.False(t, ok)
}

func TestManager_ActiveAndShutdown(t *testing.T) {
	m, clock, pub := newTestManager(t)

	bob, err := m.Get("bob")
	require.NoError(t, err)
	alice, err := m.Get("alice")
	require.NoError(t, err)
	_, err = m.Get("idle")
	require.NoError(t, err)

	require.True(t, bob.Start())
	require.True(t, alice.Start())
	clock.Advance(10 * time.Second)

	active := m.Active()
	require.Len(t, active, 2)
	assert.Equal(t, "alice", active[0].UserID)
	assert.Equal(t, "bob", active[1].UserID)

	assert.Equal(t, 2, m.Shutdown("shutdown"))
	assert.Empty(t, m.Active())
	assert.Len(t, pub.ofType(shared.EventSessionAborted), 2)
	assert.Empty(t, pub.ofType(shared.EventSessionCompleted))
}

func TestManager_Abort(t *testing.T) {
	m, _, pub := newTestManager(t)

	timer, err := m.Get("alice")
	require.NoError(t, err)
	require.True(t, timer.Start())

	assert.True(t, m.Abort("alice", "account_deleted"))
	assert.False(t, timer.IsRunning())
	assert.False(t, m.Abort("alice", "again"))
	assert.False(t, m.Abort("nobody", "again"))
	assert.Len(t, pub.ofType(shared.EventSessionAborted), 1)
}

func TestManager_AbortedTimerStaysReachable(t *testing.T) {
	m, _, pub := newTestManager(t)

	held, err := m.Get("alice")
	require.NoError(t, err)
	require.True(t, held.Start())
	require.True(t, m.Abort("alice", "started_elsewhere"))

	// a handler still holding the timer restarts it
	require.True(t, held.Start())

	same, ok := m.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, held, same)

	assert.Equal(t, 1, m.Shutdown("test"))
	assert.False(t, held.IsRunning())
	assert.Len(t, pub.ofType(shared.EventSessionAborted), 2)
}

func TestNewManager_RequiresPublisher(t *testing.T) {
	_, err := NewManager(ManagerConfig{})
	assert.Error(t, err)
}
