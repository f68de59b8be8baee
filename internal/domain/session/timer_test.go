package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/focus-quest/internal/domain/shared"
)

// ─────────────────────────────────────────────────────────────────────────────
// Test doubles
// ─────────────────────────────────────────────────────────────────────────────

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	tk := &fakeTicker{ch: make(chan time.Time)}
	c.tickers = append(c.tickers, tk)
	return tk
}

// Tick delivers one tick to the most recent ticker.
func (c *fakeClock) Tick(t *testing.T) {
	t.Helper()
	c.mu.Lock()
	require.NotEmpty(t, c.tickers)
	tk := c.tickers[len(c.tickers)-1]
	now := c.now
	c.mu.Unlock()

	select {
	case tk.ch <- now:
	case <-time.After(time.Second):
		t.Fatal("tick was not consumed")
	}
}

type fakeTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }

func (f *fakeTicker) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
	err    error
}

func (p *recordingPublisher) Publish(event shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) ofType(eventType shared.EventType) []shared.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []shared.Event
	for _, e := range p.events {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

func newTestTimer(t *testing.T, maxBackground time.Duration) (*Timer, *fakeClock, *recordingPublisher) {
	t.Helper()
	clock := newFakeClock()
	pub := &recordingPublisher{}
	timer, err := NewTimer(TimerConfig{
		UserID:        "user-1",
		MaxBackground: maxBackground,
		Clock:         clock,
		Publisher:     pub,
	})
	require.NoError(t, err)
	return timer, clock, pub
}

// ─────────────────────────────────────────────────────────────────────────────
// Timer
// ─────────────────────────────────────────────────────────────────────────────

func TestTimer_StartStopAccepted(t *testing.T) {
	timer, clock, pub := newTestTimer(t, 30*time.Second)

	require.True(t, timer.Start())
	clock.Advance(1500 * time.Second)

	outcome, err := timer.Stop()
	require.NoError(t, err)

	assert.True(t, outcome.Accepted)
	assert.Equal(t, StatusAccepted, outcome.Status())
	assert.Equal(t, 1500*time.Second, outcome.StudyTime)
	assert.Equal(t, StateIdle, timer.Snapshot().State)
	assert.Zero(t, timer.Snapshot().Elapsed)

	completed := pub.ofType(shared.EventSessionCompleted)
	require.Len(t, completed, 1)
	event := completed[0].(shared.SessionCompletedEvent)
	assert.Equal(t, "user-1", event.UserID)
	assert.Equal(t, 1500*time.Second, event.StudyTime)
	assert.Len(t, pub.ofType(shared.EventSessionStarted), 1)
}

func TestTimer_BackgroundExceededRejects(t *testing.T) {
	timer, clock, pub := newTestTimer(t, 30*time.Second)

	require.True(t, timer.Start())
	clock.Advance(10 * time.Second)
	timer.EnterBackground()
	clock.Advance(45 * time.Second)
	timer.EnterForeground()
	clock.Advance(5 * time.Second)

	outcome, err := timer.Stop()
	require.NoError(t, err)

	assert.False(t, outcome.Accepted)
	assert.Equal(t, 45*time.Second, outcome.BackgroundTime)
	assert.Empty(t, pub.ofType(shared.EventSessionCompleted))

	rejected := pub.ofType(shared.EventSessionRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, 60*time.Second, rejected[0].(shared.SessionRejectedEvent).StudyTime)
}

func TestTimer_BackgroundAtThresholdAccepted(t *testing.T) {
	timer, clock, pub := newTestTimer(t, 30*time.Second)

	require.True(t, timer.Start())
	timer.EnterBackground()
	clock.Advance(30 * time.Second)
	timer.EnterForeground()
	clock.Advance(30 * time.Second)

	outcome, err := timer.Stop()
	require.NoError(t, err)
	assert.True(t, outcome.Accepted)
	assert.Len(t, pub.ofType(shared.EventSessionCompleted), 1)
}

func TestTimer_OpenBackgroundClosedAtStop(t *testing.T) {
	timer, clock, _ := newTestTimer(t, 30*time.Second)

	require.True(t, timer.Start())
	clock.Advance(5 * time.Second)
	timer.EnterBackground()
	timer.EnterBackground()
	clock.Advance(90 * time.Second)

	outcome, err := timer.Stop()
	require.NoError(t, err)
	assert.False(t, outcome.Accepted)
	assert.Equal(t, 90*time.Second, outcome.BackgroundTime)
}

func TestTimer_StopFromIdle(t *testing.T) {
	timer, _, pub := newTestTimer(t, 0)

	_, err := timer.Stop()
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.True(t, shared.IsStateConflict(err))
	assert.False(t, timer.ForceStop("idle"))
	assert.Empty(t, pub.events)
}

func TestTimer_StartIsIdempotent(t *testing.T) {
	timer, clock, pub := newTestTimer(t, 0)

	require.True(t, timer.Start())
	first := timer.Snapshot()
	clock.Advance(3 * time.Second)
	assert.False(t, timer.Start())

	second := timer.Snapshot()
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, first.StartedAt, second.StartedAt)
	assert.Len(t, pub.ofType(shared.EventSessionStarted), 1)

	_, err := timer.Stop()
	require.NoError(t, err)
}

func TestTimer_ForceStopDiscards(t *testing.T) {
	timer, clock, pub := newTestTimer(t, 0)

	require.True(t, timer.Start())
	clock.Advance(20 * time.Second)
	clock.Tick(t)

	assert.True(t, timer.ForceStop("user_logout"))
	assert.False(t, timer.IsRunning())
	assert.Empty(t, pub.ofType(shared.EventSessionCompleted))

	aborted := pub.ofType(shared.EventSessionAborted)
	require.Len(t, aborted, 1)
	assert.Equal(t, "user_logout", aborted[0].(shared.SessionAbortedEvent).Reason)

	_, err := timer.Stop()
	assert.ErrorIs(t, err, ErrNotRunning)

	clock.mu.Lock()
	tk := clock.tickers[0]
	clock.mu.Unlock()
	tk.mu.Lock()
	assert.True(t, tk.stopped)
	tk.mu.Unlock()
}

func TestTimer_TickIsDeltaBased(t *testing.T) {
	timer, clock, _ := newTestTimer(t, 0)
	require.True(t, timer.Start())

	clock.Advance(5 * time.Second)
	clock.Tick(t)
	assert.Eventually(t, func() bool {
		return timer.Snapshot().Elapsed == 5*time.Second
	}, time.Second, 5*time.Millisecond)

	// one tick after a long stall still reports the full wall-clock delta
	clock.Advance(7700 * time.Millisecond)
	clock.Tick(t)
	assert.Eventually(t, func() bool {
		return timer.Snapshot().Elapsed == 12*time.Second
	}, time.Second, 5*time.Millisecond)

	outcome, err := timer.Stop()
	require.NoError(t, err)
	assert.Equal(t, 12*time.Second, outcome.StudyTime)
}

func TestTimer_RestartResetsTracker(t *testing.T) {
	timer, clock, pub := newTestTimer(t, 30*time.Second)

	require.True(t, timer.Start())
	timer.EnterBackground()
	clock.Advance(45 * time.Second)
	timer.EnterForeground()
	outcome, err := timer.Stop()
	require.NoError(t, err)
	require.False(t, outcome.Accepted)

	require.True(t, timer.Start())
	assert.Zero(t, timer.Snapshot().BackgroundTotal)
	clock.Advance(10 * time.Second)
	outcome, err = timer.Stop()
	require.NoError(t, err)
	assert.True(t, outcome.Accepted)
	assert.Len(t, pub.ofType(shared.EventSessionCompleted), 1)
}

func TestTimer_BackgroundIgnoredWhileIdle(t *testing.T) {
	timer, clock, _ := newTestTimer(t, 30*time.Second)

	timer.EnterBackground()
	clock.Advance(time.Minute)
	timer.EnterForeground()
	assert.Zero(t, timer.Snapshot().BackgroundTotal)
}

func TestTimer_PublishFailureSurfaces(t *testing.T) {
	timer, clock, pub := newTestTimer(t, 0)
	require.True(t, timer.Start())
	clock.Advance(time.Second)

	pub.mu.Lock()
	pub.err = errors.New("bus closed")
	pub.mu.Unlock()

	outcome, err := timer.Stop()
	assert.Error(t, err)
	assert.True(t, outcome.Accepted)
	assert.False(t, timer.IsRunning())
}

func TestNewTimer_RequiresUserAndPublisher(t *testing.T) {
	_, err := NewTimer(TimerConfig{Publisher: &recordingPublisher{}})
	assert.True(t, shared.IsMissingContext(err))

	_, err = NewTimer(TimerConfig{UserID: "u"})
	assert.Error(t, err)
}

// ─────────────────────────────────────────────────────────────────────────────
// Background tracker
// ─────────────────────────────────────────────────────────────────────────────

func TestBackgroundTracker(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tracker := NewBackgroundTracker(30 * time.Second)

	tracker.OnEnterForeground(base)
	assert.Zero(t, tracker.Total())

	tracker.OnEnterBackground(base)
	tracker.OnEnterBackground(base.Add(10 * time.Second))
	assert.Equal(t, 20*time.Second, tracker.TotalAt(base.Add(20*time.Second)))
	assert.Zero(t, tracker.Total())

	tracker.OnEnterForeground(base.Add(30 * time.Second))
	assert.Equal(t, 30*time.Second, tracker.Total())
	assert.False(t, tracker.Exceeded())

	tracker.OnEnterBackground(base.Add(40 * time.Second))
	tracker.OnEnterForeground(base.Add(39 * time.Second))
	assert.Equal(t, 30*time.Second, tracker.Total())

	tracker.OnEnterBackground(base.Add(50 * time.Second))
	tracker.Finalize(base.Add(51 * time.Second))
	assert.True(t, tracker.Exceeded())

	tracker.ResetSession()
	assert.Zero(t, tracker.Total())
	assert.False(t, tracker.InBackground())

	assert.Equal(t, DefaultMaxBackground, NewBackgroundTracker(0).MaxAllowed())
}
