package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/focus-quest/internal/domain/leaderboard"
	"github.com/alem-hub/focus-quest/internal/domain/progression"
	"github.com/alem-hub/focus-quest/internal/domain/session"
	"github.com/alem-hub/focus-quest/internal/domain/shared"
	"github.com/alem-hub/focus-quest/internal/domain/user"
	"github.com/alem-hub/focus-quest/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/focus-quest/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// TEST DOUBLES
// ══════════════════════════════════════════════════════════════════════════════

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(event shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) ofType(t shared.EventType) []shared.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []shared.Event
	for _, e := range p.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

// flakyRepo fails Save while failing is set.
type flakyRepo struct {
	*memory.UserRepository
	mu      sync.Mutex
	failing bool
	reject  error
	saves   int
}

var errStorageDown = errors.New("storage down")

func (r *flakyRepo) Save(ctx context.Context, u *user.User) error {
	r.mu.Lock()
	r.saves++
	failing, reject := r.failing, r.reject
	r.mu.Unlock()
	if reject != nil {
		return reject
	}
	if failing {
		return errStorageDown
	}
	return r.UserRepository.Save(ctx, u)
}

func (r *flakyRepo) setFailing(v bool) {
	r.mu.Lock()
	r.failing = v
	r.mu.Unlock()
}

type fakeLeaderboard struct {
	mu      sync.Mutex
	updates []leaderboard.Entry
}

func (f *fakeLeaderboard) Update(_ context.Context, e leaderboard.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, e)
	return nil
}

func (f *fakeLeaderboard) Top(context.Context, int) ([]leaderboard.Entry, error) {
	return nil, leaderboard.ErrCacheCold
}

func (f *fakeLeaderboard) Rebuild(context.Context, []leaderboard.Entry, int) error { return nil }

type remoteCompleted struct {
	shared.SessionCompletedEvent
}

func (remoteCompleted) Remote() bool { return true }

type fixture struct {
	repo      *flakyRepo
	store     *UserStore
	sessions  *memory.SessionLogRepository
	publisher *recordingPublisher
	board     *fakeLeaderboard
	engine    *progression.Engine
	award     *AwardStudyTimeHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	engine, err := progression.NewEngine(progression.DefaultCurve(), nil, nil)
	require.NoError(t, err)

	f := &fixture{
		repo:      &flakyRepo{UserRepository: memory.NewUserRepository()},
		sessions:  memory.NewSessionLogRepository(),
		publisher: &recordingPublisher{},
		board:     &fakeLeaderboard{},
		engine:    engine,
	}
	f.store = NewUserStore(f.repo, retry.New(retry.WithMaxAttempts(1)), nil)

	f.award, err = NewAwardStudyTimeHandler(AwardStudyTimeConfig{
		Store:       f.store,
		Engine:      engine,
		Publisher:   f.publisher,
		Sessions:    f.sessions,
		Leaderboard: f.board,
		Now:         func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) seedUser(t *testing.T, id string) *user.User {
	t.Helper()
	u, err := user.New(id, "", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, f.repo.UserRepository.Save(context.Background(), u))
	return u
}

// ══════════════════════════════════════════════════════════════════════════════
// AWARD
// ══════════════════════════════════════════════════════════════════════════════

func TestAward_MultiLevelJump(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u-1")

	res, err := f.award.Handle(context.Background(), AwardStudyTimeCommand{
		UserID:    "u-1",
		SessionID: "s-1",
		StudyTime: 6000 * time.Second,
	})
	require.NoError(t, err)
	assert.True(t, res.Persisted)
	assert.Equal(t, 1, res.Progression.PreviousLevel)
	assert.Equal(t, 8, res.Progression.NewLevel)
	assert.ElementsMatch(t, []string{"mochi", "kitsune"}, res.Progression.UnlockedCompanionIDs)

	stored, err := f.repo.Load(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, 8, stored.Level)
	assert.InDelta(t, 131, stored.Experience, 1e-9)
	assert.Equal(t, 6000*time.Second, stored.TotalStudyTime)

	assert.Len(t, f.publisher.ofType(shared.EventExperienceAwarded), 1)
	levelUps := f.publisher.ofType(shared.EventLevelUp)
	require.Len(t, levelUps, 1)
	assert.Equal(t, 7, levelUps[0].(shared.LevelUpEvent).LevelsGained())
	assert.Len(t, f.publisher.ofType(shared.EventCompanionUnlocked), 2)

	records, err := f.sessions.ListByUser(context.Background(), "u-1", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, session.StatusAccepted, records[0].Status)
	assert.InDelta(t, 6000, records[0].EarnedExperience, 1e-9)

	require.Len(t, f.board.updates, 1)
	assert.Equal(t, int64(6000), f.board.updates[0].TotalStudySeconds())
}

func TestAward_CompanionBoostLeavesStudyTimeUnboosted(t *testing.T) {
	f := newFixture(t)
	u := f.seedUser(t, "u-1")
	u.Level = 10
	u.UnlockCompanion("tanuki")
	require.NoError(t, u.EquipCompanion("tanuki"))
	require.NoError(t, f.repo.UserRepository.Save(context.Background(), u))

	res, err := f.award.Handle(context.Background(), AwardStudyTimeCommand{UserID: "u-1", SessionID: "s-1", StudyTime: 100 * time.Second})
	require.NoError(t, err)
	assert.InDelta(t, 120, res.Progression.EarnedExperience, 1e-9)
	assert.Equal(t, 100*time.Second, res.User.TotalStudyTime)
}

func TestAward_MissingUserIDIsAnError(t *testing.T) {
	f := newFixture(t)

	event := shared.NewSessionCompletedEvent("", "s-1", time.Minute, 0, time.Time{}, time.Time{})
	err := f.award.HandleEvent(event)

	require.Error(t, err)
	assert.True(t, shared.IsMissingContext(err))
	assert.Empty(t, f.publisher.events)
}

func TestAward_UnknownUserIsMissingContext(t *testing.T) {
	f := newFixture(t)

	_, err := f.award.Handle(context.Background(), AwardStudyTimeCommand{UserID: "ghost", StudyTime: time.Minute})
	require.Error(t, err)
	assert.True(t, shared.IsMissingContext(err))
}

func TestAward_FailedSaveIsFlushedWithoutDoubleAward(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u-1")
	ctx := context.Background()

	f.repo.setFailing(true)
	res, err := f.award.Handle(ctx, AwardStudyTimeCommand{UserID: "u-1", SessionID: "s-1", StudyTime: 600 * time.Second})
	require.Error(t, err)
	assert.ErrorIs(t, err, errStorageDown)
	require.NotNil(t, res)
	assert.False(t, res.Persisted)
	assert.Equal(t, 1, f.store.PendingCount())

	stored, err := f.repo.Load(ctx, "u-1")
	require.NoError(t, err)
	assert.Zero(t, stored.TotalStudyTime)

	// a second award builds on the pending copy
	_, err = f.award.Handle(ctx, AwardStudyTimeCommand{UserID: "u-1", SessionID: "s-2", StudyTime: 100 * time.Second})
	require.Error(t, err)

	f.repo.setFailing(false)
	flushed, err := f.award.FlushPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, flushed)
	assert.Zero(t, f.store.PendingCount())

	stored, err = f.repo.Load(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, 700*time.Second, stored.TotalStudyTime)
	// 700 XP: level 1 needs 150, level 2 needs 341
	assert.Equal(t, 3, stored.Level)
	assert.InDelta(t, 209, stored.Experience, 1e-9)

	flushed, err = f.award.FlushPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, flushed)

	again, err := f.repo.Load(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, 700*time.Second, again.TotalStudyTime)
}

func TestUserStore_InvalidUserIsNotRetriedOrKept(t *testing.T) {
	repo := &flakyRepo{UserRepository: memory.NewUserRepository()}
	store := NewUserStore(repo, retry.StorageRetrier().With(
		retry.WithSleep(func(context.Context, time.Duration) error { return nil }),
	), nil)

	u, err := user.New("u-1", "", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	u.Level = 0

	err = store.Put(context.Background(), u)
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
	assert.Equal(t, 1, repo.saves)
	assert.Zero(t, store.PendingCount())

	// transient failures are still retried
	repo.setFailing(true)
	u.Level = 1
	require.Error(t, store.Put(context.Background(), u))
	assert.Equal(t, 1+3, repo.saves)
	assert.Equal(t, 1, store.PendingCount())
}

func TestUserStore_FlushDropsRejectedUser(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u-1")
	ctx := context.Background()

	f.repo.setFailing(true)
	_, err := f.award.Handle(ctx, AwardStudyTimeCommand{UserID: "u-1", SessionID: "s-1", StudyTime: time.Minute})
	require.Error(t, err)
	require.Equal(t, 1, f.store.PendingCount())

	f.repo.mu.Lock()
	f.repo.reject = shared.ErrUserInvariantViolated
	f.repo.mu.Unlock()

	flushed, err := f.award.FlushPending(ctx)
	assert.Zero(t, flushed)
	assert.True(t, shared.IsValidation(err))
	assert.Zero(t, f.store.PendingCount())

	// nothing left to retry
	_, err = f.award.FlushPending(ctx)
	assert.NoError(t, err)
}

func TestAward_DuplicateSessionIgnored(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u-1")
	ctx := context.Background()

	cmd := AwardStudyTimeCommand{UserID: "u-1", SessionID: "s-1", StudyTime: time.Minute}
	_, err := f.award.Handle(ctx, cmd)
	require.NoError(t, err)

	res, err := f.award.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	stored, err := f.repo.Load(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, stored.TotalStudyTime)
}

func TestAward_TooLongIsRejectedAndJournaled(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u-1")
	ctx := context.Background()

	_, err := f.award.Handle(ctx, AwardStudyTimeCommand{UserID: "u-1", SessionID: "s-1", StudyTime: 13 * time.Hour})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrSessionTooLong)
	assert.True(t, shared.IsValidation(err))

	stored, err := f.repo.Load(ctx, "u-1")
	require.NoError(t, err)
	assert.Zero(t, stored.TotalStudyTime)

	records, err := f.sessions.ListByUser(ctx, "u-1", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, session.StatusRejected, records[0].Status)
}

func TestAward_ZeroStudyTimeIsNoop(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u-1")

	res, err := f.award.Handle(context.Background(), AwardStudyTimeCommand{UserID: "u-1", SessionID: "s-0"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Progression.NewLevel)
	assert.Empty(t, f.publisher.events)
}

func TestAward_RemoteEventsAreSkipped(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u-1")

	event := remoteCompleted{shared.NewSessionCompletedEvent("u-1", "s-1", time.Hour, 0, time.Time{}, time.Time{})}
	require.NoError(t, f.award.HandleEvent(event))

	stored, err := f.repo.Load(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Zero(t, stored.TotalStudyTime)
}

type payloadEvent struct {
	shared.BaseEvent
	payload map[string]interface{}
}

func (e payloadEvent) Payload() map[string]interface{} { return e.payload }

func TestAward_DecodesPayloadEvents(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u-1")

	event := payloadEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventSessionCompleted, "u-1"),
		payload: map[string]interface{}{
			"user_id":         "u-1",
			"session_id":      "s-9",
			"study_seconds":   float64(90),
			"background_time": "3s",
			"started_at":      "2025-03-01T10:00:00Z",
			"ended_at":        "2025-03-01T10:01:33Z",
		},
	}
	require.NoError(t, f.award.HandleEvent(event))

	stored, err := f.repo.Load(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, stored.TotalStudyTime)

	records, err := f.sessions.ListByUser(context.Background(), "u-1", 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 3*time.Second, records[0].BackgroundTime)
}

// ══════════════════════════════════════════════════════════════════════════════
// OTHER COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

func TestCreateUser(t *testing.T) {
	f := newFixture(t)
	h := NewCreateUserHandler(f.store, f.engine, f.publisher, nil)
	ctx := context.Background()

	u, err := h.Handle(ctx, CreateUserCommand{ID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, user.DefaultNickname, u.Nickname)
	assert.Equal(t, []string{"mochi"}, u.UnlockedCompanionIDs)
	assert.Len(t, f.publisher.ofType(shared.EventUserCreated), 1)

	_, err = h.Handle(ctx, CreateUserCommand{ID: "u-1"})
	assert.True(t, shared.IsAlreadyExists(err))

	generated, err := h.Handle(ctx, CreateUserCommand{Nickname: "neko"})
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID)
	assert.Equal(t, "neko", generated.Nickname)
}

func TestEquipCompanion(t *testing.T) {
	f := newFixture(t)
	h := NewEquipCompanionHandler(f.store, f.engine.Catalog(), f.publisher, nil)
	ctx := context.Background()

	u := f.seedUser(t, "u-1")
	u.UnlockCompanion("mochi")
	require.NoError(t, f.repo.UserRepository.Save(ctx, u))

	_, err := h.Handle(ctx, EquipCompanionCommand{UserID: "u-1", CompanionID: "kitsune"})
	assert.ErrorIs(t, err, shared.ErrCompanionNotUnlocked)
	assert.True(t, shared.IsStateConflict(err))

	_, err = h.Handle(ctx, EquipCompanionCommand{UserID: "u-1", CompanionID: "phoenix"})
	assert.True(t, shared.IsNotFound(err))

	equipped, err := h.Handle(ctx, EquipCompanionCommand{UserID: "u-1", CompanionID: "mochi"})
	require.NoError(t, err)
	assert.Equal(t, "mochi", equipped.ActiveCompanionID)
	assert.Len(t, f.publisher.ofType(shared.EventCompanionEquipped), 1)

	cleared, err := h.Handle(ctx, EquipCompanionCommand{UserID: "u-1"})
	require.NoError(t, err)
	assert.Empty(t, cleared.ActiveCompanionID)
}

func TestJournalRejected(t *testing.T) {
	logs := memory.NewSessionLogRepository()
	h := NewJournalRejectedHandler(logs, nil)

	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	event := shared.NewSessionRejectedEvent("u-1", "s-1", 90*time.Second, 45*time.Second, 30*time.Second, start, start.Add(90*time.Second))
	require.NoError(t, h.HandleEvent(event))

	records, err := logs.ListByUser(context.Background(), "u-1", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, session.StatusRejected, records[0].Status)
	assert.Equal(t, 45*time.Second, records[0].BackgroundTime)
	assert.Zero(t, records[0].EarnedExperience)
}
