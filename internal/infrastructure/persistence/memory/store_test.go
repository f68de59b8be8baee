package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/focus-quest/internal/domain/session"
	"github.com/alem-hub/focus-quest/internal/domain/shared"
	"github.com/alem-hub/focus-quest/internal/domain/user"
)

func mustUser(t *testing.T, id string, studied time.Duration) *user.User {
	t.Helper()
	u, err := user.New(id, "", time.Now())
	require.NoError(t, err)
	u.TotalStudyTime = studied
	return u
}

func TestUserRepository_CopiesOnLoadAndSave(t *testing.T) {
	repo := NewUserRepository()
	ctx := context.Background()

	u := mustUser(t, "u-1", time.Minute)
	u.UnlockCompanion("mochi")
	require.NoError(t, repo.Save(ctx, u))

	u.Level = 9
	u.UnlockCompanion("kitsune")

	loaded, err := repo.Load(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Level)
	assert.Equal(t, []string{"mochi"}, loaded.UnlockedCompanionIDs)

	loaded.UnlockedCompanionIDs[0] = "changed"
	again, err := repo.Load(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"mochi"}, again.UnlockedCompanionIDs)
}

func TestUserRepository_CreateAndMissing(t *testing.T) {
	repo := NewUserRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, mustUser(t, "u-1", 0)))
	assert.ErrorIs(t, repo.Create(ctx, mustUser(t, "u-1", 0)), shared.ErrUserAlreadyExists)

	_, err := repo.Load(ctx, "ghost")
	assert.True(t, shared.IsNotFound(err))
	assert.Equal(t, 1, repo.Len())
}

func TestUserRepository_TopOrderingAndRank(t *testing.T) {
	repo := NewUserRepository()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, mustUser(t, "b", 10*time.Minute)))
	require.NoError(t, repo.Save(ctx, mustUser(t, "a", 10*time.Minute)))
	require.NoError(t, repo.Save(ctx, mustUser(t, "c", 30*time.Minute)))
	require.NoError(t, repo.Save(ctx, mustUser(t, "d", time.Minute)))

	top, err := repo.TopByTotalStudyTime(ctx, 3)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, "c", top[0].ID)
	assert.Equal(t, "a", top[1].ID)
	assert.Equal(t, "b", top[2].ID)
	assert.Equal(t, 2, top[1].Rank)

	all, err := repo.TopByTotalStudyTime(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	rank, err := repo.RankOf(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, 4, rank)
}

func TestUserRepository_RespectsContext(t *testing.T) {
	repo := NewUserRepository()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.Load(ctx, "u-1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSessionLogRepository(t *testing.T) {
	logs := NewSessionLogRepository()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, logs.Append(ctx, session.Record{ID: "s-1", UserID: "u", EndedAt: base, Status: session.StatusAccepted}))
	require.NoError(t, logs.Append(ctx, session.Record{ID: "s-2", UserID: "u", EndedAt: base.Add(time.Hour), Status: session.StatusRejected}))
	require.NoError(t, logs.Append(ctx, session.Record{ID: "s-1", UserID: "u", EndedAt: base.Add(2 * time.Hour), Status: session.StatusAccepted}))

	records, err := logs.ListByUser(ctx, "u", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "s-2", records[0].ID)
	assert.Equal(t, "s-1", records[1].ID)

	none, err := logs.ListByUser(ctx, "other", 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	assert.Error(t, logs.Append(ctx, session.Record{ID: "x", UserID: "u", Status: "bogus"}))
}
