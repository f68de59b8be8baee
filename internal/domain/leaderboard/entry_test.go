package leaderboard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/focus-quest/internal/domain/user"
)

func TestFromUsers_AssignsRanks(t *testing.T) {
	a, err := user.New("a", "Aru", time.Now())
	require.NoError(t, err)
	a.TotalStudyTime = 2 * time.Hour
	b, err := user.New("b", "", time.Now())
	require.NoError(t, err)

	entries := FromUsers([]*user.User{a, b})
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, "Aru", entries[0].Nickname)
	assert.Equal(t, int64(7200), entries[0].TotalStudySeconds())
	assert.Equal(t, 2, entries[1].Rank)
	assert.Equal(t, user.DefaultNickname, entries[1].Nickname)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, ClampLimit(0))
	assert.Equal(t, DefaultLimit, ClampLimit(-3))
	assert.Equal(t, 25, ClampLimit(25))
	assert.Equal(t, MaxLimit, ClampLimit(MaxLimit+1))
}
