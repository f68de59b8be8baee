package user

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/focus-quest/internal/domain/shared"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNew(t *testing.T) {
	u, err := New("id-1", "  ", testNow)
	require.NoError(t, err)

	assert.Equal(t, DefaultNickname, u.Nickname)
	assert.Equal(t, 1, u.Level)
	assert.Zero(t, u.Experience)
	assert.Zero(t, u.TotalStudyTime)
	assert.Empty(t, u.UnlockedCompanionIDs)
	assert.NoError(t, u.Validate())

	_, err = New("", "neo", testNow)
	assert.ErrorIs(t, err, shared.ErrInvalidUserID)

	_, err = New("id-2", strings.Repeat("x", MaxNicknameLength+1), testNow)
	assert.True(t, shared.IsValidation(err))
}

func TestUser_UnlockCompanionIsIdempotent(t *testing.T) {
	u, err := New("id-1", "neo", testNow)
	require.NoError(t, err)

	assert.True(t, u.UnlockCompanion("tanuki"))
	assert.True(t, u.UnlockCompanion("kitsune"))
	assert.False(t, u.UnlockCompanion("tanuki"))
	assert.False(t, u.UnlockCompanion(""))

	assert.Equal(t, []string{"kitsune", "tanuki"}, u.UnlockedCompanionIDs)
	assert.True(t, u.HasCompanion("kitsune"))
	assert.False(t, u.HasCompanion("ryu"))
}

func TestUser_EquipCompanion(t *testing.T) {
	u, err := New("id-1", "neo", testNow)
	require.NoError(t, err)

	err = u.EquipCompanion("ryu")
	assert.ErrorIs(t, err, shared.ErrCompanionNotUnlocked)
	assert.True(t, shared.IsStateConflict(err))

	u.UnlockCompanion("ryu")
	require.NoError(t, u.EquipCompanion("ryu"))
	assert.Equal(t, "ryu", u.ActiveCompanionID)

	require.NoError(t, u.EquipCompanion(""))
	assert.Empty(t, u.ActiveCompanionID)
}

func TestUser_Validate(t *testing.T) {
	u, err := New("id-1", "neo", testNow)
	require.NoError(t, err)

	u.Level = 0
	assert.ErrorIs(t, u.Validate(), shared.ErrInvalidEntity)

	u.Level = 3
	u.Experience = -1
	assert.Error(t, u.Validate())

	u.Experience = 0
	u.ActiveCompanionID = "ghost"
	assert.Error(t, u.Validate())
}

func TestUser_CloneIsDeep(t *testing.T) {
	u, err := New("id-1", "neo", testNow)
	require.NoError(t, err)
	u.UnlockCompanion("mochi")

	c := u.Clone()
	c.UnlockCompanion("tanuki")
	c.Level = 9

	assert.Equal(t, []string{"mochi"}, u.UnlockedCompanionIDs)
	assert.Equal(t, 1, u.Level)
}

func TestUser_NormalizeCompanions(t *testing.T) {
	u := &User{UnlockedCompanionIDs: []string{"ryu", "", "mochi", "ryu"}}
	u.NormalizeCompanions()
	assert.Equal(t, []string{"mochi", "ryu"}, u.UnlockedCompanionIDs)

	u = &User{}
	u.NormalizeCompanions()
	assert.NotNil(t, u.UnlockedCompanionIDs)
}
