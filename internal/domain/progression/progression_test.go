package progression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/focus-quest/internal/domain/shared"
	"github.com/alem-hub/focus-quest/internal/domain/user"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(DefaultCurve(), DefaultCatalog(), DefaultTierTable())
	require.NoError(t, err)
	return engine
}

func newTestUser(t *testing.T) *user.User {
	t.Helper()
	u, err := user.New("u-1", "", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return u
}

func TestCurve_RequiredForNextLevel(t *testing.T) {
	curve := DefaultCurve()

	expected := map[int]float64{
		1: 150,
		2: 341,
		3: 559,
		4: 800,
		5: 1059,
		6: 1334,
		7: 1626,
		8: 1931,
	}
	for level, want := range expected {
		assert.Equal(t, want, curve.RequiredForNextLevel(level), "level %d", level)
	}

	assert.Equal(t, curve.RequiredForNextLevel(1), curve.RequiredForNextLevel(0))
	assert.Equal(t, float64(5869), curve.CumulativeTo(8))
}

func TestCurve_StrictlyIncreasing(t *testing.T) {
	curve := DefaultCurve()
	prev := curve.RequiredForNextLevel(1)
	for level := 2; level <= 500; level++ {
		next := curve.RequiredForNextLevel(level)
		assert.Greater(t, next, prev, "level %d", level)
		prev = next
	}
}

func TestCurve_Validate(t *testing.T) {
	assert.NoError(t, DefaultCurve().Validate())

	err := Curve{Base: 0, Exponent: 1.5, Scale: 50}.Validate()
	assert.Error(t, err)
	assert.True(t, shared.IsValidation(err))

	assert.Error(t, Curve{Base: 100, Exponent: -1, Scale: 50}.Validate())
	assert.Error(t, Curve{Base: 100, Exponent: 1.5, Scale: -1}.Validate())
}

func TestEngine_MultiLevelJump(t *testing.T) {
	engine := newTestEngine(t)
	u := newTestUser(t)

	result, err := engine.Apply(u, 6000*time.Second)
	require.NoError(t, err)

	assert.Equal(t, 8, u.Level)
	assert.InDelta(t, 131, u.Experience, 1e-9)
	assert.Equal(t, 6000*time.Second, u.TotalStudyTime)
	assert.Equal(t, 1, result.PreviousLevel)
	assert.Equal(t, 8, result.NewLevel)
	assert.True(t, result.LeveledUp())
	assert.Equal(t, Tier{Band: BandBronze, SubRank: SubRankII}, result.Tier)
	assert.Less(t, u.Experience, engine.Curve().RequiredForNextLevel(u.Level))
}

func TestEngine_CompanionMultiplierDoesNotBoostStudyTime(t *testing.T) {
	engine := newTestEngine(t)
	u := newTestUser(t)
	u.Level = 10
	engine.SyncUnlocks(u)
	require.NoError(t, u.EquipCompanion("tanuki"))

	result, err := engine.Apply(u, 100*time.Second)
	require.NoError(t, err)

	assert.InDelta(t, 120, result.EarnedExperience, 1e-9)
	assert.InDelta(t, 1.2, result.Multiplier, 1e-9)
	assert.InDelta(t, 120, u.Experience, 1e-9)
	assert.Equal(t, 100*time.Second, u.TotalStudyTime)
	assert.False(t, result.LeveledUp())
}

func TestEngine_CosmeticCompanionHasNoBoost(t *testing.T) {
	engine := newTestEngine(t)
	u := newTestUser(t)
	engine.SyncUnlocks(u)
	require.NoError(t, u.EquipCompanion("mochi"))

	result, err := engine.Apply(u, 50*time.Second)
	require.NoError(t, err)
	assert.Equal(t, float64(1), result.Multiplier)
	assert.InDelta(t, 50, u.Experience, 1e-9)
}

func TestEngine_ZeroSessionIsNoop(t *testing.T) {
	engine := newTestEngine(t)
	u := newTestUser(t)
	before := u.Clone()

	result, err := engine.Apply(u, 0)
	require.NoError(t, err)

	assert.Equal(t, before, u)
	assert.Zero(t, result.EarnedExperience)
	assert.False(t, result.LeveledUp())
	assert.Empty(t, result.UnlockedCompanionIDs)
}

func TestEngine_SubSecondTruncated(t *testing.T) {
	engine := newTestEngine(t)
	u := newTestUser(t)

	result, err := engine.Apply(u, 2900*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, result.StudyTime)
	assert.InDelta(t, 2, u.Experience, 1e-9)
}

func TestEngine_Errors(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.Apply(nil, time.Second)
	assert.True(t, shared.IsMissingContext(err))

	_, err = engine.Apply(newTestUser(t), -time.Second)
	assert.True(t, shared.IsValidation(err))
}

func TestEngine_UnlocksAreIdempotent(t *testing.T) {
	engine := newTestEngine(t)
	u := newTestUser(t)

	first, err := engine.Apply(u, 6000*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"mochi", "kitsune"}, first.UnlockedCompanionIDs)

	second, err := engine.Apply(u, time.Second)
	require.NoError(t, err)
	assert.Empty(t, second.UnlockedCompanionIDs)
	assert.Equal(t, []string{"kitsune", "mochi"}, u.UnlockedCompanionIDs)
}

func TestEngine_ExperienceInvariantHolds(t *testing.T) {
	engine := newTestEngine(t)
	u := newTestUser(t)

	for _, secs := range []int{1, 59, 3600, 0, 17, 86400, 1234} {
		_, err := engine.Apply(u, time.Duration(secs)*time.Second)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, u.Level, 1)
		assert.GreaterOrEqual(t, u.Experience, float64(0))
		assert.Less(t, u.Experience, engine.Curve().RequiredForNextLevel(u.Level))
	}
}

func TestEngine_Progress(t *testing.T) {
	engine := newTestEngine(t)
	u := newTestUser(t)
	u.Experience = 75

	p := engine.Progress(u)
	assert.Equal(t, float64(150), p.RequiredExperience)
	assert.InDelta(t, 50, p.Percent, 1e-9)
	assert.Equal(t, "bronze I", p.TierName)
	assert.Equal(t, 8, p.NextTierLevel)
}

func TestTierTable_ResolveIsTotalAndMonotonic(t *testing.T) {
	table := DefaultTierTable()

	assert.Equal(t, Tier{Band: BandBronze, SubRank: SubRankI}, table.Resolve(0))
	assert.Equal(t, Tier{Band: BandBronze, SubRank: SubRankI}, table.Resolve(1))
	assert.Equal(t, Tier{Band: BandBronze, SubRank: SubRankII}, table.Resolve(8))
	assert.Equal(t, Tier{Band: BandSilver, SubRank: SubRankI}, table.Resolve(22))
	assert.Equal(t, Tier{Band: BandDiamond, SubRank: SubRankIII}, table.Resolve(243))
	assert.Equal(t, Tier{Band: BandMaster}, table.Resolve(244))
	assert.Equal(t, Tier{Band: BandMaster}, table.Resolve(100000))

	prev := table.Resolve(1).Rank()
	for level := 2; level <= 1000; level++ {
		rank := table.Resolve(level).Rank()
		assert.GreaterOrEqual(t, rank, prev, "level %d", level)
		prev = rank
	}

	_, ok := table.Next(244)
	assert.False(t, ok)
}

func TestNewTierTable_Validation(t *testing.T) {
	bronze := Tier{Band: BandBronze, SubRank: SubRankI}
	silver := Tier{Band: BandSilver, SubRank: SubRankI}

	_, err := NewTierTable(nil)
	assert.Error(t, err)

	_, err = NewTierTable([]TierBoundary{{MinLevel: 2, Tier: bronze}})
	assert.Error(t, err)

	_, err = NewTierTable([]TierBoundary{{MinLevel: 1, Tier: bronze}, {MinLevel: 1, Tier: silver}})
	assert.Error(t, err)

	_, err = NewTierTable([]TierBoundary{{MinLevel: 1, Tier: silver}, {MinLevel: 5, Tier: bronze}})
	assert.Error(t, err)
	assert.True(t, shared.IsValidation(err))

	table, err := NewTierTable([]TierBoundary{{MinLevel: 1, Tier: bronze}, {MinLevel: 5, Tier: silver}})
	require.NoError(t, err)
	assert.Equal(t, silver, table.Resolve(7))
}

func TestTier_String(t *testing.T) {
	assert.Equal(t, "gold II", Tier{Band: BandGold, SubRank: SubRankII}.String())
	assert.Equal(t, "master", Tier{Band: BandMaster}.String())

	band, err := ParseBand(" Platinum ")
	require.NoError(t, err)
	assert.Equal(t, BandPlatinum, band)

	_, err = ParseBand("wood")
	assert.Error(t, err)

	sub, err := ParseSubRank("iii")
	require.NoError(t, err)
	assert.Equal(t, SubRankIII, sub)
}

func TestNewCatalog_Validation(t *testing.T) {
	_, err := NewCatalog([]Companion{{ID: "", Skill: Skill{Kind: SkillCosmetic}, UnlockLevel: 1}})
	assert.Error(t, err)

	_, err = NewCatalog([]Companion{
		{ID: "a", Skill: Skill{Kind: SkillCosmetic}, UnlockLevel: 1},
		{ID: "a", Skill: Skill{Kind: SkillCosmetic}, UnlockLevel: 2},
	})
	assert.Error(t, err)

	_, err = NewCatalog([]Companion{{ID: "a", Skill: Skill{Kind: SkillExperienceBoost}, UnlockLevel: 1}})
	assert.Error(t, err)

	catalog, err := NewCatalog([]Companion{
		{ID: "late", Skill: Skill{Kind: SkillCosmetic}, UnlockLevel: 9},
		{ID: "early", Skill: Skill{Kind: SkillExperienceBoost, Multiplier: 2}, UnlockLevel: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"early"}, catalog.UnlockedAt(8))
	assert.Equal(t, "early", catalog.All()[0].ID)
	assert.Equal(t, "late", catalog.All()[1].Name)
}
