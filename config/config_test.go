package config

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/alem-hub/focus-quest/internal/domain/notification"
	"github.com/alem-hub/focus-quest/internal/domain/progression"
	"github.com/alem-hub/focus-quest/internal/domain/shared"
)

// clearEnv isolates a test from variables set in the host environment.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV", "STORAGE_DRIVER", "DATABASE_URL", "SQLITE_PATH",
		"REDIS_ENABLED", "EVENTS_DISTRIBUTED", "EVENTS_WORKERS",
		"HTTP_PORT", "HTTP_ALLOWED_ORIGINS", "ADMIN_TOKEN_HASH",
		"SESSION_MAX_BACKGROUND", "SESSION_MAX_DURATION",
		"SCHEDULER_ENABLED", "SCHEDULER_FLUSH_SCHEDULE", "SCHEDULER_LEADERBOARD_SCHEDULE",
		"LEADERBOARD_CACHE_SIZE", "LOG_LEVEL", "LOG_FORMAT",
		"FEATURE_NOTIFY_LEVEL_UP", "FEATURE_NOTIFY_SESSION_REJECTED",
	} {
		t.Setenv(key, "")
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ENVIRONMENT
// ══════════════════════════════════════════════════════════════════════════════

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, time.Minute, cfg.Session.MaxBackground)
	assert.Equal(t, 12*time.Hour, cfg.Session.MaxDuration)
	assert.Equal(t, "@every 30s", cfg.Scheduler.FlushSchedule)
	assert.Equal(t, "*/5 * * * *", cfg.Scheduler.LeaderboardSchedule)
	assert.Equal(t, 100, cfg.Scheduler.LeaderboardCacheSize)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, []string{"*"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, "json", cfg.Observability.LogFormat)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_DatabaseURLSelectsPostgres(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/fq")
	t.Setenv("SESSION_MAX_BACKGROUND", "90s")
	t.Setenv("HTTP_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, 90*time.Second, cfg.Session.MaxBackground)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.AllowedOrigins)
}

func TestLoad_CollectsValidationErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("EVENTS_DISTRIBUTED", "true")
	t.Setenv("SCHEDULER_FLUSH_SCHEDULE", "every tuesday")
	t.Setenv("LOG_FORMAT", "xml")

	_, err := Load()
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "DATABASE_URL is required")
	assert.Contains(t, msg, "EVENTS_DISTRIBUTED requires REDIS_ENABLED")
	assert.Contains(t, msg, "SCHEDULER_FLUSH_SCHEDULE")
	assert.Contains(t, msg, "LOG_FORMAT")
}

func TestLoad_AdminTokenHashMustBeBcrypt(t *testing.T) {
	clearEnv(t)
	t.Setenv("ADMIN_TOKEN_HASH", "plaintext")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ADMIN_TOKEN_HASH")

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	t.Setenv("ADMIN_TOKEN_HASH", string(hash))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, string(hash), cfg.HTTP.AdminTokenHash)
}

func TestLoad_MemoryRejectedInProduction(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed in production")
}

func TestGetEnvHelpers_FallBackOnGarbage(t *testing.T) {
	t.Setenv("FQ_TEST_INT", "ten")
	t.Setenv("FQ_TEST_DUR", "soon")
	t.Setenv("FQ_TEST_BOOL", "maybe")

	assert.Equal(t, 7, getEnvInt("FQ_TEST_INT", 7))
	assert.Equal(t, time.Second, getEnvDuration("FQ_TEST_DUR", time.Second))
	assert.True(t, getEnvBool("FQ_TEST_BOOL", true))
}

// ══════════════════════════════════════════════════════════════════════════════
// FEATURE FLAGS
// ══════════════════════════════════════════════════════════════════════════════

func TestFeatureFlags_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("FEATURE_NOTIFY_LEVEL_UP", "false")

	ff := LoadFeatureFlags()
	assert.False(t, ff.IsEnabledFor(FeatureNotifyLevelUp, "u-1"))
	assert.False(t, ff.AllowNotification(notification.TypeLevelUp, "u-1"))
	assert.True(t, ff.AllowNotification(notification.TypeSessionCompleted, "u-1"))
	assert.True(t, ff.IsEnabled(FeatureLeaderboardCache))
	assert.False(t, ff.IsEnabled("no.such.feature"))
}

func TestFeatureFlags_RolloutIsStable(t *testing.T) {
	clearEnv(t)
	t.Setenv("FEATURE_NOTIFY_SESSION_REJECTED", "50")

	ff := LoadFeatureFlags()

	enabled := 0
	for i := 0; i < 1000; i++ {
		id := "user-" + strconv.Itoa(i)
		first := ff.IsEnabledFor(FeatureNotifySessionRejected, id)
		assert.Equal(t, first, ff.IsEnabledFor(FeatureNotifySessionRejected, id))
		if first {
			enabled++
		}
	}
	assert.Greater(t, enabled, 350)
	assert.Less(t, enabled, 650)
}

func TestFeatureFlags_UserOverride(t *testing.T) {
	clearEnv(t)
	ff := LoadFeatureFlags()

	ff.SetRolloutPercent(FeatureNotifyCompanionUnlocked, 0)
	assert.False(t, ff.IsEnabledFor(FeatureNotifyCompanionUnlocked, "u-1"))

	ff.SetUserOverride("u-1", FeatureNotifyCompanionUnlocked, true)
	assert.True(t, ff.IsEnabledFor(FeatureNotifyCompanionUnlocked, "u-1"))
	assert.False(t, ff.IsEnabledFor(FeatureNotifyCompanionUnlocked, "u-2"))

	ff.ClearUserOverrides("u-1")
	assert.False(t, ff.IsEnabledFor(FeatureNotifyCompanionUnlocked, "u-1"))

	all := ff.GetAllFeatures()
	require.Len(t, all, 5)
	assert.Equal(t, FeatureLeaderboardCache, all[0].Name)
}

func TestFeatureNameToEnvKey(t *testing.T) {
	assert.Equal(t, "FEATURE_NOTIFY_SESSION_COMPLETED", featureNameToEnvKey(FeatureNotifySessionCompleted))
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION FILE
// ══════════════════════════════════════════════════════════════════════════════

func TestLoadProgression_EmptyPathUsesDefaults(t *testing.T) {
	engine, err := LoadProgression("")
	require.NoError(t, err)

	assert.Equal(t, progression.DefaultCurve(), engine.Curve())
	assert.Len(t, engine.Catalog().All(), 5)
	assert.Equal(t, "bronze I", engine.Tiers().Resolve(1).String())
}

func TestLoadProgression_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progression.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
curve:
  base: 200
  exponent: 1
  scale: 0
tiers:
  - {min_level: 1, band: bronze, sub_rank: I}
  - {min_level: 5, band: silver, sub_rank: I}
  - {min_level: 10, band: master}
companions:
  - id: owl
    name: Owl
    skill: experience_boost
    multiplier: 1.5
    unlock_level: 2
`), 0o600))

	engine, err := LoadProgression(path)
	require.NoError(t, err)

	assert.InDelta(t, 200, engine.Curve().RequiredForNextLevel(1), 1e-9)
	assert.Equal(t, "silver I", engine.Tiers().Resolve(7).String())
	assert.Equal(t, "master", engine.Tiers().Resolve(40).String())

	owl, ok := engine.Catalog().Get("owl")
	require.True(t, ok)
	assert.InDelta(t, 1.5, owl.Skill.Multiplier, 1e-9)
	_, ok = engine.Catalog().Get("mochi")
	assert.False(t, ok)
}

func TestParseProgression_PartialCurveKeepsDefaults(t *testing.T) {
	engine, err := ParseProgression([]byte("curve:\n  base: 120\n"))
	require.NoError(t, err)

	curve := engine.Curve()
	assert.InDelta(t, 120, curve.Base, 1e-9)
	assert.InDelta(t, 1.5, curve.Exponent, 1e-9)
	assert.InDelta(t, 50, curve.Scale, 1e-9)
	assert.InDelta(t, 170, curve.RequiredForNextLevel(1), 1e-9)
	assert.InDelta(t, 880, curve.RequiredForNextLevel(4), 1e-9)

	// an explicit zero is still an override
	engine, err = ParseProgression([]byte("curve: {scale: 0}"))
	require.NoError(t, err)
	assert.InDelta(t, 100, engine.Curve().Base, 1e-9)
	assert.Zero(t, engine.Curve().Scale)
}

func TestParseProgression_Errors(t *testing.T) {
	_, err := ParseProgression([]byte("curve: {base: -1, exponent: 1.5, scale: 50}"))
	assert.ErrorIs(t, err, shared.ErrInvalidCurve)

	_, err = ParseProgression([]byte("tiers: [{min_level: 1, band: copper}]"))
	assert.Error(t, err)

	_, err = ParseProgression([]byte("curve: {base: 100, slope: 2}"))
	assert.Error(t, err)

	_, err = LoadProgression(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
