package config

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/alem-hub/focus-quest/internal/domain/notification"
)

// FeatureFlags manages feature toggles with gradual per-user rollout.
// Users are bucketed by a stable hash of feature name and user ID,
// so a user stays in or out of a rollout across restarts.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// userOverrides pins a feature on or off for one user.
	userOverrides map[string]map[string]bool
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`

	// Rollout percentage (0-100)
	RolloutPercent int `json:"rollout_percent"`
}

// Predefined feature flag names.
const (
	// === Notification Features ===
	FeatureNotifySessionCompleted  = "notify.session_completed"  // "+1500 XP"
	FeatureNotifySessionRejected   = "notify.session_rejected"   // "was in background too long"
	FeatureNotifyLevelUp           = "notify.level_up"           // "Level 8"
	FeatureNotifyCompanionUnlocked = "notify.companion_unlocked" // "new companion"

	// === Leaderboard Features ===
	FeatureLeaderboardCache = "leaderboard.cache" // Serve top users from the Redis cache
)

// notificationFeatures maps message types to their flags.
var notificationFeatures = map[notification.Type]string{
	notification.TypeSessionCompleted:  FeatureNotifySessionCompleted,
	notification.TypeSessionRejected:   FeatureNotifySessionRejected,
	notification.TypeLevelUp:           FeatureNotifyLevelUp,
	notification.TypeCompanionUnlocked: FeatureNotifyCompanionUnlocked,
}

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:      make(map[string]*Feature),
		userOverrides: make(map[string]map[string]bool),
	}

	ff.initializeDefaults()
	ff.loadFromEnvironment()

	return ff
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureNotifySessionCompleted] = &Feature{
		Name:           FeatureNotifySessionCompleted,
		Description:    "Notify when a session is credited",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureNotifySessionRejected] = &Feature{
		Name:           FeatureNotifySessionRejected,
		Description:    "Notify when a session is rejected for background time",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureNotifyLevelUp] = &Feature{
		Name:           FeatureNotifyLevelUp,
		Description:    "Notify on level up",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureNotifyCompanionUnlocked] = &Feature{
		Name:           FeatureNotifyCompanionUnlocked,
		Description:    "Notify when a companion unlocks",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureLeaderboardCache] = &Feature{
		Name:           FeatureLeaderboardCache,
		Description:    "Read the leaderboard from the Redis cache",
		Enabled:        true,
		RolloutPercent: 100,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_NOTIFY_LEVEL_UP=false
// Example: FEATURE_NOTIFY_SESSION_REJECTED=50 (50% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
		if val == "" {
			continue
		}

		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			if b {
				feature.RolloutPercent = 100
			} else {
				feature.RolloutPercent = 0
			}
			continue
		}

		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "notify.level_up" -> "FEATURE_NOTIFY_LEVEL_UP"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled reports whether a feature is on globally, ignoring rollout.
func (ff *FeatureFlags) IsEnabled(featureName string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	feature, ok := ff.features[featureName]
	return ok && feature.Enabled && feature.RolloutPercent > 0
}

// IsEnabledFor checks if a feature is enabled for the given user.
// Unknown features are disabled.
func (ff *FeatureFlags) IsEnabledFor(featureName, userID string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if overrides, ok := ff.userOverrides[userID]; ok {
		if enabled, ok := overrides[featureName]; ok {
			return enabled
		}
	}

	feature, ok := ff.features[featureName]
	if !ok || !feature.Enabled {
		return false
	}

	if feature.RolloutPercent < 100 && userID != "" {
		return inRollout(userID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// AllowNotification gates a notification type for a user.
// Types without a flag are always allowed.
func (ff *FeatureFlags) AllowNotification(kind notification.Type, userID string) bool {
	name, ok := notificationFeatures[kind]
	if !ok {
		return true
	}
	return ff.IsEnabledFor(name, userID)
}

// inRollout determines if a user is in the rollout percentage.
func inRollout(userID, featureName string, percent int) bool {
	d := xxhash.New()
	_, _ = d.WriteString(featureName)
	_, _ = d.WriteString(":")
	_, _ = d.WriteString(userID)

	return int(d.Sum64()%100) < percent
}

// SetUserOverride pins a feature for a specific user.
func (ff *FeatureFlags) SetUserOverride(userID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if ff.userOverrides[userID] == nil {
		ff.userOverrides[userID] = make(map[string]bool)
	}
	ff.userOverrides[userID][featureName] = enabled
}

// ClearUserOverrides removes all overrides for a user.
func (ff *FeatureFlags) ClearUserOverrides(userID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	delete(ff.userOverrides, userID)
}

// SetRolloutPercent changes a feature's rollout at runtime.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if feature, ok := ff.features[featureName]; ok {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		feature.RolloutPercent = percent
		feature.Enabled = percent > 0
	}
}

// GetAllFeatures returns a copy of all features sorted by name.
func (ff *FeatureFlags) GetAllFeatures() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make([]Feature, 0, len(ff.features))
	for _, f := range ff.features {
		result = append(result, *f)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}
