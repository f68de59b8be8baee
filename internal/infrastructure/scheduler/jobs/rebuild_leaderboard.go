// Package jobs contains the scheduled jobs of the focus-quest service.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/focus-quest/internal/domain/leaderboard"
	"github.com/alem-hub/focus-quest/internal/domain/user"
	rediscache "github.com/alem-hub/focus-quest/internal/infrastructure/persistence/redis"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD LEADERBOARD JOB
// ══════════════════════════════════════════════════════════════════════════════

// Locker is a distributed lock so only one instance rebuilds at a time.
type Locker interface {
	AcquireLock(ctx context.Context, resource, token string, ttl time.Duration) error
	ReleaseLock(ctx context.Context, resource, token string) error
}

// RebuildLeaderboardJob replaces the leaderboard cache with the top of the
// user store. The store stays the source of truth; the cache only speeds up
// reads, so a failed rebuild leaves readers on the store fallback.
type RebuildLeaderboardJob struct {
	users  user.Repository
	cache  leaderboard.Cache
	locker Locker
	logger *slog.Logger
	config RebuildLeaderboardConfig

	lastRebuildStats atomic.Value // *RebuildStats
}

// RebuildLeaderboardConfig contains configuration for the rebuild job.
type RebuildLeaderboardConfig struct {
	// Window is how many top users are written to the cache.
	Window int

	// LockTTL bounds how long a crashed instance can hold the rebuild lock.
	LockTTL time.Duration

	// Timeout is the maximum duration for the rebuild operation.
	Timeout time.Duration
}

// DefaultRebuildLeaderboardConfig returns sensible defaults.
func DefaultRebuildLeaderboardConfig() RebuildLeaderboardConfig {
	return RebuildLeaderboardConfig{
		Window:  leaderboard.MaxLimit,
		LockTTL: 2 * time.Minute,
		Timeout: time.Minute,
	}
}

// RebuildStats contains statistics from a rebuild run.
type RebuildStats struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Entries     int
	Skipped     bool
}

// NewRebuildLeaderboardJob creates a new rebuild job. locker may be nil.
func NewRebuildLeaderboardJob(
	users user.Repository,
	cache leaderboard.Cache,
	locker Locker,
	logger *slog.Logger,
	config RebuildLeaderboardConfig,
) *RebuildLeaderboardJob {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultRebuildLeaderboardConfig()
	if config.Window <= 0 {
		config.Window = defaults.Window
	}
	if config.LockTTL <= 0 {
		config.LockTTL = defaults.LockTTL
	}

	return &RebuildLeaderboardJob{
		users:  users,
		cache:  cache,
		locker: locker,
		logger: logger.With("job", RebuildLeaderboardJobName),
		config: config,
	}
}

// RebuildLeaderboardJobName is the scheduler name of the job.
const RebuildLeaderboardJobName = "rebuild-leaderboard"

const rebuildLockResource = "leaderboard-rebuild"

// Name returns the job name.
func (j *RebuildLeaderboardJob) Name() string {
	return RebuildLeaderboardJobName
}

// Description returns a human-readable description.
func (j *RebuildLeaderboardJob) Description() string {
	return "Rebuilds the leaderboard cache from the user store"
}

// Run executes the rebuild job.
func (j *RebuildLeaderboardJob) Run(ctx context.Context) error {
	startedAt := time.Now()
	stats := &RebuildStats{StartedAt: startedAt}

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	if j.locker != nil {
		token := uuid.New().String()
		err := j.locker.AcquireLock(ctx, rebuildLockResource, token, j.config.LockTTL)
		if errors.Is(err, rediscache.ErrLockHeld) {
			j.logger.Debug("rebuild already running elsewhere, skipping")
			stats.Skipped = true
			j.finish(stats)
			return nil
		}
		if err != nil {
			return fmt.Errorf("acquire rebuild lock: %w", err)
		}
		defer func() {
			// the parent context may already be done
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := j.locker.ReleaseLock(releaseCtx, rebuildLockResource, token); err != nil {
				j.logger.Warn("failed to release rebuild lock", "error", err)
			}
		}()
	}

	users, err := j.users.TopByTotalStudyTime(ctx, j.config.Window)
	if err != nil {
		return fmt.Errorf("load top users: %w", err)
	}

	entries := leaderboard.FromUsers(users)
	if err := j.cache.Rebuild(ctx, entries, j.config.Window); err != nil {
		return fmt.Errorf("rebuild cache: %w", err)
	}

	stats.Entries = len(entries)
	j.finish(stats)

	j.logger.Info("leaderboard rebuilt",
		"entries", stats.Entries,
		"window", j.config.Window,
		"duration", stats.Duration.String(),
	)
	return nil
}

func (j *RebuildLeaderboardJob) finish(stats *RebuildStats) {
	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
	j.lastRebuildStats.Store(stats)
}

// LastStats returns statistics from the last run, or nil.
func (j *RebuildLeaderboardJob) LastStats() *RebuildStats {
	stats, _ := j.lastRebuildStats.Load().(*RebuildStats)
	return stats
}
