// Package service adapts infrastructure clients to the ports the
// application layer depends on.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/alem-hub/focus-quest/internal/domain/leaderboard"
	rediscache "github.com/alem-hub/focus-quest/internal/infrastructure/persistence/redis"
)

// RedisLeaderboard implements leaderboard.Cache on top of the Redis sorted set.
type RedisLeaderboard struct {
	cache *rediscache.LeaderboardCache
}

var _ leaderboard.Cache = (*RedisLeaderboard)(nil)

// NewRedisLeaderboard creates a new RedisLeaderboard.
func NewRedisLeaderboard(cache *rediscache.LeaderboardCache) *RedisLeaderboard {
	return &RedisLeaderboard{cache: cache}
}

// Update upserts one user after an award.
func (s *RedisLeaderboard) Update(ctx context.Context, entry leaderboard.Entry) error {
	return s.cache.UpdateEntry(ctx, toCacheEntry(entry))
}

// Top returns the cached top, or leaderboard.ErrCacheCold when the cache cannot answer.
func (s *RedisLeaderboard) Top(ctx context.Context, limit int) ([]leaderboard.Entry, error) {
	cached, err := s.cache.GetTop(ctx, limit)
	if err != nil {
		if errors.Is(err, rediscache.ErrLeaderboardCold) {
			return nil, leaderboard.ErrCacheCold
		}
		return nil, err
	}

	entries := make([]leaderboard.Entry, 0, len(cached))
	for _, c := range cached {
		entries = append(entries, leaderboard.Entry{
			Rank:           c.Rank,
			UserID:         c.UserID,
			Nickname:       c.Nickname,
			Level:          c.Level,
			TotalStudyTime: time.Duration(c.TotalStudySeconds) * time.Second,
		})
	}
	return entries, nil
}

// Rebuild replaces the cache with entries read from the store.
func (s *RedisLeaderboard) Rebuild(ctx context.Context, entries []leaderboard.Entry, window int) error {
	cached := make([]rediscache.LeaderboardEntry, 0, len(entries))
	for _, e := range entries {
		cached = append(cached, toCacheEntry(e))
	}
	return s.cache.Rebuild(ctx, cached, window)
}

// RankOf returns the cached rank of a user.
func (s *RedisLeaderboard) RankOf(ctx context.Context, userID string) (int, error) {
	rank, err := s.cache.RankOf(ctx, userID)
	if errors.Is(err, rediscache.ErrLeaderboardCold) {
		return 0, leaderboard.ErrCacheCold
	}
	return rank, err
}

// Invalidate drops the cached leaderboard.
func (s *RedisLeaderboard) Invalidate(ctx context.Context) error {
	return s.cache.Invalidate(ctx)
}

func toCacheEntry(e leaderboard.Entry) rediscache.LeaderboardEntry {
	return rediscache.LeaderboardEntry{
		UserID:            e.UserID,
		Nickname:          e.Nickname,
		Level:             e.Level,
		TotalStudySeconds: e.TotalStudySeconds(),
	}
}
