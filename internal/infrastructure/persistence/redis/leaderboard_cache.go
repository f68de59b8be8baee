package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD CACHE ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrLeaderboardCold is returned when the cache was never built or has expired.
	ErrLeaderboardCold = errors.New("leaderboard_cache: cache is cold")

	// ErrUserNotInLeaderboard is returned when the user has no cached entry.
	ErrUserNotInLeaderboard = errors.New("leaderboard_cache: user not in leaderboard")

	// ErrUserIDEmpty is returned for entries without a user id.
	ErrUserIDEmpty = errors.New("leaderboard_cache: user id is empty")

	// ErrInvalidLimit is returned for a non-positive limit.
	ErrInvalidLimit = errors.New("leaderboard_cache: limit must be positive")
)

// TTLLeaderboardCache is the TTL for leaderboard keys. Rebuilds refresh it.
const TTLLeaderboardCache = 15 * time.Minute

// ══════════════════════════════════════════════════════════════════════════════
// ENTRY
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardEntry is one cached row of the leaderboard.
type LeaderboardEntry struct {
	UserID            string `json:"user_id"`
	Nickname          string `json:"nickname"`
	Level             int    `json:"level"`
	TotalStudySeconds int64  `json:"total_study_seconds"`
	Rank              int    `json:"rank,omitempty"`
}

// LeaderboardMeta describes the last rebuild.
type LeaderboardMeta struct {
	RebuiltAt time.Time `json:"rebuilt_at"`
	Size      int       `json:"size"`
	Window    int       `json:"window"`
}

// Covers reports whether the cache can answer a top-limit query.
// A rebuild that returned fewer rows than its window holds every user.
func (m LeaderboardMeta) Covers(limit int) bool {
	return limit <= m.Window || m.Size < m.Window
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD CACHE
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardCache keeps the top of the leaderboard in Redis.
//
// Layout:
//   - Sorted set "scores": userID with score = -total_study_seconds, so ZRANGE
//     yields study time DESC and, on equal scores, user id ASC
//   - Hash "info": userID -> LeaderboardEntry JSON
//   - String "meta": LeaderboardMeta JSON written by Rebuild
type LeaderboardCache struct {
	cache *Cache
}

const (
	keyScores = PrefixLeaderboard + "scores"
	keyInfo   = PrefixLeaderboard + "info"
	keyMeta   = PrefixLeaderboard + "meta"
)

// NewLeaderboardCache creates a new LeaderboardCache instance.
func NewLeaderboardCache(cache *Cache) *LeaderboardCache {
	return &LeaderboardCache{cache: cache}
}

// UpdateEntry upserts one user after an award. O(log N).
func (l *LeaderboardCache) UpdateEntry(ctx context.Context, entry LeaderboardEntry) error {
	if entry.UserID == "" {
		return ErrUserIDEmpty
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	pipe := l.cache.Client().Pipeline()
	pipe.ZAdd(ctx, keyScores, redis.Z{Score: -float64(entry.TotalStudySeconds), Member: entry.UserID})
	pipe.HSet(ctx, keyInfo, entry.UserID, data)
	_, err = pipe.Exec(ctx)
	return err
}

// Rebuild atomically replaces the cache with the top window users from the store.
func (l *LeaderboardCache) Rebuild(ctx context.Context, entries []LeaderboardEntry, window int) error {
	meta, err := json.Marshal(LeaderboardMeta{RebuiltAt: time.Now().UTC(), Size: len(entries), Window: window})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	pipe := l.cache.Client().TxPipeline()
	pipe.Del(ctx, keyScores, keyInfo)

	if len(entries) > 0 {
		members := make([]redis.Z, 0, len(entries))
		info := make(map[string]interface{}, len(entries))
		for _, entry := range entries {
			if entry.UserID == "" {
				continue
			}
			entry.Rank = 0
			data, err := json.Marshal(entry)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
			}
			members = append(members, redis.Z{Score: -float64(entry.TotalStudySeconds), Member: entry.UserID})
			info[entry.UserID] = data
		}
		if len(members) > 0 {
			pipe.ZAdd(ctx, keyScores, members...)
			pipe.HSet(ctx, keyInfo, info)
			pipe.Expire(ctx, keyScores, TTLLeaderboardCache)
			pipe.Expire(ctx, keyInfo, TTLLeaderboardCache)
		}
	}
	pipe.Set(ctx, keyMeta, meta, TTLLeaderboardCache)

	_, err = pipe.Exec(ctx)
	return err
}

// Meta returns the metadata of the last rebuild, or ErrLeaderboardCold.
func (l *LeaderboardCache) Meta(ctx context.Context) (*LeaderboardMeta, error) {
	var meta LeaderboardMeta
	if err := l.cache.Get(ctx, keyMeta, &meta); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, ErrLeaderboardCold
		}
		return nil, err
	}
	return &meta, nil
}

// GetTop returns up to limit entries with 1-based ranks.
// Returns ErrLeaderboardCold when the cache cannot answer for this limit.
func (l *LeaderboardCache) GetTop(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	meta, err := l.Meta(ctx)
	if err != nil {
		return nil, err
	}
	if !meta.Covers(limit) {
		return nil, ErrLeaderboardCold
	}

	ids, err := l.cache.Client().ZRange(ctx, keyScores, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []LeaderboardEntry{}, nil
	}

	raw, err := l.cache.Client().HMGet(ctx, keyInfo, ids...).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, 0, len(ids))
	for i, value := range raw {
		s, ok := value.(string)
		if !ok {
			// score without info means a partial write; treat as cold
			return nil, ErrLeaderboardCold
		}
		var entry LeaderboardEntry
		if err := json.Unmarshal([]byte(s), &entry); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
		}
		entry.Rank = i + 1
		entries = append(entries, entry)
	}
	return entries, nil
}

// RankOf returns the 1-based rank of a cached user.
// Ranks past the rebuilt window are not trusted and report ErrUserNotInLeaderboard.
func (l *LeaderboardCache) RankOf(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, ErrUserIDEmpty
	}

	meta, err := l.Meta(ctx)
	if err != nil {
		return 0, err
	}

	rank, err := l.cache.Client().ZRank(ctx, keyScores, userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrUserNotInLeaderboard
		}
		return 0, err
	}
	if !meta.Covers(int(rank) + 1) {
		return 0, ErrUserNotInLeaderboard
	}
	return int(rank) + 1, nil
}

// Invalidate drops the cached leaderboard.
func (l *LeaderboardCache) Invalidate(ctx context.Context) error {
	return l.cache.Delete(ctx, keyScores, keyInfo, keyMeta)
}
