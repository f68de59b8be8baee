// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/focus-quest/internal/domain/leaderboard"
	"github.com/alem-hub/focus-quest/internal/domain/shared"
	"github.com/alem-hub/focus-quest/internal/domain/user"
	"github.com/alem-hub/focus-quest/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Топ пользователей по суммарному времени учёбы. Горячий кеш читается первым,
// хранилище остаётся источником истины.
// ══════════════════════════════════════════════════════════════════════════════

// Источники результата.
const (
	SourceCache = "cache"
	SourceStore = "store"
)

// GetLeaderboardQuery содержит параметры запроса.
type GetLeaderboardQuery struct {
	// Limit - количество записей (по умолчанию 10, максимум 500).
	Limit int
}

// GetLeaderboardResult содержит результат запроса лидерборда.
type GetLeaderboardResult struct {
	Entries     []leaderboard.Entry `json:"entries"`
	Source      string              `json:"source"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// GetLeaderboardHandler обрабатывает запросы на получение лидерборда.
type GetLeaderboardHandler struct {
	users   user.Repository
	cache   leaderboard.Cache
	breaker *circuitbreaker.CircuitBreaker
	now     func() time.Time
	logger  *slog.Logger
}

// NewGetLeaderboardHandler создаёт обработчик. cache может быть nil.
func NewGetLeaderboardHandler(users user.Repository, cache leaderboard.Cache, logger *slog.Logger) *GetLeaderboardHandler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "get_leaderboard")

	return &GetLeaderboardHandler{
		users: users,
		cache: cache,
		breaker: circuitbreaker.CacheBreaker(
			func(err error) bool { return errors.Is(err, leaderboard.ErrCacheCold) },
			func(name string, from, to circuitbreaker.State) {
				logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		),
		now:    time.Now,
		logger: logger,
	}
}

// Handle выполняет запрос.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	if q.Limit < 0 {
		return nil, shared.NewDomainError("query", "GetLeaderboard", shared.ErrInvalidInput, "limit cannot be negative")
	}
	limit := leaderboard.ClampLimit(q.Limit)

	if entries, ok := h.fromCache(ctx, limit); ok {
		return &GetLeaderboardResult{Entries: entries, Source: SourceCache, GeneratedAt: h.now().UTC()}, nil
	}

	users, err := h.users.TopByTotalStudyTime(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("get_leaderboard: %w", err)
	}

	return &GetLeaderboardResult{
		Entries:     leaderboard.FromUsers(users),
		Source:      SourceStore,
		GeneratedAt: h.now().UTC(),
	}, nil
}

// fromCache пытается прочитать топ из кеша через circuit breaker.
func (h *GetLeaderboardHandler) fromCache(ctx context.Context, limit int) ([]leaderboard.Entry, bool) {
	if h.cache == nil {
		return nil, false
	}

	var entries []leaderboard.Entry
	err := h.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		entries, err = h.cache.Top(ctx, limit)
		return err
	})

	switch {
	case err == nil:
		return entries, len(entries) > 0
	case errors.Is(err, leaderboard.ErrCacheCold):
		h.logger.Debug("leaderboard cache cold, reading store", "limit", limit)
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		h.logger.Debug("leaderboard cache bypassed", "error", err)
	default:
		h.logger.Warn("leaderboard cache read failed", "error", err)
	}
	return nil, false
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER FUNCTIONS
// ══════════════════════════════════════════════════════════════════════════════

// FormatRankEmoji возвращает эмодзи для позиции в рейтинге.
func FormatRankEmoji(rank int) string {
	switch rank {
	case 1:
		return "🥇"
	case 2:
		return "🥈"
	case 3:
		return "🥉"
	default:
		if rank <= 10 {
			return "🏆"
		}
		if rank <= 50 {
			return "⭐"
		}
		return fmt.Sprintf("#%d", rank)
	}
}

// FormatStudyTime форматирует суммарное время как "12h 05m".
func FormatStudyTime(d time.Duration) string {
	d = d.Truncate(time.Minute)
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh %02dm", h, m)
}
