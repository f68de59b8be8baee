// Package leaderboard описывает рейтинг по суммарному времени учёбы.
// Рейтинг всегда выводится из хранилища пользователей; кеш лишь ускоряет чтение.
package leaderboard

import (
	"context"
	"errors"
	"time"

	"github.com/alem-hub/focus-quest/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENTRY
// ══════════════════════════════════════════════════════════════════════════════

// DefaultLimit - размер топа по умолчанию.
const DefaultLimit = 10

// MaxLimit - верхняя граница размера запроса.
const MaxLimit = 500

// Entry - строка рейтинга.
type Entry struct {
	Rank           int           `json:"rank"`
	UserID         string        `json:"user_id"`
	Nickname       string        `json:"nickname"`
	Level          int           `json:"level"`
	TotalStudyTime time.Duration `json:"total_study_time"`
}

// TotalStudySeconds возвращает время учёбы в целых секундах.
func (e Entry) TotalStudySeconds() int64 {
	return int64(e.TotalStudyTime / time.Second)
}

// FromUser строит строку рейтинга из пользователя.
func FromUser(u *user.User, rank int) Entry {
	return Entry{
		Rank:           rank,
		UserID:         u.ID,
		Nickname:       u.Nickname,
		Level:          u.Level,
		TotalStudyTime: u.TotalStudyTime,
	}
}

// FromUsers нумерует пользователей в порядке выдачи хранилища.
func FromUsers(users []*user.User) []Entry {
	entries := make([]Entry, 0, len(users))
	for i, u := range users {
		entries = append(entries, FromUser(u, i+1))
	}
	return entries
}

// ClampLimit приводит limit к диапазону [1, MaxLimit].
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE PORT
// ══════════════════════════════════════════════════════════════════════════════

// ErrCacheCold - кеш не построен, истёк или не покрывает запрос.
var ErrCacheCold = errors.New("leaderboard: cache is cold")

// Cache - горячая копия верхушки рейтинга.
type Cache interface {
	// Update обновляет одну строку после начисления.
	Update(ctx context.Context, entry Entry) error

	// Top возвращает до limit строк или ErrCacheCold.
	Top(ctx context.Context, limit int) ([]Entry, error)

	// Rebuild полностью заменяет кеш верхними window строками из хранилища.
	Rebuild(ctx context.Context, entries []Entry, window int) error
}
