package user

import "context"

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository - шлюз хранения пользователей.
type Repository interface {
	// Load возвращает пользователя по ID.
	// Возвращает ErrUserNotFound, если пользователь не найден.
	Load(ctx context.Context, id string) (*User, error)

	// Save записывает полную запись пользователя (upsert).
	Save(ctx context.Context, u *User) error

	// TopByTotalStudyTime возвращает до limit пользователей,
	// упорядоченных по total_study_seconds DESC, id ASC.
	TopByTotalStudyTime(ctx context.Context, limit int) ([]*User, error)
}

// Creator - опциональная возможность хранилища создать запись без перезаписи.
type Creator interface {
	// Create возвращает ErrUserAlreadyExists, если ID занят.
	Create(ctx context.Context, u *User) error
}

// RankReader вычисляет позицию пользователя в рейтинге (1-based).
type RankReader interface {
	RankOf(ctx context.Context, id string) (int, error)
}
