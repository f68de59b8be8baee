package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/focus-quest/internal/domain/shared"
	"github.com/alem-hub/focus-quest/internal/domain/user"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// UserRepository implements user.Repository for PostgreSQL.
type UserRepository struct {
	conn *Connection
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(conn *Connection) *UserRepository {
	return &UserRepository{conn: conn}
}

var (
	_ user.Repository = (*UserRepository)(nil)
	_ user.Creator    = (*UserRepository)(nil)
	_ user.RankReader = (*UserRepository)(nil)
)

const userColumns = `
	id, nickname, level, experience, total_study_seconds,
	unlocked_companion_ids, active_companion_id, created_at, updated_at
`

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

// Load returns a user by id, or shared.ErrUserNotFound.
func (r *UserRepository) Load(ctx context.Context, id string) (*user.User, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := scanUser(r.conn.QueryRow(ctx, query, id))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return u, nil
}

// TopByTotalStudyTime returns up to limit users by total study time DESC, id ASC.
func (r *UserRepository) TopByTotalStudyTime(ctx context.Context, limit int) ([]*user.User, error) {
	if limit <= 0 {
		return []*user.User{}, nil
	}

	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + userColumns + `
		FROM users
		ORDER BY total_study_seconds DESC, id ASC
		LIMIT $1
	`

	rows, err := r.conn.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	users := make([]*user.User, 0, limit)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.Rank = len(users) + 1
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// RankOf returns the 1-based leaderboard position of a user.
func (r *UserRepository) RankOf(ctx context.Context, id string) (int, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT 1 + (
			SELECT COUNT(*) FROM users o
			WHERE o.total_study_seconds > u.total_study_seconds
			   OR (o.total_study_seconds = u.total_study_seconds AND o.id < u.id)
		)
		FROM users u
		WHERE u.id = $1
	`

	var rank int
	if err := r.conn.QueryRow(ctx, query, id).Scan(&rank); err != nil {
		if IsNoRows(err) {
			return 0, shared.ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to compute rank: %w", err)
	}
	return rank, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

// Create inserts a new user. Returns shared.ErrUserAlreadyExists if the id is taken.
func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	if err := u.Validate(); err != nil {
		return err
	}

	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := `INSERT INTO users (` + userColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.conn.Exec(ctx, query, userArgs(u)...)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrUserAlreadyExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// Save writes the full user record, inserting it if missing.
func (r *UserRepository) Save(ctx context.Context, u *user.User) error {
	if err := u.Validate(); err != nil {
		return err
	}

	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			nickname = EXCLUDED.nickname,
			level = EXCLUDED.level,
			experience = EXCLUDED.experience,
			total_study_seconds = EXCLUDED.total_study_seconds,
			unlocked_companion_ids = EXCLUDED.unlocked_companion_ids,
			active_companion_id = EXCLUDED.active_companion_id,
			updated_at = EXCLUDED.updated_at
	`

	if _, err := r.conn.Exec(ctx, query, userArgs(u)...); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func userArgs(u *user.User) []interface{} {
	var active *string
	if u.ActiveCompanionID != "" {
		id := u.ActiveCompanionID
		active = &id
	}

	companions := u.UnlockedCompanionIDs
	if companions == nil {
		companions = []string{}
	}

	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := u.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	return []interface{}{
		u.ID,
		u.Nickname,
		u.Level,
		u.Experience,
		int64(u.TotalStudyTime / time.Second),
		companions,
		active,
		createdAt,
		updatedAt,
	}
}

// scanUser scans a row into a User entity.
func scanUser(row pgx.Row) (*user.User, error) {
	var (
		u            user.User
		totalSeconds int64
		active       *string
	)

	err := row.Scan(
		&u.ID,
		&u.Nickname,
		&u.Level,
		&u.Experience,
		&totalSeconds,
		&u.UnlockedCompanionIDs,
		&active,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.TotalStudyTime = time.Duration(totalSeconds) * time.Second
	if active != nil {
		u.ActiveCompanionID = *active
	}
	u.NormalizeCompanions()
	return &u, nil
}
