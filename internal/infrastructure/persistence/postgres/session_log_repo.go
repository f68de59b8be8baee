package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/focus-quest/internal/domain/session"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION LOG REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// SessionLogRepository implements session.LogRepository for PostgreSQL.
type SessionLogRepository struct {
	conn *Connection
}

// NewSessionLogRepository creates a new SessionLogRepository.
func NewSessionLogRepository(conn *Connection) *SessionLogRepository {
	return &SessionLogRepository{conn: conn}
}

var _ session.LogRepository = (*SessionLogRepository)(nil)

// Append journals a stopped session. A repeated id is ignored.
func (r *SessionLogRepository) Append(ctx context.Context, rec session.Record) error {
	if rec.ID == "" || rec.UserID == "" {
		return fmt.Errorf("session record requires id and user id")
	}
	if !rec.Status.IsValid() {
		return fmt.Errorf("invalid session status %q", rec.Status)
	}

	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO session_log (
			id, user_id, started_at, ended_at, study_seconds, background_ms, status, earned_exp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.conn.Exec(ctx, query,
		rec.ID,
		rec.UserID,
		rec.StartedAt.UTC(),
		rec.EndedAt.UTC(),
		int64(rec.StudyTime/time.Second),
		rec.BackgroundTime.Milliseconds(),
		string(rec.Status),
		rec.EarnedExperience,
	)
	if err != nil {
		return fmt.Errorf("failed to append session record: %w", err)
	}
	return nil
}

// ListByUser returns the latest limit records of a user, newest first.
func (r *SessionLogRepository) ListByUser(ctx context.Context, userID string, limit int) ([]session.Record, error) {
	if limit <= 0 {
		return []session.Record{}, nil
	}

	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, user_id, started_at, ended_at, study_seconds, background_ms, status, earned_exp
		FROM session_log
		WHERE user_id = $1
		ORDER BY ended_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.conn.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query session log: %w", err)
	}
	defer rows.Close()

	records := make([]session.Record, 0, limit)
	for rows.Next() {
		var (
			rec          session.Record
			studySeconds int64
			backgroundMs int64
			status       string
		)
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.StartedAt, &rec.EndedAt,
			&studySeconds, &backgroundMs, &status, &rec.EarnedExperience,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session record: %w", err)
		}
		rec.StudyTime = time.Duration(studySeconds) * time.Second
		rec.BackgroundTime = time.Duration(backgroundMs) * time.Millisecond
		rec.Status = session.Status(status)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session log: %w", err)
	}
	return records, nil
}
