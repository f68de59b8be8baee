// Package sqlite is the embedded single-node store: users and the session
// journal in one SQLite file through gorm and the pure-Go glebarez driver.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/alem-hub/focus-quest/internal/domain/session"
	"github.com/alem-hub/focus-quest/internal/domain/shared"
	"github.com/alem-hub/focus-quest/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// MODELS
// ══════════════════════════════════════════════════════════════════════════════

// userModel is the users table row.
type userModel struct {
	ID                   string   `gorm:"primaryKey"`
	Nickname             string   `gorm:"not null"`
	Level                int      `gorm:"not null;default:1"`
	Experience           float64  `gorm:"not null;default:0"`
	TotalStudySeconds    int64    `gorm:"not null;default:0;index:idx_users_leaderboard,sort:desc"`
	UnlockedCompanionIDs []string `gorm:"serializer:json"`
	ActiveCompanionID    *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (userModel) TableName() string { return "users" }

// sessionModel is the session_log table row.
type sessionModel struct {
	ID           string    `gorm:"primaryKey"`
	UserID       string    `gorm:"not null;index:idx_session_log_user_ended,priority:1"`
	StartedAt    time.Time `gorm:"not null"`
	EndedAt      time.Time `gorm:"not null;index:idx_session_log_user_ended,priority:2,sort:desc"`
	StudySeconds int64     `gorm:"not null"`
	BackgroundMs int64     `gorm:"not null;default:0"`
	Status       string    `gorm:"not null"`
	EarnedExp    float64   `gorm:"not null;default:0"`
}

func (sessionModel) TableName() string { return "session_log" }

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store owns the gorm handle.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the database file and runs auto-migrations.
// ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite serialises writers anyway; one connection keeps :memory: shared.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&userModel{}, &sessionModel{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Users returns the user repository backed by this store.
func (s *Store) Users() *UserRepository {
	return &UserRepository{db: s.db}
}

// Sessions returns the session journal backed by this store.
func (s *Store) Sessions() *SessionLogRepository {
	return &SessionLogRepository{db: s.db}
}

// ══════════════════════════════════════════════════════════════════════════════
// USER REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// UserRepository implements user.Repository on SQLite.
type UserRepository struct {
	db *gorm.DB
}

var (
	_ user.Repository = (*UserRepository)(nil)
	_ user.Creator    = (*UserRepository)(nil)
	_ user.RankReader = (*UserRepository)(nil)
)

// Load returns a user by id, or shared.ErrUserNotFound.
func (r *UserRepository) Load(ctx context.Context, id string) (*user.User, error) {
	var m userModel
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return m.toDomain(), nil
}

// Save upserts the full user record.
func (r *UserRepository) Save(ctx context.Context, u *user.User) error {
	if err := u.Validate(); err != nil {
		return err
	}

	m := fromDomain(u)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"nickname", "level", "experience", "total_study_seconds",
			"unlocked_companion_ids", "active_companion_id", "updated_at",
		}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// Create inserts a user. Returns shared.ErrUserAlreadyExists if the id is taken.
func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	if err := u.Validate(); err != nil {
		return err
	}

	m := fromDomain(u)
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m)
	if res.Error != nil {
		return fmt.Errorf("failed to create user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return shared.ErrUserAlreadyExists
	}
	return nil
}

// TopByTotalStudyTime returns up to limit users by total study time DESC, id ASC.
func (r *UserRepository) TopByTotalStudyTime(ctx context.Context, limit int) ([]*user.User, error) {
	if limit <= 0 {
		return []*user.User{}, nil
	}

	var models []userModel
	err := r.db.WithContext(ctx).
		Order("total_study_seconds DESC").
		Order("id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}

	users := make([]*user.User, 0, len(models))
	for i := range models {
		u := models[i].toDomain()
		u.Rank = i + 1
		users = append(users, u)
	}
	return users, nil
}

// RankOf returns the 1-based leaderboard position of a user.
func (r *UserRepository) RankOf(ctx context.Context, id string) (int, error) {
	var m userModel
	if err := r.db.WithContext(ctx).Select("id", "total_study_seconds").Where("id = ?", id).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, shared.ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to load user: %w", err)
	}

	var ahead int64
	err := r.db.WithContext(ctx).Model(&userModel{}).
		Where("total_study_seconds > ? OR (total_study_seconds = ? AND id < ?)",
			m.TotalStudySeconds, m.TotalStudySeconds, m.ID).
		Count(&ahead).Error
	if err != nil {
		return 0, fmt.Errorf("failed to compute rank: %w", err)
	}
	return int(ahead) + 1, nil
}

func fromDomain(u *user.User) userModel {
	m := userModel{
		ID:                   u.ID,
		Nickname:             u.Nickname,
		Level:                u.Level,
		Experience:           u.Experience,
		TotalStudySeconds:    int64(u.TotalStudyTime / time.Second),
		UnlockedCompanionIDs: append([]string{}, u.UnlockedCompanionIDs...),
		CreatedAt:            u.CreatedAt.UTC(),
		UpdatedAt:            u.UpdatedAt.UTC(),
	}
	if u.ActiveCompanionID != "" {
		id := u.ActiveCompanionID
		m.ActiveCompanionID = &id
	}
	return m
}

func (m userModel) toDomain() *user.User {
	u := &user.User{
		ID:                   m.ID,
		Nickname:             m.Nickname,
		Level:                m.Level,
		Experience:           m.Experience,
		TotalStudyTime:       time.Duration(m.TotalStudySeconds) * time.Second,
		UnlockedCompanionIDs: m.UnlockedCompanionIDs,
		CreatedAt:            m.CreatedAt.UTC(),
		UpdatedAt:            m.UpdatedAt.UTC(),
	}
	if m.ActiveCompanionID != nil {
		u.ActiveCompanionID = *m.ActiveCompanionID
	}
	u.NormalizeCompanions()
	return u
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION LOG REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// SessionLogRepository implements session.LogRepository on SQLite.
type SessionLogRepository struct {
	db *gorm.DB
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

	m := sessionModel{
		ID:           rec.ID,
		UserID:       rec.UserID,
		StartedAt:    rec.StartedAt.UTC(),
		EndedAt:      rec.EndedAt.UTC(),
		StudySeconds: int64(rec.StudyTime / time.Second),
		BackgroundMs: rec.BackgroundTime.Milliseconds(),
		Status:       string(rec.Status),
		EarnedExp:    rec.EarnedExperience,
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to append session record: %w", err)
	}
	return nil
}

// ListByUser returns the latest limit records of a user, newest first.
func (r *SessionLogRepository) ListByUser(ctx context.Context, userID string, limit int) ([]session.Record, error) {
	if limit <= 0 {
		return []session.Record{}, nil
	}

	var models []sessionModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("ended_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query session log: %w", err)
	}

	records := make([]session.Record, 0, len(models))
	for _, m := range models {
		records = append(records, session.Record{
			ID:               m.ID,
			UserID:           m.UserID,
			StartedAt:        m.StartedAt.UTC(),
			EndedAt:          m.EndedAt.UTC(),
			StudyTime:        time.Duration(m.StudySeconds) * time.Second,
			BackgroundTime:   time.Duration(m.BackgroundMs) * time.Millisecond,
			Status:           session.Status(m.Status),
			EarnedExperience: m.EarnedExp,
		})
	}
	return records, nil
}
