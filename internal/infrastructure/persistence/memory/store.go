// Package memory holds process-local stores used by tests and by the
// "memory" storage driver. Data does not survive a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alem-hub/focus-quest/internal/domain/session"
	"github.com/alem-hub/focus-quest/internal/domain/shared"
	"github.com/alem-hub/focus-quest/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// UserRepository keeps users in a map. Values are cloned on the way in and out.
type UserRepository struct {
	mu    sync.RWMutex
	users map[string]*user.User
}

// NewUserRepository creates an empty repository.
func NewUserRepository() *UserRepository {
	return &UserRepository{users: make(map[string]*user.User)}
}

var (
	_ user.Repository = (*UserRepository)(nil)
	_ user.Creator    = (*UserRepository)(nil)
	_ user.RankReader = (*UserRepository)(nil)
)

// Load returns a copy of the stored user.
func (r *UserRepository) Load(ctx context.Context, id string) (*user.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, shared.ErrUserNotFound
	}
	return u.Clone(), nil
}

// Save stores a copy of the user.
func (r *UserRepository) Save(ctx context.Context, u *user.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := u.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c := u.Clone()
	c.Rank = 0
	r.users[u.ID] = c
	return nil
}

// Create stores a user unless the id is taken.
func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := u.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[u.ID]; ok {
		return shared.ErrUserAlreadyExists
	}
	c := u.Clone()
	c.Rank = 0
	r.users[u.ID] = c
	return nil
}

// TopByTotalStudyTime returns up to limit users by total study time DESC, id ASC.
func (r *UserRepository) TopByTotalStudyTime(ctx context.Context, limit int) ([]*user.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []*user.User{}, nil
	}

	sorted := r.sorted()
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	for i, u := range sorted {
		u.Rank = i + 1
	}
	return sorted, nil
}

// RankOf returns the 1-based position of a user.
func (r *UserRepository) RankOf(ctx context.Context, id string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	for i, u := range r.sorted() {
		if u.ID == id {
			return i + 1, nil
		}
	}
	return 0, shared.ErrUserNotFound
}

// Len returns the number of stored users.
func (r *UserRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

func (r *UserRepository) sorted() []*user.User {
	r.mu.RLock()
	all := make([]*user.User, 0, len(r.users))
	for _, u := range r.users {
		all = append(all, u.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].TotalStudyTime != all[j].TotalStudyTime {
			return all[i].TotalStudyTime > all[j].TotalStudyTime
		}
		return all[i].ID < all[j].ID
	})
	return all
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION LOG
// ══════════════════════════════════════════════════════════════════════════════

// SessionLogRepository keeps journal records per user in append order.
type SessionLogRepository struct {
	mu     sync.RWMutex
	seen   map[string]struct{}
	byUser map[string][]session.Record
}

// NewSessionLogRepository creates an empty journal.
func NewSessionLogRepository() *SessionLogRepository {
	return &SessionLogRepository{
		seen:   make(map[string]struct{}),
		byUser: make(map[string][]session.Record),
	}
}

var _ session.LogRepository = (*SessionLogRepository)(nil)

// Append journals a record. A repeated id is ignored.
func (r *SessionLogRepository) Append(ctx context.Context, rec session.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" || rec.UserID == "" {
		return fmt.Errorf("session record requires id and user id")
	}
	if !rec.Status.IsValid() {
		return fmt.Errorf("invalid session status %q", rec.Status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.seen[rec.ID]; ok {
		return nil
	}
	r.seen[rec.ID] = struct{}{}
	r.byUser[rec.UserID] = append(r.byUser[rec.UserID], rec)
	return nil
}

// ListByUser returns the latest limit records of a user, newest first.
func (r *SessionLogRepository) ListByUser(ctx context.Context, userID string, limit int) ([]session.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []session.Record{}, nil
	}

	r.mu.RLock()
	records := append([]session.Record(nil), r.byUser[userID]...)
	r.mu.RUnlock()

	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].EndedAt.Equal(records[j].EndedAt) {
			return records[i].EndedAt.After(records[j].EndedAt)
		}
		return records[i].ID > records[j].ID
	})
	if len(records) > limit {
		records = records[:limit]
	}
	if records == nil {
		records = []session.Record{}
	}
	return records, nil
}
