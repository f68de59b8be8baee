// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/alem-hub/focus-quest/internal/domain/shared"
	"github.com/alem-hub/focus-quest/internal/domain/user"
	"github.com/alem-hub/focus-quest/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER STORE
// Единая точка записи пользователей для всех команд. Сериализует изменения
// одного пользователя и держит непринятые хранилищем версии в памяти.
// ══════════════════════════════════════════════════════════════════════════════

// UserStore оборачивает user.Repository очередью отложенных сохранений.
//
// Если Save не удался, изменённый пользователь остаётся в pending. Следующее
// чтение вернёт именно его, поэтому повторная попытка никогда не начисляет
// опыт заново, а новое начисление строится поверх уже начисленного.
type UserStore struct {
	repo    user.Repository
	retrier *retry.Retrier
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]*user.User
	locks   map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// NewUserStore создаёт хранилище. retrier nil означает retry.StorageRetrier().
func NewUserStore(repo user.Repository, retrier *retry.Retrier, logger *slog.Logger) *UserStore {
	if retrier == nil {
		retrier = retry.StorageRetrier()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UserStore{
		repo:    repo,
		retrier: retrier,
		logger:  logger.With("component", "user_store"),
		pending: make(map[string]*user.User),
		locks:   make(map[string]*userLock),
	}
}

// Repository возвращает обёрнутое хранилище.
func (s *UserStore) Repository() user.Repository {
	return s.repo
}

// Lock захватывает эксклюзивный доступ к пользователю. Вызовите unlock по завершении.
func (s *UserStore) Lock(userID string) (unlock func()) {
	s.mu.Lock()
	l, ok := s.locks[userID]
	if !ok {
		l = &userLock{}
		s.locks[userID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, userID)
		}
		s.mu.Unlock()
	}
}

// Get возвращает копию пользователя: отложенную версию, если она есть.
func (s *UserStore) Get(ctx context.Context, userID string) (*user.User, error) {
	s.mu.Lock()
	p, ok := s.pending[userID]
	s.mu.Unlock()
	if ok {
		return p.Clone(), nil
	}

	return s.repo.Load(ctx, userID)
}

// Put сохраняет пользователя с повторами. При неудаче пользователь
// остаётся в pending, а ошибка возвращается вызывающему. Отказ валидации
// не повторяется и в pending не попадает.
func (s *UserStore) Put(ctx context.Context, u *user.User) error {
	snapshot := u.Clone()

	err := s.retrier.Do(ctx, func(ctx context.Context) error {
		if err := s.repo.Save(ctx, snapshot); err != nil {
			if shared.IsValidation(err) {
				return retry.Permanent(err)
			}
			return err
		}
		return nil
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil && shared.IsValidation(err) {
		s.logger.Error("user rejected by storage",
			"user_id", u.ID,
			"level", u.Level,
			"error", err,
		)
		return fmt.Errorf("save user %s: %w", u.ID, err)
	}

	if err != nil {
		s.pending[u.ID] = snapshot
		s.logger.Error("user save failed, kept pending",
			"user_id", u.ID,
			"level", u.Level,
			"pending", len(s.pending),
			"error", err,
		)
		return fmt.Errorf("save user %s: %w", u.ID, err)
	}

	delete(s.pending, u.ID)
	return nil
}

// Create создаёт пользователя, если хранилище это поддерживает.
func (s *UserStore) Create(ctx context.Context, u *user.User) error {
	if creator, ok := s.repo.(user.Creator); ok {
		return creator.Create(ctx, u)
	}

	if _, err := s.repo.Load(ctx, u.ID); err == nil {
		return shared.ErrUserAlreadyExists
	}
	return s.repo.Save(ctx, u)
}

// FlushPending повторяет отложенные сохранения.
// Возвращает число сохранённых и первую ошибку.
func (s *UserStore) FlushPending(ctx context.Context) (int, error) {
	ids := s.PendingIDs()

	flushed := 0
	var firstErr error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return flushed, err
		}

		unlock := s.Lock(id)
		s.mu.Lock()
		u, ok := s.pending[id]
		s.mu.Unlock()

		if !ok {
			unlock()
			continue
		}

		err := s.repo.Save(ctx, u)
		if err == nil || shared.IsValidation(err) {
			s.mu.Lock()
			if s.pending[id] == u {
				delete(s.pending, id)
			}
			s.mu.Unlock()
		}

		switch {
		case err == nil:
			flushed++
		case shared.IsValidation(err):
			s.logger.Error("pending user rejected by storage, dropped", "user_id", id, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("flush user %s: %w", id, err)
			}
		case firstErr == nil:
			firstErr = fmt.Errorf("flush user %s: %w", id, err)
		}
		unlock()
	}

	if flushed > 0 || firstErr != nil {
		s.logger.Info("pending saves flushed",
			"flushed", flushed,
			"remaining", s.PendingCount(),
			"error", firstErr,
		)
	}
	return flushed, firstErr
}

// PendingCount возвращает число отложенных пользователей.
func (s *UserStore) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// PendingIDs возвращает отсортированные ID отложенных пользователей.
func (s *UserStore) PendingIDs() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	sort.Strings(ids)
	return ids
}
