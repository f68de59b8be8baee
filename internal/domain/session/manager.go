package session

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/focus-quest/internal/domain/shared"
)

// ManagerConfig содержит общие настройки таймеров.
type ManagerConfig struct {
	MaxBackground time.Duration
	TickInterval  time.Duration
	Clock         Clock
	Publisher     shared.EventPublisher
	NewSessionID  func() string
	Logger        *slog.Logger
}

// Manager - реестр таймеров: один таймер на пользователя.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	mu     sync.Mutex
	timers map[string]*Timer
}

// NewManager создаёт реестр.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Publisher == nil {
		return nil, errors.New("session manager: publisher is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	return &Manager{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "session_manager"),
		timers: make(map[string]*Timer),
	}, nil
}

// Get возвращает таймер пользователя, создавая его при первом обращении.
func (m *Manager) Get(userID string) (*Timer, error) {
	if userID == "" {
		return nil, shared.ErrUserContextMissing
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if timer, ok := m.timers[userID]; ok {
		return timer, nil
	}

	timer, err := NewTimer(TimerConfig{
		UserID:        userID,
		MaxBackground: m.cfg.MaxBackground,
		TickInterval:  m.cfg.TickInterval,
		Clock:         m.cfg.Clock,
		Publisher:     m.cfg.Publisher,
		NewSessionID:  m.cfg.NewSessionID,
		Logger:        m.cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	m.timers[userID] = timer
	return timer, nil
}

// Lookup возвращает таймер без создания.
func (m *Manager) Lookup(userID string) (*Timer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	timer, ok := m.timers[userID]
	return timer, ok
}

// Abort принудительно останавливает сессию пользователя.
// Таймер остаётся в реестре: обработчик, уже получивший его через Get,
// может снова вызвать Start, и Shutdown до него дотянется.
func (m *Manager) Abort(userID, reason string) bool {
	timer, ok := m.Lookup(userID)
	if !ok {
		return false
	}
	return timer.ForceStop(reason)
}

// Active возвращает снимки всех запущенных таймеров, упорядоченные по user_id.
func (m *Manager) Active() []Snapshot {
	m.mu.Lock()
	timers := make([]*Timer, 0, len(m.timers))
	for _, timer := range m.timers {
		timers = append(timers, timer)
	}
	m.mu.Unlock()

	active := make([]Snapshot, 0, len(timers))
	for _, timer := range timers {
		if snap := timer.Snapshot(); snap.State == StateRunning {
			active = append(active, snap)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].UserID < active[j].UserID })
	return active
}

// Shutdown принудительно останавливает все таймеры.
func (m *Manager) Shutdown(reason string) int {
	m.mu.Lock()
	timers := m.timers
	m.timers = make(map[string]*Timer)
	m.mu.Unlock()

	stopped := 0
	for _, timer := range timers {
		if timer.ForceStop(reason) {
			stopped++
		}
	}
	if stopped > 0 {
		m.logger.Info("running sessions aborted", "count", stopped, "reason", reason)
	}
	return stopped
}
