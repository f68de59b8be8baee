package session

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/alem-hub/focus-quest/internal/domain/shared"
)

// ErrNotRunning возвращается Stop, если таймер не запущен.
var ErrNotRunning = shared.ErrSessionNotRunning

// DefaultTickInterval - период тикера.
const DefaultTickInterval = time.Second

// ══════════════════════════════════════════════════════════════════════════════
// STATE
// ══════════════════════════════════════════════════════════════════════════════

// State - состояние таймера.
type State int

const (
	// StateIdle - таймер остановлен.
	StateIdle State = iota
	// StateRunning - идёт сессия.
	StateRunning
)

// String возвращает имя состояния.
func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "idle"
}

// MarshalText кодирует состояние именем.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Outcome - итог остановленной сессии.
type Outcome struct {
	SessionID      string        `json:"session_id"`
	UserID         string        `json:"user_id"`
	StudyTime      time.Duration `json:"study_time"`
	BackgroundTime time.Duration `json:"background_time"`
	MaxBackground  time.Duration `json:"max_background"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        time.Time     `json:"ended_at"`
	Accepted       bool          `json:"accepted"`
}

// Status возвращает статус для журнала сессий.
func (o Outcome) Status() Status {
	if o.Accepted {
		return StatusAccepted
	}
	return StatusRejected
}

// Snapshot - read-only представление таймера.
type Snapshot struct {
	UserID             string        `json:"user_id"`
	SessionID          string        `json:"session_id,omitempty"`
	State              State         `json:"state"`
	Elapsed            time.Duration `json:"elapsed"`
	BackgroundTotal    time.Duration `json:"background_total"`
	BackgroundExceeded bool          `json:"background_exceeded"`
	InBackground       bool          `json:"in_background"`
	MaxBackground      time.Duration `json:"max_background"`
	StartedAt          time.Time     `json:"started_at,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// TIMER
// ══════════════════════════════════════════════════════════════════════════════

// TimerConfig содержит зависимости таймера.
type TimerConfig struct {
	// UserID - владелец таймера.
	UserID string

	// MaxBackground - допустимое фоновое время за сессию.
	MaxBackground time.Duration

	// TickInterval - период тикера (по умолчанию 1 секунда).
	TickInterval time.Duration

	// Clock - источник времени.
	Clock Clock

	// Publisher - шина для событий сессии.
	Publisher shared.EventPublisher

	// NewSessionID генерирует идентификатор сессии.
	NewSessionID func() string

	// Logger - логгер.
	Logger *slog.Logger
}

// Timer - секундомер учебной сессии одного пользователя.
// Тик и фоновые колбэки сериализуются одним мьютексом.
type Timer struct {
	mu sync.Mutex

	userID       string
	tickInterval time.Duration
	clock        Clock
	publisher    shared.EventPublisher
	newSessionID func() string
	logger       *slog.Logger

	state     State
	sessionID string
	startedAt time.Time
	elapsed   time.Duration
	tracker   *BackgroundTracker

	ticker Ticker
	done   chan struct{}
	exited chan struct{}
}

// NewTimer создаёт таймер в состоянии Idle.
func NewTimer(cfg TimerConfig) (*Timer, error) {
	if cfg.UserID == "" {
		return nil, shared.ErrUserContextMissing
	}
	if cfg.Publisher == nil {
		return nil, errors.New("session timer: publisher is required")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NewSessionID == nil {
		userID := cfg.UserID
		clock := cfg.Clock
		cfg.NewSessionID = func() string {
			return userID + "-" + strconv.FormatInt(clock.Now().UnixNano(), 36)
		}
	}

	return &Timer{
		userID:       cfg.UserID,
		tickInterval: cfg.TickInterval,
		clock:        cfg.Clock,
		publisher:    cfg.Publisher,
		newSessionID: cfg.NewSessionID,
		logger:       cfg.Logger.With("component", "session_timer", "user_id", cfg.UserID),
		tracker:      NewBackgroundTracker(cfg.MaxBackground),
	}, nil
}

// UserID возвращает владельца таймера.
func (t *Timer) UserID() string {
	return t.userID
}

// Start запускает сессию. Возвращает false, если сессия уже идёт.
func (t *Timer) Start() bool {
	t.mu.Lock()
	if t.state == StateRunning {
		t.mu.Unlock()
		return false
	}

	now := t.clock.Now()
	t.tracker.ResetSession()
	t.state = StateRunning
	t.sessionID = t.newSessionID()
	t.startedAt = now
	t.elapsed = 0

	t.ticker = t.clock.NewTicker(t.tickInterval)
	t.done = make(chan struct{})
	t.exited = make(chan struct{})
	go t.run(t.ticker, t.done, t.exited)

	event := shared.NewSessionStartedEvent(t.userID, t.sessionID, now)
	t.mu.Unlock()

	t.logger.Debug("session started", "session_id", event.SessionID)
	if err := t.publisher.Publish(event); err != nil {
		t.logger.Error("failed to publish session start", "error", err)
	}
	return true
}

func (t *Timer) run(ticker Ticker, done <-chan struct{}, exited chan<- struct{}) {
	defer close(exited)
	for {
		select {
		case <-done:
			return
		case <-ticker.C():
			t.tick()
		}
	}
}

// tick сверяет elapsed с настенными часами. Пропущенные тики не теряют время.
func (t *Timer) tick() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateRunning {
		return
	}
	t.reconcile(t.clock.Now())
}

// reconcile вызывается под мьютексом. elapsed не убывает.
func (t *Timer) reconcile(now time.Time) {
	delta := now.Sub(t.startedAt).Truncate(time.Second)
	if delta > t.elapsed {
		t.elapsed = delta
	}
}

// Stop завершает сессию и выносит вердикт по фоновому времени.
// Принятая сессия публикует session.completed, отклонённая - session.rejected.
func (t *Timer) Stop() (Outcome, error) {
	t.mu.Lock()
	if t.state != StateRunning {
		t.mu.Unlock()
		return Outcome{}, ErrNotRunning
	}

	now := t.clock.Now()
	t.reconcile(now)
	t.tracker.Finalize(now)

	outcome := Outcome{
		SessionID:      t.sessionID,
		UserID:         t.userID,
		StudyTime:      t.elapsed,
		BackgroundTime: t.tracker.Total(),
		MaxBackground:  t.tracker.MaxAllowed(),
		StartedAt:      t.startedAt,
		EndedAt:        now,
		Accepted:       !t.tracker.Exceeded(),
	}

	exited := t.halt()
	t.mu.Unlock()
	<-exited

	var event shared.Event
	if outcome.Accepted {
		event = shared.NewSessionCompletedEvent(outcome.UserID, outcome.SessionID,
			outcome.StudyTime, outcome.BackgroundTime, outcome.StartedAt, outcome.EndedAt)
		t.logger.Info("session completed",
			"session_id", outcome.SessionID,
			"study_time", outcome.StudyTime,
			"background_time", outcome.BackgroundTime,
		)
	} else {
		event = shared.NewSessionRejectedEvent(outcome.UserID, outcome.SessionID,
			outcome.StudyTime, outcome.BackgroundTime, outcome.MaxBackground, outcome.StartedAt, outcome.EndedAt)
		t.logger.Warn("session rejected: background time exceeded",
			"session_id", outcome.SessionID,
			"study_time", outcome.StudyTime,
			"background_time", outcome.BackgroundTime,
			"max_background", outcome.MaxBackground,
		)
	}

	if err := t.publisher.Publish(event); err != nil {
		return outcome, fmt.Errorf("publish %s: %w", event.EventType(), err)
	}
	return outcome, nil
}

// ForceStop сбрасывает сессию без вердикта и начисления. Безопасен из любого состояния.
// Возвращает true, если сессия шла.
func (t *Timer) ForceStop(reason string) bool {
	t.mu.Lock()
	if t.state != StateRunning {
		t.mu.Unlock()
		return false
	}

	sessionID := t.sessionID
	discarded := t.elapsed
	exited := t.halt()
	t.mu.Unlock()
	<-exited

	t.logger.Info("session aborted", "session_id", sessionID, "discarded", discarded, "reason", reason)
	if err := t.publisher.Publish(shared.NewSessionAbortedEvent(t.userID, sessionID, discarded, reason)); err != nil {
		t.logger.Error("failed to publish session abort", "error", err)
	}
	return true
}

// halt переводит таймер в Idle и останавливает тикер. Вызывается под мьютексом.
func (t *Timer) halt() <-chan struct{} {
	t.state = StateIdle
	t.elapsed = 0
	t.sessionID = ""
	t.startedAt = time.Time{}
	t.tracker.ResetSession()

	t.ticker.Stop()
	close(t.done)
	exited := t.exited

	t.ticker = nil
	t.done = nil
	t.exited = nil
	return exited
}

// EnterBackground отмечает уход приложения в фон.
func (t *Timer) EnterBackground() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateRunning {
		return
	}
	t.tracker.OnEnterBackground(t.clock.Now())
}

// EnterForeground отмечает возврат приложения на передний план.
func (t *Timer) EnterForeground() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateRunning {
		return
	}
	t.tracker.OnEnterForeground(t.clock.Now())
}

// Snapshot возвращает текущее состояние таймера.
func (t *Timer) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Snapshot{
		UserID:             t.userID,
		SessionID:          t.sessionID,
		State:              t.state,
		Elapsed:            t.elapsed,
		BackgroundTotal:    t.tracker.Total(),
		BackgroundExceeded: t.tracker.Exceeded(),
		InBackground:       t.tracker.InBackground(),
		MaxBackground:      t.tracker.MaxAllowed(),
		StartedAt:          t.startedAt,
	}
}

// IsRunning возвращает true в состоянии Running.
func (t *Timer) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == StateRunning
}
