package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/alem-hub/focus-quest/internal/domain/leaderboard"
	"github.com/alem-hub/focus-quest/internal/domain/progression"
	"github.com/alem-hub/focus-quest/internal/domain/session"
	"github.com/alem-hub/focus-quest/internal/domain/shared"
	"github.com/alem-hub/focus-quest/internal/domain/user"
	"github.com/alem-hub/focus-quest/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD STUDY TIME COMMAND
// Единственный путь начисления опыта: засчитанная сессия таймера
// превращается в опыт, уровни и компаньонов, после чего пользователь сохраняется.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultMaxSessionDuration - верхняя граница одной сессии.
const DefaultMaxSessionDuration = 12 * time.Hour

// AwardStudyTimeCommand содержит данные засчитанной сессии.
type AwardStudyTimeCommand struct {
	// UserID - владелец сессии. Обязателен.
	UserID string

	// SessionID - идентификатор сессии, используется для журнала и дедупликации.
	SessionID string

	// StudyTime - засчитанное время.
	StudyTime time.Duration

	// BackgroundTime - время в фоне, для журнала.
	BackgroundTime time.Duration

	// StartedAt и EndedAt - границы сессии.
	StartedAt time.Time
	EndedAt   time.Time
}

// Validate проверяет команду до запуска движка.
func (c AwardStudyTimeCommand) Validate(maxDuration time.Duration) error {
	if c.UserID == "" {
		return shared.ErrUserContextMissing
	}
	if c.StudyTime < 0 {
		return shared.WrapError("session", "Award", shared.ErrNegativeStudyTime,
			"study time cannot be negative", fmt.Errorf("study_time=%s", c.StudyTime))
	}
	if maxDuration > 0 && c.StudyTime > maxDuration {
		return shared.WrapError("session", "Award", shared.ErrSessionTooLong,
			"session duration exceeds the allowed maximum",
			fmt.Errorf("study_time=%s max=%s", c.StudyTime, maxDuration))
	}
	return nil
}

// AwardStudyTimeResult - итог начисления.
type AwardStudyTimeResult struct {
	// Progression - результат движка.
	Progression progression.Result

	// User - пользователь после начисления (копия).
	User *user.User

	// Persisted - false, если сохранение отложено.
	Persisted bool

	// Duplicate - true, если сессия уже была начислена.
	Duplicate bool
}

// AwardStudyTimeConfig содержит зависимости и настройки обработчика.
type AwardStudyTimeConfig struct {
	Store     *UserStore
	Engine    *progression.Engine
	Publisher shared.EventPublisher

	// Sessions - журнал сессий (опционально).
	Sessions session.LogRepository

	// Leaderboard - горячий кеш рейтинга (опционально).
	Leaderboard leaderboard.Cache

	// MaxSessionDuration - сессии длиннее отклоняются (0 = DefaultMaxSessionDuration).
	MaxSessionDuration time.Duration

	// DedupWindow - сколько последних session id помнить (0 = 1024).
	DedupWindow int

	// HandleTimeout ограничивает обработку одного события шины.
	HandleTimeout time.Duration

	Now    func() time.Time
	Logger *slog.Logger
}

// AwardStudyTimeHandler обрабатывает засчитанные сессии.
type AwardStudyTimeHandler struct {
	store       *UserStore
	engine      *progression.Engine
	publisher   shared.EventPublisher
	sessions    session.LogRepository
	leaderboard leaderboard.Cache
	cacheRetry  *retry.Retrier

	maxDuration   time.Duration
	handleTimeout time.Duration
	now           func() time.Time
	logger        *slog.Logger

	dedupMu     sync.Mutex
	dedupWindow int
	seen        map[string]struct{}
	seenOrder   []string
}

// NewAwardStudyTimeHandler создаёт обработчик.
func NewAwardStudyTimeHandler(cfg AwardStudyTimeConfig) (*AwardStudyTimeHandler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("award_study_time: user store is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("award_study_time: engine is required")
	}
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("award_study_time: publisher is required")
	}
	if cfg.MaxSessionDuration <= 0 {
		cfg.MaxSessionDuration = DefaultMaxSessionDuration
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 1024
	}
	if cfg.HandleTimeout <= 0 {
		cfg.HandleTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &AwardStudyTimeHandler{
		store:         cfg.Store,
		engine:        cfg.Engine,
		publisher:     cfg.Publisher,
		sessions:      cfg.Sessions,
		leaderboard:   cfg.Leaderboard,
		cacheRetry:    retry.CacheRetrier(),
		maxDuration:   cfg.MaxSessionDuration,
		handleTimeout: cfg.HandleTimeout,
		now:           cfg.Now,
		logger:        cfg.Logger.With("component", "award_study_time"),
		dedupWindow:   cfg.DedupWindow,
		seen:          make(map[string]struct{}),
	}, nil
}

// Handle начисляет опыт за сессию.
//
// Ошибка сохранения возвращается вместе с результатом: пользователь уже
// продвинут в памяти и будет сохранён FlushPending без повторного начисления.
func (h *AwardStudyTimeHandler) Handle(ctx context.Context, cmd AwardStudyTimeCommand) (*AwardStudyTimeResult, error) {
	if err := cmd.Validate(h.maxDuration); err != nil {
		if shared.IsValidation(err) {
			h.logger.Warn("session award rejected",
				"user_id", cmd.UserID,
				"session_id", cmd.SessionID,
				"study_time", cmd.StudyTime.String(),
				"error", err,
			)
			h.journal(ctx, cmd, session.StatusRejected, 0)
		}
		return nil, err
	}

	unlock := h.store.Lock(cmd.UserID)
	defer unlock()

	if cmd.SessionID != "" && h.wasAwarded(cmd.SessionID) {
		h.logger.Debug("duplicate session ignored", "session_id", cmd.SessionID)
		return &AwardStudyTimeResult{Duplicate: true}, nil
	}

	u, err := h.store.Get(ctx, cmd.UserID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, shared.WrapError("session", "Award", shared.ErrMissingContext,
				"no user for completed session", err)
		}
		return nil, fmt.Errorf("award_study_time: load user: %w", err)
	}

	result, err := h.engine.Apply(u, cmd.StudyTime)
	if err != nil {
		return nil, fmt.Errorf("award_study_time: apply: %w", err)
	}
	if result.StudyTime == 0 {
		return &AwardStudyTimeResult{Progression: result, User: u, Persisted: true}, nil
	}
	u.Touch(h.now())

	h.markAwarded(cmd.SessionID)

	saveErr := h.store.Put(ctx, u)

	h.logger.Info("study time awarded",
		"user_id", u.ID,
		"session_id", cmd.SessionID,
		"study_time", result.StudyTime.String(),
		"earned_exp", result.EarnedExperience,
		"multiplier", result.Multiplier,
		"level", result.NewLevel,
		"tier", result.Tier.String(),
		"persisted", saveErr == nil,
	)

	h.publishProgression(cmd, u, result)
	h.journal(ctx, cmd, session.StatusAccepted, result.EarnedExperience)
	h.updateLeaderboard(ctx, u)

	res := &AwardStudyTimeResult{
		Progression: result,
		User:        u.Clone(),
		Persisted:   saveErr == nil,
	}
	if saveErr != nil {
		return res, fmt.Errorf("award_study_time: %w", saveErr)
	}
	return res, nil
}

// HandleEvent подписывается на session.completed.
// События других инстансов пропускаются: их уже начислил источник.
func (h *AwardStudyTimeHandler) HandleEvent(event shared.Event) error {
	if shared.IsRemote(event) {
		return nil
	}

	cmd, err := completedCommand(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.handleTimeout)
	defer cancel()

	_, err = h.Handle(ctx, cmd)
	return err
}

// FlushPending повторяет отложенные сохранения.
func (h *AwardStudyTimeHandler) FlushPending(ctx context.Context) (int, error) {
	return h.store.FlushPending(ctx)
}

// ─────────────────────────────────────────────────────────────────────────────
// Side effects
// ─────────────────────────────────────────────────────────────────────────────

func (h *AwardStudyTimeHandler) publishProgression(cmd AwardStudyTimeCommand, u *user.User, result progression.Result) {
	events := []shared.Event{
		shared.NewExperienceAwardedEvent(u.ID, cmd.SessionID, result.StudyTime,
			result.EarnedExperience, result.Multiplier, u.Experience, u.TotalStudyTime),
	}
	if result.LeveledUp() {
		events = append(events, shared.NewLevelUpEvent(u.ID, result.PreviousLevel, result.NewLevel, result.Tier.String()))
	}
	for _, id := range result.UnlockedCompanionIDs {
		events = append(events, shared.NewCompanionUnlockedEvent(u.ID, id, result.NewLevel))
	}

	for _, event := range events {
		if err := h.publisher.Publish(event); err != nil {
			h.logger.Error("failed to publish progression event",
				"event_type", event.EventType(),
				"user_id", u.ID,
				"error", err,
			)
		}
	}
}

func (h *AwardStudyTimeHandler) journal(ctx context.Context, cmd AwardStudyTimeCommand, status session.Status, earned float64) {
	if h.sessions == nil || cmd.SessionID == "" || cmd.UserID == "" {
		return
	}

	rec := session.Record{
		ID:               cmd.SessionID,
		UserID:           cmd.UserID,
		StartedAt:        cmd.StartedAt,
		EndedAt:          cmd.EndedAt,
		StudyTime:        cmd.StudyTime.Truncate(time.Second),
		BackgroundTime:   cmd.BackgroundTime,
		Status:           status,
		EarnedExperience: earned,
	}
	if rec.EndedAt.IsZero() {
		rec.EndedAt = h.now().UTC()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = rec.EndedAt.Add(-cmd.StudyTime)
	}
	if rec.StudyTime < 0 {
		rec.StudyTime = 0
	}

	if err := h.sessions.Append(ctx, rec); err != nil {
		h.logger.Error("failed to journal session",
			"user_id", cmd.UserID,
			"session_id", cmd.SessionID,
			"error", err,
		)
	}
}

func (h *AwardStudyTimeHandler) updateLeaderboard(ctx context.Context, u *user.User) {
	if h.leaderboard == nil {
		return
	}

	entry := leaderboard.FromUser(u, 0)
	err := h.cacheRetry.Do(ctx, func(ctx context.Context) error {
		return h.leaderboard.Update(ctx, entry)
	})
	if err != nil {
		h.logger.Warn("failed to update leaderboard cache", "user_id", u.ID, "error", err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Dedup
// ─────────────────────────────────────────────────────────────────────────────

func (h *AwardStudyTimeHandler) wasAwarded(sessionID string) bool {
	h.dedupMu.Lock()
	defer h.dedupMu.Unlock()
	_, ok := h.seen[sessionID]
	return ok
}

func (h *AwardStudyTimeHandler) markAwarded(sessionID string) {
	if sessionID == "" {
		return
	}

	h.dedupMu.Lock()
	defer h.dedupMu.Unlock()

	if _, ok := h.seen[sessionID]; ok {
		return
	}
	h.seen[sessionID] = struct{}{}
	h.seenOrder = append(h.seenOrder, sessionID)
	if len(h.seenOrder) > h.dedupWindow {
		oldest := h.seenOrder[0]
		h.seenOrder = h.seenOrder[1:]
		delete(h.seen, oldest)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Event decoding
// ─────────────────────────────────────────────────────────────────────────────

// completedCommand извлекает команду из типизированного события или из payload.
func completedCommand(event shared.Event) (AwardStudyTimeCommand, error) {
	switch e := event.(type) {
	case shared.SessionCompletedEvent:
		return commandFromCompleted(e), nil
	case *shared.SessionCompletedEvent:
		return commandFromCompleted(*e), nil
	}

	if event.EventType() != shared.EventSessionCompleted {
		return AwardStudyTimeCommand{}, fmt.Errorf("award_study_time: unexpected event %s", event.EventType())
	}

	payload := event.Payload()
	cmd := AwardStudyTimeCommand{
		UserID:    stringField(payload, "user_id"),
		SessionID: stringField(payload, "session_id"),
		StartedAt: timeField(payload, "started_at"),
		EndedAt:   timeField(payload, "ended_at"),
	}
	if cmd.UserID == "" {
		cmd.UserID = event.AggregateID()
	}

	secs, ok := int64Field(payload, "study_seconds")
	if !ok {
		return cmd, shared.WrapError("session", "Award", shared.ErrInvalidInput,
			"completed event without study_seconds", nil)
	}
	cmd.StudyTime = time.Duration(secs) * time.Second

	if bg, ok := payload["background_time"].(string); ok {
		if d, err := time.ParseDuration(bg); err == nil {
			cmd.BackgroundTime = d
		}
	}
	return cmd, nil
}

func commandFromCompleted(e shared.SessionCompletedEvent) AwardStudyTimeCommand {
	return AwardStudyTimeCommand{
		UserID:         e.UserID,
		SessionID:      e.SessionID,
		StudyTime:      e.StudyTime,
		BackgroundTime: e.BackgroundTime,
		StartedAt:      e.StartedAt,
		EndedAt:        e.EndedAt,
	}
}

func stringField(payload map[string]interface{}, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func int64Field(payload map[string]interface{}, key string) (int64, bool) {
	switch v := payload[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func timeField(payload map[string]interface{}, key string) time.Time {
	switch v := payload[key].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
