package eventhandler

import (
	"context"
	"log/slog"
	"time"

	"github.com/alem-hub/focus-quest/internal/domain/notification"
	"github.com/alem-hub/focus-quest/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON PROGRESSION HANDLER
// Переводит события прогресса в вызовы Notifier. Ошибка уведомления
// только логируется: ядро никогда не падает из-за доставки.
// ═══════════════════════════════════════════════════════════════════════════

// NotificationGate решает, получает ли пользователь уведомление данного типа.
type NotificationGate func(kind notification.Type, userID string) bool

// OnProgressionHandler уведомляет пользователя об итогах сессии.
type OnProgressionHandler struct {
	notifier Notifier
	gate     NotificationGate
	timeout  time.Duration
	logger   *slog.Logger
}

// NewOnProgressionHandler создаёт обработчик.
func NewOnProgressionHandler(notifier Notifier, logger *slog.Logger) *OnProgressionHandler {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OnProgressionHandler{
		notifier: notifier,
		timeout:  10 * time.Second,
		logger:   logger.With("handler", "on_progression"),
	}
}

// WithGate включает фильтр уведомлений. nil пропускает всё.
func (h *OnProgressionHandler) WithGate(gate NotificationGate) *OnProgressionHandler {
	h.gate = gate
	return h
}

func (h *OnProgressionHandler) allowed(kind notification.Type, userID string) bool {
	return h.gate == nil || h.gate(kind, userID)
}

// Subscribe регистрирует обработчик на все события, которые он понимает.
func (h *OnProgressionHandler) Subscribe(bus shared.EventSubscriber) error {
	for _, t := range []shared.EventType{
		shared.EventExperienceAwarded,
		shared.EventLevelUp,
		shared.EventCompanionUnlocked,
		shared.EventSessionRejected,
	} {
		if err := bus.Subscribe(t, h.Handle); err != nil {
			return err
		}
	}
	return nil
}

// Handle реализует shared.EventHandler.
// События других инстансов пропускаются: их уведомил источник.
func (h *OnProgressionHandler) Handle(event shared.Event) error {
	if shared.IsRemote(event) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	var (
		userID string
		kind   notification.Type
		send   func() error
	)

	switch e := event.(type) {
	case shared.ExperienceAwardedEvent:
		userID, kind = e.UserID, notification.TypeSessionCompleted
		send = func() error { return h.notifier.SessionCompleted(ctx, e.UserID, e.StudyTime, e.EarnedExp) }
	case shared.LevelUpEvent:
		userID, kind = e.UserID, notification.TypeLevelUp
		send = func() error { return h.notifier.LeveledUp(ctx, e.UserID, e.NewLevel) }
	case shared.CompanionUnlockedEvent:
		userID, kind = e.UserID, notification.TypeCompanionUnlocked
		send = func() error { return h.notifier.CompanionUnlocked(ctx, e.UserID, e.CompanionID) }
	case shared.SessionRejectedEvent:
		userID, kind = e.UserID, notification.TypeSessionRejected
		send = func() error { return h.notifier.SessionRejected(ctx, e.UserID, e.BackgroundTime, e.MaxBackground) }
	default:
		h.logger.Debug("ignoring event", "event_type", event.EventType())
		return nil
	}

	if !h.allowed(kind, userID) {
		h.logger.Debug("notification disabled", "type", kind, "user_id", userID)
		return nil
	}

	if err := send(); err != nil {
		h.logger.Warn("notification failed",
			"event_type", event.EventType(),
			"user_id", userID,
			"error", err,
		)
	}
	return nil
}
