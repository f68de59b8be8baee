package eventhandler

import (
	"log/slog"

	"github.com/alem-hub/focus-quest/internal/domain/session"
	"github.com/alem-hub/focus-quest/internal/domain/shared"
)

// ReasonStartedElsewhere - причина остановки таймера, запущенного на другом инстансе.
const ReasonStartedElsewhere = "started_elsewhere"

// ═══════════════════════════════════════════════════════════════════════════
// ON SESSION STARTED HANDLER
// Пользователь держит не больше одного таймера во всём кластере:
// старт на другом инстансе прерывает локальный таймер без начисления.
// ═══════════════════════════════════════════════════════════════════════════

// OnSessionStartedHandler освобождает локальный таймер при удалённом старте.
type OnSessionStartedHandler struct {
	manager *session.Manager
	logger  *slog.Logger
}

// NewOnSessionStartedHandler создаёт обработчик.
func NewOnSessionStartedHandler(manager *session.Manager, logger *slog.Logger) *OnSessionStartedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnSessionStartedHandler{
		manager: manager,
		logger:  logger.With("handler", "on_session_started"),
	}
}

// Handle реализует shared.EventHandler.
func (h *OnSessionStartedHandler) Handle(event shared.Event) error {
	if event.EventType() != shared.EventSessionStarted || !shared.IsRemote(event) {
		return nil
	}

	userID, _ := event.Payload()["user_id"].(string)
	if userID == "" {
		userID = event.AggregateID()
	}
	if userID == "" {
		return nil
	}

	if h.manager.Abort(userID, ReasonStartedElsewhere) {
		h.logger.Info("local session aborted", "user_id", userID, "reason", ReasonStartedElsewhere)
	}
	return nil
}
