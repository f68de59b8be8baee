package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/focus-quest/internal/domain/session"
	"github.com/alem-hub/focus-quest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOURNAL REJECTED SESSION
// Отклонённые таймером сессии не попадают в путь начисления,
// но остаются в журнале со статусом rejected.
// ══════════════════════════════════════════════════════════════════════════════

// JournalRejectedHandler пишет session.rejected в журнал.
type JournalRejectedHandler struct {
	sessions session.LogRepository
	timeout  time.Duration
	logger   *slog.Logger
}

// NewJournalRejectedHandler создаёт обработчик.
func NewJournalRejectedHandler(sessions session.LogRepository, logger *slog.Logger) *JournalRejectedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JournalRejectedHandler{
		sessions: sessions,
		timeout:  5 * time.Second,
		logger:   logger.With("component", "journal_rejected"),
	}
}

// HandleEvent реализует shared.EventHandler.
func (h *JournalRejectedHandler) HandleEvent(event shared.Event) error {
	if shared.IsRemote(event) {
		return nil
	}

	var e shared.SessionRejectedEvent
	switch v := event.(type) {
	case shared.SessionRejectedEvent:
		e = v
	case *shared.SessionRejectedEvent:
		e = *v
	default:
		return nil
	}

	if e.UserID == "" || e.SessionID == "" {
		return fmt.Errorf("journal_rejected: %w", shared.ErrUserContextMissing)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	rec := session.Record{
		ID:             e.SessionID,
		UserID:         e.UserID,
		StartedAt:      e.StartedAt,
		EndedAt:        e.EndedAt,
		StudyTime:      e.StudyTime.Truncate(time.Second),
		BackgroundTime: e.BackgroundTime,
		Status:         session.StatusRejected,
	}
	if err := h.sessions.Append(ctx, rec); err != nil {
		return fmt.Errorf("journal_rejected: %w", err)
	}
	return nil
}
