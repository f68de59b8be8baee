package query

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/focus-quest/internal/domain/session"
	"github.com/alem-hub/focus-quest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST SESSIONS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// Ограничения выдачи журнала.
const (
	DefaultSessionsLimit = 20
	MaxSessionsLimit     = 100
)

// ListSessionsQuery содержит параметры запроса.
type ListSessionsQuery struct {
	UserID string
	Limit  int
}

// SessionsSummary - сводка по выданным записям.
type SessionsSummary struct {
	Accepted         int     `json:"accepted"`
	Rejected         int     `json:"rejected"`
	StudySeconds     int64   `json:"study_seconds"`
	EarnedExperience float64 `json:"earned_exp"`
}

// ListSessionsResult - последние сессии пользователя, новые первыми.
type ListSessionsResult struct {
	Sessions []session.Record `json:"sessions"`
	Summary  SessionsSummary  `json:"summary"`
}

// ListSessionsHandler читает журнал сессий.
type ListSessionsHandler struct {
	sessions session.LogRepository
}

// NewListSessionsHandler создаёт обработчик.
func NewListSessionsHandler(sessions session.LogRepository) *ListSessionsHandler {
	return &ListSessionsHandler{sessions: sessions}
}

// Handle выполняет запрос.
func (h *ListSessionsHandler) Handle(ctx context.Context, q ListSessionsQuery) (*ListSessionsResult, error) {
	if q.UserID == "" {
		return nil, shared.ErrUserContextMissing
	}
	switch {
	case q.Limit < 0:
		return nil, shared.NewDomainError("query", "ListSessions", shared.ErrInvalidInput, "limit cannot be negative")
	case q.Limit == 0:
		q.Limit = DefaultSessionsLimit
	case q.Limit > MaxSessionsLimit:
		q.Limit = MaxSessionsLimit
	}

	records, err := h.sessions.ListByUser(ctx, q.UserID, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("list_sessions: %w", err)
	}

	result := &ListSessionsResult{Sessions: records}
	for _, r := range records {
		switch r.Status {
		case session.StatusAccepted:
			result.Summary.Accepted++
			result.Summary.StudySeconds += int64(r.StudyTime / time.Second)
			result.Summary.EarnedExperience += r.EarnedExperience
		case session.StatusRejected:
			result.Summary.Rejected++
		}
	}
	return result, nil
}
