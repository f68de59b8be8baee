package session

import (
	"context"
	"time"
)

// Status - итог сессии в журнале.
type Status string

const (
	// StatusAccepted - сессия засчитана.
	StatusAccepted Status = "accepted"
	// StatusRejected - сессия отклонена фоновым ограничением или лимитом длительности.
	StatusRejected Status = "rejected"
)

// IsValid проверяет статус.
func (s Status) IsValid() bool {
	return s == StatusAccepted || s == StatusRejected
}

// Record - запись журнала остановленной сессии. Прерванные сессии не журналируются.
type Record struct {
	ID               string        `json:"id"`
	UserID           string        `json:"user_id"`
	StartedAt        time.Time     `json:"started_at"`
	EndedAt          time.Time     `json:"ended_at"`
	StudyTime        time.Duration `json:"study_time"`
	BackgroundTime   time.Duration `json:"background_time"`
	Status           Status        `json:"status"`
	EarnedExperience float64       `json:"earned_exp"`
}

// LogRepository - хранилище журнала сессий.
type LogRepository interface {
	// Append добавляет запись. Повторная запись с тем же ID игнорируется.
	Append(ctx context.Context, record Record) error

	// ListByUser возвращает последние limit записей пользователя, новые первыми.
	ListByUser(ctx context.Context, userID string, limit int) ([]Record, error)
}
