// Package notification содержит доменную модель уведомлений о прогрессе.
// Уведомления только сообщают; ошибка доставки никогда не откатывает начисление.
package notification

import (
	"errors"
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// MESSAGE TYPE
// ══════════════════════════════════════════════════════════════════════════════

// Type определяет тип уведомления.
type Type string

const (
	// TypeSessionCompleted - сессия засчитана.
	// "✅ Сессия 25:00 засчитана! +1500 XP"
	TypeSessionCompleted Type = "session_completed"

	// TypeSessionRejected - сессия отклонена из-за фона.
	// "⏸ Сессия не засчитана: приложение было в фоне 1m45s"
	TypeSessionRejected Type = "session_rejected"

	// TypeLevelUp - повышение уровня.
	// "⬆️ Уровень повышен! Теперь ты Level 8"
	TypeLevelUp Type = "level_up"

	// TypeCompanionUnlocked - открыт новый компаньон.
	// "🦊 Новый компаньон: kitsune"
	TypeCompanionUnlocked Type = "companion_unlocked"
)

// IsValid проверяет тип.
func (t Type) IsValid() bool {
	switch t {
	case TypeSessionCompleted, TypeSessionRejected, TypeLevelUp, TypeCompanionUnlocked:
		return true
	}
	return false
}

// Priority - срочность доставки.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// String возвращает строковое представление.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// MarshalText позволяет сериализовать приоритет строкой.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText разбирает приоритет; неизвестное значение даёт PriorityNormal.
func (p *Priority) UnmarshalText(text []byte) error {
	switch string(text) {
	case "low":
		*p = PriorityLow
	case "high":
		*p = PriorityHigh
	default:
		*p = PriorityNormal
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MESSAGE
// ══════════════════════════════════════════════════════════════════════════════

// ErrInvalidMessage - сообщение без получателя или с неизвестным типом.
var ErrInvalidMessage = errors.New("notification: invalid message")

// Message - готовое к доставке уведомление.
type Message struct {
	Type      Type                   `json:"type"`
	UserID    string                 `json:"user_id"`
	Priority  Priority               `json:"priority"`
	Title     string                 `json:"title"`
	Body      string                 `json:"body"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Validate проверяет сообщение перед отправкой.
func (m Message) Validate() error {
	if m.UserID == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidMessage)
	}
	if !m.Type.IsValid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
	}
	return nil
}

// SessionCompleted строит уведомление о засчитанной сессии.
func SessionCompleted(userID string, duration time.Duration, earnedExp float64, now time.Time) Message {
	return Message{
		Type:     TypeSessionCompleted,
		UserID:   userID,
		Priority: PriorityNormal,
		Title:    "Сессия засчитана",
		Body:     fmt.Sprintf("✅ Сессия %s засчитана! +%.0f XP", FormatClock(duration), earnedExp),
		Data: map[string]interface{}{
			"study_seconds": int64(duration / time.Second),
			"earned_exp":    earnedExp,
		},
		CreatedAt: now.UTC(),
	}
}

// SessionRejected строит уведомление об отклонённой сессии.
func SessionRejected(userID string, background, maxAllowed time.Duration, now time.Time) Message {
	return Message{
		Type:     TypeSessionRejected,
		UserID:   userID,
		Priority: PriorityLow,
		Title:    "Сессия не засчитана",
		Body: fmt.Sprintf("⏸ Сессия не засчитана: приложение было в фоне %s (допустимо %s)",
			background.Truncate(time.Second), maxAllowed),
		Data: map[string]interface{}{
			"background_ms":  background.Milliseconds(),
			"max_background": maxAllowed.String(),
		},
		CreatedAt: now.UTC(),
	}
}

// LeveledUp строит уведомление о новом уровне.
func LeveledUp(userID string, newLevel int, tierName string, now time.Time) Message {
	body := fmt.Sprintf("⬆️ Уровень повышен! Теперь ты Level %d", newLevel)
	if tierName != "" {
		body += " · " + tierName
	}
	return Message{
		Type:      TypeLevelUp,
		UserID:    userID,
		Priority:  PriorityHigh,
		Title:     "Новый уровень",
		Body:      body,
		Data:      map[string]interface{}{"new_level": newLevel, "tier": tierName},
		CreatedAt: now.UTC(),
	}
}

// CompanionUnlocked строит уведомление о новом компаньоне.
func CompanionUnlocked(userID, companionID, companionName string, now time.Time) Message {
	if companionName == "" {
		companionName = companionID
	}
	return Message{
		Type:      TypeCompanionUnlocked,
		UserID:    userID,
		Priority:  PriorityHigh,
		Title:     "Новый компаньон",
		Body:      "🐾 Новый компаньон: " + companionName,
		Data:      map[string]interface{}{"companion_id": companionID},
		CreatedAt: now.UTC(),
	}
}

// FormatClock форматирует длительность как MM:SS или H:MM:SS.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
