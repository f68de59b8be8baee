package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatClock(t *testing.T) {
	assert.Equal(t, "25:00", FormatClock(25*time.Minute))
	assert.Equal(t, "1:40:00", FormatClock(6000*time.Second))
	assert.Equal(t, "00:00", FormatClock(-time.Second))
	assert.Equal(t, "00:59", FormatClock(59900*time.Millisecond))
}

func TestSessionCompleted(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	msg := SessionCompleted("u-1", 25*time.Minute, 1500, now)

	assert.NoError(t, msg.Validate())
	assert.Equal(t, TypeSessionCompleted, msg.Type)
	assert.Contains(t, msg.Body, "25:00")
	assert.Contains(t, msg.Body, "+1500 XP")
	assert.Equal(t, int64(1500), msg.Data["study_seconds"])
}

func TestLeveledUp_IncludesTier(t *testing.T) {
	msg := LeveledUp("u-1", 8, "Bronze II", time.Now())
	assert.Contains(t, msg.Body, "Level 8")
	assert.Contains(t, msg.Body, "Bronze II")
	assert.Equal(t, PriorityHigh, msg.Priority)
}

func TestMessageValidate(t *testing.T) {
	assert.ErrorIs(t, Message{Type: TypeLevelUp}.Validate(), ErrInvalidMessage)
	assert.ErrorIs(t, Message{UserID: "u", Type: "spam"}.Validate(), ErrInvalidMessage)
	assert.NoError(t, CompanionUnlocked("u", "kitsune", "", time.Now()).Validate())
}
