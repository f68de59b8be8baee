// Package shared contains common domain types, errors and events
// that are used across all domain packages.
package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. The timer only emits session events; progression
// events are produced by the award command after the engine has run.
const (
	// Session events
	EventSessionStarted   EventType = "session.started"
	EventSessionCompleted EventType = "session.completed"
	EventSessionRejected  EventType = "session.rejected"
	EventSessionAborted   EventType = "session.aborted"

	// Progression events
	EventExperienceAwarded EventType = "progression.experience_awarded"
	EventLevelUp           EventType = "progression.level_up"
	EventCompanionUnlocked EventType = "progression.companion_unlocked"

	// User events
	EventUserCreated       EventType = "user.created"
	EventCompanionEquipped EventType = "user.companion_equipped"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Session Events
// ═══════════════════════════════════════════════════════════════════════════

// SessionStartedEvent is emitted when a timer enters the Running state.
type SessionStartedEvent struct {
	BaseEvent
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
}

// Payload implements Event interface.
func (e SessionStartedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    e.UserID,
		"session_id": e.SessionID,
		"started_at": e.StartedAt,
	}
}

// NewSessionStartedEvent creates a new SessionStartedEvent.
func NewSessionStartedEvent(userID, sessionID string, startedAt time.Time) SessionStartedEvent {
	return SessionStartedEvent{
		BaseEvent: NewBaseEvent(EventSessionStarted, userID),
		UserID:    userID,
		SessionID: sessionID,
		StartedAt: startedAt,
	}
}

// SessionCompletedEvent is emitted only for accepted sessions.
// It is the single entry point into the reward path.
type SessionCompletedEvent struct {
	BaseEvent
	UserID         string        `json:"user_id"`
	SessionID      string        `json:"session_id"`
	StudyTime      time.Duration `json:"study_time"`
	BackgroundTime time.Duration `json:"background_time"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        time.Time     `json:"ended_at"`
}

// Payload implements Event interface.
func (e SessionCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":         e.UserID,
		"session_id":      e.SessionID,
		"study_seconds":   int64(e.StudyTime / time.Second),
		"background_time": e.BackgroundTime.String(),
		"started_at":      e.StartedAt,
		"ended_at":        e.EndedAt,
	}
}

// NewSessionCompletedEvent creates a new SessionCompletedEvent.
func NewSessionCompletedEvent(userID, sessionID string, studyTime, background time.Duration, startedAt, endedAt time.Time) SessionCompletedEvent {
	return SessionCompletedEvent{
		BaseEvent:      NewBaseEvent(EventSessionCompleted, userID),
		UserID:         userID,
		SessionID:      sessionID,
		StudyTime:      studyTime,
		BackgroundTime: background,
		StartedAt:      startedAt,
		EndedAt:        endedAt,
	}
}

// SessionRejectedEvent is emitted when the background guard discards a session.
type SessionRejectedEvent struct {
	BaseEvent
	UserID         string        `json:"user_id"`
	SessionID      string        `json:"session_id"`
	StudyTime      time.Duration `json:"study_time"`
	BackgroundTime time.Duration `json:"background_time"`
	MaxBackground  time.Duration `json:"max_background"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        time.Time     `json:"ended_at"`
}

// Payload implements Event interface.
func (e SessionRejectedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":         e.UserID,
		"session_id":      e.SessionID,
		"study_seconds":   int64(e.StudyTime / time.Second),
		"background_time": e.BackgroundTime.String(),
		"max_background":  e.MaxBackground.String(),
		"started_at":      e.StartedAt,
		"ended_at":        e.EndedAt,
	}
}

// NewSessionRejectedEvent creates a new SessionRejectedEvent.
func NewSessionRejectedEvent(userID, sessionID string, studyTime, background, maxBackground time.Duration, startedAt, endedAt time.Time) SessionRejectedEvent {
	return SessionRejectedEvent{
		BaseEvent:      NewBaseEvent(EventSessionRejected, userID),
		UserID:         userID,
		SessionID:      sessionID,
		StudyTime:      studyTime,
		BackgroundTime: background,
		MaxBackground:  maxBackground,
		StartedAt:      startedAt,
		EndedAt:        endedAt,
	}
}

// SessionAbortedEvent is emitted by a forced stop of a running timer.
type SessionAbortedEvent struct {
	BaseEvent
	UserID    string        `json:"user_id"`
	SessionID string        `json:"session_id"`
	Discarded time.Duration `json:"discarded"`
	Reason    string        `json:"reason"`
}

// Payload implements Event interface.
func (e SessionAbortedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    e.UserID,
		"session_id": e.SessionID,
		"discarded":  e.Discarded.String(),
		"reason":     e.Reason,
	}
}

// NewSessionAbortedEvent creates a new SessionAbortedEvent.
func NewSessionAbortedEvent(userID, sessionID string, discarded time.Duration, reason string) SessionAbortedEvent {
	return SessionAbortedEvent{
		BaseEvent: NewBaseEvent(EventSessionAborted, userID),
		UserID:    userID,
		SessionID: sessionID,
		Discarded: discarded,
		Reason:    reason,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progression Events
// ═══════════════════════════════════════════════════════════════════════════

// ExperienceAwardedEvent carries the sessionCompleted(duration, earnedExp) notification.
type ExperienceAwardedEvent struct {
	BaseEvent
	UserID         string        `json:"user_id"`
	SessionID      string        `json:"session_id"`
	StudyTime      time.Duration `json:"study_time"`
	EarnedExp      float64       `json:"earned_exp"`
	Multiplier     float64       `json:"multiplier"`
	NewExperience  float64       `json:"new_experience"`
	TotalStudyTime time.Duration `json:"total_study_time"`
}

// Payload implements Event interface.
func (e ExperienceAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":          e.UserID,
		"session_id":       e.SessionID,
		"study_seconds":    int64(e.StudyTime / time.Second),
		"earned_exp":       e.EarnedExp,
		"multiplier":       e.Multiplier,
		"new_experience":   e.NewExperience,
		"total_study_time": int64(e.TotalStudyTime / time.Second),
	}
}

// NewExperienceAwardedEvent creates a new ExperienceAwardedEvent.
func NewExperienceAwardedEvent(userID, sessionID string, studyTime time.Duration, earned, multiplier, newExperience float64, total time.Duration) ExperienceAwardedEvent {
	return ExperienceAwardedEvent{
		BaseEvent:      NewBaseEvent(EventExperienceAwarded, userID),
		UserID:         userID,
		SessionID:      sessionID,
		StudyTime:      studyTime,
		EarnedExp:      earned,
		Multiplier:     multiplier,
		NewExperience:  newExperience,
		TotalStudyTime: total,
	}
}

// LevelUpEvent carries the leveledUp(newLevel) notification.
type LevelUpEvent struct {
	BaseEvent
	UserID   string `json:"user_id"`
	OldLevel int    `json:"old_level"`
	NewLevel int    `json:"new_level"`
	Tier     string `json:"tier"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID,
		"old_level": e.OldLevel,
		"new_level": e.NewLevel,
		"tier":      e.Tier,
	}
}

// LevelsGained returns how many levels were crossed in one update.
func (e LevelUpEvent) LevelsGained() int {
	return e.NewLevel - e.OldLevel
}

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(userID string, oldLevel, newLevel int, tier string) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent: NewBaseEvent(EventLevelUp, userID),
		UserID:    userID,
		OldLevel:  oldLevel,
		NewLevel:  newLevel,
		Tier:      tier,
	}
}

// CompanionUnlockedEvent is emitted once per newly unlocked companion.
type CompanionUnlockedEvent struct {
	BaseEvent
	UserID      string `json:"user_id"`
	CompanionID string `json:"companion_id"`
	Level       int    `json:"level"`
}

// Payload implements Event interface.
func (e CompanionUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.UserID,
		"companion_id": e.CompanionID,
		"level":        e.Level,
	}
}

// NewCompanionUnlockedEvent creates a new CompanionUnlockedEvent.
func NewCompanionUnlockedEvent(userID, companionID string, level int) CompanionUnlockedEvent {
	return CompanionUnlockedEvent{
		BaseEvent:   NewBaseEvent(EventCompanionUnlocked, userID),
		UserID:      userID,
		CompanionID: companionID,
		Level:       level,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// User Events
// ═══════════════════════════════════════════════════════════════════════════

// UserCreatedEvent is emitted when a new account is provisioned.
type UserCreatedEvent struct {
	BaseEvent
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
}

// Payload implements Event interface.
func (e UserCreatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":  e.UserID,
		"nickname": e.Nickname,
	}
}

// NewUserCreatedEvent creates a new UserCreatedEvent.
func NewUserCreatedEvent(userID, nickname string) UserCreatedEvent {
	return UserCreatedEvent{
		BaseEvent: NewBaseEvent(EventUserCreated, userID),
		UserID:    userID,
		Nickname:  nickname,
	}
}

// CompanionEquippedEvent is emitted when the active companion changes.
type CompanionEquippedEvent struct {
	BaseEvent
	UserID      string `json:"user_id"`
	CompanionID string `json:"companion_id"`
}

// Payload implements Event interface.
func (e CompanionEquippedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.UserID,
		"companion_id": e.CompanionID,
	}
}

// NewCompanionEquippedEvent creates a new CompanionEquippedEvent.
func NewCompanionEquippedEvent(userID, companionID string) CompanionEquippedEvent {
	return CompanionEquippedEvent{
		BaseEvent:   NewBaseEvent(EventCompanionEquipped, userID),
		UserID:      userID,
		CompanionID: companionID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Bus contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// RemoteEvent is implemented by events received from another instance.
type RemoteEvent interface {
	Remote() bool
}

// IsRemote reports whether the event was published by another instance.
func IsRemote(event Event) bool {
	r, ok := event.(RemoteEvent)
	return ok && r.Remote()
}
