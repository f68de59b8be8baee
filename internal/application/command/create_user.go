package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/focus-quest/internal/domain/progression"
	"github.com/alem-hub/focus-quest/internal/domain/shared"
	"github.com/alem-hub/focus-quest/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREATE USER COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// CreateUserCommand содержит данные нового пользователя.
type CreateUserCommand struct {
	// ID - необязательный внешний идентификатор. Пустой ID заменяется UUID.
	ID string

	// Nickname - отображаемое имя. Пустое заменяется user.DefaultNickname.
	Nickname string
}

// CreateUserHandler создаёт пользователей первого уровня.
type CreateUserHandler struct {
	store     *UserStore
	engine    *progression.Engine
	publisher shared.EventPublisher
	now       func() time.Time
	logger    *slog.Logger
}

// NewCreateUserHandler создаёт обработчик.
func NewCreateUserHandler(store *UserStore, engine *progression.Engine, publisher shared.EventPublisher, logger *slog.Logger) *CreateUserHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CreateUserHandler{
		store:     store,
		engine:    engine,
		publisher: publisher,
		now:       time.Now,
		logger:    logger.With("component", "create_user"),
	}
}

// Handle создаёт пользователя и сразу открывает компаньонов первого уровня.
func (h *CreateUserHandler) Handle(ctx context.Context, cmd CreateUserCommand) (*user.User, error) {
	id := cmd.ID
	if id == "" {
		id = uuid.NewString()
	}

	u, err := user.New(id, cmd.Nickname, h.now())
	if err != nil {
		return nil, err
	}
	unlocked := h.engine.SyncUnlocks(u)

	if err := h.store.Create(ctx, u); err != nil {
		if shared.IsAlreadyExists(err) {
			return nil, err
		}
		return nil, fmt.Errorf("create_user: %w", err)
	}

	h.logger.Info("user created",
		"user_id", u.ID,
		"nickname", u.Nickname,
		"companions", u.UnlockedCompanionIDs,
	)

	if h.publisher != nil {
		events := []shared.Event{shared.NewUserCreatedEvent(u.ID, u.Nickname)}
		for _, cid := range unlocked {
			events = append(events, shared.NewCompanionUnlockedEvent(u.ID, cid, u.Level))
		}
		for _, event := range events {
			if err := h.publisher.Publish(event); err != nil {
				h.logger.Error("failed to publish event", "event_type", event.EventType(), "error", err)
			}
		}
	}

	return u, nil
}
