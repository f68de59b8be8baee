package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/focus-quest/internal/domain/progression"
	"github.com/alem-hub/focus-quest/internal/domain/shared"
	"github.com/alem-hub/focus-quest/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// EQUIP COMPANION COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// EquipCompanionCommand экипирует компаньона. Пустой CompanionID снимает текущего.
type EquipCompanionCommand struct {
	UserID      string
	CompanionID string
}

// EquipCompanionHandler меняет активного компаньона.
type EquipCompanionHandler struct {
	store     *UserStore
	catalog   *progression.Catalog
	publisher shared.EventPublisher
	now       func() time.Time
	logger    *slog.Logger
}

// NewEquipCompanionHandler создаёт обработчик.
func NewEquipCompanionHandler(store *UserStore, catalog *progression.Catalog, publisher shared.EventPublisher, logger *slog.Logger) *EquipCompanionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EquipCompanionHandler{
		store:     store,
		catalog:   catalog,
		publisher: publisher,
		now:       time.Now,
		logger:    logger.With("component", "equip_companion"),
	}
}

// Handle проверяет, что компаньон есть в каталоге и открыт, и сохраняет выбор.
func (h *EquipCompanionHandler) Handle(ctx context.Context, cmd EquipCompanionCommand) (*user.User, error) {
	if cmd.UserID == "" {
		return nil, shared.ErrUserContextMissing
	}
	if cmd.CompanionID != "" {
		if _, ok := h.catalog.Get(cmd.CompanionID); !ok {
			return nil, shared.WrapError("user", "EquipCompanion", shared.ErrUnknownCompanion,
				"unknown companion", fmt.Errorf("companion=%s", cmd.CompanionID))
		}
	}

	unlock := h.store.Lock(cmd.UserID)
	defer unlock()

	u, err := h.store.Get(ctx, cmd.UserID)
	if err != nil {
		return nil, err
	}
	if u.ActiveCompanionID == cmd.CompanionID {
		return u, nil
	}

	if err := u.EquipCompanion(cmd.CompanionID); err != nil {
		return nil, err
	}
	u.Touch(h.now())

	if err := h.store.Put(ctx, u); err != nil {
		return nil, fmt.Errorf("equip_companion: %w", err)
	}

	h.logger.Info("companion equipped", "user_id", u.ID, "companion_id", cmd.CompanionID)
	if h.publisher != nil {
		if err := h.publisher.Publish(shared.NewCompanionEquippedEvent(u.ID, cmd.CompanionID)); err != nil {
			h.logger.Error("failed to publish event", "error", err)
		}
	}
	return u, nil
}
