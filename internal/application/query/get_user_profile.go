package query

import (
	"context"
	"log/slog"
	"time"

	"github.com/alem-hub/focus-quest/internal/domain/progression"
	"github.com/alem-hub/focus-quest/internal/domain/shared"
	"github.com/alem-hub/focus-quest/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET USER PROFILE QUERY
// Профиль пользователя: уровень, прогресс внутри уровня, трофей, компаньоны
// и позиция в рейтинге.
// ══════════════════════════════════════════════════════════════════════════════

// UserReader читает пользователя. Реализуется command.UserStore, поэтому
// профиль видит ещё не сохранённый прогресс.
type UserReader interface {
	Get(ctx context.Context, userID string) (*user.User, error)
}

// GetUserProfileQuery содержит параметры запроса.
type GetUserProfileQuery struct {
	UserID string
}

// CompanionDTO - компаньон в профиле.
type CompanionDTO struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	SkillKind   string  `json:"skill_kind"`
	Multiplier  float64 `json:"multiplier"`
	UnlockLevel int     `json:"unlock_level"`
	Unlocked    bool    `json:"unlocked"`
	Active      bool    `json:"active"`
}

// UserProfile - представление пользователя для клиентов.
type UserProfile struct {
	ID                string               `json:"id"`
	Nickname          string               `json:"nickname"`
	Progress          progression.Progress `json:"progress"`
	TotalStudySeconds int64                `json:"total_study_seconds"`
	TotalStudyTime    string               `json:"total_study_time"`
	Multiplier        float64              `json:"multiplier"`
	ActiveCompanionID string               `json:"active_companion_id,omitempty"`
	Companions        []CompanionDTO       `json:"companions"`
	Rank              int                  `json:"rank,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// GetUserProfileHandler обрабатывает запрос профиля.
type GetUserProfileHandler struct {
	users  UserReader
	ranks  user.RankReader
	engine *progression.Engine
	logger *slog.Logger
}

// NewGetUserProfileHandler создаёт обработчик. ranks может быть nil.
func NewGetUserProfileHandler(users UserReader, ranks user.RankReader, engine *progression.Engine, logger *slog.Logger) *GetUserProfileHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetUserProfileHandler{
		users:  users,
		ranks:  ranks,
		engine: engine,
		logger: logger.With("component", "get_user_profile"),
	}
}

// Handle выполняет запрос.
func (h *GetUserProfileHandler) Handle(ctx context.Context, q GetUserProfileQuery) (*UserProfile, error) {
	if q.UserID == "" {
		return nil, shared.ErrUserContextMissing
	}

	u, err := h.users.Get(ctx, q.UserID)
	if err != nil {
		return nil, err
	}

	profile := &UserProfile{
		ID:                u.ID,
		Nickname:          u.Nickname,
		Progress:          h.engine.Progress(u),
		TotalStudySeconds: int64(u.TotalStudyTime / time.Second),
		TotalStudyTime:    FormatStudyTime(u.TotalStudyTime),
		Multiplier:        h.engine.Multiplier(u),
		ActiveCompanionID: u.ActiveCompanionID,
		Companions:        h.companions(u),
		CreatedAt:         u.CreatedAt,
		UpdatedAt:         u.UpdatedAt,
	}

	if h.ranks != nil {
		rank, err := h.ranks.RankOf(ctx, u.ID)
		if err != nil {
			// Рейтинг не критичен для профиля.
			h.logger.Warn("failed to resolve rank", "user_id", u.ID, "error", err)
		} else {
			profile.Rank = rank
		}
	}

	return profile, nil
}

func (h *GetUserProfileHandler) companions(u *user.User) []CompanionDTO {
	all := h.engine.Catalog().All()
	out := make([]CompanionDTO, 0, len(all))
	for _, c := range all {
		out = append(out, CompanionDTO{
			ID:          c.ID,
			Name:        c.Name,
			SkillKind:   string(c.Skill.Kind),
			Multiplier:  c.Skill.ExperienceMultiplier(),
			UnlockLevel: c.UnlockLevel,
			Unlocked:    u.HasCompanion(c.ID),
			Active:      u.ActiveCompanionID == c.ID,
		})
	}
	return out
}
