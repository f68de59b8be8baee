// Package user содержит доменную модель пользователя: прогресс, время учёбы
// и открытых компаньонов. Уровень и опыт меняются только через движок прогрессии.
package user

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alem-hub/focus-quest/internal/domain/shared"
)

// DefaultNickname - ник по умолчанию для нового пользователя.
const DefaultNickname = "挑戦者"

// MaxNicknameLength - максимальная длина ника в символах.
const MaxNicknameLength = 32

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: USER
// ══════════════════════════════════════════════════════════════════════════════

// User - сохраняемая сущность игрока.
type User struct {
	// ID - уникальный идентификатор (UUID в строковом формате).
	ID string

	// Nickname - отображаемое имя.
	Nickname string

	// Level - текущий уровень, всегда >= 1.
	Level int

	// Experience - опыт внутри текущего уровня.
	Experience float64

	// TotalStudyTime - суммарное время учёбы без множителей. Метрика рейтинга.
	TotalStudyTime time.Duration

	// UnlockedCompanionIDs - отсортированное множество открытых компаньонов.
	UnlockedCompanionIDs []string

	// ActiveCompanionID - экипированный компаньон, пустая строка если нет.
	ActiveCompanionID string

	// Rank - позиция в рейтинге, заполняется при чтении и не сохраняется.
	Rank int

	// CreatedAt - время создания записи.
	CreatedAt time.Time

	// UpdatedAt - время последнего обновления.
	UpdatedAt time.Time
}

// New создаёт пользователя первого уровня.
func New(id, nickname string, now time.Time) (*User, error) {
	if strings.TrimSpace(id) == "" {
		return nil, shared.ErrInvalidUserID
	}

	nickname, err := normalizeNickname(nickname)
	if err != nil {
		return nil, err
	}

	now = now.UTC()
	return &User{
		ID:                   id,
		Nickname:             nickname,
		Level:                1,
		UnlockedCompanionIDs: []string{},
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}

func normalizeNickname(nickname string) (string, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return DefaultNickname, nil
	}
	if utf8.RuneCountInString(nickname) > MaxNicknameLength {
		return "", shared.WrapError("user", "Rename", shared.ErrInvalidNickname, "nickname too long",
			fmt.Errorf("max %d characters", MaxNicknameLength))
	}
	return nickname, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN METHODS
// ══════════════════════════════════════════════════════════════════════════════

// Validate проверяет инварианты сущности.
func (u *User) Validate() error {
	switch {
	case strings.TrimSpace(u.ID) == "":
		return shared.ErrInvalidUserID
	case u.Level < 1:
		return shared.WrapError("user", "Validate", shared.ErrUserInvariantViolated, "level below 1",
			fmt.Errorf("level=%d", u.Level))
	case u.Experience < 0:
		return shared.WrapError("user", "Validate", shared.ErrUserInvariantViolated, "negative experience",
			fmt.Errorf("experience=%v", u.Experience))
	case u.TotalStudyTime < 0:
		return shared.WrapError("user", "Validate", shared.ErrUserInvariantViolated, "negative study time",
			fmt.Errorf("total_study_time=%s", u.TotalStudyTime))
	case u.ActiveCompanionID != "" && !u.HasCompanion(u.ActiveCompanionID):
		return shared.WrapError("user", "Validate", shared.ErrUserInvariantViolated, "active companion is locked",
			fmt.Errorf("companion=%s", u.ActiveCompanionID))
	}
	return nil
}

// HasCompanion проверяет, открыт ли компаньон.
func (u *User) HasCompanion(id string) bool {
	idx := sort.SearchStrings(u.UnlockedCompanionIDs, id)
	return idx < len(u.UnlockedCompanionIDs) && u.UnlockedCompanionIDs[idx] == id
}

// UnlockCompanion добавляет компаньона в множество открытых.
// Возвращает true, если компаньон открыт впервые.
func (u *User) UnlockCompanion(id string) bool {
	if id == "" || u.HasCompanion(id) {
		return false
	}
	idx := sort.SearchStrings(u.UnlockedCompanionIDs, id)
	u.UnlockedCompanionIDs = append(u.UnlockedCompanionIDs, "")
	copy(u.UnlockedCompanionIDs[idx+1:], u.UnlockedCompanionIDs[idx:])
	u.UnlockedCompanionIDs[idx] = id
	return true
}

// EquipCompanion экипирует открытого компаньона. Пустой id снимает компаньона.
func (u *User) EquipCompanion(id string) error {
	if id != "" && !u.HasCompanion(id) {
		return shared.WrapError("user", "EquipCompanion", shared.ErrCompanionNotUnlocked,
			"companion is not unlocked", fmt.Errorf("companion=%s", id))
	}
	u.ActiveCompanionID = id
	return nil
}

// Rename меняет ник. Пустой ник сбрасывается на DefaultNickname.
func (u *User) Rename(nickname string) error {
	normalized, err := normalizeNickname(nickname)
	if err != nil {
		return err
	}
	u.Nickname = normalized
	return nil
}

// Touch обновляет UpdatedAt.
func (u *User) Touch(now time.Time) {
	u.UpdatedAt = now.UTC()
}

// Clone возвращает глубокую копию пользователя.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.UnlockedCompanionIDs = make([]string, len(u.UnlockedCompanionIDs))
	copy(c.UnlockedCompanionIDs, u.UnlockedCompanionIDs)
	return &c
}

// NormalizeCompanions сортирует и убирает дубликаты после чтения из хранилища.
func (u *User) NormalizeCompanions() {
	if len(u.UnlockedCompanionIDs) == 0 {
		u.UnlockedCompanionIDs = []string{}
		return
	}
	sort.Strings(u.UnlockedCompanionIDs)
	out := u.UnlockedCompanionIDs[:1]
	for _, id := range u.UnlockedCompanionIDs[1:] {
		if id != out[len(out)-1] && id != "" {
			out = append(out, id)
		}
	}
	if out[0] == "" {
		out = out[1:]
	}
	u.UnlockedCompanionIDs = out
}
