package progression

import (
	"fmt"
	"math"
	"time"

	"github.com/alem-hub/focus-quest/internal/domain/shared"
	"github.com/alem-hub/focus-quest/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// Engine превращает время учёбы в опыт, уровни и открытия компаньонов.
// Engine не хранит состояния и безопасен для конкурентного использования.
type Engine struct {
	curve   Curve
	catalog *Catalog
	tiers   *TierTable
}

// NewEngine создаёт движок. nil-аргументы заменяются значениями по умолчанию.
func NewEngine(curve Curve, catalog *Catalog, tiers *TierTable) (*Engine, error) {
	if err := curve.Validate(); err != nil {
		return nil, err
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if tiers == nil {
		tiers = DefaultTierTable()
	}
	return &Engine{curve: curve, catalog: catalog, tiers: tiers}, nil
}

// Result - итог применения сессии к пользователю.
type Result struct {
	// StudyTime - засчитанное время, усечённое до секунд.
	StudyTime time.Duration `json:"study_time"`

	// EarnedExperience - начисленный опыт с учётом множителя.
	EarnedExperience float64 `json:"earned_exp"`

	// Multiplier - применённый множитель компаньона.
	Multiplier float64 `json:"multiplier"`

	// PreviousLevel - уровень до начисления.
	PreviousLevel int `json:"previous_level"`

	// NewLevel - уровень после начисления.
	NewLevel int `json:"new_level"`

	// UnlockedCompanionIDs - компаньоны, открытые этим начислением.
	UnlockedCompanionIDs []string `json:"unlocked_companion_ids"`

	// Tier - трофей после начисления.
	Tier Tier `json:"tier"`
}

// LeveledUp возвращает true, если уровень вырос.
func (r Result) LeveledUp() bool {
	return r.NewLevel > r.PreviousLevel
}

// Apply начисляет опыт за studyTime и мутирует пользователя.
// Нулевая сессия ничего не меняет.
func (e *Engine) Apply(u *user.User, studyTime time.Duration) (Result, error) {
	if u == nil {
		return Result{}, shared.ErrUserContextMissing
	}
	if studyTime < 0 {
		return Result{}, shared.WrapError("progression", "Apply", shared.ErrNegativeStudyTime,
			"study time cannot be negative", fmt.Errorf("study_time=%s", studyTime))
	}
	if u.Level < 1 {
		u.Level = 1
	}

	studyTime = studyTime.Truncate(time.Second)
	multiplier := e.Multiplier(u)

	result := Result{
		StudyTime:     studyTime,
		Multiplier:    multiplier,
		PreviousLevel: u.Level,
		NewLevel:      u.Level,
	}

	if studyTime == 0 {
		result.Tier = e.tiers.Resolve(u.Level)
		return result, nil
	}

	seconds := studyTime.Seconds()
	earned := seconds * multiplier

	u.Experience += earned
	u.TotalStudyTime += studyTime

	for {
		required := e.curve.RequiredForNextLevel(u.Level)
		if u.Experience < required {
			break
		}
		u.Experience -= required
		u.Level++
	}
	u.Experience = math.Max(u.Experience, 0)

	result.EarnedExperience = earned
	result.NewLevel = u.Level
	result.UnlockedCompanionIDs = e.SyncUnlocks(u)
	result.Tier = e.tiers.Resolve(u.Level)

	return result, nil
}

// SyncUnlocks открывает всех компаньонов, доступных на текущем уровне.
// Возвращает только впервые открытых.
func (e *Engine) SyncUnlocks(u *user.User) []string {
	var unlocked []string
	for _, id := range e.catalog.UnlockedAt(u.Level) {
		if u.UnlockCompanion(id) {
			unlocked = append(unlocked, id)
		}
	}
	return unlocked
}

// Multiplier возвращает множитель экипированного компаньона.
func (e *Engine) Multiplier(u *user.User) float64 {
	if u == nil || u.ActiveCompanionID == "" {
		return 1
	}
	companion, ok := e.catalog.Get(u.ActiveCompanionID)
	if !ok {
		return 1
	}
	return companion.Skill.ExperienceMultiplier()
}

// ══════════════════════════════════════════════════════════════════════════════
// READ MODELS
// ══════════════════════════════════════════════════════════════════════════════

// Progress - производное представление прогресса пользователя.
type Progress struct {
	Level              int     `json:"level"`
	Experience         float64 `json:"experience"`
	RequiredExperience float64 `json:"required_experience"`
	Percent            float64 `json:"percent"`
	Tier               Tier    `json:"tier"`
	TierName           string  `json:"tier_name"`
	NextTierLevel      int     `json:"next_tier_level,omitempty"`
}

// Progress вычисляет прогресс пользователя внутри уровня.
func (e *Engine) Progress(u *user.User) Progress {
	required := e.curve.RequiredForNextLevel(u.Level)
	tier := e.tiers.Resolve(u.Level)

	p := Progress{
		Level:              u.Level,
		Experience:         u.Experience,
		RequiredExperience: required,
		Tier:               tier,
		TierName:           tier.String(),
	}
	if required > 0 {
		p.Percent = math.Min(100, u.Experience/required*100)
	}
	if next, ok := e.tiers.Next(u.Level); ok {
		p.NextTierLevel = next.MinLevel
	}
	return p
}

// Curve возвращает кривую опыта.
func (e *Engine) Curve() Curve { return e.curve }

// Catalog возвращает каталог компаньонов.
func (e *Engine) Catalog() *Catalog { return e.catalog }

// Tiers возвращает таблицу трофеев.
func (e *Engine) Tiers() *TierTable { return e.tiers }
