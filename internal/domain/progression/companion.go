package progression

import (
	"fmt"
	"math"
	"sort"

	"github.com/alem-hub/focus-quest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SKILLS
// ══════════════════════════════════════════════════════════════════════════════

// SkillKind определяет эффект навыка компаньона.
type SkillKind string

const (
	// SkillExperienceBoost - множитель опыта за сессию.
	SkillExperienceBoost SkillKind = "experience_boost"
	// SkillCosmetic - чисто косметический навык без влияния на опыт.
	SkillCosmetic SkillKind = "cosmetic"
)

// IsValid проверяет, что вид навыка известен.
func (k SkillKind) IsValid() bool {
	return k == SkillExperienceBoost || k == SkillCosmetic
}

// Skill - навык компаньона.
type Skill struct {
	// Kind - вид эффекта.
	Kind SkillKind `json:"kind"`

	// Multiplier - множитель опыта, применяется один раз за сессию.
	Multiplier float64 `json:"multiplier"`
}

// ExperienceMultiplier возвращает множитель опыта; 1 для навыков без буста.
func (s Skill) ExperienceMultiplier() float64 {
	if s.Kind != SkillExperienceBoost || s.Multiplier <= 0 {
		return 1
	}
	return s.Multiplier
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPANION
// ══════════════════════════════════════════════════════════════════════════════

// Companion - персонаж из статического каталога.
type Companion struct {
	// ID - стабильный идентификатор, хранится в unlockedCompanionIDs.
	ID string `json:"id"`

	// Name - отображаемое имя.
	Name string `json:"name"`

	// Skill - навык компаньона.
	Skill Skill `json:"skill"`

	// UnlockLevel - уровень, с которого компаньон открывается.
	UnlockLevel int `json:"unlock_level"`
}

// Catalog - неизменяемый во время работы каталог компаньонов.
type Catalog struct {
	byID    map[string]Companion
	ordered []Companion
}

// NewCatalog создаёт каталог, упорядоченный по уровню открытия.
func NewCatalog(companions []Companion) (*Catalog, error) {
	byID := make(map[string]Companion, len(companions))
	ordered := make([]Companion, 0, len(companions))

	for i, c := range companions {
		switch {
		case c.ID == "":
			return nil, catalogError(fmt.Errorf("entry %d: empty id", i))
		case c.UnlockLevel < 1:
			return nil, catalogError(fmt.Errorf("companion %q: unlock level must be >= 1", c.ID))
		case !c.Skill.Kind.IsValid():
			return nil, catalogError(fmt.Errorf("companion %q: unknown skill kind %q", c.ID, c.Skill.Kind))
		case c.Skill.Kind == SkillExperienceBoost && (c.Skill.Multiplier <= 0 || math.IsNaN(c.Skill.Multiplier) || math.IsInf(c.Skill.Multiplier, 0)):
			return nil, catalogError(fmt.Errorf("companion %q: boost multiplier must be positive", c.ID))
		}
		if _, dup := byID[c.ID]; dup {
			return nil, catalogError(fmt.Errorf("duplicate companion %q", c.ID))
		}
		if c.Name == "" {
			c.Name = c.ID
		}
		byID[c.ID] = c
		ordered = append(ordered, c)
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].UnlockLevel < ordered[j].UnlockLevel
	})

	return &Catalog{byID: byID, ordered: ordered}, nil
}

func catalogError(err error) error {
	return shared.WrapError("progression", "NewCatalog", shared.ErrInvalidCatalog, "invalid companion catalog", err)
}

// DefaultCatalog возвращает встроенный каталог компаньонов.
func DefaultCatalog() *Catalog {
	catalog, err := NewCatalog([]Companion{
		{ID: "mochi", Name: "Mochi", Skill: Skill{Kind: SkillCosmetic}, UnlockLevel: 1},
		{ID: "kitsune", Name: "Kitsune", Skill: Skill{Kind: SkillExperienceBoost, Multiplier: 1.1}, UnlockLevel: 3},
		{ID: "tanuki", Name: "Tanuki", Skill: Skill{Kind: SkillExperienceBoost, Multiplier: 1.2}, UnlockLevel: 10},
		{ID: "tsuru", Name: "Tsuru", Skill: Skill{Kind: SkillCosmetic}, UnlockLevel: 22},
		{ID: "ryu", Name: "Ryu", Skill: Skill{Kind: SkillExperienceBoost, Multiplier: 1.3}, UnlockLevel: 52},
	})
	if err != nil {
		panic(err)
	}
	return catalog
}

// Get возвращает компаньона по ID.
func (c *Catalog) Get(id string) (Companion, bool) {
	companion, ok := c.byID[id]
	return companion, ok
}

// All возвращает копию каталога, упорядоченную по уровню открытия.
func (c *Catalog) All() []Companion {
	out := make([]Companion, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// UnlockedAt возвращает ID всех компаньонов, доступных на уровне level.
func (c *Catalog) UnlockedAt(level int) []string {
	ids := make([]string, 0, len(c.ordered))
	for _, companion := range c.ordered {
		if companion.UnlockLevel > level {
			break
		}
		ids = append(ids, companion.ID)
	}
	return ids
}
