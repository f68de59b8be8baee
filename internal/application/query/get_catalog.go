package query

import (
	"github.com/alem-hub/focus-quest/internal/domain/progression"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG QUERIES
// Статические правила прогрессии: компаньоны и таблица трофеев.
// ══════════════════════════════════════════════════════════════════════════════

// TierRow - строка таблицы трофеев.
type TierRow struct {
	Name     string `json:"name"`
	Band     string `json:"band"`
	SubRank  string `json:"sub_rank,omitempty"`
	MinLevel int    `json:"min_level"`
	MaxLevel int    `json:"max_level,omitempty"`

	// CumulativeExperience - опыт от 1 уровня до MinLevel.
	CumulativeExperience float64 `json:"cumulative_exp"`
}

// CatalogHandler отдаёт правила прогрессии.
type CatalogHandler struct {
	engine *progression.Engine
}

// NewCatalogHandler создаёт обработчик.
func NewCatalogHandler(engine *progression.Engine) *CatalogHandler {
	return &CatalogHandler{engine: engine}
}

// Companions возвращает каталог, упорядоченный по уровню открытия.
func (h *CatalogHandler) Companions() []CompanionDTO {
	all := h.engine.Catalog().All()
	out := make([]CompanionDTO, 0, len(all))
	for _, c := range all {
		out = append(out, CompanionDTO{
			ID:          c.ID,
			Name:        c.Name,
			SkillKind:   string(c.Skill.Kind),
			Multiplier:  c.Skill.ExperienceMultiplier(),
			UnlockLevel: c.UnlockLevel,
		})
	}
	return out
}

// Tiers возвращает таблицу трофеев. У последней строки MaxLevel = 0.
func (h *CatalogHandler) Tiers() []TierRow {
	curve := h.engine.Curve()
	boundaries := h.engine.Tiers().Boundaries()

	rows := make([]TierRow, 0, len(boundaries))
	for i, b := range boundaries {
		row := TierRow{
			Name:                 b.Tier.String(),
			Band:                 b.Tier.Band.String(),
			MinLevel:             b.MinLevel,
			CumulativeExperience: curve.CumulativeTo(b.MinLevel),
		}
		if b.Tier.SubRank != progression.SubRankNone {
			row.SubRank = b.Tier.SubRank.String()
		}
		if i+1 < len(boundaries) {
			row.MaxLevel = boundaries[i+1].MinLevel - 1
		}
		rows = append(rows, row)
	}
	return rows
}

// Requirement возвращает опыт для перехода с level на level+1.
func (h *CatalogHandler) Requirement(level int) float64 {
	return h.engine.Curve().RequiredForNextLevel(level)
}
