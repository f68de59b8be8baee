package progression

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alem-hub/focus-quest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// Band - ступень трофея.
type Band int

const (
	// BandBronze - бронза.
	BandBronze Band = iota
	// BandSilver - серебро.
	BandSilver
	// BandGold - золото.
	BandGold
	// BandPlatinum - платина.
	BandPlatinum
	// BandDiamond - алмаз.
	BandDiamond
	// BandMaster - мастер, открытая сверху ступень.
	BandMaster
)

var bandNames = [...]string{"bronze", "silver", "gold", "platinum", "diamond", "master"}

// String возвращает имя ступени.
func (b Band) String() string {
	if b < BandBronze || b > BandMaster {
		return "unknown"
	}
	return bandNames[b]
}

// IsValid проверяет, что ступень известна.
func (b Band) IsValid() bool {
	return b >= BandBronze && b <= BandMaster
}

// MarshalText кодирует ступень именем.
func (b Band) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// ParseBand разбирает имя ступени без учёта регистра.
func ParseBand(s string) (Band, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range bandNames {
		if name == s {
			return Band(i), nil
		}
	}
	return 0, fmt.Errorf("unknown band %q", s)
}

// SubRank - подранг внутри ступени. SubRankNone используется открытой ступенью.
type SubRank int

const (
	// SubRankNone - без подранга.
	SubRankNone SubRank = iota
	// SubRankI - первый подранг.
	SubRankI
	// SubRankII - второй подранг.
	SubRankII
	// SubRankIII - третий подранг.
	SubRankIII
)

// String возвращает римскую запись подранга.
func (s SubRank) String() string {
	switch s {
	case SubRankI:
		return "I"
	case SubRankII:
		return "II"
	case SubRankIII:
		return "III"
	default:
		return ""
	}
}

// MarshalText кодирует подранг римской записью.
func (s SubRank) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseSubRank разбирает "I", "II", "III" или пустую строку.
func ParseSubRank(s string) (SubRank, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NONE":
		return SubRankNone, nil
	case "I", "1":
		return SubRankI, nil
	case "II", "2":
		return SubRankII, nil
	case "III", "3":
		return SubRankIII, nil
	default:
		return 0, fmt.Errorf("unknown sub-rank %q", s)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TIER
// ══════════════════════════════════════════════════════════════════════════════

// Tier - вычисляемый трофей {ступень, подранг}. Никогда не хранится.
type Tier struct {
	Band    Band    `json:"band"`
	SubRank SubRank `json:"sub_rank"`
}

// Rank возвращает порядковый номер трофея для сравнения.
func (t Tier) Rank() int {
	return int(t.Band)*4 + int(t.SubRank)
}

// String возвращает "gold II" или "master".
func (t Tier) String() string {
	if t.SubRank == SubRankNone {
		return t.Band.String()
	}
	return t.Band.String() + " " + t.SubRank.String()
}

// TierBoundary - нижняя граница уровня, с которой начинается трофей.
type TierBoundary struct {
	MinLevel int
	Tier     Tier
}

// ══════════════════════════════════════════════════════════════════════════════
// TIER TABLE
// ══════════════════════════════════════════════════════════════════════════════

// TierTable отображает уровень в трофей по возрастающим непересекающимся границам.
// Последняя граница открыта сверху.
type TierTable struct {
	boundaries []TierBoundary
}

// NewTierTable создаёт таблицу и проверяет её полноту и монотонность.
func NewTierTable(boundaries []TierBoundary) (*TierTable, error) {
	if len(boundaries) == 0 {
		return nil, shared.WrapError("progression", "NewTierTable", shared.ErrInvalidTierTable,
			"invalid tier table", fmt.Errorf("table is empty"))
	}

	rows := make([]TierBoundary, len(boundaries))
	copy(rows, boundaries)

	if rows[0].MinLevel != 1 {
		return nil, shared.WrapError("progression", "NewTierTable", shared.ErrInvalidTierTable,
			"invalid tier table", fmt.Errorf("first boundary must start at level 1, got %d", rows[0].MinLevel))
	}

	for i, b := range rows {
		if !b.Tier.Band.IsValid() {
			return nil, shared.WrapError("progression", "NewTierTable", shared.ErrInvalidTierTable,
				"invalid tier table", fmt.Errorf("row %d: unknown band", i))
		}
		if b.Tier.SubRank < SubRankNone || b.Tier.SubRank > SubRankIII {
			return nil, shared.WrapError("progression", "NewTierTable", shared.ErrInvalidTierTable,
				"invalid tier table", fmt.Errorf("row %d: unknown sub-rank", i))
		}
		if i == 0 {
			continue
		}
		prev := rows[i-1]
		if b.MinLevel <= prev.MinLevel {
			return nil, shared.WrapError("progression", "NewTierTable", shared.ErrInvalidTierTable,
				"invalid tier table", fmt.Errorf("row %d: min level %d does not ascend past %d", i, b.MinLevel, prev.MinLevel))
		}
		if b.Tier.Rank() <= prev.Tier.Rank() {
			return nil, shared.WrapError("progression", "NewTierTable", shared.ErrInvalidTierTable,
				"invalid tier table", fmt.Errorf("row %d: %s does not rank above %s", i, b.Tier, prev.Tier))
		}
	}

	return &TierTable{boundaries: rows}, nil
}

// DefaultTierTable возвращает стандартную таблицу: бронза шагом 7 уровней,
// дальше шаг расширяется, мастер открыт сверху с 244 уровня.
func DefaultTierTable() *TierTable {
	rows := []struct {
		min  int
		band Band
		sub  SubRank
	}{
		{1, BandBronze, SubRankI}, {8, BandBronze, SubRankII}, {15, BandBronze, SubRankIII},
		{22, BandSilver, SubRankI}, {32, BandSilver, SubRankII}, {42, BandSilver, SubRankIII},
		{52, BandGold, SubRankI}, {66, BandGold, SubRankII}, {80, BandGold, SubRankIII},
		{94, BandPlatinum, SubRankI}, {114, BandPlatinum, SubRankII}, {134, BandPlatinum, SubRankIII},
		{154, BandDiamond, SubRankI}, {184, BandDiamond, SubRankII}, {214, BandDiamond, SubRankIII},
		{244, BandMaster, SubRankNone},
	}

	boundaries := make([]TierBoundary, len(rows))
	for i, r := range rows {
		boundaries[i] = TierBoundary{MinLevel: r.min, Tier: Tier{Band: r.band, SubRank: r.sub}}
	}

	table, err := NewTierTable(boundaries)
	if err != nil {
		panic(err)
	}
	return table
}

// Resolve возвращает трофей для уровня. Уровни ниже 1 трактуются как 1.
func (t *TierTable) Resolve(level int) Tier {
	if level < 1 {
		level = 1
	}
	idx := sort.Search(len(t.boundaries), func(i int) bool {
		return t.boundaries[i].MinLevel > level
	})
	return t.boundaries[idx-1].Tier
}

// Next возвращает следующую границу после текущего уровня.
// ok=false, если уровень уже в открытой ступени.
func (t *TierTable) Next(level int) (TierBoundary, bool) {
	if level < 1 {
		level = 1
	}
	idx := sort.Search(len(t.boundaries), func(i int) bool {
		return t.boundaries[i].MinLevel > level
	})
	if idx >= len(t.boundaries) {
		return TierBoundary{}, false
	}
	return t.boundaries[idx], true
}

// Boundaries возвращает копию границ таблицы.
func (t *TierTable) Boundaries() []TierBoundary {
	out := make([]TierBoundary, len(t.boundaries))
	copy(out, t.boundaries)
	return out
}
