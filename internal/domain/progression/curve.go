// Package progression содержит правила прогрессии: кривую опыта, таблицу
// тиров, каталог компаньонов и движок, превращающий время учёбы в опыт.
// Пакет не имеет внешних зависимостей и не хранит состояния между вызовами.
package progression

import (
	"fmt"
	"math"

	"github.com/alem-hub/focus-quest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXPERIENCE CURVE
// ══════════════════════════════════════════════════════════════════════════════

// Curve описывает требование опыта для перехода на следующий уровень:
// required(level) = level*Base + floor(level^Exponent * Scale).
type Curve struct {
	// Base - линейный коэффициент (по умолчанию 100).
	Base float64

	// Exponent - показатель степени (по умолчанию 1.5).
	Exponent float64

	// Scale - множитель степенного слагаемого (по умолчанию 50).
	Scale float64
}

// powEpsilon поглощает погрешность math.Pow на точных степенях (4^1.5 = 8).
const powEpsilon = 1e-9

// DefaultCurve возвращает стандартную кривую 100 / 1.5 / 50.
func DefaultCurve() Curve {
	return Curve{
		Base:     100,
		Exponent: 1.5,
		Scale:    50,
	}
}

// Validate проверяет, что требование положительно и строго растёт с уровнем.
func (c Curve) Validate() error {
	var problems []string
	if c.Base <= 0 || math.IsNaN(c.Base) || math.IsInf(c.Base, 0) {
		problems = append(problems, "base must be positive")
	}
	if c.Exponent < 0 || math.IsNaN(c.Exponent) || math.IsInf(c.Exponent, 0) {
		problems = append(problems, "exponent must be non-negative")
	}
	if c.Scale < 0 || math.IsNaN(c.Scale) || math.IsInf(c.Scale, 0) {
		problems = append(problems, "scale must be non-negative")
	}
	if len(problems) > 0 {
		return shared.WrapError("progression", "ValidateCurve", shared.ErrInvalidCurve,
			"invalid experience curve", fmt.Errorf("%v", problems))
	}
	return nil
}

// RequiredForNextLevel возвращает опыт, необходимый для перехода с level на level+1.
// Уровни ниже 1 трактуются как 1.
func (c Curve) RequiredForNextLevel(level int) float64 {
	if level < 1 {
		level = 1
	}
	l := float64(level)
	return l*c.Base + math.Floor(math.Pow(l, c.Exponent)*c.Scale+powEpsilon)
}

// CumulativeTo возвращает суммарный опыт, нужный чтобы дойти с 1 уровня до target.
func (c Curve) CumulativeTo(target int) float64 {
	var total float64
	for level := 1; level < target; level++ {
		total += c.RequiredForNextLevel(level)
	}
	return total
}
