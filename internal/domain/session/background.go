package session

import "time"

// DefaultMaxBackground - допустимое фоновое время за сессию по умолчанию.
const DefaultMaxBackground = 60 * time.Second

// BackgroundTracker считает время, проведённое приложением в фоне за сессию.
// Итог растёт только при закрытии интервала. Не потокобезопасен:
// вызывается под мьютексом таймера.
type BackgroundTracker struct {
	enteredAt  time.Time
	open       bool
	total      time.Duration
	maxAllowed time.Duration
}

// NewBackgroundTracker создаёт трекер. Неположительный порог заменяется DefaultMaxBackground.
func NewBackgroundTracker(maxAllowed time.Duration) *BackgroundTracker {
	if maxAllowed <= 0 {
		maxAllowed = DefaultMaxBackground
	}
	return &BackgroundTracker{maxAllowed: maxAllowed}
}

// ResetSession обнуляет итог и закрывает открытый интервал без учёта.
func (b *BackgroundTracker) ResetSession() {
	b.enteredAt = time.Time{}
	b.open = false
	b.total = 0
}

// OnEnterBackground открывает интервал. Повторный вызов игнорируется.
func (b *BackgroundTracker) OnEnterBackground(at time.Time) {
	if b.open {
		return
	}
	b.enteredAt = at
	b.open = true
}

// OnEnterForeground закрывает открытый интервал. Без открытого интервала ничего не делает.
func (b *BackgroundTracker) OnEnterForeground(at time.Time) {
	if !b.open {
		return
	}
	if d := at.Sub(b.enteredAt); d > 0 {
		b.total += d
	}
	b.enteredAt = time.Time{}
	b.open = false
}

// Finalize закрывает открытый интервал моментом at (остановка сессии).
func (b *BackgroundTracker) Finalize(at time.Time) {
	b.OnEnterForeground(at)
}

// InBackground возвращает true, если интервал открыт.
func (b *BackgroundTracker) InBackground() bool {
	return b.open
}

// Total возвращает сумму закрытых интервалов.
func (b *BackgroundTracker) Total() time.Duration {
	return b.total
}

// TotalAt возвращает итог с учётом открытого интервала на момент now.
func (b *BackgroundTracker) TotalAt(now time.Time) time.Duration {
	if !b.open {
		return b.total
	}
	if d := now.Sub(b.enteredAt); d > 0 {
		return b.total + d
	}
	return b.total
}

// Exceeded возвращает true, если итог строго больше порога.
func (b *BackgroundTracker) Exceeded() bool {
	return b.total > b.maxAllowed
}

// MaxAllowed возвращает порог.
func (b *BackgroundTracker) MaxAllowed() time.Duration {
	return b.maxAllowed
}
