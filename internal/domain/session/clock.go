// Package session содержит секундомер учебной сессии и трекер фонового времени.
// Таймер не выполняет ввод-вывод: результат сессии уходит в шину событий.
package session

import "time"

// Clock - источник времени. Подменяется в тестах.
type Clock interface {
	// Now возвращает текущее время.
	Now() time.Time

	// NewTicker создаёт тикер с периодом d.
	NewTicker(d time.Duration) Ticker
}

// Ticker - абстракция над time.Ticker.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock - системные часы.
type RealClock struct{}

// Now возвращает time.Now().
func (RealClock) Now() time.Time { return time.Now() }

// NewTicker оборачивает time.NewTicker.
func (RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }
