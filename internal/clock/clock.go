// Package clock — подменяемое время поверх github.com/jonboulle/clockwork.
// Все таймеры ядра (проход матчмейкера, истечение ожидающего лобби, отсчёты
// ухода игрока, закрытие комнаты) заводятся через Clock, чтобы тесты гоняли
// их детерминированно через Fake.
package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

type Clock interface {
	Now() time.Time
	// AfterFunc вызывает f через d. Fake вызывает f синхронно внутри Advance.
	AfterFunc(d time.Duration, f func()) *Timer
	NewTicker(d time.Duration) *Ticker
}

type Timer struct {
	stop func() bool
}

// Stop возвращает false, если таймер уже сработал или остановлен.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	return t.stop()
}

type Ticker struct {
	C    <-chan time.Time
	stop func()
}

func (t *Ticker) Stop() { t.stop() }

func Real() Clock { return realClock{clockwork.NewRealClock()} }

type realClock struct {
	c clockwork.Clock
}

func (r realClock) Now() time.Time { return r.c.Now() }

func (r realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := r.c.AfterFunc(d, f)
	return &Timer{stop: t.Stop}
}

func (r realClock) NewTicker(d time.Duration) *Ticker {
	t := r.c.NewTicker(d)
	return &Ticker{C: t.Chan(), stop: t.Stop}
}
