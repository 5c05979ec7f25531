package clock

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Fake — часы для тестов: время стоит, пока не вызовут Advance.
func Fake(start time.Time) *FakeClock {
	return &FakeClock{fc: clockwork.NewFakeClockAt(start)}
}

// FakeClock держит время и тикеры в clockwork.FakeClock, а колбэки
// AfterFunc зовёт сам: синхронно и в порядке дедлайнов.
type FakeClock struct {
	fc *clockwork.FakeClock

	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	at   time.Time
	t    clockwork.Timer
	fn   func()
	done bool
}

func (c *FakeClock) Now() time.Time { return c.fc.Now() }

// AfterFunc с d <= 0 вызывает f сразу, до возврата.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stop: func() bool { return false }}
	}
	ft := &fakeTimer{at: c.fc.Now().Add(d), t: c.fc.NewTimer(d), fn: f}
	c.mu.Lock()
	c.timers = append(c.timers, ft)
	c.mu.Unlock()
	return &Timer{stop: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if ft.done {
			return false
		}
		ft.done = true
		ft.t.Stop()
		return true
	}}
}

func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	t := c.fc.NewTicker(d)
	return &Ticker{C: t.Chan(), stop: t.Stop}
}

// Advance двигает время шагами до каждого наступившего дедлайна. Колбэки
// зовутся без удержания мьютекса, поэтому из них можно заводить новые
// таймеры: те, что укладываются в тот же Advance, тоже сработают.
func (c *FakeClock) Advance(d time.Duration) {
	target := c.fc.Now().Add(d)
	for {
		ft := c.nextDue(target)
		if ft == nil {
			c.fc.Advance(target.Sub(c.fc.Now()))
			return
		}
		c.fc.Advance(ft.at.Sub(c.fc.Now()))
		select {
		case <-ft.t.Chan():
		default:
			ft.t.Stop()
		}
		ft.fn()
	}
}

// Pending — сколько таймеров AfterFunc ещё ждут.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ft := range c.timers {
		if !ft.done {
			n++
		}
	}
	return n
}

// nextDue снимает с очереди самый ранний таймер не позже target.
// При равных дедлайнах первым идёт заведённый раньше.
func (c *FakeClock) nextDue(target time.Time) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var next *fakeTimer
	live := c.timers[:0]
	for _, ft := range c.timers {
		if ft.done {
			continue
		}
		live = append(live, ft)
		if !ft.at.After(target) && (next == nil || ft.at.Before(next.at)) {
			next = ft
		}
	}
	c.timers = live
	if next != nil {
		next.done = true
	}
	return next
}
