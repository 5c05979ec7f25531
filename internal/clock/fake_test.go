package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAfterFuncFiresOnAdvance(t *testing.T) {
	c := Fake(epoch)
	fired := 0
	c.AfterFunc(10*time.Second, func() { fired++ })

	c.Advance(9 * time.Second)
	assert.Equal(t, 0, fired)
	c.Advance(time.Second)
	assert.Equal(t, 1, fired)
	c.Advance(time.Hour)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, c.Pending())
}

func TestFakeTimerStop(t *testing.T) {
	c := Fake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	require.True(t, timer.Stop())
	require.False(t, timer.Stop())
	c.Advance(time.Minute)
	assert.False(t, fired)
}

func TestFakeCallbacksRunInDeadlineOrder(t *testing.T) {
	c := Fake(epoch)
	var order []int
	c.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	c.AfterFunc(1*time.Second, func() {
		order = append(order, 1)
		// таймер, заведённый из колбэка, тоже срабатывает в этом Advance
		c.AfterFunc(time.Second, func() { order = append(order, 2) })
	})
	c.Advance(5 * time.Second)
	assert.Equal(t, []int{1, 2, 3}, order)
	assert.Equal(t, epoch.Add(5*time.Second), c.Now())
}

func TestFakeTicker(t *testing.T) {
	c := Fake(epoch)
	tk := c.NewTicker(time.Second)
	c.Advance(time.Second)
	select {
	case <-tk.C:
	default:
		t.Fatal("expected a tick")
	}
	tk.Stop()
	c.Advance(5 * time.Second)
	select {
	case <-tk.C:
		t.Fatal("tick after stop")
	default:
	}
}

func TestFakeTickerAndTimerShareTime(t *testing.T) {
	c := Fake(epoch)
	tk := c.NewTicker(2 * time.Second)
	var at time.Time
	c.AfterFunc(3*time.Second, func() { at = c.Now() })

	c.Advance(3 * time.Second)
	assert.Equal(t, epoch.Add(3*time.Second), at)
	select {
	case <-tk.C:
	default:
		t.Fatal("expected a tick at 2s")
	}
	tk.Stop()
}

func TestRealClock(t *testing.T) {
	c := Real()
	done := make(chan struct{})
	c.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timer did not fire")
	}
	assert.True(t, c.AfterFunc(time.Hour, func() {}).Stop())
}
