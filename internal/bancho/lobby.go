package bancho

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/EgorLis/packbot/internal/osu"
)

// Lobby — мультиплеерная комната Bancho (канал #mp_<id>).
type Lobby struct {
	c       *Client
	id      int
	name    string
	channel string

	mu     sync.Mutex
	ev     osu.RoomEvents
	queue  []func(osu.RoomEvents)
	active bool // горутина доставки запущена
	closed bool

	slots  map[int]osu.Slot
	scores []osu.Score

	// снимок "!mp settings" в процессе сбора
	expect   int
	incoming []osu.Slot
	refresh  chan struct{}
}

func newLobby(c *Client, id int, name string) *Lobby {
	return &Lobby{
		c:       c,
		id:      id,
		name:    name,
		channel: "#mp_" + strconv.Itoa(id),
		slots:   make(map[int]osu.Slot),
		expect:  -1,
	}
}

func (l *Lobby) ID() int         { return l.id }
func (l *Lobby) Name() string    { return l.name }
func (l *Lobby) Channel() string { return l.channel }

// Say пишет в канал комнаты.
func (l *Lobby) Say(text string) error {
	if l.isClosed() {
		return ErrClosed
	}
	return l.c.privmsg(l.channel, text)
}

func (l *Lobby) SetSettings(team osu.TeamMode, win osu.WinCondition, size int) error {
	return l.Say(fmt.Sprintf("!mp set %d %d %d", int(team), int(win), size))
}

func (l *Lobby) Invite(u osu.User) error {
	return l.Say("!mp invite " + u.Invite())
}

func (l *Lobby) SetMap(id int, mode osu.Mode) error {
	return l.Say(fmt.Sprintf("!mp map %d %d", id, mode.BanchoID()))
}

// SetMods: mods — короткие имена через пробел, freemod добавляет "Freemod".
func (l *Lobby) SetMods(mods string, freemod bool) error {
	parts := strings.Fields(mods)
	if freemod {
		parts = append(parts, "Freemod")
	}
	if len(parts) == 0 {
		parts = append(parts, "None")
	}
	return l.Say("!mp mods " + strings.Join(parts, " "))
}

func (l *Lobby) Start(countdown int) error {
	if countdown > 0 {
		return l.Say(fmt.Sprintf("!mp start %d", countdown))
	}
	return l.Say("!mp start")
}

func (l *Lobby) StartTimer(seconds int) error {
	return l.Say(fmt.Sprintf("!mp timer %d", seconds))
}

func (l *Lobby) AbortTimer() error {
	return l.Say("!mp aborttimer")
}

// Refresh запрашивает "!mp settings" и ждёт, пока придут все слоты.
// Ответ разбирается прямо в readLoop, мимо очереди событий, поэтому
// Refresh можно звать из обработчика события.
func (l *Lobby) Refresh(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.refresh == nil {
		l.refresh = make(chan struct{})
	}
	done := l.refresh
	l.mu.Unlock()

	if err := l.Say("!mp settings"); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(l.c.cfg.RequestTimeout):
		return fmt.Errorf("bancho: room %d: timeout waiting for settings", l.id)
	}
}

// Slots — занятые слоты по возрастанию номера.
func (l *Lobby) Slots() []osu.Slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]osu.Slot, 0, len(l.slots))
	for _, s := range l.slots {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b osu.Slot) int { return a.Index - b.Index })
	return out
}

func (l *Lobby) Listen(ev osu.RoomEvents) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ev = ev
}

// Unlisten снимает обработчики. Не ждёт доставки: событие, уже взятое
// из очереди, может дойти до старых обработчиков.
func (l *Lobby) Unlisten() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ev = osu.RoomEvents{}
	l.queue = nil
	return nil
}

// Close закрывает комнату ("!mp close") и выходит из канала. Повторный
// вызов ничего не делает.
func (l *Lobby) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.queue = nil
	l.mu.Unlock()

	err := l.c.privmsg(l.channel, "!mp close")
	_ = l.c.writeRaw("PART " + l.channel)
	l.c.forget(l)
	l.c.log.Info("room closed", "room", l.id)
	return err
}

func (l *Lobby) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// markClosed — комнату закрыли без нас.
func (l *Lobby) markClosed() {
	l.mu.Lock()
	l.closed = true
	l.queue = nil
	l.mu.Unlock()
	l.c.forget(l)
}

// ========================= события =========================

// enqueue ставит событие в очередь комнаты. Очередь без ограничения,
// доставка по одному в порядке прихода.
func (l *Lobby) enqueue(fn func(osu.RoomEvents)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.queue = append(l.queue, fn)
	if !l.active {
		l.active = true
		go l.deliver()
	}
}

func (l *Lobby) deliver() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.active = false
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue = l.queue[1:]
		ev := l.ev
		l.mu.Unlock()
		fn(ev)
	}
}

func (l *Lobby) handleChat(m osu.Message) {
	l.enqueue(func(ev osu.RoomEvents) {
		if ev.Message != nil {
			ev.Message(m)
		}
	})
}

func (l *Lobby) handleBancho(text string) {
	e := parseBanchoLine(text)

	l.mu.Lock()
	switch e.kind {
	case evJoined:
		l.slots[e.slot.Index] = e.slot
	case evLeft:
		for i, s := range l.slots {
			if s.Player.Is(e.user) {
				delete(l.slots, i)
			}
		}
	case evMoved:
		for i, s := range l.slots {
			if s.Player.Is(e.slot.Player) {
				delete(l.slots, i)
				s.Index = e.slot.Index
				l.slots[s.Index] = s
				break
			}
		}
	case evTeam:
		for i, s := range l.slots {
			if s.Player.Is(e.slot.Player) {
				s.Team = e.slot.Team
				l.slots[i] = s
			}
		}
	case evStarted:
		l.scores = nil
	case evScore:
		l.scores = append(l.scores, e.score)
	case evPlayers:
		l.expect = e.count
		l.incoming = l.incoming[:0]
		l.completeSnapshotLocked()
	case evSlot:
		if l.expect >= 0 {
			l.incoming = append(l.incoming, e.slot)
			l.completeSnapshotLocked()
		}
	}
	scores := l.scores
	if e.kind == evFinished {
		l.scores = nil
	}
	l.mu.Unlock()

	switch e.kind {
	case evJoined:
		slot := e.slot
		l.enqueue(func(ev osu.RoomEvents) {
			if ev.PlayerJoined != nil {
				ev.PlayerJoined(slot)
			}
		})
	case evLeft:
		u := e.user
		l.enqueue(func(ev osu.RoomEvents) {
			if ev.PlayerLeft != nil {
				ev.PlayerLeft(u)
			}
		})
	case evAllReady:
		l.enqueue(func(ev osu.RoomEvents) {
			if ev.AllReady != nil {
				ev.AllReady()
			}
		})
	case evFinished:
		l.enqueue(func(ev osu.RoomEvents) {
			if ev.MatchFinished != nil {
				ev.MatchFinished(scores)
			}
		})
	case evTimerEnded:
		l.enqueue(func(ev osu.RoomEvents) {
			if ev.TimerEnded != nil {
				ev.TimerEnded()
			}
		})
	case evClosed:
		l.markClosed()
	}
}

// completeSnapshotLocked заменяет слоты, когда пришли все строки снимка.
func (l *Lobby) completeSnapshotLocked() {
	if l.expect < 0 || len(l.incoming) < l.expect {
		return
	}
	l.slots = make(map[int]osu.Slot, len(l.incoming))
	for _, s := range l.incoming {
		l.slots[s.Index] = s
	}
	l.incoming = nil
	l.expect = -1
	if l.refresh != nil {
		close(l.refresh)
		l.refresh = nil
	}
}
