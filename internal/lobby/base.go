// Package lobby — лобби поверх мультиплеерной комнаты.
//
// Base — общий скелет: создание комнаты, подписка на её события,
// сериализация всех колбэков одного лобби, закрытие с задержкой. Виды
// лобби (Duel, Qualifier, SongRush, Auto) переопределяют только хуки.
//
// Все хуки и таймеры лобби выполняются под его мьютексом, так что два
// события одного лобби никогда не обрабатываются одновременно. Ошибка или
// паника в хуке закрывает это лобби, остальные не затрагиваются.
package lobby

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/EgorLis/packbot/internal/clock"
	"github.com/EgorLis/packbot/internal/osu"
	"github.com/EgorLis/packbot/internal/ratings"
)

const (
	shutdownMessage  = "SIGTERM - Process killed. All active lobbies have been abandoned."
	defaultCountdown = 5
	roomSize         = 8
)

type State int

const (
	StateNew State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Deps — общие зависимости лобби.
type Deps struct {
	Creator    RoomCreator
	Store      Store
	Interrupts *Interrupts
	Clock      clock.Clock
	Logger     *slog.Logger
	Predictor  ratings.Predictor
	// Rand — источник случайности лобби; nil — свой на каждое лобби.
	Rand *rand.Rand
}

func (d Deps) withDefaults() Deps {
	if d.Interrupts == nil {
		d.Interrupts = NewInterrupts()
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.Predictor == nil {
		d.Predictor = ratings.Glicko2{}
	}
	return d
}

// hooks — то, что вид лобби добавляет к Base. Base реализует все хуки,
// кроме roomName и setup, поведением по умолчанию.
type hooks interface {
	roomName() string
	// setup — настройка комнаты сразу после создания.
	setup(ctx context.Context) error
	onPlayerJoined(s osu.Slot) error
	onPlayerLeft(u osu.User) error
	onPlayersReady() error
	onSongFinished(scores []osu.Score) error
	onMessage(m osu.Message) error
	onTimerEnded() error
	hasPlayer(u osu.User) bool
}

type Base struct {
	// OnFinished получает итог ровно один раз; OnClosing и OnClosed —
	// номер комнаты. Колбэки зовутся вне блокировки лобби.
	OnFinished func(Result)
	OnClosing  func(roomID int)
	OnClosed   func(roomID int)

	kind    Kind
	mode    osu.Mode
	variant osu.Variant
	deps    Deps
	self    hooks
	rng     *rand.Rand
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	room        Room
	interruptID int
	closeTimer  *clock.Timer
	finished    bool
	post        []func()
}

func newBase(deps Deps, kind Kind, mode osu.Mode, variant osu.Variant, self hooks) *Base {
	deps = deps.withDefaults()
	rng := deps.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Base{
		kind:    kind,
		mode:    mode,
		variant: variant,
		deps:    deps,
		self:    self,
		rng:     rng,
		log:     deps.Logger.With("kind", string(kind), "mode", osu.Label(mode, variant)),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Base) Kind() Kind { return b.kind }
func (b *Base) Mode() osu.Mode { return b.mode }
func (b *Base) Variant() osu.Variant { return b.variant }

func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RoomID — номер комнаты, 0 до создания.
func (b *Base) RoomID() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.room == nil {
		return 0
	}
	return b.room.ID()
}

// Start создаёт комнату, подписывается на её события и настраивает её.
func (b *Base) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.unlock()

	if b.state != StateNew {
		return fmt.Errorf("lobby: start in state %s", b.state)
	}
	if b.deps.Creator == nil {
		return fmt.Errorf("lobby: no room creator")
	}
	b.interruptID = b.deps.Interrupts.Register(b.interrupt)

	room, err := b.deps.Creator.CreateRoom(ctx, b.self.roomName())
	if err != nil {
		b.deps.Interrupts.Unregister(b.interruptID)
		b.state = StateClosed
		b.cancel()
		return fmt.Errorf("lobby: create room: %w", err)
	}
	b.room = room
	b.state = StateActive
	b.log = b.log.With("room", room.ID())
	b.log.Info("lobby created", "name", room.Name())

	room.Listen(osu.RoomEvents{
		PlayerJoined: func(s osu.Slot) {
			b.dispatch("player joined", func() error {
				b.log.Info("player joined", "player", s.Player.Name, "slot", s.Index)
				return b.self.onPlayerJoined(s)
			})
		},
		PlayerLeft: func(u osu.User) {
			b.dispatch("player left", func() error {
				b.log.Info("player left", "player", u.Name)
				return b.self.onPlayerLeft(u)
			})
		},
		AllReady: func() {
			b.dispatch("players ready", b.self.onPlayersReady)
		},
		MatchFinished: func(scores []osu.Score) {
			b.dispatch("song finished", func() error { return b.self.onSongFinished(scores) })
		},
		TimerEnded: func() {
			b.dispatch("timer ended", b.self.onTimerEnded)
		},
		Message: func(m osu.Message) {
			b.dispatch("message", func() error { return b.self.onMessage(m) })
		},
	})

	if err := b.call("setup", func() error { return b.self.setup(ctx) }); err != nil {
		b.log.Error("lobby setup failed", "err", err)
		b.closeLocked(0)
		return err
	}
	return nil
}

// Close закрывает лобби: сразу снимает подписки, а комнату закрывает
// через delay. Повторный вызов с delay <= 0 закрывает немедленно.
func (b *Base) Close(delay time.Duration) {
	b.mu.Lock()
	defer b.unlock()
	b.closeLocked(delay)
}

// HasPlayer — участник ли игрок этого лобби (для переприглашения).
func (b *Base) HasPlayer(u osu.User) bool {
	b.mu.Lock()
	defer b.unlock()
	return b.self.hasPlayer(u)
}

func (b *Base) Invite(u osu.User) error {
	b.mu.Lock()
	defer b.unlock()
	return b.inviteLocked(u)
}

// Announce пишет в чат комнаты.
func (b *Base) Announce(text string) error {
	b.mu.Lock()
	defer b.unlock()
	if b.room == nil {
		return ErrNoRoom
	}
	return b.room.Say(text)
}

// хуки по умолчанию

func (b *Base) onPlayerJoined(osu.Slot) error { return nil }
func (b *Base) onPlayerLeft(osu.User) error { return nil }
func (b *Base) onSongFinished([]osu.Score) error { return nil }
func (b *Base) onMessage(osu.Message) error { return nil }
func (b *Base) onTimerEnded() error { return nil }
func (b *Base) hasPlayer(osu.User) bool { return false }

// onPlayersReady по умолчанию стартует карту с отсчётом.
func (b *Base) onPlayersReady() error {
	return b.room.Start(defaultCountdown)
}

// ниже — помощники для хуков, вызываются под b.mu

func (b *Base) dispatch(name string, fn func() error) {
	b.mu.Lock()
	defer b.unlock()
	if b.state != StateActive {
		return
	}
	if err := b.call(name, fn); err != nil {
		b.log.Error("lobby hook failed, closing", "hook", name, "err", err)
		b.closeLocked(0)
	}
}

func (b *Base) call(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", name, r)
		}
	}()
	if b.room == nil {
		return ErrNoRoom
	}
	return fn()
}

// unlock отпускает мьютекс и выполняет отложенные внешние колбэки.
func (b *Base) unlock() {
	post := b.post
	b.post = nil
	b.mu.Unlock()
	for _, fn := range post {
		fn()
	}
}

// after заводит таймер, чей колбэк пойдёт через dispatch. d должен быть > 0.
func (b *Base) after(name string, d time.Duration, fn func() error) *clock.Timer {
	return b.deps.Clock.AfterFunc(d, func() { b.dispatch(name, fn) })
}

func (b *Base) say(text string) {
	b.log.Debug("say", "text", text)
	if err := b.room.Say(text); err != nil {
		b.log.Warn("say failed", "err", err)
	}
}

func (b *Base) sayf(format string, args ...any) { b.say(fmt.Sprintf(format, args...)) }

func (b *Base) inviteLocked(u osu.User) error {
	if b.room == nil {
		return ErrNoRoom
	}
	b.log.Info("invite player", "player", u.Name)
	return b.room.Invite(u)
}

func (b *Base) occupied() int {
	return len(b.room.Slots())
}

// finish публикует итог. Повторные вызовы игнорируются.
func (b *Base) finish(r Result) {
	if b.finished {
		return
	}
	b.finished = true
	r.Kind = b.kind
	r.RoomID = b.room.ID()
	r.Mode = b.mode
	r.Variant = b.variant
	b.log.Info("lobby finished", "result", r)
	if b.OnFinished != nil {
		fn := b.OnFinished
		b.post = append(b.post, func() { fn(r) })
	}
}

func (b *Base) closeLocked(delay time.Duration) {
	switch b.state {
	case StateClosed:
		return
	case StateClosing:
		// ускоряем отложенное закрытие
		if delay <= 0 && b.closeTimer.Stop() {
			b.finalizeLocked()
		}
		return
	}

	b.state = StateClosing
	roomID := 0
	if b.room != nil {
		roomID = b.room.ID()
	}
	if b.OnClosing != nil {
		fn := b.OnClosing
		b.post = append(b.post, func() { fn(roomID) })
	}
	b.deps.Interrupts.Unregister(b.interruptID)
	if b.room != nil {
		if err := b.room.Unlisten(); err != nil {
			b.log.Warn("couldn't clean up listeners", "err", err)
		}
	}
	b.cancel()

	if delay <= 0 {
		b.finalizeLocked()
		return
	}
	b.closeTimer = b.deps.Clock.AfterFunc(delay, func() {
		b.mu.Lock()
		defer b.unlock()
		if b.state == StateClosing {
			b.finalizeLocked()
		}
	})
}

func (b *Base) finalizeLocked() {
	roomID := 0
	if b.room != nil {
		roomID = b.room.ID()
		if err := b.room.Close(); err != nil {
			b.log.Warn("close room failed", "err", err)
		}
	}
	b.state = StateClosed
	b.log.Info("lobby closed")
	if b.OnClosed != nil {
		fn := b.OnClosed
		b.post = append(b.post, func() { fn(roomID) })
	}
}

func (b *Base) interrupt() {
	b.mu.Lock()
	defer b.unlock()
	if b.room != nil && b.state == StateActive {
		b.say(shutdownMessage)
	}
	b.closeLocked(0)
}
