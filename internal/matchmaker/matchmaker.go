// Package matchmaker — очередь игроков на PvP и ожидающие лобби.
//
// Раз в SearchInterval проходит по очереди и жадно сводит пары одного режима,
// у которых разница рейтингов строго меньше диапазона поиска обоих. Кто не
// нашёл пару, расширяет диапазон. Сведённая пара получает приглашение
// "!ready"; когда готовы оба, срабатывает OnMatch, если за ReadyTimeout
// готовы не все — ожидающее лобби распадается, а готовые возвращаются в
// очередь со своим уже расширенным диапазоном.
package matchmaker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/EgorLis/packbot/internal/clock"
	"github.com/EgorLis/packbot/internal/osu"
)

const (
	DefaultSearchInterval = 2 * time.Second
	DefaultRangeIncrement = 0.1
	DefaultReadyTimeout   = 60 * time.Second
)

// сообщения игрокам
const (
	msgAlreadyQueued = "You are already queued!"
	msgQueued        = "Queued for %s. Searching for an opponent..."
	msgRemoved       = "Removed from queue"
	msgMatchFound    = "Match found! Type !ready to accept"
	msgWaiting       = "Waiting for opponent"
	msgNoLobby       = "No lobby found"
	msgExpired       = "Lobby expired"
	msgExpiredRejoin = "Lobby expired. Rejoining queue"
)

// Player — то, с чем игрок встаёт в очередь.
type Player struct {
	User    osu.User    `json:"user"`
	Rating  osu.Rating  `json:"rating"`
	Mode    osu.Mode    `json:"mode"`
	Variant osu.Variant `json:"variant,omitempty"`
}

// QueuedPlayer — запись очереди. Range растёт каждый проход без пары.
type QueuedPlayer struct {
	Player  Player
	Rating  float64
	Range   float64
	Mode    osu.Mode
	Variant osu.Variant
}

// Match — обе стороны подтвердили готовность.
type Match struct {
	ID      string
	Players []Player
	Mode    osu.Mode
	Variant osu.Variant
}

// Notifier доставляет личные сообщения игрокам.
type Notifier interface {
	SendMessage(u osu.User, text string) error
}

// RangeFunc возвращает новый диапазон для игрока, оставшегося без пары.
type RangeFunc func(q QueuedPlayer) float64

// DeviationGrowth — рост диапазона пропорционально отклонению рейтинга:
// sqrt(range² + rd²/div).
func DeviationGrowth(div float64) RangeFunc {
	if div <= 0 {
		div = 1
	}
	return func(q QueuedPlayer) float64 {
		rd := q.Player.Rating.RD
		return math.Sqrt(q.Range*q.Range + rd*rd/div)
	}
}

type Options struct {
	SearchInterval time.Duration
	// RangeIncrement — плоская прибавка, если RangeFunc не задан.
	RangeIncrement float64
	RangeFunc      RangeFunc
	ReadyTimeout   time.Duration
	Clock          clock.Clock
	Logger         *slog.Logger
}

type pendingPlayer struct {
	queued QueuedPlayer
	ready  bool
}

type pendingLobby struct {
	id      string
	players []*pendingPlayer
	mode    osu.Mode
	variant osu.Variant
	expiry  *clock.Timer
}

type outgoing struct {
	to   osu.User
	text string
}

type Matchmaker struct {
	// OnMatch вызывается вне внутренней блокировки, из горутины PlayerReady.
	OnMatch func(Match)

	notifier Notifier
	opts     Options
	log      *slog.Logger

	mu      sync.Mutex
	queue   []*QueuedPlayer
	pending []*pendingLobby

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(n Notifier, opts Options) *Matchmaker {
	if opts.SearchInterval <= 0 {
		opts.SearchInterval = DefaultSearchInterval
	}
	if opts.RangeIncrement <= 0 {
		opts.RangeIncrement = DefaultRangeIncrement
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Matchmaker{
		notifier: n,
		opts:     opts,
		log:      opts.Logger.With("component", "matchmaker"),
	}
}

// Start запускает периодический проход. Повторный вызов ничего не делает.
func (m *Matchmaker) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	t := m.opts.Clock.NewTicker(m.opts.SearchInterval)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.attemptMatches()
			}
		}
	}()
}

// End останавливает проход (при выключении процесса).
func (m *Matchmaker) End() {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	m.runMu.Unlock()
	m.wg.Wait()
}

// SearchForMatch ставит игрока в очередь с диапазоном, равным его RD.
func (m *Matchmaker) SearchForMatch(p Player) {
	m.mu.Lock()
	if m.queuedLocked(p.User) != nil || m.pendingOfLocked(p.User) != nil {
		m.mu.Unlock()
		m.send(outgoing{p.User, msgAlreadyQueued})
		return
	}
	m.queue = append(m.queue, &QueuedPlayer{
		Player:  p,
		Rating:  p.Rating.Rating,
		Range:   p.Rating.RD,
		Mode:    p.Mode,
		Variant: p.Variant,
	})
	n := len(m.queue)
	m.mu.Unlock()

	m.log.Info("queued", "player", p.User.Name, "mode", osu.Label(p.Mode, p.Variant),
		"rating", p.Rating.Rating, "range", p.Rating.RD, "queue", n)
	m.send(outgoing{p.User, fmt.Sprintf(msgQueued, osu.Label(p.Mode, p.Variant))})
}

// Unqueue убирает игрока из очереди. Если его там нет — молча.
func (m *Matchmaker) Unqueue(u osu.User) {
	m.mu.Lock()
	idx := -1
	for i, q := range m.queue {
		if q.Player.User.Is(u) {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue[:idx], m.queue[idx+1:]...)
	m.mu.Unlock()

	m.log.Info("unqueued", "player", u.Name)
	m.send(outgoing{u, msgRemoved})
}

// PlayerReady отмечает готовность игрока в его ожидающем лобби.
func (m *Matchmaker) PlayerReady(u osu.User) {
	m.mu.Lock()
	pl := m.pendingOfLocked(u)
	if pl == nil {
		m.mu.Unlock()
		m.send(outgoing{u, msgNoLobby})
		return
	}
	all := true
	for _, p := range pl.players {
		if p.queued.Player.User.Is(u) {
			p.ready = true
		}
		all = all && p.ready
	}
	if !all {
		m.mu.Unlock()
		m.send(outgoing{u, msgWaiting})
		return
	}
	pl.expiry.Stop()
	m.removePendingLocked(pl)
	m.mu.Unlock()

	match := Match{ID: pl.id, Mode: pl.mode, Variant: pl.variant}
	for _, p := range pl.players {
		match.Players = append(match.Players, p.queued.Player)
	}
	m.log.Info("match formed", "match", match.ID, "mode", osu.Label(pl.mode, pl.variant))
	if m.OnMatch != nil {
		m.OnMatch(match)
	}
}

// QueueLen — сколько игроков ждут пары.
func (m *Matchmaker) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// PendingLen — сколько пар ждут подтверждения.
func (m *Matchmaker) PendingLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Queued возвращает копию записи очереди игрока.
func (m *Matchmaker) Queued(u osu.User) (QueuedPlayer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q := m.queuedLocked(u); q != nil {
		return *q, true
	}
	return QueuedPlayer{}, false
}

// attemptMatches — один проход матчмейкинга.
func (m *Matchmaker) attemptMatches() {
	var out []outgoing

	m.mu.Lock()
	matched := make([]bool, len(m.queue))
	var waiting []*QueuedPlayer
	for i, a := range m.queue {
		if matched[i] {
			continue
		}
		for j := i + 1; j < len(m.queue); j++ {
			if matched[j] || !compatible(a, m.queue[j]) {
				continue
			}
			matched[i], matched[j] = true, true
			out = append(out, m.createPendingLocked(a, m.queue[j])...)
			break
		}
		if !matched[i] {
			waiting = append(waiting, a)
		}
	}
	for _, q := range waiting {
		q.Range = m.grow(*q)
	}
	m.queue = waiting
	m.mu.Unlock()

	m.send(out...)
}

func (m *Matchmaker) grow(q QueuedPlayer) float64 {
	next := q.Range + m.opts.RangeIncrement
	if m.opts.RangeFunc != nil {
		next = m.opts.RangeFunc(q)
	}
	return math.Max(next, q.Range)
}

func compatible(a, b *QueuedPlayer) bool {
	if a.Mode != b.Mode {
		return false
	}
	if a.Variant != osu.VariantNone && b.Variant != osu.VariantNone && a.Variant != b.Variant {
		return false
	}
	diff := math.Abs(a.Rating - b.Rating)
	return diff < a.Range && diff < b.Range
}

func (m *Matchmaker) createPendingLocked(a, b *QueuedPlayer) []outgoing {
	variant := a.Variant
	if variant == osu.VariantNone {
		variant = b.Variant
	}
	pl := &pendingLobby{
		id: uuid.NewString(),
		players: []*pendingPlayer{
			{queued: *a},
			{queued: *b},
		},
		mode:    a.Mode,
		variant: variant,
	}
	m.pending = append(m.pending, pl)
	pl.expiry = m.opts.Clock.AfterFunc(m.opts.ReadyTimeout, func() { m.expire(pl) })

	m.log.Info("pending lobby", "id", pl.id, "a", a.Player.User.Name, "b", b.Player.User.Name,
		"diff", math.Abs(a.Rating-b.Rating))
	return []outgoing{{a.Player.User, msgMatchFound}, {b.Player.User, msgMatchFound}}
}

func (m *Matchmaker) expire(pl *pendingLobby) {
	var out []outgoing

	m.mu.Lock()
	if !m.removePendingLocked(pl) {
		// уже стало матчем
		m.mu.Unlock()
		return
	}
	for _, p := range pl.players {
		if !p.ready {
			out = append(out, outgoing{p.queued.Player.User, msgExpired})
			continue
		}
		q := p.queued
		if m.queuedLocked(q.Player.User) == nil {
			m.queue = append(m.queue, &q)
		}
		out = append(out, outgoing{q.Player.User, msgExpiredRejoin})
	}
	m.mu.Unlock()

	m.log.Info("pending lobby expired", "id", pl.id)
	m.send(out...)
}

func (m *Matchmaker) removePendingLocked(pl *pendingLobby) bool {
	for i, p := range m.pending {
		if p == pl {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (m *Matchmaker) queuedLocked(u osu.User) *QueuedPlayer {
	for _, q := range m.queue {
		if q.Player.User.Is(u) {
			return q
		}
	}
	return nil
}

func (m *Matchmaker) pendingOfLocked(u osu.User) *pendingLobby {
	for _, pl := range m.pending {
		for _, p := range pl.players {
			if p.queued.Player.User.Is(u) {
				return pl
			}
		}
	}
	return nil
}

func (m *Matchmaker) send(msgs ...outgoing) {
	if m.notifier == nil {
		return
	}
	for _, o := range msgs {
		if err := m.notifier.SendMessage(o.to, o.text); err != nil {
			m.log.Warn("notify failed", "player", o.to.Name, "err", err)
		}
	}
}
