package lobby

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/EgorLis/packbot/internal/mappool"
	"github.com/EgorLis/packbot/internal/matchmaker"
	"github.com/EgorLis/packbot/internal/osu"
)

const submitTimeout = 30 * time.Second

// Lobby — то, что менеджер знает о запущенном лобби любого вида.
type Lobby interface {
	Kind() Kind
	Mode() osu.Mode
	State() State
	RoomID() int
	Start(ctx context.Context) error
	Close(delay time.Duration)
	HasPlayer(u osu.User) bool
	Invite(u osu.User) error
	Announce(text string) error
}

// ManagerConfig — настройки всех видов лобби.
type ManagerConfig struct {
	Duel      DuelConfig
	SongRush  SongRushConfig
	Auto      AutoConfig
	Qualifier QualifierConfig
	Pools     mappool.Pools
}

// Manager создаёт лобби по командам и матчам, отправляет их итоги и
// держит список живых лобби до закрытия.
type Manager struct {
	deps     Deps
	cfg      ManagerConfig
	reporter Reporter

	mu      sync.Mutex
	lobbies []Lobby

	submits sync.WaitGroup
}

// NewManager; reporter может быть nil, тогда итоги только логируются.
func NewManager(deps Deps, cfg ManagerConfig, reporter Reporter) *Manager {
	return &Manager{
		deps:     deps.withDefaults(),
		cfg:      cfg,
		reporter: reporter,
	}
}

// CreateLobby запускает одиночное лобби. args[0] — режим ("osu", "ctb",
// "4k"...), остальное зависит от вида лобби.
func (m *Manager) CreateLobby(ctx context.Context, u osu.User, kind Kind, args []string) (Lobby, error) {
	mode, variant := osu.ModeOsu, osu.Variant("")
	if len(args) > 0 {
		mode, variant = osu.ParseMode(args[0])
		args = args[1:]
	}

	var (
		l    Lobby
		base *Base
	)
	switch kind {
	case KindSongRush:
		rush := NewSongRush(m.deps, m.cfg.SongRush, u, mode, variant)
		l, base = rush, rush.Base
	case KindAuto:
		auto := NewAuto(m.deps, m.cfg.Auto, u, mode, variant)
		l, base = auto, auto.Base
	case KindQualifier:
		maps, shuffle := ParseQualifierArgs(args)
		if len(maps) == 0 {
			return nil, errors.New("usage: quali <mode> [mods] <map id>... [shuffle]")
		}
		q := NewQualifier(m.deps, m.cfg.Qualifier, u, mode, variant, maps, shuffle)
		l, base = q, q.Base
	case KindDuel:
		return nil, errors.New("duels are started by the matchmaker")
	default:
		return nil, fmt.Errorf("unknown lobby kind %q", kind)
	}
	if err := m.start(ctx, l, base); err != nil {
		return nil, err
	}
	return l, nil
}

// CreateDuel запускает дуэль для пары, собранной матчмейкером.
func (m *Manager) CreateDuel(ctx context.Context, match matchmaker.Match) (*Duel, error) {
	pool, ok := m.cfg.Pools.For(match.Mode, match.Variant)
	if !ok {
		return nil, fmt.Errorf("no map pool for %s", osu.Label(match.Mode, match.Variant))
	}
	players := make([]Participant, len(match.Players))
	for i, p := range match.Players {
		players[i] = Participant{User: p.User, Rating: p.Rating}
	}
	d, err := NewDuel(m.deps, m.cfg.Duel, pool, players, match.Mode, match.Variant, match.ID)
	if err != nil {
		return nil, err
	}
	if err := m.start(ctx, d, d.Base); err != nil {
		return nil, err
	}
	return d, nil
}

func (m *Manager) start(ctx context.Context, l Lobby, base *Base) error {
	base.OnFinished = m.submit
	base.OnClosed = func(int) { m.remove(l) }

	m.mu.Lock()
	m.lobbies = append(m.lobbies, l)
	m.mu.Unlock()

	if err := l.Start(ctx); err != nil {
		m.remove(l)
		return err
	}
	return nil
}

func (m *Manager) remove(l Lobby) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lobbies = slices.DeleteFunc(m.lobbies, func(x Lobby) bool { return x == l })
}

func (m *Manager) submit(r Result) {
	if m.reporter == nil {
		m.deps.Logger.Info("result not submitted, no reporter", "room", r.RoomID, "kind", string(r.Kind))
		return
	}
	m.submits.Add(1)
	go func() {
		defer m.submits.Done()
		ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
		defer cancel()
		if err := m.reporter.Submit(ctx, r); err != nil {
			m.deps.Logger.Error("submit result failed", "room", r.RoomID, "kind", string(r.Kind), "err", err)
			return
		}
		m.deps.Logger.Info("result submitted", "room", r.RoomID, "kind", string(r.Kind))
	}()
}

// Reinvite снова приглашает игрока в его активное лобби.
func (m *Manager) Reinvite(u osu.User) bool {
	for _, l := range m.snapshot() {
		if l.State() != StateActive || !l.HasPlayer(u) {
			continue
		}
		if err := l.Invite(u); err != nil {
			m.deps.Logger.Warn("reinvite failed", "player", u.Name, "room", l.RoomID(), "err", err)
			continue
		}
		return true
	}
	return false
}

// Terminate объявляет выключение во всех лобби и закрывает их.
func (m *Manager) Terminate() {
	m.deps.Interrupts.Fire()
}

// Count — число лобби, которые ещё не закрыты.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lobbies)
}

// CountByKind — то же по видам, для !stats.
func (m *Manager) CountByKind() map[Kind]int {
	out := make(map[Kind]int)
	for _, l := range m.snapshot() {
		out[l.Kind()]++
	}
	return out
}

// Wait ждёт окончания отправки итогов.
func (m *Manager) Wait() {
	m.submits.Wait()
}

func (m *Manager) snapshot() []Lobby {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.lobbies)
}
