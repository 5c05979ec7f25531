package lobby

import (
	"context"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/EgorLis/packbot/internal/clock"
	"github.com/EgorLis/packbot/internal/osu"
	"github.com/EgorLis/packbot/internal/ratings"
	"github.com/EgorLis/packbot/internal/store"
)

const (
	historyLimit = 50
	dtChance     = 0.1
)

type AutoConfig struct {
	// IdleTimeout — через сколько закрыть опустевшую комнату.
	IdleTimeout time.Duration
	CloseDelay  time.Duration
}

func (c AutoConfig) withDefaults() AutoConfig {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 20 * time.Minute
	}
	if c.CloseDelay <= 0 {
		c.CloseDelay = 5 * time.Second
	}
	return c
}

type autoPlayer struct {
	user   osu.User
	rating osu.Rating
}

type autoPick struct {
	id, setID  int
	rating     osu.Rating
	hasRating  bool
	doubleTime bool
}

type mapRequest struct {
	id         int
	doubleTime bool
}

// Auto — лобби без хозяина: карты подбираются под всех, кто сейчас в
// комнате, и рейтинги игроков подстраиваются после каждой карты.
type Auto struct {
	*Base
	cfg     AutoConfig
	initial osu.User

	players   []*autoPlayer
	target    float64
	deviation float64
	songs     []int
	sets      []int
	current   autoPick
	requests  []mapRequest
	idle      *clock.Timer
}

func NewAuto(deps Deps, cfg AutoConfig, initial osu.User, mode osu.Mode, variant osu.Variant) *Auto {
	l := &Auto{
		cfg:       cfg.withDefaults(),
		initial:   initial,
		target:    osu.DefaultRating.Rating,
		deviation: osu.DefaultRating.RD,
	}
	l.Base = newBase(deps, KindAuto, mode, variant, l)
	return l
}

// Target — текущий рейтинг подбора и его отклонение.
func (l *Auto) Target() (rating, rd float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.target, l.deviation
}

// PlayerRating — локальный рейтинг игрока в этом лобби.
func (l *Auto) PlayerRating(u osu.User) (osu.Rating, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p := l.find(u); p != nil {
		return p.rating, true
	}
	return osu.Rating{}, false
}

func (l *Auto) roomName() string {
	return "Auto lobby | Auto pick songs | " + osu.Label(l.mode, l.variant)
}

func (l *Auto) setup(context.Context) error {
	if err := l.room.SetSettings(osu.HeadToHead, osu.WinScoreV2, roomSize); err != nil {
		return err
	}
	if err := l.room.SetMods("", true); err != nil {
		return err
	}
	return l.inviteLocked(l.initial)
}

func (l *Auto) hasPlayer(u osu.User) bool {
	return l.initial.Is(u) || l.find(u) != nil
}

func (l *Auto) find(u osu.User) *autoPlayer {
	for _, p := range l.players {
		if p.user.Is(u) {
			return p
		}
	}
	return nil
}

func (l *Auto) onPlayerJoined(s osu.Slot) error {
	if l.idle.Stop() {
		l.log.Info("idle close cancelled")
	}
	l.idle = nil
	if l.find(s.Player) != nil {
		return nil
	}

	p := &autoPlayer{user: s.Player, rating: osu.DefaultRating}
	if l.deps.Store != nil {
		stored, found, err := l.deps.Store.Player(l.ctx, s.Player)
		if err != nil {
			// без рейтинга игрок считается новичком
			l.log.Warn("player lookup failed", "player", s.Player.Name, "err", err)
		} else if found {
			p.rating = stored.Rating(store.PvE, l.mode)
		}
	}
	l.players = append(l.players, p)
	l.recalcTarget()

	if len(l.players) == 1 {
		return l.nextSong()
	}
	return nil
}

func (l *Auto) onPlayerLeft(u osu.User) error {
	if l.occupied() < 2 {
		// сверяем список, события могли разойтись с комнатой
		if err := l.room.Refresh(l.ctx); err != nil {
			l.log.Warn("refresh failed", "err", err)
		}
	}
	if l.occupied() < 1 {
		l.players = nil
		l.idle.Stop()
		l.idle = l.after("idle close", l.cfg.IdleTimeout, func() error {
			if len(l.players) > 0 {
				return nil
			}
			l.say("Lobby finished - submitting result to server")
			l.finish(Result{Songs: len(l.songs)})
			l.closeLocked(l.cfg.CloseDelay)
			return nil
		})
		return nil
	}
	l.players = slices.DeleteFunc(l.players, func(p *autoPlayer) bool { return p.user.Is(u) })
	l.recalcTarget()
	return nil
}

func (l *Auto) recalcTarget() {
	rs := make([]osu.Rating, 0, len(l.players))
	for _, p := range l.players {
		rs = append(rs, p.rating)
	}
	l.target, l.deviation = TargetRating(rs)
}

func (l *Auto) onMessage(m osu.Message) error {
	args := strings.Fields(m.Content)
	if len(args) < 2 || args[0] != "!request" {
		return nil
	}
	id, err := strconv.Atoi(args[1])
	if err != nil || id <= 0 {
		return nil
	}
	queued := slices.ContainsFunc(l.requests, func(r mapRequest) bool { return r.id == id })
	if queued || slices.Contains(l.songs, id) {
		l.say("Map has already been requested")
		return nil
	}
	dt := len(args) > 2 && strings.EqualFold(args[2], "dt")
	l.requests = append(l.requests, mapRequest{id: id, doubleTime: dt})
	l.sayf("Added %d to queue", id)
	return nil
}

func (l *Auto) onSongFinished(scores []osu.Score) error {
	if l.current.id != 0 {
		l.songs = pushCapped(l.songs, l.current.id, historyLimit)
	}
	if l.current.setID != 0 {
		l.sets = pushCapped(l.sets, l.current.setID, historyLimit)
	}
	if l.current.hasRating {
		l.adjustRatings(scores, l.current.rating)
	}
	l.recalcTarget()
	return l.nextSong()
}

// adjustRatings сдвигает локальные рейтинги: на сколько стандартных
// отклонений игрок оказался выше среднего минус на сколько он должен был
// оказаться по рейтингу относительно карты.
func (l *Auto) adjustRatings(scores []osu.Score, song osu.Rating) {
	if len(scores) < 2 {
		return
	}
	values := make([]float64, len(scores))
	var sum float64
	for i, s := range scores {
		values[i] = float64(s.Score)
		sum += values[i]
	}
	avg := sum / float64(len(values))
	stdev := ratings.Stdev(values...)
	if stdev == 0 {
		return
	}
	for _, s := range scores {
		p := l.find(s.Player)
		if p == nil {
			continue
		}
		combined := math.Sqrt(p.rating.RD*p.rating.RD + song.RD*song.RD)
		if combined == 0 {
			continue
		}
		expected := (p.rating.Rating - song.Rating) / combined
		actual := (float64(s.Score) - avg) / stdev
		p.rating.Rating += actual - expected
	}
}

func (l *Auto) nextSong() error {
	if len(l.requests) > 0 {
		req := l.requests[0]
		l.requests = l.requests[1:]
		l.sayf("Pick map %d", req.id)
		if err := l.room.SetMap(req.id, l.mode); err != nil {
			return err
		}
		if err := l.setDoubleTime(req.doubleTime); err != nil {
			return err
		}
		l.current = autoPick{id: req.id, doubleTime: req.doubleTime}
		return nil
	}

	w := window{min: l.target - l.deviation/2, max: l.target + l.deviation/2}
	m, err := l.sampleBeatmap(l.ctx, w, l.songs, l.sets)
	if err != nil {
		return err
	}
	dtMult := l.modMultiplier(m, osu.ModDT)
	dt := m.Rating.Rating*dtMult < w.max && l.rng.Float64() < dtChance

	if err := l.room.SetMap(m.ID, l.mode); err != nil {
		return err
	}
	if err := l.setDoubleTime(dt); err != nil {
		return err
	}
	l.current = autoPick{id: m.ID, setID: m.SetID, rating: m.Rating, hasRating: true, doubleTime: dt}

	if dt {
		l.say(announcement(m, "DT", dtMult))
	} else {
		l.sayf("%s - Rating: %.0f", m.DisplayName(), m.Rating.Rating)
	}
	return nil
}

// setDoubleTime трогает моды только при смене DT.
func (l *Auto) setDoubleTime(dt bool) error {
	if l.current.doubleTime == dt {
		return nil
	}
	mods := ""
	if dt {
		mods = "DT"
	}
	return l.room.SetMods(mods, true)
}
