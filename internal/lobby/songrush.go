package lobby

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/EgorLis/packbot/internal/osu"
	"github.com/EgorLis/packbot/internal/store"
)

const (
	startHealth = 50
	maxHealth   = 99
)

type SongRushConfig struct {
	// StepSize — насколько поднимается потолок сложности после каждой карты.
	StepSize float64
	// AbandonSeconds — сколько ждать вышедшего игрока.
	AbandonSeconds int
	CloseDelay     time.Duration
}

func (c SongRushConfig) withDefaults() SongRushConfig {
	if c.StepSize <= 0 {
		c.StepSize = 20
	}
	if c.AbandonSeconds <= 0 {
		c.AbandonSeconds = 60
	}
	if c.CloseDelay <= 0 {
		c.CloseDelay = 15 * time.Second
	}
	return c
}

type rushPick struct {
	id, setID int
	mod       osu.Mod
}

// SongRush — одиночное выживание: жизни растут и падают по результату
// каждой карты, а сложность постепенно поднимается.
type SongRush struct {
	*Base
	cfg    SongRushConfig
	player osu.User

	target    float64
	deviation float64
	expanded  float64
	health    int
	songs     []int
	sets      []int
	current   rushPick
	hasPick   bool
	leaving   bool
}

func NewSongRush(deps Deps, cfg SongRushConfig, player osu.User, mode osu.Mode, variant osu.Variant) *SongRush {
	l := &SongRush{
		cfg:       cfg.withDefaults(),
		player:    player,
		target:    osu.DefaultRating.Rating,
		deviation: osu.DefaultRating.RD,
		health:    startHealth,
		current:   rushPick{mod: osu.ModNM},
	}
	l.Base = newBase(deps, KindSongRush, mode, variant, l)
	return l
}

// Health — текущие жизни.
func (l *SongRush) Health() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.health
}

func (l *SongRush) roomName() string {
	return fmt.Sprintf("Score Rush %s - %d", l.player.Name, l.deps.Clock.Now().UnixMilli())
}

func (l *SongRush) setup(ctx context.Context) error {
	if l.deps.Store != nil {
		p, found, err := l.deps.Store.Player(ctx, l.player)
		if err != nil {
			return err
		}
		if found {
			r := p.Rating(store.PvE, l.mode)
			l.target, l.deviation = r.Rating, r.RD
		}
	}
	if err := l.room.SetSettings(osu.HeadToHead, osu.WinScoreV2, roomSize); err != nil {
		return err
	}
	return l.inviteLocked(l.player)
}

func (l *SongRush) hasPlayer(u osu.User) bool { return l.player.Is(u) }

func (l *SongRush) onPlayerJoined(s osu.Slot) error {
	if !l.player.Is(s.Player) {
		return nil
	}
	if l.leaving {
		l.leaving = false
		if err := l.room.AbortTimer(); err != nil {
			return err
		}
		l.say("PvE player rejoined")
	}
	return l.nextSong()
}

func (l *SongRush) onPlayerLeft(u osu.User) error {
	if !l.player.Is(u) {
		return nil
	}
	l.say("PvE player left. Lobby will close")
	l.leaving = true
	return l.room.StartTimer(l.cfg.AbandonSeconds)
}

func (l *SongRush) onTimerEnded() error {
	if !l.leaving {
		return nil
	}
	l.finishRush()
	l.closeLocked(0)
	return nil
}

func (l *SongRush) onMessage(m osu.Message) error {
	if !l.player.Is(m.User) || !strings.EqualFold(strings.TrimSpace(m.Content), "skip") {
		return nil
	}
	if l.health < 2 {
		l.say("Not enough life to skip song")
		return nil
	}
	l.health--
	l.sayf("Skipping song. New life count: %d", l.health)
	return l.nextSong()
}

func (l *SongRush) onSongFinished(scores []osu.Score) error {
	if l.hasPick {
		l.songs = append(l.songs, l.current.id)
		l.sets = append(l.sets, l.current.setID)
	}
	l.expanded += l.cfg.StepSize

	var mine *osu.Score
	for i := range scores {
		if l.player.Is(scores[i].Player) {
			mine = &scores[i]
			break
		}
	}
	old := l.health
	l.health = min(l.health+healthDelta(mine, l.mode), maxHealth)
	l.health = max(l.health, 0)

	verb := "Lost"
	if l.health > old {
		verb = "Gained"
	}
	l.sayf("%s %d lives. Now at %d", verb, abs(l.health-old), l.health)

	if l.health < 1 {
		l.say("Lobby finished - submitting result to server")
		l.finishRush()
		l.closeLocked(l.cfg.CloseDelay)
		return nil
	}
	return l.nextSong()
}

// rushWindow: нижняя граница растёт вдвое медленнее верхней.
func (l *SongRush) rushWindow() window {
	return window{
		min: l.target - l.deviation + l.expanded/2,
		max: l.target + l.deviation + l.expanded,
	}
}

func (l *SongRush) nextSong() error {
	w := l.rushWindow()
	m, err := l.sampleBeatmap(l.ctx, w, l.songs, l.sets)
	if err != nil {
		return err
	}
	mod := l.chooseMod(m, l.current.mod, w)

	if err := l.room.SetMap(m.ID, l.mode); err != nil {
		return err
	}
	if err := l.room.SetMods(modString(mod), l.mode == osu.ModeMania); err != nil {
		return err
	}
	l.current = rushPick{id: m.ID, setID: m.SetID, mod: mod}
	l.hasPick = true
	l.say(announcement(m, mod.Short(), l.modMultiplier(m, mod)))
	return nil
}

func (l *SongRush) finishRush() {
	health := l.health
	l.finish(Result{
		Players: []osu.User{l.player},
		Health:  &health,
		Songs:   len(l.songs),
	})
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
