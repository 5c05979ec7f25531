package lobby

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/EgorLis/packbot/internal/osu"
)

// QualifierMap — карта списка с модами.
type QualifierMap struct {
	ID      int
	Mods    osu.Mods
	Freemod bool
}

// ParseQualifierArgs разбирает "HD 101 102 FM 103 shuffle": набор модов
// действует на все следующие за ним id.
func ParseQualifierArgs(args []string) (maps []QualifierMap, shuffle bool) {
	var mods osu.Mods
	freemod := false
	for _, arg := range args {
		if id, err := strconv.Atoi(arg); err == nil && id > 0 {
			maps = append(maps, QualifierMap{ID: id, Mods: mods, Freemod: freemod})
			continue
		}
		if strings.EqualFold(arg, "shuffle") {
			shuffle = true
			continue
		}
		mods, freemod = osu.ParseShortMods(arg)
	}
	return maps, shuffle
}

type QualifierConfig struct {
	// EmptyCloseDelay — задержка закрытия, если все вышли.
	EmptyCloseDelay time.Duration
	CloseDelay      time.Duration
}

func (c QualifierConfig) withDefaults() QualifierConfig {
	if c.EmptyCloseDelay <= 0 {
		c.EmptyCloseDelay = 5 * time.Second
	}
	if c.CloseDelay <= 0 {
		c.CloseDelay = 15 * time.Second
	}
	return c
}

// Qualifier — игрок проходит заданный список карт (по порядку или вперемешку).
type Qualifier struct {
	*Base
	cfg     QualifierConfig
	player  osu.User
	maps    []QualifierMap
	shuffle bool
	begun   bool
	played  int
}

func NewQualifier(deps Deps, cfg QualifierConfig, player osu.User, mode osu.Mode, variant osu.Variant, maps []QualifierMap, shuffle bool) *Qualifier {
	l := &Qualifier{
		cfg:     cfg.withDefaults(),
		player:  player,
		maps:    maps,
		shuffle: shuffle,
	}
	l.Base = newBase(deps, KindQualifier, mode, variant, l)
	return l
}

// Remaining — сколько карт осталось.
func (l *Qualifier) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.maps)
}

func (l *Qualifier) roomName() string {
	return fmt.Sprintf("Maplist for %s - %d", l.player.Name, l.deps.Clock.Now().UnixMilli())
}

func (l *Qualifier) setup(context.Context) error {
	if len(l.maps) == 0 {
		return fmt.Errorf("lobby: qualifier without maps")
	}
	if err := l.room.SetSettings(osu.HeadToHead, osu.WinScoreV2, roomSize); err != nil {
		return err
	}
	return l.inviteLocked(l.player)
}

func (l *Qualifier) hasPlayer(u osu.User) bool { return l.player.Is(u) }

func (l *Qualifier) onPlayerJoined(s osu.Slot) error {
	if !l.player.Is(s.Player) || l.begun {
		return nil
	}
	l.begun = true
	return l.nextSong()
}

func (l *Qualifier) onPlayerLeft(osu.User) error {
	if l.occupied() >= 2 {
		return nil
	}
	if err := l.room.Refresh(l.ctx); err != nil {
		l.log.Warn("refresh failed", "err", err)
	}
	if l.occupied() > 0 {
		return nil
	}
	l.say("All players left. Lobby will close")
	l.finishQualifier()
	l.closeLocked(l.cfg.EmptyCloseDelay)
	return nil
}

func (l *Qualifier) onSongFinished([]osu.Score) error {
	l.played++
	if len(l.maps) > 0 {
		return l.nextSong()
	}
	l.say("Lobby finished - submitting result to server")
	l.finishQualifier()
	l.closeLocked(l.cfg.CloseDelay)
	return nil
}

func (l *Qualifier) nextSong() error {
	if len(l.maps) == 0 {
		return nil
	}
	i := 0
	if l.shuffle {
		i = l.rng.IntN(len(l.maps))
	}
	next := l.maps[i]
	l.maps = append(l.maps[:i], l.maps[i+1:]...)

	mods := next.Mods.String()
	m, found, err := l.lookup(next.ID)
	switch {
	case err != nil:
		l.log.Warn("beatmap lookup failed", "map", next.ID, "err", err)
		fallthrough
	case !found:
		l.sayf("%d +%s - Rating: Unknown", next.ID, mods)
	default:
		mult := 1.0
		for _, short := range next.Mods {
			if v, ok := m.Mult[short]; ok {
				mult *= v
			}
		}
		l.say(announcement(m, mods, mult))
	}

	if err := l.room.SetMap(next.ID, l.mode); err != nil {
		return err
	}
	forced := next.Mods
	if !forced.Has("NF") {
		forced = append(osu.Mods{"NF"}, forced...)
	}
	return l.room.SetMods(strings.Join(forced, " "), l.freemod(next))
}

func (l *Qualifier) lookup(id int) (osu.Beatmap, bool, error) {
	if l.deps.Store == nil {
		return osu.Beatmap{}, false, nil
	}
	return l.deps.Store.Beatmap(l.ctx, l.mode, id)
}

// freemod: для FM, для mania всегда, для fruits с HR или DT.
func (l *Qualifier) freemod(m QualifierMap) bool {
	switch {
	case m.Freemod, l.mode == osu.ModeMania:
		return true
	case l.mode == osu.ModeFruits:
		return m.Mods.Has("HR") || m.Mods.Has("DT")
	}
	return false
}

func (l *Qualifier) finishQualifier() {
	l.finish(Result{Players: []osu.User{l.player}, Songs: l.played})
}
