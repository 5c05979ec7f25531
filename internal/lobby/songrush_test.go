package lobby

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EgorLis/packbot/internal/osu"
	"github.com/EgorLis/packbot/internal/store"
)

var rusher = osu.User{ID: 7, Name: "rusher"}

func rushMaps() []osu.Beatmap {
	return []osu.Beatmap{
		beatmap(1, 10, 1450),
		beatmap(2, 20, 1500),
		beatmap(3, 30, 1550),
		beatmap(4, 40, 1650),
	}
}

func startRush(t *testing.T, h *harness) (*SongRush, *fakeRoom, *terminal) {
	t.Helper()
	h.store.addPlayer(rusher, store.PvE, osu.ModeOsu, osu.Rating{Rating: 1500, RD: 100, Vol: 0.06})
	l := NewSongRush(h.deps, SongRushConfig{}, rusher, osu.ModeOsu, osu.VariantNone)
	tr := watch(l.Base)
	require.NoError(t, l.Start(t.Context()))
	room := h.creator.last()
	room.join(rusher)
	return l, room, tr
}

func TestSongRushStart(t *testing.T) {
	h := newHarness(t, rushMaps()...)
	l, room, _ := startRush(t, h)

	assert.Equal(t, "Score Rush rusher - 1704067200000", room.Name())
	assert.Equal(t, []osu.User{rusher}, room.invited)
	assert.Equal(t, 1, room.lastMap())
	assert.Equal(t, startHealth, l.Health())

	q := h.store.queryLog()[0]
	assert.True(t, q.HasRange)
	assert.Equal(t, 1400.0, q.Min)
	assert.Equal(t, 1600.0, q.Max)
}

func TestSongRushFailedSongLosesLives(t *testing.T) {
	h := newHarness(t, rushMaps()...)
	l, room, _ := startRush(t, h)

	room.finishSong(osu.Score{Player: rusher, Score: 50000, Pass: false})
	assert.Equal(t, 35, l.Health())
	assert.LessOrEqual(t, l.Health(), startHealth-10)
	assert.Contains(t, room.saidAll(), "Lost 15 lives. Now at 35")
}

func TestSongRushWindowEscalates(t *testing.T) {
	h := newHarness(t, rushMaps()...)
	_, room, _ := startRush(t, h)

	room.finishSong()
	qs := h.store.queryLog()
	require.Len(t, qs, 2)
	assert.Equal(t, 1410.0, qs[1].Min)
	assert.Equal(t, 1620.0, qs[1].Max)
	assert.Equal(t, []int{1}, qs[1].ExcludeIDs)
	assert.Equal(t, []int{10}, qs[1].ExcludeSets)
	assert.Equal(t, 2, room.lastMap())
}

func TestSongRushHealthCapped(t *testing.T) {
	h := newHarness(t, rushMaps()...)
	l, room, _ := startRush(t, h)

	for range 15 {
		room.finishSong(osu.Score{Player: rusher, Score: 1000000, Pass: true})
		assert.LessOrEqual(t, l.Health(), maxHealth)
	}
	assert.Equal(t, maxHealth, l.Health())
	assert.Equal(t, StateActive, l.State())
}

func TestSongRushCompletesOnce(t *testing.T) {
	h := newHarness(t, rushMaps()...)
	l, room, tr := startRush(t, h)

	for range 4 {
		room.finishSong()
	}
	assert.Equal(t, 0, l.Health())
	assert.Equal(t, StateClosing, l.State())
	assert.Equal(t, "Lobby finished - submitting result to server", room.lastSaid())

	room.finishSong()
	finished, closing, _ := tr.counts()
	assert.Equal(t, 1, finished)
	assert.Equal(t, 1, closing)

	r := tr.result(t)
	assert.Equal(t, KindSongRush, r.Kind)
	require.NotNil(t, r.Health)
	assert.Equal(t, 0, *r.Health)
	assert.Equal(t, 4, r.Songs)
	assert.Equal(t, []osu.User{rusher}, r.Players)

	h.clock.Advance(15 * time.Second)
	assert.Equal(t, StateClosed, l.State())
	assert.Equal(t, 1, room.closeCount())
}

func TestSongRushSkip(t *testing.T) {
	h := newHarness(t, rushMaps()...)
	l, room, _ := startRush(t, h)

	room.chat(osu.User{Name: "someone"}, "skip")
	assert.Equal(t, startHealth, l.Health())

	room.chat(rusher, "skip")
	assert.Equal(t, startHealth-1, l.Health())
	assert.Contains(t, room.saidAll(), "Skipping song. New life count: 49")
	assert.Equal(t, 2, len(room.maps))

	l.mu.Lock()
	l.health = 1
	l.mu.Unlock()
	room.chat(rusher, "skip")
	assert.Equal(t, "Not enough life to skip song", room.lastSaid())
	assert.Equal(t, 1, l.Health())
}

func TestSongRushLeaveAndRejoin(t *testing.T) {
	h := newHarness(t, rushMaps()...)
	l, room, tr := startRush(t, h)

	room.leave(rusher)
	assert.Equal(t, []int{60}, room.timers)
	assert.Equal(t, "PvE player left. Lobby will close", room.lastSaid())

	room.join(rusher)
	assert.Equal(t, 1, room.aborted)
	assert.Contains(t, room.saidAll(), "PvE player rejoined")

	room.timerEnded()
	assert.Equal(t, StateActive, l.State())

	room.leave(rusher)
	room.timerEnded()
	assert.Equal(t, StateClosed, l.State())
	r := tr.result(t)
	require.NotNil(t, r.Health)
	assert.Equal(t, startHealth, *r.Health)
}

func TestSongRushWithoutStoredRating(t *testing.T) {
	h := newHarness(t, rushMaps()...)
	l := NewSongRush(h.deps, SongRushConfig{}, osu.User{Name: "fresh"}, osu.ModeOsu, osu.VariantNone)
	require.NoError(t, l.Start(t.Context()))
	h.creator.last().join(osu.User{Name: "fresh"})

	q := h.store.queryLog()[0]
	assert.Equal(t, osu.DefaultRating.Rating-osu.DefaultRating.RD, q.Min)
	assert.Equal(t, osu.DefaultRating.Rating+osu.DefaultRating.RD, q.Max)
}
