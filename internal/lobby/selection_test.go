package lobby

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EgorLis/packbot/internal/osu"
)

func TestSampleBeatmapRelaxesFilters(t *testing.T) {
	h := newHarness(t, beatmap(1, 10, 3000))
	b := newStubLobby(h.deps).Base

	m, err := b.sampleBeatmap(t.Context(), window{min: 1000, max: 1200}, []int{1}, []int{10})
	require.NoError(t, err)
	assert.Equal(t, 1, m.ID)

	qs := h.store.queryLog()
	require.Len(t, qs, 4)
	assert.Equal(t, []int{1}, qs[0].ExcludeIDs)
	assert.Equal(t, []int{10}, qs[0].ExcludeSets)
	assert.True(t, qs[0].HasRange)

	assert.Empty(t, qs[1].ExcludeIDs)
	assert.Equal(t, []int{10}, qs[1].ExcludeSets)

	assert.Empty(t, qs[2].ExcludeIDs)
	assert.Empty(t, qs[2].ExcludeSets)
	assert.True(t, qs[2].HasRange)

	assert.False(t, qs[3].HasRange)
}

func TestSampleBeatmapDropsSongExclusionFirst(t *testing.T) {
	h := newHarness(t, beatmap(1, 10, 1100), beatmap(2, 10, 1150))
	b := newStubLobby(h.deps).Base

	m, err := b.sampleBeatmap(t.Context(), window{min: 1000, max: 1200}, []int{1, 2}, []int{10})
	require.NoError(t, err)
	assert.Equal(t, 1, m.ID)
	assert.Len(t, h.store.queryLog(), 3)
}

func TestSampleBeatmapWindowUnderMod(t *testing.T) {
	h := newHarness(t, beatmap(1, 10, 1000), beatmap(2, 20, 900))
	b := newStubLobby(h.deps).Base

	// 1000 x1.3 и 900 x1.3: в окно под DT попадает только вторая
	m, err := b.sampleBeatmap(t.Context(), window{min: 1100, max: 1250, mod: osu.ModDT}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, m.ID)
	assert.Equal(t, osu.ModDT, h.store.queryLog()[0].RatingMod)
}

func TestSampleBeatmapVariantKeys(t *testing.T) {
	four := beatmap(5, 50, 1500)
	four.Mode, four.CS = osu.ModeMania, 4
	seven := beatmap(6, 60, 1500)
	seven.Mode, seven.CS = osu.ModeMania, 7
	h := newHarness(t, four, seven)

	l := NewSongRush(h.deps, SongRushConfig{}, rusher, osu.ModeMania, osu.Variant7K)
	m, err := l.sampleBeatmap(t.Context(), window{min: 0, max: 3000}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, m.ID)
	assert.Equal(t, 7, h.store.queryLog()[0].Keys)
}

func TestSampleBeatmapExhausted(t *testing.T) {
	h := newHarness(t)
	b := newStubLobby(h.deps).Base

	_, err := b.sampleBeatmap(t.Context(), window{min: 1000, max: 1200}, nil, nil)
	assert.ErrorIs(t, err, ErrNoBeatmaps)
	assert.Len(t, h.store.queryLog(), 4)

	h.store.err = errBoom
	_, err = b.sampleBeatmap(t.Context(), window{min: 1000, max: 1200}, nil, nil)
	assert.ErrorIs(t, err, errBoom)
}

func TestModMultiplier(t *testing.T) {
	h := newHarness(t)
	b := newStubLobby(h.deps).Base

	m := beatmap(1, 10, 1500)
	assert.Equal(t, 1.0, b.modMultiplier(m, osu.ModNM))
	assert.Equal(t, 1.3, b.modMultiplier(m, osu.ModDT))

	m.Mult = nil
	got := b.modMultiplier(m, osu.ModHR)
	assert.Greater(t, got, 0.0)
	assert.NotEqual(t, 1.0, got)
	assert.Equal(t, 1.0, b.modMultiplier(osu.Beatmap{}, osu.ModHR))
}

func TestChooseModNeverRepeats(t *testing.T) {
	h := newHarness(t)
	b := newStubLobby(h.deps).Base
	m := beatmap(1, 10, 1500)
	w := window{min: 1000, max: 2500}

	seen := map[osu.Mod]bool{}
	for range 200 {
		mod := b.chooseMod(m, osu.ModHD, w)
		assert.NotEqual(t, osu.ModHD, mod)
		seen[mod] = true
	}
	assert.True(t, seen[osu.ModNM])
	assert.True(t, seen[osu.ModDT])

	assert.Equal(t, osu.ModNM, b.chooseMod(m, osu.ModNM, window{min: 0, max: 1}))
}

func TestHealthDelta(t *testing.T) {
	assert.Equal(t, -15, healthDelta(nil, osu.ModeOsu))
	mid := int(osu.Targets(osu.ModeOsu).Mid())
	assert.Equal(t, 0, healthDelta(&osu.Score{Score: mid, Pass: true}, osu.ModeOsu))
	assert.Equal(t, -10, healthDelta(&osu.Score{Score: mid, Pass: false}, osu.ModeOsu))
	assert.Equal(t, 5, healthDelta(&osu.Score{Score: 1000000, Pass: true}, osu.ModeOsu))

	for s := 0; s <= 1000000; s += 50000 {
		fail := healthDelta(&osu.Score{Score: s}, osu.ModeMania)
		pass := healthDelta(&osu.Score{Score: s, Pass: true}, osu.ModeMania)
		assert.Equal(t, pass-10, fail)
		assert.LessOrEqual(t, pass, 6)
		assert.GreaterOrEqual(t, pass, -6)
	}
}

func TestTargetRating(t *testing.T) {
	target, rd := TargetRating(nil)
	assert.Equal(t, osu.DefaultRating.Rating, target)
	assert.Equal(t, osu.DefaultRating.RD, rd)

	target, rd = TargetRating([]osu.Rating{{Rating: 1400, RD: 100}, {Rating: 1600, RD: 100}})
	assert.InDelta(t, (1600+1400/2.0)/1.5, target, 1e-9)
	assert.InDelta(t, math.Sqrt(100*100+100*100/2.0), rd, 1e-9)
}

func TestAnnouncement(t *testing.T) {
	m := beatmap(1, 10, 1500)
	assert.Equal(t, "Song [Diff] +HR - Rating: 1500 x1.10 (1650)", announcement(m, "HR", 1.1))
	assert.Equal(t, "", modString(osu.ModFM))
	assert.Equal(t, "DT", modString(osu.ModDT))
}

func TestPushCapped(t *testing.T) {
	var list []int
	for i := 1; i <= 5; i++ {
		list = pushCapped(list, i, 3)
	}
	assert.Equal(t, []int{3, 4, 5}, list)
}
