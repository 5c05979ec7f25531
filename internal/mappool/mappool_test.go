package mappool

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EgorLis/packbot/internal/osu"
)

const sample = `
osu:
  nm: [101, 102]
  hd: [103]
  hr: [104]
  dt: [105]
  fm: [106]
  tb: [201, 202, 203]
4k:
  nm: [301]
`

func TestParseAndResolve(t *testing.T) {
	pools, err := Parse([]byte(sample))
	require.NoError(t, err)

	p, ok := pools.For(osu.ModeOsu, osu.VariantNone)
	require.True(t, ok)
	assert.Len(t, p.Entries(), 6)

	e, ok := p.Resolve("nm2")
	require.True(t, ok)
	assert.Equal(t, Entry{Token: "NM2", MapID: 102, Mod: osu.ModNM}, e)

	e, ok = p.Resolve("106")
	require.True(t, ok)
	assert.Equal(t, osu.ModFM, e.Mod)

	_, ok = p.Resolve("201")
	assert.False(t, ok, "tiebreakers are not regular picks")
	_, ok = p.Resolve("NM9")
	assert.False(t, ok)

	tb, ok := p.ResolveTiebreaker("TB3")
	require.True(t, ok)
	assert.Equal(t, 203, tb.MapID)
}

func TestPoolsForVariant(t *testing.T) {
	pools, err := Parse([]byte(sample))
	require.NoError(t, err)

	p, ok := pools.For(osu.ModeMania, osu.Variant4K)
	require.True(t, ok)
	assert.Equal(t, []int{301}, p.NM)

	_, ok = pools.For(osu.ModeMania, osu.Variant7K)
	assert.False(t, ok)
}

func TestParseRejectsDuplicates(t *testing.T) {
	_, err := Parse([]byte("osu:\n  nm: [1, 2]\n  hd: [2]\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listed twice")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pools.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	pools, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, pools, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
