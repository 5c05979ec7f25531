// Package mappool — маппулы дуэлей из YAML.
//
//	osu:
//	  nm: [101, 102, 103]
//	  hd: [104]
//	  hr: [105]
//	  dt: [106]
//	  fm: [107]
//	  tb: [108, 109, 110]
//
// Ключ верхнего уровня — режим или вариант mania ("4k", "7k"). Карта
// адресуется токеном пула ("NM2", "tb1") либо своим id.
package mappool

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/EgorLis/packbot/internal/osu"
)

type Pool struct {
	NM []int `yaml:"nm"`
	HD []int `yaml:"hd"`
	HR []int `yaml:"hr"`
	DT []int `yaml:"dt"`
	FM []int `yaml:"fm"`
	TB []int `yaml:"tb"`
}

// Entry — карта пула с её модом.
type Entry struct {
	Token string
	MapID int
	Mod   osu.Mod
}

// Pools — пулы по osu.Label(mode, variant).
type Pools map[string]*Pool

func Load(path string) (Pools, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mappool: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (Pools, error) {
	var pools Pools
	if err := yaml.Unmarshal(data, &pools); err != nil {
		return nil, fmt.Errorf("mappool: parse: %w", err)
	}
	for key, p := range pools {
		if p == nil {
			return nil, fmt.Errorf("mappool: %s: empty pool", key)
		}
		if err := p.validate(); err != nil {
			return nil, fmt.Errorf("mappool: %s: %w", key, err)
		}
	}
	return pools, nil
}

// For ищет пул варианта, затем пул режима.
func (ps Pools) For(m osu.Mode, v osu.Variant) (*Pool, bool) {
	if p, ok := ps[osu.Label(m, v)]; ok {
		return p, true
	}
	p, ok := ps[string(m)]
	return p, ok
}

func (p *Pool) validate() error {
	seen := make(map[int]string)
	for _, e := range append(p.Entries(), p.Tiebreakers()...) {
		if e.MapID <= 0 {
			return fmt.Errorf("%s: bad map id %d", e.Token, e.MapID)
		}
		if prev, dup := seen[e.MapID]; dup {
			return fmt.Errorf("map %d listed twice (%s, %s)", e.MapID, prev, e.Token)
		}
		seen[e.MapID] = e.Token
	}
	if len(p.Entries()) == 0 {
		return fmt.Errorf("no maps outside tb")
	}
	return nil
}

func (p *Pool) groups() []struct {
	mod  osu.Mod
	maps []int
} {
	return []struct {
		mod  osu.Mod
		maps []int
	}{
		{osu.ModNM, p.NM},
		{osu.ModHD, p.HD},
		{osu.ModHR, p.HR},
		{osu.ModDT, p.DT},
		{osu.ModFM, p.FM},
	}
}

// Entries — все карты кроме тайбрейкеров в порядке nm, hd, hr, dt, fm.
func (p *Pool) Entries() []Entry {
	var out []Entry
	for _, g := range p.groups() {
		for i, id := range g.maps {
			out = append(out, Entry{Token: g.mod.Short() + strconv.Itoa(i+1), MapID: id, Mod: g.mod})
		}
	}
	return out
}

// Tiebreakers — карты тайбрейкера. Их мод — FM.
func (p *Pool) Tiebreakers() []Entry {
	out := make([]Entry, 0, len(p.TB))
	for i, id := range p.TB {
		out = append(out, Entry{Token: "TB" + strconv.Itoa(i+1), MapID: id, Mod: osu.ModFM})
	}
	return out
}

// Resolve находит обычную карту по токену ("NM1", "hd2") или id.
func (p *Pool) Resolve(token string) (Entry, bool) {
	return find(p.Entries(), token)
}

// ResolveTiebreaker — то же для тайбрейкеров ("TB2" или id).
func (p *Pool) ResolveTiebreaker(token string) (Entry, bool) {
	return find(p.Tiebreakers(), token)
}

func find(entries []Entry, token string) (Entry, bool) {
	token = strings.ToUpper(strings.TrimSpace(token))
	if token == "" {
		return Entry{}, false
	}
	id, err := strconv.Atoi(token)
	for _, e := range entries {
		if e.Token == token || (err == nil && e.MapID == id) {
			return e, true
		}
	}
	return Entry{}, false
}
