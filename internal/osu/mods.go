package osu

import (
	"sort"
	"strings"
)

// Mod — пул модов в маппуле/подборе карт (nm/hd/hr/dt/fm).
type Mod string

const (
	ModNM Mod = "nm"
	ModHD Mod = "hd"
	ModHR Mod = "hr"
	ModDT Mod = "dt"
	ModFM Mod = "fm"
)

// SimpleMods — моды, которые подбор карт умеет форсить.
var SimpleMods = []Mod{ModNM, ModHD, ModHR, ModDT}

func (m Mod) Short() string { return strings.ToUpper(string(m)) }

// Mods — набор коротких имён модов в верхнем регистре ("NF", "HD").
type Mods []string

func (ms Mods) Has(short string) bool {
	short = strings.ToUpper(short)
	for _, m := range ms {
		if m == short {
			return true
		}
	}
	return false
}

func (ms Mods) String() string {
	if len(ms) == 0 {
		return "NM"
	}
	return strings.Join(ms, "")
}

// ParseShortMods разбирает склейку вида "HDHR", "nfdt" или "FM".
// "FM" и "NM" в результат не попадают, freemod возвращается отдельно.
func ParseShortMods(s string) (mods Mods, freemod bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i := 0; i+1 < len(s); i += 2 {
		m := s[i : i+2]
		switch m {
		case "FM":
			freemod = true
		case "NM":
		default:
			if _, ok := shortNames[m]; ok && !mods.Has(m) {
				mods = append(mods, m)
			}
		}
	}
	return mods, freemod
}

// длинные имена модов в выводе "!mp settings" -> короткие
var longNames = map[string]string{
	"NoFail":      "NF",
	"Easy":        "EZ",
	"Hidden":      "HD",
	"HardRock":    "HR",
	"SuddenDeath": "SD",
	"DoubleTime":  "DT",
	"Relax":       "RX",
	"HalfTime":    "HT",
	"Nightcore":   "NC",
	"Flashlight":  "FL",
	"SpunOut":     "SO",
	"Autopilot":   "AP",
	"Perfect":     "PF",
	"FadeIn":      "FI",
	"Mirror":      "MR",
	"TouchDevice": "TD",
	"ScoreV2":     "V2",
}

var shortNames = func() map[string]struct{} {
	out := make(map[string]struct{}, len(longNames))
	for _, s := range longNames {
		out[s] = struct{}{}
	}
	return out
}()

// ParseLongMods разбирает список вида "Hidden, HardRock".
func ParseLongMods(s string) Mods {
	var out Mods
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if short, ok := longNames[part]; ok {
			out = append(out, short)
		}
	}
	sort.Strings(out)
	return out
}

// ScoreV2Multiplier — множитель очков мода в ScoreV2.
func ScoreV2Multiplier(m Mod) float64 {
	switch m {
	case ModHD:
		return 1.06
	case ModHR:
		return 1.10
	case ModDT:
		return 1.20
	}
	return 1
}
