package lobby

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/EgorLis/packbot/internal/osu"
	"github.com/EgorLis/packbot/internal/ratings"
	"github.com/EgorLis/packbot/internal/store"
)

// window — допустимый рейтинг карты, границы не включаются.
type window struct {
	min, max float64
	// mod — окно относится к рейтингу под этим модом, пусто — к базовому.
	mod osu.Mod
}

func (w window) contains(r float64) bool { return r > w.min && r < w.max }

// sampleBeatmap ищет случайную карту в окне, исключая сыгранные карты и
// сеты. Если ничего нет, фильтры снимаются по одному: исключение карт,
// исключение сетов, затем окно рейтинга.
func (b *Base) sampleBeatmap(ctx context.Context, w window, songs, sets []int) (osu.Beatmap, error) {
	if b.deps.Store == nil {
		return osu.Beatmap{}, fmt.Errorf("lobby: no store")
	}
	q := store.BeatmapQuery{
		Mode:        b.mode,
		Keys:        b.variant.Keys(),
		HasRange:    true,
		Min:         w.min,
		Max:         w.max,
		ExcludeIDs:  songs,
		ExcludeSets: sets,
		RatingMod:   w.mod,
	}
	relax := []func(){
		func() { q.ExcludeIDs = nil },
		func() { q.ExcludeSets = nil },
		func() {
			b.log.Info("no beatmap in range", "min", math.Round(w.min), "max", math.Round(w.max))
			q.HasRange = false
		},
	}
	for i := 0; ; i++ {
		m, found, err := b.deps.Store.SampleBeatmap(ctx, q)
		if err != nil {
			return osu.Beatmap{}, fmt.Errorf("lobby: sample beatmap: %w", err)
		}
		if found {
			return m, nil
		}
		if i == len(relax) {
			return osu.Beatmap{}, ErrNoBeatmaps
		}
		relax[i]()
	}
}

// modMultiplier — множитель рейтинга карты под модом. Если в базе его нет,
// он выводится из множителя очков ScoreV2 через эффективный рейтинг.
func (b *Base) modMultiplier(m osu.Beatmap, mod osu.Mod) float64 {
	if v, ok := m.Multiplier(mod); ok && v > 0 {
		return v
	}
	if m.Rating.Rating <= 0 {
		return 1
	}
	eff := ratings.EffectiveRating(b.deps.Predictor, m.Rating, b.mode, osu.ScoreV2Multiplier(mod))
	return eff / m.Rating.Rating
}

// chooseMod выбирает случайный мод, под которым карта остаётся в окне.
// Мод не повторяет предыдущий (кроме NM); если подходящих нет — NM.
func (b *Base) chooseMod(m osu.Beatmap, last osu.Mod, w window) osu.Mod {
	var candidates []osu.Mod
	for _, mod := range osu.SimpleMods {
		if mod == last && mod != osu.ModNM {
			continue
		}
		if w.contains(m.Rating.Rating * b.modMultiplier(m, mod)) {
			candidates = append(candidates, mod)
		}
	}
	if len(candidates) == 0 {
		return osu.ModNM
	}
	return candidates[b.rng.IntN(len(candidates))]
}

// announcement — строка вида "Title +HD - Rating: 1520 x1.04 (1581)".
func announcement(m osu.Beatmap, mods string, mult float64) string {
	return fmt.Sprintf("%s +%s - Rating: %.0f x%.2f (%.0f)",
		m.DisplayName(), mods, m.Rating.Rating, mult, m.Rating.Rating*mult)
}

// modString — аргумент SetMods для мода пула.
func modString(mod osu.Mod) string {
	if mod == osu.ModNM || mod == osu.ModFM {
		return ""
	}
	return mod.Short()
}

// healthDelta — изменение жизней song rush за карту: сглаженное tanh
// отклонение счёта от середины режима, -10 за провал, -15 без счёта.
func healthDelta(score *osu.Score, mode osu.Mode) int {
	if score == nil {
		return -15
	}
	t := osu.Targets(mode)
	w := t.Width() / 2
	delta := int(math.Floor(6 * math.Tanh((float64(score.Score)-t.Mid())/w)))
	if !score.Pass {
		delta -= 10
	}
	return delta
}

// TargetRating — общий рейтинг группы: среднее, где i-й по силе игрок
// весит 1/(i+1), и отклонение sqrt(Σ rd²/(i+1)).
func TargetRating(rs []osu.Rating) (target, rd float64) {
	if len(rs) == 0 {
		return osu.DefaultRating.Rating, osu.DefaultRating.RD
	}
	rs = slices.Clone(rs)
	slices.SortStableFunc(rs, func(a, b osu.Rating) int { return cmp.Compare(b.Rating, a.Rating) })
	var sum, weights, rdSum float64
	for i, r := range rs {
		w := 1 / float64(i+1)
		sum += r.Rating * w
		weights += w
		rdSum += r.RD * r.RD * w
	}
	return sum / weights, math.Sqrt(rdSum)
}

func pushCapped(list []int, v, limit int) []int {
	list = append(list, v)
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list
}
