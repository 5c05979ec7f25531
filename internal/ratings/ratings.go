// Package ratings — числовые помощники без состояния: logit/sigmoid,
// стандартное отклонение, перевод счёта в "исход" матча против карты и
// обратно, предсказатель glicko-2 и поиск эффективного рейтинга карты под
// модом бисекцией.
package ratings

import (
	"math"

	"github.com/EgorLis/packbot/internal/osu"
)

// Logit растягивает (0, 1) на всю ось.
func Logit(x float64) float64 { return math.Log(x / (1 - x)) }

// Sigmoid сжимает ось в (0, 1).
func Sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

// Stdev — выборочное отклонение (делитель n-1). Меньше двух значений — 0.
func Stdev(values ...float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(len(values)-1))
}

// MatchResultValue переводит счёт в исход [0, 1] логистой, нормированной
// так, что Min режима даёт 0, а Max — 1.
func MatchResultValue(score float64, mode osu.Mode) float64 {
	t := osu.Targets(mode)
	if score < t.Min {
		return 0
	}
	if score > t.Max {
		return 1
	}
	width := t.Width()
	k := 4 / width
	fMin := Sigmoid(-k * width / 2)
	fMax := Sigmoid(k * width / 2)
	raw := Sigmoid(k * (score - t.Mid()))
	return (raw - fMin) / (fMax - fMin)
}

// ScoreFromResult — обратное к MatchResultValue (без нормировки краёв).
func ScoreFromResult(result float64, mode osu.Mode) float64 {
	if result <= 0 {
		return 0
	}
	if result >= 1 {
		return 1000000
	}
	t := osu.Targets(mode)
	k := 4 / t.Width()
	const eps = 1e-9
	r := math.Min(1-eps, math.Max(eps, result))
	score := t.Mid() + Logit(r)/k
	return math.Max(0, math.Min(score, 1000000))
}

// Predictor оценивает вероятность того, что player "обыграет" opponent.
type Predictor interface {
	Predict(player, opponent osu.Rating) float64
}

const glickoScale = 173.7178

// Glicko2 — предсказание исхода по формуле glicko-2 (как predict у npm glicko2).
type Glicko2 struct{}

func (Glicko2) Predict(player, opponent osu.Rating) float64 {
	mu1 := (player.Rating - 1500) / glickoScale
	mu2 := (opponent.Rating - 1500) / glickoScale
	phi := math.Hypot(player.RD/glickoScale, opponent.RD/glickoScale)
	return 1 / (1 + math.Exp(-g(phi)*(mu1-mu2)))
}

func g(phi float64) float64 {
	return 1 / math.Sqrt(1+3*phi*phi/(math.Pi*math.Pi))
}

const bisectSteps = 25

// EffectiveRating ищет рейтинг карты под модом с множителем очков modMult:
// такой, против которого игрок с рейтингом карты ожидает исход, равный
// исходу от счёта baseScore/modMult. Поиск идёт бисекцией между base и
// base*modMult.
func EffectiveRating(p Predictor, base osu.Rating, mode osu.Mode, modMult float64) float64 {
	if modMult == 1 || modMult <= 0 {
		return base.Rating
	}
	baseScore := ScoreFromResult(0.5, mode)
	targetOutcome := MatchResultValue(baseScore/modMult, mode)

	lo, hi := base.Rating, base.Rating*modMult
	if lo > hi {
		lo, hi = hi, lo
	}
	for i := 0; i < bisectSteps; i++ {
		mid := (lo + hi) / 2
		trial := base
		trial.Rating = mid
		if p.Predict(base, trial) > targetOutcome {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}
