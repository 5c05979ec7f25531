package osu

// ScoreTarget — границы "ожидаемого" счёта режима: ниже Min результат
// считается нулевым, выше Max — полным.
type ScoreTarget struct {
	Min float64
	Max float64
}

func (t ScoreTarget) Mid() float64   { return (t.Min + t.Max) / 2 }
func (t ScoreTarget) Width() float64 { return t.Max - t.Min }

var scoreTargets = map[Mode]ScoreTarget{
	ModeOsu:    {Min: 100000, Max: 900000},
	ModeFruits: {Min: 500000, Max: 900000},
	ModeTaiko:  {Min: 300000, Max: 900000},
	ModeMania:  {Min: 600000, Max: 950000},
}

// Targets возвращает таблицу режима; неизвестный режим считается osu.
func Targets(m Mode) ScoreTarget {
	if t, ok := scoreTargets[m]; ok {
		return t
	}
	return scoreTargets[ModeOsu]
}
