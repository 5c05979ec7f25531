// Package osu — общий словарь бота: режимы игры, варианты mania, моды,
// пользователи, карты, результаты и события мультиплеерной комнаты.
// Пакет не делает I/O и нужен, чтобы протокольный клиент (bancho), ядро
// (matchmaker, lobby) и хранилище (store) говорили на одних типах.
package osu

import "strings"

type Mode string

const (
	ModeOsu    Mode = "osu"
	ModeFruits Mode = "fruits"
	ModeTaiko  Mode = "taiko"
	ModeMania  Mode = "mania"
)

// Variant — раскладка mania (4k/7k). Для остальных режимов пустая.
type Variant string

const (
	VariantNone Variant = ""
	Variant4K   Variant = "4k"
	Variant7K   Variant = "7k"
)

// Keys — количество клавиш (CS карты) для варианта, 0 если вариант не задан.
func (v Variant) Keys() int {
	switch v {
	case Variant4K:
		return 4
	case Variant7K:
		return 7
	}
	return 0
}

// ParseMode разбирает аргумент команды: "ctb" -> fruits, "4k"/"7k" -> mania
// с вариантом, всё неизвестное -> osu.
func ParseMode(s string) (Mode, Variant) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "osu", "std", "standard":
		return ModeOsu, VariantNone
	case "ctb", "fruits", "catch":
		return ModeFruits, VariantNone
	case "taiko":
		return ModeTaiko, VariantNone
	case "mania":
		return ModeMania, VariantNone
	case "4k":
		return ModeMania, Variant4K
	case "7k":
		return ModeMania, Variant7K
	}
	return ModeOsu, VariantNone
}

// BanchoID — номер режима для "!mp map <id> <mode>".
func (m Mode) BanchoID() int {
	switch m {
	case ModeTaiko:
		return 1
	case ModeFruits:
		return 2
	case ModeMania:
		return 3
	}
	return 0
}

func (m Mode) Valid() bool {
	switch m {
	case ModeOsu, ModeFruits, ModeTaiko, ModeMania:
		return true
	}
	return false
}

// Label — то, что видят игроки в названии комнаты.
func Label(m Mode, v Variant) string {
	if v != VariantNone {
		return string(v)
	}
	return string(m)
}
