package osu

import (
	"strconv"
	"strings"
)

// Rating — рейтинг в духе glicko (rating, deviation, volatility).
type Rating struct {
	Rating float64 `json:"rating"`
	RD     float64 `json:"rd"`
	Vol    float64 `json:"vol"`
}

// DefaultRating — рейтинг нового игрока/карты без истории.
var DefaultRating = Rating{Rating: 1500, RD: 350, Vol: 0.06}

// User — игрок Bancho. ID может быть 0, если известен только ник.
type User struct {
	ID   int    `json:"id,omitempty"`
	Name string `json:"name"`
}

// Is сравнивает по id, если оба известны, иначе по нику (IRC меняет
// пробелы на "_", регистр не важен).
func (u User) Is(o User) bool {
	if u.ID != 0 && o.ID != 0 {
		return u.ID == o.ID
	}
	return NormalizeName(u.Name) == NormalizeName(o.Name)
}

func NormalizeName(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
}

// Invite — аргумент для "!mp invite".
func (u User) Invite() string {
	if u.ID != 0 {
		return "#" + strconv.Itoa(u.ID)
	}
	return strings.ReplaceAll(u.Name, " ", "_")
}

// Beatmap — кандидат при подборе карт. Ядро его не сохраняет.
type Beatmap struct {
	ID      int     `json:"id"`
	SetID   int     `json:"setid"`
	Mode    Mode    `json:"mode"`
	Artist  string  `json:"artist"`
	Title   string  `json:"title"`
	Version string  `json:"version"`
	CS      float64 `json:"cs"`
	Rating  Rating  `json:"rating"`
	// Mult — множитель рейтинга под модом ("HD" -> 1.04). Нет ключа — не посчитан.
	Mult map[string]float64 `json:"mods,omitempty"`
}

func (b Beatmap) Multiplier(m Mod) (float64, bool) {
	if m == ModNM {
		return 1, true
	}
	v, ok := b.Mult[m.Short()]
	return v, ok
}

func (b Beatmap) DisplayName() string {
	if b.Title == "" {
		return "#" + strconv.Itoa(b.ID)
	}
	if b.Version == "" {
		return b.Title
	}
	return b.Title + " [" + b.Version + "]"
}

// Score — результат игрока после "The match has finished!".
type Score struct {
	Player User `json:"player"`
	Score  int  `json:"score"`
	Pass   bool `json:"pass"`
}

// Slot — занятое место в комнате.
type Slot struct {
	Index  int    `json:"slot"`
	Player User   `json:"player"`
	Team   string `json:"team,omitempty"`
	Ready  bool   `json:"ready"`
	Mods   Mods   `json:"mods,omitempty"`
}

// Message — сообщение в канале комнаты или в личку.
type Message struct {
	User    User
	Content string
}

type TeamMode int

const (
	HeadToHead TeamMode = iota
	TagCoop
	TeamVs
	TagTeamVs
)

type WinCondition int

const (
	WinScore WinCondition = iota
	WinAccuracy
	WinCombo
	WinScoreV2
)

// RoomEvents — обработчики событий комнаты ("аналог EventEmitter").
// Nil-поле — событие игнорируется.
type RoomEvents struct {
	PlayerJoined  func(Slot)
	PlayerLeft    func(User)
	AllReady      func()
	MatchFinished func([]Score)
	TimerEnded    func()
	Message       func(Message)
}
