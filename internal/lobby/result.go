package lobby

import "github.com/EgorLis/packbot/internal/osu"

// Result — итог лобби для внешнего сервиса. Набор полей зависит от вида.
type Result struct {
	Kind    Kind        `json:"kind"`
	RoomID  int         `json:"mp"`
	Mode    osu.Mode    `json:"mode"`
	Variant osu.Variant `json:"variant,omitempty"`
	MatchID string      `json:"match,omitempty"`

	Players []osu.User `json:"players,omitempty"`
	// Scores — очки дуэли в порядке Players.
	Scores    []int     `json:"scores,omitempty"`
	Winner    *osu.User `json:"winner,omitempty"`
	Abandoned bool      `json:"abandoned,omitempty"`

	// Health — итоговые жизни song rush.
	Health *int `json:"health,omitempty"`
	Songs  int  `json:"songs,omitempty"`
}

type Kind string

const (
	KindDuel      Kind = "duel"
	KindQualifier Kind = "quali"
	KindSongRush  Kind = "pve"
	KindAuto      Kind = "auto"
)
