package bancho

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/EgorLis/packbot/internal/osu"
)

const banchoBot = "BanchoBot"

// ответы BanchoBot
var (
	reCreated  = regexp.MustCompile(`^Created the tournament match https://osu\.ppy\.sh/mp/(\d+) (.*)$`)
	reJoined   = regexp.MustCompile(`^(.+) joined in slot (\d+)(?: for team (red|blue))?\.$`)
	reLeft     = regexp.MustCompile(`^(.+) left the game\.$`)
	reMoved    = regexp.MustCompile(`^(.+) moved to slot (\d+)$`)
	reTeam     = regexp.MustCompile(`^(.+) changed to (Red|Blue)$`)
	reFinished = regexp.MustCompile(`^(.+) finished playing \(Score: (\d+), (PASSED|FAILED)\)\.$`)
	rePlayers  = regexp.MustCompile(`^Players: (\d+)$`)
	reSlot     = regexp.MustCompile(`^Slot (\d+)\s+(Not Ready|Ready|No Map)\s+https://osu\.ppy\.sh/u/(\d+) (.+?)(?:\s+\[(.+)\])?$`)
)

type eventKind int

const (
	evNone eventKind = iota
	evJoined
	evLeft
	evMoved
	evTeam
	evAllReady
	evStarted
	evScore
	evFinished
	evTimerEnded
	evClosed
	evPlayers
	evSlot
)

// banchoEvent — разобранная строка BanchoBot в канале комнаты.
type banchoEvent struct {
	kind  eventKind
	slot  osu.Slot
	user  osu.User
	score osu.Score
	count int
}

func parseBanchoLine(text string) banchoEvent {
	switch text {
	case "All players are ready":
		return banchoEvent{kind: evAllReady}
	case "The match has started!":
		return banchoEvent{kind: evStarted}
	case "The match has finished!":
		return banchoEvent{kind: evFinished}
	case "Countdown finished":
		return banchoEvent{kind: evTimerEnded}
	case "Closed the match":
		return banchoEvent{kind: evClosed}
	}

	if m := reJoined.FindStringSubmatch(text); m != nil {
		idx, _ := strconv.Atoi(m[2])
		return banchoEvent{kind: evJoined, slot: osu.Slot{
			Index:  idx,
			Player: osu.User{Name: m[1]},
			Team:   m[3],
		}}
	}
	if m := reLeft.FindStringSubmatch(text); m != nil {
		return banchoEvent{kind: evLeft, user: osu.User{Name: m[1]}}
	}
	if m := reMoved.FindStringSubmatch(text); m != nil {
		idx, _ := strconv.Atoi(m[2])
		return banchoEvent{kind: evMoved, slot: osu.Slot{Index: idx, Player: osu.User{Name: m[1]}}}
	}
	if m := reTeam.FindStringSubmatch(text); m != nil {
		return banchoEvent{kind: evTeam, slot: osu.Slot{Player: osu.User{Name: m[1]}, Team: strings.ToLower(m[2])}}
	}
	if m := reFinished.FindStringSubmatch(text); m != nil {
		s, _ := strconv.Atoi(m[2])
		return banchoEvent{kind: evScore, score: osu.Score{
			Player: osu.User{Name: m[1]},
			Score:  s,
			Pass:   m[3] == "PASSED",
		}}
	}
	if m := rePlayers.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return banchoEvent{kind: evPlayers, count: n}
	}
	if s, ok := parseSlot(text); ok {
		return banchoEvent{kind: evSlot, slot: s}
	}
	return banchoEvent{}
}

// parseSlot разбирает строку "!mp settings":
// "Slot 1  Ready      https://osu.ppy.sh/u/2 Name  [Host / Team Red / Hidden]".
func parseSlot(text string) (osu.Slot, bool) {
	m := reSlot.FindStringSubmatch(text)
	if m == nil {
		return osu.Slot{}, false
	}
	idx, _ := strconv.Atoi(m[1])
	id, _ := strconv.Atoi(m[3])
	s := osu.Slot{
		Index:  idx,
		Ready:  m[2] == "Ready",
		Player: osu.User{ID: id, Name: strings.TrimSpace(m[4])},
	}
	for _, part := range strings.Split(m[5], " / ") {
		part = strings.TrimSpace(part)
		switch {
		case part == "" || part == "Host":
		case strings.HasPrefix(part, "Team "):
			s.Team = strings.ToLower(strings.TrimPrefix(part, "Team "))
		default:
			s.Mods = osu.ParseLongMods(part)
		}
	}
	return s, true
}

// parseCreated — ответ на "!mp make": номер комнаты и её название.
func parseCreated(text string) (int, string, bool) {
	m := reCreated.FindStringSubmatch(text)
	if m == nil {
		return 0, "", false
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}
	return id, m[2], true
}
