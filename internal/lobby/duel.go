package lobby

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/EgorLis/packbot/internal/clock"
	"github.com/EgorLis/packbot/internal/mappool"
	"github.com/EgorLis/packbot/internal/osu"
)

// Phase — фаза дуэли.
type Phase int

const (
	PhaseWaiting Phase = iota
	PhaseBan
	PhasePick
	PhaseTiebreakerBan
	PhaseTiebreaker
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhaseBan:
		return "ban"
	case PhasePick:
		return "pick"
	case PhaseTiebreakerBan:
		return "tiebreaker-ban"
	case PhaseTiebreaker:
		return "tiebreaker"
	case PhaseCompleted:
		return "completed"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

const (
	msgNotYourTurn    = "It's not your turn"
	msgCantBan        = "You can't ban now"
	msgCantPick       = "You can't pick now"
	msgUnknownMap     = "Unknown map"
	msgAlreadyBanned  = "Map already banned"
	msgAlreadyPicked  = "Map already picked"
	msgMapInProgress  = "Finish the current map first"
	msgNoMapPicked    = "No map picked yet"
	msgReplay         = "No scores. Replaying map"
	msgTiebreakerOnly = "Tiebreaker maps can't be picked"
	msgWaitingRejoin  = "Waiting for %s to rejoin"
)

type DuelConfig struct {
	// BestOf — сколько карт в матче, побеждает набравший больше половины.
	BestOf int
	// Bans — сколько банов всего до начала пиков (поровну на игроков).
	Bans int
	// AbandonSeconds — сколько ждать вышедшего игрока.
	AbandonSeconds int
	// JoinTimeout — сколько ждать, пока оба игрока зайдут в комнату.
	JoinTimeout time.Duration
	CloseDelay  time.Duration
	Countdown   int
}

func (c DuelConfig) withDefaults() DuelConfig {
	if c.BestOf <= 0 {
		c.BestOf = 7
	}
	if c.Bans <= 0 {
		c.Bans = 2
	}
	if c.AbandonSeconds <= 0 {
		c.AbandonSeconds = 60
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 5 * time.Minute
	}
	if c.CloseDelay <= 0 {
		c.CloseDelay = 15 * time.Second
	}
	if c.Countdown <= 0 {
		c.Countdown = defaultCountdown
	}
	return c
}

// Participant — игрок дуэли.
type Participant struct {
	User   osu.User
	Rating osu.Rating
}

// DuelState — снимок состояния дуэли.
type DuelState struct {
	Phase            Phase
	Turn             int
	Players          []osu.User
	Wins             []int
	Banned           []int
	Picked           []int
	TiebreakerBanned []int
	Current          int
	Songs            int
}

type duelPlayer struct {
	Participant
	wins    int
	present bool
	absent  bool
}

// Duel — судья матча один на один: баны, пики по очереди, тайбрейкер.
type Duel struct {
	*Base
	cfg     DuelConfig
	pool    *mappool.Pool
	matchID string

	players  []*duelPlayer
	phase    Phase
	turn     int
	banned   []int
	picked   []int
	tbBanned []int
	current  mappool.Entry
	pending  bool
	songs    int
	joinWait *clock.Timer
}

// NewDuel готовит дуэль. Первым ходит игрок с меньшим рейтингом.
func NewDuel(deps Deps, cfg DuelConfig, pool *mappool.Pool, players []Participant, mode osu.Mode, variant osu.Variant, matchID string) (*Duel, error) {
	if len(players) != 2 {
		return nil, fmt.Errorf("lobby: duel needs 2 players, got %d", len(players))
	}
	if pool == nil || len(pool.TB) == 0 {
		return nil, errors.New("lobby: duel pool has no tiebreaker")
	}
	cfg = cfg.withDefaults()
	if cfg.BestOf%2 == 0 {
		return nil, fmt.Errorf("lobby: best of %d is even", cfg.BestOf)
	}
	if cfg.Bans >= len(pool.Entries()) {
		return nil, fmt.Errorf("lobby: %d bans leave no maps to pick", cfg.Bans)
	}

	ps := make([]*duelPlayer, len(players))
	for i, p := range players {
		ps[i] = &duelPlayer{Participant: p}
	}
	slices.SortStableFunc(ps, func(a, b *duelPlayer) int { return cmp.Compare(a.Rating.Rating, b.Rating.Rating) })

	l := &Duel{
		cfg:     cfg,
		pool:    pool,
		matchID: matchID,
		players: ps,
	}
	l.Base = newBase(deps, KindDuel, mode, variant, l)
	return l, nil
}

// Snapshot возвращает снимок фазы, очков и банов.
func (l *Duel) Snapshot() DuelState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := DuelState{
		Phase:            l.phase,
		Turn:             l.turn,
		Banned:           slices.Clone(l.banned),
		Picked:           slices.Clone(l.picked),
		TiebreakerBanned: slices.Clone(l.tbBanned),
		Songs:            l.songs,
	}
	if l.pending {
		st.Current = l.current.MapID
	}
	for _, p := range l.players {
		st.Players = append(st.Players, p.User)
		st.Wins = append(st.Wins, p.wins)
	}
	return st
}

func (l *Duel) roomName() string {
	return fmt.Sprintf("%s: (%s) vs (%s)", osu.Label(l.mode, l.variant), l.players[0].User.Name, l.players[1].User.Name)
}

func (l *Duel) setup(context.Context) error {
	if err := l.room.SetSettings(osu.HeadToHead, osu.WinScoreV2, 2); err != nil {
		return err
	}
	for _, p := range l.players {
		if err := l.inviteLocked(p.User); err != nil {
			return err
		}
	}
	l.joinWait = l.after("join timeout", l.cfg.JoinTimeout, l.joinTimedOut)
	return nil
}

func (l *Duel) hasPlayer(u osu.User) bool { return l.index(u) >= 0 }

func (l *Duel) index(u osu.User) int {
	return slices.IndexFunc(l.players, func(p *duelPlayer) bool { return p.User.Is(u) })
}

func (l *Duel) onPlayerJoined(s osu.Slot) error {
	i := l.index(s.Player)
	if i < 0 {
		return nil
	}
	p := l.players[i]
	p.present = true
	if p.absent {
		p.absent = false
		l.sayf("%s rejoined", p.User.Name)
		if !l.anyAbsent() {
			if err := l.room.AbortTimer(); err != nil {
				return err
			}
		}
	}
	if l.phase != PhaseWaiting || !l.allPresent() {
		return nil
	}
	l.joinWait.Stop()
	return l.beginBans()
}

func (l *Duel) onPlayerLeft(u osu.User) error {
	i := l.index(u)
	if i < 0 || l.phase == PhaseCompleted {
		return nil
	}
	p := l.players[i]
	if !p.present {
		return nil
	}
	p.absent = true
	l.sayf("%s left the lobby. %d seconds to rejoin", p.User.Name, l.cfg.AbandonSeconds)
	return l.room.StartTimer(l.cfg.AbandonSeconds)
}

func (l *Duel) onTimerEnded() error {
	if !l.anyAbsent() || l.phase == PhaseCompleted {
		return nil
	}
	l.abandon()
	return nil
}

func (l *Duel) joinTimedOut() error {
	if l.phase != PhaseWaiting {
		return nil
	}
	l.say("Players didn't join in time")
	for _, p := range l.players {
		if !p.present {
			p.absent = true
		}
	}
	l.abandon()
	return nil
}

// abandon засчитывает победу единственному оставшемуся в комнате игроку.
func (l *Duel) abandon() {
	var winner *osu.User
	var stayed []*duelPlayer
	for _, p := range l.players {
		if p.present && !p.absent {
			stayed = append(stayed, p)
		}
	}
	if len(stayed) == 1 {
		u := stayed[0].User
		winner = &u
		l.sayf("%s wins by default", u.Name)
	} else {
		l.say("Match abandoned")
	}
	l.complete(winner, true)
}

func (l *Duel) anyAbsent() bool {
	return slices.ContainsFunc(l.players, func(p *duelPlayer) bool { return p.absent })
}

func (l *Duel) allPresent() bool {
	return !slices.ContainsFunc(l.players, func(p *duelPlayer) bool { return !p.present || p.absent })
}

func (l *Duel) beginBans() error {
	l.phase = PhaseBan
	l.sayf("Pool: %s", tokens(l.pool.Entries()))
	l.sayf("%s bans first. Use !ban <map>", l.players[l.turn].User.Name)
	return nil
}

func (l *Duel) onMessage(m osu.Message) error {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(m.Content), " ")
	cmd = strings.ToLower(cmd)
	if cmd != "!ban" && cmd != "!pick" {
		return nil
	}
	i := l.index(m.User)
	if i < 0 {
		return nil
	}
	arg = strings.TrimSpace(arg)
	if cmd == "!ban" {
		return l.ban(i, arg)
	}
	return l.pick(i, arg)
}

func (l *Duel) ban(i int, token string) error {
	if l.phase != PhaseBan && l.phase != PhaseTiebreakerBan {
		l.say(msgCantBan)
		return nil
	}
	if i != l.turn {
		l.say(msgNotYourTurn)
		return nil
	}

	if l.phase == PhaseTiebreakerBan {
		e, ok := l.pool.ResolveTiebreaker(token)
		if !ok {
			l.say(msgUnknownMap)
			return nil
		}
		if slices.Contains(l.tbBanned, e.MapID) {
			l.say(msgAlreadyBanned)
			return nil
		}
		l.tbBanned = append(l.tbBanned, e.MapID)
		l.sayf("%s banned %s", l.players[i].User.Name, e.Token)
		l.flip()
		return l.nextTiebreakerBan()
	}

	e, ok := l.pool.Resolve(token)
	if !ok {
		l.say(msgUnknownMap)
		return nil
	}
	if slices.Contains(l.banned, e.MapID) {
		l.say(msgAlreadyBanned)
		return nil
	}
	if slices.Contains(l.picked, e.MapID) {
		l.say(msgAlreadyPicked)
		return nil
	}
	l.banned = append(l.banned, e.MapID)
	l.sayf("%s banned %s", l.players[i].User.Name, e.Token)
	l.flip()

	if len(l.banned) < l.cfg.Bans {
		l.sayf("%s, your ban", l.players[l.turn].User.Name)
		return nil
	}
	l.phase = PhasePick
	l.sayf("Bans are over. %s picks first. Use !pick <map>", l.players[l.turn].User.Name)
	return nil
}

func (l *Duel) pick(i int, token string) error {
	if l.phase != PhasePick {
		l.say(msgCantPick)
		return nil
	}
	if i != l.turn {
		l.say(msgNotYourTurn)
		return nil
	}
	if l.pending {
		l.say(msgMapInProgress)
		return nil
	}
	e, ok := l.pool.Resolve(token)
	if !ok {
		if _, tb := l.pool.ResolveTiebreaker(token); tb {
			l.say(msgTiebreakerOnly)
		} else {
			l.say(msgUnknownMap)
		}
		return nil
	}
	if slices.Contains(l.banned, e.MapID) {
		l.say(msgAlreadyBanned)
		return nil
	}
	if slices.Contains(l.picked, e.MapID) {
		l.say(msgAlreadyPicked)
		return nil
	}

	if err := l.apply(e); err != nil {
		return err
	}
	l.picked = append(l.picked, e.MapID)
	l.sayf("%s picked %s", l.players[i].User.Name, e.Token)
	l.flip()
	return nil
}

// apply ставит карту и моды. NF обязателен всегда.
func (l *Duel) apply(e mappool.Entry) error {
	if err := l.room.SetMap(e.MapID, l.mode); err != nil {
		return err
	}
	mods, freemod := "NF", false
	switch e.Mod {
	case osu.ModFM:
		freemod = true
	case osu.ModNM:
	default:
		mods += " " + e.Mod.Short()
	}
	if err := l.room.SetMods(mods, freemod); err != nil {
		return err
	}
	l.current = e
	l.pending = true
	return nil
}

func (l *Duel) flip() { l.turn = 1 - l.turn }

// onPlayersReady стартует карту. На FM и тайбрейкере сначала проверяются
// моды: NF и HD или HR у каждого, без модов на скорость и EZ.
func (l *Duel) onPlayersReady() error {
	if !l.pending || (l.phase != PhasePick && l.phase != PhaseTiebreaker) {
		l.say(msgNoMapPicked)
		return nil
	}
	// пустое место не играет
	for _, p := range l.players {
		if p.absent {
			l.sayf(msgWaitingRejoin, p.User.Name)
			return nil
		}
	}
	if l.current.Mod == osu.ModFM {
		if err := l.room.Refresh(l.ctx); err != nil {
			return err
		}
		if problem := l.checkMods(l.room.Slots()); problem != "" {
			l.say(problem)
			return nil
		}
	}
	return l.room.Start(l.cfg.Countdown)
}

func (l *Duel) checkMods(slots []osu.Slot) string {
	for _, p := range l.players {
		i := slices.IndexFunc(slots, func(s osu.Slot) bool { return s.Player.Is(p.User) })
		if i < 0 {
			return fmt.Sprintf("Waiting for %s", p.User.Name)
		}
		mods := slots[i].Mods
		switch {
		case !mods.Has("NF"):
			return fmt.Sprintf("%s: NF is required", p.User.Name)
		case !mods.Has("HD") && !mods.Has("HR"):
			return fmt.Sprintf("%s: HD or HR is required", p.User.Name)
		}
		for _, banned := range []string{"DT", "NC", "HT", "EZ"} {
			if mods.Has(banned) {
				return fmt.Sprintf("%s: %s is not allowed", p.User.Name, banned)
			}
		}
	}
	return ""
}

func (l *Duel) onSongFinished(scores []osu.Score) error {
	if !l.pending {
		return nil
	}
	var ours []osu.Score
	for _, s := range scores {
		if l.index(s.Player) >= 0 {
			ours = append(ours, s)
		}
	}
	if len(ours) == 0 {
		l.say(msgReplay)
		return nil
	}
	slices.SortStableFunc(ours, func(a, b osu.Score) int { return cmp.Compare(b.Score, a.Score) })
	top := l.players[l.index(ours[0].Player)]
	top.wins++
	l.songs++
	l.pending = false
	l.sayf("%s wins the map. Score: %s %d - %d %s",
		top.User.Name, l.players[0].User.Name, l.players[0].wins, l.players[1].wins, l.players[1].User.Name)

	if l.phase == PhaseTiebreaker || top.wins > l.cfg.BestOf/2 {
		u := top.User
		l.sayf("%s wins the match", u.Name)
		l.complete(&u, false)
		return nil
	}
	if l.songs >= l.cfg.BestOf-1 || l.availablePicks() == 0 {
		l.phase = PhaseTiebreakerBan
		l.say("Tiebreaker!")
		return l.nextTiebreakerBan()
	}
	l.sayf("%s, your pick", l.players[l.turn].User.Name)
	return nil
}

func (l *Duel) availablePicks() int {
	n := 0
	for _, e := range l.pool.Entries() {
		if !slices.Contains(l.banned, e.MapID) && !slices.Contains(l.picked, e.MapID) {
			n++
		}
	}
	return n
}

// nextTiebreakerBan просит следующий бан или ставит последнюю оставшуюся карту.
func (l *Duel) nextTiebreakerBan() error {
	var left []mappool.Entry
	for _, e := range l.pool.Tiebreakers() {
		if !slices.Contains(l.tbBanned, e.MapID) {
			left = append(left, e)
		}
	}
	if len(left) > 1 {
		l.sayf("%s, ban a tiebreaker: %s", l.players[l.turn].User.Name, tokens(left))
		return nil
	}
	l.phase = PhaseTiebreaker
	if err := l.apply(left[0]); err != nil {
		return err
	}
	l.picked = append(l.picked, left[0].MapID)
	l.sayf("Tiebreaker is %s. NF and HD or HR required", left[0].Token)
	return nil
}

func tokens(es []mappool.Entry) string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Token
	}
	return strings.Join(out, " ")
}

func (l *Duel) complete(winner *osu.User, abandoned bool) {
	l.phase = PhaseCompleted
	l.pending = false
	l.joinWait.Stop()
	r := Result{
		MatchID:   l.matchID,
		Winner:    winner,
		Abandoned: abandoned,
		Songs:     l.songs,
	}
	for _, p := range l.players {
		r.Players = append(r.Players, p.User)
		r.Scores = append(r.Scores, p.wins)
	}
	l.finish(r)
	l.closeLocked(l.cfg.CloseDelay)
}
