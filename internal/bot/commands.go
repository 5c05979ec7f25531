package bot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/EgorLis/packbot/internal/lobby"
	"github.com/EgorLis/packbot/internal/matchmaker"
	"github.com/EgorLis/packbot/internal/osu"
	"github.com/EgorLis/packbot/internal/store"
)

// сплит с поддержкой кавычек: !quali osu "HD" 101
var reArg = regexp.MustCompile(`"([^"]*)"|(\S+)`)

const commandList = "Commands list: help, q [mode], unq, r, lobby, pve [mode], auto [mode], quali <mode> [mods] <map id>... [shuffle]"

// HandleCommand выполняет команду из личного сообщения. Ошибка уходит
// игроку как "err: ...".
func (b *Bot) HandleCommand(ctx context.Context, u osu.User, text string) error {
	fields := splitArgs(text)
	if len(fields) == 0 {
		return nil
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "!"))
	args := fields[1:]

	say := func(s string) { b.reply(u, s) }

	switch cmd {

	case "help", "commands":
		say(commandList)
		return nil

	// ---------- PvP ----------
	case "q", "queue", "pvp":
		mode, variant := osu.ModeOsu, osu.VariantNone
		if len(args) > 0 {
			mode, variant = osu.ParseMode(args[0])
		}
		if _, ok := b.pools.For(mode, variant); !ok {
			return fmt.Errorf("no pvp map pool for %s", osu.Label(mode, variant))
		}
		p, err := b.register(ctx, u)
		if err != nil {
			return err
		}
		b.mm.SearchForMatch(matchmaker.Player{
			User:    p.User(),
			Rating:  p.Rating(store.PvP, mode),
			Mode:    mode,
			Variant: variant,
		})
		return nil

	case "unq", "unqueue":
		b.mm.Unqueue(u)
		return nil

	case "r", "ready":
		b.mm.PlayerReady(u)
		return nil

	case "lobby", "invite", "reinvite":
		if !b.lobbies.Reinvite(u) {
			say("No active lobby found")
		}
		return nil

	// ---------- PvE ----------
	case "pve", "solo", "rush":
		return b.createLobby(ctx, u, lobby.KindSongRush, args)

	case "auto":
		return b.createLobby(ctx, u, lobby.KindAuto, args)

	case "quali", "qualifier":
		if len(args) < 2 {
			return errors.New("usage: !quali <mode> [mods] <map id>... [shuffle]")
		}
		return b.createLobby(ctx, u, lobby.KindQualifier, args)

	// ---------- admin ----------
	case "stats":
		if !b.isAdmin(u.Name) {
			return nil
		}
		var kinds []string
		for k, n := range b.lobbies.CountByKind() {
			kinds = append(kinds, fmt.Sprintf("%s=%d", k, n))
		}
		slices.Sort(kinds)
		say(fmt.Sprintf("Currently %d active lobbies (%s)", b.lobbies.Count(), strings.Join(kinds, ", ")))
		say(fmt.Sprintf("Currently %d players in queue, %d pending", b.mm.QueueLen(), b.mm.PendingLen()))
		return nil

	default:
		return fmt.Errorf("unknown command. try !help")
	}
}

func (b *Bot) createLobby(ctx context.Context, u osu.User, kind lobby.Kind, args []string) error {
	if _, err := b.register(ctx, u); err != nil {
		return err
	}
	l, err := b.lobbies.CreateLobby(ctx, u, kind, args)
	if err != nil {
		return err
	}
	b.log.Info("lobby created", "player", u.Name, "kind", string(kind), "room", l.RoomID())
	return nil
}

// register находит игрока или заводит ему запись с рейтингом по умолчанию.
func (b *Bot) register(ctx context.Context, u osu.User) (store.Player, error) {
	p, found, err := b.players.Player(ctx, u)
	if err != nil {
		return store.Player{}, err
	}
	if found {
		return p, nil
	}
	if u.ID == 0 {
		// игроки в базе ключуются по id
		return store.Player{}, errors.New("couldn't resolve your osu! id, try again later")
	}
	b.reply(u, "No registration found, creating info.")
	p = store.NewPlayer(u)
	if err := b.players.SavePlayer(ctx, p); err != nil {
		return store.Player{}, fmt.Errorf("failed to create registration: %w", err)
	}
	b.log.Info("player registered", "player", u.Name, "id", u.ID)
	return p, nil
}

func splitArgs(s string) []string {
	var out []string
	for _, m := range reArg.FindAllStringSubmatch(s, -1) {
		if m[1] != "" {
			out = append(out, m[1])
		} else {
			out = append(out, m[2])
		}
	}
	return out
}
