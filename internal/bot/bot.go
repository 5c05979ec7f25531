package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/EgorLis/packbot/internal/bancho"
	"github.com/EgorLis/packbot/internal/lobby"
	"github.com/EgorLis/packbot/internal/mappool"
	"github.com/EgorLis/packbot/internal/matchmaker"
	"github.com/EgorLis/packbot/internal/osu"
	"github.com/EgorLis/packbot/internal/osuapi"
	"github.com/EgorLis/packbot/internal/results"
	"github.com/EgorLis/packbot/internal/store"
)

const (
	commandTimeout = 30 * time.Second
	duelTimeout    = time.Minute
)

// Chat — соединение с Bancho со стороны бота.
type Chat interface {
	Connect(ctx context.Context) error
	Disconnect()
	SendPM(u osu.User, text string) error
	SendMessage(u osu.User, text string) error
}

// Players — учёт игроков в хранилище.
type Players interface {
	Player(ctx context.Context, u osu.User) (store.Player, bool, error)
	SavePlayer(ctx context.Context, p store.Player) error
}

// Resolver дополняет ник игрока его id.
type Resolver interface {
	Resolve(ctx context.Context, u osu.User) osu.User
}

type Bot struct {
	cfg     Config
	log     *slog.Logger
	chat    Chat
	players Players
	users   Resolver
	pools   mappool.Pools
	mm      *matchmaker.Matchmaker
	lobbies *lobby.Manager
	closers []func() error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// New собирает бота из конфига: хранилище, маппулы, Bancho, osu! API,
// отправку итогов, матчмейкер и менеджер лобби.
func New(cfg Config, logger *slog.Logger) (*Bot, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	pools, err := mappool.Load(cfg.Pools)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Warn("no map pools, pvp is disabled", "path", cfg.Pools)
		pools = mappool.Pools{}
	case err != nil:
		return nil, err
	}

	st, err := store.Open(store.Config{Path: cfg.Database, Logger: logger})
	if err != nil {
		return nil, err
	}

	bc := cfg.banchoConfig()
	bc.Logger = logger
	client := bancho.New(bc)

	api := cfg.apiConfig()
	api.Logger = logger
	var users Resolver
	if api.Key != "" {
		users = osuapi.NewClient(api)
	}

	var reporter lobby.Reporter
	if cfg.Results.URL != "" {
		rc := cfg.resultsConfig()
		rc.Logger = logger
		reporter = results.NewClient(rc)
	}

	opts := cfg.matchmakerOptions()
	opts.Logger = logger
	mm := matchmaker.New(client, opts)

	manager := lobby.NewManager(lobby.Deps{
		Creator: lobby.CreatorFunc(func(ctx context.Context, name string) (lobby.Room, error) {
			l, err := client.CreateLobby(ctx, name)
			if err != nil {
				return nil, err
			}
			return l, nil
		}),
		Store:  st,
		Logger: logger,
	}, cfg.managerConfig(pools), reporter)

	b := assemble(cfg, logger, client, st, users, pools, mm, manager)
	b.closers = append(b.closers, st.Close)

	client.OnConnecting = func() { b.log.Info("connecting to bancho", "server", bc.Server) }
	client.OnConnected = func() { b.log.Info("connected to bancho") }
	client.OnDisconnected = func() { b.log.Info("disconnected from bancho") }
	client.OnError = func(err error) { b.log.Warn("bancho", "err", err) }
	client.OnPM = b.HandlePM
	return b, nil
}

func assemble(cfg Config, logger *slog.Logger, chat Chat, players Players, users Resolver,
	pools mappool.Pools, mm *matchmaker.Matchmaker, lobbies *lobby.Manager) *Bot {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bot{
		cfg:     cfg,
		log:     logger.With("component", "bot"),
		chat:    chat,
		players: players,
		users:   users,
		pools:   pools,
		mm:      mm,
		lobbies: lobbies,
		ctx:     ctx,
		cancel:  cancel,
	}
	mm.OnMatch = b.onMatch
	return b
}

func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return errors.New("already started")
	}
	if err := b.chat.Connect(ctx); err != nil {
		return err
	}
	b.mm.Start(b.ctx)
	b.running = true
	b.log.Info("bot started")
	return nil
}

// Stop: матчмейкер, затем объявление о выключении во всех лобби,
// отправка итогов и отключение от Bancho. Повторный Stop ничего не делает.
func (b *Bot) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.mu.Unlock()

	b.mm.End()
	b.lobbies.Terminate()
	b.lobbies.Wait()
	b.cancel()
	b.wg.Wait()
	b.chat.Disconnect()
	for _, c := range b.closers {
		if err := c(); err != nil {
			b.log.Warn("close", "err", err)
		}
	}
	b.log.Info("bot stopped")
}

// HandlePM разбирает личное сообщение. Команда выполняется в своей
// горутине: создание комнаты ждёт ответа, который читает тот же клиент.
func (b *Bot) HandlePM(m osu.Message) {
	text := strings.TrimSpace(m.Content)
	if !strings.HasPrefix(text, "!") {
		return
	}
	b.log.Info("command", "player", m.User.Name, "text", text)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
		defer cancel()
		u := m.User
		if b.users != nil {
			u = b.users.Resolve(ctx, u)
		}
		if err := b.HandleCommand(ctx, u, text); err != nil {
			b.reply(u, fmt.Sprintf("err: %v", err))
		}
	}()
}

// onMatch создаёт дуэль для пары из матчмейкера.
func (b *Bot) onMatch(match matchmaker.Match) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(b.ctx, duelTimeout)
		defer cancel()
		d, err := b.lobbies.CreateDuel(ctx, match)
		if err != nil {
			b.log.Error("create duel", "match", match.ID, "err", err)
			for _, p := range match.Players {
				b.reply(p.User, "Failed to create lobby. Please queue again")
			}
			return
		}
		b.log.Info("duel created", "match", match.ID, "room", d.RoomID())
	}()
}

func (b *Bot) reply(u osu.User, text string) {
	if err := b.chat.SendPM(u, text); err != nil {
		b.log.Warn("reply failed", "player", u.Name, "err", err)
	}
}

func (b *Bot) isAdmin(name string) bool { return b.cfg.isAdmin(name) }
