package bancho

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/EgorLis/packbot/internal/osu"
)

var (
	// ErrNotConnected — нет живого соединения с Bancho.
	ErrNotConnected = errors.New("bancho: not connected")
	// ErrClosed — комната уже закрыта.
	ErrClosed = errors.New("bancho: lobby closed")
	// ErrAuth — сервер отверг ник или IRC-пароль.
	ErrAuth = errors.New("bancho: authentication failed")
)

type Config struct {
	// Server: "irc.ppy.sh:6667", "ircs://host:6697", "wss://host/path".
	Server   string
	Username string
	Password string

	// SendInterval — минимальная пауза между исходящими строками.
	SendInterval   time.Duration
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Server == "" {
		c.Server = "irc.ppy.sh:6667"
	}
	if c.PingInterval <= 0 {
		c.PingInterval = time.Minute
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 3 * time.Minute
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 20 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c
}

// makeWaiter ждёт ответа BanchoBot на "!mp make".
type makeWaiter struct {
	name string
	id   chan int
}

type Client struct {
	cfg  Config
	log  *slog.Logger
	dial dialFunc

	mu      sync.Mutex
	conn    transport
	lobbies map[string]*Lobby // канал -> комната
	makes   []*makeWaiter

	closed atomic.Bool

	wmu      sync.Mutex // сериализует запись и держит SendInterval
	lastSend time.Time

	hbMu         sync.Mutex
	pingStop     chan struct{}
	lastActivity atomic.Int64

	// "События" (аналог EventEmitter)
	OnConnecting   func()
	OnConnected    func()
	OnDisconnected func()
	OnError        func(error)
	// OnPM — личное сообщение боту (кроме ответов BanchoBot на !mp make).
	OnPM func(osu.Message)
}

func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:     cfg,
		log:     cfg.Logger.With("component", "bancho"),
		dial:    dial,
		lobbies: make(map[string]*Lobby),
	}
}

// Connect — подключается, проходит регистрацию (PASS/NICK/USER) и
// запускает readLoop. Отмена ctx закрывает соединение.
func (c *Client) Connect(ctx context.Context) error {
	if c.OnConnecting != nil {
		c.OnConnecting()
	}
	conn, err := c.dialAndRegister(ctx)
	if err != nil {
		return err
	}
	c.closed.Store(false)
	c.setConn(conn)
	c.startHeartbeat()
	if c.OnConnected != nil {
		c.OnConnected()
	}

	go c.readLoop(ctx)
	return nil
}

func (c *Client) Disconnect() {
	if c.closed.Swap(true) {
		return
	}
	_ = c.writeRaw("QUIT")
	c.closeConn()
	c.failMakes()
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.closed.Load()
}

// SendPM отправляет личное сообщение игроку.
func (c *Client) SendPM(u osu.User, text string) error {
	nick := ircNick(u.Name)
	if nick == "" {
		return fmt.Errorf("bancho: pm to user %d without a name", u.ID)
	}
	return c.privmsg(nick, text)
}

// SendMessage — то же, что SendPM (matchmaker.Notifier).
func (c *Client) SendMessage(u osu.User, text string) error {
	return c.SendPM(u, text)
}

// CreateLobby создаёт комнату через "!mp make" и ждёт ответа BanchoBot.
func (c *Client) CreateLobby(ctx context.Context, name string) (*Lobby, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}
	w := &makeWaiter{name: name, id: make(chan int, 1)}
	c.mu.Lock()
	c.makes = append(c.makes, w)
	c.mu.Unlock()

	if err := c.privmsg(banchoBot, "!mp make "+name); err != nil {
		c.dropMake(w)
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	select {
	case id, ok := <-w.id:
		if !ok {
			return nil, ErrNotConnected
		}
		l := newLobby(c, id, name)
		c.mu.Lock()
		c.lobbies[l.channel] = l
		c.mu.Unlock()
		if err := c.writeRaw("JOIN " + l.channel); err != nil {
			c.log.Warn("join room channel", "channel", l.channel, "err", err)
		}
		c.log.Info("room created", "room", id, "name", name)
		return l, nil
	case <-ctx.Done():
		c.dropMake(w)
		return nil, fmt.Errorf("bancho: create room %q: %w", name, ctx.Err())
	}
}

// Lobbies — число открытых комнат клиента.
func (c *Client) Lobbies() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lobbies)
}

// ========================= internals =========================

func (c *Client) dialAndRegister(ctx context.Context) (transport, error) {
	conn, err := c.dial(ctx, c.cfg.Server, c.cfg.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("bancho: dial %s: %w", c.cfg.Server, err)
	}
	c.touchActivity()

	for _, line := range []string{
		"PASS " + c.cfg.Password,
		"NICK " + c.cfg.Username,
		"USER " + c.cfg.Username + " 0 * :" + c.cfg.Username,
	} {
		if err := conn.WriteLine(line); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	// ждём 001 до первой ошибки; ReadLine не знает про ctx
	type result struct{ err error }
	done := make(chan result, 1)
	go func() {
		for {
			line, err := conn.ReadLine()
			if err != nil {
				done <- result{err}
				return
			}
			m, ok := parseLine(line)
			if !ok {
				continue
			}
			switch m.Command {
			case "PING":
				_ = conn.WriteLine("PONG :" + m.Trailing())
			case "001":
				done <- result{}
				return
			case "464", "433", "432":
				done <- result{fmt.Errorf("%w: %s", ErrAuth, m.Trailing())}
				return
			}
		}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			_ = conn.Close()
			return nil, r.err
		}
		c.touchActivity()
		return conn, nil
	case <-ctx.Done():
		_ = conn.Close()
		return nil, ctx.Err()
	case <-time.After(c.cfg.RequestTimeout):
		_ = conn.Close()
		return nil, fmt.Errorf("bancho: timeout waiting for welcome")
	}
}

func (c *Client) setConn(t transport) {
	c.mu.Lock()
	c.conn = t
	c.mu.Unlock()
}

func (c *Client) currentConn() transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// безопасно закрыть текущее соединение
func (c *Client) closeConn() {
	c.stopHeartbeat()
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Client) privmsg(target, text string) error {
	c.log.Debug("say", "to", target, "text", text)
	return c.writeRaw("PRIVMSG " + target + " :" + text)
}

// writeRaw пишет строку, выдерживая SendInterval.
func (c *Client) writeRaw(line string) error {
	conn := c.currentConn()
	if conn == nil {
		return ErrNotConnected
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.cfg.SendInterval > 0 {
		if wait := c.cfg.SendInterval - time.Since(c.lastSend); wait > 0 {
			time.Sleep(wait)
		}
	}
	c.lastSend = time.Now()
	return conn.WriteLine(line)
}

func (c *Client) dropMake(w *makeWaiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, x := range c.makes {
		if x == w {
			c.makes = append(c.makes[:i], c.makes[i+1:]...)
			return
		}
	}
}

// resolveMake отдаёт номер комнаты ожидающему с тем же названием, иначе
// самому старому.
func (c *Client) resolveMake(id int, name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.makes) == 0 {
		return false
	}
	pick := 0
	for i, w := range c.makes {
		if w.name == name {
			pick = i
			break
		}
	}
	w := c.makes[pick]
	c.makes = append(c.makes[:pick], c.makes[pick+1:]...)
	w.id <- id
	return true
}

// пометить все ожидающие "!mp make" ошибкой при закрытии
func (c *Client) failMakes() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.makes {
		close(w.id)
	}
	c.makes = nil
}

func (c *Client) forget(l *Lobby) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lobbies[l.channel] == l {
		delete(c.lobbies, l.channel)
	}
}

func (c *Client) lobby(channel string) *Lobby {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lobbies[channel]
}

func (c *Client) channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.lobbies))
	for ch := range c.lobbies {
		out = append(out, ch)
	}
	return out
}

func (c *Client) emitError(err error) {
	c.log.Warn("bancho error", "err", err)
	if c.OnError != nil {
		c.OnError(err)
	}
}
