// Package osuapi — клиент osu! API v1 для поиска игрока по нику.
// Ответы кешируются: ник в IRC не несёт id, а lookup нужен на каждую
// команду.
package osuapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/EgorLis/packbot/internal/osu"
)

const DefaultServer = "https://osu.ppy.sh"

type Config struct {
	Server string
	Key    string
	// CacheTTL — сколько помнить найденного игрока; 0 — час.
	CacheTTL time.Duration
	HTTP     *http.Client
	Logger   *slog.Logger
}

type cached struct {
	user osu.User
	at   time.Time
}

type Client struct {
	http   *http.Client
	server string
	key    string
	ttl    time.Duration
	log    *slog.Logger

	mu    sync.RWMutex
	cache map[string]cached // нормализованный ник -> игрок
}

// apiUser — элемент ответа /api/get_user, числа приходят строками.
type apiUser struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

func NewClient(cfg Config) *Client {
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.HTTP == nil {
		cfg.HTTP = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		http:   cfg.HTTP,
		server: cfg.Server,
		key:    cfg.Key,
		ttl:    cfg.CacheTTL,
		log:    cfg.Logger.With("component", "osuapi"),
		cache:  make(map[string]cached),
	}
}

// User ищет игрока по нику. found=false — такого игрока нет.
func (c *Client) User(ctx context.Context, name string) (u osu.User, found bool, err error) {
	key := osu.NormalizeName(name)
	c.mu.RLock()
	hit, ok := c.cache[key]
	c.mu.RUnlock()
	if ok && time.Since(hit.at) < c.ttl {
		return hit.user, true, nil
	}

	q := url.Values{}
	q.Set("k", c.key)
	q.Set("u", name)
	q.Set("type", "string")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.server+"/api/get_user?"+q.Encode(), nil)
	if err != nil {
		return osu.User{}, false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return osu.User{}, false, fmt.Errorf("osuapi: get_user %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return osu.User{}, false, fmt.Errorf("osuapi: get_user %s: status %d", name, resp.StatusCode)
	}

	var users []apiUser
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return osu.User{}, false, fmt.Errorf("osuapi: decode get_user: %w", err)
	}
	if len(users) == 0 {
		return osu.User{}, false, nil
	}
	id, err := strconv.Atoi(users[0].UserID)
	if err != nil {
		return osu.User{}, false, fmt.Errorf("osuapi: bad user_id %q", users[0].UserID)
	}
	u = osu.User{ID: id, Name: users[0].Username}

	c.mu.Lock()
	c.cache[key] = cached{user: u, at: time.Now()}
	c.mu.Unlock()
	c.log.Debug("user resolved", "name", name, "id", id)
	return u, true, nil
}

// Resolve дополняет игрока id, если он известен API. Ошибки lookup
// не фатальны: возвращается исходный игрок.
func (c *Client) Resolve(ctx context.Context, u osu.User) osu.User {
	if u.ID != 0 || u.Name == "" {
		return u
	}
	found, ok, err := c.User(ctx, u.Name)
	if err != nil {
		c.log.Warn("user lookup failed", "name", u.Name, "err", err)
		return u
	}
	if !ok {
		return u
	}
	return found
}
