// Package results отправляет итоги лобби во внутренний сервис:
// POST <base>/api/db/pve или /api/db/pvp с заголовком Authorization.
package results

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/EgorLis/packbot/internal/lobby"
)

type Config struct {
	BaseURL string
	// Auth — значение заголовка Authorization как есть.
	Auth     string
	Attempts int
	Backoff  time.Duration
	HTTP     *http.Client
	Logger   *slog.Logger
}

type Client struct {
	cfg Config
	log *slog.Logger
}

func NewClient(cfg Config) *Client {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.HTTP == nil {
		cfg.HTTP = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, log: cfg.Logger.With("component", "results")}
}

func endpoint(k lobby.Kind) string {
	if k == lobby.KindDuel {
		return "/api/db/pvp"
	}
	return "/api/db/pve"
}

// Submit отправляет итог. 5xx и сетевые ошибки повторяются с
// удвоением паузы, 4xx — нет.
func (c *Client) Submit(ctx context.Context, r lobby.Result) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("results: encode: %w", err)
	}
	url := c.cfg.BaseURL + endpoint(r.Kind)

	wait := c.cfg.Backoff
	for attempt := 1; ; attempt++ {
		retry, err := c.post(ctx, url, body)
		if err == nil {
			c.log.Info("result submitted", "room", r.RoomID, "kind", string(r.Kind))
			return nil
		}
		if !retry || attempt >= c.cfg.Attempts {
			return fmt.Errorf("results: submit room %d: %w", r.RoomID, err)
		}
		c.log.Warn("submit failed, retrying", "room", r.RoomID, "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
}

func (c *Client) post(ctx context.Context, url string, body []byte) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Auth != "" {
		req.Header.Set("Authorization", c.cfg.Auth)
	}
	resp, err := c.cfg.HTTP.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	switch {
	case resp.StatusCode/100 == 2:
		return false, nil
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("status %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("status %d", resp.StatusCode)
	}
}
