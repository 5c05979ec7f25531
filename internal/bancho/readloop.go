package bancho

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/EgorLis/packbot/internal/osu"
)

const maxBackoff = 30 * time.Second

func (c *Client) readLoop(ctx context.Context) {
	defer func() {
		c.closed.Store(true)
		c.closeConn()
		c.failMakes()
		if c.OnDisconnected != nil {
			c.OnDisconnected()
		}
	}()

	// закрыть по отмене контекста
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			c.closed.Store(true)
			c.closeConn()
		case <-stop:
		}
	}()

	for {
		conn := c.currentConn()
		var err error
		if conn == nil {
			err = errors.New("connection is nil")
		} else {
			var line string
			line, err = conn.ReadLine()
			if err == nil {
				c.touchActivity()
				c.handleLine(line)
				continue
			}
		}

		if c.closed.Load() {
			return
		}
		c.emitError(err)

		// закрываем и фейлим ожидающие
		c.closeConn()
		c.failMakes()
		if !c.reconnect(ctx) {
			return
		}
	}
}

// reconnect подключается заново с экспоненциальной задержкой и
// перезаходит в каналы открытых комнат.
func (c *Client) reconnect(ctx context.Context) bool {
	backoff := time.Second
	for !c.closed.Load() {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		if c.OnConnecting != nil {
			c.OnConnecting()
		}
		conn, err := c.dialAndRegister(ctx)
		if err != nil {
			c.emitError(fmt.Errorf("reconnect failed (wait %v): %w", backoff, err))
			backoff = nextBackoff(backoff)
			continue
		}
		c.setConn(conn)
		c.startHeartbeat()
		for _, ch := range c.channels() {
			if err := c.writeRaw("JOIN " + ch); err != nil {
				c.log.Warn("rejoin", "channel", ch, "err", err)
			}
		}
		c.log.Info("reconnected")
		if c.OnConnected != nil {
			c.OnConnected()
		}
		return true
	}
	return false
}

func nextBackoff(d time.Duration) time.Duration {
	return min(d*2, maxBackoff)
}

func (c *Client) handleLine(line string) {
	m, ok := parseLine(line)
	if !ok {
		return
	}
	switch m.Command {
	case "PING":
		_ = c.writeRaw("PONG :" + m.Trailing())

	case "PRIVMSG":
		target, text, from := m.Param(0), m.Trailing(), m.Nick()
		if strings.HasPrefix(target, "#") {
			l := c.lobby(target)
			if l == nil {
				return
			}
			if from == banchoBot {
				l.handleBancho(text)
			} else {
				l.handleChat(osu.Message{User: osu.User{Name: from}, Content: text})
			}
			return
		}
		if from == banchoBot {
			if id, name, ok := parseCreated(text); ok && c.resolveMake(id, name) {
				return
			}
		}
		if c.OnPM != nil {
			c.OnPM(osu.Message{User: osu.User{Name: from}, Content: text})
		}

	case "403":
		// "No such channel": комнату закрыли снаружи
		if l := c.lobby(m.Param(1)); l != nil {
			c.log.Warn("room channel is gone", "channel", m.Param(1))
			l.markClosed()
		}
	}
}
