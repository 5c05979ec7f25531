package bancho

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ========================= low-level =========================

// transport — построчный IRC-поток поверх TCP или WebSocket.
type transport interface {
	ReadLine() (string, error)
	WriteLine(line string) error
	Close() error
}

type dialFunc func(ctx context.Context, server string, timeout time.Duration) (transport, error)

// dial выбирает транспорт по схеме адреса. Без схемы — irc://.
func dial(ctx context.Context, server string, timeout time.Duration) (transport, error) {
	raw := server
	if !strings.Contains(raw, "://") {
		raw = "irc://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("bancho: bad server %q: %w", server, err)
	}
	nd := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}

	switch u.Scheme {
	case "irc":
		c, err := nd.DialContext(ctx, "tcp", withPort(u.Host, "6667"))
		if err != nil {
			return nil, err
		}
		return newLineConn(c, timeout), nil
	case "ircs":
		td := &tls.Dialer{NetDialer: nd, Config: &tls.Config{ServerName: u.Hostname()}}
		c, err := td.DialContext(ctx, "tcp", withPort(u.Host, "6697"))
		if err != nil {
			return nil, err
		}
		return newLineConn(c, timeout), nil
	case "ws", "wss":
		d := websocket.Dialer{
			HandshakeTimeout: timeout,
			Subprotocols:     []string{"text.ircv3.net"},
		}
		c, _, err := d.DialContext(ctx, u.String(), nil)
		if err != nil {
			return nil, err
		}
		c.SetReadLimit(1 << 20)
		return &wsConn{conn: c, timeout: timeout}, nil
	}
	return nil, fmt.Errorf("bancho: unsupported scheme %q", u.Scheme)
}

func withPort(host, port string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, port)
}

// lineConn — IRC поверх TCP/TLS, строки через "\r\n".
type lineConn struct {
	conn    net.Conn
	r       *bufio.Reader
	timeout time.Duration
}

func newLineConn(c net.Conn, timeout time.Duration) *lineConn {
	return &lineConn{conn: c, r: bufio.NewReaderSize(c, 16<<10), timeout: timeout}
}

func (c *lineConn) ReadLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *lineConn) WriteLine(line string) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	_, err := c.conn.Write([]byte(line + "\r\n"))
	return err
}

func (c *lineConn) Close() error { return c.conn.Close() }

// wsConn — IRC поверх WebSocket: одно текстовое сообщение может нести
// несколько строк.
type wsConn struct {
	conn    *websocket.Conn
	timeout time.Duration
	pending []string

	wmu sync.Mutex
}

func (c *wsConn) ReadLine() (string, error) {
	for len(c.pending) == 0 {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		for _, l := range strings.Split(string(data), "\n") {
			if l = strings.TrimRight(l, "\r"); l != "" {
				c.pending = append(c.pending, l)
			}
		}
	}
	line := c.pending[0]
	c.pending = c.pending[1:]
	return line, nil
}

func (c *wsConn) WriteLine(line string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	return c.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (c *wsConn) Close() error {
	c.wmu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"),
		time.Now().Add(500*time.Millisecond))
	c.wmu.Unlock()
	return c.conn.Close()
}

// ========================= keep-alive =========================

func (c *Client) startHeartbeat() {
	c.stopHeartbeat()
	stop := make(chan struct{})
	c.hbMu.Lock()
	c.pingStop = stop
	c.hbMu.Unlock()

	go func() {
		t := time.NewTicker(c.cfg.PingInterval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				idle := c.sinceLastActivity()
				if idle > c.cfg.ReadTimeout {
					// сервер молчит — закрываем, readLoop реконнектит
					c.log.Warn("server silent, dropping connection", "idle", idle)
					c.closeConn()
					return
				}
				if idle >= c.cfg.PingInterval {
					_ = c.writeRaw("PING :" + c.cfg.Username)
				}
			}
		}
	}()
}

func (c *Client) stopHeartbeat() {
	c.hbMu.Lock()
	defer c.hbMu.Unlock()
	if c.pingStop != nil {
		close(c.pingStop)
		c.pingStop = nil
	}
}

func (c *Client) touchActivity() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Client) sinceLastActivity() time.Duration {
	n := c.lastActivity.Load()
	if n == 0 {
		return time.Hour
	}
	return time.Since(time.Unix(0, n))
}
