package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/jrsteele09/mailsentry-console/internal/config"
)

const tokenParam = "token"

// WebSocketTransport is the native duplex transport and the preferred one.
type WebSocketTransport struct {
	url       string
	readLimit int64
}

var _ Dialer = (*WebSocketTransport)(nil)

// NewWebSocketTransport creates a dialer for a ws:// or wss:// endpoint.
func NewWebSocketTransport(rawURL string, cfg config.RealtimeConfig) (*WebSocketTransport, error) {
	if err := validateURL(rawURL, "ws", "wss"); err != nil {
		return nil, fmt.Errorf("[NewWebSocketTransport] %w", err)
	}
	return &WebSocketTransport{
		url:       rawURL,
		readLimit: cfg.GetReadLimit(),
	}, nil
}

// Dial performs the handshake. The credential travels both as a query parameter and as a
// bearer Authorization header, so either style of server-side check accepts it.
func (t *WebSocketTransport) Dial(ctx context.Context, token string) (Conn, error) {
	target, err := withToken(t.url, token)
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPHeader: h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	if t.readLimit > 0 {
		conn.SetReadLimit(t.readLimit)
	}
	c := &wsConn{conn: conn}
	c.alive.Store(true)
	return c, nil
}

type wsConn struct {
	conn  *websocket.Conn
	alive atomic.Bool
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		c.alive.Store(false)
		return nil, err
	}
	return data, nil
}

func (c *wsConn) Alive() bool {
	return c.alive.Load()
}

func (c *wsConn) Close() error {
	c.alive.Store(false)
	return c.conn.Close(websocket.StatusNormalClosure, "client disconnect")
}

func withToken(rawURL, token string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(tokenParam, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	ok := false
	for _, s := range schemes {
		if u.Scheme == s {
			ok = true
		}
	}
	if !ok {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}
