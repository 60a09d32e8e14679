package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jrsteele09/mailsentry-console/internal/config"
)

const defaultPollInterval = time.Second

var errPollingClosed = errors.New("polling transport closed")

// PollingTransport is the long-polling fallback. Each poll is a GET that the server may hold
// open until frames are available; the response body is a JSON array of frames.
type PollingTransport struct {
	url       string
	client    *http.Client
	interval  time.Duration
	readLimit int64
}

var _ Dialer = (*PollingTransport)(nil)

// PollingOption defines a function type to modify the PollingTransport instance.
type PollingOption func(*PollingTransport)

// WithPollHTTPClient replaces the HTTP client used for polls.
func WithPollHTTPClient(hc *http.Client) PollingOption {
	return func(t *PollingTransport) {
		t.client = hc
	}
}

// WithPollInterval sets the pause after an empty poll.
func WithPollInterval(d time.Duration) PollingOption {
	return func(t *PollingTransport) {
		t.interval = d
	}
}

// NewPollingTransport creates a dialer for an http:// or https:// long-polling endpoint.
func NewPollingTransport(rawURL string, cfg config.RealtimeConfig, options ...PollingOption) (*PollingTransport, error) {
	if err := validateURL(rawURL, "http", "https"); err != nil {
		return nil, fmt.Errorf("[NewPollingTransport] %w", err)
	}
	t := &PollingTransport{
		url:       rawURL,
		client:    &http.Client{},
		interval:  defaultPollInterval,
		readLimit: cfg.GetReadLimit(),
	}
	for _, opt := range options {
		opt(t)
	}
	if t.readLimit <= 0 {
		t.readLimit = 1 << 20
	}
	return t, nil
}

// Dial performs the first poll as the handshake; a rejected credential fails the dial.
func (t *PollingTransport) Dial(ctx context.Context, token string) (Conn, error) {
	target, err := withToken(t.url, token)
	if err != nil {
		return nil, err
	}

	closed, cancel := context.WithCancel(context.Background())
	c := &pollConn{
		transport: t,
		target:    target,
		token:     token,
		closed:    closed,
		cancel:    cancel,
	}
	frames, err := c.poll(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("polling handshake: %w", err)
	}
	c.pending = frames
	c.alive.Store(true)
	return c, nil
}

type pollConn struct {
	transport *PollingTransport
	target    string
	token     string

	closed context.Context
	cancel context.CancelFunc
	alive  atomic.Bool

	mu      sync.Mutex
	pending []json.RawMessage
}

func (c *pollConn) Read(ctx context.Context) ([]byte, error) {
	for {
		c.mu.Lock()
		if len(c.pending) > 0 {
			next := c.pending[0]
			c.pending = c.pending[1:]
			c.mu.Unlock()
			return next, nil
		}
		c.mu.Unlock()

		if c.closed.Err() != nil {
			return nil, errPollingClosed
		}

		frames, err := c.poll(ctx)
		if err != nil {
			c.alive.Store(false)
			if c.closed.Err() != nil {
				return nil, errPollingClosed
			}
			return nil, err
		}
		if len(frames) == 0 {
			if err := c.pause(ctx); err != nil {
				c.alive.Store(false)
				return nil, err
			}
			continue
		}

		c.mu.Lock()
		c.pending = append(c.pending, frames...)
		c.mu.Unlock()
	}
}

func (c *pollConn) Alive() bool {
	return c.alive.Load()
}

func (c *pollConn) Close() error {
	c.alive.Store(false)
	c.cancel()
	return nil
}

func (c *pollConn) pause(ctx context.Context) error {
	timer := time.NewTimer(c.transport.interval)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed.Done():
		return errPollingClosed
	}
}

func (c *pollConn) poll(ctx context.Context) ([]json.RawMessage, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.closed, cancel)
	defer stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.transport.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("poll status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.transport.readLimit))
	if err != nil {
		return nil, err
	}
	var frames []json.RawMessage
	if err := json.Unmarshal(body, &frames); err != nil {
		return nil, fmt.Errorf("bad poll body: %w", err)
	}
	return frames, nil
}
