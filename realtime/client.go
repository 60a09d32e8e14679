// Package realtime keeps the console's push channel to the backend open for as long as a
// session exists, and routes inbound messages to subscribers.
package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jrsteele09/mailsentry-console/internal/config"
	"github.com/jrsteele09/mailsentry-console/notify"
	"github.com/jrsteele09/mailsentry-console/session"
	"github.com/rs/zerolog/log"
)

// TokenSource supplies the current credential. An empty token means no session.
type TokenSource interface {
	Token() string
}

// Timer is a scheduled callback that can be cancelled. *time.Timer satisfies it.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run once after d.
type AfterFunc func(d time.Duration, f func()) Timer

func defaultAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Client maintains one logical connection per process.
//
//	Disconnected -Connect-> Connecting -open-> Connected -lost-> Reconnecting -backoff-> Connecting
//
// Disconnect returns to Disconnected from any state, cancels a pending retry and stops the
// liveness monitor. At most one monitor runs at a time; Connect starts it when none is running.
// Every automatic reconnection goes through scheduleReconnectLocked, which only runs from Connecting (dial failed)
// or Connected (transport lost) and leaves the client in Reconnecting, so the read loop and the
// liveness monitor cannot both schedule a retry for the same loss.
type Client struct {
	tokens    TokenSource
	dialer    Dialer
	notifier  notify.Notifier
	registry  *Registry
	afterFunc AfterFunc
	nowTime   func() time.Time

	maxAttempts      int
	baseDelay        time.Duration
	livenessPeriod   time.Duration
	handshakeTimeout time.Duration

	mu         sync.Mutex
	state      State
	attempts   int
	conn       Conn
	cancelRead context.CancelFunc
	epoch      uint64
	retry      Timer
	closed     bool

	monitorStop    chan struct{}
	onMonitorStart func()
}

var _ session.Listener = (*Client)(nil)

// Option defines a function type to modify the Client instance.
type Option func(*Client)

// WithAfterFunc replaces the scheduler used for reconnection delays (primarily for testing)
func WithAfterFunc(f AfterFunc) Option {
	return func(c *Client) {
		c.afterFunc = f
	}
}

// WithRegistry shares an existing registry instead of creating one.
func WithRegistry(r *Registry) Option {
	return func(c *Client) {
		c.registry = r
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(c *Client) {
		c.nowTime = nowFunc
	}
}

// New creates a disconnected client. It does not dial until Connect.
func New(cfg config.RealtimeConfig, tokens TokenSource, dialer Dialer, notifier notify.Notifier, options ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("[realtime.New] config is required")
	}
	if tokens == nil {
		return nil, errors.New("[realtime.New] token source is required")
	}
	if dialer == nil {
		return nil, errors.New("[realtime.New] dialer is required")
	}
	if notifier == nil {
		return nil, errors.New("[realtime.New] notifier is required")
	}

	c := &Client{
		tokens:           tokens,
		dialer:           dialer,
		notifier:         notifier,
		afterFunc:        defaultAfterFunc,
		nowTime:          time.Now,
		maxAttempts:      cfg.GetMaxReconnectAttempts(),
		baseDelay:        cfg.GetReconnectBaseDelay(),
		livenessPeriod:   cfg.GetLivenessPeriod(),
		handshakeTimeout: cfg.GetHandshakeTimeout(),
	}
	for _, opt := range options {
		opt(c)
	}
	if c.registry == nil {
		c.registry = NewRegistry()
	}
	if c.livenessPeriod <= 0 {
		return nil, errors.New("[realtime.New] liveness period must be positive")
	}
	return c, nil
}

// Subscribe registers h for messages of type t.
func (c *Client) Subscribe(t MessageType, h Handler) Subscription {
	return c.registry.Subscribe(t, h)
}

// Unsubscribe removes a registration made with Subscribe.
func (c *Client) Unsubscribe(sub Subscription) bool {
	return c.registry.Unsubscribe(sub)
}

// Status returns the current state and reconnection attempt count.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{State: c.state, Attempts: c.attempts}
}

// SessionStarted connects the channel when a session begins.
func (c *Client) SessionStarted(session.Principal) {
	c.Connect()
}

// SessionEnded disconnects the channel when the session ends.
func (c *Client) SessionEnded() {
	c.Disconnect()
}

// Connect opens the channel in the background. It is a no-op while a live transport is open
// or a dial is already in flight, and when there is no credential. An explicit Connect always resets
// the reconnection attempt count, including while a retry dial is in flight.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		log.Warn().Msg("realtime connect after close ignored")
		return
	}
	if c.state == StateConnected && c.conn != nil && c.conn.Alive() {
		log.Debug().Msg("realtime channel already connected")
		return
	}
	if c.state == StateConnecting {
		log.Debug().Msg("realtime connection attempt already in flight")
		c.attempts = 0
		return
	}

	token := c.tokens.Token()
	if token == "" {
		log.Warn().Msg("realtime connect skipped: no credential")
		return
	}

	c.stopRetryLocked()
	c.attempts = 0
	c.startMonitorLocked()
	c.dialLocked(token)
}

// Disconnect closes the channel and cancels any pending reconnection. It is always safe to call.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
}

// Close disconnects for good. The client cannot be reused.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
	c.closed = true
}

func (c *Client) disconnectLocked() {
	c.stopRetryLocked()
	c.stopMonitorLocked()
	c.epoch++
	c.closeConnLocked()
	if c.state != StateDisconnected {
		log.Info().Msg("realtime channel disconnected")
	}
	c.state = StateDisconnected
	c.attempts = 0
}

func (c *Client) dialLocked(token string) {
	c.closeConnLocked()
	c.state = StateConnecting
	c.epoch++
	epoch := c.epoch
	go c.dial(epoch, token)
}

func (c *Client) dial(epoch uint64, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.handshakeTimeout)
	defer cancel()

	log.Debug().Uint64("epoch", epoch).Msg("establishing realtime connection")
	conn, err := c.dialer.Dial(ctx, token)

	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch {
		// Disconnected or superseded while dialing.
		if conn != nil {
			go closeQuietly(conn)
		}
		return
	}
	if err != nil {
		log.Err(err).Int("attempt", c.attempts).Msg("realtime handshake failed")
		c.scheduleReconnectLocked()
		return
	}

	readCtx, cancelRead := context.WithCancel(context.Background())
	c.conn = conn
	c.cancelRead = cancelRead
	c.state = StateConnected
	c.attempts = 0
	log.Info().Msg("realtime channel connected")
	go c.readLoop(readCtx, epoch, conn)
}

func (c *Client) readLoop(ctx context.Context, epoch uint64, conn Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			c.connectionLost(epoch, err)
			return
		}
		// A frame read just before a disconnect or replacement is dropped.
		if !c.isCurrent(epoch) {
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) isCurrent(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return epoch == c.epoch
}

func (c *Client) connectionLost(epoch uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch || c.state != StateConnected {
		return
	}
	log.Warn().Err(err).Msg("realtime connection lost")
	c.closeConnLocked()
	c.scheduleReconnectLocked()
}

// scheduleReconnectLocked is the single place automatic reconnection is triggered.
func (c *Client) scheduleReconnectLocked() {
	if c.attempts >= c.maxAttempts {
		log.Error().Int("attempts", c.attempts).Msg("realtime reconnection limit reached, channel degraded until the next connect")
		c.state = StateDisconnected
		return
	}

	c.attempts++
	delay := Backoff(c.baseDelay, c.attempts)
	c.state = StateReconnecting
	epoch := c.epoch
	log.Info().Int("attempt", c.attempts).Dur("delay", delay).Msg("realtime reconnect scheduled")
	c.retry = c.afterFunc(delay, func() { c.redial(epoch) })
}

func (c *Client) redial(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch || c.state != StateReconnecting {
		return
	}
	c.retry = nil

	// The session may have ended while we waited.
	token := c.tokens.Token()
	if token == "" {
		log.Warn().Msg("realtime reconnect abandoned: credential no longer available")
		c.state = StateDisconnected
		return
	}
	c.dialLocked(token)
}

func (c *Client) stopRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Client) closeConnLocked() {
	if c.cancelRead != nil {
		c.cancelRead()
		c.cancelRead = nil
	}
	if c.conn != nil {
		go closeQuietly(c.conn)
		c.conn = nil
	}
}

func closeQuietly(conn Conn) {
	if err := conn.Close(); err != nil {
		log.Debug().Err(err).Msg("closing realtime transport")
	}
}

func (c *Client) startMonitorLocked() {
	if c.monitorStop != nil {
		return
	}
	stop := make(chan struct{})
	c.monitorStop = stop
	if c.onMonitorStart != nil {
		c.onMonitorStart()
	}
	go c.monitor(stop)
}

func (c *Client) stopMonitorLocked() {
	if c.monitorStop != nil {
		close(c.monitorStop)
		c.monitorStop = nil
	}
}

func (c *Client) monitor(stop <-chan struct{}) {
	ticker := time.NewTicker(c.livenessPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.checkLiveness()
		case <-stop:
			return
		}
	}
}

// checkLiveness corrects a Connected state whose transport has silently gone away.
func (c *Client) checkLiveness() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected {
		return
	}
	if c.conn != nil && c.conn.Alive() {
		return
	}
	log.Warn().Msg("realtime transport reports disconnected, reconnecting")
	c.closeConnLocked()
	c.scheduleReconnectLocked()
}

func (c *Client) handleFrame(raw []byte) {
	frame, err := DecodeFrame(raw)
	if err != nil {
		log.Warn().Err(err).Msg("dropping undecodable realtime frame")
		return
	}

	if frame.Type == TypeConnected {
		log.Info().Str("data", string(frame.Data)).Msg("realtime handshake acknowledged")
	}

	msg, err := frame.Message(c.nowTime())
	if err != nil {
		log.Warn().Err(err).Str("type", string(frame.Type)).Msg("dropping malformed realtime frame")
		return
	}
	c.deliver(msg)
}

func (c *Client) deliver(msg Message) {
	if n, ok := builtinNotice(msg); ok {
		c.notifier.Notify(n)
	}
	c.registry.Dispatch(msg)
}
