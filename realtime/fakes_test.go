package realtime_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jrsteele09/mailsentry-console/notify"
	"github.com/jrsteele09/mailsentry-console/realtime"
)

var errDialRefused = errors.New("dial refused")

// fakeTokens is a settable credential source.
type fakeTokens struct {
	token atomic.Value
}

func newFakeTokens(token string) *fakeTokens {
	t := &fakeTokens{}
	t.token.Store(token)
	return t
}

func (t *fakeTokens) Token() string    { return t.token.Load().(string) }
func (t *fakeTokens) Set(token string) { t.token.Store(token) }

// fakeConn is a transport driven by the test.
type fakeConn struct {
	frames    chan []byte
	lost      chan error
	closed    chan struct{}
	closeOnce sync.Once
	alive     atomic.Bool
}

func newFakeConn() *fakeConn {
	c := &fakeConn{
		frames: make(chan []byte, 16),
		lost:   make(chan error, 1),
		closed: make(chan struct{}),
	}
	c.alive.Store(true)
	return c
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case err := <-c.lost:
		c.alive.Store(false)
		return nil, err
	case <-c.closed:
		return nil, errors.New("closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Alive() bool { return c.alive.Load() }

func (c *fakeConn) Close() error {
	c.alive.Store(false)
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// push queues a frame for the client's read loop.
func (c *fakeConn) push(frame string) { c.frames <- []byte(frame) }

// lose simulates the server dropping the connection.
func (c *fakeConn) lose() { c.lost <- errors.New("connection reset by peer") }

// fakeDialer hands out fakeConns, or fails while failing is set. When gate is non-nil each
// dial waits for a value on it.
type fakeDialer struct {
	mu      sync.Mutex
	failing bool
	gate    chan struct{}
	tokens  []string
	conns   []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, token string) (realtime.Conn, error) {
	d.mu.Lock()
	d.tokens = append(d.tokens, token)
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failing {
		return nil, errDialRefused
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

// SetGate makes subsequent dials wait on gate. Closing it releases them all.
func (d *fakeDialer) SetGate(gate chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gate = gate
}

func (d *fakeDialer) SetFailing(failing bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failing = failing
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tokens)
}

func (d *fakeDialer) Tokens() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.tokens...)
}

func (d *fakeDialer) Conns() []*fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*fakeConn, len(d.conns))
	copy(out, d.conns)
	return out
}

func (d *fakeDialer) LastConn() *fakeConn {
	conns := d.Conns()
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

type fakeTimer struct {
	stopped atomic.Bool
}

func (t *fakeTimer) Stop() bool {
	return !t.stopped.Swap(true)
}

// fakeScheduler records reconnection delays instead of sleeping. Fire runs a scheduled
// callback on demand.
type fakeScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
	funcs  []func()
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) realtime.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{}
	s.delays = append(s.delays, d)
	s.funcs = append(s.funcs, f)
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}

func (s *fakeScheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delays)
}

// Fire runs the i-th scheduled callback regardless of whether it was stopped, the way a timer
// that already fired would race with Stop.
func (s *fakeScheduler) Fire(i int) {
	s.mu.Lock()
	f := s.funcs[i]
	s.mu.Unlock()
	f()
}

func (s *fakeScheduler) Stopped(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[i].stopped.Load()
}

// heldFrameConn hands out one frame only once released, even if the connection was closed in
// the meantime, like a frame already off the wire when the channel is torn down.
type heldFrameConn struct {
	frame   []byte
	reading chan struct{}
	release chan struct{}
	served  atomic.Bool
}

func newHeldFrameConn(frame string) *heldFrameConn {
	return &heldFrameConn{
		frame:   []byte(frame),
		reading: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (c *heldFrameConn) Read(ctx context.Context) ([]byte, error) {
	if c.served.CompareAndSwap(false, true) {
		close(c.reading)
		<-c.release
		return c.frame, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *heldFrameConn) Alive() bool  { return true }
func (c *heldFrameConn) Close() error { return nil }

var discardNotifier = notify.NotifierFunc(func(notify.Notification) {})
