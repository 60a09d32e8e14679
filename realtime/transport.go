package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Conn is an open transport. It is owned by the Client; nothing else reads from or closes it.
type Conn interface {
	// Read blocks until the next frame arrives or the transport fails
	Read(ctx context.Context) ([]byte, error)
	// Alive reports whether the transport still considers itself connected
	Alive() bool
	Close() error
}

// Dialer opens a transport, presenting token in the handshake.
type Dialer interface {
	Dial(ctx context.Context, token string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, token string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, token string) (Conn, error) {
	return f(ctx, token)
}

// Fallback tries each dialer in preference order and returns the first transport that opens.
// When ctx carries a deadline, each dialer gets an equal share of the time that is left, so a
// hanging first transport cannot starve the ones after it.
type Fallback []Dialer

func (f Fallback) Dial(ctx context.Context, token string) (Conn, error) {
	if len(f) == 0 {
		return nil, errors.New("no transports configured")
	}
	var errs []error
	for i, d := range f {
		conn, err := f.dialOne(ctx, d, len(f)-i, token)
		if err == nil {
			return conn, nil
		}
		errs = append(errs, fmt.Errorf("transport %d: %w", i, err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}

func (f Fallback) dialOne(ctx context.Context, d Dialer, remaining int, token string) (Conn, error) {
	deadline, ok := ctx.Deadline()
	if !ok || remaining <= 1 {
		return d.Dial(ctx, token)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, time.Until(deadline)/time.Duration(remaining))
	defer cancel()
	return d.Dial(attemptCtx, token)
}
