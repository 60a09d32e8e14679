package realtime

import (
	"fmt"
	"time"
)

// State is the connection state of the channel.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Status is a point in time view of the channel.
type Status struct {
	State    State
	Attempts int
}

// Connected reports whether the channel currently has an open transport.
func (s Status) Connected() bool {
	return s.State == StateConnected
}

// Backoff returns the delay before reconnection attempt n (1-indexed): base * 2^(n-1).
// There is no upper cap; the attempt ceiling bounds it.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		return base
	}
	return base << (attempt - 1)
}
