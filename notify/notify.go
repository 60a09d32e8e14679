// Package notify carries user-visible notifications (the console's toasts) from the session,
// gateway and realtime layers to whatever surface displays them.
package notify

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level is the severity a notification is displayed with.
type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// DefaultDuration is how long a notification stays visible when no duration is given.
const DefaultDuration = 3 * time.Second

// Notification is a single transient message for the user.
type Notification struct {
	Level    Level
	Message  string
	Duration time.Duration
}

// Notifier displays notifications. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// Success, Info, Warning and Error build a notification with the default duration.
func Success(message string) Notification { return Notification{Level: LevelSuccess, Message: message} }
func Info(message string) Notification    { return Notification{Level: LevelInfo, Message: message} }
func Warning(message string) Notification { return Notification{Level: LevelWarning, Message: message} }
func Error(message string) Notification   { return Notification{Level: LevelError, Message: message} }

// For returns a copy of n displayed for d.
func (n Notification) For(d time.Duration) Notification {
	n.Duration = d
	return n
}

// LogNotifier writes notifications to the global zerolog logger. It is the notifier used
// by the headless console.
type LogNotifier struct{}

var _ Notifier = LogNotifier{}

func (LogNotifier) Notify(n Notification) {
	if n.Message == "" {
		log.Error().Msg("notification requires a message")
		return
	}
	duration := n.Duration
	if duration <= 0 {
		duration = DefaultDuration
	}
	log.WithLevel(zerologLevel(n.Level)).
		Str("notification", string(n.Level)).
		Dur("duration", duration).
		Msg(n.Message)
}

func zerologLevel(l Level) zerolog.Level {
	switch l {
	case LevelError:
		return zerolog.ErrorLevel
	case LevelWarning:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}
