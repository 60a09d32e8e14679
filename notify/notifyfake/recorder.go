package notifyfake

import (
	"sync"

	"github.com/jrsteele09/mailsentry-console/notify"
)

// Recorder is a notify.Notifier that keeps every notification for later inspection.
type Recorder struct {
	mu            sync.Mutex
	notifications []notify.Notification
}

var _ notify.Notifier = (*Recorder)(nil)

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Notify(n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
}

// All returns a copy of the recorded notifications in arrival order.
func (r *Recorder) All() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Notification, len(r.notifications))
	copy(out, r.notifications)
	return out
}

// Last returns the most recent notification, or false if none were recorded.
func (r *Recorder) Last() (notify.Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notifications) == 0 {
		return notify.Notification{}, false
	}
	return r.notifications[len(r.notifications)-1], true
}

// Levels returns the level of each recorded notification in arrival order.
func (r *Recorder) Levels() []notify.Level {
	all := r.All()
	levels := make([]notify.Level, 0, len(all))
	for _, n := range all {
		levels = append(levels, n.Level)
	}
	return levels
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = nil
}
