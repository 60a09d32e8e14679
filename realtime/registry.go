package realtime

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Handler receives messages of the type it subscribed to. A returned error is logged and does
// not affect other handlers.
type Handler func(Message) error

// Subscription identifies one registered handler.
type Subscription struct {
	Type MessageType
	id   uuid.UUID
}

type registration struct {
	id      uuid.UUID
	handler Handler
}

// Registry maps message types to their ordered handler lists. The same function may be
// registered more than once; each registration is invoked.
type Registry struct {
	mu       sync.RWMutex
	handlers map[MessageType][]registration
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[MessageType][]registration),
	}
}

// Subscribe appends h to the handlers for t.
func (r *Registry) Subscribe(t MessageType, h Handler) Subscription {
	sub := Subscription{Type: t, id: uuid.New()}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = append(r.handlers[t], registration{id: sub.id, handler: h})
	return sub
}

// Unsubscribe removes one registration. It reports whether the subscription was found.
func (r *Registry) Unsubscribe(sub Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.handlers[sub.Type]
	for i, reg := range regs {
		if reg.id != sub.id {
			continue
		}
		remaining := make([]registration, 0, len(regs)-1)
		remaining = append(remaining, regs[:i]...)
		remaining = append(remaining, regs[i+1:]...)
		if len(remaining) == 0 {
			delete(r.handlers, sub.Type)
		} else {
			r.handlers[sub.Type] = remaining
		}
		return true
	}
	return false
}

// Len returns the number of handlers registered for t.
func (r *Registry) Len(t MessageType) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[t])
}

// Dispatch invokes every handler for m.Type synchronously in registration order and returns how
// many ran. Handlers may subscribe or unsubscribe while running; the change applies to the next
// dispatch.
func (r *Registry) Dispatch(m Message) int {
	r.mu.RLock()
	regs := r.handlers[m.Type]
	r.mu.RUnlock()

	if len(regs) == 0 {
		log.Debug().Str("type", string(m.Type)).Msg("no subscribers, message dropped")
		return 0
	}

	for i, reg := range regs {
		if err := invoke(reg.handler, m); err != nil {
			log.Err(err).Str("type", string(m.Type)).Int("handler", i).Msg("realtime handler failed")
		}
	}
	return len(regs)
}

func invoke(h Handler, m Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(m)
}
