package syncproto

import (
	"fmt"
	"sync"
)

// Handler consumes the payload of one frame.
type Handler func(key uint64, payload []byte) error

type route struct {
	ch *Channel
	h  Handler
}

// Router dispatches frames arriving at a viewer by channel id.
type Router struct {
	mu     sync.RWMutex
	routes map[ChannelID]route
}

func NewRouter() *Router {
	return &Router{routes: map[ChannelID]route{}}
}

// Handle registers h for traffic on c. Only clientbound channels reach a viewer.
func (r *Router) Handle(c *Channel, h Handler) error {
	if !c.Clientbound() {
		return fmt.Errorf("%w: %s is not clientbound", ErrWrongDirection, c)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.routes[c.id]; ok {
		return fmt.Errorf("%w: %d held by %s", ErrDuplicate, c.id, prev.ch.name)
	}
	r.routes[c.id] = route{ch: c, h: h}
	return nil
}

// Dispatch decodes one frame and hands it to its channel's handler.
func (r *Router) Dispatch(p []byte) error {
	f, err := DecodeFrame(p)
	if err != nil {
		return err
	}
	r.mu.RLock()
	rt, ok := r.routes[f.Channel]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownChannel, f.Channel)
	}
	if err := rt.h(f.Key, f.Payload); err != nil {
		return fmt.Errorf("%s: %w", rt.ch, err)
	}
	return nil
}
