package endpoint

import (
	"fmt"
	"log"

	"machinesync.dev/internal/menusync"
	"machinesync.dev/internal/metrics"
	"machinesync.dev/internal/syncproto"
)

// Receiver maps routing keys to the registries of open menus.
type Receiver struct {
	ch    *syncproto.Channel
	log   *log.Logger
	debug bool

	menus map[uint64]*menusync.Registry
}

func NewReceiver(ch *syncproto.Channel, logger *log.Logger) *Receiver {
	return &Receiver{ch: ch, log: discardLogger(logger), menus: map[uint64]*menusync.Registry{}}
}

// SetDebug logs every dropped stale frame.
func (r *Receiver) SetDebug(v bool) { r.debug = v }

func (r *Receiver) Open(key uint64, reg *menusync.Registry) error {
	if reg.Role() != menusync.RoleReceiver {
		return fmt.Errorf("%w: %s", ErrWrongRole, reg.Role())
	}
	if _, ok := r.menus[key]; ok {
		return fmt.Errorf("%w: %d", ErrKeyInUse, key)
	}
	reg.Seal()
	r.menus[key] = reg
	return nil
}

func (r *Receiver) Close(key uint64) { delete(r.menus, key) }

func (r *Receiver) Len() int { return len(r.menus) }

// Attach routes this receiver's channel through router.
func (r *Receiver) Attach(router *syncproto.Router) error {
	return router.Handle(r.ch, r.Handle)
}

// Handle decodes payload into the registry open under key. A key with no open
// menu is a close/sync race and is dropped without error.
func (r *Receiver) Handle(key uint64, payload []byte) error {
	reg, ok := r.menus[key]
	if !ok {
		metrics.StaleFrames.WithLabelValues(r.ch.Name()).Inc()
		if r.debug {
			r.log.Printf("%s: drop %d bytes for closed key %d", r.ch, len(payload), key)
		}
		return nil
	}
	if _, err := reg.Decode(menusync.NewReader(payload)); err != nil {
		metrics.DecodeErrors.WithLabelValues(r.ch.Name()).Inc()
		return fmt.Errorf("key %d: %w", key, err)
	}
	return nil
}
