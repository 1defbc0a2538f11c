// Package menusync replicates menu state from a server to its viewers.
//
// A Registry is an ordered list of slots; the position of a slot is its index on
// the wire, so both peers must register the same slots in the same order.
//
// Wire form of one sync message:
//
//	full:  [n = Len()] [slot 0 full] ... [slot n-1 full]
//	delta: [d < Len()] ([index] [slot delta]) x d
//
// The leading count doubles as the discriminator: a count equal to Len() always
// means full form. The sender never emits a delta that touches every slot; it
// emits the full form instead.
package menusync

import (
	"errors"
	"fmt"
)

// MaxSlots is the largest registry; counts and indices travel as one byte.
const MaxSlots = 255

type Role uint8

const (
	RoleSender Role = iota + 1
	RoleReceiver
)

func (r Role) String() string {
	switch r {
	case RoleSender:
		return "sender"
	case RoleReceiver:
		return "receiver"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Registry is not safe for concurrent use. It belongs to the goroutine that runs
// the server tick (sender) or handles inbound messages (receiver).
type Registry struct {
	role   Role
	slots  []Slot
	sealed bool
}

func NewRegistry(role Role) *Registry {
	return &Registry{role: role}
}

func (r *Registry) Role() Role { return r.role }
func (r *Registry) Len() int   { return len(r.slots) }

// Register appends a slot and returns its wire index.
func (r *Registry) Register(s Slot) (int, error) {
	if r.sealed {
		return 0, ErrSealed
	}
	if len(r.slots) >= MaxSlots {
		return 0, ErrRegistryFull
	}
	r.slots = append(r.slots, s)
	return len(r.slots) - 1, nil
}

// Seal rejects further registration. Encoding and decoding seal implicitly.
func (r *Registry) Seal() { r.sealed = true }

// NeedsSyncing reports whether any slot changed since it was last sent.
func (r *Registry) NeedsSyncing() bool {
	for _, s := range r.slots {
		if s.NeedsSyncing() {
			return true
		}
	}
	return false
}

func (r *Registry) dirty() []int {
	var out []int
	for i, s := range r.slots {
		if s.NeedsSyncing() {
			out = append(out, i)
		}
	}
	return out
}

// SyncFull writes every slot positionally and leaves the registry clean.
func (r *Registry) SyncFull(b *Buffer) error {
	if r.role == RoleReceiver {
		return ErrReceiveOnly
	}
	r.sealed = true
	b.WriteUint8(uint8(len(r.slots)))
	for _, s := range r.slots {
		s.WriteFull(b)
	}
	return nil
}

// SyncDelta writes the dirty slots and returns how many were written.
// Nothing is written when the registry is clean. When every slot is dirty the
// full form is written and full is true.
func (r *Registry) SyncDelta(b *Buffer) (written int, full bool, err error) {
	if r.role == RoleReceiver {
		return 0, false, ErrReceiveOnly
	}
	r.sealed = true
	idx := r.dirty()
	if len(idx) == 0 {
		return 0, false, nil
	}
	if len(idx) == len(r.slots) {
		return len(idx), true, r.SyncFull(b)
	}
	b.WriteUint8(uint8(len(idx)))
	for _, i := range idx {
		b.WriteUint8(uint8(i))
		r.slots[i].WriteDelta(b)
	}
	return len(idx), false, nil
}

// Decode applies one sync message. Nothing is applied unless the whole message
// decodes and is fully consumed.
func (r *Registry) Decode(rd *Reader) (full bool, err error) {
	if r.role == RoleSender {
		return false, ErrSendOnly
	}
	r.sealed = true

	n, err := rd.ReadUint8()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrShapeMismatch, err)
	}
	if int(n) > len(r.slots) {
		return false, fmt.Errorf("%w: count %d, registry has %d slots", ErrShapeMismatch, n, len(r.slots))
	}
	touched := make([]Slot, 0, n)
	defer func() {
		if err != nil {
			for _, s := range touched {
				s.Discard()
			}
		}
	}()

	full = int(n) == len(r.slots)
	if full {
		for i, s := range r.slots {
			touched = append(touched, s)
			if err := s.ReadFull(rd); err != nil {
				return true, slotErr(i, err)
			}
		}
	} else {
		for k := 0; k < int(n); k++ {
			i, err := rd.ReadUint8()
			if err != nil {
				return false, fmt.Errorf("%w: %w", ErrShapeMismatch, err)
			}
			if int(i) >= len(r.slots) {
				return false, fmt.Errorf("%w: %w: index %d, registry has %d slots", ErrShapeMismatch, ErrIndexOutOfRange, i, len(r.slots))
			}
			s := r.slots[i]
			touched = append(touched, s)
			if err := s.ReadDelta(rd); err != nil {
				return false, slotErr(int(i), err)
			}
		}
	}
	if rest := rd.Remaining(); rest != 0 {
		return full, fmt.Errorf("%w: %d trailing bytes", ErrShapeMismatch, rest)
	}
	for _, s := range touched {
		s.Commit()
	}
	return full, nil
}

func slotErr(i int, err error) error {
	if errors.Is(err, ErrShapeMismatch) {
		return fmt.Errorf("slot %d: %w", i, err)
	}
	return fmt.Errorf("%w: slot %d: %w", ErrShapeMismatch, i, err)
}
