package machine

import (
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"

	"machinesync.dev/internal/ioface"
	"machinesync.dev/internal/menusync"
)

const maxStatusText = 255

// Bind registers m's menu slots. Sender and viewer call it with machines of the
// same kind, which yields the same slot order on both sides:
//
//	items..., slot locks, fluid, energy, capacity, io config, security, redstone, state
//
// followed by progress and max progress for melters.
func Bind(reg *menusync.Registry, m *Machine) error {
	slots := make([]menusync.Slot, 0, len(m.Items)+10)
	for i := range m.Items {
		slots = append(slots, menusync.Varint(menusync.Field(&m.Items[i])))
	}
	slots = append(slots, lockSlot(reg.Role(), m.Locked))
	slots = append(slots,
		menusync.Varint(menusync.Field(&m.Fluid)),
		menusync.Int64(menusync.Field(&m.Energy)),
		menusync.Int64(menusync.Field(&m.Capacity)),
		IOConfigSlot(menusync.Field(&m.IO)),
		SecuritySlot(menusync.Field(&m.Security)),
		menusync.Enum(menusync.Field(&m.Redstone), int(redstoneModeCount)),
		StateSlot(menusync.Field(&m.State)),
	)
	if m.Kind == KindMelter {
		slots = append(slots,
			menusync.Int32(menusync.Field(&m.Progress)),
			menusync.Int32(menusync.Field(&m.MaxProgress)),
		)
	}
	for _, s := range slots {
		if _, err := reg.Register(s); err != nil {
			return err
		}
	}
	return nil
}

// lockSlot reads the lock bits on the sending side and writes them on the receiving side.
func lockSlot(role menusync.Role, locked []bool) *menusync.BitsSlot {
	if role == menusync.RoleSender {
		return menusync.Bits(len(locked), locked, nil)
	}
	return menusync.Bits(len(locked), nil, locked)
}

// IOConfigSlot syncs all six faces as packed bytes. Its delta lists only the
// faces that changed: [n] ([face] [packed]) x n.
func IOConfigSlot(acc menusync.Accessor[ioface.Config]) *menusync.ValueSlot[ioface.Config] {
	return menusync.NewValueSlot(acc, menusync.Codec[ioface.Config]{
		Write: func(b *menusync.Buffer, c ioface.Config) { _, _ = b.Write(c.Packed()) },
		Read: func(r *menusync.Reader) (ioface.Config, error) {
			p, err := r.ReadBytes(ioface.FaceCount)
			if err != nil {
				return ioface.Config{}, err
			}
			c, err := ioface.ConfigFromPacked(p)
			if err != nil {
				return ioface.Config{}, fmt.Errorf("%w: %w", menusync.ErrShapeMismatch, err)
			}
			return c, nil
		},
		WriteDelta: func(b *menusync.Buffer, prev, cur ioface.Config) {
			changed := cur.Changed(prev)
			b.WriteUint8(uint8(len(changed)))
			for _, f := range changed {
				b.WriteUint8(uint8(f))
				b.WriteUint8(cur.Get(f).Packed())
			}
		},
		ReadDelta: func(r *menusync.Reader, base ioface.Config) (ioface.Config, error) {
			n, err := r.ReadUint8()
			if err != nil {
				return base, err
			}
			if n > ioface.FaceCount {
				return base, fmt.Errorf("%w: %d changed faces", menusync.ErrShapeMismatch, n)
			}
			for i := 0; i < int(n); i++ {
				fb, err := r.ReadUint8()
				if err != nil {
					return base, err
				}
				pb, err := r.ReadUint8()
				if err != nil {
					return base, err
				}
				face, f := ioface.BlockFace(fb), ioface.FaceFromPacked(pb)
				if !face.Valid() || !f.Type.Valid() || !f.Flow.Valid() {
					return base, fmt.Errorf("%w: face %d packed %#x", menusync.ErrShapeMismatch, fb, pb)
				}
				base.Set(face, f)
			}
			return base, nil
		},
	})
}

const (
	secAccess   = 0b001
	secOwner    = 0b010
	secNoOwner  = 0b100
	secKnownRef = secAccess | secOwner | secNoOwner
)

// SecuritySlot syncs owner and access level. The full form is
// [access] [has owner] [16 byte owner]?; the delta form starts with a bit set
// naming which fields follow.
func SecuritySlot(acc menusync.Accessor[Security]) *menusync.ValueSlot[Security] {
	return menusync.NewValueSlot(acc, menusync.Codec[Security]{
		Write: func(b *menusync.Buffer, s Security) {
			b.WriteUint8(uint8(s.Access))
			b.WriteBool(s.Owner != uuid.Nil)
			if s.Owner != uuid.Nil {
				_, _ = b.Write(s.Owner[:])
			}
		},
		Read: func(r *menusync.Reader) (Security, error) {
			var s Security
			a, err := readAccess(r)
			if err != nil {
				return s, err
			}
			s.Access = a
			has, err := r.ReadBool()
			if err != nil {
				return s, err
			}
			if has {
				if s.Owner, err = readUUID(r); err != nil {
					return s, err
				}
			}
			return s, nil
		},
		WriteDelta: func(b *menusync.Buffer, prev, cur Security) {
			var ref uint8
			if prev.Access != cur.Access {
				ref |= secAccess
			}
			if prev.Owner != cur.Owner {
				if cur.Owner != uuid.Nil {
					ref |= secOwner
				} else {
					ref |= secNoOwner
				}
			}
			b.WriteUint8(ref)
			if ref&secAccess != 0 {
				b.WriteUint8(uint8(cur.Access))
			}
			if ref&secOwner != 0 {
				_, _ = b.Write(cur.Owner[:])
			}
		},
		ReadDelta: func(r *menusync.Reader, base Security) (Security, error) {
			ref, err := r.ReadUint8()
			if err != nil {
				return base, err
			}
			if ref&^secKnownRef != 0 {
				return base, fmt.Errorf("%w: security ref %#b", menusync.ErrShapeMismatch, ref)
			}
			if ref&secAccess != 0 {
				if base.Access, err = readAccess(r); err != nil {
					return base, err
				}
			}
			switch {
			case ref&secOwner != 0:
				if base.Owner, err = readUUID(r); err != nil {
					return base, err
				}
			case ref&secNoOwner != 0:
				base.Owner = uuid.Nil
			}
			return base, nil
		},
	})
}

func readAccess(r *menusync.Reader) (AccessLevel, error) {
	v, err := r.ReadUint8()
	if err != nil {
		return 0, err
	}
	if v >= uint8(accessLevelCount) {
		return 0, fmt.Errorf("%w: access level %d", menusync.ErrShapeMismatch, v)
	}
	return AccessLevel(v), nil
}

func readUUID(r *menusync.Reader) (uuid.UUID, error) {
	p, err := r.ReadBytes(16)
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.FromBytes(p)
}

// truncateText cuts s to at most n bytes without splitting a rune.
func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// StateSlot syncs [status] [text]? [powered]; status -1 carries no text.
func StateSlot(acc menusync.Accessor[State]) *menusync.ValueSlot[State] {
	return menusync.NewValueSlot(acc, menusync.Codec[State]{
		Write: func(b *menusync.Buffer, s State) {
			b.WriteInt8(int8(s.Status))
			if s.Status != StatusNone {
				text := truncateText(s.Text, maxStatusText)
				b.WriteUvarint(uint64(len(text)))
				_, _ = b.Write([]byte(text))
			}
			b.WriteBool(s.Powered)
		},
		Read: func(r *menusync.Reader) (State, error) {
			var s State
			v, err := r.ReadInt8()
			if err != nil {
				return s, err
			}
			s.Status = StatusType(v)
			if !s.Status.valid() {
				return s, fmt.Errorf("%w: status %d", menusync.ErrShapeMismatch, v)
			}
			if s.Status != StatusNone {
				n, err := r.ReadUvarint()
				if err != nil {
					return s, err
				}
				if n > maxStatusText {
					return s, fmt.Errorf("%w: status text of %d bytes", menusync.ErrShapeMismatch, n)
				}
				p, err := r.ReadBytes(int(n))
				if err != nil {
					return s, err
				}
				s.Text = string(p)
			}
			if s.Powered, err = r.ReadBool(); err != nil {
				return s, err
			}
			return s, nil
		},
	})
}
