package menusync

import (
	"fmt"
	"math"
)

func Bool(acc Accessor[bool]) *ValueSlot[bool] {
	return NewValueSlot(acc, Codec[bool]{
		Write: func(b *Buffer, v bool) { b.WriteBool(v) },
		Read:  func(r *Reader) (bool, error) { return r.ReadBool() },
	})
}

func Uint8(acc Accessor[uint8]) *ValueSlot[uint8] {
	return NewValueSlot(acc, Codec[uint8]{
		Write: func(b *Buffer, v uint8) { b.WriteUint8(v) },
		Read:  func(r *Reader) (uint8, error) { return r.ReadUint8() },
	})
}

func Int16(acc Accessor[int16]) *ValueSlot[int16] {
	return NewValueSlot(acc, Codec[int16]{
		Write: func(b *Buffer, v int16) { b.WriteInt16(v) },
		Read:  func(r *Reader) (int16, error) { return r.ReadInt16() },
	})
}

// Int32 is a 4-byte signed big-endian slot.
func Int32(acc Accessor[int32]) *ValueSlot[int32] {
	return NewValueSlot(acc, Codec[int32]{
		Write: func(b *Buffer, v int32) { b.WriteInt32(v) },
		Read:  func(r *Reader) (int32, error) { return r.ReadInt32() },
	})
}

func Int64(acc Accessor[int64]) *ValueSlot[int64] {
	return NewValueSlot(acc, Codec[int64]{
		Write: func(b *Buffer, v int64) { b.WriteInt64(v) },
		Read:  func(r *Reader) (int64, error) { return r.ReadInt64() },
	})
}

// Varint is a zig-zag varint slot; small magnitudes cost one byte.
func Varint(acc Accessor[int64]) *ValueSlot[int64] {
	return NewValueSlot(acc, Codec[int64]{
		Write: func(b *Buffer, v int64) { b.WriteVarint(v) },
		Read:  func(r *Reader) (int64, error) { return r.ReadVarint() },
	})
}

func Float32(acc Accessor[float32]) *ValueSlot[float32] {
	return NewValueSlot(acc, Codec[float32]{
		Write: func(b *Buffer, v float32) { b.WriteFloat32(v) },
		Read:  func(r *Reader) (float32, error) { return r.ReadFloat32() },
	}).WithEqual(func(a, b float32) bool { return math.Float32bits(a) == math.Float32bits(b) })
}

func Float64(acc Accessor[float64]) *ValueSlot[float64] {
	return NewValueSlot(acc, Codec[float64]{
		Write: func(b *Buffer, v float64) { b.WriteFloat64(v) },
		Read:  func(r *Reader) (float64, error) { return r.ReadFloat64() },
	}).WithEqual(func(a, b float64) bool { return math.Float64bits(a) == math.Float64bits(b) })
}

// Enum encodes an ordinal in one byte. Ordinals at or above count fail to decode.
func Enum[E ~uint8](acc Accessor[E], count int) *ValueSlot[E] {
	return NewValueSlot(acc, Codec[E]{
		Write: func(b *Buffer, v E) { b.WriteUint8(uint8(v)) },
		Read: func(r *Reader) (E, error) {
			v, err := r.ReadUint8()
			if err != nil {
				return 0, err
			}
			if int(v) >= count {
				return 0, fmt.Errorf("%w: enum ordinal %d, have %d values", ErrShapeMismatch, v, count)
			}
			return E(v), nil
		},
	})
}

// BitsSlot syncs a fixed-length bool array packed LSB first, len/8+1 bytes.
type BitsSlot struct {
	src []bool
	dst []bool

	current []bool
	pending []bool
	staged  bool
}

// Bits reads from src on the sending side and writes into dst on the receiving side.
// Both must have the same length; either may be nil on the side that does not use it.
func Bits(n int, src, dst []bool) *BitsSlot {
	if src != nil && len(src) != n || dst != nil && len(dst) != n {
		panic(fmt.Sprintf("menusync: bits slot of %d with src=%d dst=%d", n, len(src), len(dst)))
	}
	return &BitsSlot{src: src, dst: dst, current: make([]bool, n), pending: make([]bool, n)}
}

func (s *BitsSlot) size() int { return len(s.current)/8 + 1 }

func (s *BitsSlot) NeedsSyncing() bool {
	if s.src == nil {
		return false
	}
	for i, v := range s.src {
		if v != s.current[i] {
			return true
		}
	}
	return false
}

func (s *BitsSlot) WriteFull(b *Buffer) {
	if s.src != nil {
		copy(s.current, s.src)
	}
	n := len(s.current)
	for i := 0; i < s.size(); i++ {
		var v byte
		for j := 0; j < 8 && i*8+j < n; j++ {
			if s.current[i*8+j] {
				v |= 1 << j
			}
		}
		b.WriteUint8(v)
	}
}

func (s *BitsSlot) WriteDelta(b *Buffer) { s.WriteFull(b) }

func (s *BitsSlot) ReadFull(r *Reader) error {
	p, err := r.ReadBytes(s.size())
	if err != nil {
		return err
	}
	n := len(s.pending)
	for i, v := range p {
		for j := 0; j < 8 && i*8+j < n; j++ {
			s.pending[i*8+j] = v&(1<<j) != 0
		}
	}
	s.staged = true
	return nil
}

func (s *BitsSlot) ReadDelta(r *Reader) error { return s.ReadFull(r) }

func (s *BitsSlot) Commit() {
	if !s.staged {
		return
	}
	copy(s.current, s.pending)
	if s.dst != nil {
		copy(s.dst, s.pending)
	}
	s.staged = false
}

func (s *BitsSlot) Discard() { s.staged = false }
