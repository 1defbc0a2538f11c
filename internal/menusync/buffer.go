package menusync

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Buffer is an append-only big-endian writer.
type Buffer struct {
	b []byte
}

func NewBuffer(capacity int) *Buffer {
	return &Buffer{b: make([]byte, 0, capacity)}
}

func (b *Buffer) Bytes() []byte { return b.b }
func (b *Buffer) Len() int      { return len(b.b) }
func (b *Buffer) Reset()        { b.b = b.b[:0] }

// Truncate drops everything written after n bytes.
func (b *Buffer) Truncate(n int) { b.b = b.b[:n] }

func (b *Buffer) WriteUint8(v uint8) { b.b = append(b.b, v) }
func (b *Buffer) WriteInt8(v int8)   { b.b = append(b.b, byte(v)) }

func (b *Buffer) WriteBool(v bool) {
	if v {
		b.b = append(b.b, 1)
		return
	}
	b.b = append(b.b, 0)
}

func (b *Buffer) WriteInt16(v int16) { b.b = binary.BigEndian.AppendUint16(b.b, uint16(v)) }
func (b *Buffer) WriteInt32(v int32) { b.b = binary.BigEndian.AppendUint32(b.b, uint32(v)) }
func (b *Buffer) WriteInt64(v int64) { b.b = binary.BigEndian.AppendUint64(b.b, uint64(v)) }

func (b *Buffer) WriteFloat32(v float32) {
	b.b = binary.BigEndian.AppendUint32(b.b, math.Float32bits(v))
}

func (b *Buffer) WriteFloat64(v float64) {
	b.b = binary.BigEndian.AppendUint64(b.b, math.Float64bits(v))
}

func (b *Buffer) WriteUvarint(v uint64) { b.b = binary.AppendUvarint(b.b, v) }
func (b *Buffer) WriteVarint(v int64)   { b.b = binary.AppendVarint(b.b, v) }

func (b *Buffer) Write(p []byte) (int, error) {
	b.b = append(b.b, p...)
	return len(p), nil
}

// Reader consumes a byte slice written by Buffer.
// Reads past the end return ErrTruncated.
type Reader struct {
	b   []byte
	off int
}

func NewReader(p []byte) *Reader { return &Reader{b: p} }

func (r *Reader) Remaining() int { return len(r.b) - r.off }

func (r *Reader) take(n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, r.off, r.Remaining())
	}
	p := r.b[r.off : r.off+n]
	r.off += n
	return p, nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	p, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (r *Reader) ReadInt8() (int8, error) {
	v, err := r.ReadUint8()
	return int8(v), err
}

func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadUint8()
	return v != 0, err
}

func (r *Reader) ReadInt16() (int16, error) {
	p, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(p)), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	p, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(p)), nil
}

func (r *Reader) ReadInt64() (int64, error) {
	p, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(p)), nil
}

func (r *Reader) ReadFloat32() (float32, error) {
	p, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.BigEndian.Uint32(p)), nil
}

func (r *Reader) ReadFloat64() (float64, error) {
	p, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(p)), nil
}

func (r *Reader) ReadUvarint() (uint64, error) {
	v, n := binary.Uvarint(r.b[r.off:])
	if n <= 0 {
		return 0, fmt.Errorf("%w: bad uvarint at offset %d", ErrTruncated, r.off)
	}
	r.off += n
	return v, nil
}

func (r *Reader) ReadVarint() (int64, error) {
	v, n := binary.Varint(r.b[r.off:])
	if n <= 0 {
		return 0, fmt.Errorf("%w: bad varint at offset %d", ErrTruncated, r.off)
	}
	r.off += n
	return v, nil
}

// ReadBytes returns the next n bytes. The slice aliases the reader's input.
func (r *Reader) ReadBytes(n int) ([]byte, error) { return r.take(n) }
