package syncproto

import (
	"fmt"

	"machinesync.dev/internal/ioface"
	"machinesync.dev/internal/menusync"
)

// EncodeIOUpdate is the io_update payload: [block face][packed type/flow].
func EncodeIOUpdate(face ioface.BlockFace, f ioface.Face) []byte {
	return []byte{byte(face), f.Packed()}
}

func DecodeIOUpdate(p []byte) (ioface.BlockFace, ioface.Face, error) {
	r := menusync.NewReader(p)
	fb, err := r.ReadUint8()
	if err != nil {
		return 0, ioface.Face{}, fmt.Errorf("%w: %w", ErrBadFrame, err)
	}
	pb, err := r.ReadUint8()
	if err != nil {
		return 0, ioface.Face{}, fmt.Errorf("%w: %w", ErrBadFrame, err)
	}
	if r.Remaining() != 0 {
		return 0, ioface.Face{}, fmt.Errorf("%w: io_update has %d trailing bytes", ErrBadFrame, r.Remaining())
	}
	face := ioface.BlockFace(fb)
	if !face.Valid() {
		return 0, ioface.Face{}, fmt.Errorf("%w: block face %d", ErrBadFrame, fb)
	}
	f := ioface.FaceFromPacked(pb)
	if !f.Type.Valid() || !f.Flow.Valid() {
		return 0, ioface.Face{}, fmt.Errorf("%w: packed face %#x", ErrBadFrame, pb)
	}
	return face, f, nil
}
