package syncproto

import (
	"bytes"
	"errors"
	"testing"

	"machinesync.dev/internal/ioface"
	"machinesync.dev/internal/menusync"
)

func TestFrameRoundTrip(t *testing.T) {
	chs := DefaultChannels()
	payload := []byte{0x01, 0x01, 0, 0, 0, 5}
	p := chs.MenuSync.Encode(300, payload)
	if p[0] != byte(MenuSyncID) {
		t.Fatalf("channel byte=%d", p[0])
	}
	f, err := DecodeFrame(p)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if f.Channel != MenuSyncID || f.Key != 300 || !bytes.Equal(f.Payload, payload) {
		t.Fatalf("frame=%+v", f)
	}
}

func TestDecodeFrameTruncated(t *testing.T) {
	if _, err := DecodeFrame(nil); !errors.Is(err, ErrBadFrame) {
		t.Fatalf("empty: %v", err)
	}
	if _, err := DecodeFrame([]byte{1, 0x80}); !errors.Is(err, ErrBadFrame) {
		t.Fatalf("cut varint: %v", err)
	}
}

func TestEncodeWithSkipsEmptyPayload(t *testing.T) {
	ch := DefaultChannels().MenuSync
	b := menusync.NewBuffer(16)
	b.WriteUint8(0xaa)
	ok, err := ch.EncodeWith(b, 7, func(*menusync.Buffer) (bool, error) { return false, nil })
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if b.Len() != 1 {
		t.Fatalf("header not rolled back, len=%d", b.Len())
	}
	ok, err = ch.EncodeWith(b, 7, func(b *menusync.Buffer) (bool, error) {
		b.WriteUint8(9)
		return true, nil
	})
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(b.Bytes(), []byte{0xaa, 1, 7, 9}) {
		t.Fatalf("bytes=%x", b.Bytes())
	}
}

func TestRouterDispatch(t *testing.T) {
	chs := DefaultChannels()
	r := NewRouter()
	var gotKey uint64
	var gotFace ioface.BlockFace
	if err := r.Handle(chs.IOUpdate, func(key uint64, p []byte) error {
		face, _, err := DecodeIOUpdate(p)
		gotKey, gotFace = key, face
		return err
	}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if err := r.Handle(NewChannel(9, "click", false), nil); !errors.Is(err, ErrWrongDirection) {
		t.Fatalf("expected ErrWrongDirection, got %v", err)
	}
	if err := r.Handle(NewChannel(IOUpdateID, "dup", true), nil); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}

	face := ioface.Face{Type: ioface.ResourceEnergy, Flow: ioface.FlowOutput}
	if err := r.Dispatch(chs.IOUpdate.Encode(4, EncodeIOUpdate(ioface.FaceTop, face))); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if gotKey != 4 || gotFace != ioface.FaceTop {
		t.Fatalf("key=%d face=%v", gotKey, gotFace)
	}
	if err := r.Dispatch(chs.MenuSync.Encode(1, nil)); !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("expected unknown channel, got %v", err)
	}
}

func TestIOUpdatePayload(t *testing.T) {
	want := ioface.Face{Type: ioface.ResourceFluid, Flow: ioface.FlowInput}
	p := EncodeIOUpdate(ioface.FaceLeft, want)
	if !bytes.Equal(p, []byte{byte(ioface.FaceLeft), 0b1100}) {
		t.Fatalf("payload=%x", p)
	}
	face, got, err := DecodeIOUpdate(p)
	if err != nil || face != ioface.FaceLeft || got != want {
		t.Fatalf("face=%v got=%+v err=%v", face, got, err)
	}
	for _, bad := range [][]byte{{1}, {9, 0}, {1, 0xff}, {1, 0, 0}} {
		if _, _, err := DecodeIOUpdate(bad); !errors.Is(err, ErrBadFrame) {
			t.Fatalf("%x: expected ErrBadFrame, got %v", bad, err)
		}
	}
}
