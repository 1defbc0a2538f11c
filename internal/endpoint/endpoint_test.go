package endpoint

import (
	"errors"
	"testing"

	"machinesync.dev/internal/menusync"
	"machinesync.dev/internal/syncproto"
)

type fakeConn struct {
	frames [][]byte
	refuse bool
}

func (c *fakeConn) TrySend(b []byte) bool {
	if c.refuse {
		return false
	}
	c.frames = append(c.frames, b)
	return true
}

type state struct{ A, B, C int32 }

func bindState(v *state) Bind {
	return func(reg *menusync.Registry) error {
		for _, p := range []*int32{&v.A, &v.B, &v.C} {
			if _, err := reg.Register(menusync.Int32(menusync.Field(p))); err != nil {
				return err
			}
		}
		return nil
	}
}

type traceRecorder struct{ entries []SyncTrace }

func (r *traceRecorder) WriteSync(e SyncTrace) error {
	r.entries = append(r.entries, e)
	return nil
}

// deliver pushes every queued frame through a router into rx.
func deliver(t *testing.T, router *syncproto.Router, c *fakeConn) {
	t.Helper()
	for _, f := range c.frames {
		if err := router.Dispatch(f); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
	}
	c.frames = nil
}

func TestSenderFullThenDelta(t *testing.T) {
	ch := syncproto.DefaultChannels().MenuSync
	server := state{A: 1}
	tx := NewSender(ch, "m1", bindState(&server), nil)
	tr := &traceRecorder{}
	tx.SetTraceLogger(tr)

	var client state
	rx := NewReceiver(ch, nil)
	reg := menusync.NewRegistry(menusync.RoleReceiver)
	if err := bindState(&client)(reg); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := rx.Open(7, reg); err != nil {
		t.Fatalf("Open: %v", err)
	}
	router := syncproto.NewRouter()
	if err := rx.Attach(router); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	conn := &fakeConn{}
	if err := tx.Open("viewer-1", conn, 7); err != nil {
		t.Fatalf("Open: %v", err)
	}
	tx.Tick(1)
	if len(conn.frames) != 1 {
		t.Fatalf("expected one full frame, got %d", len(conn.frames))
	}
	deliver(t, router, conn)
	if client != server {
		t.Fatalf("client=%+v server=%+v", client, server)
	}

	tx.Tick(2)
	if len(conn.frames) != 0 {
		t.Fatalf("clean tick sent %d frames", len(conn.frames))
	}

	server.B = 5
	tx.Tick(3)
	if len(conn.frames) != 1 {
		t.Fatalf("expected one delta frame, got %d", len(conn.frames))
	}
	f, err := syncproto.DecodeFrame(conn.frames[0])
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if f.Key != 7 || f.Payload[0] != 1 || f.Payload[1] != 1 {
		t.Fatalf("unexpected delta frame %+v", f)
	}
	deliver(t, router, conn)
	if client != (state{A: 1, B: 5}) {
		t.Fatalf("client=%+v", client)
	}

	if len(tr.entries) != 2 || tr.entries[0].Form != FormFull || tr.entries[1].Form != FormDelta || tr.entries[1].Slots != 1 {
		t.Fatalf("trace=%+v", tr.entries)
	}
}

func TestSenderPerViewerShadow(t *testing.T) {
	ch := syncproto.DefaultChannels().MenuSync
	server := state{}
	tx := NewSender(ch, "m1", bindState(&server), nil)
	early, late := &fakeConn{}, &fakeConn{}
	if err := tx.Open("a", early, 1); err != nil {
		t.Fatalf("Open: %v", err)
	}
	tx.Tick(1)
	server.C = 9
	if err := tx.Open("b", late, 2); err != nil {
		t.Fatalf("Open: %v", err)
	}
	tx.Tick(2)
	if len(early.frames) != 2 || len(late.frames) != 1 {
		t.Fatalf("early=%d late=%d", len(early.frames), len(late.frames))
	}
	tx.Tick(3)
	if len(early.frames) != 2 || len(late.frames) != 1 {
		t.Fatalf("clean tick sent frames: early=%d late=%d", len(early.frames), len(late.frames))
	}
}

func TestSenderSendFailureForcesFull(t *testing.T) {
	ch := syncproto.DefaultChannels().MenuSync
	server := state{A: 1, B: 2, C: 3}
	tx := NewSender(ch, "m1", bindState(&server), nil)
	conn := &fakeConn{}
	if err := tx.Open("v", conn, 3); err != nil {
		t.Fatalf("Open: %v", err)
	}
	tx.Tick(1)

	conn.refuse = true
	server.A = 10
	tx.Tick(2)
	conn.refuse = false

	tx.Tick(3)
	if len(conn.frames) != 2 {
		t.Fatalf("expected a repair frame, got %d frames", len(conn.frames))
	}
	f, _ := syncproto.DecodeFrame(conn.frames[1])
	if f.Payload[0] != 3 || len(f.Payload) != 1+3*4 {
		t.Fatalf("expected full form after a failed send, payload=%x", f.Payload)
	}
}

func TestSenderResyncAndClose(t *testing.T) {
	ch := syncproto.DefaultChannels().MenuSync
	var server state
	tx := NewSender(ch, "m1", bindState(&server), nil)
	conn := &fakeConn{}
	if err := tx.Open("v", conn, 1); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := tx.Open("v", conn, 1); !errors.Is(err, ErrKeyInUse) {
		t.Fatalf("expected ErrKeyInUse, got %v", err)
	}
	if err := tx.Open("v", conn, 2); err != nil {
		t.Fatalf("Open: %v", err)
	}
	tx.Tick(1)
	if len(conn.frames) != 2 {
		t.Fatalf("frames=%d", len(conn.frames))
	}
	if !tx.Resync(1) || tx.Resync(99) {
		t.Fatalf("Resync result mismatch")
	}
	tx.Tick(2)
	if len(conn.frames) != 3 {
		t.Fatalf("resync should send exactly one frame, frames=%d", len(conn.frames))
	}
	if keys := tx.CloseViewer("v"); len(keys) != 2 || tx.Sessions() != 0 {
		t.Fatalf("CloseViewer keys=%v sessions=%d", keys, tx.Sessions())
	}
	if tx.Close(1) {
		t.Fatalf("Close on closed key should report false")
	}
	tx.Tick(3)
	if len(conn.frames) != 3 {
		t.Fatalf("closed sessions should not sync")
	}
}

func TestReceiverStaleKeyDropped(t *testing.T) {
	ch := syncproto.DefaultChannels().MenuSync
	rx := NewReceiver(ch, nil)
	rx.SetDebug(true)
	if err := rx.Handle(42, []byte{1, 0, 0, 0, 0, 1}); err != nil {
		t.Fatalf("stale key should not be an error: %v", err)
	}

	var v state
	reg := menusync.NewRegistry(menusync.RoleReceiver)
	if err := bindState(&v)(reg); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := rx.Open(42, reg); err != nil {
		t.Fatalf("Open: %v", err)
	}
	rx.Close(42)
	if err := rx.Handle(42, []byte{1, 0, 0, 0, 0, 1}); err != nil {
		t.Fatalf("closed key should not be an error: %v", err)
	}
	if v != (state{}) {
		t.Fatalf("closed registry was written: %+v", v)
	}
}

func TestReceiverRejectsBadInput(t *testing.T) {
	ch := syncproto.DefaultChannels().MenuSync
	rx := NewReceiver(ch, nil)
	if err := rx.Open(1, menusync.NewRegistry(menusync.RoleSender)); !errors.Is(err, ErrWrongRole) {
		t.Fatalf("expected ErrWrongRole, got %v", err)
	}

	var v state
	reg := menusync.NewRegistry(menusync.RoleReceiver)
	if err := bindState(&v)(reg); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := rx.Open(1, reg); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := rx.Handle(1, []byte{1, 7, 0, 0, 0, 1}); !errors.Is(err, menusync.ErrIndexOutOfRange) {
		t.Fatalf("expected index error, got %v", err)
	}
}
