package world

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"testing"

	"github.com/google/uuid"

	"machinesync.dev/internal/endpoint"
	"machinesync.dev/internal/ioface"
	"machinesync.dev/internal/machine"
	"machinesync.dev/internal/menusync"
	"machinesync.dev/internal/protocol"
	"machinesync.dev/internal/syncproto"
)

func testWorld(t *testing.T, cfg Config) *World {
	t.Helper()
	gen, err := machine.New(machine.KindGenerator, "gen-1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	gen.Energy = 1000
	mel, err := machine.New(machine.KindMelter, "melter-1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if cfg.TickRateHz == 0 {
		cfg.TickRateHz = 20
	}
	w, err := New(cfg, []*machine.Machine{mel, gen}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	return w
}

// viewer is the client half of a session: its outbox plus a mirror per open menu.
type viewer struct {
	t       *testing.T
	id      string
	viewer  uuid.UUID
	out     Outbox
	welcome protocol.WelcomeMsg
	router  *syncproto.Router
	rx      *endpoint.Receiver
	mirrors map[uint64]*machine.Machine
	faces   map[uint64]map[ioface.BlockFace]ioface.Face
	text    []json.RawMessage
}

func join(t *testing.T, w *World, viewerID string) *viewer {
	t.Helper()
	v := &viewer{
		t:       t,
		out:     make(Outbox, 64),
		router:  syncproto.NewRouter(),
		mirrors: map[uint64]*machine.Machine{},
		faces:   map[uint64]map[ioface.BlockFace]ioface.Face{},
	}
	resp := make(chan JoinResponse, 1)
	w.handleJoin(JoinRequest{Name: "tester", ViewerID: viewerID, Out: v.out, Resp: resp})
	v.welcome = (<-resp).Welcome
	v.id = v.welcome.SessionID
	if v.id == "" {
		t.Fatalf("join rejected")
	}
	v.viewer = uuid.MustParse(v.welcome.ViewerID)
	v.rx = endpoint.NewReceiver(w.ch.MenuSync, nil)
	if err := v.rx.Attach(v.router); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	err := v.router.Handle(w.ch.IOUpdate, func(key uint64, payload []byte) error {
		face, f, err := syncproto.DecodeIOUpdate(payload)
		if err != nil {
			return err
		}
		if v.faces[key] == nil {
			v.faces[key] = map[ioface.BlockFace]ioface.Face{}
		}
		v.faces[key][face] = f
		return nil
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	return v
}

// drain applies every queued message: binary frames go through the router,
// MENU_OPENED creates a mirror, other text is kept for inspection.
func (v *viewer) drain() {
	v.t.Helper()
	for {
		select {
		case m := <-v.out:
			if m.Binary {
				if err := v.router.Dispatch(m.Data); err != nil {
					v.t.Fatalf("Dispatch: %v", err)
				}
				continue
			}
			base, err := protocol.DecodeBase(m.Data)
			if err != nil {
				v.t.Fatalf("DecodeBase: %v", err)
			}
			switch base.Type {
			case protocol.TypeMenuOpened:
				var mo protocol.MenuOpenedMsg
				if err := json.Unmarshal(m.Data, &mo); err != nil {
					v.t.Fatalf("unmarshal: %v", err)
				}
				mirror, err := machine.New(machine.Kind(mo.Kind), mo.MachineID)
				if err != nil {
					v.t.Fatalf("mirror: %v", err)
				}
				reg := menusync.NewRegistry(menusync.RoleReceiver)
				if err := machine.Bind(reg, mirror); err != nil {
					v.t.Fatalf("Bind: %v", err)
				}
				if err := v.rx.Open(mo.Key, reg); err != nil {
					v.t.Fatalf("rx.Open: %v", err)
				}
				v.mirrors[mo.Key] = mirror
			case protocol.TypeMenuClosed:
				var mc protocol.MenuClosedMsg
				if err := json.Unmarshal(m.Data, &mc); err != nil {
					v.t.Fatalf("unmarshal: %v", err)
				}
				v.rx.Close(mc.Key)
				delete(v.mirrors, mc.Key)
				v.text = append(v.text, m.Data)
			default:
				v.text = append(v.text, m.Data)
			}
		default:
			return
		}
	}
}

func (v *viewer) lastAck() protocol.AckMsg {
	v.t.Helper()
	for i := len(v.text) - 1; i >= 0; i-- {
		var ack protocol.AckMsg
		if err := json.Unmarshal(v.text[i], &ack); err == nil && ack.Type == protocol.TypeAck {
			return ack
		}
	}
	v.t.Fatalf("no ACK received")
	return protocol.AckMsg{}
}

func (v *viewer) keyFor(machineID string) uint64 {
	for k, m := range v.mirrors {
		if m.ID == machineID {
			return k
		}
	}
	v.t.Fatalf("no open menu for %s", machineID)
	return 0
}

func open(w *World, v *viewer, machineID string) {
	w.handleOpen(OpenRequest{SessionID: v.id, Msg: protocol.OpenMenuMsg{ReqID: "open-" + machineID, MachineID: machineID}})
	v.drain()
}

func control(w *World, v *viewer, msg protocol.ControlMsg) protocol.AckMsg {
	v.t.Helper()
	msg.Type = protocol.TypeControl
	if msg.ReqID == "" {
		msg.ReqID = "c1"
	}
	w.handleControl(ControlRequest{SessionID: v.id, Msg: msg})
	v.drain()
	return v.lastAck()
}

func TestWelcomeListsMachinesInOrder(t *testing.T) {
	w := testWorld(t, Config{})
	v := join(t, w, "")
	ms := v.welcome.Machines
	if len(ms) != 2 || ms[0].MachineID != "gen-1" || ms[1].MachineID != "melter-1" {
		t.Fatalf("machines: %+v", ms)
	}
	if ms[0].BlockKey != 1 || ms[1].BlockKey != 2 {
		t.Fatalf("block keys: %d %d", ms[0].BlockKey, ms[1].BlockKey)
	}
	if len(ms[0].Faces) != ioface.FaceCount {
		t.Fatalf("faces: %v", ms[0].Faces)
	}
	if len(v.welcome.Channels) != 2 {
		t.Fatalf("channels: %+v", v.welcome.Channels)
	}
}

func TestJoinKeepsViewerID(t *testing.T) {
	w := testWorld(t, Config{})
	id := uuid.New()
	v := join(t, w, id.String())
	if v.viewer != id {
		t.Fatalf("viewer id: got %s want %s", v.viewer, id)
	}
}

func TestOpenSyncsFullThenDelta(t *testing.T) {
	w := testWorld(t, Config{})
	v := join(t, w, "")
	open(w, v, "gen-1")
	key := v.keyFor("gen-1")

	w.StepOnce()
	v.drain()
	src, mirror := w.Machine("gen-1"), v.mirrors[key]
	if mirror.Energy != src.Energy || mirror.Capacity != src.Capacity {
		t.Fatalf("after full: energy %d/%d want %d/%d", mirror.Energy, mirror.Capacity, src.Energy, src.Capacity)
	}
	if mirror.Security.Owner != v.viewer {
		t.Fatalf("owner: got %s want %s", mirror.Security.Owner, v.viewer)
	}

	src.Energy = 777
	w.StepOnce()
	v.drain()
	if mirror.Energy != 777 {
		t.Fatalf("after delta: energy %d", mirror.Energy)
	}
}

func TestOpenUnknownMachine(t *testing.T) {
	w := testWorld(t, Config{})
	v := join(t, w, "")
	open(w, v, "nope")
	if ack := v.lastAck(); ack.Accepted || ack.Code != protocol.ErrMachineNotFound {
		t.Fatalf("ack: %+v", ack)
	}
}

func TestOpenMenuLimit(t *testing.T) {
	w := testWorld(t, Config{MenusPerViewer: 1})
	v := join(t, w, "")
	open(w, v, "gen-1")
	open(w, v, "melter-1")
	if ack := v.lastAck(); ack.Code != protocol.ErrMenuBusy {
		t.Fatalf("ack: %+v", ack)
	}
}

func TestPrivateMachineDeniesOthers(t *testing.T) {
	w := testWorld(t, Config{})
	owner := join(t, w, "")
	open(w, owner, "gen-1")
	key := owner.keyFor("gen-1")
	if ack := control(w, owner, protocol.ControlMsg{Key: key, Op: protocol.OpSetAccess, Access: "private"}); !ack.Accepted {
		t.Fatalf("set access: %+v", ack)
	}

	other := join(t, w, "")
	open(w, other, "gen-1")
	if ack := other.lastAck(); ack.Code != protocol.ErrNoPermission {
		t.Fatalf("ack: %+v", ack)
	}
}

func TestSetAccessEvictsViewers(t *testing.T) {
	w := testWorld(t, Config{})
	owner := join(t, w, "")
	other := join(t, w, "")
	open(w, owner, "gen-1")
	open(w, other, "gen-1")
	otherKey := other.keyFor("gen-1")

	ack := control(w, owner, protocol.ControlMsg{Key: owner.keyFor("gen-1"), Op: protocol.OpSetAccess, Access: "team"})
	if !ack.Accepted {
		t.Fatalf("set access: %+v", ack)
	}
	other.drain()
	if _, ok := other.mirrors[otherKey]; ok {
		t.Fatalf("menu still open after access revoked")
	}
	if _, ok := w.menus[otherKey]; ok {
		t.Fatalf("world still routes key %d", otherKey)
	}
	if got := w.senders["gen-1"].Sessions(); got != 1 {
		t.Fatalf("sender sessions: %d", got)
	}
}

func TestSetAccessOwnerOnly(t *testing.T) {
	w := testWorld(t, Config{})
	owner := join(t, w, "")
	other := join(t, w, "")
	open(w, owner, "gen-1")
	open(w, other, "gen-1")
	ack := control(w, other, protocol.ControlMsg{Key: other.keyFor("gen-1"), Op: protocol.OpSetAccess, Access: "private"})
	if ack.Code != protocol.ErrNoPermission {
		t.Fatalf("ack: %+v", ack)
	}
}

func TestControlSetRedstone(t *testing.T) {
	w := testWorld(t, Config{})
	v := join(t, w, "")
	open(w, v, "melter-1")
	key := v.keyFor("melter-1")

	if ack := control(w, v, protocol.ControlMsg{Key: key, Op: protocol.OpSetRedstone, Mode: "high"}); !ack.Accepted {
		t.Fatalf("ack: %+v", ack)
	}
	w.StepOnce()
	v.drain()
	mirror := v.mirrors[key]
	if mirror.Redstone != machine.RedstoneHigh {
		t.Fatalf("redstone: %s", mirror.Redstone)
	}
	if mirror.State.Status != machine.StatusOther {
		t.Fatalf("status: %d", mirror.State.Status)
	}

	if ack := control(w, v, protocol.ControlMsg{Key: key, Op: protocol.OpSetRedstone, Mode: "sideways"}); ack.Code != protocol.ErrBadRequest {
		t.Fatalf("ack: %+v", ack)
	}
}

func TestControlWrongKey(t *testing.T) {
	w := testWorld(t, Config{})
	a := join(t, w, "")
	b := join(t, w, "")
	open(w, a, "gen-1")
	ack := control(w, b, protocol.ControlMsg{Key: a.keyFor("gen-1"), Op: protocol.OpResync})
	if ack.Code != protocol.ErrMenuNotOpen {
		t.Fatalf("ack: %+v", ack)
	}
}

func TestControlUnknownOp(t *testing.T) {
	w := testWorld(t, Config{})
	v := join(t, w, "")
	open(w, v, "gen-1")
	if ack := control(w, v, protocol.ControlMsg{Key: v.keyFor("gen-1"), Op: "EXPLODE"}); ack.Code != protocol.ErrUnsupported {
		t.Fatalf("ack: %+v", ack)
	}
}

func TestControlInsertItem(t *testing.T) {
	w := testWorld(t, Config{})
	v := join(t, w, "")
	open(w, v, "melter-1")
	key := v.keyFor("melter-1")
	ack := control(w, v, protocol.ControlMsg{Key: key, Op: protocol.OpInsertItem, Slot: machine.MelterSlotInput, Count: 5})
	if !ack.Accepted {
		t.Fatalf("ack: %+v", ack)
	}
	if got := w.Machine("melter-1").Items[machine.MelterSlotInput]; got != 5 {
		t.Fatalf("items: %d", got)
	}
	ack = control(w, v, protocol.ControlMsg{Key: key, Op: protocol.OpInsertItem, Slot: 9, Count: 1})
	if ack.Code != protocol.ErrInvalidTarget {
		t.Fatalf("ack: %+v", ack)
	}
}

func TestControlLockSlot(t *testing.T) {
	w := testWorld(t, Config{})
	v := join(t, w, "")
	open(w, v, "melter-1")
	key := v.keyFor("melter-1")
	ack := control(w, v, protocol.ControlMsg{Key: key, Op: protocol.OpLockSlot, Slot: machine.MelterSlotInput, Locked: true})
	if !ack.Accepted {
		t.Fatalf("ack: %+v", ack)
	}
	ack = control(w, v, protocol.ControlMsg{Key: key, Op: protocol.OpInsertItem, Slot: machine.MelterSlotInput, Count: 1})
	if ack.Code != protocol.ErrInvalidTarget {
		t.Fatalf("insert into locked slot: %+v", ack)
	}
	w.StepOnce()
	if got := w.Snapshot().Machines[1].Locked; !got[machine.MelterSlotInput] {
		t.Fatalf("snapshot locks=%v", got)
	}
}

func TestCycleFaceBroadcastsIOUpdate(t *testing.T) {
	w := testWorld(t, Config{})
	a := join(t, w, "")
	b := join(t, w, "")
	open(w, a, "melter-1")

	ack := control(w, a, protocol.ControlMsg{Key: a.keyFor("melter-1"), Op: protocol.OpCycleFace, Face: "top"})
	if !ack.Accepted {
		t.Fatalf("ack: %+v", ack)
	}
	b.drain()
	want := w.Machine("melter-1").IO.Get(ioface.FaceTop)
	blockKey := b.welcome.Machines[1].BlockKey
	for _, v := range []*viewer{a, b} {
		if got := v.faces[blockKey][ioface.FaceTop]; got != want {
			t.Fatalf("io_update: got %s want %s", got, want)
		}
	}
}

func TestResyncSendsFull(t *testing.T) {
	w := testWorld(t, Config{})
	v := join(t, w, "")
	open(w, v, "gen-1")
	key := v.keyFor("gen-1")
	w.StepOnce()
	v.drain()

	v.mirrors[key].Energy = -1
	control(w, v, protocol.ControlMsg{Key: key, Op: protocol.OpResync})
	w.StepOnce()
	v.drain()
	if got := v.mirrors[key].Energy; got != w.Machine("gen-1").Energy {
		t.Fatalf("energy after resync: %d", got)
	}
}

func TestLeaveClosesMenus(t *testing.T) {
	w := testWorld(t, Config{})
	v := join(t, w, "")
	open(w, v, "gen-1")
	open(w, v, "melter-1")
	w.handleLeave(v.id)
	if len(w.menus) != 0 || len(w.sessions) != 0 {
		t.Fatalf("menus=%d sessions=%d", len(w.menus), len(w.sessions))
	}
	if w.senders["gen-1"].Sessions() != 0 {
		t.Fatalf("sender still has sessions")
	}
}

func TestCloseIgnoresForeignKey(t *testing.T) {
	w := testWorld(t, Config{})
	a := join(t, w, "")
	b := join(t, w, "")
	open(w, a, "gen-1")
	key := a.keyFor("gen-1")
	w.handleClose(CloseRequest{SessionID: b.id, Key: key})
	if _, ok := w.menus[key]; !ok {
		t.Fatalf("foreign close removed menu")
	}
	w.handleClose(CloseRequest{SessionID: a.id, Key: key})
	if _, ok := w.menus[key]; ok {
		t.Fatalf("close did not remove menu")
	}
}

type memStore struct {
	recs  map[string]MachineRecord
	saves []uint64
}

func (s *memStore) LoadMachines(context.Context) (map[string]MachineRecord, error) {
	return s.recs, nil
}

func (s *memStore) SaveMachines(tick uint64, recs []MachineRecord) error {
	s.saves = append(s.saves, tick)
	for _, r := range recs {
		s.recs[r.ID] = r
	}
	return nil
}

func TestSaveAndLoadState(t *testing.T) {
	store := &memStore{recs: map[string]MachineRecord{}}
	w := testWorld(t, Config{SaveEveryTicks: 2})
	w.SetMachineStore(store)
	owner := uuid.New()
	m := w.Machine("melter-1")
	m.Security.Owner = owner
	m.Security.Access = machine.AccessPrivate
	m.Items[machine.MelterSlotInput] = 3
	m.SetFace(ioface.FaceTop, ioface.Face{Type: ioface.ResourceFluid, Flow: ioface.FlowOutput})

	for i := 0; i < 3; i++ {
		w.StepOnce()
	}
	if len(store.saves) != 1 || store.saves[0] != 2 {
		t.Fatalf("saves: %v", store.saves)
	}

	w2 := testWorld(t, Config{})
	w2.SetMachineStore(store)
	n, err := w2.LoadState(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("LoadState: n=%d err=%v", n, err)
	}
	got := w2.Machine("melter-1")
	if got.Security.Owner != owner || got.Security.Access != machine.AccessPrivate {
		t.Fatalf("security: %+v", got.Security)
	}
	if got.IO != m.IO {
		t.Fatalf("io: %v want %v", got.IO, m.IO)
	}
	if got.Items[machine.MelterSlotInput] != m.Items[machine.MelterSlotInput] {
		t.Fatalf("items: %v", got.Items)
	}
}

func TestLoadStateResumesTick(t *testing.T) {
	store := &memStore{recs: map[string]MachineRecord{}}
	w := testWorld(t, Config{})
	w.SetMachineStore(store)
	for i := 0; i < 500; i++ {
		w.StepOnce()
	}
	w.Flush()
	if store.saves[0] != 500 {
		t.Fatalf("saves: %v", store.saves)
	}

	w2 := testWorld(t, Config{})
	w2.SetMachineStore(store)
	if _, err := w2.LoadState(context.Background()); err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if got := w2.CurrentTick(); got != 501 {
		t.Fatalf("tick after load: %d", got)
	}
	w2.StepOnce()
	w2.Flush()
	if last := store.saves[len(store.saves)-1]; last != 502 {
		t.Fatalf("second run saved at tick %d", last)
	}

	empty := testWorld(t, Config{})
	empty.SetMachineStore(&memStore{recs: map[string]MachineRecord{}})
	if _, err := empty.LoadState(context.Background()); err != nil || empty.CurrentTick() != 0 {
		t.Fatalf("empty store: tick=%d err=%v", empty.CurrentTick(), err)
	}
}

func TestRecordKindMismatch(t *testing.T) {
	m, _ := machine.New(machine.KindGenerator, "x")
	r := RecordOf(m, 0)
	r.Kind = string(machine.KindMelter)
	if err := r.Apply(m); err == nil {
		t.Fatalf("expected kind mismatch")
	}
}

func TestRunStops(t *testing.T) {
	w := testWorld(t, Config{TickRateHz: 100})
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	w.Stop()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestSnapshotPublishedEachTick(t *testing.T) {
	w := testWorld(t, Config{})
	if got := w.Snapshot(); len(got.Machines) != 0 {
		t.Fatalf("snapshot before first tick: %+v", got)
	}
	v := join(t, w, "")
	open(w, v, "gen-1")
	w.StepOnce()
	snap := w.Snapshot()
	if snap.Tick != 0 || snap.Sessions != 1 || snap.Menus != 1 || len(snap.Machines) != 2 {
		t.Fatalf("snapshot: %+v", snap)
	}
	gen := snap.Machines[0]
	if gen.ID != "gen-1" || gen.Viewers != 1 || gen.Owner != v.viewer.String() || len(gen.Faces) != ioface.FaceCount {
		t.Fatalf("gen-1: %+v", gen)
	}
}
