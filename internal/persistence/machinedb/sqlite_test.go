package machinedb

import (
	"context"
	"database/sql"
	"io"
	"log"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"machinesync.dev/internal/machine"
	"machinesync.dev/internal/world"
)

func TestStoreSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "machines.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	recs := []world.MachineRecord{
		{ID: "gen-1", Kind: "generator", Energy: 1200, Items: []int64{0, 4}, Redstone: "ignore", Access: "public", Faces: []byte{1, 2, 3, 4, 5, 6}},
		{ID: "melter-1", Kind: "melter", Fluid: 750, Progress: 20, Items: []int64{0, 1, 0}, Redstone: "high", Powered: true,
			Owner: "7d444840-9dc0-11d1-b245-5ffdce74fad2", Access: "private", Faces: []byte{0, 0, 0, 0, 13, 0}},
	}
	if err := s.SaveMachines(40, recs); err != nil {
		t.Fatalf("SaveMachines: %v", err)
	}
	recs[0].Energy = 900
	if err := s.SaveMachines(80, recs[:1]); err != nil {
		t.Fatalf("SaveMachines: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.LoadMachines(context.Background())
	if err != nil {
		t.Fatalf("LoadMachines: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records", len(got))
	}
	g := got["gen-1"]
	if g.Energy != 900 || g.Tick != 80 || len(g.Items) != 2 || g.Items[1] != 4 {
		t.Fatalf("gen-1: %+v", g)
	}
	m := got["melter-1"]
	if m.Owner != recs[1].Owner || m.Access != "private" || !m.Powered || m.Tick != 40 {
		t.Fatalf("melter-1: %+v", m)
	}
	if string(m.Faces) != string(recs[1].Faces) {
		t.Fatalf("faces: %v", m.Faces)
	}
}

func TestStoreWritesAudits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "machines.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	_ = s.WriteAudit(world.AuditEntry{Tick: 3, Session: "S000001", Viewer: "v", Machine: "gen-1", Op: "OPEN_MENU", Accepted: true})
	_ = s.WriteAudit(world.AuditEntry{Tick: 3, Session: "S000001", Viewer: "v", Machine: "gen-1", Op: "CONTROL", Code: "E_NO_PERMISSION"})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()
	var (
		seq  int
		code string
	)
	row := db.QueryRow(`SELECT seq,code FROM audits WHERE tick=3 AND accepted=0`)
	if err := row.Scan(&seq, &code); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if seq != 1 || code != "E_NO_PERMISSION" {
		t.Fatalf("row mismatch: seq=%d code=%q", seq, code)
	}
}

func TestStoreQueueDropStats(t *testing.T) {
	s := &Store{ch: make(chan req, 1)}
	s.ch <- req{kind: reqAudit}

	if err := s.SaveMachines(1, nil); err == nil {
		t.Fatalf("expected full queue error")
	}
	_ = s.WriteAudit(world.AuditEntry{Tick: 1})

	st := s.Stats()
	if st.DropSaveTotal != 1 || st.DropAuditTotal != 1 {
		t.Fatalf("drops: %+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

// bootRun runs one server lifetime on the database at path: load, step, one
// audit at the current tick, set gen-1's energy, flush. It returns the energy
// loaded at startup.
func bootRun(t *testing.T, path string, steps int, energy int64) int64 {
	t.Helper()
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	gen, err := machine.New(machine.KindGenerator, "gen-1")
	if err != nil {
		t.Fatalf("machine.New: %v", err)
	}
	w, err := world.New(world.Config{TickRateHz: 20}, []*machine.Machine{gen}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	w.SetMachineStore(s)
	if _, err := w.LoadState(context.Background()); err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	loaded := gen.Energy
	for i := 0; i < steps; i++ {
		w.StepOnce()
	}
	_ = s.WriteAudit(world.AuditEntry{Tick: w.CurrentTick(), Session: "S000001", Viewer: "v", Machine: "gen-1", Op: "CONTROL", Accepted: true})
	gen.Energy = energy
	w.Flush()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return loaded
}

func TestStoreRestartKeepsEveryRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "machines.db")
	bootRun(t, path, 500, 111)
	if got := bootRun(t, path, 10, 222); got != 111 {
		t.Fatalf("second run loaded energy=%d", got)
	}
	if got := bootRun(t, path, 3, 333); got != 222 {
		t.Fatalf("third run loaded energy=%d, want 222", got)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM audits`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("audit rows=%d, want one per run", n)
	}
	var tick int64
	if err := db.QueryRow(`SELECT tick FROM machines WHERE id='gen-1'`).Scan(&tick); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if tick != 515 {
		t.Fatalf("machine tick=%d", tick)
	}
}

func TestStoreAuditSeqContinuesAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "machines.db")
	for i := 0; i < 2; i++ {
		s, err := OpenSQLite(path)
		if err != nil {
			t.Fatalf("OpenSQLite: %v", err)
		}
		_ = s.WriteAudit(world.AuditEntry{Tick: 7, Session: "S000001", Viewer: "v", Machine: "gen-1", Op: "OPEN_MENU", Accepted: true})
		if err := s.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()
	var n, maxSeq int
	if err := db.QueryRow(`SELECT COUNT(*), MAX(seq) FROM audits WHERE tick=7`).Scan(&n, &maxSeq); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if n != 2 || maxSeq != 1 {
		t.Fatalf("rows=%d max seq=%d", n, maxSeq)
	}
}
