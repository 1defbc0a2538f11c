// Package machinedb keeps machine state and the request audit in SQLite.
package machinedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"machinesync.dev/internal/world"
)

type Store struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropSave  atomic.Uint64
	dropAudit atomic.Uint64
}

type reqKind int

const (
	reqSave reqKind = iota + 1
	reqAudit
)

type req struct {
	kind reqKind

	tick  uint64
	recs  []world.MachineRecord
	audit world.AuditEntry
}

type Stats struct {
	QueueDepth     int
	QueueCapacity  int
	DropSaveTotal  uint64
	DropAuditTotal uint64
}

func OpenSQLite(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, ch: make(chan req, 4096)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS machines (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			energy INTEGER NOT NULL,
			fluid INTEGER NOT NULL,
			progress INTEGER NOT NULL,
			items_json TEXT NOT NULL,
			redstone TEXT NOT NULL,
			powered INTEGER NOT NULL,
			owner TEXT,
			access TEXT NOT NULL,
			faces BLOB NOT NULL,
			tick INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS audits (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			session TEXT NOT NULL,
			viewer TEXT NOT NULL,
			machine TEXT NOT NULL,
			op TEXT NOT NULL,
			accepted INTEGER NOT NULL,
			code TEXT,
			detail TEXT,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_machine_tick ON audits(machine, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_viewer_tick ON audits(viewer, tick);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains queued writes and closes the database.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *Store) Stats() Stats {
	return Stats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropSaveTotal:  s.dropSave.Load(),
		DropAuditTotal: s.dropAudit.Load(),
	}
}

// LoadMachines returns the last saved record of every machine.
func (s *Store) LoadMachines(ctx context.Context) (map[string]world.MachineRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,kind,energy,fluid,progress,items_json,redstone,powered,COALESCE(owner,''),access,faces,tick FROM machines`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]world.MachineRecord{}
	for rows.Next() {
		var (
			r     world.MachineRecord
			items string
			tick  int64
		)
		if err := rows.Scan(&r.ID, &r.Kind, &r.Energy, &r.Fluid, &r.Progress, &items, &r.Redstone, &r.Powered, &r.Owner, &r.Access, &r.Faces, &tick); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(items), &r.Items); err != nil {
			return nil, fmt.Errorf("machine %q items: %w", r.ID, err)
		}
		r.Tick = uint64(tick)
		out[r.ID] = r
	}
	return out, rows.Err()
}

// SaveMachines queues recs. A full queue drops the save; the next one replaces it.
func (s *Store) SaveMachines(tick uint64, recs []world.MachineRecord) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqSave, tick: tick, recs: recs}:
		return nil
	default:
		s.dropSave.Add(1)
		return fmt.Errorf("save queue full")
	}
}

func (s *Store) WriteAudit(entry world.AuditEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqAudit, audit: entry}:
	default:
		s.dropAudit.Add(1)
	}
	return nil
}

func (s *Store) loop() {
	ctx := context.Background()

	upsertMachine, _ := s.db.Prepare(`INSERT OR REPLACE INTO machines(id,kind,energy,fluid,progress,items_json,redstone,powered,owner,access,faces,tick,updated_at) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertAudit, _ := s.db.Prepare(`INSERT INTO audits(tick,seq,session,viewer,machine,op,accepted,code,detail) VALUES(?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if upsertMachine != nil {
			_ = upsertMachine.Close()
		}
		if insertAudit != nil {
			_ = insertAudit.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second

		lastAuditTick uint64
		auditSeq      int
		auditSeqKnown bool
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqSave:
			if upsertMachine == nil {
				continue
			}
			now := time.Now().UTC().Format(time.RFC3339Nano)
			failed := false
			for _, m := range r.recs {
				items, _ := json.Marshal(m.Items)
				var owner any
				if m.Owner != "" {
					owner = m.Owner
				}
				if _, err := tx.Stmt(upsertMachine).Exec(
					m.ID, m.Kind, m.Energy, m.Fluid, m.Progress, string(items),
					m.Redstone, m.Powered, owner, m.Access, m.Faces, int64(r.tick), now,
				); err != nil {
					failed = true
					break
				}
			}
			if failed {
				rollback()
				continue
			}
			// A save is a consistent cut of all machines; commit it on its own.
			commit()
			continue

		case reqAudit:
			a := r.audit
			if a.Tick != lastAuditTick || !auditSeqKnown {
				lastAuditTick = a.Tick
				auditSeqKnown = true
				// Continue after rows an earlier run wrote for the same tick.
				auditSeq = 0
				_ = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq)+1,0) FROM audits WHERE tick=?`, int64(a.Tick)).Scan(&auditSeq)
			}
			seq := auditSeq
			auditSeq++
			if insertAudit != nil {
				if _, err := tx.Stmt(insertAudit).Exec(
					int64(a.Tick), seq, a.Session, a.Viewer, a.Machine, a.Op, a.Accepted, a.Code, a.Detail,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}
