// Package snapshot stores machine state as zstd compressed gob files, one per save.
package snapshot

import (
	"bufio"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"machinesync.dev/internal/world"
)

const Version = 1

type Header struct {
	Version  int    `json:"version"`
	Tick     uint64 `json:"tick"`
	Machines int    `json:"machines"`
}

type SnapshotV1 struct {
	Header   Header
	Machines []world.MachineRecord
}

const suffix = ".snap.zst"

func WriteSnapshot(path string, snap SnapshotV1) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	// Write beside the target and rename so a crash never leaves a torn latest file.
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)

	// The header line is for tools; gob carries it too.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// List returns the snapshot files in dir ordered by tick.
func List(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	type entry struct {
		tick uint64
		path string
	}
	var out []entry
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, suffix), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, entry{tick: tick, path: filepath.Join(dir, name)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].tick < out[j].tick })
	paths := make([]string, len(out))
	for i, e := range out {
		paths[i] = e.path
	}
	return paths, nil
}

// FileStore is a world.MachineStore that writes one snapshot per save on a
// background goroutine and keeps the newest Keep files.
type FileStore struct {
	dir  string
	keep int
	log  *log.Logger

	ch   chan SnapshotV1
	wg   sync.WaitGroup
	once sync.Once
}

func NewFileStore(dir string, keep int, logger *log.Logger) *FileStore {
	if keep <= 0 {
		keep = 8
	}
	s := &FileStore{dir: dir, keep: keep, log: logger, ch: make(chan SnapshotV1, 2)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for snap := range s.ch {
			s.write(snap)
		}
	}()
	return s
}

func (s *FileStore) LoadMachines(ctx context.Context) (map[string]world.MachineRecord, error) {
	paths, err := List(s.dir)
	if err != nil {
		return nil, err
	}
	out := map[string]world.MachineRecord{}
	// Fall back to older files when the newest is unreadable.
	for i := len(paths) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		snap, err := ReadSnapshot(paths[i])
		if err != nil {
			s.log.Printf("snapshot %s: %v", filepath.Base(paths[i]), err)
			continue
		}
		for _, r := range snap.Machines {
			out[r.ID] = r
		}
		return out, nil
	}
	return out, nil
}

func (s *FileStore) SaveMachines(tick uint64, recs []world.MachineRecord) error {
	snap := SnapshotV1{Header: Header{Version: Version, Tick: tick, Machines: len(recs)}, Machines: recs}
	select {
	case s.ch <- snap:
		return nil
	default:
		return fmt.Errorf("snapshot writer busy, skipped tick %d", tick)
	}
}

// WriteAudit is a no-op; the JSONL audit log is the only audit sink for this backend.
func (s *FileStore) WriteAudit(world.AuditEntry) error { return nil }

func (s *FileStore) Close() error {
	s.once.Do(func() {
		close(s.ch)
		s.wg.Wait()
	})
	return nil
}

func (s *FileStore) write(snap SnapshotV1) {
	path := filepath.Join(s.dir, fmt.Sprintf("%d%s", snap.Header.Tick, suffix))
	if err := WriteSnapshot(path, snap); err != nil {
		s.log.Printf("snapshot write: %v", err)
		return
	}
	paths, err := List(s.dir)
	if err != nil {
		return
	}
	for len(paths) > s.keep {
		_ = os.Remove(paths[0])
		paths = paths[1:]
	}
}
