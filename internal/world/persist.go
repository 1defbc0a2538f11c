package world

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"machinesync.dev/internal/ioface"
	"machinesync.dev/internal/machine"
)

// MachineRecord is the persisted part of a machine.
type MachineRecord struct {
	ID       string  `json:"id"`
	Kind     string  `json:"kind"`
	Energy   int64   `json:"energy"`
	Fluid    int64   `json:"fluid"`
	Progress int32   `json:"progress"`
	Items    []int64 `json:"items"`
	Redstone string  `json:"redstone"`
	Powered  bool    `json:"powered"`
	Owner    string  `json:"owner,omitempty"`
	Access   string  `json:"access"`
	Faces    []byte  `json:"faces"`
	Tick     uint64  `json:"tick"`
}

type MachineStore interface {
	LoadMachines(ctx context.Context) (map[string]MachineRecord, error)
	// SaveMachines queues recs for writing and must not block the tick loop.
	SaveMachines(tick uint64, recs []MachineRecord) error
}

func RecordOf(m *machine.Machine, tick uint64) MachineRecord {
	r := MachineRecord{
		ID:       m.ID,
		Kind:     string(m.Kind),
		Energy:   m.Energy,
		Fluid:    m.Fluid,
		Progress: m.Progress,
		Items:    append([]int64(nil), m.Items...),
		Redstone: m.Redstone.String(),
		Powered:  m.State.Powered,
		Access:   m.Security.Access.String(),
		Faces:    m.IO.Packed(),
		Tick:     tick,
	}
	if m.Security.Owner != uuid.Nil {
		r.Owner = m.Security.Owner.String()
	}
	return r
}

// Apply restores r onto m. The kind must match; config-only fields such as
// position are left alone.
func (r MachineRecord) Apply(m *machine.Machine) error {
	if r.Kind != string(m.Kind) {
		return fmt.Errorf("machine %q: stored kind %q, configured %q", m.ID, r.Kind, m.Kind)
	}
	faces, err := ioface.ConfigFromPacked(r.Faces)
	if err != nil {
		return fmt.Errorf("machine %q: %w", m.ID, err)
	}
	mode, ok := machine.ParseRedstoneMode(r.Redstone)
	if !ok {
		return fmt.Errorf("machine %q: redstone %q", m.ID, r.Redstone)
	}
	access, ok := machine.ParseAccessLevel(r.Access)
	if !ok {
		return fmt.Errorf("machine %q: access %q", m.ID, r.Access)
	}
	var owner uuid.UUID
	if r.Owner != "" {
		if owner, err = uuid.Parse(r.Owner); err != nil {
			return fmt.Errorf("machine %q: owner: %w", m.ID, err)
		}
	}
	m.Energy = min(max(r.Energy, 0), m.Capacity)
	m.Fluid = r.Fluid
	m.Progress = r.Progress
	copy(m.Items, r.Items)
	m.Redstone = mode
	m.State.Powered = r.Powered
	m.Security = machine.Security{Owner: owner, Access: access}
	m.IO = faces
	return nil
}

// LoadState applies stored records to the configured machines. Machines with no
// record keep their configured state. The tick resumes after the newest record,
// so saves and audits of this run sort after those of earlier runs.
// Call it before Run.
func (w *World) LoadState(ctx context.Context) (int, error) {
	if w.store == nil {
		return 0, nil
	}
	recs, err := w.store.LoadMachines(ctx)
	if err != nil {
		return 0, err
	}
	if len(recs) > 0 {
		var last uint64
		for _, r := range recs {
			last = max(last, r.Tick)
		}
		if next := last + 1; next > w.tick.Load() {
			w.tick.Store(next)
			w.log.Printf("load: resume at tick %d", next)
		}
	}
	n := 0
	for _, id := range w.order {
		r, ok := recs[id]
		if !ok {
			continue
		}
		if err := r.Apply(w.machines[id]); err != nil {
			w.log.Printf("load: %v", err)
			continue
		}
		n++
	}
	return n, nil
}

func (w *World) save(tick uint64) {
	recs := make([]MachineRecord, 0, len(w.order))
	for _, id := range w.order {
		recs = append(recs, RecordOf(w.machines[id], tick))
	}
	if err := w.store.SaveMachines(tick, recs); err != nil {
		w.log.Printf("save tick=%d: %v", tick, err)
	}
}

// Flush queues a save of every machine. Call it only with the loop stopped.
func (w *World) Flush() {
	if w.store != nil {
		w.save(w.tick.Load())
	}
}
