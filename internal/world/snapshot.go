package world

import "github.com/google/uuid"

// MachineStatus is a read-only copy of one machine for status pages.
type MachineStatus struct {
	ID          string   `json:"id"`
	Kind        string   `json:"kind"`
	Pos         [3]int   `json:"pos"`
	Energy      int64    `json:"energy"`
	Capacity    int64    `json:"capacity"`
	Fluid       int64    `json:"fluid"`
	Items       []int64  `json:"items"`
	Locked      []bool   `json:"locked"`
	Progress    int32    `json:"progress"`
	MaxProgress int32    `json:"max_progress,omitempty"`
	Redstone    string   `json:"redstone"`
	Powered     bool     `json:"powered"`
	Access      string   `json:"access"`
	Owner       string   `json:"owner,omitempty"`
	Status      int8     `json:"status"`
	StatusText  string   `json:"status_text,omitempty"`
	Faces       []string `json:"faces"`
	Viewers     int      `json:"viewers"`
}

type Snapshot struct {
	Tick     uint64          `json:"tick"`
	Sessions int             `json:"sessions"`
	Menus    int             `json:"menus"`
	Machines []MachineStatus `json:"machines"`
}

// Snapshot returns the state published at the end of the last tick. It is safe
// to call from any goroutine.
func (w *World) Snapshot() Snapshot {
	if s := w.snap.Load(); s != nil {
		return *s
	}
	return Snapshot{}
}

func (w *World) publish(tick uint64) {
	s := &Snapshot{
		Tick:     tick,
		Sessions: len(w.sessions),
		Menus:    len(w.menus),
		Machines: make([]MachineStatus, 0, len(w.order)),
	}
	for _, id := range w.order {
		m := w.machines[id]
		st := MachineStatus{
			ID:          id,
			Kind:        string(m.Kind),
			Pos:         [3]int{m.Pos.X, m.Pos.Y, m.Pos.Z},
			Energy:      m.Energy,
			Capacity:    m.Capacity,
			Fluid:       m.Fluid,
			Items:       append([]int64(nil), m.Items...),
			Locked:      append([]bool(nil), m.Locked...),
			Progress:    m.Progress,
			MaxProgress: m.MaxProgress,
			Redstone:    m.Redstone.String(),
			Powered:     m.State.Powered,
			Access:      m.Security.Access.String(),
			Status:      int8(m.State.Status),
			StatusText:  m.State.Text,
			Viewers:     w.senders[id].Sessions(),
		}
		if m.Security.Owner != uuid.Nil {
			st.Owner = m.Security.Owner.String()
		}
		for _, f := range m.IO {
			st.Faces = append(st.Faces, f.String())
		}
		s.Machines = append(s.Machines, st)
	}
	w.snap.Store(s)
}
