// Package world runs the server tick loop that owns every machine and its menu senders.
package world

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"machinesync.dev/internal/endpoint"
	"machinesync.dev/internal/machine"
	"machinesync.dev/internal/menusync"
	"machinesync.dev/internal/metrics"
	"machinesync.dev/internal/protocol"
	"machinesync.dev/internal/syncproto"
)

type Config struct {
	TickRateHz     int
	SaveEveryTicks int
	MenusPerViewer int
}

type AuditEntry struct {
	Tick     uint64 `json:"tick"`
	Session  string `json:"session"`
	Viewer   string `json:"viewer"`
	Machine  string `json:"machine"`
	Op       string `json:"op"`
	Detail   string `json:"detail,omitempty"`
	Accepted bool   `json:"accepted"`
	Code     string `json:"code,omitempty"`
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

type World struct {
	cfg Config
	log *log.Logger
	ch  syncproto.Channels

	machines map[string]*machine.Machine
	order    []string
	blockKey map[string]uint64
	senders  map[string]*endpoint.Sender

	sessions map[string]*session
	menus    map[uint64]menuRef
	nextKey  uint64
	nextSess uint64

	join    chan JoinRequest
	leave   chan string
	open    chan OpenRequest
	closeCh chan CloseRequest
	control chan ControlRequest
	stop    chan struct{}

	tick atomic.Uint64
	snap atomic.Pointer[Snapshot]

	store       MachineStore
	auditLogger AuditLogger
	syncTrace   endpoint.TraceLogger
}

type menuRef struct {
	session string
	machine string
}

func New(cfg Config, machines []*machine.Machine, logger *log.Logger) (*World, error) {
	if cfg.TickRateHz <= 0 {
		return nil, fmt.Errorf("tick rate must be > 0")
	}
	if logger == nil {
		return nil, fmt.Errorf("nil logger")
	}
	w := &World{
		cfg:      cfg,
		log:      logger,
		ch:       syncproto.DefaultChannels(),
		machines: map[string]*machine.Machine{},
		blockKey: map[string]uint64{},
		senders:  map[string]*endpoint.Sender{},
		sessions: map[string]*session{},
		menus:    map[uint64]menuRef{},
		join:     make(chan JoinRequest, 64),
		leave:    make(chan string, 64),
		open:     make(chan OpenRequest, 256),
		closeCh:  make(chan CloseRequest, 256),
		control:  make(chan ControlRequest, 1024),
		stop:     make(chan struct{}),
	}
	for _, m := range machines {
		if _, dup := w.machines[m.ID]; dup {
			return nil, fmt.Errorf("duplicate machine %q", m.ID)
		}
		w.machines[m.ID] = m
		w.order = append(w.order, m.ID)
	}
	sort.Strings(w.order)
	for i, id := range w.order {
		m := w.machines[id]
		w.blockKey[id] = uint64(i + 1)
		s := endpoint.NewSender(w.ch.MenuSync, id, func(reg *menusync.Registry) error {
			return machine.Bind(reg, m)
		}, logger)
		w.senders[id] = s
	}
	return w, nil
}

func (w *World) SetMachineStore(s MachineStore) { w.store = s }
func (w *World) SetAuditLogger(l AuditLogger)   { w.auditLogger = l }
func (w *World) SetSyncTraceLogger(l endpoint.TraceLogger) {
	w.syncTrace = l
	for _, s := range w.senders {
		s.SetTraceLogger(l)
	}
}

func (w *World) Join() chan<- JoinRequest       { return w.join }
func (w *World) Leave() chan<- string           { return w.leave }
func (w *World) Open() chan<- OpenRequest       { return w.open }
func (w *World) Close() chan<- CloseRequest     { return w.closeCh }
func (w *World) Control() chan<- ControlRequest { return w.control }

func (w *World) Channels() syncproto.Channels { return w.ch }
func (w *World) CurrentTick() uint64          { return w.tick.Load() }
func (w *World) TickRateHz() int              { return w.cfg.TickRateHz }

// Machine returns the live machine. Only the loop goroutine, or a caller with the
// loop stopped, may touch it.
func (w *World) Machine(id string) *machine.Machine { return w.machines[id] }

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.join:
			w.handleJoin(req)
		case id := <-w.leave:
			w.handleLeave(id)
		case req := <-w.open:
			w.handleOpen(req)
		case req := <-w.closeCh:
			w.handleClose(req)
		case req := <-w.control:
			w.handleControl(req)
		case <-ticker.C:
			w.step()
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// StepOnce advances one tick on the caller's goroutine. It is meant for tests
// and must not race with Run.
func (w *World) StepOnce() uint64 {
	t := w.tick.Load()
	w.step()
	return t
}

func (w *World) step() {
	start := time.Now()
	tick := w.tick.Load()
	for _, id := range w.order {
		w.machines[id].Tick()
	}
	for _, id := range w.order {
		w.senders[id].Tick(tick)
	}
	if w.store != nil && w.cfg.SaveEveryTicks > 0 && tick > 0 && tick%uint64(w.cfg.SaveEveryTicks) == 0 {
		w.save(tick)
	}
	w.publish(tick)
	w.tick.Add(1)
	metrics.TickDuration.Observe(time.Since(start).Seconds())
}

func (w *World) machineRefs() []protocol.MachineRef {
	out := make([]protocol.MachineRef, 0, len(w.order))
	for _, id := range w.order {
		m := w.machines[id]
		out = append(out, protocol.MachineRef{
			MachineID: id,
			Kind:      string(m.Kind),
			Pos:       [3]int{m.Pos.X, m.Pos.Y, m.Pos.Z},
			BlockKey:  w.blockKey[id],
			Faces:     m.IO.Packed(),
		})
	}
	return out
}

func (w *World) audit(e AuditEntry) {
	if w.auditLogger == nil {
		return
	}
	if err := w.auditLogger.WriteAudit(e); err != nil {
		w.log.Printf("audit: %v", err)
	}
}
