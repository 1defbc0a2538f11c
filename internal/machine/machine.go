// Package machine models the stateful blocks whose menus are replicated to viewers.
package machine

import (
	"errors"
	"fmt"

	"machinesync.dev/internal/ioface"
)

type Kind string

const (
	KindGenerator Kind = "generator"
	KindMelter    Kind = "melter"
)

var (
	ErrUnknownKind = errors.New("machine: unknown kind")
	ErrBadSlot     = errors.New("machine: item slot out of range")
	ErrSlotLocked  = errors.New("machine: item slot is locked")
)

// Generator burns fuel items into energy.
const (
	GeneratorCapacity       = 30000
	GeneratorRate           = 250
	GeneratorFuelTicks      = 200
	GeneratorSlotBattery    = 0
	GeneratorSlotFuel       = 1
	generatorItemSlotCount  = 2
	generatorMaxEnergyDrain = GeneratorRate + GeneratorRate/2
)

// Melter spends energy to melt input items into fluid.
const (
	MelterCapacity       = 30000
	MelterEnergyUsage    = 250
	MelterProcessTicks   = 200
	MelterFluidPerItem   = 750
	MelterFluidCapacity  = 16000
	MelterSlotBattery    = 0
	MelterSlotInput      = 1
	MelterSlotOutput     = 2
	melterItemSlotCount  = 3
	defaultItemSlotLimit = 64
)

type Pos struct{ X, Y, Z int }

func (p Pos) String() string { return fmt.Sprintf("%d,%d,%d", p.X, p.Y, p.Z) }

// Machine is owned by the world goroutine; nothing here locks.
type Machine struct {
	ID   string
	Kind Kind
	Pos  Pos

	Energy   int64
	Capacity int64

	Items []int64
	// Locked marks item slots that refuse insertion, one per item slot.
	Locked []bool
	Fluid  int64

	Progress    int32
	MaxProgress int32

	Redstone RedstoneMode
	IO       ioface.Config
	Security Security
	State    State

	options  ioface.Options
	burnTime int32
}

// New returns an empty machine of kind. The same constructor builds the viewer's mirror.
func New(kind Kind, id string) (*Machine, error) {
	m := &Machine{ID: id, Kind: kind, IO: ioface.DefaultConfig()}
	m.State.Status = StatusNone
	switch kind {
	case KindGenerator:
		m.Capacity = GeneratorCapacity
		m.Items = make([]int64, generatorItemSlotCount)
		m.options = ioface.Options(0).
			Allow(ioface.ResourceEnergy, ioface.FlowOutput).
			Allow(ioface.ResourceItem, ioface.FlowInput)
	case KindMelter:
		m.Capacity = MelterCapacity
		m.Items = make([]int64, melterItemSlotCount)
		m.MaxProgress = MelterProcessTicks
		m.options = ioface.Options(0).
			Allow(ioface.ResourceEnergy, ioface.FlowInput).
			Allow(ioface.ResourceItem, ioface.FlowInput).
			AllowAll(ioface.ResourceFluid)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	m.Locked = make([]bool, len(m.Items))
	return m, nil
}

func (m *Machine) Options() ioface.Options { return m.options }

// CycleFace advances face to the next option the machine supports and returns it.
func (m *Machine) CycleFace(face ioface.BlockFace, reverse, reset bool) (ioface.Face, bool) {
	if !face.Valid() {
		return ioface.Face{}, false
	}
	next := m.options.Cycle(m.IO.Get(face), reverse, reset)
	m.IO.Set(face, next)
	return next, true
}

// SetFace stores f if the machine supports it.
func (m *Machine) SetFace(face ioface.BlockFace, f ioface.Face) bool {
	if !face.Valid() || !m.options.Allows(f) {
		return false
	}
	m.IO.Set(face, f)
	return true
}

// InsertItems adds up to n items to slot and returns how many fit.
func (m *Machine) InsertItems(slot int, n int64) (int64, error) {
	if slot < 0 || slot >= len(m.Items) {
		return 0, fmt.Errorf("%w: %d of %d", ErrBadSlot, slot, len(m.Items))
	}
	if m.Locked[slot] {
		return 0, fmt.Errorf("%w: %d", ErrSlotLocked, slot)
	}
	if n <= 0 {
		return 0, nil
	}
	room := defaultItemSlotLimit - m.Items[slot]
	if n > room {
		n = room
	}
	m.Items[slot] += n
	return n, nil
}

// SetLocked locks or unlocks an item slot.
func (m *Machine) SetLocked(slot int, locked bool) error {
	if slot < 0 || slot >= len(m.Locked) {
		return fmt.Errorf("%w: %d of %d", ErrBadSlot, slot, len(m.Locked))
	}
	m.Locked[slot] = locked
	return nil
}

// Tick runs one simulation step.
func (m *Machine) Tick() {
	if !m.Redstone.IsActive(m.State.Powered) {
		m.State.set(StatusOther, "disabled")
		return
	}
	switch m.Kind {
	case KindGenerator:
		m.tickGenerator()
	case KindMelter:
		m.tickMelter()
	}
}

func (m *Machine) tickGenerator() {
	if m.Energy < m.Capacity && m.burnTime == 0 && m.Items[GeneratorSlotFuel] > 0 {
		m.Items[GeneratorSlotFuel]--
		m.burnTime = GeneratorFuelTicks
	}
	// Charge a battery sitting in the battery slot.
	if m.Items[GeneratorSlotBattery] > 0 && m.Energy > 0 {
		m.Energy -= min(m.Energy, generatorMaxEnergyDrain)
	}
	if m.burnTime == 0 {
		m.State.set(StatusMissingResource, "no fuel")
		return
	}
	m.burnTime--
	if m.Energy >= m.Capacity {
		m.State.set(StatusOutputFull, "energy full")
		return
	}
	m.Energy = min(m.Capacity, m.Energy+GeneratorRate)
	m.State.set(StatusWorking, "generating")
}

func (m *Machine) tickMelter() {
	if m.Items[MelterSlotBattery] > 0 {
		m.Energy = min(m.Capacity, m.Energy+2*MelterEnergyUsage)
	}
	if m.Items[MelterSlotInput] == 0 {
		m.Progress = 0
		m.State.set(StatusMissingItems, "idle")
		return
	}
	if m.Fluid+MelterFluidPerItem > MelterFluidCapacity {
		if m.Progress > 0 {
			m.Progress--
		}
		m.State.set(StatusOutputFull, "tank full")
		return
	}
	if m.Energy < MelterEnergyUsage {
		if m.Progress > 0 {
			m.Progress--
		}
		m.State.set(StatusMissingEnergy, "not enough energy")
		return
	}
	m.Energy -= MelterEnergyUsage
	m.Progress++
	if m.Progress >= m.MaxProgress {
		m.Progress = 0
		m.Items[MelterSlotInput]--
		m.Fluid += MelterFluidPerItem
	}
	m.State.set(StatusWorking, "melting")
}
