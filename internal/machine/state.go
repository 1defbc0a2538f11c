package machine

import "fmt"

// RedstoneMode gates whether a machine runs given its redstone signal.
type RedstoneMode uint8

const (
	RedstoneIgnore RedstoneMode = iota
	RedstoneLow
	RedstoneHigh

	redstoneModeCount
)

func (m RedstoneMode) IsActive(powered bool) bool {
	switch m {
	case RedstoneLow:
		return !powered
	case RedstoneHigh:
		return powered
	default:
		return true
	}
}

func (m RedstoneMode) String() string {
	switch m {
	case RedstoneIgnore:
		return "ignore"
	case RedstoneLow:
		return "low"
	case RedstoneHigh:
		return "high"
	default:
		return fmt.Sprintf("redstone(%d)", uint8(m))
	}
}

func ParseRedstoneMode(s string) (RedstoneMode, bool) {
	for m := RedstoneIgnore; m < redstoneModeCount; m++ {
		if m.String() == s {
			return m, true
		}
	}
	return RedstoneIgnore, false
}

// StatusType classifies what a machine did on its last tick.
// StatusNone means no tick has run yet.
type StatusType int8

const (
	StatusNone StatusType = iota - 1
	StatusWorking
	StatusPartiallyWorking
	StatusMissingResource
	StatusMissingFluids
	StatusMissingEnergy
	StatusMissingItems
	StatusOutputFull
	StatusOther

	statusTypeCount
)

func (t StatusType) Active() bool {
	return t == StatusWorking || t == StatusPartiallyWorking
}

func (t StatusType) valid() bool { return t >= StatusNone && t < statusTypeCount }

// State is the runtime status shown in a machine menu.
type State struct {
	Status  StatusType
	Text    string
	Powered bool
}

func (s State) Active() bool { return s.Status.Active() }

func (s *State) set(t StatusType, text string) {
	s.Status, s.Text = t, text
}
