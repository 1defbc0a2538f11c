package ioface

// Options is a bitmask of face options a machine supports.
// Bit (type-1)*3+flow marks a (type, flow) pair for every type above None;
// bit optionNone marks the None option, which is always available.
type Options uint16

const (
	optionNone  = 12
	optionCount = 13
)

func optionIndex(f Face) int {
	if f.Type == ResourceNone {
		return optionNone
	}
	return int(f.Type-1)*3 + int(f.Flow)
}

func optionFace(i int) Face {
	if i == optionNone {
		return defaultFace
	}
	return Face{Type: ResourceType(i/3 + 1), Flow: ResourceFlow(i % 3)}
}

func (o Options) Allow(t ResourceType, f ResourceFlow) Options {
	if t == ResourceNone {
		return o
	}
	return o | 1<<optionIndex(Face{Type: t, Flow: f})
}

// AllowAll adds every flow of t.
func (o Options) AllowAll(t ResourceType) Options {
	for _, f := range ResourceFlows() {
		o = o.Allow(t, f)
	}
	return o
}

func (o Options) Allows(f Face) bool {
	if f.Type == ResourceNone {
		return true
	}
	return o&(1<<optionIndex(f)) != 0
}

// Cycle returns the next allowed option after cur (or the previous one when reverse).
// reset, or a machine with no options beyond None, always yields None/Both.
func (o Options) Cycle(cur Face, reverse, reset bool) Face {
	mask := o | 1<<optionNone
	if reset || mask == 1<<optionNone {
		return defaultFace
	}
	start := optionIndex(cur)
	step := 1
	if reverse {
		step = -1
	}
	for i := (start + step + optionCount) % optionCount; i != start; i = (i + step + optionCount) % optionCount {
		if mask&(1<<i) != 0 {
			return optionFace(i)
		}
	}
	return cur
}
