// Package ioface describes how each side of a machine exchanges resources and
// packs a (resource type, flow) pair into a single byte.
package ioface

import "fmt"

// ResourceType is the kind of resource a face accepts.
type ResourceType uint8

const (
	ResourceNone ResourceType = iota
	ResourceEnergy
	ResourceItem
	ResourceFluid
	ResourceAny

	resourceTypeCount
)

// ResourceFlow is the direction resources may move through a face.
type ResourceFlow uint8

const (
	FlowInput ResourceFlow = iota
	FlowOutput
	FlowBoth

	resourceFlowCount
)

const (
	// FlowBits is the low-bit width reserved for the flow ordinal.
	FlowBits = 2
	FlowMask = 1<<FlowBits - 1
	// TypeBits is what remains of the byte for the type ordinal.
	TypeBits = 8 - FlowBits
)

func init() {
	if resourceFlowCount > 1<<FlowBits {
		panic(fmt.Sprintf("ioface: %d flows do not fit in %d bits", resourceFlowCount, FlowBits))
	}
	if resourceTypeCount > 1<<TypeBits {
		panic(fmt.Sprintf("ioface: %d resource types do not fit in %d bits", resourceTypeCount, TypeBits))
	}
}

// ResourceTypes lists every resource type in ordinal order.
func ResourceTypes() []ResourceType {
	return []ResourceType{ResourceNone, ResourceEnergy, ResourceItem, ResourceFluid, ResourceAny}
}

// ResourceFlows lists every flow in ordinal order.
func ResourceFlows() []ResourceFlow {
	return []ResourceFlow{FlowInput, FlowOutput, FlowBoth}
}

// Pack encodes t and f into one byte: flow in the low FlowBits, type above.
// Callers pass valid enum values; nothing is checked here.
func Pack(t ResourceType, f ResourceFlow) byte {
	return byte(t)<<FlowBits | byte(f)
}

func UnpackType(b byte) ResourceType { return ResourceType(b >> FlowBits) }

func UnpackFlow(b byte) ResourceFlow { return ResourceFlow(b & FlowMask) }

func (t ResourceType) Valid() bool { return t < resourceTypeCount }

func (f ResourceFlow) Valid() bool { return f < resourceFlowCount }

func (t ResourceType) String() string {
	switch t {
	case ResourceNone:
		return "none"
	case ResourceEnergy:
		return "energy"
	case ResourceItem:
		return "item"
	case ResourceFluid:
		return "fluid"
	case ResourceAny:
		return "any"
	default:
		return fmt.Sprintf("resource(%d)", uint8(t))
	}
}

func (f ResourceFlow) String() string {
	switch f {
	case FlowInput:
		return "input"
	case FlowOutput:
		return "output"
	case FlowBoth:
		return "both"
	default:
		return fmt.Sprintf("flow(%d)", uint8(f))
	}
}
