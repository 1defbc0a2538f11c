package ioface

import (
	"fmt"
	"strings"
)

// BlockFace is a side of a machine relative to the direction it faces.
type BlockFace uint8

const (
	FaceFront BlockFace = iota
	FaceRight
	FaceBack
	FaceLeft
	FaceTop
	FaceBottom

	FaceCount = 6
)

func (b BlockFace) Valid() bool { return b < FaceCount }

func (b BlockFace) String() string {
	switch b {
	case FaceFront:
		return "front"
	case FaceRight:
		return "right"
	case FaceBack:
		return "back"
	case FaceLeft:
		return "left"
	case FaceTop:
		return "top"
	case FaceBottom:
		return "bottom"
	default:
		return fmt.Sprintf("face(%d)", uint8(b))
	}
}

// ParseBlockFace accepts the names String returns.
func ParseBlockFace(s string) (BlockFace, bool) {
	for b := FaceFront; b < FaceCount; b++ {
		if b.String() == s {
			return b, true
		}
	}
	return 0, false
}

// Face is the resource option configured on one side.
// A face of type None always has flow Both.
type Face struct {
	Type ResourceType
	Flow ResourceFlow
}

var defaultFace = Face{Type: ResourceNone, Flow: FlowBoth}

func (f Face) Packed() byte { return Pack(f.Type, f.Flow) }

// String renders "none" or "type/flow", the form ParseFace reads.
func (f Face) String() string {
	if f.Type == ResourceNone {
		return "none"
	}
	return f.Type.String() + "/" + f.Flow.String()
}

func ParseFace(s string) (Face, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "none" {
		return defaultFace, nil
	}
	ts, fs, ok := strings.Cut(s, "/")
	if !ok {
		return Face{}, fmt.Errorf("ioface: face %q: want type/flow", s)
	}
	var f Face
	found := false
	for _, t := range ResourceTypes() {
		if t.String() == ts {
			f.Type, found = t, true
		}
	}
	if !found || f.Type == ResourceNone {
		return Face{}, fmt.Errorf("ioface: face %q: unknown resource type", s)
	}
	found = false
	for _, fl := range ResourceFlows() {
		if fl.String() == fs {
			f.Flow, found = fl, true
		}
	}
	if !found {
		return Face{}, fmt.Errorf("ioface: face %q: unknown flow", s)
	}
	return f, nil
}

func FaceFromPacked(b byte) Face {
	return Face{Type: UnpackType(b), Flow: UnpackFlow(b)}
}

// Config holds the six faces of a machine, indexed by BlockFace.
type Config [FaceCount]Face

func DefaultConfig() Config {
	var c Config
	for i := range c {
		c[i] = defaultFace
	}
	return c
}

func (c Config) Get(b BlockFace) Face { return c[b] }

func (c *Config) Set(b BlockFace, f Face) { c[b] = f }

// Packed returns one packed byte per face in BlockFace order.
func (c Config) Packed() []byte {
	out := make([]byte, FaceCount)
	for i, f := range c {
		out[i] = f.Packed()
	}
	return out
}

// ConfigFromPacked is the inverse of Packed. Short input leaves the remaining faces at default.
func ConfigFromPacked(b []byte) (Config, error) {
	c := DefaultConfig()
	if len(b) > FaceCount {
		return c, fmt.Errorf("ioface: %d packed faces, max %d", len(b), FaceCount)
	}
	for i, p := range b {
		f := FaceFromPacked(p)
		if !f.Type.Valid() || !f.Flow.Valid() {
			return c, fmt.Errorf("ioface: invalid packed face 0x%02x at %s", p, BlockFace(i))
		}
		c[i] = f
	}
	return c, nil
}

// Changed returns the faces whose option differs from prev, in BlockFace order.
func (c Config) Changed(prev Config) []BlockFace {
	var out []BlockFace
	for i := range c {
		if c[i] != prev[i] {
			out = append(out, BlockFace(i))
		}
	}
	return out
}
