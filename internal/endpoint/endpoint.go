// Package endpoint decides when menu state is sent and routes what arrives.
//
// A Sender lives on the server tick goroutine, one per tracked machine. A
// Receiver lives on the viewer goroutine that handles inbound frames. Neither
// locks; both belong to exactly one goroutine.
package endpoint

import (
	"errors"
	"io"
	"log"
)

var (
	ErrKeyInUse  = errors.New("endpoint: routing key already open")
	ErrWrongRole = errors.New("endpoint: registry has the wrong role")
)

// Conn is the outbound half of one viewer connection.
type Conn interface {
	// TrySend queues frame without blocking and reports whether it was accepted.
	// The frame is not reused by the caller.
	TrySend(frame []byte) bool
}

// SyncTrace describes one frame handed to a viewer.
type SyncTrace struct {
	Tick    uint64 `json:"tick"`
	Machine string `json:"machine"`
	Viewer  string `json:"viewer"`
	Key     uint64 `json:"key"`
	Form    string `json:"form"`
	Slots   int    `json:"slots"`
	Bytes   int    `json:"bytes"`
	Dropped bool   `json:"dropped,omitempty"`
}

type TraceLogger interface {
	WriteSync(entry SyncTrace) error
}

func discardLogger(l *log.Logger) *log.Logger {
	if l == nil {
		return log.New(io.Discard, "", 0)
	}
	return l
}
