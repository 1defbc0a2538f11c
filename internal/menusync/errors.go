package menusync

import "errors"

var (
	// ErrShapeMismatch means sender and receiver registries disagree on slot layout.
	// The message cannot be applied.
	ErrShapeMismatch = errors.New("menusync: registry shape mismatch")
	// ErrIndexOutOfRange is a shape mismatch detected on a delta index byte.
	ErrIndexOutOfRange = errors.New("menusync: slot index out of range")
	ErrTruncated       = errors.New("menusync: truncated payload")

	ErrRegistryFull = errors.New("menusync: registry holds the maximum number of slots")
	ErrSealed       = errors.New("menusync: registry is sealed")

	// ErrReceiveOnly is returned when a receiving registry is asked to produce a sync.
	ErrReceiveOnly = errors.New("menusync: registry is receive-only")
	// ErrSendOnly is returned when a sending registry is asked to decode a sync.
	ErrSendOnly = errors.New("menusync: registry is send-only")
)
