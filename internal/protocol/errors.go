package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Menu routing/state.
	ErrMachineNotFound = "E_MACHINE_NOT_FOUND"
	ErrMenuNotOpen     = "E_MENU_NOT_OPEN"
	ErrMenuBusy        = "E_MENU_BUSY"

	// Control layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrNoPermission  = "E_NO_PERMISSION"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrUnsupported   = "E_UNSUPPORTED"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrMachineNotFound: {},
	ErrMenuNotOpen:     {},
	ErrMenuBusy:        {},
	ErrBadRequest:      {},
	ErrNoPermission:    {},
	ErrInvalidTarget:   {},
	ErrUnsupported:     {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
