package protocol

import "encoding/json"

const Version = "1.0"

// Message types. Control traffic is JSON text; menu state travels as binary frames.
const (
	TypeHello      = "HELLO"
	TypeWelcome    = "WELCOME"
	TypeOpenMenu   = "OPEN_MENU"
	TypeMenuOpened = "MENU_OPENED"
	TypeCloseMenu  = "CLOSE_MENU"
	TypeMenuClosed = "MENU_CLOSED"
	TypeControl    = "CONTROL"
	TypeAck        = "ACK"
)

// Control operations carried by CONTROL.
const (
	OpSetRedstone = "SET_REDSTONE"
	OpSetAccess   = "SET_ACCESS"
	OpCycleFace   = "CYCLE_FACE"
	OpInsertItem  = "INSERT_ITEM"
	OpLockSlot    = "LOCK_SLOT"
	OpResync      = "RESYNC"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
