package protocol

// HELLO (viewer -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ViewerName      string            `json:"viewer_name"`
	ViewerID        string            `json:"viewer_id,omitempty"`
	Capabilities    HelloCapabilities `json:"capabilities"`
}

type HelloCapabilities struct {
	MaxQueue int `json:"max_queue,omitempty"`
}

// WELCOME (server -> viewer)
type WelcomeMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	ViewerID        string       `json:"viewer_id"`
	SessionID       string       `json:"session_id"`
	TickRateHz      int          `json:"tick_rate_hz"`
	Channels        []ChannelRef `json:"channels"`
	Machines        []MachineRef `json:"machines"`
}

type ChannelRef struct {
	ID   uint8  `json:"id"`
	Name string `json:"name"`
}

// MachineRef lists a machine in WELCOME. BlockKey routes io_update frames for it.
type MachineRef struct {
	MachineID string `json:"machine_id"`
	Kind      string `json:"kind"`
	Pos       [3]int `json:"pos"`
	BlockKey  uint64 `json:"block_key"`
	Faces     []byte `json:"faces"`
}

// OPEN_MENU (viewer -> server)
type OpenMenuMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	MachineID       string `json:"machine_id"`
}

// MENU_OPENED (server -> viewer). Key routes the menu's binary frames.
type MenuOpenedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	MachineID       string `json:"machine_id"`
	Kind            string `json:"kind"`
	Key             uint64 `json:"key"`
}

// CLOSE_MENU (viewer -> server)
type CloseMenuMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Key             uint64 `json:"key"`
}

// MENU_CLOSED (server -> viewer), sent when the server ends a menu on its own.
type MenuClosedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Key             uint64 `json:"key"`
	Reason          string `json:"reason,omitempty"`
}

// CONTROL (viewer -> server): one menu interaction. Fields beyond Op and Key
// depend on Op.
type ControlMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	Key             uint64 `json:"key"`
	Op              string `json:"op"`

	Mode    string `json:"mode,omitempty"`
	Access  string `json:"access,omitempty"`
	Face    string `json:"face,omitempty"`
	Reverse bool   `json:"reverse,omitempty"`
	Reset   bool   `json:"reset,omitempty"`
	Slot    int    `json:"slot,omitempty"`
	Count   int64  `json:"count,omitempty"`
	Locked  bool   `json:"locked,omitempty"`
}

type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	ServerTick      uint64 `json:"server_tick,omitempty"`
}

func NewAck(reqID string, tick uint64, code, msg string) AckMsg {
	return AckMsg{
		Type:            TypeAck,
		ProtocolVersion: Version,
		AckFor:          reqID,
		Accepted:        code == "",
		Code:            code,
		Message:         msg,
		ServerTick:      tick,
	}
}
