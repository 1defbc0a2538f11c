package world

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"machinesync.dev/internal/protocol"
)

// Message is one outbound websocket message. Binary messages are sync frames.
type Message struct {
	Binary bool
	Data   []byte
}

// Outbox is a viewer's bounded outbound queue.
type Outbox chan Message

// TrySend queues a binary frame without blocking.
func (o Outbox) TrySend(frame []byte) bool {
	select {
	case o <- Message{Binary: true, Data: frame}:
		return true
	default:
		return false
	}
}

// TrySendJSON queues v as a text message without blocking.
func (o Outbox) TrySendJSON(v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		return false
	}
	select {
	case o <- Message{Data: b}:
		return true
	default:
		return false
	}
}

type JoinRequest struct {
	Name     string
	ViewerID string
	Out      Outbox
	Resp     chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
}

type OpenRequest struct {
	SessionID string
	Msg       protocol.OpenMenuMsg
}

type CloseRequest struct {
	SessionID string
	Key       uint64
}

type ControlRequest struct {
	SessionID string
	Msg       protocol.ControlMsg
}

type session struct {
	id     string
	viewer uuid.UUID
	name   string
	out    Outbox
	menus  map[uint64]string
}

func (w *World) handleJoin(req JoinRequest) {
	if req.Out == nil {
		if req.Resp != nil {
			req.Resp <- JoinResponse{}
		}
		return
	}
	vid, err := uuid.Parse(strings.TrimSpace(req.ViewerID))
	if err != nil || vid == uuid.Nil {
		vid = uuid.New()
	}
	w.nextSess++
	s := &session{
		id:     fmt.Sprintf("S%06d", w.nextSess),
		viewer: vid,
		name:   req.Name,
		out:    req.Out,
		menus:  map[uint64]string{},
	}
	w.sessions[s.id] = s
	w.log.Printf("join session=%s viewer=%s name=%q", s.id, vid, req.Name)

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		ViewerID:        vid.String(),
		SessionID:       s.id,
		TickRateHz:      w.cfg.TickRateHz,
		Channels: []protocol.ChannelRef{
			{ID: uint8(w.ch.MenuSync.ID()), Name: w.ch.MenuSync.Name()},
			{ID: uint8(w.ch.IOUpdate.ID()), Name: w.ch.IOUpdate.Name()},
		},
		Machines: w.machineRefs(),
	}
	if req.Resp != nil {
		req.Resp <- JoinResponse{Welcome: welcome}
	}
}

func (w *World) handleLeave(sessionID string) {
	s := w.sessions[sessionID]
	if s == nil {
		return
	}
	for key, mid := range s.menus {
		w.senders[mid].Close(key)
		delete(w.menus, key)
	}
	delete(w.sessions, sessionID)
	w.log.Printf("leave session=%s", sessionID)
}

func (w *World) handleOpen(req OpenRequest) {
	s := w.sessions[req.SessionID]
	if s == nil {
		return
	}
	msg := req.Msg
	entry := AuditEntry{Tick: w.tick.Load(), Session: s.id, Viewer: s.viewer.String(), Machine: msg.MachineID, Op: protocol.TypeOpenMenu}
	reject := func(code, text string) {
		entry.Code = code
		w.audit(entry)
		s.out.TrySendJSON(protocol.NewAck(msg.ReqID, entry.Tick, code, text))
	}

	m := w.machines[msg.MachineID]
	if m == nil {
		reject(protocol.ErrMachineNotFound, "no such machine")
		return
	}
	if len(s.menus) >= w.cfg.MenusPerViewer && w.cfg.MenusPerViewer > 0 {
		reject(protocol.ErrMenuBusy, "too many open menus")
		return
	}
	if m.Security.TryClaim(s.viewer) {
		entry.Detail = "claimed"
	}
	if !m.Security.HasAccess(s.viewer) {
		reject(protocol.ErrNoPermission, m.Security.Access.String()+" machine")
		return
	}

	w.nextKey++
	key := w.nextKey
	// MENU_OPENED is queued before the first sync frame so the viewer has a
	// registry waiting under key.
	if !s.out.TrySendJSON(protocol.MenuOpenedMsg{
		Type:            protocol.TypeMenuOpened,
		ProtocolVersion: protocol.Version,
		ReqID:           msg.ReqID,
		MachineID:       m.ID,
		Kind:            string(m.Kind),
		Key:             key,
	}) {
		reject(protocol.ErrMenuBusy, "outbound queue full")
		return
	}
	if err := w.senders[m.ID].Open(s.id, s.out, key); err != nil {
		w.log.Printf("open %s for %s: %v", m.ID, s.id, err)
		reject(protocol.ErrInternal, "open failed")
		return
	}
	s.menus[key] = m.ID
	w.menus[key] = menuRef{session: s.id, machine: m.ID}
	entry.Accepted = true
	w.audit(entry)
}

func (w *World) handleClose(req CloseRequest) {
	ref, ok := w.menus[req.Key]
	if !ok || ref.session != req.SessionID {
		return
	}
	w.closeMenu(req.Key, ref, "")
}

// closeMenu ends a menu. A non-empty reason means the server initiated it and
// the viewer is told.
func (w *World) closeMenu(key uint64, ref menuRef, reason string) {
	w.senders[ref.machine].Close(key)
	delete(w.menus, key)
	s := w.sessions[ref.session]
	if s == nil {
		return
	}
	delete(s.menus, key)
	if reason != "" {
		s.out.TrySendJSON(protocol.MenuClosedMsg{
			Type:            protocol.TypeMenuClosed,
			ProtocolVersion: protocol.Version,
			Key:             key,
			Reason:          reason,
		})
	}
}
