package world

import (
	"fmt"

	"machinesync.dev/internal/ioface"
	"machinesync.dev/internal/machine"
	"machinesync.dev/internal/protocol"
	"machinesync.dev/internal/syncproto"
)

func (w *World) handleControl(req ControlRequest) {
	s := w.sessions[req.SessionID]
	if s == nil {
		return
	}
	msg := req.Msg
	entry := AuditEntry{Tick: w.tick.Load(), Session: s.id, Viewer: s.viewer.String(), Op: msg.Op}

	code, detail := w.applyControl(s, msg, &entry)
	entry.Code = code
	entry.Accepted = code == ""
	if entry.Detail == "" {
		entry.Detail = detail
	}
	w.audit(entry)
	if msg.ReqID != "" {
		s.out.TrySendJSON(protocol.NewAck(msg.ReqID, entry.Tick, code, detail))
	}
}

func (w *World) applyControl(s *session, msg protocol.ControlMsg, entry *AuditEntry) (code, detail string) {
	ref, ok := w.menus[msg.Key]
	if !ok || ref.session != s.id {
		return protocol.ErrMenuNotOpen, fmt.Sprintf("key %d", msg.Key)
	}
	entry.Machine = ref.machine
	m := w.machines[ref.machine]
	if !m.Security.HasAccess(s.viewer) {
		return protocol.ErrNoPermission, "access revoked"
	}

	switch msg.Op {
	case protocol.OpSetRedstone:
		mode, ok := machine.ParseRedstoneMode(msg.Mode)
		if !ok {
			return protocol.ErrBadRequest, "mode " + msg.Mode
		}
		m.Redstone = mode
		return "", mode.String()

	case protocol.OpSetAccess:
		if !m.Security.IsOwner(s.viewer) {
			return protocol.ErrNoPermission, "owner only"
		}
		level, ok := machine.ParseAccessLevel(msg.Access)
		if !ok {
			return protocol.ErrBadRequest, "access " + msg.Access
		}
		m.Security.Access = level
		w.evictUnauthorized(m)
		return "", level.String()

	case protocol.OpCycleFace:
		face, ok := ioface.ParseBlockFace(msg.Face)
		if !ok {
			return protocol.ErrBadRequest, "face " + msg.Face
		}
		f, _ := m.CycleFace(face, msg.Reverse, msg.Reset)
		w.broadcastFace(m, face, f)
		return "", face.String() + "=" + f.String()

	case protocol.OpInsertItem:
		n, err := m.InsertItems(msg.Slot, msg.Count)
		if err != nil {
			return protocol.ErrInvalidTarget, err.Error()
		}
		return "", fmt.Sprintf("slot %d +%d", msg.Slot, n)

	case protocol.OpLockSlot:
		if err := m.SetLocked(msg.Slot, msg.Locked); err != nil {
			return protocol.ErrInvalidTarget, err.Error()
		}
		return "", fmt.Sprintf("slot %d locked=%t", msg.Slot, msg.Locked)

	case protocol.OpResync:
		w.senders[m.ID].Resync(msg.Key)
		return "", ""

	default:
		return protocol.ErrUnsupported, msg.Op
	}
}

// evictUnauthorized closes menus held by viewers that lost access to m.
func (w *World) evictUnauthorized(m *machine.Machine) {
	sender := w.senders[m.ID]
	for _, key := range sender.Keys() {
		ref := w.menus[key]
		s := w.sessions[ref.session]
		if s == nil || m.Security.HasAccess(s.viewer) {
			continue
		}
		w.closeMenu(key, ref, "access revoked")
	}
}

// broadcastFace tells every connected viewer that one face of m changed. The
// frame routes by the machine's block key rather than a menu key.
func (w *World) broadcastFace(m *machine.Machine, face ioface.BlockFace, f ioface.Face) {
	frame := w.ch.IOUpdate.Encode(w.blockKey[m.ID], syncproto.EncodeIOUpdate(face, f))
	for _, s := range w.sessions {
		if !s.out.TrySend(frame) {
			w.log.Printf("io_update %s to %s dropped", m.ID, s.id)
		}
	}
}
