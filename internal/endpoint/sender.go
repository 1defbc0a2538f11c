package endpoint

import (
	"fmt"
	"log"

	"machinesync.dev/internal/menusync"
	"machinesync.dev/internal/metrics"
	"machinesync.dev/internal/syncproto"
)

const (
	FormFull  = "full"
	FormDelta = "delta"
)

// Bind registers an object's slots on a fresh registry, in the order both peers agree on.
type Bind func(reg *menusync.Registry) error

type session struct {
	key      uint64
	viewer   string
	conn     Conn
	reg      *menusync.Registry
	sentFull bool
}

// Sender syncs one object to every viewer that has its menu open. Each viewer
// session gets its own registry so that last-sent values are tracked per viewer.
type Sender struct {
	ch    *syncproto.Channel
	name  string
	bind  Bind
	log   *log.Logger
	trace TraceLogger

	sessions map[uint64]*session
	order    []uint64
}

func NewSender(ch *syncproto.Channel, name string, bind Bind, logger *log.Logger) *Sender {
	return &Sender{
		ch:       ch,
		name:     name,
		bind:     bind,
		log:      discardLogger(logger),
		sessions: map[uint64]*session{},
	}
}

func (s *Sender) SetTraceLogger(t TraceLogger) { s.trace = t }

func (s *Sender) Sessions() int { return len(s.sessions) }

// Open starts a session. The first Tick after Open sends the full form.
func (s *Sender) Open(viewer string, conn Conn, key uint64) error {
	if _, ok := s.sessions[key]; ok {
		return fmt.Errorf("%w: %d", ErrKeyInUse, key)
	}
	reg := menusync.NewRegistry(menusync.RoleSender)
	if err := s.bind(reg); err != nil {
		return fmt.Errorf("bind %s: %w", s.name, err)
	}
	reg.Seal()
	s.sessions[key] = &session{key: key, viewer: viewer, conn: conn, reg: reg}
	s.order = append(s.order, key)
	metrics.OpenSessions.Inc()
	return nil
}

// Close ends a session. It reports whether key was open.
func (s *Sender) Close(key uint64) bool {
	if _, ok := s.sessions[key]; !ok {
		return false
	}
	delete(s.sessions, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	metrics.OpenSessions.Dec()
	return true
}

// CloseViewer ends every session owned by viewer and returns their keys.
func (s *Sender) CloseViewer(viewer string) []uint64 {
	var keys []uint64
	for _, k := range s.order {
		if s.sessions[k].viewer == viewer {
			keys = append(keys, k)
		}
	}
	for _, k := range keys {
		s.Close(k)
	}
	return keys
}

// Resync makes the next Tick send the full form to key.
func (s *Sender) Resync(key uint64) bool {
	ss, ok := s.sessions[key]
	if ok {
		ss.sentFull = false
	}
	return ok
}

// Keys lists open routing keys in open order.
func (s *Sender) Keys() []uint64 {
	return append([]uint64(nil), s.order...)
}

// Tick sends what each session needs: the full form until one has been
// delivered, then a delta whenever something changed.
func (s *Sender) Tick(tick uint64) {
	for _, key := range s.order {
		s.tickSession(tick, s.sessions[key])
	}
}

func (s *Sender) tickSession(tick uint64, ss *session) {
	var (
		written int
		full    bool
	)
	b := menusync.NewBuffer(64)
	ok, err := s.ch.EncodeWith(b, ss.key, func(b *menusync.Buffer) (bool, error) {
		if !ss.sentFull {
			written, full = ss.reg.Len(), true
			return true, ss.reg.SyncFull(b)
		}
		n, f, err := ss.reg.SyncDelta(b)
		written, full = n, f
		return n > 0, err
	})
	if err != nil {
		s.log.Printf("sync %s key=%d: %v", s.name, ss.key, err)
		return
	}
	if !ok {
		return
	}

	form := FormDelta
	if full {
		form = FormFull
	}
	frame := b.Bytes()
	sent := ss.conn.TrySend(frame)
	if sent {
		ss.sentFull = true
		metrics.SyncFrames.WithLabelValues(form).Inc()
		metrics.SyncBytes.WithLabelValues(form).Add(float64(len(frame)))
		metrics.SyncSlots.Observe(float64(written))
	} else {
		// The registry already recorded these values as sent.
		ss.sentFull = false
		metrics.SendFailures.Inc()
		s.log.Printf("sync %s key=%d viewer=%s: queue full, resync scheduled", s.name, ss.key, ss.viewer)
	}
	if s.trace != nil {
		_ = s.trace.WriteSync(SyncTrace{
			Tick:    tick,
			Machine: s.name,
			Viewer:  ss.viewer,
			Key:     ss.key,
			Form:    form,
			Slots:   written,
			Bytes:   len(frame),
			Dropped: !sent,
		})
	}
}
