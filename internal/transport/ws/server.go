package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"machinesync.dev/internal/protocol"
	"machinesync.dev/internal/world"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

type Server struct {
	world *world.World
	log   *log.Logger

	maxQueue int
	upgrader websocket.Upgrader
}

// NewServer serves viewers of w. maxQueue caps the per-viewer outbound queue;
// a viewer may ask for less in HELLO.
func NewServer(w *world.World, logger *log.Logger, maxQueue int) *Server {
	if maxQueue <= 0 {
		maxQueue = 256
	}
	return &Server{
		world:    w,
		log:      logger,
		maxQueue: maxQueue,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sessionID, out := s.handshake(conn)
		if sessionID == "" {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		go s.writeLoop(ctx, cancel, conn, out)

		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			typ, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if typ != websocket.TextMessage {
				continue
			}
			if !s.route(ctx, sessionID, out, msg) {
				break
			}
		}
		cancel()

		// The world goroutine may be gone on shutdown.
		select {
		case s.world.Leave() <- sessionID:
		case <-time.After(time.Second):
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out world.Outbox) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				cancel()
				return
			}
		case m := <-out:
			kind := websocket.TextMessage
			if m.Binary {
				kind = websocket.BinaryMessage
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(kind, m.Data); err != nil {
				cancel()
				return
			}
		}
	}
}

// route hands one viewer request to the world. It returns false once ctx is done.
func (s *Server) route(ctx context.Context, sessionID string, out world.Outbox, msg []byte) bool {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		out.TrySendJSON(protocol.NewAck("", 0, protocol.ErrProtoBadRequest, "malformed json"))
		return true
	}
	if base.ProtocolVersion != protocol.Version {
		out.TrySendJSON(protocol.NewAck("", 0, protocol.ErrProtoVersion, "protocol_version "+base.ProtocolVersion))
		return true
	}

	bad := func(err error) bool {
		out.TrySendJSON(protocol.NewAck("", 0, protocol.ErrProtoBadRequest, err.Error()))
		return true
	}
	switch base.Type {
	case protocol.TypeOpenMenu:
		var m protocol.OpenMenuMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return bad(err)
		}
		return send(ctx, s.world.Open(), world.OpenRequest{SessionID: sessionID, Msg: m})
	case protocol.TypeCloseMenu:
		var m protocol.CloseMenuMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return bad(err)
		}
		return send(ctx, s.world.Close(), world.CloseRequest{SessionID: sessionID, Key: m.Key})
	case protocol.TypeControl:
		var m protocol.ControlMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return bad(err)
		}
		return send(ctx, s.world.Control(), world.ControlRequest{SessionID: sessionID, Msg: m})
	default:
		out.TrySendJSON(protocol.NewAck("", 0, protocol.ErrProtoBadRequest, "unexpected "+base.Type))
		return true
	}
}

func send[T any](ctx context.Context, ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Server) handshake(conn *websocket.Conn) (sessionID string, out world.Outbox) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return "", nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		closeWith(conn, "bad HELLO")
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, "bad protocol_version")
		return "", nil
	}
	if strings.TrimSpace(hello.ViewerName) == "" {
		hello.ViewerName = "viewer"
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 || maxQ > s.maxQueue {
		maxQ = s.maxQueue
	}
	out = make(world.Outbox, maxQ)

	respCh := make(chan world.JoinResponse, 1)
	s.world.Join() <- world.JoinRequest{
		Name:     hello.ViewerName,
		ViewerID: hello.ViewerID,
		Out:      out,
		Resp:     respCh,
	}
	resp := <-respCh
	if resp.Welcome.SessionID == "" {
		closeWith(conn, "join rejected")
		return "", nil
	}
	if err := writeJSON(conn, resp.Welcome); err != nil {
		s.world.Leave() <- resp.Welcome.SessionID
		return "", nil
	}
	s.log.Printf("viewer %q connected session=%s queue=%d", hello.ViewerName, resp.Welcome.SessionID, maxQ)
	return resp.Welcome.SessionID, out
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}
