package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"machinesync.dev/internal/protocol"
	"machinesync.dev/internal/syncproto"
)

// Client is the viewer end of a connection. Binary frames go to Router; text
// messages go to the handler passed to Run.
type Client struct {
	conn    *websocket.Conn
	Router  *syncproto.Router
	Welcome protocol.WelcomeMsg

	wmu sync.Mutex
}

// Dial connects, sends hello and waits for WELCOME.
func Dial(ctx context.Context, url string, hello protocol.HelloMsg) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	hello.Type = protocol.TypeHello
	hello.ProtocolVersion = protocol.Version
	if err := conn.WriteJSON(hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send HELLO: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read WELCOME: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	var w protocol.WelcomeMsg
	if err := json.Unmarshal(msg, &w); err != nil || w.Type != protocol.TypeWelcome {
		conn.Close()
		return nil, fmt.Errorf("expected WELCOME, got %q", msg)
	}
	return &Client{conn: conn, Router: syncproto.NewRouter(), Welcome: w}, nil
}

// Send writes one JSON request. It may be called from any goroutine.
func (c *Client) Send(v any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *Client) OpenMenu(reqID, machineID string) error {
	return c.Send(protocol.OpenMenuMsg{
		Type:            protocol.TypeOpenMenu,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		MachineID:       machineID,
	})
}

func (c *Client) CloseMenu(key uint64) error {
	return c.Send(protocol.CloseMenuMsg{
		Type:            protocol.TypeCloseMenu,
		ProtocolVersion: protocol.Version,
		Key:             key,
	})
}

func (c *Client) Control(m protocol.ControlMsg) error {
	m.Type = protocol.TypeControl
	m.ProtocolVersion = protocol.Version
	return c.Send(m)
}

// TextHandler receives every text message after WELCOME.
type TextHandler func(base protocol.BaseMessage, raw []byte) error

// Run reads until the connection fails, ctx ends or a handler returns an
// error. Frame decode errors are returned too; the menu state they target can
// no longer be trusted.
func (c *Client) Run(ctx context.Context, onText TextHandler) error {
	go func() {
		<-ctx.Done()
		c.conn.Close()
	}()
	for {
		typ, msg, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if typ == websocket.BinaryMessage {
			if err := c.Router.Dispatch(msg); err != nil {
				return err
			}
			continue
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		if onText != nil {
			if err := onText(base, msg); err != nil {
				return err
			}
		}
	}
}

func (c *Client) Close() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}
