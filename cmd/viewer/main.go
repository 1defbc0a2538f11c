package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"machinesync.dev/internal/endpoint"
	"machinesync.dev/internal/ioface"
	"machinesync.dev/internal/machine"
	"machinesync.dev/internal/menusync"
	"machinesync.dev/internal/protocol"
	"machinesync.dev/internal/syncproto"
	"machinesync.dev/internal/transport/ws"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "viewer", "viewer name")
		viewerID = flag.String("viewer-id", "", "stable viewer uuid (keeps machine ownership across runs)")
		open     = flag.StringSlice("open", nil, "machine ids to open (default: all)")
		queue    = flag.Int("queue", 64, "requested outbound queue size")
		debug    = flag.Bool("debug", false, "log frames dropped for closed menus")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[viewer] ", log.LstdFlags|log.Lmicroseconds)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c, err := ws.Dial(ctx, *url, protocol.HelloMsg{
		ViewerName:   *name,
		ViewerID:     *viewerID,
		Capabilities: protocol.HelloCapabilities{MaxQueue: *queue},
	})
	if err != nil {
		logger.Fatalf("%v", err)
	}
	defer c.Close()
	logger.Printf("WELCOME viewer_id=%s session=%s tick_rate=%d machines=%d",
		c.Welcome.ViewerID, c.Welcome.SessionID, c.Welcome.TickRateHz, len(c.Welcome.Machines))

	v := newViewer(c, logger)
	v.rx.SetDebug(*debug)
	if err := v.attach(); err != nil {
		logger.Fatalf("%v", err)
	}

	targets := *open
	if len(targets) == 0 {
		for _, m := range c.Welcome.Machines {
			targets = append(targets, m.MachineID)
		}
	}
	for i, id := range targets {
		if err := c.OpenMenu(fmt.Sprintf("open_%d", i), id); err != nil {
			logger.Fatalf("OPEN_MENU %s: %v", id, err)
		}
	}

	if err := c.Run(ctx, v.onText); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("%v", err)
	}
}

// viewer mirrors every open menu and prints what changed.
type viewer struct {
	c   *ws.Client
	log *log.Logger
	rx  *endpoint.Receiver

	menus  map[uint64]*machine.Machine
	last   map[uint64]string
	blocks map[uint64]*protocol.MachineRef
}

func newViewer(c *ws.Client, logger *log.Logger) *viewer {
	v := &viewer{
		c:      c,
		log:    logger,
		menus:  map[uint64]*machine.Machine{},
		last:   map[uint64]string{},
		blocks: map[uint64]*protocol.MachineRef{},
	}
	chans := syncproto.DefaultChannels()
	v.rx = endpoint.NewReceiver(chans.MenuSync, logger)
	for i := range c.Welcome.Machines {
		ref := &c.Welcome.Machines[i]
		v.blocks[ref.BlockKey] = ref
	}
	return v
}

func (v *viewer) attach() error {
	chans := syncproto.DefaultChannels()
	if err := v.c.Router.Handle(chans.MenuSync, v.onMenuSync); err != nil {
		return err
	}
	return v.c.Router.Handle(chans.IOUpdate, v.onIOUpdate)
}

func (v *viewer) onMenuSync(key uint64, payload []byte) error {
	if err := v.rx.Handle(key, payload); err != nil {
		// A broken mirror would print garbage; ask for a full resync instead.
		v.log.Printf("menu %d: %v; requesting resync", key, err)
		return v.c.Control(protocol.ControlMsg{Key: key, Op: protocol.OpResync})
	}
	m, ok := v.menus[key]
	if !ok {
		return nil
	}
	if s := summary(m); s != v.last[key] {
		v.last[key] = s
		v.log.Printf("%s %s", m.ID, s)
	}
	return nil
}

func (v *viewer) onIOUpdate(blockKey uint64, payload []byte) error {
	face, f, err := syncproto.DecodeIOUpdate(payload)
	if err != nil {
		return err
	}
	ref := v.blocks[blockKey]
	if ref == nil {
		return nil
	}
	if int(face) < len(ref.Faces) {
		ref.Faces[face] = f.Packed()
	}
	v.log.Printf("%s io %s=%s", ref.MachineID, face, f)
	return nil
}

func (v *viewer) onText(base protocol.BaseMessage, raw []byte) error {
	switch base.Type {
	case protocol.TypeMenuOpened:
		var mo protocol.MenuOpenedMsg
		if err := json.Unmarshal(raw, &mo); err != nil {
			return err
		}
		m, err := machine.New(machine.Kind(mo.Kind), mo.MachineID)
		if err != nil {
			return err
		}
		reg := menusync.NewRegistry(menusync.RoleReceiver)
		if err := machine.Bind(reg, m); err != nil {
			return err
		}
		if err := v.rx.Open(mo.Key, reg); err != nil {
			return err
		}
		v.menus[mo.Key] = m
		v.log.Printf("MENU_OPENED %s key=%d slots=%d", mo.MachineID, mo.Key, reg.Len())

	case protocol.TypeMenuClosed:
		var mc protocol.MenuClosedMsg
		if err := json.Unmarshal(raw, &mc); err != nil {
			return err
		}
		v.rx.Close(mc.Key)
		if m := v.menus[mc.Key]; m != nil {
			v.log.Printf("MENU_CLOSED %s key=%d reason=%s", m.ID, mc.Key, mc.Reason)
		}
		delete(v.menus, mc.Key)
		delete(v.last, mc.Key)

	case protocol.TypeAck:
		var ack protocol.AckMsg
		if err := json.Unmarshal(raw, &ack); err != nil {
			return err
		}
		if !ack.Accepted {
			v.log.Printf("ACK %s rejected: %s %s", ack.AckFor, ack.Code, ack.Message)
		}
	}
	return nil
}

func summary(m *machine.Machine) string {
	s := fmt.Sprintf("energy=%d/%d items=%v status=%d %q redstone=%s access=%s",
		m.Energy, m.Capacity, m.Items, m.State.Status, m.State.Text, m.Redstone, m.Security.Access)
	if m.Kind == machine.KindMelter {
		s += fmt.Sprintf(" fluid=%d progress=%d/%d", m.Fluid, m.Progress, m.MaxProgress)
	}
	var faces [ioface.FaceCount]string
	for i, f := range m.IO {
		faces[i] = f.String()
	}
	return s + fmt.Sprintf(" io=%v", faces)
}
