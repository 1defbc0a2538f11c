// Package syncproto frames menu traffic for a message transport.
//
// Every binary frame is
//
//	[channel id: 1 byte] [routing key: uvarint] [payload]
//
// The routing key identifies one open menu session on the viewer side.
package syncproto

import (
	"errors"
	"fmt"

	"machinesync.dev/internal/menusync"
)

type ChannelID uint8

const (
	MenuSyncID ChannelID = 1
	IOUpdateID ChannelID = 2
)

var (
	ErrBadFrame       = errors.New("syncproto: malformed frame")
	ErrUnknownChannel = errors.New("syncproto: unknown channel")
	ErrDuplicate      = errors.New("syncproto: channel id already registered")
	ErrWrongDirection = errors.New("syncproto: channel direction mismatch")
)

// Channel is a registered handle. Senders and receivers are constructed with the
// handle they use; there is no package-level channel table.
type Channel struct {
	id   ChannelID
	name string
	// clientbound channels carry server to viewer traffic.
	clientbound bool
}

func NewChannel(id ChannelID, name string, clientbound bool) *Channel {
	return &Channel{id: id, name: name, clientbound: clientbound}
}

func (c *Channel) ID() ChannelID     { return c.id }
func (c *Channel) Name() string      { return c.name }
func (c *Channel) Clientbound() bool { return c.clientbound }
func (c *Channel) String() string    { return fmt.Sprintf("%s(%d)", c.name, c.id) }

// Channels is the set a server and its viewers agree on.
type Channels struct {
	MenuSync *Channel
	IOUpdate *Channel
}

func DefaultChannels() Channels {
	return Channels{
		MenuSync: NewChannel(MenuSyncID, "menu_sync", true),
		IOUpdate: NewChannel(IOUpdateID, "io_update", true),
	}
}

// Frame is a decoded frame. Payload aliases the input slice.
type Frame struct {
	Channel ChannelID
	Key     uint64
	Payload []byte
}

// Encode wraps payload for this channel.
func (c *Channel) Encode(key uint64, payload []byte) []byte {
	b := menusync.NewBuffer(1 + 10 + len(payload))
	b.WriteUint8(uint8(c.id))
	b.WriteUvarint(key)
	_, _ = b.Write(payload)
	return b.Bytes()
}

// EncodeWith appends the frame header to b and lets fill write the payload in place.
// It returns false, and leaves b as it was, when fill reports nothing to send.
func (c *Channel) EncodeWith(b *menusync.Buffer, key uint64, fill func(*menusync.Buffer) (bool, error)) (bool, error) {
	start := b.Len()
	b.WriteUint8(uint8(c.id))
	b.WriteUvarint(key)
	hdr := b.Len()
	ok, err := fill(b)
	if err != nil || !ok || b.Len() == hdr {
		b.Truncate(start)
		return false, err
	}
	return true, nil
}

func DecodeFrame(p []byte) (Frame, error) {
	r := menusync.NewReader(p)
	id, err := r.ReadUint8()
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrBadFrame, err)
	}
	key, err := r.ReadUvarint()
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrBadFrame, err)
	}
	return Frame{Channel: ChannelID(id), Key: key, Payload: p[len(p)-r.Remaining():]}, nil
}
