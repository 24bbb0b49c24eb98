package engineio

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Protocol is the Engine.IO protocol revision spoken by this package.
const Protocol = 4

// PacketType represents Engine.IO packet types
type PacketType byte

const (
	PacketTypeOpen PacketType = iota
	PacketTypeClose
	PacketTypePing
	PacketTypePong
	PacketTypeMessage
	PacketTypeUpgrade
	PacketTypeNoop
)

// Packet is a single Engine.IO frame
type Packet struct {
	Type PacketType
	Data []byte
}

// Encode writes the packet in text form: one type digit followed by the data.
func (p *Packet) Encode() []byte {
	out := make([]byte, 0, len(p.Data)+1)
	out = append(out, byte('0'+p.Type))
	return append(out, p.Data...)
}

// DecodePacket parses a text frame.
func DecodePacket(data []byte) (*Packet, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty packet")
	}

	c := data[0]
	if c < '0' || c > '6' {
		return nil, fmt.Errorf("invalid packet type: %q", c)
	}

	p := &Packet{Type: PacketType(c - '0')}
	if len(data) > 1 {
		p.Data = data[1:]
	}
	return p, nil
}

// Handshake is the payload of the open packet.
type Handshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload"`
}

// Interval returns the ping interval as a duration.
func (h Handshake) Interval() time.Duration {
	return time.Duration(h.PingInterval) * time.Millisecond
}

// Timeout returns the ping timeout as a duration.
func (h Handshake) Timeout() time.Duration {
	return time.Duration(h.PingTimeout) * time.Millisecond
}

// EncodeHandshake builds the open packet sent right after the upgrade.
func EncodeHandshake(h Handshake) ([]byte, error) {
	if h.Upgrades == nil {
		// websocket only, nothing to upgrade to
		h.Upgrades = []string{}
	}

	data, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}

	p := &Packet{Type: PacketTypeOpen, Data: data}
	return p.Encode(), nil
}

// DecodeHandshake parses an open packet received by a dialing client.
func DecodeHandshake(frame []byte) (Handshake, error) {
	var h Handshake

	p, err := DecodePacket(frame)
	if err != nil {
		return h, err
	}
	if p.Type != PacketTypeOpen {
		return h, fmt.Errorf("expected open packet, got %s", p.Type)
	}
	if err := json.Unmarshal(p.Data, &h); err != nil {
		return h, fmt.Errorf("invalid handshake: %w", err)
	}
	if h.SID == "" {
		return h, fmt.Errorf("invalid handshake: missing sid")
	}
	return h, nil
}

// String returns the packet type as a string
func (pt PacketType) String() string {
	switch pt {
	case PacketTypeOpen:
		return "open"
	case PacketTypeClose:
		return "close"
	case PacketTypePing:
		return "ping"
	case PacketTypePong:
		return "pong"
	case PacketTypeMessage:
		return "message"
	case PacketTypeUpgrade:
		return "upgrade"
	case PacketTypeNoop:
		return "noop"
	default:
		return "unknown(" + strconv.Itoa(int(pt)) + ")"
	}
}
