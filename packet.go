package gosocketio

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// PacketType represents Socket.IO packet types
type PacketType int

const (
	PacketTypeConnect PacketType = iota
	PacketTypeDisconnect
	PacketTypeEvent
	PacketTypeAck
	PacketTypeConnectError
	PacketTypeBinaryEvent
	PacketTypeBinaryAck
)

const defaultNamespace = "/"

// Packet is one Socket.IO frame. Data holds the raw JSON payload: an
// array for events and acks, an object for connect packets.
type Packet struct {
	Type      PacketType
	Namespace string
	Data      json.RawMessage
	ID        *int
}

// Encode encodes a Socket.IO packet to string
func (p *Packet) Encode() string {
	var b strings.Builder

	b.WriteString(strconv.Itoa(int(p.Type)))

	if p.Namespace != "" && p.Namespace != defaultNamespace {
		b.WriteString(p.Namespace)
		b.WriteByte(',')
	}

	if p.ID != nil {
		b.WriteString(strconv.Itoa(*p.ID))
	}

	b.Write(p.Data)

	return b.String()
}

// DecodePacket decodes a Socket.IO packet from string
func DecodePacket(data string) (*Packet, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty packet")
	}

	packet := &Packet{Namespace: defaultNamespace}
	pos := 0

	if data[pos] < '0' || data[pos] > '6' {
		return nil, fmt.Errorf("invalid packet type: %q", data[pos])
	}
	packet.Type = PacketType(data[pos] - '0')
	pos++

	if packet.Type == PacketTypeBinaryEvent || packet.Type == PacketTypeBinaryAck {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPacket, packet.Type)
	}

	if pos < len(data) && data[pos] == '/' {
		end := strings.IndexByte(data[pos:], ',')
		if end == -1 {
			packet.Namespace = data[pos:]
			return packet, nil
		}
		packet.Namespace = data[pos : pos+end]
		pos += end + 1
	}

	if pos < len(data) && data[pos] >= '0' && data[pos] <= '9' {
		end := pos
		for end < len(data) && data[end] >= '0' && data[end] <= '9' {
			end++
		}
		id, err := strconv.Atoi(data[pos:end])
		if err != nil {
			return nil, fmt.Errorf("invalid ack id: %w", err)
		}
		packet.ID = &id
		pos = end
	}

	if pos < len(data) {
		raw := json.RawMessage(data[pos:])
		if !json.Valid(raw) {
			return nil, fmt.Errorf("invalid packet payload")
		}
		packet.Data = raw
	}

	return packet, nil
}

// newEventPacket builds an event frame carrying [event, args...].
func newEventPacket(namespace, event string, args []any, id *int) (*Packet, error) {
	items := make([]any, 0, len(args)+1)
	items = append(items, event)
	items = append(items, args...)

	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode %q arguments: %w", event, err)
	}
	return &Packet{Type: PacketTypeEvent, Namespace: namespace, Data: data, ID: id}, nil
}

// newAckPacket builds the reply frame for the ack id.
func newAckPacket(namespace string, id int, args []any) (*Packet, error) {
	if args == nil {
		args = []any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode ack arguments: %w", err)
	}
	return &Packet{Type: PacketTypeAck, Namespace: namespace, Data: data, ID: &id}, nil
}

// event splits an event payload into its name and arguments.
func (p *Packet) event() (string, Args, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(p.Data, &items); err != nil {
		return "", nil, fmt.Errorf("event payload: %w", err)
	}
	if len(items) == 0 {
		return "", nil, fmt.Errorf("event payload: missing name")
	}

	var name string
	if err := json.Unmarshal(items[0], &name); err != nil {
		return "", nil, fmt.Errorf("event name: %w", err)
	}
	return name, Args(items[1:]), nil
}

// ackArgs returns the reply arguments of an ack payload.
func (p *Packet) ackArgs() (Args, error) {
	if len(p.Data) == 0 {
		return Args{}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(p.Data, &items); err != nil {
		return nil, fmt.Errorf("ack payload: %w", err)
	}
	return Args(items), nil
}

// String returns the packet type as a string
func (pt PacketType) String() string {
	switch pt {
	case PacketTypeConnect:
		return "connect"
	case PacketTypeDisconnect:
		return "disconnect"
	case PacketTypeEvent:
		return "event"
	case PacketTypeAck:
		return "ack"
	case PacketTypeConnectError:
		return "connect_error"
	case PacketTypeBinaryEvent:
		return "binary_event"
	case PacketTypeBinaryAck:
		return "binary_ack"
	default:
		return "unknown"
	}
}
