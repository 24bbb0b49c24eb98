package gosocketio

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(i int) *int { return &i }

func TestPacketEncode(t *testing.T) {
	tests := []struct {
		name   string
		packet Packet
		want   string
	}{
		{"connect", Packet{Type: PacketTypeConnect, Namespace: "/"}, "0"},
		{"connect with auth", Packet{Type: PacketTypeConnect, Namespace: "/", Data: json.RawMessage(`{"token":"x"}`)}, `0{"token":"x"}`},
		{"connect namespace", Packet{Type: PacketTypeConnect, Namespace: "/admin"}, "0/admin,"},
		{"disconnect", Packet{Type: PacketTypeDisconnect, Namespace: "/admin"}, "1/admin,"},
		{"event", Packet{Type: PacketTypeEvent, Namespace: "/", Data: json.RawMessage(`["hello",1]`)}, `2["hello",1]`},
		{"event with ack", Packet{Type: PacketTypeEvent, Namespace: "/", Data: json.RawMessage(`["hello"]`), ID: intPtr(12)}, `212["hello"]`},
		{"ack namespace", Packet{Type: PacketTypeAck, Namespace: "/chat", Data: json.RawMessage(`[]`), ID: intPtr(0)}, `3/chat,0[]`},
		{"connect error", Packet{Type: PacketTypeConnectError, Namespace: "/x", Data: json.RawMessage(`{"message":"Invalid namespace"}`)}, `4/x,{"message":"Invalid namespace"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.packet.Encode())
		})
	}
}

func TestDecodePacket(t *testing.T) {
	p, err := DecodePacket(`2/chat,7["msg",{"a":1}]`)
	require.NoError(t, err)
	assert.Equal(t, PacketTypeEvent, p.Type)
	assert.Equal(t, "/chat", p.Namespace)
	require.NotNil(t, p.ID)
	assert.Equal(t, 7, *p.ID)

	name, args, err := p.event()
	require.NoError(t, err)
	assert.Equal(t, "msg", name)
	require.Equal(t, 1, args.Len())
	assert.JSONEq(t, `{"a":1}`, string(args[0]))

	p, err = DecodePacket("1/admin")
	require.NoError(t, err)
	assert.Equal(t, PacketTypeDisconnect, p.Type)
	assert.Equal(t, "/admin", p.Namespace)

	p, err = DecodePacket(`0{"sid":"abc"}`)
	require.NoError(t, err)
	assert.Equal(t, "/", p.Namespace)
	assert.Nil(t, p.ID)
	assert.JSONEq(t, `{"sid":"abc"}`, string(p.Data))

	p, err = DecodePacket(`31[null,true]`)
	require.NoError(t, err)
	args, err = p.ackArgs()
	require.NoError(t, err)
	assert.Equal(t, Args{json.RawMessage("null"), json.RawMessage("true")}, args)
}

func TestDecodePacketErrors(t *testing.T) {
	for _, in := range []string{"", "9", "x", `2["unterminated`, "2{oops"} {
		_, err := DecodePacket(in)
		assert.Error(t, err, "input %q", in)
	}

	_, err := DecodePacket(`51-["bin",{"_placeholder":true,"num":0}]`)
	assert.ErrorIs(t, err, ErrUnsupportedPacket)
	_, err = DecodePacket(`61-[]`)
	assert.ErrorIs(t, err, ErrUnsupportedPacket)
}

func TestEventPayloadErrors(t *testing.T) {
	for _, data := range []string{`[]`, `[1,2]`, `{"a":1}`} {
		p := &Packet{Type: PacketTypeEvent, Data: json.RawMessage(data)}
		_, _, err := p.event()
		assert.Error(t, err, "payload %s", data)
	}
}

func TestNewEventPacket(t *testing.T) {
	p, err := newEventPacket("/", "greet", []any{"gopher", 3}, intPtr(4))
	require.NoError(t, err)
	assert.Equal(t, `24["greet","gopher",3]`, p.Encode())

	_, err = newEventPacket("/", "bad", []any{func() {}}, nil)
	assert.Error(t, err)

	ack, err := newAckPacket("/", 5, nil)
	require.NoError(t, err)
	assert.Equal(t, `35[]`, ack.Encode())
}
