// Package ni implements the SAP Network Interface framing: every message on
// a SAP TCP stream is a 4-byte big-endian length followed by that many bytes.
package ni

import (
	"bytes"

	"github.com/google/gopacket"

	"firestige.xyz/sapcraft/pkg/packet"
)

// HeaderSize is the size of the length prefix.
const HeaderSize = 4

var (
	pingMsg = []byte("NI_PING\x00")
	pongMsg = []byte("NI_PONG\x00")
)

// SAPNI is the bare frame. Its payload is opaque unless bound with Over or
// OverSelector.
var SAPNI = packet.MustDefine("SAPNI", []packet.Field{
	{Name: "length", Type: packet.U32, Derive: packet.PayloadLength(0)},
}, packet.WithPayloadLength(packet.FromField("length", 0)), packet.WithLayerType(3300))

// LayerTypeSAPNI is the gopacket layer type of SAPNI.
var LayerTypeSAPNI = SAPNI.LayerType()

func init() {
	packet.MustRegister(SAPNI)
}

// Over returns an NI frame definition whose payload always decodes as def.
func Over(def *packet.Definition) *packet.Definition {
	return SAPNI.WithPayload(def)
}

// OverSelector returns an NI frame definition whose payload is picked by
// inspecting the payload bytes.
func OverSelector(fn func(payload []byte) *packet.Definition) *packet.Definition {
	return SAPNI.WithSelector(fn)
}

// New wraps inner in an NI frame.
func New(inner *packet.Layer) *packet.Layer {
	return packet.New(SAPNI).SetPayload(inner)
}

// NewPing returns the keep-alive request frame.
func NewPing() *packet.Layer {
	return packet.New(SAPNI).SetRaw(append([]byte(nil), pingMsg...))
}

// NewPong returns the keep-alive response frame.
func NewPong() *packet.Layer {
	return packet.New(SAPNI).SetRaw(append([]byte(nil), pongMsg...))
}

// IsPing reports whether l is an NI keep-alive request.
func IsPing(l *packet.Layer) bool { return isKeepAlive(l, pingMsg) }

// IsPong reports whether l is an NI keep-alive response.
func IsPong(l *packet.Layer) bool { return isKeepAlive(l, pongMsg) }

func isKeepAlive(l *packet.Layer, msg []byte) bool {
	if l == nil || l.Name() != SAPNI.Name() {
		return false
	}
	if l.Payload() != nil {
		return false
	}
	return bytes.Equal(l.Raw(), msg)
}

// IsKeepAlive reports whether payload is a ping or pong message. Selectors
// use it to keep keep-alives opaque.
func IsKeepAlive(payload []byte) bool {
	return bytes.Equal(payload, pingMsg) || bytes.Equal(payload, pongMsg)
}

// Decode decodes a single frame through gopacket, for callers that prefer
// gopacket.Packet to a layer chain.
func Decode(frame []byte) gopacket.Packet {
	return gopacket.NewPacket(frame, LayerTypeSAPNI, gopacket.Default)
}
