package packet

import (
	"github.com/google/gopacket"
)

// decodeGoPacket adapts Dissect to gopacket.DecodeFunc: every layer of the
// chain is added to the packet and an opaque remainder becomes a
// gopacket.Payload layer.
func (d *Definition) decodeGoPacket(data []byte, p gopacket.PacketBuilder) error {
	l, err := Dissect(data, d)
	if l != nil {
		for _, cur := range l.Chain() {
			p.AddLayer(cur)
		}
	}
	if err != nil {
		if IsTruncated(err) {
			p.SetTruncated()
		}
		return err
	}
	last := l.Chain()
	tail := last[len(last)-1]
	if len(tail.raw) == 0 {
		return nil
	}
	return p.NextDecoder(gopacket.LayerTypePayload)
}

// Decoder returns a gopacket.Decoder that dissects data as d.
func (d *Definition) Decoder() gopacket.Decoder {
	return gopacket.DecodeFunc(d.decodeGoPacket)
}
