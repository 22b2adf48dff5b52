package capture

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/sapcraft/pkg/packet"
	"firestige.xyz/sapcraft/pkg/sap/ni"
	"firestige.xyz/sapcraft/pkg/sap/router"
)

type segment struct {
	srcPort, dstPort uint16
	seq              uint32
	syn              bool
	payload          []byte
}

func frameBytes(t *testing.T, s segment) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IP{10, 0, 0, 1},
		DstIP:    net.IP{10, 0, 0, 2},
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(s.srcPort),
		DstPort: layers.TCPPort(s.dstPort),
		Seq:     s.seq,
		SYN:     s.syn,
		ACK:     !s.syn,
		Window:  65535,
	}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(s.payload)))
	return buf.Bytes()
}

func writePcap(t *testing.T, segs ...segment) *bytes.Buffer {
	t.Helper()
	var out bytes.Buffer
	w := pcapgo.NewWriter(&out)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, s := range segs {
		data := frameBytes(t, s)
		ci := gopacket.CaptureInfo{
			Timestamp:     ts.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(data),
			Length:        len(data),
		}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return &out
}

func collect(t *testing.T, r *Reader) []Frame {
	t.Helper()
	var frames []Frame
	require.NoError(t, r.Frames(func(f Frame) error {
		frames = append(frames, f)
		return nil
	}))
	return frames
}

func TestFramesAcrossSegments(t *testing.T) {
	pong, err := packet.Build(ni.New(router.NewPong()))
	require.NoError(t, err)
	ping, err := packet.Build(ni.NewPing())
	require.NoError(t, err)

	// pong split over two segments, ping glued to its tail
	stream := append(append([]byte(nil), pong...), ping...)
	cut := 6
	pcap := writePcap(t,
		segment{srcPort: 40000, dstPort: 3299, seq: 100, syn: true},
		segment{srcPort: 40000, dstPort: 3299, seq: 101, payload: stream[:cut]},
		segment{srcPort: 40000, dstPort: 3299, seq: 101 + uint32(cut), payload: stream[cut:]},
		segment{srcPort: 40000, dstPort: 8080, seq: 5, syn: true},
		segment{srcPort: 40000, dstPort: 8080, seq: 6, payload: ping},
	)

	r, err := NewReader(pcap, Options{Ports: []uint16{3299}})
	require.NoError(t, err)
	frames := collect(t, r)
	require.Len(t, frames, 2)
	assert.Equal(t, pong, frames[0].Data)
	assert.Equal(t, ping, frames[1].Data)
	assert.True(t, IsKeepAlive(frames[1]))
	assert.Equal(t, uint16(3299), ServerPort(frames[0], []uint16{3299}))

	src, dst := frames[0].Ports()
	assert.Equal(t, uint16(40000), src)
	assert.Equal(t, uint16(3299), dst)

	st := r.Stats()
	assert.Equal(t, 5, st.Packets)
	assert.Equal(t, 2, st.Filtered)
	assert.Equal(t, 2, st.Frames)

	l, err := packet.Dissect(frames[0].Data, router.SAPNIRouter)
	require.NoError(t, err)
	assert.Equal(t, router.TypePong, l.Payload().Str("type"))
}

func TestNoPortsTakesEveryFlow(t *testing.T) {
	ping, err := packet.Build(ni.NewPing())
	require.NoError(t, err)
	pcap := writePcap(t,
		segment{srcPort: 1, dstPort: 2, seq: 0, syn: true},
		segment{srcPort: 1, dstPort: 2, seq: 1, payload: ping},
	)
	r, err := NewReader(pcap, Options{})
	require.NoError(t, err)
	frames := collect(t, r)
	require.Len(t, frames, 1)
	assert.Equal(t, uint16(1), ServerPort(frames[0], nil))
}

func TestOversizedFrameBreaksStream(t *testing.T) {
	pcap := writePcap(t,
		segment{srcPort: 40000, dstPort: 3200, seq: 0, syn: true},
		segment{srcPort: 40000, dstPort: 3200, seq: 1, payload: []byte{0x7f, 0xff, 0xff, 0xff, 0x00}},
	)
	r, err := NewReader(pcap, Options{Ports: []uint16{3200}, MaxFrameSize: 1024})
	require.NoError(t, err)
	assert.Empty(t, collect(t, r))
}

func TestBadFile(t *testing.T) {
	_, err := NewReader(bytes.NewReader([]byte{0x00}), Options{})
	assert.Error(t, err)
	_, err = NewReader(bytes.NewReader(make([]byte, 24)), Options{})
	assert.Error(t, err)
}

func TestPortFilter(t *testing.T) {
	m, err := NewMatcher([]uint16{3200, 3201, 3202, 3299})
	require.NoError(t, err)

	assert.True(t, m.Match(frameBytes(t, segment{srcPort: 50000, dstPort: 3201})))
	assert.True(t, m.Match(frameBytes(t, segment{srcPort: 3299, dstPort: 50000})))
	assert.False(t, m.Match(frameBytes(t, segment{srcPort: 50000, dstPort: 3203})))
	assert.False(t, m.Match(frameBytes(t, segment{srcPort: 3199, dstPort: 80})))
	assert.False(t, m.Match([]byte{0x00, 0x01}), "short frames are rejected")

	udp := frameBytes(t, segment{srcPort: 50000, dstPort: 3200})
	udp[23] = 17
	assert.False(t, m.Match(udp))

	frag := frameBytes(t, segment{srcPort: 50000, dstPort: 3200})
	frag[21] = 0x10
	assert.False(t, m.Match(frag), "non-first fragments carry no TCP header")
}

func TestPortRanges(t *testing.T) {
	assert.Equal(t, []portRange{{80, 80}, {3200, 3202}, {65535, 65535}},
		portRanges([]uint16{3202, 80, 3200, 65535, 3201, 3201}))
	assert.Nil(t, portRanges(nil))

	many := make([]uint16, 0, 200)
	for p := uint16(1000); p < 1400; p += 2 {
		many = append(many, p)
	}
	_, err := PortFilter(many)
	assert.ErrorIs(t, err, ErrFilterTooLarge)

	_, err = PortFilter(nil)
	assert.Error(t, err)
}
