package cmd

import (
	"bytes"
	"encoding/hex"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/sapcraft/pkg/packet"
	"firestige.xyz/sapcraft/pkg/sap/diag"
	"firestige.xyz/sapcraft/pkg/sap/ni"
	"firestige.xyz/sapcraft/pkg/sap/router"
)

func TestDissectHexByPort(t *testing.T) {
	raw, err := packet.Build(ni.New(router.NewPong()))
	require.NoError(t, err)
	out, _, err := run(t, nil, "dissect", "--port", "3299", hex.EncodeToString(raw))
	require.NoError(t, err)
	assert.Contains(t, out, `type: "NI_PONG"`)
}

func TestDissectStream(t *testing.T) {
	ping, err := packet.Build(ni.NewPing())
	require.NoError(t, err)
	pong, err := packet.Build(ni.New(router.NewPong()))
	require.NoError(t, err)
	input := append(append([]byte(nil), ping...), pong...)

	out, _, err := run(t, input, "dissect", "--layer", "SAPNI/SAPRouter", "--stream", "-f", "-", "--yaml")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "# frame"))
	assert.Contains(t, out, "layer: SAPRouter")

	out, _, err = run(t, input, "dissect", "--stream", "-f", "-", "--skip-keepalive")
	require.NoError(t, err)
	assert.Equal(t, 0, strings.Count(out, "# frame"), "both frames are keep-alives")
}

func TestDissectTruncated(t *testing.T) {
	out, _, err := run(t, nil, "dissect", "--hex", "00 00 00 10 41")
	require.Error(t, err)
	assert.True(t, packet.IsTruncated(err))
	assert.Contains(t, out, "[SAPNI]")
	assert.Contains(t, out, "! ")
}

func TestDissectErrors(t *testing.T) {
	_, _, err := run(t, nil, "dissect")
	assert.Error(t, err)
	_, _, err = run(t, nil, "dissect", "--layer", "Nope", "00")
	assert.ErrorIs(t, err, packet.ErrDefinitionMissing)
	_, _, err = run(t, nil, "dissect", "zz")
	assert.Error(t, err)
}

// tcpPacket returns an Ethernet/IPv4/TCP frame from 10.0.0.1 to 10.0.0.2.
func tcpPacket(t *testing.T, src, dst uint16, seq uint32, syn bool, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP,
		SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2}}
	tcp := &layers.TCP{SrcPort: layers.TCPPort(src), DstPort: layers.TCPPort(dst),
		Seq: seq, SYN: syn, ACK: !syn, Window: 65535}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func writeCapture(t *testing.T, frames ...[]byte) string {
	t.Helper()
	var out bytes.Buffer
	w := pcapgo.NewWriter(&out)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, data := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     ts.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(data),
			Length:        len(data),
		}
		require.NoError(t, w.WritePacket(ci, data))
	}
	path := filepath.Join(t.TempDir(), "trace.pcap")
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0644))
	return path
}

func TestDissectPcap(t *testing.T) {
	pong, err := packet.Build(ni.New(router.NewPong()))
	require.NoError(t, err)
	eoc, err := packet.Build(ni.New(diag.EndOfConnection()))
	require.NoError(t, err)
	ping, err := packet.Build(ni.NewPing())
	require.NoError(t, err)

	path := writeCapture(t,
		tcpPacket(t, 40000, 3299, 100, true, nil),
		tcpPacket(t, 40000, 3299, 101, false, pong),
		tcpPacket(t, 40001, 3200, 500, true, nil),
		tcpPacket(t, 40001, 3200, 501, false, eoc),
		tcpPacket(t, 40001, 3200, 501+uint32(len(eoc)), false, ping),
	)

	out, _, err := run(t, nil, "dissect", "--pcap", path, "--ports", "3200,3299")
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, "# "))
	assert.Contains(t, out, "10.0.0.1:40000 -> 10.0.0.2:3299 SAPNI/SAPRouter")
	assert.Contains(t, out, "10.0.0.1:40001 -> 10.0.0.2:3200 SAPNI/SAPDiag")
	assert.Contains(t, out, `type: "NI_PONG"`)
	assert.Contains(t, out, "[SAPDiag]")

	out, _, err = run(t, nil, "dissect", "--pcap", path, "--ports", "3200", "--skip-keepalive")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "# "), "router flow filtered, ping skipped")
	assert.Contains(t, out, "[SAPDiag]")

	_, _, err = run(t, nil, "dissect", "--pcap", filepath.Join(t.TempDir(), "none.pcap"))
	assert.Error(t, err)
}

func TestDissectHexOptionAndFile(t *testing.T) {
	raw, err := packet.Build(ni.New(router.NewPong()))
	require.NoError(t, err)

	out, _, err := run(t, nil, "dissect", "--layer", "SAPNI/SAPRouter", "--hex", hex.EncodeToString(raw))
	require.NoError(t, err)
	assert.Contains(t, out, "[SAPNI]")
	assert.Contains(t, out, "  [SAPRouter]")

	out, _, err = run(t, raw, "dissect", "--layer", "SAPNI/SAPRouter", "-f", "-")
	require.NoError(t, err)
	assert.Contains(t, out, `type: "NI_PONG"`)
}
