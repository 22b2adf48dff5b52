package packet

import (
	"testing"

	"github.com/google/gopacket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/sapcraft/pkg/compress"
)

var (
	gpTable = NewTable("test.gopacket")

	gpInner = MustDefine("GPInner", []Field{
		{Name: "code", Type: U16},
	}, WithLayerType(4998))

	gpOuter = MustDefine("GPOuter", []Field{
		{Name: "type", Type: U8},
		{Name: "length", Type: U8, Derive: PayloadLength(0)},
	}, WithDiscriminator("type", gpTable), WithPayloadLength(FromField("length", 0)), WithLayerType(4999))
)

func init() {
	gpTable.Register(1, gpInner)
}

func TestGoPacketDecoding(t *testing.T) {
	raw, err := Build(Stack(New(gpOuter).With("type", 1), New(gpInner).With("code", 0xBEEF)))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0xBE, 0xEF}, raw)

	p := gopacket.NewPacket(raw, gpOuter.LayerType(), gopacket.Default)
	require.Nil(t, p.ErrorLayer())
	layers := p.Layers()
	require.Len(t, layers, 2)
	assert.Equal(t, gpOuter.LayerType(), layers[0].LayerType())
	assert.Equal(t, gpInner.LayerType(), layers[1].LayerType())

	inner, ok := p.Layer(gpInner.LayerType()).(*Layer)
	require.True(t, ok)
	assert.Equal(t, uint64(0xBEEF), inner.Uint("code"))
	assert.Equal(t, "GPOuter", gpOuter.LayerType().String())
}

func TestGoPacketOpaquePayload(t *testing.T) {
	p := gopacket.NewPacket([]byte{0x09, 0x02, 0xAA, 0xBB}, gpOuter.LayerType(), gopacket.Default)
	require.Nil(t, p.ErrorLayer())
	layers := p.Layers()
	require.Len(t, layers, 2)
	assert.Equal(t, gopacket.LayerTypePayload, layers[1].LayerType())
	assert.Equal(t, []byte{0xAA, 0xBB}, layers[1].LayerContents())
}

func TestGoPacketTruncated(t *testing.T) {
	p := gopacket.NewPacket([]byte{0x01, 0x05, 0xBE}, gpOuter.LayerType(), gopacket.Default)
	require.NotNil(t, p.ErrorLayer())
	assert.ErrorIs(t, p.ErrorLayer().Error(), ErrTruncatedInput)
	assert.True(t, p.Metadata().Truncated)
}

func TestSerializeLayersInterop(t *testing.T) {
	outer := New(gpOuter).With("type", 1)
	inner := New(gpInner).With("code", 7)

	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, outer, inner))

	raw, err := Build(Stack(outer, inner))
	require.NoError(t, err)
	assert.Equal(t, raw, buf.Bytes())
}

func TestCompressedPayload(t *testing.T) {
	zipped := MustDefine("Zipped", []Field{
		{Name: "compressed", Type: Bool},
	}, WithPayload(innerDef), WithCompression(FieldEquals("compressed", 1), compress.LZH))

	inner := New(innerDef).With("flag", true).With("data", []byte("ABABABABABABABABABABABABABABAB"))
	l := Stack(New(zipped).With("compressed", true), inner)

	raw, err := Build(l)
	require.NoError(t, err)
	plain, err := Build(inner)
	require.NoError(t, err)

	unpacked, err := compress.Decompress(raw[1:], 0)
	require.NoError(t, err)
	assert.Equal(t, plain, unpacked)

	decoded, err := Dissect(raw, zipped)
	require.NoError(t, err)
	assert.Equal(t, compress.LZH, decoded.Codec())
	assert.True(t, l.Equal(decoded))
	assert.Equal(t, plain, decoded.LayerPayload())

	rebuilt, err := Build(decoded)
	require.NoError(t, err)
	assert.Equal(t, raw, rebuilt)

	// uncompressed flag leaves the payload alone
	l.Payload().With("flag", false)
	l.With("compressed", false)
	raw, err = Build(l)
	require.NoError(t, err)
	assert.Equal(t, byte(0), raw[1])

	// a corrupt compressed payload stays opaque
	bad := []byte{0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0x12, 0x1f, 0x9d, 0x0f, 0x00}
	decoded, err = Dissect(bad, zipped)
	require.NoError(t, err)
	assert.Nil(t, decoded.Payload())
	assert.Error(t, decoded.PayloadErr())
	assert.Equal(t, bad[1:], decoded.Raw())
}
