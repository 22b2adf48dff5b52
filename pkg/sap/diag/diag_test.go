package diag

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/sapcraft/pkg/compress"
	"firestige.xyz/sapcraft/pkg/packet"
	"firestige.xyz/sapcraft/pkg/sap/ni"
)

func TestInitRequestLayout(t *testing.T) {
	raw, err := packet.Build(InitRequest("10.0.0.1", true, DefaultSupport()))
	require.NoError(t, err)
	require.Len(t, raw, DPHeaderSize+8+17+37)

	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xff, 0x0a}, raw[:5])
	assert.Equal(t, []byte{0x3e, 0x00, 0x00, 0x00}, raw[30:34], "len is little endian")
	assert.Equal(t, append([]byte("10.0.0.1"), make([]byte, 7)...), raw[81:96])

	diag := raw[DPHeaderSize:]
	assert.Equal(t, []byte{
		0x00,                         // mode
		0x01,                         // com_flag: TERM_INI
		0x00, 0x00, 0x00, 0x00, 0x00, // mode_stat, err_no, msg_type, msg_info, msg_rc
		0x00, // compress
	}, diag[:8])
	assert.Equal(t, []byte{
		0x10, 0x04, 0x02, 0x00, 0x0c, // APPL ST_USER CONNECT, 12 bytes
		0x00, 0x00, 0x00, 0xc8, // protocol version 200
		0x00, 0x00, 0x04, 0x4c, // code page 1100
		0x00, 0x00, 0x13, 0x89, // ws type 5001
	}, diag[8:25])
	assert.Equal(t, []byte{0x10, 0x04, 0x0b, 0x00, 0x20, 0xff, 0x7f}, diag[25:32])
}

func TestInitRequestOverNI(t *testing.T) {
	sent := ni.New(InitRequest("term", false, DefaultSupport()))
	raw, err := packet.Build(sent)
	require.NoError(t, err)

	l, err := packet.Dissect(raw, SAPNIDiag)
	require.NoError(t, err)
	names := []string{}
	for _, c := range l.Chain() {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"SAPNI", "SAPDiagDP", "SAPDiag", "SAPDiagMessage"}, names)

	dp := l.Find("SAPDiagDP")
	assert.Equal(t, "term", dp.Str("terminal"))
	assert.Equal(t, int64(-1), dp.Int("request_id"))
	assert.True(t, l.Find("SAPDiag").Bool("com_flag_term_ini"))

	items := MessageItems(l)
	require.Len(t, items, 2)
	uc := FindItem(items, ItemAPPL, ApplSTUser, SidConnect)
	require.NotNil(t, uc)
	require.NotNil(t, uc.Payload())
	assert.Equal(t, uint64(ProtocolVersionUncompressed), uc.Payload().Uint("protocol_version"))

	sd := FindItem(items, ItemAPPL, ApplSTUser, SidSupportData)
	require.NotNil(t, sd)
	bits := SupportBitsFrom(sd.Payload().Bytes("support_bits"))
	assert.Equal(t, DefaultSupport(), bits)
	assert.True(t, bits.Has(SupportProgressIndicator))

	assert.True(t, sent.Equal(l))
}

func TestCompressedMessage(t *testing.T) {
	text := bytes.Repeat([]byte("SAP GUI "), 64)
	req := Request(3, true, NewItem(ItemAPPL4, ApplSTR3Info, 0x01, nil).SetRaw(text))

	raw, err := packet.Build(req)
	require.NoError(t, err)
	assert.Equal(t, byte(CompressOn), raw[7])

	plain, err := packet.Build(req.Payload())
	require.NoError(t, err)
	assert.Less(t, len(raw), len(plain))
	unpacked, err := compress.Decompress(raw[8:], 0)
	require.NoError(t, err)
	assert.Equal(t, plain, unpacked)

	l, err := packet.Dissect(raw, SAPDiag)
	require.NoError(t, err)
	assert.Equal(t, compress.LZH, l.Codec())
	items := MessageItems(l)
	require.Len(t, items, 3)
	assert.Equal(t, uint64(3), items[0].Payload().Uint("step"))
	assert.Equal(t, text, items[1].Raw(), "unknown application item stays opaque")
	assert.Equal(t, uint64(ItemEOM), items[2].Uint("item_type"))

	rebuilt, err := packet.Build(l)
	require.NoError(t, err)
	assert.Equal(t, raw, rebuilt)
}

func TestRequestUncompressed(t *testing.T) {
	raw, err := packet.Build(Request(1, false))
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0, 0, 0, 0, 0, 0, 0, 0, // header
		0x10, 0x04, 0x26, 0x00, 0x04, 0x00, 0x00, 0x00, 0x01, // step 1
		0x0c, // EOM
	}, raw)
}

func TestFixedSizeItems(t *testing.T) {
	raw := []byte{0, 0, 0, 0, 0, 0, 0, 0}
	raw = append(raw, ItemSES)
	raw = append(raw, 0, 0, 0, 1, 2, 3, 4, 5, 6, 7, 0, 0, 0, 0, 0, 0)
	raw = append(raw, ItemTIT, 'a', 'b', 'c')
	raw = append(raw, ItemEOM)

	l, err := packet.Dissect(raw, SAPDiag)
	require.NoError(t, err)
	items := MessageItems(l)
	require.Len(t, items, 3)

	ses := items[0].Payload()
	require.NotNil(t, ses)
	assert.Equal(t, "SAPDiagSES", ses.Name())
	assert.Equal(t, uint64(1), ses.Uint("eventarray"))
	assert.Equal(t, uint64(7), ses.Uint("dim_col"))
	assert.Equal(t, []byte("abc"), items[1].Raw())
}

func TestUnknownItemTypeTakesRest(t *testing.T) {
	raw := []byte{0, 0, 0, 0, 0, 0, 0, 0, 0x7f, 0xaa, 0xbb}
	l, err := packet.Dissect(raw, SAPDiag)
	require.NoError(t, err)
	items := MessageItems(l)
	require.Len(t, items, 1)
	assert.Equal(t, []byte{0xaa, 0xbb}, items[0].Raw())
}

func TestErrorInfo(t *testing.T) {
	raw := []byte{0, 0, 0, 0x01, 0, 0, 0, 0}
	raw = append(raw, "Connection refused"...)
	l, err := packet.Dissect(raw, SAPDiag)
	require.NoError(t, err)
	require.NotNil(t, l.Payload())
	assert.Equal(t, "SAPDiagError", l.Payload().Name())
	assert.Equal(t, "Connection refused", l.Payload().Str("info"))
}

func TestEndOfConnectionSelectsDiag(t *testing.T) {
	raw, err := packet.Build(ni.New(EndOfConnection()))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 8, 0, 0x08, 0, 0, 0, 0, 0, 0}, raw)

	l, err := packet.Dissect(raw, SAPNIDiag)
	require.NoError(t, err)
	d := l.Payload()
	require.NotNil(t, d)
	assert.Equal(t, "SAPDiag", d.Name())
	assert.True(t, d.Bool("com_flag_term_eoc"))
	assert.Nil(t, d.Payload())
}

func TestCorruptCompressedPayloadIsOpaque(t *testing.T) {
	raw := []byte{0, 0, 0, 0, 0, 0, 0, CompressOn, 0x05, 0, 0, 0, 0x12, 0x1f, 0x9d, 0x0f, 0xff}
	l, err := packet.Dissect(raw, SAPDiag)
	require.NoError(t, err)
	assert.Nil(t, l.Payload())
	assert.Error(t, l.PayloadErr())
	assert.Equal(t, raw[8:], l.Raw())
}

func TestOversizedDecompressionIsOpaque(t *testing.T) {
	// header declares 64 MiB of LZH output
	raw := []byte{0, 0, 0, 0, 0, 0, 0, CompressOn, 0x00, 0x00, 0x00, 0x04, 0x12, 0x1f, 0x9d, 0x0f, 0x00, 0x00}
	l, err := packet.Dissect(raw, SAPDiag)
	require.NoError(t, err)
	assert.Nil(t, l.Payload())
	assert.ErrorIs(t, l.PayloadErr(), compress.ErrLengthMismatch)
	assert.Equal(t, raw[8:], l.Raw())

	l, err = packet.Dissect(raw, SAPDiag, packet.WithMaxDecompressed(0))
	require.NoError(t, err)
	assert.ErrorIs(t, l.PayloadErr(), compress.ErrLengthMismatch, "0 keeps the default cap")
}

func TestMaxDecompressedOption(t *testing.T) {
	text := bytes.Repeat([]byte("SAP GUI "), 64)
	raw, err := packet.Build(Request(3, true, NewItem(ItemAPPL4, ApplSTR3Info, 0x01, nil).SetRaw(text)))
	require.NoError(t, err)

	l, err := packet.Dissect(raw, SAPDiag, packet.WithMaxDecompressed(64))
	require.NoError(t, err)
	assert.ErrorIs(t, l.PayloadErr(), compress.ErrLengthMismatch)
	assert.Nil(t, l.Payload())

	l, err = packet.Dissect(raw, SAPDiag, packet.WithMaxDecompressed(len(text)*2))
	require.NoError(t, err)
	assert.NoError(t, l.PayloadErr())
	assert.NotNil(t, l.Payload())
}

func TestSupportBits(t *testing.T) {
	var b SupportBits
	b.Set(SupportSAPGUILongMessage)
	b.Set(200)
	assert.True(t, b.Has(SupportSAPGUILongMessage))
	assert.Equal(t, byte(0x01), b[1])
	assert.Equal(t, []string{"SAPGUI_LONG_MESSAGE", "BIT_200"}, b.Names())

	b.Clear(200)
	assert.False(t, b.Has(200))
	assert.False(t, b.Has(-1))

	parsed, err := ParseSupportBits(b.String())
	require.NoError(t, err)
	assert.Equal(t, b, parsed)

	_, err = ParseSupportBits("zz")
	assert.Error(t, err)
	_, err = ParseSupportBits(string(bytes.Repeat([]byte("00"), 33)))
	assert.Error(t, err)
}
