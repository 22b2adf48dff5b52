// Package diag implements the SAP GUI Diag protocol: the dispatcher header
// sent on connection setup, the Diag header with its optionally compressed
// message, and the message items.
package diag

import (
	"bytes"

	"firestige.xyz/sapcraft/pkg/compress"
	"firestige.xyz/sapcraft/pkg/packet"
	"firestige.xyz/sapcraft/pkg/sap/ni"
)

// DPHeaderSize is the size of the dispatcher header.
const DPHeaderSize = 200

// Values of the compress field.
const (
	CompressOff = 0
	CompressOn  = 1
)

func spaces(n int) []byte { return bytes.Repeat([]byte{' '}, n) }

// SAPDiagDP is the dispatcher header in front of the first Diag message of a
// connection.
var SAPDiagDP = packet.MustDefine("SAPDiagDP", []packet.Field{
	{Name: "request_id", Type: packet.I32, Default: -1},
	{Name: "retcode", Type: packet.U8, Default: 0x0a},
	{Name: "sender_id", Type: packet.U8},
	{Name: "action_type", Type: packet.U8},
	{Name: "req_info", Type: packet.I32},
	{Name: "tid", Type: packet.I32, Default: -1},
	{Name: "uid", Type: packet.I16, Default: -1},
	{Name: "mode", Type: packet.U8, Default: 0xff},
	{Name: "wp_id", Type: packet.I32, Default: -1},
	{Name: "wp_ca_blk", Type: packet.I32, Default: -1},
	{Name: "appc_ca_blk", Type: packet.I32, Default: -1},
	{Name: "len", Type: packet.U32LE, Derive: packet.PayloadLength(0)},
	{Name: "new_stat", Type: packet.U8},
	{Name: "unused1", Type: packet.I32, Default: -1},
	{Name: "rq_id", Type: packet.I16, Default: -1},
	{Name: "unused2", Type: packet.Bytes, Length: packet.Fixed(40), Default: spaces(40)},
	{Name: "terminal", Type: packet.PaddedString(0), Length: packet.Fixed(15)},
	{Name: "unused3", Type: packet.Bytes, Length: packet.Fixed(10), Default: make([]byte, 10)},
	{Name: "unused4", Type: packet.Bytes, Length: packet.Fixed(20), Default: spaces(20)},
	{Name: "unused5", Type: packet.I32},
	{Name: "unused6", Type: packet.I32},
	{Name: "unused7", Type: packet.I32, Default: -1},
	{Name: "unused8", Type: packet.I32},
	{Name: "unused9", Type: packet.U8, Default: 0x01},
	{Name: "unused10", Type: packet.Bytes, Length: packet.Fixed(57), Default: make([]byte, 57)},
}, packet.WithPayload(SAPDiag), packet.WithPayloadLength(packet.FromField("len", 0)), packet.WithLayerType(3302))

// bodies picks the Diag payload: a message, or an error text when err_no is
// set.
var bodies = packet.NewTable("sap.diag.body")

// SAPDiag is the Diag header. When compress is on, the payload is LZH
// compressed on the wire.
var SAPDiag = packet.MustDefine("SAPDiag", []packet.Field{
	{Name: "mode", Type: packet.U8},
	{Name: "com_flag_term_gra", Type: packet.Flag},
	{Name: "com_flag_term_nnm", Type: packet.Flag},
	{Name: "com_flag_term_cas", Type: packet.Flag},
	{Name: "com_flag_term_inq", Type: packet.Flag},
	{Name: "com_flag_term_eoc", Type: packet.Flag},
	{Name: "com_flag_term_nop", Type: packet.Flag},
	{Name: "com_flag_term_eop", Type: packet.Flag},
	{Name: "com_flag_term_ini", Type: packet.Flag},
	{Name: "mode_stat", Type: packet.U8},
	{Name: "err_no", Type: packet.U8},
	{Name: "msg_type", Type: packet.U8},
	{Name: "msg_info", Type: packet.U8},
	{Name: "msg_rc", Type: packet.U8},
	{Name: "compress", Type: packet.U8},
},
	packet.WithKey(func(v *packet.Values) uint64 {
		if v.Uint("err_no") != 0 {
			return 1
		}
		return 0
	}, bodies),
	packet.WithCompression(packet.FieldEquals("compress", CompressOn), compress.LZH),
	packet.WithLayerType(3303),
)

// SAPDiagError carries the error text of a Diag header with err_no set.
var SAPDiagError = packet.MustDefine("SAPDiagError", []packet.Field{
	{Name: "info", Type: packet.String, Length: packet.Remainder()},
})

// SAPDiagMessage is the list of items of a Diag message.
var SAPDiagMessage = packet.MustDefine("SAPDiagMessage", []packet.Field{
	{Name: "items", Type: packet.LayerList(SAPDiagItem)},
}, packet.WithLayerType(3304))

// SAPNIDiag is an NI frame carrying a Diag message, with or without the
// dispatcher header in front.
var SAPNIDiag = ni.OverSelector(Select)

// Layer types for gopacket.
var (
	LayerTypeSAPDiagDP      = SAPDiagDP.LayerType()
	LayerTypeSAPDiag        = SAPDiag.LayerType()
	LayerTypeSAPDiagMessage = SAPDiagMessage.LayerType()
)

func init() {
	bodies.Register(0, SAPDiagMessage)
	bodies.Register(1, SAPDiagError)
	packet.MustRegister(SAPDiagDP, SAPDiag, SAPDiagError, SAPDiagMessage, SAPDiagItem)
}

// Select picks the definition of an NI payload on a Diag connection. The
// dispatcher header starts with a request id of -1.
func Select(payload []byte) *packet.Definition {
	if len(payload) == 0 || ni.IsKeepAlive(payload) {
		return nil
	}
	if len(payload) >= DPHeaderSize && bytes.HasPrefix(payload, []byte{0xff, 0xff, 0xff, 0xff}) {
		return SAPDiagDP
	}
	return SAPDiag
}
