package diag

import (
	"firestige.xyz/sapcraft/pkg/packet"
)

// Item types.
const (
	ItemSES         = 0x01
	ItemICO         = 0x02
	ItemTIT         = 0x03
	ItemDiagMessage = 0x07
	ItemOKC         = 0x08
	ItemCHL         = 0x09
	ItemSFE         = 0x0a
	ItemSBA         = 0x0b
	ItemEOM         = 0x0c
	ItemAPPL        = 0x10
	ItemXMLBlob     = 0x11
	ItemAPPL4       = 0x12
	ItemSLC         = 0x13
	ItemSBA2        = 0x15
)

// Application item ids and sub ids.
const (
	ApplSTUser   = 0x04
	ApplSTR3Info = 0x06

	SidConnect     = 0x02
	SidSupportData = 0x0b
	SidStep        = 0x26
)

// Fixed value sizes of the item types that carry no length field.
var itemSizes = map[uint64]int{
	ItemSES:  16,
	ItemICO:  20,
	ItemTIT:  3,
	ItemCHL:  22,
	ItemSFE:  3,
	ItemSBA:  9,
	ItemEOM:  0,
	ItemSLC:  2,
	ItemSBA2: 36,
}

// Items binds item values by ItemKey.
var Items = packet.NewTable("sap.diag.item")

// ItemKey is the Items table key of an item. Sub ids only apply to
// application items.
func ItemKey(typ, id, sid uint8) uint64 {
	if typ != ItemAPPL && typ != ItemAPPL4 {
		id, sid = 0, 0
	}
	return uint64(typ)<<16 | uint64(id)<<8 | uint64(sid)
}

func isAppl() packet.Predicate {
	return packet.FieldIn("item_type", ItemAPPL, ItemAPPL4)
}

// SAPDiagItem is a single item of a Diag message. Its value is bounded by
// a length field for application items and by a fixed size otherwise;
// values of unknown items are kept opaque.
var SAPDiagItem = packet.MustDefine("SAPDiagItem", []packet.Field{
	{Name: "item_type", Type: packet.U8},
	{Name: "item_id", Type: packet.U8, Present: isAppl()},
	{Name: "item_sid", Type: packet.U8, Present: isAppl()},
	{Name: "item_length", Type: packet.U16, Derive: packet.PayloadLength(0), Present: packet.FieldEquals("item_type", ItemAPPL)},
	{Name: "item_length4", Type: packet.U32, Derive: packet.PayloadLength(0), Present: packet.FieldIn("item_type", ItemAPPL4, ItemXMLBlob)},
},
	packet.WithKey(func(v *packet.Values) uint64 {
		return ItemKey(uint8(v.Uint("item_type")), uint8(v.Uint("item_id")), uint8(v.Uint("item_sid")))
	}, Items),
	packet.WithPayloadLength(packet.LengthFunc(itemValueLength, "item_type", "item_length", "item_length4")),
)

func itemValueLength(v *packet.Values) int {
	switch t := v.Uint("item_type"); t {
	case ItemAPPL:
		return int(v.Uint("item_length"))
	case ItemAPPL4, ItemXMLBlob:
		return int(v.Uint("item_length4"))
	default:
		if n, ok := itemSizes[t]; ok {
			return n
		}
		return -1
	}
}

// SES is the session item value.
var SES = packet.MustDefine("SAPDiagSES", []packet.Field{
	{Name: "eventarray", Type: packet.U32},
	{Name: "ss_no", Type: packet.U8},
	{Name: "sid", Type: packet.U8},
	{Name: "mode_stat", Type: packet.U8},
	{Name: "stat_no", Type: packet.U8},
	{Name: "dim_row", Type: packet.U8},
	{Name: "dim_col", Type: packet.U8},
	{Name: "unused", Type: packet.Bytes, Length: packet.Fixed(6), Default: make([]byte, 6)},
})

// Step carries the dialog step number.
var Step = packet.MustDefine("SAPDiagStep", []packet.Field{
	{Name: "step", Type: packet.U32},
})

// UserConnect is the value of the user connect item sent on init.
var UserConnect = packet.MustDefine("SAPDiagUserConnect", []packet.Field{
	{Name: "protocol_version", Type: packet.U32, Default: ProtocolVersionCompressed},
	{Name: "code_page", Type: packet.U32, Default: 1100},
	{Name: "ws_type", Type: packet.U32, Default: 5001},
})

// Protocol versions announced in the user connect item. The uncompressed
// one tells the server not to compress its replies.
const (
	ProtocolVersionCompressed   = 200
	ProtocolVersionUncompressed = 10000
)

// SupportData is the value of the support data item.
var SupportData = packet.MustDefine("SAPDiagSupportBits", []packet.Field{
	{Name: "support_bits", Type: packet.Bytes, Length: packet.Fixed(SupportBitsSize), Default: make([]byte, SupportBitsSize)},
})

func init() {
	Items.Register(ItemKey(ItemSES, 0, 0), SES)
	Items.Register(ItemKey(ItemAPPL, ApplSTUser, SidStep), Step)
	Items.Register(ItemKey(ItemAPPL, ApplSTUser, SidConnect), UserConnect)
	Items.Register(ItemKey(ItemAPPL, ApplSTUser, SidSupportData), SupportData)
	packet.MustRegister(SES, Step, UserConnect, SupportData)
}

// NewItem returns an item of type typ holding value. id and sid are ignored
// for non application items.
func NewItem(typ, id, sid uint8, value *packet.Layer) *packet.Layer {
	l := packet.New(SAPDiagItem).With("item_type", typ)
	if typ == ItemAPPL || typ == ItemAPPL4 {
		l.With("item_id", id).With("item_sid", sid)
	}
	if value != nil {
		l.SetPayload(value)
	}
	return l
}

// EOM returns the end of message item.
func EOM() *packet.Layer {
	return NewItem(ItemEOM, 0, 0, nil)
}

// Message returns a message layer holding items.
func Message(items ...*packet.Layer) *packet.Layer {
	return packet.New(SAPDiagMessage).With("items", items)
}

// StepItem returns the dialog step item.
func StepItem(step uint32) *packet.Layer {
	return NewItem(ItemAPPL, ApplSTUser, SidStep, packet.New(Step).With("step", step))
}

// SupportDataItem returns the support data item announcing bits.
func SupportDataItem(bits SupportBits) *packet.Layer {
	return NewItem(ItemAPPL, ApplSTUser, SidSupportData,
		packet.New(SupportData).With("support_bits", bits.Bytes()))
}

// UserConnectItem returns the user connect item. compressed selects the
// protocol version that enables compressed replies.
func UserConnectItem(compressed bool) *packet.Layer {
	version := uint32(ProtocolVersionUncompressed)
	if compressed {
		version = ProtocolVersionCompressed
	}
	return NewItem(ItemAPPL, ApplSTUser, SidConnect,
		packet.New(UserConnect).With("protocol_version", version))
}
