package diag

import (
	"firestige.xyz/sapcraft/pkg/packet"
)

// InitRequest returns the first message of a Diag connection: the
// dispatcher header, an uncompressed Diag header flagged TERM_INI, the user
// connect item and the support data item. compressed asks the server for
// compressed replies.
func InitRequest(terminal string, compressed bool, support SupportBits) *packet.Layer {
	return packet.Stack(
		packet.New(SAPDiagDP).With("terminal", terminal),
		packet.New(SAPDiag).With("compress", CompressOff).With("com_flag_term_ini", 1),
		Message(UserConnectItem(compressed), SupportDataItem(support)),
	)
}

// EndOfConnection returns the Diag header that closes a connection.
func EndOfConnection() *packet.Layer {
	return packet.New(SAPDiag).With("compress", CompressOff).With("com_flag_term_eoc", 1)
}

// Request returns a dialog step message: the step item, items, then the end
// of message item.
func Request(step uint32, compressed bool, items ...*packet.Layer) *packet.Layer {
	all := make([]*packet.Layer, 0, len(items)+2)
	all = append(all, StepItem(step))
	all = append(all, items...)
	all = append(all, EOM())

	mode := uint8(CompressOff)
	if compressed {
		mode = CompressOn
	}
	return packet.Stack(packet.New(SAPDiag).With("compress", mode), Message(all...))
}

// MessageItems returns the items of the message carried by a Diag chain, or nil.
func MessageItems(l *packet.Layer) []*packet.Layer {
	m := l.Find(SAPDiagMessage.Name())
	if m == nil {
		return nil
	}
	return m.List("items")
}

// FindItem returns the first item of a message with the given key.
func FindItem(items []*packet.Layer, typ, id, sid uint8) *packet.Layer {
	want := ItemKey(typ, id, sid)
	for _, it := range items {
		got := ItemKey(uint8(it.Uint("item_type")), uint8(it.Uint("item_id")), uint8(it.Uint("item_sid")))
		if got == want {
			return it
		}
	}
	return nil
}
