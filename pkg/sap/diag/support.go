package diag

import (
	"encoding/hex"
	"fmt"
)

// SupportBitsSize is the size of the support data bit field.
const SupportBitsSize = 32

// SupportBits announces client capabilities. Bit n lives in byte n/8 under
// mask 1<<(n%8).
type SupportBits [SupportBitsSize]byte

// Named support bits.
const (
	SupportProgressIndicator = iota
	SupportSAPGUILabels
	SupportSAPGUIDiagVersion
	SupportSAPGUISelectRect
	SupportSAPGUISymbolRight
	SupportSAPGUIFontMetric
	SupportSAPGUICompressEnhanced
	SupportSAPGUIIMode
	SupportSAPGUILongMessage
	SupportSAPGUITable
	SupportSAPGUIFocus1
	SupportSAPGUIPushbutton1
	SupportUppercase
	SupportSAPGUITabProperty
	SupportInputUppercase
	SupportRFCDialog
	SupportListHotspot
	SupportFKeyTable
	SupportMenuShortcut
	SupportStopTrans
	SupportFullMenu
	SupportObjectNames
	SupportContainerType
	SupportDLGHFlags
	SupportApplMenu
	SupportMessageInfo
	SupportMesdumFlagErr
)

var supportNames = map[int]string{
	SupportProgressIndicator:      "PROGRESS_INDICATOR",
	SupportSAPGUILabels:           "SAPGUI_LABELS",
	SupportSAPGUIDiagVersion:      "SAPGUI_DIAGVERSION",
	SupportSAPGUISelectRect:       "SAPGUI_SELECT_RECT",
	SupportSAPGUISymbolRight:      "SAPGUI_SYMBOL_RIGHT",
	SupportSAPGUIFontMetric:       "SAPGUI_FONT_METRIC",
	SupportSAPGUICompressEnhanced: "SAPGUI_COMPR_ENHANCED",
	SupportSAPGUIIMode:            "SAPGUI_IMODE",
	SupportSAPGUILongMessage:      "SAPGUI_LONG_MESSAGE",
	SupportSAPGUITable:            "SAPGUI_TABLE",
	SupportSAPGUIFocus1:           "SAPGUI_FOCUS_1",
	SupportSAPGUIPushbutton1:      "SAPGUI_PUSHBUTTON_1",
	SupportUppercase:              "UPPERCASE",
	SupportSAPGUITabProperty:      "SAPGUI_TABPROPERTY",
	SupportInputUppercase:         "INPUT_UPPERCASE",
	SupportRFCDialog:              "RFC_DIALOG",
	SupportListHotspot:            "LIST_HOTSPOT",
	SupportFKeyTable:              "FKEY_TABLE",
	SupportMenuShortcut:           "MENU_SHORTCUT",
	SupportStopTrans:              "STOP_TRANS",
	SupportFullMenu:               "FULL_MENU",
	SupportObjectNames:            "OBJECT_NAMES",
	SupportContainerType:          "CONTAINER_TYPE",
	SupportDLGHFlags:              "DLGH_FLAGS",
	SupportApplMenu:               "APPL_MNU",
	SupportMessageInfo:            "MESSAGE_INFO",
	SupportMesdumFlagErr:          "MESDUM_FLAG_ERR",
}

// defaultSupportHex is the capability set of a recent SAP GUI.
const defaultSupportHex = "ff7ffa0d78b737def6196e9325bf1593ef73feebdb5101000000000000000000"

// DefaultSupport returns the support bits sent by InitRequest when the caller
// has no preference.
func DefaultSupport() SupportBits {
	b, _ := ParseSupportBits(defaultSupportHex)
	return b
}

// ParseSupportBits decodes a hex string of up to 32 bytes.
func ParseSupportBits(s string) (SupportBits, error) {
	var b SupportBits
	raw, err := hex.DecodeString(s)
	if err != nil {
		return b, fmt.Errorf("diag: support bits: %w", err)
	}
	if len(raw) > SupportBitsSize {
		return b, fmt.Errorf("diag: support bits: %d bytes, at most %d", len(raw), SupportBitsSize)
	}
	copy(b[:], raw)
	return b, nil
}

// SupportBitsFrom copies a decoded support_bits value.
func SupportBitsFrom(raw []byte) SupportBits {
	var b SupportBits
	copy(b[:], raw)
	return b
}

// Has reports whether bit n is set.
func (b SupportBits) Has(n int) bool {
	if n < 0 || n >= SupportBitsSize*8 {
		return false
	}
	return b[n/8]&(1<<(n%8)) != 0
}

// Set sets bit n.
func (b *SupportBits) Set(n int) {
	if n >= 0 && n < SupportBitsSize*8 {
		b[n/8] |= 1 << (n % 8)
	}
}

// Clear clears bit n.
func (b *SupportBits) Clear(n int) {
	if n >= 0 && n < SupportBitsSize*8 {
		b[n/8] &^= 1 << (n % 8)
	}
}

// Bytes returns a copy of the bit field.
func (b SupportBits) Bytes() []byte {
	return append([]byte(nil), b[:]...)
}

// Names lists the set bits by name, unknown bits as BIT_n.
func (b SupportBits) Names() []string {
	var bits []int
	for n := 0; n < SupportBitsSize*8; n++ {
		if b.Has(n) {
			bits = append(bits, n)
		}
	}
	out := make([]string, len(bits))
	for i, n := range bits {
		if name, ok := supportNames[n]; ok {
			out[i] = name
		} else {
			out[i] = fmt.Sprintf("BIT_%d", n)
		}
	}
	return out
}

// String returns the hex form accepted by ParseSupportBits.
func (b SupportBits) String() string {
	return hex.EncodeToString(b[:])
}
