// Package credv2 decodes the cipher blob of SAP credential v2 files.
package credv2

import (
	"fmt"

	"firestige.xyz/sapcraft/pkg/packet"
)

// Cipher algorithms.
const (
	Algorithm3DES   = 0
	AlgorithmAES256 = 1
)

// headerSize is the size of the cipher header before the cipher text.
const headerSize = 36

// Cipher is the header of a format 1 encrypted credential.
var Cipher = packet.MustDefine("SAPCredv2CredCipher", []packet.Field{
	{Name: "version", Type: packet.U8, Default: 2},
	{Name: "algorithm", Type: packet.U8, Default: Algorithm3DES},
	{Name: "unknown", Type: packet.U16},
	{Name: "salt", Type: packet.Bytes, Length: packet.Fixed(16), Default: make([]byte, 16)},
	{Name: "iv", Type: packet.Bytes, Length: packet.Fixed(16), Default: make([]byte, 16)},
	{Name: "cipher_text", Type: packet.Bytes, Length: packet.Remainder()},
})

func init() {
	packet.MustRegister(Cipher)
}

// FormatVersion returns the format of a cipher blob: the first byte when the
// blob is long enough to carry a header and that byte is 0 or 1, else 0.
// Format 0 blobs are bare 3DES cipher text.
func FormatVersion(blob []byte) int {
	if len(blob) >= headerSize && blob[0] <= 1 {
		return int(blob[0])
	}
	return 0
}

// Algorithm returns the cipher algorithm of a blob. Only format 1 blobs name
// one; everything else is 3DES.
func Algorithm(blob []byte) int {
	if FormatVersion(blob) == 1 {
		return int(blob[1])
	}
	return Algorithm3DES
}

// AlgorithmName returns the display name of alg.
func AlgorithmName(alg int) string {
	switch alg {
	case Algorithm3DES:
		return "3DES"
	case AlgorithmAES256:
		return "AES256"
	}
	return fmt.Sprintf("unknown(%d)", alg)
}

// ParseCipher decodes the header of a format 1 blob.
func ParseCipher(blob []byte) (*packet.Layer, error) {
	if v := FormatVersion(blob); v != 1 {
		return nil, fmt.Errorf("credv2: cipher format %d has no header", v)
	}
	return packet.Dissect(blob, Cipher)
}
