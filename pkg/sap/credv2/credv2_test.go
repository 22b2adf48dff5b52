package credv2

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/sapcraft/pkg/packet"
)

func TestCipherHeader(t *testing.T) {
	salt := bytes.Repeat([]byte{0x11}, 16)
	iv := bytes.Repeat([]byte{0x22}, 16)
	blob, err := packet.Build(packet.New(Cipher).
		With("version", 1).
		With("algorithm", AlgorithmAES256).
		With("salt", salt).
		With("iv", iv).
		With("cipher_text", []byte{0xca, 0xfe}))
	require.NoError(t, err)
	require.Len(t, blob, headerSize+2)
	assert.Equal(t, []byte{0x01, 0x01, 0x00, 0x00}, blob[:4])

	assert.Equal(t, 1, FormatVersion(blob))
	assert.Equal(t, AlgorithmAES256, Algorithm(blob))
	assert.Equal(t, "AES256", AlgorithmName(Algorithm(blob)))

	l, err := ParseCipher(blob)
	require.NoError(t, err)
	assert.Equal(t, salt, l.Bytes("salt"))
	assert.Equal(t, iv, l.Bytes("iv"))
	assert.Equal(t, []byte{0xca, 0xfe}, l.Bytes("cipher_text"))
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, 0, FormatVersion(nil))
	assert.Equal(t, 0, FormatVersion(make([]byte, 35)), "too short for a header")

	blob := make([]byte, 48)
	blob[0], blob[1] = 0x02, AlgorithmAES256
	assert.Equal(t, 0, FormatVersion(blob), "first byte outside 0..1")
	assert.Equal(t, Algorithm3DES, Algorithm(blob))

	blob[0] = 0x01
	assert.Equal(t, 1, FormatVersion(blob))
	assert.Equal(t, AlgorithmAES256, Algorithm(blob))

	blob[0] = 0x00
	_, err := ParseCipher(blob)
	assert.Error(t, err)
	assert.Equal(t, "unknown(7)", AlgorithmName(7))
}

func TestDefaultHeader(t *testing.T) {
	blob, err := packet.Build(packet.New(Cipher))
	require.NoError(t, err)
	assert.Len(t, blob, headerSize)
	assert.Equal(t, byte(2), blob[0])
}
