package compress

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleInputs() map[string][]byte {
	rng := rand.New(rand.NewSource(42))
	random := make([]byte, 8192)
	rng.Read(random)

	sequence := make([]byte, 256)
	for i := range sequence {
		sequence[i] = byte(i)
	}

	return map[string][]byte{
		"empty":      {},
		"one byte":   {0x42},
		"two bytes":  {0x42, 0x43},
		"repetitive": bytes.Repeat([]byte("A"), 70000),
		"pattern":    bytes.Repeat([]byte("SAPDIAG-"), 5000),
		"random":     random,
		"sequence":   sequence,
		"text": []byte("The quick brown fox jumps over the lazy dog. " +
			"The quick brown fox jumps over the lazy dog again."),
	}
}

func TestRoundTrip(t *testing.T) {
	for _, alg := range []Algorithm{LZC, LZH} {
		for name, in := range sampleInputs() {
			t.Run(alg.String()+"/"+name, func(t *testing.T) {
				packed, err := Compress(alg, in)
				require.NoError(t, err)

				h, err := ParseHeader(packed)
				require.NoError(t, err)
				assert.Equal(t, alg, h.Algorithm)
				assert.Equal(t, uint32(len(in)), h.Length)

				out, err := Decompress(packed, 0)
				require.NoError(t, err)
				assert.True(t, bytes.Equal(in, out), "round trip changed %d bytes of input", len(in))
			})
		}
	}
}

func TestCompressShrinksRepetitiveInput(t *testing.T) {
	in := bytes.Repeat([]byte("A"), 70000)
	assert.Less(t, len(CompressLZC(in)), len(in)/30)
	assert.Less(t, len(CompressLZH(in)), len(in)/100)
}

func TestLZHSequence(t *testing.T) {
	in := make([]byte, 256)
	for i := range in {
		in[i] = byte(i)
	}
	out, err := DecompressLZH(CompressLZH(in), len(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestLZCStreamLayout(t *testing.T) {
	got := CompressLZC([]byte("aaaaaa"))
	want := []byte{
		0x06, 0x00, 0x00, 0x00, // uncompressed length
		0x11,             // version 1, LZC
		0x1f, 0x9d,       // magic
		0x0c,             // 4 KiB window
		0x00, 'a',        // literal run of one byte
		0x82, 0x00, 0x01, // match: 5 bytes, distance 1
	}
	assert.Equal(t, want, got)
}

func TestHeaderLayout(t *testing.T) {
	got := CompressLZH(nil)
	require.GreaterOrEqual(t, len(got), HeaderSize)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x00, 0x12, 0x1f, 0x9d, 0x0f}, got[:HeaderSize])
}

func TestLZCInvalidBackReference(t *testing.T) {
	stream := []byte{
		0x05, 0x00, 0x00, 0x00, 0x11, 0x1f, 0x9d, 0x0c,
		0x00, 'A', // one literal
		0x80, 0x00, 0x05, // 3 bytes from distance 5
	}
	_, err := DecompressLZC(stream, 0)
	assert.ErrorIs(t, err, ErrInvalidBackReference)

	zero := []byte{
		0x04, 0x00, 0x00, 0x00, 0x11, 0x1f, 0x9d, 0x0c,
		0x00, 'A',
		0x80, 0x00, 0x00, // distance 0
	}
	_, err = DecompressLZC(zero, 0)
	assert.ErrorIs(t, err, ErrInvalidBackReference)
}

func TestLengthMismatch(t *testing.T) {
	for _, alg := range []Algorithm{LZC, LZH} {
		t.Run(alg.String(), func(t *testing.T) {
			packed, err := Compress(alg, []byte("hello, world"))
			require.NoError(t, err)

			packed[0]++ // declare one byte more than encoded
			_, err = Decompress(packed, 0)
			assert.ErrorIs(t, err, ErrLengthMismatch)

			packed[0] -= 2 // declare one byte less
			_, err = Decompress(packed, 0)
			assert.ErrorIs(t, err, ErrLengthMismatch)
		})
	}
}

func TestHintRejectsLargerOutput(t *testing.T) {
	packed := CompressLZH(bytes.Repeat([]byte{1}, 1000))
	_, err := Decompress(packed, 999)
	assert.ErrorIs(t, err, ErrLengthMismatch)

	out, err := Decompress(packed, 1000)
	require.NoError(t, err)
	assert.Len(t, out, 1000)
}

func TestHeaderErrors(t *testing.T) {
	_, err := Decompress([]byte{1, 2, 3}, 0)
	assert.ErrorIs(t, err, ErrShortHeader)

	_, err = Decompress([]byte{0, 0, 0, 0, 0x12, 0x1f, 0x00, 0x0f}, 0)
	assert.ErrorIs(t, err, ErrBadMagic)

	_, err = Decompress([]byte{0, 0, 0, 0, 0x17, 0x1f, 0x9d, 0x0f}, 0)
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)

	_, err = DecompressLZC(CompressLZH([]byte("x")), 0)
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)

	_, err = Compress(None, []byte("x"))
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestTruncatedStreams(t *testing.T) {
	in := bytes.Repeat([]byte("truncate me please "), 40)
	for _, alg := range []Algorithm{LZC, LZH} {
		packed, err := Compress(alg, in)
		require.NoError(t, err)
		for n := HeaderSize; n < len(packed); n++ {
			_, err := Decompress(packed[:n], 0)
			if err == nil {
				t.Fatalf("%s: prefix of %d/%d bytes decoded without error", alg, n, len(packed))
			}
			if !errors.Is(err, ErrCorruptStream) && !errors.Is(err, ErrLengthMismatch) {
				t.Fatalf("%s: prefix of %d bytes: unexpected error %v", alg, n, err)
			}
		}
	}
}

func TestLZHCorruptTables(t *testing.T) {
	// 257 literal codes, 1 distance code, every length 1: over-subscribed
	w := &bitWriter{}
	w.write(0, 5)
	w.write(0, 5)
	for i := 0; i < 258; i++ {
		w.write(1, lzhLenBits)
	}
	stream := append([]byte{0, 0, 0, 0, 0x12, 0x1f, 0x9d, 0x0f}, w.flush()...)
	_, err := DecompressLZH(stream, 0)
	assert.ErrorIs(t, err, ErrCorruptStream)
}

func TestParseAlgorithm(t *testing.T) {
	alg, err := ParseAlgorithm("LZH")
	require.NoError(t, err)
	assert.Equal(t, LZH, alg)

	alg, err = ParseAlgorithm("lzc")
	require.NoError(t, err)
	assert.Equal(t, LZC, alg)

	_, err = ParseAlgorithm("zip")
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestCodeLengthsAreLimited(t *testing.T) {
	// Fibonacci frequencies produce a maximally skewed tree.
	freq := make([]int, 30)
	a, b := 1, 1
	for i := range freq {
		freq[i] = a
		a, b = b, a+b
	}
	lens := codeLengths(freq, lzhMaxCodes)
	kraft := 0.0
	for _, l := range lens {
		require.NotZero(t, l)
		require.LessOrEqual(t, int(l), lzhMaxCodes)
		kraft += 1 / float64(uint(1)<<l)
	}
	assert.LessOrEqual(t, kraft, 1.0)
}
