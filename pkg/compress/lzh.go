package compress

import (
	"fmt"
)

// LZH stream, after the header, least significant bit first:
//
//	5 bits   number of literal/length codes - 257
//	5 bits   number of distance codes - 1
//	4 bits   code length of each literal/length symbol, then each distance symbol
//	...      prefix coded symbols up to and including end-of-block (256)
//
// Symbols 257..285 are match lengths and are followed by a distance symbol;
// both carry extra bits as in the tables below.
const (
	lzhWindowBits = 15
	lzhWindow     = 1 << lzhWindowBits
	lzhMinMatch   = 3
	lzhMaxMatch   = 258
	lzhMaxChain   = 128

	lzhEOB      = 256
	lzhNumLit   = 286
	lzhNumDist  = 30
	lzhLenBits  = 4
	lzhMaxCodes = 1<<lzhLenBits - 1
)

var (
	lengthBase = [29]uint16{3, 4, 5, 6, 7, 8, 9, 10, 11, 13, 15, 17, 19, 23, 27, 31,
		35, 43, 51, 59, 67, 83, 99, 115, 131, 163, 195, 227, 258}
	lengthExtra = [29]uint8{0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2,
		3, 3, 3, 3, 4, 4, 4, 4, 5, 5, 5, 5, 0}
	distBase = [30]uint16{1, 2, 3, 4, 5, 7, 9, 13, 17, 25, 33, 49, 65, 97, 129, 193,
		257, 385, 513, 769, 1025, 1537, 2049, 3073, 4097, 6145, 8193, 12289, 16385, 24577}
	distExtra = [30]uint8{0, 0, 0, 0, 1, 1, 2, 2, 3, 3, 4, 4, 5, 5, 6, 6,
		7, 7, 8, 8, 9, 9, 10, 10, 11, 11, 12, 12, 13, 13}
)

type lzhToken struct {
	lit    byte
	length uint16 // zero for literals
	dist   uint16
}

// CompressLZH compresses data with the LZH codec.
func CompressLZH(data []byte) []byte {
	out := Header{Length: uint32(len(data)), Algorithm: LZH, Version: version, Special: lzhWindowBits}.
		append(make([]byte, 0, HeaderSize+len(data)/2+64))

	tokens := lzhParse(data)

	litFreq := make([]int, lzhNumLit)
	distFreq := make([]int, lzhNumDist)
	for _, t := range tokens {
		if t.length == 0 {
			litFreq[t.lit]++
			continue
		}
		litFreq[257+lengthCode(t.length)]++
		distFreq[distCode(t.dist)]++
	}
	litFreq[lzhEOB]++
	if !anyUsed(distFreq) {
		distFreq[0] = 1
	}

	litLens := codeLengths(litFreq, lzhMaxCodes)
	distLens := codeLengths(distFreq, lzhMaxCodes)
	nlit := max(usedPrefix(litLens), 257)
	ndist := max(usedPrefix(distLens), 1)
	litCodes := canonicalCodes(litLens)
	distCodes := canonicalCodes(distLens)

	w := &bitWriter{out: out}
	w.write(uint32(nlit-257), 5)
	w.write(uint32(ndist-1), 5)
	for _, l := range litLens[:nlit] {
		w.write(uint32(l), lzhLenBits)
	}
	for _, l := range distLens[:ndist] {
		w.write(uint32(l), lzhLenBits)
	}

	emit := func(codes []uint32, lens []uint8, sym int) {
		w.write(reverseBits(codes[sym], lens[sym]), uint(lens[sym]))
	}
	for _, t := range tokens {
		if t.length == 0 {
			emit(litCodes, litLens, int(t.lit))
			continue
		}
		lc := lengthCode(t.length)
		emit(litCodes, litLens, 257+lc)
		w.write(uint32(t.length-lengthBase[lc]), uint(lengthExtra[lc]))
		dc := distCode(t.dist)
		emit(distCodes, distLens, dc)
		w.write(uint32(t.dist-distBase[dc]), uint(distExtra[dc]))
	}
	emit(litCodes, litLens, lzhEOB)
	return w.flush()
}

func lzhParse(data []byte) []lzhToken {
	tokens := make([]lzhToken, 0, len(data)/2+1)
	m := newMatcher(data, lzhWindow, lzhMaxMatch, lzhMaxChain)
	for i := 0; i < len(data); {
		length, dist := m.find(i)
		if length < lzhMinMatch {
			tokens = append(tokens, lzhToken{lit: data[i]})
			m.insert(i)
			i++
			continue
		}
		tokens = append(tokens, lzhToken{length: uint16(length), dist: uint16(dist)})
		for j := i; j < i+length; j++ {
			m.insert(j)
		}
		i += length
	}
	return tokens
}

func lengthCode(length uint16) int {
	for i := len(lengthBase) - 1; i > 0; i-- {
		if length >= lengthBase[i] {
			return i
		}
	}
	return 0
}

func distCode(dist uint16) int {
	for i := len(distBase) - 1; i > 0; i-- {
		if dist >= distBase[i] {
			return i
		}
	}
	return 0
}

func anyUsed(freq []int) bool {
	for _, f := range freq {
		if f > 0 {
			return true
		}
	}
	return false
}

func usedPrefix(lens []uint8) int {
	n := len(lens)
	for n > 0 && lens[n-1] == 0 {
		n--
	}
	return n
}

// DecompressLZH decodes an LZH buffer. See Decompress for hint.
func DecompressLZH(data []byte, hint int) ([]byte, error) {
	h, stream, err := openStream(data, LZH, hint)
	if err != nil {
		return nil, err
	}
	declared := int(h.Length)
	r := &bitReader{data: stream}

	nlit, err := r.bits(5)
	if err != nil {
		return nil, err
	}
	ndist, err := r.bits(5)
	if err != nil {
		return nil, err
	}
	if int(nlit)+257 > lzhNumLit || int(ndist)+1 > lzhNumDist {
		return nil, fmt.Errorf("%w: %d literal and %d distance codes", ErrCorruptStream, nlit+257, ndist+1)
	}
	lens := make([]uint8, int(nlit)+257+int(ndist)+1)
	for i := range lens {
		l, err := r.bits(lzhLenBits)
		if err != nil {
			return nil, err
		}
		lens[i] = uint8(l)
	}
	litLens, distLens := lens[:nlit+257], lens[nlit+257:]
	if litLens[lzhEOB] == 0 {
		return nil, fmt.Errorf("%w: no end-of-block code", ErrCorruptStream)
	}
	lit, err := newDecodeTable(litLens)
	if err != nil {
		return nil, err
	}
	dist, err := newDecodeTable(distLens)
	if err != nil {
		return nil, err
	}

	out := newOutput(h.Length)
	for {
		sym, err := lit.decode(r)
		if err != nil {
			return out, err
		}
		switch {
		case sym < lzhEOB:
			out = append(out, byte(sym))
		case sym == lzhEOB:
			if len(out) != declared {
				return out, fmt.Errorf("%w: produced %d bytes, header declares %d", ErrLengthMismatch, len(out), declared)
			}
			return out, nil
		default:
			lc := sym - 257
			if lc >= len(lengthBase) {
				return out, fmt.Errorf("%w: length symbol %d", ErrCorruptStream, sym)
			}
			extra, err := r.bits(uint(lengthExtra[lc]))
			if err != nil {
				return out, err
			}
			length := int(lengthBase[lc]) + int(extra)

			dc, err := dist.decode(r)
			if err != nil {
				return out, err
			}
			if dc >= len(distBase) {
				return out, fmt.Errorf("%w: distance symbol %d", ErrCorruptStream, dc)
			}
			extra, err = r.bits(uint(distExtra[dc]))
			if err != nil {
				return out, err
			}
			d := int(distBase[dc]) + int(extra)
			if d > len(out) {
				return out, fmt.Errorf("%w: distance %d with %d bytes decoded", ErrInvalidBackReference, d, len(out))
			}
			out = copyMatch(out, d, length)
		}
		if len(out) > declared {
			return out, fmt.Errorf("%w: produced more than the declared %d bytes", ErrLengthMismatch, declared)
		}
	}
}
