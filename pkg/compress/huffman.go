package compress

import (
	"container/heap"
	"fmt"
)

const maxCodeBits = 15

// bitWriter packs bits least significant first.
type bitWriter struct {
	out []byte
	acc uint64
	n   uint
}

func (w *bitWriter) write(bits uint32, n uint) {
	w.acc |= uint64(bits) << w.n
	w.n += n
	for w.n >= 8 {
		w.out = append(w.out, byte(w.acc))
		w.acc >>= 8
		w.n -= 8
	}
}

func (w *bitWriter) flush() []byte {
	if w.n > 0 {
		w.out = append(w.out, byte(w.acc))
		w.acc, w.n = 0, 0
	}
	return w.out
}

type bitReader struct {
	data []byte
	pos  int
	acc  uint64
	n    uint
}

func (r *bitReader) bits(n uint) (uint32, error) {
	for r.n < n {
		if r.pos >= len(r.data) {
			return 0, fmt.Errorf("%w: unexpected end of bit stream", ErrCorruptStream)
		}
		r.acc |= uint64(r.data[r.pos]) << r.n
		r.pos++
		r.n += 8
	}
	v := uint32(r.acc & (1<<n - 1))
	r.acc >>= n
	r.n -= n
	return v, nil
}

// decodeTable decodes canonical prefix codes one bit at a time.
type decodeTable struct {
	count  [maxCodeBits + 1]uint16
	symbol []uint16
}

func newDecodeTable(lengths []uint8) (*decodeTable, error) {
	t := &decodeTable{symbol: make([]uint16, len(lengths))}
	for _, l := range lengths {
		t.count[l]++
	}
	left := 1
	for l := 1; l <= maxCodeBits; l++ {
		left <<= 1
		left -= int(t.count[l])
		if left < 0 {
			return nil, fmt.Errorf("%w: over-subscribed code lengths", ErrCorruptStream)
		}
	}
	var offs [maxCodeBits + 2]uint16
	for l := 1; l <= maxCodeBits; l++ {
		offs[l+1] = offs[l] + t.count[l]
	}
	for sym, l := range lengths {
		if l != 0 {
			t.symbol[offs[l]] = uint16(sym)
			offs[l]++
		}
	}
	return t, nil
}

func (t *decodeTable) decode(r *bitReader) (int, error) {
	code, first, index := 0, 0, 0
	for l := 1; l <= maxCodeBits; l++ {
		b, err := r.bits(1)
		if err != nil {
			return 0, err
		}
		code |= int(b)
		count := int(t.count[l])
		if code-count < first {
			return int(t.symbol[index+code-first]), nil
		}
		index += count
		first += count
		first <<= 1
		code <<= 1
	}
	return 0, fmt.Errorf("%w: no symbol for code", ErrCorruptStream)
}

// codeLengths builds length-limited prefix code lengths from symbol
// frequencies. Unused symbols get length zero; a lone used symbol gets one.
func codeLengths(freq []int, limit int) []uint8 {
	f := append([]int(nil), freq...)
	for {
		lengths, depth := huffmanLengths(f)
		if depth <= limit {
			return lengths
		}
		for i := range f {
			if f[i] > 0 {
				f[i] = (f[i] + 1) / 2
			}
		}
	}
}

type huffNode struct {
	freq        int
	id          int
	left, right int
	sym         int
}

type nodeHeap struct {
	nodes []huffNode
	order []int
}

func (h *nodeHeap) Len() int { return len(h.order) }
func (h *nodeHeap) Less(i, j int) bool {
	a, b := h.nodes[h.order[i]], h.nodes[h.order[j]]
	if a.freq != b.freq {
		return a.freq < b.freq
	}
	return a.id < b.id
}
func (h *nodeHeap) Swap(i, j int) { h.order[i], h.order[j] = h.order[j], h.order[i] }
func (h *nodeHeap) Push(x any)    { h.order = append(h.order, x.(int)) }
func (h *nodeHeap) Pop() any {
	n := len(h.order)
	x := h.order[n-1]
	h.order = h.order[:n-1]
	return x
}

func huffmanLengths(freq []int) ([]uint8, int) {
	lengths := make([]uint8, len(freq))
	h := &nodeHeap{}
	for sym, f := range freq {
		if f > 0 {
			h.nodes = append(h.nodes, huffNode{freq: f, id: len(h.nodes), left: -1, right: -1, sym: sym})
			h.order = append(h.order, len(h.nodes)-1)
		}
	}
	switch len(h.nodes) {
	case 0:
		return lengths, 0
	case 1:
		lengths[h.nodes[0].sym] = 1
		return lengths, 1
	}
	heap.Init(h)
	for h.Len() > 1 {
		a := heap.Pop(h).(int)
		b := heap.Pop(h).(int)
		h.nodes = append(h.nodes, huffNode{
			freq: h.nodes[a].freq + h.nodes[b].freq,
			id:   len(h.nodes),
			left: a, right: b, sym: -1,
		})
		heap.Push(h, len(h.nodes)-1)
	}

	maxDepth := 0
	type item struct{ node, depth int }
	stack := []item{{heap.Pop(h).(int), 0}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := h.nodes[it.node]
		if n.sym >= 0 {
			lengths[n.sym] = uint8(min(it.depth, 255))
			maxDepth = max(maxDepth, it.depth)
			continue
		}
		stack = append(stack, item{n.left, it.depth + 1}, item{n.right, it.depth + 1})
	}
	return lengths, maxDepth
}

// canonicalCodes assigns codes in increasing symbol order within each length.
func canonicalCodes(lengths []uint8) []uint32 {
	var count [maxCodeBits + 1]uint32
	for _, l := range lengths {
		count[l]++
	}
	count[0] = 0
	var next [maxCodeBits + 2]uint32
	code := uint32(0)
	for l := 1; l <= maxCodeBits; l++ {
		code = (code + count[l-1]) << 1
		next[l] = code
	}
	codes := make([]uint32, len(lengths))
	for sym, l := range lengths {
		if l != 0 {
			codes[sym] = next[l]
			next[l]++
		}
	}
	return codes
}

func reverseBits(code uint32, n uint8) uint32 {
	var r uint32
	for i := uint8(0); i < n; i++ {
		r = r<<1 | code&1
		code >>= 1
	}
	return r
}
