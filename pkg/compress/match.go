package compress

const matchHashBits = 15

// matcher finds back-references with hash chains over 3-byte prefixes.
type matcher struct {
	data     []byte
	window   int
	maxMatch int
	maxChain int
	head     []int32
	prev     []int32
}

func newMatcher(data []byte, window, maxMatch, maxChain int) *matcher {
	m := &matcher{
		data:     data,
		window:   window,
		maxMatch: maxMatch,
		maxChain: maxChain,
		head:     make([]int32, 1<<matchHashBits),
		prev:     make([]int32, len(data)),
	}
	for i := range m.head {
		m.head[i] = -1
	}
	return m
}

func (m *matcher) hash(i int) uint32 {
	d := m.data
	v := uint32(d[i])<<16 | uint32(d[i+1])<<8 | uint32(d[i+2])
	return (v * 2654435761) >> (32 - matchHashBits)
}

func (m *matcher) insert(i int) {
	if i+3 > len(m.data) {
		return
	}
	h := m.hash(i)
	m.prev[i] = m.head[h]
	m.head[h] = int32(i)
}

// find returns the longest match for position i and its distance.
func (m *matcher) find(i int) (length, dist int) {
	d := m.data
	if i+3 > len(d) {
		return 0, 0
	}
	limit := min(m.maxMatch, len(d)-i)
	cand := m.head[m.hash(i)]
	for chain := 0; cand >= 0 && chain < m.maxChain; chain++ {
		c := int(cand)
		if i-c > m.window {
			break
		}
		if d[c+length] == d[i+length] {
			n := 0
			for n < limit && d[c+n] == d[i+n] {
				n++
			}
			if n > length {
				length, dist = n, i-c
				if n == limit {
					break
				}
			}
		}
		cand = m.prev[c]
	}
	return length, dist
}
