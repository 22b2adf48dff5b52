package capture

import (
	"errors"
	"sort"

	"golang.org/x/net/bpf"
)

// snapLen is the accept verdict of the port filter.
const snapLen = 262144

var ErrFilterTooLarge = errors.New("capture: port filter too large")

type portRange struct{ lo, hi uint16 }

// portRanges collapses ports into sorted, merged ranges.
func portRanges(ports []uint16) []portRange {
	if len(ports) == 0 {
		return nil
	}
	ps := append([]uint16(nil), ports...)
	sort.Slice(ps, func(i, j int) bool { return ps[i] < ps[j] })
	out := []portRange{{ps[0], ps[0]}}
	for _, p := range ps[1:] {
		last := &out[len(out)-1]
		if uint32(p) <= uint32(last.hi)+1 {
			if p > last.hi {
				last.hi = p
			}
			continue
		}
		out = append(out, portRange{p, p})
	}
	return out
}

// PortFilter assembles a classic BPF program accepting unfragmented
// Ethernet/IPv4/TCP frames whose source or destination port is in ports.
// Everything else gets a zero verdict.
func PortFilter(ports []uint16) ([]bpf.Instruction, error) {
	ranges := portRanges(ports)
	if len(ranges) == 0 {
		return nil, errors.New("capture: no ports to filter on")
	}
	per := 2 * len(ranges)
	// header checks, a load plus range checks per port direction, drop, accept
	total := 7 + 2*(per+1) + 2
	if total > 255 {
		return nil, ErrFilterTooLarge
	}
	drop := uint32(total - 2)
	accept := uint32(total - 1)
	skip := func(from int, to uint32) uint8 { return uint8(int(to) - from - 1) }

	prog := []bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2}, // ethertype
	}
	prog = append(prog, bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x0800, SkipFalse: skip(len(prog), drop)})
	prog = append(prog, bpf.LoadAbsolute{Off: 23, Size: 1}) // ip proto
	prog = append(prog, bpf.JumpIf{Cond: bpf.JumpEqual, Val: 6, SkipFalse: skip(len(prog), drop)})
	prog = append(prog, bpf.LoadAbsolute{Off: 20, Size: 2}) // flags + fragment offset
	prog = append(prog, bpf.JumpIf{Cond: bpf.JumpBitsSet, Val: 0x1fff, SkipTrue: skip(len(prog), drop)})
	prog = append(prog, bpf.LoadMemShift{Off: 14}) // X = ip header length
	for _, off := range []uint32{14, 16} {
		prog = append(prog, bpf.LoadIndirect{Off: off, Size: 2})
		for _, r := range ranges {
			// below the range: skip its upper check and fall into the next one
			prog = append(prog, bpf.JumpIf{Cond: bpf.JumpLessThan, Val: uint32(r.lo), SkipTrue: 1})
			prog = append(prog, bpf.JumpIf{Cond: bpf.JumpLessOrEqual, Val: uint32(r.hi), SkipTrue: skip(len(prog), accept)})
		}
	}
	prog = append(prog, bpf.RetConstant{Val: 0})
	prog = append(prog, bpf.RetConstant{Val: snapLen})
	return prog, nil
}

// Matcher runs a port filter over raw link-layer frames.
type Matcher struct {
	vm *bpf.VM
}

// NewMatcher assembles PortFilter(ports) into a VM.
func NewMatcher(ports []uint16) (*Matcher, error) {
	prog, err := PortFilter(ports)
	if err != nil {
		return nil, err
	}
	vm, err := bpf.NewVM(prog)
	if err != nil {
		return nil, err
	}
	return &Matcher{vm: vm}, nil
}

// Match reports whether frame passes the filter.
func (m *Matcher) Match(frame []byte) bool {
	n, err := m.vm.Run(frame)
	return err == nil && n > 0
}
