// Package capture recovers SAP NI frames from pcap and pcapng files.
package capture

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/google/gopacket/tcpassembly"

	"firestige.xyz/sapcraft/internal/log"
	"firestige.xyz/sapcraft/internal/metrics"
	"firestige.xyz/sapcraft/pkg/sap/ni"
)

const (
	defaultMaxFlows = 4096
	flushEvery      = 1024
	flushAge        = 2 * time.Minute
)

var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// Options tunes a Reader.
type Options struct {
	// Ports restricts reassembly to flows with one of these ports on either
	// side. Empty means every TCP flow.
	Ports        []uint16
	MaxFrameSize int
	MaxFlows     int
}

// Stats counts what a Reader saw.
type Stats struct {
	Packets  int
	Filtered int
	Frames   int
}

type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Reader reads link-layer packets and reassembles the TCP flows that match
// its port set into NI frames.
type Reader struct {
	src       packetSource
	closer    io.Closer
	matcher   *Matcher
	ports     map[uint16]bool
	assembler *tcpassembly.Assembler
	pending   []Frame
	stats     Stats
}

// Open opens a pcap or pcapng file.
func Open(path string, opts Options) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f, opts)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.closer = f
	return r, nil
}

// NewReader reads a pcap or pcapng stream from in.
func NewReader(in io.Reader, opts Options) (*Reader, error) {
	br := bufio.NewReader(in)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("capture: reading file header: %w", err)
	}
	var src packetSource
	if bytes.Equal(magic, pcapngMagic) {
		src, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		src, err = pcapgo.NewReader(br)
	}
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}

	r := &Reader{src: src}
	if len(opts.Ports) > 0 {
		r.ports = make(map[uint16]bool, len(opts.Ports))
		for _, p := range opts.Ports {
			r.ports[p] = true
		}
		if src.LinkType() == layers.LinkTypeEthernet {
			if r.matcher, err = NewMatcher(opts.Ports); err != nil {
				log.GetLogger().WithError(err).Warn("bpf prefilter disabled")
			}
		}
	}
	maxFlows := opts.MaxFlows
	if maxFlows <= 0 {
		maxFlows = defaultMaxFlows
	}
	factory := &streamFactory{
		maxFrameSize: opts.MaxFrameSize,
		maxFlows:     maxFlows,
		emit:         func(f Frame) { r.pending = append(r.pending, f) },
	}
	r.assembler = tcpassembly.NewAssembler(tcpassembly.NewStreamPool(factory))
	return r, nil
}

// Frames calls fn for every NI frame in capture order of completion. It
// stops at the first error fn returns. Frames still buffered at the end of
// the file are delivered before it returns.
func (r *Reader) Frames(fn func(Frame) error) error {
	var last time.Time
	for {
		data, ci, err := r.src.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("capture: packet %d: %w", r.stats.Packets+1, err)
		}
		r.stats.Packets++
		last = ci.Timestamp
		r.feed(data, ci)
		if err := r.deliver(fn); err != nil {
			return err
		}
		if r.stats.Packets%flushEvery == 0 && !last.IsZero() {
			r.assembler.FlushOlderThan(last.Add(-flushAge))
			if err := r.deliver(fn); err != nil {
				return err
			}
		}
	}
	r.assembler.FlushAll()
	return r.deliver(fn)
}

func (r *Reader) feed(data []byte, ci gopacket.CaptureInfo) {
	if r.matcher != nil && !r.matcher.Match(data) {
		r.stats.Filtered++
		return
	}
	pkt := gopacket.NewPacket(data, r.src.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	nl := pkt.NetworkLayer()
	tcp, ok := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP)
	if nl == nil || !ok {
		r.stats.Filtered++
		return
	}
	if r.ports != nil && !r.ports[uint16(tcp.SrcPort)] && !r.ports[uint16(tcp.DstPort)] {
		r.stats.Filtered++
		return
	}
	r.assembler.AssembleWithTimestamp(nl.NetworkFlow(), tcp, ci.Timestamp)
}

func (r *Reader) deliver(fn func(Frame) error) error {
	for len(r.pending) > 0 {
		f := r.pending[0]
		r.pending = r.pending[1:]
		r.stats.Frames++
		metrics.ObserveFrame("pcap")
		if err := fn(f); err != nil {
			r.pending = nil
			return err
		}
	}
	return nil
}

// Stats returns the counters so far.
func (r *Reader) Stats() Stats { return r.stats }

// Close closes the file behind a Reader returned by Open.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// ServerPort picks the side of f that is in ports, preferring the
// destination. With no match it returns the lower port.
func ServerPort(f Frame, ports []uint16) uint16 {
	src, dst := f.Ports()
	for _, p := range ports {
		if p == dst {
			return dst
		}
	}
	for _, p := range ports {
		if p == src {
			return src
		}
	}
	if src < dst {
		return src
	}
	return dst
}

// IsKeepAlive reports whether f is an NI ping or pong.
func IsKeepAlive(f Frame) bool {
	return len(f.Data) > ni.HeaderSize && ni.IsKeepAlive(f.Data[ni.HeaderSize:])
}
