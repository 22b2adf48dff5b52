package capture

import (
	"bufio"
	"encoding/binary"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/tcpassembly"

	"firestige.xyz/sapcraft/internal/log"
	"firestige.xyz/sapcraft/pkg/sap/ni"
)

// Frame is one complete NI frame, length prefix included, recovered from a
// TCP flow direction.
type Frame struct {
	Net, Transport gopacket.Flow
	Seen           time.Time
	Data           []byte
}

// Ports returns the TCP source and destination port of the frame.
func (f Frame) Ports() (src, dst uint16) {
	return flowPorts(f.Transport)
}

func flowPorts(transport gopacket.Flow) (src, dst uint16) {
	s, d := transport.Endpoints()
	if raw := s.Raw(); len(raw) == 2 {
		src = binary.BigEndian.Uint16(raw)
	}
	if raw := d.Raw(); len(raw) == 2 {
		dst = binary.BigEndian.Uint16(raw)
	}
	return src, dst
}

type streamFactory struct {
	maxFrameSize int
	maxFlows     int
	flows        int
	emit         func(Frame)
}

func (f *streamFactory) New(net, transport gopacket.Flow) tcpassembly.Stream {
	if f.flows >= f.maxFlows {
		log.GetLogger().WithField("flow", net.String()+" "+transport.String()).Warn("flow limit reached, ignoring stream")
		return discardStream{}
	}
	f.flows++
	return &niStream{
		net:       net,
		transport: transport,
		split:     ni.SplitFrames(f.maxFrameSize),
		emit:      f.emit,
	}
}

// niStream cuts the reassembled byte stream of one direction into NI frames.
type niStream struct {
	net, transport gopacket.Flow
	split          bufio.SplitFunc
	emit           func(Frame)
	buf            []byte
	broken         bool
}

func (s *niStream) Reassembled(rs []tcpassembly.Reassembly) {
	for _, r := range rs {
		if r.Skip != 0 {
			// lost bytes or a mid-stream start: frame boundaries are gone
			s.buf = s.buf[:0]
			s.broken = false
		}
		if s.broken || len(r.Bytes) == 0 {
			continue
		}
		s.buf = append(s.buf, r.Bytes...)
		s.drain(r.Seen)
	}
}

func (s *niStream) drain(seen time.Time) {
	for len(s.buf) > 0 {
		adv, tok, err := s.split(s.buf, false)
		if err != nil {
			log.GetLogger().WithError(err).WithField("flow", s.net.String()+" "+s.transport.String()).
				Warn("dropping stream until next gap")
			s.buf = s.buf[:0]
			s.broken = true
			return
		}
		if adv == 0 {
			return
		}
		s.emit(Frame{
			Net:       s.net,
			Transport: s.transport,
			Seen:      seen,
			Data:      append([]byte(nil), tok...),
		})
		s.buf = s.buf[adv:]
	}
}

func (s *niStream) ReassemblyComplete() {
	if len(s.buf) > 0 {
		log.GetLogger().WithField("flow", s.net.String()+" "+s.transport.String()).
			Debugf("stream closed with %d bytes of partial frame", len(s.buf))
	}
	s.buf = nil
}

type discardStream struct{}

func (discardStream) Reassembled([]tcpassembly.Reassembly) {}
func (discardStream) ReassemblyComplete()                  {}
