package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/sapcraft/internal/capture"
	"firestige.xyz/sapcraft/internal/log"
	"firestige.xyz/sapcraft/internal/metrics"
	"firestige.xyz/sapcraft/internal/stack"
	"firestige.xyz/sapcraft/pkg/packet"
	"firestige.xyz/sapcraft/pkg/sap"
	"firestige.xyz/sapcraft/pkg/sap/ni"
)

type dissectFlags struct {
	*rootOptions
	layer         string
	port          uint16
	hexInput      string
	file          string
	stream        bool
	pcap          string
	ports         []uint
	yaml          bool
	skipKeepAlive bool
}

func newDissectCmd(root *rootOptions) *cobra.Command {
	o := &dissectFlags{rootOptions: root}
	c := &cobra.Command{
		Use:   "dissect [hex]",
		Short: "Decode bytes into a layer tree",
		Long: `Decode bytes as a registered layer and print the layer tree.

Input is a hex argument, --hex, a binary --file ("-" for stdin) or a --pcap
capture. With --stream the file is read as a sequence of NI frames. In pcap
mode TCP flows on the capture ports are reassembled and every NI frame is
decoded according to its server port.

Examples:
  sapcraft dissect --layer SAPNI/SAPRouter 0000000c4e495f524f55544500...
  sapcraft dissect --port 3200 --stream -f session.bin
  sapcraft dissect --pcap trace.pcap --ports 3200,3299 --yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if o.hexInput != "" {
					return errors.New("give hex either as argument or with --hex")
				}
				o.hexInput = args[0]
			}
			return o.run(cmd)
		},
	}
	f := c.Flags()
	f.StringVarP(&o.layer, "layer", "l", "SAPNI", "layer to decode as (registered name or SAPNI/SAPRouter, SAPNI/SAPDiag)")
	f.Uint16Var(&o.port, "port", 0, "pick the NI payload layer by TCP port instead of --layer")
	f.StringVar(&o.hexInput, "hex", "", "hex encoded input")
	f.StringVarP(&o.file, "file", "f", "", "binary input file, - for stdin")
	f.BoolVar(&o.stream, "stream", false, "read the input as consecutive NI frames")
	f.StringVar(&o.pcap, "pcap", "", "pcap or pcapng capture to reassemble")
	f.UintSliceVar(&o.ports, "ports", nil, "capture ports (default: config capture.ports, then the SAP defaults)")
	f.BoolVar(&o.yaml, "yaml", false, "print stack documents instead of trees")
	f.BoolVar(&o.skipKeepAlive, "skip-keepalive", false, "omit NI_PING and NI_PONG frames")
	c.MarkFlagsMutuallyExclusive("hex", "file", "pcap")
	c.MarkFlagsMutuallyExclusive("layer", "port")
	return c
}

func (o *dissectFlags) definition() (*packet.Definition, error) {
	if o.port != 0 {
		return sap.ForPort(o.port), nil
	}
	return sap.Lookup(o.layer)
}

func (o *dissectFlags) run(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	if o.pcap != "" {
		return o.runPcap(out)
	}

	def, err := o.definition()
	if err != nil {
		return err
	}
	var data []byte
	switch {
	case o.hexInput != "":
		data, err = parseHex(o.hexInput)
	case o.file != "":
		data, err = readInput(cmd.InOrStdin(), o.file)
	default:
		return errors.New("no input: give hex, --hex, --file or --pcap")
	}
	if err != nil {
		return err
	}

	if !o.stream {
		return o.show(out, def, data)
	}
	sc := ni.NewScanner(bytes.NewReader(data), o.cfg.Capture.MaxFrameSize)
	n := 0
	for sc.Scan() {
		n++
		metrics.ObserveFrame("stream")
		if o.skipKeepAlive && ni.IsKeepAlive(sc.Bytes()[ni.HeaderSize:]) {
			continue
		}
		fmt.Fprintf(out, "# frame %d\n", n)
		if err := o.show(out, def, sc.Bytes()); err != nil {
			log.GetLogger().WithDecodeError(err).WithField("frame", n).Warn("frame did not decode")
		}
	}
	return sc.Err()
}

// show decodes one message and prints it. The partial tree is printed even
// when decoding fails.
func (o *dissectFlags) show(w io.Writer, def *packet.Definition, data []byte) error {
	l, err := packet.Dissect(data, def, o.dissectOptions()...)
	metrics.ObserveDissect(def, l, err)
	if l != nil {
		if o.yaml {
			doc, merr := stack.Marshal(l)
			if merr != nil {
				return merr
			}
			fmt.Fprintf(w, "---\n%s", doc)
		} else {
			l.Dump(w)
		}
	}
	if err != nil {
		fmt.Fprintf(w, "! %v\n", err)
	}
	return err
}

func (o *dissectFlags) capturePorts() []uint16 {
	if len(o.ports) > 0 {
		ps := make([]uint16, len(o.ports))
		for i, p := range o.ports {
			ps[i] = uint16(p)
		}
		return ps
	}
	if ps := o.cfg.Capture.CapturePorts(); len(ps) > 0 {
		return ps
	}
	return sap.DefaultPorts()
}

func (o *dissectFlags) runPcap(w io.Writer) error {
	ports := o.capturePorts()
	r, err := capture.Open(o.pcap, capture.Options{
		Ports:        ports,
		MaxFrameSize: o.cfg.Capture.MaxFrameSize,
		MaxFlows:     o.cfg.Capture.MaxFlows,
	})
	if err != nil {
		return err
	}
	defer r.Close()
	log.GetLogger().WithFields(map[string]interface{}{
		"file":  o.pcap,
		"ports": sap.Ranges(ports),
	}).Info("reading capture")

	failed := 0
	err = r.Frames(func(f capture.Frame) error {
		if o.skipKeepAlive && capture.IsKeepAlive(f) {
			return nil
		}
		port := capture.ServerPort(f, ports)
		src, dst := f.Ports()
		fmt.Fprintf(w, "# %s %s:%d -> %s:%d %s\n", f.Seen.Format("15:04:05.000000"),
			f.Net.Src(), src, f.Net.Dst(), dst, sap.ProtocolName(port))
		if err := o.show(w, sap.ForPort(port), f.Data); err != nil {
			failed++
			log.GetLogger().WithDecodeError(err).WithField("port", port).Debug("frame did not decode")
		}
		return nil
	})
	st := r.Stats()
	log.GetLogger().WithFields(map[string]interface{}{
		"packets":  st.Packets,
		"filtered": st.Filtered,
		"frames":   st.Frames,
		"failed":   failed,
	}).Info("capture done")
	return err
}
