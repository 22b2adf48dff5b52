package cmd

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/sapcraft/internal/metrics"
	"firestige.xyz/sapcraft/internal/stack"
	"firestige.xyz/sapcraft/pkg/packet"
	"firestige.xyz/sapcraft/pkg/sap/ni"
	"firestige.xyz/sapcraft/pkg/sap/router"
)

type buildFlags struct {
	*rootOptions
	file     string
	output   string
	route    string
	talkMode uint8
	hexOut   bool
	dump     bool
}

func newBuildCmd(root *rootOptions) *cobra.Command {
	o := &buildFlags{rootOptions: root}
	c := &cobra.Command{
		Use:   "build",
		Short: "Serialize a layer stack document",
		Long: `Build the layer stack described by a YAML document and write its bytes.

A document lists layers outermost first, each with a registered layer name
and field values; fields left out take their defaults, length and count
fields are derived. --route builds an NI framed SAP Router route request
from a route string instead.

Examples:
  sapcraft build -f route.yml -o route.bin
  sapcraft build --route /H/10.0.0.1/S/3299/H/sapsrv/S/3200 --hex`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}
	f := c.Flags()
	f.StringVarP(&o.file, "file", "f", "", "stack document, - for stdin")
	f.StringVarP(&o.output, "output", "o", "", "output file (default stdout)")
	f.StringVar(&o.route, "route", "", "route string /H/host/S/service[/W/password]...")
	f.Uint8Var(&o.talkMode, "talk-mode", router.TalkModeRawIO, "route request talk mode")
	f.BoolVar(&o.hexOut, "hex", false, "write hex instead of raw bytes")
	f.BoolVar(&o.dump, "dump", false, "print the layer tree to stderr")
	c.MarkFlagsMutuallyExclusive("file", "route")
	return c
}

func (o *buildFlags) layers(cmd *cobra.Command) (*packet.Layer, packet.BuildOptions, error) {
	opts := o.buildOptions()
	switch {
	case o.route != "":
		hops, err := router.ParseRoute(o.route)
		if err != nil {
			return nil, opts, err
		}
		return ni.New(router.NewRouteRequest(hops, o.talkMode)), opts, nil
	case o.file != "":
		data, err := readInput(cmd.InOrStdin(), o.file)
		if err != nil {
			return nil, opts, err
		}
		doc, err := stack.Parse(data)
		if err != nil {
			return nil, opts, err
		}
		l, err := doc.Stack()
		if err != nil {
			return nil, opts, err
		}
		docOpts := doc.Build.Options()
		docOpts.Strict = docOpts.Strict || opts.Strict
		if doc.Build.FixLengths == nil {
			docOpts.FixLengths = opts.FixLengths
		}
		return l, docOpts, nil
	}
	return nil, opts, errors.New("no input: give --file or --route")
}

func (o *buildFlags) run(cmd *cobra.Command) error {
	l, opts, err := o.layers(cmd)
	if err != nil {
		return err
	}
	raw, err := packet.Serialize(l, opts)
	if err != nil {
		return err
	}
	metrics.ObserveBuild(l)
	if o.dump {
		l.Dump(cmd.ErrOrStderr())
	}
	if o.hexOut {
		raw = []byte(hex.EncodeToString(raw) + "\n")
	}
	if err := writeOutput(cmd.OutOrStdout(), o.output, raw); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
