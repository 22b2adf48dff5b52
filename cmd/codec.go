package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/sapcraft/internal/log"
	"firestige.xyz/sapcraft/internal/metrics"
	"firestige.xyz/sapcraft/pkg/compress"
)

type codecFlags struct {
	*rootOptions
	input     string
	output    string
	algorithm string
	hint      int
}

func (o *codecFlags) flags(c *cobra.Command) {
	c.Flags().StringVarP(&o.input, "input", "i", "-", "input file, - for stdin")
	c.Flags().StringVarP(&o.output, "output", "o", "-", "output file, - for stdout")
}

func newCompressCmd(root *rootOptions) *cobra.Command {
	o := &codecFlags{rootOptions: root}
	c := &cobra.Command{
		Use:   "compress",
		Short: "Compress data with LZC or LZH",
		Long: `Compress the input into an LZC or LZH container: an 8 byte header
carrying the uncompressed length and algorithm, followed by the stream.
The algorithm defaults to compress.algorithm from the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.compress(cmd)
		},
	}
	o.flags(c)
	c.Flags().StringVarP(&o.algorithm, "algorithm", "a", "", "lzc or lzh")
	return c
}

func newDecompressCmd(root *rootOptions) *cobra.Command {
	o := &codecFlags{rootOptions: root}
	c := &cobra.Command{
		Use:   "decompress",
		Short: "Decompress an LZC or LZH container",
		Long: `Decompress an LZC or LZH container. The algorithm is read from the
container header. --hint caps the output size; 0 takes decode.max_decompressed
from the configuration (16 MiB unless set).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.decompress(cmd)
		},
	}
	o.flags(c)
	c.Flags().IntVar(&o.hint, "hint", 0, "largest output accepted in bytes")
	return c
}

func (o *codecFlags) compress(cmd *cobra.Command) error {
	alg, err := o.cfg.Compress.Codec()
	if o.algorithm != "" {
		alg, err = compress.ParseAlgorithm(o.algorithm)
		if err == nil && alg == compress.None {
			err = fmt.Errorf("%w: %q", compress.ErrUnknownAlgorithm, o.algorithm)
		}
	}
	if err != nil {
		return err
	}
	in, err := readInput(cmd.InOrStdin(), o.input)
	if err != nil {
		return err
	}
	out, err := compress.Compress(alg, in)
	if err != nil {
		return err
	}
	metrics.ObserveCodec(alg, metrics.DirectionIn, len(in))
	log.GetLogger().WithFields(map[string]interface{}{
		"algorithm": alg.String(),
		"in":        len(in),
		"out":       len(out),
	}).Info("compressed")
	return writeOutput(cmd.OutOrStdout(), o.output, out)
}

func (o *codecFlags) decompress(cmd *cobra.Command) error {
	in, err := readInput(cmd.InOrStdin(), o.input)
	if err != nil {
		return err
	}
	hint := o.hint
	if hint == 0 {
		hint = o.cfg.Decode.MaxDecompressed
	}
	hdr, err := compress.ParseHeader(in)
	if err != nil {
		return err
	}
	out, err := compress.Decompress(in, hint)
	if err != nil {
		return err
	}
	metrics.ObserveCodec(hdr.Algorithm, metrics.DirectionOut, len(out))
	return writeOutput(cmd.OutOrStdout(), o.output, out)
}
