// Package cmd implements the sapcraft CLI using cobra.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/sapcraft/internal/config"
	"firestige.xyz/sapcraft/internal/log"
	"firestige.xyz/sapcraft/internal/metrics"
	"firestige.xyz/sapcraft/pkg/packet"

	// registered definitions
	_ "firestige.xyz/sapcraft/pkg/sap/credv2"
	_ "firestige.xyz/sapcraft/pkg/sap/ssfs"
)

const version = "0.1.0"

type rootOptions struct {
	configFile string
	logLevel   string
	stats      bool
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "sapcraft",
		Short: "Craft and dissect SAP NI, Router and Diag packets",
		Long: `sapcraft builds and decodes the binary layers of SAP's proprietary protocols
(NI framing, SAP Router, SAP Diag) and the SSFS and credential v2 file formats,
and compresses or decompresses payloads with the LZC and LZH codecs.

Configuration is read from the file given with --config (YAML, root key
"sapcraft:") and from SAPCRAFT_* environment variables.`,
		Version:            version,
		SilenceUsage:       true,
		PersistentPreRunE:  opts.setup,
		PersistentPostRunE: opts.printStats,
	}

	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file path")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (trace/debug/info/warn/error)")
	root.PersistentFlags().BoolVar(&opts.stats, "stats", false, "print metrics to stderr when done")

	root.AddCommand(newDissectCmd(opts))
	root.AddCommand(newBuildCmd(opts))
	root.AddCommand(newCompressCmd(opts))
	root.AddCommand(newDecompressCmd(opts))
	root.AddCommand(newLayersCmd())
	return root
}

// Execute runs the root command. It is called by main.main.
func Execute() error {
	return newRootCmd().Execute()
}

func (o *rootOptions) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
		if err := cfg.ValidateAndApplyDefaults(); err != nil {
			return err
		}
	}
	if err := log.Init(cfg.Log); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	o.cfg = cfg
	log.GetLogger().WithField("command", cmd.Name()).Debug("configuration loaded")
	return nil
}

func (o *rootOptions) printStats(cmd *cobra.Command, args []string) error {
	defer log.Close()
	if !o.stats && (o.cfg == nil || !o.cfg.Metrics.Enabled) {
		return nil
	}
	return metrics.WriteText(cmd.ErrOrStderr())
}

func (o *rootOptions) dissectOptions() []packet.DissectOption {
	return []packet.DissectOption{
		packet.WithMaxDepth(o.cfg.Decode.MaxDepth),
		packet.WithMaxDecompressed(o.cfg.Decode.MaxDecompressed),
	}
}

func (o *rootOptions) buildOptions() packet.BuildOptions {
	return packet.BuildOptions{
		FixLengths:       o.cfg.Decode.FixLengths,
		ComputeChecksums: true,
		Strict:           o.cfg.Decode.Strict,
	}
}

// Exit prints err and exits with code 1.
func Exit(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
