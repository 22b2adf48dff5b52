// Package config handles sapcraft configuration loading using viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"firestige.xyz/sapcraft/pkg/compress"
	"firestige.xyz/sapcraft/pkg/packet"
)

// Config is the root configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Decode   DecodeConfig   `mapstructure:"decode"`
	Compress CompressConfig `mapstructure:"compress"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Level      string     `mapstructure:"level"`
	Format     string     `mapstructure:"format"` // json, text or pattern
	Pattern    string     `mapstructure:"pattern"`
	TimeFormat string     `mapstructure:"time_format"`
	Caller     bool       `mapstructure:"caller"`
	Outputs    LogOutputs `mapstructure:"outputs"`
}

// LogOutputs lists where log lines go.
type LogOutputs struct {
	Console ConsoleOutput `mapstructure:"console"`
	File    FileOutput    `mapstructure:"file"`
}

// ConsoleOutput writes to stderr.
type ConsoleOutput struct {
	Enabled bool `mapstructure:"enabled"`
}

// FileOutput writes to a rotated file.
type FileOutput struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig represents log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// DecodeConfig tunes dissection and building.
type DecodeConfig struct {
	MaxDepth        int  `mapstructure:"max_depth"`
	MaxDecompressed int  `mapstructure:"max_decompressed"`
	Strict          bool `mapstructure:"strict"`
	FixLengths      bool `mapstructure:"fix_lengths"`
}

// CompressConfig selects the codec used by the compress command.
type CompressConfig struct {
	Algorithm string `mapstructure:"algorithm"`
}

// CaptureConfig drives pcap ingestion.
type CaptureConfig struct {
	Ports        []int `mapstructure:"ports"`
	MaxFrameSize int   `mapstructure:"max_frame_size"`
	MaxFlows     int   `mapstructure:"max_flows"`
}

// MetricsConfig represents metrics configuration.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// configRoot is the top-level wrapper matching the YAML structure `sapcraft: ...`.
type configRoot struct {
	Sapcraft Config `mapstructure:"sapcraft"`
}

const (
	defaultPattern    = "%time [%level] %msg %field\n"
	defaultTimeFormat = "2006-01-02 15:04:05.000"
)

// Load loads configuration from path. An empty path yields the defaults
// with environment overrides applied.
// The YAML file uses `sapcraft:` as root key; env vars use the SAPCRAFT_
// prefix (e.g. SAPCRAFT_LOG_LEVEL).
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// key "sapcraft.log.level" maps to env "SAPCRAFT_LOG_LEVEL"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Sapcraft

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		panic(err)
	}
	cfg := root.Sapcraft
	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		panic(err)
	}
	return &cfg
}

// setDefaults sets default values for configuration.
// All keys use the "sapcraft." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	v.SetDefault("sapcraft.log.level", "warn")
	v.SetDefault("sapcraft.log.format", "pattern")
	v.SetDefault("sapcraft.log.pattern", defaultPattern)
	v.SetDefault("sapcraft.log.time_format", defaultTimeFormat)
	v.SetDefault("sapcraft.log.caller", false)
	v.SetDefault("sapcraft.log.outputs.console.enabled", true)
	v.SetDefault("sapcraft.log.outputs.file.enabled", false)
	v.SetDefault("sapcraft.log.outputs.file.path", "sapcraft.log")
	v.SetDefault("sapcraft.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("sapcraft.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("sapcraft.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("sapcraft.log.outputs.file.rotation.compress", true)

	v.SetDefault("sapcraft.decode.max_depth", 32)
	v.SetDefault("sapcraft.decode.max_decompressed", packet.DefaultMaxDecompressed)
	v.SetDefault("sapcraft.decode.strict", false)
	v.SetDefault("sapcraft.decode.fix_lengths", true)

	v.SetDefault("sapcraft.compress.algorithm", "lzh")

	v.SetDefault("sapcraft.capture.ports", []int{})
	v.SetDefault("sapcraft.capture.max_frame_size", 16<<20)
	v.SetDefault("sapcraft.capture.max_flows", 4096)

	v.SetDefault("sapcraft.metrics.enabled", false)
}

// ValidateAndApplyDefaults validates configuration and fills runtime defaults.
func (cfg *Config) ValidateAndApplyDefaults() error {
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be trace/debug/info/warn/error)", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text":
	case "pattern":
		if cfg.Log.Pattern == "" {
			cfg.Log.Pattern = defaultPattern
		}
	default:
		return fmt.Errorf("invalid log format: %s (must be json/text/pattern)", cfg.Log.Format)
	}
	if cfg.Log.TimeFormat == "" {
		cfg.Log.TimeFormat = defaultTimeFormat
	}
	if cfg.Log.Outputs.File.Enabled && cfg.Log.Outputs.File.Path == "" {
		return fmt.Errorf("log.outputs.file.path is required when file output is enabled")
	}

	if cfg.Decode.MaxDepth <= 0 {
		return fmt.Errorf("decode.max_depth must be positive, got %d", cfg.Decode.MaxDepth)
	}
	if cfg.Decode.MaxDecompressed < 0 {
		return fmt.Errorf("decode.max_decompressed must not be negative, got %d", cfg.Decode.MaxDecompressed)
	}
	if cfg.Decode.MaxDecompressed == 0 {
		cfg.Decode.MaxDecompressed = packet.DefaultMaxDecompressed
	}

	if _, err := cfg.Compress.Codec(); err != nil {
		return err
	}

	for _, p := range cfg.Capture.Ports {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("invalid capture port: %d", p)
		}
	}
	if cfg.Capture.MaxFrameSize <= 0 {
		return fmt.Errorf("capture.max_frame_size must be positive, got %d", cfg.Capture.MaxFrameSize)
	}
	if cfg.Capture.MaxFlows <= 0 {
		cfg.Capture.MaxFlows = 4096
	}
	return nil
}

// Codec parses the configured algorithm.
func (c CompressConfig) Codec() (compress.Algorithm, error) {
	alg, err := compress.ParseAlgorithm(c.Algorithm)
	if err != nil {
		return 0, fmt.Errorf("invalid compress.algorithm: %w", err)
	}
	if alg == compress.None {
		return 0, fmt.Errorf("invalid compress.algorithm: %s (must be lzc/lzh)", c.Algorithm)
	}
	return alg, nil
}

// CapturePorts returns the configured ports as uint16 values.
func (c CaptureConfig) CapturePorts() []uint16 {
	out := make([]uint16, 0, len(c.Ports))
	for _, p := range c.Ports {
		out = append(out, uint16(p))
	}
	return out
}
