package log

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/sapcraft/internal/config"
)

// newFileAppender opens a size-rotated log file, creating its directory.
func newFileAppender(out config.FileOutput) (*lumberjack.Logger, error) {
	if out.Path == "" {
		return nil, fmt.Errorf("log file output needs a path")
	}
	if err := os.MkdirAll(filepath.Dir(out.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   out.Path,
		MaxSize:    out.Rotation.MaxSizeMB, // megabytes
		MaxBackups: out.Rotation.MaxBackups,
		MaxAge:     out.Rotation.MaxAgeDays, // days
		Compress:   out.Rotation.Compress,
	}, nil
}
