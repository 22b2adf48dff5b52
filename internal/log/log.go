// Package log sets up the process-wide logrus logger from configuration.
package log

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"firestige.xyz/sapcraft/internal/config"
	"firestige.xyz/sapcraft/pkg/packet"
)

type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger
	WithDecodeError(err error) Logger

	IsTraceEnabled() bool
	IsDebugEnabled() bool
}

var (
	once    sync.Once
	mu      sync.RWMutex
	logger  Logger = &logrusAdapter{entry: logrus.NewEntry(fallback())}
	outputs *Outputs
)

func fallback() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.WarnLevel)
	return l
}

// GetLogger returns the process logger. Before Init it writes warnings to
// stderr.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Init builds the process logger from cfg and routes packet traces to it.
// Only the first call takes effect.
func Init(cfg config.LogConfig) error {
	var err error
	once.Do(func() {
		var l *logrus.Logger
		l, err = New(cfg, os.Stderr)
		if err != nil {
			return
		}
		entry := logrus.NewEntry(l)
		mu.Lock()
		logger = &logrusAdapter{entry: entry}
		outputs, _ = l.Out.(*Outputs)
		mu.Unlock()
		packet.SetLogger(entry)
	})
	return err
}

// New builds a logrus logger from cfg. Console output goes to console.
func New(cfg config.LogConfig, console io.Writer) (*logrus.Logger, error) {
	l := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	l.SetLevel(level)
	l.SetReportCaller(cfg.Caller)

	switch cfg.Format {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: cfg.TimeFormat})
	case "text":
		l.SetFormatter(&logrus.TextFormatter{TimestampFormat: cfg.TimeFormat, FullTimestamp: true, DisableColors: true})
	default:
		l.SetFormatter(&formatter{pattern: cfg.Pattern, time: cfg.TimeFormat})
	}

	out, err := NewOutputs(cfg.Outputs, console)
	if err != nil {
		return nil, err
	}
	l.SetOutput(out)
	return l, nil
}

// Close releases the files opened by Init.
func Close() error {
	mu.RLock()
	defer mu.RUnlock()
	if outputs == nil {
		return nil
	}
	return outputs.Close()
}
