package log

import (
	"errors"

	"github.com/sirupsen/logrus"

	"firestige.xyz/sapcraft/pkg/packet"
)

type logrusAdapter struct {
	entry *logrus.Entry
}

// FieldLogger exposes the logrus entry behind GetLogger for packages that
// take a logrus.FieldLogger.
func FieldLogger() logrus.FieldLogger {
	if a, ok := GetLogger().(*logrusAdapter); ok {
		return a.entry
	}
	return logrus.StandardLogger()
}

func (l *logrusAdapter) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l *logrusAdapter) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusAdapter) Info(args ...interface{})                  { l.entry.Info(args...) }
func (l *logrusAdapter) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusAdapter) Warn(args ...interface{})                  { l.entry.Warn(args...) }
func (l *logrusAdapter) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusAdapter) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l *logrusAdapter) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusAdapter) WithField(field string, value interface{}) Logger {
	return &logrusAdapter{entry: l.entry.WithField(field, value)}
}

func (l *logrusAdapter) WithFields(fields map[string]interface{}) Logger {
	return &logrusAdapter{entry: l.entry.WithFields(fields)}
}

func (l *logrusAdapter) WithError(err error) Logger {
	return &logrusAdapter{entry: l.entry.WithError(err)}
}

// WithDecodeError spreads the position of a *packet.DecodeError into the
// layer, field and offset fields.
func (l *logrusAdapter) WithDecodeError(err error) Logger {
	entry := l.entry.WithError(err)
	var de *packet.DecodeError
	if errors.As(err, &de) {
		fields := logrus.Fields{"layer": de.Layer, "offset": de.Offset}
		if de.Field != "" {
			fields["field"] = de.Field
		}
		entry = entry.WithFields(fields)
	}
	return &logrusAdapter{entry: entry}
}

func (l *logrusAdapter) IsTraceEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.TraceLevel)
}

func (l *logrusAdapter) IsDebugEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.DebugLevel)
}
