package packet

import (
	"io"

	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = newDiscardLogger()

func newDiscardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}

// SetLogger routes dissection traces to l. Passing nil silences them.
// It must be called before any concurrent use of the package.
func SetLogger(l logrus.FieldLogger) {
	if l == nil {
		logger = newDiscardLogger()
		return
	}
	logger = l.WithField("component", "packet")
}
