package logging

import (
	"github.com/sirupsen/logrus"
)

// New returns a logger configured for the given verbosity level.
// 0 logs info and above, 1 enables debug, 2 or more enables trace.
func New(verbosity int) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	switch {
	case verbosity <= 0:
		logger.SetLevel(logrus.InfoLevel)
	case verbosity == 1:
		logger.SetLevel(logrus.DebugLevel)
	default:
		logger.SetLevel(logrus.TraceLevel)
	}
	return logger
}
