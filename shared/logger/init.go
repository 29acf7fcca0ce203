package logger

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// InitLogger configures logrus as the backing target and returns the root
// Logger. logFile, if non-empty, additionally writes to that path; debug
// and verbose raise the minimum level (debug wins if both are set).
func InitLogger(logFile string, debug bool, verbose bool) (Logger, error) {
	log := logrus.New()

	switch {
	case debug:
		log.SetLevel(logrus.TraceLevel)
	case verbose:
		log.SetLevel(logrus.DebugLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, fmt.Errorf("open log file %q: %w", logFile, err)
		}

		log.SetOutput(f)
	}

	return newWrapper(log), nil
}

// NewForTesting returns a Logger that discards everything, for use in unit
// tests that need to pass a Logger but don't care about its output.
func NewForTesting() Logger {
	log := logrus.New()
	log.SetOutput(discardWriter{})

	return newWrapper(log)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
