// Package logging builds the logrus logger shared by every component.
package logging

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// NewLogger returns a logger writing to stderr.
func NewLogger(level, format string) (*logrus.Logger, error) {
	return New(os.Stderr, level, format)
}

func New(w io.Writer, level, format string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}
	log := logrus.New()
	log.SetOutput(w)
	log.SetLevel(lvl)
	switch format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, errors.Errorf("unknown log format %q", format)
	}
	return log, nil
}

// Discard is a logger for tests and library callers that want silence.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// Verbosity raises base by one level per -v flag, up to trace.
func Verbosity(base string, v int) string {
	lvl, err := logrus.ParseLevel(base)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	lvl += logrus.Level(v)
	if lvl > logrus.TraceLevel {
		lvl = logrus.TraceLevel
	}
	return lvl.String()
}
