package config

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger builds a logrus logger writing to stderr and, when File is set,
// appending to that file as well. The returned func closes the file.
func NewLogger(c LogConfig) (*logrus.Logger, func() error, error) {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}

	l := logrus.New()
	l.SetLevel(level)
	switch c.Format {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, nil, fmt.Errorf("invalid log format %q: must be \"json\" or \"text\"", c.Format)
	}

	closer := func() error { return nil }
	if c.File == "" {
		l.SetOutput(os.Stderr)
		return l, closer, nil
	}

	f, err := os.OpenFile(c.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		l.SetOutput(os.Stderr)
		l.WithError(err).Error("could not open log file, logging to stderr only")
		return l, closer, nil
	}
	l.SetOutput(io.MultiWriter(os.Stderr, f))
	return l, f.Close, nil
}
