package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configure the process logger.
type Options struct {
	Level string
	// File, when set, receives a copy of every entry with size based rotation.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Stdout is the console sink. Nil means os.Stdout.
	Stdout io.Writer
}

// New builds a logger. Unknown levels fall back to info; "off" and "none"
// discard everything. The returned closer flushes the rotated file, if any.
func New(opts Options) (*logrus.Logger, io.Closer) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	level := strings.ToLower(strings.TrimSpace(opts.Level))
	if level == "off" || level == "none" {
		logger.SetOutput(io.Discard)
		return logger, nopCloser{}
	}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	if opts.File == "" {
		logger.SetOutput(stdout)
		return logger, nopCloser{}
	}

	file := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}
	logger.SetOutput(io.MultiWriter(stdout, file))
	return logger, file
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
