// Package logging builds the logrus loggers used by the callflow commands.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures Setup.
type Options struct {
	Level      string // trace, debug, info, warn, error
	Format     string // text or json
	File       string // optional; rotated by size
	MaxSizeMB  int
	MaxBackups int
}

// Logging owns the root logger and its optional log file.
type Logging struct {
	root *logrus.Logger
	file *lumberjack.Logger
}

// Setup creates a root logger writing to console and, when opts.File is set,
// to a rotated file as well.
func Setup(opts Options, console io.Writer) (*Logging, error) {
	level := logrus.InfoLevel
	if opts.Level != "" {
		var err error
		level, err = logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}

	var formatter logrus.Formatter
	switch strings.ToLower(opts.Format) {
	case "", "text":
		formatter = &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"}
	case "json":
		formatter = &logrus.JSONFormatter{}
	default:
		return nil, fmt.Errorf("log format must be text or json, got %q", opts.Format)
	}

	root := logrus.New()
	root.SetLevel(level)
	root.SetFormatter(formatter)
	root.SetOutput(io.Discard)
	root.AddHook(&writerHook{Writer: console, LogLevels: availableLevels(level)})

	l := &Logging{root: root}
	if opts.File != "" {
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB, // megabytes
			MaxBackups: opts.MaxBackups,
		}
		root.AddHook(&writerHook{Writer: l.file, LogLevels: availableLevels(level)})
	}
	return l, nil
}

// Component returns an entry tagged with the component name.
func (l *Logging) Component(name string) *logrus.Entry {
	return l.root.WithField("component", name)
}

// Root returns the underlying logger.
func (l *Logging) Root() *logrus.Logger {
	return l.root
}

// Close flushes and closes the log file, if any.
func (l *Logging) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// writerHook writes formatted entries to Writer for the given levels.
type writerHook struct {
	Writer    io.Writer
	LogLevels []logrus.Level
}

func (h *writerHook) Fire(e *logrus.Entry) error {
	line, err := e.Bytes()
	if err != nil {
		return err
	}
	_, err = h.Writer.Write(line)
	return err
}

func (h *writerHook) Levels() []logrus.Level {
	return h.LogLevels
}

func availableLevels(min logrus.Level) []logrus.Level {
	levels := []logrus.Level{}
	for _, l := range logrus.AllLevels {
		if l <= min {
			levels = append(levels, l)
		}
	}
	return levels
}

// Discard returns an entry that drops everything.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
