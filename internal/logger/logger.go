// Package logger builds the process-wide *slog.Logger for the ragkit CLI.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	charmlog "github.com/charmbracelet/log"
)

// Format selects the output handler.
type Format string

const (
	FormatText   Format = "text"
	FormatJSON   Format = "json"
	FormatPretty Format = "pretty"
)

type config struct {
	level   slog.Level
	format  Format
	writers []io.Writer
	source  bool
}

// Option configures a Logger created with New.
type Option func(*config)

// WithDebug sets the log level to Debug when true, Info otherwise.
func WithDebug(debug bool) Option {
	return func(c *config) {
		if debug {
			c.level = slog.LevelDebug
		} else {
			c.level = slog.LevelInfo
		}
	}
}

// WithLevel sets the level from its name ("debug", "info", "warn", "error").
// Unknown names leave the level unchanged.
func WithLevel(name string) Option {
	return func(c *config) {
		if lvl, ok := ParseLevel(name); ok {
			c.level = lvl
		}
	}
}

// WithFormat selects text, json or pretty output. Unknown formats fall back
// to text.
func WithFormat(f Format) Option {
	return func(c *config) { c.format = f }
}

// WithWriter overrides the output writer. Defaults to os.Stderr.
func WithWriter(w io.Writer) Option {
	return func(c *config) { c.writers = []io.Writer{w} }
}

// WithWriters sets multiple output writers (combined via io.MultiWriter).
func WithWriters(w ...io.Writer) Option {
	return func(c *config) { c.writers = w }
}

// WithSource includes source file:line in log output.
func WithSource(source bool) Option {
	return func(c *config) { c.source = source }
}

// New returns a logger writing to stderr at Info level in text format unless
// configured otherwise.
func New(opts ...Option) *slog.Logger {
	cfg := config{level: slog.LevelInfo, format: FormatText}
	for _, o := range opts {
		o(&cfg)
	}

	var w io.Writer = os.Stderr
	switch len(cfg.writers) {
	case 0:
	case 1:
		w = cfg.writers[0]
	default:
		w = io.MultiWriter(cfg.writers...)
	}

	switch cfg.format {
	case FormatJSON:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.level, AddSource: cfg.source}))
	case FormatPretty:
		h := charmlog.NewWithOptions(w, charmlog.Options{
			Level:           charmLevel(cfg.level),
			ReportTimestamp: true,
			ReportCaller:    cfg.source,
		})
		return slog.New(h)
	default:
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.level, AddSource: cfg.source}))
	}
}

// Nop returns a logger that discards everything.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// ParseLevel maps a level name to its slog.Level.
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return 0, false
}

func charmLevel(l slog.Level) charmlog.Level {
	switch {
	case l <= slog.LevelDebug:
		return charmlog.DebugLevel
	case l <= slog.LevelInfo:
		return charmlog.InfoLevel
	case l <= slog.LevelWarn:
		return charmlog.WarnLevel
	default:
		return charmlog.ErrorLevel
	}
}
