package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"mercator-hq/quotaguard/pkg/config"
)

// LogFormat represents the output format for logs.
type LogFormat string

const (
	// FormatJSON writes one JSON object per record.
	FormatJSON LogFormat = "json"
	// FormatText writes logfmt key=value records.
	FormatText LogFormat = "text"
	// FormatConsole writes logfmt without timestamps, for CLI commands whose
	// output is read by a person.
	FormatConsole LogFormat = "console"
)

// Logger is a slog.Logger whose level can be changed at runtime and whose
// records carry the admission fields stored in the context.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// Config contains configuration for the Logger.
type Config struct {
	// Level is the minimum log level ("debug", "info", "warn", "error")
	Level string

	// Format is the output format ("json", "text", "console")
	Format string

	// AddSource includes file and line number in logs
	AddSource bool

	// Writer is the output writer (defaults to os.Stderr)
	Writer io.Writer
}

// FromConfig converts the logging section of the configuration file.
func FromConfig(cfg config.LoggingConfig) Config {
	return Config{
		Level:     cfg.Level,
		Format:    cfg.Format,
		AddSource: cfg.AddSource,
	}
}

// New creates a new Logger with the given configuration.
func New(cfg Config) (*Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	format, err := parseFormat(cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("invalid log format: %w", err)
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}

	levelVar := &slog.LevelVar{}
	levelVar.Set(level)
	opts := &slog.HandlerOptions{Level: levelVar, AddSource: cfg.AddSource}

	var handler slog.Handler
	switch format {
	case FormatText:
		handler = slog.NewTextHandler(w, opts)
	case FormatConsole:
		opts.ReplaceAttr = dropTime
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(&contextHandler{Handler: handler}),
		level:  levelVar,
	}, nil
}

// Slog returns the underlying *slog.Logger for components that take one.
func (l *Logger) Slog() *slog.Logger {
	return l.Logger
}

// SetLevel changes the minimum level of this logger and every logger derived
// from it.
func (l *Logger) SetLevel(levelStr string) error {
	level, err := parseLevel(levelStr)
	if err != nil {
		return err
	}
	l.level.Set(level)
	return nil
}

// Level returns the current minimum level.
func (l *Logger) Level() slog.Level {
	return l.level.Level()
}

// contextHandler appends the admission fields stored in the record context.
type contextHandler struct {
	slog.Handler
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		r.Add(extractContextFields(ctx)...)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}

func dropTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

func parseFormat(s string) (LogFormat, error) {
	switch f := LogFormat(strings.ToLower(s)); f {
	case FormatJSON, FormatText, FormatConsole:
		return f, nil
	case "":
		return FormatJSON, nil
	default:
		return FormatJSON, fmt.Errorf("unknown log format: %s", s)
	}
}
