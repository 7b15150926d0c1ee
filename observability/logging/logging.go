package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options tunes where and how verbosely logs are written.
type Options struct {
	// File, when set, receives the JSON stream through a rotating writer in
	// addition to stdout.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Level      slog.Level
}

// Option mutates Options.
type Option func(*Options)

// WithFile enables size-based rotation of a log file.
func WithFile(path string, maxSizeMB, maxBackups int) Option {
	return func(o *Options) {
		o.File = strings.TrimSpace(path)
		o.MaxSizeMB = maxSizeMB
		o.MaxBackups = maxBackups
	}
}

// WithLevel sets the minimum level emitted.
func WithLevel(level slog.Level) Option {
	return func(o *Options) { o.Level = level }
}

// ParseLevel maps debug/info/warn/error onto slog levels, defaulting to info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Writer builds the sink described by opts. The returned closer releases the
// rotating file, if any.
func Writer(opts Options) (io.Writer, io.Closer) {
	if opts.File == "" {
		return os.Stdout, io.NopCloser(nil)
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 100
	}
	rotating := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
	return io.MultiWriter(os.Stdout, rotating), rotating
}

// NewHandler returns the JSON handler used by every service. Keys follow the
// timestamp/severity/message convention expected by the log pipeline.
func NewHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})
}

// Setup configures the default slog logger and bridges the standard library
// logger onto it. Every line carries the service name and, when provided,
// the environment. The returned closer must be called on shutdown.
func Setup(service, env string, opts ...Option) (*slog.Logger, io.Closer) {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	w, closer := Writer(o)
	handler := NewHandler(w, o.Level)

	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}
	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base, closer
}
