// Package observability provides structured logging, metrics and health
// checks for the fieldsync binaries.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogConfig configures NewLogger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string
	// Format is text or json.
	Format    string
	Output    io.Writer
	AddSource bool
	Service   string
	Version   string
}

// LoggerFromEnv builds the process logger:
//
//	FIELDSYNC_LOG_LEVEL   debug, info, warn, error
//	FIELDSYNC_LOG_FORMAT  text, json
//	FIELDSYNC_ENV         production switches to json on stdout with source
//	FIELDSYNC_VERSION     version attribute
func LoggerFromEnv() *slog.Logger {
	cfg := LogConfig{Level: "info", Format: "text", Output: os.Stderr, Service: "fieldsync", Version: "dev"}
	if os.Getenv("FIELDSYNC_ENV") == "production" {
		cfg.Format = "json"
		cfg.Output = os.Stdout
		cfg.AddSource = true
		cfg.Version = "unknown"
	}
	if v := os.Getenv("FIELDSYNC_LOG_LEVEL"); v != "" {
		cfg.Level = v
	}
	if v := os.Getenv("FIELDSYNC_LOG_FORMAT"); v != "" {
		cfg.Format = v
	}
	if v := os.Getenv("FIELDSYNC_VERSION"); v != "" {
		cfg.Version = v
	}
	return NewLogger(cfg)
}

// NewLogger returns a logger that stamps service attributes on every record
// and copies correlation, request and job ids from the context.
func NewLogger(cfg LogConfig) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level), AddSource: cfg.AddSource}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}

	var attrs []slog.Attr
	if cfg.Service != "" {
		attrs = append(attrs, slog.String("service", cfg.Service))
	}
	if cfg.Version != "" {
		attrs = append(attrs, slog.String("version", cfg.Version))
	}
	if len(attrs) > 0 {
		h = h.WithAttrs(attrs)
	}
	return slog.New(contextHandler{Handler: h})
}

// ParseLevel maps a level name to a slog level. Unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// contextHandler adds context ids to each record.
type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, kv := range [...][2]string{
		{CorrelationIDKey, CorrelationIDFromContext(ctx)},
		{RequestIDKey, RequestIDFromContext(ctx)},
		{JobIDKey, JobIDFromContext(ctx)},
	} {
		if kv[1] != "" {
			r.AddAttrs(slog.String(kv[0], kv[1]))
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{Handler: h.Handler.WithGroup(name)}
}
