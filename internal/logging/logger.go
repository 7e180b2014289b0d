package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/l0p7/foorest/internal/config"
)

const redacted = "[REDACTED]"

// sensitiveKeys never reach the output with their value; Basic Auth
// credentials flow through the client and the service.
var sensitiveKeys = map[string]struct{}{
	"authorization": {},
	"password":      {},
}

// New builds the process logger on stdout.
func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter builds a logger for cfg that writes to w. Every record carries
// component=foorest.
func NewWithWriter(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redact,
	}
	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json", "":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("logging: unsupported format %q", cfg.Format)
	}

	return slog.New(handler).With(slog.String("component", "foorest")), nil
}

func parseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("logging: unsupported level %q", raw)
	}
}

func redact(_ []string, attr slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(attr.Key)]; ok {
		return slog.String(attr.Key, redacted)
	}
	return attr
}
