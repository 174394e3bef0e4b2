// Package logger builds the process-wide *slog.Logger.
//
// Production emits JSON to stdout. LOG_FORMAT=text switches to tint's colored
// handler on stderr for local development.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"kinwatch/internal/platform/config"
)

// New returns a logger configured from cfg.
func New(cfg config.Logging) *slog.Logger {
	if strings.EqualFold(cfg.Format, "text") {
		return NewWriter(os.Stderr, cfg)
	}
	return NewWriter(os.Stdout, cfg)
}

// NewWriter is New with an explicit destination.
func NewWriter(w io.Writer, cfg config.Logging) *slog.Logger {
	level := ParseLevel(cfg.Level)
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
			AddSource:  true,
		}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// ParseLevel maps debug, info, warn and error; anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// MaskPhone keeps the country prefix and last two digits of a phone number.
func MaskPhone(phone string) string {
	if len(phone) <= 5 {
		return "***"
	}
	return phone[:3] + strings.Repeat("*", len(phone)-5) + phone[len(phone)-2:]
}
