// Package logger - структурированный логгер сервиса поверх log/slog.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
	Fatal(msg string, keyvals ...any)
	With(keyvals ...any) Logger
}

type slogLogger struct {
	l *slog.Logger
}

// New создает текстовый логгер (tint) в stdout.
func New(level string) Logger {
	return NewWithFormat(level, "text", os.Stdout)
}

// NewWithFormat: format = "json" или "text".
func NewWithFormat(level, format string, w io.Writer) Logger {
	lvl := ParseLevel(level)
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     lvl,
			AddSource: true,
		})
	} else {
		handler = tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: time.RFC3339,
		})
	}
	return &slogLogger{l: slog.New(handler)}
}

// Nop отбрасывает все записи.
func Nop() Logger {
	return &slogLogger{l: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 4}))}
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func (s *slogLogger) Debug(msg string, keyvals ...any) { s.l.Debug(msg, keyvals...) }
func (s *slogLogger) Info(msg string, keyvals ...any)  { s.l.Info(msg, keyvals...) }
func (s *slogLogger) Warn(msg string, keyvals ...any)  { s.l.Warn(msg, keyvals...) }
func (s *slogLogger) Error(msg string, keyvals ...any) { s.l.Error(msg, keyvals...) }

func (s *slogLogger) Fatal(msg string, keyvals ...any) {
	s.l.Log(context.Background(), slog.LevelError+4, msg, keyvals...)
	os.Exit(1)
}

func (s *slogLogger) With(keyvals ...any) Logger {
	return &slogLogger{l: s.l.With(keyvals...)}
}
