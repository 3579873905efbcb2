package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-claimbot/core"
)

// SlogLogger adapts a JSON slog handler to the glog contracts so every
// component logs through core.Logger.
type SlogLogger struct {
	logger *slog.Logger
}

func NewSlogLogger(w io.Writer, level string) *SlogLogger {
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
	return &SlogLogger{logger: slog.New(handler)}
}

func (l *SlogLogger) Trace(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *SlogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *SlogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *SlogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *SlogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

// Fatal logs at error level. Exiting is left to the caller.
func (l *SlogLogger) Fatal(msg string, args ...any) {
	l.logger.Error(msg, append(args, "fatal", true)...)
}

func (l *SlogLogger) WithContext(ctx context.Context) core.Logger {
	if correlationID := core.CorrelationIDFromContext(ctx); correlationID != "" {
		return &SlogLogger{logger: l.logger.With("correlation_id", correlationID)}
	}
	return l
}

func (l *SlogLogger) WithFields(fields map[string]any) core.Logger {
	if len(fields) == 0 {
		return l
	}
	args := make([]any, 0, len(fields)*2)
	for key, value := range fields {
		args = append(args, key, value)
	}
	return &SlogLogger{logger: l.logger.With(args...)}
}

// GetLogger returns a child logger tagged with the component name.
func (l *SlogLogger) GetLogger(name string) core.Logger {
	name = strings.TrimSpace(name)
	if name == "" {
		return l
	}
	return &SlogLogger{logger: l.logger.With("component", name)}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var (
	_ glog.Logger         = (*SlogLogger)(nil)
	_ glog.FieldsLogger   = (*SlogLogger)(nil)
	_ glog.LoggerProvider = (*SlogLogger)(nil)
)
