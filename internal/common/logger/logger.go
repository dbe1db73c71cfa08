package logger

import (
	"context"
	"log/slog"
	"os"

	"trail-link/internal/common/contextx"
)

// New builds a JSON slog logger for the given service name.
func New(service string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "timestamp"
			}
			return a
		},
	}).WithAttrs([]slog.Attr{
		slog.String("service", service),
	})

	l := slog.New(handler)
	slog.SetDefault(l)
	return l
}

// Info writes an INFO line with the common context attributes attached.
func Info(ctx context.Context, log *slog.Logger, action, message string, args ...any) {
	log.Info(message, withCommon(ctx, action, args)...)
}

// Debug writes a DEBUG line with the common context attributes attached.
func Debug(ctx context.Context, log *slog.Logger, action, message string, args ...any) {
	log.Debug(message, withCommon(ctx, action, args)...)
}

// Error writes an ERROR line and attaches the error message when non-nil.
func Error(ctx context.Context, log *slog.Logger, action, message string, err error, args ...any) {
	all := withCommon(ctx, action, args)
	if err != nil {
		all = append(all, slog.String("error", err.Error()))
	}
	log.Error(message, all...)
}

func withCommon(ctx context.Context, action string, args []any) []any {
	all := make([]any, 0, len(args)+6)
	all = append(all, "action", action)
	if id := contextx.GetRequestID(ctx); id != "" {
		all = append(all, "request_id", id)
	}
	if id := contextx.GetSessionID(ctx); id != "" {
		all = append(all, "session_id", id)
	}
	all = append(all, "hostname", hostname())
	return append(all, args...)
}

func hostname() string {
	name, _ := os.Hostname()
	return name
}
