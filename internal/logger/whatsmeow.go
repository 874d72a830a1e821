package logger

import (
	"context"
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// whatsmeowLogger implements waLog.Logger on top of slog.
type whatsmeowLogger struct {
	log    *slog.Logger
	module string
}

// NewWhatsmeowLogger adapts log for the whatsmeow client and its stores. Sub
// loggers extend module with a slash separated path.
//
//nolint:ireturn // Interface return is required by whatsmeow's API contract
func NewWhatsmeowLogger(log *slog.Logger, module string) waLog.Logger {
	if log == nil {
		log = slog.Default()
	}
	return &whatsmeowLogger{log: log.With("component", "whatsmeow"), module: module}
}

func (l *whatsmeowLogger) logf(level slog.Level, msg string, args []any) {
	if !l.log.Enabled(context.Background(), level) {
		return
	}
	l.log.Log(context.Background(), level, fmt.Sprintf(msg, args...), "module", l.module)
}

func (l *whatsmeowLogger) Debugf(msg string, args ...any) { l.logf(slog.LevelDebug, msg, args) }

func (l *whatsmeowLogger) Infof(msg string, args ...any) { l.logf(slog.LevelInfo, msg, args) }

func (l *whatsmeowLogger) Warnf(msg string, args ...any) { l.logf(slog.LevelWarn, msg, args) }

func (l *whatsmeowLogger) Errorf(msg string, args ...any) { l.logf(slog.LevelError, msg, args) }

//nolint:ireturn // Interface return is required by whatsmeow's API contract
func (l *whatsmeowLogger) Sub(module string) waLog.Logger {
	if l.module != "" {
		module = l.module + "/" + module
	}
	return &whatsmeowLogger{log: l.log, module: module}
}
