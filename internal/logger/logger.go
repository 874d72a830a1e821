// Package logger builds the process slog logger and the go-telegram/bot logging
// middleware.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation settings for the log file sink.
const (
	maxFileSizeMB = 20
	maxBackups    = 14
	maxAgeDays    = 14
)

// NewLogger creates the process logger and makes it the slog default. Records go
// to stdout and, when file is set, to a size-rotated file as well. The returned
// closer releases the file and is safe to call when no file is used.
func NewLogger(levelStr string, jsonOutput bool, file string) (*slog.Logger, io.Closer) {
	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if file != "" {
		rotating := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    maxFileSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
			LocalTime:  true,
		}
		out = io.MultiWriter(os.Stdout, rotating)
		closer = rotating
	}

	logger := slog.New(NewHandler(out, levelStr, jsonOutput))
	slog.SetDefault(logger)
	return logger, closer
}

// NewHandler returns a JSON or text handler writing to w at the given level.
func NewHandler(w io.Writer, levelStr string, jsonOutput bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(levelStr)}
	if jsonOutput {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel maps a level name onto a slog.Level, defaulting to info.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Middleware logs every Telegram update around its handler.
func Middleware(log *slog.Logger) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			startTime := time.Now()
			logEntry := log.With("update_id", update.ID)

			var updateType string
			switch {
			case update.Message != nil:
				updateType = "message"
				logEntry = logEntry.With(messageAttrs(update.Message)...)
			case update.EditedMessage != nil:
				updateType = "edited_message"
				logEntry = logEntry.With(messageAttrs(update.EditedMessage)...)
			case update.ChannelPost != nil:
				updateType = "channel_post"
				logEntry = logEntry.With(messageAttrs(update.ChannelPost)...)
			default:
				updateType = "other"
			}
			logEntry = logEntry.With("update_type", updateType)

			logEntry.DebugContext(ctx, "Processing update")
			next(ctx, b, update)
			logEntry.DebugContext(ctx, "Finished processing update", "duration", time.Since(startTime))
		}
	}
}

func messageAttrs(m *models.Message) []any {
	var userID int64
	if m.From != nil {
		userID = m.From.ID
	}
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	return []any{
		"message_id", m.ID,
		"chat_id", m.Chat.ID,
		"user_id", userID,
		"text_preview", truncateString(text, 50),
	}
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}
