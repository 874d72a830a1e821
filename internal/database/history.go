package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/edgard/polaris-bridge/internal/model"
)

// History stores converted messages keyed by conversation and message id.
type History struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

type historyRow struct {
	ConversationID string `db:"conversation_id"`
	MessageID      string `db:"message_id"`
	SenderID       string `db:"sender_id"`
	Type           string `db:"type"`
	Date           int64  `db:"date"`
	Payload        string `db:"payload"`
	CreatedAt      int64  `db:"created_at"`
}

// NewHistory creates a history store on a migrated database.
func NewHistory(db *sqlx.DB, logger *slog.Logger) *History {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &History{
		db:     db,
		logger: logger.With("component", "history"),
		now:    time.Now,
	}
}

// Ping checks the database connection.
func (h *History) Ping(ctx context.Context) error {
	return h.db.PingContext(ctx)
}

// Record stores msg, replacing any earlier copy. Messages without an id cannot be
// looked up again and are skipped.
func (h *History) Record(ctx context.Context, msg *model.Message) error {
	if msg == nil || msg.ID == "" {
		return nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message %s: %w", msg.ID, err)
	}
	row := historyRow{
		ConversationID: msg.Conversation.ID.String(),
		MessageID:      msg.ID,
		SenderID:       msg.Sender.ID,
		Type:           string(msg.Type),
		Date:           msg.Date,
		Payload:        string(payload),
		CreatedAt:      h.now().UTC().Unix(),
	}

	query := `
        INSERT INTO messages (conversation_id, message_id, sender_id, type, date, payload, created_at)
        VALUES (:conversation_id, :message_id, :sender_id, :type, :date, :payload, :created_at)
        ON CONFLICT (conversation_id, message_id) DO UPDATE SET
            sender_id = excluded.sender_id,
            type = excluded.type,
            date = excluded.date,
            payload = excluded.payload,
            created_at = excluded.created_at;
    `
	if _, err := h.db.NamedExecContext(ctx, query, row); err != nil {
		h.logger.ErrorContext(ctx, "Error saving message", "conversation_id", row.ConversationID, "message_id", row.MessageID, "error", err)
		return fmt.Errorf("failed to save message %s in %s: %w", row.MessageID, row.ConversationID, err)
	}

	h.logger.DebugContext(ctx, "Message saved", "conversation_id", row.ConversationID, "message_id", row.MessageID)
	return nil
}

// Lookup returns the stored message, or nil, nil when it is unknown.
func (h *History) Lookup(ctx context.Context, conversation model.ID, id string) (*model.Message, error) {
	var payload string
	err := h.db.GetContext(ctx, &payload,
		`SELECT payload FROM messages WHERE conversation_id = ? AND message_id = ?`,
		conversation.String(), id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to look up message %s in %s: %w", id, conversation, err)
	}

	var msg model.Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return nil, fmt.Errorf("failed to decode stored message %s: %w", id, err)
	}
	return &msg, nil
}

// Prune deletes messages recorded before the retention window and reports how
// many were removed.
func (h *History) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := h.now().Add(-retention).UTC().Unix()
	result, err := h.db.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned messages: %w", err)
	}
	return n, nil
}

// Vacuum reclaims free pages. SQLite refuses VACUUM inside a transaction.
func (h *History) Vacuum(ctx context.Context) error {
	if _, err := h.db.ExecContext(ctx, "VACUUM;"); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)
		}
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}
	return nil
}
