package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edgard/polaris-bridge/internal/model"
)

const (
	closeWriteTimeout = 5 * time.Second
	// writeTimeout bounds a frame write to a backend that stopped reading.
	writeTimeout = 10 * time.Second
)

// transport is the websocket to the backend. Writes are serialized; a single
// goroutine reads.
type transport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
}

func newTransport(conn *websocket.Conn) *transport {
	return &transport{conn: conn, writeTimeout: writeTimeout}
}

// dial connects to url. While the server refuses connections it waits retry
// between attempts until ctx ends.
func dial(ctx context.Context, url string, retry time.Duration, logger *slog.Logger) (*transport, error) {
	dialer := *websocket.DefaultDialer
	for {
		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err == nil {
			return newTransport(conn), nil
		}
		if !errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("dial %s: %w", url, err)
		}

		logger.InfoContext(ctx, "Waiting for server to be available...", "server", url, "retry_in", retry)
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// send writes env as one JSON text frame, failing once the write deadline passes.
func (t *transport) send(env model.Envelope) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return t.conn.WriteJSON(env)
}

func (t *transport) read() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

// close sends a normal closure frame, best effort, and releases the connection.
func (t *transport) close() error {
	t.writeMu.Lock()
	_ = t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeWriteTimeout),
	)
	t.writeMu.Unlock()
	return t.conn.Close()
}
