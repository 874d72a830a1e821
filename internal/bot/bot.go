// Package bot runs the bridge between one chat platform session and the backend
// websocket: it performs the handshake, keeps the connection alive, forwards
// converted platform messages and dispatches backend messages.
package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/polaris-bridge/internal/metrics"
	"github.com/edgard/polaris-bridge/internal/model"
	"github.com/edgard/polaris-bridge/internal/platform"
)

// ErrClosed is returned when the backend connection is closed.
var ErrClosed = errors.New("backend connection closed")

const (
	offlineStatus   = "Offline"
	teardownTimeout = 10 * time.Second
)

// Converter turns platform messages into canonical messages.
type Converter interface {
	Convert(ctx context.Context, msg platform.Message) (*model.Message, error)
}

// Dispatcher sends canonical messages through the platform.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *model.Message) error
}

// Options configures a Bot.
type Options struct {
	// Server is the backend websocket URL.
	Server string
	// Config is the operator JSON blob forwarded in the init envelope.
	Config json.RawMessage
	// Prefix is the command prefix advertised in the platform status.
	Prefix            string
	HeartbeatInterval time.Duration
	RetryInterval     time.Duration
	// MetricsAddr enables the /metrics listener when set.
	MetricsAddr string
}

// Bot is the bridge context: one platform session paired with one backend
// connection. It is created once per process and is not reusable after Run returns.
type Bot struct {
	opts       Options
	client     platform.Client
	profile    platform.Profile
	converter  Converter
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger

	heartbeat *Heartbeat
	state     atomic.Int32

	mu        sync.RWMutex
	transport *transport
	user      *model.User

	teardownOnce sync.Once
}

// New creates a Bot. m may be nil.
func New(opts Options, client platform.Client, converter Converter, dispatcher Dispatcher, m *metrics.Metrics, logger *slog.Logger) (*Bot, error) {
	if opts.Server == "" {
		return nil, errors.New("backend server url cannot be empty")
	}
	if len(opts.Config) == 0 {
		opts.Config = json.RawMessage(`{}`)
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	b := &Bot{
		opts:       opts,
		client:     client,
		profile:    client.Profile(),
		converter:  converter,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger.With("component", "bridge", "platform", client.Profile().Name),
	}
	hb, err := NewHeartbeat(opts.HeartbeatInterval, b.ping, logger)
	if err != nil {
		return nil, err
	}
	b.heartbeat = hb
	return b, nil
}

// State returns the current connection state.
func (b *Bot) State() State {
	return State(b.state.Load())
}

func (b *Bot) setState(s State) {
	old := State(b.state.Swap(int32(s)))
	if old != s {
		b.logger.Debug("Connection state changed", "from", old, "to", s)
	}
}

// User returns the bot account announced in the handshake, or nil before it.
func (b *Bot) User() *model.User {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.user
}

func (b *Bot) username() string {
	if u := b.User(); u != nil {
		return u.Username
	}
	return ""
}

// Run connects to the backend and bridges traffic until ctx ends or either side
// closes. A backend closure and a cancelled ctx both return nil.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting bridge...", "server", b.opts.Server)

	b.setState(StateConnecting)
	t, err := dial(ctx, b.opts.Server, b.opts.RetryInterval, b.logger)
	if err != nil {
		b.setState(StateDisconnected)
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	b.mu.Lock()
	b.transport = t
	b.mu.Unlock()
	b.setState(StateOpen)
	b.metrics.SetConnected(true)
	b.logger.Info("Connected to backend", "server", b.opts.Server)

	if err := b.heartbeat.Start(); err != nil {
		b.teardown()
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return b.readLoop(gCtx)
	})

	g.Go(func() error {
		b.logger.Info("Starting platform listener...")
		if err := b.client.Listen(gCtx, b); err != nil {
			return fmt.Errorf("platform listener: %w", err)
		}
		b.logger.Info("Platform listener stopped.")
		if gCtx.Err() == nil {
			return errors.New("platform listener stopped unexpectedly")
		}
		return nil
	})

	if b.opts.MetricsAddr != "" && b.metrics != nil {
		g.Go(func() error {
			return b.metrics.Serve(gCtx, b.opts.MetricsAddr, b.logger)
		})
	}

	// Closing the transport unblocks the read loop.
	g.Go(func() error {
		<-gCtx.Done()
		b.teardown()
		return nil
	})

	err = g.Wait()
	b.teardown()

	if err != nil && !errors.Is(err, ErrClosed) && !errors.Is(err, context.Canceled) {
		b.logger.Error("Bridge stopped due to error", "error", err)
		return err
	}
	b.logger.Info("Bridge stopped.")
	return nil
}

// Close tears the bridge down. It is safe to call more than once and concurrently
// with Run.
func (b *Bot) Close() {
	b.teardown()
}

func (b *Bot) teardown() {
	b.teardownOnce.Do(func() {
		b.setState(StateClosing)
		b.logger.Info("Shutting down bridge...")

		if err := b.heartbeat.Stop(); err != nil {
			b.logger.Warn("Failed to stop heartbeat", "error", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		if err := b.client.SetPresence(ctx, false); err != nil {
			b.logger.Debug("Failed to publish presence", "error", err)
		}
		if err := b.client.SetStatus(ctx, offlineStatus); err != nil {
			b.logger.Debug("Failed to set status", "error", err)
		}

		b.mu.Lock()
		t := b.transport
		b.transport = nil
		b.mu.Unlock()
		if t != nil {
			if err := t.close(); err != nil {
				b.logger.Debug("Error closing backend connection", "error", err)
			}
		}

		b.metrics.SetConnected(false)
		b.setState(StateDisconnected)
	})
}

func (b *Bot) send(env model.Envelope) error {
	b.mu.RLock()
	t := b.transport
	b.mu.RUnlock()
	if t == nil {
		return ErrClosed
	}
	if err := t.send(env); err != nil {
		return fmt.Errorf("send %s envelope: %w", env.Type, err)
	}
	b.metrics.FrameSent(string(env.Type))
	return nil
}

func (b *Bot) ping(context.Context) error {
	b.logger.Debug("ping")
	return b.send(model.NewPingEnvelope(b.profile.Name, b.username()))
}

func (b *Bot) readLoop(ctx context.Context) error {
	b.mu.RLock()
	t := b.transport
	b.mu.RUnlock()
	if t == nil {
		return ErrClosed
	}

	for {
		data, err := t.read()
		if err != nil {
			return b.readError(ctx, err)
		}
		b.handleFrame(ctx, data)
	}
}

func (b *Bot) readError(ctx context.Context, err error) error {
	if ctx.Err() != nil || b.State() != StateOpen {
		return nil
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNoStatusReceived:
			b.logger.Warn("Disconnected", "code", closeErr.Code)
		case websocket.CloseAbnormalClosure:
			b.logger.Warn("Terminated", "code", closeErr.Code)
		default:
			b.logger.Info("Connection closed by backend", "code", closeErr.Code, "reason", closeErr.Text)
		}
		return fmt.Errorf("%w: code %d", ErrClosed, closeErr.Code)
	}

	b.logger.Error("Failed to read from backend", "error", err)
	return fmt.Errorf("%w: %w", ErrClosed, err)
}

// handleFrame dispatches message envelopes in arrival order and ignores the rest.
func (b *Bot) handleFrame(ctx context.Context, data []byte) {
	env, err := model.DecodeEnvelope(data)
	if err != nil {
		b.metrics.FrameReceived("malformed")
		b.logger.Warn("Ignoring malformed frame", "error", err, "size", len(data))
		return
	}
	b.metrics.FrameReceived(string(env.Type))

	if env.Type != model.EnvelopeMessage {
		b.logger.Debug("Ignoring envelope", "type", env.Type)
		return
	}

	err = b.dispatcher.Dispatch(ctx, env.Message)
	b.metrics.Dispatched(string(env.Message.Type), err)
	if err != nil {
		b.logger.Error("Failed to dispatch message", "message_id", env.Message.ID, "conversation", env.Message.Conversation.ID, "error", err)
	}
}

// OnReady announces the bot to the backend once the platform session is up.
func (b *Bot) OnReady(ctx context.Context) error {
	me, err := b.client.Me(ctx)
	if err != nil {
		return fmt.Errorf("get bot account: %w", err)
	}
	username := me.Username
	if username == "" {
		username = me.ID
	}
	user := model.NewUser(me.ID, me.FirstName, me.LastName, username, me.IsBot)
	b.mu.Lock()
	b.user = &user
	b.mu.Unlock()

	if err := b.client.SetPresence(ctx, true); err != nil {
		b.logger.Debug("Failed to publish presence", "error", err)
	}
	if err := b.client.SetStatus(ctx, b.opts.Prefix+"help"); err != nil {
		b.logger.Debug("Failed to set status", "error", err)
	}

	if err := b.send(model.NewInitEnvelope(b.profile.Name, user, b.opts.Config)); err != nil {
		return err
	}
	b.logger.Info("Connected as @" + user.Username)
	return nil
}

// OnMessage forwards a platform message to the backend.
func (b *Bot) OnMessage(ctx context.Context, msg platform.Message) {
	out, err := b.converter.Convert(ctx, msg)
	if err != nil {
		b.metrics.Converted(string(model.TypeUnsupported), err)
		b.logger.Error("Failed to convert message", "message_id", msg.ID(), "error", err)
		return
	}
	b.metrics.Converted(string(out.Type), nil)

	if err := b.send(model.NewMessageEnvelope(b.profile.Name, b.username(), out)); err != nil {
		b.logger.Error("Failed to forward message", "message_id", out.ID, "error", err)
	}
}
