// Package platformtest provides in-memory platform.Client and platform.Message
// implementations for tests.
package platformtest

import (
	"context"
	"sync"

	"github.com/edgard/polaris-bridge/internal/platform"
)

// Message is a scripted platform.Message.
type Message struct {
	MsgID      string
	MsgChat    platform.Chat
	From       platform.Contact
	MsgKind    platform.Kind
	IsAnimated bool
	Text       string
	Date       int64
	MentionIDs []string

	Reply     *Message
	QuotedErr error

	Ref         string
	Media       platform.Media
	DownloadErr error
	// Downloads counts Download calls.
	Downloads int
}

var _ platform.Message = (*Message)(nil)

func (m *Message) ID() string               { return m.MsgID }
func (m *Message) Chat() platform.Chat      { return m.MsgChat }
func (m *Message) Sender() platform.Contact { return m.From }
func (m *Message) Kind() platform.Kind      { return m.MsgKind }
func (m *Message) Animated() bool           { return m.IsAnimated }
func (m *Message) Body() string             { return m.Text }
func (m *Message) Timestamp() int64         { return m.Date }
func (m *Message) Mentions() []string       { return m.MentionIDs }

func (m *Message) Quoted(context.Context) (platform.Message, error) {
	if m.QuotedErr != nil {
		return nil, m.QuotedErr
	}
	if m.Reply == nil {
		return nil, nil
	}
	return m.Reply, nil
}

func (m *Message) MediaRef() string { return m.Ref }

func (m *Message) Download(context.Context) (platform.Media, error) {
	m.Downloads++
	if m.DownloadErr != nil {
		return platform.Media{}, m.DownloadErr
	}
	return m.Media, nil
}

// Call records one Client invocation.
type Call struct {
	Op      string
	Locator string
	Text    string
	Kind    platform.Kind
	Media   platform.Attachment
	Options platform.SendOptions
	State   platform.ChatState
	Flag    bool
}

// Client is a recording platform.Client. Messages passed to Deliver are handed to
// the handler registered by Listen.
type Client struct {
	ProfileValue platform.Profile
	MeValue      platform.Contact
	MeErr        error
	SendErr      error
	StateErr     error
	PresenceErr  error

	mu      sync.Mutex
	calls   []Call
	inbound chan platform.Message
}

var _ platform.Client = (*Client)(nil)

// NewClient returns a Client using profile p.
func NewClient(p platform.Profile) *Client {
	return &Client{
		ProfileValue: p,
		MeValue:      platform.Contact{ID: "1000", FirstName: "Polaris", Username: "polaris", IsBot: true},
		inbound:      make(chan platform.Message, 16),
	}
}

// Deliver queues msg for the running listener.
func (c *Client) Deliver(msg platform.Message) {
	c.inbound <- msg
}

// Calls returns the recorded invocations, optionally filtered by operation name.
func (c *Client) Calls(ops ...string) []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(ops) == 0 {
		return append([]Call(nil), c.calls...)
	}
	var out []Call
	for _, call := range c.calls {
		for _, op := range ops {
			if call.Op == op {
				out = append(out, call)
				break
			}
		}
	}
	return out
}

func (c *Client) record(call Call) {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	c.mu.Unlock()
}

func (c *Client) Profile() platform.Profile { return c.ProfileValue }

func (c *Client) Me(context.Context) (platform.Contact, error) {
	return c.MeValue, c.MeErr
}

func (c *Client) Listen(ctx context.Context, h platform.Handler) error {
	if err := h.OnReady(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-c.inbound:
			h.OnMessage(ctx, msg)
		}
	}
}

func (c *Client) SendText(_ context.Context, locator, text string, opts platform.SendOptions) error {
	c.record(Call{Op: "SendText", Locator: locator, Text: text, Options: opts})
	return c.SendErr
}

func (c *Client) SendMedia(_ context.Context, locator string, kind platform.Kind, media platform.Attachment, opts platform.SendOptions) error {
	c.record(Call{Op: "SendMedia", Locator: locator, Kind: kind, Media: media, Options: opts})
	return c.SendErr
}

func (c *Client) SendChatState(_ context.Context, locator string, state platform.ChatState) error {
	c.record(Call{Op: "SendChatState", Locator: locator, State: state})
	return c.StateErr
}

func (c *Client) MarkRead(_ context.Context, locator string) error {
	c.record(Call{Op: "MarkRead", Locator: locator})
	return c.StateErr
}

func (c *Client) SetPresence(_ context.Context, available bool) error {
	c.record(Call{Op: "SetPresence", Flag: available})
	return c.PresenceErr
}

func (c *Client) SetStatus(_ context.Context, status string) error {
	c.record(Call{Op: "SetStatus", Text: status})
	return c.PresenceErr
}
