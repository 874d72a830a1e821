// Package convert turns platform messages into canonical messages, resolving the
// chain of quoted messages each one replies to.
package convert

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/edgard/polaris-bridge/internal/model"
	"github.com/edgard/polaris-bridge/internal/platform"
)

// DefaultMaxDepth bounds how many quoted messages are embedded under one message.
const DefaultMaxDepth = 8

// History stores converted messages so quote chains the platform does not embed
// can be completed later. Lookup returns nil, nil for unknown messages.
type History interface {
	Record(ctx context.Context, msg *model.Message) error
	Lookup(ctx context.Context, conversation model.ID, id string) (*model.Message, error)
}

// Option configures a Converter.
type Option func(*Converter)

// WithMaxDepth sets the reply chain ceiling. Values below zero are ignored.
func WithMaxDepth(depth int) Option {
	return func(c *Converter) {
		if depth >= 0 {
			c.maxDepth = depth
		}
	}
}

// WithHistory completes quote chains from h and records every converted message in it.
func WithHistory(h History) Option {
	return func(c *Converter) {
		c.history = h
	}
}

// WithMediaDir saves downloaded media under dir and uses the file path as content.
func WithMediaDir(dir string) Option {
	return func(c *Converter) {
		c.media.dir = dir
	}
}

type kindConverter func(ctx context.Context, msg platform.Message) (content string, typ model.Type, err error)

// Converter converts messages received from one platform client.
type Converter struct {
	client   platform.Client
	profile  platform.Profile
	history  History
	media    mediaStore
	maxDepth int
	kinds    map[platform.Kind]kindConverter
	logger   *slog.Logger
}

// New creates a Converter for messages received through client.
func New(client platform.Client, logger *slog.Logger, opts ...Option) *Converter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Converter{
		client:   client,
		profile:  client.Profile(),
		maxDepth: DefaultMaxDepth,
		logger:   logger.With("component", "converter"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.kinds = map[platform.Kind]kindConverter{
		platform.KindText:      c.text,
		platform.KindImage:     c.download(model.TypePhoto),
		platform.KindDocument:  c.download(model.TypeDocument),
		platform.KindAudio:     c.download(model.TypeAudio),
		platform.KindVideo:     c.video,
		platform.KindAnimation: c.download(model.TypeAnimation),
		platform.KindVoice:     c.download(model.TypeVoice),
		platform.KindSticker:   c.download(model.TypeSticker),
	}
	return c
}

// Convert builds the canonical form of msg including its resolved reply chain.
// The conversation is marked read and presence is refreshed; failures of those
// two are only logged.
func (c *Converter) Convert(ctx context.Context, msg platform.Message) (*model.Message, error) {
	out, err := c.convert(ctx, msg, 0, make(map[string]struct{}))
	if err != nil {
		return nil, err
	}

	if c.history != nil {
		if err := c.history.Record(ctx, out); err != nil {
			c.logger.WarnContext(ctx, "Failed to record message history", "message_id", out.ID, "error", err)
		}
	}

	locator := c.profile.Locator(out.Conversation.ID)
	if err := c.client.MarkRead(ctx, locator); err != nil {
		c.logger.DebugContext(ctx, "Failed to mark conversation read", "locator", locator, "error", err)
	}
	if err := c.client.SetPresence(ctx, true); err != nil {
		c.logger.DebugContext(ctx, "Failed to publish presence", "error", err)
	}
	return out, nil
}

func (c *Converter) convert(ctx context.Context, msg platform.Message, depth int, seen map[string]struct{}) (*model.Message, error) {
	chat := msg.Chat()
	seen[msg.ID()] = struct{}{}

	sender := msg.Sender()
	username := sender.Username
	if username == "" {
		username = sender.ID
	}
	user := model.NewUser(sender.ID, sender.FirstName, sender.LastName, username, sender.IsBot)

	var conversation model.Conversation
	if chat.Group {
		conversation = model.NewConversation(model.GroupID(chat.ID), chat.Title)
	} else {
		// A direct chat is addressed by the account on the other side.
		conversation = model.NewConversation(model.ID(chat.ID), sender.DisplayName())
	}

	extra := model.Extra{Native: msg}
	content, typ, err := c.classify(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("convert message %s: %w", msg.ID(), err)
	}
	switch {
	case typ == model.TypeText:
		if mentions := msg.Mentions(); len(mentions) > 0 {
			extra.Mentions = append([]string(nil), mentions...)
		}
	case typ.IsMedia():
		extra.Caption = msg.Body()
	}

	reply, err := c.reply(ctx, msg, conversation.ID, depth, seen)
	if err != nil {
		return nil, err
	}

	return model.NewMessage(msg.ID(), conversation, user, content, typ, msg.Timestamp(), reply, extra), nil
}

func (c *Converter) classify(ctx context.Context, msg platform.Message) (string, model.Type, error) {
	convertKind, ok := c.kinds[msg.Kind()]
	if !ok {
		c.logger.DebugContext(ctx, "Unsupported message kind", "message_id", msg.ID(), "kind", msg.Kind())
		return "", model.TypeUnsupported, nil
	}
	return convertKind(ctx, msg)
}

func (c *Converter) text(_ context.Context, msg platform.Message) (string, model.Type, error) {
	return msg.Body(), model.TypeText, nil
}

func (c *Converter) video(ctx context.Context, msg platform.Message) (string, model.Type, error) {
	if msg.Animated() {
		return c.download(model.TypeAnimation)(ctx, msg)
	}
	return c.download(model.TypeVideo)(ctx, msg)
}

// download stores the media of msg. Without a media directory a platform
// reference is used as is and nothing is fetched.
func (c *Converter) download(typ model.Type) kindConverter {
	return func(ctx context.Context, msg platform.Message) (string, model.Type, error) {
		if c.media.dir == "" {
			if ref := msg.MediaRef(); ref != "" {
				return ref, typ, nil
			}
		}
		media, err := msg.Download(ctx)
		if err != nil {
			return "", typ, fmt.Errorf("download %s: %w", typ, err)
		}
		locator, err := c.media.save(media)
		if err != nil {
			return "", typ, fmt.Errorf("store %s: %w", typ, err)
		}
		return locator, typ, nil
	}
}

// reply resolves the message msg quotes. The walk stops at the depth ceiling and at
// any message already on the chain; both cases keep what was resolved so far.
func (c *Converter) reply(ctx context.Context, msg platform.Message, conversation model.ID, depth int, seen map[string]struct{}) (*model.Message, error) {
	if depth >= c.maxDepth {
		c.logger.DebugContext(ctx, "Reply chain truncated at ceiling", "message_id", msg.ID(), "depth", depth)
		return nil, nil
	}

	quoted, err := msg.Quoted(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve quoted message of %s: %w", msg.ID(), err)
	}
	if quoted == nil {
		if depth == 0 || c.history == nil {
			return nil, nil
		}
		return c.storedReply(ctx, conversation, msg.ID(), depth, seen), nil
	}

	if _, dup := seen[quoted.ID()]; dup {
		c.logger.DebugContext(ctx, "Reply chain cycle detected", "message_id", msg.ID(), "quoted_id", quoted.ID())
		return nil, nil
	}
	return c.convert(ctx, quoted, depth+1, seen)
}

// storedReply completes a chain from history for a quoted message the platform
// delivered without its own quote.
func (c *Converter) storedReply(ctx context.Context, conversation model.ID, id string, depth int, seen map[string]struct{}) *model.Message {
	stored, err := c.history.Lookup(ctx, conversation, id)
	if err != nil {
		c.logger.DebugContext(ctx, "History lookup failed", "message_id", id, "error", err)
		return nil
	}
	if stored == nil || stored.Reply == nil {
		return nil
	}
	return truncate(stored.Reply, c.maxDepth-depth-1, seen)
}

// truncate copies the chain starting at m, keeping at most limit further replies
// and stopping before any message already seen.
func truncate(m *model.Message, limit int, seen map[string]struct{}) *model.Message {
	if m == nil {
		return nil
	}
	if _, dup := seen[m.ID]; dup {
		return nil
	}
	seen[m.ID] = struct{}{}
	out := *m
	out.Reply = nil
	if limit > 0 {
		out.Reply = truncate(m.Reply, limit-1, seen)
	}
	return &out
}
