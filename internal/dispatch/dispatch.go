// Package dispatch delivers canonical messages received from the backend through a
// platform client.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/edgard/polaris-bridge/internal/markup"
	"github.com/edgard/polaris-bridge/internal/model"
	"github.com/edgard/polaris-bridge/internal/platform"
)

var mentionToken = regexp.MustCompile(`@(\d+)`)

var mediaKinds = map[model.Type]platform.Kind{
	model.TypePhoto:     platform.KindImage,
	model.TypeDocument:  platform.KindDocument,
	model.TypeAudio:     platform.KindAudio,
	model.TypeVideo:     platform.KindVideo,
	model.TypeAnimation: platform.KindAnimation,
	model.TypeVoice:     platform.KindVoice,
	model.TypeSticker:   platform.KindSticker,
}

// Dispatcher sends canonical messages through one platform client.
type Dispatcher struct {
	client   platform.Client
	profile  platform.Profile
	resolver *Resolver
	logger   *slog.Logger
}

// New creates a Dispatcher. A nil resolver fetches remote media with a default
// HTTP client.
func New(client platform.Client, resolver *Resolver, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if resolver == nil {
		resolver = NewResolver(nil)
	}
	return &Dispatcher{
		client:   client,
		profile:  client.Profile(),
		resolver: resolver,
		logger:   logger.With("component", "dispatcher"),
	}
}

// Dispatch sends msg to its conversation. Messages with nothing to send are
// dropped without error; only platform send failures are returned.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *model.Message) error {
	if msg == nil {
		return nil
	}
	locator := d.profile.Locator(msg.Conversation.ID)
	log := d.logger.With("locator", locator, "type", msg.Type)

	switch msg.Type {
	case model.TypeText:
		return d.sendText(ctx, log, locator, msg)
	case model.TypePhoto, model.TypeDocument, model.TypeAudio, model.TypeVideo,
		model.TypeAnimation, model.TypeVoice, model.TypeSticker:
		return d.sendMedia(ctx, log, locator, msg)
	case model.TypeUnsupported:
		log.DebugContext(ctx, "Skipping unsupported message")
		return nil
	}
	log.DebugContext(ctx, "Skipping message of unknown type")
	return nil
}

func (d *Dispatcher) sendText(ctx context.Context, log *slog.Logger, locator string, msg *model.Message) error {
	if strings.TrimSpace(msg.Content) == "" {
		log.DebugContext(ctx, "Skipping empty text message")
		return nil
	}

	text, rich := d.translate(ctx, msg.Content, msg.Extra.Format)
	opts := platform.SendOptions{
		Rich:     rich,
		ReplyTo:  replyID(msg),
		Mentions: d.mentions(text),
		Preview:  msg.Extra.PreviewEnabled(),
	}

	return d.withChatState(ctx, log, locator, msg.Type, func() error {
		if err := d.client.SendText(ctx, locator, text, opts); err != nil {
			return fmt.Errorf("send text to %s: %w", locator, err)
		}
		return nil
	})
}

func (d *Dispatcher) sendMedia(ctx context.Context, log *slog.Logger, locator string, msg *model.Message) error {
	caption, rich := d.translate(ctx, msg.Extra.Caption, msg.Extra.Format)
	opts := platform.SendOptions{
		Rich:    rich,
		Caption: caption,
		ReplyTo: replyID(msg),
	}

	return d.withChatState(ctx, log, locator, msg.Type, func() error {
		attachment, err := d.resolver.Resolve(ctx, msg.Content)
		if errors.Is(err, ErrUnresolvableMedia) {
			log.WarnContext(ctx, "Dropping media message", "content", msg.Content, "error", err)
			return nil
		}
		if err != nil {
			return err
		}
		if err := d.client.SendMedia(ctx, locator, mediaKinds[msg.Type], attachment, opts); err != nil {
			return fmt.Errorf("send %s to %s: %w", msg.Type, locator, err)
		}
		return nil
	})
}

// withChatState wraps send with the activity signal matching typ and clears it
// afterwards whatever send returned. Chat state failures are only logged.
func (d *Dispatcher) withChatState(ctx context.Context, log *slog.Logger, locator string, typ model.Type, send func() error) error {
	switch typ {
	case model.TypeAudio, model.TypeVoice:
		d.chatState(ctx, log, locator, platform.StateRecording)
	default:
		d.chatState(ctx, log, locator, platform.StateTyping)
		if err := d.client.MarkRead(ctx, locator); err != nil {
			log.DebugContext(ctx, "Failed to mark conversation read", "error", err)
		}
	}

	err := send()
	d.chatState(ctx, log, locator, platform.StateClear)
	return err
}

func (d *Dispatcher) chatState(ctx context.Context, log *slog.Logger, locator string, state platform.ChatState) {
	if err := d.client.SendChatState(ctx, locator, state); err != nil {
		log.DebugContext(ctx, "Failed to send chat state", "state", state, "error", err)
	}
}

// translate converts text from the dialect named by format into the platform's
// native dialect. Text without a recognised format is sent as plain text.
func (d *Dispatcher) translate(ctx context.Context, text, format string) (string, bool) {
	if format == "" {
		return strings.TrimSpace(text), false
	}
	from, ok := markup.ParseDialect(format)
	if !ok {
		d.logger.DebugContext(ctx, "Unknown text format, sending as plain text", "format", format)
		return strings.TrimSpace(text), false
	}
	return strings.TrimSpace(markup.Convert(text, from, d.profile.Dialect)), true
}

// mentions maps each @<digits> token of text to a platform account, one target
// per token and in order.
func (d *Dispatcher) mentions(text string) []string {
	matches := mentionToken.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, d.profile.MentionTarget(m[1]))
	}
	return out
}

func replyID(msg *model.Message) string {
	if msg.Reply == nil {
		return ""
	}
	return msg.Reply.ID
}
