package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/edgard/polaris-bridge/internal/platform"
)

// message wraps a received WhatsApp message.
type message struct {
	evt    *events.Message
	client *Client
	// title is the group subject, resolved before delivery.
	title string
}

var _ platform.Message = (*message)(nil)

func newMessage(evt *events.Message, client *Client) *message {
	return &message{evt: evt, client: client}
}

func (msg *message) ID() string {
	return msg.evt.Info.ID
}

// chatJID addresses direct chats by phone number when the chat uses a hidden
// LID address.
func (msg *message) chatJID() types.JID {
	info := msg.evt.Info
	if info.IsGroup {
		return info.Chat
	}
	return phoneJID(info.Chat, info.SenderAlt)
}

// Chat identifies groups by their id and direct chats by the other account.
func (msg *message) Chat() platform.Chat {
	if msg.evt.Info.IsGroup {
		return platform.Chat{ID: msg.evt.Info.Chat.User, Title: msg.title, Group: true}
	}
	return platform.Chat{ID: msg.chatJID().User, Title: msg.evt.Info.PushName}
}

// Sender uses the phone number as id and username; WhatsApp only exposes the
// push name.
func (msg *message) Sender() platform.Contact {
	info := msg.evt.Info
	jid := phoneJID(info.Sender, info.SenderAlt)
	name := info.PushName
	if name == "" && msg.client != nil && msg.client.isSelf(jid) {
		name = msg.client.device.PushName
	}
	return platform.Contact{ID: jid.User, FirstName: name, Username: jid.User}
}

func (msg *message) Kind() platform.Kind {
	m := msg.evt.Message
	switch {
	case m.GetImageMessage() != nil:
		return platform.KindImage
	case m.GetStickerMessage() != nil:
		return platform.KindSticker
	case m.GetVideoMessage() != nil:
		return platform.KindVideo
	case m.GetAudioMessage() != nil:
		if m.GetAudioMessage().GetPTT() {
			return platform.KindVoice
		}
		return platform.KindAudio
	case m.GetDocumentMessage() != nil:
		return platform.KindDocument
	case m.GetConversation() != "" || m.GetExtendedTextMessage() != nil:
		return platform.KindText
	}
	return platform.KindUnknown
}

// Animated reports a video sent as a GIF.
func (msg *message) Animated() bool {
	return msg.evt.Message.GetVideoMessage().GetGifPlayback()
}

func (msg *message) Body() string {
	m := msg.evt.Message
	switch {
	case m.GetConversation() != "":
		return m.GetConversation()
	case m.GetExtendedTextMessage() != nil:
		return m.GetExtendedTextMessage().GetText()
	case m.GetImageMessage() != nil:
		return m.GetImageMessage().GetCaption()
	case m.GetVideoMessage() != nil:
		return m.GetVideoMessage().GetCaption()
	case m.GetDocumentMessage() != nil:
		return m.GetDocumentMessage().GetCaption()
	}
	return ""
}

func (msg *message) Timestamp() int64 {
	if msg.evt.Info.Timestamp.IsZero() {
		return 0
	}
	return msg.evt.Info.Timestamp.Unix()
}

// Mentions lists the mentioned accounts by the user part of their address.
func (msg *message) Mentions() []string {
	jids := contextInfo(msg.evt.Message).GetMentionedJID()
	if len(jids) == 0 {
		return nil
	}
	ids := make([]string, 0, len(jids))
	for _, s := range jids {
		jid, err := types.ParseJID(s)
		if err != nil || jid.User == "" {
			continue
		}
		ids = append(ids, jid.User)
	}
	return ids
}

// Quoted returns the replied-to message. A quote still held by the client keeps
// its own quote, so chains resolve as deep as the cache reaches; otherwise the
// embedded copy is used, which ends the chain.
func (msg *message) Quoted(context.Context) (platform.Message, error) {
	ctxInfo := contextInfo(msg.evt.Message)
	id := ctxInfo.GetStanzaID()
	if id == "" {
		return nil, nil
	}
	if msg.client != nil {
		if cached := msg.client.lookup(id); cached != nil {
			return &message{evt: cached, client: msg.client, title: msg.title}, nil
		}
	}
	if ctxInfo.GetQuotedMessage() == nil {
		return nil, nil
	}

	source := msg.evt.Info.MessageSource
	sender, err := types.ParseJID(ctxInfo.GetParticipant())
	if err != nil || sender.IsEmpty() {
		sender = source.Chat
	}
	quoted := &events.Message{
		Info: types.MessageInfo{
			ID: id,
			MessageSource: types.MessageSource{
				Chat:    source.Chat,
				Sender:  sender,
				IsGroup: source.IsGroup,
			},
		},
		Message: ctxInfo.GetQuotedMessage(),
	}
	if msg.client != nil {
		quoted.Info.IsFromMe = msg.client.isSelf(sender)
	}
	return &message{evt: quoted, client: msg.client, title: msg.title}, nil
}

// MediaRef is always empty: WhatsApp media cannot be resent without an upload.
func (msg *message) MediaRef() string {
	return ""
}

func (msg *message) Download(ctx context.Context) (platform.Media, error) {
	media, mime, filename := msg.media()
	if media == nil {
		return platform.Media{}, fmt.Errorf("message %s has no media", msg.ID())
	}
	if msg.client == nil {
		return platform.Media{}, errors.New("message is detached from its client")
	}

	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()
	data, err := msg.client.api.Download(ctx, media)
	if err != nil {
		return platform.Media{}, fmt.Errorf("failed to download media of message %s: %w", msg.ID(), err)
	}

	if mime == "" {
		mime = mimetype.Detect(data).String()
	}
	// Voice notes carry parameters such as "audio/ogg; codecs=opus".
	base, _, _ := strings.Cut(mime, ";")
	if filename == "" {
		filename = msg.ID()
		if known := mimetype.Lookup(strings.TrimSpace(base)); known != nil {
			filename += known.Extension()
		}
	}
	return platform.Media{Filename: filename, MIME: mime, Data: data}, nil
}

// media returns the downloadable part of the message with its type and file name.
func (msg *message) media() (whatsmeow.DownloadableMessage, string, string) {
	m := msg.evt.Message
	switch {
	case m.GetImageMessage() != nil:
		return m.GetImageMessage(), m.GetImageMessage().GetMimetype(), ""
	case m.GetStickerMessage() != nil:
		return m.GetStickerMessage(), m.GetStickerMessage().GetMimetype(), ""
	case m.GetVideoMessage() != nil:
		return m.GetVideoMessage(), m.GetVideoMessage().GetMimetype(), ""
	case m.GetAudioMessage() != nil:
		return m.GetAudioMessage(), m.GetAudioMessage().GetMimetype(), ""
	case m.GetDocumentMessage() != nil:
		doc := m.GetDocumentMessage()
		return doc, doc.GetMimetype(), doc.GetFileName()
	}
	return nil, "", ""
}

// contextInfo returns the reply and mention metadata of whichever part m carries.
func contextInfo(m *waE2E.Message) *waE2E.ContextInfo {
	switch {
	case m.GetExtendedTextMessage() != nil:
		return m.GetExtendedTextMessage().GetContextInfo()
	case m.GetImageMessage() != nil:
		return m.GetImageMessage().GetContextInfo()
	case m.GetVideoMessage() != nil:
		return m.GetVideoMessage().GetContextInfo()
	case m.GetAudioMessage() != nil:
		return m.GetAudioMessage().GetContextInfo()
	case m.GetDocumentMessage() != nil:
		return m.GetDocumentMessage().GetContextInfo()
	case m.GetStickerMessage() != nil:
		return m.GetStickerMessage().GetContextInfo()
	}
	return nil
}

// phoneJID prefers the phone number address over a hidden LID one.
func phoneJID(jid, alt types.JID) types.JID {
	if jid.Server == types.HiddenUserServer && alt.Server == types.DefaultUserServer {
		return alt.ToNonAD()
	}
	return jid.ToNonAD()
}

func (c *Client) isSelf(jid types.JID) bool {
	if c.device == nil || c.device.ID == nil {
		return false
	}
	return jid.User == c.device.ID.User
}
