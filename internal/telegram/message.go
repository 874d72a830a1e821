package telegram

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-telegram/bot/models"

	"github.com/edgard/polaris-bridge/internal/platform"
)

// downloader fetches a file by id.
type downloader interface {
	download(ctx context.Context, fileID, filename, mimeType string) (platform.Media, error)
}

// message wraps a received Bot API message.
type message struct {
	m     *models.Message
	files downloader
}

var _ platform.Message = (*message)(nil)

func newMessage(m *models.Message, files downloader) *message {
	return &message{m: m, files: files}
}

func (msg *message) ID() string {
	return strconv.Itoa(msg.m.ID)
}

func (msg *message) Chat() platform.Chat {
	chat := msg.m.Chat
	title := chat.Title
	if title == "" {
		title = chat.FirstName
	}
	return platform.Chat{
		ID:    strconv.FormatInt(chat.ID, 10),
		Title: title,
		Group: chat.Type != models.ChatTypePrivate,
	}
}

// Sender falls back to the chat itself for channel posts, which carry no author.
func (msg *message) Sender() platform.Contact {
	if msg.m.From != nil {
		return contact(msg.m.From)
	}
	chat := msg.m.Chat
	return platform.Contact{
		ID:        strconv.FormatInt(chat.ID, 10),
		FirstName: chat.Title,
		Username:  chat.Username,
	}
}

// Kind checks media before text. Animations also carry a document, so they are
// matched first.
func (msg *message) Kind() platform.Kind {
	m := msg.m
	switch {
	case len(m.Photo) > 0:
		return platform.KindImage
	case m.Animation != nil:
		return platform.KindAnimation
	case m.Video != nil:
		return platform.KindVideo
	case m.Voice != nil:
		return platform.KindVoice
	case m.Audio != nil:
		return platform.KindAudio
	case m.Sticker != nil:
		return platform.KindSticker
	case m.Document != nil:
		return platform.KindDocument
	case m.Text != "":
		return platform.KindText
	}
	return platform.KindUnknown
}

func (msg *message) Animated() bool {
	return false
}

func (msg *message) Body() string {
	if msg.m.Text != "" {
		return msg.m.Text
	}
	return msg.m.Caption
}

func (msg *message) Timestamp() int64 {
	return int64(msg.m.Date)
}

// Mentions lists users mentioned by id. Plain @username mentions carry no id.
func (msg *message) Mentions() []string {
	var ids []string
	for _, e := range msg.m.Entities {
		if e.Type == models.MessageEntityTypeTextMention && e.User != nil {
			ids = append(ids, strconv.FormatInt(e.User.ID, 10))
		}
	}
	return ids
}

// Quoted returns the replied-to message. The Bot API embeds a single level, so
// the quoted message never has a quote of its own.
func (msg *message) Quoted(context.Context) (platform.Message, error) {
	if msg.m.ReplyToMessage == nil {
		return nil, nil
	}
	return newMessage(msg.m.ReplyToMessage, msg.files), nil
}

// file describes the media attached to msg. Photos use the largest size.
func (msg *message) file() (fileID, filename, mimeType string, ok bool) {
	m := msg.m
	switch {
	case len(m.Photo) > 0:
		return m.Photo[len(m.Photo)-1].FileID, "", "image/jpeg", true
	case m.Animation != nil:
		return m.Animation.FileID, m.Animation.FileName, m.Animation.MimeType, true
	case m.Video != nil:
		return m.Video.FileID, m.Video.FileName, m.Video.MimeType, true
	case m.Voice != nil:
		return m.Voice.FileID, "", m.Voice.MimeType, true
	case m.Audio != nil:
		return m.Audio.FileID, m.Audio.FileName, m.Audio.MimeType, true
	case m.Sticker != nil:
		return m.Sticker.FileID, "", "", true
	case m.Document != nil:
		return m.Document.FileID, m.Document.FileName, m.Document.MimeType, true
	}
	return "", "", "", false
}

// MediaRef returns the file id, which the Bot API accepts in place of an upload.
func (msg *message) MediaRef() string {
	fileID, _, _, _ := msg.file()
	return fileID
}

func (msg *message) Download(ctx context.Context) (platform.Media, error) {
	fileID, filename, mimeType, ok := msg.file()
	if !ok {
		return platform.Media{}, fmt.Errorf("message %d has no media", msg.m.ID)
	}
	return msg.files.download(ctx, fileID, filename, mimeType)
}
