// Package platform defines the boundary between the bridge and a chat platform SDK.
// An adapter implements Client and hands Message values to the bridge; everything
// platform specific beyond that lives in the adapter or in a Profile.
package platform

import (
	"context"
	"errors"
)

// Kind classifies a platform message.
type Kind int

// Platform message kinds understood by the bridge. Anything else is KindUnknown.
const (
	KindUnknown Kind = iota
	KindText
	KindImage
	KindDocument
	KindAudio
	KindVideo
	KindAnimation
	KindVoice
	KindSticker
)

var kindNames = [...]string{
	KindUnknown:   "unknown",
	KindText:      "text",
	KindImage:     "image",
	KindDocument:  "document",
	KindAudio:     "audio",
	KindVideo:     "video",
	KindAnimation: "animation",
	KindVoice:     "voice",
	KindSticker:   "sticker",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[KindUnknown]
	}
	return kindNames[k]
}

// ChatState is a transient activity signal shown to the other party.
type ChatState int

const (
	StateTyping ChatState = iota
	StateRecording
	StateClear
)

func (s ChatState) String() string {
	switch s {
	case StateTyping:
		return "typing"
	case StateRecording:
		return "recording"
	case StateClear:
		return "clear"
	}
	return "unknown"
}

// ErrNotSupported is returned by adapters for operations their platform lacks.
var ErrNotSupported = errors.New("operation not supported by platform")

// Chat describes where a message was posted.
type Chat struct {
	ID    string
	Title string
	Group bool
}

// Contact describes a platform account.
type Contact struct {
	ID        string
	FirstName string
	LastName  string
	Username  string
	IsBot     bool
}

// DisplayName returns the best human readable name of the contact.
func (c Contact) DisplayName() string {
	switch {
	case c.FirstName != "" && c.LastName != "":
		return c.FirstName + " " + c.LastName
	case c.FirstName != "":
		return c.FirstName
	case c.Username != "":
		return c.Username
	}
	return c.ID
}

// Media is downloaded message content.
type Media struct {
	Filename string
	MIME     string
	Data     []byte
	// URL is set when the platform serves the media without a download.
	URL string
	// Ref is an opaque reference the platform accepts back when sending.
	Ref string
}

// Message is one received platform message.
type Message interface {
	ID() string
	Chat() Chat
	Sender() Contact
	Kind() Kind
	// Animated reports a video flagged as a looping animation.
	Animated() bool
	// Body is the text of a text message or the caption of a media message.
	Body() string
	Timestamp() int64
	// Mentions lists the account ids the platform reports as mentioned.
	Mentions() []string
	// Quoted returns the message this one replies to, or nil when there is none
	// or the platform no longer has it.
	Quoted(ctx context.Context) (Message, error)
	// MediaRef returns a reference the platform can send the media by without a
	// re-upload, or "" when it has none.
	MediaRef() string
	Download(ctx context.Context) (Media, error)
}

// Attachment is outbound media content. Either Data or Ref is set.
type Attachment struct {
	Filename string
	MIME     string
	Data     []byte
	// Ref is an opaque platform reference such as a file id.
	Ref string
}

// SendOptions carries the optional parts of an outbound message.
type SendOptions struct {
	// Rich marks text and caption as written in the profile's native dialect.
	Rich     bool
	Caption  string
	ReplyTo  string
	Mentions []string
	Preview  bool
}

// Handler receives platform session events.
type Handler interface {
	// OnReady is called once the session is authenticated. An error ends the session.
	OnReady(ctx context.Context) error
	OnMessage(ctx context.Context, msg Message)
}

// Client is a chat platform session.
type Client interface {
	Profile() Profile
	Me(ctx context.Context) (Contact, error)
	// Listen delivers events to h until ctx is done.
	Listen(ctx context.Context, h Handler) error

	SendText(ctx context.Context, locator, text string, opts SendOptions) error
	SendMedia(ctx context.Context, locator string, kind Kind, media Attachment, opts SendOptions) error
	SendChatState(ctx context.Context, locator string, state ChatState) error
	MarkRead(ctx context.Context, locator string) error
	SetPresence(ctx context.Context, available bool) error
	SetStatus(ctx context.Context, status string) error
}
