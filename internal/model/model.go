// Package model defines the canonical, platform-independent data types shared by
// every pipeline of the bridge. Nothing above the platform adapters exchanges
// platform-native values; they all speak in terms of these types.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Type classifies the content of a Message.
type Type string

// Message types understood by the backend.
const (
	TypeText        Type = "text"
	TypePhoto       Type = "photo"
	TypeDocument    Type = "document"
	TypeAudio       Type = "audio"
	TypeVideo       Type = "video"
	TypeAnimation   Type = "animation"
	TypeVoice       Type = "voice"
	TypeSticker     Type = "sticker"
	TypeUnsupported Type = "unsupported"
)

// Types lists every message type in declaration order.
var Types = []Type{
	TypeText,
	TypePhoto,
	TypeDocument,
	TypeAudio,
	TypeVideo,
	TypeAnimation,
	TypeVoice,
	TypeSticker,
	TypeUnsupported,
}

// ParseType maps a wire value onto a Type. Unknown values map to TypeUnsupported.
func ParseType(s string) Type {
	for _, t := range Types {
		if string(t) == s {
			return t
		}
	}
	return TypeUnsupported
}

// IsMedia reports whether the content of a message of this type is a media locator.
func (t Type) IsMedia() bool {
	switch t {
	case TypePhoto, TypeDocument, TypeAudio, TypeVideo, TypeAnimation, TypeVoice, TypeSticker:
		return true
	case TypeText, TypeUnsupported:
		return false
	}
	return false
}

// UnmarshalJSON decodes unknown types as TypeUnsupported instead of failing.
func (t *Type) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("message type: %w", err)
	}
	*t = ParseType(s)
	return nil
}

// GroupMarker prefixes the id of group and channel conversations.
const GroupMarker = "-"

// ID is a conversation identifier. Numeric identifiers travel as JSON numbers,
// anything else as a JSON string, and both forms are accepted on decode.
type ID string

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(id))
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("conversation id: %w", err)
	}
	switch val := v.(type) {
	case json.Number:
		*id = ID(val.String())
	case string:
		*id = ID(val)
	case nil:
		*id = ""
	default:
		return fmt.Errorf("conversation id: unexpected JSON value %s", string(data))
	}
	return nil
}

// String returns the identifier as a string.
func (id ID) String() string { return string(id) }

// GroupID marks a platform chat identifier as belonging to a group conversation.
// Identifiers that already carry the marker are returned unchanged.
func GroupID(chatID string) ID {
	if strings.HasPrefix(chatID, GroupMarker) {
		return ID(chatID)
	}
	return ID(GroupMarker + chatID)
}

// User is a platform identity.
type User struct {
	ID        string  `json:"id"`
	FirstName string  `json:"firstName"`
	LastName  *string `json:"lastName"`
	Username  string  `json:"username"`
	IsBot     bool    `json:"isBot"`
}

// NewUser builds a User. An empty lastName is encoded as null.
func NewUser(id, firstName, lastName, username string, isBot bool) User {
	u := User{
		ID:        id,
		FirstName: firstName,
		Username:  username,
		IsBot:     isBot,
	}
	if lastName != "" {
		u.LastName = &lastName
	}
	return u
}

// Conversation is the chat a message belongs to.
type Conversation struct {
	ID    ID     `json:"id"`
	Title string `json:"title"`
}

// NewConversation builds a Conversation.
func NewConversation(id ID, title string) Conversation {
	return Conversation{ID: id, Title: title}
}

// IsGroup reports whether the conversation id carries the group marker.
func (c Conversation) IsGroup() bool {
	return strings.HasPrefix(string(c.ID), GroupMarker)
}

// Message is the canonical chat message.
type Message struct {
	ID           string       `json:"id"`
	Conversation Conversation `json:"conversation"`
	Sender       User         `json:"sender"`
	Content      string       `json:"content,omitempty"`
	Type         Type         `json:"type"`
	Date         int64        `json:"date"`
	Reply        *Message     `json:"reply"`
	Extra        Extra        `json:"extra"`
}

// NewMessage builds a Message.
func NewMessage(id string, conversation Conversation, sender User, content string, typ Type, date int64, reply *Message, extra Extra) *Message {
	return &Message{
		ID:           id,
		Conversation: conversation,
		Sender:       sender,
		Content:      content,
		Type:         typ,
		Date:         date,
		Reply:        reply,
		Extra:        extra,
	}
}

// Depth returns the number of messages quoted below m.
func (m *Message) Depth() int {
	depth := 0
	for r := m.Reply; r != nil; r = r.Reply {
		depth++
	}
	return depth
}
