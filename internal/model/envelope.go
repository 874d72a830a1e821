package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EnvelopeType tags the payload carried by an Envelope.
type EnvelopeType string

// Envelope types exchanged with the backend.
const (
	EnvelopeInit    EnvelopeType = "init"
	EnvelopePing    EnvelopeType = "ping"
	EnvelopeMessage EnvelopeType = "message"
)

// ErrMalformedEnvelope is returned when a frame cannot be decoded into an Envelope.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope is one websocket frame. Which payload field is set depends on Type:
// init carries User and Config, ping carries nothing, message carries Message.
type Envelope struct {
	Bot      string          `json:"bot"`
	Platform string          `json:"platform"`
	Type     EnvelopeType    `json:"type"`
	User     *User           `json:"user,omitempty"`
	Config   json.RawMessage `json:"config,omitempty"`
	Message  *Message        `json:"message,omitempty"`
}

// NewInitEnvelope builds the handshake envelope sent once the platform session is ready.
func NewInitEnvelope(platform string, user User, config json.RawMessage) Envelope {
	return Envelope{
		Bot:      user.Username,
		Platform: platform,
		Type:     EnvelopeInit,
		User:     &user,
		Config:   config,
	}
}

// NewPingEnvelope builds a heartbeat envelope.
func NewPingEnvelope(platform, bot string) Envelope {
	return Envelope{
		Bot:      bot,
		Platform: platform,
		Type:     EnvelopePing,
	}
}

// NewMessageEnvelope wraps a canonical message.
func NewMessageEnvelope(platform, bot string, msg *Message) Envelope {
	return Envelope{
		Bot:      bot,
		Platform: platform,
		Type:     EnvelopeMessage,
		Message:  msg,
	}
}

// DecodeEnvelope parses one frame received from the backend. Envelopes of unknown
// type decode successfully; a message envelope without a message does not.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}
	if env.Type == EnvelopeMessage && env.Message == nil {
		return nil, fmt.Errorf("%w: message envelope without message", ErrMalformedEnvelope)
	}
	return &env, nil
}
