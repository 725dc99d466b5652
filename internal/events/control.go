package events

import (
	"encoding/json"
	"fmt"
)

// Control frames travel over the websocket alongside event envelopes and
// use the same Envelope shape.
const (
	// Client to server.
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"

	// Server to client.
	TypeSubscribed = "subscribed"
	TypeError      = "error"
)

// Error codes carried by TypeError frames.
const (
	CodeInvalidFrame = "invalid_frame"
	CodeForbidden    = "forbidden"
	CodeNotFound     = "not_found"
	CodeInternal     = "internal"
)

// ChannelRef is the payload of subscribe, unsubscribe and subscribed.
type ChannelRef struct {
	ChannelID string `json:"channel_id"`
}

// ErrorFrame reports a rejected control frame.
type ErrorFrame struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	ChannelID string `json:"channel_id,omitempty"`
}

// Control builds a control envelope.
func Control(typ string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", typ, err)
	}
	return Envelope{Type: typ, Data: raw}, nil
}

// IsEvent reports whether typ names one of the four realtime events.
func IsEvent(typ string) bool {
	switch typ {
	case NameMessageNew, NameMessageUpdate, NameMessageDelete, NameReactionUpdate:
		return true
	}
	return false
}
