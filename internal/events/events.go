package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lalith-99/echosync/internal/models"
)

// Event names on the wire.
const (
	NameMessageNew     = "message.new"
	NameMessageUpdate  = "message.update"
	NameMessageDelete  = "message.delete"
	NameReactionUpdate = "reaction.update"
)

var ErrMalformed = errors.New("malformed event")

// Event is one of MessageNew, MessageUpdate, MessageDelete or
// ReactionUpdate. The unexported method closes the set so type switches
// over it can be exhaustive.
type Event interface {
	Name() string
	Channel() string
	isEvent()
}

// MessageNew carries the full message.
type MessageNew struct {
	Message models.Message
}

// MessageUpdate carries the id plus the changed fields.
type MessageUpdate struct {
	Patch models.MessagePatch
}

type MessageDelete struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Version   int64  `json:"version,omitempty"`
}

// ReactionUpdate is a signal only: receivers refetch the summary.
type ReactionUpdate struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
}

func (MessageNew) Name() string     { return NameMessageNew }
func (MessageUpdate) Name() string  { return NameMessageUpdate }
func (MessageDelete) Name() string  { return NameMessageDelete }
func (ReactionUpdate) Name() string { return NameReactionUpdate }

func (e MessageNew) Channel() string     { return e.Message.ChannelID }
func (e MessageUpdate) Channel() string  { return e.Patch.ChannelID }
func (e MessageDelete) Channel() string  { return e.ChannelID }
func (e ReactionUpdate) Channel() string { return e.ChannelID }

func (MessageNew) isEvent()     {}
func (MessageUpdate) isEvent()  {}
func (MessageDelete) isEvent()  {}
func (ReactionUpdate) isEvent() {}

// Envelope is the wire form shared by redis topics and websocket frames.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode wraps an event in an envelope.
func Encode(ev Event) (Envelope, error) {
	var payload any
	switch e := ev.(type) {
	case MessageNew:
		payload = e.Message
	case MessageUpdate:
		payload = e.Patch
	case MessageDelete:
		payload = e
	case ReactionUpdate:
		payload = e
	default:
		return Envelope{}, fmt.Errorf("encode event: unknown type %T", ev)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", ev.Name(), err)
	}
	return Envelope{Type: ev.Name(), Data: raw}, nil
}

// Decode turns an envelope into a typed event. Unknown names, bad JSON and
// payloads missing their id or channel id all return ErrMalformed.
func Decode(env Envelope) (Event, error) {
	switch env.Type {
	case NameMessageNew:
		var m models.Message
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
		}
		if m.ID == "" || m.ChannelID == "" {
			return nil, fmt.Errorf("%w: %s: missing id or channel_id", ErrMalformed, env.Type)
		}
		return MessageNew{Message: m}, nil

	case NameMessageUpdate:
		var p models.MessagePatch
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
		}
		if p.ID == "" || p.ChannelID == "" {
			return nil, fmt.Errorf("%w: %s: missing id or channel_id", ErrMalformed, env.Type)
		}
		return MessageUpdate{Patch: p}, nil

	case NameMessageDelete:
		var d MessageDelete
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
		}
		if d.ID == "" || d.ChannelID == "" {
			return nil, fmt.Errorf("%w: %s: missing id or channel_id", ErrMalformed, env.Type)
		}
		return d, nil

	case NameReactionUpdate:
		var r ReactionUpdate
		if err := json.Unmarshal(env.Data, &r); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
		}
		if r.MessageID == "" || r.ChannelID == "" {
			return nil, fmt.Errorf("%w: %s: missing message_id or channel_id", ErrMalformed, env.Type)
		}
		return r, nil
	}
	return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, env.Type)
}

// Publisher fans an event out to everyone subscribed to its channel.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Topic is the pub/sub topic for a channel's events.
func Topic(channelID string) string {
	return "channel:" + channelID + ":events"
}
