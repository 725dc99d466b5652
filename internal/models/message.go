package models

import (
	"slices"
	"time"
)

// Message is a single chat message. IDs are opaque strings so the same type
// serves the server (uuid columns) and the client (which also holds
// provisional ids for optimistic sends).
//
// Version increases on every server-side mutation of the row. Clients use it
// to drop stale updates and to decide whether a delete absorbs a late event.
type Message struct {
	ID               string          `json:"id"`
	ChannelID        string          `json:"channel_id"`
	AuthorID         string          `json:"author_id"`
	Content          string          `json:"content"`
	CreatedAt        time.Time       `json:"created_at"`
	Edited           bool            `json:"is_edited"`
	Pinned           bool            `json:"is_pinned"`
	ParentID         string          `json:"parent_message_id,omitempty"`
	IsThreadParent   bool            `json:"is_thread_parent"`
	ThreadReplyCount int             `json:"thread_reply_count"`
	Attachments      []Attachment    `json:"attachments,omitempty"`
	Reactions        ReactionSummary `json:"reactions,omitempty"`
	Version          int64           `json:"version"`

	// ClientToken is the correlation token supplied by the sender; the
	// server echoes it on message.new so the sender can match its
	// optimistic copy.
	ClientToken string `json:"client_token,omitempty"`

	// Pending marks a local optimistic copy awaiting confirmation.
	Pending bool `json:"pending,omitempty"`
}

// Less orders messages by creation time, ties broken by id.
func (m *Message) Less(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

// Clone returns a deep copy; slices and the reaction map are not shared.
func (m Message) Clone() Message {
	m.Attachments = slices.Clone(m.Attachments)
	m.Reactions = m.Reactions.Clone()
	return m
}

// Attachment is file metadata; the bytes live in external file storage.
type Attachment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	URL         string `json:"url"`
}

// File is an attachment listed on its own, with the message it belongs to.
type File struct {
	Attachment
	MessageID string    `json:"message_id"`
	ChannelID string    `json:"channel_id"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ReactionSummary maps an emoji to the users who reacted with it.
type ReactionSummary map[string]ReactionCount

type ReactionCount struct {
	Count   int      `json:"count"`
	UserIDs []string `json:"user_ids"`
}

func (s ReactionSummary) Clone() ReactionSummary {
	if s == nil {
		return nil
	}
	out := make(ReactionSummary, len(s))
	for emoji, rc := range s {
		out[emoji] = ReactionCount{Count: rc.Count, UserIDs: slices.Clone(rc.UserIDs)}
	}
	return out
}

// MessagePatch is a partial message: the id plus whichever fields changed.
// Nil pointers, a nil Attachments slice and a nil Reactions map mean
// "not present" and leave the existing value alone.
type MessagePatch struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Version   int64  `json:"version,omitempty"`

	Content          *string         `json:"content,omitempty"`
	Edited           *bool           `json:"is_edited,omitempty"`
	Pinned           *bool           `json:"is_pinned,omitempty"`
	IsThreadParent   *bool           `json:"is_thread_parent,omitempty"`
	ThreadReplyCount *int            `json:"thread_reply_count,omitempty"`
	Attachments      []Attachment    `json:"attachments,omitempty"`
	Reactions        ReactionSummary `json:"reactions,omitempty"`
}

// ApplyTo merges the present fields into m. Reaction entries merge per
// emoji; an entry with a zero count removes that emoji.
func (p MessagePatch) ApplyTo(m *Message) {
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.Edited != nil {
		m.Edited = *p.Edited
	}
	if p.Pinned != nil {
		m.Pinned = *p.Pinned
	}
	if p.IsThreadParent != nil {
		m.IsThreadParent = *p.IsThreadParent
	}
	if p.ThreadReplyCount != nil {
		m.ThreadReplyCount = *p.ThreadReplyCount
	}
	if p.Attachments != nil {
		m.Attachments = slices.Clone(p.Attachments)
	}
	if p.Reactions != nil {
		if m.Reactions == nil {
			m.Reactions = ReactionSummary{}
		}
		for emoji, rc := range p.Reactions {
			if rc.Count <= 0 {
				delete(m.Reactions, emoji)
				continue
			}
			m.Reactions[emoji] = ReactionCount{Count: rc.Count, UserIDs: slices.Clone(rc.UserIDs)}
		}
	}
	if p.Version > m.Version {
		m.Version = p.Version
	}
}

// Merge folds a later patch for the same message into p.
func (p MessagePatch) Merge(later MessagePatch) MessagePatch {
	if later.Version != 0 && later.Version < p.Version {
		later, p = p, later
	}
	out := p
	if later.Content != nil {
		out.Content = later.Content
	}
	if later.Edited != nil {
		out.Edited = later.Edited
	}
	if later.Pinned != nil {
		out.Pinned = later.Pinned
	}
	if later.IsThreadParent != nil {
		out.IsThreadParent = later.IsThreadParent
	}
	if later.ThreadReplyCount != nil {
		out.ThreadReplyCount = later.ThreadReplyCount
	}
	if later.Attachments != nil {
		out.Attachments = later.Attachments
	}
	if later.Reactions != nil {
		merged := out.Reactions.Clone()
		if merged == nil {
			merged = ReactionSummary{}
		}
		for emoji, rc := range later.Reactions {
			merged[emoji] = rc
		}
		out.Reactions = merged
	}
	if later.Version > out.Version {
		out.Version = later.Version
	}
	return out
}
