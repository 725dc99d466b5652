package timeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lalith-99/echosync/internal/events"
	"github.com/lalith-99/echosync/internal/models"
)

// Cursor identifies a position in a channel's history. The id breaks ties
// between messages sharing a timestamp.
type Cursor struct {
	ID        string
	CreatedAt time.Time
}

func CursorOf(m models.Message) Cursor {
	return Cursor{ID: m.ID, CreatedAt: m.CreatedAt}
}

type PageQuery struct {
	// Before restricts the page to messages strictly older than the cursor.
	Before *Cursor
	Limit  int
	// ParentID selects a thread's replies instead of top-level messages.
	ParentID string
}

// Page is one batch from the data source, newest first.
type Page struct {
	Messages []models.Message
	HasMore  bool
}

// Draft is the content of a message being sent.
type Draft struct {
	Content     string
	ParentID    string
	Attachments []models.Attachment
	ClientToken string
}

// DataSource is the persistence collaborator.
type DataSource interface {
	FetchMessages(ctx context.Context, channelID string, q PageQuery) (Page, error)
	CreateMessage(ctx context.Context, channelID string, d Draft) (models.Message, error)
	UpdateMessage(ctx context.Context, id, content string) error
	DeleteMessage(ctx context.Context, id string) error
	TogglePin(ctx context.Context, id string) error
	ToggleReaction(ctx context.Context, messageID, emoji string) error
	FetchReactionSummary(ctx context.Context, messageID string) (models.ReactionSummary, error)
}

// EventSource delivers the raw event stream for one channel until ctx is
// cancelled. Delivery is at-least-once with no ordering guarantee.
type EventSource interface {
	Subscribe(ctx context.Context, channelID string) (<-chan events.Envelope, error)
}

var (
	ErrForbidden = errors.New("permission denied")
	ErrNotFound  = errors.New("message not found")
	ErrNoChannel = errors.New("no channel open")
	ErrEmpty     = errors.New("message content is empty")
)

// FetchError is a failed read from the data source. Already loaded state
// is kept; the caller may retry.
type FetchError struct {
	Op string
	// MessageID is set when the read was for a single message.
	MessageID string
	Err       error
}

func (e *FetchError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether retrying could help. Permission and not-found
// failures will not change on retry.
func (e *FetchError) Retryable() bool {
	return !errors.Is(e.Err, ErrForbidden) && !errors.Is(e.Err, ErrNotFound) &&
		!errors.Is(e.Err, context.Canceled)
}

// ActionError is a write the data source rejected. Optimistic state has
// been rolled back by the time it is returned.
type ActionError struct {
	Action string
	Err    error
}

func (e *ActionError) Error() string { return fmt.Sprintf("%s failed: %v", e.Action, e.Err) }
func (e *ActionError) Unwrap() error { return e.Err }
