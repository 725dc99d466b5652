package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/echosync/internal/models"
)

// Every method takes ctx first: a cancelled request cancels its queries.
//
// Lookups return nil, nil when the row does not exist, and lists return an
// empty slice (never nil) so JSON encodes [] rather than null.
//
// Workspace-owned rows (users, channels) are always queried with the
// caller's workspaceID, taken from the JWT. A guessed channel UUID from
// another workspace simply matches nothing.

var (
	// ErrNestedThread rejects a reply whose parent is itself a reply.
	ErrNestedThread = errors.New("threads are one level deep")
	// ErrParentNotFound rejects a reply to a message not in the channel.
	ErrParentNotFound = errors.New("parent message not found")
)

type WorkspaceRepository interface {
	Create(ctx context.Context, name string) (*models.Workspace, error)
}

type UserRepository interface {
	Create(ctx context.Context, workspaceID uuid.UUID, email, displayName, passwordHash string) (*models.User, error)

	// GetByID returns a user by id, scoped to the workspace.
	GetByID(ctx context.Context, workspaceID, userID uuid.UUID) (*models.User, error)

	// GetByEmail looks a user up across workspaces; used by login.
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

type ChannelRepository interface {
	Create(ctx context.Context, workspaceID uuid.UUID, name, description string, isPrivate bool) (*models.Channel, error)
	GetByID(ctx context.Context, workspaceID, channelID uuid.UUID) (*models.Channel, error)

	// ListByWorkspace returns the workspace's channels, newest first.
	ListByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]models.Channel, error)
}

// MembershipRepository handles who belongs to which channel.
type MembershipRepository interface {
	// AddMember is idempotent: joining twice is not an error.
	AddMember(ctx context.Context, channelID, userID uuid.UUID, role string) error
	RemoveMember(ctx context.Context, channelID, userID uuid.UUID) error
	ListMembers(ctx context.Context, channelID uuid.UUID) ([]models.ChannelMember, error)

	// IsMember is the hot-path check before every send and subscribe.
	IsMember(ctx context.Context, channelID, userID uuid.UUID) (bool, error)
}

// Cursor is a keyset position: messages strictly older than (CreatedAt, ID).
type Cursor struct {
	ID        uuid.UUID
	CreatedAt time.Time
}

type ListQuery struct {
	// ParentID lists a thread's replies; nil lists top-level messages.
	ParentID *uuid.UUID
	Before   *Cursor
	Limit    int
}

type NewMessage struct {
	ChannelID   uuid.UUID
	UserID      uuid.UUID
	Content     string
	ParentID    *uuid.UUID
	ClientToken string
	Attachments []models.Attachment
}

// MessageRepository handles message persistence. Every mutation bumps the
// row's version.
type MessageRepository interface {
	// Create inserts the message and its attachments. A reply also updates
	// its parent's thread counters in the same transaction; replying to a
	// reply returns ErrNestedThread.
	Create(ctx context.Context, m NewMessage) (*models.Message, error)

	GetByID(ctx context.Context, messageID uuid.UUID) (*models.Message, error)

	// ListByChannel returns up to q.Limit messages newest first, and whether
	// older ones exist.
	ListByChannel(ctx context.Context, channelID uuid.UUID, q ListQuery) ([]models.Message, bool, error)

	// UpdateContent sets new content and the edited flag.
	UpdateContent(ctx context.Context, messageID uuid.UUID, content string) (*models.Message, error)

	// TogglePin flips the pinned flag.
	TogglePin(ctx context.Context, messageID uuid.UUID) (*models.Message, error)

	// Delete removes the message, and its replies when it is a thread
	// parent. The message comes first in the result. Deleting a reply
	// decrements the parent's reply count. A missing message returns nil.
	Delete(ctx context.Context, messageID uuid.UUID) ([]Deleted, error)
}

// Deleted identifies a removed message and the version its tombstone
// covers.
type Deleted struct {
	ID      string
	Version int64
}

// ReactionRepository stores one row per (message, user, emoji).
type ReactionRepository interface {
	// Toggle adds the reaction if absent and removes it if present, as a
	// single transaction. It reports whether the reaction is now present.
	Toggle(ctx context.Context, messageID, userID uuid.UUID, emoji string) (bool, error)

	Summary(ctx context.Context, messageID uuid.UUID) (models.ReactionSummary, error)
}

// FileRepository lists attachments without loading their messages.
type FileRepository interface {
	// ListByChannel returns the channel's files, newest first.
	ListByChannel(ctx context.Context, channelID uuid.UUID, limit int) ([]models.File, error)
}

// SearchRepository matches a case-insensitive substring across the
// workspace. Only channels the user can read are searched: public ones and
// private ones they belong to.
type SearchRepository interface {
	Messages(ctx context.Context, workspaceID, userID uuid.UUID, query string, limit int) ([]models.Message, error)
	Channels(ctx context.Context, workspaceID, userID uuid.UUID, query string, limit int) ([]models.Channel, error)
	Files(ctx context.Context, workspaceID, userID uuid.UUID, query string, limit int) ([]models.File, error)
}
