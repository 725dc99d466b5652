package timeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/lalith-99/echosync/internal/models"
	"go.uber.org/zap"
)

// Position is the last message a user has seen in a channel. The
// timestamp lets positions be compared without the messages at hand.
type Position struct {
	MessageID string    `json:"message_id"`
	CreatedAt time.Time `json:"created_at"`
}

func PositionOf(m models.Message) Position {
	return Position{MessageID: m.ID, CreatedAt: m.CreatedAt}
}

func (p Position) before(o Position) bool {
	if !p.CreatedAt.Equal(o.CreatedAt) {
		return p.CreatedAt.Before(o.CreatedAt)
	}
	return p.MessageID < o.MessageID
}

// PositionStore is durable client-local storage, keyed per (user, channel).
// It may be shared by several processes; writes are last-write-wins.
type PositionStore interface {
	LoadPosition(userID, channelID string) (Position, bool, error)
	SavePosition(userID, channelID string, p Position) error
}

// ReadTracker records read positions for one user. Positions only move
// forward.
type ReadTracker struct {
	mu      sync.Mutex
	userID  string
	backend PositionStore
	logger  *zap.Logger
}

func NewReadTracker(userID string, backend PositionStore, logger *zap.Logger) *ReadTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReadTracker{userID: userID, backend: backend, logger: logger}
}

// LastRead returns the stored position's message id. Storage errors are
// logged and read as "nothing read": the position is advisory.
func (t *ReadTracker) LastRead(channelID string) (string, bool) {
	p, ok, err := t.backend.LoadPosition(t.userID, channelID)
	if err != nil {
		t.logger.Warn("load read position failed", zap.String("channel_id", channelID), zap.Error(err))
		return "", false
	}
	if !ok {
		return "", false
	}
	return p.MessageID, true
}

// MarkRead stores p unless the stored position is already at or past it.
// The stored value is re-read on every call so a newer write from another
// process is never rolled back.
func (t *ReadTracker) MarkRead(channelID string, p Position) (bool, error) {
	if p.MessageID == "" {
		return false, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	current, ok, err := t.backend.LoadPosition(t.userID, channelID)
	if err != nil {
		return false, fmt.Errorf("load read position: %w", err)
	}
	if ok && !current.before(p) {
		return false, nil
	}
	if err := t.backend.SavePosition(t.userID, channelID, p); err != nil {
		return false, fmt.Errorf("save read position: %w", err)
	}
	return true, nil
}

// UnreadBoundary returns the index of the first message after lastReadID.
// ok is false when lastReadID is empty, not among messages, or the last one.
func UnreadBoundary(messages []models.Message, lastReadID string) (int, bool) {
	if lastReadID == "" {
		return 0, false
	}
	for i, m := range messages {
		if m.ID == lastReadID {
			if i == len(messages)-1 {
				return 0, false
			}
			return i + 1, true
		}
	}
	return 0, false
}

// MemoryPositions is an in-process PositionStore.
type MemoryPositions struct {
	mu sync.Mutex
	m  map[string]Position
}

func NewMemoryPositions() *MemoryPositions {
	return &MemoryPositions{m: make(map[string]Position)}
}

func (s *MemoryPositions) LoadPosition(userID, channelID string) (Position, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.m[userID+"/"+channelID]
	return p, ok, nil
}

func (s *MemoryPositions) SavePosition(userID, channelID string, p Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[userID+"/"+channelID] = p
	return nil
}
