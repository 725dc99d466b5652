package timeline

import (
	"math"
	"sort"
	"sync"

	"github.com/lalith-99/echosync/internal/models"
	"go.uber.org/zap"
)

// Store is the ordered in-memory view of one scope's messages, sorted by
// (CreatedAt, ID) with lookup by id. None of its operations fail: bad input
// is logged and dropped.
//
// Besides the visible messages it remembers tombstones for removed ids and
// partial updates that arrived before the message itself.
type Store struct {
	mu sync.RWMutex

	order []*models.Message
	byID  map[string]*models.Message

	// id -> highest version covered by a delete
	tombstones map[string]int64
	// id -> fields from updates that beat their create
	partials map[string]models.MessagePatch
	// correlation token -> provisional id of an optimistic send
	pending map[string]string

	logger *zap.Logger
}

func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		byID:       make(map[string]*models.Message),
		tombstones: make(map[string]int64),
		partials:   make(map[string]models.MessagePatch),
		pending:    make(map[string]string),
		logger:     logger,
	}
}

// Upsert inserts m at its ordered position, or merges it into the existing
// entry with the same id. It reports whether the visible state changed.
//
// An incoming copy older than what is held only contributes fields the
// held copy lacks. Upserts for ids deleted at an equal or newer version
// are dropped.
func (s *Store) Upsert(m models.Message) bool {
	if m.ID == "" {
		s.logger.Warn("discarding message without id", zap.String("channel_id", m.ChannelID))
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(m)
}

func (s *Store) upsertLocked(m models.Message) bool {
	if s.absorbedLocked(m.ID, m.Version) {
		s.logger.Debug("dropping upsert for deleted message",
			zap.String("message_id", m.ID), zap.Int64("version", m.Version))
		return false
	}

	m = m.Clone()
	if p, ok := s.partials[m.ID]; ok {
		delete(s.partials, m.ID)
		if p.Version == 0 || p.Version >= m.Version {
			p.ApplyTo(&m)
		}
	}

	existing, ok := s.byID[m.ID]
	if !ok {
		s.insertLocked(&m)
		return true
	}

	before := existing.Clone()
	if m.Version < existing.Version {
		// Stale copy: only fill what the newer one is missing.
		if existing.Reactions == nil && m.Reactions != nil {
			existing.Reactions = m.Reactions
		}
		if existing.Attachments == nil && m.Attachments != nil {
			existing.Attachments = m.Attachments
		}
		return !sameMessage(before, *existing)
	}

	reactions, attachments := existing.Reactions, existing.Attachments
	if m.Reactions != nil {
		reactions = m.Reactions
	}
	if m.Attachments != nil {
		attachments = m.Attachments
	}
	reposition := !m.CreatedAt.Equal(existing.CreatedAt)
	*existing = m
	existing.Reactions = reactions
	existing.Attachments = attachments
	if reposition {
		s.removeFromOrderLocked(existing.ID)
		s.insertLocked(existing)
	}
	return !sameMessage(before, *existing)
}

// Apply merges a partial update. When the message is not held yet the
// fields are kept and folded in once the full message arrives.
func (s *Store) Apply(p models.MessagePatch) bool {
	if p.ID == "" {
		s.logger.Warn("discarding patch without id", zap.String("channel_id", p.ChannelID))
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.absorbedLocked(p.ID, p.Version) {
		return false
	}
	existing, ok := s.byID[p.ID]
	if !ok {
		if prev, ok := s.partials[p.ID]; ok {
			p = prev.Merge(p)
		}
		s.partials[p.ID] = p
		return false
	}
	if p.Version != 0 && p.Version < existing.Version {
		return false
	}
	before := existing.Clone()
	p.ApplyTo(existing)
	return !sameMessage(before, *existing)
}

// SetReactions replaces the reaction summary of a held message. It is a
// no-op when the message is not in the store.
func (s *Store) SetReactions(id string, summary models.ReactionSummary) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byID[id]
	if !ok {
		return false
	}
	if summary == nil {
		summary = models.ReactionSummary{}
	}
	before := existing.Clone()
	existing.Reactions = summary.Clone()
	return !sameMessage(before, *existing)
}

// Remove deletes id and leaves a tombstone. version is the version the
// delete supersedes; zero means every version. Removing an id that is not
// held is not an error: deletes can overtake their create.
func (s *Store) Remove(id string, version int64) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id, version)
}

func (s *Store) removeLocked(id string, version int64) bool {
	existing, held := s.byID[id]

	tomb := version
	switch {
	case version == 0:
		tomb = math.MaxInt64
	case held && existing.Version > tomb:
		tomb = existing.Version
	}
	if prev, ok := s.tombstones[id]; !ok || tomb > prev {
		s.tombstones[id] = tomb
	}
	delete(s.partials, id)

	if !held {
		return false
	}
	delete(s.byID, id)
	s.removeFromOrderLocked(id)
	if existing.ClientToken != "" && s.pending[existing.ClientToken] == id {
		delete(s.pending, existing.ClientToken)
	}
	return true
}

// Discard drops a message without leaving a tombstone. Used to roll back
// optimistic sends, whose provisional ids are never reused.
func (s *Store) Discard(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byID[id]
	if !ok {
		return false
	}
	delete(s.byID, id)
	s.removeFromOrderLocked(id)
	if existing.ClientToken != "" {
		delete(s.pending, existing.ClientToken)
	}
	return true
}

// AddPending inserts an optimistic message keyed by its correlation token.
func (s *Store) AddPending(m models.Message) bool {
	if m.ID == "" || m.ClientToken == "" {
		return false
	}
	m.Pending = true
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[m.ClientToken] = m.ID
	return s.upsertLocked(m)
}

// Confirm swaps the optimistic copy for token with the confirmed message.
// It reports whether a pending copy was found; either way the confirmed
// message is upserted, so repeated confirmations converge on one entry.
func (s *Store) Confirm(token string, confirmed models.Message) (found bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if provisional, ok := s.pending[token]; ok {
		delete(s.pending, token)
		if provisional != confirmed.ID {
			if old, held := s.byID[provisional]; held {
				// Keep whatever the user saw until the server copy says
				// otherwise.
				if confirmed.Content == "" {
					confirmed.Content = old.Content
				}
				if confirmed.Attachments == nil {
					confirmed.Attachments = old.Attachments
				}
				delete(s.byID, provisional)
				s.removeFromOrderLocked(provisional)
			}
		}
		found = true
	}
	confirmed.Pending = false
	s.upsertLocked(confirmed)
	return found
}

// PendingID returns the provisional id for a correlation token.
func (s *Store) PendingID(token string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pending[token]
	return id, ok
}

func (s *Store) Get(id string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return models.Message{}, false
	}
	return m.Clone(), true
}

func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[id]
	return ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Snapshot returns a deep copy of the ordered messages.
func (s *Store) Snapshot() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, len(s.order))
	for i, m := range s.order {
		out[i] = m.Clone()
	}
	return out
}

// Oldest returns the first confirmed message, the pagination cursor.
func (s *Store) Oldest() (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.order {
		if !m.Pending {
			return m.Clone(), true
		}
	}
	return models.Message{}, false
}

// Latest returns the newest confirmed message.
func (s *Store) Latest() (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		if !s.order[i].Pending {
			return s.order[i].Clone(), true
		}
	}
	return models.Message{}, false
}

func (s *Store) absorbedLocked(id string, version int64) bool {
	tomb, ok := s.tombstones[id]
	return ok && version <= tomb
}

func (s *Store) insertLocked(m *models.Message) {
	i := sort.Search(len(s.order), func(i int) bool { return m.Less(s.order[i]) })
	s.order = append(s.order, nil)
	copy(s.order[i+1:], s.order[i:])
	s.order[i] = m
	s.byID[m.ID] = m
}

func (s *Store) removeFromOrderLocked(id string) {
	for i, m := range s.order {
		if m.ID == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

func sameMessage(a, b models.Message) bool {
	if a.ID != b.ID || a.ChannelID != b.ChannelID || a.AuthorID != b.AuthorID ||
		a.Content != b.Content || !a.CreatedAt.Equal(b.CreatedAt) ||
		a.Edited != b.Edited || a.Pinned != b.Pinned || a.ParentID != b.ParentID ||
		a.IsThreadParent != b.IsThreadParent || a.ThreadReplyCount != b.ThreadReplyCount ||
		a.Version != b.Version || a.ClientToken != b.ClientToken || a.Pending != b.Pending {
		return false
	}
	if len(a.Attachments) != len(b.Attachments) || len(a.Reactions) != len(b.Reactions) {
		return false
	}
	for i := range a.Attachments {
		if a.Attachments[i] != b.Attachments[i] {
			return false
		}
	}
	for emoji, rc := range a.Reactions {
		other, ok := b.Reactions[emoji]
		if !ok || other.Count != rc.Count || len(other.UserIDs) != len(rc.UserIDs) {
			return false
		}
		for i := range rc.UserIDs {
			if rc.UserIDs[i] != other.UserIDs[i] {
				return false
			}
		}
	}
	return true
}
