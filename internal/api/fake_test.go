package api

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/echosync/internal/events"
	"github.com/lalith-99/echosync/internal/models"
	"github.com/lalith-99/echosync/internal/repository"
)

type fakeWorkspaces struct {
	mu    sync.Mutex
	items []models.Workspace
}

func (f *fakeWorkspaces) Create(_ context.Context, name string) (*models.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := models.Workspace{ID: uuid.New(), Name: name, CreatedAt: time.Now()}
	f.items = append(f.items, w)
	return &w, nil
}

type fakeUsers struct {
	mu    sync.Mutex
	items []models.User
}

func (f *fakeUsers) Create(_ context.Context, workspaceID uuid.UUID, email, displayName, hash string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := models.User{
		ID:           uuid.New(),
		WorkspaceID:  workspaceID,
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}
	f.items = append(f.items, u)
	return &u, nil
}

func (f *fakeUsers) GetByID(_ context.Context, workspaceID, userID uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.items {
		if u.ID == userID && u.WorkspaceID == workspaceID {
			return &u, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.items {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, nil
}

type fakeChannels struct {
	mu    sync.Mutex
	items []models.Channel
}

func (f *fakeChannels) Create(_ context.Context, workspaceID uuid.UUID, name, description string, isPrivate bool) (*models.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := models.Channel{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		Name:        name,
		Description: description,
		IsPrivate:   isPrivate,
		CreatedAt:   time.Now(),
	}
	f.items = append(f.items, ch)
	return &ch, nil
}

func (f *fakeChannels) GetByID(_ context.Context, workspaceID, channelID uuid.UUID) (*models.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.items {
		if ch.ID == channelID && ch.WorkspaceID == workspaceID {
			return &ch, nil
		}
	}
	return nil, nil
}

func (f *fakeChannels) ListByWorkspace(_ context.Context, workspaceID uuid.UUID) ([]models.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Channel, 0)
	for _, ch := range f.items {
		if ch.WorkspaceID == workspaceID {
			out = append(out, ch)
		}
	}
	return out, nil
}

type fakeMembers struct {
	mu sync.Mutex
	m  map[[2]uuid.UUID]string
}

func newFakeMembers() *fakeMembers {
	return &fakeMembers{m: make(map[[2]uuid.UUID]string)}
}

func (f *fakeMembers) AddMember(_ context.Context, channelID, userID uuid.UUID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.m[[2]uuid.UUID{channelID, userID}]; !ok {
		f.m[[2]uuid.UUID{channelID, userID}] = role
	}
	return nil
}

func (f *fakeMembers) RemoveMember(_ context.Context, channelID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.m, [2]uuid.UUID{channelID, userID})
	return nil
}

func (f *fakeMembers) ListMembers(_ context.Context, channelID uuid.UUID) ([]models.ChannelMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.ChannelMember, 0)
	for k, role := range f.m {
		if k[0] == channelID {
			out = append(out, models.ChannelMember{ChannelID: k[0], UserID: k[1], Role: role})
		}
	}
	return out, nil
}

func (f *fakeMembers) IsMember(_ context.Context, channelID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.m[[2]uuid.UUID{channelID, userID}]
	return ok, nil
}

// fakeMessages mirrors the postgres store's rules: one-level threads,
// parent counters, version bumps and cascading thread deletes.
type fakeMessages struct {
	mu    sync.Mutex
	items map[string]*models.Message
	clock time.Time
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{
		items: make(map[string]*models.Message),
		clock: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (f *fakeMessages) Create(_ context.Context, nm repository.NewMessage) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var parent *models.Message
	if nm.ParentID != nil {
		parent = f.items[nm.ParentID.String()]
		if parent == nil || parent.ChannelID != nm.ChannelID.String() {
			return nil, repository.ErrParentNotFound
		}
		if parent.ParentID != "" {
			return nil, repository.ErrNestedThread
		}
	}

	f.clock = f.clock.Add(time.Second)
	m := &models.Message{
		ID:          uuid.NewString(),
		ChannelID:   nm.ChannelID.String(),
		AuthorID:    nm.UserID.String(),
		Content:     nm.Content,
		CreatedAt:   f.clock,
		Version:     1,
		ClientToken: nm.ClientToken,
		Attachments: nm.Attachments,
		Reactions:   models.ReactionSummary{},
	}
	if parent != nil {
		m.ParentID = parent.ID
		parent.ThreadReplyCount++
		parent.IsThreadParent = true
		parent.Version++
	}
	f.items[m.ID] = m
	out := m.Clone()
	return &out, nil
}

func (f *fakeMessages) GetByID(_ context.Context, id uuid.UUID) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.items[id.String()]
	if !ok {
		return nil, nil
	}
	out := m.Clone()
	return &out, nil
}

func (f *fakeMessages) ListByChannel(_ context.Context, channelID uuid.UUID, q repository.ListQuery) ([]models.Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parent := ""
	if q.ParentID != nil {
		parent = q.ParentID.String()
	}
	var cursor *models.Message
	if q.Before != nil {
		cursor = &models.Message{ID: q.Before.ID.String(), CreatedAt: q.Before.CreatedAt}
	}

	matched := make([]models.Message, 0)
	for _, m := range f.items {
		if m.ChannelID != channelID.String() || m.ParentID != parent {
			continue
		}
		if cursor != nil && !m.Less(cursor) {
			continue
		}
		matched = append(matched, m.Clone())
	}
	slices.SortFunc(matched, func(a, b models.Message) int {
		if b.Less(&a) {
			return -1
		}
		return 1
	})
	hasMore := len(matched) > q.Limit
	if hasMore {
		matched = matched[:q.Limit]
	}
	return matched, hasMore, nil
}

func (f *fakeMessages) UpdateContent(_ context.Context, id uuid.UUID, content string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.items[id.String()]
	if !ok {
		return nil, nil
	}
	m.Content = content
	m.Edited = true
	m.Version++
	out := m.Clone()
	return &out, nil
}

func (f *fakeMessages) TogglePin(_ context.Context, id uuid.UUID) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.items[id.String()]
	if !ok {
		return nil, nil
	}
	m.Pinned = !m.Pinned
	m.Version++
	out := m.Clone()
	return &out, nil
}

func (f *fakeMessages) Delete(_ context.Context, id uuid.UUID) ([]repository.Deleted, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.items[id.String()]
	if !ok {
		return nil, nil
	}
	deleted := []repository.Deleted{{ID: m.ID, Version: m.Version + 1}}
	for rid, r := range f.items {
		if r.ParentID == m.ID {
			deleted = append(deleted, repository.Deleted{ID: rid, Version: r.Version + 1})
			delete(f.items, rid)
		}
	}
	delete(f.items, m.ID)
	if p := f.items[m.ParentID]; p != nil {
		p.ThreadReplyCount--
		p.IsThreadParent = p.ThreadReplyCount > 0
		p.Version++
	}
	return deleted, nil
}

type fakeReactions struct {
	mu sync.Mutex
	// message id -> emoji -> user ids in reaction order
	m map[uuid.UUID]map[string][]string
}

func newFakeReactions() *fakeReactions {
	return &fakeReactions{m: make(map[uuid.UUID]map[string][]string)}
}

func (f *fakeReactions) Toggle(_ context.Context, messageID, userID uuid.UUID, emoji string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byEmoji := f.m[messageID]
	if byEmoji == nil {
		byEmoji = make(map[string][]string)
		f.m[messageID] = byEmoji
	}
	users := byEmoji[emoji]
	if i := slices.Index(users, userID.String()); i >= 0 {
		byEmoji[emoji] = slices.Delete(users, i, i+1)
		if len(byEmoji[emoji]) == 0 {
			delete(byEmoji, emoji)
		}
		return false, nil
	}
	byEmoji[emoji] = append(users, userID.String())
	return true, nil
}

func (f *fakeReactions) Summary(_ context.Context, messageID uuid.UUID) (models.ReactionSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := models.ReactionSummary{}
	for emoji, users := range f.m[messageID] {
		out[emoji] = models.ReactionCount{Count: len(users), UserIDs: slices.Clone(users)}
	}
	return out, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, ev events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakePublisher) published() []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.events)
}

// fakeFiles lists the attachments held by fakeMessages.
type fakeFiles struct {
	messages *fakeMessages
	err      error
}

func (f *fakeFiles) ListByChannel(_ context.Context, channelID uuid.UUID, limit int) ([]models.File, error) {
	if f.err != nil {
		return nil, f.err
	}
	files := f.messages.files(func(m *models.Message) bool { return m.ChannelID == channelID.String() }, "")
	return files[:min(limit, len(files))], nil
}

func (f *fakeMessages) files(keep func(*models.Message) bool, name string) []models.File {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.File, 0)
	for _, m := range f.items {
		if !keep(m) {
			continue
		}
		for _, a := range m.Attachments {
			if name != "" && !strings.Contains(strings.ToLower(a.Name), name) {
				continue
			}
			out = append(out, models.File{
				Attachment: a,
				MessageID:  m.ID,
				ChannelID:  m.ChannelID,
				AuthorID:   m.AuthorID,
				CreatedAt:  m.CreatedAt,
			})
		}
	}
	slices.SortFunc(out, func(a, b models.File) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out
}

// fakeSearch applies the same visibility rule as the postgres search:
// public channels of the workspace plus private ones the user belongs to.
type fakeSearch struct {
	channels *fakeChannels
	members  *fakeMembers
	messages *fakeMessages
	err      error
}

func (f *fakeSearch) readable(ctx context.Context, workspaceID, userID uuid.UUID) map[string]models.Channel {
	all, _ := f.channels.ListByWorkspace(ctx, workspaceID)
	out := make(map[string]models.Channel)
	for _, ch := range all {
		if ch.IsPrivate {
			if ok, _ := f.members.IsMember(ctx, ch.ID, userID); !ok {
				continue
			}
		}
		out[ch.ID.String()] = ch
	}
	return out
}

func (f *fakeSearch) Messages(ctx context.Context, workspaceID, userID uuid.UUID, query string, limit int) ([]models.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	readable := f.readable(ctx, workspaceID, userID)
	q := strings.ToLower(query)

	f.messages.mu.Lock()
	defer f.messages.mu.Unlock()
	out := make([]models.Message, 0)
	for _, m := range f.messages.items {
		if _, ok := readable[m.ChannelID]; ok && strings.Contains(strings.ToLower(m.Content), q) {
			out = append(out, m.Clone())
		}
	}
	slices.SortFunc(out, func(a, b models.Message) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out[:min(limit, len(out))], nil
}

func (f *fakeSearch) Channels(ctx context.Context, workspaceID, userID uuid.UUID, query string, limit int) ([]models.Channel, error) {
	if f.err != nil {
		return nil, f.err
	}
	q := strings.ToLower(query)
	out := make([]models.Channel, 0)
	for _, ch := range f.readable(ctx, workspaceID, userID) {
		if strings.Contains(strings.ToLower(ch.Name), q) || strings.Contains(strings.ToLower(ch.Description), q) {
			out = append(out, ch)
		}
	}
	slices.SortFunc(out, func(a, b models.Channel) int { return strings.Compare(a.Name, b.Name) })
	return out[:min(limit, len(out))], nil
}

func (f *fakeSearch) Files(ctx context.Context, workspaceID, userID uuid.UUID, query string, limit int) ([]models.File, error) {
	if f.err != nil {
		return nil, f.err
	}
	readable := f.readable(ctx, workspaceID, userID)
	files := f.messages.files(func(m *models.Message) bool {
		_, ok := readable[m.ChannelID]
		return ok
	}, strings.ToLower(query))
	return files[:min(limit, len(files))], nil
}
