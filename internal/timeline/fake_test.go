package timeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lalith-99/echosync/internal/events"
	"github.com/lalith-99/echosync/internal/models"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func msg(id, channel string, minute int) models.Message {
	return models.Message{
		ID:        id,
		ChannelID: channel,
		AuthorID:  "u-other",
		Content:   "message " + id,
		CreatedAt: base.Add(time.Duration(minute) * time.Minute),
		Version:   1,
	}
}

func ids(ms []models.Message) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

// fakeSource is an in-memory DataSource with hooks for failures and for
// holding responses until the test releases them.
type fakeSource struct {
	mu sync.Mutex

	messages  map[string][]models.Message
	reactions map[string]models.ReactionSummary
	nextID    int

	fetchErr    error
	createErr   error
	updateErr   error
	reactionErr error

	// gate, when set for a channel, blocks FetchMessages until closed.
	gate map[string]chan struct{}

	fetches   []PageQuery
	updates   []string
	deletes   []string
	toggles   []string
	reactFets int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		messages:  make(map[string][]models.Message),
		reactions: make(map[string]models.ReactionSummary),
		gate:      make(map[string]chan struct{}),
	}
}

func (f *fakeSource) add(ms ...models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range ms {
		f.messages[m.ChannelID] = append(f.messages[m.ChannelID], m)
	}
}

func (f *fakeSource) FetchMessages(ctx context.Context, channelID string, q PageQuery) (Page, error) {
	f.mu.Lock()
	gate := f.gate[channelID]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Page{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, q)
	if f.fetchErr != nil {
		return Page{}, f.fetchErr
	}

	var matching []models.Message
	for _, m := range f.messages[channelID] {
		if m.ParentID != q.ParentID {
			continue
		}
		if q.Before != nil {
			c := models.Message{ID: q.Before.ID, CreatedAt: q.Before.CreatedAt}
			if !m.Less(&c) {
				continue
			}
		}
		matching = append(matching, m)
	}
	// Newest first, like the server.
	sort.Slice(matching, func(i, j int) bool { return matching[j].Less(&matching[i]) })
	page := Page{}
	if len(matching) > q.Limit {
		page.HasMore = true
		matching = matching[:q.Limit]
	}
	page.Messages = matching
	return page, nil
}

func (f *fakeSource) CreateMessage(_ context.Context, channelID string, d Draft) (models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return models.Message{}, f.createErr
	}
	f.nextID++
	m := models.Message{
		ID:          fmt.Sprintf("srv-%d", f.nextID),
		ChannelID:   channelID,
		AuthorID:    "u-me",
		Content:     d.Content,
		ParentID:    d.ParentID,
		Attachments: d.Attachments,
		CreatedAt:   base.Add(24 * time.Hour).Add(time.Duration(f.nextID) * time.Second),
		ClientToken: d.ClientToken,
		Version:     1,
	}
	f.messages[channelID] = append(f.messages[channelID], m)
	return m, nil
}

func (f *fakeSource) UpdateMessage(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, id)
	return f.updateErr
}

func (f *fakeSource) DeleteMessage(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	return nil
}

func (f *fakeSource) TogglePin(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggles = append(f.toggles, "pin:"+id)
	return nil
}

func (f *fakeSource) ToggleReaction(_ context.Context, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggles = append(f.toggles, emoji+":"+messageID)
	summary := f.reactions[messageID]
	if summary == nil {
		summary = models.ReactionSummary{}
	}
	rc := summary[emoji]
	if rc.Count > 0 {
		delete(summary, emoji)
	} else {
		summary[emoji] = models.ReactionCount{Count: 1, UserIDs: []string{"u-me"}}
	}
	f.reactions[messageID] = summary
	return nil
}

func (f *fakeSource) FetchReactionSummary(_ context.Context, messageID string) (models.ReactionSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactFets++
	if f.reactionErr != nil {
		return nil, f.reactionErr
	}
	return f.reactions[messageID].Clone(), nil
}

var errUnavailable = errors.New("service unavailable")

// fakeEvents hands out one buffered channel per subscription.
type fakeEvents struct {
	mu         sync.Mutex
	subs       map[string]chan events.Envelope
	subscribes int
	err        error
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{subs: make(map[string]chan events.Envelope)}
}

func (f *fakeEvents) Subscribe(_ context.Context, channelID string) (<-chan events.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan events.Envelope, 16)
	f.subs[channelID] = ch
	return ch, nil
}

func (f *fakeEvents) subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes
}

func (f *fakeEvents) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// drop closes the channel's current stream, as a lost connection does.
func (f *fakeEvents) drop(channelID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	close(f.subs[channelID])
	delete(f.subs, channelID)
}

func (f *fakeEvents) send(channelID string, ev events.Event) {
	env, err := events.Encode(ev)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	ch := f.subs[channelID]
	f.mu.Unlock()
	ch <- env
}
