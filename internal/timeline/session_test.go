package timeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lalith-99/echosync/internal/events"
	"github.com/lalith-99/echosync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const me = "u-me"

func newTestSession(t *testing.T, src *fakeSource, evs EventSource, positions PositionStore) *Session {
	t.Helper()
	s := NewSession(SessionConfig{
		UserID:    me,
		Source:    src,
		Events:    evs,
		Positions: positions,
		PageSize:  50,
	})
	t.Cleanup(s.Close)
	return s
}

func TestSessionOpenLoadsNewestPage(t *testing.T) {
	src := newFakeSource()
	seed(src, "ch", 60)
	s := newTestSession(t, src, nil, nil)

	require.NoError(t, s.Open(context.Background(), "ch"))

	st := s.State()
	assert.Equal(t, "ch", st.ChannelID)
	assert.False(t, st.Loading)
	assert.NoError(t, st.Err)
	assert.True(t, st.HasMore)
	require.Len(t, st.Messages, 50)
	assert.Equal(t, "m010", st.Messages[0].ID)
	assert.Equal(t, "m059", st.Messages[49].ID)

	// Opening at the bottom reads everything.
	last, ok := s.LastRead("ch")
	require.True(t, ok)
	assert.Equal(t, "m059", last)
}

func TestSessionUnreadBoundaryFromPreviousVisit(t *testing.T) {
	src := newFakeSource()
	seed(src, "ch", 10)
	positions := NewMemoryPositions()
	require.NoError(t, positions.SavePosition(me, "ch", PositionOf(msg("m006", "ch", 6))))
	s := newTestSession(t, src, nil, positions)

	require.NoError(t, s.Open(context.Background(), "ch"))

	st := s.State()
	assert.True(t, st.HasUnread)
	assert.Equal(t, 7, st.UnreadIndex)
}

func TestSessionLoadEarlier(t *testing.T) {
	src := newFakeSource()
	seed(src, "ch", 120)
	s := newTestSession(t, src, nil, nil)
	ctx := context.Background()

	require.NoError(t, s.Open(ctx, "ch"))
	require.NoError(t, s.LoadEarlier(ctx))
	require.NoError(t, s.LoadEarlier(ctx))

	st := s.State()
	assert.False(t, st.HasMore)
	assert.Len(t, st.Messages, 120)

	// Nothing left: no further fetch.
	fetches := len(src.fetches)
	require.NoError(t, s.LoadEarlier(ctx))
	assert.Len(t, src.fetches, fetches)
}

func TestSessionRetryAfterFailedOpen(t *testing.T) {
	src := newFakeSource()
	seed(src, "ch", 3)
	src.fetchErr = errUnavailable
	s := newTestSession(t, src, nil, nil)
	ctx := context.Background()

	err := s.Open(ctx, "ch")
	require.Error(t, err)
	st := s.State()
	assert.Error(t, st.Err)
	assert.Empty(t, st.Messages)

	src.mu.Lock()
	src.fetchErr = nil
	src.mu.Unlock()

	require.NoError(t, s.Retry(ctx))
	st = s.State()
	assert.NoError(t, st.Err)
	assert.Len(t, st.Messages, 3)
}

func TestSessionFailedLoadEarlierKeepsMessages(t *testing.T) {
	src := newFakeSource()
	seed(src, "ch", 60)
	s := newTestSession(t, src, nil, nil)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, "ch"))

	src.mu.Lock()
	src.fetchErr = errUnavailable
	src.mu.Unlock()

	require.Error(t, s.LoadEarlier(ctx))
	st := s.State()
	assert.Error(t, st.Err)
	assert.Len(t, st.Messages, 50)
}

func TestSessionSend(t *testing.T) {
	src := newFakeSource()
	seed(src, "ch", 2)
	s := newTestSession(t, src, nil, nil)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, "ch"))

	sent, err := s.Send(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, "srv-1", sent.ID)

	st := s.State()
	require.Len(t, st.Messages, 3)
	assert.Equal(t, "srv-1", st.Messages[2].ID)
	assert.False(t, st.Messages[2].Pending)

	last, _ := s.LastRead("ch")
	assert.Equal(t, "srv-1", last)
}

func TestSessionSendRollsBackOnFailure(t *testing.T) {
	src := newFakeSource()
	seed(src, "ch", 2)
	src.createErr = errUnavailable
	s := newTestSession(t, src, nil, nil)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, "ch"))

	_, err := s.Send(ctx, "hello")
	var ae *ActionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "send", ae.Action)

	st := s.State()
	assert.Equal(t, []string{"m000", "m001"}, ids(st.Messages))
}

func TestSessionSendValidation(t *testing.T) {
	s := newTestSession(t, newFakeSource(), nil, nil)

	_, err := s.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNoChannel)

	require.NoError(t, s.Open(context.Background(), "ch"))
	_, err = s.Send(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestSessionEditOthersMessageIsForbidden(t *testing.T) {
	src := newFakeSource()
	seed(src, "ch", 1)
	s := newTestSession(t, src, nil, nil)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, "ch"))

	err := s.Edit(ctx, "m000", "hijacked")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, s.Delete(ctx, "m000"), ErrForbidden)

	assert.Empty(t, src.updates)
	assert.Empty(t, src.deletes)
	assert.Equal(t, "message m000", s.State().Messages[0].Content)
}

func TestSessionEditAndDeleteOwnMessage(t *testing.T) {
	src := newFakeSource()
	s := newTestSession(t, src, nil, nil)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, "ch"))

	sent, err := s.Send(ctx, "helo")
	require.NoError(t, err)

	require.NoError(t, s.Edit(ctx, sent.ID, "hello"))
	st := s.State()
	require.Len(t, st.Messages, 1)
	assert.Equal(t, "hello", st.Messages[0].Content)
	assert.True(t, st.Messages[0].Edited)

	require.NoError(t, s.Delete(ctx, sent.ID))
	assert.Empty(t, s.State().Messages)
	assert.Equal(t, []string{sent.ID}, src.deletes)
}

func TestSessionEditFailureIsActionError(t *testing.T) {
	src := newFakeSource()
	s := newTestSession(t, src, nil, nil)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, "ch"))
	sent, err := s.Send(ctx, "original")
	require.NoError(t, err)

	src.mu.Lock()
	src.updateErr = errUnavailable
	src.mu.Unlock()

	err = s.Edit(ctx, sent.ID, "changed")
	var ae *ActionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "original", s.State().Messages[0].Content)
}

func TestSessionReactAndPin(t *testing.T) {
	src := newFakeSource()
	seed(src, "ch", 1)
	s := newTestSession(t, src, nil, nil)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, "ch"))

	require.NoError(t, s.React(ctx, "m000", "👍"))
	got := s.State().Messages[0]
	assert.Equal(t, models.ReactionCount{Count: 1, UserIDs: []string{me}}, got.Reactions["👍"])

	require.NoError(t, s.React(ctx, "m000", "👍"))
	assert.Empty(t, s.State().Messages[0].Reactions)

	require.NoError(t, s.Pin(ctx, "m000"))
	assert.True(t, s.State().Messages[0].Pinned)

	assert.ErrorIs(t, s.React(ctx, "ghost", "👍"), ErrNotFound)
}

func TestSessionSearchFiltersLiveStore(t *testing.T) {
	src := newFakeSource()
	for i, content := range []string{"deploy done", "lunch?", "redeploying now"} {
		m := msg(string(rune('a'+i)), "ch", i)
		m.Content = content
		src.add(m)
	}
	s := newTestSession(t, src, nil, nil)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, "ch"))

	s.Search("deploy")
	st := s.State()
	assert.Equal(t, []string{"a", "c"}, ids(st.Messages))
	assert.Equal(t, 3, st.Total)

	// New matches show up without searching again.
	_, err := s.Send(ctx, "deploy again")
	require.NoError(t, err)
	assert.Len(t, s.State().Messages, 3)

	s.Search("")
	assert.Len(t, s.State().Messages, 4)
}

func TestSessionDiscardsStaleHistory(t *testing.T) {
	src := newFakeSource()
	seed(src, "slow", 5)
	src.add(msg("fast-1", "fast", 1))
	gate := make(chan struct{})
	src.gate["slow"] = gate

	s := newTestSession(t, src, nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, s.Open(ctx, "slow"))
	}()
	require.Eventually(t, func() bool {
		st := s.State()
		return st.ChannelID == "slow" && st.Loading
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Open(ctx, "fast"))
	close(gate)
	wg.Wait()

	st := s.State()
	assert.Equal(t, "fast", st.ChannelID)
	assert.Equal(t, []string{"fast-1"}, ids(st.Messages))
}

func TestSessionEventsWhileScrolledUp(t *testing.T) {
	src := newFakeSource()
	seed(src, "ch", 3)
	evs := newFakeEvents()
	s := newTestSession(t, src, evs, nil)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, "ch"))

	s.Scroll(500)
	assert.Equal(t, ScrolledUp, s.State().Scroll)

	evs.send("ch", events.MessageNew{Message: msg("m100", "ch", 100)})
	require.Eventually(t, func() bool {
		st := s.State()
		return st.Total == 4 && st.NewMessages == 1
	}, time.Second, 5*time.Millisecond)

	st := s.State()
	assert.Equal(t, 1, st.NewMessages)
	assert.Equal(t, ScrolledUp, st.Scroll)
	last, _ := s.LastRead("ch")
	assert.Equal(t, "m002", last, "arrivals while scrolled up stay unread")

	s.JumpToLatest()
	st = s.State()
	assert.Equal(t, AtBottom, st.Scroll)
	assert.Zero(t, st.NewMessages)
	last, _ = s.LastRead("ch")
	assert.Equal(t, "m100", last)
}

func TestSessionEventsAtBottomMarkRead(t *testing.T) {
	src := newFakeSource()
	seed(src, "ch", 1)
	evs := newFakeEvents()

	var mu sync.Mutex
	var autoScrolls int
	s := NewSession(SessionConfig{
		UserID: me, Source: src, Events: evs,
		OnChange: func(st ViewState) {
			if st.AutoScroll {
				mu.Lock()
				autoScrolls++
				mu.Unlock()
			}
		},
	})
	t.Cleanup(s.Close)
	require.NoError(t, s.Open(context.Background(), "ch"))

	evs.send("ch", events.MessageNew{Message: msg("m9", "ch", 9)})

	// One for the initial load, one for the arrival.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return autoScrolls == 2
	}, time.Second, 5*time.Millisecond)

	last, _ := s.LastRead("ch")
	assert.Equal(t, "m9", last)
}

func TestSessionThreadDoesNotMoveReadPosition(t *testing.T) {
	src := newFakeSource()
	parent := msg("p", "ch", 0)
	reply := msg("r1", "ch", 5)
	reply.ParentID = "p"
	src.add(parent, reply)
	s := newTestSession(t, src, nil, nil)
	ctx := context.Background()

	require.NoError(t, s.OpenThread(ctx, "ch", "p"))
	st := s.State()
	assert.Equal(t, "p", st.ParentID)
	assert.Equal(t, []string{"r1"}, ids(st.Messages))

	sent, err := s.Send(ctx, "me too")
	require.NoError(t, err)
	assert.Equal(t, "p", sent.ParentID)

	_, ok := s.LastRead("ch")
	assert.False(t, ok)
}

func TestSessionHandleEventWithoutTransport(t *testing.T) {
	src := newFakeSource()
	seed(src, "ch", 2)
	s := newTestSession(t, src, nil, nil)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, "ch"))

	s.HandleEvent(ctx, events.MessageDelete{ID: "m000", ChannelID: "ch", Version: 1})
	s.HandleEvent(ctx, events.MessageNew{Message: msg("m000", "ch", 0)})

	assert.Equal(t, []string{"m001"}, ids(s.State().Messages))
}

func TestSessionStreamLossIsRetryable(t *testing.T) {
	src := newFakeSource()
	seed(src, "ch", 3)
	evs := newFakeEvents()
	s := NewSession(SessionConfig{
		UserID: me, Source: src, Events: evs, PageSize: 50,
		ResubscribeDelay: time.Hour,
	})
	t.Cleanup(s.Close)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, "ch"))
	assert.True(t, s.State().Live)

	evs.drop("ch")
	require.Eventually(t, func() bool { return s.State().Err != nil }, time.Second, 5*time.Millisecond)
	st := s.State()
	assert.ErrorIs(t, st.Err, ErrStreamClosed)
	assert.False(t, st.Live)
	assert.Len(t, st.Messages, 3, "loaded messages survive the drop")

	// Published while the stream was down.
	src.add(msg("m100", "ch", 100))

	require.NoError(t, s.Retry(ctx))
	assert.Equal(t, 2, evs.subscriptions())
	st = s.State()
	assert.NoError(t, st.Err)
	assert.True(t, st.Live)
	assert.Equal(t, []string{"m000", "m001", "m002", "m100"}, ids(st.Messages))

	// The new stream is the one being consumed.
	evs.send("ch", events.MessageNew{Message: msg("m101", "ch", 101)})
	require.Eventually(t, func() bool { return s.State().Total == 5 }, time.Second, 5*time.Millisecond)
}

func TestSessionResubscribesInBackground(t *testing.T) {
	src := newFakeSource()
	seed(src, "ch", 2)
	evs := newFakeEvents()
	s := NewSession(SessionConfig{
		UserID: me, Source: src, Events: evs, PageSize: 50,
		ResubscribeDelay: time.Millisecond,
	})
	t.Cleanup(s.Close)
	require.NoError(t, s.Open(context.Background(), "ch"))

	evs.setErr(errUnavailable)
	evs.drop("ch")
	require.Eventually(t, func() bool { return evs.subscriptions() >= 3 }, time.Second, time.Millisecond)
	assert.Error(t, s.State().Err)

	evs.setErr(nil)
	require.Eventually(t, func() bool {
		st := s.State()
		return st.Live && st.Err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestSessionFailedSubscribeAtOpen(t *testing.T) {
	src := newFakeSource()
	seed(src, "ch", 2)
	evs := newFakeEvents()
	evs.setErr(errUnavailable)
	s := NewSession(SessionConfig{
		UserID: me, Source: src, Events: evs, PageSize: 50,
		ResubscribeDelay: time.Hour,
	})
	t.Cleanup(s.Close)
	ctx := context.Background()

	require.NoError(t, s.Open(ctx, "ch"))
	st := s.State()
	assert.ErrorIs(t, st.Err, errUnavailable)
	assert.False(t, st.Live)
	assert.Len(t, st.Messages, 2)

	evs.setErr(nil)
	require.NoError(t, s.Retry(ctx))
	st = s.State()
	assert.NoError(t, st.Err)
	assert.True(t, st.Live)
}

func TestSessionClosedViewDoesNotResubscribe(t *testing.T) {
	src := newFakeSource()
	evs := newFakeEvents()
	s := NewSession(SessionConfig{
		UserID: me, Source: src, Events: evs,
		ResubscribeDelay: time.Millisecond,
	})
	require.NoError(t, s.Open(context.Background(), "ch"))
	s.Close()

	evs.drop("ch")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, evs.subscriptions())
}

func TestSessionOwnMessageFromStreamKeepsScrollPosition(t *testing.T) {
	src := newFakeSource()
	seed(src, "ch", 3)
	evs := newFakeEvents()
	s := newTestSession(t, src, evs, nil)
	require.NoError(t, s.Open(context.Background(), "ch"))

	s.Scroll(500)
	// Sent from another device: same author, no pending token here.
	other := msg("m100", "ch", 100)
	other.AuthorID = me
	evs.send("ch", events.MessageNew{Message: other})

	require.Eventually(t, func() bool { return s.State().Total == 4 }, time.Second, 5*time.Millisecond)
	st := s.State()
	assert.Equal(t, ScrolledUp, st.Scroll)
	assert.Equal(t, 1, st.NewMessages)
}
