package timeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/echosync/internal/events"
	"github.com/lalith-99/echosync/internal/models"
	"github.com/lalith-99/echosync/internal/observ"
	"go.uber.org/zap"
)

var (
	ErrPending      = errors.New("message is still sending")
	ErrStreamClosed = errors.New("event stream closed")

	// errSubscribing means another resubscribe for the view is in flight.
	errSubscribing = errors.New("subscription in progress")
)

const (
	defaultResubscribeDelay = time.Second
	maxResubscribeDelay     = 30 * time.Second
)

// provisionalPrefix marks ids the client made up for optimistic sends.
const provisionalPrefix = "local:"

type SessionConfig struct {
	UserID string
	Source DataSource
	// Events is optional; without it the session only changes through
	// its own actions and HandleEvent.
	Events          EventSource
	Positions       PositionStore
	PageSize        int
	ScrollThreshold float64
	// ResubscribeDelay is the first wait before reopening a lost event
	// stream. It doubles per failed attempt up to 30s.
	ResubscribeDelay time.Duration
	Logger           *zap.Logger
	Metrics          *observ.Metrics
	// OnChange is called after every visible state change, outside any
	// session lock.
	OnChange func(ViewState)
}

// ViewState is what the rendering layer reads.
type ViewState struct {
	ChannelID string
	ParentID  string

	// Messages is the displayed sequence: the store filtered by Query.
	Messages []models.Message
	Total    int
	Query    string

	Loading        bool
	LoadingEarlier bool
	Err            error
	HasMore        bool
	// Live is set while the view's event stream is open.
	Live bool

	UnreadIndex int
	HasUnread   bool

	Scroll      ScrollState
	NewMessages int
	// AutoScroll is set on the notification that follows an arrival or
	// jump which should bring the viewport to the bottom.
	AutoScroll bool
}

// view is the state of one opened scope. A channel switch replaces the
// whole view, so late responses and events for the old one land in a
// store nobody reads.
type view struct {
	scope  Scope
	store  *Store
	rec    *Reconciler
	ctx    context.Context
	cancel context.CancelFunc

	streaming    bool
	subscribing  bool
	reconnecting bool
	eventsErr    error

	loaded         bool
	loading        bool
	loadingEarlier bool
	hasMore        bool
	err            error
	failedOp       string
	staleReactions map[string]struct{}
	autoScroll     bool

	// lastRead is the read position when the view opened; the unread
	// divider stays there for the life of the view.
	lastRead string
}

// Session drives one user's message view: it owns the current view and
// routes history loads, inbound events and user actions into it.
type Session struct {
	mu sync.Mutex

	userID   string
	source   DataSource
	events   EventSource
	retry    time.Duration
	loader   *Loader
	reads    *ReadTracker
	scroll   *ScrollController
	logger   *zap.Logger
	metrics  *observ.Metrics
	onChange func(ViewState)

	view  *view
	query string
}

func NewSession(cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	positions := cfg.Positions
	if positions == nil {
		positions = NewMemoryPositions()
	}
	retry := cfg.ResubscribeDelay
	if retry <= 0 {
		retry = defaultResubscribeDelay
	}
	return &Session{
		userID:   cfg.UserID,
		source:   cfg.Source,
		events:   cfg.Events,
		retry:    retry,
		loader:   NewLoader(cfg.Source, cfg.PageSize, logger, cfg.Metrics),
		reads:    NewReadTracker(cfg.UserID, positions, logger),
		scroll:   NewScrollController(cfg.ScrollThreshold),
		logger:   logger,
		metrics:  cfg.Metrics,
		onChange: cfg.OnChange,
	}
}

// Open switches to a channel and loads its newest page. A failed load is
// returned and also kept in the view state for Retry.
func (s *Session) Open(ctx context.Context, channelID string) error {
	return s.open(ctx, Scope{ChannelID: channelID})
}

// OpenThread switches to the replies of parentID.
func (s *Session) OpenThread(ctx context.Context, channelID, parentID string) error {
	return s.open(ctx, Scope{ChannelID: channelID, ParentID: parentID})
}

func (s *Session) open(ctx context.Context, scope Scope) error {
	store := NewStore(s.logger.With(zap.String("channel_id", scope.ChannelID)))
	v := &view{
		scope:          scope,
		store:          store,
		rec:            NewReconciler(scope, store, s.source, s.logger, s.metrics),
		loading:        true,
		staleReactions: make(map[string]struct{}),
	}
	if !scope.IsThread() {
		v.lastRead, _ = s.reads.LastRead(scope.ChannelID)
	}
	v.rec.OnArrival(func(m models.Message) { s.arrived(v, m) })

	v.ctx, v.cancel = context.WithCancel(context.WithoutCancel(ctx))

	s.mu.Lock()
	old := s.view
	s.view = v
	s.mu.Unlock()
	if old != nil {
		old.cancel()
	}
	s.scroll.Reset()

	// Subscribe before loading so nothing published during the load is
	// missed; history and events both upsert idempotently.
	if s.events != nil {
		if _, err := s.subscribe(v); err != nil {
			s.startReconnect(v)
		}
	}
	s.notify(v)

	return s.loadInitial(ctx, v)
}

func (s *Session) loadInitial(ctx context.Context, v *view) error {
	page, err := s.loader.LoadInitial(ctx, v.scope.ChannelID, v.scope.ParentID)

	s.mu.Lock()
	if s.view != v {
		s.mu.Unlock()
		s.logger.Debug("discarding stale history page", zap.String("channel_id", v.scope.ChannelID))
		return nil
	}
	v.loading = false
	if err != nil {
		v.err, v.failedOp = err, "initial"
		s.mu.Unlock()
		s.notify(v)
		return err
	}
	for _, m := range page.Messages {
		v.store.Upsert(m)
	}
	v.loaded, v.hasMore, v.err, v.failedOp = true, page.HasMore, nil, ""
	v.autoScroll = true
	s.mu.Unlock()

	s.markLatest(v)
	s.notify(v)
	return nil
}

// LoadEarlier backfills the page before the oldest loaded message.
func (s *Session) LoadEarlier(ctx context.Context) error {
	s.mu.Lock()
	v := s.view
	if v == nil {
		s.mu.Unlock()
		return ErrNoChannel
	}
	if !v.loaded || !v.hasMore || v.loadingEarlier {
		s.mu.Unlock()
		return nil
	}
	oldest, ok := v.store.Oldest()
	if !ok {
		v.hasMore = false
		s.mu.Unlock()
		return nil
	}
	v.loadingEarlier = true
	s.mu.Unlock()
	s.notify(v)

	page, err := s.loader.LoadEarlier(ctx, v.scope.ChannelID, v.scope.ParentID, CursorOf(oldest))

	s.mu.Lock()
	if s.view != v {
		s.mu.Unlock()
		s.logger.Debug("discarding stale history page", zap.String("channel_id", v.scope.ChannelID))
		return nil
	}
	v.loadingEarlier = false
	if err != nil {
		v.err, v.failedOp = err, "earlier"
		s.mu.Unlock()
		s.notify(v)
		return err
	}
	for _, m := range page.Messages {
		v.store.Upsert(m)
	}
	v.hasMore, v.err, v.failedOp = page.HasMore, nil, ""
	s.mu.Unlock()

	s.notify(v)
	return nil
}

// Retry repeats whatever last failed: a lost event stream, the history
// load that set the error state, and reaction refetches that did not
// complete.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	v := s.view
	if v == nil {
		s.mu.Unlock()
		return ErrNoChannel
	}
	streamDown := s.events != nil && v.eventsErr != nil
	ids := make([]string, 0, len(v.staleReactions))
	for id := range v.staleReactions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var streamErr error
	if streamDown {
		if err := s.resume(ctx, v); err != nil && !errors.Is(err, errSubscribing) {
			streamErr = err
		}
	}

	s.mu.Lock()
	op := v.failedOp
	if op == "initial" {
		v.loading, v.err = true, nil
	}
	s.mu.Unlock()

	for _, id := range ids {
		if _, err := v.rec.handleReaction(ctx, id); err == nil {
			s.mu.Lock()
			delete(v.staleReactions, id)
			s.mu.Unlock()
		}
	}

	var err error
	switch op {
	case "initial":
		err = s.loadInitial(ctx, v)
	case "earlier":
		err = s.LoadEarlier(ctx)
	case "backfill":
		err = s.backfill(ctx, v)
	default:
		s.notify(v)
	}
	if err != nil {
		return err
	}
	return streamErr
}

// Close drops the current view and its subscription.
func (s *Session) Close() {
	s.mu.Lock()
	v := s.view
	s.view = nil
	s.mu.Unlock()
	if v != nil {
		v.cancel()
	}
}

// subscribe opens the event stream for v. It reports whether a new stream
// was opened; a view that is no longer current or is already live is left
// alone.
func (s *Session) subscribe(v *view) (bool, error) {
	s.mu.Lock()
	if s.view != v || v.streaming {
		s.mu.Unlock()
		return false, nil
	}
	if v.subscribing {
		s.mu.Unlock()
		return false, errSubscribing
	}
	v.subscribing = true
	s.mu.Unlock()

	ch, err := s.events.Subscribe(v.ctx, v.scope.ChannelID)

	s.mu.Lock()
	v.subscribing = false
	if s.view != v || v.ctx.Err() != nil {
		s.mu.Unlock()
		return false, nil
	}
	if err != nil {
		ferr := &FetchError{Op: "subscribe", Err: err}
		v.eventsErr = ferr
		s.mu.Unlock()
		s.logger.Warn("event subscription failed", zap.String("channel_id", v.scope.ChannelID), zap.Error(err))
		s.notify(v)
		return false, ferr
	}
	v.streaming, v.eventsErr = true, nil
	s.mu.Unlock()

	go s.consume(v, ch)
	return true, nil
}

func (s *Session) consume(v *view, ch <-chan events.Envelope) {
	for {
		select {
		case <-v.ctx.Done():
			return
		case env, ok := <-ch:
			if !ok {
				s.streamLost(v)
				return
			}
			s.dispatch(v, func() (bool, error) { return v.rec.HandleEnvelope(v.ctx, env) })
		}
	}
}

func (s *Session) streamLost(v *view) {
	s.mu.Lock()
	if s.view != v || v.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	v.streaming = false
	v.eventsErr = &FetchError{Op: "events", Err: ErrStreamClosed}
	s.mu.Unlock()

	s.logger.Warn("event stream lost", zap.String("channel_id", v.scope.ChannelID))
	s.notify(v)
	s.startReconnect(v)
}

// startReconnect resubscribes v in the background with exponential
// backoff until it succeeds or the view is closed. At most one loop runs
// per view.
func (s *Session) startReconnect(v *view) {
	s.mu.Lock()
	if v.reconnecting {
		s.mu.Unlock()
		return
	}
	v.reconnecting = true
	s.mu.Unlock()

	go func() {
		delay := s.retry
		for {
			select {
			case <-v.ctx.Done():
				return
			case <-time.After(delay):
			}
			err := s.resume(v.ctx, v)

			// The flag is cleared under the same lock streamLost takes, so
			// a stream that drops right after resuming starts a new loop.
			var fe *FetchError
			giveUp := errors.As(err, &fe) && !fe.Retryable()
			s.mu.Lock()
			if v.streaming || s.view != v || giveUp {
				v.reconnecting = false
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			if err != nil {
				delay = min(delay*2, maxResubscribeDelay)
			}
		}
	}()
}

// resume reopens v's event stream and backfills whatever was published
// while it was down.
func (s *Session) resume(ctx context.Context, v *view) error {
	opened, err := s.subscribe(v)
	if err != nil {
		return err
	}
	if !opened {
		return nil
	}
	s.logger.Info("event stream resumed", zap.String("channel_id", v.scope.ChannelID))
	if err := s.backfill(ctx, v); err != nil {
		s.logger.Warn("backfill after resubscribe failed", zap.String("channel_id", v.scope.ChannelID), zap.Error(err))
	}
	return nil
}

// backfill refetches the newest page into a loaded view. Upserts are
// idempotent, so overlap with what is already held is harmless.
func (s *Session) backfill(ctx context.Context, v *view) error {
	s.mu.Lock()
	loaded := v.loaded
	s.mu.Unlock()
	if !loaded {
		return nil
	}

	page, err := s.loader.LoadInitial(ctx, v.scope.ChannelID, v.scope.ParentID)

	s.mu.Lock()
	if s.view != v {
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		if v.err == nil {
			v.err, v.failedOp = err, "backfill"
		}
		s.mu.Unlock()
		s.notify(v)
		return err
	}
	for _, m := range page.Messages {
		v.store.Upsert(m)
	}
	if v.failedOp == "backfill" {
		v.err, v.failedOp = nil, ""
	}
	s.mu.Unlock()

	s.notify(v)
	return nil
}

// HandleEvent applies an event to the current view. Events are handled in
// the order they are passed in.
func (s *Session) HandleEvent(ctx context.Context, ev events.Event) {
	s.mu.Lock()
	v := s.view
	s.mu.Unlock()
	if v == nil {
		return
	}
	s.dispatch(v, func() (bool, error) { return v.rec.Handle(ctx, ev) })
}

func (s *Session) dispatch(v *view, handle func() (bool, error)) {
	changed, err := handle()
	var fe *FetchError
	if errors.As(err, &fe) && fe.MessageID != "" {
		s.mu.Lock()
		v.staleReactions[fe.MessageID] = struct{}{}
		s.mu.Unlock()
	}
	if changed {
		s.notify(v)
	}
}

func (s *Session) arrived(v *view, m models.Message) {
	s.mu.Lock()
	current := s.view == v
	s.mu.Unlock()
	if !current {
		return
	}
	// Local sends scroll on their own; anything from the stream, including
	// the user's messages from another device, is remote here.
	eff := s.scroll.OnNewMessage(false)
	if eff.MarkLatestRead {
		s.markLatest(v)
	}
	if eff.ScrollToBottom {
		s.mu.Lock()
		v.autoScroll = true
		s.mu.Unlock()
	}
}

// Send posts a message with an optimistic local copy. The copy is replaced
// by the server's on success and removed on failure.
func (s *Session) Send(ctx context.Context, content string, attachments ...models.Attachment) (models.Message, error) {
	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		return models.Message{}, ErrEmpty
	}
	v := s.current()
	if v == nil {
		return models.Message{}, ErrNoChannel
	}

	token := uuid.NewString()
	draft := Draft{
		Content:     content,
		ParentID:    v.scope.ParentID,
		Attachments: attachments,
		ClientToken: token,
	}
	provisional := models.Message{
		ID:          provisionalPrefix + token,
		ChannelID:   v.scope.ChannelID,
		AuthorID:    s.userID,
		Content:     content,
		CreatedAt:   time.Now().UTC(),
		ParentID:    v.scope.ParentID,
		Attachments: attachments,
		ClientToken: token,
	}
	v.store.AddPending(provisional)
	eff := s.scroll.OnNewMessage(true)
	s.setAutoScroll(v, eff.ScrollToBottom)
	s.notify(v)

	msg, err := s.source.CreateMessage(ctx, v.scope.ChannelID, draft)
	if err != nil {
		v.store.Discard(provisional.ID)
		s.notify(v)
		s.logger.Warn("send failed", zap.String("channel_id", v.scope.ChannelID), zap.Error(err))
		return models.Message{}, &ActionError{Action: "send", Err: err}
	}
	if msg.ClientToken == "" {
		msg.ClientToken = token
	}
	v.store.Confirm(token, msg)
	s.markLatest(v)
	s.notify(v)
	return msg, nil
}

// Edit replaces the content of one of the user's own messages.
func (s *Session) Edit(ctx context.Context, id, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmpty
	}
	v, m, err := s.ownMessage(id)
	if err != nil {
		return err
	}
	if err := s.source.UpdateMessage(ctx, id, content); err != nil {
		return s.actionFailed("edit", id, err)
	}
	edited := true
	v.store.Apply(models.MessagePatch{
		ID: id, ChannelID: m.ChannelID, Version: m.Version + 1,
		Content: &content, Edited: &edited,
	})
	s.notify(v)
	return nil
}

// Delete removes one of the user's own messages.
func (s *Session) Delete(ctx context.Context, id string) error {
	v, _, err := s.ownMessage(id)
	if err != nil {
		return err
	}
	if err := s.source.DeleteMessage(ctx, id); err != nil {
		return s.actionFailed("delete", id, err)
	}
	v.store.Remove(id, 0)
	s.notify(v)
	return nil
}

// React toggles the user's emoji reaction on a message.
func (s *Session) React(ctx context.Context, id, emoji string) error {
	v, m, err := s.heldMessage(id)
	if err != nil {
		return err
	}
	if m.Pending {
		return ErrPending
	}
	if err := s.source.ToggleReaction(ctx, id, emoji); err != nil {
		return s.actionFailed("react", id, err)
	}
	// The reaction.update echo triggers the same refetch; doing it here
	// too means the toggle shows up without waiting for the transport.
	summary, err := s.source.FetchReactionSummary(ctx, id)
	if err != nil {
		s.logger.Warn("reaction refetch after toggle failed", zap.String("message_id", id), zap.Error(err))
		s.mu.Lock()
		v.staleReactions[id] = struct{}{}
		s.mu.Unlock()
		return nil
	}
	if v.store.SetReactions(id, summary) {
		s.notify(v)
	}
	return nil
}

// Pin toggles a message's pinned flag.
func (s *Session) Pin(ctx context.Context, id string) error {
	v, m, err := s.heldMessage(id)
	if err != nil {
		return err
	}
	if m.Pending {
		return ErrPending
	}
	if err := s.source.TogglePin(ctx, id); err != nil {
		return s.actionFailed("pin", id, err)
	}
	pinned := !m.Pinned
	v.store.Apply(models.MessagePatch{ID: id, ChannelID: m.ChannelID, Version: m.Version + 1, Pinned: &pinned})
	s.notify(v)
	return nil
}

// Search sets the active query. The displayed messages are re-filtered
// from the live store on every state read.
func (s *Session) Search(query string) {
	s.mu.Lock()
	s.query = query
	v := s.view
	s.mu.Unlock()
	if v != nil {
		s.notify(v)
	}
}

// Scroll reports the viewport's distance from the bottom.
func (s *Session) Scroll(distanceFromBottom float64) {
	before := s.scroll.State()
	eff := s.scroll.OnScroll(distanceFromBottom)
	v := s.current()
	if v == nil {
		return
	}
	if eff.MarkLatestRead {
		s.markLatest(v)
	}
	if before != s.scroll.State() {
		s.notify(v)
	}
}

// JumpToLatest scrolls to the newest message and marks it read.
func (s *Session) JumpToLatest() {
	eff := s.scroll.JumpToLatest()
	v := s.current()
	if v == nil {
		return
	}
	s.markLatest(v)
	s.setAutoScroll(v, eff.ScrollToBottom)
	s.notify(v)
}

// State returns the current view state.
func (s *Session) State() ViewState {
	s.mu.Lock()
	v := s.view
	query := s.query
	var (
		st       ViewState
		lastRead string
	)
	if v != nil {
		lastRead = v.lastRead
		st = ViewState{
			ChannelID:      v.scope.ChannelID,
			ParentID:       v.scope.ParentID,
			Loading:        v.loading,
			LoadingEarlier: v.loadingEarlier,
			Err:            v.err,
			HasMore:        v.hasMore,
			Live:           v.streaming,
		}
		if st.Err == nil {
			st.Err = v.eventsErr
		}
	}
	s.mu.Unlock()

	st.Query = query
	st.Scroll = s.scroll.State()
	st.NewMessages = s.scroll.Unseen()
	if v == nil {
		return st
	}

	all := v.store.Snapshot()
	st.Total = len(all)
	st.Messages = Filter(all, query)
	st.UnreadIndex, st.HasUnread = UnreadBoundary(st.Messages, lastRead)
	return st
}

// LastRead exposes the stored read position for a channel.
func (s *Session) LastRead(channelID string) (string, bool) {
	return s.reads.LastRead(channelID)
}

func (s *Session) current() *view {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

func (s *Session) heldMessage(id string) (*view, models.Message, error) {
	v := s.current()
	if v == nil {
		return nil, models.Message{}, ErrNoChannel
	}
	m, ok := v.store.Get(id)
	if !ok {
		return nil, models.Message{}, ErrNotFound
	}
	return v, m, nil
}

// ownMessage resolves a message the user may modify. Permission is
// checked before anything is sent or changed locally.
func (s *Session) ownMessage(id string) (*view, models.Message, error) {
	v, m, err := s.heldMessage(id)
	if err != nil {
		return nil, m, err
	}
	if m.Pending {
		return nil, m, ErrPending
	}
	if m.AuthorID != s.userID {
		return nil, m, ErrForbidden
	}
	return v, m, nil
}

func (s *Session) actionFailed(action, id string, err error) error {
	s.logger.Warn(action+" failed", zap.String("message_id", id), zap.Error(err))
	if errors.Is(err, ErrForbidden) {
		return err
	}
	return &ActionError{Action: action, Err: err}
}

func (s *Session) markLatest(v *view) {
	if v.scope.IsThread() {
		return
	}
	latest, ok := v.store.Latest()
	if !ok {
		return
	}
	if _, err := s.reads.MarkRead(v.scope.ChannelID, PositionOf(latest)); err != nil {
		s.logger.Warn("mark read failed", zap.String("channel_id", v.scope.ChannelID), zap.Error(err))
	}
}

func (s *Session) setAutoScroll(v *view, on bool) {
	if !on {
		return
	}
	s.mu.Lock()
	v.autoScroll = true
	s.mu.Unlock()
}

func (s *Session) notify(v *view) {
	if s.onChange == nil {
		return
	}
	s.mu.Lock()
	if s.view != v {
		s.mu.Unlock()
		return
	}
	auto := v.autoScroll
	v.autoScroll = false
	s.mu.Unlock()

	st := s.State()
	st.AutoScroll = auto
	s.onChange(st)
}
