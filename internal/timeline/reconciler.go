package timeline

import (
	"context"

	"github.com/lalith-99/echosync/internal/events"
	"github.com/lalith-99/echosync/internal/models"
	"github.com/lalith-99/echosync/internal/observ"
	"go.uber.org/zap"
)

// Scope is what a view shows: a channel's top-level messages, or the
// replies of one thread when ParentID is set.
type Scope struct {
	ChannelID string
	ParentID  string
}

func (s Scope) IsThread() bool { return s.ParentID != "" }

func (s Scope) accepts(m models.Message) bool {
	if m.ChannelID != s.ChannelID {
		return false
	}
	if !s.IsThread() {
		return m.ParentID == ""
	}
	return m.ParentID == s.ParentID
}

// ReactionFetcher loads the current reaction summary of a message.
type ReactionFetcher interface {
	FetchReactionSummary(ctx context.Context, messageID string) (models.ReactionSummary, error)
}

// Reconciler applies inbound events to a Store. Every handler is
// idempotent and does not depend on delivery order: versions decide
// between conflicting copies and tombstones keep deleted ids out.
type Reconciler struct {
	scope     Scope
	store     *Store
	reactions ReactionFetcher
	logger    *zap.Logger
	metrics   *observ.Metrics

	// onArrival runs after a message becomes visible for the first time.
	// It is not called for the echo of our own optimistic send.
	onArrival func(m models.Message)
}

func NewReconciler(scope Scope, store *Store, reactions ReactionFetcher, logger *zap.Logger, metrics *observ.Metrics) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		scope:     scope,
		store:     store,
		reactions: reactions,
		logger:    logger.With(zap.String("channel_id", scope.ChannelID)),
		metrics:   metrics,
	}
}

// OnArrival registers the new-message callback.
func (r *Reconciler) OnArrival(fn func(m models.Message)) {
	r.onArrival = fn
}

// HandleEnvelope decodes and applies a raw event. Malformed envelopes are
// logged and dropped.
func (r *Reconciler) HandleEnvelope(ctx context.Context, env events.Envelope) (bool, error) {
	ev, err := events.Decode(env)
	if err != nil {
		r.logger.Warn("discarding malformed event", zap.String("event", env.Type), zap.Error(err))
		r.metrics.Reconciled(env.Type, "discarded")
		return false, nil
	}
	return r.Handle(ctx, ev)
}

// Handle applies one event and reports whether the store changed. The only
// error is a failed reaction refetch, which leaves the store as it was.
func (r *Reconciler) Handle(ctx context.Context, ev events.Event) (bool, error) {
	if ev.Channel() != r.scope.ChannelID {
		r.metrics.Reconciled(ev.Name(), "ignored")
		return false, nil
	}

	var (
		changed bool
		err     error
	)
	switch e := ev.(type) {
	case events.MessageNew:
		changed = r.handleNew(e.Message)
	case events.MessageUpdate:
		changed = r.store.Apply(e.Patch)
	case events.MessageDelete:
		changed = r.store.Remove(e.ID, e.Version)
	case events.ReactionUpdate:
		changed, err = r.handleReaction(ctx, e.MessageID)
	}

	switch {
	case err != nil:
		r.metrics.Reconciled(ev.Name(), "failed")
	case changed:
		r.metrics.Reconciled(ev.Name(), "applied")
	default:
		r.metrics.Reconciled(ev.Name(), "ignored")
	}
	return changed, err
}

func (r *Reconciler) handleNew(m models.Message) bool {
	if m.ID == "" {
		r.logger.Warn("discarding message.new without id")
		return false
	}
	if !r.scope.accepts(m) {
		return false
	}

	if m.ClientToken != "" {
		if _, ok := r.store.PendingID(m.ClientToken); ok {
			r.store.Confirm(m.ClientToken, m)
			return true
		}
	}

	existed := r.store.Has(m.ID)
	changed := r.store.Upsert(m)
	if !existed && r.store.Has(m.ID) && r.onArrival != nil {
		r.onArrival(m)
	}
	return changed
}

// handleReaction refetches the summary for a held message. Messages
// outside the loaded window are skipped.
func (r *Reconciler) handleReaction(ctx context.Context, messageID string) (bool, error) {
	if !r.store.Has(messageID) {
		return false, nil
	}
	summary, err := r.reactions.FetchReactionSummary(ctx, messageID)
	if err != nil {
		r.logger.Warn("reaction refetch failed", zap.String("message_id", messageID), zap.Error(err))
		return false, &FetchError{Op: "refetch reactions", MessageID: messageID, Err: err}
	}
	return r.store.SetReactions(messageID, summary), nil
}
