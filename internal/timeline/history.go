package timeline

import (
	"context"
	"slices"

	"github.com/lalith-99/echosync/internal/models"
	"github.com/lalith-99/echosync/internal/observ"
	"go.uber.org/zap"
)

const DefaultPageSize = 50

// Loader fetches history pages and returns them oldest first, ready for
// Store population.
type Loader struct {
	source   DataSource
	pageSize int
	logger   *zap.Logger
	metrics  *observ.Metrics
}

func NewLoader(source DataSource, pageSize int, logger *zap.Logger, metrics *observ.Metrics) *Loader {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{source: source, pageSize: pageSize, logger: logger, metrics: metrics}
}

// LoadInitial fetches the newest page of a channel, or of a thread when
// parentID is set.
func (l *Loader) LoadInitial(ctx context.Context, channelID, parentID string) (Page, error) {
	return l.fetch(ctx, "initial", channelID, PageQuery{Limit: l.pageSize, ParentID: parentID})
}

// LoadEarlier fetches the page strictly older than before.
func (l *Loader) LoadEarlier(ctx context.Context, channelID, parentID string, before Cursor) (Page, error) {
	return l.fetch(ctx, "earlier", channelID, PageQuery{Before: &before, Limit: l.pageSize, ParentID: parentID})
}

func (l *Loader) fetch(ctx context.Context, kind, channelID string, q PageQuery) (Page, error) {
	page, err := l.source.FetchMessages(ctx, channelID, q)
	l.metrics.HistoryFetched(kind, err)
	if err != nil {
		l.logger.Warn("history fetch failed",
			zap.String("kind", kind),
			zap.String("channel_id", channelID),
			zap.Error(err),
		)
		return Page{}, &FetchError{Op: "load " + kind + " messages", Err: err}
	}

	msgs := make([]models.Message, 0, len(page.Messages))
	for _, m := range page.Messages {
		if m.ID == "" {
			l.logger.Warn("history page contained message without id", zap.String("channel_id", channelID))
			continue
		}
		msgs = append(msgs, m)
	}
	slices.Reverse(msgs)
	return Page{Messages: msgs, HasMore: page.HasMore}, nil
}
