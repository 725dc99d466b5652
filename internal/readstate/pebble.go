// Package readstate persists read positions on the client's disk so they
// survive restarts. Pebble locks its directory, so one process holds the
// store at a time; later runs with the same path see what earlier ones
// wrote.
package readstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	"github.com/lalith-99/echosync/internal/timeline"
	"go.uber.org/zap"
)

// PebbleStore implements timeline.PositionStore on a local pebble database.
//
// Keys are "readpos:<user>:<channel>", values the JSON-encoded position.
// Writes are synced; the last write wins, and ReadTracker re-reads before
// writing so positions never move backward.
type PebbleStore struct {
	db     *pebble.DB
	logger *zap.Logger
}

var _ timeline.PositionStore = (*PebbleStore)(nil)

func Open(path string, logger *zap.Logger) (*PebbleStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create read state dir: %w", err)
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open read state %s (is another client using it?): %w", path, err)
	}
	logger.Info("read state opened", zap.String("path", path))
	return &PebbleStore{db: db, logger: logger}, nil
}

func (s *PebbleStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func key(userID, channelID string) []byte {
	return []byte("readpos:" + userID + ":" + channelID)
}

func (s *PebbleStore) LoadPosition(userID, channelID string) (timeline.Position, bool, error) {
	v, closer, err := s.db.Get(key(userID, channelID))
	if errors.Is(err, pebble.ErrNotFound) {
		return timeline.Position{}, false, nil
	}
	if err != nil {
		return timeline.Position{}, false, fmt.Errorf("get read position: %w", err)
	}
	defer closer.Close()

	var p timeline.Position
	if err := json.Unmarshal(v, &p); err != nil {
		// A corrupt entry reads as unread rather than wedging the channel.
		s.logger.Warn("corrupt read position",
			zap.String("user_id", userID),
			zap.String("channel_id", channelID),
			zap.Error(err),
		)
		return timeline.Position{}, false, nil
	}
	return p, true, nil
}

func (s *PebbleStore) SavePosition(userID, channelID string, p timeline.Position) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode read position: %w", err)
	}
	if err := s.db.Set(key(userID, channelID), b, pebble.Sync); err != nil {
		return fmt.Errorf("set read position: %w", err)
	}
	return nil
}
