package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	"github.com/maxpert/logcursor/encoding"
)

const prefixCursor = "/geocursor/" // /geocursor/{track}

// PebbleStore keeps checkpoints in a local Pebble database
type PebbleStore struct {
	db    *pebble.DB
	track string
}

// OpenPebbleStore opens dataDir/cursor_state for track
func OpenPebbleStore(dataDir, track string) (*PebbleStore, error) {
	path := filepath.Join(dataDir, "cursor_state")
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store at %s: %w", path, err)
	}
	return NewPebbleStore(db, track), nil
}

// NewPebbleStore uses an already open database
func NewPebbleStore(db *pebble.DB, track string) *PebbleStore {
	if track == "" {
		track = DefaultTrack
	}
	return &PebbleStore{db: db, track: track}
}

func (s *PebbleStore) key() []byte {
	return []byte(prefixCursor + s.track)
}

// Load returns the saved State or a zero State when none exists
func (s *PebbleStore) Load(_ context.Context) (State, error) {
	val, closer, err := s.db.Get(s.key())
	if errors.Is(err, pebble.ErrNotFound) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("failed to read checkpoint %s: %w", s.track, err)
	}
	defer closer.Close()

	var st State
	if err := encoding.Unmarshal(val, &st); err != nil {
		return State{}, fmt.Errorf("failed to decode checkpoint %s: %w", s.track, err)
	}
	st.UpdatedAt = st.UpdatedAt.UTC()
	for i := range st.Gaps {
		st.Gaps[i].DiscoveredAt = st.Gaps[i].DiscoveredAt.UTC()
	}
	return st, nil
}

// Save writes st durably. The frontier may not move backwards.
func (s *PebbleStore) Save(ctx context.Context, st State) error {
	prev, err := s.Load(ctx)
	if err != nil {
		return err
	}
	if err := checkAdvance(prev, st); err != nil {
		return err
	}

	val, err := encoding.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint %s: %w", s.track, err)
	}

	if err := s.db.Set(s.key(), val, pebble.Sync); err != nil {
		return fmt.Errorf("failed to write checkpoint %s: %w", s.track, err)
	}
	return nil
}

// Reset removes the checkpoint so the cursor starts from the beginning
func (s *PebbleStore) Reset(_ context.Context) error {
	if err := s.db.Delete(s.key(), pebble.Sync); err != nil {
		return fmt.Errorf("failed to reset checkpoint %s: %w", s.track, err)
	}
	return nil
}

// Close closes the underlying database
func (s *PebbleStore) Close() error {
	return s.db.Close()
}
