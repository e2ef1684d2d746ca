package eventlog

import (
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"slices"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog/log"
)

// Key prefix for Pebble storage
const prefixGeoLog = "/geolog/" // /geolog/{big-endian uint64 id}

// Pebble configuration constants
const (
	memTableSize                = 64 << 20 // 64MB
	memTableStopWritesThreshold = 4
	l0CompactionThreshold       = 2
	l0StopWritesThreshold       = 12
	lBaseMaxBytes               = 256 << 20 // 256MB
	maxConcurrentCompactions    = 3
)

// PebbleStore is a Pebble-backed event log. Writers supply the IDs, which
// lets a local log reproduce commit-order jitter exactly as a primary would.
type PebbleStore struct {
	db     *pebble.DB
	path   string
	closed atomic.Bool
}

// NewPebbleStore creates or opens the event log under dataDir/event_log
func NewPebbleStore(dataDir string) (*PebbleStore, error) {
	logPath := filepath.Join(dataDir, "event_log")

	opts := &pebble.Options{
		MemTableSize:                memTableSize,
		MemTableStopWritesThreshold: memTableStopWritesThreshold,
		L0CompactionThreshold:       l0CompactionThreshold,
		L0StopWritesThreshold:       l0StopWritesThreshold,
		LBaseMaxBytes:               lBaseMaxBytes,
		MaxConcurrentCompactions:    func() int { return maxConcurrentCompactions },
	}

	db, err := pebble.Open(logPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log at %s: %w", logPath, err)
	}

	return &PebbleStore{db: db, path: logPath}, nil
}

// Append commits entries atomically. Every entry must carry a positive ID;
// an ID that already exists is overwritten.
func (s *PebbleStore) Append(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if s.closed.Load() {
		return ErrClosed
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	for _, e := range entries {
		if e.ID <= 0 {
			return fmt.Errorf("invalid event log id %d", e.ID)
		}

		val, err := EncodeEntry(e)
		if err != nil {
			return err
		}

		if err := batch.Set(entryKey(e.ID), val, nil); err != nil {
			return fmt.Errorf("failed to write entry %d: %w", e.ID, err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	return nil
}

// ReadAfter reads entries with ID > afterID, up to limit entries
func (s *PebbleStore) ReadAfter(ctx context.Context, afterID int64, limit int) ([]Entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	if afterID < 0 {
		afterID = 0
	}

	startKey := entryKey(afterID + 1)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: startKey,
		UpperBound: prefixUpperBound([]byte(prefixGeoLog)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	entries := make([]Entry, 0, limit)
	for iter.SeekGE(startKey); iter.Valid() && len(entries) < limit; iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		val, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}

		entry, err := DecodeEntry(val)
		if err != nil {
			// The row exists, so the ID is still consumed; the payload is treated as unknown
			log.Warn().Err(err).Int64("event_id", keyID(iter.Key())).Msg("Failed to decode event log entry")
			entry = Entry{ID: keyID(iter.Key()), Payload: Unknown{}}
		}

		entries = append(entries, entry)
	}

	if err := iter.Error(); err != nil {
		return nil, err
	}

	return entries, nil
}

// Get performs point lookups for the given IDs
func (s *PebbleStore) Get(ctx context.Context, ids []int64) ([]Entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	entries := make([]Entry, 0, len(sorted))
	for _, id := range sorted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		val, closer, err := s.db.Get(entryKey(id))
		if err == pebble.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get entry %d: %w", id, err)
		}

		entry, decodeErr := DecodeEntry(val)
		closer.Close()
		if decodeErr != nil {
			log.Warn().Err(decodeErr).Int64("event_id", id).Msg("Failed to decode event log entry")
			entry = Entry{ID: id, Payload: Unknown{}}
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

// MaxID returns the highest stored ID
func (s *PebbleStore) MaxID(ctx context.Context) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	prefix := []byte(prefixGeoLog)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}

	return keyID(iter.Key()), nil
}

// DeleteBefore removes all entries with ID < id
func (s *PebbleStore) DeleteBefore(id int64) error {
	if s.closed.Load() {
		return ErrClosed
	}

	if err := s.db.DeleteRange([]byte(prefixGeoLog), entryKey(id), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete entries before %d: %w", id, err)
	}

	log.Debug().Int64("before_id", id).Msg("Pruned event log entries")
	return nil
}

// Close closes the Pebble database
func (s *PebbleStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("event log already closed")
	}
	return s.db.Close()
}

// entryKey builds /geolog/ followed by the big-endian ID, so byte order
// matches numeric order
func entryKey(id int64) []byte {
	key := make([]byte, len(prefixGeoLog)+8)
	copy(key, prefixGeoLog)
	binary.BigEndian.PutUint64(key[len(prefixGeoLog):], uint64(id))
	return key
}

func keyID(key []byte) int64 {
	if len(key) < len(prefixGeoLog)+8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(key[len(prefixGeoLog):]))
}

// prefixUpperBound returns the upper bound for a prefix scan
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end
		}
	}
	return nil // Prefix is all 0xff
}
