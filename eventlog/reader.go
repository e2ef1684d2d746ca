package eventlog

import (
	"context"
	"errors"
	"fmt"
)

// DefaultBatchSize is the number of entries fetched per batch
const DefaultBatchSize = 50

// ErrStopped is returned by EachBatch when the stop check fires between batches.
var ErrStopped = errors.New("event log reader stopped")

// Reader fetches ordered batches of entries from a Store.
type Reader struct {
	store     Store
	batchSize int
}

// NewReader creates a reader; batchSize <= 0 selects DefaultBatchSize
func NewReader(store Store, batchSize int) *Reader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Reader{store: store, batchSize: batchSize}
}

// BatchSize returns the configured batch size
func (r *Reader) BatchSize() int {
	return r.batchSize
}

// EachBatch reads batches of entries with ID > afterID and passes each to fn
// until the log is exhausted. stop is polled before every batch so shutdown
// never leaves a batch half handed to fn; a batch already given to fn runs to
// completion. A short batch ends the walk.
func (r *Reader) EachBatch(ctx context.Context, afterID int64, stop func() bool, fn func([]Entry) error) error {
	for {
		if stop != nil && stop() {
			return ErrStopped
		}

		batch, err := r.store.ReadAfter(ctx, afterID, r.batchSize)
		if err != nil {
			return fmt.Errorf("failed to read event log after %d: %w", afterID, err)
		}
		if len(batch) == 0 {
			return nil
		}

		if err := validateBatch(afterID, batch); err != nil {
			return err
		}

		if err := fn(batch); err != nil {
			return err
		}

		afterID = batch[len(batch)-1].ID
		if len(batch) < r.batchSize {
			return nil
		}
	}
}

// validateBatch checks that IDs are above the floor and strictly increasing
func validateBatch(afterID int64, batch []Entry) error {
	prev := afterID
	for _, e := range batch {
		if e.ID <= prev {
			return fmt.Errorf("event log returned id %d out of order after %d", e.ID, prev)
		}
		prev = e.ID
	}
	return nil
}
