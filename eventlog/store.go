// Package eventlog reads the primary's append-only Geo event log.
//
// Entries carry IDs assigned at commit time. IDs are unique and increase in
// storage order, but a reader tailing the log can see ID N+2 before N+1 has
// committed. The Reader hands out ordered batches and leaves gap handling to
// the gaps package.
package eventlog

import (
	"context"
	"errors"
)

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("event log is closed")

// Store is the storage contract the cursor consumes.
type Store interface {
	// ReadAfter returns up to limit entries with ID > afterID in ascending ID order.
	ReadAfter(ctx context.Context, afterID int64, limit int) ([]Entry, error)
	// Get looks up entries by exact ID. Missing IDs are absent from the result,
	// which is sorted by ID.
	Get(ctx context.Context, ids []int64) ([]Entry, error)
	// MaxID returns the highest committed ID, or 0 for an empty log.
	MaxID(ctx context.Context) (int64, error)
}
