package eventlog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceStore serves entries from memory and counts calls
type sliceStore struct {
	entries []Entry
	reads   int
	err     error
}

func (s *sliceStore) ReadAfter(_ context.Context, afterID int64, limit int) ([]Entry, error) {
	s.reads++
	if s.err != nil {
		return nil, s.err
	}
	var out []Entry
	for _, e := range s.entries {
		if e.ID > afterID && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *sliceStore) Get(_ context.Context, ids []int64) ([]Entry, error) {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []Entry
	for _, e := range s.entries {
		if want[e.ID] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *sliceStore) MaxID(context.Context) (int64, error) {
	if len(s.entries) == 0 {
		return 0, nil
	}
	return s.entries[len(s.entries)-1].ID, nil
}

func entriesWithIDs(ids ...int64) []Entry {
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		out = append(out, Entry{ID: id, Payload: ResetChecksum{ProjectID: id}})
	}
	return out
}

func TestReaderDefaultBatchSize(t *testing.T) {
	r := NewReader(&sliceStore{}, 0)
	assert.Equal(t, DefaultBatchSize, r.BatchSize())
}

func TestReaderEachBatch(t *testing.T) {
	store := &sliceStore{entries: entriesWithIDs(1, 2, 3, 5, 6, 8, 9)}
	r := NewReader(store, 3)

	var batches [][]int64
	err := r.EachBatch(context.Background(), 0, nil, func(batch []Entry) error {
		batches = append(batches, ids(batch))
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, [][]int64{{1, 2, 3}, {5, 6, 8}, {9}}, batches)
	assert.Equal(t, 3, store.reads)
}

func TestReaderStartsAfterFloor(t *testing.T) {
	store := &sliceStore{entries: entriesWithIDs(1, 2, 3, 4)}
	r := NewReader(store, 10)

	var seen []int64
	err := r.EachBatch(context.Background(), 2, nil, func(batch []Entry) error {
		seen = append(seen, ids(batch)...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, seen)
}

func TestReaderStopBetweenBatches(t *testing.T) {
	store := &sliceStore{entries: entriesWithIDs(1, 2, 3, 4, 5, 6)}
	r := NewReader(store, 2)

	stopped := false
	var seen []int64
	err := r.EachBatch(context.Background(), 0, func() bool { return stopped }, func(batch []Entry) error {
		seen = append(seen, ids(batch)...)
		stopped = true
		return nil
	})

	assert.ErrorIs(t, err, ErrStopped)
	// The first batch is handled whole, the second never starts
	assert.Equal(t, []int64{1, 2}, seen)
}

func TestReaderPropagatesErrors(t *testing.T) {
	boom := errors.New("storage unavailable")

	r := NewReader(&sliceStore{err: boom}, 2)
	err := r.EachBatch(context.Background(), 0, nil, func([]Entry) error { return nil })
	assert.ErrorIs(t, err, boom)

	r = NewReader(&sliceStore{entries: entriesWithIDs(1, 2, 3)}, 2)
	err = r.EachBatch(context.Background(), 0, nil, func([]Entry) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestReaderRejectsUnorderedBatch(t *testing.T) {
	store := &sliceStore{entries: []Entry{{ID: 3}, {ID: 2}}}
	r := NewReader(store, 10)

	err := r.EachBatch(context.Background(), 0, nil, func([]Entry) error { return nil })
	assert.Error(t, err)
}
