package eventlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *PebbleStore {
	t.Helper()
	store, err := NewPebbleStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func updated(id, projectID int64) Entry {
	return Entry{
		ID:        id,
		CreatedAt: time.UnixMilli(1_700_000_000_000 + id).UTC(),
		Payload:   RepositoryUpdated{ProjectID: projectID, Source: SourceRepository},
	}
}

func TestNewPebbleStore(t *testing.T) {
	tmpDir := t.TempDir()

	store, err := NewPebbleStore(tmpDir)
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, filepath.Join(tmpDir, "event_log"), store.path)

	maxID, err := store.MaxID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), maxID)
}

func TestPebbleStoreAppendAndReadAfter(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append([]Entry{updated(1, 10), updated(2, 11), updated(3, 12)}))

	entries, err := store.ReadAfter(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, int64(1), entries[0].ID)
	assert.Equal(t, RepositoryUpdated{ProjectID: 10, Source: SourceRepository}, entries[0].Payload)
	assert.Equal(t, int64(3), entries[2].ID)

	entries, err = store.ReadAfter(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(3), entries[0].ID)
}

func TestPebbleStoreOutOfOrderCommits(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	// 8 commits before 7
	require.NoError(t, store.Append([]Entry{updated(5, 1), updated(6, 1), updated(8, 1)}))

	entries, err := store.ReadAfter(ctx, 4, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 6, 8}, ids(entries))

	require.NoError(t, store.Append([]Entry{updated(7, 1)}))

	entries, err = store.ReadAfter(ctx, 8, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = store.Get(ctx, []int64{7})
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, ids(entries))
}

func TestPebbleStoreReadLimit(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	var batch []Entry
	for i := int64(1); i <= 10; i++ {
		batch = append(batch, updated(i, i))
	}
	require.NoError(t, store.Append(batch))

	entries, err := store.ReadAfter(ctx, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids(entries))

	entries, err = store.ReadAfter(ctx, 3, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5, 6}, ids(entries))
}

func TestPebbleStoreKeyOrderingAcrossByteBoundaries(t *testing.T) {
	store := createTestStore(t)

	require.NoError(t, store.Append([]Entry{updated(255, 1), updated(256, 1), updated(65536, 1)}))

	entries, err := store.ReadAfter(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{255, 256, 65536}, ids(entries))

	maxID, err := store.MaxID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(65536), maxID)
}

func TestPebbleStoreGetSkipsMissing(t *testing.T) {
	store := createTestStore(t)
	require.NoError(t, store.Append([]Entry{updated(2, 1), updated(4, 1)}))

	entries, err := store.Get(context.Background(), []int64{4, 3, 2, 4})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 4}, ids(entries))
}

func TestPebbleStoreRejectsInvalidID(t *testing.T) {
	store := createTestStore(t)
	err := store.Append([]Entry{updated(0, 1)})
	assert.Error(t, err)
}

func TestPebbleStoreUnknownPayloadSurvives(t *testing.T) {
	store := createTestStore(t)
	require.NoError(t, store.Append([]Entry{
		{ID: 1, Payload: Unknown{RawKind: "lfs_object_deleted"}},
		{ID: 2},
	}))

	entries, err := store.ReadAfter(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, Unknown{RawKind: "lfs_object_deleted"}, entries[0].Payload)
	assert.Equal(t, KindUnknown, entries[1].Kind())
}

func TestPebbleStoreDeleteBefore(t *testing.T) {
	store := createTestStore(t)
	require.NoError(t, store.Append([]Entry{updated(1, 1), updated(2, 1), updated(3, 1)}))

	require.NoError(t, store.DeleteBefore(3))

	entries, err := store.ReadAfter(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ids(entries))
}

func TestPebbleStoreClosed(t *testing.T) {
	store, err := NewPebbleStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = store.ReadAfter(context.Background(), 0, 1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Error(t, store.Close())
}

func TestPebbleStoreReopenKeepsEntries(t *testing.T) {
	dir := t.TempDir()

	store, err := NewPebbleStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Append([]Entry{updated(41, 1), updated(42, 1)}))
	require.NoError(t, store.Close())

	store, err = NewPebbleStore(dir)
	require.NoError(t, err)
	defer store.Close()

	maxID, err := store.MaxID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), maxID)
}

func ids(entries []Entry) []int64 {
	out := make([]int64, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}
