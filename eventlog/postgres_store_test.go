package eventlog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRows serves fixed rows and scans like pgx: NULL only into pointers
type fakeRows struct {
	rows [][]any
	pos  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos <= len(r.rows)
}

func (r *fakeRows) Values() ([]any, error) {
	return r.rows[r.pos-1], nil
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.pos-1]
	for i, d := range dest {
		v := row[i]
		switch d := d.(type) {
		case *int64:
			*d = v.(int64)
		case *time.Time:
			*d = v.(time.Time)
		case *string:
			if v == nil {
				return fmt.Errorf("can't scan into dest[%d]: cannot scan NULL into *string", i)
			}
			*d = v.(string)
		case **string:
			if v == nil {
				*d = nil
				continue
			}
			s := v.(string)
			*d = &s
		case *[]byte:
			if v == nil {
				*d = nil
				continue
			}
			*d = v.([]byte)
		default:
			return fmt.Errorf("unsupported scan target %T", d)
		}
	}
	return nil
}

type fakeQuerier struct {
	rows [][]any
}

func (q *fakeQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return &fakeRows{rows: q.rows}, nil
}

func (q *fakeQuerier) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func TestPostgresStoreReadAfterSQL(t *testing.T) {
	s := NewPostgresStore(nil, "")

	query, args, err := s.readAfterSQL(41, 50)
	require.NoError(t, err)

	assert.Contains(t, query, `FROM "geo_event_log"`)
	assert.Contains(t, query, `"id" > $1`)
	assert.Contains(t, query, `ORDER BY "id" ASC`)
	assert.Contains(t, query, "LIMIT")
	require.NotEmpty(t, args)
	assert.EqualValues(t, 41, args[0])
}

func TestPostgresStoreGetSQL(t *testing.T) {
	s := NewPostgresStore(nil, "custom_event_log")

	query, args, err := s.getSQL([]int64{7, 9})
	require.NoError(t, err)

	assert.Contains(t, query, `FROM "custom_event_log"`)
	assert.Contains(t, query, `"id" IN ($1, $2)`)
	assert.Len(t, args, 2)
}

func TestPostgresStoreMaxIDSQL(t *testing.T) {
	s := NewPostgresStore(nil, "")

	query, _, err := s.maxIDSQL()
	require.NoError(t, err)
	assert.Contains(t, query, `COALESCE(MAX("id")`)
}

func TestPostgresStoreReadAfterDecodesRows(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	db := &fakeQuerier{rows: [][]any{
		{int64(1), at, KindRepositoryDeleted, []byte(`{"project_id":7}`)},
		{int64(2), at, nil, nil},
		{int64(3), at, "mystery_event", []byte(`{}`)},
		{int64(4), at, KindRepositoryCreated, nil},
	}}

	entries, err := NewPostgresStore(db, "").ReadAfter(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.IsType(t, RepositoryDeleted{}, entries[0].Payload)
	assert.Equal(t, Unknown{}, entries[1].Payload, "NULL kind is skipped as unknown")
	assert.Equal(t, Unknown{RawKind: "mystery_event"}, entries[2].Payload)
	assert.Equal(t, Unknown{RawKind: KindRepositoryCreated}, entries[3].Payload)
	assert.Equal(t, int64(2), entries[1].ID)
	assert.Equal(t, at, entries[1].CreatedAt)
}
