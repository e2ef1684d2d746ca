package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// DefaultTable is the event log table on the primary database
const DefaultTable = "geo_event_log"

var pg = goqu.Dialect("postgres")

// Querier is the subset of pgxpool.Pool the store needs
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ Querier = (*pgxpool.Pool)(nil)

// PostgresStore reads the event log from a PostgreSQL table with columns
// (id bigint, created_at timestamptz, kind text, payload jsonb). A NULL
// kind or payload decodes as Unknown.
type PostgresStore struct {
	db    Querier
	table string
}

// NewPostgresStore creates a store over table; empty table selects DefaultTable
func NewPostgresStore(db Querier, table string) *PostgresStore {
	if table == "" {
		table = DefaultTable
	}
	return &PostgresStore{db: db, table: table}
}

// ReadAfter returns up to limit entries with id > afterID
func (s *PostgresStore) ReadAfter(ctx context.Context, afterID int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}

	query, args, err := s.readAfterSQL(afterID, limit)
	if err != nil {
		return nil, err
	}

	return s.queryEntries(ctx, query, args)
}

// Get looks up entries by exact ID in a single query
func (s *PostgresStore) Get(ctx context.Context, ids []int64) ([]Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := s.getSQL(ids)
	if err != nil {
		return nil, err
	}

	return s.queryEntries(ctx, query, args)
}

// MaxID returns the highest committed id
func (s *PostgresStore) MaxID(ctx context.Context) (int64, error) {
	query, args, err := s.maxIDSQL()
	if err != nil {
		return 0, err
	}

	var maxID int64
	if err := s.db.QueryRow(ctx, query, args...).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("failed to query max event id: %w", err)
	}
	return maxID, nil
}

func (s *PostgresStore) selectEntries() *goqu.SelectDataset {
	return pg.From(s.table).
		Select("id", "created_at", "kind", "payload").
		Order(goqu.C("id").Asc()).
		Prepared(true)
}

func (s *PostgresStore) readAfterSQL(afterID int64, limit int) (string, []interface{}, error) {
	return s.selectEntries().
		Where(goqu.C("id").Gt(afterID)).
		Limit(uint(limit)).
		ToSQL()
}

func (s *PostgresStore) getSQL(ids []int64) (string, []interface{}, error) {
	return s.selectEntries().
		Where(goqu.C("id").In(ids)).
		ToSQL()
}

func (s *PostgresStore) maxIDSQL() (string, []interface{}, error) {
	return pg.From(s.table).
		Select(goqu.COALESCE(goqu.MAX("id"), 0)).
		Prepared(true).
		ToSQL()
}

func (s *PostgresStore) queryEntries(ctx context.Context, query string, args []interface{}) ([]Entry, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			id        int64
			createdAt time.Time
			kindCol   *string
			body      []byte
		)
		if err := rows.Scan(&id, &createdAt, &kindCol, &body); err != nil {
			return nil, fmt.Errorf("failed to scan event log row: %w", err)
		}

		// A NULL kind is an event whose payload row is gone
		kind := ""
		if kindCol != nil {
			kind = *kindCol
		}

		payload, err := DecodePayload(kind, body, json.Unmarshal)
		if err != nil {
			log.Warn().Err(err).Int64("event_id", id).Str("kind", kind).Msg("Failed to decode event log payload")
			payload = Unknown{RawKind: kind}
		}

		entries = append(entries, Entry{ID: id, CreatedAt: createdAt, Payload: payload})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate event log rows: %w", err)
	}

	return entries, nil
}
