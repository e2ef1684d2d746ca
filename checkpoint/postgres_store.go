package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/maxpert/logcursor/gaps"
)

// DefaultTable holds one row per cursor track on the tracking database
const DefaultTable = "geo_event_log_states"

var pg = goqu.Dialect("postgres")

// DB is the subset of pgxpool.Pool the store needs
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ DB = (*pgxpool.Pool)(nil)

// PostgresStore keeps checkpoints in a table with columns (track text primary
// key, last_processed_id bigint, high_water_mark bigint, gaps jsonb,
// updated_at timestamptz).
type PostgresStore struct {
	db    DB
	table string
	track string
}

// NewPostgresStore creates a store for track; empty values select defaults
func NewPostgresStore(db DB, table, track string) *PostgresStore {
	if table == "" {
		table = DefaultTable
	}
	if track == "" {
		track = DefaultTrack
	}
	return &PostgresStore{db: db, table: table, track: track}
}

func (s *PostgresStore) Load(ctx context.Context) (State, error) {
	query, args, err := s.loadSQL()
	if err != nil {
		return State{}, err
	}

	var (
		st        State
		rawGaps   []byte
		updatedAt time.Time
	)
	err = s.db.QueryRow(ctx, query, args...).Scan(&st.LastProcessedID, &st.HighWaterMark, &rawGaps, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("failed to read checkpoint %s: %w", s.track, err)
	}

	if len(rawGaps) > 0 {
		var pending []gaps.Gap
		if err := json.Unmarshal(rawGaps, &pending); err != nil {
			return State{}, fmt.Errorf("failed to decode gaps of checkpoint %s: %w", s.track, err)
		}
		st.Gaps = pending
	}
	st.UpdatedAt = updatedAt.UTC()
	return st, nil
}

func (s *PostgresStore) Save(ctx context.Context, st State) error {
	prev, err := s.Load(ctx)
	if err != nil {
		return err
	}
	if err := checkAdvance(prev, st); err != nil {
		return err
	}

	query, args, err := s.saveSQL(st)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to write checkpoint %s: %w", s.track, err)
	}
	return nil
}

func (s *PostgresStore) Reset(ctx context.Context) error {
	query, args, err := pg.Delete(s.table).
		Where(goqu.C("track").Eq(s.track)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to reset checkpoint %s: %w", s.track, err)
	}
	return nil
}

func (s *PostgresStore) loadSQL() (string, []interface{}, error) {
	return pg.From(s.table).
		Select("last_processed_id", "high_water_mark", "gaps", "updated_at").
		Where(goqu.C("track").Eq(s.track)).
		Prepared(true).
		ToSQL()
}

func (s *PostgresStore) saveSQL(st State) (string, []interface{}, error) {
	pending := st.Gaps
	if pending == nil {
		pending = []gaps.Gap{}
	}
	rawGaps, err := json.Marshal(pending)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode gaps: %w", err)
	}

	row := goqu.Record{
		"last_processed_id": st.LastProcessedID,
		"high_water_mark":   st.HighWaterMark,
		"gaps":              string(rawGaps),
		"updated_at":        st.UpdatedAt,
	}
	insert := goqu.Record{"track": s.track}
	for k, v := range row {
		insert[k] = v
	}

	return pg.Insert(s.table).
		Rows(insert).
		OnConflict(goqu.DoUpdate("track", row)).
		Prepared(true).
		ToSQL()
}
