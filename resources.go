package main

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/maxpert/logcursor/cfg"
	"github.com/maxpert/logcursor/checkpoint"
	"github.com/maxpert/logcursor/dispatch"
	"github.com/maxpert/logcursor/eventlog"
	"github.com/maxpert/logcursor/lease"
	"github.com/maxpert/logcursor/selective"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// resources opens backends on demand and closes them in reverse order
type resources struct {
	config *cfg.Configuration

	primary  *pgxpool.Pool
	tracking *pgxpool.Pool
	closers  []io.Closer
}

func newResources(config *cfg.Configuration) *resources {
	return &resources{config: config}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func (r *resources) onClose(c io.Closer) {
	r.closers = append(r.closers, c)
}

// Close releases everything opened so far
func (r *resources) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close resource")
		}
	}
	r.closers = nil
}

func (r *resources) pool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	if r.config.Postgres.MaxConns > 0 {
		poolConfig.MaxConns = r.config.Postgres.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	r.onClose(closerFunc(func() error { pool.Close(); return nil }))
	return pool, nil
}

// primaryPool connects to the primary database holding the event log,
// projects and nodes
func (r *resources) primaryPool(ctx context.Context) (*pgxpool.Pool, error) {
	if r.primary != nil {
		return r.primary, nil
	}
	pool, err := r.pool(ctx, r.config.Postgres.DSN)
	if err != nil {
		return nil, err
	}
	r.primary = pool
	return pool, nil
}

// trackingPool connects to the database holding cursor checkpoints
func (r *resources) trackingPool(ctx context.Context) (*pgxpool.Pool, error) {
	if r.config.Postgres.TrackingDSNOrDefault() == r.config.Postgres.DSN {
		return r.primaryPool(ctx)
	}
	if r.tracking != nil {
		return r.tracking, nil
	}
	pool, err := r.pool(ctx, r.config.Postgres.TrackingDSNOrDefault())
	if err != nil {
		return nil, err
	}
	r.tracking = pool
	return pool, nil
}

func (r *resources) eventLog(ctx context.Context) (eventlog.Store, error) {
	switch r.config.Cursor.EventLogStore {
	case cfg.BackendPostgres:
		pool, err := r.primaryPool(ctx)
		if err != nil {
			return nil, err
		}
		return eventlog.NewPostgresStore(pool, r.config.Postgres.EventLogTable), nil
	default:
		store, err := eventlog.NewPebbleStore(r.config.DataDir)
		if err != nil {
			return nil, err
		}
		r.onClose(store)
		return store, nil
	}
}

func (r *resources) checkpoints(ctx context.Context) (checkpoint.Store, error) {
	switch r.config.Cursor.CheckpointStore {
	case cfg.BackendPostgres:
		pool, err := r.trackingPool(ctx)
		if err != nil {
			return nil, err
		}
		return checkpoint.NewPostgresStore(pool, r.config.Postgres.StateTable, r.config.Cursor.Track), nil
	default:
		store, err := checkpoint.OpenPebbleStore(r.config.DataDir, r.config.Cursor.Track)
		if err != nil {
			return nil, err
		}
		r.onClose(store)
		return store, nil
	}
}

func (r *resources) lease() lease.Lease {
	c := r.config.Lease
	if c.Backend == cfg.BackendRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     c.RedisAddress,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})
		r.onClose(client)
		return lease.NewRedisLease(client, c.Key, c.TTL())
	}
	return lease.NewMemoryLease(c.Key, c.TTL(), nil)
}

func (r *resources) nodes(ctx context.Context) (selective.NodeProvider, error) {
	if r.config.NodeSource == cfg.BackendPostgres {
		pool, err := r.primaryPool(ctx)
		if err != nil {
			return nil, err
		}
		return selective.NewPostgresNodeProvider(pool, r.config.NodeName), nil
	}
	return selective.StaticNodeProvider{Node: r.config.Node}, nil
}

// resolver is nil when projects never need resolving
func (r *resources) resolver(ctx context.Context) (selective.ProjectResolver, error) {
	if r.config.Postgres.DSN == "" {
		return nil, nil
	}
	pool, err := r.primaryPool(ctx)
	if err != nil {
		return nil, err
	}
	cached, err := selective.NewCachedResolver(
		selective.NewPostgresResolver(pool),
		r.config.Cursor.ProjectCacheSize,
		r.config.Cursor.ProjectCacheTTL(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create project cache: %w", err)
	}
	return cached, nil
}

func (r *resources) enqueuer() (*dispatch.SinkEnqueuer, error) {
	s, err := dispatch.NewSink(r.config.Sink)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s sink: %w", r.config.Sink.Type, err)
	}
	e := dispatch.NewSinkEnqueuer(s, r.config.Sink)
	r.onClose(e)
	return e, nil
}
