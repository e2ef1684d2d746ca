package selective

import (
	"context"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var pg = goqu.Dialect("postgres")

// Querier is the subset of pgxpool.Pool used here
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ Querier = (*pgxpool.Pool)(nil)

// namespaceRoute joins a namespace id column to its full path in routes
func namespaceRoute(namespaceCol string) goqu.Expression {
	return goqu.And(
		goqu.I("routes.source_id").Eq(goqu.I(namespaceCol)),
		goqu.I("routes.source_type").Eq("Namespace"),
	)
}

// PostgresResolver resolves projects from the primary database
type PostgresResolver struct {
	db Querier
}

func NewPostgresResolver(db Querier) *PostgresResolver {
	return &PostgresResolver{db: db}
}

func (r *PostgresResolver) Lookup(ctx context.Context, ids []int64) (map[int64]Project, error) {
	out := make(map[int64]Project, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := r.lookupSQL(ids)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %d projects: %w", len(ids), err)
	}
	defer rows.Close()

	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.NamespacePath, &p.RepositoryStorage); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate projects: %w", err)
	}
	return out, nil
}

func (r *PostgresResolver) lookupSQL(ids []int64) (string, []interface{}, error) {
	return pg.From("projects").
		Select("projects.id", "routes.path", "projects.repository_storage").
		InnerJoin(goqu.T("routes"), goqu.On(namespaceRoute("projects.namespace_id"))).
		Where(goqu.I("projects.id").In(ids)).
		Prepared(true).
		ToSQL()
}

// PostgresNodeProvider reads the node named name from geo_nodes
type PostgresNodeProvider struct {
	db   Querier
	name string
}

func NewPostgresNodeProvider(db Querier, name string) *PostgresNodeProvider {
	return &PostgresNodeProvider{db: db, name: name}
}

func (p *PostgresNodeProvider) CurrentNode(ctx context.Context) (Node, error) {
	query, args, err := p.nodeSQL()
	if err != nil {
		return Node{}, err
	}

	var (
		n        Node
		syncType *string
	)
	err = p.db.QueryRow(ctx, query, args...).Scan(&n.ID, &n.Name, &n.Primary, &n.Enabled, &syncType, &n.Shards)
	if errors.Is(err, pgx.ErrNoRows) {
		return Node{}, fmt.Errorf("%w: %s", ErrNodeNotFound, p.name)
	}
	if err != nil {
		return Node{}, fmt.Errorf("failed to load geo node %s: %w", p.name, err)
	}
	if syncType != nil {
		n.SelectiveSyncType = SyncType(*syncType)
	}

	if n.SelectiveSyncType == SyncNamespaces {
		if n.Namespaces, err = p.namespaces(ctx, n.ID); err != nil {
			return Node{}, err
		}
	}
	return n, nil
}

func (p *PostgresNodeProvider) namespaces(ctx context.Context, nodeID int64) ([]string, error) {
	query, args, err := p.namespacesSQL(nodeID)
	if err != nil {
		return nil, err
	}

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load namespaces of geo node %d: %w", nodeID, err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (p *PostgresNodeProvider) nodeSQL() (string, []interface{}, error) {
	return pg.From("geo_nodes").
		Select(
			"id", "name", "primary", "enabled", "selective_sync_type",
			goqu.COALESCE(goqu.C("selective_sync_shards"), goqu.L("'{}'::text[]")),
		).
		Where(goqu.C("name").Eq(p.name)).
		Limit(1).
		Prepared(true).
		ToSQL()
}

func (p *PostgresNodeProvider) namespacesSQL(nodeID int64) (string, []interface{}, error) {
	return pg.From("geo_node_namespace_links").
		Select("routes.path").
		InnerJoin(goqu.T("routes"), goqu.On(namespaceRoute("geo_node_namespace_links.namespace_id"))).
		Where(goqu.I("geo_node_namespace_links.geo_node_id").Eq(nodeID)).
		Order(goqu.I("routes.path").Asc()).
		Prepared(true).
		ToSQL()
}
