package selective

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultProjectCacheTTL bounds how long a moved project keeps its old scope
const DefaultProjectCacheTTL = 5 * time.Minute

// Project holds the attributes selective sync is decided on
type Project struct {
	ID                int64
	NamespacePath     string
	RepositoryStorage string
}

// ProjectResolver looks up many projects at once. Unknown IDs are absent
// from the result.
type ProjectResolver interface {
	Lookup(ctx context.Context, ids []int64) (map[int64]Project, error)
}

// StaticResolver resolves from a fixed map
type StaticResolver map[int64]Project

func (r StaticResolver) Lookup(_ context.Context, ids []int64) (map[int64]Project, error) {
	out := make(map[int64]Project, len(ids))
	for _, id := range ids {
		if p, ok := r[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// CachedResolver keeps recently resolved projects in an LRU and asks the
// inner resolver once per Lookup for whatever is missing. Entries expire
// after ttl so namespace and shard moves are picked up.
type CachedResolver struct {
	inner ProjectResolver
	cache *expirable.LRU[int64, Project]
}

// NewCachedResolver wraps inner with an LRU of size entries. A zero ttl
// selects DefaultProjectCacheTTL.
func NewCachedResolver(inner ProjectResolver, size int, ttl time.Duration) (*CachedResolver, error) {
	if size <= 0 {
		return nil, fmt.Errorf("project cache size must be positive, got %d", size)
	}
	if ttl <= 0 {
		ttl = DefaultProjectCacheTTL
	}
	return &CachedResolver{
		inner: inner,
		cache: expirable.NewLRU[int64, Project](size, nil, ttl),
	}, nil
}

func (r *CachedResolver) Lookup(ctx context.Context, ids []int64) (map[int64]Project, error) {
	out := make(map[int64]Project, len(ids))
	var missing []int64
	seen := make(map[int64]struct{}, len(ids))

	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if p, ok := r.cache.Get(id); ok {
			out[id] = p
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) == 0 {
		return out, nil
	}

	found, err := r.inner.Lookup(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, p := range found {
		r.cache.Add(id, p)
		out[id] = p
	}
	return out, nil
}
