// Package dispatch turns event log entries into replication jobs.
//
// Every known payload maps to exactly one job for a named worker; the
// receiving side is expected to be idempotent, since a crash between
// enqueue and checkpoint replays the entry. Project-scoped events outside
// the node's selective sync scope are consumed without a job.
package dispatch

import "context"

// Replication workers a job can target
const (
	WorkerProjectSync             = "geo_project_sync"
	WorkerRepositoryDestroy       = "geo_repository_destroy"
	WorkerRenameRepository        = "geo_rename_repository"
	WorkerRepositoriesCleanUp     = "geo_repositories_clean_up"
	WorkerHashedStorageMigration  = "geo_hashed_storage_migration"
	WorkerResetChecksum           = "geo_reset_checksum"
	WorkerCacheInvalidation       = "geo_cache_invalidation"
	WorkerContainerRepositorySync = "geo_container_repository_sync"
	WorkerFileRemoval             = "geo_file_removal"
)

// Job is one unit of asynchronous replication work
type Job struct {
	Worker     string                 `msgpack:"worker" json:"worker"`
	ResourceID int64                  `msgpack:"resource_id" json:"resource_id"`
	EventID    int64                  `msgpack:"event_id" json:"event_id"`
	Params     map[string]interface{} `msgpack:"params" json:"params"`
}

// Enqueuer hands jobs to the replication queue
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// EnqueuerFunc adapts a function to Enqueuer
type EnqueuerFunc func(ctx context.Context, job Job) error

func (f EnqueuerFunc) Enqueue(ctx context.Context, job Job) error { return f(ctx, job) }
