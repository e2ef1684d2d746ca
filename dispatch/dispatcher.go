package dispatch

import (
	"context"
	"fmt"

	"github.com/maxpert/logcursor/eventlog"
	"github.com/maxpert/logcursor/selective"
	"github.com/maxpert/logcursor/telemetry"
	"github.com/rs/zerolog/log"
)

// Outcome is what Handle did with an entry
type Outcome int

const (
	// Dispatched means a job was enqueued
	Dispatched Outcome = iota
	// Suppressed means the project is outside selective sync or gone
	Suppressed
	// SkippedUnknown means the payload was missing or not understood
	SkippedUnknown
	// Ignored means the event is addressed to another node
	Ignored
)

func (o Outcome) String() string {
	switch o {
	case Dispatched:
		return "dispatched"
	case Suppressed:
		return "suppressed"
	case SkippedUnknown:
		return "skipped_unknown"
	case Ignored:
		return "ignored"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Dispatcher maps entries to jobs for one node. Resolved projects are kept
// per batch, so it is meant to be used by a single goroutine.
type Dispatcher struct {
	node     selective.Node
	policy   *selective.Policy
	resolver selective.ProjectResolver
	enqueuer Enqueuer

	projects map[int64]selective.Project
	resolved map[int64]bool
}

// New creates a dispatcher for node. resolver may be nil when the node syncs
// everything.
func New(node selective.Node, resolver selective.ProjectResolver, enqueuer Enqueuer) (*Dispatcher, error) {
	policy, err := selective.NewPolicy(node)
	if err != nil {
		return nil, err
	}
	if !policy.SyncsEverything() && resolver == nil {
		return nil, fmt.Errorf("selective sync on node %s requires a project resolver", node.Name)
	}

	return &Dispatcher{
		node:     node,
		policy:   policy,
		resolver: resolver,
		enqueuer: enqueuer,
		projects: make(map[int64]selective.Project),
		resolved: make(map[int64]bool),
	}, nil
}

// filtered reports whether p is subject to selective sync
func filtered(p eventlog.Payload) (int64, bool) {
	// A deleted project has nothing left to resolve and must always be removed
	if _, ok := p.(eventlog.RepositoryDeleted); ok {
		return 0, false
	}
	return eventlog.ProjectID(p)
}

// Prepare resolves the projects of a whole batch with a single lookup, so
// filtering costs the same no matter how many entries are suppressed.
func (d *Dispatcher) Prepare(ctx context.Context, entries []eventlog.Entry) error {
	clear(d.projects)
	clear(d.resolved)

	if d.policy.SyncsEverything() {
		return nil
	}

	var ids []int64
	for _, e := range entries {
		if id, ok := filtered(e.Payload); ok && !d.resolved[id] {
			d.resolved[id] = true
			ids = append(ids, id)
		}
	}

	return d.resolve(ctx, ids)
}

func (d *Dispatcher) resolve(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	found, err := d.resolver.Lookup(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to resolve %d projects: %w", len(ids), err)
	}
	for id, p := range found {
		d.projects[id] = p
	}
	return nil
}

// inScope checks a project against selective sync and reports a reason when
// it is not
func (d *Dispatcher) inScope(ctx context.Context, projectID int64) (bool, string, error) {
	if d.policy.SyncsEverything() {
		return true, "", nil
	}

	// Entries outside a prepared batch are resolved on their own
	if !d.resolved[projectID] {
		d.resolved[projectID] = true
		if err := d.resolve(ctx, []int64{projectID}); err != nil {
			return false, "", err
		}
	}

	project, ok := d.projects[projectID]
	if !ok {
		return false, "project_missing", nil
	}
	if !d.policy.Includes(project) {
		return false, "selective_sync", nil
	}
	return true, "", nil
}

// Handle dispatches one entry. An error means the job was not enqueued and
// the entry must be retried.
func (d *Dispatcher) Handle(ctx context.Context, e eventlog.Entry) (Outcome, error) {
	kind := e.Kind()
	telemetry.EventsProcessedTotal.With(kind).Inc()

	if projectID, ok := filtered(e.Payload); ok {
		in, reason, err := d.inScope(ctx, projectID)
		if err != nil {
			return Suppressed, err
		}
		if !in {
			telemetry.EventsSuppressedTotal.With(reason).Inc()
			log.Debug().
				Int64("event_id", e.ID).
				Str("kind", kind).
				Int64("project_id", projectID).
				Str("reason", reason).
				Msg("Skipped event, project not in selective sync scope")
			return Suppressed, nil
		}
	}

	job, outcome := d.jobFor(e)
	if outcome != Dispatched {
		return outcome, nil
	}

	if err := d.enqueuer.Enqueue(ctx, job); err != nil {
		return outcome, fmt.Errorf("failed to enqueue %s for event %d: %w", job.Worker, e.ID, err)
	}

	telemetry.JobsEnqueuedTotal.With(job.Worker).Inc()
	log.Debug().
		Int64("event_id", e.ID).
		Str("kind", kind).
		Str("worker", job.Worker).
		Int64("resource_id", job.ResourceID).
		Msg("Enqueued replication job")
	return Dispatched, nil
}

func (d *Dispatcher) jobFor(e eventlog.Entry) (Job, Outcome) {
	job := Job{EventID: e.ID}

	switch ev := e.Payload.(type) {
	case eventlog.RepositoryCreated:
		job.Worker = WorkerProjectSync
		job.ResourceID = ev.ProjectID
		job.Params = map[string]interface{}{
			"sync_repository": true,
			"sync_wiki":       true,
		}

	case eventlog.RepositoryUpdated:
		job.Worker = WorkerProjectSync
		job.ResourceID = ev.ProjectID
		switch ev.Source {
		case eventlog.SourceWiki:
			job.Params = map[string]interface{}{"sync_wiki": true}
		case eventlog.SourceDesign:
			job.Params = map[string]interface{}{"sync_design": true}
		default:
			job.Params = map[string]interface{}{"sync_repository": true}
		}
		if ev.Ref != "" {
			job.Params["ref"] = ev.Ref
		}

	case eventlog.RepositoryDeleted:
		job.Worker = WorkerRepositoryDestroy
		job.ResourceID = ev.ProjectID
		job.Params = map[string]interface{}{
			"project_name":   ev.DeletedProjectName,
			"disk_path":      ev.DeletedPath,
			"wiki_disk_path": ev.DeletedWikiPath,
			"storage_name":   ev.RepositoryStorageName,
		}

	case eventlog.RepositoryRenamed:
		job.Worker = WorkerRenameRepository
		job.ResourceID = ev.ProjectID
		job.Params = map[string]interface{}{
			"old_path_with_namespace": ev.OldPathWithNamespace,
			"new_path_with_namespace": ev.NewPathWithNamespace,
		}

	case eventlog.RepositoriesChanged:
		if ev.GeoNodeID != d.node.ID {
			log.Debug().
				Int64("event_id", e.ID).
				Int64("geo_node_id", ev.GeoNodeID).
				Msg("Ignored repositories changed event for another node")
			telemetry.EventsSuppressedTotal.With("other_node").Inc()
			return job, Ignored
		}
		job.Worker = WorkerRepositoriesCleanUp
		job.ResourceID = ev.GeoNodeID

	case eventlog.HashedStorageMigrated:
		job.Worker = WorkerHashedStorageMigration
		job.ResourceID = ev.ProjectID
		job.Params = map[string]interface{}{
			"old_disk_path":       ev.OldDiskPath,
			"new_disk_path":       ev.NewDiskPath,
			"old_storage_version": int64(ev.OldStorageVersion),
		}

	case eventlog.ResetChecksum:
		job.Worker = WorkerResetChecksum
		job.ResourceID = ev.ProjectID

	case eventlog.CacheInvalidation:
		job.Worker = WorkerCacheInvalidation
		job.Params = map[string]interface{}{"key": ev.Key}

	case eventlog.ContainerRepositoryUpdated:
		job.Worker = WorkerContainerRepositorySync
		job.ResourceID = ev.ContainerRepositoryID
		job.Params = map[string]interface{}{"name": ev.Name}

	case eventlog.JobArtifactDeleted:
		job.Worker = WorkerFileRemoval
		job.ResourceID = ev.JobArtifactID
		job.Params = map[string]interface{}{
			"file_type": "job_artifact",
			"file_path": ev.FilePath,
		}

	case eventlog.UploadDeleted:
		job.Worker = WorkerFileRemoval
		job.ResourceID = ev.UploadID
		job.Params = map[string]interface{}{
			"file_type": "upload",
			"file_path": ev.FilePath,
			"model":     ev.Model,
			"model_id":  ev.ModelID,
			"uploader":  ev.Uploader,
		}

	case eventlog.Unknown:
		return d.skipUnknown(e, ev.RawKind)

	case nil:
		return d.skipUnknown(e, "")

	default:
		return d.skipUnknown(e, e.Kind())
	}

	return job, Dispatched
}

func (d *Dispatcher) skipUnknown(e eventlog.Entry, kind string) (Job, Outcome) {
	telemetry.UnknownEventsTotal.Inc()
	log.Warn().
		Int64("event_id", e.ID).
		Str("kind", kind).
		Msg("Skipped event log entry with unknown or missing payload")
	return Job{}, SkippedUnknown
}
