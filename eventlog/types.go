package eventlog

import "time"

// Event kinds as stored alongside each log entry
const (
	KindRepositoryCreated          = "repository_created"
	KindRepositoryUpdated          = "repository_updated"
	KindRepositoryDeleted          = "repository_deleted"
	KindRepositoryRenamed          = "repository_renamed"
	KindRepositoriesChanged        = "repositories_changed"
	KindHashedStorageMigrated      = "hashed_storage_migrated"
	KindResetChecksum              = "reset_checksum"
	KindCacheInvalidation          = "cache_invalidation"
	KindContainerRepositoryUpdated = "container_repository_updated"
	KindJobArtifactDeleted         = "job_artifact_deleted"
	KindUploadDeleted              = "upload_deleted"
	KindUnknown                    = "unknown"
)

// Repository sources carried by RepositoryUpdated
const (
	SourceRepository = "repository"
	SourceWiki       = "wiki"
	SourceDesign     = "design"
)

// Entry is a single committed row of the primary's event log.
// IDs are assigned at commit time, so a reader may observe N+2 before N+1.
type Entry struct {
	ID        int64
	CreatedAt time.Time
	Payload   Payload
}

// Kind returns the payload kind, or KindUnknown when the payload is missing.
func (e Entry) Kind() string {
	if e.Payload == nil {
		return KindUnknown
	}
	return e.Payload.Kind()
}

// Payload is the closed set of event kinds an entry can reference.
// Implementations live in this package only.
type Payload interface {
	Kind() string
	isPayload()
}

type RepositoryCreated struct {
	ProjectID             int64  `msgpack:"project_id" json:"project_id"`
	RepositoryStorageName string `msgpack:"repository_storage_name" json:"repository_storage_name"`
	RepoPath              string `msgpack:"repo_path" json:"repo_path"`
	WikiPath              string `msgpack:"wiki_path" json:"wiki_path"`
	ProjectName           string `msgpack:"project_name" json:"project_name"`
}

type RepositoryUpdated struct {
	ProjectID int64  `msgpack:"project_id" json:"project_id"`
	Source    string `msgpack:"source" json:"source"`
	Ref       string `msgpack:"ref" json:"ref"`
}

type RepositoryDeleted struct {
	ProjectID             int64  `msgpack:"project_id" json:"project_id"`
	RepositoryStorageName string `msgpack:"repository_storage_name" json:"repository_storage_name"`
	DeletedPath           string `msgpack:"deleted_path" json:"deleted_path"`
	DeletedWikiPath       string `msgpack:"deleted_wiki_path" json:"deleted_wiki_path"`
	DeletedProjectName    string `msgpack:"deleted_project_name" json:"deleted_project_name"`
}

type RepositoryRenamed struct {
	ProjectID             int64  `msgpack:"project_id" json:"project_id"`
	RepositoryStorageName string `msgpack:"repository_storage_name" json:"repository_storage_name"`
	OldPathWithNamespace  string `msgpack:"old_path_with_namespace" json:"old_path_with_namespace"`
	NewPathWithNamespace  string `msgpack:"new_path_with_namespace" json:"new_path_with_namespace"`
}

// RepositoriesChanged asks one specific secondary to clean up repositories
// that fell out of its selective sync scope.
type RepositoriesChanged struct {
	GeoNodeID int64 `msgpack:"geo_node_id" json:"geo_node_id"`
}

type HashedStorageMigrated struct {
	ProjectID             int64  `msgpack:"project_id" json:"project_id"`
	RepositoryStorageName string `msgpack:"repository_storage_name" json:"repository_storage_name"`
	OldDiskPath           string `msgpack:"old_disk_path" json:"old_disk_path"`
	NewDiskPath           string `msgpack:"new_disk_path" json:"new_disk_path"`
	OldStorageVersion     int    `msgpack:"old_storage_version" json:"old_storage_version"`
	NewStorageVersion     int    `msgpack:"new_storage_version" json:"new_storage_version"`
}

type ResetChecksum struct {
	ProjectID int64 `msgpack:"project_id" json:"project_id"`
}

type CacheInvalidation struct {
	Key string `msgpack:"key" json:"key"`
}

type ContainerRepositoryUpdated struct {
	ContainerRepositoryID int64  `msgpack:"container_repository_id" json:"container_repository_id"`
	ProjectID             int64  `msgpack:"project_id" json:"project_id"`
	Name                  string `msgpack:"name" json:"name"`
}

type JobArtifactDeleted struct {
	JobArtifactID int64  `msgpack:"job_artifact_id" json:"job_artifact_id"`
	FilePath      string `msgpack:"file_path" json:"file_path"`
}

type UploadDeleted struct {
	UploadID int64  `msgpack:"upload_id" json:"upload_id"`
	FilePath string `msgpack:"file_path" json:"file_path"`
	Model    string `msgpack:"model_type" json:"model_type"`
	ModelID  int64  `msgpack:"model_id" json:"model_id"`
	Uploader string `msgpack:"uploader" json:"uploader"`
}

// Unknown stands in for a log row whose payload is missing or whose kind this
// build does not understand. RawKind keeps whatever kind was stored.
type Unknown struct {
	RawKind string
}

func (RepositoryCreated) Kind() string          { return KindRepositoryCreated }
func (RepositoryUpdated) Kind() string          { return KindRepositoryUpdated }
func (RepositoryDeleted) Kind() string          { return KindRepositoryDeleted }
func (RepositoryRenamed) Kind() string          { return KindRepositoryRenamed }
func (RepositoriesChanged) Kind() string        { return KindRepositoriesChanged }
func (HashedStorageMigrated) Kind() string      { return KindHashedStorageMigrated }
func (ResetChecksum) Kind() string              { return KindResetChecksum }
func (CacheInvalidation) Kind() string          { return KindCacheInvalidation }
func (ContainerRepositoryUpdated) Kind() string { return KindContainerRepositoryUpdated }
func (JobArtifactDeleted) Kind() string         { return KindJobArtifactDeleted }
func (UploadDeleted) Kind() string              { return KindUploadDeleted }
func (Unknown) Kind() string                    { return KindUnknown }

func (RepositoryCreated) isPayload()          {}
func (RepositoryUpdated) isPayload()          {}
func (RepositoryDeleted) isPayload()          {}
func (RepositoryRenamed) isPayload()          {}
func (RepositoriesChanged) isPayload()        {}
func (HashedStorageMigrated) isPayload()      {}
func (ResetChecksum) isPayload()              {}
func (CacheInvalidation) isPayload()          {}
func (ContainerRepositoryUpdated) isPayload() {}
func (JobArtifactDeleted) isPayload()         {}
func (UploadDeleted) isPayload()              {}
func (Unknown) isPayload()                    {}

// ProjectID returns the project a payload targets, if it targets one.
func ProjectID(p Payload) (int64, bool) {
	switch ev := p.(type) {
	case RepositoryCreated:
		return ev.ProjectID, true
	case RepositoryUpdated:
		return ev.ProjectID, true
	case RepositoryDeleted:
		return ev.ProjectID, true
	case RepositoryRenamed:
		return ev.ProjectID, true
	case HashedStorageMigrated:
		return ev.ProjectID, true
	case ResetChecksum:
		return ev.ProjectID, true
	case ContainerRepositoryUpdated:
		return ev.ProjectID, true
	default:
		return 0, false
	}
}
