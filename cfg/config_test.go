package cfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/maxpert/logcursor/selective"
)

func validConfig(dataDir string) *Configuration {
	return &Configuration{
		InstanceID: "test",
		NodeName:   "secondary-1",
		NodeSource: BackendStatic,
		DataDir:    dataDir,
		Node:       selective.Node{ID: 2, Name: "secondary-1", Enabled: true},
		Cursor: CursorConfiguration{
			BatchSize:                     50,
			GracePeriodSeconds:            600,
			MaxGapSize:                    10000,
			MaxErrorDurationSeconds:       1800,
			SecondaryCheckIntervalSeconds: 60,
			EventLogStore:                 BackendPebble,
			CheckpointStore:               BackendPebble,
			ProjectCacheSize:              100,
		},
		Lease: LeaseConfiguration{
			Backend:    BackendMemory,
			TTLSeconds: 60,
		},
		Sink: SinkConfiguration{
			Type: "redis",
		},
		Prometheus: PrometheusConfiguration{
			Enabled: true,
			Port:    9168,
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig("./test-data")

	if err := Validate(); err != nil {
		t.Errorf("Expected no error for valid config, got: %v", err)
	}
}

func TestValidate_DefaultConfig(t *testing.T) {
	if err := Validate(); err != nil {
		t.Errorf("Expected default config to be valid, got: %v", err)
	}
}

func TestValidate_Invalid(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	tests := []struct {
		name   string
		mutate func(c *Configuration)
	}{
		{"batch size", func(c *Configuration) { c.Cursor.BatchSize = 0 }},
		{"grace period", func(c *Configuration) { c.Cursor.GracePeriodSeconds = 0 }},
		{"outdated shorter than grace", func(c *Configuration) { c.Cursor.OutdatedPeriodSeconds = 60 }},
		{"max gap size", func(c *Configuration) { c.Cursor.MaxGapSize = 0 }},
		{"max error duration", func(c *Configuration) { c.Cursor.MaxErrorDurationSeconds = 0 }},
		{"secondary check interval", func(c *Configuration) { c.Cursor.SecondaryCheckIntervalSeconds = 0 }},
		{"event log store", func(c *Configuration) { c.Cursor.EventLogStore = "mysql" }},
		{"checkpoint store", func(c *Configuration) { c.Cursor.CheckpointStore = "" }},
		{"lease backend", func(c *Configuration) { c.Lease.Backend = "etcd" }},
		{"lease ttl", func(c *Configuration) { c.Lease.TTLSeconds = 0 }},
		{"redis lease without address", func(c *Configuration) {
			c.Lease.Backend = BackendRedis
			c.Lease.RedisAddress = ""
		}},
		{"postgres store without dsn", func(c *Configuration) { c.Cursor.EventLogStore = BackendPostgres }},
		{"postgres nodes without dsn", func(c *Configuration) { c.NodeSource = BackendPostgres }},
		{"selective sync without dsn", func(c *Configuration) {
			c.Node.SelectiveSyncType = selective.SyncNamespaces
		}},
		{"unknown selective sync", func(c *Configuration) { c.Node.SelectiveSyncType = "regions" }},
		{"sink type", func(c *Configuration) { c.Sink.Type = "" }},
		{"mock sink", func(c *Configuration) { c.Sink.Type = SinkMock }},
		{"project cache size", func(c *Configuration) { c.Cursor.ProjectCacheSize = 0 }},
		{"project cache ttl", func(c *Configuration) { c.Cursor.ProjectCacheTTLSeconds = -1 }},
		{"prometheus port", func(c *Configuration) { c.Prometheus.Port = 70000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Config = validConfig("./test-data")
			tt.mutate(Config)

			if err := Validate(); err == nil {
				t.Errorf("Expected error for invalid %s", tt.name)
			}
		})
	}
}

func TestValidate_SelectiveSyncWithDSN(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig("./test-data")
	Config.Node.SelectiveSyncType = selective.SyncShards
	Config.Node.Shards = []string{"default"}
	Config.Postgres.DSN = "postgres://localhost/gitlabhq_production"

	if err := Validate(); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
}

func TestValidate_SharedStoresNeedRedisLease(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	tests := []struct {
		name   string
		mutate func(c *Configuration)
	}{
		{"postgres checkpoints", func(c *Configuration) { c.Cursor.CheckpointStore = BackendPostgres }},
		{"postgres event log", func(c *Configuration) { c.Cursor.EventLogStore = BackendPostgres }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Config = validConfig("./test-data")
			Config.Postgres.DSN = "postgres://localhost/gitlabhq_production"
			tt.mutate(Config)

			if err := Validate(); err == nil {
				t.Error("Expected memory lease to be rejected with postgres backed stores")
			}

			Config.Lease.Backend = BackendRedis
			Config.Lease.RedisAddress = "localhost:6379"
			if err := Validate(); err != nil {
				t.Errorf("Expected redis lease to be accepted, got: %v", err)
			}
		})
	}
}

func TestProjectCacheTTL(t *testing.T) {
	c := CursorConfiguration{ProjectCacheTTLSeconds: 90}
	if c.ProjectCacheTTL().Seconds() != 90 {
		t.Errorf("Expected 90s, got %s", c.ProjectCacheTTL())
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	tempDir := filepath.Join(t.TempDir(), "data")
	Config = validConfig(tempDir)
	Config.InstanceID = ""

	if err := Load("non-existent-file.toml", Overrides{}); err != nil {
		t.Errorf("Expected no error for non-existent file, got: %v", err)
	}

	if Config.InstanceID == "" {
		t.Error("Expected instance ID to be auto-generated")
	}

	if _, err := os.Stat(tempDir); os.IsNotExist(err) {
		t.Error("Data directory was not created")
	}
}

func TestLoad_File(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
data_dir = "` + filepath.ToSlash(filepath.Join(dir, "data")) + `"
node_name = "eu-west"

[geo_node]
id = 3
enabled = true
selective_sync_type = "namespaces"
namespaces = ["gitlab-org", "customers/*"]

[cursor]
batch_size = 200
gap_grace_period_seconds = 300

[lease]
backend = "redis"
redis_address = "redis:6379"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	Config = validConfig("")
	if err := Load(path, Overrides{}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if Config.NodeName != "eu-west" {
		t.Errorf("Expected node name eu-west, got %s", Config.NodeName)
	}
	if Config.Node.ID != 3 || Config.Node.SelectiveSyncType != selective.SyncNamespaces {
		t.Errorf("Unexpected geo node %+v", Config.Node)
	}
	if len(Config.Node.Namespaces) != 2 {
		t.Errorf("Expected 2 namespaces, got %v", Config.Node.Namespaces)
	}
	if Config.Cursor.BatchSize != 200 {
		t.Errorf("Expected batch size 200, got %d", Config.Cursor.BatchSize)
	}
	if Config.Cursor.GracePeriod().Minutes() != 5 {
		t.Errorf("Expected 5 minute grace period, got %s", Config.Cursor.GracePeriod())
	}
	// Values missing from the file keep their previous value
	if Config.Cursor.MaxGapSize != 10000 {
		t.Errorf("Expected max gap size to be kept, got %d", Config.Cursor.MaxGapSize)
	}
	if Config.Lease.Backend != BackendRedis || Config.Lease.RedisAddress != "redis:6379" {
		t.Errorf("Unexpected lease config %+v", Config.Lease)
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	tempDir := filepath.Join(t.TempDir(), "override")
	Config = validConfig("./default-data")

	err := Load("", Overrides{DataDir: tempDir, NodeName: "override-node", Verbose: true, Stdout: true})
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	if Config.DataDir != tempDir {
		t.Errorf("Expected data dir %s, got %s", tempDir, Config.DataDir)
	}
	if Config.NodeName != "override-node" {
		t.Errorf("Expected node name override-node, got %s", Config.NodeName)
	}
	if !Config.Logging.Verbose || !Config.Logging.Stdout {
		t.Errorf("Expected logging overrides, got %+v", Config.Logging)
	}
}

func TestGenerateInstanceID(t *testing.T) {
	id1, err := generateInstanceID()
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	if len(id1) != 16 {
		t.Errorf("Expected 16 hex characters, got %q", id1)
	}

	// Deterministic for the same machine
	id2, err := generateInstanceID()
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	if id1 != id2 {
		t.Error("Instance ID should be deterministic for same machine")
	}
}

func TestTrackingDSNOrDefault(t *testing.T) {
	c := PostgresConfiguration{DSN: "primary"}
	if c.TrackingDSNOrDefault() != "primary" {
		t.Errorf("Expected primary dsn fallback, got %s", c.TrackingDSNOrDefault())
	}

	c.TrackingDSN = "tracking"
	if c.TrackingDSNOrDefault() != "tracking" {
		t.Errorf("Expected tracking dsn, got %s", c.TrackingDSNOrDefault())
	}
}

func BenchmarkValidate(b *testing.B) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig("./test-data")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Validate()
	}
}
