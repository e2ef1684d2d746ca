package cfg

import (
	"fmt"
	"hash/fnv"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/maxpert/logcursor/selective"
	"github.com/rs/zerolog/log"
)

// Store backends
const (
	BackendPebble   = "pebble"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
	BackendStatic   = "static"
)

// Sink types. SinkMock is registered for tests and rejected by Validate.
const (
	SinkKafka = "kafka"
	SinkNats  = "nats"
	SinkRedis = "redis"
	SinkMock  = "mock"
)

// CursorConfiguration controls the event log cursor
type CursorConfiguration struct {
	Track                         string `toml:"track"`
	BatchSize                     int    `toml:"batch_size"`
	GracePeriodSeconds            int    `toml:"gap_grace_period_seconds"`
	OutdatedPeriodSeconds         int    `toml:"gap_outdated_period_seconds"` // 0 = same as grace period
	MaxGapSize                    int    `toml:"max_gap_size"`
	MaxErrorDurationSeconds       int    `toml:"max_error_duration_seconds"`
	SecondaryCheckIntervalSeconds int    `toml:"secondary_check_interval_seconds"`
	PollIntervalMS                int    `toml:"poll_interval_ms"` // Base sleep between cycles, before jitter
	EventLogStore                 string `toml:"event_log_store"`  // "pebble" (local development) or "postgres"
	CheckpointStore               string `toml:"checkpoint_store"` // "pebble" or "postgres"
	ProjectCacheSize              int    `toml:"project_cache_size"`
	ProjectCacheTTLSeconds        int    `toml:"project_cache_ttl_seconds"` // 0 = selective.DefaultProjectCacheTTL
}

// LeaseConfiguration controls the exclusive processing lease
type LeaseConfiguration struct {
	Backend       string `toml:"backend"` // "redis", or "memory" for a single process
	Key           string `toml:"key"`
	TTLSeconds    int    `toml:"ttl_seconds"`
	RedisAddress  string `toml:"redis_address"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
}

// PostgresConfiguration points at the primary (event log, projects, nodes)
// and tracking (checkpoints) databases
type PostgresConfiguration struct {
	DSN           string `toml:"dsn"`
	TrackingDSN   string `toml:"tracking_dsn"` // Defaults to DSN
	EventLogTable string `toml:"event_log_table"`
	StateTable    string `toml:"state_table"`
	MaxConns      int32  `toml:"max_conns"`
}

// SinkConfiguration describes where replication jobs are enqueued
type SinkConfiguration struct {
	Name            string   `toml:"name"`
	Type            string   `toml:"type"` // "kafka", "nats" or "redis"
	TopicPrefix     string   `toml:"topic_prefix"`
	Brokers         []string `toml:"brokers"`
	BatchSize       int      `toml:"batch_size"`
	NatsURL         string   `toml:"nats_url"`
	RedisAddress    string   `toml:"redis_address"`
	RedisStreamLen  int64    `toml:"redis_stream_max_len"`
	RetryInitialMS  int      `toml:"retry_initial_ms"`
	RetryMaxMS      int      `toml:"retry_max_ms"`
	RetryMultiplier float64  `toml:"retry_multiplier"`
	MaxRetries      int      `toml:"max_retries"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
	File    string `toml:"file"`   // Empty logs to stdout only
	Stdout  bool   `toml:"stdout"` // Mirror file logging to stdout
}

// PrometheusConfiguration for metrics and the admin endpoints
type PrometheusConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	Address     string `toml:"address"`
	Port        int    `toml:"port"`
	AdminSecret string `toml:"admin_secret"` // Empty disables admin auth
}

// Configuration is the main configuration structure
type Configuration struct {
	InstanceID string `toml:"instance_id"`
	NodeName   string `toml:"node_name"`
	NodeSource string `toml:"node_source"` // "static" or "postgres"
	DataDir    string `toml:"data_dir"`

	Node       selective.Node          `toml:"geo_node"`
	Cursor     CursorConfiguration     `toml:"cursor"`
	Lease      LeaseConfiguration      `toml:"lease"`
	Postgres   PostgresConfiguration   `toml:"postgres"`
	Sink       SinkConfiguration       `toml:"sink"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Overrides are command line values that win over the config file
type Overrides struct {
	DataDir  string
	NodeName string
	Verbose  bool
	Stdout   bool
}

// Default configuration
var Config = &Configuration{
	InstanceID: "", // Auto-generate
	NodeSource: BackendStatic,
	DataDir:    "./geo-log-cursor-data",

	Cursor: CursorConfiguration{
		Track:                         "geo_log_cursor",
		BatchSize:                     50,
		GracePeriodSeconds:            600, // 10 minutes
		MaxGapSize:                    10000,
		MaxErrorDurationSeconds:       1800, // 30 minutes
		SecondaryCheckIntervalSeconds: 60,
		PollIntervalMS:                1000,
		EventLogStore:                 BackendPebble,
		CheckpointStore:               BackendPebble,
		ProjectCacheSize:              10000,
		ProjectCacheTTLSeconds:        300,
	},

	Lease: LeaseConfiguration{
		Backend:      BackendMemory,
		Key:          "geo:log_cursor_processing",
		TTLSeconds:   60,
		RedisAddress: "localhost:6379",
	},

	Postgres: PostgresConfiguration{
		EventLogTable: "geo_event_log",
		StateTable:    "geo_event_log_states",
		MaxConns:      4,
	},

	Sink: SinkConfiguration{
		Name:            "geo",
		Type:            SinkRedis,
		TopicPrefix:     "geo.jobs.",
		BatchSize:       100,
		RedisAddress:    "localhost:6379",
		RedisStreamLen:  100000,
		RetryInitialMS:  100,
		RetryMaxMS:      30000,
		RetryMultiplier: 2.0,
		MaxRetries:      10,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
		Address: "0.0.0.0",
		Port:    9168,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string, o Overrides) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	if o.DataDir != "" {
		Config.DataDir = o.DataDir
	}
	if o.NodeName != "" {
		Config.NodeName = o.NodeName
	}
	if o.Verbose {
		Config.Logging.Verbose = true
	}
	if o.Stdout {
		Config.Logging.Stdout = true
	}

	if Config.InstanceID == "" {
		id, err := generateInstanceID()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}
		Config.InstanceID = id
		log.Info().Str("instance_id", id).Msg("Auto-generated instance ID")
	}

	if Config.NodeName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to get hostname, using localhost")
			hostname = "localhost"
		}
		Config.NodeName = hostname
	}

	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateInstanceID derives a stable cursor identity from the machine ID
func generateInstanceID() (string, error) {
	id, err := machineid.ProtectedID("geo-log-cursor")
	if err != nil {
		// Containers often have no machine-id
		log.Warn().Err(err).Msg("Machine ID unavailable, deriving instance ID from hostname")
		if id, err = os.Hostname(); err != nil {
			return "", err
		}
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}

	if Config.Cursor.BatchSize < 1 {
		return fmt.Errorf("cursor batch size must be >= 1")
	}

	if Config.Cursor.GracePeriodSeconds < 1 {
		return fmt.Errorf("gap grace period must be >= 1 second")
	}

	if Config.Cursor.OutdatedPeriodSeconds != 0 && Config.Cursor.OutdatedPeriodSeconds < Config.Cursor.GracePeriodSeconds {
		return fmt.Errorf("gap outdated period must be >= grace period")
	}

	if Config.Cursor.MaxGapSize < 1 {
		return fmt.Errorf("max gap size must be >= 1")
	}

	if Config.Cursor.MaxErrorDurationSeconds < 1 {
		return fmt.Errorf("max error duration must be >= 1 second")
	}

	if Config.Cursor.SecondaryCheckIntervalSeconds < 1 {
		return fmt.Errorf("secondary check interval must be >= 1 second")
	}

	if Config.Cursor.PollIntervalMS < 0 {
		return fmt.Errorf("poll interval must be >= 0")
	}

	if err := validateBackend("event log store", Config.Cursor.EventLogStore, BackendPebble, BackendPostgres); err != nil {
		return err
	}

	if err := validateBackend("checkpoint store", Config.Cursor.CheckpointStore, BackendPebble, BackendPostgres); err != nil {
		return err
	}

	if err := validateBackend("node source", Config.NodeSource, BackendStatic, BackendPostgres); err != nil {
		return err
	}

	if err := validateBackend("lease backend", Config.Lease.Backend, BackendRedis, BackendMemory); err != nil {
		return err
	}

	if Config.Lease.TTLSeconds < 1 {
		return fmt.Errorf("lease ttl must be >= 1 second")
	}

	if Config.Lease.Backend == BackendRedis && Config.Lease.RedisAddress == "" {
		return fmt.Errorf("redis lease requires redis_address")
	}

	needsPostgres := Config.Cursor.EventLogStore == BackendPostgres ||
		Config.Cursor.CheckpointStore == BackendPostgres ||
		Config.NodeSource == BackendPostgres
	if needsPostgres && Config.Postgres.DSN == "" {
		return fmt.Errorf("postgres dsn is required for postgres backed stores")
	}

	// A memory lease only excludes cursors inside one process
	sharedStores := Config.Cursor.EventLogStore == BackendPostgres ||
		Config.Cursor.CheckpointStore == BackendPostgres
	if sharedStores && Config.Lease.Backend == BackendMemory {
		return fmt.Errorf("postgres backed stores require the redis lease, memory lease is single process only")
	}

	if Config.Cursor.ProjectCacheSize < 1 {
		return fmt.Errorf("project cache size must be >= 1")
	}

	if Config.Cursor.ProjectCacheTTLSeconds < 0 {
		return fmt.Errorf("project cache ttl must be >= 0")
	}

	if Config.NodeSource == BackendStatic {
		if err := Config.Node.Validate(); err != nil {
			return fmt.Errorf("invalid geo_node: %w", err)
		}
		// Projects are resolved from the primary database
		if Config.Node.SelectiveSyncType != selective.SyncAll && Config.Postgres.DSN == "" {
			return fmt.Errorf("selective sync requires postgres dsn")
		}
	}

	if err := validateBackend("sink type", Config.Sink.Type, SinkKafka, SinkNats, SinkRedis); err != nil {
		return err
	}

	if Config.Sink.RetryMultiplier < 0 {
		return fmt.Errorf("sink retry multiplier must be >= 0")
	}

	if Config.Prometheus.Enabled && (Config.Prometheus.Port < 1 || Config.Prometheus.Port > 65535) {
		return fmt.Errorf("invalid prometheus port: %d", Config.Prometheus.Port)
	}

	return nil
}

func validateBackend(name, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("invalid %s: %q", name, value)
}

// GracePeriod returns the gap grace period
func (c *CursorConfiguration) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSeconds) * time.Second
}

// OutdatedPeriod returns the gap expiry age, 0 meaning the grace period
func (c *CursorConfiguration) OutdatedPeriod() time.Duration {
	return time.Duration(c.OutdatedPeriodSeconds) * time.Second
}

// ProjectCacheTTL returns how long resolved projects are cached, 0 meaning the default
func (c *CursorConfiguration) ProjectCacheTTL() time.Duration {
	return time.Duration(c.ProjectCacheTTLSeconds) * time.Second
}

func (c *CursorConfiguration) MaxErrorDuration() time.Duration {
	return time.Duration(c.MaxErrorDurationSeconds) * time.Second
}

func (c *CursorConfiguration) SecondaryCheckInterval() time.Duration {
	return time.Duration(c.SecondaryCheckIntervalSeconds) * time.Second
}

func (c *CursorConfiguration) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c *LeaseConfiguration) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// TrackingDSNOrDefault returns the checkpoint database DSN
func (c *PostgresConfiguration) TrackingDSNOrDefault() string {
	if c.TrackingDSN != "" {
		return c.TrackingDSN
	}
	return c.DSN
}
