package telemetry

// Histogram bucket definitions
var (
	// CycleBuckets for a full lease-held processing cycle
	CycleBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
)

// Event processing metrics
var (
	// EventsProcessedTotal counts entries handed to the dispatcher by kind
	EventsProcessedTotal CounterVec = noopCounterVec{}

	// JobsEnqueuedTotal counts replication jobs by worker
	JobsEnqueuedTotal CounterVec = noopCounterVec{}

	// EventsSuppressedTotal counts entries consumed without a job by reason
	// (selective_sync, project_missing, other_node)
	EventsSuppressedTotal CounterVec = noopCounterVec{}

	// UnknownEventsTotal counts entries with a missing or unknown payload
	UnknownEventsTotal Counter = NoopStat{}

	// EnqueueRetriesTotal counts failed enqueue attempts that were retried
	EnqueueRetriesTotal Counter = NoopStat{}
)

// Gap tracking metrics
var (
	// GapsDetectedTotal counts IDs registered as missing
	GapsDetectedTotal Counter = NoopStat{}

	// GapsFilledTotal counts gaps closed by path (reader, lookup)
	GapsFilledTotal CounterVec = noopCounterVec{}

	// GapsExpiredTotal counts gaps dropped as permanently skipped
	GapsExpiredTotal Counter = NoopStat{}

	// PendingGaps tracks currently open gaps
	PendingGaps Gauge = NoopStat{}
)

// Cursor position metrics
var (
	// LastProcessedID is the checkpointed frontier
	LastProcessedID Gauge = NoopStat{}

	// HighWaterMark is the highest event ID observed
	HighWaterMark Gauge = NoopStat{}

	// HeadEventID is the newest ID in the event log
	HeadEventID Gauge = NoopStat{}

	// EventLag is the number of IDs between the frontier and the log head
	EventLag Gauge = NoopStat{}
)

// Daemon metrics
var (
	// CyclesTotal counts daemon cycles by result
	// (processed, lease_busy, lease_lost, not_secondary, failed)
	CyclesTotal CounterVec = noopCounterVec{}

	// CycleDurationSeconds measures cycles that processed or failed
	CycleDurationSeconds Histogram = NoopStat{}

	// LeaseRenewalsTotal counts renewals between batches by result (ok, lost, error)
	LeaseRenewalsTotal CounterVec = noopCounterVec{}

	// HealthState is 0 healthy, 1 degraded, 2 fatal
	HealthState Gauge = NoopStat{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	EventsProcessedTotal = NewCounterVec(
		"events_processed_total",
		"Event log entries handled by kind",
		[]string{"kind"},
	)
	JobsEnqueuedTotal = NewCounterVec(
		"jobs_enqueued_total",
		"Replication jobs enqueued by worker",
		[]string{"worker"},
	)
	EventsSuppressedTotal = NewCounterVec(
		"events_suppressed_total",
		"Event log entries consumed without enqueueing a job",
		[]string{"reason"},
	)
	UnknownEventsTotal = NewCounter(
		"unknown_events_total",
		"Event log entries with a missing or unknown payload",
	)
	EnqueueRetriesTotal = NewCounter(
		"enqueue_retries_total",
		"Failed job enqueue attempts that were retried",
	)

	GapsDetectedTotal = NewCounter(
		"gaps_detected_total",
		"Event IDs registered as missing",
	)
	GapsFilledTotal = NewCounterVec(
		"gaps_filled_total",
		"Gaps closed by a late entry",
		[]string{"path"},
	)
	GapsExpiredTotal = NewCounter(
		"gaps_expired_total",
		"Gaps dropped after the outdated period",
	)
	PendingGaps = NewGauge(
		"pending_gaps",
		"Currently open gaps",
	)

	LastProcessedID = NewGauge(
		"last_processed_id",
		"Checkpointed frontier event ID",
	)
	HighWaterMark = NewGauge(
		"high_water_mark",
		"Highest event ID observed",
	)
	HeadEventID = NewGauge(
		"head_event_id",
		"Newest event ID in the event log",
	)
	EventLag = NewGauge(
		"event_lag",
		"Event IDs between the checkpointed frontier and the log head",
	)

	CyclesTotal = NewCounterVec(
		"cycles_total",
		"Daemon cycles by result",
		[]string{"result"},
	)
	CycleDurationSeconds = NewHistogramWithBuckets(
		"cycle_duration_seconds",
		"Processing cycle duration in seconds",
		CycleBuckets,
	)
	LeaseRenewalsTotal = NewCounterVec(
		"lease_renewals_total",
		"Lease renewals between batches by result",
		[]string{"result"},
	)
	HealthState = NewGauge(
		"health_state",
		"Daemon health: 0 healthy, 1 degraded, 2 fatal",
	)
}
