// Package daemon runs the event log cursor loop.
//
// Each cycle checks that the current node is a Geo secondary, takes the
// processing lease and, while holding it, backfills due gaps and then reads
// the event log batch by batch. A checkpoint is written and the lease renewed
// after every batch. Failing cycles are tolerated until they have been
// failing for longer than the maximum error duration, at which point Run
// returns ErrSustainedFailure and the process is expected to be restarted.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/maxpert/logcursor/checkpoint"
	"github.com/maxpert/logcursor/dispatch"
	"github.com/maxpert/logcursor/eventlog"
	"github.com/maxpert/logcursor/gaps"
	"github.com/maxpert/logcursor/lease"
	"github.com/maxpert/logcursor/selective"
	"github.com/maxpert/logcursor/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultSecondaryCheckInterval is the sleep while the node is not a secondary
	DefaultSecondaryCheckInterval = time.Minute
	// DefaultPollInterval is the base sleep after a processed cycle
	DefaultPollInterval = time.Second
)

// ErrSustainedFailure is returned by Run once cycles have been failing for
// longer than the maximum error duration
var ErrSustainedFailure = errors.New("event log processing failed for too long")

// Cycle results as reported in metrics
const (
	resultProcessed    = "processed"
	resultLeaseBusy    = "lease_busy"
	resultLeaseLost    = "lease_lost"
	resultNotSecondary = "not_secondary"
	resultFailed       = "failed"
)

// Config wires the daemon to its collaborators
type Config struct {
	Events      eventlog.Store
	Checkpoints checkpoint.Store
	Lease       lease.Lease
	Nodes       selective.NodeProvider
	Resolver    selective.ProjectResolver // Only needed for selective sync
	Enqueuer    dispatch.Enqueuer

	BatchSize              int
	Gaps                   gaps.Config
	MaxErrorDuration       time.Duration
	SecondaryCheckInterval time.Duration
	PollInterval           time.Duration

	Clock clockwork.Clock
	// Jitter is added to every sleep; nil picks 0.1s to 2s at random
	Jitter func() time.Duration
}

// Status is a snapshot of the daemon for operators
type Status struct {
	Health          string     `json:"health"`
	FailingSince    *time.Time `json:"failing_since,omitempty"`
	Secondary       bool       `json:"secondary"`
	LeaseHeld       bool       `json:"lease_held"`
	LastProcessedID int64      `json:"last_processed_id"`
	HighWaterMark   int64      `json:"high_water_mark"`
	PendingGaps     int        `json:"pending_gaps"`
	LastCycleAt     time.Time  `json:"last_cycle_at"`
	LastError       string     `json:"last_error,omitempty"`
}

// Daemon is the event log cursor
type Daemon struct {
	cfg    Config
	state  *State
	reader *eventlog.Reader
	clock  clockwork.Clock

	// Lease owner kept across cycles, only touched by the loop goroutine
	owner string

	mu     sync.RWMutex
	health Health
	status Status
}

// New creates a daemon. state may be shared with a signal handler; nil
// creates a private one.
func New(config Config, state *State) (*Daemon, error) {
	switch {
	case config.Events == nil:
		return nil, fmt.Errorf("daemon requires an event log store")
	case config.Checkpoints == nil:
		return nil, fmt.Errorf("daemon requires a checkpoint store")
	case config.Lease == nil:
		return nil, fmt.Errorf("daemon requires a lease")
	case config.Nodes == nil:
		return nil, fmt.Errorf("daemon requires a node provider")
	case config.Enqueuer == nil:
		return nil, fmt.Errorf("daemon requires an enqueuer")
	}

	if config.MaxErrorDuration <= 0 {
		config.MaxErrorDuration = DefaultMaxErrorDuration
	}
	if config.SecondaryCheckInterval <= 0 {
		config.SecondaryCheckInterval = DefaultSecondaryCheckInterval
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Jitter == nil {
		config.Jitter = defaultJitter
	}
	config.Gaps.Clock = config.Clock

	if state == nil {
		state = &State{}
	}

	return &Daemon{
		cfg:    config,
		state:  state,
		reader: eventlog.NewReader(config.Events, config.BatchSize),
		clock:  config.Clock,
		health: Health{Status: Healthy},
	}, nil
}

// State returns the shutdown state the daemon polls
func (d *Daemon) State() *State {
	return d.state
}

// Run loops until ctx is cancelled or the state requests exit. Work already
// handed to the dispatcher is finished with a context that outlives ctx; the
// loop then stops at the next batch or cycle boundary and releases the lease.
func (d *Daemon) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, d.state.RequestExit)
	defer stop()

	work := context.WithoutCancel(ctx)
	defer d.release(work)

	log.Info().
		Int("batch_size", d.reader.BatchSize()).
		Dur("max_error_duration", d.cfg.MaxErrorDuration).
		Msg("Event log cursor started")

	for !d.state.Exit() && ctx.Err() == nil {
		delay, err := d.RunOnce(work)
		if err != nil {
			return err
		}
		if d.state.Exit() || ctx.Err() != nil {
			break
		}
		d.sleep(ctx, d.arbitrarySleep(delay))
	}

	log.Info().Msg("Event log cursor stopped")
	return nil
}

// RunOnce runs a single cycle and applies its outcome to the health state.
// It returns how long to wait before the next cycle, or ErrSustainedFailure.
func (d *Daemon) RunOnce(ctx context.Context) (time.Duration, error) {
	start := d.clock.Now()
	delay, result, err := d.cycle(ctx)
	now := d.clock.Now()

	telemetry.CyclesTotal.With(result).Inc()
	if result == resultProcessed || result == resultFailed {
		telemetry.CycleDurationSeconds.Observe(now.Sub(start).Seconds())
	}

	d.mu.Lock()
	if err != nil {
		d.health = d.health.OnFailure(now, d.cfg.MaxErrorDuration)
		d.status.LastError = err.Error()
	} else {
		d.health = d.health.OnSuccess()
		d.status.LastError = ""
	}
	d.status.LastCycleAt = now
	health := d.health
	d.mu.Unlock()

	telemetry.HealthState.Set(float64(health.Status))

	if err != nil {
		log.Error().
			Err(err).
			Str("health", health.Status.String()).
			Time("failing_since", health.Since).
			Msg("Event log cursor cycle failed")

		if health.Status == Fatal {
			return 0, fmt.Errorf("%w: failing since %s: %w", ErrSustainedFailure, health.Since.Format(time.RFC3339), err)
		}
	}

	return delay, nil
}

func (d *Daemon) cycle(ctx context.Context) (time.Duration, string, error) {
	node, err := d.cfg.Nodes.CurrentNode(ctx)
	if err != nil {
		return d.cfg.PollInterval, resultFailed, fmt.Errorf("failed to load current node: %w", err)
	}

	secondary := node.IsSecondary()
	d.updateStatus(func(s *Status) { s.Secondary = secondary })
	if !secondary {
		log.Debug().
			Int64("node_id", node.ID).
			Str("node", node.Name).
			Msg("Current node is not an enabled Geo secondary, skipping")
		return d.cfg.SecondaryCheckInterval, resultNotSecondary, nil
	}

	res, err := lease.TryObtainWithTTL(ctx, d.cfg.Lease, d.owner, func(ctx context.Context, owner string) error {
		d.owner = owner
		return d.findAndHandleEvents(ctx, node, owner)
	})
	if !res.Acquired || errors.Is(err, lease.ErrLost) {
		d.owner = ""
	}
	d.updateStatus(func(s *Status) { s.LeaseHeld = d.owner != "" })

	switch {
	case errors.Is(err, lease.ErrLost):
		ttl, ttlErr := d.cfg.Lease.TTL(ctx)
		if ttlErr != nil {
			log.Debug().Err(ttlErr).Msg("Failed to read lease TTL")
		}
		log.Warn().Dur("holder_ttl", ttl).Msg("Lost processing lease mid-cycle")
		return ttl, resultLeaseLost, nil

	case err != nil:
		return d.cfg.PollInterval, resultFailed, err

	case !res.Acquired:
		log.Debug().Dur("holder_ttl", res.TTL).Msg("Processing lease held by another cursor")
		return res.TTL, resultLeaseBusy, nil
	}

	return d.cfg.PollInterval, resultProcessed, nil
}

// findAndHandleEvents runs under the lease. The tracker is rebuilt from the
// checkpoint so a failed cycle or another holder's progress is picked up.
func (d *Daemon) findAndHandleEvents(ctx context.Context, node selective.Node, owner string) error {
	dispatcher, err := dispatch.New(node, d.cfg.Resolver, d.cfg.Enqueuer)
	if err != nil {
		return err
	}

	saved, err := d.cfg.Checkpoints.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	tracker := gaps.NewTracker(d.cfg.Gaps)
	saved.Apply(tracker)

	if err := d.fillGaps(ctx, tracker, dispatcher); err != nil {
		return err
	}

	err = d.reader.EachBatch(ctx, tracker.PreviousID(), d.state.Exit, func(batch []eventlog.Entry) error {
		return d.handleEvents(ctx, batch, tracker, dispatcher, owner)
	})
	if errors.Is(err, eventlog.ErrStopped) {
		log.Info().Int64("last_processed_id", tracker.Frontier()).Msg("Stopped between batches")
		return nil
	}
	return err
}

func (d *Daemon) fillGaps(ctx context.Context, tracker *gaps.Tracker, dispatcher *dispatch.Dispatcher) error {
	fetch := func(ctx context.Context, ids []int64) ([]eventlog.Entry, error) {
		entries, err := d.cfg.Events.Get(ctx, ids)
		if err != nil {
			return nil, err
		}
		return entries, dispatcher.Prepare(ctx, entries)
	}

	res, err := tracker.FillGaps(ctx, fetch, func(e eventlog.Entry) error {
		_, err := dispatcher.Handle(ctx, e)
		return err
	})

	telemetry.GapsFilledTotal.With("lookup").Add(float64(len(res.Filled)))
	telemetry.GapsExpiredTotal.Add(float64(len(res.Expired)))

	if len(res.Filled)+len(res.Expired) > 0 {
		if saveErr := d.checkpoint(ctx, tracker); saveErr != nil {
			return errors.Join(err, saveErr)
		}
	}
	return err
}

func (d *Daemon) handleEvents(ctx context.Context, batch []eventlog.Entry, tracker *gaps.Tracker, dispatcher *dispatch.Dispatcher, owner string) error {
	log.Debug().
		Int64("first_id", batch[0].ID).
		Int64("last_id", batch[len(batch)-1].ID).
		Int("count", len(batch)).
		Msg("Handling event log batch")

	if err := dispatcher.Prepare(ctx, batch); err != nil {
		return err
	}

	for _, e := range batch {
		before := tracker.PendingCount()
		if tracker.Check(e.ID) {
			telemetry.GapsFilledTotal.With("reader").Inc()
		} else if added := tracker.PendingCount() - before; added > 0 {
			telemetry.GapsDetectedTotal.Add(float64(added))
		}

		if _, err := dispatcher.Handle(ctx, e); err != nil {
			return err
		}
	}

	if err := d.checkpoint(ctx, tracker); err != nil {
		return err
	}
	return d.renew(ctx, owner)
}

func (d *Daemon) checkpoint(ctx context.Context, tracker *gaps.Tracker) error {
	st := checkpoint.Capture(tracker, d.clock.Now())
	if err := d.cfg.Checkpoints.Save(ctx, st); err != nil {
		return fmt.Errorf("failed to save checkpoint at %d: %w", st.LastProcessedID, err)
	}

	telemetry.LastProcessedID.Set(float64(st.LastProcessedID))
	telemetry.HighWaterMark.Set(float64(st.HighWaterMark))
	telemetry.PendingGaps.Set(float64(len(st.Gaps)))

	d.updateStatus(func(s *Status) {
		s.LastProcessedID = st.LastProcessedID
		s.HighWaterMark = st.HighWaterMark
		s.PendingGaps = len(st.Gaps)
	})
	return nil
}

func (d *Daemon) renew(ctx context.Context, owner string) error {
	ok, err := d.cfg.Lease.Renew(ctx, owner)
	if err != nil {
		telemetry.LeaseRenewalsTotal.With("error").Inc()
		return fmt.Errorf("failed to renew lease: %w", err)
	}
	if !ok {
		telemetry.LeaseRenewalsTotal.With("lost").Inc()
		return lease.ErrLost
	}
	telemetry.LeaseRenewalsTotal.With("ok").Inc()
	return nil
}

func (d *Daemon) release(ctx context.Context) {
	if d.owner == "" {
		return
	}
	if err := d.cfg.Lease.Release(ctx, d.owner); err != nil {
		log.Warn().Err(err).Msg("Failed to release processing lease")
		return
	}
	d.owner = ""
	d.updateStatus(func(s *Status) { s.LeaseHeld = false })
	log.Info().Msg("Released processing lease")
}

func (d *Daemon) sleep(ctx context.Context, dur time.Duration) {
	select {
	case <-ctx.Done():
	case <-d.clock.After(dur):
	}
}

// arbitrarySleep spreads cursors polling the same lease
func (d *Daemon) arbitrarySleep(delay time.Duration) time.Duration {
	return delay + d.cfg.Jitter()
}

func defaultJitter() time.Duration {
	return time.Duration(rand.Intn(20)+1) * 100 * time.Millisecond
}

func (d *Daemon) updateStatus(fn func(*Status)) {
	d.mu.Lock()
	fn(&d.status)
	d.mu.Unlock()
}

// Health returns the current escalation state
func (d *Daemon) Health() Health {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.health
}

// Status returns a snapshot for the admin endpoints
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := d.status
	s.Health = d.health.Status.String()
	if !d.health.Since.IsZero() {
		since := d.health.Since
		s.FailingSince = &since
	}
	return s
}
