// Package gaps tracks event log IDs that were skipped over by the reader.
//
// IDs are assigned when a transaction commits, so under concurrent writers
// entry N+2 may become visible before N+1. The Tracker remembers every ID it
// jumped over, lets a late arrival fill it, and after a grace period looks
// the remaining ones up directly. Gaps that never show up are dropped and
// logged so loss is surfaced instead of silently swallowed.
package gaps

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/maxpert/logcursor/eventlog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultGracePeriod is how long a gap may stay open before it is looked up
	DefaultGracePeriod = 10 * time.Minute
	// DefaultMaxGapSize bounds how many IDs a single jump may register
	DefaultMaxGapSize = 10_000
)

// Gap is one missing event ID
type Gap struct {
	ID           int64     `msgpack:"id" json:"id"`
	DiscoveredAt time.Time `msgpack:"discovered_at" json:"discovered_at"`
}

// Config tunes a Tracker. Zero values select the defaults.
type Config struct {
	GracePeriod time.Duration
	// OutdatedPeriod is the age after which a gap still missing at lookup is
	// dropped. Defaults to GracePeriod; never shorter than it.
	OutdatedPeriod time.Duration
	MaxGapSize     int
	Clock          clockwork.Clock
}

func (c Config) withDefaults() Config {
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.OutdatedPeriod < c.GracePeriod {
		c.OutdatedPeriod = c.GracePeriod
	}
	if c.MaxGapSize <= 0 {
		c.MaxGapSize = DefaultMaxGapSize
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return c
}

// FetchFunc looks entries up by exact ID; missing IDs are simply absent
type FetchFunc func(ctx context.Context, ids []int64) ([]eventlog.Entry, error)

// FillResult reports what a FillGaps pass did
type FillResult struct {
	Filled  []int64
	Expired []int64
}

// Tracker holds the high-water mark and the pending gap set. It is not safe
// for concurrent use; a single lease holder drives it.
type Tracker struct {
	cfg        Config
	previousID int64
	pending    map[int64]time.Time
}

// NewTracker creates an empty tracker
func NewTracker(cfg Config) *Tracker {
	return &Tracker{
		cfg:     cfg.withDefaults(),
		pending: make(map[int64]time.Time),
	}
}

// Check records that id was observed and reports whether it filled a pending
// gap. The caller dispatches id regardless of the result.
func (t *Tracker) Check(id int64) bool {
	if id <= t.previousID {
		if _, ok := t.pending[id]; ok {
			delete(t.pending, id)
			log.Info().Int64("event_id", id).Msg("Event log gap filled")
			return true
		}
		return false
	}

	if t.previousID > 0 && id > t.previousID+1 {
		t.addGaps(t.previousID+1, id-1)
	}

	t.previousID = id
	return false
}

func (t *Tracker) addGaps(from, to int64) {
	if size := to - from + 1; size > int64(t.cfg.MaxGapSize) {
		log.Warn().
			Int64("from", from).
			Int64("to", to).
			Int("max_gap_size", t.cfg.MaxGapSize).
			Msg("Event log gap too large, only tracking the most recent IDs")
		from = to - int64(t.cfg.MaxGapSize) + 1
	}

	now := t.cfg.Clock.Now()
	added := 0
	for id := from; id <= to; id++ {
		if _, ok := t.pending[id]; ok {
			continue
		}
		t.pending[id] = now
		added++
	}

	if added > 0 {
		log.Info().
			Int64("from", from).
			Int64("to", to).
			Int("gaps", added).
			Msg("Event log gap detected")
	}
}

// FillGaps looks up every gap older than the grace period with one point
// query. Found entries are passed to fn in ID order and removed from the
// pending set once fn succeeds. Gaps still missing and older than the
// outdated period are dropped. If fn fails the pass stops and the remaining
// gaps stay pending.
func (t *Tracker) FillGaps(ctx context.Context, fetch FetchFunc, fn func(eventlog.Entry) error) (FillResult, error) {
	var res FillResult

	now := t.cfg.Clock.Now()
	due := t.olderThan(now, t.cfg.GracePeriod)
	if len(due) == 0 {
		return res, nil
	}

	entries, err := fetch(ctx, due)
	if err != nil {
		return res, fmt.Errorf("failed to look up %d gaps: %w", len(due), err)
	}

	slices.SortFunc(entries, func(a, b eventlog.Entry) int { return cmp.Compare(a.ID, b.ID) })

	for _, e := range entries {
		if _, ok := t.pending[e.ID]; !ok {
			continue
		}
		if err := fn(e); err != nil {
			return res, err
		}
		delete(t.pending, e.ID)
		res.Filled = append(res.Filled, e.ID)
		log.Info().Int64("event_id", e.ID).Msg("Event log gap filled by lookup")
	}

	for _, id := range due {
		discovered, ok := t.pending[id]
		if !ok || now.Sub(discovered) <= t.cfg.OutdatedPeriod {
			continue
		}
		delete(t.pending, id)
		res.Expired = append(res.Expired, id)
		log.Warn().
			Int64("event_id", id).
			Time("discovered_at", discovered).
			Msg("Event log gap expired, event permanently skipped")
	}

	return res, nil
}

// olderThan returns pending IDs discovered more than age ago, ascending
func (t *Tracker) olderThan(now time.Time, age time.Duration) []int64 {
	var ids []int64
	for id, discovered := range t.pending {
		if now.Sub(discovered) > age {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// PreviousID is the highest ID observed so far
func (t *Tracker) PreviousID() int64 {
	return t.previousID
}

// Frontier is the highest ID with nothing pending at or below it
func (t *Tracker) Frontier() int64 {
	frontier := t.previousID
	for id := range t.pending {
		if id-1 < frontier {
			frontier = id - 1
		}
	}
	return frontier
}

// PendingCount is the number of open gaps
func (t *Tracker) PendingCount() int {
	return len(t.pending)
}

// Pending returns the open gaps ordered by ID
func (t *Tracker) Pending() []Gap {
	out := make([]Gap, 0, len(t.pending))
	for id, discovered := range t.pending {
		out = append(out, Gap{ID: id, DiscoveredAt: discovered})
	}
	slices.SortFunc(out, func(a, b Gap) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Restore replaces the tracker state, e.g. from a checkpoint. Gaps at or
// above previousID are ignored.
func (t *Tracker) Restore(previousID int64, pending []Gap) {
	t.previousID = previousID
	t.pending = make(map[int64]time.Time, len(pending))
	for _, g := range pending {
		if g.ID > 0 && g.ID < previousID {
			t.pending[g.ID] = g.DiscoveredAt
		}
	}
}
