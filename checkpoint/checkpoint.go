// Package checkpoint persists the cursor position between cycles and across
// restarts.
//
// A State holds both the certified frontier (LastProcessedID, nothing
// unprocessed at or below it) and the reader head (HighWaterMark), together
// with the open gaps between them. Restoring a gap tracker from a State
// therefore resumes exactly where the previous lease holder stopped, grace
// windows included.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maxpert/logcursor/gaps"
)

// DefaultTrack names the cursor when only one is configured
const DefaultTrack = "geo_log_cursor"

var (
	// ErrFrontierRegression is returned when a save would move the frontier back
	ErrFrontierRegression = errors.New("checkpoint frontier cannot move backwards")
)

// State is the persisted cursor position
type State struct {
	LastProcessedID int64      `msgpack:"last_processed_id" json:"last_processed_id"`
	HighWaterMark   int64      `msgpack:"high_water_mark" json:"high_water_mark"`
	Gaps            []gaps.Gap `msgpack:"gaps" json:"gaps"`
	UpdatedAt       time.Time  `msgpack:"updated_at" json:"updated_at"`
}

// ResumeAfter is the ID the reader continues after
func (s State) ResumeAfter() int64 {
	if s.HighWaterMark > 0 {
		return s.HighWaterMark
	}
	return s.LastProcessedID
}

// Capture builds the State describing tr
func Capture(tr *gaps.Tracker, now time.Time) State {
	return State{
		LastProcessedID: tr.Frontier(),
		HighWaterMark:   tr.PreviousID(),
		Gaps:            tr.Pending(),
		UpdatedAt:       now.UTC(),
	}
}

// Apply restores tr to s
func (s State) Apply(tr *gaps.Tracker) {
	tr.Restore(s.ResumeAfter(), s.Gaps)
}

// Store reads and writes the State of one track
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, s State) error
	Reset(ctx context.Context) error
}

func checkAdvance(prev, next State) error {
	if next.LastProcessedID < prev.LastProcessedID {
		return fmt.Errorf("%w: %d -> %d", ErrFrontierRegression, prev.LastProcessedID, next.LastProcessedID)
	}
	return nil
}
