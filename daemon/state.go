package daemon

import "sync/atomic"

// State carries the shutdown request between the signal side and the loop.
// The loop polls it between cycles and between batches, never mid-entry.
type State struct {
	exit atomic.Bool
}

// RequestExit asks the loop to stop at the next safe point
func (s *State) RequestExit() {
	s.exit.Store(true)
}

// Exit reports whether shutdown was requested
func (s *State) Exit() bool {
	return s.exit.Load()
}
