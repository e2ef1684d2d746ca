package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// HeadSource reports the newest event ID
type HeadSource interface {
	MaxID(ctx context.Context) (int64, error)
}

// FrontierSource reports the checkpointed frontier
type FrontierSource interface {
	Frontier(ctx context.Context) (int64, error)
}

// FrontierFunc adapts a function to FrontierSource
type FrontierFunc func(ctx context.Context) (int64, error)

func (f FrontierFunc) Frontier(ctx context.Context) (int64, error) { return f(ctx) }

// LagCollector periodically compares the log head with the cursor frontier
type LagCollector struct {
	head     HeadSource
	frontier FrontierSource
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewLagCollector creates a new lag collector
func NewLagCollector(head HeadSource, frontier FrontierSource, interval time.Duration) *LagCollector {
	return &LagCollector{
		head:     head,
		frontier: frontier,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection
func (lc *LagCollector) Start() {
	lc.wg.Add(1)
	go lc.collectLoop()
}

// Stop stops the collector
func (lc *LagCollector) Stop() {
	close(lc.stopCh)
	lc.wg.Wait()
}

func (lc *LagCollector) collectLoop() {
	defer lc.wg.Done()

	ticker := time.NewTicker(lc.interval)
	defer ticker.Stop()

	lc.Collect(context.Background())

	for {
		select {
		case <-ticker.C:
			lc.Collect(context.Background())
		case <-lc.stopCh:
			return
		}
	}
}

// Collect takes one sample and returns the lag
func (lc *LagCollector) Collect(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, lc.interval)
	defer cancel()

	head, err := lc.head.MaxID(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to read event log head")
		return 0
	}

	frontier, err := lc.frontier.Frontier(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to read cursor frontier")
		return 0
	}

	lag := max(head-frontier, 0)
	HeadEventID.Set(float64(head))
	EventLag.Set(float64(lag))
	return lag
}
