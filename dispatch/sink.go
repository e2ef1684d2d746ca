package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/maxpert/logcursor/cfg"
	"github.com/maxpert/logcursor/encoding"
	"github.com/maxpert/logcursor/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	// Default initial retry delay for failed publish operations
	DefaultRetryInitial = 100 * time.Millisecond
	// Default maximum retry delay (exponential backoff cap)
	DefaultRetryMax = 30 * time.Second
	// Default exponential backoff multiplier
	DefaultRetryMultiplier = 2.0
	// Maximum number of attempts before an enqueue fails the cycle
	DefaultMaxRetries = 10
)

// Sink is a message transport jobs are published to
type Sink interface {
	Publish(topic, key string, value []byte) error
	Close() error
}

// SinkFactory is a function that creates a Sink from a configuration
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

var (
	sinkFactories = make(map[string]SinkFactory)
	factoryMu     sync.RWMutex
)

// RegisterSink registers a sink factory for a type
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

// NewSink creates a sink based on the configuration
func NewSink(config cfg.SinkConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[config.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}

	return factory(config)
}

// SinkEnqueuer publishes jobs to a Sink. The topic is the prefix followed by
// the worker name and the key is the resource ID, so jobs for one resource
// stay ordered on partitioned transports.
type SinkEnqueuer struct {
	sink            Sink
	topicPrefix     string
	retryInitial    time.Duration
	retryMax        time.Duration
	retryMultiplier float64
	maxRetries      int
}

// NewSinkEnqueuer creates an enqueuer with the retry settings of config
func NewSinkEnqueuer(sink Sink, config cfg.SinkConfiguration) *SinkEnqueuer {
	e := &SinkEnqueuer{
		sink:            sink,
		topicPrefix:     config.TopicPrefix,
		retryInitial:    time.Duration(config.RetryInitialMS) * time.Millisecond,
		retryMax:        time.Duration(config.RetryMaxMS) * time.Millisecond,
		retryMultiplier: config.RetryMultiplier,
		maxRetries:      config.MaxRetries,
	}

	if e.retryInitial <= 0 {
		e.retryInitial = DefaultRetryInitial
	}
	if e.retryMax <= 0 {
		e.retryMax = DefaultRetryMax
	}
	if e.retryMultiplier <= 0 {
		e.retryMultiplier = DefaultRetryMultiplier
	}
	if e.maxRetries <= 0 {
		e.maxRetries = DefaultMaxRetries
	}

	return e
}

// Topic returns the topic jobs for worker are published to
func (e *SinkEnqueuer) Topic(worker string) string {
	return e.topicPrefix + worker
}

// Enqueue publishes job with exponential backoff retry
func (e *SinkEnqueuer) Enqueue(ctx context.Context, job Job) error {
	data, err := encoding.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	topic := e.Topic(job.Worker)
	key := strconv.FormatInt(job.ResourceID, 10)

	delay := e.retryInitial
	attempts := 0

	for {
		err := e.sink.Publish(topic, key, data)
		if err == nil {
			return nil
		}

		attempts++
		if attempts >= e.maxRetries {
			return fmt.Errorf("exhausted max retries (%d) for topic %s: %w", e.maxRetries, topic, err)
		}

		telemetry.EnqueueRetriesTotal.Inc()
		log.Warn().
			Err(err).
			Str("topic", topic).
			Int64("event_id", job.EventID).
			Int("attempt", attempts).
			Dur("retry_delay", delay).
			Msg("Failed to publish job, retrying")

		if !sleepCtx(ctx, delay) {
			return fmt.Errorf("enqueue cancelled during retry: %w", ctx.Err())
		}

		delay = time.Duration(float64(delay) * e.retryMultiplier)
		if delay > e.retryMax {
			delay = e.retryMax
		}
	}
}

// Close closes the underlying sink
func (e *SinkEnqueuer) Close() error {
	return e.sink.Close()
}

// sleepCtx returns false if ctx ends first
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
