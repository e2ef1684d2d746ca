package sink

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/maxpert/logcursor/cfg"
	"github.com/maxpert/logcursor/dispatch"
	"github.com/maxpert/logcursor/encoding"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeStreamName(t *testing.T) {
	assert.Equal(t, "geo_jobs_geo_project_sync", sanitizeStreamName("geo.jobs.geo_project_sync"))
	assert.Equal(t, "a_b_c", sanitizeStreamName("a.b*c"))
}

func TestNatsSinkRequiresURL(t *testing.T) {
	_, err := dispatch.NewSink(cfg.SinkConfiguration{Type: cfg.SinkNats})
	assert.Error(t, err)
}

func TestUnknownSinkType(t *testing.T) {
	_, err := dispatch.NewSink(cfg.SinkConfiguration{Type: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestRedisStreamSink(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStreamSink(client, 0)
	defer s.Close()

	assert.Equal(t, int64(DefaultStreamMaxLen), s.maxLen)
	require.NoError(t, s.Publish("geo.jobs.geo_project_sync", "42", []byte("payload")))
	require.NoError(t, s.Publish("geo.jobs.geo_project_sync", "43", []byte("other")))

	msgs, err := client.XRange(context.Background(), "geo.jobs.geo_project_sync", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "42", msgs[0].Values["key"])
	assert.Equal(t, "payload", msgs[0].Values["payload"])
	assert.Equal(t, "43", msgs[1].Values["key"])
}

func TestRedisStreamSinkRegistered(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := dispatch.NewSink(cfg.SinkConfiguration{
		Type:         cfg.SinkRedis,
		RedisAddress: mr.Addr(),
	})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Publish("jobs", "1", []byte("x")))
	assert.True(t, mr.Exists("jobs"))
}

func TestRedisStreamSinkUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	s := NewRedisStreamSink(client, 10)
	mr.Close()

	assert.Error(t, s.Publish("jobs", "1", []byte("x")))
}

func retryConfig() cfg.SinkConfiguration {
	return cfg.SinkConfiguration{
		TopicPrefix:     "geo.jobs.",
		RetryInitialMS:  1,
		RetryMaxMS:      2,
		RetryMultiplier: 2,
		MaxRetries:      3,
	}
}

func TestSinkEnqueuerPublishesJob(t *testing.T) {
	mock := &MockSink{}
	e := dispatch.NewSinkEnqueuer(mock, retryConfig())

	job := dispatch.Job{
		Worker:     dispatch.WorkerProjectSync,
		ResourceID: 42,
		EventID:    7,
		Params:     map[string]interface{}{"sync_wiki": true},
	}
	require.NoError(t, e.Enqueue(context.Background(), job))

	require.Len(t, mock.Messages, 1)
	msg := mock.Messages[0]
	assert.Equal(t, "geo.jobs.geo_project_sync", msg.Topic)
	assert.Equal(t, "42", msg.Key)

	var got dispatch.Job
	require.NoError(t, encoding.Unmarshal(msg.Value, &got))
	assert.Equal(t, job.Worker, got.Worker)
	assert.Equal(t, job.ResourceID, got.ResourceID)
	assert.Equal(t, job.EventID, got.EventID)
	assert.Equal(t, true, got.Params["sync_wiki"])
}

func TestSinkEnqueuerRetriesTransientFailures(t *testing.T) {
	mock := &MockSink{PublishErr: errors.New("broker down"), FailFirst: 2}
	e := dispatch.NewSinkEnqueuer(mock, retryConfig())

	require.NoError(t, e.Enqueue(context.Background(), dispatch.Job{Worker: dispatch.WorkerResetChecksum, ResourceID: 1}))
	assert.Equal(t, 3, mock.Attempts())
	assert.Len(t, mock.Messages, 1)
}

func TestSinkEnqueuerGivesUp(t *testing.T) {
	mock := &MockSink{PublishErr: errors.New("broker down")}
	e := dispatch.NewSinkEnqueuer(mock, retryConfig())

	err := e.Enqueue(context.Background(), dispatch.Job{Worker: dispatch.WorkerResetChecksum, ResourceID: 1})
	require.Error(t, err)
	assert.ErrorContains(t, err, "broker down")
	assert.Equal(t, 3, mock.Attempts())
	assert.Empty(t, mock.Messages)
}

func TestSinkEnqueuerStopsOnCancel(t *testing.T) {
	mock := &MockSink{PublishErr: errors.New("broker down")}
	config := retryConfig()
	config.RetryInitialMS = 60_000
	config.MaxRetries = 5
	e := dispatch.NewSinkEnqueuer(mock, config)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Enqueue(ctx, dispatch.Job{Worker: dispatch.WorkerResetChecksum, ResourceID: 1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, mock.Attempts())
}

func TestMockSinkReset(t *testing.T) {
	s, err := dispatch.NewSink(cfg.SinkConfiguration{Type: cfg.SinkMock})
	require.NoError(t, err)

	mock := s.(*MockSink)
	require.NoError(t, mock.Publish("t", "k", nil))
	mock.Reset()
	assert.Empty(t, mock.Messages)
	assert.Equal(t, 0, mock.Attempts())
}
