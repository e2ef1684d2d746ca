package sink

import "github.com/maxpert/logcursor/dispatch"

// Compile-time interface verification
var (
	_ dispatch.Sink = (*KafkaSink)(nil)
	_ dispatch.Sink = (*NatsSink)(nil)
	_ dispatch.Sink = (*RedisStreamSink)(nil)
	_ dispatch.Sink = (*MockSink)(nil)
)
