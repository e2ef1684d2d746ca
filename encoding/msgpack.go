// Package encoding provides the msgpack serialization used for everything the
// cursor persists or enqueues: event log entries, cursor checkpoints and
// replication job payloads.
//
// Thread Safety: Marshal and Unmarshal are safe for concurrent use.
//
// Map keys are sorted on encode so the same job always produces the same
// bytes, which lets queue consumers deduplicate on payload.
package encoding

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes a value to msgpack format with sorted map keys.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes msgpack data using loose interface decoding.
// Job params decoded into map[string]interface{} keep strings as Go strings
// and integers as int64 regardless of their wire width.
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)

	return dec.Decode(v)
}
