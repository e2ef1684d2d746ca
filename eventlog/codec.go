package eventlog

import (
	"fmt"
	"time"

	"github.com/maxpert/logcursor/encoding"
)

// record is the stored form of an Entry: the payload is kept as an opaque
// body next to its kind so unknown kinds survive a round trip.
type record struct {
	ID        int64  `msgpack:"id"`
	CreatedAt int64  `msgpack:"created_at"` // unix ms
	Kind      string `msgpack:"kind"`
	Body      []byte `msgpack:"body"`
}

// EncodeEntry serializes an entry for storage.
func EncodeEntry(e Entry) ([]byte, error) {
	rec := record{
		ID:        e.ID,
		CreatedAt: e.CreatedAt.UnixMilli(),
		Kind:      e.Kind(),
	}

	if e.Payload != nil {
		if u, ok := e.Payload.(Unknown); ok {
			rec.Kind = u.RawKind
		} else {
			body, err := encoding.Marshal(e.Payload)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal %s payload: %w", rec.Kind, err)
			}
			rec.Body = body
		}
	}

	return encoding.Marshal(&rec)
}

// DecodeEntry deserializes a stored entry. Unknown kinds and missing bodies
// decode to an Unknown payload rather than an error.
func DecodeEntry(data []byte) (Entry, error) {
	var rec record
	if err := encoding.Unmarshal(data, &rec); err != nil {
		return Entry{}, err
	}

	payload, err := DecodePayload(rec.Kind, rec.Body, encoding.Unmarshal)
	if err != nil {
		return Entry{}, fmt.Errorf("entry %d: %w", rec.ID, err)
	}

	return Entry{
		ID:        rec.ID,
		CreatedAt: time.UnixMilli(rec.CreatedAt).UTC(),
		Payload:   payload,
	}, nil
}

// DecodePayload builds the typed payload for kind from body using unmarshal.
// The unmarshal function lets stores keep bodies in msgpack or JSON.
func DecodePayload(kind string, body []byte, unmarshal func([]byte, interface{}) error) (Payload, error) {
	if len(body) == 0 {
		return Unknown{RawKind: kind}, nil
	}

	switch kind {
	case KindRepositoryCreated:
		return decodeInto[RepositoryCreated](body, unmarshal)
	case KindRepositoryUpdated:
		return decodeInto[RepositoryUpdated](body, unmarshal)
	case KindRepositoryDeleted:
		return decodeInto[RepositoryDeleted](body, unmarshal)
	case KindRepositoryRenamed:
		return decodeInto[RepositoryRenamed](body, unmarshal)
	case KindRepositoriesChanged:
		return decodeInto[RepositoriesChanged](body, unmarshal)
	case KindHashedStorageMigrated:
		return decodeInto[HashedStorageMigrated](body, unmarshal)
	case KindResetChecksum:
		return decodeInto[ResetChecksum](body, unmarshal)
	case KindCacheInvalidation:
		return decodeInto[CacheInvalidation](body, unmarshal)
	case KindContainerRepositoryUpdated:
		return decodeInto[ContainerRepositoryUpdated](body, unmarshal)
	case KindJobArtifactDeleted:
		return decodeInto[JobArtifactDeleted](body, unmarshal)
	case KindUploadDeleted:
		return decodeInto[UploadDeleted](body, unmarshal)
	default:
		return Unknown{RawKind: kind}, nil
	}
}

func decodeInto[T Payload](body []byte, unmarshal func([]byte, interface{}) error) (Payload, error) {
	var p T
	if err := unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", p.Kind(), err)
	}
	return p, nil
}
