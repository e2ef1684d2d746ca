// Package lease provides the time-boxed exclusive lease that keeps at most one
// log cursor processing events across a fleet.
//
// A lease has a single owner identified by a UUID. The owner extends it by
// renewing with the same UUID; nobody else can take it until its TTL elapses
// without renewal.
package lease

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultTTL is the lease lifetime when none is configured
const DefaultTTL = 60 * time.Second

// ErrLost is returned when a holder discovers mid-cycle that its lease is gone
var ErrLost = errors.New("lease lost")

// Lease is a distributed exclusive lease on a single key
type Lease interface {
	// TryObtain takes the lease if it is free and returns the new owner UUID
	TryObtain(ctx context.Context) (string, bool, error)
	// Renew extends the lease for owner. It succeeds if owner holds the lease
	// or the lease is free, and fails if another owner holds it.
	Renew(ctx context.Context, owner string) (bool, error)
	// Release drops the lease if owner holds it
	Release(ctx context.Context, owner string) error
	// TTL returns the remaining lifetime of the current holder, 0 if free
	TTL(ctx context.Context) (time.Duration, error)
}

// Result describes one attempt to run under the lease
type Result struct {
	Acquired bool
	UUID     string
	// TTL is the remaining lifetime of the other holder when not acquired
	TTL time.Duration
}

// TryObtainWithTTL runs fn while holding the lease. An existing owner UUID is
// renewed first so a cursor keeps its identity across cycles. When the lease
// is held elsewhere fn is not called and the holder's remaining TTL is
// reported instead.
func TryObtainWithTTL(ctx context.Context, l Lease, owner string, fn func(ctx context.Context, owner string) error) (Result, error) {
	acquired := false
	if owner != "" {
		ok, err := l.Renew(ctx, owner)
		if err != nil {
			return Result{}, err
		}
		acquired = ok
	}

	if !acquired {
		id, ok, err := l.TryObtain(ctx)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			ttl, err := l.TTL(ctx)
			if err != nil {
				log.Debug().Err(err).Msg("Failed to read lease TTL")
			}
			return Result{TTL: ttl}, nil
		}
		owner = id
	}

	return Result{Acquired: true, UUID: owner}, fn(ctx, owner)
}

func newOwner() string {
	return uuid.NewString()
}
