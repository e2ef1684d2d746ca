package lease

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

type holder struct {
	owner     string
	expiresAt time.Time
}

// MemoryLease is a process-local lease. Cursors sharing one MemoryLease
// contend exactly like they would on Redis; it backs single-node setups and
// tests.
type MemoryLease struct {
	key     string
	ttl     time.Duration
	clock   clockwork.Clock
	holders *xsync.MapOf[string, holder]
}

// NewMemoryLease creates an in-process lease. A nil clock uses the real clock.
func NewMemoryLease(key string, ttl time.Duration, clock clockwork.Clock) *MemoryLease {
	if key == "" {
		key = DefaultKey
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryLease{
		key:     key,
		ttl:     ttl,
		clock:   clock,
		holders: xsync.NewMapOf[string, holder](),
	}
}

func (l *MemoryLease) live(h holder, loaded bool) bool {
	return loaded && l.clock.Now().Before(h.expiresAt)
}

func (l *MemoryLease) TryObtain(_ context.Context) (string, bool, error) {
	owner := newOwner()
	won := false
	l.holders.Compute(l.key, func(old holder, loaded bool) (holder, bool) {
		if l.live(old, loaded) {
			return old, false
		}
		if loaded {
			log.Debug().Str("key", l.key).Str("expired_owner", old.owner).Msg("Lease expired, allowing new acquisition")
		}
		won = true
		return holder{owner: owner, expiresAt: l.clock.Now().Add(l.ttl)}, false
	})

	if !won {
		return "", false, nil
	}
	return owner, true, nil
}

func (l *MemoryLease) Renew(_ context.Context, owner string) (bool, error) {
	renewed := false
	l.holders.Compute(l.key, func(old holder, loaded bool) (holder, bool) {
		if l.live(old, loaded) && old.owner != owner {
			return old, false
		}
		renewed = true
		return holder{owner: owner, expiresAt: l.clock.Now().Add(l.ttl)}, false
	})
	return renewed, nil
}

func (l *MemoryLease) Release(_ context.Context, owner string) error {
	l.holders.Compute(l.key, func(old holder, loaded bool) (holder, bool) {
		if !loaded {
			return old, true
		}
		return old, old.owner == owner
	})
	return nil
}

func (l *MemoryLease) TTL(_ context.Context) (time.Duration, error) {
	h, ok := l.holders.Load(l.key)
	if !l.live(h, ok) {
		return 0, nil
	}
	return h.expiresAt.Sub(l.clock.Now()), nil
}
