package billing

import (
	"time"

	"github.com/feedbax/feedbax/internal/pkg/cache"
)

const sweepLockKey = "billing:sweep:lock"

// SweepLocker guards against overlapping full reconciliation sweeps. It does
// not serialize individual record writes; same-record races between a sweep
// and a webhook resolve last-write-wins on the updated-at columns.
type SweepLocker interface {
	Acquire(ttl time.Duration) (bool, error)
	Release() error
}

type cacheSweepLocker struct{}

func (cacheSweepLocker) Acquire(ttl time.Duration) (bool, error) {
	return cache.AcquireLock(sweepLockKey, ttl)
}

func (cacheSweepLocker) Release() error {
	return cache.ReleaseLock(sweepLockKey)
}
