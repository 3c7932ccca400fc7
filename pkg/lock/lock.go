// Package lock provides leased, per-dataset mutual exclusion on Redis. A
// lease auto-expires if its holder crashes, so no recovery process exists or
// is needed.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "refresher:lock:"

// ErrLockHeld signals another refresh is in flight for the dataset. It is an
// expected outcome under load, not a fault.
var ErrLockHeld = errors.New("lock held by another refresh")

// Owner checks and the mutation must be one atomic step: a GET-then-DEL pair
// would let a stale holder delete a lease acquired between the two calls.
//
//nolint:gochecknoglobals // Scripts are immutable and shared across managers
var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

	renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
)

// Token is a claim on a dataset's refresh. At most one non-expired token
// exists per dataset id; Redis enforces this, not application code.
type Token struct {
	DatasetID  string
	Holder     string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Manager acquires and releases dataset leases
type Manager struct {
	log   logrus.FieldLogger
	redis *redis.Client
}

// NewManager creates a lock manager on the given Redis client
func NewManager(log logrus.FieldLogger, client *redis.Client) *Manager {
	return &Manager{
		log:   log.WithField("component", "lock"),
		redis: client,
	}
}

// Acquire claims the dataset lease, failing fast with ErrLockHeld if another
// valid token exists. Callers must not queue behind the lock; the calling
// context is a short-lived request.
func (m *Manager) Acquire(ctx context.Context, datasetID string, lease time.Duration) (*Token, error) {
	holder := uuid.New().String()

	ok, err := m.redis.SetNX(ctx, keyPrefix+datasetID, holder, lease).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock for %s: %w", datasetID, err)
	}

	if !ok {
		m.log.WithField("dataset", datasetID).Info("Lock held by another refresh")

		return nil, fmt.Errorf("%w: %s", ErrLockHeld, datasetID)
	}

	now := time.Now()

	m.log.WithFields(logrus.Fields{
		"dataset": datasetID,
		"holder":  holder,
		"lease":   lease,
	}).Debug("Acquired lock")

	return &Token{
		DatasetID:  datasetID,
		Holder:     holder,
		AcquiredAt: now,
		ExpiresAt:  now.Add(lease),
	}, nil
}

// Release gives up the lease. It is idempotent: releasing an expired or
// already-released token is a no-op because the holder may race with
// auto-expiry, and a lease acquired by someone else is never disturbed.
func (m *Manager) Release(ctx context.Context, token *Token) error {
	key := keyPrefix + token.DatasetID

	deleted, err := releaseScript.Run(ctx, m.redis, []string{key}, token.Holder).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock for %s: %w", token.DatasetID, err)
	}

	if deleted == 0 {
		// Lease expired and someone else may hold it; nothing of ours to release.
		return nil
	}

	m.log.WithFields(logrus.Fields{
		"dataset": token.DatasetID,
		"holder":  token.Holder,
	}).Debug("Released lock")

	return nil
}

// Renew extends the lease of a still-held token. Used only when a single
// refresh could plausibly exceed the lease duration.
func (m *Manager) Renew(ctx context.Context, token *Token, extension time.Duration) error {
	key := keyPrefix + token.DatasetID

	renewed, err := renewScript.Run(ctx, m.redis, []string{key}, token.Holder, extension.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to renew lock for %s: %w", token.DatasetID, err)
	}

	if renewed == 0 {
		// Expired, or expired and re-acquired by someone else.
		return fmt.Errorf("%w: %s", ErrLockHeld, token.DatasetID)
	}

	token.ExpiresAt = time.Now().Add(extension)

	m.log.WithFields(logrus.Fields{
		"dataset":   token.DatasetID,
		"extension": extension,
	}).Debug("Renewed lock lease")

	return nil
}
