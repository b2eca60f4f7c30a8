package collab

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/syncdesk/backend/internal/store"
)

// LockStore mirrors lock state into the durable store.
type LockStore interface {
	SaveLock(ctx context.Context, record store.OrderLockRecord) error
	ClearLock(ctx context.Context, orderID string) error
}

// Lock is a live exclusive edit claim on one order.
type Lock struct {
	OrderID      string
	WorkspaceID  string
	HolderUserID string
	ExpiresAt    time.Time
}

// LockResult is the outcome of a lock request. Contention is a result, not
// an error: Granted is false and Holder/ExpiresAt describe the current owner.
type LockResult struct {
	Granted   bool
	Holder    string
	ExpiresAt time.Time
}

// LockManagerConfig describes the dependencies for the lock manager.
type LockManagerConfig struct {
	Store      LockStore
	Clock      func() time.Time
	DefaultTTL time.Duration
	Logger     *zap.Logger
}

// LockManager owns the in-memory lock table. The mutex is held across the
// store mirror write so check-then-set and mirror updates stay ordered; the
// at-most-one-holder invariant depends on it.
type LockManager struct {
	mu         sync.Mutex
	locks      map[string]Lock
	store      LockStore
	clock      func() time.Time
	defaultTTL time.Duration
	logger     *zap.Logger
}

// NewLockManager constructs the lock manager.
func NewLockManager(cfg LockManagerConfig) *LockManager {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LockManager{
		locks:      make(map[string]Lock),
		store:      cfg.Store,
		clock:      clock,
		defaultTTL: ttl,
		logger:     logger,
	}
}

// Warm seeds the in-memory table from mirrored rows on process start.
func (m *LockManager) Warm(records []store.OrderLockRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range records {
		m.locks[record.OrderID] = Lock{
			OrderID:      record.OrderID,
			WorkspaceID:  record.WorkspaceID,
			HolderUserID: record.HolderUserID,
			ExpiresAt:    time.Unix(record.ExpiresAtSeconds, 0).UTC(),
		}
	}
}

// Request grants a fresh lock, extends the caller's existing lock, or
// reports the current holder. The mirror write is awaited before the new
// state becomes visible; a mirror failure leaves the table unchanged.
func (m *LockManager) Request(ctx context.Context, orderID, userID, workspaceID string, duration time.Duration) (LockResult, error) {
	if duration <= 0 {
		duration = m.defaultTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock().UTC()
	existing, held := m.liveLockLocked(orderID, now)
	if held && existing.HolderUserID != userID {
		return LockResult{Granted: false, Holder: existing.HolderUserID, ExpiresAt: existing.ExpiresAt}, nil
	}

	expiresAt := now.Add(duration)
	if held && existing.ExpiresAt.After(expiresAt) {
		// Renewal never shortens a lock.
		expiresAt = existing.ExpiresAt
	}

	lock := Lock{OrderID: orderID, WorkspaceID: workspaceID, HolderUserID: userID, ExpiresAt: expiresAt}
	if err := m.store.SaveLock(ctx, store.OrderLockRecord{
		OrderID:          orderID,
		WorkspaceID:      workspaceID,
		HolderUserID:     userID,
		ExpiresAtSeconds: expiresAt.Unix(),
	}); err != nil {
		return LockResult{}, err
	}
	m.locks[orderID] = lock
	return LockResult{Granted: true, Holder: userID, ExpiresAt: expiresAt}, nil
}

// Release deletes the lock if present and clears the mirror. Releasing an
// absent lock, or one held by someone else, is an accepted no-op.
func (m *LockManager) Release(ctx context.Context, orderID string) (Lock, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, held := m.liveLockLocked(orderID, m.clock().UTC())
	if err := m.store.ClearLock(ctx, orderID); err != nil {
		return Lock{}, false, err
	}
	delete(m.locks, orderID)
	return existing, held, nil
}

// ReleaseAllForUser releases every live lock held by the user, optionally
// scoped to a single workspace (an empty workspaceID matches all). The
// released locks are returned so callers can broadcast per workspace. Mirror
// failures are logged and do not stop the scan; the memory state always
// clears.
func (m *LockManager) ReleaseAllForUser(ctx context.Context, userID, workspaceID string) []Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock().UTC()
	released := make([]Lock, 0)
	for orderID, lock := range m.locks {
		if lock.HolderUserID != userID {
			continue
		}
		if workspaceID != "" && lock.WorkspaceID != workspaceID {
			continue
		}
		if err := m.store.ClearLock(ctx, orderID); err != nil {
			m.logger.Warn("lock mirror clear failed on user release",
				zap.String("order_id", orderID), zap.String("user_id", userID), zap.Error(err))
		}
		delete(m.locks, orderID)
		if lock.ExpiresAt.After(now) {
			released = append(released, lock)
		}
	}
	return released
}

// SweepExpired removes every lock whose expiry has passed, clearing mirrors
// as it goes, and returns the reaped locks.
func (m *LockManager) SweepExpired(ctx context.Context, now time.Time) []Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	reaped := make([]Lock, 0)
	for orderID, lock := range m.locks {
		if lock.ExpiresAt.After(now) {
			continue
		}
		if err := m.store.ClearLock(ctx, orderID); err != nil {
			m.logger.Warn("lock mirror clear failed on sweep",
				zap.String("order_id", orderID), zap.Error(err))
		}
		delete(m.locks, orderID)
		reaped = append(reaped, lock)
	}
	return reaped
}

// Holder returns the live lock on an order, if any.
func (m *LockManager) Holder(orderID string) (Lock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveLockLocked(orderID, m.clock().UTC())
}

// ActiveLocksForWorkspace returns the live locks scoped to one workspace,
// used for the join-time state snapshot.
func (m *LockManager) ActiveLocksForWorkspace(workspaceID string) []Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock().UTC()
	active := make([]Lock, 0)
	for _, lock := range m.locks {
		if lock.WorkspaceID == workspaceID && lock.ExpiresAt.After(now) {
			active = append(active, lock)
		}
	}
	return active
}

func (m *LockManager) liveLockLocked(orderID string, now time.Time) (Lock, bool) {
	lock, ok := m.locks[orderID]
	if !ok || !lock.ExpiresAt.After(now) {
		return Lock{}, false
	}
	return lock, true
}
