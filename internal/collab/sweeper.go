package collab

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically reaps expired locks and emits liveness heartbeats to
// every connected client.
type Sweeper struct {
	locks       *LockManager
	broadcaster *Broadcaster
	interval    time.Duration
	clock       func() time.Time
	logger      *zap.Logger
}

// NewSweeper constructs the sweeper.
func NewSweeper(locks *LockManager, broadcaster *Broadcaster, interval time.Duration, clock func() time.Time, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{locks: locks, broadcaster: broadcaster, interval: interval, clock: clock, logger: logger}
}

// Run ticks until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one sweep: expired locks are reaped and announced to their
// workspaces, then a heartbeat goes out to all connections.
func (s *Sweeper) Tick(ctx context.Context) {
	now := s.clock().UTC()
	for _, lock := range s.locks.SweepExpired(ctx, now) {
		s.logger.Info("expired lock reaped",
			zap.String("order_id", lock.OrderID),
			zap.String("holder", lock.HolderUserID),
			zap.String("workspace_id", lock.WorkspaceID))
		s.broadcaster.Broadcast(lock.WorkspaceID, Event{
			Type: EventOrderUnlock,
			Payload: OrderUnlockBroadcastPayload{
				OrderID:     lock.OrderID,
				WorkspaceID: lock.WorkspaceID,
			},
		}, "")
	}

	s.broadcaster.BroadcastAll(Event{
		Type:    EventHeartbeat,
		Payload: HeartbeatPayload{Timestamp: now.Unix()},
	})
}
