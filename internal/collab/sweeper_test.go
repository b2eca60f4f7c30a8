package collab

import (
	"context"
	"testing"
	"time"
)

func TestSweeperReapsExpiredLocksAndAnnounces(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC))
	fake := newFakeStore()
	registry := NewRegistry()
	broadcaster := NewBroadcaster(registry, nil)
	locks := NewLockManager(LockManagerConfig{Store: fake, Clock: clock.Now, DefaultTTL: 5 * time.Minute})
	sweeper := NewSweeper(locks, broadcaster, 30*time.Second, clock.Now, nil)

	viewer := &fakeSender{}
	registry.Register(NewConn("conn-1", "user-viewer", viewer))
	if _, err := registry.Join("conn-1", "ws-1", "member"); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}

	ctx := context.Background()
	if _, err := locks.Request(ctx, "order-1", "user-a", "ws-1", time.Minute); err != nil {
		t.Fatalf("unexpected lock error: %v", err)
	}

	clock.Advance(2 * time.Minute)
	sweeper.Tick(ctx)

	if _, held := locks.Holder("order-1"); held {
		t.Fatal("expected expired lock to be reaped")
	}
	if fake.lockCount() != 0 {
		t.Fatalf("expected mirror cleared, got %d rows", fake.lockCount())
	}
	unlocks := viewer.eventsOfType(EventOrderUnlock)
	if len(unlocks) != 1 {
		t.Fatalf("expected one order_unlock broadcast, got %d", len(unlocks))
	}
}

func TestSweeperEmitsHeartbeatToAllConnections(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC))
	fake := newFakeStore()
	registry := NewRegistry()
	broadcaster := NewBroadcaster(registry, nil)
	locks := NewLockManager(LockManagerConfig{Store: fake, Clock: clock.Now, DefaultTTL: 5 * time.Minute})
	sweeper := NewSweeper(locks, broadcaster, 30*time.Second, clock.Now, nil)

	joined := &fakeSender{}
	drifting := &fakeSender{}
	registry.Register(NewConn("conn-1", "user-a", joined))
	registry.Register(NewConn("conn-2", "user-b", drifting))
	if _, err := registry.Join("conn-1", "ws-1", "member"); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}

	sweeper.Tick(context.Background())

	for name, sender := range map[string]*fakeSender{"joined": joined, "drifting": drifting} {
		beats := sender.eventsOfType(EventHeartbeat)
		if len(beats) != 1 {
			t.Fatalf("expected one heartbeat for %s connection, got %d", name, len(beats))
		}
		payload, ok := beats[0].Payload.(HeartbeatPayload)
		if !ok {
			t.Fatalf("unexpected heartbeat payload %T", beats[0].Payload)
		}
		if payload.Timestamp != clock.Now().Unix() {
			t.Fatalf("unexpected heartbeat timestamp %d", payload.Timestamp)
		}
	}
}

func TestSweeperRunStopsOnContextCancel(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC))
	fake := newFakeStore()
	registry := NewRegistry()
	locks := NewLockManager(LockManagerConfig{Store: fake, Clock: clock.Now, DefaultTTL: 5 * time.Minute})
	sweeper := NewSweeper(locks, NewBroadcaster(registry, nil), time.Millisecond, clock.Now, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after context cancellation")
	}
}
