package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/syncdesk/backend/internal/store"
	"github.com/syncdesk/backend/internal/workspace"
)

var errStoreDown = errors.New("store unavailable")

type fakeSender struct {
	mu     sync.Mutex
	events []Event
}

func (s *fakeSender) Send(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *fakeSender) eventsOfType(eventType string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := make([]Event, 0)
	for _, event := range s.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// fakeStore satisfies every store interface the coordinator consumes, with
// per-operation failure switches for persistence-error paths.
type fakeStore struct {
	mu         sync.Mutex
	presence   map[string]store.PresenceRecord
	locks      map[string]store.OrderLockRecord
	edits      []store.OrderEditRecord
	chats      []store.ChatMessageRecord
	activities []store.ActivityRecord

	failSaveLock       bool
	failClearLock      bool
	failAppendEdit     bool
	failUpsertPresence bool
	failSaveChat       bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		presence: make(map[string]store.PresenceRecord),
		locks:    make(map[string]store.OrderLockRecord),
	}
}

func presenceKey(userID, workspaceID string) string {
	return userID + "|" + workspaceID
}

func (f *fakeStore) UpsertPresence(_ context.Context, record store.PresenceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpsertPresence {
		return errStoreDown
	}
	f.presence[presenceKey(record.UserID, record.WorkspaceID)] = record
	return nil
}

func (f *fakeStore) ListPresence(_ context.Context, workspaceID string) ([]store.PresenceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	records := make([]store.PresenceRecord, 0)
	for _, record := range f.presence {
		if record.WorkspaceID == workspaceID {
			records = append(records, record)
		}
	}
	return records, nil
}

func (f *fakeStore) presenceStatus(userID, workspaceID string) (store.PresenceStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.presence[presenceKey(userID, workspaceID)]
	return record.Status, ok
}

func (f *fakeStore) SaveLock(_ context.Context, record store.OrderLockRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSaveLock {
		return errStoreDown
	}
	f.locks[record.OrderID] = record
	return nil
}

func (f *fakeStore) ClearLock(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failClearLock {
		return errStoreDown
	}
	delete(f.locks, orderID)
	return nil
}

func (f *fakeStore) lockCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.locks)
}

func (f *fakeStore) AppendEdit(_ context.Context, record store.OrderEditRecord) (store.OrderEditRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAppendEdit {
		return store.OrderEditRecord{}, errStoreDown
	}
	var latest int64
	for _, existing := range f.edits {
		if existing.OrderID == record.OrderID && existing.Version > latest {
			latest = existing.Version
		}
	}
	record.Version = latest + 1
	record.EditID = fmt.Sprintf("edit-%d", len(f.edits)+1)
	record.AppliedAtSeconds = time.Now().UTC().Unix()
	f.edits = append(f.edits, record)
	return record, nil
}

func (f *fakeStore) editCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.edits)
}

func (f *fakeStore) SaveChatMessage(_ context.Context, record store.ChatMessageRecord) (store.ChatMessageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSaveChat {
		return store.ChatMessageRecord{}, errStoreDown
	}
	record.MessageID = fmt.Sprintf("msg-%d", len(f.chats)+1)
	record.SentAtSeconds = time.Now().UTC().Unix()
	if record.MessageType == "" {
		record.MessageType = "text"
	}
	f.chats = append(f.chats, record)
	return record, nil
}

func (f *fakeStore) RecordActivity(_ context.Context, record store.ActivityRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	record.ActivityID = fmt.Sprintf("act-%d", len(f.activities)+1)
	if record.OccurredAtSeconds == 0 {
		record.OccurredAtSeconds = time.Now().UTC().Unix()
	}
	f.activities = append(f.activities, record)
	return nil
}

func (f *fakeStore) RecentActivity(_ context.Context, workspaceID string, limit int) ([]store.ActivityRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	records := make([]store.ActivityRecord, 0)
	for i := len(f.activities) - 1; i >= 0 && len(records) < limit; i-- {
		if f.activities[i].WorkspaceID == workspaceID {
			records = append(records, f.activities[i])
		}
	}
	return records, nil
}

type fakeMembership struct {
	mu    sync.Mutex
	roles map[string]string
}

func newFakeMembership() *fakeMembership {
	return &fakeMembership{roles: make(map[string]string)}
}

func (f *fakeMembership) allow(userID, workspaceID, role string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[presenceKey(userID, workspaceID)] = role
}

func (f *fakeMembership) Authorize(_ context.Context, userID, workspaceID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.roles[presenceKey(userID, workspaceID)]
	if !ok {
		return "", workspace.ErrNotAMember
	}
	return role, nil
}

func (f *fakeMembership) ListActiveMembers(_ context.Context, workspaceID string) ([]workspace.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members := make([]workspace.Membership, 0)
	for key, role := range f.roles {
		parts := strings.SplitN(key, "|", 2)
		if len(parts) != 2 || parts[1] != workspaceID {
			continue
		}
		members = append(members, workspace.Membership{
			WorkspaceID: workspaceID,
			UserID:      parts[0],
			Role:        role,
			Status:      workspace.MembershipStatusActive,
		})
	}
	return members, nil
}

type coordinatorFixture struct {
	coordinator *Coordinator
	registry    *Registry
	locks       *LockManager
	broadcaster *Broadcaster
	store       *fakeStore
	membership  *fakeMembership
	clock       *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newCoordinatorFixture(t interface{ Fatalf(string, ...any) }) *coordinatorFixture {
	clock := newFakeClock(time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC))
	fake := newFakeStore()
	membership := newFakeMembership()
	registry := NewRegistry()
	broadcaster := NewBroadcaster(registry, nil)
	locks := NewLockManager(LockManagerConfig{Store: fake, Clock: clock.Now, DefaultTTL: 5 * time.Minute})
	edits := NewEditCoordinator(fake, locks, clock.Now, nil)
	presence := NewPresenceTracker(fake, clock.Now, nil)

	coordinator, err := NewCoordinator(CoordinatorConfig{
		Registry:    registry,
		Presence:    presence,
		Locks:       locks,
		Edits:       edits,
		Broadcaster: broadcaster,
		Membership:  membership,
		Chat:        fake,
		Activity:    fake,
		Clock:       clock.Now,
	})
	if err != nil {
		t.Fatalf("unexpected coordinator constructor error: %v", err)
	}
	return &coordinatorFixture{
		coordinator: coordinator,
		registry:    registry,
		locks:       locks,
		broadcaster: broadcaster,
		store:       fake,
		membership:  membership,
		clock:       clock,
	}
}

// connectAndJoin registers a connection and joins it to the workspace,
// granting membership first.
func (f *coordinatorFixture) connectAndJoin(t interface{ Fatalf(string, ...any) }, connID, userID, workspaceID string) (*Conn, *fakeSender) {
	sender := &fakeSender{}
	conn := NewConn(connID, userID, sender)
	f.membership.allow(userID, workspaceID, "member")
	f.coordinator.Connect(conn)
	f.coordinator.HandleEvent(context.Background(), conn, EventJoinWorkspace,
		mustJSON(t, JoinWorkspacePayload{WorkspaceID: workspaceID}))
	if len(sender.eventsOfType(EventCollaborationError)) != 0 {
		t.Fatalf("unexpected join error for %s: %+v", connID, sender.eventsOfType(EventCollaborationError))
	}
	return conn, sender
}

func mustJSON(t interface{ Fatalf(string, ...any) }, value any) []byte {
	raw, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	return raw
}
