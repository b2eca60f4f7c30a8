package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/syncdesk/backend/internal/store"
)

// PresenceStore persists presence snapshots as the system of record.
type PresenceStore interface {
	UpsertPresence(ctx context.Context, record store.PresenceRecord) error
	ListPresence(ctx context.Context, workspaceID string) ([]store.PresenceRecord, error)
}

// PresenceTracker maintains per-(user, workspace) presence. All state lives
// in the store; the registry answers "who is live" for routing.
type PresenceTracker struct {
	store  PresenceStore
	clock  func() time.Time
	logger *zap.Logger
}

// NewPresenceTracker constructs the tracker.
func NewPresenceTracker(presenceStore PresenceStore, clock func() time.Time, logger *zap.Logger) *PresenceTracker {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PresenceTracker{store: presenceStore, clock: clock, logger: logger}
}

// SetOnline records the user online in the workspace.
func (t *PresenceTracker) SetOnline(ctx context.Context, userID, workspaceID string) error {
	return t.store.UpsertPresence(ctx, store.PresenceRecord{
		UserID:              userID,
		WorkspaceID:         workspaceID,
		Status:              store.PresenceStatusOnline,
		LastActivitySeconds: t.clock().UTC().Unix(),
	})
}

// SetOffline records the user offline in the workspace.
func (t *PresenceTracker) SetOffline(ctx context.Context, userID, workspaceID string) error {
	return t.store.UpsertPresence(ctx, store.PresenceRecord{
		UserID:              userID,
		WorkspaceID:         workspaceID,
		Status:              store.PresenceStatusOffline,
		LastActivitySeconds: t.clock().UTC().Unix(),
	})
}

// Update persists a client-reported presence change.
func (t *PresenceTracker) Update(ctx context.Context, userID, workspaceID, status, currentPage string, cursor json.RawMessage) error {
	parsed, err := parsePresenceStatus(status)
	if err != nil {
		return err
	}
	return t.store.UpsertPresence(ctx, store.PresenceRecord{
		UserID:              userID,
		WorkspaceID:         workspaceID,
		Status:              parsed,
		CurrentPage:         currentPage,
		CursorJSON:          string(cursor),
		LastActivitySeconds: t.clock().UTC().Unix(),
	})
}

// WorkspacePresence returns the persisted presence rows for a workspace.
func (t *PresenceTracker) WorkspacePresence(ctx context.Context, workspaceID string) ([]store.PresenceRecord, error) {
	return t.store.ListPresence(ctx, workspaceID)
}

func parsePresenceStatus(status string) (store.PresenceStatus, error) {
	switch store.PresenceStatus(status) {
	case store.PresenceStatusOnline, store.PresenceStatusAway, store.PresenceStatusOffline:
		return store.PresenceStatus(status), nil
	default:
		return "", newCollabError(CodeProtocolError, fmt.Sprintf("unknown presence status %q", status), nil)
	}
}
