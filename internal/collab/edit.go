package collab

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/syncdesk/backend/internal/store"
)

// EditStore appends accepted edits and assigns their versions.
type EditStore interface {
	AppendEdit(ctx context.Context, record store.OrderEditRecord) (store.OrderEditRecord, error)
}

// EditProposal is a field-level edit submitted by a workspace member.
type EditProposal struct {
	OrderID     string
	UserID      string
	WorkspaceID string
	FieldPath   string
	OldValue    string
	NewValue    string
}

// EditCoordinator accepts edit proposals, enforces lock ownership, and
// persists them before any broadcast.
type EditCoordinator struct {
	edits  EditStore
	locks  *LockManager
	clock  func() time.Time
	logger *zap.Logger
}

// NewEditCoordinator constructs the coordinator.
func NewEditCoordinator(edits EditStore, locks *LockManager, clock func() time.Time, logger *zap.Logger) *EditCoordinator {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EditCoordinator{edits: edits, locks: locks, clock: clock, logger: logger}
}

// Propose validates the edit against the current lock holder and persists it.
// The returned record carries the server-assigned version. An order locked by
// another user rejects the proposal; an unlocked order accepts it.
func (c *EditCoordinator) Propose(ctx context.Context, proposal EditProposal) (store.OrderEditRecord, error) {
	if proposal.FieldPath == "" {
		return store.OrderEditRecord{}, newCollabError(CodeProtocolError, "fieldPath is required", nil)
	}

	if lock, held := c.locks.Holder(proposal.OrderID); held && lock.HolderUserID != proposal.UserID {
		return store.OrderEditRecord{}, newCollabError(CodeOrderLocked,
			fmt.Sprintf("order %s is locked by %s", proposal.OrderID, lock.HolderUserID), nil)
	}

	record, err := c.edits.AppendEdit(ctx, store.OrderEditRecord{
		OrderID:      proposal.OrderID,
		UserID:       proposal.UserID,
		WorkspaceID:  proposal.WorkspaceID,
		FieldPath:    proposal.FieldPath,
		OldValueJSON: proposal.OldValue,
		NewValueJSON: proposal.NewValue,
	})
	if err != nil {
		return store.OrderEditRecord{}, newCollabError(CodePersistenceFailed, "edit was not persisted", err)
	}
	return record, nil
}
