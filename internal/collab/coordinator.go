package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/syncdesk/backend/internal/store"
	"github.com/syncdesk/backend/internal/workspace"
)

// MembershipAuthorizer answers whether a user may join a workspace and lists
// the workspace roster for state snapshots. Checks hit the source of truth on
// every join so revocations are never cached away.
type MembershipAuthorizer interface {
	Authorize(ctx context.Context, userID, workspaceID string) (string, error)
	ListActiveMembers(ctx context.Context, workspaceID string) ([]workspace.Membership, error)
}

// ChatStore persists chat messages before broadcast.
type ChatStore interface {
	SaveChatMessage(ctx context.Context, record store.ChatMessageRecord) (store.ChatMessageRecord, error)
}

// ActivityStore feeds the fire-and-forget activity log and the join snapshot.
type ActivityStore interface {
	RecordActivity(ctx context.Context, record store.ActivityRecord) error
	RecentActivity(ctx context.Context, workspaceID string, limit int) ([]store.ActivityRecord, error)
}

const defaultActivityLimit = 50

// CoordinatorConfig describes the dependencies of the event coordinator.
type CoordinatorConfig struct {
	Registry      *Registry
	Presence      *PresenceTracker
	Locks         *LockManager
	Edits         *EditCoordinator
	Broadcaster   *Broadcaster
	Membership    MembershipAuthorizer
	Chat          ChatStore
	Activity      ActivityStore
	Clock         func() time.Time
	ActivityLimit int
	Logger        *zap.Logger
}

// Coordinator routes inbound socket events through the collaboration
// components. Every handler runs inside its own failure boundary: one bad
// event produces one collaboration_error on the offending connection and
// nothing else.
type Coordinator struct {
	registry      *Registry
	presence      *PresenceTracker
	locks         *LockManager
	edits         *EditCoordinator
	broadcaster   *Broadcaster
	membership    MembershipAuthorizer
	chat          ChatStore
	activity      ActivityStore
	clock         func() time.Time
	activityLimit int
	logger        *zap.Logger
}

// NewCoordinator constructs the coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Registry == nil || cfg.Presence == nil || cfg.Locks == nil ||
		cfg.Edits == nil || cfg.Broadcaster == nil || cfg.Membership == nil ||
		cfg.Chat == nil || cfg.Activity == nil {
		return nil, errors.New("collab: all coordinator dependencies are required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := cfg.ActivityLimit
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	return &Coordinator{
		registry:      cfg.Registry,
		presence:      cfg.Presence,
		locks:         cfg.Locks,
		edits:         cfg.Edits,
		broadcaster:   cfg.Broadcaster,
		membership:    cfg.Membership,
		chat:          cfg.Chat,
		activity:      cfg.Activity,
		clock:         clock,
		activityLimit: limit,
		logger:        logger,
	}, nil
}

// Connect registers an authenticated connection.
func (c *Coordinator) Connect(conn *Conn) {
	c.registry.Register(conn)
	c.logger.Info("connection registered",
		zap.String("conn_id", conn.ID), zap.String("user_id", conn.UserID))
}

// Disconnect runs the teardown cascade for a closed connection: presence
// goes offline and locks are released in every workspace the user is no
// longer present in, and any remaining locks go once their last connection
// is gone. It runs even when the client never sent leave events.
func (c *Coordinator) Disconnect(ctx context.Context, connID string) {
	userID, departed, lastConnection := c.registry.Unregister(connID)
	if userID == "" {
		return
	}

	for _, workspaceID := range departed {
		if err := c.presence.SetOffline(ctx, userID, workspaceID); err != nil {
			c.logger.Warn("presence offline write failed on disconnect",
				zap.String("user_id", userID), zap.String("workspace_id", workspaceID), zap.Error(err))
		}
		c.broadcaster.Broadcast(workspaceID, Event{
			Type:    EventMemberLeft,
			Payload: MemberEventPayload{WorkspaceID: workspaceID, UserID: userID, Timestamp: c.now()},
		}, userID)
		c.recordActivity(ctx, workspaceID, userID, "member_left", "")
		c.announceReleasedLocks(c.locks.ReleaseAllForUser(ctx, userID, workspaceID), userID)
	}

	if lastConnection {
		c.announceReleasedLocks(c.locks.ReleaseAllForUser(ctx, userID, ""), userID)
	}

	c.logger.Info("connection closed",
		zap.String("conn_id", connID), zap.String("user_id", userID),
		zap.Bool("last_connection", lastConnection))
}

// HandleEvent dispatches one inbound event. Failures are reported to the
// sending connection as collaboration_error events; other connections are
// never notified of another user's failed action.
func (c *Coordinator) HandleEvent(ctx context.Context, conn *Conn, eventType string, payload json.RawMessage) {
	defer func() {
		if recovered := recover(); recovered != nil {
			c.logger.Error("event handler panicked",
				zap.String("event", eventType), zap.String("conn_id", conn.ID),
				zap.Any("panic", recovered))
			c.sendError(conn, newCollabError(CodeInternal, "internal error", nil))
		}
	}()

	var err error
	switch eventType {
	case EventJoinWorkspace:
		err = c.handleJoin(ctx, conn, payload)
	case EventLeaveWorkspace:
		err = c.handleLeave(ctx, conn, payload)
	case EventPresenceUpdate:
		err = c.handlePresenceUpdate(ctx, conn, payload)
	case EventRequestOrderLock:
		err = c.handleRequestLock(ctx, conn, payload)
	case EventReleaseOrderLock:
		err = c.handleReleaseLock(ctx, conn, payload)
	case EventOrderEdit:
		err = c.handleOrderEdit(ctx, conn, payload)
	case EventChatMessage:
		err = c.handleChatMessage(ctx, conn, payload)
	case EventTypingStart:
		err = c.handleTyping(conn, payload, true)
	case EventTypingStop:
		err = c.handleTyping(conn, payload, false)
	default:
		err = newCollabError(CodeProtocolError, fmt.Sprintf("unknown event type %q", eventType), nil)
	}

	if err != nil {
		c.logger.Debug("event handler failed",
			zap.String("event", eventType), zap.String("conn_id", conn.ID),
			zap.String("user_id", conn.UserID), zap.Error(err))
		c.sendError(conn, err)
	}
}

func (c *Coordinator) handleJoin(ctx context.Context, conn *Conn, payload json.RawMessage) error {
	var request JoinWorkspacePayload
	if err := decodePayload(payload, &request); err != nil {
		return err
	}
	if request.WorkspaceID == "" {
		return newCollabError(CodeProtocolError, "workspaceId is required", nil)
	}

	role, err := c.membership.Authorize(ctx, conn.UserID, request.WorkspaceID)
	if errors.Is(err, workspace.ErrNotAMember) {
		return newCollabError(CodeJoinDenied,
			fmt.Sprintf("no active membership in workspace %s", request.WorkspaceID), err)
	}
	if err != nil {
		return newCollabError(CodePersistenceFailed, "membership check failed", err)
	}

	firstForUser, err := c.registry.Join(conn.ID, request.WorkspaceID, role)
	if err != nil {
		return newCollabError(CodeInternal, "connection not registered", err)
	}

	if firstForUser {
		if err := c.presence.SetOnline(ctx, conn.UserID, request.WorkspaceID); err != nil {
			return newCollabError(CodePersistenceFailed, "presence write failed", err)
		}
		c.broadcaster.Broadcast(request.WorkspaceID, Event{
			Type:    EventMemberJoined,
			Payload: MemberEventPayload{WorkspaceID: request.WorkspaceID, UserID: conn.UserID, Timestamp: c.now()},
		}, conn.UserID)
		c.recordActivity(ctx, request.WorkspaceID, conn.UserID, "member_joined", "")
	}

	snapshot, err := c.workspaceSnapshot(ctx, request.WorkspaceID)
	if err != nil {
		return err
	}
	if err := conn.Send(Event{Type: EventWorkspaceState, Payload: snapshot}); err != nil {
		c.logger.Debug("snapshot send failed", zap.String("conn_id", conn.ID), zap.Error(err))
	}
	return nil
}

func (c *Coordinator) handleLeave(ctx context.Context, conn *Conn, payload json.RawMessage) error {
	var request LeaveWorkspacePayload
	if err := decodePayload(payload, &request); err != nil {
		return err
	}

	lastForUser, err := c.registry.Leave(conn.ID, request.WorkspaceID)
	if errors.Is(err, ErrNotJoined) {
		return newCollabError(CodeWorkspaceNotJoined,
			fmt.Sprintf("not joined to workspace %s", request.WorkspaceID), err)
	}
	if err != nil {
		return newCollabError(CodeInternal, "connection not registered", err)
	}

	if lastForUser {
		if err := c.presence.SetOffline(ctx, conn.UserID, request.WorkspaceID); err != nil {
			return newCollabError(CodePersistenceFailed, "presence write failed", err)
		}
		c.broadcaster.Broadcast(request.WorkspaceID, Event{
			Type:    EventMemberLeft,
			Payload: MemberEventPayload{WorkspaceID: request.WorkspaceID, UserID: conn.UserID, Timestamp: c.now()},
		}, conn.UserID)
		c.recordActivity(ctx, request.WorkspaceID, conn.UserID, "member_left", "")
		c.announceReleasedLocks(c.locks.ReleaseAllForUser(ctx, conn.UserID, request.WorkspaceID), conn.UserID)
	}
	return nil
}

// announceReleasedLocks broadcasts order_unlock for every lock a cleanup
// path released on the user's behalf.
func (c *Coordinator) announceReleasedLocks(released []Lock, userID string) {
	for _, lock := range released {
		c.broadcaster.Broadcast(lock.WorkspaceID, Event{
			Type: EventOrderUnlock,
			Payload: OrderUnlockBroadcastPayload{
				OrderID:     lock.OrderID,
				WorkspaceID: lock.WorkspaceID,
				ReleasedBy:  userID,
			},
		}, userID)
	}
}

func (c *Coordinator) handlePresenceUpdate(ctx context.Context, conn *Conn, payload json.RawMessage) error {
	var request PresenceUpdatePayload
	if err := decodePayload(payload, &request); err != nil {
		return err
	}
	if err := c.requireJoined(conn, request.WorkspaceID); err != nil {
		return err
	}

	if err := c.presence.Update(ctx, conn.UserID, request.WorkspaceID, request.Status, request.CurrentPage, request.CursorPosition); err != nil {
		var collabErr *CollabError
		if errors.As(err, &collabErr) {
			return err
		}
		return newCollabError(CodePersistenceFailed, "presence write failed", err)
	}

	c.broadcaster.Broadcast(request.WorkspaceID, Event{
		Type: EventPresenceUpdate,
		Payload: PresenceBroadcastPayload{
			WorkspaceID:    request.WorkspaceID,
			UserID:         conn.UserID,
			Status:         request.Status,
			CurrentPage:    request.CurrentPage,
			CursorPosition: request.CursorPosition,
			Timestamp:      c.now(),
		},
	}, conn.UserID)
	return nil
}

func (c *Coordinator) handleRequestLock(ctx context.Context, conn *Conn, payload json.RawMessage) error {
	var request RequestOrderLockPayload
	if err := decodePayload(payload, &request); err != nil {
		return err
	}
	if request.OrderID == "" {
		return newCollabError(CodeProtocolError, "orderId is required", nil)
	}
	if err := c.requireJoined(conn, request.WorkspaceID); err != nil {
		return err
	}

	duration := time.Duration(request.LockDurationMinutes) * time.Minute
	result, err := c.locks.Request(ctx, request.OrderID, conn.UserID, request.WorkspaceID, duration)
	if err != nil {
		return newCollabError(CodePersistenceFailed, "lock was not persisted", err)
	}

	response := OrderLockResponsePayload{
		Success:     result.Granted,
		LockedBy:    result.Holder,
		LockedUntil: result.ExpiresAt.Unix(),
	}
	if result.Granted {
		response.Message = "lock granted"
	} else {
		response.Message = fmt.Sprintf("order is locked by %s", result.Holder)
	}
	if err := conn.Send(Event{Type: EventOrderLockResponse, Payload: response}); err != nil {
		c.logger.Debug("lock response send failed", zap.String("conn_id", conn.ID), zap.Error(err))
	}

	if result.Granted {
		c.broadcaster.Broadcast(request.WorkspaceID, Event{
			Type: EventOrderLock,
			Payload: OrderLockBroadcastPayload{
				OrderID:     request.OrderID,
				WorkspaceID: request.WorkspaceID,
				LockedBy:    conn.UserID,
				LockedUntil: result.ExpiresAt.Unix(),
			},
		}, conn.UserID)
		c.recordActivity(ctx, request.WorkspaceID, conn.UserID, "order_lock", request.OrderID)
	}
	return nil
}

func (c *Coordinator) handleReleaseLock(ctx context.Context, conn *Conn, payload json.RawMessage) error {
	var request ReleaseOrderLockPayload
	if err := decodePayload(payload, &request); err != nil {
		return err
	}
	if request.OrderID == "" {
		return newCollabError(CodeProtocolError, "orderId is required", nil)
	}
	if err := c.requireJoined(conn, request.WorkspaceID); err != nil {
		return err
	}

	_, wasHeld, err := c.locks.Release(ctx, request.OrderID)
	if err != nil {
		return newCollabError(CodePersistenceFailed, "lock release was not persisted", err)
	}
	if wasHeld {
		c.broadcaster.Broadcast(request.WorkspaceID, Event{
			Type: EventOrderUnlock,
			Payload: OrderUnlockBroadcastPayload{
				OrderID:     request.OrderID,
				WorkspaceID: request.WorkspaceID,
				ReleasedBy:  conn.UserID,
			},
		}, conn.UserID)
		c.recordActivity(ctx, request.WorkspaceID, conn.UserID, "order_unlock", request.OrderID)
	}
	return nil
}

func (c *Coordinator) handleOrderEdit(ctx context.Context, conn *Conn, payload json.RawMessage) error {
	var request OrderEditPayload
	if err := decodePayload(payload, &request); err != nil {
		return err
	}
	if request.OrderID == "" {
		return newCollabError(CodeProtocolError, "orderId is required", nil)
	}
	if err := c.requireJoined(conn, request.WorkspaceID); err != nil {
		return err
	}

	record, err := c.edits.Propose(ctx, EditProposal{
		OrderID:     request.OrderID,
		UserID:      conn.UserID,
		WorkspaceID: request.WorkspaceID,
		FieldPath:   request.FieldPath,
		OldValue:    string(request.OldValue),
		NewValue:    string(request.NewValue),
	})
	if err != nil {
		return err
	}

	c.broadcaster.Broadcast(request.WorkspaceID, Event{
		Type: EventOrderEdit,
		Payload: OrderEditBroadcastPayload{
			OrderID:     record.OrderID,
			WorkspaceID: record.WorkspaceID,
			UserID:      record.UserID,
			FieldPath:   record.FieldPath,
			OldValue:    json.RawMessage(record.OldValueJSON),
			NewValue:    json.RawMessage(record.NewValueJSON),
			Version:     record.Version,
			Timestamp:   record.AppliedAtSeconds,
		},
	}, conn.UserID)
	c.recordActivity(ctx, request.WorkspaceID, conn.UserID, "order_edit", request.OrderID)
	return nil
}

func (c *Coordinator) handleChatMessage(ctx context.Context, conn *Conn, payload json.RawMessage) error {
	var request ChatMessagePayload
	if err := decodePayload(payload, &request); err != nil {
		return err
	}
	if request.Content == "" {
		return newCollabError(CodeProtocolError, "content is required", nil)
	}
	if err := c.requireJoined(conn, request.WorkspaceID); err != nil {
		return err
	}

	saved, err := c.chat.SaveChatMessage(ctx, store.ChatMessageRecord{
		WorkspaceID:     request.WorkspaceID,
		UserID:          conn.UserID,
		Content:         request.Content,
		MessageType:     request.MessageType,
		ThreadID:        request.ThreadID,
		ParentMessageID: request.ParentMessageID,
	})
	if err != nil {
		return newCollabError(CodePersistenceFailed, "chat message was not persisted", err)
	}

	c.broadcaster.Broadcast(request.WorkspaceID, Event{
		Type: EventChatMessage,
		Payload: ChatBroadcastPayload{
			MessageID:       saved.MessageID,
			WorkspaceID:     saved.WorkspaceID,
			UserID:          saved.UserID,
			Content:         saved.Content,
			MessageType:     saved.MessageType,
			ThreadID:        saved.ThreadID,
			ParentMessageID: saved.ParentMessageID,
			Timestamp:       saved.SentAtSeconds,
		},
	}, conn.UserID)
	return nil
}

// handleTyping broadcasts an ephemeral typing indicator; nothing persists.
func (c *Coordinator) handleTyping(conn *Conn, payload json.RawMessage, typing bool) error {
	var request TypingPayload
	if err := decodePayload(payload, &request); err != nil {
		return err
	}
	if err := c.requireJoined(conn, request.WorkspaceID); err != nil {
		return err
	}

	c.broadcaster.Broadcast(request.WorkspaceID, Event{
		Type: EventTypingIndicator,
		Payload: TypingIndicatorPayload{
			WorkspaceID: request.WorkspaceID,
			UserID:      conn.UserID,
			ChannelID:   request.ChannelID,
			Typing:      typing,
		},
	}, conn.UserID)
	return nil
}

// workspaceSnapshot assembles the resynchronization state shipped to a
// joining connection: the active member roster overlaid with persisted
// presence, live locks, and recent activity. Members without a presence row
// show as offline.
func (c *Coordinator) workspaceSnapshot(ctx context.Context, workspaceID string) (WorkspaceStatePayload, error) {
	roster, err := c.membership.ListActiveMembers(ctx, workspaceID)
	if err != nil {
		return WorkspaceStatePayload{}, newCollabError(CodePersistenceFailed, "membership read failed", err)
	}
	presenceRows, err := c.presence.WorkspacePresence(ctx, workspaceID)
	if err != nil {
		return WorkspaceStatePayload{}, newCollabError(CodePersistenceFailed, "presence read failed", err)
	}
	presenceByUser := make(map[string]store.PresenceRecord, len(presenceRows))
	for _, row := range presenceRows {
		presenceByUser[row.UserID] = row
	}
	members := make([]WorkspaceMemberState, 0, len(roster))
	for _, membership := range roster {
		state := WorkspaceMemberState{
			UserID: membership.UserID,
			Role:   membership.Role,
			Status: string(store.PresenceStatusOffline),
		}
		if row, ok := presenceByUser[membership.UserID]; ok {
			state.Status = string(row.Status)
			state.CurrentPage = row.CurrentPage
			state.CursorPosition = json.RawMessage(row.CursorJSON)
			state.LastActivity = row.LastActivitySeconds
		}
		members = append(members, state)
	}

	activeLocks := c.locks.ActiveLocksForWorkspace(workspaceID)
	lockStates := make([]WorkspaceLockState, 0, len(activeLocks))
	for _, lock := range activeLocks {
		lockStates = append(lockStates, WorkspaceLockState{
			OrderID:     lock.OrderID,
			LockedBy:    lock.HolderUserID,
			LockedUntil: lock.ExpiresAt.Unix(),
		})
	}

	activityRows, err := c.activity.RecentActivity(ctx, workspaceID, c.activityLimit)
	if err != nil {
		return WorkspaceStatePayload{}, newCollabError(CodePersistenceFailed, "activity read failed", err)
	}
	activityStates := make([]WorkspaceActivityState, 0, len(activityRows))
	for _, row := range activityRows {
		activityStates = append(activityStates, WorkspaceActivityState{
			UserID:     row.UserID,
			Kind:       row.Kind,
			OccurredAt: row.OccurredAtSeconds,
		})
	}

	return WorkspaceStatePayload{
		WorkspaceID:    workspaceID,
		Members:        members,
		ActiveLocks:    lockStates,
		RecentActivity: activityStates,
	}, nil
}

// requireJoined rejects events referencing a workspace the connection has
// not joined.
func (c *Coordinator) requireJoined(conn *Conn, workspaceID string) error {
	if workspaceID == "" {
		return newCollabError(CodeProtocolError, "workspaceId is required", nil)
	}
	if _, err := c.registry.Role(conn.ID, workspaceID); err != nil {
		return newCollabError(CodeWorkspaceNotJoined,
			fmt.Sprintf("not joined to workspace %s", workspaceID), err)
	}
	return nil
}

// recordActivity appends to the activity feed without failing the caller.
func (c *Coordinator) recordActivity(ctx context.Context, workspaceID, userID, kind, orderID string) {
	record := store.ActivityRecord{WorkspaceID: workspaceID, UserID: userID, Kind: kind}
	if orderID != "" {
		detail, err := json.Marshal(map[string]string{"orderId": orderID})
		if err == nil {
			record.DetailJSON = string(detail)
		}
	}
	if err := c.activity.RecordActivity(ctx, record); err != nil {
		c.logger.Warn("activity record failed",
			zap.String("workspace_id", workspaceID), zap.String("kind", kind), zap.Error(err))
	}
}

func (c *Coordinator) now() int64 {
	return c.clock().UTC().Unix()
}

func (c *Coordinator) sendError(conn *Conn, err error) {
	payload := ErrorPayload{Code: CodeInternal, Message: "internal error", Timestamp: c.now()}
	var collabErr *CollabError
	if errors.As(err, &collabErr) {
		payload.Code = collabErr.Code
		payload.Message = collabErr.Message
	}
	if sendErr := conn.Send(Event{Type: EventCollaborationError, Payload: payload}); sendErr != nil {
		c.logger.Debug("error send failed", zap.String("conn_id", conn.ID), zap.Error(sendErr))
	}
}

func decodePayload(raw json.RawMessage, target any) error {
	if len(raw) == 0 {
		return newCollabError(CodeProtocolError, "payload is required", nil)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return newCollabError(CodeProtocolError, "malformed payload", err)
	}
	return nil
}
