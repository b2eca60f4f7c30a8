package collab

import "encoding/json"

// Inbound event types.
const (
	EventJoinWorkspace    = "join_workspace"
	EventLeaveWorkspace   = "leave_workspace"
	EventPresenceUpdate   = "presence_update"
	EventRequestOrderLock = "request_order_lock"
	EventReleaseOrderLock = "release_order_lock"
	EventOrderEdit        = "order_edit"
	EventChatMessage      = "chat_message"
	EventTypingStart      = "typing_start"
	EventTypingStop       = "typing_stop"
)

// Outbound event types.
const (
	EventMemberJoined       = "member_joined"
	EventMemberLeft         = "member_left"
	EventOrderLock          = "order_lock"
	EventOrderUnlock        = "order_unlock"
	EventOrderLockResponse  = "order_lock_response"
	EventTypingIndicator    = "typing_indicator"
	EventWorkspaceState     = "workspace_state"
	EventCollaborationError = "collaboration_error"
	EventHeartbeat          = "heartbeat"
)

// Event is one message on the socket, in either direction.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Inbound payloads.

type JoinWorkspacePayload struct {
	WorkspaceID string `json:"workspaceId"`
}

type LeaveWorkspacePayload struct {
	WorkspaceID string `json:"workspaceId"`
}

type PresenceUpdatePayload struct {
	WorkspaceID    string          `json:"workspaceId"`
	Status         string          `json:"status"`
	CurrentPage    string          `json:"currentPage,omitempty"`
	CursorPosition json.RawMessage `json:"cursorPosition,omitempty"`
}

type RequestOrderLockPayload struct {
	OrderID             string `json:"orderId"`
	WorkspaceID         string `json:"workspaceId"`
	LockDurationMinutes int    `json:"lockDurationMinutes,omitempty"`
}

type ReleaseOrderLockPayload struct {
	OrderID     string `json:"orderId"`
	WorkspaceID string `json:"workspaceId"`
}

type OrderEditPayload struct {
	OrderID     string          `json:"orderId"`
	WorkspaceID string          `json:"workspaceId"`
	FieldPath   string          `json:"fieldPath"`
	OldValue    json.RawMessage `json:"oldValue,omitempty"`
	NewValue    json.RawMessage `json:"newValue,omitempty"`
	Version     int64           `json:"version,omitempty"`
}

type ChatMessagePayload struct {
	WorkspaceID     string `json:"workspaceId"`
	Content         string `json:"content"`
	MessageType     string `json:"messageType,omitempty"`
	ThreadID        string `json:"threadId,omitempty"`
	ParentMessageID string `json:"parentMessageId,omitempty"`
}

type TypingPayload struct {
	WorkspaceID string `json:"workspaceId"`
	ChannelID   string `json:"channelId,omitempty"`
}

// Outbound payloads.

type MemberEventPayload struct {
	WorkspaceID string `json:"workspaceId"`
	UserID      string `json:"userId"`
	Timestamp   int64  `json:"timestamp"`
}

type PresenceBroadcastPayload struct {
	WorkspaceID    string          `json:"workspaceId"`
	UserID         string          `json:"userId"`
	Status         string          `json:"status"`
	CurrentPage    string          `json:"currentPage,omitempty"`
	CursorPosition json.RawMessage `json:"cursorPosition,omitempty"`
	Timestamp      int64           `json:"timestamp"`
}

type OrderLockResponsePayload struct {
	Success     bool   `json:"success"`
	LockedBy    string `json:"lockedBy,omitempty"`
	LockedUntil int64  `json:"lockedUntil,omitempty"`
	Message     string `json:"message"`
}

type OrderLockBroadcastPayload struct {
	OrderID     string `json:"orderId"`
	WorkspaceID string `json:"workspaceId"`
	LockedBy    string `json:"lockedBy"`
	LockedUntil int64  `json:"lockedUntil"`
}

type OrderUnlockBroadcastPayload struct {
	OrderID     string `json:"orderId"`
	WorkspaceID string `json:"workspaceId"`
	ReleasedBy  string `json:"releasedBy,omitempty"`
}

type OrderEditBroadcastPayload struct {
	OrderID     string          `json:"orderId"`
	WorkspaceID string          `json:"workspaceId"`
	UserID      string          `json:"userId"`
	FieldPath   string          `json:"fieldPath"`
	OldValue    json.RawMessage `json:"oldValue,omitempty"`
	NewValue    json.RawMessage `json:"newValue,omitempty"`
	Version     int64           `json:"version"`
	Timestamp   int64           `json:"timestamp"`
}

type ChatBroadcastPayload struct {
	MessageID       string `json:"messageId"`
	WorkspaceID     string `json:"workspaceId"`
	UserID          string `json:"userId"`
	Content         string `json:"content"`
	MessageType     string `json:"messageType"`
	ThreadID        string `json:"threadId,omitempty"`
	ParentMessageID string `json:"parentMessageId,omitempty"`
	Timestamp       int64  `json:"timestamp"`
}

type TypingIndicatorPayload struct {
	WorkspaceID string `json:"workspaceId"`
	UserID      string `json:"userId"`
	ChannelID   string `json:"channelId,omitempty"`
	Typing      bool   `json:"typing"`
}

type WorkspaceMemberState struct {
	UserID         string          `json:"userId"`
	Role           string          `json:"role,omitempty"`
	Status         string          `json:"status"`
	CurrentPage    string          `json:"currentPage,omitempty"`
	CursorPosition json.RawMessage `json:"cursorPosition,omitempty"`
	LastActivity   int64           `json:"lastActivity"`
}

type WorkspaceLockState struct {
	OrderID     string `json:"orderId"`
	LockedBy    string `json:"lockedBy"`
	LockedUntil int64  `json:"lockedUntil"`
}

type WorkspaceActivityState struct {
	UserID     string `json:"userId"`
	Kind       string `json:"kind"`
	OccurredAt int64  `json:"occurredAt"`
}

type WorkspaceStatePayload struct {
	WorkspaceID    string                   `json:"workspaceId"`
	Members        []WorkspaceMemberState   `json:"members"`
	ActiveLocks    []WorkspaceLockState     `json:"activeLocks"`
	RecentActivity []WorkspaceActivityState `json:"recentActivity"`
}

type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type HeartbeatPayload struct {
	Timestamp int64 `json:"timestamp"`
}
