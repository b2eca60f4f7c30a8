package store

// PresenceStatus enumerates the presence states tracked per workspace member.
type PresenceStatus string

const (
	// PresenceStatusOnline marks a member with at least one joined connection.
	PresenceStatusOnline PresenceStatus = "online"
	// PresenceStatusAway marks a member who reported themselves idle.
	PresenceStatusAway PresenceStatus = "away"
	// PresenceStatusOffline marks a member with no remaining connections.
	PresenceStatusOffline PresenceStatus = "offline"
)

// PresenceRecord is the persisted presence snapshot for a (user, workspace)
// pair. The in-memory registry is only a routing cache over these rows.
type PresenceRecord struct {
	UserID              string         `gorm:"column:user_id;primaryKey;size:190;not null"`
	WorkspaceID         string         `gorm:"column:workspace_id;primaryKey;size:190;not null;index:idx_presence_workspace"`
	Status              PresenceStatus `gorm:"column:status;size:16;not null"`
	CurrentPage         string         `gorm:"column:current_page;size:512"`
	CursorJSON          string         `gorm:"column:cursor_json;type:text"`
	LastActivitySeconds int64          `gorm:"column:last_activity_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (PresenceRecord) TableName() string {
	return "presence_records"
}

// OrderLockRecord mirrors an in-memory edit lock so other processes reading
// order state observe the same holder and expiry.
type OrderLockRecord struct {
	OrderID          string `gorm:"column:order_id;primaryKey;size:190;not null"`
	WorkspaceID      string `gorm:"column:workspace_id;size:190;not null;index:idx_order_locks_workspace"`
	HolderUserID     string `gorm:"column:holder_user_id;size:190;not null"`
	ExpiresAtSeconds int64  `gorm:"column:expires_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (OrderLockRecord) TableName() string {
	return "order_locks"
}

// OrderEditRecord is one append-only field-level edit. Versions are assigned
// server-side and never reused for an order.
type OrderEditRecord struct {
	EditID           string `gorm:"column:edit_id;primaryKey;size:190;not null"`
	OrderID          string `gorm:"column:order_id;size:190;not null;index:idx_order_edits_order;uniqueIndex:idx_order_edits_version,priority:1"`
	UserID           string `gorm:"column:user_id;size:190;not null"`
	WorkspaceID      string `gorm:"column:workspace_id;size:190;not null;index:idx_order_edits_workspace"`
	FieldPath        string `gorm:"column:field_path;size:512;not null"`
	OldValueJSON     string `gorm:"column:old_value_json;type:text"`
	NewValueJSON     string `gorm:"column:new_value_json;type:text"`
	Version          int64  `gorm:"column:version;not null;uniqueIndex:idx_order_edits_version,priority:2"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (OrderEditRecord) TableName() string {
	return "order_edits"
}

// ChatMessageRecord persists workspace chat history.
type ChatMessageRecord struct {
	MessageID       string `gorm:"column:message_id;primaryKey;size:190;not null"`
	WorkspaceID     string `gorm:"column:workspace_id;size:190;not null;index:idx_chat_workspace_time,priority:1"`
	UserID          string `gorm:"column:user_id;size:190;not null"`
	Content         string `gorm:"column:content;type:text;not null"`
	MessageType     string `gorm:"column:message_type;size:32;not null;default:'text'"`
	ThreadID        string `gorm:"column:thread_id;size:190"`
	ParentMessageID string `gorm:"column:parent_message_id;size:190"`
	SentAtSeconds   int64  `gorm:"column:sent_at_s;not null;index:idx_chat_workspace_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (ChatMessageRecord) TableName() string {
	return "chat_messages"
}

// ActivityRecord is a fire-and-forget activity feed entry.
type ActivityRecord struct {
	ActivityID        string `gorm:"column:activity_id;primaryKey;size:190;not null"`
	WorkspaceID       string `gorm:"column:workspace_id;size:190;not null;index:idx_activity_workspace_time,priority:1"`
	UserID            string `gorm:"column:user_id;size:190;not null"`
	Kind              string `gorm:"column:kind;size:64;not null"`
	DetailJSON        string `gorm:"column:detail_json;type:text"`
	OccurredAtSeconds int64  `gorm:"column:occurred_at_s;not null;index:idx_activity_workspace_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (ActivityRecord) TableName() string {
	return "activity_records"
}
