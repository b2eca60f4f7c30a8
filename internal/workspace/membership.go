package workspace

import "time"

// MembershipStatus enumerates the lifecycle states of a workspace membership.
type MembershipStatus string

const (
	// MembershipStatusActive marks a member allowed to join the workspace room.
	MembershipStatusActive MembershipStatus = "active"
	// MembershipStatusRevoked marks a member whose access has been withdrawn.
	MembershipStatusRevoked MembershipStatus = "revoked"
)

// Membership maps a user to a workspace with a role. Rows are managed by the
// workspace CRUD API; the coordinator only reads them.
type Membership struct {
	WorkspaceID string           `gorm:"column:workspace_id;primaryKey;size:190;not null"`
	UserID      string           `gorm:"column:user_id;primaryKey;size:190;not null;index:idx_memberships_user"`
	Role        string           `gorm:"column:role;size:32;not null;default:'member'"`
	Status      MembershipStatus `gorm:"column:status;size:16;not null;default:'active'"`
	CreatedAt   time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing workspace memberships.
func (Membership) TableName() string {
	return "workspace_memberships"
}
