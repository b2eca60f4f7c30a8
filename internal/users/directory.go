package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ErrUnknownUser indicates the user id is not present in the directory.
var ErrUnknownUser = errors.New("users: unknown user")

// DirectoryConfig describes the dependencies required for identity lookups.
type DirectoryConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Directory resolves user ids against the persisted identity table.
type Directory struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDirectory constructs the user directory.
func NewDirectory(cfg DirectoryConfig) (*Directory, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Directory{db: cfg.Database, now: clock}, nil
}

// Lookup returns the identity for the given user id, or ErrUnknownUser.
func (d *Directory) Lookup(ctx context.Context, userID string) (Identity, error) {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return Identity{}, ErrUnknownUser
	}

	var identity Identity
	err := d.db.WithContext(ctx).Where("user_id = ?", trimmed).Take(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, ErrUnknownUser
	}
	if err != nil {
		return Identity{}, err
	}
	return identity, nil
}

// TouchLastSeen records a successful handshake for the user.
func (d *Directory) TouchLastSeen(ctx context.Context, userID string) error {
	return d.db.WithContext(ctx).
		Model(&Identity{}).
		Where("user_id = ?", userID).
		Update("last_seen_at", d.now().UTC()).Error
}

// Upsert creates or refreshes an identity record.
func (d *Directory) Upsert(ctx context.Context, identity Identity) error {
	if strings.TrimSpace(identity.UserID) == "" {
		return ErrUnknownUser
	}
	return d.db.WithContext(ctx).Save(&identity).Error
}
