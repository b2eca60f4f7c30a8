package workspace

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// ErrNotAMember indicates the user has no active membership in the workspace.
var ErrNotAMember = errors.New("workspace: not an active member")

// ServiceConfig describes the dependencies for membership checks.
type ServiceConfig struct {
	Database *gorm.DB
}

// Service answers membership questions for the coordinator. Checks always hit
// the database so revocations take effect on the next join attempt.
type Service struct {
	db *gorm.DB
}

// NewService constructs the membership service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("workspace: database connection required")
	}
	return &Service{db: cfg.Database}, nil
}

// Authorize returns the member's role when the user holds an active,
// non-revoked membership in the workspace, and ErrNotAMember otherwise.
func (s *Service) Authorize(ctx context.Context, userID, workspaceID string) (string, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(workspaceID) == "" {
		return "", ErrNotAMember
	}

	var membership Membership
	err := s.db.WithContext(ctx).
		Where("workspace_id = ? AND user_id = ? AND status = ?", workspaceID, userID, MembershipStatusActive).
		Take(&membership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotAMember
	}
	if err != nil {
		return "", err
	}
	return membership.Role, nil
}

// ListActiveMembers returns the user ids holding active memberships.
func (s *Service) ListActiveMembers(ctx context.Context, workspaceID string) ([]Membership, error) {
	var memberships []Membership
	err := s.db.WithContext(ctx).
		Where("workspace_id = ? AND status = ?", workspaceID, MembershipStatusActive).
		Order("user_id").
		Find(&memberships).Error
	if err != nil {
		return nil, err
	}
	return memberships, nil
}
