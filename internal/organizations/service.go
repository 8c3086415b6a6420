package organizations

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/egida/backend/internal/audit"
	"github.com/egida/backend/internal/models"
	"github.com/egida/backend/pkg/apperr"
	"github.com/egida/backend/pkg/database"
)

// Store is the persistence surface the service needs.
type Store interface {
	CreateWithOwner(ctx context.Context, name, slug, description string, ownerID uuid.UUID) (*models.Organization, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Organization, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Organization, error)
	Update(ctx context.Context, id uuid.UUID, name, description string) (*models.Organization, error)
	Delete(ctx context.Context, id uuid.UUID) error
	GetMembership(ctx context.Context, orgID, userID uuid.UUID) (*models.OrganizationMember, error)
	ListMembers(ctx context.Context, orgID uuid.UUID) ([]MemberInfo, error)
	CountOwners(ctx context.Context, orgID uuid.UUID) (int, error)
	UpdateMemberRole(ctx context.Context, orgID, userID uuid.UUID, role string) error
	RemoveMember(ctx context.Context, orgID, userID uuid.UUID) error
}

// Service implements organization and membership operations.
type Service struct {
	store Store
	audit audit.Recorder
}

// NewService creates an organizations service.
func NewService(store Store, rec audit.Recorder) *Service {
	return &Service{store: store, audit: rec}
}

var roleRank = map[string]int{
	models.OrgRoleMember: 1,
	models.OrgRoleAdmin:  2,
	models.OrgRoleOwner:  3,
}

// RequireRole returns the caller's membership if they belong to the
// organization and hold at least minRole. Non-members get AccessDenied,
// members below minRole get InsufficientRole.
func (s *Service) RequireRole(ctx context.Context, orgID, userID uuid.UUID, minRole string) (*models.OrganizationMember, error) {
	m, err := s.store.GetMembership(ctx, orgID, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindAccessDenied, "not a member of this organization")
	}
	if err != nil {
		return nil, err
	}
	if roleRank[m.Role] < roleRank[minRole] {
		return nil, apperr.Newf(apperr.KindInsufficientRole, "requires %s role", minRole)
	}
	return m, nil
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a URL-safe slug from a name.
func Slugify(name string) string {
	s := slugStrip.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	return strings.Trim(s, "-")
}

// Create makes a new organization with the caller as its sole owner.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, name, description string) (*models.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.New(apperr.KindValidation, "name is required")
	}
	slug := Slugify(name)
	if slug == "" {
		return nil, apperr.New(apperr.KindValidation, "name must contain at least one letter or digit")
	}

	org, err := s.store.CreateWithOwner(ctx, name, slug, description, userID)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperr.New(apperr.KindConflict, "an organization with this name already exists")
		}
		return nil, err
	}
	s.audit.Record(ctx, audit.Entry{
		OrganizationID: org.ID,
		UserID:         &userID,
		EntityType:     "organization",
		EntityID:       org.ID.String(),
		Action:         "created",
	})
	return org, nil
}

// List returns organizations the user belongs to.
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]models.Organization, error) {
	return s.store.ListForUser(ctx, userID)
}

// Get returns an organization the caller is a member of.
func (s *Service) Get(ctx context.Context, userID, orgID uuid.UUID) (*models.Organization, error) {
	if _, err := s.RequireRole(ctx, orgID, userID, models.OrgRoleMember); err != nil {
		return nil, err
	}
	org, err := s.store.Get(ctx, orgID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "organization not found")
	}
	return org, err
}

// Update changes name and description. Requires admin.
func (s *Service) Update(ctx context.Context, userID, orgID uuid.UUID, name, description string) (*models.Organization, error) {
	if _, err := s.RequireRole(ctx, orgID, userID, models.OrgRoleAdmin); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.New(apperr.KindValidation, "name is required")
	}
	org, err := s.store.Update(ctx, orgID, name, description)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "organization not found")
	}
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperr.New(apperr.KindConflict, "an organization with this name already exists")
		}
		return nil, err
	}
	s.audit.Record(ctx, audit.Entry{
		OrganizationID: orgID,
		UserID:         &userID,
		EntityType:     "organization",
		EntityID:       orgID.String(),
		Action:         "updated",
	})
	return org, nil
}

// Delete removes the organization and everything under it. Owner only.
func (s *Service) Delete(ctx context.Context, userID, orgID uuid.UUID) error {
	if _, err := s.RequireRole(ctx, orgID, userID, models.OrgRoleOwner); err != nil {
		return err
	}
	err := s.store.Delete(ctx, orgID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.New(apperr.KindNotFound, "organization not found")
	}
	return err
}

// Members returns the member list. Any member may read it.
func (s *Service) Members(ctx context.Context, userID, orgID uuid.UUID) ([]MemberInfo, error) {
	if _, err := s.RequireRole(ctx, orgID, userID, models.OrgRoleMember); err != nil {
		return nil, err
	}
	return s.store.ListMembers(ctx, orgID)
}

// ChangeRole sets a member's role. Requires admin; admins may not touch
// owners in either direction, and the last owner cannot be demoted.
func (s *Service) ChangeRole(ctx context.Context, actorID, orgID, targetUserID uuid.UUID, newRole string) error {
	if !models.ValidOrgRole(newRole) {
		return apperr.Newf(apperr.KindInvalidEnum, "invalid role %q", newRole)
	}
	actor, err := s.RequireRole(ctx, orgID, actorID, models.OrgRoleAdmin)
	if err != nil {
		return err
	}

	target, err := s.store.GetMembership(ctx, orgID, targetUserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.New(apperr.KindNotFound, "member not found")
	}
	if err != nil {
		return err
	}

	if actor.Role != models.OrgRoleOwner &&
		(target.Role == models.OrgRoleOwner || newRole == models.OrgRoleOwner) {
		return apperr.New(apperr.KindForbidden, "only an owner may change owner roles")
	}

	if target.Role == models.OrgRoleOwner && newRole != models.OrgRoleOwner {
		owners, err := s.store.CountOwners(ctx, orgID)
		if err != nil {
			return err
		}
		if owners <= 1 {
			return apperr.New(apperr.KindInvariantViolation, "organization must keep at least one owner")
		}
	}

	if target.Role == newRole {
		return nil
	}
	if err := s.store.UpdateMemberRole(ctx, orgID, targetUserID, newRole); err != nil {
		return err
	}
	s.audit.Record(ctx, audit.Entry{
		OrganizationID: orgID,
		UserID:         &actorID,
		EntityType:     "member",
		EntityID:       targetUserID.String(),
		Action:         "role_changed",
		Payload:        map[string]any{"from": target.Role, "to": newRole},
	})
	return nil
}

// RemoveMember removes a member. Admins may remove members (not owners);
// any member may remove themselves. The last owner cannot leave.
func (s *Service) RemoveMember(ctx context.Context, actorID, orgID, targetUserID uuid.UUID) error {
	actor, err := s.RequireRole(ctx, orgID, actorID, models.OrgRoleMember)
	if err != nil {
		return err
	}

	target, err := s.store.GetMembership(ctx, orgID, targetUserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.New(apperr.KindNotFound, "member not found")
	}
	if err != nil {
		return err
	}

	self := actorID == targetUserID
	if !self && roleRank[actor.Role] < roleRank[models.OrgRoleAdmin] {
		return apperr.New(apperr.KindInsufficientRole, "requires admin role")
	}
	if !self && actor.Role != models.OrgRoleOwner && target.Role == models.OrgRoleOwner {
		return apperr.New(apperr.KindForbidden, "only an owner may remove an owner")
	}

	if target.Role == models.OrgRoleOwner {
		owners, err := s.store.CountOwners(ctx, orgID)
		if err != nil {
			return err
		}
		if owners <= 1 {
			return apperr.New(apperr.KindInvariantViolation, "organization must keep at least one owner")
		}
	}

	if err := s.store.RemoveMember(ctx, orgID, targetUserID); err != nil {
		return err
	}
	action := "removed"
	if self {
		action = "left"
	}
	s.audit.Record(ctx, audit.Entry{
		OrganizationID: orgID,
		UserID:         &actorID,
		EntityType:     "member",
		EntityID:       targetUserID.String(),
		Action:         action,
	})
	return nil
}
