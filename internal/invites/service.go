package invites

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/egida/backend/internal/audit"
	"github.com/egida/backend/internal/models"
	"github.com/egida/backend/pkg/apperr"
	"github.com/egida/backend/pkg/utils"
)

// Store is the persistence surface the service needs.
type Store interface {
	Create(ctx context.Context, inv *models.OrganizationInvite) error
	Get(ctx context.Context, id uuid.UUID) (*models.OrganizationInvite, error)
	GetByTokenHash(ctx context.Context, hash string) (*models.OrganizationInvite, error)
	ListByOrg(ctx context.Context, orgID uuid.UUID) ([]models.OrganizationInvite, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	Accept(ctx context.Context, inv *models.OrganizationInvite, userID uuid.UUID, now time.Time) error
	IsMember(ctx context.Context, orgID, userID uuid.UUID) (bool, error)
	OrgName(ctx context.Context, orgID uuid.UUID) (string, error)
	ExistingGroups(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) ([]models.Group, error)
}

// Authorizer resolves a caller's role within an organization.
type Authorizer interface {
	RequireRole(ctx context.Context, orgID, userID uuid.UUID, minRole string) (*models.OrganizationMember, error)
}

// Mailer delivers invite emails.
type Mailer interface {
	SendInvite(to, orgName, role, inviteURL, expiresIn string) error
}

// Config holds invite settings.
type Config struct {
	ExpireHours int
	BaseURL     string
}

// Service implements the invite lifecycle.
type Service struct {
	store  Store
	authz  Authorizer
	mailer Mailer
	audit  audit.Recorder
	logger *zap.Logger
	cfg    Config
	now    func() time.Time
}

// NewService creates an invites service.
func NewService(store Store, authz Authorizer, mailer Mailer, rec audit.Recorder, logger *zap.Logger, cfg Config) *Service {
	if cfg.ExpireHours <= 0 {
		cfg.ExpireHours = 72
	}
	return &Service{
		store:  store,
		authz:  authz,
		mailer: mailer,
		audit:  rec,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

// lazyExpire transitions a pending invite past its deadline to expired.
// The transition is persisted on first observation.
func (s *Service) lazyExpire(ctx context.Context, inv *models.OrganizationInvite) {
	if inv.Status != models.InviteStatusPending || s.now().Before(inv.ExpiresAt) {
		return
	}
	inv.Status = models.InviteStatusExpired
	if err := s.store.UpdateStatus(ctx, inv.ID, models.InviteStatusExpired); err != nil {
		s.logger.Warn("persist invite expiry", zap.String("invite", inv.ID.String()), zap.Error(err))
	}
}

// CreateResult carries the stored invite plus the one-time raw token and the
// names of the groups the invite links. The token is never persisted; only
// its digest is.
type CreateResult struct {
	Invite     *models.OrganizationInvite `json:"invite"`
	Token      string                     `json:"token"`
	GroupNames []string                   `json:"group_names"`
}

// Create issues an invite and emails the recipient the raw token. Requires
// admin; inviting someone as owner requires owner.
func (s *Service) Create(ctx context.Context, actorID, orgID uuid.UUID, email, role string, groupIDs []uuid.UUID) (*CreateResult, error) {
	if !models.ValidOrgRole(role) {
		return nil, apperr.Newf(apperr.KindInvalidEnum, "invalid role %q", role)
	}
	actor, err := s.authz.RequireRole(ctx, orgID, actorID, models.OrgRoleAdmin)
	if err != nil {
		return nil, err
	}
	if role == models.OrgRoleOwner && actor.Role != models.OrgRoleOwner {
		return nil, apperr.New(apperr.KindForbidden, "only an owner may invite an owner")
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, apperr.New(apperr.KindValidation, "email is required")
	}

	groups, err := s.store.ExistingGroups(ctx, orgID, groupIDs)
	if err != nil {
		return nil, err
	}
	found := make(map[uuid.UUID]bool, len(groups))
	for _, g := range groups {
		found[g.ID] = true
	}
	for _, id := range groupIDs {
		if !found[id] {
			return nil, apperr.Newf(apperr.KindInvalidReference, "group %s does not belong to this organization", id)
		}
	}
	validIDs := make([]uuid.UUID, 0, len(groups))
	groupNames := make([]string, 0, len(groups))
	for _, g := range groups {
		validIDs = append(validIDs, g.ID)
		groupNames = append(groupNames, g.Name)
	}

	token, err := utils.NewToken(48)
	if err != nil {
		return nil, err
	}
	inv := &models.OrganizationInvite{
		OrganizationID: orgID,
		InvitedByID:    &actorID,
		Email:          email,
		Role:           role,
		GroupIDs:       validIDs,
		TokenHash:      utils.HashToken(token),
		Status:         models.InviteStatusPending,
		ExpiresAt:      s.now().Add(time.Duration(s.cfg.ExpireHours) * time.Hour),
	}
	if err := s.store.Create(ctx, inv); err != nil {
		return nil, err
	}

	orgName, err := s.store.OrgName(ctx, orgID)
	if err != nil {
		orgName = "your organization"
	}
	link := fmt.Sprintf("%s/invites/accept?token=%s", s.cfg.BaseURL, token)
	expiresIn := fmt.Sprintf("%d hours", s.cfg.ExpireHours)
	if err := s.mailer.SendInvite(email, orgName, role, link, expiresIn); err != nil {
		s.logger.Warn("send invite email", zap.String("invite", inv.ID.String()), zap.Error(err))
	}

	s.audit.Record(ctx, audit.Entry{
		OrganizationID: orgID,
		UserID:         &actorID,
		EntityType:     "invite",
		EntityID:       inv.ID.String(),
		Action:         "created",
		Payload:        map[string]any{"email": email, "role": role},
	})
	return &CreateResult{Invite: inv, Token: token, GroupNames: groupNames}, nil
}

// List returns the organization's invites. Requires admin. Pending invites
// past their deadline are surfaced (and persisted) as expired.
func (s *Service) List(ctx context.Context, actorID, orgID uuid.UUID) ([]models.OrganizationInvite, error) {
	if _, err := s.authz.RequireRole(ctx, orgID, actorID, models.OrgRoleAdmin); err != nil {
		return nil, err
	}
	list, err := s.store.ListByOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}
	for i := range list {
		s.lazyExpire(ctx, &list[i])
	}
	return list, nil
}

// Revoke cancels a pending invite. Requires admin.
func (s *Service) Revoke(ctx context.Context, actorID, inviteID uuid.UUID) error {
	inv, err := s.store.Get(ctx, inviteID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.New(apperr.KindNotFound, "invite not found")
	}
	if err != nil {
		return err
	}
	if _, err := s.authz.RequireRole(ctx, inv.OrganizationID, actorID, models.OrgRoleAdmin); err != nil {
		return err
	}
	s.lazyExpire(ctx, inv)
	if inv.Status != models.InviteStatusPending {
		return apperr.Newf(apperr.KindInvalid, "invite is %s, only pending invites can be revoked", inv.Status)
	}
	if err := s.store.UpdateStatus(ctx, inviteID, models.InviteStatusRevoked); err != nil {
		return err
	}
	s.audit.Record(ctx, audit.Entry{
		OrganizationID: inv.OrganizationID,
		UserID:         &actorID,
		EntityType:     "invite",
		EntityID:       inviteID.String(),
		Action:         "revoked",
	})
	return nil
}

// Accept redeems an invite token for the authenticated user. The user's
// email must match the invited address, case-insensitively.
func (s *Service) Accept(ctx context.Context, userID uuid.UUID, userEmail, token string) (*models.OrganizationInvite, error) {
	inv, err := s.store.GetByTokenHash(ctx, utils.HashToken(token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "invite not found")
	}
	if err != nil {
		return nil, err
	}

	s.lazyExpire(ctx, inv)
	if inv.Status != models.InviteStatusPending {
		return nil, apperr.Newf(apperr.KindInvalid, "invite is %s", inv.Status)
	}
	if !strings.EqualFold(strings.TrimSpace(userEmail), inv.Email) {
		return nil, apperr.New(apperr.KindEmailMismatch, "invite was issued for a different email address")
	}
	member, err := s.store.IsMember(ctx, inv.OrganizationID, userID)
	if err != nil {
		return nil, err
	}
	if member {
		return nil, apperr.New(apperr.KindAlreadyMember, "already a member of this organization")
	}

	now := s.now()
	if err := s.store.Accept(ctx, inv, userID, now); err != nil {
		return nil, err
	}
	inv.Status = models.InviteStatusAccepted
	inv.AcceptedByID = &userID
	inv.AcceptedAt = &now

	s.audit.Record(ctx, audit.Entry{
		OrganizationID: inv.OrganizationID,
		UserID:         &userID,
		EntityType:     "invite",
		EntityID:       inv.ID.String(),
		Action:         "accepted",
	})
	return inv, nil
}
