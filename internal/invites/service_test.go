package invites

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/egida/backend/internal/audit"
	"github.com/egida/backend/internal/models"
	"github.com/egida/backend/pkg/apperr"
	"github.com/egida/backend/pkg/utils"
)

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, audit.Entry) {}

type fakeAuthz struct {
	roles map[uuid.UUID]map[uuid.UUID]string
}

func (f *fakeAuthz) grant(orgID, userID uuid.UUID, role string) {
	if f.roles == nil {
		f.roles = make(map[uuid.UUID]map[uuid.UUID]string)
	}
	if f.roles[orgID] == nil {
		f.roles[orgID] = make(map[uuid.UUID]string)
	}
	f.roles[orgID][userID] = role
}

func (f *fakeAuthz) RequireRole(_ context.Context, orgID, userID uuid.UUID, minRole string) (*models.OrganizationMember, error) {
	rank := map[string]int{models.OrgRoleMember: 1, models.OrgRoleAdmin: 2, models.OrgRoleOwner: 3}
	role, ok := f.roles[orgID][userID]
	if !ok {
		return nil, apperr.New(apperr.KindAccessDenied, "not a member of this organization")
	}
	if rank[role] < rank[minRole] {
		return nil, apperr.Newf(apperr.KindInsufficientRole, "requires %s role", minRole)
	}
	return &models.OrganizationMember{OrganizationID: orgID, UserID: userID, Role: role}, nil
}

type sentMail struct {
	to, orgName, role string
}

type fakeMailer struct {
	sent []sentMail
}

func (f *fakeMailer) SendInvite(to, orgName, role, _, _ string) error {
	f.sent = append(f.sent, sentMail{to: to, orgName: orgName, role: role})
	return nil
}

type fakeInviteStore struct {
	invites    map[uuid.UUID]*models.OrganizationInvite
	members    map[uuid.UUID]map[uuid.UUID]string // org -> user -> role
	groupIDs   map[uuid.UUID]uuid.UUID            // group -> org
	groupNames map[uuid.UUID]string
	orgNames   map[uuid.UUID]string
	joined     map[uuid.UUID][]uuid.UUID // user -> group ids joined on accept
}

func newFakeInviteStore() *fakeInviteStore {
	return &fakeInviteStore{
		invites:    make(map[uuid.UUID]*models.OrganizationInvite),
		members:    make(map[uuid.UUID]map[uuid.UUID]string),
		groupIDs:   make(map[uuid.UUID]uuid.UUID),
		groupNames: make(map[uuid.UUID]string),
		orgNames:   make(map[uuid.UUID]string),
		joined:     make(map[uuid.UUID][]uuid.UUID),
	}
}

func (f *fakeInviteStore) Create(_ context.Context, inv *models.OrganizationInvite) error {
	inv.ID = uuid.New()
	inv.CreatedAt = time.Now()
	cp := *inv
	f.invites[inv.ID] = &cp
	return nil
}

func (f *fakeInviteStore) Get(_ context.Context, id uuid.UUID) (*models.OrganizationInvite, error) {
	inv, ok := f.invites[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *inv
	return &cp, nil
}

func (f *fakeInviteStore) GetByTokenHash(_ context.Context, hash string) (*models.OrganizationInvite, error) {
	for _, inv := range f.invites {
		if inv.TokenHash == hash {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeInviteStore) ListByOrg(_ context.Context, orgID uuid.UUID) ([]models.OrganizationInvite, error) {
	var out []models.OrganizationInvite
	for _, inv := range f.invites {
		if inv.OrganizationID == orgID {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (f *fakeInviteStore) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	inv, ok := f.invites[id]
	if !ok {
		return pgx.ErrNoRows
	}
	inv.Status = status
	return nil
}

func (f *fakeInviteStore) Accept(_ context.Context, inv *models.OrganizationInvite, userID uuid.UUID, now time.Time) error {
	if f.members[inv.OrganizationID] == nil {
		f.members[inv.OrganizationID] = make(map[uuid.UUID]string)
	}
	f.members[inv.OrganizationID][userID] = inv.Role
	for _, gid := range inv.GroupIDs {
		if f.groupIDs[gid] == inv.OrganizationID {
			f.joined[userID] = append(f.joined[userID], gid)
		}
	}
	stored := f.invites[inv.ID]
	stored.Status = models.InviteStatusAccepted
	stored.AcceptedByID = &userID
	stored.AcceptedAt = &now
	return nil
}

func (f *fakeInviteStore) IsMember(_ context.Context, orgID, userID uuid.UUID) (bool, error) {
	_, ok := f.members[orgID][userID]
	return ok, nil
}

func (f *fakeInviteStore) OrgName(_ context.Context, orgID uuid.UUID) (string, error) {
	name, ok := f.orgNames[orgID]
	if !ok {
		return "", pgx.ErrNoRows
	}
	return name, nil
}

func (f *fakeInviteStore) ExistingGroups(_ context.Context, orgID uuid.UUID, ids []uuid.UUID) ([]models.Group, error) {
	var out []models.Group
	for _, id := range ids {
		if f.groupIDs[id] == orgID {
			out = append(out, models.Group{ID: id, OrganizationID: orgID, Name: f.groupNames[id]})
		}
	}
	return out, nil
}

type inviteFixture struct {
	svc    *Service
	store  *fakeInviteStore
	authz  *fakeAuthz
	mailer *fakeMailer
	orgID  uuid.UUID
	owner  uuid.UUID
	admin  uuid.UUID
	clock  *time.Time
}

func newInviteFixture() *inviteFixture {
	store := newFakeInviteStore()
	authz := &fakeAuthz{}
	mailer := &fakeMailer{}
	orgID := uuid.New()
	owner, admin := uuid.New(), uuid.New()
	authz.grant(orgID, owner, models.OrgRoleOwner)
	authz.grant(orgID, admin, models.OrgRoleAdmin)
	store.orgNames[orgID] = "Acme"
	store.members[orgID] = map[uuid.UUID]string{
		owner: models.OrgRoleOwner,
		admin: models.OrgRoleAdmin,
	}

	now := time.Now()
	svc := NewService(store, authz, mailer, nopRecorder{}, zap.NewNop(), Config{ExpireHours: 72, BaseURL: "https://app.example.com"})
	svc.now = func() time.Time { return now }
	return &inviteFixture{svc: svc, store: store, authz: authz, mailer: mailer, orgID: orgID, owner: owner, admin: admin, clock: &now}
}

// createInvite issues an invite and hands back the one-time raw token so
// tests can redeem it.
func createInvite(t *testing.T, fx *inviteFixture, actor uuid.UUID, email, role string, groups ...uuid.UUID) (*models.OrganizationInvite, string) {
	t.Helper()
	res, err := fx.svc.Create(context.Background(), actor, fx.orgID, email, role, groups)
	if err != nil {
		t.Fatalf("Create invite: %v", err)
	}
	return res.Invite, res.Token
}

func TestCreateInviteSendsEmail(t *testing.T) {
	fx := newInviteFixture()
	res, err := fx.svc.Create(context.Background(), fx.admin, fx.orgID, "New.Hire@Example.com", models.OrgRoleMember, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	inv := res.Invite
	if inv.Email != "new.hire@example.com" {
		t.Errorf("Email = %q, want lowercased", inv.Email)
	}
	if inv.Status != models.InviteStatusPending {
		t.Errorf("Status = %q, want pending", inv.Status)
	}
	if want := fx.clock.Add(72 * time.Hour); !inv.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", inv.ExpiresAt, want)
	}
	if res.Token == "" || utils.HashToken(res.Token) != inv.TokenHash {
		t.Error("returned token does not match the stored digest")
	}
	if len(fx.mailer.sent) != 1 || fx.mailer.sent[0].to != "new.hire@example.com" || fx.mailer.sent[0].orgName != "Acme" {
		t.Errorf("mail = %+v", fx.mailer.sent)
	}
}

func TestCreateInviteResolvesGroupNames(t *testing.T) {
	fx := newInviteFixture()
	platform := uuid.New()
	data := uuid.New()
	fx.store.groupIDs[platform] = fx.orgID
	fx.store.groupNames[platform] = "Platform"
	fx.store.groupIDs[data] = fx.orgID
	fx.store.groupNames[data] = "Data"

	res, err := fx.svc.Create(context.Background(), fx.admin, fx.orgID, "a@example.com", models.OrgRoleMember, []uuid.UUID{platform, data})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(res.Invite.GroupIDs) != 2 {
		t.Errorf("GroupIDs = %v, want both groups", res.Invite.GroupIDs)
	}
	if len(res.GroupNames) != 2 || res.GroupNames[0] != "Platform" || res.GroupNames[1] != "Data" {
		t.Errorf("GroupNames = %v, want [Platform Data]", res.GroupNames)
	}
}

func TestCreateInviteRejectsForeignGroup(t *testing.T) {
	fx := newInviteFixture()
	mine := uuid.New()
	foreign := uuid.New()
	fx.store.groupIDs[mine] = fx.orgID
	fx.store.groupNames[mine] = "Platform"
	fx.store.groupIDs[foreign] = uuid.New()

	for _, ids := range [][]uuid.UUID{
		{mine, foreign},
		{uuid.New()}, // nonexistent
	} {
		_, err := fx.svc.Create(context.Background(), fx.admin, fx.orgID, "a@example.com", models.OrgRoleMember, ids)
		if !apperr.IsKind(err, apperr.KindInvalidReference) {
			t.Errorf("Create(%v) error = %v, want InvalidReference", ids, err)
		}
	}
	if len(fx.store.invites) != 0 {
		t.Errorf("invites stored = %d, want none", len(fx.store.invites))
	}
}

func TestAdminCannotInviteOwner(t *testing.T) {
	fx := newInviteFixture()
	_, err := fx.svc.Create(context.Background(), fx.admin, fx.orgID, "a@example.com", models.OrgRoleOwner, nil)
	if !apperr.IsKind(err, apperr.KindForbidden) {
		t.Errorf("error = %v, want Forbidden", err)
	}
	if _, err := fx.svc.Create(context.Background(), fx.owner, fx.orgID, "a@example.com", models.OrgRoleOwner, nil); err != nil {
		t.Errorf("owner inviting owner should work: %v", err)
	}
}

func TestCreateInviteRejectsBadRole(t *testing.T) {
	fx := newInviteFixture()
	_, err := fx.svc.Create(context.Background(), fx.admin, fx.orgID, "a@example.com", "superuser", nil)
	if !apperr.IsKind(err, apperr.KindInvalidEnum) {
		t.Errorf("error = %v, want InvalidEnum", err)
	}
}

func TestAcceptInvite(t *testing.T) {
	fx := newInviteFixture()
	gid := uuid.New()
	fx.store.groupIDs[gid] = fx.orgID
	_, token := createInvite(t, fx, fx.admin, "new@example.com", models.OrgRoleMember, gid)

	newUser := uuid.New()
	inv, err := fx.svc.Accept(context.Background(), newUser, "NEW@example.com", token)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if inv.Status != models.InviteStatusAccepted {
		t.Errorf("Status = %q, want accepted", inv.Status)
	}
	if role := fx.store.members[fx.orgID][newUser]; role != models.OrgRoleMember {
		t.Errorf("member role = %q, want member", role)
	}
	if len(fx.store.joined[newUser]) != 1 || fx.store.joined[newUser][0] != gid {
		t.Errorf("joined groups = %v, want [%s]", fx.store.joined[newUser], gid)
	}
}

func TestAcceptEmailMismatch(t *testing.T) {
	fx := newInviteFixture()
	_, token := createInvite(t, fx, fx.admin, "right@example.com", models.OrgRoleMember)

	_, err := fx.svc.Accept(context.Background(), uuid.New(), "wrong@example.com", token)
	if !apperr.IsKind(err, apperr.KindEmailMismatch) {
		t.Errorf("error = %v, want EmailMismatch", err)
	}
}

func TestAcceptAlreadyMember(t *testing.T) {
	fx := newInviteFixture()
	_, token := createInvite(t, fx, fx.admin, "admin2@example.com", models.OrgRoleMember)

	existing := uuid.New()
	fx.store.members[fx.orgID][existing] = models.OrgRoleMember
	_, err := fx.svc.Accept(context.Background(), existing, "admin2@example.com", token)
	if !apperr.IsKind(err, apperr.KindAlreadyMember) {
		t.Errorf("error = %v, want AlreadyMember", err)
	}
}

func TestAcceptTwiceFails(t *testing.T) {
	fx := newInviteFixture()
	_, token := createInvite(t, fx, fx.admin, "new@example.com", models.OrgRoleMember)

	if _, err := fx.svc.Accept(context.Background(), uuid.New(), "new@example.com", token); err != nil {
		t.Fatalf("first Accept: %v", err)
	}
	_, err := fx.svc.Accept(context.Background(), uuid.New(), "new@example.com", token)
	if !apperr.IsKind(err, apperr.KindInvalid) {
		t.Errorf("second accept error = %v, want Invalid", err)
	}
}

func TestAcceptExpiredLazily(t *testing.T) {
	fx := newInviteFixture()
	created, token := createInvite(t, fx, fx.admin, "late@example.com", models.OrgRoleMember)

	*fx.clock = fx.clock.Add(73 * time.Hour)

	_, err := fx.svc.Accept(context.Background(), uuid.New(), "late@example.com", token)
	if !apperr.IsKind(err, apperr.KindInvalid) {
		t.Errorf("error = %v, want Invalid", err)
	}
	if got := fx.store.invites[created.ID].Status; got != models.InviteStatusExpired {
		t.Errorf("stored status = %q, want expired (persisted on observation)", got)
	}
}

func TestListMarksExpired(t *testing.T) {
	fx := newInviteFixture()
	created, _ := createInvite(t, fx, fx.admin, "a@example.com", models.OrgRoleMember)

	*fx.clock = fx.clock.Add(73 * time.Hour)

	list, err := fx.svc.List(context.Background(), fx.admin, fx.orgID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Status != models.InviteStatusExpired {
		t.Errorf("list = %+v, want one expired invite", list)
	}
	if got := fx.store.invites[created.ID].Status; got != models.InviteStatusExpired {
		t.Errorf("stored status = %q, want expired", got)
	}
}

func TestRevoke(t *testing.T) {
	fx := newInviteFixture()
	created, _ := createInvite(t, fx, fx.admin, "a@example.com", models.OrgRoleMember)

	if err := fx.svc.Revoke(context.Background(), fx.admin, created.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if got := fx.store.invites[created.ID].Status; got != models.InviteStatusRevoked {
		t.Errorf("status = %q, want revoked", got)
	}

	err := fx.svc.Revoke(context.Background(), fx.admin, created.ID)
	if !apperr.IsKind(err, apperr.KindInvalid) {
		t.Errorf("second revoke error = %v, want Invalid", err)
	}
}
