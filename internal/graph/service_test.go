package graph

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/egida/backend/internal/audit"
	"github.com/egida/backend/internal/models"
	"github.com/egida/backend/pkg/apperr"
)

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, audit.Entry) {}

type fakeAuthz struct {
	roles map[uuid.UUID]map[uuid.UUID]string // org -> user -> role
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

type fakeGraphStore struct {
	sphereOrgs map[uuid.UUID]uuid.UUID // sphere -> org
	nodes      map[uuid.UUID]*models.Node
	edges      map[uuid.UUID]*models.Edge
	seq        int
}

func newFakeGraphStore() *fakeGraphStore {
	return &fakeGraphStore{
		sphereOrgs: make(map[uuid.UUID]uuid.UUID),
		nodes:      make(map[uuid.UUID]*models.Node),
		edges:      make(map[uuid.UUID]*models.Edge),
	}
}

func (f *fakeGraphStore) addSphere(orgID uuid.UUID) uuid.UUID {
	id := uuid.New()
	f.sphereOrgs[id] = orgID
	return id
}

// next returns strictly increasing timestamps so newest-first ordering is
// deterministic.
func (f *fakeGraphStore) next() time.Time {
	f.seq++
	return time.Unix(int64(f.seq), 0)
}

func (f *fakeGraphStore) CreateNode(_ context.Context, n *models.Node) error {
	n.ID = uuid.New()
	n.CreatedAt = f.next()
	cp := *n
	f.nodes[n.ID] = &cp
	return nil
}

func (f *fakeGraphStore) GetNode(_ context.Context, id uuid.UUID) (*models.Node, uuid.UUID, error) {
	n, ok := f.nodes[id]
	if !ok {
		return nil, uuid.Nil, pgx.ErrNoRows
	}
	cp := *n
	return &cp, f.sphereOrgs[n.SphereID], nil
}

func (f *fakeGraphStore) UpdateNode(_ context.Context, n *models.Node) error {
	if _, ok := f.nodes[n.ID]; !ok {
		return pgx.ErrNoRows
	}
	cp := *n
	cp.CreatedAt = f.nodes[n.ID].CreatedAt
	f.nodes[n.ID] = &cp
	return nil
}

func (f *fakeGraphStore) DeleteNode(_ context.Context, id uuid.UUID) error {
	if _, ok := f.nodes[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(f.nodes, id)
	for eid, e := range f.edges {
		if e.SourceNodeID == id || e.TargetNodeID == id {
			delete(f.edges, eid)
		}
	}
	return nil
}

func (f *fakeGraphStore) nodesWhere(keep func(*models.Node) bool) []models.Node {
	var out []models.Node
	for _, n := range f.nodes {
		if keep(n) {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (f *fakeGraphStore) ListNodes(_ context.Context, orgID uuid.UUID, fl NodeFilter) ([]models.Node, error) {
	term := strings.ToLower(fl.Search)
	return f.nodesWhere(func(n *models.Node) bool {
		if f.sphereOrgs[n.SphereID] != orgID {
			return false
		}
		if fl.SphereID != nil && n.SphereID != *fl.SphereID {
			return false
		}
		if fl.NodeType != "" && n.NodeType != fl.NodeType {
			return false
		}
		if fl.Status != "" && n.Status != fl.Status {
			return false
		}
		if term != "" &&
			!strings.Contains(strings.ToLower(n.Label), term) &&
			!strings.Contains(strings.ToLower(n.Summary), term) {
			return false
		}
		return true
	}), nil
}

func (f *fakeGraphStore) SearchNodes(_ context.Context, orgID uuid.UUID, term string, limit int) ([]models.Node, error) {
	term = strings.ToLower(term)
	out := f.nodesWhere(func(n *models.Node) bool {
		if f.sphereOrgs[n.SphereID] != orgID {
			return false
		}
		return term == "" ||
			strings.Contains(strings.ToLower(n.Label), term) ||
			strings.Contains(strings.ToLower(n.Summary), term)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeGraphStore) CreateEdge(_ context.Context, e *models.Edge) error {
	e.ID = uuid.New()
	e.CreatedAt = f.next()
	cp := *e
	f.edges[e.ID] = &cp
	return nil
}

func (f *fakeGraphStore) GetEdge(_ context.Context, id uuid.UUID) (*models.Edge, uuid.UUID, error) {
	e, ok := f.edges[id]
	if !ok {
		return nil, uuid.Nil, pgx.ErrNoRows
	}
	cp := *e
	return &cp, f.sphereOrgs[e.SphereID], nil
}

func (f *fakeGraphStore) DeleteEdge(_ context.Context, id uuid.UUID) error {
	if _, ok := f.edges[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(f.edges, id)
	return nil
}

func (f *fakeGraphStore) edgesWhere(keep func(*models.Edge) bool) []models.Edge {
	var out []models.Edge
	for _, e := range f.edges {
		if keep(e) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (f *fakeGraphStore) UpdateEdge(_ context.Context, e *models.Edge) error {
	if _, ok := f.edges[e.ID]; !ok {
		return pgx.ErrNoRows
	}
	cp := *e
	cp.CreatedAt = f.edges[e.ID].CreatedAt
	f.edges[e.ID] = &cp
	return nil
}

func (f *fakeGraphStore) ListEdges(_ context.Context, orgID uuid.UUID, fl EdgeFilter) ([]models.Edge, error) {
	return f.edgesWhere(func(e *models.Edge) bool {
		if f.sphereOrgs[e.SphereID] != orgID {
			return false
		}
		if fl.SphereID != nil && e.SphereID != *fl.SphereID {
			return false
		}
		if fl.RelationType != "" && e.RelationType != fl.RelationType {
			return false
		}
		return true
	}), nil
}

func (f *fakeGraphStore) NodeRefs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]NodeRef, error) {
	out := make(map[uuid.UUID]NodeRef)
	for _, id := range ids {
		if n, ok := f.nodes[id]; ok {
			out[id] = NodeRef{SphereID: n.SphereID, OrgID: f.sphereOrgs[n.SphereID]}
		}
	}
	return out, nil
}

func (f *fakeGraphStore) ReplaceGraph(_ context.Context, orgID uuid.UUID, nodes []models.Node, edges []models.Edge) error {
	for i := range nodes {
		cp := nodes[i]
		if existing, ok := f.nodes[cp.ID]; ok {
			if f.sphereOrgs[existing.SphereID] != orgID {
				return apperr.Newf(apperr.KindInvalidReference, "node id %s is not available", cp.ID)
			}
			cp.CreatedAt = existing.CreatedAt
		} else {
			cp.CreatedAt = f.next()
		}
		f.nodes[cp.ID] = &cp
	}
	for id, e := range f.edges {
		if f.sphereOrgs[e.SphereID] == orgID {
			delete(f.edges, id)
		}
	}
	for i := range edges {
		cp := edges[i]
		cp.CreatedAt = f.next()
		f.edges[cp.ID] = &cp
	}
	return nil
}

func (f *fakeGraphStore) SphereOrg(_ context.Context, sphereID uuid.UUID) (uuid.UUID, error) {
	orgID, ok := f.sphereOrgs[sphereID]
	if !ok {
		return uuid.Nil, pgx.ErrNoRows
	}
	return orgID, nil
}

func (f *fakeGraphStore) SphereIDsByOrg(_ context.Context, orgID uuid.UUID) (map[uuid.UUID]bool, error) {
	out := make(map[uuid.UUID]bool)
	for id, org := range f.sphereOrgs {
		if org == orgID {
			out[id] = true
		}
	}
	return out, nil
}

type fakeSphereLister struct {
	spheres []models.Sphere
}

func (f *fakeSphereLister) ListByOrg(_ context.Context, orgID uuid.UUID) ([]models.Sphere, error) {
	var out []models.Sphere
	for _, s := range f.spheres {
		if s.OrganizationID == orgID {
			out = append(out, s)
		}
	}
	return out, nil
}

type graphFixture struct {
	svc      *Service
	store    *fakeGraphStore
	orgID    uuid.UUID
	member   uuid.UUID
	admin    uuid.UUID
	sphereID uuid.UUID
}

func newGraphFixture() *graphFixture {
	store := newFakeGraphStore()
	authz := &fakeAuthz{}
	orgID := uuid.New()
	member, admin := uuid.New(), uuid.New()
	authz.grant(orgID, member, models.OrgRoleMember)
	authz.grant(orgID, admin, models.OrgRoleAdmin)
	sphereID := store.addSphere(orgID)
	lister := &fakeSphereLister{spheres: []models.Sphere{{ID: sphereID, OrganizationID: orgID, Name: "core"}}}
	return &graphFixture{
		svc:      NewService(store, authz, lister, nil, nopRecorder{}),
		store:    store,
		orgID:    orgID,
		member:   member,
		admin:    admin,
		sphereID: sphereID,
	}
}

func strPtr(s string) *string { return &s }

func TestCreateNodeDefaults(t *testing.T) {
	fx := newGraphFixture()
	p := &NodePayload{SphereID: &fx.sphereID, Label: strPtr("billing")}

	n, err := fx.svc.CreateNode(context.Background(), fx.member, fx.orgID, p)
	if err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if n.NodeType != models.DefaultNodeType {
		t.Errorf("NodeType = %q, want %q", n.NodeType, models.DefaultNodeType)
	}
	if n.Status != models.DefaultNodeStatus {
		t.Errorf("Status = %q, want %q", n.Status, models.DefaultNodeStatus)
	}
	if n.Position.X != 0.5 || n.Position.Y != 0.5 {
		t.Errorf("Position = %v, want {0.5 0.5}", n.Position)
	}
	if n.Links == nil || n.Owners == nil || n.Metadata == nil {
		t.Error("collections should be initialized, not nil")
	}
}

func TestCreateNodeRequiresLabelAndSphere(t *testing.T) {
	fx := newGraphFixture()
	if _, err := fx.svc.CreateNode(context.Background(), fx.member, fx.orgID, &NodePayload{SphereID: &fx.sphereID}); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("missing label error = %v, want Validation", err)
	}
	if _, err := fx.svc.CreateNode(context.Background(), fx.member, fx.orgID, &NodePayload{Label: strPtr("x")}); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("missing sphere error = %v, want Validation", err)
	}
}

func TestCreateNodeForeignSphereRejected(t *testing.T) {
	fx := newGraphFixture()
	otherSphere := fx.store.addSphere(uuid.New())
	p := &NodePayload{SphereID: &otherSphere, Label: strPtr("x")}
	_, err := fx.svc.CreateNode(context.Background(), fx.member, fx.orgID, p)
	if !apperr.IsKind(err, apperr.KindScopeViolation) {
		t.Errorf("error = %v, want ScopeViolation", err)
	}
}

func TestCreateNodeOutsiderDenied(t *testing.T) {
	fx := newGraphFixture()
	p := &NodePayload{SphereID: &fx.sphereID, Label: strPtr("x")}
	_, err := fx.svc.CreateNode(context.Background(), uuid.New(), fx.orgID, p)
	if !apperr.IsKind(err, apperr.KindAccessDenied) {
		t.Errorf("error = %v, want AccessDenied", err)
	}
}

func TestUpdateNodePartial(t *testing.T) {
	fx := newGraphFixture()
	created, err := fx.svc.CreateNode(context.Background(), fx.member, fx.orgID, &NodePayload{
		SphereID: &fx.sphereID,
		Label:    strPtr("billing"),
		Links:    []string{"https://wiki/billing"},
		HasLinks: true,
	})
	if err != nil {
		t.Fatalf("CreateNode: %v", err)
	}

	updated, err := fx.svc.UpdateNode(context.Background(), fx.member, created.ID, &NodePayload{
		Summary: strPtr("handles invoices"),
	})
	if err != nil {
		t.Fatalf("UpdateNode: %v", err)
	}
	if updated.Summary != "handles invoices" {
		t.Errorf("Summary = %q", updated.Summary)
	}
	if updated.Label != "billing" {
		t.Errorf("Label changed to %q", updated.Label)
	}
	if len(updated.Links) != 1 || updated.Links[0] != "https://wiki/billing" {
		t.Errorf("Links = %v, should be preserved", updated.Links)
	}
}

func TestUpdateNodeCrossOrgMoveRejected(t *testing.T) {
	fx := newGraphFixture()
	created, _ := fx.svc.CreateNode(context.Background(), fx.member, fx.orgID, &NodePayload{
		SphereID: &fx.sphereID, Label: strPtr("x"),
	})
	foreign := fx.store.addSphere(uuid.New())
	_, err := fx.svc.UpdateNode(context.Background(), fx.member, created.ID, &NodePayload{SphereID: &foreign})
	if !apperr.IsKind(err, apperr.KindScopeViolation) {
		t.Errorf("error = %v, want ScopeViolation", err)
	}
}

func TestSearchNodes(t *testing.T) {
	fx := newGraphFixture()
	ctx := context.Background()
	for _, label := range []string{"billing api", "payment worker", "Billing UI"} {
		if _, err := fx.svc.CreateNode(ctx, fx.member, fx.orgID, &NodePayload{SphereID: &fx.sphereID, Label: strPtr(label)}); err != nil {
			t.Fatalf("CreateNode: %v", err)
		}
	}

	got, err := fx.svc.SearchNodes(ctx, fx.member, fx.orgID, "  billing ")
	if err != nil {
		t.Fatalf("SearchNodes: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("matches = %d, want 2", len(got))
	}

	all, err := fx.svc.SearchNodes(ctx, fx.member, fx.orgID, "   ")
	if err != nil {
		t.Fatalf("SearchNodes blank: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("blank term matches = %d, want 3 (no filter)", len(all))
	}
}

func TestSearchNodesCapped(t *testing.T) {
	fx := newGraphFixture()
	ctx := context.Background()
	for i := 0; i < SearchLimit+5; i++ {
		if _, err := fx.svc.CreateNode(ctx, fx.member, fx.orgID, &NodePayload{SphereID: &fx.sphereID, Label: strPtr("svc")}); err != nil {
			t.Fatalf("CreateNode: %v", err)
		}
	}
	got, err := fx.svc.SearchNodes(ctx, fx.member, fx.orgID, "svc")
	if err != nil {
		t.Fatalf("SearchNodes: %v", err)
	}
	if len(got) != SearchLimit {
		t.Errorf("results = %d, want %d", len(got), SearchLimit)
	}
}

func TestCreateEdge(t *testing.T) {
	fx := newGraphFixture()
	ctx := context.Background()
	a, _ := fx.svc.CreateNode(ctx, fx.member, fx.orgID, &NodePayload{SphereID: &fx.sphereID, Label: strPtr("a")})
	b, _ := fx.svc.CreateNode(ctx, fx.member, fx.orgID, &NodePayload{SphereID: &fx.sphereID, Label: strPtr("b")})

	e, err := fx.svc.CreateEdge(ctx, fx.member, fx.orgID, &EdgePayload{SourceNodeID: &a.ID, TargetNodeID: &b.ID})
	if err != nil {
		t.Fatalf("CreateEdge: %v", err)
	}
	if e.RelationType != models.DefaultEdgeType {
		t.Errorf("RelationType = %q, want %q", e.RelationType, models.DefaultEdgeType)
	}
	if e.SphereID != fx.sphereID {
		t.Errorf("SphereID = %s, want source node's sphere", e.SphereID)
	}
}

func TestCreateEdgeMissingEndpoint(t *testing.T) {
	fx := newGraphFixture()
	ctx := context.Background()
	a, _ := fx.svc.CreateNode(ctx, fx.member, fx.orgID, &NodePayload{SphereID: &fx.sphereID, Label: strPtr("a")})
	ghost := uuid.New()

	_, err := fx.svc.CreateEdge(ctx, fx.member, fx.orgID, &EdgePayload{SourceNodeID: &a.ID, TargetNodeID: &ghost})
	if !apperr.IsKind(err, apperr.KindInvalidReference) {
		t.Errorf("error = %v, want InvalidReference", err)
	}
}

func TestCreateEdgeCrossOrgEndpoint(t *testing.T) {
	fx := newGraphFixture()
	ctx := context.Background()
	a, _ := fx.svc.CreateNode(ctx, fx.member, fx.orgID, &NodePayload{SphereID: &fx.sphereID, Label: strPtr("a")})

	otherOrg := uuid.New()
	otherSphere := fx.store.addSphere(otherOrg)
	foreign := &models.Node{SphereID: otherSphere, Label: "f", NodeType: "service", Status: "active"}
	if err := fx.store.CreateNode(ctx, foreign); err != nil {
		t.Fatalf("seed foreign node: %v", err)
	}

	_, err := fx.svc.CreateEdge(ctx, fx.member, fx.orgID, &EdgePayload{SourceNodeID: &a.ID, TargetNodeID: &foreign.ID})
	if !apperr.IsKind(err, apperr.KindScopeViolation) {
		t.Errorf("error = %v, want ScopeViolation", err)
	}
}

func TestCreateEdgeEndpointsMustMatchSphere(t *testing.T) {
	fx := newGraphFixture()
	ctx := context.Background()
	second := fx.store.addSphere(fx.orgID)
	a, _ := fx.svc.CreateNode(ctx, fx.member, fx.orgID, &NodePayload{SphereID: &second, Label: strPtr("a")})
	b, _ := fx.svc.CreateNode(ctx, fx.member, fx.orgID, &NodePayload{SphereID: &second, Label: strPtr("b")})

	// Declared sphere is valid for the org but holds neither endpoint.
	_, err := fx.svc.CreateEdge(ctx, fx.member, fx.orgID, &EdgePayload{
		SphereID: &fx.sphereID, SourceNodeID: &a.ID, TargetNodeID: &b.ID,
	})
	if !apperr.IsKind(err, apperr.KindScopeViolation) {
		t.Errorf("declared-sphere error = %v, want ScopeViolation", err)
	}

	// Default sphere is the source's; a target elsewhere violates it too.
	c, _ := fx.svc.CreateNode(ctx, fx.member, fx.orgID, &NodePayload{SphereID: &fx.sphereID, Label: strPtr("c")})
	_, err = fx.svc.CreateEdge(ctx, fx.member, fx.orgID, &EdgePayload{SourceNodeID: &a.ID, TargetNodeID: &c.ID})
	if !apperr.IsKind(err, apperr.KindScopeViolation) {
		t.Errorf("cross-sphere target error = %v, want ScopeViolation", err)
	}
}

func TestUpdateEdgePartial(t *testing.T) {
	fx := newGraphFixture()
	ctx := context.Background()
	a, _ := fx.svc.CreateNode(ctx, fx.member, fx.orgID, &NodePayload{SphereID: &fx.sphereID, Label: strPtr("a")})
	b, _ := fx.svc.CreateNode(ctx, fx.member, fx.orgID, &NodePayload{SphereID: &fx.sphereID, Label: strPtr("b")})
	created, err := fx.svc.CreateEdge(ctx, fx.member, fx.orgID, &EdgePayload{
		SourceNodeID: &a.ID, TargetNodeID: &b.ID, Metadata: map[string]any{"weight": 2.0},
	})
	if err != nil {
		t.Fatalf("CreateEdge: %v", err)
	}

	updated, err := fx.svc.UpdateEdge(ctx, fx.member, created.ID, &EdgePayload{RelationType: strPtr("produces")})
	if err != nil {
		t.Fatalf("UpdateEdge: %v", err)
	}
	if updated.RelationType != "produces" {
		t.Errorf("RelationType = %q, want produces", updated.RelationType)
	}
	if updated.Metadata["weight"] != 2.0 {
		t.Errorf("Metadata = %v, should be preserved", updated.Metadata)
	}
	if updated.SourceNodeID != a.ID || updated.TargetNodeID != b.ID {
		t.Error("endpoints must not change")
	}

	if _, err := fx.svc.UpdateEdge(ctx, fx.member, uuid.New(), &EdgePayload{}); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("missing edge error = %v, want NotFound", err)
	}
}

func TestListNodesFiltered(t *testing.T) {
	fx := newGraphFixture()
	ctx := context.Background()
	seed := []struct{ label, nodeType, status string }{
		{"billing api", "api", "active"},
		{"mail task", "task", "active"},
		{"old store", "store", "archived"},
	}
	for _, s := range seed {
		p := &NodePayload{SphereID: &fx.sphereID, Label: strPtr(s.label), NodeType: strPtr(s.nodeType), Status: strPtr(s.status)}
		if _, err := fx.svc.CreateNode(ctx, fx.member, fx.orgID, p); err != nil {
			t.Fatalf("CreateNode %s: %v", s.label, err)
		}
	}

	byType, err := fx.svc.ListNodes(ctx, fx.member, fx.orgID, NodeFilter{NodeType: "task"})
	if err != nil {
		t.Fatalf("ListNodes by type: %v", err)
	}
	if len(byType) != 1 || byType[0].Label != "mail task" {
		t.Errorf("type filter = %v, want only mail task", byType)
	}

	byStatus, err := fx.svc.ListNodes(ctx, fx.member, fx.orgID, NodeFilter{Status: "archived"})
	if err != nil {
		t.Fatalf("ListNodes by status: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].Label != "old store" {
		t.Errorf("status filter = %v, want only old store", byStatus)
	}

	bySearch, err := fx.svc.ListNodes(ctx, fx.member, fx.orgID, NodeFilter{Search: "  BILLING "})
	if err != nil {
		t.Fatalf("ListNodes by search: %v", err)
	}
	if len(bySearch) != 1 || bySearch[0].Label != "billing api" {
		t.Errorf("search filter = %v, want only billing api", bySearch)
	}

	if _, err := fx.svc.ListNodes(ctx, fx.member, fx.orgID, NodeFilter{NodeType: "lambda"}); !apperr.IsKind(err, apperr.KindInvalidEnum) {
		t.Errorf("bad node_type error = %v, want InvalidEnum", err)
	}
	if _, err := fx.svc.ListNodes(ctx, fx.member, fx.orgID, NodeFilter{Status: "paused"}); !apperr.IsKind(err, apperr.KindInvalidEnum) {
		t.Errorf("bad status error = %v, want InvalidEnum", err)
	}
}

func TestListEdgesFiltered(t *testing.T) {
	fx := newGraphFixture()
	ctx := context.Background()
	a, _ := fx.svc.CreateNode(ctx, fx.member, fx.orgID, &NodePayload{SphereID: &fx.sphereID, Label: strPtr("a")})
	b, _ := fx.svc.CreateNode(ctx, fx.member, fx.orgID, &NodePayload{SphereID: &fx.sphereID, Label: strPtr("b")})
	for _, rel := range []string{"uses", "produces"} {
		if _, err := fx.svc.CreateEdge(ctx, fx.member, fx.orgID, &EdgePayload{
			SourceNodeID: &a.ID, TargetNodeID: &b.ID, RelationType: strPtr(rel),
		}); err != nil {
			t.Fatalf("CreateEdge %s: %v", rel, err)
		}
	}

	got, err := fx.svc.ListEdges(ctx, fx.member, fx.orgID, EdgeFilter{RelationType: "produces"})
	if err != nil {
		t.Fatalf("ListEdges: %v", err)
	}
	if len(got) != 1 || got[0].RelationType != "produces" {
		t.Errorf("relation filter = %v, want only produces", got)
	}

	if _, err := fx.svc.ListEdges(ctx, fx.member, fx.orgID, EdgeFilter{RelationType: "invokes"}); !apperr.IsKind(err, apperr.KindInvalidEnum) {
		t.Errorf("bad relation error = %v, want InvalidEnum", err)
	}
}

func TestExport(t *testing.T) {
	fx := newGraphFixture()
	ctx := context.Background()
	a, _ := fx.svc.CreateNode(ctx, fx.member, fx.orgID, &NodePayload{SphereID: &fx.sphereID, Label: strPtr("a")})
	b, _ := fx.svc.CreateNode(ctx, fx.member, fx.orgID, &NodePayload{SphereID: &fx.sphereID, Label: strPtr("b")})
	if _, err := fx.svc.CreateEdge(ctx, fx.member, fx.orgID, &EdgePayload{SourceNodeID: &a.ID, TargetNodeID: &b.ID}); err != nil {
		t.Fatalf("CreateEdge: %v", err)
	}

	data, err := fx.svc.Export(ctx, fx.member, fx.orgID)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(data.Nodes) != 2 || len(data.Edges) != 1 {
		t.Errorf("export = %d nodes %d edges, want 2 and 1", len(data.Nodes), len(data.Edges))
	}
	if len(data.Spheres) != 1 || data.Spheres[0].Name != "core" {
		t.Errorf("Spheres = %v, export should carry the organization's spheres", data.Spheres)
	}
}

func TestMapViewIncludesSpheres(t *testing.T) {
	fx := newGraphFixture()
	data, err := fx.svc.MapView(context.Background(), fx.member, fx.orgID)
	if err != nil {
		t.Fatalf("MapView: %v", err)
	}
	if len(data.Spheres) != 1 || data.Spheres[0].Name != "core" {
		t.Errorf("Spheres = %v", data.Spheres)
	}
}

func TestImportRoundTrip(t *testing.T) {
	fx := newGraphFixture()
	ctx := context.Background()
	n1, n2 := uuid.New(), uuid.New()
	body := []byte(`{
		"nodes": [
			{"id": "` + n1.String() + `", "sphere_id": "` + fx.sphereID.String() + `", "label": "api", "node_type": "api"},
			{"id": "` + n2.String() + `", "sphere_id": "` + fx.sphereID.String() + `", "name": "store", "nodeType": "store"}
		],
		"edges": [
			{"source_node_id": "` + n1.String() + `", "target_node_id": "` + n2.String() + `", "relation_type": "uses"}
		]
	}`)

	res, err := fx.svc.Import(ctx, fx.admin, fx.orgID, body)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Nodes != 2 || res.Edges != 1 {
		t.Errorf("result = %+v, want 2 nodes 1 edge", res)
	}

	data, err := fx.svc.Export(ctx, fx.admin, fx.orgID)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(data.Nodes) != 2 || len(data.Edges) != 1 {
		t.Fatalf("export after import = %d nodes %d edges", len(data.Nodes), len(data.Edges))
	}
	if data.Edges[0].RelationType != "uses" {
		t.Errorf("RelationType = %q, want uses", data.Edges[0].RelationType)
	}
}

func TestImportUpsertsAndReplacesEdges(t *testing.T) {
	fx := newGraphFixture()
	ctx := context.Background()
	a, _ := fx.svc.CreateNode(ctx, fx.member, fx.orgID, &NodePayload{SphereID: &fx.sphereID, Label: strPtr("old label")})
	b, _ := fx.svc.CreateNode(ctx, fx.member, fx.orgID, &NodePayload{SphereID: &fx.sphereID, Label: strPtr("b")})
	if _, err := fx.svc.CreateEdge(ctx, fx.member, fx.orgID, &EdgePayload{SourceNodeID: &a.ID, TargetNodeID: &b.ID}); err != nil {
		t.Fatalf("CreateEdge: %v", err)
	}

	// Re-import node a with a new label and no edges at all.
	body := []byte(`{
		"nodes": [{"id": "` + a.ID.String() + `", "sphere_id": "` + fx.sphereID.String() + `", "label": "new label"}],
		"edges": []
	}`)
	if _, err := fx.svc.Import(ctx, fx.admin, fx.orgID, body); err != nil {
		t.Fatalf("Import: %v", err)
	}

	got, err := fx.svc.GetNode(ctx, fx.member, a.ID)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if got.Label != "new label" {
		t.Errorf("Label = %q, want new label (upsert by id)", got.Label)
	}
	if _, err := fx.svc.GetNode(ctx, fx.member, b.ID); err != nil {
		t.Errorf("node b should survive the import: %v", err)
	}
	edges, err := fx.svc.ListEdges(ctx, fx.member, fx.orgID, EdgeFilter{})
	if err != nil {
		t.Fatalf("ListEdges: %v", err)
	}
	if len(edges) != 0 {
		t.Errorf("edges = %d, want 0 (edges replaced wholesale)", len(edges))
	}
}

func TestImportEdgeMustReferenceImportedNodes(t *testing.T) {
	fx := newGraphFixture()
	ctx := context.Background()
	// Node a exists in the database but is absent from the payload.
	a, _ := fx.svc.CreateNode(ctx, fx.member, fx.orgID, &NodePayload{SphereID: &fx.sphereID, Label: strPtr("a")})
	n := uuid.New()
	body := []byte(`{
		"nodes": [{"id": "` + n.String() + `", "sphere_id": "` + fx.sphereID.String() + `", "label": "n"}],
		"edges": [{"source_node_id": "` + n.String() + `", "target_node_id": "` + a.ID.String() + `"}]
	}`)

	_, err := fx.svc.Import(ctx, fx.admin, fx.orgID, body)
	if !apperr.IsKind(err, apperr.KindInvalidReference) {
		t.Errorf("error = %v, want InvalidReference", err)
	}
}

func TestImportForeignSphereRejected(t *testing.T) {
	fx := newGraphFixture()
	foreign := fx.store.addSphere(uuid.New())
	body := []byte(`{
		"nodes": [{"sphere_id": "` + foreign.String() + `", "label": "x"}],
		"edges": []
	}`)
	_, err := fx.svc.Import(context.Background(), fx.admin, fx.orgID, body)
	if !apperr.IsKind(err, apperr.KindScopeViolation) {
		t.Errorf("error = %v, want ScopeViolation", err)
	}
}

func TestImportCannotClaimForeignNodeID(t *testing.T) {
	fx := newGraphFixture()
	ctx := context.Background()

	otherOrg := uuid.New()
	otherSphere := fx.store.addSphere(otherOrg)
	victim := &models.Node{SphereID: otherSphere, Label: "victim", NodeType: "service", Status: "active"}
	if err := fx.store.CreateNode(ctx, victim); err != nil {
		t.Fatalf("seed foreign node: %v", err)
	}

	body := []byte(`{
		"nodes": [{"id": "` + victim.ID.String() + `", "sphere_id": "` + fx.sphereID.String() + `", "label": "stolen"}],
		"edges": []
	}`)
	_, err := fx.svc.Import(ctx, fx.admin, fx.orgID, body)
	if !apperr.IsKind(err, apperr.KindInvalidReference) {
		t.Errorf("error = %v, want InvalidReference", err)
	}

	got, _, err := fx.store.GetNode(ctx, victim.ID)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if got.Label != "victim" || got.SphereID != otherSphere {
		t.Errorf("foreign node changed to %+v, must be untouched", got)
	}
}

func TestImportRequiresAdmin(t *testing.T) {
	fx := newGraphFixture()
	_, err := fx.svc.Import(context.Background(), fx.member, fx.orgID, []byte(`{"nodes": [], "edges": []}`))
	if !apperr.IsKind(err, apperr.KindInsufficientRole) {
		t.Errorf("error = %v, want InsufficientRole", err)
	}
}

func TestImportAtomicOnBadEdge(t *testing.T) {
	fx := newGraphFixture()
	ctx := context.Background()
	n := uuid.New()
	ghost := uuid.New()
	body := []byte(`{
		"nodes": [{"id": "` + n.String() + `", "sphere_id": "` + fx.sphereID.String() + `", "label": "n"}],
		"edges": [{"source_node_id": "` + n.String() + `", "target_node_id": "` + ghost.String() + `"}]
	}`)

	if _, err := fx.svc.Import(ctx, fx.admin, fx.orgID, body); err == nil {
		t.Fatal("expected import to fail")
	}
	nodes, err := fx.svc.ListNodes(ctx, fx.member, fx.orgID, NodeFilter{})
	if err != nil {
		t.Fatalf("ListNodes: %v", err)
	}
	if len(nodes) != 0 {
		t.Errorf("nodes = %d after failed import, want 0", len(nodes))
	}
}
