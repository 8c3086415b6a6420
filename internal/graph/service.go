package graph

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/egida/backend/internal/audit"
	"github.com/egida/backend/internal/models"
	"github.com/egida/backend/pkg/apperr"
)

// SearchLimit caps search results.
const SearchLimit = 20

// NodeRef locates a node by its sphere and organization.
type NodeRef struct {
	SphereID uuid.UUID
	OrgID    uuid.UUID
}

// NodeFilter narrows a node listing. Zero values mean no restriction.
type NodeFilter struct {
	SphereID *uuid.UUID
	NodeType string
	Status   string
	Search   string
}

// EdgeFilter narrows an edge listing. Zero values mean no restriction.
type EdgeFilter struct {
	SphereID     *uuid.UUID
	RelationType string
}

// Store is the persistence surface the service needs.
type Store interface {
	CreateNode(ctx context.Context, n *models.Node) error
	GetNode(ctx context.Context, id uuid.UUID) (*models.Node, uuid.UUID, error)
	UpdateNode(ctx context.Context, n *models.Node) error
	DeleteNode(ctx context.Context, id uuid.UUID) error
	ListNodes(ctx context.Context, orgID uuid.UUID, f NodeFilter) ([]models.Node, error)
	SearchNodes(ctx context.Context, orgID uuid.UUID, term string, limit int) ([]models.Node, error)
	CreateEdge(ctx context.Context, e *models.Edge) error
	GetEdge(ctx context.Context, id uuid.UUID) (*models.Edge, uuid.UUID, error)
	UpdateEdge(ctx context.Context, e *models.Edge) error
	DeleteEdge(ctx context.Context, id uuid.UUID) error
	ListEdges(ctx context.Context, orgID uuid.UUID, f EdgeFilter) ([]models.Edge, error)
	NodeRefs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]NodeRef, error)
	ReplaceGraph(ctx context.Context, orgID uuid.UUID, nodes []models.Node, edges []models.Edge) error
	SphereOrg(ctx context.Context, sphereID uuid.UUID) (uuid.UUID, error)
	SphereIDsByOrg(ctx context.Context, orgID uuid.UUID) (map[uuid.UUID]bool, error)
}

// Authorizer resolves a caller's role within an organization.
type Authorizer interface {
	RequireRole(ctx context.Context, orgID, userID uuid.UUID, minRole string) (*models.OrganizationMember, error)
}

// SphereLister provides the sphere list for the map view.
type SphereLister interface {
	ListByOrg(ctx context.Context, orgID uuid.UUID) ([]models.Sphere, error)
}

// Service implements graph operations.
type Service struct {
	store   Store
	authz   Authorizer
	spheres SphereLister
	cache   *Cache
	audit   audit.Recorder
}

// NewService creates a graph service.
func NewService(store Store, authz Authorizer, spheres SphereLister, cache *Cache, rec audit.Recorder) *Service {
	return &Service{store: store, authz: authz, spheres: spheres, cache: cache, audit: rec}
}

// requireSphereInOrg checks that a sphere belongs to the organization.
func (s *Service) requireSphereInOrg(ctx context.Context, orgID, sphereID uuid.UUID) error {
	sphereOrg, err := s.store.SphereOrg(ctx, sphereID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.New(apperr.KindScopeViolation, "sphere does not belong to this organization")
	}
	if err != nil {
		return err
	}
	if sphereOrg != orgID {
		return apperr.New(apperr.KindScopeViolation, "sphere does not belong to this organization")
	}
	return nil
}

// applyPayload copies present payload fields onto the node.
func applyPayload(n *models.Node, p *NodePayload) {
	if p.SphereID != nil {
		n.SphereID = *p.SphereID
	}
	if p.Label != nil {
		n.Label = *p.Label
	}
	if p.NodeType != nil {
		n.NodeType = *p.NodeType
	}
	if p.Status != nil {
		n.Status = *p.Status
	}
	if p.Summary != nil {
		n.Summary = *p.Summary
	}
	if p.Position != nil {
		n.Position = *p.Position
	}
	if p.Metadata != nil {
		n.Metadata = p.Metadata
	}
	if p.HasLinks {
		n.Links = p.Links
	}
	if p.HasOwners {
		n.Owners = p.Owners
	}
}

// newNodeFromPayload builds a node with defaults for absent fields.
func newNodeFromPayload(p *NodePayload) (*models.Node, error) {
	if p.SphereID == nil {
		return nil, apperr.New(apperr.KindValidation, "sphere_id is required")
	}
	if p.Label == nil || *p.Label == "" {
		return nil, apperr.New(apperr.KindValidation, "label is required")
	}
	n := &models.Node{
		NodeType: models.DefaultNodeType,
		Status:   models.DefaultNodeStatus,
		Position: models.Position{X: 0.5, Y: 0.5},
		Metadata: map[string]any{},
		Links:    []string{},
		Owners:   []string{},
	}
	applyPayload(n, p)
	return n, nil
}

// CreateNode adds a node to a sphere of the organization. Any member.
func (s *Service) CreateNode(ctx context.Context, userID, orgID uuid.UUID, p *NodePayload) (*models.Node, error) {
	if _, err := s.authz.RequireRole(ctx, orgID, userID, models.OrgRoleMember); err != nil {
		return nil, err
	}
	n, err := newNodeFromPayload(p)
	if err != nil {
		return nil, err
	}
	if err := s.requireSphereInOrg(ctx, orgID, n.SphereID); err != nil {
		return nil, err
	}
	if err := s.store.CreateNode(ctx, n); err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, orgID)
	return n, nil
}

// UpdateNode applies present payload fields to an existing node. Any member
// of the node's organization. Moving a node to a sphere of another
// organization is rejected.
func (s *Service) UpdateNode(ctx context.Context, userID, nodeID uuid.UUID, p *NodePayload) (*models.Node, error) {
	n, orgID, err := s.store.GetNode(ctx, nodeID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "node not found")
	}
	if err != nil {
		return nil, err
	}
	if _, err := s.authz.RequireRole(ctx, orgID, userID, models.OrgRoleMember); err != nil {
		return nil, err
	}
	if p.SphereID != nil && *p.SphereID != n.SphereID {
		if err := s.requireSphereInOrg(ctx, orgID, *p.SphereID); err != nil {
			return nil, err
		}
	}
	applyPayload(n, p)
	if n.Label == "" {
		return nil, apperr.New(apperr.KindValidation, "label is required")
	}
	if err := s.store.UpdateNode(ctx, n); err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, orgID)
	return n, nil
}

// GetNode returns a node readable by the caller.
func (s *Service) GetNode(ctx context.Context, userID, nodeID uuid.UUID) (*models.Node, error) {
	n, orgID, err := s.store.GetNode(ctx, nodeID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "node not found")
	}
	if err != nil {
		return nil, err
	}
	if _, err := s.authz.RequireRole(ctx, orgID, userID, models.OrgRoleMember); err != nil {
		return nil, err
	}
	return n, nil
}

// DeleteNode removes a node and its edges. Any member.
func (s *Service) DeleteNode(ctx context.Context, userID, nodeID uuid.UUID) error {
	_, orgID, err := s.store.GetNode(ctx, nodeID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.New(apperr.KindNotFound, "node not found")
	}
	if err != nil {
		return err
	}
	if _, err := s.authz.RequireRole(ctx, orgID, userID, models.OrgRoleMember); err != nil {
		return err
	}
	if err := s.store.DeleteNode(ctx, nodeID); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, orgID)
	return nil
}

// ListNodes returns the organization's nodes, newest first, narrowed by the
// filter. Enum filters are validated; a blank search term means no search.
func (s *Service) ListNodes(ctx context.Context, userID, orgID uuid.UUID, f NodeFilter) ([]models.Node, error) {
	if _, err := s.authz.RequireRole(ctx, orgID, userID, models.OrgRoleMember); err != nil {
		return nil, err
	}
	if f.NodeType != "" && !models.NodeTypes[f.NodeType] {
		return nil, apperr.Newf(apperr.KindInvalidEnum, "unknown node type %q", f.NodeType)
	}
	if f.Status != "" && !models.NodeStatuses[f.Status] {
		return nil, apperr.Newf(apperr.KindInvalidEnum, "unknown status %q", f.Status)
	}
	if f.SphereID != nil {
		if err := s.requireSphereInOrg(ctx, orgID, *f.SphereID); err != nil {
			return nil, err
		}
	}
	f.Search = strings.TrimSpace(f.Search)
	return s.store.ListNodes(ctx, orgID, f)
}

// SearchNodes returns up to SearchLimit nodes matching the term. The term
// is trimmed and matched case-insensitively; a blank term matches all.
func (s *Service) SearchNodes(ctx context.Context, userID, orgID uuid.UUID, term string) ([]models.Node, error) {
	if _, err := s.authz.RequireRole(ctx, orgID, userID, models.OrgRoleMember); err != nil {
		return nil, err
	}
	return s.store.SearchNodes(ctx, orgID, strings.TrimSpace(term), SearchLimit)
}

// CreateEdge links two nodes of the organization. Any member. The edge
// lives in the source node's sphere unless the payload names one; both
// endpoints must sit in the edge's sphere.
func (s *Service) CreateEdge(ctx context.Context, userID, orgID uuid.UUID, p *EdgePayload) (*models.Edge, error) {
	if _, err := s.authz.RequireRole(ctx, orgID, userID, models.OrgRoleMember); err != nil {
		return nil, err
	}
	if p.SourceNodeID == nil || p.TargetNodeID == nil {
		return nil, apperr.New(apperr.KindValidation, "source and target node ids are required")
	}

	refs, err := s.store.NodeRefs(ctx, []uuid.UUID{*p.SourceNodeID, *p.TargetNodeID})
	if err != nil {
		return nil, err
	}
	for _, id := range []uuid.UUID{*p.SourceNodeID, *p.TargetNodeID} {
		ref, ok := refs[id]
		if !ok {
			return nil, apperr.Newf(apperr.KindInvalidReference, "node %s does not exist", id)
		}
		if ref.OrgID != orgID {
			return nil, apperr.Newf(apperr.KindScopeViolation, "node %s belongs to another organization", id)
		}
	}

	e := &models.Edge{
		SourceNodeID: *p.SourceNodeID,
		TargetNodeID: *p.TargetNodeID,
		RelationType: models.DefaultEdgeType,
		Metadata:     map[string]any{},
		SphereID:     refs[*p.SourceNodeID].SphereID,
	}
	if p.RelationType != nil {
		e.RelationType = *p.RelationType
	}
	if p.Metadata != nil {
		e.Metadata = p.Metadata
	}
	if p.SphereID != nil {
		if err := s.requireSphereInOrg(ctx, orgID, *p.SphereID); err != nil {
			return nil, err
		}
		e.SphereID = *p.SphereID
	}
	for _, id := range []uuid.UUID{*p.SourceNodeID, *p.TargetNodeID} {
		if refs[id].SphereID != e.SphereID {
			return nil, apperr.Newf(apperr.KindScopeViolation, "node %s is outside the edge's sphere", id)
		}
	}

	if err := s.store.CreateEdge(ctx, e); err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, orgID)
	return e, nil
}

// UpdateEdge applies present payload fields to an existing edge. Any member
// of the edge's organization. Endpoints are immutable; delete and recreate
// the edge to rewire it.
func (s *Service) UpdateEdge(ctx context.Context, userID, edgeID uuid.UUID, p *EdgePayload) (*models.Edge, error) {
	e, orgID, err := s.store.GetEdge(ctx, edgeID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "edge not found")
	}
	if err != nil {
		return nil, err
	}
	if _, err := s.authz.RequireRole(ctx, orgID, userID, models.OrgRoleMember); err != nil {
		return nil, err
	}
	if p.RelationType != nil {
		e.RelationType = *p.RelationType
	}
	if p.Metadata != nil {
		e.Metadata = p.Metadata
	}
	if err := s.store.UpdateEdge(ctx, e); err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, orgID)
	return e, nil
}

// DeleteEdge removes an edge. Any member.
func (s *Service) DeleteEdge(ctx context.Context, userID, edgeID uuid.UUID) error {
	_, orgID, err := s.store.GetEdge(ctx, edgeID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.New(apperr.KindNotFound, "edge not found")
	}
	if err != nil {
		return err
	}
	if _, err := s.authz.RequireRole(ctx, orgID, userID, models.OrgRoleMember); err != nil {
		return err
	}
	if err := s.store.DeleteEdge(ctx, edgeID); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, orgID)
	return nil
}

// ListEdges returns the organization's edges, newest first, narrowed by the
// filter.
func (s *Service) ListEdges(ctx context.Context, userID, orgID uuid.UUID, f EdgeFilter) ([]models.Edge, error) {
	if _, err := s.authz.RequireRole(ctx, orgID, userID, models.OrgRoleMember); err != nil {
		return nil, err
	}
	if f.RelationType != "" && !models.EdgeTypes[f.RelationType] {
		return nil, apperr.Newf(apperr.KindInvalidEnum, "unknown relation type %q", f.RelationType)
	}
	if f.SphereID != nil {
		if err := s.requireSphereInOrg(ctx, orgID, *f.SphereID); err != nil {
			return nil, err
		}
	}
	return s.store.ListEdges(ctx, orgID, f)
}

// ExportData is the org-wide graph snapshot.
type ExportData struct {
	Spheres []models.Sphere `json:"spheres"`
	Nodes   []models.Node   `json:"nodes"`
	Edges   []models.Edge   `json:"edges"`
}

// Export returns every sphere, node and edge of the organization. Any member.
func (s *Service) Export(ctx context.Context, userID, orgID uuid.UUID) (*ExportData, error) {
	if _, err := s.authz.RequireRole(ctx, orgID, userID, models.OrgRoleMember); err != nil {
		return nil, err
	}
	if cached, ok := s.cache.GetExport(ctx, orgID); ok {
		return cached, nil
	}
	spheres, err := s.spheres.ListByOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}
	nodes, err := s.store.ListNodes(ctx, orgID, NodeFilter{})
	if err != nil {
		return nil, err
	}
	edges, err := s.store.ListEdges(ctx, orgID, EdgeFilter{})
	if err != nil {
		return nil, err
	}
	data := &ExportData{Spheres: spheres, Nodes: nodes, Edges: edges}
	s.cache.SetExport(ctx, orgID, data)
	return data, nil
}

// MapData is the full organization map: spheres with their graph.
type MapData struct {
	Spheres []models.Sphere `json:"spheres"`
	Nodes   []models.Node   `json:"nodes"`
	Edges   []models.Edge   `json:"edges"`
}

// MapView returns the organization's spheres, nodes and edges. Any member.
func (s *Service) MapView(ctx context.Context, userID, orgID uuid.UUID) (*MapData, error) {
	if _, err := s.authz.RequireRole(ctx, orgID, userID, models.OrgRoleMember); err != nil {
		return nil, err
	}
	if cached, ok := s.cache.GetMap(ctx, orgID); ok {
		return cached, nil
	}
	spheres, err := s.spheres.ListByOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}
	nodes, err := s.store.ListNodes(ctx, orgID, NodeFilter{})
	if err != nil {
		return nil, err
	}
	edges, err := s.store.ListEdges(ctx, orgID, EdgeFilter{})
	if err != nil {
		return nil, err
	}
	data := &MapData{Spheres: spheres, Nodes: nodes, Edges: edges}
	s.cache.SetMap(ctx, orgID, data)
	return data, nil
}

// ImportResult summarizes an applied import.
type ImportResult struct {
	Nodes int `json:"nodes"`
	Edges int `json:"edges"`
}

// Import applies a bulk graph payload atomically: nodes are upserted by ID
// and the organization's edges are replaced wholesale. Requires admin.
// Edge endpoints must reference nodes present in the same payload.
func (s *Service) Import(ctx context.Context, userID, orgID uuid.UUID, body []byte) (*ImportResult, error) {
	if _, err := s.authz.RequireRole(ctx, orgID, userID, models.OrgRoleAdmin); err != nil {
		return nil, err
	}

	var envelope struct {
		Nodes []json.RawMessage `json:"nodes"`
		Edges []json.RawMessage `json:"edges"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, apperr.New(apperr.KindValidation, "body must be a JSON object with nodes and edges")
	}

	spheres, err := s.store.SphereIDsByOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}

	nodes := make([]models.Node, 0, len(envelope.Nodes))
	imported := make(map[uuid.UUID]uuid.UUID, len(envelope.Nodes)) // node id -> its sphere
	for _, raw := range envelope.Nodes {
		p, err := DecodeNodePayload(raw)
		if err != nil {
			return nil, err
		}
		n, err := newNodeFromPayload(p)
		if err != nil {
			return nil, err
		}
		if !spheres[n.SphereID] {
			return nil, apperr.Newf(apperr.KindScopeViolation, "sphere %s does not belong to this organization", n.SphereID)
		}
		if p.ID != nil {
			n.ID = *p.ID
		} else {
			n.ID = uuid.New()
		}
		if _, dup := imported[n.ID]; dup {
			return nil, apperr.Newf(apperr.KindValidation, "duplicate node id %s", n.ID)
		}
		imported[n.ID] = n.SphereID
		nodes = append(nodes, *n)
	}

	// A payload id may only hit an existing node of this organization;
	// colliding with another tenant's node is not an upsert.
	ids := make([]uuid.UUID, 0, len(nodes))
	for i := range nodes {
		ids = append(ids, nodes[i].ID)
	}
	refs, err := s.store.NodeRefs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for id, ref := range refs {
		if ref.OrgID != orgID {
			return nil, apperr.Newf(apperr.KindInvalidReference, "node id %s is not available", id)
		}
	}

	edges := make([]models.Edge, 0, len(envelope.Edges))
	for _, raw := range envelope.Edges {
		p, err := DecodeEdgePayload(raw)
		if err != nil {
			return nil, err
		}
		if p.SourceNodeID == nil || p.TargetNodeID == nil {
			return nil, apperr.New(apperr.KindValidation, "edge source and target node ids are required")
		}
		srcSphere, ok := imported[*p.SourceNodeID]
		if !ok {
			return nil, apperr.Newf(apperr.KindInvalidReference, "edge references node %s not present in the import", *p.SourceNodeID)
		}
		if _, ok := imported[*p.TargetNodeID]; !ok {
			return nil, apperr.Newf(apperr.KindInvalidReference, "edge references node %s not present in the import", *p.TargetNodeID)
		}
		e := models.Edge{
			SourceNodeID: *p.SourceNodeID,
			TargetNodeID: *p.TargetNodeID,
			RelationType: models.DefaultEdgeType,
			Metadata:     map[string]any{},
			SphereID:     srcSphere,
		}
		if p.RelationType != nil {
			e.RelationType = *p.RelationType
		}
		if p.Metadata != nil {
			e.Metadata = p.Metadata
		}
		if p.SphereID != nil {
			if !spheres[*p.SphereID] {
				return nil, apperr.Newf(apperr.KindScopeViolation, "sphere %s does not belong to this organization", *p.SphereID)
			}
			e.SphereID = *p.SphereID
		}
		if srcSphere != e.SphereID || imported[*p.TargetNodeID] != e.SphereID {
			return nil, apperr.Newf(apperr.KindScopeViolation, "edge endpoints must sit in sphere %s", e.SphereID)
		}
		if p.ID != nil {
			e.ID = *p.ID
		} else {
			e.ID = uuid.New()
		}
		edges = append(edges, e)
	}

	if err := s.store.ReplaceGraph(ctx, orgID, nodes, edges); err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, orgID)
	s.audit.Record(ctx, audit.Entry{
		OrganizationID: orgID,
		UserID:         &userID,
		EntityType:     "graph",
		EntityID:       orgID.String(),
		Action:         "imported",
		Payload:        map[string]any{"nodes": len(nodes), "edges": len(edges)},
	})
	return &ImportResult{Nodes: len(nodes), Edges: len(edges)}, nil
}
