package graph

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/egida/backend/internal/models"
	"github.com/egida/backend/pkg/apperr"
)

// Repository handles node and edge persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a graph repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const nodeCols = `n.id, n.sphere_id, n.label, n.node_type, n.status, n.summary,
	n.position, n.metadata, n.links, n.owners, n.created_at`

func scanNode(row pgx.Row) (*models.Node, error) {
	var n models.Node
	err := row.Scan(&n.ID, &n.SphereID, &n.Label, &n.NodeType, &n.Status, &n.Summary,
		&n.Position, &n.Metadata, &n.Links, &n.Owners, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func collectNodes(rows pgx.Rows) ([]models.Node, error) {
	defer rows.Close()
	var list []models.Node
	for rows.Next() {
		var n models.Node
		if err := rows.Scan(&n.ID, &n.SphereID, &n.Label, &n.NodeType, &n.Status, &n.Summary,
			&n.Position, &n.Metadata, &n.Links, &n.Owners, &n.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, n)
	}
	return list, rows.Err()
}

func collectEdges(rows pgx.Rows) ([]models.Edge, error) {
	defer rows.Close()
	var list []models.Edge
	for rows.Next() {
		var e models.Edge
		if err := rows.Scan(&e.ID, &e.SphereID, &e.SourceNodeID, &e.TargetNodeID,
			&e.RelationType, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

// CreateNode inserts a node.
func (r *Repository) CreateNode(ctx context.Context, n *models.Node) error {
	const q = `INSERT INTO nodes (sphere_id, label, node_type, status, summary, position, metadata, links, owners)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, n.SphereID, n.Label, n.NodeType, n.Status, n.Summary,
		n.Position, n.Metadata, n.Links, n.Owners).Scan(&n.ID, &n.CreatedAt)
}

// GetNode returns a node by ID together with its organization.
func (r *Repository) GetNode(ctx context.Context, id uuid.UUID) (*models.Node, uuid.UUID, error) {
	const q = `SELECT ` + nodeCols + `, s.organization_id
		FROM nodes n JOIN spheres s ON s.id = n.sphere_id
		WHERE n.id = $1`
	var n models.Node
	var orgID uuid.UUID
	err := r.pool.QueryRow(ctx, q, id).Scan(&n.ID, &n.SphereID, &n.Label, &n.NodeType, &n.Status,
		&n.Summary, &n.Position, &n.Metadata, &n.Links, &n.Owners, &n.CreatedAt, &orgID)
	if err != nil {
		return nil, uuid.Nil, err
	}
	return &n, orgID, nil
}

// UpdateNode persists all mutable node fields.
func (r *Repository) UpdateNode(ctx context.Context, n *models.Node) error {
	const q = `UPDATE nodes SET sphere_id = $2, label = $3, node_type = $4, status = $5,
		summary = $6, position = $7, metadata = $8, links = $9, owners = $10
		WHERE id = $1`
	ct, err := r.pool.Exec(ctx, q, n.ID, n.SphereID, n.Label, n.NodeType, n.Status,
		n.Summary, n.Position, n.Metadata, n.Links, n.Owners)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DeleteNode removes a node. Its edges cascade.
func (r *Repository) DeleteNode(ctx context.Context, id uuid.UUID) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM nodes WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListNodes returns an organization's nodes narrowed by the filter, newest
// first. Empty filter fields are ignored.
func (r *Repository) ListNodes(ctx context.Context, orgID uuid.UUID, f NodeFilter) ([]models.Node, error) {
	const q = `SELECT ` + nodeCols + ` FROM nodes n
		JOIN spheres s ON s.id = n.sphere_id
		WHERE s.organization_id = $1
		  AND ($2::uuid IS NULL OR n.sphere_id = $2)
		  AND ($3::text = '' OR n.node_type = $3)
		  AND ($4::text = '' OR n.status = $4)
		  AND ($5::text = '' OR n.label ILIKE '%' || $5 || '%' OR n.summary ILIKE '%' || $5 || '%')
		ORDER BY n.created_at DESC`
	rows, err := r.pool.Query(ctx, q, orgID, f.SphereID, f.NodeType, f.Status, f.Search)
	if err != nil {
		return nil, err
	}
	return collectNodes(rows)
}

// SearchNodes returns up to limit nodes in the organization whose label or
// summary contains the term, case-insensitively, newest first.
func (r *Repository) SearchNodes(ctx context.Context, orgID uuid.UUID, term string, limit int) ([]models.Node, error) {
	const q = `SELECT ` + nodeCols + ` FROM nodes n
		JOIN spheres s ON s.id = n.sphere_id
		WHERE s.organization_id = $1 AND (n.label ILIKE '%' || $2 || '%' OR n.summary ILIKE '%' || $2 || '%')
		ORDER BY n.created_at DESC LIMIT $3`
	rows, err := r.pool.Query(ctx, q, orgID, term, limit)
	if err != nil {
		return nil, err
	}
	return collectNodes(rows)
}

const edgeCols = `e.id, e.sphere_id, e.source_node_id, e.target_node_id, e.relation_type, e.metadata, e.created_at`

// CreateEdge inserts an edge.
func (r *Repository) CreateEdge(ctx context.Context, e *models.Edge) error {
	const q = `INSERT INTO edges (sphere_id, source_node_id, target_node_id, relation_type, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, e.SphereID, e.SourceNodeID, e.TargetNodeID, e.RelationType, e.Metadata).
		Scan(&e.ID, &e.CreatedAt)
}

// GetEdge returns an edge by ID together with its organization.
func (r *Repository) GetEdge(ctx context.Context, id uuid.UUID) (*models.Edge, uuid.UUID, error) {
	const q = `SELECT ` + edgeCols + `, s.organization_id
		FROM edges e JOIN spheres s ON s.id = e.sphere_id
		WHERE e.id = $1`
	var e models.Edge
	var orgID uuid.UUID
	err := r.pool.QueryRow(ctx, q, id).Scan(&e.ID, &e.SphereID, &e.SourceNodeID, &e.TargetNodeID,
		&e.RelationType, &e.Metadata, &e.CreatedAt, &orgID)
	if err != nil {
		return nil, uuid.Nil, err
	}
	return &e, orgID, nil
}

// DeleteEdge removes an edge.
func (r *Repository) DeleteEdge(ctx context.Context, id uuid.UUID) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM edges WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// UpdateEdge persists mutable edge fields.
func (r *Repository) UpdateEdge(ctx context.Context, e *models.Edge) error {
	const q = `UPDATE edges SET relation_type = $2, metadata = $3 WHERE id = $1`
	ct, err := r.pool.Exec(ctx, q, e.ID, e.RelationType, e.Metadata)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListEdges returns an organization's edges narrowed by the filter, newest
// first. Empty filter fields are ignored.
func (r *Repository) ListEdges(ctx context.Context, orgID uuid.UUID, f EdgeFilter) ([]models.Edge, error) {
	const q = `SELECT ` + edgeCols + ` FROM edges e
		JOIN spheres s ON s.id = e.sphere_id
		WHERE s.organization_id = $1
		  AND ($2::uuid IS NULL OR e.sphere_id = $2)
		  AND ($3::text = '' OR e.relation_type = $3)
		ORDER BY e.created_at DESC`
	rows, err := r.pool.Query(ctx, q, orgID, f.SphereID, f.RelationType)
	if err != nil {
		return nil, err
	}
	return collectEdges(rows)
}

// NodeRefs maps each node ID to its sphere and organization, for endpoint
// and upsert checks.
func (r *Repository) NodeRefs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]NodeRef, error) {
	const q = `SELECT n.id, n.sphere_id, s.organization_id FROM nodes n
		JOIN spheres s ON s.id = n.sphere_id
		WHERE n.id = ANY($1)`
	rows, err := r.pool.Query(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[uuid.UUID]NodeRef, len(ids))
	for rows.Next() {
		var nodeID uuid.UUID
		var ref NodeRef
		if err := rows.Scan(&nodeID, &ref.SphereID, &ref.OrgID); err != nil {
			return nil, err
		}
		out[nodeID] = ref
	}
	return out, rows.Err()
}

// SphereOrg returns the organization a sphere belongs to.
func (r *Repository) SphereOrg(ctx context.Context, sphereID uuid.UUID) (uuid.UUID, error) {
	var orgID uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT organization_id FROM spheres WHERE id = $1`, sphereID).Scan(&orgID)
	return orgID, err
}

// SphereIDsByOrg returns the set of sphere IDs in an organization.
func (r *Repository) SphereIDsByOrg(ctx context.Context, orgID uuid.UUID) (map[uuid.UUID]bool, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM spheres WHERE organization_id = $1`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[uuid.UUID]bool)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// ReplaceGraph applies a bulk import in one transaction: nodes are upserted
// by ID, then every edge in the organization is replaced by the given set.
func (r *Repository) ReplaceGraph(ctx context.Context, orgID uuid.UUID, nodes []models.Node, edges []models.Edge) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// The conflict update only fires for nodes already inside this
	// organization; a collision with another tenant's node updates nothing
	// and fails the import.
	const upsertNode = `INSERT INTO nodes (id, sphere_id, label, node_type, status, summary, position, metadata, links, owners)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			sphere_id = EXCLUDED.sphere_id,
			label = EXCLUDED.label,
			node_type = EXCLUDED.node_type,
			status = EXCLUDED.status,
			summary = EXCLUDED.summary,
			position = EXCLUDED.position,
			metadata = EXCLUDED.metadata,
			links = EXCLUDED.links,
			owners = EXCLUDED.owners
		WHERE nodes.sphere_id IN (SELECT id FROM spheres WHERE organization_id = $11)`
	for i := range nodes {
		n := &nodes[i]
		ct, err := tx.Exec(ctx, upsertNode, n.ID, n.SphereID, n.Label, n.NodeType, n.Status,
			n.Summary, n.Position, n.Metadata, n.Links, n.Owners, orgID)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return apperr.Newf(apperr.KindInvalidReference, "node id %s is not available", n.ID)
		}
	}

	const deleteEdges = `DELETE FROM edges e USING spheres s
		WHERE e.sphere_id = s.id AND s.organization_id = $1`
	if _, err := tx.Exec(ctx, deleteEdges, orgID); err != nil {
		return err
	}

	const insertEdge = `INSERT INTO edges (id, sphere_id, source_node_id, target_node_id, relation_type, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`
	for i := range edges {
		e := &edges[i]
		if _, err := tx.Exec(ctx, insertEdge, e.ID, e.SphereID, e.SourceNodeID, e.TargetNodeID,
			e.RelationType, e.Metadata); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
