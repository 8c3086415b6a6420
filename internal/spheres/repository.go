package spheres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/egida/backend/internal/models"
)

// Repository handles sphere persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a spheres repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const sphereCols = `id, organization_id, name, description, color, center_x, center_y, radius, created_at`

func scanSphere(row pgx.Row) (*models.Sphere, error) {
	var s models.Sphere
	err := row.Scan(&s.ID, &s.OrganizationID, &s.Name, &s.Description, &s.Color,
		&s.CenterX, &s.CenterY, &s.Radius, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a sphere and links its groups in one transaction.
func (r *Repository) Create(ctx context.Context, s *models.Sphere) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const q = `INSERT INTO spheres (organization_id, name, description, color, center_x, center_y, radius)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`
	if err := tx.QueryRow(ctx, q, s.OrganizationID, s.Name, s.Description, s.Color,
		s.CenterX, s.CenterY, s.Radius).Scan(&s.ID, &s.CreatedAt); err != nil {
		return err
	}
	for _, gid := range s.GroupIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO sphere_groups (sphere_id, group_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			s.ID, gid); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// Get returns a sphere with its group links.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Sphere, error) {
	const q = `SELECT ` + sphereCols + ` FROM spheres WHERE id = $1`
	s, err := scanSphere(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, err
	}
	s.GroupIDs, err = r.groupIDs(ctx, s.ID)
	return s, err
}

func (r *Repository) groupIDs(ctx context.Context, sphereID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT group_id FROM sphere_groups WHERE sphere_id = $1 ORDER BY group_id`, sphereID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListByOrg returns all spheres in an organization with group links, newest first.
func (r *Repository) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]models.Sphere, error) {
	const q = `SELECT ` + sphereCols + ` FROM spheres WHERE organization_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Sphere
	for rows.Next() {
		var s models.Sphere
		if err := rows.Scan(&s.ID, &s.OrganizationID, &s.Name, &s.Description, &s.Color,
			&s.CenterX, &s.CenterY, &s.Radius, &s.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range list {
		ids, err := r.groupIDs(ctx, list[i].ID)
		if err != nil {
			return nil, err
		}
		list[i].GroupIDs = ids
	}
	return list, nil
}

// IDsByOrg returns the set of sphere IDs belonging to an organization.
func (r *Repository) IDsByOrg(ctx context.Context, orgID uuid.UUID) (map[uuid.UUID]bool, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM spheres WHERE organization_id = $1`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make(map[uuid.UUID]bool)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// Update changes sphere fields and replaces its group links.
func (r *Repository) Update(ctx context.Context, s *models.Sphere) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const q = `UPDATE spheres SET name = $2, description = $3, color = $4,
		center_x = $5, center_y = $6, radius = $7
		WHERE id = $1`
	ct, err := tx.Exec(ctx, q, s.ID, s.Name, s.Description, s.Color, s.CenterX, s.CenterY, s.Radius)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	if _, err := tx.Exec(ctx, `DELETE FROM sphere_groups WHERE sphere_id = $1`, s.ID); err != nil {
		return err
	}
	for _, gid := range s.GroupIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO sphere_groups (sphere_id, group_id) VALUES ($1, $2)`, s.ID, gid); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// LayoutItem is one entry of a bulk layout update. Geometry is bounded to
// the unit square like the sphere itself.
type LayoutItem struct {
	ID      uuid.UUID `json:"id" binding:"required"`
	CenterX *float64  `json:"center_x" binding:"omitempty,gte=0,lte=1"`
	CenterY *float64  `json:"center_y" binding:"omitempty,gte=0,lte=1"`
	Radius  *float64  `json:"radius" binding:"omitempty,gte=0,lte=1"`
}

// UpdateLayout applies geometry to many spheres of one organization in a
// single transaction. Spheres outside the organization are untouched.
func (r *Repository) UpdateLayout(ctx context.Context, orgID uuid.UUID, items []LayoutItem) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const q = `UPDATE spheres SET
		center_x = COALESCE($3, center_x),
		center_y = COALESCE($4, center_y),
		radius = COALESCE($5, radius)
		WHERE id = $1 AND organization_id = $2`
	for _, it := range items {
		if _, err := tx.Exec(ctx, q, it.ID, orgID, it.CenterX, it.CenterY, it.Radius); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// Delete removes a sphere. Its nodes and edges cascade.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM spheres WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
