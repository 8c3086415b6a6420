package groups

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/egida/backend/internal/models"
)

// Repository handles group persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a groups repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a group.
func (r *Repository) Create(ctx context.Context, g *models.Group) error {
	const q = `INSERT INTO groups (organization_id, name, description, color)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, g.OrganizationID, g.Name, g.Description, g.Color).
		Scan(&g.ID, &g.CreatedAt)
}

// Get returns a group by ID.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Group, error) {
	const q = `SELECT id, organization_id, name, description, color, created_at
		FROM groups WHERE id = $1`
	var g models.Group
	err := r.pool.QueryRow(ctx, q, id).
		Scan(&g.ID, &g.OrganizationID, &g.Name, &g.Description, &g.Color, &g.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ListByOrg returns all groups in an organization, newest first.
func (r *Repository) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]models.Group, error) {
	const q = `SELECT id, organization_id, name, description, color, created_at
		FROM groups WHERE organization_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Group
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.ID, &g.OrganizationID, &g.Name, &g.Description, &g.Color, &g.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, g)
	}
	return list, rows.Err()
}

// Update changes name, description and color.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, name, description, color string) (*models.Group, error) {
	const q = `UPDATE groups SET name = $2, description = $3, color = $4
		WHERE id = $1
		RETURNING id, organization_id, name, description, color, created_at`
	var g models.Group
	err := r.pool.QueryRow(ctx, q, id, name, description, color).
		Scan(&g.ID, &g.OrganizationID, &g.Name, &g.Description, &g.Color, &g.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// Delete removes a group. Memberships and sphere links cascade.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// AddMember adds an organization member to a group. Idempotent.
func (r *Repository) AddMember(ctx context.Context, groupID, orgID, userID uuid.UUID) error {
	const q = `INSERT INTO group_memberships (group_id, organization_id, user_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_id, user_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, q, groupID, orgID, userID)
	return err
}

// RemoveMember removes a user from a group.
func (r *Repository) RemoveMember(ctx context.Context, groupID, userID uuid.UUID) error {
	const q = `DELETE FROM group_memberships WHERE group_id = $1 AND user_id = $2`
	ct, err := r.pool.Exec(ctx, q, groupID, userID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// GroupMemberInfo is a group membership joined with the user's email.
type GroupMemberInfo struct {
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// ListMembers returns the members of a group.
func (r *Repository) ListMembers(ctx context.Context, groupID uuid.UUID) ([]GroupMemberInfo, error) {
	const q = `SELECT gm.user_id, u.email, gm.created_at
		FROM group_memberships gm
		JOIN users u ON u.id = gm.user_id
		WHERE gm.group_id = $1
		ORDER BY gm.created_at`
	rows, err := r.pool.Query(ctx, q, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []GroupMemberInfo
	for rows.Next() {
		var m GroupMemberInfo
		if err := rows.Scan(&m.UserID, &m.Email, &m.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// ExistingIDs filters ids down to groups that exist in the organization,
// preserving input order.
func (r *Repository) ExistingIDs(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const q = `SELECT id FROM groups WHERE organization_id = $1 AND id = ANY($2)`
	rows, err := r.pool.Query(ctx, q, orgID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	found := make(map[uuid.UUID]bool)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var out []uuid.UUID
	for _, id := range ids {
		if found[id] {
			out = append(out, id)
		}
	}
	return out, nil
}
