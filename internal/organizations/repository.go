package organizations

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/egida/backend/internal/models"
)

// Repository handles organization and membership persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an organizations repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const orgCols = `id, owner_id, name, slug, description, created_at, updated_at`

func scanOrg(row pgx.Row) (*models.Organization, error) {
	var o models.Organization
	err := row.Scan(&o.ID, &o.OwnerID, &o.Name, &o.Slug, &o.Description, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// CreateWithOwner creates an organization and its owner membership in one
// transaction.
func (r *Repository) CreateWithOwner(ctx context.Context, name, slug, description string, ownerID uuid.UUID) (*models.Organization, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	const insertOrg = `INSERT INTO organizations (owner_id, name, slug, description)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + orgCols
	org, err := scanOrg(tx.QueryRow(ctx, insertOrg, ownerID, name, slug, description))
	if err != nil {
		return nil, err
	}

	const insertMember = `INSERT INTO organization_members (organization_id, user_id, role)
		VALUES ($1, $2, $3)`
	if _, err := tx.Exec(ctx, insertMember, org.ID, ownerID, models.OrgRoleOwner); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return org, nil
}

// Get returns an organization by ID.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	const q = `SELECT ` + orgCols + ` FROM organizations WHERE id = $1`
	return scanOrg(r.pool.QueryRow(ctx, q, id))
}

// ListForUser returns organizations the user is a member of, newest first.
func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Organization, error) {
	const q = `SELECT o.id, o.owner_id, o.name, o.slug, o.description, o.created_at, o.updated_at
		FROM organizations o
		JOIN organization_members m ON m.organization_id = o.id
		WHERE m.user_id = $1
		ORDER BY o.created_at DESC`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Organization
	for rows.Next() {
		var o models.Organization
		if err := rows.Scan(&o.ID, &o.OwnerID, &o.Name, &o.Slug, &o.Description, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	return list, rows.Err()
}

// Update updates name and description.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, name, description string) (*models.Organization, error) {
	const q = `UPDATE organizations SET name = $2, description = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + orgCols
	return scanOrg(r.pool.QueryRow(ctx, q, id, name, description))
}

// Delete removes an organization. Members, groups, spheres, nodes and edges
// go with it via FK cascade.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM organizations WHERE id = $1`
	ct, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// GetMembership returns the membership row for a user in an organization.
func (r *Repository) GetMembership(ctx context.Context, orgID, userID uuid.UUID) (*models.OrganizationMember, error) {
	const q = `SELECT id, organization_id, user_id, role, created_at
		FROM organization_members WHERE organization_id = $1 AND user_id = $2`
	var m models.OrganizationMember
	err := r.pool.QueryRow(ctx, q, orgID, userID).
		Scan(&m.ID, &m.OrganizationID, &m.UserID, &m.Role, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// MemberInfo is a membership row joined with the user's email.
type MemberInfo struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// ListMembers returns all members of an organization with their emails.
func (r *Repository) ListMembers(ctx context.Context, orgID uuid.UUID) ([]MemberInfo, error) {
	const q = `SELECT m.id, m.user_id, u.email, m.role, m.created_at
		FROM organization_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.organization_id = $1
		ORDER BY m.created_at DESC`
	rows, err := r.pool.Query(ctx, q, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []MemberInfo
	for rows.Next() {
		var m MemberInfo
		if err := rows.Scan(&m.ID, &m.UserID, &m.Email, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// CountOwners returns the number of owners in an organization.
func (r *Repository) CountOwners(ctx context.Context, orgID uuid.UUID) (int, error) {
	const q = `SELECT COUNT(*) FROM organization_members
		WHERE organization_id = $1 AND role = $2`
	var n int
	err := r.pool.QueryRow(ctx, q, orgID, models.OrgRoleOwner).Scan(&n)
	return n, err
}

// UpdateMemberRole changes a member's role.
func (r *Repository) UpdateMemberRole(ctx context.Context, orgID, userID uuid.UUID, role string) error {
	const q = `UPDATE organization_members SET role = $3
		WHERE organization_id = $1 AND user_id = $2`
	ct, err := r.pool.Exec(ctx, q, orgID, userID, role)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// RemoveMember deletes a membership and the user's group memberships in
// the organization.
func (r *Repository) RemoveMember(ctx context.Context, orgID, userID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM group_memberships WHERE organization_id = $1 AND user_id = $2`,
		orgID, userID); err != nil {
		return err
	}
	ct, err := tx.Exec(ctx,
		`DELETE FROM organization_members WHERE organization_id = $1 AND user_id = $2`,
		orgID, userID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return tx.Commit(ctx)
}
