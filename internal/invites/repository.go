package invites

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/egida/backend/internal/models"
)

// Repository handles invite persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an invites repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const inviteCols = `id, organization_id, invited_by_id, accepted_by_id, email, role,
	group_ids, token_hash, status, created_at, expires_at, accepted_at`

func scanInvite(row pgx.Row) (*models.OrganizationInvite, error) {
	var inv models.OrganizationInvite
	err := row.Scan(&inv.ID, &inv.OrganizationID, &inv.InvitedByID, &inv.AcceptedByID,
		&inv.Email, &inv.Role, &inv.GroupIDs, &inv.TokenHash, &inv.Status,
		&inv.CreatedAt, &inv.ExpiresAt, &inv.AcceptedAt)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// Create inserts an invite.
func (r *Repository) Create(ctx context.Context, inv *models.OrganizationInvite) error {
	const q = `INSERT INTO organization_invites
		(organization_id, invited_by_id, email, role, group_ids, token_hash, status, expires_at)
		VALUES ($1, $2, LOWER($3), $4, $5, $6, $7, $8)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, inv.OrganizationID, inv.InvitedByID, inv.Email, inv.Role,
		inv.GroupIDs, inv.TokenHash, inv.Status, inv.ExpiresAt).Scan(&inv.ID, &inv.CreatedAt)
}

// Get returns an invite by ID.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.OrganizationInvite, error) {
	const q = `SELECT ` + inviteCols + ` FROM organization_invites WHERE id = $1`
	return scanInvite(r.pool.QueryRow(ctx, q, id))
}

// GetByTokenHash returns an invite by its token digest.
func (r *Repository) GetByTokenHash(ctx context.Context, hash string) (*models.OrganizationInvite, error) {
	const q = `SELECT ` + inviteCols + ` FROM organization_invites WHERE token_hash = $1`
	return scanInvite(r.pool.QueryRow(ctx, q, hash))
}

// ListByOrg returns the organization's invites, newest first.
func (r *Repository) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]models.OrganizationInvite, error) {
	const q = `SELECT ` + inviteCols + ` FROM organization_invites
		WHERE organization_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.OrganizationInvite
	for rows.Next() {
		var inv models.OrganizationInvite
		if err := rows.Scan(&inv.ID, &inv.OrganizationID, &inv.InvitedByID, &inv.AcceptedByID,
			&inv.Email, &inv.Role, &inv.GroupIDs, &inv.TokenHash, &inv.Status,
			&inv.CreatedAt, &inv.ExpiresAt, &inv.AcceptedAt); err != nil {
			return nil, err
		}
		list = append(list, inv)
	}
	return list, rows.Err()
}

// UpdateStatus sets an invite's status.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	const q = `UPDATE organization_invites SET status = $2 WHERE id = $1`
	ct, err := r.pool.Exec(ctx, q, id, status)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Accept applies an invite in one transaction: membership, group
// memberships (groups deleted since the invite was sent are skipped) and
// the invite's terminal state.
func (r *Repository) Accept(ctx context.Context, inv *models.OrganizationInvite, userID uuid.UUID, now time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const addMember = `INSERT INTO organization_members (organization_id, user_id, role)
		VALUES ($1, $2, $3)`
	if _, err := tx.Exec(ctx, addMember, inv.OrganizationID, userID, inv.Role); err != nil {
		return err
	}

	const addGroup = `INSERT INTO group_memberships (group_id, organization_id, user_id)
		SELECT id, organization_id, $3 FROM groups
		WHERE id = $2 AND organization_id = $1
		ON CONFLICT (group_id, user_id) DO NOTHING`
	for _, gid := range inv.GroupIDs {
		if _, err := tx.Exec(ctx, addGroup, inv.OrganizationID, gid, userID); err != nil {
			return err
		}
	}

	const complete = `UPDATE organization_invites
		SET status = $2, accepted_by_id = $3, accepted_at = $4
		WHERE id = $1`
	if _, err := tx.Exec(ctx, complete, inv.ID, models.InviteStatusAccepted, userID, now); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// IsMember reports whether the user already belongs to the organization.
func (r *Repository) IsMember(ctx context.Context, orgID, userID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM organization_members
		WHERE organization_id = $1 AND user_id = $2)`
	var exists bool
	err := r.pool.QueryRow(ctx, q, orgID, userID).Scan(&exists)
	return exists, err
}

// OrgName returns an organization's display name.
func (r *Repository) OrgName(ctx context.Context, orgID uuid.UUID) (string, error) {
	var name string
	err := r.pool.QueryRow(ctx, `SELECT name FROM organizations WHERE id = $1`, orgID).Scan(&name)
	return name, err
}

// ExistingGroups filters ids down to groups of the organization, preserving
// the caller's order.
func (r *Repository) ExistingGroups(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) ([]models.Group, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const q = `SELECT id, name FROM groups WHERE organization_id = $1 AND id = ANY($2)`
	rows, err := r.pool.Query(ctx, q, orgID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	found := make(map[uuid.UUID]string)
	for rows.Next() {
		var id uuid.UUID
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		found[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var out []models.Group
	for _, id := range ids {
		if name, ok := found[id]; ok {
			out = append(out, models.Group{ID: id, OrganizationID: orgID, Name: name})
		}
	}
	return out, nil
}
