// Package audit records organization-scoped activity for later review.
package audit

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/egida/backend/internal/models"
)

// Entry describes one recorded action.
type Entry struct {
	OrganizationID uuid.UUID
	UserID         *uuid.UUID
	EntityType     string
	EntityID       string
	Action         string
	Payload        map[string]any
}

// Recorder records audit entries. Recording is best-effort: implementations
// must not fail the calling operation.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// Repository persists audit entries to Postgres.
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRepository creates an audit repository.
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	return &Repository{pool: pool, logger: logger}
}

// Record inserts an audit entry. Failures are logged, never propagated.
func (r *Repository) Record(ctx context.Context, e Entry) {
	const q = `INSERT INTO audit_logs (organization_id, user_id, entity_type, entity_id, action, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	if _, err := r.pool.Exec(ctx, q, e.OrganizationID, e.UserID, e.EntityType, e.EntityID, e.Action, payload); err != nil {
		r.logger.Warn("audit record failed",
			zap.String("entity_type", e.EntityType),
			zap.String("action", e.Action),
			zap.Error(err),
		)
	}
}

// List returns the most recent entries for an organization, newest first.
func (r *Repository) List(ctx context.Context, orgID uuid.UUID, limit int) ([]models.AuditLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const q = `SELECT id, organization_id, user_id, entity_type, entity_id, action, payload, created_at
		FROM audit_logs WHERE organization_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, q, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.AuditLog
	for rows.Next() {
		var e models.AuditLog
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.UserID, &e.EntityType, &e.EntityID, &e.Action, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}
