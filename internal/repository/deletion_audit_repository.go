package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/edu-privacy-api/internal/models"
)

// DeletionAuditRepository appends immutable audit rows for execution steps.
// There are deliberately no update or delete methods.
type DeletionAuditRepository struct {
	db *sqlx.DB
}

// NewDeletionAuditRepository constructs the repository.
func NewDeletionAuditRepository(db *sqlx.DB) *DeletionAuditRepository {
	return &DeletionAuditRepository{db: db}
}

// Create appends one audit entry.
func (r *DeletionAuditRepository) Create(ctx context.Context, entry *models.DeletionAuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.PerformedAt.IsZero() {
		entry.PerformedAt = time.Now().UTC()
	}
	const query = `INSERT INTO deletion_audit_logs
        (id, deletion_request_id, action, table_name, records_affected, success, error_message, performed_by, performed_at, metadata)
        VALUES (:id, :deletion_request_id, :action, :table_name, :records_affected, :success, :error_message, :performed_by, :performed_at, :metadata)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("create deletion audit log: %w", err)
	}
	return nil
}

// ListByRequest returns the audit trail for one request in execution order.
func (r *DeletionAuditRepository) ListByRequest(ctx context.Context, requestID string) ([]models.DeletionAuditLog, error) {
	const query = `SELECT id, deletion_request_id, action, table_name, records_affected, success, error_message, performed_by, performed_at, metadata
        FROM deletion_audit_logs WHERE deletion_request_id = $1 ORDER BY performed_at, id`
	var entries []models.DeletionAuditLog
	if err := r.db.SelectContext(ctx, &entries, query, requestID); err != nil {
		return nil, fmt.Errorf("list deletion audit logs: %w", err)
	}
	return entries, nil
}
