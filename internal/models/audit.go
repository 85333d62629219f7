package models

import "time"

// DeletionAuditAction identifies the kind of table-level effect recorded.
type DeletionAuditAction string

const (
	AuditActionDelete    DeletionAuditAction = "delete"
	AuditActionAnonymize DeletionAuditAction = "anonymize"
	AuditActionCascade   DeletionAuditAction = "cascade"
)

// DeletionAuditLog is one immutable row per table-level operation performed
// during execution. Append-only; created exclusively by the execution engine.
type DeletionAuditLog struct {
	ID                string              `db:"id" json:"id"`
	DeletionRequestID string              `db:"deletion_request_id" json:"deletion_request_id"`
	Action            DeletionAuditAction `db:"action" json:"action"`
	TableName         string              `db:"table_name" json:"table_name"`
	RecordsAffected   int                 `db:"records_affected" json:"records_affected"`
	Success           bool                `db:"success" json:"success"`
	ErrorMessage      *string             `db:"error_message" json:"error_message,omitempty"`
	PerformedBy       *string             `db:"performed_by" json:"performed_by,omitempty"`
	PerformedAt       time.Time           `db:"performed_at" json:"performed_at"`
	Metadata          []byte              `db:"metadata" json:"metadata,omitempty"`
}
