package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/edu-privacy-api/internal/models"
)

// ErrDuplicateActiveRequest is returned when the partial unique index on
// active requests rejects an insert.
var ErrDuplicateActiveRequest = errors.New("active deletion request already exists for target")

const uniqueViolationCode = "23505"

// DeletionRequestRepository persists the deletion request lifecycle.
type DeletionRequestRepository struct {
	db *sqlx.DB
}

// NewDeletionRequestRepository constructs the repository.
func NewDeletionRequestRepository(db *sqlx.DB) *DeletionRequestRepository {
	return &DeletionRequestRepository{db: db}
}

const deletionRequestColumns = `id, requester_id, target_user_id, request_type, status, reason, rejection_reason,
       reviewed_by, requested_at, reviewed_at, completed_at, ip_address, user_agent`

// Create inserts a new pending request row. The partial unique index on
// active targets turns concurrent intakes into ErrDuplicateActiveRequest.
func (r *DeletionRequestRepository) Create(ctx context.Context, request *models.DeletionRequest) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.Status == "" {
		request.Status = models.DeletionStatusPending
	}
	if request.RequestedAt.IsZero() {
		request.RequestedAt = time.Now().UTC()
	}
	const query = `INSERT INTO deletion_requests
        (id, requester_id, target_user_id, request_type, status, reason, rejection_reason, reviewed_by, requested_at, reviewed_at, completed_at, ip_address, user_agent)
        VALUES (:id, :requester_id, :target_user_id, :request_type, :status, :reason, :rejection_reason, :reviewed_by, :requested_at, :reviewed_at, :completed_at, :ip_address, :user_agent)`
	if _, err := r.db.NamedExecContext(ctx, query, request); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolationCode {
			return ErrDuplicateActiveRequest
		}
		return fmt.Errorf("create deletion request: %w", err)
	}
	return nil
}

// GetByID fetches a request by identifier.
func (r *DeletionRequestRepository) GetByID(ctx context.Context, id string) (*models.DeletionRequest, error) {
	query := fmt.Sprintf("SELECT %s FROM deletion_requests WHERE id = $1", deletionRequestColumns)
	var request models.DeletionRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// HasActiveForTarget reports whether the target already has a request in an
// active state. Advisory pre-check; the unique index is the real guard.
func (r *DeletionRequestRepository) HasActiveForTarget(ctx context.Context, targetUserID string) (bool, error) {
	const query = `SELECT 1 FROM deletion_requests
        WHERE target_user_id = $1 AND status IN ($2, $3, $4) LIMIT 1`
	var exists int
	err := r.db.GetContext(ctx, &exists, query, targetUserID,
		models.DeletionStatusPending, models.DeletionStatusApproved, models.DeletionStatusProcessing)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check active request: %w", err)
	}
	return true, nil
}

// List returns requests matching the filter, newest first, with total count.
func (r *DeletionRequestRepository) List(ctx context.Context, filter models.DeletionRequestFilter) ([]models.DeletionRequest, int, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	where := ""

	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		where = fmt.Sprintf(" WHERE status IN (%s)", strings.Join(placeholders, ","))
	}

	builder.WriteString(fmt.Sprintf("SELECT %s FROM deletion_requests%s ORDER BY requested_at DESC", deletionRequestColumns, where))

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var requests []models.DeletionRequest
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, 0, fmt.Errorf("list deletion requests: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM deletion_requests" + where
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count deletion requests: %w", err)
	}
	return requests, total, nil
}

// ListByUser returns every request where the user is requester or target.
func (r *DeletionRequestRepository) ListByUser(ctx context.Context, userID string) ([]models.DeletionRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM deletion_requests
        WHERE requester_id = $1 OR target_user_id = $1 ORDER BY requested_at DESC`, deletionRequestColumns)
	var requests []models.DeletionRequest
	if err := r.db.SelectContext(ctx, &requests, query, userID); err != nil {
		return nil, fmt.Errorf("list user deletion requests: %w", err)
	}
	return requests, nil
}

// MarkReviewed transitions PENDING to APPROVED or REJECTED. Returns
// sql.ErrNoRows when the request is not pending anymore.
func (r *DeletionRequestRepository) MarkReviewed(ctx context.Context, id string, status models.DeletionStatus, reviewerID string, rejectionReason *string, reviewedAt time.Time) error {
	query := fmt.Sprintf(`UPDATE deletion_requests
        SET status = $2, reviewed_by = $3, rejection_reason = $4, reviewed_at = $5
        WHERE id = $1 AND status = '%s'`, models.DeletionStatusPending)
	result, err := r.db.ExecContext(ctx, query, id, status, reviewerID, rejectionReason, reviewedAt)
	if err != nil {
		return fmt.Errorf("mark reviewed: %w", err)
	}
	return requireRowsAffected(result)
}

// MarkProcessing transitions APPROVED (or FAILED, for retries) to PROCESSING.
// Returns sql.ErrNoRows when the request is not in an executable state, so
// concurrent executors lose the race cleanly.
func (r *DeletionRequestRepository) MarkProcessing(ctx context.Context, id string) error {
	query := fmt.Sprintf(`UPDATE deletion_requests SET status = '%s'
        WHERE id = $1 AND status IN ('%s', '%s')`,
		models.DeletionStatusProcessing, models.DeletionStatusApproved, models.DeletionStatusFailed)
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	return requireRowsAffected(result)
}

// Finalize records the terminal execution outcome and stamps completed_at.
func (r *DeletionRequestRepository) Finalize(ctx context.Context, id string, status models.DeletionStatus, completedAt time.Time) error {
	query := fmt.Sprintf(`UPDATE deletion_requests SET status = $2, completed_at = $3
        WHERE id = $1 AND status = '%s'`, models.DeletionStatusProcessing)
	result, err := r.db.ExecContext(ctx, query, id, status, completedAt)
	if err != nil {
		return fmt.Errorf("finalize deletion request: %w", err)
	}
	return requireRowsAffected(result)
}

// CountByStatus aggregates request counts per status.
func (r *DeletionRequestRepository) CountByStatus(ctx context.Context) (map[models.DeletionStatus]int, error) {
	rows := []struct {
		Status models.DeletionStatus `db:"status"`
		Count  int                   `db:"count"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, "SELECT status, COUNT(*) AS count FROM deletion_requests GROUP BY status"); err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	counts := make(map[models.DeletionStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func requireRowsAffected(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
