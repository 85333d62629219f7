package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// AnonymizedCertificateData is the marker object that replaces
// certificate_data during execution. Rows are retained for accreditation
// audit trails, stripped of identifying content.
const AnonymizedCertificateData = `{"anonymized": true, "reason": "GDPR deletion request"}`

// UserDataRepository counts and removes rows in the dependent domain tables
// touched by the deletion cascade.
type UserDataRepository struct {
	db *sqlx.DB
}

// NewUserDataRepository constructs the repository.
func NewUserDataRepository(db *sqlx.DB) *UserDataRepository {
	return &UserDataRepository{db: db}
}

func (r *UserDataRepository) count(ctx context.Context, query, userID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, query, userID); err != nil {
		return 0, err
	}
	return count, nil
}

func rowsAffected(result sql.Result) (int64, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return rows, nil
}

// CountEnrollments counts course enrollments for the student.
func (r *UserDataRepository) CountEnrollments(ctx context.Context, userID string) (int, error) {
	return r.count(ctx, "SELECT COUNT(*) FROM enrollments WHERE student_id = $1", userID)
}

// CountCertificates counts issued certificates for the student.
func (r *UserDataRepository) CountCertificates(ctx context.Context, userID string) (int, error) {
	return r.count(ctx, "SELECT COUNT(*) FROM certificates WHERE student_id = $1", userID)
}

// CountAttendanceRecords counts attendance rows for the student.
func (r *UserDataRepository) CountAttendanceRecords(ctx context.Context, userID string) (int, error) {
	return r.count(ctx, "SELECT COUNT(*) FROM attendance_records WHERE student_id = $1", userID)
}

// CountBatchStudents counts batch memberships for the student.
func (r *UserDataRepository) CountBatchStudents(ctx context.Context, userID string) (int, error) {
	return r.count(ctx, "SELECT COUNT(*) FROM batch_students WHERE student_id = $1", userID)
}

// CountComplianceSubmissions counts compliance submissions owned by the user.
func (r *UserDataRepository) CountComplianceSubmissions(ctx context.Context, userID string) (int, error) {
	return r.count(ctx, "SELECT COUNT(*) FROM compliance_submissions WHERE user_id = $1", userID)
}

// CountConsentRecords counts consent rows for the student.
func (r *UserDataRepository) CountConsentRecords(ctx context.Context, userID string) (int, error) {
	return r.count(ctx, "SELECT COUNT(*) FROM student_consent WHERE student_id = $1", userID)
}

// DeleteEnrollments removes all enrollments for the student.
func (r *UserDataRepository) DeleteEnrollments(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM enrollments WHERE student_id = $1", userID)
	if err != nil {
		return 0, fmt.Errorf("delete enrollments: %w", err)
	}
	return rowsAffected(result)
}

// AnonymizeCertificates overwrites certificate payloads with the marker
// object, preserving the rows.
func (r *UserDataRepository) AnonymizeCertificates(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE certificates SET certificate_data = $2 WHERE student_id = $1",
		userID, AnonymizedCertificateData)
	if err != nil {
		return 0, fmt.Errorf("anonymize certificates: %w", err)
	}
	return rowsAffected(result)
}

// DeleteAttendanceRecords removes all attendance rows for the student.
func (r *UserDataRepository) DeleteAttendanceRecords(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM attendance_records WHERE student_id = $1", userID)
	if err != nil {
		return 0, fmt.Errorf("delete attendance records: %w", err)
	}
	return rowsAffected(result)
}

// DeleteBatchStudents removes the student's batch memberships.
func (r *UserDataRepository) DeleteBatchStudents(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM batch_students WHERE student_id = $1", userID)
	if err != nil {
		return 0, fmt.Errorf("delete batch students: %w", err)
	}
	return rowsAffected(result)
}

// ListComplianceSubmissionIDs collects the submission ids owned by the user.
// Files reference submissions, so files must go first.
func (r *UserDataRepository) ListComplianceSubmissionIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, "SELECT id FROM compliance_submissions WHERE user_id = $1", userID); err != nil {
		return nil, fmt.Errorf("list compliance submission ids: %w", err)
	}
	return ids, nil
}

// DeleteComplianceFiles removes files referencing the given submissions.
func (r *UserDataRepository) DeleteComplianceFiles(ctx context.Context, submissionIDs []string) (int64, error) {
	if len(submissionIDs) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In("DELETE FROM compliance_files WHERE submission_id IN (?)", submissionIDs)
	if err != nil {
		return 0, fmt.Errorf("build compliance files query: %w", err)
	}
	result, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("delete compliance files: %w", err)
	}
	return rowsAffected(result)
}

// DeleteComplianceSubmissions removes the user's compliance submissions.
func (r *UserDataRepository) DeleteComplianceSubmissions(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM compliance_submissions WHERE user_id = $1", userID)
	if err != nil {
		return 0, fmt.Errorf("delete compliance submissions: %w", err)
	}
	return rowsAffected(result)
}

// DeleteConsentRecords removes the student's consent rows.
func (r *UserDataRepository) DeleteConsentRecords(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM student_consent WHERE student_id = $1", userID)
	if err != nil {
		return 0, fmt.Errorf("delete consent records: %w", err)
	}
	return rowsAffected(result)
}
