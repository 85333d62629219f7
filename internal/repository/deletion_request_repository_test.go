package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edu-privacy-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func requestColumns() []string {
	return []string{"id", "requester_id", "target_user_id", "request_type", "status", "reason", "rejection_reason",
		"reviewed_by", "requested_at", "reviewed_at", "completed_at", "ip_address", "user_agent"}
}

func TestDeletionRequestRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewDeletionRequestRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO deletion_requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	requester := "user-1"
	target := "user-2"
	request := &models.DeletionRequest{
		RequesterID:  &requester,
		TargetUserID: &target,
		RequestType:  models.DeletionTypeFullAccount,
	}
	require.NoError(t, repo.Create(context.Background(), request))
	require.NotEmpty(t, request.ID)
	require.Equal(t, models.DeletionStatusPending, request.Status)

	rows := sqlmock.NewRows(requestColumns()).
		AddRow(request.ID, requester, target, "FULL_ACCOUNT", "PENDING", nil, nil, nil, time.Now(), nil, nil, nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, requester_id, target_user_id")).
		WithArgs(request.ID).
		WillReturnRows(rows)

	found, err := repo.GetByID(context.Background(), request.ID)
	require.NoError(t, err)
	require.Equal(t, request.ID, found.ID)
	require.Equal(t, models.DeletionTypeFullAccount, found.RequestType)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletionRequestRepositoryCreateDuplicate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewDeletionRequestRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO deletion_requests")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "uniq_deletion_requests_active_target"})

	requester := "user-1"
	err := repo.Create(context.Background(), &models.DeletionRequest{
		RequesterID:  &requester,
		TargetUserID: &requester,
		RequestType:  models.DeletionTypeStudentData,
	})
	require.ErrorIs(t, err, ErrDuplicateActiveRequest)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletionRequestRepositoryHasActiveForTarget(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewDeletionRequestRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM deletion_requests")).
		WithArgs("user-2", "PENDING", "APPROVED", "PROCESSING").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	active, err := repo.HasActiveForTarget(context.Background(), "user-2")
	require.NoError(t, err)
	require.True(t, active)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM deletion_requests")).
		WithArgs("user-3", "PENDING", "APPROVED", "PROCESSING").
		WillReturnError(sql.ErrNoRows)

	active, err = repo.HasActiveForTarget(context.Background(), "user-3")
	require.NoError(t, err)
	require.False(t, active)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletionRequestRepositoryMarkReviewedGuard(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewDeletionRequestRepository(db)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE deletion_requests")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkReviewed(context.Background(), "req-1", models.DeletionStatusApproved, "admin-1", nil, now))

	// Concurrent reviewer already moved the row out of PENDING.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE deletion_requests")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.MarkReviewed(context.Background(), "req-1", models.DeletionStatusRejected, "admin-2", nil, now)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletionRequestRepositoryMarkProcessingGuard(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewDeletionRequestRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE deletion_requests SET status = 'PROCESSING'")).
		WithArgs("req-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkProcessing(context.Background(), "req-1"))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE deletion_requests SET status = 'PROCESSING'")).
		WithArgs("req-2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.MarkProcessing(context.Background(), "req-2")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletionRequestRepositoryFinalize(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewDeletionRequestRepository(db)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE deletion_requests SET status = $2, completed_at = $3")).
		WithArgs("req-1", string(models.DeletionStatusCompleted), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Finalize(context.Background(), "req-1", models.DeletionStatusCompleted, now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletionRequestRepositoryListWithStatusFilter(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewDeletionRequestRepository(db)
	rows := sqlmock.NewRows(requestColumns()).
		AddRow("req-1", "user-1", "user-1", "STUDENT_DATA", "PENDING", nil, nil, nil, time.Now(), nil, nil, nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, requester_id, target_user_id")).
		WithArgs("PENDING").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM deletion_requests")).
		WithArgs("PENDING").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	requests, total, err := repo.List(context.Background(), models.DeletionRequestFilter{
		Status: []models.DeletionStatus{models.DeletionStatusPending},
	})
	require.NoError(t, err)
	require.Len(t, requests, 1)
	require.Equal(t, 1, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletionRequestRepositoryCountByStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewDeletionRequestRepository(db)
	rows := sqlmock.NewRows([]string{"status", "count"}).
		AddRow("PENDING", 2).
		AddRow("COMPLETED", 5)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) AS count FROM deletion_requests GROUP BY status")).
		WillReturnRows(rows)

	counts, err := repo.CountByStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, counts[models.DeletionStatusPending])
	require.Equal(t, 5, counts[models.DeletionStatusCompleted])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletionRequestRepositoryCreateOtherError(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewDeletionRequestRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO deletion_requests")).
		WillReturnError(errors.New("connection reset"))

	requester := "user-1"
	err := repo.Create(context.Background(), &models.DeletionRequest{
		RequesterID:  &requester,
		TargetUserID: &requester,
		RequestType:  models.DeletionTypeStudentData,
	})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrDuplicateActiveRequest)
	require.NoError(t, mock.ExpectationsWereMet())
}
