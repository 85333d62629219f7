package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edu-privacy-api/internal/models"
)

func profileRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "email", "password_hash", "full_name", "role", "parent_id",
		"phone", "address", "guardian_name", "active", "last_login", "created_at", "updated_at"})
}

func TestProfileRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewProfileRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, email, password_hash")).
		WithArgs("user-1").
		WillReturnRows(profileRows().
			AddRow("user-1", "student@school.test", "hash", "Jane Doe", "STUDENT", "parent-1", nil, nil, nil, true, nil, time.Now(), time.Now()))

	profile, err := repo.FindByID(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, models.RoleStudent, profile.Role)
	require.NotNil(t, profile.ParentID)
	require.Equal(t, "parent-1", *profile.ParentID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileRepositoryListChildren(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewProfileRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("FROM profiles WHERE parent_id = $1")).
		WithArgs("parent-1").
		WillReturnRows(profileRows().
			AddRow("child-1", "c1@school.test", "hash", "Child One", "STUDENT", "parent-1", nil, nil, nil, true, nil, time.Now(), time.Now()).
			AddRow("child-2", "c2@school.test", "hash", "Child Two", "STUDENT", "parent-1", nil, nil, nil, true, nil, time.Now(), time.Now()))

	children, err := repo.ListChildren(context.Background(), "parent-1")
	require.NoError(t, err)
	require.Len(t, children, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileRepositoryAnonymize(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewProfileRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE profiles")).
		WithArgs("user-1", models.AnonymizedFullName, "deleted-abc@anonymized.invalid", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rows, err := repo.Anonymize(context.Background(), "user-1", "deleted-abc@anonymized.invalid")
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewProfileRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM profiles WHERE id = $1")).
		WithArgs("user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rows, err := repo.Delete(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileRepositoryRevokeUserRefreshTokens(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewProfileRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked = true")).
		WithArgs("user-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	rows, err := repo.RevokeUserRefreshTokens(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(3), rows)
	require.NoError(t, mock.ExpectationsWereMet())
}
