package service

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/edu-privacy-api/internal/models"
	appErrors "github.com/noah-isme/edu-privacy-api/pkg/errors"
	"github.com/noah-isme/edu-privacy-api/pkg/storage"
)

func newReportFixture(t *testing.T) (*serviceFixture, *ReportService) {
	t.Helper()
	fx := newFixture()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("report-secret", time.Hour)
	return fx, NewReportService(fx.svc, store, signer, zap.NewNop())
}

func TestReportExportAndDownload(t *testing.T) {
	fx, reports := newReportFixture(t)
	userID := uuid.NewString()
	request := seedRequest(fx, userID, userID, models.DeletionTypeStudentData, models.DeletionStatusCompleted)
	message := "deadlock detected"
	fx.audit.entries = []models.DeletionAuditLog{
		{DeletionRequestID: request.ID, Action: models.AuditActionDelete, TableName: "enrollments", RecordsAffected: 3, Success: true, PerformedAt: time.Now().UTC()},
		{DeletionRequestID: request.ID, Action: models.AuditActionAnonymize, TableName: "certificates", RecordsAffected: 1, Success: false, ErrorMessage: &message, PerformedAt: time.Now().UTC()},
	}

	exported, err := reports.Export(context.Background(), request.ID, ReportFormatCSV)
	require.NoError(t, err)
	assert.Equal(t, request.ID, exported.RequestID)
	assert.NotEmpty(t, exported.Token)

	download, err := reports.ResolveDownload(context.Background(), exported.Token)
	require.NoError(t, err)
	defer download.File.Close()

	content, err := io.ReadAll(download.File)
	require.NoError(t, err)
	assert.Contains(t, string(content), "enrollments")
	assert.Contains(t, string(content), "deadlock detected")
	assert.True(t, strings.HasSuffix(download.Filename, ".csv"))
}

func TestReportExportPDF(t *testing.T) {
	fx, reports := newReportFixture(t)
	userID := uuid.NewString()
	request := seedRequest(fx, userID, userID, models.DeletionTypeFullAccount, models.DeletionStatusFailed)

	exported, err := reports.Export(context.Background(), request.ID, ReportFormatPDF)
	require.NoError(t, err)
	assert.Equal(t, "pdf", exported.Format)
}

func TestReportExportRequiresTerminalState(t *testing.T) {
	fx, reports := newReportFixture(t)
	userID := uuid.NewString()

	for _, status := range []models.DeletionStatus{
		models.DeletionStatusPending,
		models.DeletionStatusApproved,
		models.DeletionStatusProcessing,
	} {
		request := seedRequest(fx, userID, userID, models.DeletionTypeStudentData, status)
		_, err := reports.Export(context.Background(), request.ID, ReportFormatCSV)
		require.Error(t, err, "status %s must not be exportable", status)
		assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
	}
}

func TestReportExportValidation(t *testing.T) {
	_, reports := newReportFixture(t)

	_, err := reports.Export(context.Background(), uuid.NewString(), "xlsx")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestReportDownloadRejectsBadToken(t *testing.T) {
	_, reports := newReportFixture(t)

	_, err := reports.ResolveDownload(context.Background(), "not-a-token")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
