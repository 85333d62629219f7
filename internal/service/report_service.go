package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/edu-privacy-api/internal/dto"
	"github.com/noah-isme/edu-privacy-api/internal/models"
	appErrors "github.com/noah-isme/edu-privacy-api/pkg/errors"
	"github.com/noah-isme/edu-privacy-api/pkg/export"
	"github.com/noah-isme/edu-privacy-api/pkg/storage"
)

// ReportFormat selects the export rendering.
type ReportFormat string

const (
	ReportFormatCSV ReportFormat = "csv"
	ReportFormatPDF ReportFormat = "pdf"
)

// ReportDownload aggregates resolved download data.
type ReportDownload struct {
	File      *os.File
	Filename  string
	Format    ReportFormat
	ExpiresAt time.Time
}

// ReportService renders compliance reports for finished deletion requests:
// the request metadata plus its full audit trail, as CSV or PDF, stored on
// disk and handed out through signed download tokens.
type ReportService struct {
	deletions *DeletionService
	csv       *export.CSVExporter
	pdf       *export.PDFExporter
	storage   *storage.LocalStorage
	signer    *storage.SignedURLSigner
	logger    *zap.Logger
}

// NewReportService constructs the report service.
func NewReportService(deletions *DeletionService, store *storage.LocalStorage, signer *storage.SignedURLSigner, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{
		deletions: deletions,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		storage:   store,
		signer:    signer,
		logger:    logger,
	}
}

// Export generates a report for a request in a terminal state and returns a
// signed download token. Generation is synchronous; reports are small.
func (s *ReportService) Export(ctx context.Context, requestID string, format ReportFormat) (*dto.ReportExport, error) {
	if format != ReportFormatCSV && format != ReportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	request, err := s.deletions.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !request.Status.IsTerminal() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "report is only available for finished requests")
	}

	entries := s.deletions.AuditLogs(ctx, requestID)
	dataset := buildReportDataset(entries)

	var payload []byte
	switch format {
	case ReportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case ReportFormatPDF:
		payload, err = s.pdf.Render(dataset, "Deletion Compliance Report", reportPreamble(request)...)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render report")
	}

	relPath := fmt.Sprintf("%s/deletion-report-%s.%s", requestID, time.Now().UTC().Format("20060102T150405Z"), format)
	if _, err := s.storage.Save(relPath, payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store report")
	}

	token, expiresAt, err := s.signer.Generate(requestID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign report url")
	}

	s.logger.Info("deletion report exported",
		zap.String("request_id", requestID),
		zap.String("format", string(format)),
		zap.Int("audit_entries", len(entries)))

	return &dto.ReportExport{
		RequestID: requestID,
		Format:    string(format),
		Token:     token,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	}, nil
}

// ResolveDownload validates a token and opens the stored report file.
func (s *ReportService) ResolveDownload(ctx context.Context, token string) (*ReportDownload, error) {
	requestID, relPath, expiresAt, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}

	// The request must still exist; reports for purged requests are dead links.
	if _, err := s.deletions.Get(ctx, requestID); err != nil {
		return nil, err
	}

	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "report file not found")
	}

	format := ReportFormatCSV
	if strings.HasSuffix(relPath, ".pdf") {
		format = ReportFormatPDF
	}
	return &ReportDownload{
		File:      file,
		Filename:  filepath.Base(relPath),
		Format:    format,
		ExpiresAt: expiresAt,
	}, nil
}

// Cleanup removes stored reports older than the given TTL.
func (s *ReportService) Cleanup(ttl time.Duration) {
	deleted, err := s.storage.CleanupOlderThan(ttl)
	if err != nil {
		s.logger.Warn("report cleanup failed", zap.Error(err))
		return
	}
	if len(deleted) > 0 {
		s.logger.Info("expired reports removed", zap.Int("count", len(deleted)))
	}
}

func buildReportDataset(entries []models.DeletionAuditLog) export.Dataset {
	dataset := export.Dataset{
		Headers: []string{"Performed At", "Action", "Table", "Records", "Success", "Error"},
	}
	for _, entry := range entries {
		errorMessage := ""
		if entry.ErrorMessage != nil {
			errorMessage = *entry.ErrorMessage
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Performed At": entry.PerformedAt.UTC().Format(time.RFC3339),
			"Action":       string(entry.Action),
			"Table":        entry.TableName,
			"Records":      fmt.Sprintf("%d", entry.RecordsAffected),
			"Success":      fmt.Sprintf("%t", entry.Success),
			"Error":        errorMessage,
		})
	}
	return dataset
}

func reportPreamble(request *models.DeletionRequest) []string {
	lines := []string{
		fmt.Sprintf("Request ID: %s", request.ID),
		fmt.Sprintf("Type: %s", request.RequestType),
		fmt.Sprintf("Status: %s", request.Status),
		fmt.Sprintf("Requested: %s", request.RequestedAt.UTC().Format(time.RFC3339)),
	}
	if request.CompletedAt != nil {
		lines = append(lines, fmt.Sprintf("Completed: %s", request.CompletedAt.UTC().Format(time.RFC3339)))
	}
	if request.RejectionReason != nil {
		lines = append(lines, fmt.Sprintf("Rejection reason: %s", *request.RejectionReason))
	}
	return lines
}
