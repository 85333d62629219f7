package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/edu-privacy-api/internal/dto"
	"github.com/noah-isme/edu-privacy-api/internal/events"
	"github.com/noah-isme/edu-privacy-api/internal/models"
	appErrors "github.com/noah-isme/edu-privacy-api/pkg/errors"
)

// stepOutcome records what one table-level operation did.
type stepOutcome struct {
	Table   string
	Action  models.DeletionAuditAction
	Records int64
	Err     error
}

// deletionStep is one entry of the fixed-order cascade. Steps run in slice
// order because of foreign key dependencies between the tables.
type deletionStep struct {
	table  string
	action models.DeletionAuditAction
	run    func(ctx context.Context, userID string) (int64, error)
}

// Execute runs the deletion cascade for an approved (or failed, on retry)
// request. Preconditions fail fast with an error; once processing starts the
// engine is best-effort and the outcome is reported in the result instead.
func (s *DeletionService) Execute(ctx context.Context, requestID, executorID string) (dto.ExecutionResult, error) {
	request, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return dto.ExecutionResult{}, appErrors.ErrNotFound
		}
		return dto.ExecutionResult{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load deletion request")
	}
	if request.TargetUserID == nil {
		return dto.ExecutionResult{}, appErrors.Clone(appErrors.ErrInvalidState, "request has no target user")
	}

	if err := s.requests.MarkProcessing(ctx, requestID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return dto.ExecutionResult{}, appErrors.Clone(appErrors.ErrInvalidState, "only approved or failed requests can be executed")
		}
		return dto.ExecutionResult{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start deletion execution")
	}

	if s.cfg.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ExecutionTimeout)
		defer cancel()
	}

	targetID := *request.TargetUserID
	hardDelete := request.RequestType == models.DeletionTypeFullAccount

	var failed []string

	// A guardian taking their whole account away takes the dependent child
	// accounts with it. Children are always hard-deleted and go first, so the
	// parent profile row survives until nothing references it.
	if hardDelete {
		failed = append(failed, s.cascadeChildren(ctx, request, targetID, executorID)...)
	}

	failed = append(failed, s.runUserCascade(ctx, request, targetID, hardDelete, executorID)...)

	status := models.DeletionStatusCompleted
	result := dto.ExecutionResult{Success: true}
	if len(failed) > 0 {
		status = models.DeletionStatusFailed
		result.Success = false
		result.Error = fmt.Sprintf("failed steps: %s", strings.Join(failed, ", "))
	}

	if err := s.requests.Finalize(ctx, requestID, status, time.Now().UTC()); err != nil {
		s.logger.Error("failed to finalize deletion request",
			zap.String("request_id", requestID), zap.String("status", string(status)), zap.Error(err))
	}

	if s.metrics != nil {
		s.metrics.ObserveDeletionExecution(string(status))
	}
	s.invalidateRequest(ctx, request)

	s.logger.Info("deletion execution finished",
		zap.String("request_id", requestID),
		zap.String("target_user_id", targetID),
		zap.String("status", string(status)),
		zap.Strings("failed_steps", failed))
	return result, nil
}

// cascadeChildren purges every dependent child account of a guardian before
// the guardian's own cascade, then records one roll-up audit entry.
func (s *DeletionService) cascadeChildren(ctx context.Context, request *models.DeletionRequest, parentID, executorID string) []string {
	parent, err := s.profiles.FindByID(ctx, parentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		s.logger.Error("failed to load parent profile for cascade", zap.String("parent_id", parentID), zap.Error(err))
		return []string{"profiles (children)"}
	}
	if parent.Role != models.RoleParent {
		return nil
	}

	children, err := s.profiles.ListChildren(ctx, parentID)
	if err != nil {
		s.logger.Error("failed to list children for cascade", zap.String("parent_id", parentID), zap.Error(err))
		s.recordAudit(ctx, request, models.AuditActionCascade, "profiles", 0, err, executorID, nil)
		return []string{"profiles (children)"}
	}
	if len(children) == 0 {
		return nil
	}
	if s.cfg.MaxChildCascade > 0 && len(children) > s.cfg.MaxChildCascade {
		err := fmt.Errorf("%d children exceed the cascade limit of %d", len(children), s.cfg.MaxChildCascade)
		s.logger.Error("refusing child cascade", zap.String("parent_id", parentID), zap.Error(err))
		s.recordAudit(ctx, request, models.AuditActionCascade, "profiles", 0, err, executorID, nil)
		return []string{"profiles (children)"}
	}

	var failed []string
	childIDs := make([]string, 0, len(children))
	for _, child := range children {
		childIDs = append(childIDs, child.ID)
		stepFailures := s.runUserCascade(ctx, request, child.ID, true, executorID)
		for _, step := range stepFailures {
			failed = append(failed, fmt.Sprintf("%s (child %s)", step, child.ID))
		}
	}

	var cascadeErr error
	if len(failed) > 0 {
		cascadeErr = fmt.Errorf("%d of %d child cascades incomplete", len(failed), len(children))
	}
	s.recordAudit(ctx, request, models.AuditActionCascade, "profiles", int64(len(children)), cascadeErr, executorID,
		marshalMetadata(map[string]interface{}{"children": childIDs}))
	return failed
}

// runUserCascade removes one user's footprint table by table. Every step is
// attempted regardless of earlier failures; each emits one audit entry.
// Returns the names of failed steps.
func (s *DeletionService) runUserCascade(ctx context.Context, request *models.DeletionRequest, userID string, hardDelete bool, executorID string) []string {
	steps := []deletionStep{
		{table: "compliance_files", action: models.AuditActionDelete, run: s.deleteComplianceFiles},
		{table: "compliance_submissions", action: models.AuditActionDelete, run: s.data.DeleteComplianceSubmissions},
		{table: "attendance_records", action: models.AuditActionDelete, run: s.data.DeleteAttendanceRecords},
		{table: "batch_students", action: models.AuditActionDelete, run: s.data.DeleteBatchStudents},
		// Certificates stay for accreditation audits, stripped of content.
		{table: "certificates", action: models.AuditActionAnonymize, run: s.data.AnonymizeCertificates},
		{table: "enrollments", action: models.AuditActionDelete, run: s.data.DeleteEnrollments},
		{table: "student_consent", action: models.AuditActionDelete, run: s.data.DeleteConsentRecords},
	}
	if hardDelete {
		steps = append(steps, deletionStep{table: "profiles", action: models.AuditActionDelete, run: func(ctx context.Context, id string) (int64, error) {
			return s.deleteProfile(ctx, request, id)
		}})
	} else {
		steps = append(steps, deletionStep{table: "profiles", action: models.AuditActionAnonymize, run: func(ctx context.Context, id string) (int64, error) {
			return s.profiles.Anonymize(ctx, id, anonymizedEmail(id))
		}})
	}

	var failed []string
	for _, step := range steps {
		records, err := step.run(ctx, userID)
		s.recordAudit(ctx, request, step.action, step.table, records, err, executorID, nil)
		if s.metrics != nil {
			s.metrics.ObserveDeletionStep(step.table, err == nil)
		}
		if err != nil {
			failed = append(failed, step.table)
			s.logger.Error("deletion step failed",
				zap.String("request_id", request.ID),
				zap.String("user_id", userID),
				zap.String("table", step.table),
				zap.Error(err))
		}
	}
	return failed
}

// deleteComplianceFiles removes files before the submissions that own them.
func (s *DeletionService) deleteComplianceFiles(ctx context.Context, userID string) (int64, error) {
	submissionIDs, err := s.data.ListComplianceSubmissionIDs(ctx, userID)
	if err != nil {
		return 0, err
	}
	return s.data.DeleteComplianceFiles(ctx, submissionIDs)
}

// deleteProfile hard-deletes the account: row removal, session revocation and
// a published event so connected clients are logged out.
func (s *DeletionService) deleteProfile(ctx context.Context, request *models.DeletionRequest, userID string) (int64, error) {
	records, err := s.profiles.Delete(ctx, userID)
	if err != nil {
		return records, err
	}

	if _, err := s.profiles.RevokeUserRefreshTokens(ctx, userID); err != nil {
		s.logger.Warn("failed to revoke refresh tokens for deleted user", zap.String("user_id", userID), zap.Error(err))
	}
	if err := s.publisher.PublishUserDeleted(ctx, events.UserDeleted{
		UserID:            userID,
		DeletionRequestID: request.ID,
		DeletedAt:         time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("failed to publish user deleted event", zap.String("user_id", userID), zap.Error(err))
	}
	return records, nil
}

// recordAudit appends one audit entry. Audit emission is best-effort: a
// storage failure here is logged, never allowed to fail the step it records.
func (s *DeletionService) recordAudit(ctx context.Context, request *models.DeletionRequest, action models.DeletionAuditAction, table string, records int64, stepErr error, executorID string, metadata []byte) {
	entry := &models.DeletionAuditLog{
		DeletionRequestID: request.ID,
		Action:            action,
		TableName:         table,
		RecordsAffected:   int(records),
		Success:           stepErr == nil,
		Metadata:          metadata,
	}
	if executorID != "" {
		entry.PerformedBy = &executorID
	}
	if stepErr != nil {
		message := stepErr.Error()
		entry.ErrorMessage = &message
	}
	if err := s.audit.Create(ctx, entry); err != nil {
		s.logger.Warn("failed to write deletion audit entry",
			zap.String("request_id", request.ID),
			zap.String("table", table),
			zap.Error(err))
	}
}
