package service

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/edu-privacy-api/internal/dto"
	"github.com/noah-isme/edu-privacy-api/internal/events"
	"github.com/noah-isme/edu-privacy-api/internal/models"
	"github.com/noah-isme/edu-privacy-api/internal/repository"
	appErrors "github.com/noah-isme/edu-privacy-api/pkg/errors"
	"github.com/noah-isme/edu-privacy-api/pkg/fieldcrypt"
)

type deletionRequestStore interface {
	Create(ctx context.Context, request *models.DeletionRequest) error
	GetByID(ctx context.Context, id string) (*models.DeletionRequest, error)
	HasActiveForTarget(ctx context.Context, targetUserID string) (bool, error)
	List(ctx context.Context, filter models.DeletionRequestFilter) ([]models.DeletionRequest, int, error)
	ListByUser(ctx context.Context, userID string) ([]models.DeletionRequest, error)
	MarkReviewed(ctx context.Context, id string, status models.DeletionStatus, reviewerID string, rejectionReason *string, reviewedAt time.Time) error
	MarkProcessing(ctx context.Context, id string) error
	Finalize(ctx context.Context, id string, status models.DeletionStatus, completedAt time.Time) error
	CountByStatus(ctx context.Context) (map[models.DeletionStatus]int, error)
}

type profileStore interface {
	FindByID(ctx context.Context, id string) (*models.Profile, error)
	ListChildren(ctx context.Context, parentID string) ([]models.Profile, error)
	CountChildren(ctx context.Context, parentID string) (int, error)
	Anonymize(ctx context.Context, id, placeholderEmail string) (int64, error)
	Delete(ctx context.Context, id string) (int64, error)
	RevokeUserRefreshTokens(ctx context.Context, userID string) (int64, error)
}

type userDataStore interface {
	CountEnrollments(ctx context.Context, userID string) (int, error)
	CountCertificates(ctx context.Context, userID string) (int, error)
	CountAttendanceRecords(ctx context.Context, userID string) (int, error)
	CountBatchStudents(ctx context.Context, userID string) (int, error)
	CountComplianceSubmissions(ctx context.Context, userID string) (int, error)
	CountConsentRecords(ctx context.Context, userID string) (int, error)

	DeleteEnrollments(ctx context.Context, userID string) (int64, error)
	AnonymizeCertificates(ctx context.Context, userID string) (int64, error)
	DeleteAttendanceRecords(ctx context.Context, userID string) (int64, error)
	DeleteBatchStudents(ctx context.Context, userID string) (int64, error)
	ListComplianceSubmissionIDs(ctx context.Context, userID string) ([]string, error)
	DeleteComplianceFiles(ctx context.Context, submissionIDs []string) (int64, error)
	DeleteComplianceSubmissions(ctx context.Context, userID string) (int64, error)
	DeleteConsentRecords(ctx context.Context, userID string) (int64, error)
}

type deletionAuditStore interface {
	Create(ctx context.Context, entry *models.DeletionAuditLog) error
	ListByRequest(ctx context.Context, requestID string) ([]models.DeletionAuditLog, error)
}

type deletionCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	InvalidateUser(ctx context.Context, userID string)
}

type deletionMetrics interface {
	ObserveDeletionStep(table string, success bool)
	ObserveDeletionExecution(outcome string)
}

// DeletionServiceConfig tunes lifecycle behaviour.
type DeletionServiceConfig struct {
	ExecutionTimeout time.Duration
	StatsCacheTTL    time.Duration
	ListCacheTTL     time.Duration
	MaxChildCascade  int
}

// DeletionService orchestrates the deletion request lifecycle: intake,
// impact assessment, review gate, execution engine and audit trail.
type DeletionService struct {
	requests  deletionRequestStore
	profiles  profileStore
	data      userDataStore
	audit     deletionAuditStore
	cache     deletionCache
	publisher events.Publisher
	cipher    *fieldcrypt.Cipher
	metrics   deletionMetrics
	validator *validator.Validate
	logger    *zap.Logger
	cfg       DeletionServiceConfig
}

// DeletionServiceOption configures optional collaborators.
type DeletionServiceOption func(*DeletionService)

// WithDeletionCache attaches the deletion view cache.
func WithDeletionCache(cache deletionCache) DeletionServiceOption {
	return func(s *DeletionService) { s.cache = cache }
}

// WithDeletionMetrics attaches execution instrumentation.
func WithDeletionMetrics(metrics deletionMetrics) DeletionServiceOption {
	return func(s *DeletionService) { s.metrics = metrics }
}

// WithFieldCipher sets the cipher used to open encrypted profile fields.
func WithFieldCipher(cipher *fieldcrypt.Cipher) DeletionServiceOption {
	return func(s *DeletionService) { s.cipher = cipher }
}

// NewDeletionService constructs the service.
func NewDeletionService(
	requests deletionRequestStore,
	profiles profileStore,
	data userDataStore,
	audit deletionAuditStore,
	publisher events.Publisher,
	logger *zap.Logger,
	cfg DeletionServiceConfig,
	opts ...DeletionServiceOption,
) *DeletionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if cfg.StatsCacheTTL <= 0 {
		cfg.StatsCacheTTL = time.Minute
	}
	if cfg.ListCacheTTL <= 0 {
		cfg.ListCacheTTL = time.Minute
	}
	svc := &DeletionService{
		requests:  requests,
		profiles:  profiles,
		data:      data,
		audit:     audit,
		publisher: publisher,
		cipher:    fieldcrypt.New(""),
		validator: validator.New(),
		logger:    logger,
		cfg:       cfg,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// CanRequestDeletion implements the permission rule: self-service, or a
// guardian acting for a profile whose parent_id names them. Transitive
// guardianship does not qualify.
func (s *DeletionService) CanRequestDeletion(ctx context.Context, requesterID, targetUserID string) (bool, error) {
	if requesterID == "" || targetUserID == "" {
		return false, nil
	}
	if requesterID == targetUserID {
		return true, nil
	}
	target, err := s.profiles.FindByID(ctx, targetUserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, appErrors.Clone(appErrors.ErrNotFound, "target user not found")
		}
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load target profile")
	}
	return target.ParentID != nil && *target.ParentID == requesterID, nil
}

// CreateRequest performs intake: permission check, single-active-request
// check, pending row insert, cache invalidation.
func (s *DeletionService) CreateRequest(ctx context.Context, requesterID string, req dto.CreateDeletionRequest) (*models.DeletionRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid deletion request payload")
	}

	allowed, err := s.CanRequestDeletion(ctx, requesterID, req.TargetUserID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, appErrors.ErrPermissionDenied
	}

	active, err := s.requests.HasActiveForTarget(ctx, req.TargetUserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check active requests")
	}
	if active {
		return nil, appErrors.ErrDuplicateRequest
	}

	request := &models.DeletionRequest{
		RequesterID:  &requesterID,
		TargetUserID: &req.TargetUserID,
		RequestType:  req.RequestType,
		Status:       models.DeletionStatusPending,
		Reason:       optionalString(req.Reason),
		IPAddress:    optionalString(req.IPAddress),
		UserAgent:    optionalString(req.UserAgent),
	}
	if err := s.requests.Create(ctx, request); err != nil {
		if errors.Is(err, repository.ErrDuplicateActiveRequest) {
			return nil, appErrors.ErrDuplicateRequest
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create deletion request")
	}

	s.invalidate(ctx, req.TargetUserID, requesterID)
	s.logger.Info("deletion request created",
		zap.String("request_id", request.ID),
		zap.String("target_user_id", req.TargetUserID),
		zap.String("request_type", string(req.RequestType)))
	return request, nil
}

// GetImpact computes the advisory blast radius for deleting the target.
// Never fails: any underlying error is logged and an all-zero impact is
// returned, since the figure feeds display, not execution.
func (s *DeletionService) GetImpact(ctx context.Context, targetUserID string) *models.DeletionImpact {
	impact := &models.DeletionImpact{}

	target, err := s.profiles.FindByID(ctx, targetUserID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Error("impact assessment failed to load profile", zap.String("target_user_id", targetUserID), zap.Error(err))
		}
		return impact
	}

	counts := []struct {
		dest *int
		name string
		run  func(context.Context, string) (int, error)
	}{
		{&impact.Enrollments, "enrollments", s.data.CountEnrollments},
		{&impact.Certificates, "certificates", s.data.CountCertificates},
		{&impact.AttendanceRecords, "attendance_records", s.data.CountAttendanceRecords},
		{&impact.BatchStudents, "batch_students", s.data.CountBatchStudents},
		{&impact.ComplianceSubmissions, "compliance_submissions", s.data.CountComplianceSubmissions},
		{&impact.ConsentRecords, "student_consent", s.data.CountConsentRecords},
	}
	for _, c := range counts {
		n, err := c.run(ctx, targetUserID)
		if err != nil {
			s.logger.Error("impact assessment query failed", zap.String("table", c.name), zap.Error(err))
			return &models.DeletionImpact{}
		}
		*c.dest = n
	}

	if target.Role == models.RoleParent {
		n, err := s.profiles.CountChildren(ctx, targetUserID)
		if err != nil {
			s.logger.Error("impact assessment failed to count children", zap.Error(err))
			return &models.DeletionImpact{}
		}
		impact.ChildrenAccounts = n
	}

	// The profile row itself counts as one record; children are included in
	// the total so the requester sees the true blast radius.
	impact.TotalRecords = 1 + impact.Enrollments + impact.Certificates + impact.AttendanceRecords +
		impact.BatchStudents + impact.ComplianceSubmissions + impact.ConsentRecords + impact.ChildrenAccounts
	return impact
}

// Get loads one request.
func (s *DeletionService) Get(ctx context.Context, id string) (*models.DeletionRequest, error) {
	request, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load deletion request")
	}
	return request, nil
}

// GetDetail loads one request together with participant profiles (contact
// fields opened via the field cipher) and, optionally, a live impact.
func (s *DeletionService) GetDetail(ctx context.Context, id string, withImpact bool) (*dto.DeletionRequestDetail, error) {
	request, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &dto.DeletionRequestDetail{Request: request}
	detail.Target = s.loadParticipant(ctx, request.TargetUserID)
	detail.Requester = s.loadParticipant(ctx, request.RequesterID)
	detail.Reviewer = s.loadParticipant(ctx, request.ReviewedBy)
	if withImpact && request.TargetUserID != nil {
		detail.Impact = s.GetImpact(ctx, *request.TargetUserID)
	}
	return detail, nil
}

func (s *DeletionService) loadParticipant(ctx context.Context, id *string) *models.Profile {
	if id == nil {
		return nil
	}
	profile, err := s.profiles.FindByID(ctx, *id)
	if err != nil {
		// Participants may have been purged since; the request outlives them.
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("failed to load participant profile", zap.String("profile_id", *id), zap.Error(err))
		}
		return nil
	}
	s.openProfileFields(profile)
	return profile
}

func (s *DeletionService) openProfileFields(profile *models.Profile) {
	if profile == nil || s.cipher == nil {
		return
	}
	if profile.Phone != nil {
		opened := s.cipher.Open(*profile.Phone)
		profile.Phone = &opened
	}
	if profile.Address != nil {
		opened := s.cipher.Open(*profile.Address)
		profile.Address = &opened
	}
	if profile.GuardianName != nil {
		opened := s.cipher.Open(*profile.GuardianName)
		profile.GuardianName = &opened
	}
}

// List returns requests matching the query plus the total count.
func (s *DeletionService) List(ctx context.Context, query dto.DeletionQuery) ([]models.DeletionRequest, int, error) {
	requests, total, err := s.requests.List(ctx, models.DeletionRequestFilter{
		Status: query.Status,
		Limit:  query.Limit,
		Offset: query.Offset,
	})
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list deletion requests")
	}
	return requests, total, nil
}

// ListForUser returns every request where the user appears as requester or
// target, served from cache when possible.
func (s *DeletionService) ListForUser(ctx context.Context, userID string) ([]models.DeletionRequest, error) {
	if s.cache != nil {
		var cached []models.DeletionRequest
		if err := s.cache.Get(ctx, repository.UserRequestsKey(userID), &cached); err == nil {
			return cached, nil
		}
	}
	requests, err := s.requests.ListByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list user deletion requests")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, repository.UserRequestsKey(userID), requests, s.cfg.ListCacheTTL); err != nil {
			s.logger.Warn("failed to cache user deletion requests", zap.Error(err))
		}
	}
	return requests, nil
}

// Review applies the administrator decision on a pending request. Rejection
// requires a non-empty reason. Approval does not trigger execution; that is
// a separately authorized operation.
func (s *DeletionService) Review(ctx context.Context, id, reviewerID string, req dto.ReviewDeletionRequest) (*models.DeletionRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}

	var status models.DeletionStatus
	var rejectionReason *string
	switch req.Action {
	case dto.ReviewActionApprove:
		status = models.DeletionStatusApproved
	case dto.ReviewActionReject:
		trimmed := strings.TrimSpace(req.RejectionReason)
		if trimmed == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "rejection requires a reason")
		}
		status = models.DeletionStatusRejected
		rejectionReason = &trimmed
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "action must be approve or reject")
	}

	request, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if request.Status != models.DeletionStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "only pending requests can be reviewed")
	}

	now := time.Now().UTC()
	if err := s.requests.MarkReviewed(ctx, id, status, reviewerID, rejectionReason, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "request was reviewed concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update deletion request")
	}

	request.Status = status
	request.ReviewedBy = &reviewerID
	request.ReviewedAt = &now
	request.RejectionReason = rejectionReason

	s.invalidateRequest(ctx, request)
	s.logger.Info("deletion request reviewed",
		zap.String("request_id", id),
		zap.String("reviewer_id", reviewerID),
		zap.String("status", string(status)))
	return request, nil
}

// CancellationReason is the system-generated rejection reason for
// requester-initiated cancellation.
const CancellationReason = "Cancelled by requester"

// Cancel withdraws a pending request. Only the original requester may
// cancel, and only while the request is pending. Cancellation shares the
// rejected terminal state and audit shape with admin rejection.
func (s *DeletionService) Cancel(ctx context.Context, id, requesterID string) (bool, error) {
	request, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load deletion request")
	}
	if request.Status != models.DeletionStatusPending {
		return false, nil
	}
	if request.RequesterID == nil || *request.RequesterID != requesterID {
		return false, nil
	}

	reason := CancellationReason
	if err := s.requests.MarkReviewed(ctx, id, models.DeletionStatusRejected, requesterID, &reason, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel deletion request")
	}

	s.invalidateRequest(ctx, request)
	s.logger.Info("deletion request cancelled", zap.String("request_id", id), zap.String("requester_id", requesterID))
	return true, nil
}

// AuditLogs returns the audit trail for a request. Degrades to an empty
// slice on storage failure; the listing feeds advisory UI.
func (s *DeletionService) AuditLogs(ctx context.Context, requestID string) []models.DeletionAuditLog {
	entries, err := s.audit.ListByRequest(ctx, requestID)
	if err != nil {
		s.logger.Error("failed to list deletion audit logs", zap.String("request_id", requestID), zap.Error(err))
		return []models.DeletionAuditLog{}
	}
	return entries
}

// Stats aggregates request counts by status, cached briefly.
func (s *DeletionService) Stats(ctx context.Context) models.DeletionStats {
	if s.cache != nil {
		var cached models.DeletionStats
		if err := s.cache.Get(ctx, repository.CacheKeyStats, &cached); err == nil {
			return cached
		}
	}

	counts, err := s.requests.CountByStatus(ctx)
	if err != nil {
		s.logger.Error("failed to aggregate deletion stats", zap.Error(err))
		return models.DeletionStats{}
	}
	stats := models.DeletionStats{
		Pending:    counts[models.DeletionStatusPending],
		Approved:   counts[models.DeletionStatusApproved],
		Rejected:   counts[models.DeletionStatusRejected],
		Processing: counts[models.DeletionStatusProcessing],
		Completed:  counts[models.DeletionStatusCompleted],
		Failed:     counts[models.DeletionStatusFailed],
	}
	stats.Total = stats.Pending + stats.Approved + stats.Rejected + stats.Processing + stats.Completed + stats.Failed

	if s.cache != nil {
		if err := s.cache.Set(ctx, repository.CacheKeyStats, stats, s.cfg.StatsCacheTTL); err != nil {
			s.logger.Warn("failed to cache deletion stats", zap.Error(err))
		}
	}
	return stats
}

func (s *DeletionService) invalidateRequest(ctx context.Context, request *models.DeletionRequest) {
	target := ""
	requester := ""
	if request.TargetUserID != nil {
		target = *request.TargetUserID
	}
	if request.RequesterID != nil {
		requester = *request.RequesterID
	}
	s.invalidate(ctx, target, requester)
}

func (s *DeletionService) invalidate(ctx context.Context, userIDs ...string) {
	if s.cache == nil {
		return
	}
	seen := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		s.cache.InvalidateUser(ctx, id)
	}
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// anonymizedEmail derives a non-reversible placeholder address from the
// profile id so the unique email constraint keeps holding after scrubbing.
func anonymizedEmail(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return fmt.Sprintf("deleted-%s@anonymized.invalid", hex.EncodeToString(sum[:6]))
}

func marshalMetadata(v interface{}) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return payload
}
