package dto

import "github.com/noah-isme/edu-privacy-api/internal/models"

// CreateDeletionRequest is the intake payload. Requester identity, IP and
// user agent come from the authenticated HTTP layer, not the body.
type CreateDeletionRequest struct {
	TargetUserID string                     `json:"target_user_id" validate:"required,uuid4"`
	RequestType  models.DeletionRequestType `json:"request_type" validate:"required,oneof=STUDENT_DATA PARENT_DATA FULL_ACCOUNT"`
	Reason       string                     `json:"reason" validate:"omitempty,max=2000"`
	IPAddress    string                     `json:"-"`
	UserAgent    string                     `json:"-"`
}

// ReviewAction is the administrator decision on a pending request.
type ReviewAction string

const (
	ReviewActionApprove ReviewAction = "approve"
	ReviewActionReject  ReviewAction = "reject"
)

// ReviewDeletionRequest captures the reviewer decision. RejectionReason is
// mandatory when the action is reject.
type ReviewDeletionRequest struct {
	Action          ReviewAction `json:"action" validate:"required,oneof=approve reject"`
	RejectionReason string       `json:"rejection_reason" validate:"omitempty,max=2000"`
}

// DeletionQuery mirrors supported listing filters.
type DeletionQuery struct {
	Status []models.DeletionStatus
	Limit  int
	Offset int
}

// DeletionRequestDetail pairs a request with its participant profiles and,
// optionally, a live advisory impact. Participants are nil once purged.
type DeletionRequestDetail struct {
	Request   *models.DeletionRequest `json:"request"`
	Requester *models.Profile         `json:"requester,omitempty"`
	Target    *models.Profile         `json:"target,omitempty"`
	Reviewer  *models.Profile         `json:"reviewer,omitempty"`
	Impact    *models.DeletionImpact  `json:"impact,omitempty"`
}

// ExecutionResult is the outcome of running the deletion cascade.
type ExecutionResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ReportExport describes a generated compliance report download.
type ReportExport struct {
	RequestID string `json:"request_id"`
	Format    string `json:"format"`
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}
