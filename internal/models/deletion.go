package models

import "time"

// DeletionRequestType selects the deletion strategy for the target profile.
type DeletionRequestType string

const (
	DeletionTypeStudentData DeletionRequestType = "STUDENT_DATA"
	DeletionTypeParentData  DeletionRequestType = "PARENT_DATA"
	DeletionTypeFullAccount DeletionRequestType = "FULL_ACCOUNT"
)

// DeletionStatus captures the request lifecycle state machine:
// PENDING -> {APPROVED, REJECTED}; APPROVED -> PROCESSING -> {COMPLETED, FAILED}.
type DeletionStatus string

const (
	DeletionStatusPending    DeletionStatus = "PENDING"
	DeletionStatusApproved   DeletionStatus = "APPROVED"
	DeletionStatusRejected   DeletionStatus = "REJECTED"
	DeletionStatusProcessing DeletionStatus = "PROCESSING"
	DeletionStatusCompleted  DeletionStatus = "COMPLETED"
	DeletionStatusFailed     DeletionStatus = "FAILED"
)

// ActiveDeletionStatuses are the states that block a second intake for the
// same target.
var ActiveDeletionStatuses = []DeletionStatus{
	DeletionStatusPending,
	DeletionStatusApproved,
	DeletionStatusProcessing,
}

// IsTerminal reports whether no further transitions are permitted.
func (s DeletionStatus) IsTerminal() bool {
	return s == DeletionStatusRejected || s == DeletionStatusCompleted || s == DeletionStatusFailed
}

// DeletionRequest tracks one erasure demand from intake to completion. The
// row outlives both actors: requester and target become null if those
// accounts are later purged, the request itself is retained indefinitely as
// a compliance artifact.
type DeletionRequest struct {
	ID              string              `db:"id" json:"id"`
	RequesterID     *string             `db:"requester_id" json:"requester_id,omitempty"`
	TargetUserID    *string             `db:"target_user_id" json:"target_user_id,omitempty"`
	RequestType     DeletionRequestType `db:"request_type" json:"request_type"`
	Status          DeletionStatus      `db:"status" json:"status"`
	Reason          *string             `db:"reason" json:"reason,omitempty"`
	RejectionReason *string             `db:"rejection_reason" json:"rejection_reason,omitempty"`
	ReviewedBy      *string             `db:"reviewed_by" json:"reviewed_by,omitempty"`
	RequestedAt     time.Time           `db:"requested_at" json:"requested_at"`
	ReviewedAt      *time.Time          `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CompletedAt     *time.Time          `db:"completed_at" json:"completed_at,omitempty"`
	IPAddress       *string             `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent       *string             `db:"user_agent" json:"user_agent,omitempty"`
}

// DeletionRequestFilter constrains listing queries.
type DeletionRequestFilter struct {
	Status []DeletionStatus
	Limit  int
	Offset int
}

// DeletionImpact is a point-in-time advisory count of rows a deletion would
// affect. Never persisted or cached; recomputed on every request.
type DeletionImpact struct {
	Enrollments           int `json:"enrollments"`
	Certificates          int `json:"certificates"`
	AttendanceRecords     int `json:"attendance_records"`
	BatchStudents         int `json:"batch_students"`
	ComplianceSubmissions int `json:"compliance_submissions"`
	ConsentRecords        int `json:"consent_records"`
	ChildrenAccounts      int `json:"children_accounts"`
	TotalRecords          int `json:"total_records"`
}

// DeletionStats aggregates request counts by status.
type DeletionStats struct {
	Pending    int `json:"pending"`
	Approved   int `json:"approved"`
	Rejected   int `json:"rejected"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}
