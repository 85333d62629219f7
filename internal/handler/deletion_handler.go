package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/edu-privacy-api/internal/dto"
	"github.com/noah-isme/edu-privacy-api/internal/models"
	appErrors "github.com/noah-isme/edu-privacy-api/pkg/errors"
	"github.com/noah-isme/edu-privacy-api/pkg/response"
)

type deletionLifecycle interface {
	CreateRequest(ctx context.Context, requesterID string, req dto.CreateDeletionRequest) (*models.DeletionRequest, error)
	List(ctx context.Context, query dto.DeletionQuery) ([]models.DeletionRequest, int, error)
	ListForUser(ctx context.Context, userID string) ([]models.DeletionRequest, error)
	GetDetail(ctx context.Context, id string, withImpact bool) (*dto.DeletionRequestDetail, error)
	AuditLogs(ctx context.Context, requestID string) []models.DeletionAuditLog
	Review(ctx context.Context, id, reviewerID string, req dto.ReviewDeletionRequest) (*models.DeletionRequest, error)
	Execute(ctx context.Context, requestID, executorID string) (dto.ExecutionResult, error)
	Cancel(ctx context.Context, id, requesterID string) (bool, error)
	GetImpact(ctx context.Context, targetUserID string) *models.DeletionImpact
	CanRequestDeletion(ctx context.Context, requesterID, targetUserID string) (bool, error)
	Stats(ctx context.Context) models.DeletionStats
}

// DeletionHandler wires the deletion request lifecycle endpoints.
type DeletionHandler struct {
	service deletionLifecycle
}

// NewDeletionHandler creates a new handler.
func NewDeletionHandler(svc deletionLifecycle) *DeletionHandler {
	return &DeletionHandler{service: svc}
}

// Create godoc
// @Summary Submit a deletion request
// @Description File a GDPR deletion request for yourself or a child account you are the guardian of
// @Tags Deletion
// @Accept json
// @Produce json
// @Param payload body dto.CreateDeletionRequest true "Deletion request payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /deletion-requests [post]
func (h *DeletionHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.CreateDeletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid deletion request payload"))
		return
	}
	req.IPAddress = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	request, err := h.service.CreateRequest(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, request)
}

// List godoc
// @Summary List deletion requests
// @Description List deletion requests with optional status filter, newest first
// @Tags Deletion
// @Produce json
// @Param status query string false "Comma-separated status filter"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /deletion-requests [get]
func (h *DeletionHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	query := dto.DeletionQuery{
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	}
	if raw := c.Query("status"); raw != "" {
		for _, status := range strings.Split(raw, ",") {
			trimmed := strings.ToUpper(strings.TrimSpace(status))
			if trimmed != "" {
				query.Status = append(query.Status, models.DeletionStatus(trimmed))
			}
		}
	}

	requests, total, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, requests, &models.Pagination{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
	})
}

// Stats godoc
// @Summary Deletion request statistics
// @Description Aggregated request counts per status
// @Tags Deletion
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /deletion-requests/stats [get]
func (h *DeletionHandler) Stats(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.service.Stats(c.Request.Context()), nil)
}

// Mine godoc
// @Summary List own deletion requests
// @Description Every request where the caller is requester or target
// @Tags Deletion
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /deletion-requests/mine [get]
func (h *DeletionHandler) Mine(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	requests, err := h.service.ListForUser(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, requests, nil)
}

// Get godoc
// @Summary Get one deletion request
// @Description Request detail with participant profiles; pass impact=true for a live impact assessment
// @Tags Deletion
// @Produce json
// @Param id path string true "Request ID"
// @Param impact query bool false "Include live impact assessment"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /deletion-requests/{id} [get]
func (h *DeletionHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	withImpact := c.Query("impact") == "true"
	detail, err := h.service.GetDetail(c.Request.Context(), c.Param("id"), withImpact)
	if err != nil {
		response.Error(c, err)
		return
	}

	// Admins see everything; others only requests they participate in.
	if !isAdmin(claims) && !isParticipant(detail.Request, claims.UserID) {
		response.Error(c, appErrors.ErrPermissionDenied)
		return
	}

	response.JSON(c, http.StatusOK, detail, nil)
}

func isParticipant(request *models.DeletionRequest, userID string) bool {
	if request == nil {
		return false
	}
	if request.RequesterID != nil && *request.RequesterID == userID {
		return true
	}
	return request.TargetUserID != nil && *request.TargetUserID == userID
}

// AuditLogs godoc
// @Summary Audit trail for a deletion request
// @Description Table-level audit entries in execution order
// @Tags Deletion
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /deletion-requests/{id}/audit-logs [get]
func (h *DeletionHandler) AuditLogs(c *gin.Context) {
	entries := h.service.AuditLogs(c.Request.Context(), c.Param("id"))
	response.JSON(c, http.StatusOK, entries, nil)
}

// Review godoc
// @Summary Review a pending deletion request
// @Description Approve or reject; rejection requires a reason
// @Tags Deletion
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.ReviewDeletionRequest true "Review decision"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /deletion-requests/{id}/review [post]
func (h *DeletionHandler) Review(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.ReviewDeletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid review payload"))
		return
	}

	request, err := h.service.Review(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, request, nil)
}

// Execute godoc
// @Summary Execute an approved deletion request
// @Description Runs the deletion cascade; failed requests may be retried
// @Tags Deletion
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /deletion-requests/{id}/execute [post]
func (h *DeletionHandler) Execute(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	result, err := h.service.Execute(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, result, nil)
}

// Cancel godoc
// @Summary Cancel an own pending deletion request
// @Description Only the original requester may cancel, and only while pending
// @Tags Deletion
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /deletion-requests/{id}/cancel [post]
func (h *DeletionHandler) Cancel(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	cancelled, err := h.service.Cancel(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !cancelled {
		response.Error(c, appErrors.Clone(appErrors.ErrInvalidState, "request cannot be cancelled"))
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"cancelled": true}, nil)
}

// Impact godoc
// @Summary Deletion impact assessment
// @Description Advisory count of records a deletion of this user would affect
// @Tags Deletion
// @Produce json
// @Param id path string true "Target user ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /users/{id}/deletion-impact [get]
func (h *DeletionHandler) Impact(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	targetID := c.Param("id")

	if !isAdmin(claims) {
		allowed, err := h.service.CanRequestDeletion(c.Request.Context(), claims.UserID, targetID)
		if err != nil {
			response.Error(c, err)
			return
		}
		if !allowed {
			response.Error(c, appErrors.ErrPermissionDenied)
			return
		}
	}

	response.JSON(c, http.StatusOK, h.service.GetImpact(c.Request.Context(), targetID), nil)
}
