package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edu-privacy-api/internal/dto"
	"github.com/noah-isme/edu-privacy-api/internal/middleware"
	"github.com/noah-isme/edu-privacy-api/internal/models"
	appErrors "github.com/noah-isme/edu-privacy-api/pkg/errors"
)

type fakeDeletionSrv struct {
	created    *models.DeletionRequest
	createErr  error
	reviewed   *models.DeletionRequest
	reviewErr  error
	execResult dto.ExecutionResult
	execErr    error
	cancelled  bool
	cancelErr  error
	detail     *dto.DeletionRequestDetail
	impact     *models.DeletionImpact
	canRequest bool
	stats      models.DeletionStats
	lastCreate struct {
		requesterID string
		req         dto.CreateDeletionRequest
	}
}

func (f *fakeDeletionSrv) CreateRequest(_ context.Context, requesterID string, req dto.CreateDeletionRequest) (*models.DeletionRequest, error) {
	f.lastCreate.requesterID = requesterID
	f.lastCreate.req = req
	return f.created, f.createErr
}

func (f *fakeDeletionSrv) List(context.Context, dto.DeletionQuery) ([]models.DeletionRequest, int, error) {
	return nil, 0, nil
}

func (f *fakeDeletionSrv) ListForUser(context.Context, string) ([]models.DeletionRequest, error) {
	return []models.DeletionRequest{}, nil
}

func (f *fakeDeletionSrv) GetDetail(context.Context, string, bool) (*dto.DeletionRequestDetail, error) {
	if f.detail != nil {
		return f.detail, nil
	}
	return &dto.DeletionRequestDetail{}, nil
}

func (f *fakeDeletionSrv) AuditLogs(context.Context, string) []models.DeletionAuditLog {
	return []models.DeletionAuditLog{}
}

func (f *fakeDeletionSrv) Review(context.Context, string, string, dto.ReviewDeletionRequest) (*models.DeletionRequest, error) {
	return f.reviewed, f.reviewErr
}

func (f *fakeDeletionSrv) Execute(context.Context, string, string) (dto.ExecutionResult, error) {
	return f.execResult, f.execErr
}

func (f *fakeDeletionSrv) Cancel(context.Context, string, string) (bool, error) {
	return f.cancelled, f.cancelErr
}

func (f *fakeDeletionSrv) GetImpact(context.Context, string) *models.DeletionImpact {
	if f.impact != nil {
		return f.impact
	}
	return &models.DeletionImpact{}
}

func (f *fakeDeletionSrv) CanRequestDeletion(context.Context, string, string) (bool, error) {
	return f.canRequest, nil
}

func (f *fakeDeletionSrv) Stats(context.Context) models.DeletionStats {
	return f.stats
}

func testContext(t *testing.T, method, target string, body interface{}, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	c.Request = httptest.NewRequest(method, target, reader)
	c.Request.Header.Set("Content-Type", "application/json")
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, rec
}

func requesterClaims(role models.UserRole) *models.JWTClaims {
	return &models.JWTClaims{UserID: "user-1", Role: role, Email: "user@example.com"}
}

func TestDeletionHandlerCreate(t *testing.T) {
	srv := &fakeDeletionSrv{created: &models.DeletionRequest{ID: "req-1", Status: models.DeletionStatusPending}}
	handler := NewDeletionHandler(srv)

	c, rec := testContext(t, http.MethodPost, "/deletion-requests", dto.CreateDeletionRequest{
		TargetUserID: "5a0ddb6f-26d5-4b34-9ad7-28e9ba2b50a4",
		RequestType:  models.DeletionTypeFullAccount,
	}, requesterClaims(models.RoleParent))

	handler.Create(c)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "user-1", srv.lastCreate.requesterID)
	assert.NotEmpty(t, srv.lastCreate.req.IPAddress)
}

func TestDeletionHandlerCreateUnauthenticated(t *testing.T) {
	handler := NewDeletionHandler(&fakeDeletionSrv{})

	c, rec := testContext(t, http.MethodPost, "/deletion-requests", dto.CreateDeletionRequest{}, nil)
	handler.Create(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDeletionHandlerCreateDuplicate(t *testing.T) {
	srv := &fakeDeletionSrv{createErr: appErrors.ErrDuplicateRequest}
	handler := NewDeletionHandler(srv)

	c, rec := testContext(t, http.MethodPost, "/deletion-requests", dto.CreateDeletionRequest{
		TargetUserID: "5a0ddb6f-26d5-4b34-9ad7-28e9ba2b50a4",
		RequestType:  models.DeletionTypeStudentData,
	}, requesterClaims(models.RoleStudent))

	handler.Create(c)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeletionHandlerReviewBadPayload(t *testing.T) {
	handler := NewDeletionHandler(&fakeDeletionSrv{})

	c, rec := testContext(t, http.MethodPost, "/deletion-requests/req-1/review", nil, requesterClaims(models.RoleAdmin))
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	handler.Review(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeletionHandlerExecuteInvalidState(t *testing.T) {
	srv := &fakeDeletionSrv{execErr: appErrors.ErrInvalidState}
	handler := NewDeletionHandler(srv)

	c, rec := testContext(t, http.MethodPost, "/deletion-requests/req-1/execute", nil, requesterClaims(models.RoleSuperAdmin))
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	handler.Execute(c)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeletionHandlerExecuteReportsOutcome(t *testing.T) {
	srv := &fakeDeletionSrv{execResult: dto.ExecutionResult{Success: false, Error: "failed steps: enrollments"}}
	handler := NewDeletionHandler(srv)

	c, rec := testContext(t, http.MethodPost, "/deletion-requests/req-1/execute", nil, requesterClaims(models.RoleSuperAdmin))
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	handler.Execute(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	var envelope struct {
		Data dto.ExecutionResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.False(t, envelope.Data.Success)
	assert.Contains(t, envelope.Data.Error, "enrollments")
}

func TestDeletionHandlerCancelRefused(t *testing.T) {
	handler := NewDeletionHandler(&fakeDeletionSrv{cancelled: false})

	c, rec := testContext(t, http.MethodPost, "/deletion-requests/req-1/cancel", nil, requesterClaims(models.RoleStudent))
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	handler.Cancel(c)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeletionHandlerGetParticipant(t *testing.T) {
	requester := "user-1"
	srv := &fakeDeletionSrv{detail: &dto.DeletionRequestDetail{
		Request: &models.DeletionRequest{ID: "req-1", RequesterID: &requester},
	}}
	handler := NewDeletionHandler(srv)

	c, rec := testContext(t, http.MethodGet, "/deletion-requests/req-1", nil, requesterClaims(models.RoleStudent))
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	handler.Get(c)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeletionHandlerGetForbiddenForBystander(t *testing.T) {
	other := "someone-else"
	srv := &fakeDeletionSrv{detail: &dto.DeletionRequestDetail{
		Request: &models.DeletionRequest{ID: "req-1", RequesterID: &other, TargetUserID: &other},
	}}
	handler := NewDeletionHandler(srv)

	c, rec := testContext(t, http.MethodGet, "/deletion-requests/req-1", nil, requesterClaims(models.RoleStudent))
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	handler.Get(c)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeletionHandlerImpactForbidden(t *testing.T) {
	handler := NewDeletionHandler(&fakeDeletionSrv{canRequest: false})

	c, rec := testContext(t, http.MethodGet, "/users/u2/deletion-impact", nil, requesterClaims(models.RoleStudent))
	c.Params = gin.Params{{Key: "id", Value: "u2"}}
	handler.Impact(c)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeletionHandlerImpactAdminBypass(t *testing.T) {
	srv := &fakeDeletionSrv{impact: &models.DeletionImpact{TotalRecords: 12}}
	handler := NewDeletionHandler(srv)

	c, rec := testContext(t, http.MethodGet, "/users/u2/deletion-impact", nil, requesterClaims(models.RoleAdmin))
	c.Params = gin.Params{{Key: "id", Value: "u2"}}
	handler.Impact(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	var envelope struct {
		Data models.DeletionImpact `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, 12, envelope.Data.TotalRecords)
}
