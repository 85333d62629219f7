package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/edu-privacy-api/internal/service"
	appErrors "github.com/noah-isme/edu-privacy-api/pkg/errors"
	"github.com/noah-isme/edu-privacy-api/pkg/response"
)

// ReportHandler exposes compliance report export and download endpoints.
type ReportHandler struct {
	service *service.ReportService
}

// NewReportHandler creates a new handler.
func NewReportHandler(svc *service.ReportService) *ReportHandler {
	return &ReportHandler{service: svc}
}

// Export godoc
// @Summary Export a deletion compliance report
// @Description Generate a CSV or PDF report for a finished request and return a signed download token
// @Tags Reports
// @Produce json
// @Param id path string true "Request ID"
// @Param format query string false "Report format (csv or pdf)" default(csv)
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /deletion-requests/{id}/report [post]
func (h *ReportHandler) Export(c *gin.Context) {
	format := service.ReportFormat(strings.ToLower(c.DefaultQuery("format", "csv")))

	exported, err := h.service.Export(c.Request.Context(), c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, exported, nil)
}

// Download godoc
// @Summary Download a compliance report
// @Description Streams the report referenced by a signed token
// @Tags Reports
// @Produce octet-stream
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /reports/download [get]
func (h *ReportHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}

	download, err := h.service.ResolveDownload(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close() //nolint:errcheck

	info, err := download.File.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat report file"))
		return
	}

	contentType := "text/csv"
	if download.Format == service.ReportFormatPDF {
		contentType = "application/pdf"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", download.Filename))
	c.DataFromReader(http.StatusOK, info.Size(), contentType, download.File, nil)
}
