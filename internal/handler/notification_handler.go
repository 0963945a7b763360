package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-attendance-sync/internal/dto"
	"github.com/noah-isme/sma-attendance-sync/internal/middleware"
	"github.com/noah-isme/sma-attendance-sync/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-sync/pkg/errors"
	"github.com/noah-isme/sma-attendance-sync/pkg/response"
)

type notificationService interface {
	SendAttendanceAlerts(ctx context.Context, req dto.AttendanceAlertRequest, senderID string) (*models.BulkSendResult, error)
	SendTermSummaries(ctx context.Context, req dto.TermSummaryRequest, senderID string) (*models.BulkSendResult, error)
}

// NotificationHandler exposes the idempotent bulk notification endpoints.
type NotificationHandler struct {
	service notificationService
}

// NewNotificationHandler constructs the handler.
func NewNotificationHandler(service notificationService) *NotificationHandler {
	return &NotificationHandler{service: service}
}

// AttendanceAlerts godoc
// @Summary Send per-day attendance alerts
// @Description Recipients already notified for the same date are skipped and counted as duplicates.
// @Tags Notifications
// @Accept json
// @Produce json
// @Param payload body dto.AttendanceAlertRequest true "Candidates"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /notifications/attendance/bulk [post]
func (h *NotificationHandler) AttendanceAlerts(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.AttendanceAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid notification payload"))
		return
	}
	result, err := h.service.SendAttendanceAlerts(c.Request.Context(), req, claims.UserID)
	h.respond(c, result, err)
}

// TermSummaries godoc
// @Summary Send term attendance summaries
// @Tags Notifications
// @Accept json
// @Produce json
// @Param payload body dto.TermSummaryRequest true "Term and candidates"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /notifications/term-summary/bulk [post]
func (h *NotificationHandler) TermSummaries(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.TermSummaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid notification payload"))
		return
	}
	result, err := h.service.SendTermSummaries(c.Request.Context(), req, claims.UserID)
	h.respond(c, result, err)
}

func (h *NotificationHandler) respond(c *gin.Context, result *models.BulkSendResult, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Set(middleware.ContextAuditSummaryKey, gin.H{
		"sent":      result.SuccessCount,
		"failed":    result.FailCount,
		"duplicate": result.DuplicateCount,
	})
	response.JSON(c, http.StatusOK, result)
}
