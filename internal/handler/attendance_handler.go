package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-attendance-sync/internal/dto"
	"github.com/noah-isme/sma-attendance-sync/internal/middleware"
	"github.com/noah-isme/sma-attendance-sync/internal/models"
	"github.com/noah-isme/sma-attendance-sync/internal/service"
	appErrors "github.com/noah-isme/sma-attendance-sync/pkg/errors"
	"github.com/noah-isme/sma-attendance-sync/pkg/response"
)

// SkippedHeader carries the number of rows left untouched by the finalize lock.
const SkippedHeader = "X-Attendance-Skipped"

type attendanceService interface {
	ListRangeCached(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, bool, error)
	UpsertBulk(ctx context.Context, rows []models.AttendanceRecord, opts models.UpsertOptions) (*models.UpsertResult, error)
	OverrideFinalized(ctx context.Context, o models.AttendanceOverride) (*models.AttendanceRecord, error)
}

type attendanceExporter interface {
	Export(ctx context.Context, filter models.AttendanceFilter, format string) (*service.ExportFile, error)
}

// AttendanceHandler exposes the reconciliation protocol over HTTP.
type AttendanceHandler struct {
	service  attendanceService
	exporter attendanceExporter
}

// NewAttendanceHandler constructs the handler.
func NewAttendanceHandler(service attendanceService, exporter attendanceExporter) *AttendanceHandler {
	return &AttendanceHandler{service: service, exporter: exporter}
}

// List godoc
// @Summary List attendance records
// @Tags Attendance
// @Produce json
// @Param date_from query string false "From date (YYYY-MM-DD)"
// @Param date_to query string false "To date (YYYY-MM-DD)"
// @Param class_id query string false "Class ID"
// @Param student_id query string false "Student ID"
// @Param subject_id query string false "Subject ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /attendance [get]
func (h *AttendanceHandler) List(c *gin.Context) {
	filter, err := filterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	rows, hit, err := h.service.ListRangeCached(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	meta := middleware.ExtractMeta(c)
	meta["count"] = len(rows)
	response.JSON(c, http.StatusOK, rows, meta)
}

// UpsertBulk godoc
// @Summary Bulk upsert attendance
// @Description Writes rows in one transaction. Rows already finalized by an admin are skipped and listed in the result.
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body dto.UpsertAttendanceRequest true "Attendance rows"
// @Param X-Outbox-Batch-ID header string false "Outbox batch id when replayed by the sync agent"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /attendance/bulk [post]
func (h *AttendanceHandler) UpsertBulk(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.UpsertAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid attendance payload"))
		return
	}
	if req.Finalize && !claims.Role.CanFinalize() {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "only administrators may finalize attendance"))
		return
	}
	result, err := h.service.UpsertBulk(c.Request.Context(), req.Rows, models.UpsertOptions{Finalize: req.Finalize, ActorID: claims.UserID})
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Set(middleware.ContextAuditSummaryKey, gin.H{
		"written":  len(result.Written),
		"skipped":  len(result.Skipped),
		"finalize": req.Finalize,
	})
	c.Header(SkippedHeader, strconv.Itoa(len(result.Skipped)))
	response.JSON(c, http.StatusOK, result)
}

// Override godoc
// @Summary Override a finalized attendance record
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body dto.OverrideAttendanceRequest true "Override"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /attendance/override [post]
func (h *AttendanceHandler) Override(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if !claims.Role.CanOverrideFinalized() {
		response.Error(c, appErrors.ErrForbidden)
		return
	}
	var req dto.OverrideAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid override payload"))
		return
	}
	record, err := h.service.OverrideFinalized(c.Request.Context(), models.AttendanceOverride{
		Key:       models.AttendanceKey{StudentID: req.StudentID, ClassID: req.ClassID, Date: req.Date},
		Status:    models.AttendanceStatus(req.Status),
		Finalized: req.Finalized,
		Reason:    req.Reason,
		ActorID:   claims.UserID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Set(middleware.ContextAuditSummaryKey, gin.H{
		"key":       record.Key().String(),
		"status":    record.Status,
		"finalized": record.FinalizedByAdmin,
		"reason":    req.Reason,
	})
	response.JSON(c, http.StatusOK, record)
}

// Export godoc
// @Summary Export the attendance register
// @Tags Attendance
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf" default(csv)
// @Param date_from query string false "From date (YYYY-MM-DD)"
// @Param date_to query string false "To date (YYYY-MM-DD)"
// @Param class_id query string false "Class ID"
// @Param student_id query string false "Student ID"
// @Param subject_id query string false "Subject ID"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /attendance/export [get]
func (h *AttendanceHandler) Export(c *gin.Context) {
	filter, err := filterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	file, err := h.exporter.Export(c.Request.Context(), filter, c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, file.ContentType, file.Data)
}

func filterFromQuery(c *gin.Context) (models.AttendanceFilter, error) {
	filter := models.AttendanceFilter{
		DateFrom:  c.Query("date_from"),
		DateTo:    c.Query("date_to"),
		ClassID:   c.Query("class_id"),
		StudentID: c.Query("student_id"),
		SubjectID: c.Query("subject_id"),
	}
	for _, raw := range []string{filter.DateFrom, filter.DateTo} {
		if err := validateDateParam(raw); err != nil {
			return filter, err
		}
	}
	return filter, nil
}

func validateDateParam(raw string) error {
	if raw == "" {
		return nil
	}
	if _, err := time.Parse(models.DateLayout, raw); err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "invalid date, expected YYYY-MM-DD")
	}
	return nil
}
