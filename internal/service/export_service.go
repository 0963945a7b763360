package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-sync/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-sync/pkg/errors"
	"github.com/noah-isme/sma-attendance-sync/pkg/export"
	"github.com/noah-isme/sma-attendance-sync/pkg/logger"
)

// Export formats accepted by the register export.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

var registerHeaders = []string{"date", "class_id", "student_id", "subject_id", "status", "finalized", "notes"}

type registerSource interface {
	ListRange(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, error)
}

type datasetRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// ExportFile is a rendered attendance register.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
	Rows        int
}

// AttendanceExportService renders ListRange results as CSV or PDF.
type AttendanceExportService struct {
	source registerSource
	csv    datasetRenderer
	pdf    datasetRenderer
	logger *zap.Logger
}

// NewAttendanceExportService constructs the export service.
func NewAttendanceExportService(source registerSource, logger *zap.Logger) *AttendanceExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttendanceExportService{
		source: source,
		csv:    export.NewCSVExporter(),
		pdf:    export.NewPDFExporter(),
		logger: logger,
	}
}

// Export renders the register for filter in the requested format.
func (s *AttendanceExportService) Export(ctx context.Context, filter models.AttendanceFilter, format string) (*ExportFile, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportFormatCSV
	}
	var (
		renderer    datasetRenderer
		contentType string
	)
	switch format {
	case ExportFormatCSV:
		renderer, contentType = s.csv, export.ContentTypeCSV
	case ExportFormatPDF:
		renderer, contentType = s.pdf, export.ContentTypePDF
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	records, err := s.source.ListRange(ctx, filter)
	if err != nil {
		return nil, err
	}
	dataset := export.Dataset{Title: registerTitle(filter), Headers: registerHeaders, Rows: make([]map[string]string, 0, len(records))}
	for _, r := range records {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"date":       r.Date,
			"class_id":   r.ClassID,
			"student_id": r.StudentID,
			"subject_id": deref(r.SubjectID),
			"status":     string(r.Status),
			"finalized":  strconv.FormatBool(r.FinalizedByAdmin),
			"notes":      deref(r.Notes),
		})
	}
	data, err := renderer.Render(dataset)
	if err != nil {
		logger.FromContext(ctx, s.logger).Error("render attendance register failed", zap.String("format", format), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return &ExportFile{
		Filename:    registerFilename(filter, format),
		ContentType: contentType,
		Data:        data,
		Rows:        len(records),
	}, nil
}

func registerTitle(filter models.AttendanceFilter) string {
	parts := []string{"Attendance register"}
	if filter.ClassID != "" {
		parts = append(parts, "class "+filter.ClassID)
	}
	if filter.DateFrom != "" || filter.DateTo != "" {
		parts = append(parts, fmt.Sprintf("%s to %s", orDash(filter.DateFrom), orDash(filter.DateTo)))
	}
	return strings.Join(parts, " - ")
}

func registerFilename(filter models.AttendanceFilter, format string) string {
	name := "attendance"
	for _, part := range []string{filter.ClassID, filter.DateFrom, filter.DateTo} {
		if part != "" {
			name += "_" + part
		}
	}
	return name + "." + format
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func orDash(value string) string {
	if value == "" {
		return "..."
	}
	return value
}
