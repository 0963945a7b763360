package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-sync/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-sync/pkg/errors"
)

func exportFixture() *attendanceRepoStub {
	return &attendanceRepoStub{listRows: []models.AttendanceRecord{
		{StudentID: "s1", ClassID: "c1", Date: "2024-03-01", Status: models.AttendanceStatusPresent, FinalizedByAdmin: true},
		{StudentID: "s2", ClassID: "c1", Date: "2024-03-01", Status: models.AttendanceStatusExcused, Notes: stringPtr("dentist")},
	}}
}

func TestAttendanceExportCSV(t *testing.T) {
	svc := NewAttendanceExportService(newTestReconciler(exportFixture()), zap.NewNop())

	file, err := svc.Export(context.Background(), models.AttendanceFilter{ClassID: "c1", DateFrom: "2024-03-01"}, "")
	require.NoError(t, err)
	assert.Equal(t, "attendance_c1_2024-03-01.csv", file.Filename)
	assert.Equal(t, "text/csv", file.ContentType)
	assert.Equal(t, 2, file.Rows)

	records, err := csv.NewReader(bytes.NewReader(file.Data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, registerHeaders, records[0])
	assert.Equal(t, []string{"2024-03-01", "c1", "s1", "", "present", "true", ""}, records[1])
	assert.Equal(t, "dentist", records[2][6])
}

func TestAttendanceExportPDF(t *testing.T) {
	svc := NewAttendanceExportService(newTestReconciler(exportFixture()), zap.NewNop())

	file, err := svc.Export(context.Background(), models.AttendanceFilter{}, "PDF")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", file.ContentType)
	assert.True(t, bytes.HasPrefix(file.Data, []byte("%PDF")))
}

func TestAttendanceExportRejectsUnknownFormat(t *testing.T) {
	svc := NewAttendanceExportService(newTestReconciler(exportFixture()), zap.NewNop())

	_, err := svc.Export(context.Background(), models.AttendanceFilter{}, "xlsx")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Export(context.Background(), models.AttendanceFilter{DateFrom: "2024-03-05", DateTo: "2024-03-01"}, "csv")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}
