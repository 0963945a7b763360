package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-attendance-sync/internal/dto"
	"github.com/noah-isme/sma-attendance-sync/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-sync/pkg/errors"
)

type notificationServiceMock struct {
	alerts  dto.AttendanceAlertRequest
	summary dto.TermSummaryRequest
	sender  string
	err     error
}

func (m *notificationServiceMock) SendAttendanceAlerts(ctx context.Context, req dto.AttendanceAlertRequest, senderID string) (*models.BulkSendResult, error) {
	m.alerts = req
	m.sender = senderID
	if m.err != nil {
		return nil, m.err
	}
	return &models.BulkSendResult{SuccessCount: 3, DuplicateCount: 2}, nil
}

func (m *notificationServiceMock) SendTermSummaries(ctx context.Context, req dto.TermSummaryRequest, senderID string) (*models.BulkSendResult, error) {
	m.summary = req
	m.sender = senderID
	if m.err != nil {
		return nil, m.err
	}
	return &models.BulkSendResult{SuccessCount: 1}, nil
}

func TestNotificationHandlerAttendanceAlerts(t *testing.T) {
	svc := &notificationServiceMock{}
	h := NewNotificationHandler(svc)
	body := `{"candidates":[{"recipient_id":"g1","student_id":"s1","event_date":"2024-03-01","status":"absent"}]}`
	c, w := newTestContext(http.MethodPost, "/notifications/attendance/bulk", body, teacherClaims())

	h.AttendanceAlerts(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "teacher-1", svc.sender)
	require.Len(t, svc.alerts.Candidates, 1)
	assert.Equal(t, "g1", svc.alerts.Candidates[0].RecipientID)

	var envelope struct {
		Data models.BulkSendResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, models.BulkSendResult{SuccessCount: 3, DuplicateCount: 2}, envelope.Data)
}

func TestNotificationHandlerTermSummaries(t *testing.T) {
	svc := &notificationServiceMock{}
	h := NewNotificationHandler(svc)
	body := `{"term":"Ganjil","academic_year":"2024/2025","term_start":"2024-07-15","term_end":"2024-12-20","candidates":[{"recipient_id":"g1","student_id":"s1"}]}`
	c, w := newTestContext(http.MethodPost, "/notifications/term-summary/bulk", body, teacherClaims())

	h.TermSummaries(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Ganjil", svc.summary.Term)
	assert.Equal(t, "2024-12-20", svc.summary.TermEnd)
}

func TestNotificationHandlerErrors(t *testing.T) {
	h := NewNotificationHandler(&notificationServiceMock{err: appErrors.Clone(appErrors.ErrValidation, "event_date is required")})

	c, w := newTestContext(http.MethodPost, "/notifications/attendance/bulk", `{"candidates":[{}]}`, teacherClaims())
	h.AttendanceAlerts(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newTestContext(http.MethodPost, "/notifications/attendance/bulk", `not json`, teacherClaims())
	h.AttendanceAlerts(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newTestContext(http.MethodPost, "/notifications/term-summary/bulk", `{}`, nil)
	h.TermSummaries(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
