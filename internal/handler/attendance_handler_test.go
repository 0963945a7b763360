package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-attendance-sync/internal/middleware"
	"github.com/noah-isme/sma-attendance-sync/internal/models"
	"github.com/noah-isme/sma-attendance-sync/internal/service"
	appErrors "github.com/noah-isme/sma-attendance-sync/pkg/errors"
)

type attendanceServiceMock struct {
	filter   models.AttendanceFilter
	rows     []models.AttendanceRecord
	opts     models.UpsertOptions
	result   *models.UpsertResult
	override models.AttendanceOverride
	err      error
}

func (m *attendanceServiceMock) ListRangeCached(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, bool, error) {
	m.filter = filter
	return []models.AttendanceRecord{}, true, m.err
}

func (m *attendanceServiceMock) UpsertBulk(ctx context.Context, rows []models.AttendanceRecord, opts models.UpsertOptions) (*models.UpsertResult, error) {
	m.rows = rows
	m.opts = opts
	return m.result, m.err
}

func (m *attendanceServiceMock) OverrideFinalized(ctx context.Context, o models.AttendanceOverride) (*models.AttendanceRecord, error) {
	m.override = o
	if m.err != nil {
		return nil, m.err
	}
	return &models.AttendanceRecord{StudentID: o.Key.StudentID, ClassID: o.Key.ClassID, Date: o.Key.Date, Status: o.Status, FinalizedByAdmin: o.Finalized}, nil
}

type exporterMock struct {
	format string
}

func (m *exporterMock) Export(ctx context.Context, filter models.AttendanceFilter, format string) (*service.ExportFile, error) {
	m.format = format
	return &service.ExportFile{Filename: "attendance_c1.csv", ContentType: "text/csv", Data: []byte("date\n"), Rows: 0}, nil
}

func newTestContext(method, target, body string, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

func teacherClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "teacher-1", Role: models.RoleTeacher}
}

func TestAttendanceHandlerListParsesFilter(t *testing.T) {
	svc := &attendanceServiceMock{}
	h := NewAttendanceHandler(svc, &exporterMock{})
	c, w := newTestContext(http.MethodGet, "/attendance?class_id=c1&date_from=2024-03-01&date_to=2024-03-31&subject_id=math", "", teacherClaims())

	h.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.AttendanceFilter{ClassID: "c1", DateFrom: "2024-03-01", DateTo: "2024-03-31", SubjectID: "math"}, svc.filter)

	var body struct {
		Data []models.AttendanceRecord `json:"data"`
		Meta map[string]interface{}    `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotNil(t, body.Data)
	assert.Equal(t, true, body.Meta["cache_hit"])
	assert.Equal(t, float64(0), body.Meta["count"])
}

func TestAttendanceHandlerListRejectsBadDate(t *testing.T) {
	h := NewAttendanceHandler(&attendanceServiceMock{}, &exporterMock{})
	c, w := newTestContext(http.MethodGet, "/attendance?date_from=03/01/2024", "", teacherClaims())

	h.List(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAttendanceHandlerUpsertBulkReportsSkipped(t *testing.T) {
	svc := &attendanceServiceMock{result: &models.UpsertResult{
		Written: []models.AttendanceRecord{{StudentID: "s1", ClassID: "c1", Date: "2024-03-01", Status: models.AttendanceStatusPresent}},
		Skipped: []models.AttendanceKey{{StudentID: "s2", ClassID: "c1", Date: "2024-03-01"}},
	}}
	h := NewAttendanceHandler(svc, &exporterMock{})
	body := `{"rows":[{"student_id":"s1","class_id":"c1","date":"2024-03-01","status":"present"},{"student_id":"s2","class_id":"c1","date":"2024-03-01","status":"absent"}]}`
	c, w := newTestContext(http.MethodPost, "/attendance/bulk", body, teacherClaims())

	h.UpsertBulk(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get(SkippedHeader))
	assert.Len(t, svc.rows, 2)
	assert.Equal(t, models.UpsertOptions{Finalize: false, ActorID: "teacher-1"}, svc.opts)

	summary, ok := c.Get(middleware.ContextAuditSummaryKey)
	require.True(t, ok)
	assert.Equal(t, gin.H{"written": 1, "skipped": 1, "finalize": false}, summary)
}

func TestAttendanceHandlerFinalizeRequiresPrivilegedRole(t *testing.T) {
	svc := &attendanceServiceMock{result: &models.UpsertResult{}}
	h := NewAttendanceHandler(svc, &exporterMock{})
	body := `{"finalize":true,"rows":[{"student_id":"s1","class_id":"c1","date":"2024-03-01","status":"present"}]}`

	c, w := newTestContext(http.MethodPost, "/attendance/bulk", body, teacherClaims())
	h.UpsertBulk(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Nil(t, svc.rows)

	c, w = newTestContext(http.MethodPost, "/attendance/bulk", body, &models.JWTClaims{UserID: "agent-1", Role: models.RoleService})
	h.UpsertBulk(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Nil(t, svc.rows)

	c, w = newTestContext(http.MethodPost, "/attendance/bulk", body, &models.JWTClaims{UserID: "admin-3", Role: models.RoleAdmin})
	h.UpsertBulk(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, svc.opts.Finalize)
	assert.Equal(t, "admin-3", svc.opts.ActorID)
}

func TestAttendanceHandlerUpsertBulkErrors(t *testing.T) {
	h := NewAttendanceHandler(&attendanceServiceMock{}, &exporterMock{})
	c, w := newTestContext(http.MethodPost, "/attendance/bulk", `{"rows":`, teacherClaims())
	h.UpsertBulk(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newTestContext(http.MethodPost, "/attendance/bulk", `{"rows":[]}`, nil)
	h.UpsertBulk(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	failing := NewAttendanceHandler(&attendanceServiceMock{err: appErrors.Clone(appErrors.ErrInternal, "failed to save attendance")}, &exporterMock{})
	c, w = newTestContext(http.MethodPost, "/attendance/bulk", `{"rows":[]}`, teacherClaims())
	failing.UpsertBulk(c)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAttendanceHandlerOverride(t *testing.T) {
	svc := &attendanceServiceMock{}
	h := NewAttendanceHandler(svc, &exporterMock{})
	body := `{"student_id":"s1","class_id":"c1","date":"2024-03-01","status":"excused","finalized":false,"reason":"medical letter"}`

	c, w := newTestContext(http.MethodPost, "/attendance/override", body, teacherClaims())
	h.Override(c)
	assert.Equal(t, http.StatusForbidden, w.Code)

	c, w = newTestContext(http.MethodPost, "/attendance/override", body, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
	h.Override(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "admin-1", svc.override.ActorID)
	assert.Equal(t, models.AttendanceStatus("excused"), svc.override.Status)
	assert.Equal(t, "medical letter", svc.override.Reason)

	c, w = newTestContext(http.MethodPost, "/attendance/override", `{"student_id":"s1"}`, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
	h.Override(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAttendanceHandlerExport(t *testing.T) {
	exporter := &exporterMock{}
	h := NewAttendanceHandler(&attendanceServiceMock{}, exporter)
	c, w := newTestContext(http.MethodGet, "/attendance/export?format=csv&class_id=c1", "", teacherClaims())

	h.Export(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "csv", exporter.format)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="attendance_c1.csv"`)
	assert.Equal(t, "date\n", w.Body.String())
}
