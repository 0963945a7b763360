package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-sync/internal/models"
	"github.com/noah-isme/sma-attendance-sync/internal/service"
	"github.com/noah-isme/sma-attendance-sync/pkg/middleware/requestid"
)

func newAuth() *service.AuthService {
	return service.NewAuthService(zap.NewNop(), service.AuthConfig{AccessTokenSecret: "secret", AccessTokenExpiry: time.Hour})
}

func TestJWTAndRoles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := newAuth()
	token, _, err := auth.IssueServiceToken("agent-1")
	require.NoError(t, err)

	router := gin.New()
	router.GET("/sync", JWT(auth), RequireRoles(models.RoleService), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	router.GET("/admin", JWT(auth), RequireRoles(models.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	cases := []struct {
		path   string
		header string
		status int
	}{
		{"/sync", "", http.StatusUnauthorized},
		{"/sync", "Token " + token, http.StatusUnauthorized},
		{"/sync", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"/sync", "Bearer " + token, http.StatusNoContent},
		{"/admin", "Bearer " + token, http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, tc.status, rec.Code, "%s %q", tc.path, tc.header)
	}
}

func TestJWTQueryAcceptsAccessTokenParam(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := newAuth()
	token, err := auth.IssueActorToken(models.BatchActor{UserID: "teacher-1", Role: models.RoleTeacher})
	require.NoError(t, err)

	router := gin.New()
	router.GET("/stream", JWTQuery(auth), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	cases := []struct {
		target string
		status int
	}{
		{"/stream", http.StatusUnauthorized},
		{"/stream?access_token=bogus", http.StatusUnauthorized},
		{"/stream?access_token=" + token, http.StatusNoContent},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.target, nil))
		assert.Equal(t, tc.status, rec.Code, tc.target)
	}

	req := httptest.NewRequest(http.MethodGet, "/stream", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

type auditStub struct {
	logs []*models.AuditLog
}

func (s *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	s.logs = append(s.logs, log)
	return nil
}

func TestAuditRecordsSuccessfulRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := &auditStub{}
	router := gin.New()
	router.Use(requestid.Middleware())
	router.POST("/attendance/bulk", func(c *gin.Context) {
		c.Set(ContextUserKey, &models.JWTClaims{UserID: "teacher-1", Role: models.RoleTeacher})
		c.Next()
	}, Audit(repo, zap.NewNop(), models.AuditActionAttendanceBulkUpsert, "attendance"), func(c *gin.Context) {
		c.Set(ContextAuditSummaryKey, map[string]int{"written": 2, "skipped": 1})
		if strings.Contains(c.Query("fail"), "1") {
			c.Status(http.StatusBadRequest)
			return
		}
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/attendance/bulk", nil)
	req.Header.Set("X-Outbox-Batch-ID", "batch-9")
	router.ServeHTTP(httptest.NewRecorder(), req)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/attendance/bulk?fail=1", nil))

	require.Len(t, repo.logs, 1)
	log := repo.logs[0]
	assert.Equal(t, "teacher-1", *log.UserID)
	assert.Equal(t, models.AuditActionAttendanceBulkUpsert, log.Action)

	var values map[string]interface{}
	require.NoError(t, json.Unmarshal(log.NewValues, &values))
	assert.Equal(t, "batch-9", values["outbox_batch_id"])
	assert.NotEmpty(t, values["request_id"])
	assert.Equal(t, map[string]interface{}{"written": float64(2), "skipped": float64(1)}, values["summary"])
}
