package middleware

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-sync/internal/models"
	"github.com/noah-isme/sma-attendance-sync/pkg/middleware/requestid"
)

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Audit records an audit entry after each successful request. Replayed
// outbox writes carry their batch id, which is kept in the entry.
func Audit(repo auditWriter, logger *zap.Logger, action, resource string) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now().UTC()
		c.Next()

		if c.Writer.Status() >= 400 || repo == nil {
			return
		}

		var userID *string
		if claims, ok := c.Get(ContextUserKey); ok {
			if user, ok := claims.(*models.JWTClaims); ok {
				userID = &user.UserID
			}
		}

		values := map[string]interface{}{
			"path":       c.FullPath(),
			"method":     c.Request.Method,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).Milliseconds(),
			"request_id": requestid.Value(c),
		}
		if batchID := c.GetHeader("X-Outbox-Batch-ID"); batchID != "" {
			values["outbox_batch_id"] = batchID
		}
		if summary, ok := c.Get(ContextAuditSummaryKey); ok {
			values["summary"] = summary
		}
		body, _ := json.Marshal(values)

		if err := repo.CreateAuditLog(context.WithoutCancel(c.Request.Context()), &models.AuditLog{
			UserID:    userID,
			Action:    action,
			Resource:  resource,
			NewValues: body,
			IPAddress: c.ClientIP(),
			UserAgent: c.GetHeader("User-Agent"),
		}); err != nil {
			logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
		}
	}
}
