package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-attendance-sync/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-sync/pkg/errors"
	"github.com/noah-isme/sma-attendance-sync/pkg/response"
)

const (
	// ContextUserKey is the gin context key storing JWT claims.
	ContextUserKey = "currentUser"
	// ContextAuditSummaryKey lets handlers attach a small summary to the audit entry.
	ContextAuditSummaryKey = "auditSummary"
)

type tokenValidator interface {
	ValidateToken(token string) (*models.JWTClaims, error)
}

// JWT protects routes by requiring a valid access token.
func JWT(auth tokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		authenticate(c, auth, strings.TrimSpace(parts[1]))
	}
}

// JWTQuery is JWT for EventSource clients, which cannot set headers. The
// token is read from the access_token query parameter when no header is sent.
func JWTQuery(auth tokenValidator) gin.HandlerFunc {
	header := JWT(auth)
	return func(c *gin.Context) {
		token := c.Query("access_token")
		if c.GetHeader("Authorization") != "" || token == "" {
			header(c)
			return
		}
		authenticate(c, auth, token)
	}
}

func authenticate(c *gin.Context, auth tokenValidator, token string) {
	claims, err := auth.ValidateToken(token)
	if err != nil {
		response.Error(c, err)
		c.Abort()
		return
	}

	c.Set(ContextUserKey, claims)
	c.Next()
}
