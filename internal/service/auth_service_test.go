package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-sync/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-sync/pkg/errors"
)

func newTestAuthService() *AuthService {
	return NewAuthService(zap.NewNop(), AuthConfig{
		AccessTokenSecret: "secret",
		AccessTokenExpiry: time.Hour,
		Issuer:            "sma-attendance-sync",
	})
}

func TestAuthServiceIssueAndValidateServiceToken(t *testing.T) {
	svc := newTestAuthService()

	token, expiresAt, err := svc.IssueServiceToken("agent-lab-1")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "agent-lab-1", claims.UserID)
	assert.Equal(t, models.RoleService, claims.Role)
	assert.Equal(t, "sma-attendance-sync", claims.Issuer)
}

func TestAuthServiceValidateTokenRejectsWrongSecret(t *testing.T) {
	other := NewAuthService(zap.NewNop(), AuthConfig{AccessTokenSecret: "other", Issuer: "sma-attendance-sync"})
	token, _, err := other.IssueServiceToken("agent")
	require.NoError(t, err)

	_, err = newTestAuthService().ValidateToken(token)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErr.Code)
}

func TestAuthServiceValidateTokenRejectsExpired(t *testing.T) {
	svc := newTestAuthService()
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := svc.IssueServiceToken("agent")
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now() }
	_, err = svc.ValidateToken(token)
	require.Error(t, err)
}

func TestAuthServiceValidateTokenFallsBackToSubject(t *testing.T) {
	claims := &models.JWTClaims{
		Role: models.RoleTeacher,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "sma-attendance-sync",
			Subject:   "teacher-7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	got, err := newTestAuthService().ValidateToken(signed)
	require.NoError(t, err)
	assert.Equal(t, "teacher-7", got.UserID)
}

func TestAuthServiceIssueServiceTokenRequiresAgent(t *testing.T) {
	_, _, err := newTestAuthService().IssueServiceToken("  ")
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestAuthServiceServiceTokenSourceReissuesNearExpiry(t *testing.T) {
	svc := newTestAuthService()
	base := time.Now().UTC()
	svc.now = func() time.Time { return base }
	source := svc.ServiceTokenSource("agent-lab-1")

	first, err := source()
	require.NoError(t, err)
	again, err := source()
	require.NoError(t, err)
	assert.Equal(t, first, again)

	svc.now = func() time.Time { return base.Add(59*time.Minute + 30*time.Second) }
	renewed, err := source()
	require.NoError(t, err)
	assert.NotEqual(t, first, renewed)
}

func TestAuthServiceIssueActorToken(t *testing.T) {
	svc := newTestAuthService()

	token, err := svc.IssueActorToken(models.BatchActor{UserID: "admin-3", Role: models.RoleAdmin})
	require.NoError(t, err)
	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin-3", claims.UserID)
	assert.Equal(t, models.RoleAdmin, claims.Role)
	assert.True(t, claims.Role.CanFinalize())
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), claims.ExpiresAt.Time, time.Minute)

	_, err = svc.IssueActorToken(models.BatchActor{UserID: "teacher-1"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestServiceRoleCannotFinalize(t *testing.T) {
	assert.False(t, models.RoleService.CanFinalize())
	assert.False(t, models.RoleTeacher.CanFinalize())
	assert.True(t, models.RoleSuperAdmin.CanFinalize())
}

