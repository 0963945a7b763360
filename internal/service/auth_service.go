package service

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-sync/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-sync/pkg/errors"
)

// AuthConfig defines token settings shared by the gateway and the sync agent.
type AuthConfig struct {
	AccessTokenSecret string
	AccessTokenExpiry time.Duration
	Issuer            string
	Audience          []string
}

// AuthService validates bearer tokens and mints service tokens for the sync agent.
// User login lives in the main school API; this service only trusts its tokens.
type AuthService struct {
	logger *zap.Logger
	config AuthConfig
	now    func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.AccessTokenExpiry <= 0 {
		config.AccessTokenExpiry = time.Hour
	}
	return &AuthService{logger: logger, config: config, now: func() time.Time { return time.Now().UTC() }}
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	opts := []jwt.ParserOption{jwt.WithTimeFunc(s.now)}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.AccessTokenSecret), nil
	}, opts...)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}

	return claims, nil
}

// IssueServiceToken signs a SERVICE token for a sync agent identified by agentID.
func (s *AuthService) IssueServiceToken(agentID string) (string, time.Time, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return "", time.Time{}, appErrors.Clone(appErrors.ErrValidation, "agent id is required")
	}
	signed, expiresAt, err := s.sign(agentID, models.RoleService, "sync agent "+agentID, s.config.AccessTokenExpiry)
	if err != nil {
		return "", time.Time{}, err
	}
	s.logger.Debug("service token issued", zap.String("agent_id", agentID), zap.Time("expires_at", expiresAt))
	return signed, expiresAt, nil
}

// IssueActorToken signs a short-lived token for the dashboard user who queued a
// batch, so the replay is authorised and attributed as that user.
func (s *AuthService) IssueActorToken(actor models.BatchActor) (string, error) {
	if strings.TrimSpace(actor.UserID) == "" || actor.Role == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, "batch actor is incomplete")
	}
	signed, _, err := s.sign(actor.UserID, actor.Role, "", actorTokenExpiry)
	return signed, err
}

const actorTokenExpiry = 5 * time.Minute

func (s *AuthService) sign(subject string, role models.UserRole, fullName string, ttl time.Duration) (string, time.Time, error) {
	if s.config.AccessTokenSecret == "" {
		return "", time.Time{}, appErrors.Clone(appErrors.ErrInternal, "token secret is not configured")
	}
	issuedAt := s.now()
	expiresAt := issuedAt.Add(ttl)
	claims := &models.JWTClaims{
		UserID:   subject,
		Role:     role,
		FullName: fullName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   subject,
			Audience:  s.config.Audience,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.AccessTokenSecret))
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign token")
	}
	return signed, expiresAt, nil
}

// ServiceTokenSource returns a function yielding a valid service token for
// agentID, reissuing it a minute before expiry.
func (s *AuthService) ServiceTokenSource(agentID string) func() (string, error) {
	var (
		mu      sync.Mutex
		token   string
		expires time.Time
	)
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if token != "" && s.now().Add(time.Minute).Before(expires) {
			return token, nil
		}
		issued, exp, err := s.IssueServiceToken(agentID)
		if err != nil {
			return "", err
		}
		token, expires = issued, exp
		return token, nil
	}
}
