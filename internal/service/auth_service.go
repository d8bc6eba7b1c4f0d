package service

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/univreg/course-allocation-api/internal/models"
	appErrors "github.com/univreg/course-allocation-api/pkg/errors"
)

// AuthConfig defines token validation settings. Tokens are minted by the
// campus identity provider; this service only verifies them.
type AuthConfig struct {
	Secret string
	Issuer string
}

// AuthService validates access tokens issued by the identity provider.
type AuthService struct {
	config AuthConfig
	logger *zap.Logger
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(config AuthConfig, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{config: config, logger: logger}
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.AccessClaims, error) {
	options := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if s.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(s.config.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &models.AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	}, options...)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.AccessClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	if claims.Role != models.RoleAdmin && claims.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "unknown role")
	}
	if claims.Role == models.RoleStudent && claims.StudentKey == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "student token missing subject key")
	}

	return claims, nil
}
