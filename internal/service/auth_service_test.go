package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/univreg/course-allocation-api/internal/models"
)

const testSecret = "test-secret"

func mintToken(t *testing.T, secret string, claims *models.AccessClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func studentClaims(key string) *models.AccessClaims {
	return &models.AccessClaims{
		Role:       models.RoleStudent,
		StudentKey: key,
		FullName:   "Alice Liddell",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "registrar",
			Subject:   key,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func TestValidateTokenAcceptsValidStudentToken(t *testing.T) {
	svc := NewAuthService(AuthConfig{Secret: testSecret, Issuer: "registrar"}, nil)

	claims, err := svc.ValidateToken(mintToken(t, testSecret, studentClaims("s-1")))
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, claims.Role)
	assert.Equal(t, "s-1", claims.StudentKey)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	svc := NewAuthService(AuthConfig{Secret: testSecret, Issuer: "registrar"}, nil)

	_, err := svc.ValidateToken(mintToken(t, "other-secret", studentClaims("s-1")))
	require.Error(t, err)
}

func TestValidateTokenRejectsWrongIssuer(t *testing.T) {
	svc := NewAuthService(AuthConfig{Secret: testSecret, Issuer: "registrar"}, nil)

	claims := studentClaims("s-1")
	claims.Issuer = "someone-else"
	_, err := svc.ValidateToken(mintToken(t, testSecret, claims))
	require.Error(t, err)
}

func TestValidateTokenRejectsExpiredToken(t *testing.T) {
	svc := NewAuthService(AuthConfig{Secret: testSecret, Issuer: "registrar"}, nil)

	claims := studentClaims("s-1")
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	_, err := svc.ValidateToken(mintToken(t, testSecret, claims))
	require.Error(t, err)
}

func TestValidateTokenRejectsMissingExpiry(t *testing.T) {
	svc := NewAuthService(AuthConfig{Secret: testSecret, Issuer: "registrar"}, nil)

	claims := studentClaims("s-1")
	claims.ExpiresAt = nil
	_, err := svc.ValidateToken(mintToken(t, testSecret, claims))
	require.Error(t, err)
}

func TestValidateTokenRejectsUnknownRole(t *testing.T) {
	svc := NewAuthService(AuthConfig{Secret: testSecret, Issuer: "registrar"}, nil)

	claims := studentClaims("s-1")
	claims.Role = models.UserRole("JANITOR")
	_, err := svc.ValidateToken(mintToken(t, testSecret, claims))
	require.Error(t, err)
}

func TestValidateTokenRejectsStudentWithoutKey(t *testing.T) {
	svc := NewAuthService(AuthConfig{Secret: testSecret, Issuer: "registrar"}, nil)

	claims := studentClaims("")
	_, err := svc.ValidateToken(mintToken(t, testSecret, claims))
	require.Error(t, err)
}

func TestValidateTokenRejectsWrongAlgorithm(t *testing.T) {
	svc := NewAuthService(AuthConfig{Secret: testSecret, Issuer: "registrar"}, nil)

	token := jwt.NewWithClaims(jwt.SigningMethodNone, studentClaims("s-1"))
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.ValidateToken(signed)
	require.Error(t, err)
}
