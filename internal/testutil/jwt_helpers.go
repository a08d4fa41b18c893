package testutil

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"herald/internal/auth"
)

// JWTTestHelper provides utilities for JWT testing
type JWTTestHelper struct {
	Secret []byte
}

// NewJWTTestHelper creates a new JWT test helper with a default test secret
func NewJWTTestHelper() *JWTTestHelper {
	return &JWTTestHelper{
		Secret: []byte("test-secret-for-unit-tests"),
	}
}

// GenerateValidJWT generates a valid JWT token for testing
func (h *JWTTestHelper) GenerateValidJWT(userID, wallet string) (string, error) {
	return h.GenerateJWTWithCustomExpiry(userID, wallet, time.Now().Add(15*time.Minute))
}

// GenerateExpiredJWT generates an expired JWT token for testing
func (h *JWTTestHelper) GenerateExpiredJWT(userID, wallet string) (string, error) {
	claims := &auth.Claims{
		UserID:        userID,
		WalletAddress: wallet,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-1 * time.Hour)), // Expired 1 hour ago
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)), // Issued 2 hours ago
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.Secret)
}

// GenerateJWTWithCustomExpiry generates a JWT with custom expiry time
func (h *JWTTestHelper) GenerateJWTWithCustomExpiry(userID, wallet string, expiresAt time.Time) (string, error) {
	claims := &auth.Claims{
		UserID:        userID,
		WalletAddress: wallet,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.Secret)
}

// GenerateMalformedJWT generates a malformed JWT for testing error scenarios
func (h *JWTTestHelper) GenerateMalformedJWT() string {
	return "invalid.jwt.token.format"
}

// GenerateJWTWithWrongSecret generates a JWT signed under a different secret
func (h *JWTTestHelper) GenerateJWTWithWrongSecret(userID, wallet string) (string, error) {
	other := &JWTTestHelper{Secret: []byte("wrong-secret")}
	return other.GenerateValidJWT(userID, wallet)
}
