package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenInvalid = errors.New("invalid JWT token")
	ErrTokenExpired = errors.New("JWT token expired")
)

// Claims represents the JWT claims the broker requires from the
// signing authority.
type Claims struct {
	UserID        string `json:"user_id"`
	WalletAddress string `json:"wallet_address"`
	jwt.RegisteredClaims
}

// Verifier validates subscriber tokens under a shared secret.
type Verifier struct {
	secret []byte
	method jwt.SigningMethod
}

// NewVerifier creates a verifier for the given secret and HMAC
// algorithm name (HS256, HS384 or HS512).
func NewVerifier(secret, algorithm string) (*Verifier, error) {
	method := jwt.GetSigningMethod(algorithm)
	if method == nil {
		return nil, fmt.Errorf("unsupported JWT algorithm %q", algorithm)
	}
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("JWT algorithm %q is not an HMAC method", algorithm)
	}
	return &Verifier{secret: []byte(secret), method: method}, nil
}

// VerifyToken validates a token's signature and expiry and enforces
// presence of the user_id, wallet_address, exp and iat claims.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify the signing method to prevent algorithm confusion attacks
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithExpirationRequired())

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.UserID == "" || claims.WalletAddress == "" || claims.IssuedAt == nil {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
