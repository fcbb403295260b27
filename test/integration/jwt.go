package integration

import (
	"maps"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestClaims holds the configurable claims for generating test JWT tokens.
type TestClaims struct {
	SubjectID string
	Role      string
	Extra     map[string]any
}

// tokenIssuer signs HS256 tokens with a shared secret.
type tokenIssuer struct {
	secret []byte
	issuer string
}

func newTokenIssuer() *tokenIssuer {
	return &tokenIssuer{
		secret: []byte("integration-test-secret"),
		issuer: "https://auth.talon.test",
	}
}

func (ti *tokenIssuer) sign(claims TestClaims, issuedAt, expiresAt time.Time) string {
	mapClaims := jwt.MapClaims{
		"iss":  ti.issuer,
		"iat":  jwt.NewNumericDate(issuedAt),
		"exp":  jwt.NewNumericDate(expiresAt),
		"sub":  claims.SubjectID,
		"role": claims.Role,
	}
	maps.Copy(mapClaims, claims.Extra)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, mapClaims).SignedString(ti.secret)
	if err != nil {
		panic("sign JWT: " + err.Error())
	}
	return signed
}

// GenerateToken creates a valid, signed JWT token with the given claims.
func (ti *tokenIssuer) GenerateToken(claims TestClaims) string {
	now := time.Now()
	return ti.sign(claims, now, now.Add(time.Hour))
}

// GenerateExpiredToken creates a JWT token that expired in the past.
func (ti *tokenIssuer) GenerateExpiredToken(claims TestClaims) string {
	now := time.Now()
	return ti.sign(claims, now.Add(-2*time.Hour), now.Add(-time.Hour))
}
