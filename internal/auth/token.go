// ABOUTME: JWT token verification and issuance for authenticating gateway requests
// ABOUTME: Uses HS256 signing with configurable secret; scopes ride in a "scope" claim

package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrNoCredential = errors.New("no credential presented")
)

// TokenVerifier verifies a bearer token and reconstructs the Principal.
type TokenVerifier interface {
	Verify(tokenString string) (*Principal, error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token and builds a Principal from its claims.
// Scopes are read from the "scope" claim, either a JSON array or a
// space-separated string. A "client_id" claim marks the credential as
// machine-to-machine.
func (v *JWTVerifier) Verify(tokenString string) (*Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	scopes, err := parseScopeClaim(claims["scope"])
	if err != nil {
		return nil, err
	}

	method := MethodIngressToken
	if clientID, ok := claims["client_id"].(string); ok && clientID != "" {
		method = MethodM2M
	}

	return &Principal{Subject: sub, Scopes: scopes, Method: method}, nil
}

// Generate creates a new JWT for the given subject with expiration.
// clientID is set as a claim when non-empty, marking an M2M token.
func (v *JWTVerifier) Generate(subject string, scopes []string, clientID string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   subject,
		"scope": strings.Join(scopes, " "),
		"iat":   now.Unix(),
		"exp":   now.Add(expiresIn).Unix(),
	}
	if clientID != "" {
		claims["client_id"] = clientID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// parseScopeClaim accepts either an array of strings or a single
// space-separated string, per common OAuth token shapes.
func parseScopeClaim(claim any) ([]string, error) {
	switch val := claim.(type) {
	case nil:
		return nil, nil
	case string:
		return strings.Fields(val), nil
	case []any:
		scopes := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: scope entries must be strings", ErrInvalidToken)
			}
			scopes = append(scopes, s)
		}
		return scopes, nil
	default:
		return nil, fmt.Errorf("%w: unsupported scope claim type", ErrInvalidToken)
	}
}

// BearerFromRequest extracts a bearer token from the Authorization
// header. Returns ErrNoCredential if the header is absent or malformed.
func BearerFromRequest(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrNoCredential
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", ErrNoCredential
	}
	return parts[1], nil
}
