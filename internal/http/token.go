package http

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kiyo123456/Tatemoku-management/internal/application"
)

var errInvalidToken = errors.New("http: invalid bearer token")

// Claims is the bearer token payload. The subject is the participant id.
type Claims struct {
	Role       string `json:"role,omitempty"`
	SuperAdmin bool   `json:"super_admin,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HS256 bearer tokens issued by the organization's login service.
type TokenVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewTokenVerifier constructs a verifier for tokens signed with secret.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), now: time.Now}
}

// Verify parses the token and returns the principal it grants.
func (v *TokenVerifier) Verify(token string) (application.Principal, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return application.Principal{}, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	if !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return application.Principal{}, errInvalidToken
	}

	superAdmin := claims.SuperAdmin || claims.Role == "super_admin"
	return application.Principal{
		UserID:       claims.Subject,
		IsAdmin:      superAdmin || claims.Role == "admin",
		IsSuperAdmin: superAdmin,
	}, nil
}

// Issue signs a token for principal valid for ttl. Used by tooling and tests.
func (v *TokenVerifier) Issue(principal application.Principal, ttl time.Duration) (string, error) {
	now := v.now()
	role := "member"
	switch {
	case principal.IsSuperAdmin:
		role = "super_admin"
	case principal.IsAdmin:
		role = "admin"
	}
	claims := Claims{
		Role:       role,
		SuperAdmin: principal.IsSuperAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
