// Package auth resolves inbound requests to an authenticated principal.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultCookieName = "farmline_session"
	DefaultTTL        = 24 * time.Hour
)

// Principal is the authenticated caller.
type Principal struct {
	UserID   string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// Authenticator resolves a request to a principal. The boolean is false when
// the request carries no valid session; that is not an error.
type Authenticator interface {
	Authenticate(r *http.Request) (Principal, bool)
}

type claims struct {
	jwt.RegisteredClaims
	Email    string `json:"email"`
	Username string `json:"username"`
}

// TokenAuthenticator issues and verifies HS256 session tokens carried either
// as a bearer token or in the session cookie.
type TokenAuthenticator struct {
	secret     []byte
	CookieName string
	TTL        time.Duration
	Now        func() time.Time
}

func NewTokenAuthenticator(secret string, ttl time.Duration, cookieName string) (TokenAuthenticator, error) {
	if strings.TrimSpace(secret) == "" {
		return TokenAuthenticator{}, errors.New("jwt secret not configured")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return TokenAuthenticator{secret: []byte(secret), CookieName: cookieName, TTL: ttl, Now: time.Now}, nil
}

func (a TokenAuthenticator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Issue mints a session token for p.
func (a TokenAuthenticator) Issue(p Principal) (string, error) {
	if p.UserID == "" {
		return "", errors.New("user id required")
	}
	now := a.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.TTL)),
		},
		Email:    p.Email,
		Username: p.Username,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(a.secret)
}

// Verify parses and validates a session token.
func (a TokenAuthenticator) Verify(token string) (Principal, error) {
	if len(a.secret) == 0 {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	c := &claims{}
	parsed, err := parser.ParseWithClaims(token, c, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if c.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	return Principal{UserID: c.Subject, Email: c.Email, Username: c.Username}, nil
}

func (a TokenAuthenticator) Authenticate(r *http.Request) (Principal, bool) {
	token := ""
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
		t, ok := bearerToken(authz)
		if !ok {
			return Principal{}, false
		}
		token = t
	} else if cookie, err := r.Cookie(a.CookieName); err == nil {
		token = cookie.Value
	}
	if token == "" {
		return Principal{}, false
	}
	p, err := a.Verify(token)
	if err != nil {
		return Principal{}, false
	}
	return p, true
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.UserID != ""
}
