package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"farmline/internal/auth"
	"farmline/internal/report"
)

type AuthConfig struct {
	// Authenticator resolves sessions. When nil, Tokens is used.
	Authenticator auth.Authenticator
	// Tokens mints tokens for the dev login operation.
	Tokens   *auth.TokenAuthenticator
	DevLogin bool
}

func (c AuthConfig) authenticator() auth.Authenticator {
	if c.Authenticator != nil {
		return c.Authenticator
	}
	if c.Tokens != nil {
		return *c.Tokens
	}
	return nil
}

// newAuthMiddleware rejects unauthenticated API requests with a bare 401
// before any handler, and therefore any store, runs.
func newAuthMiddleware(basePath string, authn auth.Authenticator, public ...string) func(http.Handler) http.Handler {
	open := make(map[string]bool, len(public))
	for _, p := range public {
		open[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if !underBasePath(req.URL.Path, basePath) || open[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}
			if authn == nil {
				writeUnauthorized(w)
				return
			}
			principal, ok := authn.Authenticate(req)
			if !ok || principal.UserID == "" {
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, req.WithContext(auth.WithPrincipal(req.Context(), principal)))
		})
	}
}

// underBasePath matches basePath itself and paths below it, not siblings that
// merely share the prefix.
func underBasePath(path, basePath string) bool {
	return path == basePath || strings.HasPrefix(path, basePath+"/")
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(report.Unauthenticated{Message: report.MsgUnauthorized})
}

func unauthorizedError() huma.StatusError {
	return &unauthorized{}
}

// unauthorized lets handlers surface the bare 401 body through huma.
type unauthorized struct{}

func (u *unauthorized) GetStatus() int { return http.StatusUnauthorized }
func (u *unauthorized) Error() string  { return report.MsgUnauthorized }
func (u *unauthorized) MarshalJSON() ([]byte, error) {
	return json.Marshal(report.Unauthenticated{Message: report.MsgUnauthorized})
}
