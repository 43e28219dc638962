package auth

import (
	"context"
	"encoding/json"
	"net/http"
)

type contextKey struct{}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// PrincipalFromContext returns the authenticated caller, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(contextKey{}).(*Principal)
	return p
}

// Policy decides which requests need credentials.
type Policy struct {
	Public func(r *http.Request) bool // never authenticated
	Admin  func(r *http.Request) bool // always need an admin principal
}

// Middleware enforces p. Admin requests always need admin credentials.
// Other requests need credentials only when API keys are configured.
// Browsers that cannot set headers (EventSource, WebSocket) may pass the
// token as ?access_token=.
func (m *Manager) Middleware(p Policy, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p.Public != nil && p.Public(r) {
			next.ServeHTTP(w, r)
			return
		}
		admin := p.Admin != nil && p.Admin(r)
		if !admin && !m.KeysConfigured() {
			next.ServeHTTP(w, r)
			return
		}

		authorization := r.Header.Get("Authorization")
		if authorization == "" {
			if token := r.URL.Query().Get("access_token"); token != "" {
				authorization = "Bearer " + token
			}
		}
		principal, err := m.Authenticate(r.Header.Get("X-API-Key"), authorization)
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if admin && !principal.IsAdmin() {
			writeAuthError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="recurve"`)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
