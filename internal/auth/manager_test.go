package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndValidateToken(t *testing.T) {
	m := NewManager("secret", nil, nil)

	token, err := m.GenerateToken("ops", RoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Subject != "ops" || claims.Role != RoleAdmin {
		t.Errorf("claims = %+v", claims)
	}
	if claims.Issuer != "recurve" {
		t.Errorf("issuer = %q", claims.Issuer)
	}
}

func TestGenerateToken_UnknownRole(t *testing.T) {
	m := NewManager("secret", nil, nil)
	if _, err := m.GenerateToken("ops", "root", 0); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestValidateToken_Rejects(t *testing.T) {
	m := NewManager("secret", nil, nil)
	other := NewManager("other-secret", nil, nil)

	foreign, _ := other.GenerateToken("ops", RoleAdmin, time.Hour)
	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Role: RoleAdmin})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := map[string]string{
		"wrong secret": foreign,
		"garbage":      "not-a-token",
		"none alg":     unsigned,
	}
	// A non-positive ttl means the default, so an expired token is built by hand.
	past := time.Now().Add(-time.Hour)
	stale := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "recurve",
			ExpiresAt: jwt.NewNumericDate(past),
		},
	})
	expired, _ := stale.SignedString([]byte("secret"))
	tests["expired"] = expired

	for name, token := range tests {
		if _, err := m.ValidateToken(token); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("%s: ValidateToken() error = %v, want ErrUnauthorized", name, err)
		}
	}
}

func TestAuthenticate(t *testing.T) {
	m := NewManager("secret", []string{"key-1", " ", "key-2"}, nil)
	viewer, _ := m.GenerateToken("dash", RoleViewer, time.Hour)

	tests := []struct {
		name          string
		apiKey, authz string
		wantRole      string
		wantErr       bool
	}{
		{"header key", "key-2", "", RoleAdmin, false},
		{"bad header key", "nope", "Bearer " + viewer, "", true},
		{"apikey scheme", "", "ApiKey key-1", RoleAdmin, false},
		{"bearer", "", "Bearer " + viewer, RoleViewer, false},
		{"lowercase bearer", "", "bearer " + viewer, RoleViewer, false},
		{"missing", "", "", "", true},
		{"basic", "", "Basic dXNlcjpwYXNz", "", true},
		{"empty key is not a key", "", "ApiKey  ", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := m.Authenticate(tc.apiKey, tc.authz)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", p)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if p.Role != tc.wantRole {
				t.Errorf("role = %q, want %q", p.Role, tc.wantRole)
			}
		})
	}
}

func TestNewManager_RandomSecret(t *testing.T) {
	a := NewManager("", nil, nil)
	b := NewManager("", nil, nil)
	token, err := a.GenerateToken("ops", RoleAdmin, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.ValidateToken(token); err == nil {
		t.Error("token from one random secret validated under another")
	}
}

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p := PrincipalFromContext(r.Context()); p != nil {
			w.Header().Set("X-Principal", p.Subject)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	policy := Policy{
		Public: func(r *http.Request) bool { return r.URL.Path == "/api/health" },
		Admin:  func(r *http.Request) bool { return strings.HasPrefix(r.URL.Path, "/api/reset") },
	}

	open := NewManager("secret", nil, nil)
	locked := NewManager("secret", []string{"k"}, nil)
	admin, _ := open.GenerateToken("ops", RoleAdmin, time.Hour)
	viewer, _ := open.GenerateToken("dash", RoleViewer, time.Hour)

	tests := []struct {
		name   string
		m      *Manager
		path   string
		header map[string]string
		want   int
	}{
		{"open read", open, "/api/graph", nil, http.StatusNoContent},
		{"open admin without creds", open, "/api/reset", nil, http.StatusUnauthorized},
		{"open admin with token", open, "/api/reset", map[string]string{"Authorization": "Bearer " + admin}, http.StatusNoContent},
		{"viewer cannot reset", open, "/api/reset", map[string]string{"Authorization": "Bearer " + viewer}, http.StatusForbidden},
		{"locked read without creds", locked, "/api/graph", nil, http.StatusUnauthorized},
		{"locked read with key", locked, "/api/graph", map[string]string{"X-API-Key": "k"}, http.StatusNoContent},
		{"locked health is public", locked, "/api/health", nil, http.StatusNoContent},
		{"query token", open, "/api/reset?access_token=" + admin, nil, http.StatusNoContent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tc.path, nil)
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			tc.m.Middleware(policy, ok).ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}
