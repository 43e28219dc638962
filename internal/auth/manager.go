// Package auth guards the HTTP API with static API keys and HS256 tokens.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Roles carried in tokens.
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

const issuer = "recurve"

// ErrUnauthorized is returned for missing or invalid credentials.
var ErrUnauthorized = errors.New("unauthorized")

// Claims are the JWT claims issued by Manager.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Principal is an authenticated caller.
type Principal struct {
	Subject string
	Role    string
	Method  string // "api_key" or "jwt"
}

// IsAdmin reports whether the caller may use destructive endpoints.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// Manager validates credentials.
type Manager struct {
	jwtSecret []byte
	apiKeys   [][]byte
	tokenTTL  time.Duration
}

// NewManager creates a manager. With an empty secret a random one is
// generated, so tokens do not survive a restart.
func NewManager(jwtSecret string, apiKeys []string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if jwtSecret == "" {
		jwtSecret = generateRandomSecret(32)
		logger.Named("auth").Info("generated random JWT secret for session (not persistent)")
	}
	m := &Manager{
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  24 * time.Hour,
	}
	for _, k := range apiKeys {
		if k = strings.TrimSpace(k); k != "" {
			m.apiKeys = append(m.apiKeys, []byte(k))
		}
	}
	return m
}

// KeysConfigured reports whether any API key is configured.
func (m *Manager) KeysConfigured() bool {
	return len(m.apiKeys) > 0
}

// GenerateToken signs a token for subject. A zero ttl uses the default of
// 24 hours.
func (m *Manager) GenerateToken(subject, role string, ttl time.Duration) (string, error) {
	if role != RoleAdmin && role != RoleViewer {
		return "", fmt.Errorf("unknown role: %s", role)
	}
	if ttl <= 0 {
		ttl = m.tokenTTL
	}
	now := time.Now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   subject,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.jwtSecret)
}

// ValidateToken validates a JWT and returns its claims.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.jwtSecret, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token: %v", ErrUnauthorized, err)
	}
	return claims, nil
}

// ValidateAPIKey checks key against the configured keys in constant time.
func (m *Manager) ValidateAPIKey(key string) bool {
	if key == "" {
		return false
	}
	ok := false
	for _, k := range m.apiKeys {
		if subtle.ConstantTimeCompare(k, []byte(key)) == 1 {
			ok = true
		}
	}
	return ok
}

// Authenticate resolves an X-API-Key value or an Authorization header
// ("Bearer <jwt>" or "ApiKey <key>").
func (m *Manager) Authenticate(apiKey, authorization string) (*Principal, error) {
	if apiKey != "" {
		if m.ValidateAPIKey(apiKey) {
			return &Principal{Subject: "api-key", Role: RoleAdmin, Method: "api_key"}, nil
		}
		return nil, fmt.Errorf("%w: invalid API key", ErrUnauthorized)
	}

	scheme, value, found := strings.Cut(strings.TrimSpace(authorization), " ")
	if !found || strings.TrimSpace(value) == "" {
		return nil, fmt.Errorf("%w: missing credentials", ErrUnauthorized)
	}
	value = strings.TrimSpace(value)
	switch strings.ToLower(scheme) {
	case "bearer":
		claims, err := m.ValidateToken(value)
		if err != nil {
			return nil, err
		}
		return &Principal{Subject: claims.Subject, Role: claims.Role, Method: "jwt"}, nil
	case "apikey":
		if m.ValidateAPIKey(value) {
			return &Principal{Subject: "api-key", Role: RoleAdmin, Method: "api_key"}, nil
		}
		return nil, fmt.Errorf("%w: invalid API key", ErrUnauthorized)
	default:
		return nil, fmt.Errorf("%w: unsupported authorization scheme %q", ErrUnauthorized, scheme)
	}
}

func generateRandomSecret(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		panic(err)
	}
	return fmt.Sprintf("%x", bytes)
}
