package realtime

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// Claim names used by the backend, short form first.
var (
	userIDClaims = []string{"sub", "nameid", "userId", "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/nameidentifier"}
	roleClaims   = []string{"role", "roles", "http://schemas.microsoft.com/ws/2008/06/identity/claims/role"}
)

var ErrNoUserID = errors.New("token carries no user id")

// AuthFromToken reads user id and role from a bearer token. The signature is
// not checked: the backend verifies it, the client only needs the claims.
// When the token lists several roles, a privileged one wins.
func AuthFromToken(token string, resolver *ScopeResolver) (AuthState, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return AuthState{}, nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return AuthState{}, fmt.Errorf("parse token: %w", err)
	}

	auth := AuthState{Token: token}
	for _, k := range userIDClaims {
		if v, ok := claims[k]; ok {
			if s := fmt.Sprint(v); s != "" {
				auth.UserID = s
				break
			}
		}
	}
	if auth.UserID == "" {
		return AuthState{}, ErrNoUserID
	}

	var roles []string
	for _, k := range roleClaims {
		switch v := claims[k].(type) {
		case string:
			roles = append(roles, v)
		case []any:
			for _, r := range v {
				roles = append(roles, fmt.Sprint(r))
			}
		}
	}
	for _, r := range roles {
		if resolver != nil && resolver.Privileged(r) {
			auth.Role = r
			return auth, nil
		}
	}
	if len(roles) > 0 {
		auth.Role = roles[0]
	}
	return auth, nil
}

// TokenSource holds the current bearer token, either fixed or read from a file.
type TokenSource struct {
	path string

	mu    sync.Mutex
	token string
}

func NewTokenSource(token, path string) *TokenSource {
	return &TokenSource{token: strings.TrimSpace(token), path: path}
}

// Token returns the last token read.
func (t *TokenSource) Token() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.token
}

// Refresh re-reads the token file and reports whether the token changed.
// Without a file it never changes.
func (t *TokenSource) Refresh() (bool, error) {
	if t.path == "" {
		return false, nil
	}
	b, err := os.ReadFile(t.path)
	if err != nil {
		return false, fmt.Errorf("read token file: %w", err)
	}
	tok := strings.TrimSpace(string(b))
	t.mu.Lock()
	defer t.mu.Unlock()
	if tok == t.token {
		return false, nil
	}
	t.token = tok
	return true, nil
}
