// Package auth carries the caller identity through the request context and
// derives the key that the request lifecycle registry and the rate limiter
// bucket on.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

type Principal struct {
	APIKey string
}

// Identity returns the lifecycle key for a principal and session: at most one
// chat request may be in flight per identity. Anonymous callers (auth mode
// optional or disabled) collapse onto the session alone.
func (p *Principal) Identity(sessionID string) string {
	key := ""
	if p != nil {
		key = p.APIKey
	}
	if key == "" {
		return "anon:" + sessionID
	}
	return keyFingerprint(key) + ":" + sessionID
}

// Fingerprint returns a short identifier for the principal's credential,
// safe for logs and limiter keys. Anonymous principals share one bucket.
func (p *Principal) Fingerprint() string {
	if p == nil || p.APIKey == "" {
		return "anonymous"
	}
	return keyFingerprint(p.APIKey)
}

// keyFingerprint is safe to log and to use as a map key without retaining
// the raw credential.
func keyFingerprint(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:8])
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

// IdentityFrom resolves the lifecycle key for the request's principal, if
// any, and the given session.
func IdentityFrom(ctx context.Context, sessionID string) string {
	p, _ := PrincipalFrom(ctx)
	return p.Identity(sessionID)
}

func ParseBearer(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return "", false
	}
	const prefix = "Bearer "
	if len(authz) < len(prefix) || !strings.EqualFold(authz[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(authz[len(prefix):])
	if token == "" {
		return "", false
	}
	return token, true
}
