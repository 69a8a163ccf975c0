package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
)

// Session is the request-scoped view of the caller's credential. It is built
// once per request and never shared across requests.
type Session struct {
	ID    string // stable hash of the token; empty when unauthenticated
	Token string
}

// Authenticated reports whether the session carries a credential.
func (s *Session) Authenticated() bool {
	return s != nil && s.Token != ""
}

type sessionKey struct{}

// NewSession builds the session for token.
func NewSession(token string) *Session {
	if token == "" {
		return &Session{}
	}
	sum := sha256.Sum256([]byte(token))
	return &Session{ID: hex.EncodeToString(sum[:16]), Token: token}
}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session stored in ctx, or an empty session.
func SessionFrom(ctx context.Context) *Session {
	if s, ok := ctx.Value(sessionKey{}).(*Session); ok && s != nil {
		return s
	}
	return &Session{}
}

// Middleware attaches the caller's Session to every request.
func (ts *TokenStore) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, _ := ts.Read(r)
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), NewSession(token))))
	})
}
