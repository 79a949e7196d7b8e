package identity

import (
	"context"
	"time"

	"github.com/platinummonkey/portal/pkg/contextkeys"
)

// Claims are the verified facts extracted from a bearer token
type Claims struct {
	Subject   string    `json:"sub"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	ObjectID  string    `json:"oid,omitempty"`
	TenantID  string    `json:"tid,omitempty"`
	Issuer    string    `json:"iss"`
	Audience  string    `json:"aud"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

// Session is the authenticated caller. It is created per request by the
// authentication middleware and handed explicitly to whatever needs it.
type Session struct {
	Claims *Claims
	Token  string
}

// NewSession wraps verified claims
func NewSession(claims *Claims, token string) *Session {
	return &Session{Claims: claims, Token: token}
}

// Email returns the session's identifier or "" for a nil/anonymous session
func (s *Session) Email() string {
	if s == nil || s.Claims == nil {
		return ""
	}
	return s.Claims.Email
}

// Authenticated reports whether the session carries verified claims
func (s *Session) Authenticated() bool {
	return s.Email() != ""
}

// Expired reports whether the token behind the session has expired at now
func (s *Session) Expired(now time.Time) bool {
	if s == nil || s.Claims == nil || s.Claims.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.Claims.ExpiresAt)
}

// WithSession stores the session in ctx
func WithSession(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, contextkeys.SessionKey, session)
}

// SessionFromContext retrieves the session stored by WithSession
func SessionFromContext(ctx context.Context) (*Session, bool) {
	session, ok := ctx.Value(contextkeys.SessionKey).(*Session)
	return session, ok && session != nil
}
