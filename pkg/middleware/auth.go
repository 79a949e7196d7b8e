package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/platinummonkey/portal/pkg/httputil"
	"github.com/platinummonkey/portal/pkg/identity"
	"github.com/platinummonkey/portal/pkg/observability"
)

// ErrMalformedAuthorization is returned for an Authorization header that is
// not "Bearer <token>"
var ErrMalformedAuthorization = errors.New("invalid authorization header format")

// TokenVerifier verifies a raw bearer token. *identity.Verifier satisfies it.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*identity.Claims, error)
}

// Authenticator verifies the caller's bearer token and places the resulting
// identity.Session in the request context.
type Authenticator struct {
	verifier TokenVerifier
	optional bool // If true, requests without credentials pass through anonymously
	cookie   string
	logger   *observability.Logger
}

// AuthOption customizes an Authenticator
type AuthOption func(*Authenticator)

// WithTokenCookie also accepts the token from the named cookie when no
// Authorization header is sent, as browsers navigating to pages do
func WithTokenCookie(name string) AuthOption {
	return func(a *Authenticator) { a.cookie = name }
}

func WithAuthLogger(l *observability.Logger) AuthOption {
	return func(a *Authenticator) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAuthenticator creates a new authentication middleware
func NewAuthenticator(verifier TokenVerifier, optional bool, opts ...AuthOption) *Authenticator {
	a := &Authenticator{
		verifier: verifier,
		optional: optional,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler wraps an HTTP handler with authentication
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, fromCookie, err := a.token(r)
		if err != nil {
			a.unauthorized(w, r)
			return
		}
		if token == "" && a.optional {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := a.verifier.Verify(r.Context(), token)
		if err != nil {
			if errors.Is(err, identity.ErrConfiguration) {
				observability.FromContextOr(r.Context(), a.logger).WithError(err).
					Error("Token verification is not configured")
				httputil.WriteErrorResponse(w, r, http.StatusInternalServerError, httputil.ErrorResponse{
					Error:   "identity verification is not configured",
					Message: "Contact an administrator.",
				})
				return
			}
			if errors.Is(err, identity.ErrMissingToken) && a.optional {
				next.ServeHTTP(w, r)
				return
			}
			// A stale cookie on a page load is an anonymous visit; the gate
			// decides what the browser sees.
			if fromCookie && a.optional {
				observability.FromContextOr(r.Context(), a.logger).WithError(err).
					Info("Ignoring invalid token cookie")
				next.ServeHTTP(w, r)
				return
			}
			a.unauthorized(w, r)
			return
		}

		session := identity.NewSession(claims, token)
		ctx := identity.WithSession(r.Context(), session)
		ctx = observability.WithUserEmail(ctx, session.Email())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// token returns the presented token, "" when none was sent, and whether it
// came from the cookie
func (a *Authenticator) token(r *http.Request) (string, bool, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		token, err := BearerToken(header)
		return token, false, err
	}
	if a.cookie != "" {
		if c, err := r.Cookie(a.cookie); err == nil {
			return c.Value, true, nil
		}
	}
	return "", false, nil
}

func (a *Authenticator) unauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="portal"`)
	httputil.WriteErrorResponse(w, r, http.StatusUnauthorized, httputil.ErrorResponse{
		Error: identity.ErrInvalidToken.Error(),
	})
}

// BearerToken extracts the token from an Authorization header value.
// Format: "Bearer <token>", scheme case-insensitive.
func BearerToken(header string) (string, error) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrMalformedAuthorization
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", ErrMalformedAuthorization
	}
	return token, nil
}

// RequireSession rejects requests that reached it without an authenticated
// session, for routes mounted behind an optional Authenticator
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if session, ok := identity.SessionFromContext(r.Context()); !ok || !session.Authenticated() {
			w.Header().Set("WWW-Authenticate", `Bearer realm="portal"`)
			httputil.WriteErrorResponse(w, r, http.StatusUnauthorized, httputil.ErrorResponse{
				Error: identity.ErrInvalidToken.Error(),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
