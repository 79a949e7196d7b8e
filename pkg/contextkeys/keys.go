// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/portal/pkg/contextkeys"
//	ctx = context.WithValue(ctx, contextkeys.SessionKey, session)
//	session, _ := ctx.Value(contextkeys.SessionKey).(*identity.Session)
package contextkeys

// Key is the type for context keys to prevent collisions
type Key string

const (
	// SessionKey contains *identity.Session
	// Set by: middleware.Authenticator (pkg/middleware/auth.go)
	// Required by: gate.Middleware, /api/me handlers
	// Type: *identity.Session
	SessionKey Key = "session"

	// RoleKey contains *rbac.RoleRecord
	// Set by: gate.Middleware once a request is Authorized
	// Used by: handlers that tailor responses to the caller's role
	// Type: *rbac.RoleRecord
	RoleKey Key = "role"

	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestID
	// Used by: Logger, error responses
	// Type: string
	RequestIDKey Key = "request_id"

	// UserEmailKey contains the verified email of the caller
	// Set by: middleware.Authenticator after token verification
	// Used by: Logger
	// Type: string
	UserEmailKey Key = "user_email"

	// LoggerKey contains *observability.Logger
	// Set by: middleware.RequestID
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)
