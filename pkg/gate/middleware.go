package gate

import (
	"context"
	"html/template"
	"net/http"

	"github.com/platinummonkey/portal/pkg/contextkeys"
	"github.com/platinummonkey/portal/pkg/httputil"
	"github.com/platinummonkey/portal/pkg/identity"
	"github.com/platinummonkey/portal/pkg/observability"
	"github.com/platinummonkey/portal/pkg/rbac"
)

// WithRole stores the authorized role in ctx
func WithRole(ctx context.Context, role *rbac.RoleRecord) context.Context {
	return context.WithValue(ctx, contextkeys.RoleKey, role)
}

// RoleFromContext returns the role stored by the gate middleware
func RoleFromContext(ctx context.Context) (*rbac.RoleRecord, bool) {
	role, ok := ctx.Value(contextkeys.RoleKey).(*rbac.RoleRecord)
	return role, ok && role != nil
}

// deniedBody is the JSON shape of every non-authorized gate response
type deniedBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
	Decision
}

var deniedPage = template.Must(template.New("denied").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Access denied</title></head>
<body>
<main class="access-denied" data-state="{{.State}}">
<h1>{{if eq .State.String "unauthenticated"}}Sign in required{{else if eq .State.String "forbidden"}}Access denied{{else}}Access check failed{{end}}</h1>
<p>{{.Message}}</p>
{{with .Detail}}<p>{{.}}</p>{{end}}
{{with .MissingPermissions}}<ul>{{range .}}<li>{{.String}}</li>{{end}}</ul>{{end}}
</main>
</body>
</html>
`))

// MiddlewareOption customizes Middleware
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	logger  *observability.Logger
	metrics *observability.Metrics
}

func WithMiddlewareLogger(l *observability.Logger) MiddlewareOption {
	return func(c *middlewareConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMiddlewareMetrics(m *observability.Metrics) MiddlewareOption {
	return func(c *middlewareConfig) { c.metrics = m }
}

// Middleware gates requests. It expects the session to have been placed in
// the request context by the authentication middleware; requests without a
// session are Unauthenticated.
func Middleware(resolver Resolver, source RequirementsSource, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := &middlewareConfig{logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req, public := source.Match(r)
			if public {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			var d Decision
			session, ok := identity.SessionFromContext(ctx)
			if !ok || !session.Authenticated() {
				d = Evaluate(nil, nil, req)
			} else {
				role, err := resolver.Resolve(ctx, session.Email())
				d = Evaluate(role, err, req)
			}

			cfg.metrics.ObserveGateDecision(ctx, d.State.String(), d.Outcome.String())
			log := observability.FromContextOr(ctx, cfg.logger)

			switch d.Outcome {
			case Render:
				next.ServeHTTP(w, r.WithContext(WithRole(ctx, d.Role)))
				return
			case Redirect:
				log.WithFields(map[string]interface{}{
					"state": d.State.String(),
					"path":  r.URL.Path,
				}).Info("Access denied; redirecting")
				http.Redirect(w, r, d.RedirectURL(r.URL.RequestURI()), http.StatusSeeOther)
				return
			}

			entry := log.WithFields(map[string]interface{}{
				"state":   d.State.String(),
				"path":    r.URL.Path,
				"message": d.Message,
			})
			if d.State == RoleError {
				if d.Remediation != "" {
					entry = entry.WithField("remediation", d.Remediation)
				}
				entry.Error("Access check failed")
			} else {
				entry.Info("Access denied")
			}
			WriteDenied(w, r, d)
		})
	}
}

// WriteDenied renders a non-authorized decision as HTML for browsers and
// JSON otherwise
func WriteDenied(w http.ResponseWriter, r *http.Request, d Decision) {
	status := d.StatusCode()
	if d.State == Unauthenticated {
		w.Header().Set("WWW-Authenticate", `Bearer realm="portal"`)
	}

	if httputil.WantsHTML(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		if err := deniedPage.Execute(w, d); err != nil {
			observability.FromContext(r.Context()).WithError(err).Error("Failed to render access denied page")
		}
		return
	}

	httputil.WriteJSON(w, status, deniedBody{
		Error:     d.Message,
		RequestID: observability.GetRequestID(r.Context()),
		Decision:  d,
	})
}
