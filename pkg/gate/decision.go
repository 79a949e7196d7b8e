package gate

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/platinummonkey/portal/pkg/rbac"
)

// State is the gate's view of the current caller
type State int

const (
	Loading State = iota
	Authorized
	Unauthenticated
	RoleError
	Forbidden
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Authorized:
		return "authorized"
	case Unauthenticated:
		return "unauthenticated"
	case RoleError:
		return "role_error"
	case Forbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Outcome is what the caller of the gate should do
type Outcome int

const (
	// Wait shows a loading indicator; only produced for Loading
	Wait Outcome = iota
	Render
	Deny
	Redirect
)

func (o Outcome) String() string {
	switch o {
	case Render:
		return "render"
	case Deny:
		return "deny"
	case Redirect:
		return "redirect"
	default:
		return "wait"
	}
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// DefaultFallbackPath receives redirected callers
const DefaultFallbackPath = "/unauthorized"

// Requirements are a page's access options. Zero value means "any signed-in
// user with a role".
type Requirements struct {
	RequiredRole        string            `json:"required_role,omitempty" validate:"omitempty,max=128"`
	AllowedRoles        []string          `json:"allowed_roles,omitempty" validate:"omitempty,dive,required"`
	RequiredPermissions []rbac.Permission `json:"required_permissions,omitempty" validate:"omitempty,dive"`
	FallbackPath        string            `json:"fallback_path,omitempty" validate:"omitempty,startswith=/"`
	ShowAccessDenied    *bool             `json:"show_access_denied,omitempty"`
}

// Fallback returns FallbackPath or DefaultFallbackPath
func (r Requirements) Fallback() string {
	if r.FallbackPath == "" {
		return DefaultFallbackPath
	}
	return r.FallbackPath
}

// ShowsAccessDenied reports whether denials render in place (the default)
func (r Requirements) ShowsAccessDenied() bool {
	return r.ShowAccessDenied == nil || *r.ShowAccessDenied
}

const (
	msgUnauthenticated = "You must be logged in to access this page."
	msgLoading         = "Checking your access..."
)

// Decision is the result of evaluating a caller against Requirements
type Decision struct {
	State              State             `json:"state"`
	Outcome            Outcome           `json:"outcome"`
	Message            string            `json:"message,omitempty"`
	Detail             string            `json:"detail,omitempty"`
	Remediation        string            `json:"-"`
	RequiredRole       string            `json:"required_role,omitempty"`
	AllowedRoles       []string          `json:"allowed_roles,omitempty"`
	CurrentRole        string            `json:"current_role,omitempty"`
	MissingPermissions []rbac.Permission `json:"missing_permissions,omitempty"`
	FallbackPath       string            `json:"fallback_path,omitempty"`

	Role *rbac.RoleRecord `json:"-"`
	Err  error            `json:"-"`
}

// LoadingDecision is the state before any resolution has settled
func LoadingDecision() Decision {
	return Decision{State: Loading, Outcome: Wait, Message: msgLoading}
}

// Evaluate decides access for role against req. resolveErr is the error
// returned while resolving role, if any.
func Evaluate(role *rbac.RoleRecord, resolveErr error, req Requirements) Decision {
	d := evaluate(role, resolveErr, req)
	d.FallbackPath = req.Fallback()
	switch {
	case d.State == Authorized:
		d.Outcome = Render
	case req.ShowsAccessDenied():
		d.Outcome = Deny
	default:
		d.Outcome = Redirect
	}
	return d
}

func evaluate(role *rbac.RoleRecord, resolveErr error, req Requirements) Decision {
	if resolveErr != nil {
		var re *rbac.ResolutionError
		if errors.As(resolveErr, &re) && re.IsAuthorizationState() {
			return Decision{State: Unauthenticated, Message: msgUnauthenticated, Detail: re.Message, Err: resolveErr}
		}
		d := Decision{State: RoleError, Message: rbac.UserMessage(resolveErr), Err: resolveErr}
		if re != nil {
			d.Remediation = re.Remediation
		}
		return d
	}

	if role == nil {
		return Decision{State: Unauthenticated, Message: msgUnauthenticated}
	}

	if role.IsAdmin {
		return Decision{State: Authorized, Role: role, CurrentRole: role.RoleName}
	}

	if req.RequiredRole != "" && role.RoleName != req.RequiredRole {
		return Decision{
			State:        Forbidden,
			Role:         role,
			RequiredRole: req.RequiredRole,
			CurrentRole:  role.RoleName,
			Message: fmt.Sprintf("This page requires the %s role. Your current role is %s.",
				req.RequiredRole, role.RoleName),
		}
	}

	if len(req.AllowedRoles) > 0 && !containsRole(req.AllowedRoles, role.RoleName) {
		return Decision{
			State:        Forbidden,
			Role:         role,
			AllowedRoles: req.AllowedRoles,
			CurrentRole:  role.RoleName,
			Message: fmt.Sprintf("This page is restricted to: %s. Your current role is %s.",
				strings.Join(req.AllowedRoles, ", "), role.RoleName),
		}
	}

	if missing := rbac.MissingPermissions(role, req.RequiredPermissions); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, p := range missing {
			names[i] = p.String()
		}
		return Decision{
			State:              Forbidden,
			Role:               role,
			CurrentRole:        role.RoleName,
			MissingPermissions: missing,
			Message:            "Missing required permissions: " + strings.Join(names, ", "),
		}
	}

	return Decision{State: Authorized, Role: role, CurrentRole: role.RoleName}
}

func containsRole(roles []string, name string) bool {
	for _, r := range roles {
		if r == name {
			return true
		}
	}
	return false
}

// StatusCode maps the decision to an HTTP status
func (d Decision) StatusCode() int {
	switch d.State {
	case Authorized:
		return http.StatusOK
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case RoleError:
		var re *rbac.ResolutionError
		if errors.As(d.Err, &re) && re.IsConfiguration() {
			return http.StatusInternalServerError
		}
		return http.StatusServiceUnavailable
	default:
		return http.StatusAccepted
	}
}

// RedirectURL is the fallback path with origin preserved in "from"
func (d Decision) RedirectURL(origin string) string {
	target := d.FallbackPath
	if target == "" {
		target = DefaultFallbackPath
	}
	if origin == "" {
		return target
	}
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + "from=" + url.QueryEscape(origin)
}
