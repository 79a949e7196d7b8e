package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/portal/pkg/activity"
	"github.com/platinummonkey/portal/pkg/gate"
	"github.com/platinummonkey/portal/pkg/graph"
	"github.com/platinummonkey/portal/pkg/httputil"
	"github.com/platinummonkey/portal/pkg/identity"
	"github.com/platinummonkey/portal/pkg/observability"
	"github.com/platinummonkey/portal/pkg/rbac"
)

var loginActivityRequirements = gate.Requirements{
	RequiredPermissions: []rbac.Permission{
		{Resource: rbac.ResourceLoginActivity, Action: rbac.ActionRead},
	},
}

// AccessCheckResponse answers POST /api/access/check
type AccessCheckResponse struct {
	Allowed bool `json:"allowed"`
	gate.Decision
}

// LoginActivityResponse answers GET /api/admin/login-activity
type LoginActivityResponse struct {
	Entries []activity.Entry `json:"entries"`
	Count   int              `json:"count"`
}

// getMe handles GET /api/me
func (s *Server) getMe(w http.ResponseWriter, r *http.Request) {
	session, _ := identity.SessionFromContext(r.Context())
	httputil.WriteSuccess(w, session.Claims)
}

// getMyRole handles GET /api/me/role
func (s *Server) getMyRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, _ := identity.SessionFromContext(ctx)

	role, err := s.opts.Resolver.Resolve(ctx, session.Email())
	if err != nil {
		gate.WriteDenied(w, r, gate.Evaluate(nil, err, gate.Requirements{}))
		return
	}
	httputil.WriteSuccess(w, role)
}

// checkAccess handles POST /api/access/check. The answer is always 200; the
// decision itself says whether the caller would be let through.
func (s *Server) checkAccess(w http.ResponseWriter, r *http.Request) {
	var req gate.Requirements
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	ctx := r.Context()
	session, _ := identity.SessionFromContext(ctx)
	role, err := s.opts.Resolver.Resolve(ctx, session.Email())
	d := gate.Evaluate(role, err, req)
	s.opts.Metrics.ObserveGateDecision(ctx, d.State.String(), d.Outcome.String())

	if d.State == gate.RoleError && d.Remediation != "" {
		observability.FromContextOr(ctx, s.logger).WithError(err).
			WithField("remediation", d.Remediation).Error("Access check failed")
	}

	httputil.WriteSuccess(w, AccessCheckResponse{
		Allowed:  d.State == gate.Authorized,
		Decision: d,
	})
}

// getMyProfile handles GET /api/me/profile
func (s *Server) getMyProfile(w http.ResponseWriter, r *http.Request) {
	if s.opts.Profiles == nil {
		httputil.WriteServiceUnavailable(w, graph.ErrNotConfigured.Error())
		return
	}

	ctx := r.Context()
	session, _ := identity.SessionFromContext(ctx)

	profile, err := s.opts.Profiles.Profile(ctx, session.Email())
	switch {
	case err == nil:
		httputil.WriteSuccess(w, profile)
	case errors.Is(err, graph.ErrUserNotFound):
		httputil.WriteNotFound(w, err.Error())
	case errors.Is(err, graph.ErrNotConfigured):
		httputil.WriteServiceUnavailable(w, err.Error())
	default:
		observability.FromContextOr(ctx, s.logger).WithError(err).Error("Directory profile lookup failed")
		httputil.WriteErrorResponse(w, r, http.StatusBadGateway, httputil.ErrorResponse{
			Error: "directory lookup failed",
		})
	}
}

// listLoginActivity handles GET /api/admin/login-activity
func (s *Server) listLoginActivity(w http.ResponseWriter, r *http.Request) {
	if s.opts.Activity == nil {
		httputil.WriteServiceUnavailable(w, "login activity is not available")
		return
	}

	limit, ok := httputil.ParseQueryIntOrError(w, r, "limit", activity.DefaultListLimit)
	if !ok {
		return
	}
	if limit < 1 || limit > activity.MaxListLimit {
		httputil.WriteBadRequest(w, "limit must be between 1 and 1000")
		return
	}

	entries, err := s.opts.Activity.List(r.Context(), limit)
	if err != nil {
		observability.FromContextOr(r.Context(), s.logger).WithError(err).Error("Failed to list login activity")
		httputil.WriteInternalError(w)
		return
	}
	if entries == nil {
		entries = []activity.Entry{}
	}
	httputil.WriteSuccess(w, LoginActivityResponse{Entries: entries, Count: len(entries)})
}
