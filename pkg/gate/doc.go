// Package gate decides whether a caller may see a page.
//
// Evaluate is the pure decision function. Given the caller's resolved role
// (or the error from resolving it) and a page's Requirements it returns a
// Decision whose State is one of Authorized, Unauthenticated, RoleError or
// Forbidden, and whose Outcome says how to respond: Render, Deny in place,
// or Redirect to the fallback path.
//
// Checks run in a fixed order and the first failure wins:
//
//	resolution error          RoleError
//	no role                   Unauthenticated
//	admin                     Authorized
//	required role             Forbidden
//	allowed roles             Forbidden
//	required permissions      Forbidden
//
// Guard wraps Evaluate for one mounted view with an injected session. It
// enters Loading on Mount/Refresh, drops results from superseded or
// unmounted resolutions and notifies listeners on every transition.
//
// Middleware applies the same decision to HTTP requests using a
// RequirementsSource such as a RouteTable loaded from YAML.
package gate
