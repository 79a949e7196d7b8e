package gate

import (
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/portal/pkg/rbac"
)

// RequirementsSource selects the Requirements that apply to a request.
// public is true when the request needs no gate at all.
type RequirementsSource interface {
	Match(r *http.Request) (req Requirements, public bool)
}

// Static applies the same Requirements to every request
type Static Requirements

func (s Static) Match(*http.Request) (Requirements, bool) {
	return Requirements(s), false
}

// Route is one entry of a route requirements file
type Route struct {
	Path                string   `yaml:"path"`
	Public              bool     `yaml:"public,omitempty"`
	RequiredRole        string   `yaml:"required_role,omitempty"`
	AllowedRoles        []string `yaml:"allowed_roles,omitempty"`
	RequiredPermissions []string `yaml:"required_permissions,omitempty"`
	FallbackPath        string   `yaml:"fallback_path,omitempty"`
	ShowAccessDenied    *bool    `yaml:"show_access_denied,omitempty"`
}

// routeFile is the on-disk layout:
//
//	defaults:
//	  fallback_path: /unauthorized
//	routes:
//	  - path: /admin
//	    required_role: System Administrator
//	  - path: /reports
//	    required_permissions: ["reports:read"]
type routeFile struct {
	Defaults Route   `yaml:"defaults"`
	Routes   []Route `yaml:"routes"`
}

type compiledRoute struct {
	prefix string
	public bool
	req    Requirements
}

// RouteTable maps URL path prefixes to Requirements. The longest matching
// prefix wins; unmatched paths get the defaults. Safe for concurrent use and
// replaceable at runtime.
type RouteTable struct {
	mu       sync.RWMutex
	routes   []compiledRoute
	defaults Requirements
}

// ParseRouteTable parses a YAML route requirements document
func ParseRouteTable(data []byte) (*RouteTable, error) {
	var file routeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse route table: %w", err)
	}

	defaults, err := file.Defaults.requirements(Requirements{})
	if err != nil {
		return nil, fmt.Errorf("defaults: %w", err)
	}

	seen := make(map[string]bool)
	routes := make([]compiledRoute, 0, len(file.Routes))
	for i, route := range file.Routes {
		prefix := normalizePrefix(route.Path)
		if prefix == "" {
			return nil, fmt.Errorf("route %d: path must start with /", i)
		}
		if seen[prefix] {
			return nil, fmt.Errorf("route %d: duplicate path %s", i, prefix)
		}
		seen[prefix] = true

		req, err := route.requirements(defaults)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", prefix, err)
		}
		routes = append(routes, compiledRoute{prefix: prefix, public: route.Public, req: req})
	}

	sort.SliceStable(routes, func(i, j int) bool {
		return len(routes[i].prefix) > len(routes[j].prefix)
	})

	return &RouteTable{routes: routes, defaults: defaults}, nil
}

// LoadRouteTable reads and parses the file at path
func LoadRouteTable(path string) (*RouteTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route table: %w", err)
	}
	return ParseRouteTable(data)
}

func (r Route) requirements(defaults Requirements) (Requirements, error) {
	req := Requirements{
		RequiredRole:     strings.TrimSpace(r.RequiredRole),
		AllowedRoles:     r.AllowedRoles,
		FallbackPath:     r.FallbackPath,
		ShowAccessDenied: r.ShowAccessDenied,
	}
	if req.FallbackPath == "" {
		req.FallbackPath = defaults.FallbackPath
	}
	if req.FallbackPath != "" && !strings.HasPrefix(req.FallbackPath, "/") {
		return req, fmt.Errorf("fallback_path %q must start with /", req.FallbackPath)
	}
	if req.ShowAccessDenied == nil {
		req.ShowAccessDenied = defaults.ShowAccessDenied
	}
	for _, raw := range r.RequiredPermissions {
		p, err := rbac.ParsePermission(raw)
		if err != nil {
			return req, err
		}
		req.RequiredPermissions = append(req.RequiredPermissions, p)
	}
	return req, nil
}

func normalizePrefix(p string) string {
	p = strings.TrimSpace(p)
	if !strings.HasPrefix(p, "/") {
		return ""
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}

// Lookup returns the requirements for a URL path
func (t *RouteTable) Lookup(path string) (Requirements, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, route := range t.routes {
		if route.prefix == "/" || path == route.prefix || strings.HasPrefix(path, route.prefix+"/") {
			return route.req, route.public
		}
	}
	return t.defaults, false
}

// Match implements RequirementsSource
func (t *RouteTable) Match(r *http.Request) (Requirements, bool) {
	return t.Lookup(r.URL.Path)
}

// Replace swaps in other's routes
func (t *RouteTable) Replace(other *RouteTable) {
	other.mu.RLock()
	routes, defaults := other.routes, other.defaults
	other.mu.RUnlock()

	t.mu.Lock()
	t.routes, t.defaults = routes, defaults
	t.mu.Unlock()
}

// Len returns the number of configured routes
func (t *RouteTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes)
}
