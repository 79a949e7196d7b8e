package rbac

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Resource names a portal area a role can be granted access to
type Resource string

const (
	ResourceDashboard     Resource = "dashboard"
	ResourceAssets        Resource = "assets"
	ResourceObjectives    Resource = "objectives"
	ResourceTickets       Resource = "tickets"
	ResourceReports       Resource = "reports"
	ResourceDocuments     Resource = "documents"
	ResourceUsers         Resource = "users"
	ResourceLoginActivity Resource = "login_activity"

	// WildcardResource is the sentinel key whose wildcard action grants everything
	WildcardResource Resource = "all"
)

// Action represents an action that can be performed on a resource
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionExport Action = "export"

	// WildcardAction is the sentinel action meaning "any action"
	WildcardAction Action = "*"
)

// Permission is a (resource, action) pair
type Permission struct {
	Resource Resource `json:"resource" yaml:"resource" validate:"required"`
	Action   Action   `json:"action" yaml:"action" validate:"required"`
}

// String returns "resource:action"
func (p Permission) String() string {
	return string(p.Resource) + ":" + string(p.Action)
}

// ParsePermission parses "resource:action"
func ParsePermission(s string) (Permission, error) {
	resource, action, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || resource == "" || action == "" {
		return Permission{}, fmt.Errorf("invalid permission %q: expected resource:action", s)
	}
	return Permission{Resource: Resource(resource), Action: Action(action)}, nil
}

// ActionSet is the set of actions granted on one resource
type ActionSet map[Action]struct{}

// NewActionSet builds a set from the given actions
func NewActionSet(actions ...Action) ActionSet {
	set := make(ActionSet, len(actions))
	for _, a := range actions {
		set[a] = struct{}{}
	}
	return set
}

// Has reports whether a is literally present
func (s ActionSet) Has(a Action) bool {
	_, ok := s[a]
	return ok
}

// Allows reports whether a is present or the set holds the wildcard
func (s ActionSet) Allows(a Action) bool {
	return s.Has(a) || s.Has(WildcardAction)
}

// Sorted returns the actions in lexical order
func (s ActionSet) Sorted() []Action {
	out := make([]Action, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s ActionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON accepts the shapes found in stored role permissions:
//
//	["read", "write"]          list of actions
//	"*"                        a single action
//	{"read": true, "write": false}  action flags, true entries kept
func (s *ActionSet) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	set := ActionSet{}

	switch {
	case bytes.Equal(data, []byte("null")):
	case len(data) > 0 && data[0] == '[':
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("action list: %w", err)
		}
		for _, a := range list {
			set[Action(a)] = struct{}{}
		}
	case len(data) > 0 && data[0] == '"':
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		set[Action(single)] = struct{}{}
	case len(data) > 0 && data[0] == '{':
		var flags map[string]bool
		if err := json.Unmarshal(data, &flags); err != nil {
			return fmt.Errorf("action flags: %w", err)
		}
		for a, on := range flags {
			if on {
				set[Action(a)] = struct{}{}
			}
		}
	default:
		return fmt.Errorf("unsupported action set %s", string(data))
	}

	*s = set
	return nil
}

// PermissionSet maps resources to the actions granted on them
type PermissionSet map[Resource]ActionSet

// Grants reports whether the set itself (ignoring admin) allows action on resource
func (p PermissionSet) Grants(resource Resource, action Action) bool {
	if p[WildcardResource].Has(WildcardAction) {
		return true
	}
	return p[resource].Allows(action)
}

// Strings flattens the set to sorted "resource:action" entries for logging
func (p PermissionSet) Strings() []string {
	out := make([]string, 0, len(p))
	for r, actions := range p {
		for _, a := range actions.Sorted() {
			out = append(out, Permission{Resource: r, Action: a}.String())
		}
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy
func (p PermissionSet) Clone() PermissionSet {
	if p == nil {
		return nil
	}
	out := make(PermissionSet, len(p))
	for r, actions := range p {
		cp := make(ActionSet, len(actions))
		for a := range actions {
			cp[a] = struct{}{}
		}
		out[r] = cp
	}
	return out
}

// ParsePermissionSet decodes the permissions column of a role lookup row
func ParsePermissionSet(raw []byte) (PermissionSet, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return PermissionSet{}, nil
	}
	if raw[0] != '{' {
		return nil, fmt.Errorf("permissions must be a JSON object, got %s", string(raw))
	}
	var set PermissionSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, err
	}
	for r, actions := range set {
		if actions == nil {
			set[r] = ActionSet{}
		}
	}
	return set, nil
}

// NoDivisionLabel is logged and displayed when a role has no division
const NoDivisionLabel = "No Division Assigned"

// RoleRecord is the authoritative authorization profile for one identity
type RoleRecord struct {
	UserEmail    string        `json:"user_email"`
	RoleName     string        `json:"role_name"`
	RoleID       string        `json:"role_id"`
	DivisionID   *string       `json:"division_id"`
	DivisionName *string       `json:"division_name"`
	Permissions  PermissionSet `json:"permissions"`
	IsAdmin      bool          `json:"is_admin"`
}

// Division returns the division name or NoDivisionLabel
func (r *RoleRecord) Division() string {
	if r.DivisionName == nil || *r.DivisionName == "" {
		return NoDivisionLabel
	}
	return *r.DivisionName
}

// HasDivision reports whether a division is assigned
func (r *RoleRecord) HasDivision() bool {
	return r.DivisionID != nil
}

// Clone returns a deep copy so callers never share mutable state
func (r *RoleRecord) Clone() *RoleRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.DivisionID != nil {
		v := *r.DivisionID
		cp.DivisionID = &v
	}
	if r.DivisionName != nil {
		v := *r.DivisionName
		cp.DivisionName = &v
	}
	cp.Permissions = r.Permissions.Clone()
	return &cp
}

// RoleTemplate seeds a role row
type RoleTemplate struct {
	Name        string
	Description string
	IsAdmin     bool
	Permissions PermissionSet
}

// Built-in role names
const (
	RoleSystemAdministrator = "System Administrator"
	RoleDivisionManager     = "Division Manager"
	RoleFinanceOfficer      = "Finance Officer"
	RoleStaff               = "Staff"
)

// BuiltInRoles returns the roles seeded by `portal migrate --seed`
func BuiltInRoles() []RoleTemplate {
	return []RoleTemplate{
		{
			Name:        RoleSystemAdministrator,
			Description: "Unrestricted access to every portal area",
			IsAdmin:     true,
			Permissions: PermissionSet{WildcardResource: NewActionSet(WildcardAction)},
		},
		{
			Name:        RoleDivisionManager,
			Description: "Manages objectives, tickets and reports for a division",
			Permissions: PermissionSet{
				ResourceDashboard:  NewActionSet(ActionRead),
				ResourceObjectives: NewActionSet(WildcardAction),
				ResourceTickets:    NewActionSet(WildcardAction),
				ResourceReports:    NewActionSet(ActionRead, ActionWrite, ActionExport),
				ResourceDocuments:  NewActionSet(ActionRead, ActionWrite),
			},
		},
		{
			Name:        RoleFinanceOfficer,
			Description: "Reads financial reports and tracks assets",
			Permissions: PermissionSet{
				ResourceDashboard: NewActionSet(ActionRead),
				ResourceReports:   NewActionSet(ActionRead),
				ResourceAssets:    NewActionSet(ActionRead, ActionUpdate),
			},
		},
		{
			Name:        RoleStaff,
			Description: "Default access for staff members",
			Permissions: PermissionSet{
				ResourceDashboard: NewActionSet(ActionRead),
				ResourceTickets:   NewActionSet(ActionRead, ActionCreate),
				ResourceDocuments: NewActionSet(ActionRead),
			},
		},
	}
}
