package rbac

// HasPermission reports whether role may perform action on resource.
//
// A nil role is never allowed. Admins are always allowed, before any
// resource-specific logic. Otherwise the wildcard resource holding the
// wildcard action allows everything, and a resource entry allows its listed
// actions plus anything when it holds the wildcard action.
func HasPermission(role *RoleRecord, resource Resource, action Action) bool {
	if role == nil {
		return false
	}
	if role.IsAdmin {
		return true
	}
	return role.Permissions.Grants(resource, action)
}

// CheckResourceAccess requires every action on resource. No actions means read.
func CheckResourceAccess(role *RoleRecord, resource Resource, actions ...Action) bool {
	if len(actions) == 0 {
		actions = []Action{ActionRead}
	}
	for _, action := range actions {
		if !HasPermission(role, resource, action) {
			return false
		}
	}
	return true
}

// MissingPermissions returns the entries of required that role does not hold,
// in input order.
func MissingPermissions(role *RoleRecord, required []Permission) []Permission {
	var missing []Permission
	for _, p := range required {
		if !HasPermission(role, p.Resource, p.Action) {
			missing = append(missing, p)
		}
	}
	return missing
}
