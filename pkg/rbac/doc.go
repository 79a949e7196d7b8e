// Package rbac resolves a verified identity to its portal role and answers
// permission questions against it.
//
// # Role records
//
// A RoleRecord is produced by the get_user_role SQL function: role name,
// optional division, a PermissionSet and an admin flag. PermissionSet maps a
// Resource to an ActionSet. Two sentinels exist:
//
//	WildcardResource ("all")  with WildcardAction grants every pair
//	WildcardAction   ("*")    on a resource grants every action on it
//
// # Evaluation
//
//	rbac.HasPermission(role, rbac.ResourceReports, rbac.ActionWrite)
//	rbac.CheckResourceAccess(role, rbac.ResourceTickets)          // read
//	rbac.MissingPermissions(role, required)                       // unmet subset
//
// Admins pass every check. All evaluation functions are pure.
//
// # Resolution
//
// Resolver.Resolve performs one lookup per email (concurrent callers for the
// same email share it), bounded by a timeout. It distinguishes:
//
//	found                      *RoleRecord
//	staff without role         ErrPendingRoleAssignment
//	unknown account            ErrAccountNotFound
//	function missing (42883)   ErrLookupMissing       configuration
//	return type drift (42804)  ErrLookupTypeMismatch  configuration
//	deadline                   ErrResolutionTimeout
//
// Successful resolutions are handed to an ActivityRecorder without waiting.
package rbac
