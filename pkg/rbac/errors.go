package rbac

import (
	"errors"
	"fmt"
)

// Sentinel kinds carried by *ResolutionError. Match with errors.Is.
var (
	// Authorization-state outcomes: the identity is known but unusable.
	ErrMissingEmail          = errors.New("no email available for the current session")
	ErrAccountNotFound       = errors.New("account not found")
	ErrPendingRoleAssignment = errors.New("role assignment pending")

	// Configuration errors, for operators.
	ErrLookupMissing      = errors.New("role lookup function is missing")
	ErrLookupTypeMismatch = errors.New("role lookup function return type mismatch")

	// Operational errors.
	ErrResolutionTimeout = errors.New("role resolution timed out")
	ErrInvalidRoleRecord = errors.New("role record is malformed")
	ErrLookupFailed      = errors.New("role lookup failed")
)

// ResolutionError describes why a role could not be resolved. Message is
// safe to show the end user; Remediation is operator guidance.
type ResolutionError struct {
	Kind        error
	Email       string
	Message     string
	Remediation string
	Err         error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return e.Kind.Error()
}

// Unwrap exposes both the kind and the cause to errors.Is/As
func (e *ResolutionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsConfiguration reports a deployment problem rather than an authorization outcome
func (e *ResolutionError) IsConfiguration() bool {
	return e.Kind == ErrLookupMissing || e.Kind == ErrLookupTypeMismatch
}

// IsAuthorizationState reports that the identity resolved to no usable role
func (e *ResolutionError) IsAuthorizationState() bool {
	return e.Kind == ErrAccountNotFound || e.Kind == ErrPendingRoleAssignment || e.Kind == ErrMissingEmail
}

const (
	msgMissingEmail  = "We could not determine which account you are signed in with. Please sign in again."
	msgNotFound      = "Your account was not found in the staff directory. Please contact your system administrator to request access."
	msgPending       = "Your account exists but no role has been assigned yet. Please contact your system administrator to have a role assigned."
	msgConfiguration = "Access control is not configured correctly. Please contact your system administrator."
	msgTimeout       = "Checking your access took too long. Please try again."
	msgUnavailable   = "We could not verify your access right now. Please try again."

	remediationLookupMissing = "The get_user_role database function does not exist. Apply the portal migrations (portal migrate) so the function is created."
	remediationTypeMismatch  = "get_user_role returns columns whose types do not match its declared RETURNS TABLE. Re-run the latest portal migration to re-create the function against the current roles/divisions schema."
)

func newResolutionError(kind error, email string, cause error) *ResolutionError {
	e := &ResolutionError{Kind: kind, Email: email, Err: cause}
	switch kind {
	case ErrMissingEmail:
		e.Message = msgMissingEmail
	case ErrAccountNotFound:
		e.Message = msgNotFound
	case ErrPendingRoleAssignment:
		e.Message = msgPending
	case ErrLookupMissing:
		e.Message = msgConfiguration
		e.Remediation = remediationLookupMissing
	case ErrLookupTypeMismatch:
		e.Message = msgConfiguration
		e.Remediation = remediationTypeMismatch
	case ErrResolutionTimeout:
		e.Message = msgTimeout
	default:
		e.Message = msgUnavailable
	}
	return e
}

// UserMessage returns end-user copy for any resolution failure
func UserMessage(err error) string {
	var re *ResolutionError
	if errors.As(err, &re) {
		return re.Message
	}
	return msgUnavailable
}

// outcomeLabel is the metrics/log label for a resolution result
func outcomeLabel(err error) string {
	var re *ResolutionError
	if !errors.As(err, &re) {
		if err == nil {
			return "found"
		}
		return "error"
	}
	switch re.Kind {
	case ErrMissingEmail:
		return "missing_email"
	case ErrAccountNotFound:
		return "not_found"
	case ErrPendingRoleAssignment:
		return "pending"
	case ErrLookupMissing:
		return "lookup_missing"
	case ErrLookupTypeMismatch:
		return "type_mismatch"
	case ErrResolutionTimeout:
		return "timeout"
	case ErrInvalidRoleRecord:
		return "invalid_record"
	default:
		return "error"
	}
}
