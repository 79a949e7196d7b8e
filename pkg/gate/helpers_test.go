package gate

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/platinummonkey/portal/pkg/rbac"
)

// resolutionErr produces a real *rbac.ResolutionError of the given kind by
// driving the resolver against a store that yields it.
func resolutionErr(t *testing.T, kind error) error {
	t.Helper()
	store := &kindStore{kind: kind}
	_, err := rbac.NewResolver(store).Resolve(context.Background(), store.email())
	if !errors.Is(err, kind) {
		t.Fatalf("could not produce %v, got %v", kind, err)
	}
	return err
}

type kindStore struct{ kind error }

func (k *kindStore) email() string {
	if k.kind == rbac.ErrMissingEmail {
		return ""
	}
	return "someone@example.org"
}

func (k *kindStore) LookupRoles(ctx context.Context, email string) ([]rbac.RoleRecord, error) {
	switch k.kind {
	case rbac.ErrAccountNotFound, rbac.ErrPendingRoleAssignment:
		return nil, nil
	case rbac.ErrResolutionTimeout:
		return nil, context.DeadlineExceeded
	default:
		return nil, &rbac.ResolutionError{Kind: k.kind, Message: "configuration", Remediation: "fix it"}
	}
}

func (k *kindStore) StaffExists(ctx context.Context, email string) (bool, error) {
	return k.kind == rbac.ErrPendingRoleAssignment, nil
}

// scriptedResolver answers each call from a queue of gated responses
type scriptedResolver struct {
	mu    sync.Mutex
	calls []chan scriptedResult
	index int
}

type scriptedResult struct {
	role *rbac.RoleRecord
	err  error
}

func newScriptedResolver(n int) *scriptedResolver {
	s := &scriptedResolver{}
	for i := 0; i < n; i++ {
		s.calls = append(s.calls, make(chan scriptedResult, 1))
	}
	return s
}

// answer releases call i
func (s *scriptedResolver) answer(i int, role *rbac.RoleRecord, err error) {
	s.calls[i] <- scriptedResult{role: role, err: err}
}

func (s *scriptedResolver) Resolve(ctx context.Context, email string) (*rbac.RoleRecord, error) {
	s.mu.Lock()
	ch := s.calls[s.index]
	s.index++
	s.mu.Unlock()

	// Results are delivered even after ctx is cancelled, as a slow
	// database would.
	res := <-ch
	return res.role, res.err
}

func (s *scriptedResolver) started() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

type staticResolver struct {
	role *rbac.RoleRecord
	err  error
}

func (s staticResolver) Resolve(ctx context.Context, email string) (*rbac.RoleRecord, error) {
	return s.role, s.err
}
