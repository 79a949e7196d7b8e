package rbac

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/portal/pkg/observability"
)

// DefaultResolveTimeout bounds a single resolution
const DefaultResolveTimeout = 12 * time.Second

// ActivityRecorder receives successful resolutions. Record must not block;
// its result channel is informational only.
type ActivityRecorder interface {
	Record(ctx context.Context, record *RoleRecord) <-chan error
}

// Resolver turns a verified email into a single authoritative RoleRecord
type Resolver struct {
	store    Store
	activity ActivityRecorder
	cache    *RoleCache
	timeout  time.Duration
	logger   *observability.Logger
	metrics  *observability.Metrics
	group    singleflight.Group
}

// ResolverOption customizes a Resolver
type ResolverOption func(*Resolver)

func WithActivityRecorder(a ActivityRecorder) ResolverOption {
	return func(r *Resolver) { r.activity = a }
}

func WithCache(c *RoleCache) ResolverOption {
	return func(r *Resolver) { r.cache = c }
}

// WithTimeout overrides DefaultResolveTimeout; non-positive values are ignored
func WithTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithLogger(l *observability.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithMetrics(m *observability.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver creates a resolver over store
func NewResolver(store Store, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:   store,
		timeout: DefaultResolveTimeout,
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the role record for email or a *ResolutionError.
//
// The returned record is a private copy. Concurrent calls for the same email
// share one database round trip; each caller still gets its own copy and its
// own deadline.
func (r *Resolver) Resolve(ctx context.Context, email string) (record *RoleRecord, err error) {
	email = strings.TrimSpace(email)
	start := time.Now()

	ctx, span := observability.Tracer().Start(ctx, "rbac.Resolve")
	defer func() {
		outcome := outcomeLabel(err)
		span.SetAttributes(attribute.String("portal.resolution.outcome", outcome))
		if err != nil {
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
		r.metrics.ObserveRoleResolution(ctx, outcome, time.Since(start))
	}()

	if email == "" {
		err = newResolutionError(ErrMissingEmail, "", nil)
		r.logger.Warn("Role resolution requested without an email")
		return nil, err
	}

	if r.cache != nil {
		if cached, ok := r.cache.Get(ctx, email); ok {
			return cached, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ch := r.group.DoChan(email, func() (interface{}, error) {
		// Shared work must not die with whichever caller started it.
		work, cancelWork := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancelWork()
		return r.lookup(work, email)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*RoleRecord).Clone(), nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = newResolutionError(ErrResolutionTimeout, email, ctx.Err())
			r.logger.WithField("user_email", email).WithField("timeout", r.timeout.String()).
				Error("Role resolution timed out")
			return nil, err
		}
		return nil, newResolutionError(ErrLookupFailed, email, ctx.Err())
	}
}

func (r *Resolver) lookup(ctx context.Context, email string) (*RoleRecord, error) {
	log := r.logger.WithField("user_email", email)

	rows, err := r.store.LookupRoles(ctx, email)
	if err != nil {
		var re *ResolutionError
		if !errors.As(err, &re) {
			kind := ErrLookupFailed
			if errors.Is(err, context.DeadlineExceeded) {
				kind = ErrResolutionTimeout
			}
			re = newResolutionError(kind, email, err)
		}
		re.Email = email
		entry := log.WithError(re.Err).WithField("kind", re.Kind.Error())
		if re.IsConfiguration() {
			entry.WithField("remediation", re.Remediation).Error("Role lookup is misconfigured")
		} else {
			entry.Error("Role lookup failed")
		}
		return nil, re
	}

	if len(rows) == 0 {
		return nil, r.classifyMissingRole(ctx, email)
	}

	if len(rows) > 1 {
		r.metrics.ObserveMultipleRoleRows()
		log.WithField("row_count", len(rows)).
			Warn("Role lookup returned multiple rows; using the first")
	}

	record := rows[0]
	if record.Permissions == nil {
		record.Permissions = PermissionSet{}
	}
	if record.UserEmail == "" {
		record.UserEmail = email
	}

	log.WithFields(map[string]interface{}{
		"role":        record.RoleName,
		"role_id":     record.RoleID,
		"division":    record.Division(),
		"is_admin":    record.IsAdmin,
		"permissions": record.Permissions.Strings(),
	}).Info("Role resolved")

	if r.cache != nil {
		r.cache.Set(ctx, email, &record)
	}
	if r.activity != nil {
		r.activity.Record(ctx, record.Clone())
	}

	return &record, nil
}

func (r *Resolver) classifyMissingRole(ctx context.Context, email string) error {
	log := r.logger.WithField("user_email", email)

	isStaff, err := r.store.StaffExists(ctx, email)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return newResolutionError(ErrResolutionTimeout, email, err)
		}
		log.WithError(err).Error("Staff directory lookup failed")
		return newResolutionError(ErrLookupFailed, email, err)
	}

	if isStaff {
		log.WithField("staff_directory", true).Warn("Staff member has no role assigned")
		return newResolutionError(ErrPendingRoleAssignment, email, nil)
	}

	log.WithField("staff_directory", false).Warn("Account not found in roles or staff directory")
	return newResolutionError(ErrAccountNotFound, email, nil)
}
