package activity

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/portal/pkg/async"
	"github.com/platinummonkey/portal/pkg/observability"
	"github.com/platinummonkey/portal/pkg/rbac"
)

// DefaultWriteTimeout bounds a single login activity insert
const DefaultWriteTimeout = 5 * time.Second

// ErrNilRecord is reported when Record is called without a role
var ErrNilRecord = errors.New("cannot record login activity without a role record")

// Recorder writes login activity in the background
type Recorder struct {
	store   Store
	timeout time.Duration
	now     func() time.Time
	logger  *observability.Logger
	metrics *observability.Metrics
}

var _ rbac.ActivityRecorder = (*Recorder)(nil)

// RecorderOption customizes a Recorder
type RecorderOption func(*Recorder)

func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

func WithLogger(l *observability.Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithMetrics(m *observability.Metrics) RecorderOption {
	return func(r *Recorder) { r.metrics = m }
}

// NewRecorder creates a recorder over store
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:   store,
		timeout: DefaultWriteTimeout,
		now:     time.Now,
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record schedules an insert for record and returns at once. The channel
// yields the insert's result and is then closed.
func (r *Recorder) Record(ctx context.Context, record *rbac.RoleRecord) <-chan error {
	if record == nil {
		ch := make(chan error, 1)
		ch <- ErrNilRecord
		close(ch)
		r.metrics.ObserveActivityWrite("error")
		return ch
	}

	entry := NewEntry(record, r.now())
	log := r.logger.WithField("user_email", entry.UserEmail)

	return async.Go(ctx, r.timeout, "login activity", log, func(ctx context.Context) error {
		if err := r.store.Insert(ctx, entry); err != nil {
			r.metrics.ObserveActivityWrite("error")
			return err
		}
		r.metrics.ObserveActivityWrite("ok")
		log.WithField("activity_id", entry.ID).Debug("Login activity recorded")
		return nil
	})
}
