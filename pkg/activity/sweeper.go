package activity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/portal/pkg/observability"
)

const (
	// DefaultSchedule runs the sweep daily at 03:30
	DefaultSchedule = "30 3 * * *"
	// DefaultRetention keeps roughly 90 days of sign-ins
	DefaultRetention = 2160 * time.Hour

	sweepTimeout = 10 * time.Minute
)

// Archiver receives expiring entries before they are deleted
type Archiver interface {
	Archive(ctx context.Context, cutoff time.Time, entries []Entry) error
}

// SweeperConfig configures retention
type SweeperConfig struct {
	Schedule  string
	Retention time.Duration
}

// SweepResult summarizes one sweep
type SweepResult struct {
	Cutoff   time.Time `json:"cutoff"`
	Archived int64     `json:"archived"`
	Purged   int64     `json:"purged"`
}

// Sweeper deletes login activity older than the retention window
type Sweeper struct {
	store    Store
	archiver Archiver
	cfg      SweeperConfig
	now      func() time.Time
	logger   *observability.Logger
	metrics  *observability.Metrics

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// SweeperOption customizes a Sweeper
type SweeperOption func(*Sweeper)

// WithArchiver archives rows before each purge. A failed archive aborts the purge.
func WithArchiver(a Archiver) SweeperOption {
	return func(s *Sweeper) { s.archiver = a }
}

func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

func WithSweeperLogger(l *observability.Logger) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithSweeperMetrics(m *observability.Metrics) SweeperOption {
	return func(s *Sweeper) { s.metrics = m }
}

// NewSweeper validates cfg and creates a sweeper. The schedule uses the
// standard five-field cron syntax.
func NewSweeper(store Store, cfg SweeperConfig, opts ...SweeperOption) (*Sweeper, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", cfg.Schedule, err)
	}

	s := &Sweeper{
		store:  store,
		cfg:    cfg,
		now:    time.Now,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sweep archives (when configured) and deletes entries older than the
// retention window.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	result := SweepResult{Cutoff: s.now().UTC().Add(-s.cfg.Retention)}
	log := s.logger.WithField("cutoff", result.Cutoff.Format(time.RFC3339))

	if s.archiver != nil {
		entries, err := s.store.Before(ctx, result.Cutoff)
		if err != nil {
			return result, err
		}
		if len(entries) > 0 {
			if err := s.archiver.Archive(ctx, result.Cutoff, entries); err != nil {
				log.WithError(err).Error("Login activity archive failed; rows kept")
				return result, fmt.Errorf("failed to archive login activity: %w", err)
			}
			result.Archived = int64(len(entries))
		}
	}

	purged, err := s.store.PurgeBefore(ctx, result.Cutoff)
	if err != nil {
		return result, err
	}
	result.Purged = purged

	s.metrics.ObserveActivitySweep(result.Archived, result.Purged)
	log.WithFields(map[string]interface{}{
		"archived": result.Archived,
		"purged":   result.Purged,
	}).Info("Login activity sweep completed")

	return result, nil
}

// Start schedules Sweep. Calling Start twice is a no-op.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.WithError(err).Error("Scheduled login activity sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	c.Start()

	s.cron = c
	s.running = true
	s.logger.WithFields(map[string]interface{}{
		"schedule":  s.cfg.Schedule,
		"retention": s.cfg.Retention.String(),
	}).Info("Login activity retention scheduled")
	return nil
}

// Stop unschedules the sweeper and waits for a running sweep, or ctx
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
