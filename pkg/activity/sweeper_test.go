package activity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/portal/pkg/observability"
)

type recordingArchiver struct {
	cutoff  time.Time
	entries []Entry
	err     error
}

func (a *recordingArchiver) Archive(ctx context.Context, cutoff time.Time, entries []Entry) error {
	if a.err != nil {
		return a.err
	}
	a.cutoff = cutoff
	a.entries = append(a.entries, entries...)
	return nil
}

func seededStore(t *testing.T, now time.Time) *PostgresStore {
	t.Helper()
	store, _ := newSQLiteStore(t)
	ctx := context.Background()
	for _, age := range []time.Duration{100 * 24 * time.Hour, 95 * 24 * time.Hour, 10 * 24 * time.Hour, time.Hour} {
		require.NoError(t, store.Insert(ctx, entryAt("user@example.org", now.Add(-age))))
	}
	return store
}

func TestNewSweeper_Defaults(t *testing.T) {
	s, err := NewSweeper(&memoryStore{}, SweeperConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultSchedule, s.cfg.Schedule)
	assert.Equal(t, DefaultRetention, s.cfg.Retention)

	_, err = NewSweeper(&memoryStore{}, SweeperConfig{Schedule: "every tuesday"})
	assert.Error(t, err)
}

func TestSweeper_PurgesExpired(t *testing.T) {
	now := time.Date(2026, 6, 1, 3, 30, 0, 0, time.UTC)
	store := seededStore(t, now)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	s, err := NewSweeper(store, SweeperConfig{Retention: 90 * 24 * time.Hour},
		WithSweeperClock(func() time.Time { return now }),
		WithSweeperMetrics(metrics),
	)
	require.NoError(t, err)

	result, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Purged)
	assert.Zero(t, result.Archived)
	assert.True(t, result.Cutoff.Equal(now.Add(-90*24*time.Hour)))

	remaining, err := store.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.ActivityPurgedTotal))
}

func TestSweeper_ArchivesBeforePurge(t *testing.T) {
	now := time.Date(2026, 6, 1, 3, 30, 0, 0, time.UTC)
	store := seededStore(t, now)
	archiver := &recordingArchiver{}

	s, err := NewSweeper(store, SweeperConfig{Retention: 90 * 24 * time.Hour},
		WithSweeperClock(func() time.Time { return now }),
		WithArchiver(archiver),
	)
	require.NoError(t, err)

	result, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Archived)
	assert.Equal(t, int64(2), result.Purged)
	assert.Len(t, archiver.entries, 2)
	assert.True(t, archiver.cutoff.Equal(result.Cutoff))
}

func TestSweeper_ArchiveFailureKeepsRows(t *testing.T) {
	now := time.Date(2026, 6, 1, 3, 30, 0, 0, time.UTC)
	store := seededStore(t, now)

	s, err := NewSweeper(store, SweeperConfig{Retention: 90 * 24 * time.Hour},
		WithSweeperClock(func() time.Time { return now }),
		WithArchiver(&recordingArchiver{err: errors.New("access denied")}),
	)
	require.NoError(t, err)

	_, err = s.Sweep(context.Background())
	assert.ErrorContains(t, err, "access denied")

	remaining, err := store.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, remaining, 4)
}

func TestSweeper_StartStop(t *testing.T) {
	s, err := NewSweeper(&memoryStore{}, SweeperConfig{Schedule: "@every 1h"})
	require.NoError(t, err)

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
	assert.NoError(t, s.Stop(ctx))
}
