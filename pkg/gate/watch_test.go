package gate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchRouteTable_Reloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("routes:\n  - path: /admin\n    required_role: Staff\n"), 0o600))

	table, err := LoadRouteTable(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- WatchRouteTable(ctx, path, table, nil) }()

	lookupRole := func() string {
		req, _ := table.Lookup("/admin")
		return req.RequiredRole
	}

	// The watcher may not be registered yet; keep rewriting until it sees a change.
	require.Eventually(t, func() bool {
		os.WriteFile(path, []byte("routes:\n  - path: /admin\n    required_role: System Administrator\n"), 0o600)
		return lookupRole() == "System Administrator"
	}, 3*time.Second, 50*time.Millisecond)

	// A broken file keeps the previous table.
	require.NoError(t, os.WriteFile(path, []byte("routes: [\n"), 0o600))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, "System Administrator", lookupRole())

	// Unrelated files in the directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0o600))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatchRouteTable_MissingDirectory(t *testing.T) {
	table, err := ParseRouteTable(nil)
	require.NoError(t, err)

	err = WatchRouteTable(context.Background(), filepath.Join(t.TempDir(), "nope", "routes.yaml"), table, nil)
	assert.Error(t, err)
}
