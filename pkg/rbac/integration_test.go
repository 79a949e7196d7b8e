//go:build integration

package rbac

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres starts a throwaway Postgres with the portal schema applied
func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	provider.Close()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("portal_test"),
		postgres.WithUsername("portal"),
		postgres.WithPassword("portal_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	require.NoError(t, db.PingContext(ctx))

	t.Cleanup(func() {
		db.Close()
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	require.NoError(t, RunMigrations(ctx, db, nil))
	return db
}

func TestIntegration_ResolveAgainstPostgres(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	store := NewPostgresStore(db)

	// Migrations are idempotent.
	require.NoError(t, RunMigrations(ctx, db, nil))

	created, err := store.SeedRoles(ctx, BuiltInRoles())
	require.NoError(t, err)
	assert.Equal(t, len(BuiltInRoles()), created)

	created, err = store.SeedRoles(ctx, BuiltInRoles())
	require.NoError(t, err)
	assert.Zero(t, created)

	_, err = db.ExecContext(ctx, `INSERT INTO divisions (name) VALUES ('Finance')`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO staff (email, full_name) VALUES ('pending@example.org', 'Pat Pending')`)
	require.NoError(t, err)
	require.NoError(t, store.AssignRole(ctx, "Ann@Example.org", RoleFinanceOfficer, "Finance"))
	require.NoError(t, store.AssignRole(ctx, "root@example.org", RoleSystemAdministrator, ""))

	resolver := NewResolver(store)

	t.Run("found with division", func(t *testing.T) {
		record, err := resolver.Resolve(ctx, "ann@example.org")
		require.NoError(t, err)
		assert.Equal(t, RoleFinanceOfficer, record.RoleName)
		assert.Equal(t, "Finance", record.Division())
		assert.True(t, HasPermission(record, ResourceReports, ActionRead))
		assert.False(t, HasPermission(record, ResourceReports, ActionWrite))
	})

	t.Run("admin without division", func(t *testing.T) {
		record, err := resolver.Resolve(ctx, "root@example.org")
		require.NoError(t, err)
		assert.True(t, record.IsAdmin)
		assert.Equal(t, NoDivisionLabel, record.Division())
	})

	t.Run("pending", func(t *testing.T) {
		_, err := resolver.Resolve(ctx, "PENDING@example.org")
		assert.ErrorIs(t, err, ErrPendingRoleAssignment)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := resolver.Resolve(ctx, "stranger@example.org")
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("unknown division is rejected", func(t *testing.T) {
		err := store.AssignRole(ctx, "ann@example.org", RoleStaff, "Finanse")
		assert.EqualError(t, err, `division "Finanse" does not exist`)

		record, err := resolver.Resolve(ctx, "ann@example.org")
		require.NoError(t, err)
		assert.Equal(t, RoleFinanceOfficer, record.RoleName, "previous assignment is kept")
		assert.Equal(t, "Finance", record.Division())
	})

	t.Run("missing function", func(t *testing.T) {
		_, err := db.ExecContext(ctx, `DROP FUNCTION get_user_role(TEXT)`)
		require.NoError(t, err)

		_, err = resolver.Resolve(ctx, "ann@example.org")
		assert.ErrorIs(t, err, ErrLookupMissing)
	})
}
