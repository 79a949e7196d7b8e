package activity

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newSQLiteStore returns a store over an in-memory database carrying the
// login_activity shape.
func newSQLiteStore(t *testing.T) (*PostgresStore, *sql.DB) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE login_activity (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_email TEXT NOT NULL,
			role_info TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)
	`)
	require.NoError(t, err)

	return NewPostgresStore(db), db
}

func entryAt(email string, at time.Time) *Entry {
	division := "Finance"
	return &Entry{
		UserEmail: email,
		RoleInfo: RoleInfo{
			RoleName:       "Finance Officer",
			DivisionName:   &division,
			LoginTimestamp: at,
		},
		CreatedAt: at,
	}
}

func TestPostgresStore_InsertAndList(t *testing.T) {
	store, _ := newSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, email := range []string{"a@example.org", "b@example.org", "c@example.org"} {
		e := entryAt(email, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.Insert(ctx, e))
		assert.NotZero(t, e.ID)
	}

	entries, err := store.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "c@example.org", entries[0].UserEmail)
	assert.Equal(t, "b@example.org", entries[1].UserEmail)
	assert.Equal(t, "Finance Officer", entries[0].RoleInfo.RoleName)
	require.NotNil(t, entries[0].RoleInfo.DivisionName)
	assert.Equal(t, "Finance", *entries[0].RoleInfo.DivisionName)
	assert.True(t, entries[0].CreatedAt.Equal(base.Add(2*time.Minute)))

	all, err := store.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestPostgresStore_ListEmpty(t *testing.T) {
	store, _ := newSQLiteStore(t)

	entries, err := store.List(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestPostgresStore_BeforeAndPurge(t *testing.T) {
	store, _ := newSQLiteStore(t)
	ctx := context.Background()
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Insert(ctx, entryAt("old1@example.org", cutoff.Add(-48*time.Hour))))
	require.NoError(t, store.Insert(ctx, entryAt("old2@example.org", cutoff.Add(-time.Hour))))
	require.NoError(t, store.Insert(ctx, entryAt("edge@example.org", cutoff)))
	require.NoError(t, store.Insert(ctx, entryAt("new@example.org", cutoff.Add(time.Hour))))

	expiring, err := store.Before(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, expiring, 2)
	assert.Equal(t, "old1@example.org", expiring[0].UserEmail)
	assert.Equal(t, "old2@example.org", expiring[1].UserEmail)

	purged, err := store.PurgeBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged)

	remaining, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	assert.Equal(t, "new@example.org", remaining[0].UserEmail)
	assert.Equal(t, "edge@example.org", remaining[1].UserEmail)
}

func TestPostgresStore_NoDivision(t *testing.T) {
	store, _ := newSQLiteStore(t)
	ctx := context.Background()

	e := entryAt("nodiv@example.org", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	e.RoleInfo.DivisionName = nil
	require.NoError(t, store.Insert(ctx, e))

	entries, err := store.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].RoleInfo.DivisionName)
}
