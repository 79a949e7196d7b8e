package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store persists login activity
type Store interface {
	Insert(ctx context.Context, entry *Entry) error
	// List returns the newest entries first
	List(ctx context.Context, limit int) ([]Entry, error)
	// Before returns entries created strictly before cutoff, oldest first
	Before(ctx context.Context, cutoff time.Time) ([]Entry, error)
	// PurgeBefore deletes entries created strictly before cutoff
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// DefaultListLimit caps List when no limit is given
const DefaultListLimit = 100

// MaxListLimit is the largest page List will return
const MaxListLimit = 1000

// PostgresStore implements Store on the login_activity table
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new activity store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Insert appends one entry and sets its ID
func (s *PostgresStore) Insert(ctx context.Context, entry *Entry) error {
	info, err := json.Marshal(entry.RoleInfo)
	if err != nil {
		return fmt.Errorf("failed to marshal role info: %w", err)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	err = s.db.QueryRowContext(ctx,
		`INSERT INTO login_activity (user_email, role_info, created_at) VALUES ($1, $2, $3) RETURNING id`,
		entry.UserEmail, string(info), entry.CreatedAt.UTC(),
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to insert login activity: %w", err)
	}
	return nil
}

// List returns up to limit entries, newest first
func (s *PostgresStore) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_email, role_info, created_at
		FROM login_activity
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list login activity: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Before returns entries older than cutoff, oldest first
func (s *PostgresStore) Before(ctx context.Context, cutoff time.Time) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_email, role_info, created_at
		FROM login_activity
		WHERE created_at < $1
		ORDER BY created_at, id
	`, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query expiring login activity: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// PurgeBefore deletes entries older than cutoff
func (s *PostgresStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM login_activity WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge login activity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged rows: %w", err)
	}
	return n, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	entries := []Entry{}
	for rows.Next() {
		var (
			e    Entry
			info []byte
		)
		if err := rows.Scan(&e.ID, &e.UserEmail, &info, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan login activity: %w", err)
		}
		if len(info) > 0 {
			if err := json.Unmarshal(info, &e.RoleInfo); err != nil {
				return nil, fmt.Errorf("failed to decode role info for entry %d: %w", e.ID, err)
			}
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read login activity: %w", err)
	}
	return entries, nil
}
