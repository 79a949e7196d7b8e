package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Store is the data source behind role resolution
type Store interface {
	// LookupRoles calls the authoritative role lookup for email. Rows are
	// returned in the order the database produced them.
	LookupRoles(ctx context.Context, email string) ([]RoleRecord, error)

	// StaffExists reports whether email is present in the staff directory
	StaffExists(ctx context.Context, email string) (bool, error)
}

// Postgres SQLSTATE codes that indicate a broken role lookup deployment
const (
	pqUndefinedFunction = "42883"
	pqDatatypeMismatch  = "42804"
)

// PostgresStore resolves roles through the get_user_role SQL function
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new role store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const lookupRolesQuery = `
	SELECT user_email, role_name, role_id, division_id, division_name, permissions, is_admin
	FROM get_user_role($1)
`

// LookupRoles calls get_user_role(user_email_input)
func (s *PostgresStore) LookupRoles(ctx context.Context, email string) ([]RoleRecord, error) {
	rows, err := s.db.QueryContext(ctx, lookupRolesQuery, email)
	if err != nil {
		return nil, classifyLookupError(email, err)
	}
	defer rows.Close()

	var records []RoleRecord
	for rows.Next() {
		record, err := scanRoleRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyLookupError(email, err)
	}

	return records, nil
}

func scanRoleRow(rows *sql.Rows) (*RoleRecord, error) {
	var (
		record       RoleRecord
		userEmail    sql.NullString
		roleID       sql.NullString
		divisionID   sql.NullString
		divisionName sql.NullString
		permissions  []byte
		isAdmin      sql.NullBool
	)

	if err := rows.Scan(&userEmail, &record.RoleName, &roleID, &divisionID, &divisionName, &permissions, &isAdmin); err != nil {
		return nil, classifyLookupError(userEmail.String, err)
	}

	perms, err := ParsePermissionSet(permissions)
	if err != nil {
		return nil, newResolutionError(ErrInvalidRoleRecord, userEmail.String, fmt.Errorf("failed to parse permissions: %w", err))
	}

	record.UserEmail = userEmail.String
	record.RoleID = roleID.String
	if divisionID.Valid {
		record.DivisionID = &divisionID.String
	}
	if divisionName.Valid {
		record.DivisionName = &divisionName.String
	}
	record.Permissions = perms
	record.IsAdmin = isAdmin.Valid && isAdmin.Bool

	return &record, nil
}

// StaffExists checks the staff directory, case-insensitively
func (s *PostgresStore) StaffExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM staff WHERE lower(email) = lower($1))`,
		email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query staff directory: %w", err)
	}
	return exists, nil
}

// SeedRoles inserts the given templates, leaving existing roles untouched.
// Returns the number of roles created.
func (s *PostgresStore) SeedRoles(ctx context.Context, templates []RoleTemplate) (int, error) {
	created := 0
	for _, tmpl := range templates {
		perms, err := json.Marshal(tmpl.Permissions)
		if err != nil {
			return created, fmt.Errorf("failed to marshal permissions for %s: %w", tmpl.Name, err)
		}

		res, err := s.db.ExecContext(ctx, `
			INSERT INTO roles (name, description, permissions, is_admin)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (name) DO NOTHING
		`, tmpl.Name, tmpl.Description, string(perms), tmpl.IsAdmin)
		if err != nil {
			return created, fmt.Errorf("failed to seed role %s: %w", tmpl.Name, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			created++
		}
	}
	return created, nil
}

// AssignRole gives email the named role, replacing any previous assignment.
// divisionName may be empty for "no division"; a non-empty name must exist.
func (s *PostgresStore) AssignRole(ctx context.Context, email, roleName, divisionName string) error {
	var division interface{}
	if divisionName != "" {
		var id int64
		err := s.db.QueryRowContext(ctx, `SELECT id FROM divisions WHERE name = $1`, divisionName).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("division %q does not exist", divisionName)
		}
		if err != nil {
			return fmt.Errorf("failed to look up division: %w", err)
		}
		division = id
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO user_roles (user_email, role_id, division_id)
		SELECT $1, r.id, $3::bigint
		FROM roles r
		WHERE r.name = $2
		ON CONFLICT (user_email) DO UPDATE
		SET role_id = EXCLUDED.role_id, division_id = EXCLUDED.division_id, updated_at = NOW()
	`, email, roleName, division)
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("role %q does not exist", roleName)
	}
	return nil
}

// classifyLookupError maps Postgres failures of the lookup call to resolution kinds
func classifyLookupError(email string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqUndefinedFunction:
			return newResolutionError(ErrLookupMissing, email, err)
		case pqDatatypeMismatch:
			return newResolutionError(ErrLookupTypeMismatch, email, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newResolutionError(ErrResolutionTimeout, email, err)
	}
	return newResolutionError(ErrLookupFailed, email, err)
}
