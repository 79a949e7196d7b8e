package cli

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/portal/pkg/config"
	"github.com/platinummonkey/portal/pkg/identity"
	"github.com/platinummonkey/portal/pkg/rbac"
)

var roleColumns = []string{"user_email", "role_name", "role_id", "division_id", "division_name", "permissions", "is_admin"}

var dsnCounter atomic.Int32

// testEnv returns an env whose database is a fresh sqlmock connection
func testEnv(t *testing.T, cfg *config.Config) (*env, sqlmock.Sqlmock) {
	t.Helper()

	dsn := fmt.Sprintf("cli_%s_%d", t.Name(), dsnCounter.Add(1))
	db, mock, err := sqlmock.NewWithDSN(dsn, sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	if cfg == nil {
		cfg = &config.Config{}
	}
	cfg.Database.URL = dsn
	cfg.Database.Timeout = time.Second
	if cfg.RoleTimeout == 0 {
		cfg.RoleTimeout = 2 * time.Second
	}

	return &env{
		log:        setupLogger("info", &bytes.Buffer{}),
		loadConfig: func() (*config.Config, error) { return cfg, nil },
		driver:     "sqlmock",
	}, mock
}

func run(t *testing.T, e *env, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCommand(e)
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand()
	assert.Equal(t, "portal", root.Name())

	expected := []string{"serve", "migrate", "assign", "verify-token", "resolve", "check", "profile", "sweep"}
	var names []string
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	for _, name := range expected {
		assert.Contains(t, names, name)
	}
}

func TestCommands_ArgumentValidation(t *testing.T) {
	e, _ := testEnv(t, nil)

	tests := []struct {
		name string
		args []string
	}{
		{name: "resolve without email", args: []string{"resolve"}},
		{name: "verify-token without token", args: []string{"verify-token"}},
		{name: "check with two emails", args: []string{"check", "a@example.org", "b@example.org"}},
		{name: "serve with argument", args: []string{"serve", "now"}},
		{name: "assign without role", args: []string{"assign", "a@example.org"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := run(t, e, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestCommands_RequireDatabase(t *testing.T) {
	e := &env{
		log:        setupLogger("info", &bytes.Buffer{}),
		loadConfig: func() (*config.Config, error) { return &config.Config{}, nil },
		driver:     "sqlmock",
	}
	for _, args := range [][]string{{"migrate"}, {"resolve", "a@example.org"}, {"sweep"}} {
		_, _, err := run(t, e, args...)
		assert.ErrorIs(t, err, config.ErrDatabaseRequired, args[0])
	}
}

func TestCommands_ConfigError(t *testing.T) {
	e := &env{
		log:        setupLogger("info", &bytes.Buffer{}),
		loadConfig: func() (*config.Config, error) { return nil, errors.New("PORTAL_SERVER_PORT fails numeric") },
	}
	_, _, err := run(t, e, "resolve", "a@example.org")
	assert.EqualError(t, err, "PORTAL_SERVER_PORT fails numeric")
}

func TestResolve(t *testing.T) {
	e, mock := testEnv(t, nil)
	mock.ExpectPing()
	mock.ExpectQuery("FROM get_user_role").
		WithArgs("ann@example.org").
		WillReturnRows(sqlmock.NewRows(roleColumns).
			AddRow("ann@example.org", rbac.RoleFinanceOfficer, "3", "7", "Finance", []byte(`{"reports":["read"]}`), false))

	stdout, _, err := run(t, e, "resolve", "ann@example.org")
	require.NoError(t, err)

	var record rbac.RoleRecord
	require.NoError(t, json.Unmarshal([]byte(stdout), &record))
	assert.Equal(t, rbac.RoleFinanceOfficer, record.RoleName)
	assert.Equal(t, "Finance", record.Division())
	assert.True(t, rbac.HasPermission(&record, rbac.ResourceReports, rbac.ActionRead))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolve_Pending(t *testing.T) {
	e, mock := testEnv(t, nil)
	mock.ExpectPing()
	mock.ExpectQuery("FROM get_user_role").WillReturnRows(sqlmock.NewRows(roleColumns))
	mock.ExpectQuery("SELECT EXISTS").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	stdout, _, err := run(t, e, "resolve", "new@example.org")
	assert.ErrorIs(t, err, rbac.ErrPendingRoleAssignment)
	assert.Empty(t, stdout)
}

func TestCheck(t *testing.T) {
	financeRow := func() *sqlmock.Rows {
		return sqlmock.NewRows(roleColumns).
			AddRow("ann@example.org", rbac.RoleFinanceOfficer, "3", nil, nil, []byte(`{"reports":["read"],"dashboard":["read"]}`), false)
	}

	tests := []struct {
		name        string
		args        []string
		wantErr     bool
		wantState   string
		wantMessage string
	}{
		{
			name:      "permission held",
			args:      []string{"--perm", "reports:read"},
			wantState: "authorized",
		},
		{
			name:        "finance officer cannot write reports",
			args:        []string{"--perm", "reports:write"},
			wantErr:     true,
			wantState:   "forbidden",
			wantMessage: "Missing required permissions: reports:write",
		},
		{
			name:        "allowed roles",
			args:        []string{"--allowed", "Staff,Division Manager"},
			wantErr:     true,
			wantState:   "forbidden",
			wantMessage: "This page is restricted to: Staff, Division Manager. Your current role is Finance Officer.",
		},
		{
			name:      "required role matches",
			args:      []string{"--role", rbac.RoleFinanceOfficer},
			wantState: "authorized",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, mock := testEnv(t, nil)
			mock.ExpectPing()
			mock.ExpectQuery("FROM get_user_role").WillReturnRows(financeRow())

			stdout, _, err := run(t, e, append([]string{"check", "ann@example.org"}, tt.args...)...)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrAccessDenied)
			} else {
				require.NoError(t, err)
			}

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(stdout), &body))
			assert.Equal(t, tt.wantState, body["state"])
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, body["message"])
			}
		})
	}
}

func TestCheck_LookupMissing(t *testing.T) {
	e, mock := testEnv(t, nil)
	mock.ExpectPing()
	mock.ExpectQuery("FROM get_user_role").
		WillReturnError(&pq.Error{Code: "42883", Message: "function get_user_role(unknown) does not exist"})

	stdout, stderr, err := run(t, e, "check", "ann@example.org")
	assert.ErrorIs(t, err, ErrAccessDenied)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(stdout), &body))
	assert.Equal(t, "role_error", body["state"])
	assert.NotContains(t, stdout, "get_user_role")
	assert.Contains(t, stderr, "portal migrate")
}

func TestCheck_InvalidPermission(t *testing.T) {
	e, _ := testEnv(t, nil)
	_, _, err := run(t, e, "check", "ann@example.org", "--perm", "reports")
	assert.ErrorContains(t, err, "expected resource:action")
}

func TestMigrate_Seed(t *testing.T) {
	e, mock := testEnv(t, nil)
	mock.ExpectPing()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS portal_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	versions := sqlmock.NewRows([]string{"version"})
	for _, m := range rbac.GetMigrations() {
		versions.AddRow(m.Version)
	}
	mock.ExpectQuery("SELECT version FROM portal_migrations").WillReturnRows(versions)
	for i, tmpl := range rbac.BuiltInRoles() {
		affected := int64(1)
		if i == 0 {
			affected = 0
		}
		mock.ExpectExec("INSERT INTO roles").
			WithArgs(tmpl.Name, tmpl.Description, sqlmock.AnyArg(), tmpl.IsAdmin).
			WillReturnResult(sqlmock.NewResult(0, affected))
	}

	stdout, _, err := run(t, e, "migrate", "--seed")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("seeded %d role(s)\n", len(rbac.BuiltInRoles())-1), stdout)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssign(t *testing.T) {
	e, mock := testEnv(t, nil)
	mock.ExpectPing()
	mock.ExpectQuery("SELECT id FROM divisions").
		WithArgs("Finance").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectExec("INSERT INTO user_roles").
		WithArgs("ann@example.org", rbac.RoleFinanceOfficer, int64(3)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	stdout, _, err := run(t, e, "assign", "ann@example.org", "--role", rbac.RoleFinanceOfficer, "--division", "Finance")
	require.NoError(t, err)
	assert.Equal(t, "ann@example.org is now Finance Officer\n", stdout)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSweep(t *testing.T) {
	cfg := &config.Config{}
	cfg.Activity.Retention = 24 * time.Hour
	cfg.Activity.RetentionSchedule = "30 3 * * *"
	e, mock := testEnv(t, cfg)
	mock.ExpectPing()
	mock.ExpectExec("DELETE FROM login_activity").WillReturnResult(sqlmock.NewResult(0, 4))

	stdout, _, err := run(t, e, "sweep")
	require.NoError(t, err)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.Equal(t, float64(4), result["purged"])
	assert.Equal(t, float64(0), result["archived"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProfile_NotConfigured(t *testing.T) {
	e, _ := testEnv(t, nil)
	_, _, err := run(t, e, "profile", "ann@example.org")
	assert.ErrorContains(t, err, "microsoft graph is not configured")
}

const (
	testAudience = "api://portal"
	testTenant   = "contoso"
)

func jwksServer(t *testing.T, key *rsa.PublicKey) *httptest.Server {
	t.Helper()
	enc := base64.RawURLEncoding
	body, err := json.Marshal(map[string]interface{}{
		"keys": []map[string]string{{
			"kty": "RSA",
			"use": "sig",
			"alg": "RS256",
			"kid": "cli-key",
			"n":   enc.EncodeToString(key.N.Bytes()),
			"e":   enc.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}},
	})
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/"+testTenant+"/discovery/v2.0/keys" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestVerifyToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	server := jwksServer(t, &key.PublicKey)

	cfg := &config.Config{Azure: identity.Config{Audience: testAudience, TenantID: testTenant, BaseURL: server.URL}}
	e, _ := testEnv(t, cfg)

	mint := func(claims jwt.MapClaims) string {
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		token.Header["kid"] = "cli-key"
		signed, err := token.SignedString(key)
		require.NoError(t, err)
		return signed
	}
	now := time.Now()
	valid := jwt.MapClaims{
		"iss":   cfg.Azure.Issuer(),
		"aud":   testAudience,
		"sub":   "subject-1",
		"email": "ann@example.org",
		"iat":   now.Add(-time.Minute).Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}

	t.Run("valid", func(t *testing.T) {
		stdout, _, err := run(t, e, "verify-token", mint(valid))
		require.NoError(t, err)
		var claims identity.Claims
		require.NoError(t, json.Unmarshal([]byte(stdout), &claims))
		assert.Equal(t, "ann@example.org", claims.Email)
		assert.Equal(t, testAudience, claims.Audience)
	})

	t.Run("wrong audience", func(t *testing.T) {
		wrong := jwt.MapClaims{}
		for k, v := range valid {
			wrong[k] = v
		}
		wrong["aud"] = "api://other"
		stdout, _, err := run(t, e, "verify-token", mint(wrong))
		assert.ErrorIs(t, err, identity.ErrInvalidToken)
		assert.Empty(t, strings.TrimSpace(stdout))
	})
}
