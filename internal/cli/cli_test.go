package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes proteetictl with args against a fresh database in dir.
func run(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--db", dbPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "proteeti.db")
}

// =============================================================================
// Admin commands
// =============================================================================

func TestAdminCreateAndList(t *testing.T) {
	db := tempDB(t)

	out, err := run(t, db, "admin", "create", "root", "--password", "correct horse")
	require.NoError(t, err)
	assert.Contains(t, out, "created admin root")

	out, err = run(t, db, "--format", "json", "admin", "list")
	require.NoError(t, err)

	var admins []struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &admins))
	require.Len(t, admins, 1)
	assert.Equal(t, "root", admins[0].Username)
	assert.NotContains(t, out, "password")
}

func TestAdminCreate_ShortPassword(t *testing.T) {
	_, err := run(t, tempDB(t), "admin", "create", "root", "--password", "short")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 8")
}

func TestAdminCreate_PasswordFromEnv(t *testing.T) {
	t.Setenv(passwordEnv, "from-the-environment")
	_, err := run(t, tempDB(t), "admin", "create", "root")
	require.NoError(t, err)
}

func TestAdminCreate_NoPassword(t *testing.T) {
	t.Setenv(passwordEnv, "")
	_, err := run(t, tempDB(t), "admin", "create", "root")
	require.Error(t, err)
}

func TestAdminResetPassword(t *testing.T) {
	db := tempDB(t)
	_, err := run(t, db, "admin", "create", "root", "--password", "correct horse")
	require.NoError(t, err)

	out, err := run(t, db, "admin", "reset-password", "root", "--password", "battery staple")
	require.NoError(t, err)
	assert.Contains(t, out, "password reset for root")

	_, err = run(t, db, "admin", "reset-password", "nobody", "--password", "battery staple")
	require.Error(t, err)
}

// =============================================================================
// Database and import
// =============================================================================

func TestDBStats(t *testing.T) {
	db := tempDB(t)
	_, err := run(t, db, "admin", "create", "root", "--password", "correct horse")
	require.NoError(t, err)

	out, err := run(t, db, "--format", "json", "db", "stats")
	require.NoError(t, err)

	var counts map[string]int
	require.NoError(t, json.Unmarshal([]byte(out), &counts))
	assert.Equal(t, 1, counts["admins"])
	assert.Equal(t, 0, counts["users"])
}

func TestImportLegacy(t *testing.T) {
	dir := t.TempDir()
	users := filepath.Join(dir, "users.json")
	reports := filepath.Join(dir, "reports.json")
	require.NoError(t, os.WriteFile(users, []byte(`{"alice": {"email": "alice@x.com", "password": "hunter22"}}`), 0o600))
	require.NoError(t, os.WriteFile(reports, []byte(`[{"username": "alice", "lat": 23.8, "lng": 90.4, "category": "flood", "description": "water", "timestamp": "2024-11-02T08:15:30"}]`), 0o600))

	db := filepath.Join(dir, "proteeti.db")
	out, err := run(t, db, "import-legacy", "--users", users, "--reports", reports)
	require.NoError(t, err)
	assert.Contains(t, out, "users imported: 1, skipped: 0, reports imported: 1")

	// Existing usernames are skipped on a second run.
	out, err = run(t, db, "import-legacy", "--users", users)
	require.NoError(t, err)
	assert.Contains(t, out, "users imported: 0, skipped: 1")
}

func TestImportLegacy_NothingToDo(t *testing.T) {
	_, err := run(t, tempDB(t), "import-legacy")
	require.Error(t, err)
}

// =============================================================================
// Keys and flags
// =============================================================================

func TestVAPIDKeys(t *testing.T) {
	out, err := run(t, tempDB(t), "--format", "json", "vapid-keys")
	require.NoError(t, err)

	var keys map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &keys))
	assert.NotEmpty(t, keys["vapid_public_key"])
	assert.NotEmpty(t, keys["vapid_private_key"])
}

func TestInvalidFormat(t *testing.T) {
	_, err := run(t, tempDB(t), "--format", "yaml", "db", "stats")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}
