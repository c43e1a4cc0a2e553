package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/keys"
)

func pebbleConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf("store:\n  backend: pebble\n  pebble:\n    path: %s\n    no_sync: true\nlogging:\n  level: error\n", filepath.Join(dir, "db"))
	p := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestKeysDerive(t *testing.T) {
	cfg := pebbleConfig(t)
	out, err := run(t, "keys", "derive", "-c", cfg, "--kind", "email", "Someone@Example.com")
	require.NoError(t, err)
	assert.Equal(t, keys.NewSHA256().PartitionKeyEmail("Someone@Example.com")+"\n", out)

	out, err = run(t, "keys", "derive", "-c", cfg, "--scheme", "uri", "--kind", "login", "github", "42")
	require.NoError(t, err)
	assert.Equal(t, keys.NewPlain().PartitionKeyLogin("github", "42")+"\n", out)

	_, err = run(t, "keys", "derive", "-c", cfg, "--kind", "login", "github")
	assert.ErrorIs(t, err, keys.ErrBadDeriveArgs)
	_, err = run(t, "keys", "derive", "-c", cfg, "--scheme", "md5", "--kind", "user", "x")
	assert.ErrorIs(t, err, keys.ErrUnknownScheme)
}

func TestSeedThenMigrate(t *testing.T) {
	cfg := pebbleConfig(t)

	out, err := run(t, "tables", "create", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "table AspNetUsers ready")

	out, err = run(t, "seed", "-c", cfg, "--users", "25", "--roles", "admin")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 101 rows")

	out, err = run(t, "migrate", "-c", cfg, "--kind", "users", "--page-size", "10", "--parallel", "4", "--delete-stale")
	require.NoError(t, err)
	assert.Contains(t, out, "migration users: completed")
	assert.Contains(t, out, "converted  25")
	assert.Contains(t, out, "pages      3")

	// the legacy rows were replaced, so nothing is left to convert
	out, err = run(t, "migrate", "-c", cfg, "--kind", "users")
	require.NoError(t, err)
	assert.Contains(t, out, "seen       0")
}

func TestMigrateFinishPageThenResume(t *testing.T) {
	cfg := pebbleConfig(t)
	_, err := run(t, "seed", "-c", cfg, "--users", "30", "--roles", "")
	require.NoError(t, err)

	out, err := run(t, "migrate", "-c", cfg, "--kind", "claims", "--page-size", "10", "--finish-page", "2", "--delete-stale")
	require.NoError(t, err)
	assert.Contains(t, out, "converted  20")
	// converted claims left the stale filter, so the rest now starts at page 1
	assert.Contains(t, out, "resume with --start-page 1")

	out, err = run(t, "migrate", "-c", cfg, "--kind", "claims", "--page-size", "10", "--start-page", "1", "--delete-stale")
	require.NoError(t, err)
	assert.Contains(t, out, "converted  10")
	assert.Contains(t, out, "exhausted: true")
	assert.NotContains(t, out, "resume with")
}

func TestMigrateRejectsBadFlags(t *testing.T) {
	cfg := pebbleConfig(t)
	_, err := run(t, "migrate", "-c", cfg, "--page-size", "5000")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "page_size"), err.Error())

	_, err = run(t, "migrate", "-c", cfg, "--kind", "groups")
	assert.Error(t, err)
}

func TestExplicitConfigMustExist(t *testing.T) {
	_, err := run(t, "keys", "derive", "-c", filepath.Join(t.TempDir(), "missing.yaml"), "--kind", "user", "x")
	assert.Error(t, err)
}
