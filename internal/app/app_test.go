package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/config"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/keys"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/migrations"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{Store: config.StoreConfig{Backend: config.BackendMemory}}
	cfg.ApplyDefaults()
	return cfg
}

func count(t *testing.T, tbl table.Table) int {
	t.Helper()
	n, token := 0, ""
	for {
		page, err := tbl.Query(context.Background(), table.Query{ContinuationToken: token})
		require.NoError(t, err)
		n += len(page.Entities)
		if page.ContinuationToken == "" {
			return n
		}
		token = page.ContinuationToken
	}
}

func TestInPlaceRunSharesTables(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig(t))
	require.NoError(t, err)
	defer a.Close()

	source, target := a.Tables()
	assert.True(t, source.Same(target))
	names, err := a.CreateTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AspNetUsers", "AspNetRoles", "AspNetIndex"}, names)

	_, ok := a.Progress()
	assert.False(t, ok)

	written, err := a.Seed(ctx, keys.NewPlain(), 30, []string{"admin"})
	require.NoError(t, err)
	assert.Equal(t, 30*4+1, written)

	summary, err := a.MigrateOnce(ctx)
	require.NoError(t, err)
	assert.True(t, summary.Completed)
	assert.Equal(t, 30, summary.Converted)
	assert.Zero(t, summary.Failed)

	p, ok := a.Progress()
	require.True(t, ok)
	assert.Equal(t, migrations.StateDone, p.State)

	// 120 legacy rows stay beside 120 rekeyed ones; 90 index rows.
	assert.Equal(t, 240, count(t, target.Users))
	assert.Equal(t, 90, count(t, target.Index))
}

func TestCopyRunToSecondStore(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)
	cfg.SourceStore = &config.StoreConfig{Backend: config.BackendMemory}
	cfg.Migration.Kind = "roles"
	cfg.ApplyDefaults()

	a, err := New(ctx, cfg)
	require.NoError(t, err)
	defer a.Close()

	source, target := a.Tables()
	assert.False(t, source.Same(target))
	names, err := a.CreateTables(ctx)
	require.NoError(t, err)
	assert.Len(t, names, 6)

	_, err = a.Seed(ctx, keys.NewPlain(), 0, []string{"admin", "ops", "audit"})
	require.NoError(t, err)

	summary, err := a.MigrateOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Converted)
	assert.Equal(t, 3, count(t, source.Roles), "copy runs leave the source alone")
	assert.Equal(t, 3, count(t, target.Roles))
	assert.Contains(t, a.browsable(), "source.AspNetRoles")
}

func TestRunOnceReports(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig(t))
	require.NoError(t, err)
	defer a.Close()
	_, err = a.CreateTables(ctx)
	require.NoError(t, err)
	_, err = a.Seed(ctx, keys.NewPlain(), 5, nil)
	require.NoError(t, err)

	var got []*migrations.Summary
	require.NoError(t, a.Run(ctx, func(s *migrations.Summary, err error) {
		require.NoError(t, err)
		got = append(got, s)
	}))
	require.Len(t, got, 1)
	assert.Equal(t, 5, got[0].Converted)
}

func TestScheduledRunStopsOnCancel(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Migration.Schedule = "0 0 1 1 *"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, cfg)
	require.NoError(t, err)
	defer a.Close()
	_, err = a.CreateTables(ctx)
	require.NoError(t, err)

	runs := 0
	require.NoError(t, a.Run(ctx, func(*migrations.Summary, error) {
		runs++
		cancel()
	}))
	assert.Equal(t, 1, runs, "the first run happens immediately")
}

func TestPebbleStoreOpensAndCloses(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)
	cfg.Store.Backend = config.BackendPebble
	cfg.Store.Pebble.Path = filepath.Join(t.TempDir(), "db")
	cfg.Store.Pebble.NoSync = true

	a, err := New(ctx, cfg)
	require.NoError(t, err)
	_, err = a.CreateTables(ctx)
	require.NoError(t, err)
	_, err = a.Seed(ctx, keys.NewPlain(), 3, nil)
	require.NoError(t, err)
	summary, err := a.MigrateOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Converted)
	require.NoError(t, a.Close())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Migration.Kind = "groups"
	_, err := New(context.Background(), cfg)
	assert.ErrorIs(t, err, config.ErrInvalid)
}
