// Package migrationtest runs the migration kinds end to end against any
// table.Store, so every backend is checked with the reads the strategies
// really issue: ordered scans, single-partition queries and transactions.
package migrationtest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/keys"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/migrations"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/models"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/batch"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table"
)

// Opener returns a fresh, empty store for one subtest.
type Opener func(t *testing.T) table.Store

var (
	legacy = keys.NewPlain()
	target = keys.NewSHA256(keys.WithKeyVersion(8.0))
)

// Run executes the suite against the stores produced by open.
func Run(t *testing.T, open Opener) {
	cases := []struct {
		name string
		fn   func(t *testing.T, s table.Store)
	}{
		{"UsersCopy", testUsersCopy},
		{"UsersInPlace", testUsersInPlace},
		{"RolesCopy", testRolesCopy},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			c.fn(t, s)
		})
	}
}

func tables(t *testing.T, s table.Store, prefix string) migrations.Tables {
	t.Helper()
	ts := migrations.Tables{
		Users: s.Table(prefix + "Users"),
		Roles: s.Table(prefix + "Roles"),
		Index: s.Table(prefix + "Index"),
	}
	for _, tbl := range []table.Table{ts.Users, ts.Roles, ts.Index} {
		require.NoError(t, tbl.CreateIfNotExists(context.Background()))
	}
	return ts
}

func userID(i int) string { return fmt.Sprintf("%032x", i+1) }

func seedUsers(t *testing.T, ts migrations.Tables, n int) {
	t.Helper()
	w := batch.New(ts.Users)
	for i := 0; i < n; i++ {
		id := userID(i)
		pk := legacy.PartitionKeyUser(id)
		meta := func(rk string) models.Meta {
			return models.Meta{PartitionKey: pk, RowKey: rk, ETag: table.WildcardETag, KeyVersion: legacy.KeyVersion()}
		}
		recs := []models.Record{
			&models.User{Meta: meta(legacy.RowKeyUser(id)), ID: id, UserName: fmt.Sprintf("user%02d", i), Email: fmt.Sprintf("user%02d@example.com", i)},
			&models.UserClaim{Meta: meta(legacy.RowKeyUserClaim("dept", "eng")), UserID: id, ClaimType: "dept", ClaimValue: "eng"},
			&models.UserLogin{Meta: meta(legacy.RowKeyUserLogin("github", id)), UserID: id, LoginProvider: "github", ProviderKey: id},
			&models.UserRole{Meta: meta(legacy.RowKeyUserRole("admin")), UserID: id, RoleName: "admin"},
		}
		for _, rec := range recs {
			w.UpsertEntity(rec.Entity(), table.Replace)
		}
	}
	_, err := w.SubmitBatchParallel(context.Background(), 4)
	require.NoError(t, err)
}

func migrate(t *testing.T, kind string, source, dest migrations.Tables, opts migrations.Options) *migrations.Summary {
	t.Helper()
	strategy, err := migrations.Lookup(kind, target, opts)
	require.NoError(t, err)
	r, err := migrations.NewRunner(migrations.RunnerConfig{
		Strategy:    strategy,
		Source:      source,
		Target:      dest,
		PageSize:    5,
		Parallelism: 3,
	})
	require.NoError(t, err)
	sum, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, sum.Failures)
	return sum
}

func all(t *testing.T, tbl table.Table) []*table.Entity {
	t.Helper()
	var out []*table.Entity
	token := ""
	for {
		page, err := tbl.Query(context.Background(), table.Query{PageSize: table.MaxPageSize, ContinuationToken: token})
		require.NoError(t, err)
		out = append(out, page.Entities...)
		if page.ContinuationToken == "" {
			return out
		}
		token = page.ContinuationToken
	}
}

// requireMoved checks that user i arrived with every dependent and its
// login index.
func requireMoved(t *testing.T, ts migrations.Tables, i int) {
	t.Helper()
	ctx := context.Background()
	id := userID(i)
	pk := target.PartitionKeyUser(id)
	for _, rk := range []string{
		target.RowKeyUser(id),
		target.RowKeyUserClaim("dept", "eng"),
		target.RowKeyUserLogin("github", id),
		target.RowKeyUserRole("admin"),
	} {
		e, err := ts.Users.Get(ctx, pk, rk)
		require.NoError(t, err, rk)
		assert.Equal(t, 8.0, e.Properties.Float(models.FieldKeyVersion), rk)
	}
	x, err := ts.Index.Get(ctx, target.PartitionKeyLogin("github", id), target.RowKeyUser(id))
	require.NoError(t, err)
	assert.Equal(t, id, x.Properties.String(models.FieldID))
	_, err = ts.Index.Get(ctx, target.PartitionKeyEmail(fmt.Sprintf("user%02d@example.com", i)), target.RowKeyUser(id))
	assert.NoError(t, err)
}

func testUsersCopy(t *testing.T, s table.Store) {
	src, dst := tables(t, s, "Old"), tables(t, s, "New")
	seedUsers(t, src, 12)

	sum := migrate(t, migrations.KindUsers, src, dst, migrations.Options{})
	assert.Equal(t, 12, sum.Converted)
	assert.Equal(t, 3, sum.Pages)
	assert.True(t, sum.Exhausted)

	assert.Len(t, all(t, dst.Users), 12*4)
	assert.Len(t, all(t, dst.Index), 12*3)
	assert.Len(t, all(t, src.Users), 12*4, "a copy leaves the source alone")
	for i := 0; i < 12; i++ {
		requireMoved(t, dst, i)
	}
}

func testUsersInPlace(t *testing.T, s table.Store) {
	ts := tables(t, s, "AspNet")
	seedUsers(t, ts, 12)

	sum := migrate(t, migrations.KindUsers, ts, ts, migrations.Options{DeleteStale: true})
	assert.Equal(t, 12, sum.Converted)

	rows := all(t, ts.Users)
	assert.Len(t, rows, 12*4)
	for _, e := range rows {
		assert.Equal(t, 8.0, e.Properties.Float(models.FieldKeyVersion), e.Key())
	}
	assert.Len(t, all(t, ts.Index), 12*3)
	requireMoved(t, ts, 7)

	again := migrate(t, migrations.KindUsers, ts, ts, migrations.Options{DeleteStale: true})
	assert.Zero(t, again.Seen)
}

func testRolesCopy(t *testing.T, s table.Store) {
	src, dst := tables(t, s, "Old"), tables(t, s, "New")
	names := []string{"admin", "auditor", "editor"}
	w := batch.New(src.Roles)
	for i, name := range names {
		id := fmt.Sprintf("role-%d", i)
		pk := legacy.PartitionKeyRole(name)
		meta := func(rk string) models.Meta {
			return models.Meta{PartitionKey: pk, RowKey: rk, ETag: table.WildcardETag, KeyVersion: legacy.KeyVersion()}
		}
		w.UpsertEntity((&models.Role{Meta: meta(legacy.RowKeyRole(name)), ID: id, Name: name}).Entity(), table.Replace)
		for j := 0; j < 3; j++ {
			cv := fmt.Sprintf("p%d", j)
			rc := &models.RoleClaim{Meta: meta(legacy.RowKeyRoleClaim(name, "perm", cv)), RoleID: id, RoleName: name, ClaimType: "perm", ClaimValue: cv}
			w.UpsertEntity(rc.Entity(), table.Replace)
		}
	}
	_, err := w.SubmitBatch(context.Background())
	require.NoError(t, err)

	sum := migrate(t, migrations.KindRoles, src, dst, migrations.Options{})
	assert.Equal(t, 3, sum.Converted)
	assert.Len(t, all(t, dst.Roles), 3*4)

	ctx := context.Background()
	for _, name := range names {
		pk := target.PartitionKeyRole(name)
		_, err := dst.Roles.Get(ctx, pk, target.RowKeyRole(name))
		require.NoError(t, err, name)
		for j := 0; j < 3; j++ {
			_, err := dst.Roles.Get(ctx, pk, target.RowKeyRoleClaim(name, "perm", fmt.Sprintf("p%d", j)))
			assert.NoError(t, err, name)
		}
	}
}
