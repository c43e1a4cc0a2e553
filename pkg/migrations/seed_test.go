package migrations

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/keys"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/models"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/batch"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/memtable"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table"
)

// legacy is the scheme the fixtures are written with.
var legacy = keys.NewPlain()

type fixture struct {
	store  *memtable.Store
	tables Tables
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memtable.NewStore()
	f := &fixture{store: s, tables: Tables{
		Users: s.Table("AspNetUsers"),
		Roles: s.Table("AspNetRoles"),
		Index: s.Table("AspNetIndex"),
	}}
	ctx := context.Background()
	for _, tbl := range []table.Table{f.tables.Users, f.tables.Roles, f.tables.Index} {
		require.NoError(t, tbl.CreateIfNotExists(ctx))
	}
	return f
}

func (f *fixture) mem(name string) *memtable.Table { return f.store.MemTable(name) }

func userID(i int) string { return fmt.Sprintf("%032x", i+1) }

// seedUsers writes n legacy users, each with one claim, one login and one
// role membership in its partition.
func (f *fixture) seedUsers(t *testing.T, n int) {
	t.Helper()
	ctx := context.Background()
	w := batch.New(f.tables.Users)
	for i := 0; i < n; i++ {
		id := userID(i)
		pk := legacy.PartitionKeyUser(id)
		meta := func(rk string) models.Meta {
			return models.Meta{PartitionKey: pk, RowKey: rk, ETag: table.WildcardETag, KeyVersion: legacy.KeyVersion()}
		}
		u := &models.User{
			Meta:     meta(legacy.RowKeyUser(id)),
			ID:       id,
			UserName: fmt.Sprintf("user%04d", i),
			Email:    fmt.Sprintf("user%04d@example.com", i),
		}
		u.Extra = table.Properties{{Name: "Legacy", Value: "kept"}}
		c := &models.UserClaim{Meta: meta(legacy.RowKeyUserClaim("dept", "eng")), UserID: id, ClaimType: "dept", ClaimValue: "eng"}
		l := &models.UserLogin{Meta: meta(legacy.RowKeyUserLogin("github", id)), UserID: id, LoginProvider: "github", ProviderKey: id}
		r := &models.UserRole{Meta: meta(legacy.RowKeyUserRole("admin")), UserID: id, RoleName: "admin"}
		for _, rec := range []models.Record{u, c, l, r} {
			w.UpsertEntity(rec.Entity(), table.Replace)
		}
		if w.Len() >= 400 {
			_, err := w.SubmitBatchParallel(ctx, 8)
			require.NoError(t, err)
		}
	}
	_, err := w.SubmitBatchParallel(ctx, 8)
	require.NoError(t, err)
}

// seedRoles writes legacy roles, each with claims stored beside it.
func (f *fixture) seedRoles(t *testing.T, names []string, claimsPerRole int) {
	t.Helper()
	ctx := context.Background()
	w := batch.New(f.tables.Roles)
	for i, name := range names {
		id := fmt.Sprintf("role-%d", i)
		pk := legacy.PartitionKeyRole(name)
		role := &models.Role{
			Meta: models.Meta{PartitionKey: pk, RowKey: legacy.RowKeyRole(name), ETag: table.WildcardETag, KeyVersion: legacy.KeyVersion()},
			ID:   id,
			Name: name,
		}
		w.UpsertEntity(role.Entity(), table.Replace)
		for j := 0; j < claimsPerRole; j++ {
			ct, cv := "perm", fmt.Sprintf("p%d", j)
			rc := &models.RoleClaim{
				Meta:       models.Meta{PartitionKey: pk, RowKey: legacy.RowKeyRoleClaim(name, ct, cv), ETag: table.WildcardETag, KeyVersion: legacy.KeyVersion()},
				RoleID:     id,
				RoleName:   name,
				ClaimType:  ct,
				ClaimValue: cv,
			}
			w.UpsertEntity(rc.Entity(), table.Replace)
		}
	}
	_, err := w.SubmitBatch(ctx)
	require.NoError(t, err)
}

func rows(t *testing.T, tbl table.Table, q string) []*table.Entity {
	t.Helper()
	var out []*table.Entity
	token := ""
	for {
		page, err := tbl.Query(context.Background(), table.Query{Filter: q, ContinuationToken: token})
		require.NoError(t, err)
		out = append(out, page.Entities...)
		if page.ContinuationToken == "" {
			return out
		}
		token = page.ContinuationToken
	}
}
