package migrations

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/keys"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/models"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/pagination"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table/filter"
)

var target = keys.NewSHA256(keys.WithKeyVersion(8.0))

func run(t *testing.T, kind string, source, dest Tables, cfg RunnerConfig) (*Runner, *Summary, error) {
	t.Helper()
	if cfg.Strategy == nil {
		cfg.Strategy = mustLookup(t, kind, Options{})
	}
	cfg.Source = source
	cfg.Target = dest
	r, err := NewRunner(cfg)
	require.NoError(t, err)
	sum, err := r.Run(context.Background())
	return r, sum, err
}

func mustLookup(t *testing.T, kind string, opts Options) Strategy {
	t.Helper()
	s, err := Lookup(kind, target, opts)
	require.NoError(t, err)
	return s
}

func TestUsersEndToEnd(t *testing.T) {
	src, dst := newFixture(t), newFixture(t)
	src.seedUsers(t, 2500)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	r, sum, err := run(t, KindUsers, src.tables, dst.tables, RunnerConfig{
		PageSize:    1000,
		Parallelism: 8,
		Metrics:     metrics,
	})
	require.NoError(t, err)
	assert.Equal(t, StateDone, r.State())
	assert.Equal(t, 3, sum.Pages)
	assert.Equal(t, 2500, sum.Seen)
	assert.Equal(t, 2500, sum.Converted)
	assert.Zero(t, sum.Failed)
	assert.Empty(t, sum.Failures)
	assert.Len(t, sum.PageDurations, 3)
	assert.True(t, sum.Completed)
	assert.True(t, sum.Exhausted)

	assert.Equal(t, 2500*4, dst.mem("AspNetUsers").Len())
	assert.Equal(t, 2500*3, dst.mem("AspNetIndex").Len())

	ctx := context.Background()
	id := userID(1234)
	e, err := dst.tables.Users.Get(ctx, target.PartitionKeyUser(id), target.RowKeyUser(id))
	require.NoError(t, err)
	u, err := models.DecodeAs[*models.User](e)
	require.NoError(t, err)
	assert.Equal(t, 8.0, u.KeyVersion)
	assert.Equal(t, "user1234", u.UserName)
	assert.Equal(t, "kept", u.Extra.String("Legacy"))

	for _, rk := range []string{
		target.RowKeyUserClaim("dept", "eng"),
		target.RowKeyUserLogin("github", id),
		target.RowKeyUserRole("admin"),
	} {
		_, err := dst.tables.Users.Get(ctx, target.PartitionKeyUser(id), rk)
		assert.NoError(t, err, rk)
	}

	x, err := dst.tables.Index.Get(ctx, target.PartitionKeyEmail("user1234@example.com"), target.RowKeyUser(id))
	require.NoError(t, err)
	assert.Equal(t, id, x.Properties.String(models.FieldID))

	assert.Equal(t, 2500.0, testutil.ToFloat64(metrics.Records.WithLabelValues(KindUsers, outcomeConverted)))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.Pages.WithLabelValues(KindUsers, "included")))
	assert.Equal(t, StateDone, r.Progress().State)
}

func TestUsersIdempotent(t *testing.T) {
	src, dst := newFixture(t), newFixture(t)
	src.seedUsers(t, 40)
	ctx := context.Background()
	id := userID(7)

	_, first, err := run(t, KindUsers, src.tables, dst.tables, RunnerConfig{PageSize: 15})
	require.NoError(t, err)
	before, err := dst.tables.Users.Get(ctx, target.PartitionKeyUser(id), target.RowKeyUser(id))
	require.NoError(t, err)

	_, second, err := run(t, KindUsers, src.tables, dst.tables, RunnerConfig{PageSize: 15})
	require.NoError(t, err)
	after, err := dst.tables.Users.Get(ctx, target.PartitionKeyUser(id), target.RowKeyUser(id))
	require.NoError(t, err)

	assert.Equal(t, first.Converted, second.Converted)
	assert.Equal(t, 160, dst.mem("AspNetUsers").Len())
	assert.Equal(t, 120, dst.mem("AspNetIndex").Len())
	assert.Equal(t, before.Properties, after.Properties)
}

// TestOneFailureDoesNotStopTheRun rejects the writes of one user out of a
// hundred and expects the other ninety-nine to convert.
func TestOneFailureDoesNotStopTheRun(t *testing.T) {
	src, dst := newFixture(t), newFixture(t)
	src.seedUsers(t, 100)
	victim := userID(42)
	boom := errors.New("service unavailable")
	dst.mem("AspNetUsers").SetFault(func(op table.ActionKind, e *table.Entity) error {
		if e.PartitionKey == target.PartitionKeyUser(victim) && e.RowKey == target.RowKeyUserLogin("github", victim) {
			return boom
		}
		return nil
	})

	r, sum, err := run(t, KindUsers, src.tables, dst.tables, RunnerConfig{PageSize: 30, Parallelism: 4})
	require.NoError(t, err)
	assert.Equal(t, StateDone, r.State())
	assert.True(t, sum.Completed)
	assert.Equal(t, 99, sum.Converted)
	assert.Equal(t, 1, sum.Failed)
	require.Len(t, sum.Failures, 1)
	assert.Equal(t, legacy.PartitionKeyUser(victim)+"/"+legacy.RowKeyUser(victim), sum.Failures[0].Key)
	assert.Contains(t, sum.Failures[0].Message, "service unavailable")
	assert.Contains(t, sum.Failures[0].Message, target.RowKeyUserLogin("github", victim))

	_, err = dst.tables.Users.Get(context.Background(), target.PartitionKeyUser(victim), target.RowKeyUser(victim))
	assert.ErrorIs(t, err, table.ErrNotFound, "the victim's partition commits atomically")
	assert.Equal(t, 99*4, dst.mem("AspNetUsers").Len())
}

func TestResumeAfterFinishPage(t *testing.T) {
	src, dst := newFixture(t), newFixture(t)
	src.seedUsers(t, 50)

	_, first, err := run(t, KindUsers, src.tables, dst.tables, RunnerConfig{PageSize: 10, FinishPage: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, first.Pages)
	assert.Equal(t, 30, first.Converted)
	assert.True(t, first.Completed)
	assert.False(t, first.Exhausted)
	assert.False(t, first.Rescan, "a copy run leaves its source untouched")
	assert.Equal(t, 4, first.NextStartPage())

	_, second, err := run(t, KindUsers, src.tables, dst.tables, RunnerConfig{PageSize: 10, StartPage: first.NextStartPage()})
	require.NoError(t, err)
	assert.Equal(t, 5, second.Pages)
	assert.Equal(t, 30, second.Skipped)
	assert.Equal(t, 20, second.Converted)
	assert.True(t, second.Exhausted)

	assert.Equal(t, 50*4, dst.mem("AspNetUsers").Len())
}

// TestInPlaceResumeRescans stops an in-place run early. Its converted rows
// left the source query, so the resume page must not skip past the rows
// that moved up into the pages already read.
func TestInPlaceResumeRescans(t *testing.T) {
	f := newFixture(t)
	f.seedUsers(t, 50)
	strategy := func() Strategy { return mustLookup(t, KindUsers, Options{DeleteStale: true}) }

	_, first, err := run(t, KindUsers, f.tables, f.tables, RunnerConfig{Strategy: strategy(), PageSize: 10, FinishPage: 3})
	require.NoError(t, err)
	assert.Equal(t, 30, first.Converted)
	assert.False(t, first.Exhausted)
	assert.True(t, first.Rescan)
	assert.Equal(t, 1, first.NextStartPage())

	_, second, err := run(t, KindUsers, f.tables, f.tables, RunnerConfig{Strategy: strategy(), PageSize: 10, StartPage: first.NextStartPage()})
	require.NoError(t, err)
	assert.Zero(t, second.Skipped)
	assert.Equal(t, 20, second.Converted)
	assert.True(t, second.Exhausted)

	all := rows(t, f.tables.Users, "")
	assert.Len(t, all, 50*4)
	for _, e := range all {
		assert.Equal(t, 8.0, e.Properties.Float(models.FieldKeyVersion), e.Key())
	}
}

func TestUsersInPlaceDeletesStale(t *testing.T) {
	f := newFixture(t)
	f.seedUsers(t, 20)
	_, sum, err := run(t, KindUsers, f.tables, f.tables, RunnerConfig{
		Strategy: mustLookup(t, KindUsers, Options{DeleteStale: true}),
		PageSize: 7,
	})
	require.NoError(t, err)
	assert.Equal(t, 20, sum.Converted)

	all := rows(t, f.tables.Users, "")
	assert.Len(t, all, 80)
	for _, e := range all {
		assert.Equal(t, 8.0, e.Properties.Float(models.FieldKeyVersion), e.Key())
	}
	_, err = f.tables.Users.Get(context.Background(), legacy.PartitionKeyUser(userID(3)), legacy.RowKeyUser(userID(3)))
	assert.ErrorIs(t, err, table.ErrNotFound)

	_, again, err := run(t, KindUsers, f.tables, f.tables, RunnerConfig{PageSize: 7})
	require.NoError(t, err)
	assert.Zero(t, again.Seen, "nothing is left below the target version")
}

func TestClaimsInPlace(t *testing.T) {
	f := newFixture(t)
	f.seedUsers(t, 10)
	ctx := context.Background()
	id := userID(0)
	empty := &models.UserClaim{
		Meta: models.Meta{
			PartitionKey: legacy.PartitionKeyUser(id),
			RowKey:       legacy.RowKeyUserClaim("nickname", ""),
			ETag:         table.WildcardETag,
			KeyVersion:   legacy.KeyVersion(),
		},
		UserID:    id,
		ClaimType: "nickname",
	}
	_, err := f.tables.Users.Upsert(ctx, empty.Entity(), table.Replace)
	require.NoError(t, err)

	_, sum, err := run(t, KindClaims, f.tables, f.tables, RunnerConfig{
		Strategy: mustLookup(t, KindClaims, Options{DeleteStale: true}),
	})
	require.NoError(t, err)
	assert.Equal(t, 11, sum.Seen)
	assert.Equal(t, 1, sum.Filtered)
	assert.Equal(t, 10, sum.Converted)

	_, err = f.tables.Users.Get(ctx, legacy.PartitionKeyUser(id), target.RowKeyUserClaim("dept", "eng"))
	assert.NoError(t, err)
	_, err = f.tables.Users.Get(ctx, legacy.PartitionKeyUser(id), legacy.RowKeyUserClaim("dept", "eng"))
	assert.ErrorIs(t, err, table.ErrNotFound)
	assert.Equal(t, 41, f.mem("AspNetUsers").Len())
}

func TestRoles(t *testing.T) {
	src, dst := newFixture(t), newFixture(t)
	names := []string{"admin", "auditor", "editor"}
	src.seedRoles(t, names, 3)

	_, sum, err := run(t, KindRoles, src.tables, dst.tables, RunnerConfig{})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Converted)
	assert.Equal(t, 12, dst.mem("AspNetRoles").Len())

	ctx := context.Background()
	for _, name := range names {
		pk := target.PartitionKeyRole(name)
		role, err := dst.tables.Roles.Get(ctx, pk, target.RowKeyRole(name))
		require.NoError(t, err, name)
		assert.Equal(t, name, role.Properties.String(models.FieldName))
		c, err := dst.tables.Roles.Get(ctx, pk, target.RowKeyRoleClaim(name, "perm", "p2"))
		require.NoError(t, err, name)
		assert.Equal(t, 8.0, c.Properties.Float(models.FieldKeyVersion))
	}

	claims := rows(t, dst.tables.Roles, filter.PrefixRange(filter.RowKey, target.RoleClaimPrefix("admin")))
	assert.Len(t, claims, 3)
}

func TestIndexKinds(t *testing.T) {
	f := newFixture(t)
	f.seedUsers(t, 30)
	ctx := context.Background()

	// drop one user's e-mail so the e-mail index filters it out
	id := userID(5)
	e, err := f.tables.Users.Get(ctx, legacy.PartitionKeyUser(id), legacy.RowKeyUser(id))
	require.NoError(t, err)
	e.Properties.Delete(models.FieldEmail)
	_, err = f.tables.Users.Upsert(ctx, e, table.Replace)
	require.NoError(t, err)

	_, sum, err := run(t, KindEmailIndex, f.tables, f.tables, RunnerConfig{PageSize: 8})
	require.NoError(t, err)
	assert.Equal(t, 29, sum.Converted)
	assert.Equal(t, 1, sum.Filtered)

	_, sum, err = run(t, KindUserNameIndex, f.tables, f.tables, RunnerConfig{PageSize: 8})
	require.NoError(t, err)
	assert.Equal(t, 30, sum.Converted)

	_, sum, err = run(t, KindLoginIndex, f.tables, f.tables, RunnerConfig{PageSize: 8})
	require.NoError(t, err)
	assert.Equal(t, 30, sum.Converted)

	assert.Equal(t, 89, f.mem("AspNetIndex").Len())
	x, err := f.tables.Index.Get(ctx, target.PartitionKeyLogin("github", id), target.RowKeyUser(id))
	require.NoError(t, err)
	assert.Equal(t, id, x.Properties.String(models.FieldID))

	for _, prefix := range []string{keys.PrefixEmailIndex, keys.PrefixUserNameIndex, keys.PrefixLogin} {
		assert.NotEmpty(t, rows(t, f.tables.Index, filter.PrefixRange(filter.PartitionKey, prefix)), prefix)
	}
}

func TestCancelMidPage(t *testing.T) {
	src, dst := newFixture(t), newFixture(t)
	src.seedUsers(t, 50)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dst.mem("AspNetUsers").SetFault(func(table.ActionKind, *table.Entity) error {
		cancel()
		return nil
	})

	r, err := NewRunner(RunnerConfig{
		Strategy:    mustLookup(t, KindUsers, Options{}),
		Source:      src.tables,
		Target:      dst.tables,
		PageSize:    10,
		Parallelism: 1,
	})
	require.NoError(t, err)
	sum, err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateCancelled, r.State())
	assert.False(t, sum.Completed)
	assert.Equal(t, 1, sum.Pages)
	assert.Zero(t, sum.Failed)
	assert.Equal(t, 10, sum.Converted+sum.Abandoned)
	assert.GreaterOrEqual(t, sum.Abandoned, 9)

	_, err = r.Run(ctx)
	assert.Error(t, err, "a runner runs once")
}

func TestRunnerRejectsBadConfig(t *testing.T) {
	f := newFixture(t)
	_, err := NewRunner(RunnerConfig{})
	assert.Error(t, err)

	_, err = NewRunner(RunnerConfig{
		Strategy:   mustLookup(t, KindUsers, Options{}),
		Source:     f.tables,
		Target:     f.tables,
		StartPage:  4,
		FinishPage: 3,
	})
	assert.ErrorIs(t, err, pagination.ErrInvalidBounds)

	_, err = NewRunner(RunnerConfig{Strategy: mustLookup(t, KindRoles, Options{}), Source: Tables{Users: f.tables.Users}})
	assert.Error(t, err, "roles need a roles table")

	_, err = NewRunner(RunnerConfig{Strategy: mustLookup(t, KindUsers, Options{}), Source: f.tables, RecordsPerSecond: -1})
	assert.Error(t, err)
}

func TestRateLimitedRunStillCompletes(t *testing.T) {
	src, dst := newFixture(t), newFixture(t)
	src.seedUsers(t, 40)

	r, sum, err := run(t, KindUsers, src.tables, dst.tables, RunnerConfig{PageSize: 10, RecordsPerSecond: 10000})
	require.NoError(t, err)
	require.NotNil(t, r.limiter)
	assert.GreaterOrEqual(t, r.limiter.Burst(), 10, "a page must fit in one burst")
	assert.Equal(t, 40, sum.Converted)
	assert.True(t, sum.Completed)
}

func TestLookup(t *testing.T) {
	for _, k := range Kinds() {
		s, err := Lookup(k, target, Options{})
		require.NoError(t, err)
		assert.Equal(t, k, s.Name())
	}
	_, err := Lookup(" Users ", target, Options{})
	assert.NoError(t, err)
	_, err = Lookup("groups", target, Options{})
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Len(t, Kinds(), 6)
}

func TestMetricsShareARegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewMetrics(reg)
	b := NewMetrics(reg)
	a.record(KindRoles, outcomeFailed, 2)
	b.record(KindRoles, outcomeFailed, 1)
	assert.Equal(t, 3.0, testutil.ToFloat64(a.Records.WithLabelValues(KindRoles, outcomeFailed)))

	var none *Metrics
	none.record(KindRoles, outcomeFailed, 1)
	none.page(KindRoles, false, 0)
}
