// Package tabletest holds the behaviour every table.Table backend must share.
package tabletest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table/filter"
)

// Opener returns a fresh, empty store for one subtest.
type Opener func(t *testing.T) table.Store

// Run executes the conformance suite against the stores produced by open.
func Run(t *testing.T, open Opener) {
	cases := []struct {
		name string
		fn   func(t *testing.T, tbl table.Table)
	}{
		{"CRUD", testCRUD},
		{"ETags", testETags},
		{"UpsertModes", testUpsertModes},
		{"InvalidKeys", testInvalidKeys},
		{"PropertyTypes", testPropertyTypes},
		{"QueryPaging", testQueryPaging},
		{"QueryFilterAndBounds", testQueryFilterAndBounds},
		{"QuerySinglePartition", testQuerySinglePartition},
		{"QueryPageSize", testQueryPageSize},
		{"TransactionCommit", testTransactionCommit},
		{"TransactionAtomic", testTransactionAtomic},
		{"TransactionLimits", testTransactionLimits},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			tbl := s.Table("conformance" + uuid.NewString()[:8])
			require.NoError(t, tbl.CreateIfNotExists(context.Background()))
			c.fn(t, tbl)
		})
	}
	t.Run("MissingTable", func(t *testing.T) {
		s := open(t)
		t.Cleanup(func() { _ = s.Close() })
		_, err := s.Table("never_created").Get(context.Background(), "p", "r")
		assert.True(t, errors.Is(err, table.ErrTableNotFound), "got %v", err)
	})
}

func row(pk, rk string, props ...table.Property) *table.Entity {
	return &table.Entity{PartitionKey: pk, RowKey: rk, Properties: props}
}

func prop(name string, v any) table.Property { return table.Property{Name: name, Value: v} }

func testCRUD(t *testing.T, tbl table.Table) {
	ctx := context.Background()
	created, err := tbl.Insert(ctx, row("p1", "r1", prop("Name", "alice")))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ETag)
	assert.False(t, created.Timestamp.IsZero())

	_, err = tbl.Insert(ctx, row("p1", "r1"))
	assert.True(t, errors.Is(err, table.ErrConflict), "got %v", err)

	got, err := tbl.Get(ctx, "p1", "r1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Properties.String("Name"))

	_, err = tbl.Get(ctx, "p1", "missing")
	assert.True(t, errors.Is(err, table.ErrNotFound), "got %v", err)

	require.NoError(t, tbl.Delete(ctx, "p1", "r1", table.WildcardETag))
	_, err = tbl.Get(ctx, "p1", "r1")
	assert.True(t, errors.Is(err, table.ErrNotFound), "got %v", err)

	err = tbl.Delete(ctx, "p1", "r1", table.WildcardETag)
	assert.True(t, errors.Is(err, table.ErrNotFound), "got %v", err)
}

func testETags(t *testing.T, tbl table.Table) {
	ctx := context.Background()
	first, err := tbl.Insert(ctx, row("p", "r", prop("N", int32(1))))
	require.NoError(t, err)

	stale := row("p", "r", prop("N", int32(2)))
	stale.ETag = `W/"stale"`
	_, err = tbl.Update(ctx, stale, table.Replace)
	assert.True(t, errors.Is(err, table.ErrPreconditionFailed), "got %v", err)

	fresh := row("p", "r", prop("N", int32(3)))
	fresh.ETag = first.ETag
	second, err := tbl.Update(ctx, fresh, table.Replace)
	require.NoError(t, err)
	assert.NotEqual(t, first.ETag, second.ETag)

	wild := row("p", "r", prop("N", int32(4)))
	wild.ETag = table.WildcardETag
	_, err = tbl.Update(ctx, wild, table.Replace)
	require.NoError(t, err)

	err = tbl.Delete(ctx, "p", "r", first.ETag)
	assert.True(t, errors.Is(err, table.ErrPreconditionFailed), "got %v", err)

	_, err = tbl.Update(ctx, row("p", "nope"), table.Replace)
	assert.True(t, errors.Is(err, table.ErrNotFound), "got %v", err)
}

func testUpsertModes(t *testing.T, tbl table.Table) {
	ctx := context.Background()
	_, err := tbl.Upsert(ctx, row("p", "r", prop("A", "1"), prop("B", "1")), table.Replace)
	require.NoError(t, err)

	merged, err := tbl.Upsert(ctx, row("p", "r", prop("B", "2"), prop("C", "2")), table.Merge)
	require.NoError(t, err)
	assert.Equal(t, "1", merged.Properties.String("A"))
	assert.Equal(t, "2", merged.Properties.String("B"))
	assert.Equal(t, "2", merged.Properties.String("C"))

	replaced, err := tbl.Upsert(ctx, row("p", "r", prop("D", "3")), table.Replace)
	require.NoError(t, err)
	_, hasA := replaced.Properties.Get("A")
	assert.False(t, hasA)
	assert.Equal(t, "3", replaced.Properties.String("D"))
}

func testInvalidKeys(t *testing.T, tbl table.Table) {
	ctx := context.Background()
	for _, bad := range []string{"a/b", `a\b`, "a#b", "a?b", "a\tb"} {
		_, err := tbl.Upsert(ctx, row("p", bad), table.Replace)
		assert.True(t, errors.Is(err, table.ErrInvalidKey), "row key %q: got %v", bad, err)
	}
	_, err := tbl.Upsert(ctx, row("E_a%40b|c", "U_x"), table.Replace)
	assert.NoError(t, err)
}

func testPropertyTypes(t *testing.T, tbl table.Table) {
	ctx := context.Background()
	ts := time.Date(2023, 1, 2, 3, 4, 5, 6000, time.UTC)
	id := uuid.New()
	in := row("p", "types",
		prop("S", "text"),
		prop("B", true),
		prop("I", int32(-5)),
		prop("L", int64(1)<<60),
		prop("F", 8.5),
		prop("T", ts),
		prop("G", id),
		prop("X", []byte{0, 1, 2}),
	)
	_, err := tbl.Upsert(ctx, in, table.Replace)
	require.NoError(t, err)
	got, err := tbl.Get(ctx, "p", "types")
	require.NoError(t, err)
	require.Len(t, got.Properties, len(in.Properties))
	for i, p := range in.Properties {
		assert.Equal(t, p.Name, got.Properties[i].Name, "property order")
		if want, ok := p.Value.(time.Time); ok {
			gotTime, isTime := got.Properties[i].Value.(time.Time)
			require.True(t, isTime)
			assert.True(t, want.Equal(gotTime))
			continue
		}
		assert.Equal(t, p.Value, got.Properties[i].Value, p.Name)
	}
}

func seed(t *testing.T, tbl table.Table, partitions, rows int) {
	t.Helper()
	ctx := context.Background()
	for p := 0; p < partitions; p++ {
		for r := 0; r < rows; r++ {
			e := row(fmt.Sprintf("P%02d", p), fmt.Sprintf("R%03d", r), prop("N", int32(r)))
			_, err := tbl.Upsert(ctx, e, table.Replace)
			require.NoError(t, err)
		}
	}
}

func collect(t *testing.T, tbl table.Table, q table.Query) ([]*table.Entity, int) {
	t.Helper()
	var all []*table.Entity
	pages := 0
	for {
		page, err := tbl.Query(context.Background(), q)
		require.NoError(t, err)
		pages++
		all = append(all, page.Entities...)
		if page.ContinuationToken == "" {
			return all, pages
		}
		require.Len(t, page.Entities, q.PageSize, "only the last page may be short")
		q.ContinuationToken = page.ContinuationToken
	}
}

func testQueryPaging(t *testing.T, tbl table.Table) {
	seed(t, tbl, 3, 10)
	all, pages := collect(t, tbl, table.Query{PageSize: 7})
	assert.Len(t, all, 30)
	assert.Equal(t, 5, pages)
	for i := 1; i < len(all); i++ {
		prev := table.Position{PartitionKey: all[i-1].PartitionKey, RowKey: all[i-1].RowKey}
		cur := table.Position{PartitionKey: all[i].PartitionKey, RowKey: all[i].RowKey}
		assert.True(t, prev.Less(cur), "rows out of order at %d", i)
	}

	// exact multiple: the token must be empty on the last full page
	_, pages = collect(t, tbl, table.Query{PageSize: 10})
	assert.Equal(t, 3, pages)
}

func testQueryFilterAndBounds(t *testing.T, tbl table.Table) {
	seed(t, tbl, 4, 5)
	q := table.Query{
		Filter: filter.And(
			filter.Equal(filter.PartitionKey, filter.String("P02")),
			filter.GreaterThanOrEqual("N", filter.Int(3)),
		),
		PageSize: 1,
	}
	got, _ := collect(t, tbl, q)
	require.Len(t, got, 2)
	assert.Equal(t, "R003", got[0].RowKey)
	assert.Equal(t, "R004", got[1].RowKey)

	got, _ = collect(t, tbl, table.Query{Filter: filter.PrefixRange(filter.RowKey, "R00"), PageSize: 100})
	assert.Len(t, got, 20)

	got, _ = collect(t, tbl, table.Query{Filter: filter.Equal("N", filter.Int(99)), PageSize: 100})
	assert.Empty(t, got)
}

func testQuerySinglePartition(t *testing.T, tbl table.Table) {
	ctx := context.Background()
	for _, pk := range []string{"U_w", "U_x", "U_xy", "U_y"} {
		for i := 0; i < 3; i++ {
			_, err := tbl.Insert(ctx, row(pk, fmt.Sprintf("R%d", i)))
			require.NoError(t, err)
		}
	}
	got, _ := collect(t, tbl, table.Query{Filter: filter.Equal(filter.PartitionKey, filter.String("U_x")), PageSize: 2})
	require.Len(t, got, 3)
	for _, e := range got {
		assert.Equal(t, "U_x", e.PartitionKey)
	}

	got, _ = collect(t, tbl, table.Query{Filter: filter.LessThanOrEqual(filter.PartitionKey, filter.String("U_x")), PageSize: 100})
	assert.Len(t, got, 6)
}

func testQueryPageSize(t *testing.T, tbl table.Table) {
	ctx := context.Background()
	for _, size := range []int{-1, table.MaxPageSize + 1} {
		_, err := tbl.Query(ctx, table.Query{PageSize: size})
		assert.True(t, errors.Is(err, table.ErrInvalidQuery), "size %d: got %v", size, err)
	}
	_, err := tbl.Query(ctx, table.Query{Filter: "N eq"})
	assert.True(t, errors.Is(err, table.ErrInvalidQuery), "got %v", err)
	_, err = tbl.Query(ctx, table.Query{ContinuationToken: "%%%"})
	assert.True(t, errors.Is(err, table.ErrInvalidQuery), "got %v", err)
}

func testTransactionCommit(t *testing.T, tbl table.Table) {
	ctx := context.Background()
	_, err := tbl.Insert(ctx, row("p", "old"))
	require.NoError(t, err)

	tx := table.NewTransaction("p")
	tx.Add(row("p", "a", prop("V", "a")))
	tx.Upsert(row("p", "b", prop("V", "b")), table.Replace)
	tx.Delete(&table.Entity{PartitionKey: "p", RowKey: "old", ETag: table.WildcardETag})
	resp, err := tbl.Submit(ctx, tx)
	require.NoError(t, err)
	require.Len(t, resp, 3)
	assert.NotEmpty(t, resp[0].ETag)
	assert.Empty(t, resp[2].ETag)

	got, _ := collect(t, tbl, table.Query{PageSize: 10})
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].RowKey)
	assert.Equal(t, "b", got[1].RowKey)
}

func testTransactionAtomic(t *testing.T, tbl table.Table) {
	ctx := context.Background()
	_, err := tbl.Insert(ctx, row("p", "taken"))
	require.NoError(t, err)

	tx := table.NewTransaction("p")
	tx.Upsert(row("p", "first"), table.Replace)
	tx.Add(row("p", "taken"))
	_, err = tbl.Submit(ctx, tx)
	require.Error(t, err)
	var txErr *table.TransactionError
	require.True(t, errors.As(err, &txErr))
	assert.Equal(t, 1, txErr.Index)
	assert.True(t, errors.Is(err, table.ErrConflict))

	_, err = tbl.Get(ctx, "p", "first")
	assert.True(t, errors.Is(err, table.ErrNotFound), "first op must roll back, got %v", err)
}

func testTransactionLimits(t *testing.T, tbl table.Table) {
	ctx := context.Background()
	mixed := table.NewTransaction("p")
	mixed.Upsert(row("p", "a"), table.Replace)
	mixed.Upsert(row("q", "a"), table.Replace)
	_, err := tbl.Submit(ctx, mixed)
	assert.True(t, errors.Is(err, table.ErrMixedPartitions), "got %v", err)

	dup := table.NewTransaction("p")
	dup.Upsert(row("p", "a"), table.Replace)
	dup.Delete(row("p", "a"))
	_, err = tbl.Submit(ctx, dup)
	assert.True(t, errors.Is(err, table.ErrDuplicateRow), "got %v", err)

	big := table.NewTransaction("p")
	for i := 0; i <= table.MaxTransactionOps; i++ {
		big.Upsert(row("p", fmt.Sprintf("r%03d", i)), table.Replace)
	}
	_, err = tbl.Submit(ctx, big)
	assert.True(t, errors.Is(err, table.ErrTransactionTooLarge), "got %v", err)

	got, _ := collect(t, tbl, table.Query{PageSize: 10})
	assert.Empty(t, got)
}
