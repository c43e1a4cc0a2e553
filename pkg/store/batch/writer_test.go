package batch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/memtable"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table"
)

func newTable(t *testing.T) *memtable.Table {
	t.Helper()
	tbl := memtable.New("batch")
	require.NoError(t, tbl.CreateIfNotExists(context.Background()))
	return tbl
}

func ent(pk, rk string) *table.Entity {
	return &table.Entity{PartitionKey: pk, RowKey: rk, ETag: table.WildcardETag}
}

func TestGroupsByPartition(t *testing.T) {
	w := New(newTable(t))
	w.UpsertEntity(ent("a", "1"), table.Replace)
	w.UpsertEntity(ent("b", "1"), table.Replace)
	w.AddEntity(ent("a", "2"))
	assert.Equal(t, []string{"a", "b"}, w.Partitions())
	assert.Equal(t, 3, w.Len())

	results, err := w.SubmitBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].PartitionKey)
	assert.Len(t, results[0].Responses, 2)
	assert.Len(t, results[1].Responses, 1)
	assert.Equal(t, 0, w.Len(), "buffer must be empty after submit")
}

// TestPartitionIsAtomicUnderFailure forces the store to reject one of two
// operations sharing a partition and expects neither to land, while the
// other partition still commits.
func TestPartitionIsAtomicUnderFailure(t *testing.T) {
	ctx := context.Background()
	tbl := newTable(t)
	boom := errors.New("injected")
	tbl.SetFault(func(op table.ActionKind, e *table.Entity) error {
		if e.PartitionKey == "a" && e.RowKey == "2" {
			return boom
		}
		return nil
	})
	w := New(tbl)
	w.UpsertEntity(ent("a", "1"), table.Replace)
	w.UpsertEntity(ent("a", "2"), table.Replace)
	w.UpsertEntity(ent("b", "1"), table.Replace)

	results, err := w.SubmitBatch(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Error(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.Equal(t, 0, w.Len(), "buffer is cleared on failure too")

	for _, rk := range []string{"1", "2"} {
		_, gerr := tbl.Get(ctx, "a", rk)
		assert.True(t, errors.Is(gerr, table.ErrNotFound), "a/%s should not exist", rk)
	}
	_, gerr := tbl.Get(ctx, "b", "1")
	assert.NoError(t, gerr)

	failed, ok := w.TryGetFailedEntity(err)
	require.True(t, ok)
	assert.Equal(t, "2", failed.RowKey)
	assert.Equal(t, "a", failed.PartitionKey)
}

func TestParallelSubmit(t *testing.T) {
	ctx := context.Background()
	tbl := newTable(t)
	w := New(tbl)
	for p := 0; p < 20; p++ {
		for r := 0; r < 3; r++ {
			w.UpsertEntity(ent(fmt.Sprintf("p%02d", p), fmt.Sprintf("r%d", r)), table.Replace)
		}
	}
	results, err := w.SubmitBatchParallel(ctx, 4)
	require.NoError(t, err)
	assert.Len(t, results, 20)
	assert.Equal(t, 60, tbl.Len())
}

func TestLargePartitionRollsOver(t *testing.T) {
	ctx := context.Background()
	tbl := newTable(t)
	w := New(tbl)
	for r := 0; r < table.MaxTransactionOps+5; r++ {
		w.UpsertEntity(ent("big", fmt.Sprintf("r%03d", r)), table.Replace)
	}
	assert.Equal(t, []string{"big"}, w.Partitions())
	results, err := w.SubmitBatch(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Len(t, results[0].Responses, table.MaxTransactionOps)
	assert.Len(t, results[1].Responses, 5)
}

func TestCancelledContextFailsEveryPartition(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := New(newTable(t))
	w.UpsertEntity(ent("a", "1"), table.Replace)
	results, err := w.SubmitBatch(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Error(t, results[0].Err)
	_, ok := w.TryGetFailedEntity(err)
	assert.False(t, ok, "no single entity caused a cancellation")
}

func TestTryGetFailedEntityIgnoresForeignErrors(t *testing.T) {
	w := New(newTable(t))
	_, ok := w.TryGetFailedEntity(errors.New("unrelated"))
	assert.False(t, ok)
}
