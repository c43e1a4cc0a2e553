// Package batch buffers writes across partitions and submits them as one
// atomic transaction per partition. There is no atomicity across
// partitions: a submission can fail for one partition and succeed for
// another.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/logger"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table"
)

// Writer is safe for concurrent use, but one Writer serves one logical
// unit of work.
type Writer struct {
	tbl table.Table

	mu    sync.Mutex
	order []*table.Transaction
	open  map[string]*table.Transaction
	// transactions of the most recent submission, for failure lookup
	submitted []*table.Transaction
}

func New(t table.Table) *Writer {
	return &Writer{tbl: t, open: make(map[string]*table.Transaction)}
}

// PartitionResult is the outcome of one submitted transaction. A partition
// with more than table.MaxTransactionOps operations yields several.
type PartitionResult struct {
	PartitionKey string
	Responses    []table.Response
	Err          error
}

// PartitionError ties a submission failure to its transaction.
type PartitionError struct {
	PartitionKey string
	tx           *table.Transaction
	Err          error
}

func (e *PartitionError) Error() string {
	return fmt.Sprintf("partition %s: %v", e.PartitionKey, e.Err)
}

func (e *PartitionError) Unwrap() error { return e.Err }

func (w *Writer) AddEntity(e *table.Entity) {
	w.queue(table.Action{Kind: table.ActionAdd, Entity: e})
}

func (w *Writer) UpdateEntity(e *table.Entity, mode table.UpdateMode) {
	w.queue(table.Action{Kind: table.ActionUpdate, Mode: mode, Entity: e})
}

func (w *Writer) UpsertEntity(e *table.Entity, mode table.UpdateMode) {
	w.queue(table.Action{Kind: table.ActionUpsert, Mode: mode, Entity: e})
}

func (w *Writer) DeleteEntity(e *table.Entity) {
	w.queue(table.Action{Kind: table.ActionDelete, Entity: e})
}

// queue appends to the open transaction of the entity's partition, starting
// a new one on first use or when the current one is full.
func (w *Writer) queue(a table.Action) {
	w.mu.Lock()
	defer w.mu.Unlock()
	pk := a.Entity.PartitionKey
	tx, ok := w.open[pk]
	if !ok || tx.Len() >= table.MaxTransactionOps {
		tx = table.NewTransaction(pk)
		w.open[pk] = tx
		w.order = append(w.order, tx)
	}
	switch a.Kind {
	case table.ActionAdd:
		tx.Add(a.Entity)
	case table.ActionUpdate:
		tx.Update(a.Entity, a.Mode)
	case table.ActionUpsert:
		tx.Upsert(a.Entity, a.Mode)
	case table.ActionDelete:
		tx.Delete(a.Entity)
	}
}

// Len returns the number of buffered operations.
func (w *Writer) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, tx := range w.order {
		n += tx.Len()
	}
	return n
}

// Partitions returns the distinct buffered partition keys in first-seen order.
func (w *Writer) Partitions() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	seen := make(map[string]struct{}, len(w.order))
	var out []string
	for _, tx := range w.order {
		if _, ok := seen[tx.PartitionKey()]; ok {
			continue
		}
		seen[tx.PartitionKey()] = struct{}{}
		out = append(out, tx.PartitionKey())
	}
	return out
}

// take empties the buffer and returns what it held.
func (w *Writer) take() []*table.Transaction {
	w.mu.Lock()
	defer w.mu.Unlock()
	txs := w.order
	w.order = nil
	w.open = make(map[string]*table.Transaction)
	w.submitted = txs
	return txs
}

// SubmitBatch submits each buffered transaction in turn. The buffer is
// cleared whatever the outcome; inspect the results before re-queuing.
func (w *Writer) SubmitBatch(ctx context.Context) ([]PartitionResult, error) {
	txs := w.take()
	results := make([]PartitionResult, len(txs))
	for i, tx := range txs {
		results[i] = w.submit(ctx, tx)
	}
	return results, joinFailures(results)
}

// SubmitBatchParallel submits all buffered transactions concurrently, at
// most limit at a time (0 for no limit).
func (w *Writer) SubmitBatchParallel(ctx context.Context, limit int) ([]PartitionResult, error) {
	txs := w.take()
	results := make([]PartitionResult, len(txs))
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, tx := range txs {
		g.Go(func() error {
			results[i] = w.submit(ctx, tx)
			return nil
		})
	}
	_ = g.Wait()
	return results, joinFailures(results)
}

func (w *Writer) submit(ctx context.Context, tx *table.Transaction) PartitionResult {
	res := PartitionResult{PartitionKey: tx.PartitionKey()}
	if err := ctx.Err(); err != nil {
		res.Err = &PartitionError{PartitionKey: tx.PartitionKey(), tx: tx, Err: err}
		return res
	}
	resp, err := w.tbl.Submit(ctx, tx)
	if err != nil {
		logger.Debug("batch_partition_failed", "table", w.tbl.Name(), "pk", tx.PartitionKey(), "ops", tx.Len(), "error", err)
		res.Err = &PartitionError{PartitionKey: tx.PartitionKey(), tx: tx, Err: err}
		return res
	}
	res.Responses = resp
	return res
}

func joinFailures(results []PartitionResult) error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errors.Join(errs...)
}

// TryGetFailedEntity returns the buffered entity whose operation made a
// partition fail in the last submission.
func (w *Writer) TryGetFailedEntity(err error) (*table.Entity, bool) {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if ent, found := w.TryGetFailedEntity(e); found {
				return ent, true
			}
		}
		return nil, false
	}
	var txErr *table.TransactionError
	if !errors.As(err, &txErr) {
		return nil, false
	}
	var pErr *PartitionError
	if errors.As(err, &pErr) && pErr.tx != nil {
		actions := pErr.tx.Actions()
		if txErr.Index >= 0 && txErr.Index < len(actions) {
			return actions[txErr.Index].Entity, true
		}
	}
	if txErr.Entity == nil {
		return nil, false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, tx := range w.submitted {
		if tx.PartitionKey() != txErr.Entity.PartitionKey {
			continue
		}
		for _, a := range tx.Actions() {
			if a.Entity.RowKey == txErr.Entity.RowKey {
				return a.Entity, true
			}
		}
	}
	return nil, false
}
