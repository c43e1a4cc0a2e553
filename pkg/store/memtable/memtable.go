// Package memtable keeps tables in process memory. It backs tests and
// dry runs, and can inject write faults.
package memtable

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table/filter"
)

// FaultFunc is consulted before every write; a non-nil error fails it.
// For transactions it runs once per operation, before anything is applied.
type FaultFunc func(op table.ActionKind, e *table.Entity) error

type Store struct {
	mu     sync.Mutex
	tables map[string]*Table
}

func NewStore() *Store {
	return &Store{tables: make(map[string]*Table)}
}

func (s *Store) Table(name string) table.Table {
	return s.MemTable(name)
}

// MemTable returns the concrete table so tests can reach fault injection.
func (s *Store) MemTable(name string) *Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		t = New(name)
		s.tables[name] = t
	}
	return t
}

func (s *Store) Close() error { return nil }

type Table struct {
	name string

	mu      sync.RWMutex
	created bool
	rows    map[table.Position]*table.Entity
	order   []table.Position
	fault   FaultFunc
}

var _ table.Table = (*Table)(nil)

func New(name string) *Table {
	return &Table{name: name, rows: make(map[table.Position]*table.Entity)}
}

func (t *Table) Name() string { return t.name }

// SetFault installs or clears (nil) the write fault hook.
func (t *Table) SetFault(f FaultFunc) {
	t.mu.Lock()
	t.fault = f
	t.mu.Unlock()
}

// Len returns the number of stored rows.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

func (t *Table) CreateIfNotExists(ctx context.Context) error {
	t.mu.Lock()
	t.created = true
	t.mu.Unlock()
	return nil
}

func (t *Table) ready() error {
	if !t.created {
		return fmt.Errorf("%w: %s", table.ErrTableNotFound, t.name)
	}
	return nil
}

func (t *Table) Get(ctx context.Context, partitionKey, rowKey string) (*table.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.ready(); err != nil {
		return nil, err
	}
	e, ok := t.rows[table.Position{PartitionKey: partitionKey, RowKey: rowKey}]
	if !ok {
		return nil, table.ErrNotFound
	}
	return e.Clone(), nil
}

func (t *Table) Query(ctx context.Context, q table.Query) (*table.Page, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.ready(); err != nil {
		return nil, err
	}
	return table.RunQuery(ctx, q, t.scan)
}

func (t *Table) scan(_ context.Context, from *table.Position, bounds filter.Bounds, yield func(*table.Entity) bool) error {
	start := 0
	if bounds.Lower != "" {
		lower := table.Position{PartitionKey: bounds.Lower}
		start = sort.Search(len(t.order), func(i int) bool { return !t.order[i].Less(lower) })
	}
	if from != nil {
		at := sort.Search(len(t.order), func(i int) bool { return !t.order[i].Less(*from) })
		start = max(start, at)
	}
	for _, pos := range t.order[start:] {
		if bounds.Upper != "" && pos.PartitionKey >= bounds.Upper {
			return nil
		}
		if !yield(t.rows[pos].Clone()) {
			return nil
		}
	}
	return nil
}

func (t *Table) Insert(ctx context.Context, e *table.Entity) (*table.Entity, error) {
	return t.single(ctx, table.Action{Kind: table.ActionAdd, Entity: e})
}

func (t *Table) Update(ctx context.Context, e *table.Entity, mode table.UpdateMode) (*table.Entity, error) {
	return t.single(ctx, table.Action{Kind: table.ActionUpdate, Mode: mode, Entity: e})
}

func (t *Table) Upsert(ctx context.Context, e *table.Entity, mode table.UpdateMode) (*table.Entity, error) {
	return t.single(ctx, table.Action{Kind: table.ActionUpsert, Mode: mode, Entity: e})
}

func (t *Table) Delete(ctx context.Context, partitionKey, rowKey, etag string) error {
	_, err := t.single(ctx, table.Action{Kind: table.ActionDelete, Entity: &table.Entity{
		PartitionKey: partitionKey, RowKey: rowKey, ETag: etag,
	}})
	return err
}

func (t *Table) single(ctx context.Context, a table.Action) (*table.Entity, error) {
	if _, err := t.Submit(ctx, table.SingleOp(a)); err != nil {
		return nil, table.SingleOpError(err)
	}
	if a.Kind == table.ActionDelete {
		return nil, nil
	}
	return t.Get(ctx, a.Entity.PartitionKey, a.Entity.RowKey)
}

func (t *Table) Submit(ctx context.Context, tx *table.Transaction) ([]table.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ready(); err != nil {
		return nil, err
	}
	if t.fault != nil {
		for i, a := range tx.Actions() {
			if err := t.fault(a.Kind, a.Entity); err != nil {
				return nil, &table.TransactionError{Index: i, Entity: a.Entity, Err: err}
			}
		}
	}
	results, responses, err := table.ApplyAll(tx, func(rowKey string) (*table.Entity, error) {
		return t.rows[table.Position{PartitionKey: tx.PartitionKey(), RowKey: rowKey}], nil
	})
	if err != nil {
		return nil, err
	}
	for rk, next := range results {
		pos := table.Position{PartitionKey: tx.PartitionKey(), RowKey: rk}
		if next == nil {
			t.remove(pos)
			continue
		}
		if _, exists := t.rows[pos]; !exists {
			t.insertOrder(pos)
		}
		t.rows[pos] = next
	}
	return responses, nil
}

func (t *Table) insertOrder(pos table.Position) {
	i := sort.Search(len(t.order), func(i int) bool { return !t.order[i].Less(pos) })
	t.order = append(t.order, table.Position{})
	copy(t.order[i+1:], t.order[i:])
	t.order[i] = pos
}

func (t *Table) remove(pos table.Position) {
	delete(t.rows, pos)
	i := sort.Search(len(t.order), func(i int) bool { return !t.order[i].Less(pos) })
	if i < len(t.order) && t.order[i] == pos {
		t.order = append(t.order[:i], t.order[i+1:]...)
	}
}
