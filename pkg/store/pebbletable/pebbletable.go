// Package pebbletable stores every table in one pebble database. Rows live
// at "<table>\x00<partition>\x00<row>", which sorts like (partition, row)
// because keys may not contain control characters.
package pebbletable

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/logger"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table/filter"
)

const (
	sep        = "\x00"
	metaPrefix = "\xfftables" + sep
)

type Options struct {
	// CacheSize is the block cache size in bytes; 0 keeps pebble's default.
	CacheSize int64
	// NoSync skips fsync on commit. Only for tests and throwaway runs.
	NoSync bool
}

type Store struct {
	db   *pebble.DB
	path string
	opts Options

	// serializes read-check-write so ETag checks see committed state
	writeMu sync.Mutex
}

func Open(path string, opts Options) (*Store, error) {
	pebbleOpts := &pebble.Options{}
	if opts.CacheSize > 0 {
		cache := pebble.NewCache(opts.CacheSize)
		defer cache.Unref()
		pebbleOpts.Cache = cache
	}
	db, err := pebble.Open(path, pebbleOpts)
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, fmt.Errorf("open pebble table store: %w", err)
	}
	logger.Debug("pebble_opened", "path", path)
	return &Store{db: db, path: path, opts: opts}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) Table(name string) table.Table {
	return &Table{store: s, name: name}
}

func (s *Store) writeOpts() *pebble.WriteOptions {
	if s.opts.NoSync {
		return pebble.NoSync
	}
	return pebble.Sync
}

type Table struct {
	store *Store
	name  string
}

var _ table.Table = (*Table)(nil)

func (t *Table) Name() string { return t.name }

func (t *Table) prefix() string { return t.name + sep }

func (t *Table) rowKey(pk, rk string) []byte {
	return []byte(t.name + sep + pk + sep + rk)
}

func (t *Table) CreateIfNotExists(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.store.db.Set([]byte(metaPrefix+t.name), []byte{1}, t.store.writeOpts())
}

func (t *Table) ready() error {
	_, closer, err := t.store.db.Get([]byte(metaPrefix + t.name))
	if errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("%w: %s", table.ErrTableNotFound, t.name)
	}
	if err != nil {
		return err
	}
	return closer.Close()
}

func (t *Table) load(pk, rk string) (*table.Entity, error) {
	v, closer, err := t.store.db.Get(t.rowKey(pk, rk))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return table.Unmarshal(v)
}

func (t *Table) Get(ctx context.Context, partitionKey, rowKey string) (*table.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := t.ready(); err != nil {
		return nil, err
	}
	e, err := t.load(partitionKey, rowKey)
	if err != nil {
		logger.Error("pebble_get_failed", "table", t.name, "pk", partitionKey, "rk", rowKey, "error", err)
		return nil, err
	}
	if e == nil {
		return nil, table.ErrNotFound
	}
	return e, nil
}

func (t *Table) Query(ctx context.Context, q table.Query) (*table.Page, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	return table.RunQuery(ctx, q, t.scan)
}

func (t *Table) scan(_ context.Context, from *table.Position, bounds filter.Bounds, yield func(*table.Entity) bool) error {
	lower := []byte(t.prefix() + bounds.Lower)
	if from != nil {
		if fk := t.rowKey(from.PartitionKey, from.RowKey); string(fk) > string(lower) {
			lower = fk
		}
	}
	upper := []byte(t.name + "\x01")
	if bounds.Upper != "" {
		upper = []byte(t.prefix() + bounds.Upper)
	}
	iter, err := t.store.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		e, err := table.Unmarshal(iter.Value())
		if err != nil {
			return err
		}
		if !yield(e) {
			break
		}
	}
	return iter.Error()
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

// Submit applies the transaction as one pebble batch.
func (t *Table) Submit(ctx context.Context, tx *table.Transaction) ([]table.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := t.ready(); err != nil {
		return nil, err
	}
	t.store.writeMu.Lock()
	defer t.store.writeMu.Unlock()

	pk := tx.PartitionKey()
	results, responses, err := table.ApplyAll(tx, func(rk string) (*table.Entity, error) {
		return t.load(pk, rk)
	})
	if err != nil {
		return nil, err
	}
	b := t.store.db.NewBatch()
	defer b.Close()
	for rk, next := range results {
		key := t.rowKey(pk, rk)
		if next == nil {
			if err := b.Delete(key, nil); err != nil {
				return nil, err
			}
			continue
		}
		data, err := table.Marshal(next)
		if err != nil {
			return nil, err
		}
		if err := b.Set(key, data, nil); err != nil {
			return nil, err
		}
	}
	if err := b.Commit(t.store.writeOpts()); err != nil {
		logger.Error("pebble_commit_failed", "table", t.name, "pk", pk, "ops", tx.Len(), "error", err)
		return nil, err
	}
	return responses, nil
}
