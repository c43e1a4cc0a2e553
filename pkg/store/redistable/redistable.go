// Package redistable stores tables in Redis. Each row is a string key
// holding the encoded entity; a sorted set per table keeps members
// "<partition>\x00<row>" at score 0 so ZRANGEBYLEX walks rows in key order.
package redistable

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/logger"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table/filter"
)

const (
	defaultNamespace = "idt:"
	sep              = "\x00"

	// members fetched per ZRANGEBYLEX round trip
	scanChunk = 256
	// optimistic transaction attempts before giving up
	maxTxRetries = 8
)

var ErrTooMuchContention = errors.New("redis transaction retried too often")

type Options struct {
	URL       string
	Namespace string
}

type Store struct {
	client    *redis.Client
	namespace string
	owned     bool
}

// Open connects using a redis:// URL and pings the server.
func Open(ctx context.Context, opts Options) (*Store, error) {
	ro, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(ro)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	s := NewStore(client, opts.Namespace)
	s.owned = true
	return s, nil
}

// NewStore wraps an existing client; Close leaves it open.
func NewStore(client *redis.Client, namespace string) *Store {
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &Store{client: client, namespace: namespace}
}

func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

func (s *Store) Table(name string) table.Table {
	return &Table{store: s, name: name}
}

func (s *Store) tablesKey() string { return s.namespace + "tables" }

type Table struct {
	store *Store
	name  string
}

var _ table.Table = (*Table)(nil)

func (t *Table) Name() string { return t.name }

func (t *Table) indexKey() string { return t.store.namespace + t.name + ":idx" }

func (t *Table) rowKey(pk, rk string) string {
	return t.store.namespace + t.name + ":r:" + pk + sep + rk
}

func member(pk, rk string) string { return pk + sep + rk }

func (t *Table) CreateIfNotExists(ctx context.Context) error {
	return t.store.client.SAdd(ctx, t.store.tablesKey(), t.name).Err()
}

func (t *Table) ready(ctx context.Context) error {
	ok, err := t.store.client.SIsMember(ctx, t.store.tablesKey(), t.name).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", table.ErrTableNotFound, t.name)
	}
	return nil
}

func (t *Table) Get(ctx context.Context, partitionKey, rowKey string) (*table.Entity, error) {
	if err := t.ready(ctx); err != nil {
		return nil, err
	}
	data, err := t.store.client.Get(ctx, t.rowKey(partitionKey, rowKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, table.ErrNotFound
	}
	if err != nil {
		logger.Error("redis_get_failed", "table", t.name, "pk", partitionKey, "rk", rowKey, "error", err)
		return nil, err
	}
	return table.Unmarshal(data)
}

func (t *Table) Query(ctx context.Context, q table.Query) (*table.Page, error) {
	if err := t.ready(ctx); err != nil {
		return nil, err
	}
	return table.RunQuery(ctx, q, t.scan)
}

func (t *Table) scan(ctx context.Context, from *table.Position, bounds filter.Bounds, yield func(*table.Entity) bool) error {
	lo := "-"
	if bounds.Lower != "" {
		lo = "[" + bounds.Lower
	}
	if from != nil {
		if fm := member(from.PartitionKey, from.RowKey); lo == "-" || fm > lo[1:] {
			lo = "[" + fm
		}
	}
	hi := "+"
	if bounds.Upper != "" {
		hi = "(" + bounds.Upper
	}
	for {
		members, err := t.store.client.ZRangeByLex(ctx, t.indexKey(), &redis.ZRangeBy{
			Min: lo, Max: hi, Count: scanChunk,
		}).Result()
		if err != nil {
			return err
		}
		if len(members) == 0 {
			return nil
		}
		keys := make([]string, len(members))
		for i, m := range members {
			pk, rk, _ := strings.Cut(m, sep)
			keys[i] = t.rowKey(pk, rk)
		}
		values, err := t.store.client.MGet(ctx, keys...).Result()
		if err != nil {
			return err
		}
		for _, v := range values {
			s, ok := v.(string)
			if !ok {
				// removed between the range read and the fetch
				continue
			}
			e, err := table.Unmarshal([]byte(s))
			if err != nil {
				return err
			}
			if !yield(e) {
				return nil
			}
		}
		if len(members) < scanChunk {
			return nil
		}
		lo = "(" + members[len(members)-1]
	}
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

// Submit watches every touched row, applies the operations to what it read
// and commits them in one MULTI/EXEC, retrying when a watched row changes.
func (t *Table) Submit(ctx context.Context, tx *table.Transaction) ([]table.Response, error) {
	if err := t.ready(ctx); err != nil {
		return nil, err
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	pk := tx.PartitionKey()
	watched := make([]string, 0, tx.Len())
	for _, a := range tx.Actions() {
		watched = append(watched, t.rowKey(pk, a.Entity.RowKey))
	}

	var responses []table.Response
	txf := func(rtx *redis.Tx) error {
		results, resp, err := table.ApplyAll(tx, func(rk string) (*table.Entity, error) {
			data, err := rtx.Get(ctx, t.rowKey(pk, rk)).Bytes()
			if errors.Is(err, redis.Nil) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			return table.Unmarshal(data)
		})
		if err != nil {
			return err
		}
		encoded := make(map[string][]byte, len(results))
		for rk, next := range results {
			if next == nil {
				continue
			}
			data, err := table.Marshal(next)
			if err != nil {
				return err
			}
			encoded[rk] = data
		}
		_, err = rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for rk, next := range results {
				if next == nil {
					pipe.Del(ctx, t.rowKey(pk, rk))
					pipe.ZRem(ctx, t.indexKey(), member(pk, rk))
					continue
				}
				pipe.Set(ctx, t.rowKey(pk, rk), encoded[rk], 0)
				pipe.ZAdd(ctx, t.indexKey(), redis.Z{Score: 0, Member: member(pk, rk)})
			}
			return nil
		})
		if err == nil {
			responses = resp
		}
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := t.store.client.Watch(ctx, txf, watched...)
		if err == nil {
			return responses, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			logger.Debug("redis_tx_retry", "table", t.name, "pk", pk, "attempt", attempt+1)
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrTooMuchContention, t.name, pk)
}
