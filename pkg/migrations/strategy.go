// Package migrations re-keys identity records written under one key scheme
// so they are addressable under another. A Strategy selects and converts
// one kind of record; the Runner drives it over a paged scan.
package migrations

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/keys"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/models"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/pagination"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table/filter"
)

var ErrUnknownKind = errors.New("unknown migration kind")

// migration kinds as named in configuration and on the command line
const (
	KindUsers         = "users"
	KindRoles         = "roles"
	KindClaims        = "claims"
	KindEmailIndex    = "email-index"
	KindUserNameIndex = "username-index"
	KindLoginIndex    = "login-index"
)

// Tables are the three identity tables of one store.
type Tables struct {
	Users table.Table
	Roles table.Table
	Index table.Table
}

// Same reports whether both sets hold the same table values, meaning a run
// rewrites its own source.
func (t Tables) Same(o Tables) bool {
	return t.Users == o.Users && t.Roles == o.Roles && t.Index == o.Index
}

// Options tune strategy behaviour shared by every kind.
type Options struct {
	// DeleteStale removes a converted row's old address on in-place runs.
	DeleteStale bool
}

// Strategy is one kind of migration.
type Strategy interface {
	Name() string
	SourceTable(source Tables) table.Table
	SourceQuery() string
	// ShouldConvert filters rows the source query cannot exclude.
	ShouldConvert(e *table.Entity) bool
	// ProcessPage converts page with at most parallelism units in flight.
	// Exactly one of the callbacks is called per entity, and none after it
	// returns.
	ProcessPage(ctx context.Context, target, source Tables, page []*table.Entity, parallelism int,
		onSuccess func(key string), onFailure func(key string, err error))
}

// versionFiltered is implemented by strategies whose source query selects
// only rows below the target key version.
type versionFiltered interface {
	versionFiltered() bool
}

type factory func(s keys.Scheme, opts Options) Strategy

var registry = map[string]factory{
	KindUsers:         func(s keys.Scheme, o Options) Strategy { return &usersStrategy{base: base{scheme: s, opts: o}} },
	KindRoles:         func(s keys.Scheme, o Options) Strategy { return &rolesStrategy{base: base{scheme: s, opts: o}} },
	KindClaims:        func(s keys.Scheme, o Options) Strategy { return &claimsStrategy{base: base{scheme: s, opts: o}} },
	KindEmailIndex:    func(s keys.Scheme, o Options) Strategy { return newEmailIndex(s, o) },
	KindUserNameIndex: func(s keys.Scheme, o Options) Strategy { return newUserNameIndex(s, o) },
	KindLoginIndex:    func(s keys.Scheme, o Options) Strategy { return &loginIndexStrategy{base: base{scheme: s, opts: o}} },
}

// Lookup returns the strategy for a configured kind name.
func Lookup(kind string, s keys.Scheme, opts Options) (Strategy, error) {
	f, ok := registry[strings.ToLower(strings.TrimSpace(kind))]
	if !ok {
		return nil, fmt.Errorf("%w: %q (want one of %s)", ErrUnknownKind, kind, strings.Join(Kinds(), ", "))
	}
	return f(s, opts), nil
}

// Kinds lists the known kind names in sorted order.
func Kinds() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type base struct {
	scheme keys.Scheme
	opts   Options
}

func (b base) target() float64 { return b.scheme.KeyVersion() }

func (b base) stale() string {
	return filter.LessThan(models.FieldKeyVersion, filter.Double(b.target()))
}

// convertFunc migrates one source row.
type convertFunc func(ctx context.Context, e *table.Entity) error

// forEach runs convert over page on a bounded pool. Units that have not
// started when ctx ends report ctx.Err() without writing anything.
func forEach(ctx context.Context, page []*table.Entity, parallelism int, convert convertFunc,
	onSuccess func(string), onFailure func(string, error)) {
	if parallelism <= 0 {
		parallelism = pagination.DefaultParallelism
	}
	var g errgroup.Group
	g.SetLimit(parallelism)
	for _, e := range page {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				onFailure(e.Key(), err)
				return nil
			}
			if err := convert(ctx, e); err != nil {
				onFailure(e.Key(), err)
				return nil
			}
			onSuccess(e.Key())
			return nil
		})
	}
	_ = g.Wait()
}

// readPartition returns every row of one partition matching extra.
func readPartition(ctx context.Context, t table.Table, partitionKey, extra string) ([]*table.Entity, error) {
	q := filter.And(filter.Equal(filter.PartitionKey, filter.String(partitionKey)), extra)
	var out []*table.Entity
	token := ""
	for {
		page, err := t.Query(ctx, table.Query{Filter: q, PageSize: pagination.MaxPageSize, ContinuationToken: token})
		if err != nil {
			return nil, fmt.Errorf("read partition %s: %w", partitionKey, err)
		}
		out = append(out, page.Entities...)
		if page.ContinuationToken == "" {
			return out, nil
		}
		token = page.ContinuationToken
	}
}
