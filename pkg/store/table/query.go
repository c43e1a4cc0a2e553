package table

import (
	"context"
	"fmt"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table/filter"
)

// Position is a (partition, row) pair in scan order.
type Position struct {
	PartitionKey string
	RowKey       string
}

// Less orders positions by partition key, then row key.
func (p Position) Less(o Position) bool {
	if p.PartitionKey != o.PartitionKey {
		return p.PartitionKey < o.PartitionKey
	}
	return p.RowKey < o.RowKey
}

// ScanFunc walks stored rows in (partition, row) order starting at from
// (inclusive, nil for the beginning) and restricted to partitions inside
// bounds, calling yield until it returns false.
type ScanFunc func(ctx context.Context, from *Position, bounds filter.Bounds, yield func(*Entity) bool) error

// RunQuery implements paged filtering on top of an ordered scan. It looks
// one match past the page so the returned token is empty only at the end.
func RunQuery(ctx context.Context, q Query, scan ScanFunc) (*Page, error) {
	size := q.PageSize
	if size == 0 {
		size = MaxPageSize
	}
	if size < 0 || size > MaxPageSize {
		return nil, fmt.Errorf("%w: page size %d outside 1..%d", ErrInvalidQuery, q.PageSize, MaxPageSize)
	}
	expr, err := filter.Compile(q.Filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	tp, err := DecodeToken(q.ContinuationToken)
	if err != nil {
		return nil, err
	}
	var from *Position
	if tp != nil {
		from = &Position{PartitionKey: tp.NextPartitionKey, RowKey: tp.NextRowKey}
	}

	page := &Page{Entities: make([]*Entity, 0, min(size, 64))}
	var scanErr error
	err = scan(ctx, from, expr.PartitionBounds(), func(e *Entity) bool {
		if err := ctx.Err(); err != nil {
			scanErr = err
			return false
		}
		if !expr.Match(e) {
			return true
		}
		if len(page.Entities) == size {
			page.ContinuationToken = EncodeToken(TokenPayload{NextPartitionKey: e.PartitionKey, NextRowKey: e.RowKey})
			return false
		}
		page.Entities = append(page.Entities, e)
		return true
	})
	if err != nil {
		return nil, err
	}
	if scanErr != nil {
		return nil, scanErr
	}
	return page, nil
}
