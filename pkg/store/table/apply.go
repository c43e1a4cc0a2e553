package table

// Apply computes the row that results from one operation given the row
// currently stored (nil when absent). A nil result with a nil error means
// the row is removed. Backends call it under their own write lock so every
// store shares one set of concurrency rules.
func Apply(current *Entity, a Action) (*Entity, error) {
	e := a.Entity
	switch a.Kind {
	case ActionAdd:
		if current != nil {
			return nil, ErrConflict
		}
		return stamp(e, e.Properties), nil
	case ActionUpdate:
		if current == nil {
			return nil, ErrNotFound
		}
		if !etagMatches(e.ETag, current.ETag) {
			return nil, ErrPreconditionFailed
		}
		return stamp(e, mergeFor(a.Mode, current, e)), nil
	case ActionUpsert:
		if current == nil {
			return stamp(e, e.Properties), nil
		}
		return stamp(e, mergeFor(a.Mode, current, e)), nil
	case ActionDelete:
		if current == nil {
			return nil, ErrNotFound
		}
		if !etagMatches(e.ETag, current.ETag) {
			return nil, ErrPreconditionFailed
		}
		return nil, nil
	}
	return nil, ErrInvalidQuery
}

func mergeFor(mode UpdateMode, current, next *Entity) Properties {
	if mode == Merge {
		return current.Properties.Merge(next.Properties)
	}
	return next.Properties
}

func stamp(e *Entity, props Properties) *Entity {
	return &Entity{
		PartitionKey: e.PartitionKey,
		RowKey:       e.RowKey,
		ETag:         NewETag(),
		Timestamp:    now(),
		Properties:   props.Clone(),
	}
}

// ApplyAll runs a validated transaction against a snapshot of the rows it
// touches. lookup returns the stored row or nil. Nothing is returned but an
// error when any operation fails, so the caller can discard the whole set.
func ApplyAll(tx *Transaction, lookup func(rowKey string) (*Entity, error)) (map[string]*Entity, []Response, error) {
	if err := tx.Validate(); err != nil {
		return nil, nil, err
	}
	results := make(map[string]*Entity, tx.Len())
	responses := make([]Response, 0, tx.Len())
	for i, a := range tx.Actions() {
		current, err := lookup(a.Entity.RowKey)
		if err != nil {
			return nil, nil, &TransactionError{Index: i, Entity: a.Entity, Err: err}
		}
		next, err := Apply(current, a)
		if err != nil {
			return nil, nil, &TransactionError{Index: i, Entity: a.Entity, Err: err}
		}
		results[a.Entity.RowKey] = next
		r := Response{RowKey: a.Entity.RowKey}
		if next != nil {
			r.ETag = next.ETag
		}
		responses = append(responses, r)
	}
	return results, responses, nil
}
