package table

import (
	"errors"
	"fmt"
)

type ActionKind int

const (
	ActionAdd ActionKind = iota
	ActionUpdate
	ActionUpsert
	ActionDelete
)

func (k ActionKind) String() string {
	switch k {
	case ActionAdd:
		return "add"
	case ActionUpdate:
		return "update"
	case ActionUpsert:
		return "upsert"
	case ActionDelete:
		return "delete"
	}
	return "unknown"
}

type Action struct {
	Kind   ActionKind
	Mode   UpdateMode
	Entity *Entity
}

// Transaction is an ordered set of operations on one partition, applied
// all or nothing.
type Transaction struct {
	partitionKey string
	actions      []Action
}

func NewTransaction(partitionKey string) *Transaction {
	return &Transaction{partitionKey: partitionKey}
}

func (t *Transaction) PartitionKey() string { return t.partitionKey }
func (t *Transaction) Actions() []Action    { return t.actions }
func (t *Transaction) Len() int             { return len(t.actions) }

func (t *Transaction) Add(e *Entity) {
	t.actions = append(t.actions, Action{Kind: ActionAdd, Entity: e})
}

func (t *Transaction) Update(e *Entity, mode UpdateMode) {
	t.actions = append(t.actions, Action{Kind: ActionUpdate, Mode: mode, Entity: e})
}

func (t *Transaction) Upsert(e *Entity, mode UpdateMode) {
	t.actions = append(t.actions, Action{Kind: ActionUpsert, Mode: mode, Entity: e})
}

func (t *Transaction) Delete(e *Entity) {
	t.actions = append(t.actions, Action{Kind: ActionDelete, Entity: e})
}

// Validate checks the limits every backend enforces before touching storage.
func (t *Transaction) Validate() error {
	if len(t.actions) > MaxTransactionOps {
		return &TransactionError{Index: MaxTransactionOps, Err: ErrTransactionTooLarge}
	}
	seen := make(map[string]struct{}, len(t.actions))
	for i, a := range t.actions {
		if err := validateEntityKeys(a.Entity); err != nil {
			return &TransactionError{Index: i, Entity: a.Entity, Err: err}
		}
		if a.Entity.PartitionKey != t.partitionKey {
			return &TransactionError{Index: i, Entity: a.Entity, Err: ErrMixedPartitions}
		}
		if _, dup := seen[a.Entity.RowKey]; dup {
			return &TransactionError{Index: i, Entity: a.Entity, Err: ErrDuplicateRow}
		}
		seen[a.Entity.RowKey] = struct{}{}
	}
	return nil
}

// TransactionError names the operation that made a transaction fail.
type TransactionError struct {
	Index  int
	Entity *Entity
	Err    error
}

func (e *TransactionError) Error() string {
	if e.Entity != nil {
		return fmt.Sprintf("transaction operation %d (%s): %v", e.Index, e.Entity.Key(), e.Err)
	}
	return fmt.Sprintf("transaction operation %d: %v", e.Index, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// SingleOp wraps one operation in a transaction so backends share one write path.
func SingleOp(a Action) *Transaction {
	return &Transaction{partitionKey: a.Entity.PartitionKey, actions: []Action{a}}
}

// SingleOpError strips the transaction wrapper from a SingleOp failure.
func SingleOpError(err error) error {
	var txErr *TransactionError
	if errors.As(err, &txErr) {
		return txErr.Err
	}
	return err
}
