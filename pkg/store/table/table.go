// Package table is the contract of the wide-column store the identity
// tables live on: rows addressed by partition and row key, range queries
// with continuation tokens, and atomic batches inside one partition.
package table

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

var (
	ErrNotFound            = errors.New("entity not found")
	ErrConflict            = errors.New("entity already exists")
	ErrPreconditionFailed  = errors.New("etag mismatch")
	ErrInvalidKey          = errors.New("invalid key")
	ErrInvalidQuery        = errors.New("invalid query")
	ErrTableNotFound       = errors.New("table not found")
	ErrTransactionTooLarge = errors.New("transaction exceeds operation limit")
	ErrMixedPartitions     = errors.New("transaction spans partitions")
	ErrDuplicateRow        = errors.New("transaction touches a row twice")
)

const (
	// WildcardETag overwrites unconditionally.
	WildcardETag = "*"

	MaxPageSize       = 1000
	MaxTransactionOps = 100
)

// UpdateMode selects how an update or upsert treats existing properties.
type UpdateMode int

const (
	Replace UpdateMode = iota
	Merge
)

func (m UpdateMode) String() string {
	if m == Merge {
		return "merge"
	}
	return "replace"
}

// Query selects rows by filter. PageSize 0 means MaxPageSize.
type Query struct {
	Filter            string
	PageSize          int
	ContinuationToken string
}

// Page is one fetch. ContinuationToken is empty exactly when no further
// row matches.
type Page struct {
	Entities          []*Entity
	ContinuationToken string
}

// Response reports one applied transaction operation.
type Response struct {
	RowKey string
	ETag   string
}

type Table interface {
	Name() string
	CreateIfNotExists(ctx context.Context) error
	Get(ctx context.Context, partitionKey, rowKey string) (*Entity, error)
	Query(ctx context.Context, q Query) (*Page, error)
	Insert(ctx context.Context, e *Entity) (*Entity, error)
	Update(ctx context.Context, e *Entity, mode UpdateMode) (*Entity, error)
	Upsert(ctx context.Context, e *Entity, mode UpdateMode) (*Entity, error)
	Delete(ctx context.Context, partitionKey, rowKey, etag string) error
	Submit(ctx context.Context, tx *Transaction) ([]Response, error)
}

// Store hands out tables by name.
type Store interface {
	Table(name string) Table
	Close() error
}

// ValidateKey rejects characters the store does not allow in keys.
func ValidateKey(key string) error {
	if len(key) > 1024 {
		return ErrInvalidKey
	}
	for _, r := range key {
		if r == '/' || r == '\\' || r == '#' || r == '?' || unicode.IsControl(r) {
			return ErrInvalidKey
		}
	}
	return nil
}

func validateEntityKeys(e *Entity) error {
	if e == nil {
		return ErrInvalidKey
	}
	if err := ValidateKey(e.PartitionKey); err != nil {
		return err
	}
	return ValidateKey(e.RowKey)
}

// NewETag returns a fresh weak entity tag.
func NewETag() string {
	return `W/"` + strings.ReplaceAll(uuid.NewString(), "-", "") + `"`
}

func etagMatches(want, have string) bool {
	return want == "" || want == WildcardETag || want == have
}

var now = func() time.Time { return time.Now().UTC() }
