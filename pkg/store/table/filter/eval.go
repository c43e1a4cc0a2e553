package filter

import (
	"bytes"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Getter exposes an entity's properties to a compiled filter.
type Getter interface {
	Value(name string) (any, bool)
}

type node interface {
	match(g Getter) bool
}

// Expr is a compiled filter.
type Expr struct {
	src  string
	root node
}

func (e *Expr) String() string { return e.src }

// Match reports whether g satisfies the filter. Comparisons against a
// missing property or a literal of another type are false.
func (e *Expr) Match(g Getter) bool {
	if e == nil || e.root == nil {
		return true
	}
	return e.root.match(g)
}

type andNode struct{ left, right node }
type orNode struct{ left, right node }
type notNode struct{ inner node }

type cmpNode struct {
	prop string
	op   string
	lit  any
}

func (n *andNode) match(g Getter) bool { return n.left.match(g) && n.right.match(g) }
func (n *orNode) match(g Getter) bool  { return n.left.match(g) || n.right.match(g) }
func (n *notNode) match(g Getter) bool { return !n.inner.match(g) }

func (n *cmpNode) match(g Getter) bool {
	v, ok := g.Value(n.prop)
	if !ok {
		return false
	}
	c, ok := compare(v, n.lit)
	if !ok {
		return false
	}
	switch n.op {
	case OpEqual:
		return c == 0
	case OpNotEqual:
		return c != 0
	case OpGreaterThan:
		return c > 0
	case OpGreaterThanOrEqual:
		return c >= 0
	case OpLessThan:
		return c < 0
	case OpLessThanOrEqual:
		return c <= 0
	}
	return false
}

func compare(a, b any) (int, bool) {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		default:
			return 1, true
		}
	case int32, int64, float64:
		return compareNumbers(a, b)
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return av.Compare(bv), true
	case uuid.UUID:
		bv, ok := b.(uuid.UUID)
		if !ok {
			return 0, false
		}
		return bytes.Compare(av[:], bv[:]), true
	case []byte:
		bv, ok := b.([]byte)
		if !ok {
			return 0, false
		}
		return bytes.Compare(av, bv), true
	}
	return 0, false
}

func compareNumbers(a, b any) (int, bool) {
	ai, aInt := asInt(a)
	bi, bInt := asInt(b)
	if aInt && bInt {
		return cmp3(ai < bi, ai > bi), true
	}
	af, ok := asFloat(a)
	if !ok {
		return 0, false
	}
	bf, ok := asFloat(b)
	if !ok {
		return 0, false
	}
	return cmp3(af < bf, af > bf), true
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int32:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func cmp3(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}

// Bounds is a key interval [Lower, Upper) a backend can seek to instead of
// scanning the whole table. Empty fields are unbounded.
type Bounds struct {
	Lower string
	Upper string
}

// Contains reports whether key lies inside the bounds.
func (b Bounds) Contains(key string) bool {
	if b.Lower != "" && key < b.Lower {
		return false
	}
	if b.Upper != "" && key >= b.Upper {
		return false
	}
	return true
}

// PartitionBounds narrows the partition keys the filter can match, taken
// from PartitionKey comparisons joined by top-level and. The result may be
// wider than the filter, never narrower.
func (e *Expr) PartitionBounds() Bounds {
	var b Bounds
	if e == nil || e.root == nil {
		return b
	}
	collectBounds(e.root, &b)
	return b
}

func collectBounds(n node, b *Bounds) {
	switch v := n.(type) {
	case *andNode:
		collectBounds(v.left, b)
		collectBounds(v.right, b)
	case *cmpNode:
		if v.prop != PartitionKey {
			return
		}
		s, ok := v.lit.(string)
		if !ok {
			return
		}
		// Backends store rows at partition+"\x00"+row. Keys hold no control
		// characters, so partition+"\x01" sits above every row of partition.
		switch v.op {
		case OpEqual:
			raiseLower(b, s)
			lowerUpper(b, s+"\x01")
		case OpGreaterThan, OpGreaterThanOrEqual:
			raiseLower(b, s)
		case OpLessThan:
			lowerUpper(b, s)
		case OpLessThanOrEqual:
			lowerUpper(b, s+"\x01")
		}
	}
}

func raiseLower(b *Bounds, s string) {
	if b.Lower == "" || s > b.Lower {
		b.Lower = s
	}
}

func lowerUpper(b *Bounds, s string) {
	if b.Upper == "" || s < b.Upper {
		b.Upper = s
	}
}
