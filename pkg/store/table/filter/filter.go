// Package filter builds and evaluates the query predicate strings accepted
// by table.Query: property/operator/literal clauses joined with and/or/not.
package filter

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/keys"
)

// Well-known property names addressable in every filter.
const (
	PartitionKey = "PartitionKey"
	RowKey       = "RowKey"
	Timestamp    = "Timestamp"
)

const (
	OpEqual              = "eq"
	OpNotEqual           = "ne"
	OpGreaterThan        = "gt"
	OpGreaterThanOrEqual = "ge"
	OpLessThan           = "lt"
	OpLessThanOrEqual    = "le"
)

func Condition(property, op, literal string) string {
	return property + " " + op + " " + literal
}

func Equal(property, literal string) string    { return Condition(property, OpEqual, literal) }
func NotEqual(property, literal string) string { return Condition(property, OpNotEqual, literal) }
func GreaterThan(property, literal string) string {
	return Condition(property, OpGreaterThan, literal)
}
func GreaterThanOrEqual(property, literal string) string {
	return Condition(property, OpGreaterThanOrEqual, literal)
}
func LessThan(property, literal string) string { return Condition(property, OpLessThan, literal) }
func LessThanOrEqual(property, literal string) string {
	return Condition(property, OpLessThanOrEqual, literal)
}

// And joins the non-empty clauses; a single clause is returned as is.
func And(clauses ...string) string { return combine("and", clauses) }

func Or(clauses ...string) string { return combine("or", clauses) }

func Not(clause string) string {
	if clause == "" {
		return ""
	}
	return "not (" + clause + ")"
}

func combine(op string, clauses []string) string {
	var parts []string
	for _, c := range clauses {
		if c != "" {
			parts = append(parts, c)
		}
	}
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	return "(" + strings.Join(parts, ") "+op+" (") + ")"
}

// PrefixRange matches every value of property that starts with prefix.
func PrefixRange(property, prefix string) string {
	return And(
		GreaterThanOrEqual(property, String(prefix)),
		LessThan(property, String(keys.UpperBound(prefix))),
	)
}

// typed literals

func String(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func Bool(v bool) string {
	return strconv.FormatBool(v)
}

func Int(v int32) string {
	return strconv.FormatInt(int64(v), 10)
}

func Long(v int64) string {
	return strconv.FormatInt(v, 10) + "L"
}

// Double always renders with a fraction or exponent so it parses back as a double.
func Double(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEIN") {
		s += ".0"
	}
	return s
}

func DateTime(v time.Time) string {
	return "datetime'" + v.UTC().Format(time.RFC3339Nano) + "'"
}

func Guid(v uuid.UUID) string {
	return "guid'" + v.String() + "'"
}

func Binary(v []byte) string {
	return "X'" + hex.EncodeToString(v) + "'"
}
