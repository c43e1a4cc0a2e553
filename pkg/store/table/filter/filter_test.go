package filter

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type props map[string]any

func (p props) Value(name string) (any, bool) {
	v, ok := p[name]
	return v, ok
}

func TestLiterals(t *testing.T) {
	ts := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	id := uuid.MustParse("6f9619ff-8b86-d011-b42d-00cf4fc964ff")

	assert.Equal(t, "'O''Brien'", String("O'Brien"))
	assert.Equal(t, "true", Bool(true))
	assert.Equal(t, "42", Int(42))
	assert.Equal(t, "42L", Long(42))
	assert.Equal(t, "8.0", Double(8))
	assert.Equal(t, "0.25", Double(0.25))
	assert.Equal(t, "datetime'2024-05-06T07:08:09Z'", DateTime(ts))
	assert.Equal(t, "guid'6f9619ff-8b86-d011-b42d-00cf4fc964ff'", Guid(id))
	assert.Equal(t, "X'0aff'", Binary([]byte{0x0a, 0xff}))
}

func TestCombinators(t *testing.T) {
	assert.Equal(t, "", And())
	assert.Equal(t, "a eq 1", And("", "a eq 1"))
	assert.Equal(t, "(a eq 1) and (b eq 2)", And("a eq 1", "b eq 2"))
	assert.Equal(t, "(a eq 1) or (b eq 2)", Or("a eq 1", "", "b eq 2"))
	assert.Equal(t, "not (a eq 1)", Not("a eq 1"))
	assert.Equal(t, "(RowKey ge 'U_') and (RowKey lt 'U`')", PrefixRange(RowKey, "U_"))
}

func TestMatchTypedComparisons(t *testing.T) {
	ts := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	id := uuid.New()
	row := props{
		"Name":       "O'Brien",
		"Active":     true,
		"Count":      int32(7),
		"Big":        int64(1) << 40,
		"KeyVersion": 1.0,
		"Created":    ts,
		"Id":         id,
		"Blob":       []byte{1, 2, 3},
	}

	cases := []struct {
		expr string
		want bool
	}{
		{Equal("Name", String("O'Brien")), true},
		{NotEqual("Name", String("x")), true},
		{Equal("Active", Bool(true)), true},
		{GreaterThan("Count", Int(6)), true},
		{LessThanOrEqual("Count", Long(7)), true},
		{GreaterThan("Big", Int(1)), true},
		{LessThan("KeyVersion", Double(8)), true},
		{LessThan("KeyVersion", Int(1)), false},
		{GreaterThanOrEqual("Created", DateTime(ts)), true},
		{LessThan("Created", DateTime(ts)), false},
		{Equal("Id", Guid(id)), true},
		{Equal("Blob", Binary([]byte{1, 2, 3})), true},
		{Equal("Missing", String("x")), false},
		{NotEqual("Missing", String("x")), false},
		{Equal("Name", Int(1)), false},
		{And(Equal("Active", Bool(true)), Not(Equal("Count", Int(7)))), false},
		{Or(Equal("Count", Int(1)), Equal("Count", Int(7))), true},
		{"Count gt -1 and KeyVersion lt 1.5e1", true},
		{"not Active eq false", true},
	}
	for _, c := range cases {
		e, err := Compile(c.expr)
		require.NoError(t, err, c.expr)
		assert.Equal(t, c.want, e.Match(row), c.expr)
	}
}

func TestCompileEmptyMatchesAll(t *testing.T) {
	e, err := Compile("  ")
	require.NoError(t, err)
	assert.True(t, e.Match(props{}))
	assert.Equal(t, Bounds{}, e.PartitionBounds())
}

func TestCompileErrors(t *testing.T) {
	for _, expr := range []string{
		"Name eq",
		"Name like 'a'",
		"(Name eq 'a'",
		"Name eq 'unterminated",
		"Name eq 'a' extra",
		"Id eq guid'nope'",
		"Blob eq X'zz'",
	} {
		_, err := Compile(expr)
		require.Error(t, err, expr)
		assert.True(t, errors.Is(err, ErrSyntax), expr)
	}
}

func TestPartitionBounds(t *testing.T) {
	e, err := Compile(And(PrefixRange(PartitionKey, "U_"), PrefixRange(RowKey, "C_")))
	require.NoError(t, err)
	assert.Equal(t, Bounds{Lower: "U_", Upper: "U`"}, e.PartitionBounds())

	e, err = Compile(Equal(PartitionKey, String("abc")))
	require.NoError(t, err)
	b := e.PartitionBounds()
	assert.True(t, b.Contains("abc"))
	assert.False(t, b.Contains("abcd"))
	assert.False(t, b.Contains("abb"))
	// rows are addressed as partition NUL row by the ordered backends
	assert.True(t, b.Contains("abc\x00R_1"))
	assert.False(t, b.Contains("abc!"))

	e, err = Compile(LessThanOrEqual(PartitionKey, String("abc")))
	require.NoError(t, err)
	b = e.PartitionBounds()
	assert.True(t, b.Contains("abc\x00R_1"))
	assert.False(t, b.Contains("abcd"))

	e, err = Compile(Or(Equal(PartitionKey, String("a")), Equal(PartitionKey, String("b"))))
	require.NoError(t, err)
	assert.Equal(t, Bounds{}, e.PartitionBounds())
}
