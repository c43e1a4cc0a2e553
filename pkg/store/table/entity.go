package table

import (
	"time"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table/filter"
)

// Property is one named value. Values are string, bool, int32, int64,
// float64, time.Time, uuid.UUID or []byte.
type Property struct {
	Name  string
	Value any
}

// Properties keeps insertion order so unknown fields round-trip as written.
type Properties []Property

func (p Properties) Get(name string) (any, bool) {
	for _, prop := range p {
		if prop.Name == name {
			return prop.Value, true
		}
	}
	return nil, false
}

// String returns the named string value, or "" when absent or not a string.
func (p Properties) String(name string) string {
	v, _ := p.Get(name)
	s, _ := v.(string)
	return s
}

// Float returns the named numeric value as float64.
func (p Properties) Float(name string) float64 {
	v, _ := p.Get(name)
	switch n := v.(type) {
	case float64:
		return n
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

// Set replaces the named value in place or appends it.
func (p *Properties) Set(name string, value any) {
	for i := range *p {
		if (*p)[i].Name == name {
			(*p)[i].Value = value
			return
		}
	}
	*p = append(*p, Property{Name: name, Value: value})
}

func (p *Properties) Delete(name string) {
	out := (*p)[:0]
	for _, prop := range *p {
		if prop.Name != name {
			out = append(out, prop)
		}
	}
	*p = out
}

func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for i, prop := range p {
		if b, ok := prop.Value.([]byte); ok {
			prop.Value = append([]byte(nil), b...)
		}
		out[i] = prop
	}
	return out
}

// Merge returns p overlaid with other; names present in both take other's value.
func (p Properties) Merge(other Properties) Properties {
	out := p.Clone()
	for _, prop := range other {
		out.Set(prop.Name, prop.Value)
	}
	return out
}

// Entity is one row addressed by (PartitionKey, RowKey).
type Entity struct {
	PartitionKey string
	RowKey       string
	ETag         string
	Timestamp    time.Time
	Properties   Properties
}

var _ filter.Getter = (*Entity)(nil)

// Value resolves system properties first, then user properties.
func (e *Entity) Value(name string) (any, bool) {
	switch name {
	case filter.PartitionKey:
		return e.PartitionKey, true
	case filter.RowKey:
		return e.RowKey, true
	case filter.Timestamp:
		if e.Timestamp.IsZero() {
			return nil, false
		}
		return e.Timestamp, true
	}
	return e.Properties.Get(name)
}

func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	c.Properties = e.Properties.Clone()
	return &c
}

// Key returns "partition/row" for logs and failure reports.
func (e *Entity) Key() string {
	return e.PartitionKey + "/" + e.RowKey
}
