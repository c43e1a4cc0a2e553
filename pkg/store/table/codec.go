package table

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// wire form used by the key-value backends
type storedEntity struct {
	PartitionKey string           `json:"pk"`
	RowKey       string           `json:"rk"`
	ETag         string           `json:"etag"`
	Timestamp    time.Time        `json:"ts"`
	Properties   []storedProperty `json:"props,omitempty"`
}

type storedProperty struct {
	Name  string          `json:"n"`
	Type  string          `json:"t"`
	Value json.RawMessage `json:"v"`
}

const (
	typeString = "s"
	typeBool   = "b"
	typeInt32  = "i32"
	typeInt64  = "i64"
	typeDouble = "f64"
	typeTime   = "dt"
	typeGUID   = "g"
	typeBinary = "bin"
)

// Marshal encodes an entity with type tags so values decode to the same Go types.
func Marshal(e *Entity) ([]byte, error) {
	se := storedEntity{PartitionKey: e.PartitionKey, RowKey: e.RowKey, ETag: e.ETag, Timestamp: e.Timestamp}
	for _, p := range e.Properties {
		sp, err := encodeProperty(p)
		if err != nil {
			return nil, err
		}
		se.Properties = append(se.Properties, sp)
	}
	return json.Marshal(se)
}

func Unmarshal(data []byte) (*Entity, error) {
	var se storedEntity
	if err := json.Unmarshal(data, &se); err != nil {
		return nil, fmt.Errorf("decode entity: %w", err)
	}
	e := &Entity{PartitionKey: se.PartitionKey, RowKey: se.RowKey, ETag: se.ETag, Timestamp: se.Timestamp}
	if len(se.Properties) > 0 {
		e.Properties = make(Properties, 0, len(se.Properties))
	}
	for _, sp := range se.Properties {
		v, err := decodeProperty(sp)
		if err != nil {
			return nil, fmt.Errorf("decode property %s of %s: %w", sp.Name, e.Key(), err)
		}
		e.Properties = append(e.Properties, Property{Name: sp.Name, Value: v})
	}
	return e, nil
}

func encodeProperty(p Property) (storedProperty, error) {
	var (
		typ string
		v   any
	)
	switch val := p.Value.(type) {
	case string:
		typ, v = typeString, val
	case bool:
		typ, v = typeBool, val
	case int32:
		typ, v = typeInt32, val
	case int:
		typ, v = typeInt64, strconv.FormatInt(int64(val), 10)
	case int64:
		// as a string so values past 2^53 survive JSON
		typ, v = typeInt64, strconv.FormatInt(val, 10)
	case float64:
		typ, v = typeDouble, val
	case time.Time:
		typ, v = typeTime, val.UTC().Format(time.RFC3339Nano)
	case uuid.UUID:
		typ, v = typeGUID, val.String()
	case []byte:
		typ, v = typeBinary, val
	default:
		return storedProperty{}, fmt.Errorf("property %s: unsupported type %T", p.Name, p.Value)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return storedProperty{}, err
	}
	return storedProperty{Name: p.Name, Type: typ, Value: raw}, nil
}

func decodeProperty(sp storedProperty) (any, error) {
	switch sp.Type {
	case typeString:
		var s string
		err := json.Unmarshal(sp.Value, &s)
		return s, err
	case typeBool:
		var b bool
		err := json.Unmarshal(sp.Value, &b)
		return b, err
	case typeInt32:
		var n int32
		err := json.Unmarshal(sp.Value, &n)
		return n, err
	case typeInt64:
		var s string
		if err := json.Unmarshal(sp.Value, &s); err != nil {
			return nil, err
		}
		return strconv.ParseInt(s, 10, 64)
	case typeDouble:
		var f float64
		err := json.Unmarshal(sp.Value, &f)
		return f, err
	case typeTime:
		var s string
		if err := json.Unmarshal(sp.Value, &s); err != nil {
			return nil, err
		}
		return time.Parse(time.RFC3339Nano, s)
	case typeGUID:
		var s string
		if err := json.Unmarshal(sp.Value, &s); err != nil {
			return nil, err
		}
		return uuid.Parse(s)
	case typeBinary:
		var b []byte
		err := json.Unmarshal(sp.Value, &b)
		return b, err
	}
	return nil, fmt.Errorf("unknown type tag %q", sp.Type)
}
