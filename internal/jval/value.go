// Package jval provides the JSON-shaped value model used for record data.
//
// Record data slots, committed snapshots and commit batch payloads are all
// built from [Value] trees. The sealed interface keeps the set of shapes
// closed so switches over values can be exhaustive.
//
// Equality between values is defined by canonical serialization (see
// canonical.go): two values are equal iff their canonical JSON bytes are
// equal. This is what the store's dirty-diff uses.
package jval

import (
	"encoding/json"
	"fmt"
	"slices"
	"unicode/utf16"
)

// Value is a sealed interface over the JSON value shapes.
// Only Null, String, Int, Float, Bool, Array and Object implement it.
type Value interface {
	jsonValue() // sealed
}

// Null represents a JSON null.
type Null struct{}

func (Null) jsonValue() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String represents a JSON string.
type String string

func (String) jsonValue() {}

// Int represents a JSON integer. Kept distinct from Float so integral
// attribute values survive round trips without float drift.
type Int int64

func (Int) jsonValue() {}

// Float represents a JSON number with a fractional part.
type Float float64

func (Float) jsonValue() {}

// Bool represents a JSON boolean.
type Bool bool

func (Bool) jsonValue() {}

// Array represents a JSON array.
type Array []Value

func (Array) jsonValue() {}

// Object represents a JSON object.
// Use SortedKeys for deterministic iteration.
type Object map[string]Value

func (Object) jsonValue() {}

// Clone deep-copies a value. Scalars are returned as-is.
func Clone(v Value) Value {
	switch val := v.(type) {
	case Array:
		out := make(Array, len(val))
		for i, elem := range val {
			out[i] = Clone(elem)
		}
		return out
	case Object:
		return val.Clone()
	default:
		return v
	}
}

// Clone deep-copies an object. A nil object clones to nil.
func (obj Object) Clone() Object {
	if obj == nil {
		return nil
	}
	out := make(Object, len(obj))
	for k, v := range obj {
		out[k] = Clone(v)
	}
	return out
}

// SortedKeys returns the object's keys in canonical order (UTF-16 code
// units, per RFC 8785). Go's sort.Strings compares UTF-8 bytes, which
// orders supplementary-plane characters differently.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

// compareUTF16 compares strings by UTF-16 code units.
func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// UnmarshalJSON implements json.Unmarshaler for Object.
func (obj *Object) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*obj = make(Object, len(raw))
	for k, v := range raw {
		val, err := unmarshalValue(v)
		if err != nil {
			return fmt.Errorf("object key %q: %w", k, err)
		}
		(*obj)[k] = val
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler for Array.
func (arr *Array) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*arr = make(Array, len(raw))
	for i, v := range raw {
		val, err := unmarshalValue(v)
		if err != nil {
			return fmt.Errorf("array index %d: %w", i, err)
		}
		(*arr)[i] = val
	}
	return nil
}

// unmarshalValue decodes raw JSON into the matching Value shape.
// Numbers without a fractional part or exponent decode as Int.
func unmarshalValue(data []byte) (Value, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return String(s), nil
	case '{':
		var obj Object
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, err
		}
		return obj, nil
	case '[':
		var arr Array
		if err := json.Unmarshal(data, &arr); err != nil {
			return nil, err
		}
		return arr, nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return Bool(b), nil
	case 'n':
		return Null{}, nil
	default:
		if isIntegerLiteral(data) {
			var n int64
			if err := json.Unmarshal(data, &n); err == nil {
				return Int(n), nil
			}
		}
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("unrecognized JSON value %q", data)
		}
		return Float(f), nil
	}
}

// isIntegerLiteral reports whether the literal has no '.', 'e' or 'E'.
func isIntegerLiteral(data []byte) bool {
	for _, c := range data {
		if c == '.' || c == 'e' || c == 'E' {
			return false
		}
	}
	return true
}
