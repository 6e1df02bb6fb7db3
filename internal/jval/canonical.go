package jval

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces deterministic canonical JSON for a value,
// closely following RFC 8785:
//
//  1. Object keys sorted by UTF-16 code units (not UTF-8 bytes)
//  2. Strings NFC-normalized, no HTML escaping, U+2028/U+2029 unescaped
//  3. Numbers rendered in shortest round-trip form
//
// Canonical bytes are the basis for value equality (Equal) and for
// record content hashes (HashWithDomain). NaN and infinities cannot be
// represented and return an error.
func MarshalCanonical(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := appendCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Equal reports whether two values have identical canonical form.
// Unrepresentable values (NaN, Inf) compare unequal to everything.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ab, err := MarshalCanonical(a)
	if err != nil {
		return false
	}
	bb, err := MarshalCanonical(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

func appendCanonical(buf *bytes.Buffer, v Value) error {
	switch val := v.(type) {
	case nil, Null:
		buf.WriteString("null")
		return nil
	case String:
		return appendCanonicalString(buf, string(val))
	case Int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
		return nil
	case Float:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("cannot canonicalize non-finite number %v", f)
		}
		buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
		return nil
	case Bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case Array:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := appendCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case Object:
		buf.WriteByte('{')
		for i, k := range val.SortedKeys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := appendCanonicalString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := appendCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	default:
		return fmt.Errorf("unsupported value type %T", v)
	}
}

// appendCanonicalString writes a canonical JSON string: NFC-normalized,
// without HTML escaping, and with U+2028/U+2029 left literal.
func appendCanonicalString(buf *bytes.Buffer, s string) error {
	normalized := norm.NFC.String(s)

	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return err
	}
	out := bytes.TrimSuffix(tmp.Bytes(), []byte("\n"))
	buf.Write(unescapeLineSeparators(out))
	return nil
}

// unescapeLineSeparators converts   and   escapes back to their
// literal characters. The escape is real (not a literal backslash followed
// by "u2028" text) iff it is preceded by an even number of backslashes.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}
	var out []byte
	for i := 0; i < len(data); {
		if data[i] == '\\' && i+6 <= len(data) &&
			data[i+1] == 'u' && data[i+2] == '2' && data[i+3] == '0' && data[i+4] == '2' &&
			(data[i+5] == '8' || data[i+5] == '9') && precededByEvenBackslashes(out) {
			if data[i+5] == '8' {
				out = append(out, " "...)
			} else {
				out = append(out, " "...)
			}
			i += 6
			continue
		}
		out = append(out, data[i])
		i++
	}
	return out
}

func precededByEvenBackslashes(out []byte) bool {
	n := 0
	for i := len(out) - 1; i >= 0 && out[i] == '\\'; i-- {
		n++
	}
	return n%2 == 0
}
