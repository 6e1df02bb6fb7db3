package sqlitesource

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/undertow/internal/jval"
)

// marshalData converts a record's data object to canonical JSON TEXT for
// storage. Canonical form keeps rows byte-stable, so identical data always
// produces identical rows and diffs in tooling stay readable.
func marshalData(data jval.Object) (string, error) {
	out, err := jval.MarshalCanonical(data)
	if err != nil {
		return "", fmt.Errorf("marshal record data: %w", err)
	}
	return string(out), nil
}

// unmarshalData parses stored JSON TEXT back to a data object.
// jval.Object.UnmarshalJSON preserves the int/float distinction by literal
// shape, so round-tripping large integers is lossless.
func unmarshalData(data string) (jval.Object, error) {
	if data == "" || data == "{}" {
		return jval.Object{}, nil
	}
	var obj jval.Object
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal record data: %w", err)
	}
	return obj, nil
}
