package queryspec

import (
	"fmt"
	"math"

	"github.com/roach88/undertow/internal/jval"
)

var validOps = map[Op]bool{
	OpEq: true, OpNe: true, OpLt: true, OpLte: true, OpGt: true, OpGte: true,
}

// Validate checks a spec for structural problems before it is handed to a
// Source. Validate is a pure function with no side effects.
func Validate(s Spec) error {
	if s.Type == "" {
		return fmt.Errorf("query spec: missing record type")
	}
	for i, c := range s.Filter {
		if c.Field == "" {
			return fmt.Errorf("query spec: filter[%d]: missing field", i)
		}
		if !validOps[c.Op] {
			return fmt.Errorf("query spec: filter[%d]: unknown op %q", i, c.Op)
		}
		if err := validateValue(c.Value); err != nil {
			return fmt.Errorf("query spec: filter[%d]: %w", i, err)
		}
		if _, isNull := c.Value.(jval.Null); (c.Value == nil || isNull) && c.Op != OpEq && c.Op != OpNe {
			return fmt.Errorf("query spec: filter[%d]: null only supports eq/ne", i)
		}
	}
	for i, o := range s.Sort {
		if o.Field == "" {
			return fmt.Errorf("query spec: sort[%d]: missing field", i)
		}
	}
	return nil
}

// validateValue rejects comparison values that cannot be serialized or
// that have no total order across a wire boundary.
func validateValue(v jval.Value) error {
	switch val := v.(type) {
	case jval.Float:
		if math.IsNaN(float64(val)) || math.IsInf(float64(val), 0) {
			return fmt.Errorf("non-finite comparison value")
		}
	case jval.Array, jval.Object:
		return fmt.Errorf("composite comparison values are not supported")
	}
	return nil
}
