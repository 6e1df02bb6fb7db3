package sqlitesource

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/undertow/internal/jval"
	"github.com/roach88/undertow/internal/queryspec"
)

// Query compilation from a query spec to parameterized SQL over the
// records table, filtering and sorting through json_extract.
//
// CRITICAL: every compiled query carries ORDER BY with an id tiebreaker;
// windowed fetches slice the result by offset, so row order must be total
// and stable across calls.
// CRITICAL: values are always parameterized, never interpolated. Field
// names cannot be parameterized, so they pass a strict identifier check
// before entering the SQL text.

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var opSQL = map[queryspec.Op]string{
	queryspec.OpEq:  "=",
	queryspec.OpNe:  "!=",
	queryspec.OpLt:  "<",
	queryspec.OpLte: "<=",
	queryspec.OpGt:  ">",
	queryspec.OpGte: ">=",
}

// compileQuery converts a spec to (sql, params). The SELECT list is
// id, data; callers slice ranges with LIMIT/OFFSET appended separately.
func compileQuery(spec queryspec.Spec) (string, []any, error) {
	if err := queryspec.Validate(spec); err != nil {
		return "", nil, fmt.Errorf("compile query: %w", err)
	}

	var b strings.Builder
	b.WriteString("SELECT id, data FROM records WHERE type = ?")
	params := []any{spec.Type}

	for _, clause := range spec.Filter {
		column, err := jsonField(clause.Field)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		op, ok := opSQL[clause.Op]
		if !ok {
			return "", nil, fmt.Errorf("compile filter: unsupported operator %q", clause.Op)
		}
		if isNullValue(clause.Value) {
			// "= NULL" never matches in SQL; null comparisons need IS.
			// Validation restricts null operands to eq and ne.
			if clause.Op == queryspec.OpEq {
				fmt.Fprintf(&b, " AND %s IS NULL", column)
			} else {
				fmt.Fprintf(&b, " AND %s IS NOT NULL", column)
			}
			continue
		}
		value, err := sqlValue(clause.Value)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter %s: %w", clause.Field, err)
		}
		fmt.Fprintf(&b, " AND %s %s ?", column, op)
		params = append(params, value)
	}

	b.WriteString(" ORDER BY ")
	for _, order := range spec.Sort {
		column, err := jsonField(order.Field)
		if err != nil {
			return "", nil, fmt.Errorf("compile sort: %w", err)
		}
		direction := "ASC"
		if order.Descending {
			direction = "DESC"
		}
		fmt.Fprintf(&b, "%s %s, ", column, direction)
	}
	// Deterministic tiebreaker: id is unique per type, so the total order
	// is stable regardless of the sort keys.
	b.WriteString("id ASC")

	return b.String(), params, nil
}

func isNullValue(v jval.Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(jval.Null)
	return ok
}

// jsonField renders a validated field name as a json_extract expression.
func jsonField(name string) (string, error) {
	if !fieldNamePattern.MatchString(name) {
		return "", fmt.Errorf("invalid field name %q", name)
	}
	return fmt.Sprintf("json_extract(data, '$.%s')", name), nil
}

// sqlValue converts a scalar query value to a driver value. Composite
// values were already rejected by spec validation.
func sqlValue(v jval.Value) (any, error) {
	switch val := v.(type) {
	case jval.String:
		return string(val), nil
	case jval.Int:
		return int64(val), nil
	case jval.Float:
		return float64(val), nil
	case jval.Bool:
		// json_extract yields 0/1 for JSON booleans.
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case jval.Null, nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
