package queryspec

import "github.com/roach88/undertow/internal/jval"

// Spec describes the sort/filter parameters a remote query carries.
//
// The core treats a Spec as opaque: it is part of the query's identity and
// is shipped to the Source, which interprets it. The SQLite source compiles
// it to SQL (see internal/sqlitesource); a real server would evaluate it
// remotely.
//
// Only a small conjunctive fragment is expressible:
//   - Filter is a list of clauses, all of which must hold (AND semantics)
//   - Sort is a list of attribute orderings applied in sequence
type Spec struct {
	// Type is the record type the query ranges over.
	Type string `json:"type" yaml:"type"`

	// Filter clauses, conjunctive. Empty means "all records".
	Filter []Clause `json:"filter,omitempty" yaml:"filter,omitempty"`

	// Sort orderings, most significant first. Empty means source order.
	Sort []Order `json:"sort,omitempty" yaml:"sort,omitempty"`
}

// Op enumerates the comparison operators a clause may use.
type Op string

const (
	OpEq  Op = "eq"
	OpNe  Op = "ne"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpGt  Op = "gt"
	OpGte Op = "gte"
)

// Clause is one field comparison: <field> <op> <value>.
type Clause struct {
	Field string     `json:"field" yaml:"field"`
	Op    Op         `json:"op" yaml:"op"`
	Value jval.Value `json:"value" yaml:"value"`
}

// Order is one sort key.
type Order struct {
	Field      string `json:"field" yaml:"field"`
	Descending bool   `json:"descending,omitempty" yaml:"descending,omitempty"`
}

// Key returns a stable identity string for the spec, used to key query
// registrations in the store. Two specs with the same canonical form are
// the same query.
func (s Spec) Key() string {
	obj := jval.Object{"type": jval.String(s.Type)}
	if len(s.Filter) > 0 {
		arr := make(jval.Array, len(s.Filter))
		for i, c := range s.Filter {
			arr[i] = jval.Object{
				"field": jval.String(c.Field),
				"op":    jval.String(string(c.Op)),
				"value": c.Value,
			}
		}
		obj["filter"] = arr
	}
	if len(s.Sort) > 0 {
		arr := make(jval.Array, len(s.Sort))
		for i, o := range s.Sort {
			arr[i] = jval.Object{
				"field": jval.String(o.Field),
				"desc":  jval.Bool(o.Descending),
			}
		}
		obj["sort"] = arr
	}
	b, err := jval.MarshalCanonical(obj)
	if err != nil {
		// Spec values are produced by FromAny or literals; non-finite
		// floats are the only failure and are rejected by Validate.
		return "invalid:" + s.Type
	}
	return string(b)
}
