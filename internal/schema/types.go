// Package schema defines explicit record-type descriptors.
//
// A [Type] maps typed in-memory attribute names to raw JSON keys on the
// record's underlying data object, carries per-attribute validation, and
// declares to-one/to-many foreign keys. Descriptors are held in a
// [Registry] that is passed explicitly to the store; type metadata is
// never discovered dynamically.
//
// Descriptors are usually compiled from CUE schema files (see loader.go)
// but can be constructed directly in code, which tests do.
package schema

import "github.com/roach88/undertow/internal/jval"

// Kind enumerates the attribute value kinds.
type Kind string

const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindBool   Kind = "bool"
	KindArray  Kind = "array"
	KindObject Kind = "object"
	// KindToOne is a foreign key holding a single record id.
	KindToOne Kind = "one"
	// KindToMany is a foreign key holding an ordered list of record ids.
	KindToMany Kind = "many"
)

// validKinds is the closed set of kinds the loader accepts.
var validKinds = map[Kind]bool{
	KindString: true, KindInt: true, KindFloat: true, KindBool: true,
	KindArray: true, KindObject: true, KindToOne: true, KindToMany: true,
}

// Attr describes one record attribute.
type Attr struct {
	// Name is the in-memory attribute name.
	Name string
	// Key is the raw JSON key on the record's data object. Defaults to Name.
	Key string
	// Kind is the expected value kind.
	Kind Kind
	// Required rejects writes of null/absent values.
	Required bool
	// Default is returned by reads when the raw key is absent. May be nil.
	Default jval.Value
	// To names the target record type for KindToOne/KindToMany.
	To string
}

// Validate checks a value against the attribute's kind and requiredness.
// A nil value means "absent".
func (a *Attr) Validate(v jval.Value) error {
	if v == nil {
		if a.Required {
			return &ValidationError{Code: ErrAttrRequired, Field: a.Name, Message: "value is required"}
		}
		return nil
	}
	if _, isNull := v.(jval.Null); isNull {
		if a.Required {
			return &ValidationError{Code: ErrAttrRequired, Field: a.Name, Message: "value is required"}
		}
		return nil
	}
	ok := false
	switch a.Kind {
	case KindString, KindToOne:
		_, ok = v.(jval.String)
	case KindInt:
		_, ok = v.(jval.Int)
	case KindFloat:
		switch v.(type) {
		case jval.Float, jval.Int:
			ok = true
		}
	case KindBool:
		_, ok = v.(jval.Bool)
	case KindArray:
		_, ok = v.(jval.Array)
	case KindObject:
		_, ok = v.(jval.Object)
	case KindToMany:
		arr, isArr := v.(jval.Array)
		if isArr {
			ok = true
			for _, elem := range arr {
				if _, isStr := elem.(jval.String); !isStr {
					ok = false
					break
				}
			}
		}
	}
	if !ok {
		return &ValidationError{
			Code:    ErrAttrKind,
			Field:   a.Name,
			Message: "value does not match kind " + string(a.Kind),
		}
	}
	return nil
}

// FromData reads the attribute's value from a raw data object, applying
// the default when the key is absent.
func (a *Attr) FromData(data jval.Object) jval.Value {
	if data != nil {
		if v, present := data[a.Key]; present {
			return v
		}
	}
	return a.Default
}

// Type describes one record type.
type Type struct {
	// Name is the record type name, unique within a registry.
	Name string
	// PrimaryKey is the raw JSON key holding the server id. Default "id".
	PrimaryKey string
	// Attrs maps in-memory attribute names to descriptors.
	Attrs map[string]*Attr

	byKey map[string]*Attr
}

// NewType builds a Type and indexes its attributes by raw key.
func NewType(name, primaryKey string, attrs ...*Attr) *Type {
	if primaryKey == "" {
		primaryKey = "id"
	}
	t := &Type{
		Name:       name,
		PrimaryKey: primaryKey,
		Attrs:      make(map[string]*Attr, len(attrs)),
		byKey:      make(map[string]*Attr, len(attrs)),
	}
	for _, a := range attrs {
		if a.Key == "" {
			a.Key = a.Name
		}
		t.Attrs[a.Name] = a
		t.byKey[a.Key] = a
	}
	return t
}

// Attr returns the descriptor for an in-memory attribute name.
func (t *Type) Attr(name string) (*Attr, bool) {
	a, ok := t.Attrs[name]
	return a, ok
}

// AttrForKey returns the descriptor for a raw JSON key.
func (t *Type) AttrForKey(key string) (*Attr, bool) {
	a, ok := t.byKey[key]
	return a, ok
}

// ID extracts the server id from a raw data object. Empty if absent.
func (t *Type) ID(data jval.Object) string {
	if data == nil {
		return ""
	}
	if s, ok := data[t.PrimaryKey].(jval.String); ok {
		return string(s)
	}
	return ""
}

// ValidateData checks every known key of a raw data object against its
// attribute descriptor. Unknown keys are permitted: the server may ship
// fields the client schema does not model. Returns all errors found.
func (t *Type) ValidateData(data jval.Object) []error {
	var errs []error
	for _, a := range t.Attrs {
		v, present := data[a.Key]
		if !present {
			if a.Required && a.Default == nil {
				errs = append(errs, &ValidationError{
					Code: ErrAttrRequired, Field: a.Name, Message: "missing required attribute",
				})
			}
			continue
		}
		if err := a.Validate(v); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Registry holds the record types known to one store.
type Registry struct {
	types map[string]*Type
}

// NewRegistry creates a registry from the given types.
func NewRegistry(types ...*Type) *Registry {
	r := &Registry{types: make(map[string]*Type, len(types))}
	for _, t := range types {
		r.types[t.Name] = t
	}
	return r
}

// Add registers a type, replacing any type with the same name.
func (r *Registry) Add(t *Type) {
	r.types[t.Name] = t
}

// Get returns the type with the given name.
func (r *Registry) Get(name string) (*Type, bool) {
	t, ok := r.types[name]
	return t, ok
}

// Names returns the registered type names in unspecified order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	return names
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	return len(r.types)
}
