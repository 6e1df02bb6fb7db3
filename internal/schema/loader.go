package schema

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/undertow/internal/jval"
)

// LoadDir compiles all CUE files in a directory into a Registry.
//
// Schema files declare record types under the top-level "record" struct:
//
//	record: Message: {
//		primaryKey: "id"
//		attrs: {
//			subject: {kind: "string", key: "subject", default: ""}
//			unread:  {kind: "bool", key: "isUnread", required: true}
//			mailbox: {kind: "one", to: "Mailbox", key: "mailboxId"}
//			labels:  {kind: "many", to: "Label", key: "labelIds"}
//		}
//	}
func LoadDir(dir string) (*Registry, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("schema directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("schema path %s is not a directory", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances in %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("loading CUE files: %w", inst.Err)
	}
	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("building CUE value: %w", err)
	}
	return CompileRegistry(value)
}

// CompileRegistry extracts every record type from a built CUE value and
// cross-checks to-one/to-many references.
func CompileRegistry(value cue.Value) (*Registry, error) {
	recordsVal := value.LookupPath(cue.ParsePath("record"))
	if !recordsVal.Exists() {
		return nil, &CompileError{Field: "record", Message: "no record types declared", Pos: value.Pos()}
	}

	iter, err := recordsVal.Fields()
	if err != nil {
		return nil, fmt.Errorf("iterating record types: %w", err)
	}

	reg := NewRegistry()
	for iter.Next() {
		t, err := CompileType(iter.Value())
		if err != nil {
			return nil, err
		}
		if _, exists := reg.Get(t.Name); exists {
			return nil, &CompileError{Field: t.Name, Message: "duplicate record type", Pos: iter.Value().Pos()}
		}
		reg.Add(t)
	}

	// References must resolve within the registry.
	for _, name := range reg.Names() {
		t, _ := reg.Get(name)
		for _, a := range t.Attrs {
			if a.To == "" {
				continue
			}
			if _, ok := reg.Get(a.To); !ok {
				return nil, &ValidationError{
					Code:    ErrUnknownRef,
					Field:   t.Name + "." + a.Name,
					Message: fmt.Sprintf("references unregistered type %q", a.To),
				}
			}
		}
	}
	return reg, nil
}

// CompileType parses one record-type struct into a Type descriptor.
func CompileType(v cue.Value) (*Type, error) {
	if err := v.Err(); err != nil {
		return nil, err
	}

	name := ""
	selectors := v.Path().Selectors()
	if len(selectors) > 0 {
		name = selectors[len(selectors)-1].String()
	}

	primaryKey := "id"
	if pkVal := v.LookupPath(cue.ParsePath("primaryKey")); pkVal.Exists() {
		pk, err := pkVal.String()
		if err != nil {
			return nil, &CompileError{Field: name + ".primaryKey", Message: "must be a string", Pos: pkVal.Pos()}
		}
		primaryKey = pk
	}

	attrsVal := v.LookupPath(cue.ParsePath("attrs"))
	if !attrsVal.Exists() {
		return nil, &CompileError{Field: name, Message: "attrs is required", Pos: v.Pos()}
	}
	attrIter, err := attrsVal.Fields()
	if err != nil {
		return nil, fmt.Errorf("type %s: iterating attrs: %w", name, err)
	}

	var attrs []*Attr
	seenKeys := map[string]string{}
	for attrIter.Next() {
		a, err := compileAttr(name, attrIter.Label(), attrIter.Value())
		if err != nil {
			return nil, err
		}
		if prev, dup := seenKeys[a.Key]; dup {
			return nil, &ValidationError{
				Code:    ErrDuplicate,
				Field:   name + "." + a.Name,
				Message: fmt.Sprintf("raw key %q already mapped by attribute %q", a.Key, prev),
			}
		}
		seenKeys[a.Key] = a.Name
		attrs = append(attrs, a)
	}

	return NewType(name, primaryKey, attrs...), nil
}

// compileAttr parses one attribute struct.
func compileAttr(typeName, attrName string, v cue.Value) (*Attr, error) {
	field := typeName + "." + attrName

	kindVal := v.LookupPath(cue.ParsePath("kind"))
	if !kindVal.Exists() {
		return nil, &CompileError{Field: field, Message: "kind is required", Pos: v.Pos()}
	}
	kindStr, err := kindVal.String()
	if err != nil {
		return nil, &CompileError{Field: field + ".kind", Message: "must be a string", Pos: kindVal.Pos()}
	}
	kind := Kind(kindStr)
	if !validKinds[kind] {
		return nil, &ValidationError{Code: ErrBadKind, Field: field, Message: fmt.Sprintf("unknown kind %q", kindStr)}
	}

	a := &Attr{Name: attrName, Kind: kind}

	if keyVal := v.LookupPath(cue.ParsePath("key")); keyVal.Exists() {
		key, err := keyVal.String()
		if err != nil {
			return nil, &CompileError{Field: field + ".key", Message: "must be a string", Pos: keyVal.Pos()}
		}
		a.Key = key
	}

	if reqVal := v.LookupPath(cue.ParsePath("required")); reqVal.Exists() {
		req, err := reqVal.Bool()
		if err != nil {
			return nil, &CompileError{Field: field + ".required", Message: "must be a bool", Pos: reqVal.Pos()}
		}
		a.Required = req
	}

	if toVal := v.LookupPath(cue.ParsePath("to")); toVal.Exists() {
		to, err := toVal.String()
		if err != nil {
			return nil, &CompileError{Field: field + ".to", Message: "must be a string", Pos: toVal.Pos()}
		}
		a.To = to
	}
	if kind == KindToOne || kind == KindToMany {
		if a.To == "" {
			return nil, &ValidationError{Code: ErrBadRef, Field: field, Message: "to-one/to-many attribute needs a target type"}
		}
	} else if a.To != "" {
		return nil, &ValidationError{Code: ErrBadRef, Field: field, Message: "only reference kinds may declare a target type"}
	}

	if defVal := v.LookupPath(cue.ParsePath("default")); defVal.Exists() {
		var raw any
		if err := defVal.Decode(&raw); err != nil {
			return nil, &CompileError{Field: field + ".default", Message: err.Error(), Pos: defVal.Pos()}
		}
		dv, err := jval.FromAny(raw)
		if err != nil {
			return nil, &CompileError{Field: field + ".default", Message: err.Error(), Pos: defVal.Pos()}
		}
		a.Default = dv
		if err := a.Validate(dv); err != nil {
			return nil, &CompileError{Field: field + ".default", Message: "default does not match kind", Pos: defVal.Pos()}
		}
	}

	return a, nil
}
