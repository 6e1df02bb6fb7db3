package schema

import (
	"fmt"

	"cuelang.org/go/cue/token"
)

// Schema error codes (S100-S199).
const (
	ErrAttrRequired = "S101" // required attribute missing or null
	ErrAttrKind     = "S102" // value does not match declared kind
	ErrBadKind      = "S103" // unknown kind string in schema
	ErrBadRef       = "S104" // to-one/to-many missing target type
	ErrDuplicate    = "S105" // duplicate type or raw key
	ErrUnknownRef   = "S106" // reference to unregistered type
)

// ValidationError reports a record-data or schema-consistency problem.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// CompileError reports a problem compiling a CUE schema file.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
