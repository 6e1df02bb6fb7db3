package store

import (
	"errors"
	"fmt"
	"log/slog"
)

// StoreError reports caller misuse or a collaborator contract violation.
//
// Per the error design, these are never returned to the mutating caller:
// the offending operation becomes a no-op and the error is funneled to the
// store's didError hook. The default hook logs via slog.
type StoreError struct {
	// Code identifies the error category.
	Code StoreErrorCode

	// Message is a human-readable description.
	Message string

	// StoreKey identifies the affected record, when there is one.
	StoreKey string

	// TypeName identifies the affected record type, when known.
	TypeName string
}

// StoreErrorCode categorizes store errors.
type StoreErrorCode string

const (
	// ErrCodeNotReady indicates a write against a record that is not READY.
	ErrCodeNotReady StoreErrorCode = "NOT_READY"

	// ErrCodeAlreadyExists indicates a create over a live record.
	ErrCodeAlreadyExists StoreErrorCode = "ALREADY_EXISTS"

	// ErrCodeUnknownType indicates a type name absent from the registry.
	ErrCodeUnknownType StoreErrorCode = "UNKNOWN_TYPE"

	// ErrCodeUnknownAttr indicates an attribute absent from the schema.
	ErrCodeUnknownAttr StoreErrorCode = "UNKNOWN_ATTR"

	// ErrCodeInvalidValue indicates an attribute write that failed validation.
	ErrCodeInvalidValue StoreErrorCode = "INVALID_VALUE"

	// ErrCodeSourceContract indicates an unexpected callback from the Source,
	// e.g. a commit acknowledgement for a record that was never committing.
	ErrCodeSourceContract StoreErrorCode = "SOURCE_CONTRACT"
)

// Error implements the error interface.
func (e *StoreError) Error() string {
	switch {
	case e.StoreKey != "" && e.TypeName != "":
		return fmt.Sprintf("%s: %s (type=%s, storeKey=%s)", e.Code, e.Message, e.TypeName, e.StoreKey)
	case e.StoreKey != "":
		return fmt.Sprintf("%s: %s (storeKey=%s)", e.Code, e.Message, e.StoreKey)
	case e.TypeName != "":
		return fmt.Sprintf("%s: %s (type=%s)", e.Code, e.Message, e.TypeName)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// IsNotReady reports whether err is a NOT_READY store error.
// Uses errors.As to handle wrapped errors.
func IsNotReady(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Code == ErrCodeNotReady
}

// logStoreError is the default didError hook.
func logStoreError(e *StoreError) {
	slog.Error("store error",
		"code", string(e.Code),
		"message", e.Message,
		"store_key", e.StoreKey,
		"type", e.TypeName,
	)
}

// CommitKind identifies which leg of a commit batch failed.
type CommitKind string

const (
	CommitCreate  CommitKind = "create"
	CommitUpdate  CommitKind = "update"
	CommitDestroy CommitKind = "destroy"
)

// CommitError describes a failed commit for one set of records. It is
// delivered to the store's commit-error handler before any rollback, so a
// listener can suppress the rollback and let the user fix and resubmit.
type CommitError struct {
	TypeName  string
	Kind      CommitKind
	StoreKeys []string
	Permanent bool
}

// Error implements the error interface.
func (e *CommitError) Error() string {
	perm := "transient"
	if e.Permanent {
		perm = "permanent"
	}
	return fmt.Sprintf("%s commit of %d %s record(s) failed (%s)", e.Kind, len(e.StoreKeys), e.TypeName, perm)
}
