// Package status defines the shared status bitmask vocabulary used by the
// store and query layers.
//
// A status is composed of exactly one core state (Empty, Ready, Destroyed or
// NonExistent) plus zero or more modifier bits (Loading, Committing, New,
// Dirty, Obsolete). The core states are mutually exclusive; IsValid checks
// that invariant.
package status

import "strings"

// Status is a bitmask of one core state plus modifier bits.
type Status uint16

const (
	// Empty means no data has been loaded for the record.
	Empty Status = 1 << iota
	// Ready means the record's data slot holds usable data.
	Ready
	// Destroyed means the record has been destroyed locally.
	Destroyed
	// NonExistent means the id is known not to exist on the server. Terminal.
	NonExistent
	// Loading means a fetch or refresh is in flight.
	Loading
	// Committing means a commit is in flight.
	Committing
	// New means the record has no server id yet.
	New
	// Dirty means local changes have not been confirmed by the server.
	Dirty
	// Obsolete means the server may have newer data; a refetch is due.
	Obsolete
)

// CoreMask selects the mutually exclusive core states.
const CoreMask = Empty | Ready | Destroyed | NonExistent

// ModifierMask selects the modifier bits.
const ModifierMask = Loading | Committing | New | Dirty | Obsolete

// Has reports whether all bits in mask are set.
func (s Status) Has(mask Status) bool {
	return s&mask == mask
}

// Any reports whether any bit in mask is set.
func (s Status) Any(mask Status) bool {
	return s&mask != 0
}

// Core returns the core-state bits of s.
func (s Status) Core() Status {
	return s & CoreMask
}

// IsValid reports whether exactly one core-state bit is set.
func (s Status) IsValid() bool {
	core := s.Core()
	return core != 0 && core&(core-1) == 0
}

var names = []struct {
	bit  Status
	name string
}{
	{Empty, "EMPTY"},
	{Ready, "READY"},
	{Destroyed, "DESTROYED"},
	{NonExistent, "NON_EXISTENT"},
	{Loading, "LOADING"},
	{Committing, "COMMITTING"},
	{New, "NEW"},
	{Dirty, "DIRTY"},
	{Obsolete, "OBSOLETE"},
}

// String renders the status as a pipe-separated bit list, e.g. "READY|DIRTY".
func (s Status) String() string {
	if s == 0 {
		return "NONE"
	}
	var parts []string
	for _, n := range names {
		if s&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}
