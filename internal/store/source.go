package store

import (
	"github.com/roach88/undertow/internal/jval"
	"github.com/roach88/undertow/internal/queryspec"
	"github.com/roach88/undertow/internal/schema"
)

// Source is the single collaborator interface the core consumes. All
// methods may return handled=false, or return true and call back into the
// store (SourceDid*) or query asynchronously. Nothing here blocks.
type Source interface {
	// FetchRecord requests the full data for one record.
	FetchRecord(typ *schema.Type, id string, done func()) bool

	// FetchAllRecords requests every record of a type. knownState is the
	// client's last-known per-type state token, empty for a cold fetch.
	FetchAllRecords(typ *schema.Type, knownState string, done func()) bool

	// RefreshRecord requests fresh data for an already-loaded record.
	RefreshRecord(typ *schema.Type, id string, done func()) bool

	// FetchQuery requests a full or partial snapshot of a query. The source
	// inspects the query (spec, state token, wanted ranges) and calls the
	// query's SourceDid* methods when results arrive.
	FetchQuery(q SourceQuery, done func()) bool

	// CommitChanges ships one batch per record type. onAllDone, if not nil,
	// fires after the source has delivered every per-leg acknowledgement.
	CommitChanges(batches []*TypeChanges, onAllDone func()) bool
}

// SourceQuery is the view of a remote query a Source works against.
// Implemented by query.Remote and query.Windowed.
type SourceQuery interface {
	// QueryKey is the query's stable identity within its store.
	QueryKey() string

	// Spec returns the sort/filter parameters, opaque to the core.
	Spec() queryspec.Spec

	// State returns the query's current opaque state token, empty if none.
	State() string

	// CanGetDeltaUpdates reports whether the query accepts delta updates
	// against its state token.
	CanGetDeltaUpdates() bool

	// SourceWillFetchQuery is called by the source as it builds a request.
	// It returns the coalesced wanted ranges and transitions the query's
	// window bookkeeping to "loading". Non-windowed queries return a
	// request with no ranges, meaning "the whole list".
	SourceWillFetchQuery() *QueryFetchRequest
}

// Range is a contiguous [Start, Start+Count) slice of a query result.
type Range struct {
	Start int
	Count int
}

// QueryFetchRequest describes what a query wants from its source.
type QueryFetchRequest struct {
	// IDRanges are ranges for which only record ids are needed.
	IDRanges []Range

	// RecordRanges are ranges for which full record data is needed too.
	RecordRanges []Range

	// Refresh asks for a delta against the query's state token.
	Refresh bool

	// Reset asks for a full snapshot regardless of state token.
	Reset bool
}

// ChangeSet carries the records created in one commit batch.
// StoreKeys and Records are parallel.
type ChangeSet struct {
	StoreKeys []string
	Records   []jval.Object
}

// UpdateSet carries the records updated in one commit batch.
// StoreKeys, Records and Changes are parallel; Changes holds the raw data
// keys that actually differ from the last committed snapshot.
type UpdateSet struct {
	StoreKeys []string
	Records   []jval.Object
	Changes   []map[string]bool
}

// DestroySet carries the records destroyed in one commit batch.
// StoreKeys and IDs are parallel.
type DestroySet struct {
	StoreKeys []string
	IDs       []string
}

// TypeChanges is the per-type commit batch shipped to the Source.
type TypeChanges struct {
	Type    *schema.Type
	State   string // last-known client state token for this type
	Create  ChangeSet
	Update  UpdateSet
	Destroy DestroySet
}

// IsEmpty reports whether the batch carries no changes.
func (tc *TypeChanges) IsEmpty() bool {
	return len(tc.Create.StoreKeys) == 0 &&
		len(tc.Update.StoreKeys) == 0 &&
		len(tc.Destroy.StoreKeys) == 0
}
