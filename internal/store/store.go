package store

import (
	"log/slog"

	"github.com/roach88/undertow/internal/jval"
	"github.com/roach88/undertow/internal/schema"
	"github.com/roach88/undertow/internal/status"
)

// commitTaskKey keys the coalesced commit task in the scheduler.
const commitTaskKey = "store:commit"

// TypeState is the per-type bookkeeping owned by a Store: the last state
// token received from the source and the load status of the type as a
// whole. An explicit map on the Store replaces the original's process-wide
// per-type tables.
type TypeState struct {
	Token  string
	Status status.Status
}

// StoreQuery is implemented by remote queries registered with a store.
// The store notifies registered queries when records of their type change.
type StoreQuery interface {
	QueryKey() string
	QueryType() string
	// StoreDidChangeRecords tells the query records of its type changed
	// locally; the query typically marks itself OBSOLETE.
	StoreDidChangeRecords()
}

// Store is the authoritative in-memory object table for one store layer.
type Store struct {
	source    Source
	schemas   *schema.Registry
	scheduler *Scheduler
	keys      KeyGenerator

	// RebaseConflicts controls whether a fetch over a DIRTY record keeps
	// client values for explicitly changed keys (true) or lets the server
	// win everywhere (false).
	RebaseConflicts bool

	// per-storeKey slots
	status    map[string]status.Status
	data      map[string]jval.Object
	committed map[string]jval.Object
	changed   map[string]map[string]bool
	rollback  map[string]jval.Object

	// identity maps
	typeOf map[string]*schema.Type
	idOf   map[string]string
	keyOf  map[string]map[string]string // type name → id → storeKey

	// pending mutation sets, per type name
	created   map[string]map[string]bool
	modified  map[string]map[string]bool
	destroyed map[string]map[string]bool

	// commit-in-flight bookkeeping
	inflight         map[string]bool
	pendingDestroy   map[string]bool
	pendingCreate    map[string]jval.Object
	suppressRecommit bool

	typeState map[string]*TypeState

	records map[string]*Record
	queries map[string]StoreQuery

	didError        func(*StoreError)
	onCommitError   func(*CommitError) bool
	commitCallbacks []func()
}

// New creates a Store over a source and a schema registry.
// The scheduler may be shared with other components of the host tick loop.
func New(source Source, schemas *schema.Registry, scheduler *Scheduler, keys KeyGenerator) *Store {
	if scheduler == nil {
		scheduler = NewScheduler()
	}
	if keys == nil {
		keys = UUIDv7Keys{}
	}
	return &Store{
		source:          source,
		schemas:         schemas,
		scheduler:       scheduler,
		keys:            keys,
		RebaseConflicts: true,
		status:          make(map[string]status.Status),
		data:            make(map[string]jval.Object),
		committed:       make(map[string]jval.Object),
		changed:         make(map[string]map[string]bool),
		rollback:        make(map[string]jval.Object),
		typeOf:          make(map[string]*schema.Type),
		idOf:            make(map[string]string),
		keyOf:           make(map[string]map[string]string),
		created:         make(map[string]map[string]bool),
		modified:        make(map[string]map[string]bool),
		destroyed:       make(map[string]map[string]bool),
		inflight:        make(map[string]bool),
		pendingDestroy:  make(map[string]bool),
		pendingCreate:   make(map[string]jval.Object),
		typeState:       make(map[string]*TypeState),
		records:         make(map[string]*Record),
		queries:         make(map[string]StoreQuery),
		didError:        logStoreError,
	}
}

// Scheduler returns the store's task scheduler. The host calls Flush on it
// at the end of each tick.
func (s *Store) Scheduler() *Scheduler { return s.scheduler }

// FetchQuery forwards a query fetch to the store's source.
func (s *Store) FetchQuery(q SourceQuery) bool {
	return s.source.FetchQuery(q, nil)
}

// Schemas returns the store's type registry.
func (s *Store) Schemas() *schema.Registry { return s.schemas }

// SetDidError replaces the misuse-error hook. A nil hook restores the
// default slog reporter.
func (s *Store) SetDidError(hook func(*StoreError)) {
	if hook == nil {
		hook = logStoreError
	}
	s.didError = hook
}

// SetCommitErrorHandler installs the cancellable commit-error listener.
// Returning true suppresses the rollback for permanent failures.
func (s *Store) SetCommitErrorHandler(h func(*CommitError) bool) {
	s.onCommitError = h
}

// reportError funnels a misuse error to the didError hook.
func (s *Store) reportError(e *StoreError) {
	s.didError(e)
}

// GetStoreKey returns the storeKey for (type, id), minting one on first
// reference. The mapping is stable for the record's lifetime in this store.
func (s *Store) GetStoreKey(typ *schema.Type, id string) string {
	byID := s.keyOf[typ.Name]
	if byID == nil {
		byID = make(map[string]string)
		s.keyOf[typ.Name] = byID
	}
	if k, ok := byID[id]; ok {
		return k
	}
	k := s.keys.NextKey()
	byID[id] = k
	s.typeOf[k] = typ
	s.idOf[k] = id
	s.status[k] = status.Empty
	return k
}

// GetIDFromStoreKey returns the server id for a storeKey, empty if the
// record has not been assigned one yet.
func (s *Store) GetIDFromStoreKey(storeKey string) string {
	return s.idOf[storeKey]
}

// GetTypeFromStoreKey returns the record type for a storeKey.
func (s *Store) GetTypeFromStoreKey(storeKey string) *schema.Type {
	return s.typeOf[storeKey]
}

// GetStatus returns the status for a storeKey. Unknown keys are EMPTY.
func (s *Store) GetStatus(storeKey string) status.Status {
	if st, ok := s.status[storeKey]; ok {
		return st
	}
	return status.Empty
}

// GetData returns the record's current data slot. Callers must treat the
// returned object as read-only; all writes go through UpdateData.
func (s *Store) GetData(storeKey string) jval.Object {
	return s.data[storeKey]
}

// GetCommitted returns the last-committed snapshot, nil unless DIRTY.
func (s *Store) GetCommitted(storeKey string) jval.Object {
	return s.committed[storeKey]
}

// GetChanged returns the changed-key map, nil unless DIRTY.
func (s *Store) GetChanged(storeKey string) map[string]bool {
	return s.changed[storeKey]
}

// GetTypeState returns the per-type state, creating it on first use.
func (s *Store) GetTypeState(typeName string) *TypeState {
	ts := s.typeState[typeName]
	if ts == nil {
		ts = &TypeState{Status: status.Empty}
		s.typeState[typeName] = ts
	}
	return ts
}

// AddQuery registers a remote query for change notifications and GetQuery
// lookup. A query with the same key replaces the previous registration.
func (s *Store) AddQuery(q StoreQuery) {
	s.queries[q.QueryKey()] = q
}

// RemoveQuery unregisters a query.
func (s *Store) RemoveQuery(q StoreQuery) {
	delete(s.queries, q.QueryKey())
}

// GetQuery returns the registered query with the given key.
func (s *Store) GetQuery(key string) (StoreQuery, bool) {
	q, ok := s.queries[key]
	return q, ok
}

// notifyQueries tells every registered query over typeName that records of
// its type changed locally.
func (s *Store) notifyQueries(typeName string) {
	for _, q := range s.queries {
		if q.QueryType() == typeName {
			q.StoreDidChangeRecords()
		}
	}
}

// setStatus writes a status and asserts the one-core-state invariant.
func (s *Store) setStatus(storeKey string, st status.Status) {
	if !st.IsValid() {
		// A broken transition is a bug in this package, not the caller.
		slog.Error("invalid status transition",
			"store_key", storeKey,
			"status", st.String(),
		)
	}
	s.status[storeKey] = st
}

// unload removes every trace of a record from the store maps. The id→key
// mapping is dropped too, so a later reference to the same server id mints
// a fresh EMPTY record.
func (s *Store) unload(storeKey string) {
	typ := s.typeOf[storeKey]
	if typ != nil {
		if id := s.idOf[storeKey]; id != "" {
			delete(s.keyOf[typ.Name], id)
		}
	}
	delete(s.status, storeKey)
	delete(s.data, storeKey)
	delete(s.committed, storeKey)
	delete(s.changed, storeKey)
	delete(s.rollback, storeKey)
	delete(s.typeOf, storeKey)
	delete(s.idOf, storeKey)
	delete(s.records, storeKey)
	delete(s.inflight, storeKey)
	delete(s.pendingDestroy, storeKey)
	delete(s.pendingCreate, storeKey)
}

// checkInvariants verifies CP-1 and CP-2 for every known storeKey.
// Used by tests.
func (s *Store) checkInvariants() []string {
	var violations []string
	for k, st := range s.status {
		if !st.IsValid() {
			violations = append(violations, k+": multiple or zero core states: "+st.String())
		}
		_, hasCommitted := s.committed[k]
		_, hasChanged := s.changed[k]
		if hasCommitted != hasChanged {
			violations = append(violations, k+": committed/changed presence mismatch")
		}
		// DIRTY on a READY record with a server baseline means both
		// snapshots are present. NEW and DESTROYED records have no
		// baseline to diff against.
		dirtyWithBaseline := st.Has(status.Ready|status.Dirty) && !st.Has(status.New)
		if dirtyWithBaseline && !hasCommitted {
			violations = append(violations, k+": dirty without committed snapshot")
		}
		if !st.Has(status.Dirty) && hasCommitted {
			violations = append(violations, k+": committed snapshot on clean record")
		}
	}
	return violations
}
