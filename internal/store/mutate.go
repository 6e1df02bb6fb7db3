package store

import (
	"log/slog"

	"github.com/roach88/undertow/internal/jval"
	"github.com/roach88/undertow/internal/schema"
	"github.com/roach88/undertow/internal/status"
)

// FetchData asks the source for a record's data. A no-op while the record
// is LOADING, NEW, DESTROYED or NON_EXISTENT. An EMPTY record gets a full
// fetch, a READY one a refresh.
func (s *Store) FetchData(storeKey string) {
	st := s.GetStatus(storeKey)
	if st.Any(status.Loading | status.New | status.Destroyed | status.NonExistent) {
		return
	}
	typ := s.typeOf[storeKey]
	if typ == nil {
		s.reportError(&StoreError{
			Code: ErrCodeUnknownType, StoreKey: storeKey,
			Message: "fetch for storeKey with no type",
		})
		return
	}
	id := s.idOf[storeKey]

	if st.Has(status.Empty) {
		s.setStatus(storeKey, status.Empty|status.Loading)
		s.source.FetchRecord(typ, id, nil)
		return
	}
	// READY: refresh.
	s.setStatus(storeKey, st|status.Loading)
	s.source.RefreshRecord(typ, id, nil)
}

// CreateRecord installs data for a brand-new record under storeKey and
// registers it for the next commit cycle. Fails (reported, not thrown) if
// the slot holds a live record.
func (s *Store) CreateRecord(storeKey string, data jval.Object) {
	st := s.GetStatus(storeKey)
	if !st.Any(status.Empty | status.Destroyed) {
		s.reportError(&StoreError{
			Code: ErrCodeAlreadyExists, StoreKey: storeKey,
			Message: "createRecord over status " + st.String(),
		})
		return
	}
	typ := s.typeOf[storeKey]
	if typ == nil {
		s.reportError(&StoreError{
			Code: ErrCodeUnknownType, StoreKey: storeKey,
			Message: "createRecord for storeKey with no type",
		})
		return
	}
	if data == nil {
		data = jval.Object{}
	}

	// Recreating while the destroy is already in flight waits for the
	// acknowledgement: the destroy ships as sent, then the record comes
	// back under the same key with this data.
	if st.Has(status.Destroyed) && s.inflight[storeKey] {
		s.pendingCreate[storeKey] = data.Clone()
		return
	}

	// Recreating over an uncommitted destroy folds back into an update:
	// the server still has the old record, so the new data is a change
	// against the old committed state.
	if st.Has(status.Destroyed) && s.setHas(s.destroyed, typ.Name, storeKey) {
		s.setRemove(s.destroyed, typ.Name, storeKey)
		// The server still holds the pre-destroy data; the recreate is a
		// change against that baseline.
		if s.committed[storeKey] == nil {
			if base := s.data[storeKey]; base != nil {
				s.committed[storeKey] = base.Clone()
				s.changed[storeKey] = make(map[string]bool)
			}
		}
		s.data[storeKey] = data.Clone()
		s.setStatus(storeKey, status.Ready)
		s.diffAgainstCommitted(storeKey, typ, data.Clone())
		s.notifyQueries(typ.Name)
		return
	}

	s.data[storeKey] = data.Clone()
	s.setStatus(storeKey, status.Ready|status.New|status.Dirty)
	s.setAdd(s.created, typ.Name, storeKey)

	slog.Debug("record created",
		"store_key", storeKey,
		"type", typ.Name,
	)
	s.notifyQueries(typ.Name)
}

// NewRecord mints a storeKey for a record that does not exist on the
// server yet, creates it, and returns its handle.
func (s *Store) NewRecord(typeName string, data jval.Object) (*Record, bool) {
	typ, ok := s.schemas.Get(typeName)
	if !ok {
		s.reportError(&StoreError{
			Code: ErrCodeUnknownType, TypeName: typeName,
			Message: "newRecord for unregistered type",
		})
		return nil, false
	}
	k := s.keys.NextKey()
	s.typeOf[k] = typ
	s.status[k] = status.Empty
	s.CreateRecord(k, data)
	if !s.GetStatus(k).Has(status.Ready) {
		return nil, false
	}
	return s.MaterializeRecord(k), true
}

// UpdateData applies a partial data object to a READY record. When
// changeIsDirty, each written key is diffed against the last committed
// value; if every attribute is back at its committed value the dirty state
// collapses entirely.
func (s *Store) UpdateData(storeKey string, partial jval.Object, changeIsDirty bool) {
	st := s.GetStatus(storeKey)
	if !st.Has(status.Ready) {
		s.reportError(&StoreError{
			Code: ErrCodeNotReady, StoreKey: storeKey,
			Message: "updateData over status " + st.String(),
		})
		return
	}
	typ := s.typeOf[storeKey]
	data := s.data[storeKey]
	if data == nil {
		data = jval.Object{}
	}

	if !changeIsDirty {
		// Non-dirtying writes patch the slot without touching bookkeeping.
		for k, v := range partial {
			data[k] = jval.Clone(v)
		}
		s.data[storeKey] = data
		s.notifyQueries(typ.Name)
		return
	}

	if st.Has(status.New) {
		// A record the server has never seen has no committed baseline;
		// everything about it is dirty until the create is acknowledged.
		for k, v := range partial {
			data[k] = jval.Clone(v)
		}
		s.data[storeKey] = data
		s.notifyQueries(typ.Name)
		return
	}

	committed := s.committed[storeKey]
	changed := s.changed[storeKey]
	if committed == nil {
		committed = data.Clone()
		changed = make(map[string]bool)
	}
	for k, v := range partial {
		data[k] = jval.Clone(v)
		changed[k] = !jval.Equal(v, committed[k])
	}
	s.data[storeKey] = data

	if anyChanged(changed) {
		s.committed[storeKey] = committed
		s.changed[storeKey] = changed
		if !st.Has(status.Dirty) {
			s.setStatus(storeKey, st|status.Dirty)
			s.setAdd(s.modified, typ.Name, storeKey)
		}
	} else {
		// Returned to baseline: drop the snapshots so no ghost dirty
		// state survives an edit-then-revert.
		delete(s.committed, storeKey)
		delete(s.changed, storeKey)
		s.setStatus(storeKey, st&^status.Dirty)
		s.setRemove(s.modified, typ.Name, storeKey)
	}
	s.notifyQueries(typ.Name)
}

// diffAgainstCommitted rebuilds the changed map for storeKey by comparing
// data to the existing committed snapshot, creating the snapshot from the
// current slot if absent.
func (s *Store) diffAgainstCommitted(storeKey string, typ *schema.Type, data jval.Object) {
	committed := s.committed[storeKey]
	if committed == nil {
		// No baseline: nothing to be dirty against.
		return
	}
	changed := diffObjects(data, committed)
	if anyChanged(changed) {
		s.changed[storeKey] = changed
		st := s.GetStatus(storeKey)
		s.setStatus(storeKey, st|status.Dirty)
		s.setAdd(s.modified, typ.Name, storeKey)
	} else {
		delete(s.committed, storeKey)
		delete(s.changed, storeKey)
		st := s.GetStatus(storeKey)
		s.setStatus(storeKey, st&^status.Dirty)
		s.setRemove(s.modified, typ.Name, storeKey)
	}
}

// DestroyRecord marks a record for destruction.
//
// A record that was created locally and never shipped is simply discarded.
// A destroy issued while a create is still in flight is deferred: the flag
// is remembered and the destroy ships after the create acknowledgement.
func (s *Store) DestroyRecord(storeKey string) {
	st := s.GetStatus(storeKey)
	typ := s.typeOf[storeKey]
	if typ == nil {
		s.reportError(&StoreError{
			Code: ErrCodeUnknownType, StoreKey: storeKey,
			Message: "destroyRecord for storeKey with no type",
		})
		return
	}

	switch {
	case st.Has(status.Ready|status.New|status.Dirty) && !st.Has(status.Committing):
		// Never committed: nothing to tell the server.
		s.setRemove(s.created, typ.Name, storeKey)
		s.unload(storeKey)
		s.notifyQueries(typ.Name)

	case st.Has(status.New | status.Committing):
		// Create in flight: remember the destroy for after the ack.
		s.pendingDestroy[storeKey] = true

	case st.Has(status.Ready):
		// Discard uncommitted dirty edits, then mark destroyed. The
		// COMMITTING/OBSOLETE modifiers survive so an in-flight update
		// resolves before the destroy ships.
		if committed := s.committed[storeKey]; committed != nil {
			s.data[storeKey] = committed
			delete(s.committed, storeKey)
			delete(s.changed, storeKey)
		}
		s.setRemove(s.modified, typ.Name, storeKey)
		keep := st & (status.Committing | status.Obsolete)
		s.setStatus(storeKey, status.Destroyed|status.Dirty|keep)
		s.setAdd(s.destroyed, typ.Name, storeKey)
		s.notifyQueries(typ.Name)

	default:
		s.reportError(&StoreError{
			Code: ErrCodeNotReady, StoreKey: storeKey,
			Message: "destroyRecord over status " + st.String(),
		})
	}
}

// DiscardChanges reverts every uncommitted local mutation: dirty records
// return to their committed snapshots, uncommitted creates are unloaded,
// and uncommitted destroys are reinstated.
func (s *Store) DiscardChanges() {
	for typeName, set := range s.created {
		for k := range set {
			if !s.inflight[k] {
				s.unload(k)
				delete(set, k)
			}
		}
		s.notifyQueries(typeName)
	}
	for typeName, set := range s.modified {
		for k := range set {
			if committed := s.committed[k]; committed != nil {
				s.data[k] = committed
			}
			delete(s.committed, k)
			delete(s.changed, k)
			s.setStatus(k, s.GetStatus(k)&^status.Dirty)
			delete(set, k)
		}
		s.notifyQueries(typeName)
	}
	for typeName, set := range s.destroyed {
		for k := range set {
			if s.inflight[k] {
				continue
			}
			s.setStatus(k, status.Ready|(s.GetStatus(k)&status.Obsolete))
			delete(set, k)
		}
		s.notifyQueries(typeName)
	}
}

// set helpers --------------------------------------------------------------

func (s *Store) setAdd(sets map[string]map[string]bool, typeName, storeKey string) {
	set := sets[typeName]
	if set == nil {
		set = make(map[string]bool)
		sets[typeName] = set
	}
	set[storeKey] = true
}

func (s *Store) setRemove(sets map[string]map[string]bool, typeName, storeKey string) {
	if set := sets[typeName]; set != nil {
		delete(set, storeKey)
	}
}

func (s *Store) setHas(sets map[string]map[string]bool, typeName, storeKey string) bool {
	set := sets[typeName]
	return set != nil && set[storeKey]
}

func anyChanged(changed map[string]bool) bool {
	for _, differs := range changed {
		if differs {
			return true
		}
	}
	return false
}

// diffObjects returns key → differs for every key present in either object.
func diffObjects(data, committed jval.Object) map[string]bool {
	changed := make(map[string]bool)
	for k, v := range data {
		changed[k] = !jval.Equal(v, committed[k])
	}
	for k, v := range committed {
		if _, present := data[k]; !present {
			changed[k] = v != nil
		}
	}
	return changed
}
