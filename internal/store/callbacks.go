package store

import (
	"log/slog"

	"github.com/roach88/undertow/internal/jval"
	"github.com/roach88/undertow/internal/schema"
	"github.com/roach88/undertow/internal/status"
)

// SourceDidCommitCreate finalizes acknowledged creates. storeKeyToID maps
// each committed storeKey to its server-assigned id. A destroy that was
// deferred while the create was in flight ships in the next cycle.
func (s *Store) SourceDidCommitCreate(typ *schema.Type, storeKeyToID map[string]string) {
	for k, id := range storeKeyToID {
		if !s.inflight[k] {
			s.reportError(&StoreError{
				Code: ErrCodeSourceContract, StoreKey: k, TypeName: typ.Name,
				Message: "create acknowledgement for record not committing",
			})
			continue
		}
		delete(s.inflight, k)

		s.idOf[k] = id
		byID := s.keyOf[typ.Name]
		if byID == nil {
			byID = make(map[string]string)
			s.keyOf[typ.Name] = byID
		}
		byID[id] = k
		data := s.data[k]
		if data == nil {
			data = jval.Object{}
			s.data[k] = data
		}
		data[typ.PrimaryKey] = jval.String(id)

		st := s.GetStatus(k) &^ (status.New | status.Committing)
		s.setStatus(k, st)

		if s.pendingDestroy[k] {
			delete(s.pendingDestroy, k)
			s.DestroyRecord(k)
		}
		slog.Debug("create committed", "store_key", k, "id", id, "type", typ.Name)
	}
	s.scheduleRecommit()
	s.notifyQueries(typ.Name)
}

// SourceDidNotCommitCreate handles rejected creates. Transient failures
// leave the record NEW and DIRTY for automatic recommit. Permanent ones
// discard the record entirely, since it never existed on the server,
// unless a commit-error listener suppresses that.
func (s *Store) SourceDidNotCommitCreate(typ *schema.Type, storeKeys []string, isPermanent bool) {
	if len(storeKeys) == 0 {
		return
	}
	suppress := s.fireCommitError(&CommitError{
		TypeName: typ.Name, Kind: CommitCreate, StoreKeys: storeKeys, Permanent: isPermanent,
	})
	for _, k := range storeKeys {
		if !s.inflight[k] {
			continue
		}
		delete(s.inflight, k)
		if isPermanent && !suppress {
			delete(s.pendingDestroy, k)
			s.unload(k)
			continue
		}
		st := s.GetStatus(k) &^ status.Committing
		s.setStatus(k, st|status.Dirty)
		s.setAdd(s.created, typ.Name, k)
		if s.pendingDestroy[k] {
			// The create will retry; the deferred destroy stands.
			delete(s.pendingDestroy, k)
			s.DestroyRecord(k)
		}
	}
	s.notifyQueries(typ.Name)
}

// SourceDidCommitUpdate finalizes acknowledged updates: the rollback
// snapshot is dropped and COMMITTING cleared. Edits that accumulated in
// flight are queued for the next cycle.
func (s *Store) SourceDidCommitUpdate(typ *schema.Type, storeKeys []string) {
	for _, k := range storeKeys {
		if !s.inflight[k] {
			s.reportError(&StoreError{
				Code: ErrCodeSourceContract, StoreKey: k, TypeName: typ.Name,
				Message: "update acknowledgement for record not committing",
			})
			continue
		}
		delete(s.inflight, k)
		delete(s.rollback, k)
		s.setStatus(k, s.GetStatus(k)&^status.Committing)
	}
	s.scheduleRecommit()
	s.notifyQueries(typ.Name)
}

// SourceDidNotCommitUpdate handles rejected updates. Transient failures
// restore the pre-commit baseline and leave the record DIRTY for
// recommit. Permanent ones roll the data back to the last committed
// snapshot unless a commit-error listener suppresses that.
func (s *Store) SourceDidNotCommitUpdate(typ *schema.Type, storeKeys []string, isPermanent bool) {
	if len(storeKeys) == 0 {
		return
	}
	suppress := s.fireCommitError(&CommitError{
		TypeName: typ.Name, Kind: CommitUpdate, StoreKeys: storeKeys, Permanent: isPermanent,
	})
	for _, k := range storeKeys {
		if !s.inflight[k] {
			continue
		}
		delete(s.inflight, k)
		rollback := s.rollback[k]
		delete(s.rollback, k)
		st := s.GetStatus(k) &^ status.Committing

		if st.Has(status.Destroyed) {
			// Destroyed while the update was in flight; the destroy in the
			// queue supersedes whatever happened to the update.
			s.setStatus(k, st)
			continue
		}

		if isPermanent && !suppress {
			if rollback != nil {
				s.data[k] = rollback
			}
			delete(s.committed, k)
			delete(s.changed, k)
			s.setRemove(s.modified, typ.Name, k)
			s.setStatus(k, st&^status.Dirty)
			continue
		}

		// Transient: the sent value is not the new baseline after all.
		if rollback != nil {
			s.committed[k] = rollback
		} else if s.committed[k] == nil {
			s.committed[k] = cloneObject(s.data[k])
		}
		s.changed[k] = diffObjects(s.data[k], s.committed[k])
		if anyChanged(s.changed[k]) {
			s.setStatus(k, st|status.Dirty)
			s.setAdd(s.modified, typ.Name, k)
		} else {
			delete(s.committed, k)
			delete(s.changed, k)
			s.setStatus(k, st&^status.Dirty)
		}
	}
	s.scheduleRecommit()
	s.notifyQueries(typ.Name)
}

// SourceDidCommitDestroy finalizes acknowledged destroys by unloading the
// records entirely. A create that was deferred while the destroy was in
// flight replays now: the record comes back NEW under the same storeKey
// and ships in the next cycle.
func (s *Store) SourceDidCommitDestroy(typ *schema.Type, storeKeys []string) {
	for _, k := range storeKeys {
		if !s.inflight[k] {
			s.reportError(&StoreError{
				Code: ErrCodeSourceContract, StoreKey: k, TypeName: typ.Name,
				Message: "destroy acknowledgement for record not committing",
			})
			continue
		}
		pending := s.pendingCreate[k]
		s.unload(k)
		if pending != nil {
			s.typeOf[k] = typ
			s.status[k] = status.Empty
			s.CreateRecord(k, pending)
		}
	}
	s.scheduleRecommit()
	s.notifyQueries(typ.Name)
}

// SourceDidNotCommitDestroy handles rejected destroys. Transient failures
// leave the record DESTROYED and DIRTY for recommit; permanent ones revive
// it as READY unless suppressed.
func (s *Store) SourceDidNotCommitDestroy(typ *schema.Type, storeKeys []string, isPermanent bool) {
	if len(storeKeys) == 0 {
		return
	}
	suppress := s.fireCommitError(&CommitError{
		TypeName: typ.Name, Kind: CommitDestroy, StoreKeys: storeKeys, Permanent: isPermanent,
	})
	for _, k := range storeKeys {
		if !s.inflight[k] {
			continue
		}
		delete(s.inflight, k)
		pending := s.pendingCreate[k]
		delete(s.pendingCreate, k)
		st := s.GetStatus(k) &^ status.Committing
		if isPermanent && !suppress {
			s.setStatus(k, status.Ready|(st&status.Obsolete))
			if pending != nil {
				// The record survives on the server; the deferred
				// recreate collapses into an update against it.
				if s.committed[k] == nil {
					if base := s.data[k]; base != nil {
						s.committed[k] = base.Clone()
						s.changed[k] = make(map[string]bool)
					}
				}
				s.data[k] = pending
				s.diffAgainstCommitted(k, typ, pending.Clone())
			}
			continue
		}
		s.setStatus(k, st|status.Dirty)
		s.setAdd(s.destroyed, typ.Name, k)
		if pending != nil {
			// The destroy is queued again but no longer in flight, so the
			// recreate can fold back immediately and cancel it.
			s.CreateRecord(k, pending)
		}
	}
	s.scheduleRecommit()
	s.notifyQueries(typ.Name)
}

// fireCommitError delivers a commit error to the handler, if any, and
// reports whether the rollback should be suppressed.
func (s *Store) fireCommitError(e *CommitError) bool {
	slog.Warn("commit failed",
		"type", e.TypeName,
		"kind", string(e.Kind),
		"records", len(e.StoreKeys),
		"permanent", e.Permanent,
	)
	if s.onCommitError == nil {
		return false
	}
	return s.onCommitError(e)
}

// SourceDidFetchRecords merges fully fetched records into the store. state
// updates the per-type token; isAll marks the whole type as loaded.
func (s *Store) SourceDidFetchRecords(typ *schema.Type, records []jval.Object, state string, isAll bool) {
	for _, rec := range records {
		id := typ.ID(rec)
		if id == "" {
			s.reportError(&StoreError{
				Code: ErrCodeSourceContract, TypeName: typ.Name,
				Message: "fetched record without primary key",
			})
			continue
		}
		k := s.GetStoreKey(typ, id)
		s.mergeFetchedData(k, typ, rec.Clone(), true)
	}
	ts := s.GetTypeState(typ.Name)
	if state != "" {
		ts.Token = state
	}
	if isAll {
		ts.Status = status.Ready
	}
	s.notifyQueries(typ.Name)
}

// SourceDidFetchPartialRecords merges partial field updates, keyed by
// server id. Raw keys absent from an update are left untouched.
func (s *Store) SourceDidFetchPartialRecords(typ *schema.Type, updates map[string]jval.Object) {
	for id, fields := range updates {
		k := s.GetStoreKey(typ, id)
		st := s.GetStatus(k)
		if !st.Has(status.Ready) {
			// Nothing loaded to patch; a full fetch is the right follow-up.
			s.setStatus(k, st|status.Obsolete)
			continue
		}
		merged := cloneObject(s.data[k])
		for key, v := range fields {
			merged[key] = jval.Clone(v)
		}
		s.mergeFetchedData(k, typ, merged, false)
	}
	s.notifyQueries(typ.Name)
}

// mergeFetchedData installs authoritative data for a record, rebasing any
// outstanding dirty changes on top of it.
func (s *Store) mergeFetchedData(k string, typ *schema.Type, incoming jval.Object, full bool) {
	st := s.GetStatus(k)

	switch {
	case st.Any(status.Destroyed):
		// A local destroy outranks fetched data.
		return

	case st.Has(status.Empty) || st.Has(status.NonExistent):
		s.data[k] = incoming
		s.setStatus(k, status.Ready)

	case st.Has(status.Ready) && !st.Has(status.Dirty):
		s.data[k] = incoming
		s.setStatus(k, st&^(status.Loading|status.Obsolete))

	case st.Has(status.Ready | status.Dirty):
		// Rebase: the incoming data is the new baseline; the client's
		// still-outstanding changed keys win on top of it when conflict
		// rebasing is enabled.
		changed := s.changed[k]
		newData := incoming.Clone()
		if s.RebaseConflicts {
			cur := s.data[k]
			for key, differs := range changed {
				if differs {
					if v, present := cur[key]; present {
						newData[key] = jval.Clone(v)
					} else {
						delete(newData, key)
					}
				}
			}
		}
		s.data[k] = newData
		s.committed[k] = incoming
		s.changed[k] = diffObjects(newData, incoming)
		if anyChanged(s.changed[k]) {
			s.setStatus(k, (st|status.Dirty)&^(status.Loading|status.Obsolete))
		} else {
			// No residual difference from the new base: dirty state
			// collapses cleanly.
			delete(s.committed, k)
			delete(s.changed, k)
			s.setRemove(s.modified, typ.Name, k)
			s.setStatus(k, st&^(status.Dirty|status.Loading|status.Obsolete))
		}

	default:
		s.data[k] = incoming
		s.setStatus(k, status.Ready)
	}
}

// SourceCouldNotFindRecords marks ids the server reports as unknown.
// Records still EMPTY become NON_EXISTENT; loaded records are left alone.
func (s *Store) SourceCouldNotFindRecords(typ *schema.Type, ids []string) {
	for _, id := range ids {
		k := s.GetStoreKey(typ, id)
		st := s.GetStatus(k)
		if st.Has(status.Empty) {
			s.setStatus(k, status.NonExistent)
		}
	}
	s.notifyQueries(typ.Name)
}

// SourceStateDidChange marks a whole type OBSOLETE: the server reports a
// state token the client has not seen. Queries over the type are told to
// refresh themselves.
func (s *Store) SourceStateDidChange(typ *schema.Type, newState string) {
	ts := s.GetTypeState(typ.Name)
	if ts.Token == newState {
		return
	}
	ts.Status |= status.Obsolete
	s.notifyQueries(typ.Name)
}
