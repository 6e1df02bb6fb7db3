package store

import (
	"log/slog"
	"sort"

	"github.com/roach88/undertow/internal/jval"
	"github.com/roach88/undertow/internal/status"
)

// CommitChanges batches every pending local mutation and ships it to the
// source. Calls within one tick coalesce into a single batch: the actual
// work runs when the scheduler flushes. The optional callback fires once
// the source has acknowledged every leg of this round.
func (s *Store) CommitChanges(callback func()) {
	if callback != nil {
		s.commitCallbacks = append(s.commitCallbacks, callback)
	}
	s.scheduler.Schedule(commitTaskKey, s.commitPending)
}

// commitPending builds and sends the per-type commit batches.
func (s *Store) commitPending() {
	typeNames := s.pendingTypeNames()
	var batches []*TypeChanges

	for _, typeName := range typeNames {
		typ, ok := s.schemas.Get(typeName)
		if !ok {
			continue
		}
		batch := &TypeChanges{Type: typ, State: s.GetTypeState(typeName).Token}

		for _, k := range sortedKeys(s.created[typeName]) {
			if s.inflight[k] {
				continue // ships next round
			}
			s.inflight[k] = true
			s.setRemove(s.created, typeName, k)
			st := s.GetStatus(k)
			s.setStatus(k, (st|status.Committing)&^status.Dirty)
			batch.Create.StoreKeys = append(batch.Create.StoreKeys, k)
			batch.Create.Records = append(batch.Create.Records, cloneObject(s.data[k]))
		}

		for _, k := range sortedKeys(s.modified[typeName]) {
			if s.inflight[k] {
				continue
			}
			s.inflight[k] = true
			s.setRemove(s.modified, typeName, k)
			st := s.GetStatus(k)
			// The committed snapshot moves to rollback for the flight;
			// the value being sent becomes the presumptive new baseline.
			s.rollback[k] = s.committed[k]
			changes := rawChanges(s.changed[k])
			delete(s.committed, k)
			delete(s.changed, k)
			s.setStatus(k, (st|status.Committing)&^status.Dirty)
			batch.Update.StoreKeys = append(batch.Update.StoreKeys, k)
			batch.Update.Records = append(batch.Update.Records, cloneObject(s.data[k]))
			batch.Update.Changes = append(batch.Update.Changes, changes)
		}

		for _, k := range sortedKeys(s.destroyed[typeName]) {
			if s.inflight[k] {
				continue
			}
			s.inflight[k] = true
			s.setRemove(s.destroyed, typeName, k)
			st := s.GetStatus(k)
			s.setStatus(k, (st|status.Committing)&^status.Dirty)
			batch.Destroy.StoreKeys = append(batch.Destroy.StoreKeys, k)
			batch.Destroy.IDs = append(batch.Destroy.IDs, s.idOf[k])
		}

		if !batch.IsEmpty() {
			batches = append(batches, batch)
		}
	}

	callbacks := s.commitCallbacks
	s.commitCallbacks = nil

	if len(batches) == 0 {
		for _, cb := range callbacks {
			cb()
		}
		return
	}

	slog.Debug("committing changes", "batches", len(batches))
	onAllDone := func() {
		for _, cb := range callbacks {
			cb()
		}
	}
	if !s.source.CommitChanges(batches, onAllDone) {
		// Source declined the batch outright; treat as transient failure
		// for every leg so nothing is lost. Recommit is suppressed: a
		// synchronous decline rescheduling itself would spin the flush
		// loop. The host retries with its next CommitChanges.
		s.suppressRecommit = true
		defer func() { s.suppressRecommit = false }()
		for _, b := range batches {
			s.SourceDidNotCommitCreate(b.Type, b.Create.StoreKeys, false)
			s.SourceDidNotCommitUpdate(b.Type, b.Update.StoreKeys, false)
			s.SourceDidNotCommitDestroy(b.Type, b.Destroy.StoreKeys, false)
		}
		onAllDone()
	}
}

// HasPendingChanges reports whether any local mutation awaits commit.
func (s *Store) HasPendingChanges() bool {
	for _, sets := range []map[string]map[string]bool{s.created, s.modified, s.destroyed} {
		for _, set := range sets {
			if len(set) > 0 {
				return true
			}
		}
	}
	return false
}

// scheduleRecommit queues another commit cycle for edits that accumulated
// while a commit was in flight.
func (s *Store) scheduleRecommit() {
	if s.suppressRecommit {
		return
	}
	if s.HasPendingChanges() {
		s.scheduler.Schedule(commitTaskKey, s.commitPending)
	}
}

// pendingTypeNames returns every type with queued mutations, sorted for
// deterministic batch order.
func (s *Store) pendingTypeNames() []string {
	seen := make(map[string]bool)
	for _, sets := range []map[string]map[string]bool{s.created, s.modified, s.destroyed} {
		for typeName, set := range sets {
			if len(set) > 0 {
				seen[typeName] = true
			}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// sortedKeys returns the set's members in sorted order, for deterministic
// batches and golden traces.
func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// rawChanges filters the changed map down to keys that actually differ.
func rawChanges(changed map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for k, differs := range changed {
		if differs {
			out[k] = true
		}
	}
	return out
}

// clone helper for possibly-nil objects.
func cloneObject(obj jval.Object) jval.Object {
	if obj == nil {
		return jval.Object{}
	}
	return obj.Clone()
}
