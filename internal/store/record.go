package store

import (
	"sort"

	"github.com/roach88/undertow/internal/jval"
	"github.com/roach88/undertow/internal/schema"
	"github.com/roach88/undertow/internal/status"
)

// Record is a live handle over one store slot. Handles are memoised: the
// store hands out the same *Record for the same storeKey, so identity
// comparisons work and per-record state stays in one place. A Record
// holds no data of its own; every read goes through the store.
type Record struct {
	store    *Store
	typ      *schema.Type
	storeKey string
}

// MaterializeRecord returns the memoised handle for storeKey, creating it
// on first use.
func (s *Store) MaterializeRecord(storeKey string) *Record {
	if r := s.records[storeKey]; r != nil {
		return r
	}
	r := &Record{store: s, typ: s.typeOf[storeKey], storeKey: storeKey}
	s.records[storeKey] = r
	return r
}

// GetRecord returns the handle for a record addressed by type and server
// id, triggering a fetch if the slot is still EMPTY.
func (s *Store) GetRecord(typeName, id string) (*Record, bool) {
	typ, ok := s.schemas.Get(typeName)
	if !ok {
		s.reportError(&StoreError{
			Code: ErrCodeUnknownType, TypeName: typeName,
			Message: "getRecord for unregistered type",
		})
		return nil, false
	}
	k := s.GetStoreKey(typ, id)
	st := s.GetStatus(k)
	if st.Has(status.NonExistent) {
		return nil, false
	}
	if st.Has(status.Empty) || st.Has(status.Obsolete) {
		s.FetchData(k)
	}
	return s.MaterializeRecord(k), true
}

// GetAll returns handles for every loaded record of a type and, unless the
// type is already fully READY, asks the source for the full set.
func (s *Store) GetAll(typeName string) []*Record {
	typ, ok := s.schemas.Get(typeName)
	if !ok {
		s.reportError(&StoreError{
			Code: ErrCodeUnknownType, TypeName: typeName,
			Message: "getAll for unregistered type",
		})
		return nil
	}
	ts := s.GetTypeState(typeName)
	if !ts.Status.Has(status.Ready) || ts.Status.Has(status.Obsolete) {
		if !ts.Status.Has(status.Loading) {
			ts.Status = (ts.Status | status.Loading) &^ status.Obsolete
			if ts.Status.Core() == 0 {
				ts.Status |= status.Empty
			}
			s.source.FetchAllRecords(typ, ts.Token, nil)
		}
	}
	byID := s.keyOf[typeName]
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []*Record
	for _, id := range ids {
		sk := byID[id]
		if s.GetStatus(sk).Has(status.Ready) && !s.GetStatus(sk).Any(status.Destroyed) {
			out = append(out, s.MaterializeRecord(sk))
		}
	}
	return out
}

// StoreKey returns the record's client-side identity.
func (r *Record) StoreKey() string { return r.storeKey }

// Type returns the record's schema type.
func (r *Record) Type() *schema.Type { return r.typ }

// ID returns the server id, or "" while the record is still unsynced.
func (r *Record) ID() string { return r.store.GetIDFromStoreKey(r.storeKey) }

// Status returns the record's current status bits.
func (r *Record) Status() status.Status { return r.store.GetStatus(r.storeKey) }

// Get reads one attribute by schema name, applying the attribute default
// when the key is absent. Unknown names report an error and return Null.
func (r *Record) Get(name string) jval.Value {
	attr, ok := r.typ.Attr(name)
	if !ok {
		r.store.reportError(&StoreError{
			Code: ErrCodeUnknownAttr, StoreKey: r.storeKey, TypeName: r.typ.Name,
			Message: "get of unknown attribute " + name,
		})
		return jval.Null{}
	}
	data := r.store.GetData(r.storeKey)
	if data == nil {
		r.store.FetchData(r.storeKey)
		return jval.Null{}
	}
	return attr.FromData(data)
}

// Set writes one attribute by schema name as a dirtying update. Values are
// validated against the attribute kind before they touch the store.
func (r *Record) Set(name string, v jval.Value) bool {
	attr, ok := r.typ.Attr(name)
	if !ok {
		r.store.reportError(&StoreError{
			Code: ErrCodeUnknownAttr, StoreKey: r.storeKey, TypeName: r.typ.Name,
			Message: "set of unknown attribute " + name,
		})
		return false
	}
	if err := attr.Validate(v); err != nil {
		r.store.reportError(&StoreError{
			Code: ErrCodeInvalidValue, StoreKey: r.storeKey, TypeName: r.typ.Name,
			Message: "set " + name + ": " + err.Error(),
		})
		return false
	}
	r.store.UpdateData(r.storeKey, jval.Object{attr.Key: v}, true)
	return true
}

// GetRecord resolves a to-one relationship attribute to its target handle.
func (r *Record) GetRecord(name string) (*Record, bool) {
	attr, ok := r.typ.Attr(name)
	if !ok || attr.Kind != schema.KindToOne {
		return nil, false
	}
	id, ok := attr.FromData(r.store.GetData(r.storeKey)).(jval.String)
	if !ok || id == "" {
		return nil, false
	}
	return r.store.GetRecord(attr.To, string(id))
}

// GetRecords resolves a to-many relationship attribute to target handles,
// in stored order. Ids that resolve to NON_EXISTENT records are skipped.
func (r *Record) GetRecords(name string) []*Record {
	attr, ok := r.typ.Attr(name)
	if !ok || attr.Kind != schema.KindToMany {
		return nil
	}
	ids, ok := attr.FromData(r.store.GetData(r.storeKey)).(jval.Array)
	if !ok {
		return nil
	}
	out := make([]*Record, 0, len(ids))
	for _, v := range ids {
		id, ok := v.(jval.String)
		if !ok {
			continue
		}
		if rec, ok := r.store.GetRecord(attr.To, string(id)); ok {
			out = append(out, rec)
		}
	}
	return out
}

// Destroy marks the record for destruction through the store.
func (r *Record) Destroy() {
	r.store.DestroyRecord(r.storeKey)
}
