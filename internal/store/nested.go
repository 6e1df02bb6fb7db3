package store

import (
	"github.com/roach88/undertow/internal/jval"
	"github.com/roach88/undertow/internal/schema"
	"github.com/roach88/undertow/internal/status"
)

// NestedStore is a copy-on-write editing layer over a parent Store. Reads
// fall through to the parent until a record is mutated here; the first
// mutation snapshots the record into the overlay and later parent changes
// to that record stop showing through. CommitChanges flattens the overlay
// into the parent as ordinary creates, updates and destroys; the nested
// layer never talks to a source itself.
type NestedStore struct {
	parent *Store

	// overlay slots; presence means the record was touched here
	status map[string]status.Status
	data   map[string]jval.Object
	typeOf map[string]*schema.Type

	created   map[string]bool
	modified  map[string]bool
	destroyed map[string]bool
}

// NewNested creates an empty editing layer over parent.
func NewNested(parent *Store) *NestedStore {
	n := &NestedStore{parent: parent}
	n.reset()
	return n
}

func (n *NestedStore) reset() {
	n.status = make(map[string]status.Status)
	n.data = make(map[string]jval.Object)
	n.typeOf = make(map[string]*schema.Type)
	n.created = make(map[string]bool)
	n.modified = make(map[string]bool)
	n.destroyed = make(map[string]bool)
}

// GetStatus returns the overlay status if the record was touched here,
// otherwise the parent's.
func (n *NestedStore) GetStatus(storeKey string) status.Status {
	if st, ok := n.status[storeKey]; ok {
		return st
	}
	return n.parent.GetStatus(storeKey)
}

// GetData returns the overlay data if the record was touched here,
// otherwise the parent's.
func (n *NestedStore) GetData(storeKey string) jval.Object {
	if d, ok := n.data[storeKey]; ok {
		return d
	}
	return n.parent.GetData(storeKey)
}

func (n *NestedStore) typeFor(storeKey string) *schema.Type {
	if t := n.typeOf[storeKey]; t != nil {
		return t
	}
	return n.parent.typeOf[storeKey]
}

// NewRecord mints a storeKey and stages a create in the overlay. The
// parent learns nothing until CommitChanges.
func (n *NestedStore) NewRecord(typeName string, data jval.Object) (string, bool) {
	typ, ok := n.parent.schemas.Get(typeName)
	if !ok {
		n.parent.reportError(&StoreError{
			Code: ErrCodeUnknownType, TypeName: typeName,
			Message: "newRecord for unregistered type",
		})
		return "", false
	}
	if data == nil {
		data = jval.Object{}
	}
	k := n.parent.keys.NextKey()
	n.typeOf[k] = typ
	n.data[k] = data.Clone()
	n.status[k] = status.Ready | status.New | status.Dirty
	n.created[k] = true
	return k, true
}

// UpdateData applies a partial data object to a record, snapshotting it
// into the overlay on first touch.
func (n *NestedStore) UpdateData(storeKey string, partial jval.Object) {
	st := n.GetStatus(storeKey)
	if !st.Has(status.Ready) {
		n.parent.reportError(&StoreError{
			Code: ErrCodeNotReady, StoreKey: storeKey,
			Message: "nested updateData over status " + st.String(),
		})
		return
	}
	data, ok := n.data[storeKey]
	if !ok {
		data = cloneObject(n.parent.GetData(storeKey))
	}
	for k, v := range partial {
		data[k] = jval.Clone(v)
	}
	n.data[storeKey] = data
	n.status[storeKey] = st | status.Dirty
	if !n.created[storeKey] {
		n.modified[storeKey] = true
	}
}

// DestroyRecord stages a destroy. A record created in this layer simply
// vanishes; an inherited one is marked destroyed in the overlay.
func (n *NestedStore) DestroyRecord(storeKey string) {
	if n.created[storeKey] {
		delete(n.created, storeKey)
		delete(n.status, storeKey)
		delete(n.data, storeKey)
		delete(n.typeOf, storeKey)
		return
	}
	st := n.GetStatus(storeKey)
	if !st.Has(status.Ready) {
		n.parent.reportError(&StoreError{
			Code: ErrCodeNotReady, StoreKey: storeKey,
			Message: "nested destroyRecord over status " + st.String(),
		})
		return
	}
	delete(n.modified, storeKey)
	delete(n.data, storeKey)
	n.status[storeKey] = status.Destroyed | status.Dirty
	n.destroyed[storeKey] = true
}

// HasChanges reports whether the overlay holds anything to flatten.
func (n *NestedStore) HasChanges() bool {
	return len(n.created) > 0 || len(n.modified) > 0 || len(n.destroyed) > 0
}

// CommitChanges flattens the overlay into the parent store and resets the
// layer. Staged creates become parent creates under the same storeKey,
// staged edits become ordinary dirtying updates, staged destroys become
// parent destroys. The parent's own commit cycle then ships them.
func (n *NestedStore) CommitChanges() {
	for _, k := range sortedKeys(n.created) {
		typ := n.typeOf[k]
		if n.parent.typeOf[k] == nil {
			n.parent.typeOf[k] = typ
			n.parent.status[k] = status.Empty
		}
		n.parent.CreateRecord(k, n.data[k])
	}
	for _, k := range sortedKeys(n.modified) {
		n.parent.UpdateData(k, n.data[k], true)
	}
	for _, k := range sortedKeys(n.destroyed) {
		n.parent.DestroyRecord(k)
	}
	n.reset()
}

// DiscardChanges drops the overlay without touching the parent.
func (n *NestedStore) DiscardChanges() {
	n.reset()
}
