package query

import (
	"log/slog"

	"github.com/roach88/undertow/internal/queryspec"
	"github.com/roach88/undertow/internal/status"
	"github.com/roach88/undertow/internal/store"
)

// Remote is a server-evaluated query over one record type: an ordered id
// list plus an opaque state token. The sort/filter spec means nothing to
// the client; the source evaluates it. List changes arrive either as full
// snapshots or, when the source supports it, as deltas against the state
// token, and are surfaced to observers as minimal index diffs.
type Remote struct {
	store *store.Store
	spec  queryspec.Spec
	key   string

	state        string
	deltaUpdates bool
	ids          []string
	status       status.Status

	onUpdated []func(*Update)
	onReset   []func()
}

// NewRemote builds a query over st and registers it for change
// notifications. deltaUpdates advertises that the caller's source can
// serve deltas against a state token.
func NewRemote(st *store.Store, spec queryspec.Spec, deltaUpdates bool) *Remote {
	q := &Remote{
		store:        st,
		spec:         spec,
		key:          spec.Key(),
		deltaUpdates: deltaUpdates,
		status:       status.Empty,
	}
	st.AddQuery(q)
	return q
}

// QueryKey implements store.StoreQuery and store.SourceQuery.
func (q *Remote) QueryKey() string { return q.key }

// QueryType implements store.StoreQuery.
func (q *Remote) QueryType() string { return q.spec.Type }

// Spec implements store.SourceQuery.
func (q *Remote) Spec() queryspec.Spec { return q.spec }

// State implements store.SourceQuery.
func (q *Remote) State() string { return q.state }

// CanGetDeltaUpdates implements store.SourceQuery.
func (q *Remote) CanGetDeltaUpdates() bool { return q.deltaUpdates }

// StoreDidChangeRecords implements store.StoreQuery. Local record churn
// may have changed the result set; the query marks itself stale and lets
// the owner decide when to refresh.
func (q *Remote) StoreDidChangeRecords() {
	if q.status.Has(status.Ready) {
		q.status |= status.Obsolete
	}
}

// OnUpdated registers a callback fired with the diff of every list change.
func (q *Remote) OnUpdated(fn func(*Update)) { q.onUpdated = append(q.onUpdated, fn) }

// OnReset registers a callback fired when the list is replaced wholesale.
func (q *Remote) OnReset(fn func()) { q.onReset = append(q.onReset, fn) }

// Status returns the query's load status.
func (q *Remote) Status() status.Status { return q.status }

// IDs returns the current ordered id list. Callers must not mutate it.
func (q *Remote) IDs() []string { return q.ids }

// Length returns the current list length.
func (q *Remote) Length() int { return len(q.ids) }

// IndexOfID returns the position of id, or -1.
func (q *Remote) IndexOfID(id string) int {
	for i, v := range q.ids {
		if v == id {
			return i
		}
	}
	return -1
}

// GetObjectAt returns the record handle at list position i, or nil when
// the index is out of range.
func (q *Remote) GetObjectAt(i int) *store.Record {
	if i < 0 || i >= len(q.ids) {
		return nil
	}
	rec, ok := q.store.GetRecord(q.spec.Type, q.ids[i])
	if !ok {
		return nil
	}
	return rec
}

// Refresh asks the source for an up-to-date result. force demands a full
// snapshot even when a delta would do. A refresh while one is already
// loading is a no-op.
func (q *Remote) Refresh(force bool) {
	if q.status.Has(status.Loading) {
		return
	}
	if force {
		q.state = ""
	}
	q.status = (q.status | status.Loading) &^ status.Obsolete
	q.store.FetchQuery(q)
}

// SourceWillFetchQuery implements store.SourceQuery. A plain remote query
// always wants the whole list.
func (q *Remote) SourceWillFetchQuery() *store.QueryFetchRequest {
	return &store.QueryFetchRequest{
		Refresh: q.deltaUpdates && q.state != "",
		Reset:   q.state == "",
	}
}

// SourceDidFetchQuery installs a full id list from the source, diffs it
// against the current one and fires a single updated event with the
// minimal index changes.
func (q *Remote) SourceDidFetchQuery(ids []string, state string) {
	diff := DiffIDLists(q.ids, ids)
	q.ids = append([]string(nil), ids...)
	q.state = state
	q.status = status.Ready

	slog.Debug("query fetched",
		"query", q.key,
		"length", len(ids),
		"removed", len(diff.RemovedIndexes),
		"added", len(diff.AddedIndexes),
	)
	if !diff.IsEmpty() {
		q.fireUpdated(diff)
	}
}

// SourceDidFetchDelta applies a server delta against the state token.
// Removed ids the client cannot locate force a full reset rather than
// risking a silently corrupt list.
func (q *Remote) SourceDidFetchDelta(removedIDs []string, added []AddedID, state string) {
	u := &Update{}
	for _, id := range removedIDs {
		idx := q.IndexOfID(id)
		if idx < 0 {
			slog.Warn("delta references unknown id, resetting", "query", q.key, "id", id)
			q.Reset()
			return
		}
		u.RemovedIndexes = append(u.RemovedIndexes, idx)
		u.RemovedIDs = append(u.RemovedIDs, id)
	}
	u.RemovedIndexes, u.RemovedIDs = fromPairs(toPairs(u.RemovedIndexes, u.RemovedIDs))
	for _, a := range added {
		u.AddedIndexes = append(u.AddedIndexes, a.Index)
		u.AddedIDs = append(u.AddedIDs, a.ID)
	}
	u.AddedIndexes, u.AddedIDs = fromPairs(toPairs(u.AddedIndexes, u.AddedIDs))

	q.ids = u.Apply(q.ids)
	u.Length = len(q.ids)
	q.state = state
	q.status = status.Ready
	if !u.IsEmpty() {
		q.fireUpdated(u)
	}
}

// Reset clears the list and state token and refetches from scratch.
func (q *Remote) Reset() {
	q.ids = nil
	q.state = ""
	q.status = status.Empty
	for _, fn := range q.onReset {
		fn()
	}
	q.Refresh(true)
}

// Close unregisters the query from its store.
func (q *Remote) Close() {
	q.store.RemoveQuery(q)
}

func (q *Remote) fireUpdated(u *Update) {
	for _, fn := range q.onUpdated {
		fn(u)
	}
}

// AddedID is one server-side insertion: the id and its index in the list
// after the delta.
type AddedID struct {
	Index int
	ID    string
}
