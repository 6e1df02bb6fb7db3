package query

import (
	"log/slog"

	"github.com/roach88/undertow/internal/queryspec"
	"github.com/roach88/undertow/internal/store"
)

// WindowStatus is the load state of one fixed-size window of a windowed
// query's id list. A window progresses Empty → Requested → Loading →
// Ready, and again through the Records* states when full record data is
// wanted, not just ids.
type WindowStatus uint8

const (
	WindowEmpty WindowStatus = iota
	WindowRequested
	WindowLoading
	WindowReady
	WindowRecordsRequested
	WindowRecordsLoading
	WindowRecordsReady
)

func (w WindowStatus) String() string {
	switch w {
	case WindowEmpty:
		return "EMPTY"
	case WindowRequested:
		return "REQUESTED"
	case WindowLoading:
		return "LOADING"
	case WindowReady:
		return "READY"
	case WindowRecordsRequested:
		return "RECORDS_REQUESTED"
	case WindowRecordsLoading:
		return "RECORDS_LOADING"
	case WindowRecordsReady:
		return "RECORDS_READY"
	}
	return "UNKNOWN"
}

// ServerDelta is a delta update pushed by the source against the query's
// state token. Removed ids carry no indexes (the server does not know the
// client's current list); added ids carry their index in the server's
// resulting list. When Truncated, the delta covers only the list prefix
// ending at the UpTo id.
type ServerDelta struct {
	RemovedIDs []string
	Added      []AddedID
	State      string
	Truncated  bool
	UpTo       string
}

// Windowed is a remote query over a large ordered id list, fetched in
// fixed-size windows and supporting optimistic local edits that are
// reconciled against asynchronous server deltas without refetching.
type Windowed struct {
	store *store.Store
	spec  queryspec.Spec
	key   string

	state        string
	deltaUpdates bool

	windowSize int
	ids        []string // "" marks an id not yet fetched
	windows    []WindowStatus

	// preemptives are optimistic local updates not yet confirmed by the
	// server, oldest first.
	preemptives []*Update

	// OptimiseFetching drops requested windows no observer watches from
	// outgoing fetches.
	OptimiseFetching bool

	observers    map[int]store.Range
	nextObserver int

	onUpdated   []func(*Update)
	onReset     []func()
	onIDsLoaded []func(store.Range)
}

// NewWindowed builds a windowed query with the given window size and
// registers it with the store.
func NewWindowed(st *store.Store, spec queryspec.Spec, windowSize int, deltaUpdates bool) *Windowed {
	if windowSize <= 0 {
		windowSize = 25
	}
	q := &Windowed{
		store:        st,
		spec:         spec,
		key:          spec.Key(),
		deltaUpdates: deltaUpdates,
		windowSize:   windowSize,
		observers:    make(map[int]store.Range),
	}
	st.AddQuery(q)
	return q
}

// QueryKey implements store.StoreQuery and store.SourceQuery.
func (q *Windowed) QueryKey() string { return q.key }

// QueryType implements store.StoreQuery.
func (q *Windowed) QueryType() string { return q.spec.Type }

// Spec implements store.SourceQuery.
func (q *Windowed) Spec() queryspec.Spec { return q.spec }

// State implements store.SourceQuery.
func (q *Windowed) State() string { return q.state }

// CanGetDeltaUpdates implements store.SourceQuery.
func (q *Windowed) CanGetDeltaUpdates() bool { return q.deltaUpdates }

// StoreDidChangeRecords implements store.StoreQuery. Windowed queries
// learn about membership changes through deltas and preemptive updates,
// so local record churn is not acted on directly.
func (q *Windowed) StoreDidChangeRecords() {}

// OnUpdated registers a callback fired for every list change, local or
// reconciled.
func (q *Windowed) OnUpdated(fn func(*Update)) { q.onUpdated = append(q.onUpdated, fn) }

// OnReset registers a callback fired when the list state is abandoned.
func (q *Windowed) OnReset(fn func()) { q.onReset = append(q.onReset, fn) }

// OnIDsLoaded registers a callback fired when a fetched id range lands.
func (q *Windowed) OnIDsLoaded(fn func(store.Range)) { q.onIDsLoaded = append(q.onIDsLoaded, fn) }

// Length returns the current known list length.
func (q *Windowed) Length() int { return len(q.ids) }

// WindowSize returns the configured window size.
func (q *Windowed) WindowSize() int { return q.windowSize }

// WindowStatusAt returns the status of window w.
func (q *Windowed) WindowStatusAt(w int) WindowStatus {
	if w < 0 || w >= len(q.windows) {
		return WindowEmpty
	}
	return q.windows[w]
}

// IndexOfID returns the position of id in the list, or -1.
func (q *Windowed) IndexOfID(id string) int {
	if id == "" {
		return -1
	}
	for i, v := range q.ids {
		if v == id {
			return i
		}
	}
	return -1
}

// GetIDsForObjectsInRange returns the ids in [r.Start, r.Start+r.Count),
// clamped to the list. Unfetched slots come back as "".
func (q *Windowed) GetIDsForObjectsInRange(r store.Range) []string {
	start := r.Start
	if start < 0 {
		start = 0
	}
	end := r.Start + r.Count
	if end > len(q.ids) {
		end = len(q.ids)
	}
	if start >= end {
		return nil
	}
	return append([]string(nil), q.ids[start:end]...)
}

// GetObjectAt returns the record at list position i, fetching its window
// with records when the id is not yet known. Returns nil until loaded.
func (q *Windowed) GetObjectAt(i int) *store.Record {
	if i < 0 || i >= len(q.ids) {
		return nil
	}
	if q.ids[i] == "" {
		q.FetchWindow(i/q.windowSize, true, 0)
		return nil
	}
	rec, ok := q.store.GetRecord(q.spec.Type, q.ids[i])
	if !ok {
		return nil
	}
	return rec
}

// AddRangeObserver registers a live observed range (a UI viewport) and
// returns a handle for later updates.
func (q *Windowed) AddRangeObserver(r store.Range) int {
	q.nextObserver++
	q.observers[q.nextObserver] = r
	return q.nextObserver
}

// UpdateRangeObserver moves an observed range.
func (q *Windowed) UpdateRangeObserver(handle int, r store.Range) {
	if _, ok := q.observers[handle]; ok {
		q.observers[handle] = r
	}
}

// RemoveRangeObserver drops an observed range.
func (q *Windowed) RemoveRangeObserver(handle int) {
	delete(q.observers, handle)
}

// SetLength installs the total result length reported by the source,
// growing or shrinking the id list and window table.
func (q *Windowed) SetLength(n int) {
	if n < 0 {
		return
	}
	if n < len(q.ids) {
		q.ids = q.ids[:n]
	}
	for len(q.ids) < n {
		q.ids = append(q.ids, "")
	}
	q.resizeWindows()
}

func (q *Windowed) resizeWindows() {
	count := (len(q.ids) + q.windowSize - 1) / q.windowSize
	if count < len(q.windows) {
		q.windows = q.windows[:count]
	}
	for len(q.windows) < count {
		q.windows = append(q.windows, WindowEmpty)
	}
}

// FetchWindow marks windows [w-prefetch, w+prefetch] as needed, with full
// record data when fetchRecords, and schedules a source fetch. The source
// calls back SourceWillFetchQuery to collect the coalesced ranges.
func (q *Windowed) FetchWindow(w int, fetchRecords bool, prefetch int) {
	lo, hi := w-prefetch, w+prefetch
	if lo < 0 {
		lo = 0
	}
	if len(q.windows) > 0 && hi >= len(q.windows) {
		hi = len(q.windows) - 1
	}
	if len(q.windows) == 0 {
		// Length unknown yet: request the first windows unconditionally.
		for i := lo; i <= hi; i++ {
			q.windows = append(q.windows, WindowEmpty)
		}
	}
	for i := lo; i <= hi && i < len(q.windows); i++ {
		switch {
		case fetchRecords && q.windows[i] < WindowRecordsRequested:
			q.windows[i] = WindowRecordsRequested
		case !fetchRecords && q.windows[i] == WindowEmpty:
			q.windows[i] = WindowRequested
		}
	}
	q.store.FetchQuery(q)
}

// SourceWillFetchQuery implements store.SourceQuery: it collects the
// requested windows into as few contiguous ranges as possible, drops
// unobserved windows when OptimiseFetching is set, and transitions the
// included windows to their loading state.
func (q *Windowed) SourceWillFetchQuery() *store.QueryFetchRequest {
	req := &store.QueryFetchRequest{
		Refresh: q.deltaUpdates && q.state != "",
		Reset:   q.state == "",
	}

	var idWindows, recordWindows []int
	for i, st := range q.windows {
		switch st {
		case WindowRequested:
			if q.optimisedOut(i) {
				q.windows[i] = WindowEmpty
				continue
			}
			q.windows[i] = WindowLoading
			idWindows = append(idWindows, i)
		case WindowRecordsRequested:
			if q.optimisedOut(i) {
				q.windows[i] = WindowEmpty
				continue
			}
			q.windows[i] = WindowRecordsLoading
			recordWindows = append(recordWindows, i)
		}
	}
	req.IDRanges = q.coalesce(idWindows)
	req.RecordRanges = q.coalesce(recordWindows)
	return req
}

// optimisedOut reports whether window w can be dropped from a fetch
// because no live observer overlaps it.
func (q *Windowed) optimisedOut(w int) bool {
	if !q.OptimiseFetching {
		return false
	}
	lo := w * q.windowSize
	hi := lo + q.windowSize
	for _, r := range q.observers {
		if r.Start < hi && r.Start+r.Count > lo {
			return false
		}
	}
	return true
}

// coalesce merges sorted window indexes into contiguous item ranges.
func (q *Windowed) coalesce(windows []int) []store.Range {
	var out []store.Range
	for i := 0; i < len(windows); {
		j := i
		for j+1 < len(windows) && windows[j+1] == windows[j]+1 {
			j++
		}
		out = append(out, store.Range{
			Start: windows[i] * q.windowSize,
			Count: (j - i + 1) * q.windowSize,
		})
		i = j + 1
	}
	return out
}

// ClientDidGenerateUpdate applies an optimistic local edit to the list
// immediately and queues it for reconciliation against the server's next
// delta.
func (q *Windowed) ClientDidGenerateUpdate(u *Update) {
	u = u.Clone()
	q.ids = u.Apply(q.ids)
	u.Length = len(q.ids)
	q.resizeWindows()
	q.preemptives = append(q.preemptives, u)
	q.fireUpdated(u)
}

// SourceDidFetchUpdate reconciles a server delta with the outstanding
// preemptive updates.
//
// The server computed its delta without knowledge of the client's
// optimistic edits, so the two describe overlapping changes in different
// coordinate spaces. All preemptives are composed into one update in the
// base-list space; the server delta is translated into that same space;
// edits that appear identically in both cancel out. If everything
// cancels, the client guessed exactly right and the preemptives are
// simply dropped. Otherwise the composed preemptive is inverted and
// recomposed with the server delta to produce the correction applied to
// the live list, and all preemptives are discarded as stale.
func (q *Windowed) SourceDidFetchUpdate(delta *ServerDelta) {
	if delta.Truncated && delta.UpTo != "" && q.IndexOfID(delta.UpTo) < 0 {
		// The delta covers a prefix whose boundary we cannot locate; a
		// spliced merge could corrupt the tail. Documented lossy fallback.
		slog.Warn("delta boundary id unknown, resetting", "query", q.key, "upto", delta.UpTo)
		q.Reset()
		return
	}

	allPre := ComposeAll(q.preemptives)
	server := &Update{Length: len(q.ids)}

	for _, id := range delta.RemovedIDs {
		if idx, ok := removedIndexOf(allPre, id); ok {
			// The client already removed this id; its base position is
			// recorded in the composed preemptive.
			server.RemovedIndexes = append(server.RemovedIndexes, idx)
			server.RemovedIDs = append(server.RemovedIDs, id)
			continue
		}
		idx := q.IndexOfID(id)
		if idx < 0 {
			slog.Warn("delta removal of unknown id, resetting", "query", q.key, "id", id)
			q.Reset()
			return
		}
		server.RemovedIndexes = append(server.RemovedIndexes, q.toBaseIndex(allPre, idx))
		server.RemovedIDs = append(server.RemovedIDs, id)
	}
	server.RemovedIndexes, server.RemovedIDs = fromPairs(toPairs(server.RemovedIndexes, server.RemovedIDs))

	for _, a := range delta.Added {
		server.AddedIndexes = append(server.AddedIndexes, a.Index)
		server.AddedIDs = append(server.AddedIDs, a.ID)
	}
	server.AddedIndexes, server.AddedIDs = fromPairs(toPairs(server.AddedIndexes, server.AddedIDs))

	if updatesEqual(allPre, server) {
		// Exact guess: the list is already right, only the bookkeeping
		// needs clearing.
		q.preemptives = nil
		q.state = delta.State
		return
	}

	correction := Compose(allPre.Invert(), server)
	q.ids = correction.Apply(q.ids)
	correction.Length = len(q.ids)
	q.resizeWindows()
	q.preemptives = nil
	q.state = delta.State
	if !correction.IsEmpty() {
		q.fireUpdated(correction)
	}
}

// toBaseIndex translates an index in the current (post-preemptive) list
// back into the base list the server knows about.
func (q *Windowed) toBaseIndex(pre *Update, idx int) int {
	for _, a := range pre.AddedIndexes {
		if a < idx {
			idx--
		}
	}
	for _, r := range pre.RemovedIndexes {
		if r <= idx {
			idx++
		}
	}
	return idx
}

func removedIndexOf(u *Update, id string) (int, bool) {
	for i, v := range u.RemovedIDs {
		if v == id {
			return u.RemovedIndexes[i], true
		}
	}
	return 0, false
}

func updatesEqual(a, b *Update) bool {
	if len(a.RemovedIndexes) != len(b.RemovedIndexes) || len(a.AddedIndexes) != len(b.AddedIndexes) {
		return false
	}
	for i := range a.RemovedIndexes {
		if a.RemovedIndexes[i] != b.RemovedIndexes[i] || a.RemovedIDs[i] != b.RemovedIDs[i] {
			return false
		}
	}
	for i := range a.AddedIndexes {
		if a.AddedIndexes[i] != b.AddedIndexes[i] || a.AddedIDs[i] != b.AddedIDs[i] {
			return false
		}
	}
	return true
}

// SourceDidFetchIDList installs a fetched id range. total is the list
// length as the server sees it, or -1 if unknown. The fetched range is in
// the server's coordinate space: its start is shifted by the preemptive
// inserts and deletes at or before it before splicing into the live list.
func (q *Windowed) SourceDidFetchIDList(r store.Range, ids []string, total int, state string) {
	allPre := ComposeAll(q.preemptives)

	if total >= 0 {
		q.SetLength(total + len(allPre.AddedIndexes) - len(allPre.RemovedIndexes))
	}

	start := r.Start
	for _, rem := range allPre.RemovedIndexes {
		if rem <= r.Start {
			start--
		}
	}
	for _, add := range allPre.AddedIndexes {
		if add <= start {
			start++
		}
	}
	if start < 0 {
		start = 0
	}

	end := start + len(ids)
	if end > len(q.ids) {
		q.SetLength(end)
	}
	copy(q.ids[start:end], ids)

	for w := start / q.windowSize; w <= (end-1)/q.windowSize && w < len(q.windows); w++ {
		if q.windows[w] == WindowLoading || q.windows[w] == WindowRequested || q.windows[w] == WindowEmpty {
			q.windows[w] = WindowReady
		}
	}
	q.state = state
	got := store.Range{Start: start, Count: len(ids)}
	slog.Debug("id range loaded", "query", q.key, "start", got.Start, "count", got.Count)
	for _, fn := range q.onIDsLoaded {
		fn(got)
	}
}

// SourceDidFetchRecordsForRange marks the windows covering r as having
// full record data. The records themselves land in the store through
// SourceDidFetchRecords.
func (q *Windowed) SourceDidFetchRecordsForRange(r store.Range) {
	if r.Count <= 0 {
		return
	}
	for w := r.Start / q.windowSize; w <= (r.Start+r.Count-1)/q.windowSize && w < len(q.windows); w++ {
		q.windows[w] = WindowRecordsReady
	}
}

// Reset abandons the list, windows, preemptives and state token. The
// owner refetches the windows it still cares about.
func (q *Windowed) Reset() {
	q.ids = nil
	q.windows = nil
	q.preemptives = nil
	q.state = ""
	for _, fn := range q.onReset {
		fn()
	}
}

// Close unregisters the query from its store.
func (q *Windowed) Close() {
	q.store.RemoveQuery(q)
}

func (q *Windowed) fireUpdated(u *Update) {
	for _, fn := range q.onUpdated {
		fn(u)
	}
}
