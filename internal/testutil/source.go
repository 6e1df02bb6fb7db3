package testutil

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/roach88/undertow/internal/jval"
	"github.com/roach88/undertow/internal/queryspec"
	"github.com/roach88/undertow/internal/schema"
	"github.com/roach88/undertow/internal/store"
)

// CommitMode selects how MemorySource answers the next commit.
type CommitMode int

const (
	// CommitAccept applies the batch and acknowledges success.
	CommitAccept CommitMode = iota
	// CommitDecline refuses to handle the commit at all.
	CommitDecline
	// CommitRejectTransient acknowledges every leg as a transient failure.
	CommitRejectTransient
	// CommitRejectPermanent acknowledges every leg as a permanent failure.
	CommitRejectPermanent
)

// MemorySource is an in-memory, fully deterministic store.Source for tests
// and scenario traces.
//
// Records live in per-type tables kept in insertion order. Server ids and
// state tokens come from a Seq, so identical call sequences yield identical
// ids, tokens and traces. All callbacks fire synchronously unless Deferred
// is set, in which case they queue until Deliver or DeliverAll.
type MemorySource struct {
	schemas *schema.Registry
	store   *store.Store
	seq     *Seq

	tables map[string]map[string]jval.Object
	order  map[string][]string // insertion order per type

	// Mode answers the next CommitChanges call. It resets to CommitAccept
	// after each commit.
	Mode CommitMode

	// Offline makes every fetch and commit return handled=false.
	Offline bool

	// Deferred queues callback delivery instead of running it inline.
	Deferred bool
	pending  []func()

	// Log records one line per source call, in order.
	Log []string
}

// NewMemorySource creates an empty source over the given registry.
func NewMemorySource(schemas *schema.Registry) *MemorySource {
	return &MemorySource{
		schemas: schemas,
		seq:     NewSeq(),
		tables:  make(map[string]map[string]jval.Object),
		order:   make(map[string][]string),
	}
}

// Attach points the source at the store it acknowledges to.
func (m *MemorySource) Attach(st *store.Store) { m.store = st }

// Seed inserts a record server-side without going through a commit.
// The record must carry its primary key.
func (m *MemorySource) Seed(typeName string, records ...jval.Object) {
	typ, ok := m.schemas.Get(typeName)
	if !ok {
		panic(fmt.Sprintf("testutil: seed for unknown type %q", typeName))
	}
	for _, rec := range records {
		id := typ.ID(rec)
		if id == "" {
			panic(fmt.Sprintf("testutil: seed record without %s", typ.PrimaryKey))
		}
		m.put(typeName, id, rec.Clone())
	}
	m.seq.Next()
}

// StateToken returns the current state token, as handed out with fetches.
func (m *MemorySource) StateToken() string {
	return strconv.FormatInt(m.seq.Current(), 10)
}

// Deliver runs the oldest pending callback. It reports whether one ran.
func (m *MemorySource) Deliver() bool {
	if len(m.pending) == 0 {
		return false
	}
	cb := m.pending[0]
	m.pending = m.pending[1:]
	cb()
	return true
}

// DeliverAll drains the pending callback queue.
func (m *MemorySource) DeliverAll() {
	for m.Deliver() {
	}
}

// Pending returns the number of queued callbacks.
func (m *MemorySource) Pending() int { return len(m.pending) }

func (m *MemorySource) run(cb func()) {
	if m.Deferred {
		m.pending = append(m.pending, cb)
		return
	}
	cb()
}

func (m *MemorySource) logf(format string, args ...any) {
	m.Log = append(m.Log, fmt.Sprintf(format, args...))
}

func (m *MemorySource) put(typeName, id string, rec jval.Object) {
	table := m.tables[typeName]
	if table == nil {
		table = make(map[string]jval.Object)
		m.tables[typeName] = table
	}
	if _, exists := table[id]; !exists {
		m.order[typeName] = append(m.order[typeName], id)
	}
	table[id] = rec
}

func (m *MemorySource) delete(typeName, id string) {
	table := m.tables[typeName]
	if table == nil {
		return
	}
	delete(table, id)
	ids := m.order[typeName]
	for i, existing := range ids {
		if existing == id {
			m.order[typeName] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}

// FetchRecord implements store.Source.
func (m *MemorySource) FetchRecord(typ *schema.Type, id string, done func()) bool {
	if m.Offline {
		return false
	}
	m.logf("fetchRecord %s/%s", typ.Name, id)
	m.run(func() {
		defer runDone(done)
		rec, ok := m.tables[typ.Name][id]
		if !ok {
			m.store.SourceCouldNotFindRecords(typ, []string{id})
			return
		}
		m.store.SourceDidFetchRecords(typ, []jval.Object{rec.Clone()}, "", false)
	})
	return true
}

// RefreshRecord implements store.Source.
func (m *MemorySource) RefreshRecord(typ *schema.Type, id string, done func()) bool {
	if m.Offline {
		return false
	}
	m.logf("refreshRecord %s/%s", typ.Name, id)
	m.run(func() {
		defer runDone(done)
		rec, ok := m.tables[typ.Name][id]
		if !ok {
			m.store.SourceCouldNotFindRecords(typ, []string{id})
			return
		}
		m.store.SourceDidFetchRecords(typ, []jval.Object{rec.Clone()}, "", false)
	})
	return true
}

// FetchAllRecords implements store.Source.
func (m *MemorySource) FetchAllRecords(typ *schema.Type, knownState string, done func()) bool {
	if m.Offline {
		return false
	}
	m.logf("fetchAllRecords %s state=%q", typ.Name, knownState)
	m.run(func() {
		defer runDone(done)
		ids := append([]string(nil), m.order[typ.Name]...)
		sort.Strings(ids)
		records := make([]jval.Object, 0, len(ids))
		for _, id := range ids {
			records = append(records, m.tables[typ.Name][id].Clone())
		}
		m.store.SourceDidFetchRecords(typ, records, m.StateToken(), true)
	})
	return true
}

// snapshotReceiver and idListReceiver mirror the optional query-side
// callbacks; see query.Remote and query.Windowed.
type snapshotReceiver interface {
	SourceDidFetchQuery(ids []string, state string)
}

type idListReceiver interface {
	SourceDidFetchIDList(r store.Range, ids []string, total int, state string)
	SourceDidFetchRecordsForRange(r store.Range)
}

// FetchQuery implements store.Source by evaluating the spec over the
// in-memory tables.
func (m *MemorySource) FetchQuery(q store.SourceQuery, done func()) bool {
	if m.Offline {
		return false
	}
	m.logf("fetchQuery %s", q.QueryKey())
	m.run(func() {
		defer runDone(done)
		req := q.SourceWillFetchQuery()
		spec := q.Spec()
		typ, ok := m.schemas.Get(spec.Type)
		if !ok {
			return
		}
		ids := m.evalQuery(spec)
		token := m.StateToken()

		if len(req.IDRanges) == 0 && len(req.RecordRanges) == 0 {
			if recv, ok := q.(snapshotReceiver); ok {
				recv.SourceDidFetchQuery(ids, token)
			}
			return
		}
		recv, ok := q.(idListReceiver)
		if !ok {
			return
		}
		for _, r := range req.IDRanges {
			slice := sliceRange(ids, r)
			recv.SourceDidFetchIDList(store.Range{Start: r.Start, Count: len(slice)}, slice, len(ids), token)
		}
		for _, r := range req.RecordRanges {
			slice := sliceRange(ids, r)
			records := make([]jval.Object, 0, len(slice))
			for _, id := range slice {
				records = append(records, m.tables[spec.Type][id].Clone())
			}
			m.store.SourceDidFetchRecords(typ, records, "", false)
			got := store.Range{Start: r.Start, Count: len(slice)}
			recv.SourceDidFetchIDList(got, slice, len(ids), token)
			recv.SourceDidFetchRecordsForRange(got)
		}
	})
	return true
}

func sliceRange(ids []string, r store.Range) []string {
	if r.Start >= len(ids) {
		return nil
	}
	end := r.Start + r.Count
	if end > len(ids) {
		end = len(ids)
	}
	return ids[r.Start:end]
}

// CommitChanges implements store.Source. Server ids are allocated as
// "id-<n>" from the sequence.
func (m *MemorySource) CommitChanges(batches []*store.TypeChanges, onAllDone func()) bool {
	if m.Offline {
		return false
	}
	mode := m.Mode
	m.Mode = CommitAccept
	if mode == CommitDecline {
		m.logf("commit declined")
		return false
	}
	m.logf("commit %d batch(es)", len(batches))
	m.run(func() {
		for _, batch := range batches {
			m.applyBatch(batch, mode)
		}
		if onAllDone != nil {
			onAllDone()
		}
	})
	return true
}

func (m *MemorySource) applyBatch(batch *store.TypeChanges, mode CommitMode) {
	typ := batch.Type
	permanent := mode == CommitRejectPermanent

	if len(batch.Create.StoreKeys) > 0 {
		if mode != CommitAccept {
			m.store.SourceDidNotCommitCreate(typ, batch.Create.StoreKeys, permanent)
		} else {
			keyToID := make(map[string]string, len(batch.Create.StoreKeys))
			for i, k := range batch.Create.StoreKeys {
				id := fmt.Sprintf("id-%d", m.seq.Next())
				rec := batch.Create.Records[i].Clone()
				rec[typ.PrimaryKey] = jval.String(id)
				m.put(typ.Name, id, rec)
				keyToID[k] = id
			}
			m.store.SourceDidCommitCreate(typ, keyToID)
		}
	}
	if len(batch.Update.StoreKeys) > 0 {
		if mode != CommitAccept {
			m.store.SourceDidNotCommitUpdate(typ, batch.Update.StoreKeys, permanent)
		} else {
			for _, rec := range batch.Update.Records {
				m.put(typ.Name, typ.ID(rec), rec.Clone())
			}
			m.seq.Next()
			m.store.SourceDidCommitUpdate(typ, batch.Update.StoreKeys)
		}
	}
	if len(batch.Destroy.StoreKeys) > 0 {
		if mode != CommitAccept {
			m.store.SourceDidNotCommitDestroy(typ, batch.Destroy.StoreKeys, permanent)
		} else {
			for _, id := range batch.Destroy.IDs {
				m.delete(typ.Name, id)
			}
			m.seq.Next()
			m.store.SourceDidCommitDestroy(typ, batch.Destroy.StoreKeys)
		}
	}
}

// evalQuery filters and sorts the type's table per the spec. The final
// order always breaks ties on id so traces stay stable.
func (m *MemorySource) evalQuery(spec queryspec.Spec) []string {
	var ids []string
	for _, id := range m.order[spec.Type] {
		if matchFilter(m.tables[spec.Type][id], spec.Filter) {
			ids = append(ids, id)
		}
	}
	table := m.tables[spec.Type]
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := table[ids[i]], table[ids[j]]
		for _, order := range spec.Sort {
			c := compareValues(a[order.Field], b[order.Field])
			if c == 0 {
				continue
			}
			if order.Descending {
				return c > 0
			}
			return c < 0
		}
		return ids[i] < ids[j]
	})
	return ids
}

func matchFilter(rec jval.Object, filter []queryspec.Clause) bool {
	for _, clause := range filter {
		c := compareValues(rec[clause.Field], clause.Value)
		ok := false
		switch clause.Op {
		case queryspec.OpEq:
			ok = jval.Equal(rec[clause.Field], clause.Value)
		case queryspec.OpNe:
			ok = !jval.Equal(rec[clause.Field], clause.Value)
		case queryspec.OpLt:
			ok = c < 0
		case queryspec.OpLte:
			ok = c <= 0
		case queryspec.OpGt:
			ok = c > 0
		case queryspec.OpGte:
			ok = c >= 0
		}
		if !ok {
			return false
		}
	}
	return true
}

// compareValues orders scalars the way the reference SQLite backend does:
// null < numbers < strings, booleans as 0/1.
func compareValues(a, b jval.Value) int {
	ra, rb := rankOf(a), rankOf(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case rankNumber:
		fa, fb := numberOf(a), numberOf(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case rankString:
		sa, sb := string(a.(jval.String)), string(b.(jval.String))
		switch {
		case sa < sb:
			return -1
		case sa > sb:
			return 1
		}
		return 0
	}
	return 0
}

const (
	rankNull = iota
	rankNumber
	rankString
)

func rankOf(v jval.Value) int {
	switch v.(type) {
	case nil, jval.Null:
		return rankNull
	case jval.Int, jval.Float, jval.Bool:
		return rankNumber
	case jval.String:
		return rankString
	}
	return rankString
}

func numberOf(v jval.Value) float64 {
	switch val := v.(type) {
	case jval.Int:
		return float64(val)
	case jval.Float:
		return float64(val)
	case jval.Bool:
		if val {
			return 1
		}
		return 0
	}
	return 0
}

func runDone(done func()) {
	if done != nil {
		done()
	}
}
