package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/undertow/internal/jval"
	"github.com/roach88/undertow/internal/queryspec"
	"github.com/roach88/undertow/internal/schema"
	"github.com/roach88/undertow/internal/status"
	"github.com/roach88/undertow/internal/store"
)

// fakeSource records fetch requests; tests deliver results by hand. With
// deferBuild set, SourceWillFetchQuery runs only when the test calls
// buildPending, mimicking a source that assembles its request a tick
// after the fetch was asked for.
type fakeSource struct {
	queryFetches []*store.QueryFetchRequest
	deferBuild   bool
	pending      []store.SourceQuery
}

func (f *fakeSource) FetchRecord(typ *schema.Type, id string, done func()) bool      { return true }
func (f *fakeSource) FetchAllRecords(typ *schema.Type, st string, done func()) bool { return true }
func (f *fakeSource) RefreshRecord(typ *schema.Type, id string, done func()) bool   { return true }

func (f *fakeSource) FetchQuery(q store.SourceQuery, done func()) bool {
	if f.deferBuild {
		f.pending = append(f.pending, q)
		return true
	}
	f.queryFetches = append(f.queryFetches, q.SourceWillFetchQuery())
	return true
}

func (f *fakeSource) buildPending() {
	for _, q := range f.pending {
		f.queryFetches = append(f.queryFetches, q.SourceWillFetchQuery())
	}
	f.pending = nil
}

func (f *fakeSource) CommitChanges(batches []*store.TypeChanges, onAllDone func()) bool {
	return true
}

func newQueryStore(t *testing.T) (*store.Store, *fakeSource) {
	t.Helper()
	task := schema.NewType("task", "id",
		&schema.Attr{Name: "title", Kind: schema.KindString},
	)
	src := &fakeSource{}
	return store.New(src, schema.NewRegistry(task), nil, &store.SerialKeys{}), src
}

func taskSpec() queryspec.Spec {
	return queryspec.Spec{
		Type: "task",
		Sort: []queryspec.Order{{Field: "title"}},
	}
}

func TestRemoteFetchDiffsAgainstOldList(t *testing.T) {
	st, src := newQueryStore(t)
	q := NewRemote(st, taskSpec(), false)

	var updates []*Update
	q.OnUpdated(func(u *Update) { updates = append(updates, u.Clone()) })

	q.Refresh(false)
	assert.True(t, q.Status().Has(status.Loading))
	require.Len(t, src.queryFetches, 1)
	assert.True(t, src.queryFetches[0].Reset)

	q.SourceDidFetchQuery([]string{"a", "b", "c"}, "s1")
	assert.Equal(t, status.Ready, q.Status())
	assert.Equal(t, "s1", q.State())
	require.Len(t, updates, 1)
	assert.Equal(t, []int{0, 1, 2}, updates[0].AddedIndexes)

	// Next snapshot removes b, appends d: the event carries the minimal diff.
	q.SourceDidFetchQuery([]string{"a", "c", "d"}, "s2")
	require.Len(t, updates, 2)
	assert.Equal(t, []int{1}, updates[1].RemovedIndexes)
	assert.Equal(t, []string{"b"}, updates[1].RemovedIDs)
	assert.Equal(t, []int{2}, updates[1].AddedIndexes)
	assert.Equal(t, []string{"d"}, updates[1].AddedIDs)

	// Identical snapshot fires nothing.
	q.SourceDidFetchQuery([]string{"a", "c", "d"}, "s3")
	assert.Len(t, updates, 2)
}

func TestRemoteDeltaRefresh(t *testing.T) {
	st, src := newQueryStore(t)
	q := NewRemote(st, taskSpec(), true)

	q.Refresh(false)
	q.SourceDidFetchQuery([]string{"a", "b", "c"}, "s1")

	q.Refresh(false)
	require.Len(t, src.queryFetches, 2)
	assert.True(t, src.queryFetches[1].Refresh)
	assert.False(t, src.queryFetches[1].Reset)

	q.SourceDidFetchDelta([]string{"b"}, []AddedID{{Index: 0, ID: "z"}}, "s2")
	assert.Equal(t, []string{"z", "a", "c"}, q.IDs())
	assert.Equal(t, "s2", q.State())
}

func TestRemoteDeltaUnknownIDResets(t *testing.T) {
	st, src := newQueryStore(t)
	q := NewRemote(st, taskSpec(), true)
	q.Refresh(false)
	q.SourceDidFetchQuery([]string{"a", "b"}, "s1")

	resets := 0
	q.OnReset(func() { resets++ })

	q.SourceDidFetchDelta([]string{"ghost"}, nil, "s2")
	assert.Equal(t, 1, resets)
	assert.Empty(t, q.IDs())
	assert.Empty(t, q.State())
	// The reset refetches from scratch.
	require.Len(t, src.queryFetches, 2)
	assert.True(t, src.queryFetches[1].Reset)
}

func TestRemoteForceRefreshDropsToken(t *testing.T) {
	st, src := newQueryStore(t)
	q := NewRemote(st, taskSpec(), true)
	q.Refresh(false)
	q.SourceDidFetchQuery([]string{"a"}, "s1")

	q.Refresh(true)
	require.Len(t, src.queryFetches, 2)
	assert.True(t, src.queryFetches[1].Reset)
}

func TestRemoteRefreshWhileLoadingIsNoOp(t *testing.T) {
	st, src := newQueryStore(t)
	q := NewRemote(st, taskSpec(), false)

	q.Refresh(false)
	q.Refresh(false)
	assert.Len(t, src.queryFetches, 1)
}

func TestRemoteMarksObsoleteOnLocalChange(t *testing.T) {
	st, _ := newQueryStore(t)
	typ, ok := st.Schemas().Get("task")
	require.True(t, ok)

	q := NewRemote(st, taskSpec(), false)
	q.Refresh(false)
	q.SourceDidFetchQuery([]string{"t1"}, "s1")

	st.SourceDidFetchRecords(typ, []jval.Object{
		{"id": jval.String("t2"), "title": jval.String("new")},
	}, "", false)
	assert.True(t, q.Status().Has(status.Obsolete))
}

func TestRemoteObjectAccess(t *testing.T) {
	st, _ := newQueryStore(t)
	typ, ok := st.Schemas().Get("task")
	require.True(t, ok)
	st.SourceDidFetchRecords(typ, []jval.Object{
		{"id": jval.String("t1"), "title": jval.String("one")},
	}, "", false)

	q := NewRemote(st, taskSpec(), false)
	q.SourceDidFetchQuery([]string{"t1"}, "s1")

	assert.Equal(t, 0, q.IndexOfID("t1"))
	assert.Equal(t, -1, q.IndexOfID("nope"))
	rec := q.GetObjectAt(0)
	require.NotNil(t, rec)
	assert.Equal(t, jval.String("one"), rec.Get("title"))
	assert.Nil(t, q.GetObjectAt(5))
}
