package sqlitesource

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/undertow/internal/jval"
	"github.com/roach88/undertow/internal/query"
	"github.com/roach88/undertow/internal/queryspec"
	"github.com/roach88/undertow/internal/schema"
	"github.com/roach88/undertow/internal/status"
	"github.com/roach88/undertow/internal/store"
)

func testSchemas() *schema.Registry {
	task := schema.NewType("task", "id",
		&schema.Attr{Name: "title", Kind: schema.KindString},
		&schema.Attr{Name: "rank", Kind: schema.KindInt},
		&schema.Attr{Name: "done", Kind: schema.KindBool, Default: jval.Bool(false)},
	)
	return schema.NewRegistry(task)
}

func openTest(t *testing.T) (*Source, *store.Store) {
	t.Helper()
	schemas := testSchemas()
	src, err := Open(filepath.Join(t.TempDir(), "test.db"), schemas)
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })

	st := store.New(src, schemas, nil, &store.SerialKeys{})
	src.Attach(st)
	return src, st
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	src, err := Open(path, testSchemas())
	require.NoError(t, err)
	require.NoError(t, src.Close())

	src, err = Open(path, testSchemas())
	require.NoError(t, err)
	defer src.Close()

	var version int
	require.NoError(t, src.DB().QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestCommitCreateRoundTrip(t *testing.T) {
	src, st := openTest(t)
	typ, _ := testSchemas().Get("task")

	rec, ok := st.NewRecord("task", jval.Object{
		"title": jval.String("write the tests"),
		"rank":  jval.Int(1),
	})
	require.True(t, ok)
	k := rec.StoreKey()

	st.CommitChanges(nil)
	st.Scheduler().Flush()

	// The source acknowledged synchronously: the record is clean and has
	// a server id.
	assert.Equal(t, status.Ready, st.GetStatus(k))
	id := st.GetIDFromStoreKey(k)
	require.NotEmpty(t, id)
	assert.Equal(t, jval.String(id), st.GetData(k)["id"])

	row, err := src.readRecord(typ, id)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, jval.String("write the tests"), row["title"])
}

func TestCommitUpdateAndDestroy(t *testing.T) {
	src, st := openTest(t)
	typ, _ := testSchemas().Get("task")

	rec, ok := st.NewRecord("task", jval.Object{"title": jval.String("v0"), "rank": jval.Int(1)})
	require.True(t, ok)
	k := rec.StoreKey()
	st.CommitChanges(nil)
	st.Scheduler().Flush()
	id := st.GetIDFromStoreKey(k)
	require.NotEmpty(t, id)

	st.UpdateData(k, jval.Object{"title": jval.String("v1")}, true)
	st.CommitChanges(nil)
	st.Scheduler().Flush()
	assert.Equal(t, status.Ready, st.GetStatus(k))

	row, err := src.readRecord(typ, id)
	require.NoError(t, err)
	assert.Equal(t, jval.String("v1"), row["title"])

	st.DestroyRecord(k)
	st.CommitChanges(nil)
	st.Scheduler().Flush()
	assert.Equal(t, status.Empty, st.GetStatus(k))

	row, err = src.readRecord(typ, id)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestFetchRecordAndMiss(t *testing.T) {
	src, st := openTest(t)
	typ, _ := testSchemas().Get("task")

	rec, ok := st.NewRecord("task", jval.Object{"title": jval.String("a")})
	require.True(t, ok)
	st.CommitChanges(nil)
	st.Scheduler().Flush()
	id := st.GetIDFromStoreKey(rec.StoreKey())
	require.NotEmpty(t, id)

	// A fresh store over the same database loads the record by id.
	st2 := store.New(src, testSchemas(), nil, &store.SerialKeys{})
	src.Attach(st2)
	k2 := st2.GetStoreKey(typ, id)
	st2.FetchData(k2)
	require.Equal(t, status.Ready, st2.GetStatus(k2))
	assert.Equal(t, jval.String("a"), st2.GetData(k2)["title"])

	ghost := st2.GetStoreKey(typ, "no-such-id")
	st2.FetchData(ghost)
	assert.Equal(t, status.NonExistent, st2.GetStatus(ghost))
}

func TestFetchAllRecords(t *testing.T) {
	_, st := openTest(t)

	for _, title := range []string{"a", "b", "c"} {
		_, ok := st.NewRecord("task", jval.Object{"title": jval.String(title)})
		require.True(t, ok)
	}
	st.CommitChanges(nil)
	st.Scheduler().Flush()

	recs := st.GetAll("task")
	assert.Len(t, recs, 3)
	ts := st.GetTypeState("task")
	assert.True(t, ts.Status.Has(status.Ready))
	assert.NotEmpty(t, ts.Token)
}

func TestQuerySnapshotFilterAndSort(t *testing.T) {
	_, st := openTest(t)

	titles := map[string]int{"gamma": 3, "alpha": 1, "beta": 2, "skip": 9}
	for title, rank := range titles {
		_, ok := st.NewRecord("task", jval.Object{
			"title": jval.String(title),
			"rank":  jval.Int(int64(rank)),
		})
		require.True(t, ok)
	}
	st.CommitChanges(nil)
	st.Scheduler().Flush()

	q := query.NewRemote(st, queryspec.Spec{
		Type:   "task",
		Filter: []queryspec.Clause{{Field: "rank", Op: queryspec.OpLt, Value: jval.Int(5)}},
		Sort:   []queryspec.Order{{Field: "rank"}},
	}, false)
	q.Refresh(false)

	require.Equal(t, 3, q.Length())
	first := q.GetObjectAt(0)
	require.NotNil(t, first)
	assert.Equal(t, jval.String("alpha"), first.Get("title"))
	last := q.GetObjectAt(2)
	require.NotNil(t, last)
	assert.Equal(t, jval.String("gamma"), last.Get("title"))
}

func TestQueryNullField(t *testing.T) {
	src, st := openTest(t)

	rec, ok := st.NewRecord("task", jval.Object{"title": jval.String("unranked")})
	require.True(t, ok)
	for _, title := range []string{"x", "y"} {
		_, ok := st.NewRecord("task", jval.Object{
			"title": jval.String(title),
			"rank":  jval.Int(1),
		})
		require.True(t, ok)
	}
	st.CommitChanges(nil)
	st.Scheduler().Flush()
	unrankedID := st.GetIDFromStoreKey(rec.StoreKey())
	require.NotEmpty(t, unrankedID)

	ids, _, err := src.QueryRecords(queryspec.Spec{
		Type:   "task",
		Filter: []queryspec.Clause{{Field: "rank", Op: queryspec.OpEq, Value: jval.Null{}}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{unrankedID}, ids)

	ids, _, err = src.QueryRecords(queryspec.Spec{
		Type:   "task",
		Filter: []queryspec.Clause{{Field: "rank", Op: queryspec.OpNe, Value: jval.Null{}}},
	}, nil)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.NotContains(t, ids, unrankedID)
}

func TestWindowedRangeFetch(t *testing.T) {
	_, st := openTest(t)

	for i := 0; i < 12; i++ {
		_, ok := st.NewRecord("task", jval.Object{
			"title": jval.String(string(rune('a' + i))),
			"rank":  jval.Int(int64(i)),
		})
		require.True(t, ok)
	}
	st.CommitChanges(nil)
	st.Scheduler().Flush()

	q := query.NewWindowed(st, queryspec.Spec{
		Type: "task",
		Sort: []queryspec.Order{{Field: "rank"}},
	}, 5, false)

	q.FetchWindow(0, true, 0)
	assert.Equal(t, 12, q.Length())
	assert.Equal(t, query.WindowRecordsReady, q.WindowStatusAt(0))
	assert.Equal(t, query.WindowEmpty, q.WindowStatusAt(2))

	rec := q.GetObjectAt(0)
	require.NotNil(t, rec)
	assert.Equal(t, jval.String("a"), rec.Get("title"))
	assert.Equal(t, jval.Int(0), rec.Get("rank"))
}
