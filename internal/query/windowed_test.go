package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/undertow/internal/store"
)

func newWindowed(t *testing.T, windowSize int) (*Windowed, *fakeSource) {
	t.Helper()
	st, src := newQueryStore(t)
	return NewWindowed(st, taskSpec(), windowSize, true), src
}

func loadedWindowed(t *testing.T, ids []string) (*Windowed, *fakeSource) {
	t.Helper()
	q, src := newWindowed(t, 5)
	q.SourceDidFetchIDList(store.Range{Start: 0, Count: len(ids)}, ids, len(ids), "s1")
	return q, src
}

func TestWindowedIDListLoad(t *testing.T) {
	q, _ := newWindowed(t, 5)

	var loaded []store.Range
	q.OnIDsLoaded(func(r store.Range) { loaded = append(loaded, r) })

	q.SourceDidFetchIDList(store.Range{Start: 0, Count: 10}, idList(10), 10, "s1")
	assert.Equal(t, 10, q.Length())
	assert.Equal(t, WindowReady, q.WindowStatusAt(0))
	assert.Equal(t, WindowReady, q.WindowStatusAt(1))
	assert.Equal(t, "s1", q.State())
	require.Len(t, loaded, 1)
	assert.Equal(t, store.Range{Start: 0, Count: 10}, loaded[0])
	assert.Equal(t, 3, q.IndexOfID("id4"))
	assert.Equal(t, []string{"id2", "id3"}, q.GetIDsForObjectsInRange(store.Range{Start: 1, Count: 2}))
}

func TestWindowedPartialLoad(t *testing.T) {
	q, _ := newWindowed(t, 5)

	// The server reports 12 items but only window 1 was fetched.
	q.SourceDidFetchIDList(store.Range{Start: 5, Count: 5}, idList(10)[5:], 12, "s1")
	assert.Equal(t, 12, q.Length())
	assert.Equal(t, WindowEmpty, q.WindowStatusAt(0))
	assert.Equal(t, WindowReady, q.WindowStatusAt(1))
	assert.Equal(t, "", q.GetIDsForObjectsInRange(store.Range{Start: 0, Count: 1})[0])
	assert.Equal(t, "id6", q.GetIDsForObjectsInRange(store.Range{Start: 5, Count: 1})[0])
}

func TestFetchWindowCoalescesContiguousRanges(t *testing.T) {
	q, src := newWindowed(t, 5)
	q.SetLength(30)

	// Windows 1..3 via prefetch around 2 come out as one range.
	q.FetchWindow(2, false, 1)
	require.Len(t, src.queryFetches, 1)
	req := src.queryFetches[0]
	require.Len(t, req.IDRanges, 1)
	assert.Equal(t, store.Range{Start: 5, Count: 15}, req.IDRanges[0])
	assert.Empty(t, req.RecordRanges)
	assert.Equal(t, WindowLoading, q.WindowStatusAt(1))
	assert.Equal(t, WindowLoading, q.WindowStatusAt(3))
	assert.Equal(t, WindowEmpty, q.WindowStatusAt(0))

	// A disjoint record fetch produces a separate record range.
	q.FetchWindow(5, true, 0)
	require.Len(t, src.queryFetches, 2)
	req = src.queryFetches[1]
	assert.Empty(t, req.IDRanges)
	require.Len(t, req.RecordRanges, 1)
	assert.Equal(t, store.Range{Start: 25, Count: 5}, req.RecordRanges[0])
	assert.Equal(t, WindowRecordsLoading, q.WindowStatusAt(5))
}

func TestFetchWindowAlreadyLoadingNotRefetched(t *testing.T) {
	q, src := newWindowed(t, 5)
	q.SetLength(10)

	q.FetchWindow(0, false, 0)
	q.FetchWindow(0, false, 0)
	require.Len(t, src.queryFetches, 2)
	// The second request carries nothing: window 0 is already loading.
	assert.Empty(t, src.queryFetches[1].IDRanges)
}

// A requested window whose observer disappears before the source builds
// its request is dropped from the outgoing fetch.
func TestOptimiseFetchingDropsUnobservedWindow(t *testing.T) {
	q, src := newWindowed(t, 5)
	q.OptimiseFetching = true
	q.SetLength(20)
	src.deferBuild = true

	h1 := q.AddRangeObserver(store.Range{Start: 0, Count: 5})
	h2 := q.AddRangeObserver(store.Range{Start: 10, Count: 5})

	q.FetchWindow(0, false, 0)
	q.FetchWindow(2, false, 0)

	// The viewport over window 2 goes away before the fetch is built.
	q.RemoveRangeObserver(h2)
	src.buildPending()

	var ranges []store.Range
	for _, req := range src.queryFetches {
		ranges = append(ranges, req.IDRanges...)
	}
	require.Len(t, ranges, 1)
	assert.Equal(t, store.Range{Start: 0, Count: 5}, ranges[0])
	assert.Equal(t, WindowLoading, q.WindowStatusAt(0))
	assert.Equal(t, WindowEmpty, q.WindowStatusAt(2))
	_ = h1
}

func TestClientUpdateAppliesImmediately(t *testing.T) {
	q, _ := loadedWindowed(t, idList(10))

	var updates []*Update
	q.OnUpdated(func(u *Update) { updates = append(updates, u) })

	q.ClientDidGenerateUpdate(&Update{
		RemovedIndexes: []int{4},
		RemovedIDs:     []string{"id5"},
	})
	assert.Equal(t, 9, q.Length())
	assert.Equal(t, -1, q.IndexOfID("id5"))
	require.Len(t, updates, 1)
}

// The client preemptively removes id5; the server's delta confirms that
// removal and additionally inserts id9v2 at index 2. id5 must come out
// exactly once and the insert land at its final position.
func TestReconcileServerDeltaAgainstPreemptive(t *testing.T) {
	q, _ := loadedWindowed(t, idList(10))

	q.ClientDidGenerateUpdate(&Update{
		RemovedIndexes: []int{4},
		RemovedIDs:     []string{"id5"},
	})

	var updates []*Update
	q.OnUpdated(func(u *Update) { updates = append(updates, u) })

	q.SourceDidFetchUpdate(&ServerDelta{
		RemovedIDs: []string{"id5"},
		Added:      []AddedID{{Index: 2, ID: "id9v2"}},
		State:      "s2",
	})

	want := []string{"id1", "id2", "id9v2", "id3", "id4", "id6", "id7", "id8", "id9", "id10"}
	assert.Equal(t, want, q.GetIDsForObjectsInRange(store.Range{Start: 0, Count: 10}))
	assert.Equal(t, "s2", q.State())

	// The correction event carries only the insert: the removal already
	// happened preemptively.
	require.Len(t, updates, 1)
	assert.Empty(t, updates[0].RemovedIndexes)
	assert.Equal(t, []int{2}, updates[0].AddedIndexes)
	assert.Equal(t, []string{"id9v2"}, updates[0].AddedIDs)
}

func TestReconcileExactGuessIsSilent(t *testing.T) {
	q, _ := loadedWindowed(t, idList(10))

	q.ClientDidGenerateUpdate(&Update{
		RemovedIndexes: []int{4},
		RemovedIDs:     []string{"id5"},
	})
	before := q.GetIDsForObjectsInRange(store.Range{Start: 0, Count: q.Length()})

	var updates []*Update
	q.OnUpdated(func(u *Update) { updates = append(updates, u) })

	q.SourceDidFetchUpdate(&ServerDelta{
		RemovedIDs: []string{"id5"},
		State:      "s2",
	})

	assert.Equal(t, before, q.GetIDsForObjectsInRange(store.Range{Start: 0, Count: q.Length()}))
	assert.Empty(t, updates)
	assert.Equal(t, "s2", q.State())
}

func TestReconcileServerOnlyDelta(t *testing.T) {
	q, _ := loadedWindowed(t, idList(10))

	// No preemptives at all: the delta applies directly.
	q.SourceDidFetchUpdate(&ServerDelta{
		RemovedIDs: []string{"id3"},
		Added:      []AddedID{{Index: 0, ID: "top"}},
		State:      "s2",
	})
	got := q.GetIDsForObjectsInRange(store.Range{Start: 0, Count: q.Length()})
	assert.Equal(t, "top", got[0])
	assert.Equal(t, -1, q.IndexOfID("id3"))
	assert.Equal(t, 10, q.Length())
}

func TestReconcileUnconfirmedGuessIsUndone(t *testing.T) {
	q, _ := loadedWindowed(t, idList(10))

	// Client guessed a removal the server never confirms.
	q.ClientDidGenerateUpdate(&Update{
		RemovedIndexes: []int{4},
		RemovedIDs:     []string{"id5"},
	})

	// Server delta touches something else entirely.
	q.SourceDidFetchUpdate(&ServerDelta{
		RemovedIDs: []string{"id1"},
		State:      "s2",
	})

	// id5 is restored, id1 gone.
	got := q.GetIDsForObjectsInRange(store.Range{Start: 0, Count: q.Length()})
	assert.Equal(t, []string{"id2", "id3", "id4", "id5", "id6", "id7", "id8", "id9", "id10"}, got)
}

func TestTruncatedDeltaWithUnknownBoundaryResets(t *testing.T) {
	q, _ := loadedWindowed(t, idList(10))

	resets := 0
	q.OnReset(func() { resets++ })

	q.SourceDidFetchUpdate(&ServerDelta{
		RemovedIDs: []string{"id2"},
		State:      "s2",
		Truncated:  true,
		UpTo:       "unknown-boundary",
	})
	assert.Equal(t, 1, resets)
	assert.Equal(t, 0, q.Length())
	assert.Empty(t, q.State())
}

func TestTruncatedDeltaWithKnownBoundaryApplies(t *testing.T) {
	q, _ := loadedWindowed(t, idList(10))

	q.SourceDidFetchUpdate(&ServerDelta{
		RemovedIDs: []string{"id2"},
		State:      "s2",
		Truncated:  true,
		UpTo:       "id6",
	})
	assert.Equal(t, -1, q.IndexOfID("id2"))
	assert.Equal(t, 9, q.Length())
}

func TestDeltaRemovalOfUnknownIDResets(t *testing.T) {
	q, _ := loadedWindowed(t, idList(10))

	resets := 0
	q.OnReset(func() { resets++ })

	q.SourceDidFetchUpdate(&ServerDelta{
		RemovedIDs: []string{"never-seen"},
		State:      "s2",
	})
	assert.Equal(t, 1, resets)
}

// An id-range fetch that raced with a preemptive insert splices in at the
// shifted position.
func TestIDListFetchShiftedByPreemptive(t *testing.T) {
	q, _ := newWindowed(t, 5)
	q.SourceDidFetchIDList(store.Range{Start: 0, Count: 5}, idList(5), 10, "s1")

	// Preemptive insert at the head while window 1 is in flight.
	q.ClientDidGenerateUpdate(&Update{
		AddedIndexes: []int{0},
		AddedIDs:     []string{"head"},
	})
	assert.Equal(t, 11, q.Length())

	// The server's range [5,10) lands one slot later.
	q.SourceDidFetchIDList(store.Range{Start: 5, Count: 5}, idList(10)[5:], 10, "s1")
	assert.Equal(t, "id6", q.GetIDsForObjectsInRange(store.Range{Start: 6, Count: 1})[0])
	assert.Equal(t, "id5", q.GetIDsForObjectsInRange(store.Range{Start: 5, Count: 1})[0])
	assert.Equal(t, "head", q.GetIDsForObjectsInRange(store.Range{Start: 0, Count: 1})[0])
}

func TestRecordsRangeMarksWindows(t *testing.T) {
	q, _ := loadedWindowed(t, idList(10))
	q.SourceDidFetchRecordsForRange(store.Range{Start: 0, Count: 10})
	assert.Equal(t, WindowRecordsReady, q.WindowStatusAt(0))
	assert.Equal(t, WindowRecordsReady, q.WindowStatusAt(1))
}
