package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/undertow/internal/jval"
)

func sampleResult() *Result {
	return &Result{
		Pass: true,
		Trace: []TraceEvent{
			{Seq: 1, Op: "new", Ref: "r", Status: "READY|NEW|DIRTY"},
			{Seq: 2, Op: "flush", Ref: "r", Status: "READY"},
		},
		SourceLog: []string{
			"fetchRecord task/t1",
			"commit 1 batch(es)",
			"commit 1 batch(es)",
		},
		Final: map[string]FinalRecord{
			"r": {Status: "READY", Data: jval.Object{
				"id":    jval.String("id-1"),
				"title": jval.String("done"),
			}},
		},
	}
}

func TestAssertRecordState(t *testing.T) {
	result := sampleResult()

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertRecordState, Ref: "r", Is: "READY"},
	})
	assert.Empty(t, errs)

	errs = EvaluateAssertions(result, []Assertion{
		{Type: AssertRecordState, Ref: "r", Is: "DESTROYED"},
	})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "DESTROYED")
	assert.Contains(t, errs[0], "READY")
}

func TestAssertRecordData(t *testing.T) {
	result := sampleResult()

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertRecordData, Ref: "r", Expect: map[string]any{"title": "done"}},
	})
	assert.Empty(t, errs)

	errs = EvaluateAssertions(result, []Assertion{
		{Type: AssertRecordData, Ref: "r", Expect: map[string]any{"title": "other"}},
	})
	require.Len(t, errs, 1)
}

func TestAssertSourceLog(t *testing.T) {
	result := sampleResult()

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertSourceLog, Line: "fetchRecord task/t1"},
	})
	assert.Empty(t, errs)

	errs = EvaluateAssertions(result, []Assertion{
		{Type: AssertSourceLog, Line: "fetchQuery"},
	})
	require.Len(t, errs, 1)
}

func TestAssertSourceOrder(t *testing.T) {
	result := sampleResult()

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertSourceOrder, Lines: []string{"fetchRecord", "commit"}},
	})
	assert.Empty(t, errs)

	// Each expected line consumes a distinct log line.
	errs = EvaluateAssertions(result, []Assertion{
		{Type: AssertSourceOrder, Lines: []string{"commit", "commit", "commit"}},
	})
	require.Len(t, errs, 1)

	errs = EvaluateAssertions(result, []Assertion{
		{Type: AssertSourceOrder, Lines: []string{"commit", "fetchRecord"}},
	})
	require.Len(t, errs, 1)
}

func TestAssertSourceCount(t *testing.T) {
	result := sampleResult()

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertSourceCount, Line: "commit", Count: 2},
	})
	assert.Empty(t, errs)

	errs = EvaluateAssertions(result, []Assertion{
		{Type: AssertSourceCount, Line: "commit", Count: 1},
	})
	require.Len(t, errs, 1)
}

func TestAssertionErrorIncludesTrace(t *testing.T) {
	result := sampleResult()
	err := assertRecordState(result, Assertion{Type: AssertRecordState, Ref: "r", Is: "EMPTY"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[1] new r -> READY|NEW|DIRTY")
}
