package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/undertow/internal/jval"
)

// AssertionError carries expected-vs-actual context for one failed
// assertion, plus the trace for debugging.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  actual: %s\n", e.Actual)
	fmt.Fprintf(&buf, "\ntrace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s", event.Seq, event.Op)
		if event.Ref != "" {
			fmt.Fprintf(&buf, " %s -> %s", event.Ref, event.Status)
		}
		buf.WriteByte('\n')
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against the result and returns
// the failure messages. An empty slice means all assertions held.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for _, a := range assertions {
		var err error
		switch a.Type {
		case AssertRecordState:
			err = assertRecordState(result, a)
		case AssertRecordData:
			err = assertRecordData(result, a)
		case AssertSourceLog:
			err = assertSourceLog(result, a)
		case AssertSourceOrder:
			err = assertSourceOrder(result, a)
		case AssertSourceCount:
			err = assertSourceCount(result, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func assertRecordState(result *Result, a Assertion) error {
	final, ok := result.Final[a.Ref]
	if !ok {
		return &AssertionError{
			Type:     AssertRecordState,
			Expected: fmt.Sprintf("ref %q bound", a.Ref),
			Actual:   "no such ref",
			Trace:    result.Trace,
		}
	}
	if final.Status != a.Is {
		return &AssertionError{
			Type:     AssertRecordState,
			Expected: fmt.Sprintf("%s has status %s", a.Ref, a.Is),
			Actual:   final.Status,
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertRecordData(result *Result, a Assertion) error {
	final, ok := result.Final[a.Ref]
	if !ok {
		return &AssertionError{
			Type:     AssertRecordData,
			Expected: fmt.Sprintf("ref %q bound", a.Ref),
			Actual:   "no such ref",
			Trace:    result.Trace,
		}
	}
	expect, err := jval.ObjectFromAny(a.Expect)
	if err != nil {
		return fmt.Errorf("record_data expect: %w", err)
	}
	for _, key := range expect.SortedKeys() {
		if !jval.Equal(final.Data[key], expect[key]) {
			return &AssertionError{
				Type:     AssertRecordData,
				Expected: fmt.Sprintf("%s.%s == %v", a.Ref, key, expect[key]),
				Actual:   fmt.Sprintf("%v", final.Data[key]),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}

func assertSourceLog(result *Result, a Assertion) error {
	for _, line := range result.SourceLog {
		if strings.Contains(line, a.Line) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertSourceLog,
		Expected: fmt.Sprintf("a source call containing %q", a.Line),
		Actual:   fmt.Sprintf("log: %v", result.SourceLog),
		Trace:    result.Trace,
	}
}

func assertSourceOrder(result *Result, a Assertion) error {
	next := 0
	for _, line := range result.SourceLog {
		if next < len(a.Lines) && strings.Contains(line, a.Lines[next]) {
			next++
		}
	}
	if next != len(a.Lines) {
		return &AssertionError{
			Type:     AssertSourceOrder,
			Expected: fmt.Sprintf("calls in order %v", a.Lines),
			Actual:   fmt.Sprintf("matched %d of %d; log: %v", next, len(a.Lines), result.SourceLog),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertSourceCount(result *Result, a Assertion) error {
	count := 0
	for _, line := range result.SourceLog {
		if strings.Contains(line, a.Line) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertSourceCount,
			Expected: fmt.Sprintf("%d calls containing %q", a.Count, a.Line),
			Actual:   fmt.Sprintf("%d; log: %v", count, result.SourceLog),
			Trace:    result.Trace,
		}
	}
	return nil
}
