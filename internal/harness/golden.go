package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/undertow/internal/jval"
)

// Snapshot renders a result as canonical JSON for golden comparison.
// Canonical marshalling sorts object keys, so identical runs produce
// byte-identical snapshots.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	trace := make(jval.Array, 0, len(result.Trace))
	for _, event := range result.Trace {
		obj := jval.Object{
			"seq": jval.Int(event.Seq),
			"op":  jval.String(event.Op),
		}
		if event.Ref != "" {
			obj["ref"] = jval.String(event.Ref)
		}
		if event.Status != "" {
			obj["status"] = jval.String(event.Status)
		}
		trace = append(trace, obj)
	}

	log := make(jval.Array, 0, len(result.SourceLog))
	for _, line := range result.SourceLog {
		log = append(log, jval.String(line))
	}

	final := jval.Object{}
	for name, rec := range result.Final {
		data := rec.Data
		if data == nil {
			data = jval.Object{}
		}
		final[name] = jval.Object{
			"status": jval.String(rec.Status),
			"data":   data,
		}
	}

	return jval.MarshalCanonical(jval.Object{
		"scenario_name": jval.String(scenarioName),
		"trace":         trace,
		"source_log":    log,
		"final":         final,
	})
}

// RunWithGolden executes a scenario, fails the test on any assertion
// error, and compares the trace snapshot against
// testdata/golden/<name>.golden. Regenerate with go test -update.
func RunWithGolden(t *testing.T, scenario *Scenario) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		t.Fatalf("run %s: %v", scenario.Name, err)
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}

	snapshot, err := Snapshot(scenario.Name, result)
	if err != nil {
		t.Fatalf("snapshot %s: %v", scenario.Name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, snapshot)
}
