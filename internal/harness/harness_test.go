package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCreateCommit(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/create_commit.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.Trace, 3)
	assert.Equal(t, "READY|NEW|DIRTY", result.Trace[0].Status)
	assert.Equal(t, "READY", result.Trace[2].Status)

	final := result.Final["draft"]
	assert.Equal(t, "READY", final.Status)
}

func TestRunEditDuringCommit(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/edit_during_commit.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	// The in-flight edit shows up as DIRTY layered over COMMITTING, then
	// a second commit round settles the record.
	require.Len(t, result.Trace, 9)
	assert.Equal(t, "READY|COMMITTING|DIRTY", result.Trace[5].Status)
	assert.Equal(t, "READY|DIRTY", result.Trace[6].Status)
	assert.Equal(t, "READY", result.Trace[8].Status)
	assert.Len(t, result.SourceLog, 3)
}

func TestRunReportsFailedAssertions(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/create_commit.yaml")
	require.NoError(t, err)
	scenario.Assertions = append(scenario.Assertions, Assertion{
		Type: AssertRecordState, Ref: "draft", Is: "DESTROYED",
	})

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "DESTROYED")
}

func TestRunDir(t *testing.T) {
	results, err := RunDir("testdata/scenarios")
	require.NoError(t, err)
	require.Len(t, results, 2)
	for name, result := range results {
		assert.True(t, result.Pass, "%s: %v", name, result.Errors)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/edit_during_commit.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := Snapshot(scenario.Name, first)
	require.NoError(t, err)
	b, err := Snapshot(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}
