package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestGoldenScenarios replays every scenario under testdata/scenarios and
// compares its trace snapshot against the matching golden file. Run with
// -update after intentional behavior changes.
func TestGoldenScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err)
		t.Run(scenario.Name, func(t *testing.T) {
			RunWithGolden(t, scenario)
		})
	}
}
