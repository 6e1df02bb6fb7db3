package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateText(t *testing.T) {
	dir := writeSchemaDir(t)

	out, _, err := execute(t, "validate", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "valid: 1 record type(s)")
	assert.Contains(t, out, "task (pk id)")
	assert.Contains(t, out, "title:string")
}

func TestValidateJSON(t *testing.T) {
	dir := writeSchemaDir(t)

	out, _, err := execute(t, "--format", "json", "validate", dir)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestValidateBadSchema(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "schema")
	require.NoError(t, os.Mkdir(dir, 0o755))
	content := `package schemas

record: task: {
	attrs: {
		title: {kind: "teapot"}
	}
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "task.cue"), []byte(content), 0o644))

	out, _, err := execute(t, "validate", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error")
}

func TestValidateMissingDir(t *testing.T) {
	_, _, err := execute(t, "validate", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}
