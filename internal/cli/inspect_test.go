package cli

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/undertow/internal/jval"
	"github.com/roach88/undertow/internal/schema"
	"github.com/roach88/undertow/internal/sqlitesource"
	"github.com/roach88/undertow/internal/store"
)

// writeTestDB creates a database with three task rows and returns its
// path plus the schema dir used to open it.
func writeTestDB(t *testing.T) (string, string) {
	t.Helper()
	schemaDir := writeSchemaDir(t)
	schemas, err := schema.LoadDir(schemaDir)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "records.db")
	src, err := sqlitesource.Open(path, schemas)
	require.NoError(t, err)
	defer src.Close()

	st := store.New(src, schemas, nil, &store.SerialKeys{})
	src.Attach(st)

	for i, title := range []string{"alpha", "beta", "gamma"} {
		_, ok := st.NewRecord("task", jval.Object{
			"title": jval.String(title),
			"rank":  jval.Int(int64(i + 1)),
		})
		require.True(t, ok)
	}
	st.CommitChanges(nil)
	st.Scheduler().Flush()
	return path, schemaDir
}

func TestInspectListsTypes(t *testing.T) {
	db, schemaDir := writeTestDB(t)

	out, _, err := execute(t, "inspect", db, "--schema", schemaDir)
	require.NoError(t, err)
	assert.Contains(t, out, "task\t3")
}

func TestInspectListsIDs(t *testing.T) {
	db, schemaDir := writeTestDB(t)

	out, _, err := execute(t, "inspect", db, "task", "--schema", schemaDir)
	require.NoError(t, err)
	assert.Len(t, splitLines(out), 3)
}

func TestInspectShowsRecord(t *testing.T) {
	db, schemaDir := writeTestDB(t)

	ids, _, _ := execute(t, "inspect", db, "task", "--schema", schemaDir)
	id := splitLines(ids)[0]

	out, _, err := execute(t, "inspect", db, "task", id, "--schema", schemaDir)
	require.NoError(t, err)
	assert.Contains(t, out, `"title"`)
	assert.Contains(t, out, `"id":"`+id+`"`)
}

func TestInspectRecordHash(t *testing.T) {
	db, schemaDir := writeTestDB(t)

	ids, _, _ := execute(t, "inspect", db, "task", "--schema", schemaDir)
	id := splitLines(ids)[0]

	out, _, err := execute(t, "inspect", db, "task", id, "--schema", schemaDir)
	require.NoError(t, err)
	lines := splitLines(out)
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[1], "hash\t"))
	assert.Len(t, strings.TrimPrefix(lines[1], "hash\t"), 64)
}

func TestInspectMissingRecord(t *testing.T) {
	db, schemaDir := writeTestDB(t)

	out, _, err := execute(t, "inspect", db, "task", "nope", "--schema", schemaDir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "not found")
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				lines = append(lines, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
