package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitErrorCodes(t *testing.T) {
	err := NewExitError(ExitCommandError, "bad path")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, "bad path", err.Error())

	wrapped := WrapExitError(ExitFailure, "running", errors.New("boom"))
	assert.Equal(t, ExitFailure, GetExitCode(fmt.Errorf("outer: %w", wrapped)))
	assert.Equal(t, "running: boom", wrapped.Error())
	assert.EqualError(t, errors.Unwrap(wrapped), "boom")

	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
}

func TestFormatterJSON(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf}

	require.NoError(t, f.Success(map[string]int{"n": 3}))
	var resp Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	buf.Reset()
	require.NoError(t, f.Error(ErrCodeNotFound, "missing", nil))
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestFormatterVerboseLogGoesToErrWriter(t *testing.T) {
	var out, errOut bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &out, ErrWriter: &errOut, Verbose: true}

	f.VerboseLog("step %d", 1)
	assert.Empty(t, out.String())
	assert.Equal(t, "step 1\n", errOut.String())

	f.Verbose = false
	errOut.Reset()
	f.VerboseLog("quiet")
	assert.Empty(t, errOut.String())
}
