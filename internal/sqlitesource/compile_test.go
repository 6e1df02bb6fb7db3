package sqlitesource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/undertow/internal/jval"
	"github.com/roach88/undertow/internal/queryspec"
)

func TestCompileBareType(t *testing.T) {
	sql, params, err := compileQuery(queryspec.Spec{Type: "task"})
	require.NoError(t, err)

	assert.Equal(t, "SELECT id, data FROM records WHERE type = ? ORDER BY id ASC", sql)
	assert.Equal(t, []any{"task"}, params)
}

func TestCompileFilterAndSort(t *testing.T) {
	sql, params, err := compileQuery(queryspec.Spec{
		Type: "task",
		Filter: []queryspec.Clause{
			{Field: "done", Op: queryspec.OpEq, Value: jval.Bool(false)},
			{Field: "rank", Op: queryspec.OpGte, Value: jval.Int(3)},
		},
		Sort: []queryspec.Order{
			{Field: "rank", Descending: true},
			{Field: "title"},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "AND json_extract(data, '$.done') = ?")
	assert.Contains(t, sql, "AND json_extract(data, '$.rank') >= ?")
	assert.Contains(t, sql, "ORDER BY json_extract(data, '$.rank') DESC, json_extract(data, '$.title') ASC, id ASC")

	// Values are parameterized, never interpolated.
	assert.NotContains(t, sql, "3")
	assert.Equal(t, []any{"task", int64(0), int64(3)}, params)
}

func TestCompileRejectsBadFieldName(t *testing.T) {
	_, _, err := compileQuery(queryspec.Spec{
		Type: "task",
		Filter: []queryspec.Clause{
			{Field: "title') OR 1=1 --", Op: queryspec.OpEq, Value: jval.String("x")},
		},
	})
	require.Error(t, err)

	_, _, err = compileQuery(queryspec.Spec{
		Type: "task",
		Sort: []queryspec.Order{{Field: "a.b"}},
	})
	require.Error(t, err)
}

func TestCompileNullFilter(t *testing.T) {
	sql, params, err := compileQuery(queryspec.Spec{
		Type: "task",
		Filter: []queryspec.Clause{
			{Field: "due", Op: queryspec.OpEq, Value: jval.Null{}},
			{Field: "owner", Op: queryspec.OpNe, Value: jval.Null{}},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "AND json_extract(data, '$.due') IS NULL")
	assert.Contains(t, sql, "AND json_extract(data, '$.owner') IS NOT NULL")
	assert.NotContains(t, sql, "= NULL")
	// Null operands never become parameters.
	assert.Equal(t, []any{"task"}, params)
}

func TestCompileValueKinds(t *testing.T) {
	cases := []struct {
		value jval.Value
		want  any
	}{
		{jval.String("s"), "s"},
		{jval.Int(7), int64(7)},
		{jval.Float(1.5), float64(1.5)},
		{jval.Bool(true), int64(1)},
		{jval.Null{}, nil},
	}
	for _, tc := range cases {
		got, err := sqlValue(tc.value)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}
