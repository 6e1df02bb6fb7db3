package queryspec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/undertow/internal/jval"
)

func TestSpec_Key_Stable(t *testing.T) {
	a := Spec{
		Type:   "Message",
		Filter: []Clause{{Field: "mailbox", Op: OpEq, Value: jval.String("inbox")}},
		Sort:   []Order{{Field: "date", Descending: true}},
	}
	b := Spec{
		Type:   "Message",
		Filter: []Clause{{Field: "mailbox", Op: OpEq, Value: jval.String("inbox")}},
		Sort:   []Order{{Field: "date", Descending: true}},
	}
	assert.Equal(t, a.Key(), b.Key())

	c := a
	c.Sort = []Order{{Field: "date"}}
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr string
	}{
		{
			name: "valid",
			spec: Spec{
				Type:   "Message",
				Filter: []Clause{{Field: "unread", Op: OpEq, Value: jval.Bool(true)}},
				Sort:   []Order{{Field: "date"}},
			},
		},
		{
			name:    "missing type",
			spec:    Spec{},
			wantErr: "missing record type",
		},
		{
			name:    "unknown op",
			spec:    Spec{Type: "M", Filter: []Clause{{Field: "a", Op: "like", Value: jval.String("x")}}},
			wantErr: "unknown op",
		},
		{
			name:    "composite value",
			spec:    Spec{Type: "M", Filter: []Clause{{Field: "a", Op: OpEq, Value: jval.Array{}}}},
			wantErr: "composite",
		},
		{
			name:    "null with ordering op",
			spec:    Spec{Type: "M", Filter: []Clause{{Field: "a", Op: OpLt, Value: jval.Null{}}}},
			wantErr: "null only supports eq/ne",
		},
		{
			name:    "missing sort field",
			spec:    Spec{Type: "M", Sort: []Order{{}}},
			wantErr: "missing field",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.spec)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
