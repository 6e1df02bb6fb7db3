package schema

import (
	"testing"

	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/undertow/internal/jval"
)

func compileString(t *testing.T, src string) (*Registry, error) {
	t.Helper()
	v := cuecontext.New().CompileString(src)
	require.NoError(t, v.Err())
	return CompileRegistry(v)
}

const mailSchema = `
record: Mailbox: {
	attrs: {
		name: {kind: "string", required: true}
	}
}
record: Message: {
	primaryKey: "id"
	attrs: {
		subject: {kind: "string", default: ""}
		unread:  {kind: "bool", key: "isUnread"}
		size:    {kind: "int"}
		mailbox: {kind: "one", to: "Mailbox", key: "mailboxId"}
		labels:  {kind: "many", to: "Mailbox", key: "labelIds"}
	}
}
`

func TestCompileRegistry(t *testing.T) {
	reg, err := compileString(t, mailSchema)
	require.NoError(t, err)
	require.Equal(t, 2, reg.Len())

	msg, ok := reg.Get("Message")
	require.True(t, ok)
	assert.Equal(t, "id", msg.PrimaryKey)

	unread, ok := msg.Attr("unread")
	require.True(t, ok)
	assert.Equal(t, "isUnread", unread.Key)
	assert.Equal(t, KindBool, unread.Kind)

	subject, ok := msg.Attr("subject")
	require.True(t, ok)
	assert.Equal(t, jval.String(""), subject.Default)
	// key defaults to the attribute name
	assert.Equal(t, "subject", subject.Key)

	mailbox, ok := msg.Attr("mailbox")
	require.True(t, ok)
	assert.Equal(t, "Mailbox", mailbox.To)

	byKey, ok := msg.AttrForKey("isUnread")
	require.True(t, ok)
	assert.Equal(t, "unread", byKey.Name)
}

func TestCompileRegistry_Errors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{
			name:    "no records",
			src:     `other: {}`,
			wantErr: "no record types",
		},
		{
			name:    "missing kind",
			src:     `record: A: {attrs: {x: {key: "x"}}}`,
			wantErr: "kind is required",
		},
		{
			name:    "unknown kind",
			src:     `record: A: {attrs: {x: {kind: "blob"}}}`,
			wantErr: `unknown kind "blob"`,
		},
		{
			name:    "ref without target",
			src:     `record: A: {attrs: {x: {kind: "one"}}}`,
			wantErr: "needs a target type",
		},
		{
			name:    "unresolved ref",
			src:     `record: A: {attrs: {x: {kind: "one", to: "Nope"}}}`,
			wantErr: "unregistered type",
		},
		{
			name: "duplicate raw key",
			src: `record: A: {attrs: {
				x: {kind: "string", key: "k"}
				y: {kind: "string", key: "k"}
			}}`,
			wantErr: "already mapped",
		},
		{
			name:    "default kind mismatch",
			src:     `record: A: {attrs: {x: {kind: "int", default: "nope"}}}`,
			wantErr: "default does not match kind",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileString(t, tt.src)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAttr_Validate(t *testing.T) {
	many := &Attr{Name: "labels", Kind: KindToMany, To: "Label"}
	assert.NoError(t, many.Validate(jval.Array{jval.String("a")}))
	assert.Error(t, many.Validate(jval.Array{jval.Int(1)}))
	assert.Error(t, many.Validate(jval.String("a")))

	req := &Attr{Name: "name", Kind: KindString, Required: true}
	assert.Error(t, req.Validate(nil))
	assert.Error(t, req.Validate(jval.Null{}))
	assert.NoError(t, req.Validate(jval.String("x")))

	f := &Attr{Name: "score", Kind: KindFloat}
	assert.NoError(t, f.Validate(jval.Int(3)))
	assert.NoError(t, f.Validate(jval.Float(3.5)))
}

func TestType_ValidateData(t *testing.T) {
	typ := NewType("Message", "id",
		&Attr{Name: "subject", Kind: KindString, Required: true},
		&Attr{Name: "unread", Key: "isUnread", Kind: KindBool},
	)

	errs := typ.ValidateData(jval.Object{"subject": jval.String("hi"), "isUnread": jval.Bool(true)})
	assert.Empty(t, errs)

	errs = typ.ValidateData(jval.Object{"isUnread": jval.Int(1)})
	assert.Len(t, errs, 2) // missing subject, wrong unread kind

	// unknown keys pass through
	errs = typ.ValidateData(jval.Object{"subject": jval.String("hi"), "serverOnly": jval.Int(1)})
	assert.Empty(t, errs)
}

func TestType_ID(t *testing.T) {
	typ := NewType("Message", "id")
	assert.Equal(t, "m1", typ.ID(jval.Object{"id": jval.String("m1")}))
	assert.Equal(t, "", typ.ID(nil))
	assert.Equal(t, "", typ.ID(jval.Object{"id": jval.Int(4)}))
}
