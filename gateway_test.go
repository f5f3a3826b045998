package meshdoc

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateChildElementDoesNotMutate(t *testing.T) {
	lb := newLoopback(t)
	root := lb.doc.Root()

	id, err := root.CreateChildElement("child", map[string]any{"hello": "world"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	assert.Empty(t, root.GetChildren(), "the tree only changes when the echo is applied")
	require.Len(t, lb.intents, 1)

	lb.flush(t)

	node := lb.doc.GetNodeByID(id)
	require.NotNil(t, node)
	assert.Equal(t, "world", node.GetAttribute("hello"))
	assert.Same(t, root, node.Parent())
	assert.Len(t, root.GetChildren(), 1)
}

func TestCreateChildElementIntentWireForm(t *testing.T) {
	lb := newLoopback(t)
	id, err := lb.doc.Root().CreateChildElement("text", nil)
	require.NoError(t, err)
	require.Len(t, lb.intents, 1)

	data, err := json.Marshal(lb.intents[0])
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "root", wire["target"])
	assert.NotContains(t, wire, "targetNodeId")

	ic := wire["insertChildren"].(map[string]any)
	children := ic["children"].([]any)
	require.Len(t, children, 1)
	el := children[0].(map[string]any)["element"].(map[string]any)
	assert.Equal(t, "text", el["name"])
	assert.Equal(t, id, el["attributes"].(map[string]any)[IDAttribute])
	assert.Equal(t, []any{map[string]any{"text": map[string]any{"delta": []any{}}}}, el["children"])

	for _, absent := range []string{"setAttributes", "removeAttributes", "delete", "insertText", "formatText", "deleteText"} {
		assert.NotContains(t, wire, absent)
	}
}

func TestCreateChildElementKeepsSuppliedID(t *testing.T) {
	lb := newLoopback(t)
	id, err := lb.doc.Root().CreateChildElement("child", map[string]any{IDAttribute: "mine"})
	require.NoError(t, err)
	assert.Equal(t, "mine", id)

	lb.flush(t)
	assert.NotNil(t, lb.doc.GetNodeByID("mine"))
}

func TestCreateChildElementPositions(t *testing.T) {
	lb := newLoopback(t)
	seedChildren(t, lb, "a", "b", "c")
	root := lb.doc.Root()

	at, err := root.CreateChildElementAt(1, "child", nil)
	require.NoError(t, err)
	require.Equal(t, 1, *lb.intents[0].InsertChildren.Index)
	lb.flush(t)
	assert.Equal(t, []string{"a", at, "b", "c"}, childIDs(root))

	after, err := root.CreateChildElementAfter(lb.doc.GetNodeByID("c"), "child", nil)
	require.NoError(t, err)
	require.Equal(t, "c", lb.intents[0].InsertChildren.After)
	lb.flush(t)
	assert.Equal(t, []string{"a", at, "b", "c", after}, childIDs(root))

	far, err := root.CreateChildElementAt(99, "child", nil)
	require.NoError(t, err)
	lb.flush(t)
	assert.Equal(t, far, childIDs(root)[5], "out of range index clamps to append")
}

func TestCreateChildElementRejects(t *testing.T) {
	lb := newLoopback(t)
	lb.apply(t, &ChangeMessage{Root: true, Elements: []ElementOp{InsertElements(
		childSpec("a", childSpec("nested")),
		NodeSpec{Element: &ElementSpec{Name: "paragraph", Attributes: map[string]any{IDAttribute: "p", "align": "left"}}},
	)}})
	root := lb.doc.Root()
	para := lb.doc.GetNodeByID("p")

	tests := []struct {
		name string
		call func() (string, error)
		want error
	}{
		{
			name: "tag not in child property",
			call: func() (string, error) { return para.CreateChildElement("child", nil) },
			want: ErrTagNotAllowed,
		},
		{
			name: "root tag under root",
			call: func() (string, error) { return root.CreateChildElement("doc", nil) },
			want: ErrTagNotAllowed,
		},
		{
			name: "unknown tag",
			call: func() (string, error) { return root.CreateChildElement("bogus", nil) },
			want: ErrTagNotAllowed,
		},
		{
			name: "undeclared attribute",
			call: func() (string, error) { return root.CreateChildElement("child", map[string]any{"nope": 1}) },
			want: ErrUnknownAttribute,
		},
		{
			name: "wrong attribute type",
			call: func() (string, error) { return root.CreateChildElement("child", map[string]any{"count": "x"}) },
			want: ErrInvalidValue,
		},
		{
			name: "missing required attribute",
			call: func() (string, error) { return root.CreateChildElement("paragraph", nil) },
			want: ErrMissingAttribute,
		},
		{
			name: "negative index",
			call: func() (string, error) { return root.CreateChildElementAt(-1, "child", nil) },
			want: ErrInvalidArgument,
		},
		{
			name: "sibling of another parent",
			call: func() (string, error) {
				return root.CreateChildElementAfter(lb.doc.GetNodeByID("nested"), "child", nil)
			},
			want: ErrInvalidArgument,
		},
		{
			name: "nil sibling",
			call: func() (string, error) { return root.CreateChildElementAfter(nil, "child", nil) },
			want: ErrInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.call()
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, lb.intents, "rejected edits send nothing")
		})
	}
}

func TestSetAndRemoveAttribute(t *testing.T) {
	lb := newLoopback(t)
	seedChildren(t, lb, "a")
	a := lb.doc.GetNodeByID("a")

	require.NoError(t, a.SetAttribute("hello", "there"))
	require.NoError(t, a.SetAttribute("kind", "b"))
	assert.Nil(t, a.GetAttribute("hello"))
	require.Len(t, lb.intents, 2)
	assert.Equal(t, map[string]any{"hello": "there"}, lb.intents[0].SetAttributes)
	lb.flush(t)
	assert.Equal(t, "there", a.GetAttribute("hello"))
	assert.Equal(t, "b", a.GetAttribute("kind"))

	require.NoError(t, a.RemoveAttribute("hello"))
	assert.Equal(t, []string{"hello"}, lb.intents[0].RemoveAttributes)
	lb.flush(t)
	assert.Nil(t, a.GetAttribute("hello"))

	assert.ErrorIs(t, a.SetAttribute(IDAttribute, "x"), ErrInvalidArgument)
	assert.ErrorIs(t, a.RemoveAttribute(IDAttribute), ErrInvalidArgument)
	assert.ErrorIs(t, a.SetAttribute("nope", 1), ErrUnknownAttribute)
	assert.ErrorIs(t, a.SetAttribute("kind", "z"), ErrInvalidValue)
	assert.ErrorIs(t, a.RemoveAttribute("nope"), ErrUnknownAttribute)
	assert.Empty(t, lb.intents)
}

func TestDeleteElement(t *testing.T) {
	lb := newLoopback(t)
	seedChildren(t, lb, "a", "b", "c")

	require.NoError(t, lb.doc.GetNodeByID("b").Delete())
	require.Len(t, lb.intents, 1)
	assert.NotNil(t, lb.intents[0].Delete)
	lb.flush(t)

	assert.Equal(t, []string{"a", "c"}, childIDs(lb.doc.Root()))
	assert.ErrorIs(t, lb.doc.Root().Delete(), ErrInvalidArgument)
}

func TestTextEdits(t *testing.T) {
	lb := newLoopback(t)
	id, err := lb.doc.Root().CreateChildElement("text", nil)
	require.NoError(t, err)
	lb.flush(t)
	text := lb.doc.GetNodeByID(id).Text()
	require.NotNil(t, text)

	require.NoError(t, text.Insert(0, "hello world", nil))
	lb.flush(t)
	assert.Equal(t, []Run{{Insert: "hello world"}}, plain(text.Delta()))

	require.NoError(t, text.Format(0, 5, map[string]any{"bold": true}))
	lb.flush(t)
	assert.Equal(t, []Run{
		{Insert: "hello", Attributes: map[string]any{"bold": true}},
		{Insert: " world"},
	}, plain(text.Delta()))

	require.NoError(t, text.Delete(0, 6))
	lb.flush(t)
	assert.Equal(t, "world", text.String())

	require.NoError(t, text.Delete(3, 100))
	lb.flush(t)
	assert.Equal(t, "wor", text.String(), "ranges past the end are clamped")

	assert.ErrorIs(t, text.Insert(-1, "x", nil), ErrInvalidArgument)
	assert.ErrorIs(t, text.Format(0, -1, nil), ErrInvalidArgument)
	assert.ErrorIs(t, text.Delete(-1, 1), ErrInvalidArgument)
}

func TestSetText(t *testing.T) {
	lb := newLoopback(t)
	lb.apply(t, &ChangeMessage{Root: true, Elements: []ElementOp{InsertElements(textSpec("t", Run{Insert: "hello world"}))}})
	text := lb.doc.GetNodeByID("t").Text()

	require.NoError(t, text.SetText("hello brave world"))
	require.Len(t, lb.intents, 1)
	assert.Equal(t, &InsertTextIntent{Index: 6, Text: "brave "}, lb.intents[0].InsertText)
	lb.flush(t)
	assert.Equal(t, "hello brave world", text.String())

	require.NoError(t, text.SetText("hello bold world"))
	require.Len(t, lb.intents, 2, "a replace is a delete followed by an insert")
	lb.flush(t)
	assert.Equal(t, "hello bold world", text.String())

	require.NoError(t, text.SetText("hello bold world"))
	assert.Empty(t, lb.intents)
}

func TestTextOnNonTextElement(t *testing.T) {
	lb := newLoopback(t)
	seedChildren(t, lb, "a")

	err := lb.doc.ApplyChange(t.Context(), &ChangeMessage{Target: "a", Text: []TextOp{InsertText("x", nil)}})
	assert.ErrorIs(t, err, ErrNotATextNode)

	_, err = sequenceIntent(newLoopback(t).doc, &ChangeIntent{Target: "root", InsertText: &InsertTextIntent{Text: "x"}})
	assert.ErrorIs(t, err, ErrNotATextNode)
}

func TestGatewayWithoutSender(t *testing.T) {
	doc, err := NewRuntimeDocument(testSchema(t), nil)
	require.NoError(t, err)

	_, err = doc.Root().CreateChildElement("child", nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestGatewaySenderError(t *testing.T) {
	boom := errors.New("boom")
	doc, err := NewRuntimeDocument(testSchema(t), nil, WithSender(func(*ChangeIntent) error { return boom }))
	require.NoError(t, err)

	_, err = doc.Root().CreateChildElement("child", nil)
	assert.ErrorIs(t, err, boom)

	doc.close()
	_, err = doc.Root().CreateChildElement("child", nil)
	assert.ErrorIs(t, err, ErrDocumentClosed)
}
