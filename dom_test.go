package meshdoc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathing(t *testing.T) {
	lb := newLoopback(t)
	lb.apply(t, &ChangeMessage{Root: true, Elements: []ElementOp{InsertElements(
		childSpec("a"),
		childSpec("b", childSpec("c"), textSpec("t", Run{Insert: "Hello"})),
	)}})

	// root -> b (1) -> t (1) -> text node (0)
	targetPath := NodePath{1, 1, 0}

	node, err := lb.doc.NodeAtPath(targetPath)
	require.NoError(t, err)
	text, ok := node.(*TextElement)
	require.True(t, ok, "expected a text node, got %T", node)
	assert.Equal(t, "Hello", text.String())

	path, err := nodePath(text)
	require.NoError(t, err)
	assert.Equal(t, targetPath, path)

	path, err = lb.doc.GetNodeByID("c").Path()
	require.NoError(t, err)
	assert.Equal(t, NodePath{1, 0}, path)

	rootPath, err := lb.doc.Root().Path()
	require.NoError(t, err)
	assert.Empty(t, rootPath)
}

func TestNodeAtPathOutOfRange(t *testing.T) {
	lb := newLoopback(t)
	seedChildren(t, lb, "a")

	for _, path := range []NodePath{{1}, {-1}, {0, 0}} {
		_, err := lb.doc.NodeAtPath(path)
		assert.Error(t, err, "path %v", path)
	}
}

func TestGetNodeByID(t *testing.T) {
	lb := newLoopback(t)
	lb.apply(t, &ChangeMessage{Root: true, Elements: []ElementOp{InsertElements(
		childSpec("a", childSpec("deep")),
	)}})

	assert.Same(t, lb.doc.Root(), lb.doc.GetNodeByID("root"))
	deep := lb.doc.GetNodeByID("deep")
	require.NotNil(t, deep)
	assert.Equal(t, "child", deep.TagName())
	assert.Same(t, lb.doc, deep.Document())
	assert.Nil(t, lb.doc.GetNodeByID("nope"))
}

func TestElementAccessorsReturnCopies(t *testing.T) {
	lb := newLoopback(t)
	lb.apply(t, &ChangeMessage{Root: true, Elements: []ElementOp{InsertElements(
		childSpec("a"),
		textSpec("t", Run{Insert: "x", Attributes: map[string]any{"bold": true}}),
	)}})
	root := lb.doc.Root()

	attrs := root.Attributes()
	attrs["title"] = "changed"
	assert.Nil(t, root.GetAttribute("title"))

	children := root.GetChildren()
	children[0] = nil
	assert.NotNil(t, root.GetChildren()[0])

	delta := lb.doc.GetNodeByID("t").Text().Delta()
	delta[0].Attributes["bold"] = false
	assert.Equal(t, true, lb.doc.GetNodeByID("t").Text().Delta()[0].Attributes["bold"])
}

func TestElementSpecRoundTrip(t *testing.T) {
	lb := newLoopback(t)
	lb.apply(t, &ChangeMessage{Root: true, Elements: []ElementOp{InsertElements(
		childSpec("a", textSpec("t", Run{Insert: "hi"})),
	)}})

	spec := lb.doc.Root().Spec()
	copyDoc, err := NewRuntimeDocument(lb.doc.Schema(), spec.Element)
	require.NoError(t, err)

	assert.Equal(t, spec, copyDoc.Root().Spec())
	assert.Equal(t, lb.doc.Root().String(), copyDoc.Root().String())
	assert.NotEqual(t, lb.doc.ID(), copyDoc.ID())
}

func TestNewRuntimeDocumentRejectsWrongRoot(t *testing.T) {
	_, err := NewRuntimeDocument(testSchema(t), &ElementSpec{Name: "child"})
	assert.ErrorIs(t, err, ErrTagNotAllowed)

	_, err = NewRuntimeDocument(testSchema(t), &ElementSpec{Name: "doc", Children: []NodeSpec{
		{Element: &ElementSpec{Name: "bogus"}},
	}})
	assert.ErrorIs(t, err, ErrUnknownTag)
}

func TestNewRuntimeDocumentEmpty(t *testing.T) {
	doc, err := NewRuntimeDocument(testSchema(t), nil)
	require.NoError(t, err)

	assert.Equal(t, "doc", doc.Root().TagName())
	assert.NotEmpty(t, doc.Root().ID())
	assert.Empty(t, doc.Root().GetChildren())
}
