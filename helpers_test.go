package meshdoc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// testSchema declares:
//
//	doc       title; children anyOf child, paragraph, text
//	child     hello, count, kind(enum a|b); children anyOf child, text
//	paragraph align(enum left|right); content prefixItems text
//	text      (no properties)
func testSchema(t *testing.T) *MeshSchema {
	t.Helper()
	doc, err := NewElementType("doc", "document root",
		&ValueProperty{Name: "title", Type: TypeString},
		&ChildProperty{Name: "children", ChildTagNames: []string{"child", "paragraph", "text"}},
	)
	require.NoError(t, err)
	child, err := NewElementType("child", "",
		&ValueProperty{Name: "hello", Type: TypeString},
		&ValueProperty{Name: "count", Type: TypeNumber},
		&ValueProperty{Name: "kind", Type: TypeString, Enum: []any{"a", "b"}},
		&ChildProperty{Name: "children", ChildTagNames: []string{"child", "text"}},
	)
	require.NoError(t, err)
	paragraph, err := NewElementType("paragraph", "",
		&ValueProperty{Name: "align", Type: TypeString, Enum: []any{"left", "right"}, Required: true},
		&ChildProperty{Name: "content", ChildTagNames: []string{"text"}, Ordered: true},
	)
	require.NoError(t, err)
	text, err := NewElementType("text", "")
	require.NoError(t, err)

	schema, err := NewMeshSchema("doc", doc, child, paragraph, text)
	require.NoError(t, err)
	return schema
}

// loopback is a single-replica setup where the document is its own
// authority: recorded intents are sequenced against the document itself.
type loopback struct {
	doc     *RuntimeDocument
	intents []*ChangeIntent
}

func newLoopback(t *testing.T) *loopback {
	t.Helper()
	lb := &loopback{}
	doc, err := NewRuntimeDocument(testSchema(t),
		&ElementSpec{Name: "doc", Attributes: map[string]any{IDAttribute: "root"}},
		WithSender(func(in *ChangeIntent) error {
			lb.intents = append(lb.intents, in)
			return nil
		}),
	)
	require.NoError(t, err)
	lb.doc = doc
	return lb
}

// flush echoes every recorded intent back through ApplyChange.
func (lb *loopback) flush(t *testing.T) {
	t.Helper()
	pending := lb.intents
	lb.intents = nil
	for _, in := range pending {
		msg, err := sequenceIntent(lb.doc, in)
		require.NoError(t, err)
		require.NoError(t, lb.doc.ApplyChange(context.Background(), msg))
	}
}

func (lb *loopback) apply(t *testing.T, msg *ChangeMessage) {
	t.Helper()
	require.NoError(t, lb.doc.ApplyChange(context.Background(), msg))
}

func childSpec(id string, children ...NodeSpec) NodeSpec {
	return NodeSpec{Element: &ElementSpec{
		Name:       "child",
		Attributes: map[string]any{IDAttribute: id},
		Children:   children,
	}}
}

func textSpec(id string, runs ...Run) NodeSpec {
	return NodeSpec{Element: &ElementSpec{
		Name:       "text",
		Attributes: map[string]any{IDAttribute: id},
		Children:   []NodeSpec{{Text: &TextSpec{Delta: runs}}},
	}}
}

func childIDs(e *Element) []string {
	var ids []string
	for _, c := range e.GetChildren() {
		if el, ok := c.(*Element); ok {
			ids = append(ids, el.ID())
		}
	}
	return ids
}

// plain drops empty attribute maps so runs compare on content.
func plain(runs []Run) []Run {
	out := make([]Run, len(runs))
	for i, r := range runs {
		out[i] = Run{Insert: r.Insert}
		if len(r.Attributes) > 0 {
			out[i].Attributes = r.Attributes
		}
	}
	return out
}
