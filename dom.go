package meshdoc

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Node is either an *Element or a *TextElement.
type Node interface {
	Parent() *Element
	Spec() NodeSpec
	On(fn func(Event)) (cancel func())
	isNode()
}

// Element is a schema-typed node. Parents own their children; parent is a
// back-reference used only for routing and path computation.
type Element struct {
	tagName    string
	attributes map[string]any
	children   []Node
	parent     *Element
	typ        *ElementType
	doc        *RuntimeDocument
	listeners  observers[Event]
}

func (*Element) isNode() {}

// ID returns the element's stable $id.
func (e *Element) ID() string {
	id, _ := e.attributes[IDAttribute].(string)
	return id
}

func (e *Element) TagName() string { return e.tagName }

func (e *Element) ElementType() *ElementType { return e.typ }

func (e *Element) Parent() *Element { return e.parent }

func (e *Element) Document() *RuntimeDocument { return e.doc }

// GetAttribute returns the attribute value, or nil when it is not set.
func (e *Element) GetAttribute(name string) any {
	return e.attributes[name]
}

// Attributes returns a copy of the attribute map.
func (e *Element) Attributes() map[string]any {
	return maps.Clone(e.attributes)
}

// GetChildren returns a copy of the children list.
func (e *Element) GetChildren() []Node {
	return slices.Clone(e.children)
}

// Text returns the text node of a text element, or nil.
func (e *Element) Text() *TextElement {
	if e.tagName != TextTag || len(e.children) == 0 {
		return nil
	}
	t, _ := e.children[0].(*TextElement)
	return t
}

// On registers a listener for updates to this element.
func (e *Element) On(fn func(Event)) func() {
	return e.listeners.add(fn)
}

// Path returns the index path from the document root to e.
func (e *Element) Path() (NodePath, error) {
	return nodePath(e)
}

// Spec serializes the subtree rooted at e into insert form.
func (e *Element) Spec() NodeSpec {
	spec := &ElementSpec{
		Name:       e.tagName,
		Attributes: cloneJSONMap(e.attributes),
		Children:   make([]NodeSpec, 0, len(e.children)),
	}
	for _, c := range e.children {
		spec.Children = append(spec.Children, c.Spec())
	}
	return NodeSpec{Element: spec}
}

func (e *Element) String() string {
	var sb strings.Builder
	writeElement(&sb, e)
	return sb.String()
}

func writeElement(sb *strings.Builder, e *Element) {
	fmt.Fprintf(sb, "<%s id=%q>", e.tagName, e.ID())
	for _, c := range e.children {
		switch n := c.(type) {
		case *Element:
			writeElement(sb, n)
		case *TextElement:
			sb.WriteString(n.String())
		}
	}
	fmt.Fprintf(sb, "</%s>", e.tagName)
}

func (e *Element) emit(ev Event) {
	e.listeners.emit(ev)
}

// TextElement holds the runs of a text element.
type TextElement struct {
	parent    *Element
	delta     []Run
	listeners observers[Event]
}

func (*TextElement) isNode() {}

func (t *TextElement) Parent() *Element { return t.parent }

// Delta returns a copy of the run list.
func (t *TextElement) Delta() []Run {
	return cloneRuns(t.delta)
}

// String returns the concatenated text of all runs.
func (t *TextElement) String() string {
	var sb strings.Builder
	for _, r := range t.delta {
		sb.WriteString(r.Insert)
	}
	return sb.String()
}

// Len returns the text length in code points.
func (t *TextElement) Len() int {
	n := 0
	for _, r := range t.delta {
		n += runeLen(r.Insert)
	}
	return n
}

// On registers a listener for updates to this text run.
func (t *TextElement) On(fn func(Event)) func() {
	return t.listeners.add(fn)
}

// Spec serializes the text content into insert form.
func (t *TextElement) Spec() NodeSpec {
	return NodeSpec{Text: &TextSpec{Delta: cloneRuns(t.delta)}}
}

func cloneRuns(runs []Run) []Run {
	out := make([]Run, len(runs))
	for i, r := range runs {
		out[i] = Run{Insert: r.Insert, Attributes: maps.Clone(r.Attributes)}
	}
	return out
}

// cloneJSONMap copies m one level deep, cloning nested maps and slices so a
// spec never aliases live tree state.
func cloneJSONMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneJSONValue(v)
	}
	return out
}

func cloneJSONValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneJSONMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneJSONValue(e)
		}
		return out
	}
	return v
}

// newID returns a fresh $id.
func newID() string {
	return uuid.NewString()
}

// materialize builds a detached node from spec. Element specs without $id
// get one assigned.
func (d *RuntimeDocument) materialize(spec NodeSpec, parent *Element) (Node, error) {
	switch {
	case spec.Element != nil:
		es := spec.Element
		et, err := d.schema.Element(es.Name)
		if err != nil {
			return nil, err
		}
		el := &Element{
			tagName:    es.Name,
			attributes: cloneJSONMap(es.Attributes),
			parent:     parent,
			typ:        et,
			doc:        d,
		}
		if el.attributes == nil {
			el.attributes = make(map[string]any)
		}
		if _, ok := el.attributes[IDAttribute].(string); !ok {
			el.attributes[IDAttribute] = newID()
		}
		for _, cs := range es.Children {
			child, err := d.materialize(cs, el)
			if err != nil {
				return nil, err
			}
			el.children = append(el.children, child)
		}
		return el, nil
	case spec.Text != nil:
		return &TextElement{parent: parent, delta: cloneRuns(spec.Text.Delta)}, nil
	}
	return nil, errors.New("node spec has neither element nor text")
}

// walk visits elements depth first, parents before children, and stops
// when fn returns false.
func walk(e *Element, fn func(*Element) bool) bool {
	if !fn(e) {
		return false
	}
	for _, c := range e.children {
		if ce, ok := c.(*Element); ok {
			if !walk(ce, fn) {
				return false
			}
		}
	}
	return true
}

// findByID walks the tree on every call; no index is kept.
func findByID(root *Element, id string) *Element {
	var found *Element
	walk(root, func(e *Element) bool {
		if e.ID() == id {
			found = e
			return false
		}
		return true
	})
	return found
}

// nodeAtPath traverses the tree using the provided path to find a node.
func nodeAtPath(root *Element, path NodePath) (Node, error) {
	var current Node = root
	for i, index := range path {
		el, ok := current.(*Element)
		if !ok || index < 0 || index >= len(el.children) {
			return nil, fmt.Errorf("node not found at path %v (failed at index %d, step %d)", path, index, i)
		}
		current = el.children[index]
	}
	return current, nil
}

// nodePath builds the path backwards from n to the root.
func nodePath(n Node) (NodePath, error) {
	var path NodePath
	current := n
	for current.Parent() != nil {
		parent := current.Parent()
		index := slices.Index(parent.children, current)
		if index == -1 {
			return nil, errors.New("integrity error: child not found in parent's list")
		}
		path = append(NodePath{index}, path...)
		current = parent
	}
	return path, nil
}
