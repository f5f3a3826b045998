package meshdoc

// NodePath represents the traversal steps from the root to a target node.
// Example: [0, 1, 3] means root -> child[0] -> child[1] -> child[3]
type NodePath []int

// NodeSpec is the wire form of a node inside an insert operation. Exactly
// one of Element or Text is set.
type NodeSpec struct {
	Element *ElementSpec `json:"element,omitempty"`
	Text    *TextSpec    `json:"text,omitempty"`
}

// ElementSpec describes an element and its subtree.
type ElementSpec struct {
	Name       string         `json:"name"`
	Attributes map[string]any `json:"attributes"`
	Children   []NodeSpec     `json:"children"`
}

// TextSpec describes a text node by its runs.
type TextSpec struct {
	Delta []Run `json:"delta"`
}

// Run is a contiguous span of text sharing one attribute set.
type Run struct {
	Insert     string         `json:"insert"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// ChangeMessage is an authoritative change for one target node. The three
// op streams are applied in the order elements, text, attributes.
type ChangeMessage struct {
	Root       bool          `json:"root,omitempty"`
	Target     string        `json:"target,omitempty"`
	Elements   []ElementOp   `json:"elements,omitempty"`
	Text       []TextOp      `json:"text,omitempty"`
	Attributes *AttributeOps `json:"attributes,omitempty"`
}

// ElementOp is one of retain, insert or delete against a children list.
type ElementOp struct {
	Retain *int       `json:"retain,omitempty"`
	Insert []NodeSpec `json:"insert,omitempty"`
	Delete *int       `json:"delete,omitempty"`
}

// TextOp is one of insert, delete or retain against a run list. A retain
// carrying attributes formats the retained span.
type TextOp struct {
	Insert     *string        `json:"insert,omitempty"`
	Delete     *int           `json:"delete,omitempty"`
	Retain     *int           `json:"retain,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// AttributeOps sets and removes attributes on the target element.
type AttributeOps struct {
	Set    []AttributeSet `json:"set,omitempty"`
	Delete []string       `json:"delete,omitempty"`
}

// AttributeSet assigns one attribute value.
type AttributeSet struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// RetainElements skips n children.
func RetainElements(n int) ElementOp { return ElementOp{Retain: &n} }

// InsertElements inserts specs at the cursor.
func InsertElements(specs ...NodeSpec) ElementOp { return ElementOp{Insert: specs} }

// DeleteElements removes n children at the cursor.
func DeleteElements(n int) ElementOp { return ElementOp{Delete: &n} }

// InsertText inserts s with optional formatting.
func InsertText(s string, attrs map[string]any) TextOp { return TextOp{Insert: &s, Attributes: attrs} }

// DeleteText removes n code points.
func DeleteText(n int) TextOp { return TextOp{Delete: &n} }

// RetainText skips n code points.
func RetainText(n int) TextOp { return TextOp{Retain: &n} }

// FormatText merges attrs into the next n code points.
func FormatText(n int, attrs map[string]any) TextOp { return TextOp{Retain: &n, Attributes: attrs} }

// ChangeIntent is what the local mutation API hands to the sequencer. It
// never changes local state; the sequencer answers with a ChangeMessage.
type ChangeIntent struct {
	Target           string            `json:"target"`
	InsertChildren   *InsertChildrenOp `json:"insertChildren,omitempty"`
	SetAttributes    map[string]any    `json:"setAttributes,omitempty"`
	RemoveAttributes []string          `json:"removeAttributes,omitempty"`
	Delete           *struct{}         `json:"delete,omitempty"`
	InsertText       *InsertTextIntent `json:"insertText,omitempty"`
	FormatText       *FormatTextIntent `json:"formatText,omitempty"`
	DeleteText       *DeleteTextIntent `json:"deleteText,omitempty"`
}

// InsertChildrenOp places children at Index, after the After sibling, or at the end.
type InsertChildrenOp struct {
	Children []NodeSpec `json:"children"`
	Index    *int       `json:"index,omitempty"`
	After    string     `json:"after,omitempty"`
}

// InsertTextIntent inserts Text at a code point index.
type InsertTextIntent struct {
	Index      int            `json:"index"`
	Text       string         `json:"text"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// FormatTextIntent applies Attributes to a code point range.
type FormatTextIntent struct {
	From       int            `json:"from"`
	Length     int            `json:"length"`
	Attributes map[string]any `json:"attributes"`
}

// DeleteTextIntent removes a code point range.
type DeleteTextIntent struct {
	Index  int `json:"index"`
	Length int `json:"length"`
}
