package meshdoc

import "maps"

// The methods in this file build change intents and hand them to the
// document's sender. None of them change the tree: callers observe the
// effect when the sequencer's echo is applied by ApplyChange.

// CreateChildElement requests a new child appended to e and returns the $id
// the child will carry.
func (e *Element) CreateChildElement(tag string, attrs map[string]any) (string, error) {
	return e.createChild(tag, attrs, nil, "")
}

// CreateChildElementAt requests a new child at index.
func (e *Element) CreateChildElementAt(index int, tag string, attrs map[string]any) (string, error) {
	if index < 0 {
		return "", invalidArg("negative index %d", index)
	}
	return e.createChild(tag, attrs, &index, "")
}

// CreateChildElementAfter requests a new child right after sibling, which
// must be a child of e.
func (e *Element) CreateChildElementAfter(sibling *Element, tag string, attrs map[string]any) (string, error) {
	if sibling == nil || sibling.parent == nil || sibling.parent.ID() != e.ID() {
		return "", invalidArg("sibling is not a child of %s", e.ID())
	}
	return e.createChild(tag, attrs, nil, sibling.ID())
}

func (e *Element) createChild(tag string, attrs map[string]any, index *int, after string) (string, error) {
	if !e.typ.AllowsChild(tag) {
		return "", schemaErr(ErrTagNotAllowed, e.tagName, tag)
	}
	et, err := e.doc.schema.Element(tag)
	if err != nil {
		return "", err
	}
	if err := et.ValidateAttributes(attrs, true); err != nil {
		return "", err
	}

	spec := &ElementSpec{
		Name:       tag,
		Attributes: cloneJSONMap(attrs),
		Children:   defaultChildren(tag),
	}
	if spec.Attributes == nil {
		spec.Attributes = make(map[string]any)
	}
	id, ok := spec.Attributes[IDAttribute].(string)
	if !ok || id == "" {
		id = newID()
		spec.Attributes[IDAttribute] = id
	}

	err = e.doc.sendIntent(&ChangeIntent{
		Target: e.ID(),
		InsertChildren: &InsertChildrenOp{
			Children: []NodeSpec{{Element: spec}},
			Index:    index,
			After:    after,
		},
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// defaultChildren seeds text elements with one empty text node.
func defaultChildren(tag string) []NodeSpec {
	if tag == TextTag {
		return []NodeSpec{{Text: &TextSpec{Delta: []Run{}}}}
	}
	return []NodeSpec{}
}

// SetAttribute requests name be set to value.
func (e *Element) SetAttribute(name string, value any) error {
	if name == IDAttribute {
		return invalidArg("%s cannot be reassigned", IDAttribute)
	}
	if err := e.typ.ValidateValue(name, value); err != nil {
		return err
	}
	return e.doc.sendIntent(&ChangeIntent{
		Target:        e.ID(),
		SetAttributes: map[string]any{name: cloneJSONValue(value)},
	})
}

// RemoveAttribute requests name be removed.
func (e *Element) RemoveAttribute(name string) error {
	if name == IDAttribute {
		return invalidArg("%s cannot be removed", IDAttribute)
	}
	if _, err := e.typ.ValueProperty(name); err != nil {
		return err
	}
	return e.doc.sendIntent(&ChangeIntent{
		Target:           e.ID(),
		RemoveAttributes: []string{name},
	})
}

// Delete requests that e be removed from its parent.
func (e *Element) Delete() error {
	if e.parent == nil {
		return invalidArg("the root element cannot be deleted")
	}
	return e.doc.sendIntent(&ChangeIntent{Target: e.ID(), Delete: &struct{}{}})
}

// Insert requests text be inserted at index. Offsets count code points.
func (t *TextElement) Insert(index int, text string, attrs map[string]any) error {
	if index < 0 {
		return invalidArg("negative index %d", index)
	}
	p, err := t.owner()
	if err != nil {
		return err
	}
	return p.doc.sendIntent(&ChangeIntent{
		Target:     p.ID(),
		InsertText: &InsertTextIntent{Index: index, Text: text, Attributes: maps.Clone(attrs)},
	})
}

// Format requests attrs be merged into length characters starting at from.
func (t *TextElement) Format(from, length int, attrs map[string]any) error {
	if from < 0 || length < 0 {
		return invalidArg("negative range %d+%d", from, length)
	}
	p, err := t.owner()
	if err != nil {
		return err
	}
	return p.doc.sendIntent(&ChangeIntent{
		Target:     p.ID(),
		FormatText: &FormatTextIntent{From: from, Length: length, Attributes: maps.Clone(attrs)},
	})
}

// Delete requests length characters be removed starting at index.
func (t *TextElement) Delete(index, length int) error {
	if index < 0 || length < 0 {
		return invalidArg("negative range %d+%d", index, length)
	}
	p, err := t.owner()
	if err != nil {
		return err
	}
	return p.doc.sendIntent(&ChangeIntent{
		Target:     p.ID(),
		DeleteText: &DeleteTextIntent{Index: index, Length: length},
	})
}

// SetText requests the text be replaced by s, sending only the changed span.
func (t *TextElement) SetText(s string) error {
	edit := diffText(t.String(), s)
	if edit.deleted > 0 {
		if err := t.Delete(edit.at, edit.deleted); err != nil {
			return err
		}
	}
	if edit.inserted != "" {
		if err := t.Insert(edit.at, edit.inserted, nil); err != nil {
			return err
		}
	}
	return nil
}

func (t *TextElement) owner() (*Element, error) {
	if t.parent == nil {
		return nil, invalidArg("text node is detached")
	}
	return t.parent, nil
}
