package meshdoc

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

// ApplyChange applies one authoritative message: element ops, then text ops,
// then attribute ops. A failure leaves the document desynchronized and every
// later call returns ErrDocumentDesynchronized.
func (d *RuntimeDocument) ApplyChange(ctx context.Context, msg *ChangeMessage) (err error) {
	_, span := startApplySpan(ctx, d, msg)
	start := time.Now()
	defer func() {
		applyDuration.Observe(time.Since(start).Seconds())
		result := "ok"
		if err != nil {
			result = "error"
		}
		changesApplied.WithLabelValues(result).Inc()
		endSpan(span, err)
	}()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed.Load() {
		return ErrDocumentClosed
	}
	if d.failed != nil {
		return fmt.Errorf("%w: %w", ErrDocumentDesynchronized, d.failed)
	}

	if err := d.applyLocked(msg); err != nil {
		d.failed = err
		d.logger.Error("change message could not be applied", "target", msg.Target, "root", msg.Root, "error", err)
		return err
	}

	d.listeners.emit(Event{Type: EventUpdated, Doc: d})
	d.messages.emit(msg)
	return nil
}

func (d *RuntimeDocument) applyLocked(msg *ChangeMessage) error {
	target, err := d.resolveTarget(msg)
	if err != nil {
		return err
	}
	if len(msg.Elements) > 0 {
		if err := d.applyElementOps(target, msg.Elements); err != nil {
			return &MergeError{Kind: ErrMalformedChange, Target: target.ID(), Err: err}
		}
		target.emit(Event{Type: EventUpdated, Node: target, Doc: d})
	}
	if len(msg.Text) > 0 {
		if err := d.applyTextOps(target, msg.Text); err != nil {
			return err
		}
	}
	if msg.Attributes != nil {
		d.applyAttributeOps(target, msg.Attributes)
	}
	return nil
}

func (d *RuntimeDocument) resolveTarget(msg *ChangeMessage) (*Element, error) {
	if msg.Root {
		return d.root, nil
	}
	if msg.Target != "" {
		if el := findByID(d.root, msg.Target); el != nil {
			return el, nil
		}
	}
	return nil, &MergeError{Kind: ErrTargetNotFound, Target: msg.Target}
}

// applyElementOps replays retain/insert/delete against target's children
// with one forward cursor. delete moves the cursor back by the deleted
// count; peers rely on this.
func (d *RuntimeDocument) applyElementOps(target *Element, ops []ElementOp) error {
	pos := 0
	for i, op := range ops {
		switch {
		case op.Retain != nil:
			pos += *op.Retain
		case op.Insert != nil:
			for _, spec := range op.Insert {
				node, err := d.materialize(spec, target)
				if err != nil {
					return fmt.Errorf("failed to apply op %d (insert): %w", i, err)
				}
				target.children = slices.Insert(target.children, spliceIndex(pos, len(target.children)), node)
				pos++
			}
		case op.Delete != nil:
			n := *op.Delete
			from := spliceIndex(pos, len(target.children))
			to := min(from+max(n, 0), len(target.children))
			for _, c := range target.children[from:to] {
				detach(c)
			}
			target.children = slices.Delete(target.children, from, to)
			pos -= n
		default:
			return fmt.Errorf("failed to apply op %d: empty element op", i)
		}
		mergeOps.WithLabelValues("elements").Inc()
	}
	return nil
}

// spliceIndex maps a cursor onto a children index the way an array splice
// does: negative positions count from the end and everything is clamped.
func spliceIndex(pos, n int) int {
	if pos < 0 {
		return max(n+pos, 0)
	}
	return min(pos, n)
}

func detach(n Node) {
	switch v := n.(type) {
	case *Element:
		v.parent = nil
	case *TextElement:
		v.parent = nil
	}
}

func (d *RuntimeDocument) applyTextOps(target *Element, ops []TextOp) error {
	if target.tagName != TextTag {
		return &MergeError{Kind: ErrNotATextNode, Target: target.ID()}
	}
	text := target.Text()
	if text == nil {
		if len(target.children) > 0 {
			return &MergeError{Kind: ErrNotATextNode, Target: target.ID(), Err: errors.New("first child is not a text node")}
		}
		text = &TextElement{parent: target}
		target.children = []Node{text}
	}
	text.delta = applyTextDelta(text.delta, ops)
	mergeOps.WithLabelValues("text").Add(float64(len(ops)))
	text.listeners.emit(Event{Type: EventUpdated, Node: text, Doc: d})
	return nil
}

func (d *RuntimeDocument) applyAttributeOps(target *Element, ops *AttributeOps) {
	for _, set := range ops.Set {
		if set.Name == IDAttribute {
			d.logger.Warn("ignoring attempt to reassign $id", "target", target.ID())
			continue
		}
		target.attributes[set.Name] = cloneJSONValue(set.Value)
		mergeOps.WithLabelValues("attributes").Inc()
		target.emit(Event{Type: EventUpdated, Node: target, Doc: d})
	}
	for _, name := range ops.Delete {
		if name == IDAttribute {
			d.logger.Warn("ignoring attempt to remove $id", "target", target.ID())
			continue
		}
		delete(target.attributes, name)
		mergeOps.WithLabelValues("attributes").Inc()
		target.emit(Event{Type: EventUpdated, Node: target, Doc: d})
	}
}
