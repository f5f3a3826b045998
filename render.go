package meshdoc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	htmlIDAttr     = "data-mesh-id"
	htmlDataPrefix = "data-"
)

// RenderHTML converts an element subtree into an HTML string. Tags keep
// their schema names, $id becomes data-mesh-id and formatted runs become
// spans carrying their attributes as data-* attributes.
func RenderHTML(e *Element) (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, toHTMLNode(e)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func toHTMLNode(e *Element) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: e.tagName}
	for _, k := range sortedKeys(e.attributes) {
		key := k
		if k == IDAttribute {
			key = htmlIDAttr
		}
		n.Attr = append(n.Attr, html.Attribute{Key: key, Val: attrString(e.attributes[k])})
	}
	for _, c := range e.children {
		switch v := c.(type) {
		case *Element:
			n.AppendChild(toHTMLNode(v))
		case *TextElement:
			for _, r := range v.delta {
				n.AppendChild(runToHTML(r))
			}
		}
	}
	return n
}

func runToHTML(r Run) *html.Node {
	text := &html.Node{Type: html.TextNode, Data: r.Insert}
	if len(r.Attributes) == 0 {
		return text
	}
	span := &html.Node{Type: html.ElementNode, Data: "span", DataAtom: atom.Span}
	for _, k := range sortedKeys(r.Attributes) {
		span.Attr = append(span.Attr, html.Attribute{Key: htmlDataPrefix + k, Val: attrString(r.Attributes[k])})
	}
	span.AppendChild(text)
	return span
}

func attrString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ImportHTML parses an HTML fragment into node specs that may be inserted
// under an element tagged parentTag. Undeclared attributes are dropped;
// undeclared or disallowed tags are errors.
func ImportHTML(schema *MeshSchema, parentTag, fragment string) ([]NodeSpec, error) {
	parent, err := schema.Element(parentTag)
	if err != nil {
		return nil, err
	}
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fragment: %w", err)
	}
	var specs []NodeSpec
	for _, n := range nodes {
		if n.Type != html.ElementNode {
			continue
		}
		spec, err := importElement(schema, parent, n)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func importElement(schema *MeshSchema, parent *ElementType, n *html.Node) (NodeSpec, error) {
	et, err := schema.Element(n.Data)
	if err != nil {
		return NodeSpec{}, err
	}
	if !parent.AllowsChild(et.TagName) {
		return NodeSpec{}, schemaErr(ErrTagNotAllowed, parent.TagName, et.TagName)
	}

	spec := &ElementSpec{Name: et.TagName, Attributes: map[string]any{}, Children: []NodeSpec{}}
	for _, a := range n.Attr {
		if a.Key == htmlIDAttr {
			spec.Attributes[IDAttribute] = a.Val
			continue
		}
		vp, err := et.ValueProperty(a.Key)
		if err != nil {
			continue
		}
		v, err := parseAttrValue(vp.Type, a.Val)
		if err != nil {
			return NodeSpec{}, &SchemaError{Kind: ErrInvalidValue, Tag: et.TagName, Name: a.Key, Detail: err.Error()}
		}
		spec.Attributes[a.Key] = v
	}
	if _, ok := spec.Attributes[IDAttribute]; !ok {
		spec.Attributes[IDAttribute] = newID()
	}

	if et.TagName == TextTag {
		spec.Children = []NodeSpec{{Text: &TextSpec{Delta: importRuns(n)}}}
		return NodeSpec{Element: spec}, nil
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		child, err := importElement(schema, et, c)
		if err != nil {
			return NodeSpec{}, err
		}
		spec.Children = append(spec.Children, child)
	}
	return NodeSpec{Element: spec}, nil
}

func parseAttrValue(t ValueType, s string) (any, error) {
	switch t {
	case TypeNumber:
		return strconv.ParseFloat(s, 64)
	case TypeBoolean:
		if s == "" {
			return true, nil
		}
		return strconv.ParseBool(s)
	case TypeNull:
		return nil, nil
	}
	return s, nil
}

// importRuns turns the content of a text element into runs: bare text is
// unformatted and each span's data-* attributes become run attributes.
func importRuns(n *html.Node) []Run {
	runs := []Run{}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			runs = append(runs, Run{Insert: c.Data, Attributes: map[string]any{}})
		case html.ElementNode:
			attrs := map[string]any{}
			for _, a := range c.Attr {
				if k, ok := strings.CutPrefix(a.Key, htmlDataPrefix); ok {
					attrs[k] = decodeDataValue(a.Val)
				}
			}
			runs = append(runs, Run{Insert: textContent(c), Attributes: attrs})
		}
	}
	return runs
}

func decodeDataValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textContent(c))
	}
	return sb.String()
}
