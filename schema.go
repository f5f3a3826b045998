package meshdoc

import (
	"fmt"
	"slices"
	"sort"
)

// IDAttribute is the stable identity attribute carried by every element.
const IDAttribute = "$id"

// TextTag is the tag of elements whose sole child is a TextElement.
const TextTag = "text"

// ValueType is the JSON type accepted by a ValueProperty.
type ValueType string

const (
	TypeNumber  ValueType = "number"
	TypeString  ValueType = "string"
	TypeBoolean ValueType = "boolean"
	TypeNull    ValueType = "null"
)

func (t ValueType) valid() bool {
	switch t {
	case TypeNumber, TypeString, TypeBoolean, TypeNull:
		return true
	}
	return false
}

// Property is either a *ValueProperty or a *ChildProperty.
type Property interface {
	PropertyName() string
	isProperty()
}

// ValueProperty constrains a scalar attribute.
type ValueProperty struct {
	Name        string
	Type        ValueType
	Enum        []any
	Required    bool
	Description string
}

func (p *ValueProperty) PropertyName() string { return p.Name }
func (*ValueProperty) isProperty()            {}

// ChildProperty declares which element types may nest under an element and
// whether their relative order is fixed.
type ChildProperty struct {
	Name          string
	ChildTagNames []string
	Ordered       bool
	Description   string
}

func (p *ChildProperty) PropertyName() string { return p.Name }
func (*ChildProperty) isProperty()            {}

// Allows reports whether tag may appear under this property.
func (p *ChildProperty) Allows(tag string) bool {
	return slices.Contains(p.ChildTagNames, tag)
}

// ElementType describes one tag of a schema.
type ElementType struct {
	TagName     string
	Description string
	Properties  []Property

	byName map[string]Property
	child  *ChildProperty
}

// NewElementType builds an element type. At most one property may be a
// ChildProperty and property names must be unique.
func NewElementType(tag, description string, props ...Property) (*ElementType, error) {
	if tag == "" {
		return nil, &SchemaError{Kind: ErrInvalidReference, Detail: "empty tag name"}
	}
	et := &ElementType{
		TagName:     tag,
		Description: description,
		byName:      make(map[string]Property, len(props)),
	}
	for _, p := range props {
		name := p.PropertyName()
		if name == "" || name == IDAttribute {
			return nil, &SchemaError{Kind: ErrInvalidReference, Tag: tag, Name: name, Detail: "reserved or empty property name"}
		}
		if _, dup := et.byName[name]; dup {
			return nil, schemaErr(ErrDuplicateProperty, tag, name)
		}
		switch v := p.(type) {
		case *ChildProperty:
			if et.child != nil {
				return nil, schemaErr(ErrDuplicateChildProperty, tag, name)
			}
			v.ChildTagNames = dedupe(v.ChildTagNames)
			et.child = v
		case *ValueProperty:
			if !v.Type.valid() {
				return nil, &SchemaError{Kind: ErrInvalidValue, Tag: tag, Name: name, Detail: fmt.Sprintf("unsupported type %q", v.Type)}
			}
		}
		et.byName[name] = p
		et.Properties = append(et.Properties, p)
	}
	return et, nil
}

func dedupe(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

// Property returns the named property.
func (et *ElementType) Property(name string) (Property, error) {
	p, ok := et.byName[name]
	if !ok {
		return nil, schemaErr(ErrUnknownAttribute, et.TagName, name)
	}
	return p, nil
}

// ValueProperty returns the named scalar property.
func (et *ElementType) ValueProperty(name string) (*ValueProperty, error) {
	p, err := et.Property(name)
	if err != nil {
		return nil, err
	}
	vp, ok := p.(*ValueProperty)
	if !ok {
		return nil, schemaErr(ErrUnknownAttribute, et.TagName, name)
	}
	return vp, nil
}

// ChildProperty returns the child property, or nil when the type is a leaf.
func (et *ElementType) ChildProperty() *ChildProperty {
	return et.child
}

// ChildPropertyName returns the name of the child property, or "".
func (et *ElementType) ChildPropertyName() string {
	if et.child == nil {
		return ""
	}
	return et.child.Name
}

// AllowsChild reports whether tag may be nested directly under this type.
func (et *ElementType) AllowsChild(tag string) bool {
	return et.child != nil && et.child.Allows(tag)
}

// ValidateValue checks value against the named scalar property.
func (et *ElementType) ValidateValue(name string, value any) error {
	vp, err := et.ValueProperty(name)
	if err != nil {
		return err
	}
	if !matchesType(vp.Type, value) {
		return &SchemaError{Kind: ErrInvalidValue, Tag: et.TagName, Name: name, Detail: fmt.Sprintf("want %s, got %T", vp.Type, value)}
	}
	if len(vp.Enum) > 0 && !enumContains(vp.Enum, value) {
		return &SchemaError{Kind: ErrInvalidValue, Tag: et.TagName, Name: name, Detail: fmt.Sprintf("%v not in enum", value)}
	}
	return nil
}

// ValidateAttributes checks every key of attrs except $id. When creating is
// true, required properties must also be present.
func (et *ElementType) ValidateAttributes(attrs map[string]any, creating bool) error {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == IDAttribute {
			continue
		}
		if err := et.ValidateValue(k, attrs[k]); err != nil {
			return err
		}
	}
	if !creating {
		return nil
	}
	for _, p := range et.Properties {
		vp, ok := p.(*ValueProperty)
		if !ok || !vp.Required {
			continue
		}
		if _, present := attrs[vp.Name]; !present {
			return schemaErr(ErrMissingAttribute, et.TagName, vp.Name)
		}
	}
	return nil
}

func matchesType(t ValueType, v any) bool {
	switch t {
	case TypeNull:
		return v == nil
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeNumber:
		switch v.(type) {
		case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		}
	}
	return false
}

func enumContains(enum []any, v any) bool {
	for _, e := range enum {
		if e == v {
			return true
		}
		if ef, ok := toFloat(e); ok {
			if vf, ok := toFloat(v); ok && ef == vf {
				return true
			}
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// MeshSchema is an immutable set of element types with a designated root.
type MeshSchema struct {
	RootTagName string

	elements map[string]*ElementType
	order    []string
}

// NewMeshSchema builds and validates a schema. It fails fast on duplicate
// tags and on references to undeclared tags.
func NewMeshSchema(rootTag string, types ...*ElementType) (*MeshSchema, error) {
	s := &MeshSchema{
		RootTagName: rootTag,
		elements:    make(map[string]*ElementType, len(types)),
	}
	for _, et := range types {
		if _, dup := s.elements[et.TagName]; dup {
			return nil, schemaErr(ErrDuplicateTag, et.TagName, "")
		}
		s.elements[et.TagName] = et
		s.order = append(s.order, et.TagName)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks that the root tag and every child reference resolve.
func (s *MeshSchema) Validate() error {
	if _, ok := s.elements[s.RootTagName]; !ok {
		return &SchemaError{Kind: ErrInvalidReference, Tag: s.RootTagName, Detail: "root tag is not declared"}
	}
	for _, tag := range s.order {
		cp := s.elements[tag].child
		if cp == nil {
			continue
		}
		for _, ref := range cp.ChildTagNames {
			if _, ok := s.elements[ref]; !ok {
				return &SchemaError{Kind: ErrInvalidReference, Tag: tag, Name: cp.Name, Detail: fmt.Sprintf("undeclared child tag %q", ref)}
			}
		}
	}
	return nil
}

// Element returns the element type declared for tag.
func (s *MeshSchema) Element(tag string) (*ElementType, error) {
	et, ok := s.elements[tag]
	if !ok {
		return nil, schemaErr(ErrUnknownTag, tag, "")
	}
	return et, nil
}

// Root returns the root element type.
func (s *MeshSchema) Root() *ElementType {
	return s.elements[s.RootTagName]
}

// Tags returns the declared tags in declaration order.
func (s *MeshSchema) Tags() []string {
	return slices.Clone(s.order)
}
