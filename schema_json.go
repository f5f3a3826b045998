package meshdoc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const defsRefPrefix = "#/$defs/"

// The wire layout is consumed by the backend; field names must not change.
type jsonSchema struct {
	RootTagRef string              `json:"$root_tag_ref"`
	Defs       map[string]*jsonDef `json:"$defs"`
}

type jsonDef struct {
	Type                 string                  `json:"type"`
	AdditionalProperties bool                    `json:"additionalProperties"`
	Required             []string                `json:"required"`
	Properties           map[string]*jsonElement `json:"properties"`
}

type jsonElement struct {
	Type                 string                   `json:"type"`
	Description          string                   `json:"description,omitempty"`
	AdditionalProperties bool                     `json:"additionalProperties"`
	Required             []string                 `json:"required,omitempty"`
	Properties           map[string]*jsonProperty `json:"properties"`
}

type jsonProperty struct {
	Type        string     `json:"type"`
	Description string     `json:"description,omitempty"`
	Enum        []any      `json:"enum,omitempty"`
	PrefixItems *[]jsonRef `json:"prefixItems,omitempty"`
	Items       *jsonItems `json:"items,omitempty"`
}

type jsonItems struct {
	AnyOf []jsonRef `json:"anyOf"`
}

type jsonRef struct {
	Ref string `json:"$ref"`
}

func tagRef(tag string) jsonRef {
	return jsonRef{Ref: defsRefPrefix + tag}
}

func refTag(ref string) (string, error) {
	tag, ok := strings.CutPrefix(ref, defsRefPrefix)
	if !ok || tag == "" {
		return "", &SchemaError{Kind: ErrInvalidReference, Detail: fmt.Sprintf("malformed reference %q", ref)}
	}
	return tag, nil
}

// ToJSON serializes the schema into its JSON-Schema-like wire form.
func (s *MeshSchema) ToJSON() ([]byte, error) {
	out := jsonSchema{
		RootTagRef: tagRef(s.RootTagName).Ref,
		Defs:       make(map[string]*jsonDef, len(s.order)),
	}
	for _, tag := range s.order {
		et := s.elements[tag]
		el := &jsonElement{
			Type:        "object",
			Description: et.Description,
			Properties:  make(map[string]*jsonProperty, len(et.Properties)),
		}
		for _, p := range et.Properties {
			switch v := p.(type) {
			case *ValueProperty:
				el.Properties[v.Name] = &jsonProperty{Type: string(v.Type), Description: v.Description, Enum: v.Enum}
				if v.Required {
					el.Required = append(el.Required, v.Name)
				}
			case *ChildProperty:
				refs := make([]jsonRef, 0, len(v.ChildTagNames))
				for _, t := range v.ChildTagNames {
					refs = append(refs, tagRef(t))
				}
				jp := &jsonProperty{Type: "array", Description: v.Description}
				if v.Ordered {
					jp.PrefixItems = &refs
				} else {
					jp.Items = &jsonItems{AnyOf: refs}
				}
				el.Properties[v.Name] = jp
			}
		}
		out.Defs[tag] = &jsonDef{
			Type:       "object",
			Required:   []string{tag},
			Properties: map[string]*jsonElement{tag: el},
		}
	}
	return json.MarshalIndent(out, "", "  ")
}

// SchemaFromJSON parses and validates a schema in wire form.
func SchemaFromJSON(data []byte) (*MeshSchema, error) {
	var in jsonSchema
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("failed to decode schema: %w", err)
	}
	rootTag, err := refTag(in.RootTagRef)
	if err != nil {
		return nil, err
	}

	tags := make([]string, 0, len(in.Defs))
	for tag := range in.Defs {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	types := make([]*ElementType, 0, len(tags))
	for _, tag := range tags {
		def := in.Defs[tag]
		if def == nil {
			return nil, &SchemaError{Kind: ErrInvalidReference, Tag: tag, Detail: "empty definition"}
		}
		el, ok := def.Properties[tag]
		if !ok || el == nil {
			return nil, &SchemaError{Kind: ErrInvalidReference, Tag: tag, Detail: "definition does not wrap its tag"}
		}
		et, err := elementTypeFromJSON(tag, el)
		if err != nil {
			return nil, err
		}
		types = append(types, et)
	}
	return NewMeshSchema(rootTag, types...)
}

func elementTypeFromJSON(tag string, el *jsonElement) (*ElementType, error) {
	names := make([]string, 0, len(el.Properties))
	for name := range el.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	required := make(map[string]bool, len(el.Required))
	for _, r := range el.Required {
		required[r] = true
	}

	props := make([]Property, 0, len(names))
	for _, name := range names {
		jp := el.Properties[name]
		if jp.Type != "array" {
			props = append(props, &ValueProperty{
				Name:        name,
				Type:        ValueType(jp.Type),
				Enum:        jp.Enum,
				Required:    required[name],
				Description: jp.Description,
			})
			continue
		}
		cp := &ChildProperty{Name: name, Description: jp.Description}
		// prefixItems marks an ordered property even when it is empty.
		var refs []jsonRef
		if jp.PrefixItems != nil {
			cp.Ordered = true
			refs = *jp.PrefixItems
		} else if jp.Items != nil {
			refs = jp.Items.AnyOf
		}
		for _, r := range refs {
			t, err := refTag(r.Ref)
			if err != nil {
				return nil, err
			}
			cp.ChildTagNames = append(cp.ChildTagNames, t)
		}
		props = append(props, cp)
	}
	return NewElementType(tag, el.Description, props...)
}

// LoadSchemaFile reads a schema from a .json, .yaml or .yml file. YAML files
// use the same layout as the JSON wire form.
func LoadSchemaFile(path string) (*MeshSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("failed to convert %s: %w", path, err)
		}
	}
	return SchemaFromJSON(data)
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}
