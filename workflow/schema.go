package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// SchemaType is the JSON type a schema describes.
type SchemaType string

const (
	SchemaObject  SchemaType = "object"
	SchemaArray   SchemaType = "array"
	SchemaString  SchemaType = "string"
	SchemaNumber  SchemaType = "number"
	SchemaInteger SchemaType = "integer"
	SchemaBoolean SchemaType = "boolean"
	SchemaNull    SchemaType = "null"
)

// MaxIdentifierLength bounds variable names used as schema keys.
const MaxIdentifierLength = 255

var identifierPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// Schema describes the shape of a node output. It is a subset of JSON Schema
// and is passed as-is to schema-constrained model generation.
type Schema struct {
	Type        SchemaType `json:"type"`
	Description string     `json:"description,omitempty"`
	Properties  Properties `json:"properties,omitempty"`
	Items       *Schema    `json:"items,omitempty"`
	Enum        []any      `json:"enum,omitempty"`
}

// Property is one named member of an object schema.
type Property struct {
	Key    string
	Schema *Schema
}

// Properties keeps object members in declaration order. Duplicate keys survive
// decoding so that ValidateSchema can reject them.
type Properties []Property

// UnmarshalJSON decodes a JSON object token by token to preserve order and duplicates.
func (p *Properties) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*p = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("schema properties must be an object")
	}

	var out Properties
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("schema property key must be a string")
		}
		var s Schema
		if err := dec.Decode(&s); err != nil {
			return fmt.Errorf("property %q: %w", key, err)
		}
		out = append(out, Property{Key: key, Schema: &s})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*p = out
	return nil
}

// MarshalJSON encodes members in declaration order.
func (p Properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, prop := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(prop.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(prop.Schema)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Get returns the first property named key.
func (p Properties) Get(key string) (*Schema, bool) {
	for _, prop := range p {
		if prop.Key == key {
			return prop.Schema, true
		}
	}
	return nil, false
}

// ObjectSchema builds an object schema from key/schema pairs.
func ObjectSchema(props ...Property) *Schema {
	return &Schema{Type: SchemaObject, Properties: props}
}

// Prop is shorthand for a Property.
func Prop(key string, s *Schema) Property {
	return Property{Key: key, Schema: s}
}

// ScalarSchema builds a schema of a single type.
func ScalarSchema(t SchemaType) *Schema {
	return &Schema{Type: t}
}

// ArraySchema builds an array schema.
func ArraySchema(items *Schema) *Schema {
	return &Schema{Type: SchemaArray, Items: items}
}

// Lookup walks path through the declared schema. Array segments must be
// non-negative indexes. It reports false when the path leaves the schema.
func (s *Schema) Lookup(path []string) (*Schema, bool) {
	cur := s
	for _, seg := range path {
		if cur == nil {
			return nil, false
		}
		switch cur.Type {
		case "":
			// untyped: the shape is not declared, so any path is accepted
			return &Schema{}, true
		case SchemaObject:
			if len(cur.Properties) == 0 {
				return &Schema{}, true
			}
			next, ok := cur.Properties.Get(seg)
			if !ok {
				return nil, false
			}
			cur = next
		case SchemaArray:
			if i, err := strconv.Atoi(seg); err != nil || i < 0 {
				return nil, false
			}
			cur = cur.Items
			if cur == nil {
				return &Schema{}, true
			}
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}

// SourceKey points into another node's output: node id plus a path of
// object keys and array indexes.
type SourceKey struct {
	NodeID string   `json:"nodeId"`
	Path   []string `json:"path"`
}

func (k SourceKey) String() string {
	if len(k.Path) == 0 {
		return k.NodeID
	}
	return k.NodeID + "." + strings.Join(k.Path, ".")
}

// ValidateIdentifier checks a variable name: trimmed, non-empty, at most
// MaxIdentifierLength characters and identifier-shaped.
func ValidateIdentifier(name string) error {
	cleaned := strings.TrimSpace(name)
	if cleaned == "" {
		return fmt.Errorf("variable name must not be empty")
	}
	if len(cleaned) > MaxIdentifierLength {
		return fmt.Errorf("variable name %q exceeds %d characters", cleaned[:32]+"...", MaxIdentifierLength)
	}
	if !identifierPattern.MatchString(cleaned) {
		return fmt.Errorf("variable name %q is not a valid identifier", cleaned)
	}
	return nil
}

// ValidateSchema checks key as a variable name and, for object and array
// schemas, that sibling property keys are unique at every level.
func ValidateSchema(key string, s *Schema) error {
	if err := ValidateIdentifier(key); err != nil {
		return err
	}
	if err := validateSchemaBody(s); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

func validateSchemaBody(s *Schema) error {
	if s == nil {
		return nil
	}
	switch s.Type {
	case SchemaObject:
		seen := make(map[string]struct{}, len(s.Properties))
		for _, prop := range s.Properties {
			k := strings.TrimSpace(prop.Key)
			if _, dup := seen[k]; dup {
				return fmt.Errorf("duplicate property %q", k)
			}
			seen[k] = struct{}{}
			if err := ValidateSchema(prop.Key, prop.Schema); err != nil {
				return err
			}
		}
	case SchemaArray:
		return validateSchemaBody(s.Items)
	}
	return nil
}
