package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// graphJSON is the wire form of a Graph.
type graphJSON struct {
	Nodes []json.RawMessage `json:"nodes"`
	Edges []Edge            `json:"edges"`
}

// UnmarshalJSON decodes {"nodes": [...], "edges": [...]}; each node is
// decoded into the variant named by its "kind" field.
func (g *Graph) UnmarshalJSON(data []byte) error {
	var raw graphJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to unmarshal graph: %w", err)
	}
	nodes := make([]Node, 0, len(raw.Nodes))
	for i, rn := range raw.Nodes {
		n, err := UnmarshalNode(rn)
		if err != nil {
			return fmt.Errorf("node %d: %w", i, err)
		}
		nodes = append(nodes, n)
	}
	if raw.Edges == nil {
		raw.Edges = []Edge{}
	}
	*g = Graph{Nodes: nodes, Edges: raw.Edges}
	return nil
}

// MarshalJSON encodes every node with its "kind" discriminator.
func (g *Graph) MarshalJSON() ([]byte, error) {
	out := graphJSON{Nodes: make([]json.RawMessage, 0, len(g.Nodes)), Edges: g.Edges}
	if out.Edges == nil {
		out.Edges = []Edge{}
	}
	for _, n := range g.Nodes {
		data, err := MarshalNode(n)
		if err != nil {
			return nil, err
		}
		out.Nodes = append(out.Nodes, data)
	}
	return json.Marshal(out)
}

// UnmarshalNode decodes a single node object.
func UnmarshalNode(data []byte) (Node, error) {
	var head struct {
		Kind Kind `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to unmarshal node: %w", err)
	}
	if head.Kind == "" {
		return nil, fmt.Errorf("node kind is required")
	}
	n, ok := newNode(head.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown node kind %q", head.Kind)
	}
	if err := json.Unmarshal(data, n); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s node: %w", head.Kind, err)
	}
	return n, nil
}

// MarshalNode encodes n with a leading "kind" field.
func MarshalNode(n Node) ([]byte, error) {
	body, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal node %s: %w", n.Base().ID, err)
	}
	kind, _ := json.Marshal(n.Kind())

	var buf bytes.Buffer
	buf.WriteString(`{"kind":`)
	buf.Write(kind)
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ParseGraphJSON decodes a graph definition from JSON.
func ParseGraphJSON(data []byte) (*Graph, error) {
	g := &Graph{}
	if err := json.Unmarshal(data, g); err != nil {
		return nil, err
	}
	return g, nil
}

// ParseGraphYAML decodes a graph definition from YAML. The document uses the
// same field names as the JSON form.
func ParseGraphYAML(data []byte) (*Graph, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal from YAML: %w", err)
	}
	normalized, err := normalizeYAML(doc)
	if err != nil {
		return nil, err
	}
	js, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to convert YAML graph: %w", err)
	}
	return ParseGraphJSON(js)
}

// LoadGraphFile reads a graph from a .json, .yaml or .yml file.
func LoadGraphFile(filename string) (*Graph, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return ParseGraphYAML(data)
	default:
		return ParseGraphJSON(data)
	}
}

// normalizeYAML converts map[any]any produced for non-string keys into
// map[string]any so the value can be re-encoded as JSON.
func normalizeYAML(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		for k, el := range t {
			n, err := normalizeYAML(el)
			if err != nil {
				return nil, err
			}
			t[k] = n
		}
		return t, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, el := range t {
			n, err := normalizeYAML(el)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(k)] = n
		}
		return out, nil
	case []any:
		for i, el := range t {
			n, err := normalizeYAML(el)
			if err != nil {
				return nil, err
			}
			t[i] = n
		}
		return t, nil
	}
	return v, nil
}
