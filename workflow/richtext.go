package workflow

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

// RichText is either a plain string or an editor document whose mentions
// reference other nodes. Both forms may contain {{nodeName.path}} placeholders.
type RichText struct {
	Text string
	Doc  *Document
}

// Document is the editor document form of RichText.
type Document struct {
	Type    string    `json:"type"`
	Content []DocNode `json:"content,omitempty"`
}

// DocNode is a paragraph, text run, mention or hard break.
type DocNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text,omitempty"`
	Attrs   *DocAttrs `json:"attrs,omitempty"`
	Content []DocNode `json:"content,omitempty"`
}

// DocAttrs carries the reference behind a mention.
type DocAttrs struct {
	Source *SourceKey `json:"source,omitempty"`
	Label  string     `json:"label,omitempty"`
}

// Text builds a plain RichText.
func Text(s string) RichText { return RichText{Text: s} }

func (r *RichText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = RichText{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = RichText{Text: s}
		return nil
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	*r = RichText{Doc: &doc}
	return nil
}

func (r RichText) MarshalJSON() ([]byte, error) {
	if r.Doc != nil {
		return json.Marshal(r.Doc)
	}
	return json.Marshal(r.Text)
}

// IsEmpty reports whether the text has no visible content and no mentions.
func (r RichText) IsEmpty() bool {
	if r.Doc == nil {
		return strings.TrimSpace(r.Text) == ""
	}
	return docEmpty(r.Doc.Content)
}

func docEmpty(nodes []DocNode) bool {
	for _, n := range nodes {
		switch n.Type {
		case "mention":
			return false
		case "text":
			if strings.TrimSpace(n.Text) != "" {
				return false
			}
		}
		if !docEmpty(n.Content) {
			return false
		}
	}
	return true
}

// Render resolves mentions and placeholders against state.
func (r RichText) Render(state *RuntimeState) string {
	raw := r.Text
	if r.Doc != nil {
		raw = renderDoc(r.Doc, state)
	}
	return substitute(raw, state)
}

func renderDoc(doc *Document, state *RuntimeState) string {
	blocks := make([]string, 0, len(doc.Content))
	for _, block := range doc.Content {
		var sb strings.Builder
		renderInline(&sb, block, state)
		blocks = append(blocks, sb.String())
	}
	return strings.Join(blocks, "\n")
}

func renderInline(sb *strings.Builder, n DocNode, state *RuntimeState) {
	switch n.Type {
	case "text":
		sb.WriteString(n.Text)
	case "hardBreak":
		sb.WriteByte('\n')
	case "mention":
		if n.Attrs != nil && n.Attrs.Source != nil {
			sb.WriteString(stringify(state.Resolve(*n.Attrs.Source)))
		}
	}
	for _, child := range n.Content {
		renderInline(sb, child, state)
	}
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// substitute replaces {{nodeName.path}} with the referenced value. Names that
// match no node are left untouched.
func substitute(s string, state *RuntimeState) string {
	if state == nil || !strings.Contains(s, "{{") {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(m string) string {
		expr := placeholderPattern.FindStringSubmatch(m)[1]
		parts := splitPath(expr)
		if len(parts) == 0 {
			return m
		}
		node, ok := state.Graph.NodeByName(parts[0])
		if !ok {
			return m
		}
		return stringify(state.Resolve(SourceKey{NodeID: node.Base().ID, Path: parts[1:]}))
	})
}

// resolveOperand returns the referenced value, or the literal with string
// placeholders substituted.
func resolveOperand(op *Operand, state *RuntimeState) (any, bool) {
	if op == nil {
		return nil, false
	}
	if op.Source != nil {
		return state.Resolve(*op.Source)
	}
	if s, ok := op.Value.(string); ok {
		return substitute(s, state), true
	}
	return op.Value, op.Value != nil
}
