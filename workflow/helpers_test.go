package workflow

import (
	"fmt"
	"testing"

	"go.uber.org/zap"
)

func ref(nodeID string, path ...string) *SourceKey {
	return &SourceKey{NodeID: nodeID, Path: path}
}

func inputNode(id string, fields ...string) *InputNode {
	props := make([]Property, 0, len(fields))
	for _, f := range fields {
		props = append(props, Prop(f, &Schema{}))
	}
	n := &InputNode{NodeBase: NodeBase{ID: id, Name: "input"}}
	n.OutputSchema = ObjectSchema(props...)
	return n
}

func outputNode(id string, data ...Mapping) *OutputNode {
	return &OutputNode{NodeBase: NodeBase{ID: id, Name: "output"}, OutputData: data}
}

func mapping(key, nodeID string, path ...string) Mapping {
	return Mapping{Key: key, Source: ref(nodeID, path...)}
}

func templateNode(id, text string) *TemplateNode {
	return &TemplateNode{NodeBase: NodeBase{ID: id, Name: id}, Template: Text(text)}
}

func edge(source, target string) Edge {
	return Edge{ID: fmt.Sprintf("%s->%s", source, target), Source: source, Target: target}
}

func handleEdge(source, handle, target string) Edge {
	return Edge{ID: fmt.Sprintf("%s:%s->%s", source, handle, target), Source: source, Target: target, SourceHandle: handle}
}

func chain(nodes ...Node) []Edge {
	var edges []Edge
	for i := 1; i < len(nodes); i++ {
		edges = append(edges, edge(nodes[i-1].Base().ID, nodes[i].Base().ID))
	}
	return edges
}

func newTestEngine(t *testing.T, deps Dependencies, opts ...Option) *Engine {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return NewEngine(deps, opts...)
}
