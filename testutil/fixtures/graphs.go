// =============================================================================
// 📦 测试数据工厂 - 工作流图
// =============================================================================
// 提供构造节点、引用与边的简写，以及常用的图样例
// =============================================================================
package fixtures

import (
	"fmt"

	"github.com/BaSui01/flowengine/workflow"
)

// =============================================================================
// 🧩 节点与引用
// =============================================================================

// Ref 构造指向 nodeID 输出的引用
func Ref(nodeID string, path ...string) *workflow.SourceKey {
	return &workflow.SourceKey{NodeID: nodeID, Path: path}
}

// Map 构造一条输入/输出映射
func Map(key, nodeID string, path ...string) workflow.Mapping {
	return workflow.Mapping{Key: key, Source: Ref(nodeID, path...)}
}

// Base 构造节点公共字段
func Base(id, name string) workflow.NodeBase {
	return workflow.NodeBase{ID: id, Name: name}
}

// Input 构造 Input 节点，fields 声明的字段均为无类型属性
func Input(id string, fields ...string) *workflow.InputNode {
	n := &workflow.InputNode{NodeBase: Base(id, "input")}
	props := make([]workflow.Property, 0, len(fields))
	for _, f := range fields {
		props = append(props, workflow.Prop(f, &workflow.Schema{}))
	}
	n.OutputSchema = workflow.ObjectSchema(props...)
	return n
}

// Output 构造 Output 节点
func Output(id string, data ...workflow.Mapping) *workflow.OutputNode {
	return &workflow.OutputNode{NodeBase: Base(id, "output"), OutputData: data}
}

// Template 构造 Template 节点
func Template(id, name, text string) *workflow.TemplateNode {
	return &workflow.TemplateNode{NodeBase: Base(id, name), Template: workflow.Text(text)}
}

// =============================================================================
// 🔗 边
// =============================================================================

// Edge 构造一条普通边
func Edge(source, target string) workflow.Edge {
	return workflow.Edge{ID: fmt.Sprintf("%s->%s", source, target), Source: source, Target: target}
}

// HandleEdge 构造带 sourceHandle 的边（Condition 分支或 Loop 的 done）
func HandleEdge(source, handle, target string) workflow.Edge {
	return workflow.Edge{
		ID:           fmt.Sprintf("%s:%s->%s", source, handle, target),
		Source:       source,
		Target:       target,
		SourceHandle: handle,
	}
}

// Chain 按顺序连接节点
func Chain(nodes ...workflow.Node) []workflow.Edge {
	edges := make([]workflow.Edge, 0, len(nodes))
	for i := 1; i < len(nodes); i++ {
		edges = append(edges, Edge(nodes[i-1].Base().ID, nodes[i].Base().ID))
	}
	return edges
}

// Linear 构造 nodes 依次相连的图
func Linear(nodes ...workflow.Node) *workflow.Graph {
	return workflow.NewGraph(nodes, Chain(nodes...))
}

// =============================================================================
// 🎯 常用图样例
// =============================================================================

// EchoGraph 把输入字段 message 原样输出为 result
func EchoGraph() *workflow.Graph {
	return Linear(
		Input("in", "message"),
		Output("out", Map("result", "in", "message")),
	)
}

// GreetingGraph 用模板拼接输入字段 name
func GreetingGraph() *workflow.Graph {
	return Linear(
		Input("in", "name"),
		Template("greet", "greet", "Hello, {{input.name}}!"),
		Output("out", Map("greeting", "greet", "template")),
	)
}
