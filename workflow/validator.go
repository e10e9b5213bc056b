package workflow

import (
	"errors"
	"fmt"
	"strings"
)

const (
	maxHTTPTimeoutMs        = 300_000
	maxCodeTimeoutMs        = 30_000
	maxSubWorkflowTimeoutMs = 600_000
	maxApprovalTimeoutMs    = 600_000
	maxDelayMs              = 300_000
	maxLoopIterations       = 1000
)

var httpMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true, "PATCH": true, "HEAD": true,
}

var httpBodyMethods = map[string]bool{"POST": true, "PUT": true, "PATCH": true}

// ValidateAll checks the structural rules of a graph: exactly one Input and
// one Output node, unique names among non-note nodes, and the per-kind rules.
// It returns nil or a *ValidationError.
func ValidateAll(nodes []Node, edges []Edge) error {
	g := NewGraph(nodes, edges)

	if n := len(g.NodesOfKind(KindInput)); n != 1 {
		return &ValidationError{Message: fmt.Sprintf("workflow must have exactly one input node, found %d", n)}
	}
	if n := len(g.NodesOfKind(KindOutput)); n != 1 {
		return &ValidationError{Message: fmt.Sprintf("workflow must have exactly one output node, found %d", n)}
	}

	names := make(map[string]string, len(nodes))
	for _, n := range nodes {
		if n.Kind() == KindNote {
			continue
		}
		b := n.Base()
		if other, dup := names[b.Name]; dup {
			return &ValidationError{
				NodeID:   b.ID,
				NodeName: b.Name,
				Message:  fmt.Sprintf("node name %q is already used by node %s", b.Name, other),
			}
		}
		names[b.Name] = b.ID
	}

	for _, n := range nodes {
		if err := validateNode(n, g); err != nil {
			return &ValidationError{NodeID: n.Base().ID, NodeName: n.Base().Name, Message: err.Error()}
		}
	}
	return nil
}

// validateNode dispatches to the kind-specific rules.
func validateNode(n Node, g *Graph) error {
	switch v := n.(type) {
	case *InputNode:
		return validateInput(v, g)
	case *OutputNode:
		return validateOutput(v, g)
	case *LLMNode:
		return validateLLM(v)
	case *ConditionNode:
		return validateCondition(v)
	case *ToolNode:
		return validateTool(v)
	case *HTTPNode:
		return validateHTTP(v)
	case *TemplateNode, *MultiAgentNode, *NoteNode:
		return nil
	case *CodeNode:
		return validateCode(v)
	case *LoopNode:
		return validateLoop(v)
	case *DelayNode:
		return validateDelay(v)
	case *SubWorkflowNode:
		return validateSubWorkflow(v)
	case *StorageNode:
		return validateStorage(v)
	case *ApprovalNode:
		return validateApproval(v)
	}
	return fmt.Errorf("unsupported node kind %q", n.Kind())
}

func validateInput(n *InputNode, g *Graph) error {
	if len(g.OutEdges(n.ID)) == 0 {
		return errors.New("input node must have at least one outgoing edge")
	}
	if n.OutputSchema == nil {
		return nil
	}
	for _, prop := range n.OutputSchema.Properties {
		if err := ValidateSchema(prop.Key, prop.Schema); err != nil {
			return fmt.Errorf("invalid input field: %w", err)
		}
	}
	if err := validateSchemaBody(n.OutputSchema); err != nil {
		return fmt.Errorf("invalid input schema: %w", err)
	}
	return nil
}

func validateOutput(n *OutputNode, g *Graph) error {
	seen := make(map[string]bool, len(n.OutputData))
	for i, d := range n.OutputData {
		if err := ValidateIdentifier(d.Key); err != nil {
			return fmt.Errorf("output %d: %w", i, err)
		}
		key := strings.TrimSpace(d.Key)
		if seen[key] {
			return fmt.Errorf("duplicate output key %q", key)
		}
		seen[key] = true

		if d.Source == nil || len(d.Source.Path) == 0 {
			return fmt.Errorf("output %q must reference a source with a non-empty path", key)
		}
		src, ok := g.Node(d.Source.NodeID)
		if !ok {
			return fmt.Errorf("output %q references unknown node %s", key, d.Source.NodeID)
		}
		schema := schemaOf(src)
		if schema == nil {
			return fmt.Errorf("output %q references node %q which declares no output", key, src.Base().Name)
		}
		if _, ok := schema.Lookup(d.Source.Path); !ok {
			return fmt.Errorf("output %q: path %s does not exist in the schema of node %q",
				key, strings.Join(d.Source.Path, "."), src.Base().Name)
		}
	}
	return checkOutputChain(g, n.ID)
}

// checkOutputChain walks edges backward from the output node. Every path must
// end at the Input node without revisiting a node on the current path.
func checkOutputChain(g *Graph, outputID string) error {
	visited := make(map[string]bool)
	onPath := make(map[string]bool)
	reachedInput := false

	var walk func(id string) error
	walk = func(id string) error {
		visited[id] = true
		onPath[id] = true
		defer func() { onPath[id] = false }()

		n, ok := g.Node(id)
		if !ok {
			return fmt.Errorf("edge references unknown node %s", id)
		}
		if n.Kind() == KindInput {
			reachedInput = true
			return nil
		}
		in := g.InEdges(id)
		if len(in) == 0 {
			return fmt.Errorf("node %q is not connected to the input node", n.Base().Name)
		}
		for _, e := range in {
			if onPath[e.Source] {
				return fmt.Errorf("cycle detected in graph involving node: %s", e.Source)
			}
			if visited[e.Source] {
				continue
			}
			if err := walk(e.Source); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(outputID); err != nil {
		return err
	}
	if !reachedInput {
		return errors.New("output node is not connected to the input node")
	}
	return nil
}

func validateLLM(n *LLMNode) error {
	if strings.TrimSpace(n.Model) == "" {
		return errors.New("model is required")
	}
	if len(n.Messages) == 0 {
		return errors.New("at least one message is required")
	}
	for i, m := range n.Messages {
		if strings.TrimSpace(m.Role) == "" {
			return fmt.Errorf("message %d: role is required", i)
		}
		if m.Content.IsEmpty() {
			return fmt.Errorf("message %d: content is required", i)
		}
	}
	return nil
}

func validateCondition(n *ConditionNode) error {
	for _, b := range n.Branches {
		if b.Type == BranchElse {
			continue
		}
		for i, c := range b.Conditions {
			if c.Operator == "" {
				return fmt.Errorf("branch %s condition %d: operator is required", b.ID, i)
			}
			if c.Source == nil {
				return fmt.Errorf("branch %s condition %d: source is required", b.ID, i)
			}
		}
	}
	return nil
}

func validateTool(n *ToolNode) error {
	if n.Tool == nil {
		return errors.New("tool is required")
	}
	if strings.TrimSpace(n.Model) == "" {
		return errors.New("model is required")
	}
	if n.Message.IsEmpty() {
		return errors.New("message is required")
	}
	return nil
}

func validateHTTP(n *HTTPNode) error {
	if n.URL == nil {
		return errors.New("url must be defined")
	}
	method := strings.ToUpper(n.Method)
	if !httpMethods[method] {
		return fmt.Errorf("unsupported method %q", n.Method)
	}
	if n.Timeout != nil && (*n.Timeout <= 0 || *n.Timeout > maxHTTPTimeoutMs) {
		return fmt.Errorf("timeout must be between 1 and %d ms", maxHTTPTimeoutMs)
	}
	seen := make(map[string]bool, len(n.Headers))
	for _, h := range n.Headers {
		key := strings.ToLower(strings.TrimSpace(h.Key))
		if key == "" {
			return errors.New("header key must not be empty")
		}
		if seen[key] {
			return fmt.Errorf("duplicate header %q", h.Key)
		}
		seen[key] = true
	}
	if n.Body != nil && !httpBodyMethods[method] {
		return fmt.Errorf("body is not allowed for %s requests", method)
	}
	return nil
}

func validateCode(n *CodeNode) error {
	if n.Language != "javascript" {
		return fmt.Errorf("unsupported language %q", n.Language)
	}
	if strings.TrimSpace(n.Code) == "" {
		return errors.New("code is required")
	}
	if n.Timeout <= 0 || n.Timeout > maxCodeTimeoutMs {
		return fmt.Errorf("timeout must be between 1 and %d ms", maxCodeTimeoutMs)
	}
	seen := make(map[string]bool, len(n.InputMappings))
	for _, m := range n.InputMappings {
		if err := ValidateIdentifier(m.Key); err != nil {
			return fmt.Errorf("input mapping: %w", err)
		}
		key := strings.TrimSpace(m.Key)
		if seen[key] {
			return fmt.Errorf("duplicate input variable %q", key)
		}
		seen[key] = true
	}
	return nil
}

func validateLoop(n *LoopNode) error {
	if n.ArraySource == nil {
		return errors.New("arraySource is required")
	}
	if err := ValidateIdentifier(n.ItemVariable); err != nil {
		return fmt.Errorf("itemVariable: %w", err)
	}
	if n.MaxIterations < 1 || n.MaxIterations > maxLoopIterations {
		return fmt.Errorf("maxIterations must be between 1 and %d", maxLoopIterations)
	}
	if n.Mode != LoopSequential && n.Mode != LoopParallel {
		return fmt.Errorf("unsupported loop mode %q", n.Mode)
	}
	return nil
}

func validateDelay(n *DelayNode) error {
	switch n.DelayType {
	case DelayFixed:
		if n.DelayMs < 0 || n.DelayMs > maxDelayMs {
			return fmt.Errorf("delayMs must be between 0 and %d", maxDelayMs)
		}
	case DelayDynamic:
		if n.DynamicSource == nil {
			return errors.New("dynamicSource is required for dynamic delays")
		}
	default:
		return fmt.Errorf("unsupported delay type %q", n.DelayType)
	}
	return nil
}

func validateSubWorkflow(n *SubWorkflowNode) error {
	if strings.TrimSpace(n.WorkflowID) == "" {
		return errors.New("workflowId is required")
	}
	if n.Timeout <= 0 || n.Timeout > maxSubWorkflowTimeoutMs {
		return fmt.Errorf("timeout must be between 1 and %d ms", maxSubWorkflowTimeoutMs)
	}
	return nil
}

func validateStorage(n *StorageNode) error {
	switch n.Operation {
	case StorageGet, StorageSet, StorageDelete:
		if n.StorageKey.IsEmpty() {
			return fmt.Errorf("storageKey is required for %s", n.Operation)
		}
		if n.Operation == StorageSet && n.StorageValue == nil {
			return errors.New("storageValue is required for set")
		}
	case StorageList:
	default:
		return fmt.Errorf("unsupported storage operation %q", n.Operation)
	}
	if n.TTLMs != nil && *n.TTLMs < 0 {
		return errors.New("ttlMs must not be negative")
	}
	return nil
}

func validateApproval(n *ApprovalNode) error {
	if n.TimeoutMs <= 0 || n.TimeoutMs > maxApprovalTimeoutMs {
		return fmt.Errorf("timeoutMs must be between 1 and %d", maxApprovalTimeoutMs)
	}
	switch n.OnTimeout {
	case TimeoutApprove, TimeoutReject, TimeoutStop:
		return nil
	}
	return fmt.Errorf("unsupported onTimeout %q", n.OnTimeout)
}

// ValidateStructure performs the submit-time graph checks that ValidateAll
// leaves out: node ids are unique, edges reference existing nodes, every
// node other than the Input is reachable from it, and no loop body contains
// the Output.
func ValidateStructure(g *Graph) error {
	ids := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		id := n.Base().ID
		if id == "" {
			return &ValidationError{NodeName: n.Base().Name, Message: "node id is required"}
		}
		if ids[id] {
			return &ValidationError{NodeID: id, Message: "duplicate node id"}
		}
		ids[id] = true
	}
	for _, e := range g.Edges {
		if _, ok := g.Node(e.Source); !ok {
			return &ValidationError{Message: fmt.Sprintf("edge %s references unknown source %s", e.ID, e.Source)}
		}
		if _, ok := g.Node(e.Target); !ok {
			return &ValidationError{Message: fmt.Sprintf("edge %s references unknown target %s", e.ID, e.Target)}
		}
	}

	input, ok := g.InputNode()
	if !ok {
		return &ValidationError{Message: "workflow has no input node"}
	}
	reachable := map[string]bool{input.Base().ID: true}
	queue := []string{input.Base().ID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range g.OutEdges(id) {
			if !reachable[e.Target] {
				reachable[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
	}
	for _, n := range g.Nodes {
		if n.Kind() == KindNote || reachable[n.Base().ID] {
			continue
		}
		return &ValidationError{NodeID: n.Base().ID, NodeName: n.Base().Name, Message: "node is not reachable from the input node"}
	}

	if out, ok := g.OutputNode(); ok {
		for _, loop := range g.NodesOfKind(KindLoop) {
			if g.LoopBody(loop.Base().ID)[out.Base().ID] {
				return &ValidationError{
					NodeID:   loop.Base().ID,
					NodeName: loop.Base().Name,
					Message:  "loop body must not contain the output node; connect it through the \"done\" handle",
				}
			}
		}
	}
	return nil
}
