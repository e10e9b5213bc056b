package workflow

import "sync"

// Edge is a directed dependency between two nodes. SourceHandle selects a
// Condition branch, or marks the "done" continuation of a Loop.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
}

// Graph is the immutable description of a run. Build it once and do not
// mutate Nodes or Edges afterwards; lookups are indexed on first use.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`

	once   sync.Once
	byID   map[string]Node
	byName map[string]Node
	out    map[string][]Edge
	in     map[string][]Edge
	bodies sync.Map // loop id -> map[string]bool
}

// NewGraph builds a graph from nodes and edges.
func NewGraph(nodes []Node, edges []Edge) *Graph {
	return &Graph{Nodes: nodes, Edges: edges}
}

func (g *Graph) index() {
	g.once.Do(func() {
		g.byID = make(map[string]Node, len(g.Nodes))
		g.byName = make(map[string]Node, len(g.Nodes))
		g.out = make(map[string][]Edge)
		g.in = make(map[string][]Edge)
		for _, n := range g.Nodes {
			b := n.Base()
			g.byID[b.ID] = n
			if n.Kind() == KindNote {
				continue
			}
			if _, dup := g.byName[b.Name]; !dup {
				g.byName[b.Name] = n
			}
		}
		for _, e := range g.Edges {
			g.out[e.Source] = append(g.out[e.Source], e)
			g.in[e.Target] = append(g.in[e.Target], e)
		}
	})
}

// Node returns the node with id.
func (g *Graph) Node(id string) (Node, bool) {
	g.index()
	n, ok := g.byID[id]
	return n, ok
}

// NodeByName returns the first non-note node named name.
func (g *Graph) NodeByName(name string) (Node, bool) {
	g.index()
	n, ok := g.byName[name]
	return n, ok
}

// OutEdges returns the edges leaving id.
func (g *Graph) OutEdges(id string) []Edge {
	g.index()
	return g.out[id]
}

// InEdges returns the edges entering id.
func (g *Graph) InEdges(id string) []Edge {
	g.index()
	return g.in[id]
}

// NodesOfKind returns the nodes of kind in declaration order.
func (g *Graph) NodesOfKind(kind Kind) []Node {
	var out []Node
	for _, n := range g.Nodes {
		if n.Kind() == kind {
			out = append(out, n)
		}
	}
	return out
}

// InputNode returns the single Input node, if present.
func (g *Graph) InputNode() (Node, bool) {
	nodes := g.NodesOfKind(KindInput)
	if len(nodes) == 0 {
		return nil, false
	}
	return nodes[0], true
}

// OutputNode returns the single Output node, if present.
func (g *Graph) OutputNode() (Node, bool) {
	nodes := g.NodesOfKind(KindOutput)
	if len(nodes) == 0 {
		return nil, false
	}
	return nodes[0], true
}

// LoopBody returns the ids of every node reachable from the body edges of
// the loop, i.e. its out-edges other than the "done" continuation.
func (g *Graph) LoopBody(loopID string) map[string]bool {
	if cached, ok := g.bodies.Load(loopID); ok {
		return cached.(map[string]bool)
	}
	body := make(map[string]bool)
	var stack []string
	for _, e := range g.OutEdges(loopID) {
		if e.SourceHandle != LoopDoneHandle {
			stack = append(stack, e.Target)
		}
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if body[id] || id == loopID {
			continue
		}
		body[id] = true
		for _, e := range g.OutEdges(id) {
			stack = append(stack, e.Target)
		}
	}
	g.bodies.Store(loopID, body)
	return body
}
