package workflow

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// plan is the set of nodes one driver pass schedules. The main plan holds
// every executable node outside loop bodies; a body plan holds the body of
// one loop, minus the bodies of loops nested in it.
type plan struct {
	nodes     []Node
	member    map[string]bool
	hasOutput bool
}

// newPlan builds a plan from scope; a nil scope means the whole graph.
func newPlan(g *Graph, scope map[string]bool) *plan {
	p := &plan{member: make(map[string]bool)}
	for _, n := range g.Nodes {
		id := n.Base().ID
		if n.Kind() == KindNote || (scope != nil && !scope[id]) {
			continue
		}
		p.member[id] = true
	}
	for _, n := range g.Nodes {
		if n.Kind() != KindLoop || !p.member[n.Base().ID] {
			continue
		}
		for id := range g.LoopBody(n.Base().ID) {
			delete(p.member, id)
		}
	}
	for _, n := range g.Nodes {
		if p.member[n.Base().ID] {
			p.nodes = append(p.nodes, n)
			if n.Kind() == KindOutput {
				p.hasOutput = true
			}
		}
	}
	return p
}

// sinks returns the plan nodes with no out-edge inside the plan.
func (p *plan) sinks(g *Graph) []Node {
	var out []Node
	for _, n := range p.nodes {
		internal := false
		for _, e := range g.OutEdges(n.Base().ID) {
			if p.member[e.Target] {
				internal = true
				break
			}
		}
		if !internal {
			out = append(out, n)
		}
	}
	return out
}

// edgeLive reports whether edge carries control after source succeeded with
// output. Condition edges follow the winning branch; in a plan, Loop edges
// only continue through the "done" handle.
func edgeLive(source Node, edge Edge, output any) bool {
	switch source.Kind() {
	case KindCondition:
		branch := branchOf(output)
		return branch != "" && edge.SourceHandle == branch
	case KindLoop:
		return edge.SourceHandle == LoopDoneHandle
	}
	return true
}

func branchOf(output any) string {
	m, _ := output.(map[string]any)
	branch, _ := m["branch"].(string)
	return branch
}

type completion struct {
	node   Node
	output any
	err    error
}

// runPlan executes p against state. A node becomes ready once every in-edge
// from inside the plan is decided; it runs if at least one of them is live
// and is skipped otherwise. The first failure cancels the plan and waits for
// in-flight nodes. After the Output node runs nothing new is dispatched.
func (e *Engine) runPlan(ctx context.Context, state *RuntimeState, p *plan) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g := state.Graph
	pending := make(map[string]int, len(p.nodes))
	live := make(map[string]bool, len(p.nodes))
	decided := make(map[string]bool, len(p.nodes))
	var ready []Node
	var skipped []string

	for _, n := range p.nodes {
		id := n.Base().ID
		for _, edge := range g.InEdges(id) {
			if p.member[edge.Source] {
				pending[id]++
			}
		}
		if pending[id] == 0 {
			ready = append(ready, n)
		}
	}

	var settle func(n Node, succeeded bool, output any)
	settle = func(n Node, succeeded bool, output any) {
		decided[n.Base().ID] = true
		if succeeded && n.Kind() == KindCondition && branchOf(output) == "" {
			e.logger.Warn("condition produced no branch, every outgoing edge is pruned",
				zap.String("run_id", state.RunID),
				zap.String("node_id", n.Base().ID))
		}
		for _, edge := range g.OutEdges(n.Base().ID) {
			if !p.member[edge.Target] || decided[edge.Target] {
				continue
			}
			pending[edge.Target]--
			if succeeded && edgeLive(n, edge, output) {
				live[edge.Target] = true
			}
			if pending[edge.Target] > 0 {
				continue
			}
			target, _ := g.Node(edge.Target)
			if live[edge.Target] {
				ready = append(ready, target)
				continue
			}
			e.logger.Debug("skipping node on untaken branch",
				zap.String("run_id", state.RunID),
				zap.String("node_id", edge.Target))
			skipped = append(skipped, edge.Target)
			settle(target, false, nil)
		}
	}

	done := make(chan completion)
	running := 0
	outputRan := false
	var firstErr error

	for {
		for firstErr == nil && !outputRan && len(ready) > 0 &&
			(e.opts.MaxConcurrency <= 0 || running < e.opts.MaxConcurrency) {
			n := ready[0]
			ready = ready[1:]
			running++
			go func(n Node) {
				res, err := e.runNode(ctx, n, state)
				done <- completion{node: n, output: res.Output, err: err}
			}(n)
		}
		if running == 0 {
			break
		}

		c := <-done
		running--
		switch {
		case c.err != nil && outputRan:
			e.logger.Warn("node failed after output was produced",
				zap.String("run_id", state.RunID),
				zap.String("node_id", c.node.Base().ID),
				zap.Error(c.err))
		case c.err != nil:
			if firstErr == nil {
				b := c.node.Base()
				firstErr = &RunError{RunID: state.RunID, NodeID: b.ID, NodeName: b.Name, NodeKind: c.node.Kind(), Err: c.err}
				cancel()
			}
		case firstErr == nil:
			if c.node.Kind() == KindOutput {
				outputRan = true
			}
			settle(c.node, true, c.output)
		}
	}

	if firstErr != nil {
		return firstErr
	}
	if p.hasOutput && outputRan {
		return nil
	}
	var unresolved []string
	for _, n := range p.nodes {
		if !decided[n.Base().ID] {
			unresolved = append(unresolved, n.Base().ID)
		}
	}
	if p.hasOutput || len(unresolved) > 0 {
		return &RunError{RunID: state.RunID, Err: newStallError(unresolved, skipped)}
	}
	return nil
}

// runNode executes one node, records its history entry and publishes its
// output. The retry decorator wraps the executor when error handling is enabled.
func (e *Engine) runNode(ctx context.Context, n Node, state *RuntimeState) (Result, error) {
	b := n.Base()
	ctx, span := e.tracer.Start(ctx, "workflow.node",
		trace.WithAttributes(
			attribute.String("workflow.run_id", state.RunID),
			attribute.String("workflow.node_id", b.ID),
			attribute.String("workflow.node_name", b.Name),
			attribute.String("workflow.node_kind", string(n.Kind())),
		))
	defer span.End()

	exec := Executor(e.execute)
	if eh := b.ErrorHandling; eh != nil && eh.Enabled {
		exec = withRetry(exec, *eh, e.logger, func(int, error) { e.metrics.RecordRetry(string(n.Kind())) })
	}

	e.logger.Debug("node started",
		zap.String("run_id", state.RunID),
		zap.String("node_id", b.ID),
		zap.String("node_kind", string(n.Kind())))

	rec := state.recordStart(n)
	start := time.Now()
	res, err := exec(ctx, n, state)
	duration := time.Since(start)

	if res.Input != nil {
		state.SetInput(b.ID, res.Input)
	}
	state.recordEnd(rec, err)

	if err != nil {
		e.metrics.RecordNode(string(n.Kind()), string(NodeFail), duration)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("node failed",
			zap.String("run_id", state.RunID),
			zap.String("node_id", b.ID),
			zap.String("node_kind", string(n.Kind())),
			zap.Duration("duration", duration),
			zap.Error(err))
		return res, err
	}

	state.SetOutput(b.ID, res.Output)
	e.metrics.RecordNode(string(n.Kind()), string(NodeSuccess), duration)
	e.logger.Debug("node completed",
		zap.String("run_id", state.RunID),
		zap.String("node_id", b.ID),
		zap.Duration("duration", duration))
	return res, nil
}
