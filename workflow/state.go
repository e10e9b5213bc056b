package workflow

import (
	"sync"
	"time"
)

// NodeStatus is the lifecycle state of one node execution.
type NodeStatus string

const (
	NodeRunning NodeStatus = "running"
	NodeSuccess NodeStatus = "success"
	NodeFail    NodeStatus = "fail"
)

// NodeRuntimeHistory records one node execution.
type NodeRuntimeHistory struct {
	NodeID    string     `json:"nodeId"`
	NodeName  string     `json:"nodeName,omitempty"`
	Kind      Kind       `json:"kind"`
	Status    NodeStatus `json:"status"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   time.Time  `json:"endedAt,omitempty"`
	Error     string     `json:"error,omitempty"`
	// Iteration is set for nodes executed inside a loop body.
	Iteration *int `json:"iteration,omitempty"`
}

type historyLog struct {
	mu      sync.Mutex
	records []*NodeRuntimeHistory
}

// RuntimeState is the per-run execution context: the graph, the output store,
// the audit input store and the execution history. It is created for one run
// and never shared between runs.
type RuntimeState struct {
	Graph      *Graph
	RunID      string
	WorkflowID string
	UserID     string

	payload   any
	depth     int
	iteration *int
	parent    *RuntimeState

	mu      sync.RWMutex
	outputs map[string]any
	inputs  map[string]any
	history *historyLog
}

// NewRuntimeState creates the state for one run of graph with the invocation payload.
func NewRuntimeState(graph *Graph, payload any) *RuntimeState {
	return &RuntimeState{
		Graph:   graph,
		payload: payload,
		outputs: make(map[string]any),
		inputs:  make(map[string]any),
		history: &historyLog{},
	}
}

// Fork returns an overlay used by one loop iteration. Reads fall through to
// the parent; writes stay in the fork. History is shared with the parent.
func (s *RuntimeState) Fork(iteration int) *RuntimeState {
	return &RuntimeState{
		Graph:      s.Graph,
		RunID:      s.RunID,
		WorkflowID: s.WorkflowID,
		UserID:     s.UserID,
		payload:    s.payload,
		depth:      s.depth,
		iteration:  &iteration,
		parent:     s,
		outputs:    make(map[string]any),
		inputs:     make(map[string]any),
		history:    s.history,
	}
}

// Payload returns the invocation payload handed to the Input node.
func (s *RuntimeState) Payload() any { return s.payload }

// Depth is the sub-workflow nesting level, 0 for a top-level run.
func (s *RuntimeState) Depth() int { return s.depth }

// Output returns the stored output of nodeID.
func (s *RuntimeState) Output(nodeID string) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		v, ok := cur.outputs[nodeID]
		cur.mu.RUnlock()
		if ok {
			return v, true
		}
	}
	return nil, false
}

// SetOutput publishes the output of nodeID, replacing any previous value.
func (s *RuntimeState) SetOutput(nodeID string, v any) {
	s.mu.Lock()
	s.outputs[nodeID] = v
	s.mu.Unlock()
}

// Input returns the audit input recorded for nodeID.
func (s *RuntimeState) Input(nodeID string) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		v, ok := cur.inputs[nodeID]
		cur.mu.RUnlock()
		if ok {
			return v, true
		}
	}
	return nil, false
}

// SetInput records the audit input of nodeID.
func (s *RuntimeState) SetInput(nodeID string, v any) {
	s.mu.Lock()
	s.inputs[nodeID] = v
	s.mu.Unlock()
}

// Resolve reads ref from the output store. A node that has not run, or a path
// that does not exist, yields ok == false.
func (s *RuntimeState) Resolve(ref SourceKey) (any, bool) {
	v, ok := s.Output(ref.NodeID)
	if !ok {
		return nil, false
	}
	return ResolvePath(v, ref.Path)
}

// Outputs returns a snapshot of the outputs written to this state, excluding
// those inherited from a parent.
func (s *RuntimeState) Outputs() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.outputs))
	for k, v := range s.outputs {
		out[k] = v
	}
	return out
}

// Inputs returns a snapshot of the audit inputs recorded in this state.
func (s *RuntimeState) Inputs() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.inputs))
	for k, v := range s.inputs {
		out[k] = v
	}
	return out
}

// History returns a copy of the execution records in start order.
func (s *RuntimeState) History() []NodeRuntimeHistory {
	s.history.mu.Lock()
	defer s.history.mu.Unlock()
	out := make([]NodeRuntimeHistory, len(s.history.records))
	for i, r := range s.history.records {
		out[i] = *r
	}
	return out
}

func (s *RuntimeState) recordStart(n Node) *NodeRuntimeHistory {
	b := n.Base()
	rec := &NodeRuntimeHistory{
		NodeID:    b.ID,
		NodeName:  b.Name,
		Kind:      n.Kind(),
		Status:    NodeRunning,
		StartedAt: time.Now(),
		Iteration: s.iteration,
	}
	s.history.mu.Lock()
	s.history.records = append(s.history.records, rec)
	s.history.mu.Unlock()
	return rec
}

func (s *RuntimeState) recordEnd(rec *NodeRuntimeHistory, err error) {
	s.history.mu.Lock()
	defer s.history.mu.Unlock()
	rec.EndedAt = time.Now()
	if err != nil {
		rec.Status = NodeFail
		rec.Error = err.Error()
		return
	}
	rec.Status = NodeSuccess
}
