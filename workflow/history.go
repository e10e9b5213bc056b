package workflow

import (
	"sort"
	"sync"
	"time"
)

// RunStatus is the final status of a run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunFailure names the node responsible for a failed run.
type RunFailure struct {
	NodeID   string `json:"nodeId,omitempty"`
	NodeName string `json:"nodeName,omitempty"`
	NodeKind Kind   `json:"nodeKind,omitempty"`
	Message  string `json:"message"`
}

// RunResult is the outcome of one run. Output equals the Output node's
// output; History and Inputs are kept for inspection even when the run fails.
type RunResult struct {
	RunID      string               `json:"runId"`
	WorkflowID string               `json:"workflowId,omitempty"`
	UserID     string               `json:"userId,omitempty"`
	Status     RunStatus            `json:"status"`
	Output     any                  `json:"output,omitempty"`
	Failure    *RunFailure          `json:"failure,omitempty"`
	History    []NodeRuntimeHistory `json:"history"`
	Inputs     map[string]any       `json:"inputs,omitempty"`
	StartedAt  time.Time            `json:"startedAt"`
	EndedAt    time.Time            `json:"endedAt"`
	Duration   time.Duration        `json:"duration"`
}

// DefaultHistoryLimit is the number of runs a HistoryStore keeps when no
// limit is given.
const DefaultHistoryLimit = 1000

// HistoryStore keeps the most recent completed runs in memory. Once full,
// saving a new run evicts the oldest saved one.
type HistoryStore struct {
	mu    sync.RWMutex
	limit int
	runs  map[string]*RunResult
	order []string
}

// NewHistoryStore creates an empty store holding at most limit runs; limit
// <= 0 means DefaultHistoryLimit.
func NewHistoryStore(limit int) *HistoryStore {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &HistoryStore{limit: limit, runs: make(map[string]*RunResult)}
}

// Save stores a run result by run id.
func (s *HistoryStore) Save(r *RunResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[r.RunID]; !ok {
		s.order = append(s.order, r.RunID)
	}
	s.runs[r.RunID] = r
	for len(s.order) > s.limit {
		delete(s.runs, s.order[0])
		s.order[0] = ""
		s.order = s.order[1:]
	}
}

// Len returns the number of runs held.
func (s *HistoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

// Get retrieves a run by id.
func (s *HistoryStore) Get(runID string) (*RunResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[runID]
	return r, ok
}

// ListByWorkflow returns the runs of a workflow, oldest first.
func (s *HistoryStore) ListByWorkflow(workflowID string) []*RunResult {
	return s.filter(func(r *RunResult) bool { return r.WorkflowID == workflowID })
}

// ListByStatus returns runs with a specific status, oldest first.
func (s *HistoryStore) ListByStatus(status RunStatus) []*RunResult {
	return s.filter(func(r *RunResult) bool { return r.Status == status })
}

// ListByTimeRange returns runs started within [start, end], oldest first.
func (s *HistoryStore) ListByTimeRange(start, end time.Time) []*RunResult {
	return s.filter(func(r *RunResult) bool {
		return !r.StartedAt.Before(start) && !r.StartedAt.After(end)
	})
}

func (s *HistoryStore) filter(keep func(*RunResult) bool) []*RunResult {
	s.mu.RLock()
	var result []*RunResult
	for _, r := range s.runs {
		if keep(r) {
			result = append(result, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].StartedAt.Before(result[j].StartedAt) })
	return result
}
