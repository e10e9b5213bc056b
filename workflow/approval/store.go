package approval

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore 为审批记录提供内存存储.
type MemoryStore struct {
	approvals map[string]Approval
	mu        sync.RWMutex
}

// NewMemoryStore 创建内存存储.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{approvals: make(map[string]Approval)}
}

func (s *MemoryStore) Save(_ context.Context, a *Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvals[a.ID] = *a
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (*Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.approvals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &a, nil
}

func (s *MemoryStore) List(_ context.Context, workflowID string, status Status) ([]*Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*Approval
	for _, a := range s.approvals {
		if (workflowID == "" || a.WorkflowID == workflowID) && (status == "" || a.Status == status) {
			a := a
			results = append(results, &a)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].CreatedAt.Before(results[j].CreatedAt) })
	return results, nil
}

func (s *MemoryStore) Update(_ context.Context, a *Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvals[a.ID] = *a
	return nil
}
